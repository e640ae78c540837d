package connector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/agentmesh/bridge"
	"github.com/c360/agentmesh/bus"
	"github.com/c360/agentmesh/envelope"
	"github.com/c360/agentmesh/errors"
	"github.com/c360/agentmesh/fallback"
	"github.com/c360/agentmesh/metric"
	"github.com/c360/agentmesh/pkg/balancer"
	"github.com/c360/agentmesh/pkg/breaker"
	"github.com/c360/agentmesh/pkg/cache"
	"github.com/c360/agentmesh/pkg/retry"
	"github.com/c360/agentmesh/pkg/worker"
	"github.com/c360/agentmesh/security"
	"github.com/c360/agentmesh/transport"
	"github.com/c360/agentmesh/version"
)

// Connector orchestrates the protocol runtime for one agent.
type Connector struct {
	cfg    Config
	logger *slog.Logger

	sec        *security.Processor
	versions   *version.Manager
	chain      *fallback.Chain
	metrics    *metric.MetricsRegistry
	middleware []Middleware

	transports []transport.ExternalTransport
	byNode     map[string]transport.ExternalTransport
	lb         *balancer.Balancer

	internal   *bus.Bus
	aligner    *bridge.DataAligner
	msgBridge  *bridge.MessageBridge
	breaker    *breaker.Breaker
	dedupe     *cache.IntelligentCache[bool]
	acks       *ackTracker
	decodePool *worker.Pool[bus.Message]
	batcher    *batcher
	callbacks  callbackRegistry

	capMu       sync.Mutex
	capProvider func() []envelope.Capability

	mu        sync.Mutex
	started   bool
	closed    bool
	wasOnline bool
	topics    []string

	runCtx context.Context
	cancel context.CancelFunc
}

// New creates a connector over one or more broker transports. The first
// transport carries subscriptions; publishes are balanced across all of
// them per the configured strategy.
func New(cfg Config, transports []transport.ExternalTransport, opts ...Option) (*Connector, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if len(transports) == 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Connector", "New",
			"at least one transport is required")
	}

	lb, err := balancer.New(cfg.LoadBalancingStrategy)
	if err != nil {
		return nil, err
	}

	c := &Connector{
		cfg:        cfg,
		logger:     slog.Default().With("component", "connector", "ai_id", cfg.AIID),
		transports: transports,
		byNode:     make(map[string]transport.ExternalTransport, len(transports)),
		lb:         lb,
		acks:       newAckTracker(),
		breaker: breaker.New(breaker.Config{
			FailureThreshold: cfg.BreakerFailureThreshold,
			RecoveryTimeout:  cfg.BreakerRecoveryTimeout,
		}),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.internal = bus.New(c.logger)
	c.dedupe = cache.NewIntelligent(
		cache.WithMaxSize[bool](cfg.CacheMaxSize),
		cache.WithDefaultTTL[bool](cfg.CacheTTL),
	)

	for i, tr := range transports {
		node := fmt.Sprintf("node-%d", i)
		c.byNode[node] = tr
		c.lb.AddNode(node)
	}

	pool, err := worker.NewPool(cfg.DecodeWorkers, cfg.DecodeQueueSize, c.processInbound)
	if err != nil {
		return nil, err
	}
	c.decodePool = pool

	c.aligner = bridge.NewAligner(c.versions, c.logger)
	c.msgBridge = bridge.NewBridge(transports[0], c.internal, c.aligner, c.logger)

	if cfg.EnableBatching {
		c.batcher = newBatcher(cfg.BatchSize, cfg.BatchMaxAge, c.flushBatch, c.logger)
	}
	return c, nil
}

// defaultTopics returns the wire subscriptions every agent holds.
func (c *Connector) defaultTopics() []string {
	return []string{
		envelope.TopicFactsPrefix + ".>",
		envelope.TopicOpinionsPrefix + ".>",
		envelope.TopicCapabilitiesPrefix + ".>",
		envelope.RequestTopic(c.cfg.AIID),
		envelope.ResultTopic(c.cfg.AIID),
		envelope.AckTopic(c.cfg.AIID),
	}
}

// Start connects the transports, wires inbound dispatch, and launches the
// fallback chain and decode pool.
func (c *Connector) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Connector", "Start", "connector running")
	}
	if c.closed {
		c.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Connector", "Start", "connector closed")
	}
	c.started = true
	c.mu.Unlock()

	c.runCtx, c.cancel = context.WithCancel(context.Background())

	for node, tr := range c.byNode {
		if err := tr.Connect(ctx); err != nil {
			return errors.Wrap(err, "Connector", "Start", "connect "+node)
		}
	}
	c.transports[0].OnStatusChange(c.handleStatusChange)

	if err := c.decodePool.Start(c.runCtx); err != nil {
		return err
	}

	// Internal dispatch: every bridge topic feeds the decode pool.
	for _, topic := range []string{
		bridge.BusTopicFact, bridge.BusTopicOpinion, bridge.BusTopicCapability,
		bridge.BusTopicRequest, bridge.BusTopicResult, bridge.BusTopicAck,
	} {
		c.internal.Subscribe(topic, c.enqueueInbound)
	}

	if err := c.msgBridge.Start(ctx, c.defaultTopics()...); err != nil {
		return err
	}
	c.mu.Lock()
	c.topics = c.defaultTopics()
	c.mu.Unlock()

	if c.cfg.EnableFallback && c.chain != nil {
		if err := c.chain.Start(ctx); err != nil {
			return err
		}
	}
	if c.batcher != nil {
		c.batcher.start()
	}

	c.fireConnect()
	c.mu.Lock()
	c.wasOnline = true
	c.mu.Unlock()

	c.logger.Info("connector started")
	return nil
}

// Subscribe adds a wire topic subscription routed through the bridge.
func (c *Connector) Subscribe(ctx context.Context, topic string) error {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return errors.WrapInvalid(errors.ErrNotStarted, "Connector", "Subscribe", "connector not started")
	}

	if err := c.msgBridge.AddTopic(ctx, topic); err != nil {
		return err
	}
	c.mu.Lock()
	for _, existing := range c.topics {
		if existing == topic {
			c.mu.Unlock()
			return nil
		}
	}
	c.topics = append(c.topics, topic)
	c.mu.Unlock()
	return nil
}

// Close shuts the connector down. In-flight acknowledgement waits are
// cancelled; their callers receive a shutdown error rather than a stale
// result.
func (c *Connector) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	started := c.started
	c.started = false
	c.mu.Unlock()

	if !started {
		return nil
	}

	c.cancel()
	if c.batcher != nil {
		c.batcher.stop()
	}
	_ = c.msgBridge.Stop()
	if c.chain != nil {
		_ = c.chain.Stop()
	}
	_ = c.decodePool.Stop(5 * time.Second)

	var firstErr error
	for _, tr := range c.transports {
		if err := tr.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.logger.Info("connector closed")
	return firstErr
}

// RegisterCapabilityProvider sets the callback that supplies this agent's
// capability list. Capabilities are re-advertised automatically after every
// reconnect.
func (c *Connector) RegisterCapabilityProvider(fn func() []envelope.Capability) {
	c.capMu.Lock()
	defer c.capMu.Unlock()
	c.capProvider = fn
}

// AdvertiseCapabilities publishes every capability from the registered
// provider. Missing provider is a no-op.
func (c *Connector) AdvertiseCapabilities(ctx context.Context) error {
	c.capMu.Lock()
	provider := c.capProvider
	c.capMu.Unlock()
	if provider == nil {
		return nil
	}

	var firstErr error
	for _, cap := range provider() {
		cap := cap
		if cap.AIID == "" {
			cap.AIID = c.cfg.AIID
		}
		ok, err := c.PublishCapabilityAdvertisement(ctx, &cap)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if !ok {
			c.logger.Warn("capability advertisement not delivered",
				"capability_id", cap.CapabilityID)
		}
	}
	return firstErr
}

// handleStatusChange fires connect/disconnect callbacks and re-advertises
// capabilities after a reconnect.
func (c *Connector) handleStatusChange(connected bool) {
	if connected {
		c.fireConnect()

		c.mu.Lock()
		reconnect := c.wasOnline
		c.wasOnline = true
		c.mu.Unlock()

		if reconnect {
			go func() {
				if err := c.AdvertiseCapabilities(c.runCtx); err != nil {
					c.logger.Warn("capability re-advertisement failed", "error", err)
				}
			}()
		}
		return
	}

	c.callbacks.mu.RLock()
	handlers := append([]ConnHandler(nil), c.callbacks.disconnects...)
	c.callbacks.mu.RUnlock()
	for _, h := range handlers {
		c.invoke(func() { h() }, "disconnect")
	}
}

func (c *Connector) fireConnect() {
	c.callbacks.mu.RLock()
	handlers := append([]ConnHandler(nil), c.callbacks.connects...)
	c.callbacks.mu.RUnlock()
	for _, h := range handlers {
		c.invoke(func() { h() }, "connect")
	}
}

// invoke runs one callback, containing panics so dispatch always reaches
// the remaining handlers.
func (c *Connector) invoke(fn func(), kind string) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("callback panicked", "kind", kind, "panic", r)
		}
	}()
	fn()
}

// dedupeKey identifies an envelope's content for the publish dedupe
// cache: same topic, type, and payload means the same logical message
// regardless of its generated message ID.
func dedupeKey(topic string, e *envelope.Envelope) string {
	sum := sha256.Sum256(e.Payload)
	return topic + "|" + e.MessageType + "|" + hex.EncodeToString(sum[:])
}

// sendReliable is the guarded raw send: a load-balanced node choice, a
// circuit breaker around the transport call, and bounded retry around the
// breaker. A breaker that opens mid-retry aborts the remaining attempts.
func (c *Connector) sendReliable(ctx context.Context, topic string, data []byte) error {
	node, err := c.lb.Next()
	if err != nil {
		return err
	}
	tr := c.byNode[node]

	start := time.Now()
	err = retry.Do(ctx, c.cfg.TransportRetry, func() error {
		sendErr := c.breaker.Do(ctx, func() error {
			return tr.Publish(ctx, topic, data)
		})
		if stderrors.Is(sendErr, errors.ErrCircuitOpen) {
			return retry.NonRetryable(sendErr)
		}
		return sendErr
	})
	c.lb.RecordResponse(node, time.Since(start), err != nil)
	c.observeBreaker()
	return err
}

func (c *Connector) observeBreaker() {
	if c.metrics == nil {
		return
	}
	c.metrics.Metrics.CircuitState.Set(float64(c.breaker.State()))
}

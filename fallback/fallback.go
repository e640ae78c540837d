// Package fallback provides the degraded-delivery path used when the
// primary broker cannot confirm delivery: an ordered chain of alternate
// transports (in-memory queue, file drop, local HTTP) tried by priority
// until one accepts the message.
package fallback

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/c360/agentmesh/errors"
)

// Transport is the minimal capability a fallback transport implements.
// Adding a transport never requires connector changes.
type Transport interface {
	// Name identifies the transport in logs and status reports.
	Name() string

	// Priority orders the chain; lower values are tried first.
	Priority() int

	// Initialize prepares resources (directories, clients). Called once.
	Initialize(ctx context.Context) error

	// Start makes the transport ready to accept sends.
	Start(ctx context.Context) error

	// Stop releases resources.
	Stop() error

	// Send attempts delivery of one wire message.
	Send(ctx context.Context, topic string, data []byte) error

	// Healthy reports whether the transport believes it can deliver.
	Healthy() bool
}

// TransportStatus is one entry of a chain status report.
type TransportStatus struct {
	Name     string
	Priority int
	Healthy  bool
	Sent     int64
	Failed   int64
}

// Chain tries transports in priority order. A background monitor
// periodically probes transport health so status reports stay current.
type Chain struct {
	mu         sync.Mutex
	transports []Transport
	sent       map[string]int64
	failed     map[string]int64
	started    bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	healthInterval time.Duration
	logger         *slog.Logger
}

// ChainOption configures the chain.
type ChainOption func(*Chain)

// WithHealthInterval sets how often the monitor probes transports.
func WithHealthInterval(d time.Duration) ChainOption {
	return func(c *Chain) {
		if d > 0 {
			c.healthInterval = d
		}
	}
}

// WithChainLogger sets the structured logger.
func WithChainLogger(logger *slog.Logger) ChainOption {
	return func(c *Chain) { c.logger = logger }
}

// NewChain builds a chain over the given transports, sorted by priority.
func NewChain(transports []Transport, opts ...ChainOption) *Chain {
	c := &Chain{
		transports:     make([]Transport, len(transports)),
		sent:           make(map[string]int64),
		failed:         make(map[string]int64),
		healthInterval: 30 * time.Second,
		logger:         slog.Default(),
	}
	copy(c.transports, transports)
	sort.SliceStable(c.transports, func(i, j int) bool {
		return c.transports[i].Priority() < c.transports[j].Priority()
	})
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start initializes and starts every transport, then launches the health
// monitor. Transports that fail to initialize are logged and skipped, not
// fatal: a chain with any working transport is still useful.
func (c *Chain) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Chain", "Start", "chain running")
	}
	c.started = true
	transports := c.transports
	c.mu.Unlock()

	usable := 0
	for _, t := range transports {
		if err := t.Initialize(ctx); err != nil {
			c.logger.Warn("fallback transport failed to initialize",
				"transport", t.Name(), "error", err)
			continue
		}
		if err := t.Start(ctx); err != nil {
			c.logger.Warn("fallback transport failed to start",
				"transport", t.Name(), "error", err)
			continue
		}
		usable++
	}
	if usable == 0 {
		c.mu.Lock()
		c.started = false
		c.mu.Unlock()
		return errors.WrapFatal(errors.ErrNoConnection, "Chain", "Start", "no usable fallback transport")
	}

	monitorCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go c.monitor(monitorCtx)
	return nil
}

// Stop halts the monitor and stops every transport.
func (c *Chain) Stop() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = false
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()

	for _, t := range c.transports {
		if err := t.Stop(); err != nil {
			c.logger.Warn("fallback transport stop failed",
				"transport", t.Name(), "error", err)
		}
	}
	return nil
}

// Send tries each healthy transport in priority order until one delivers.
// It returns the name of the transport that accepted the message.
func (c *Chain) Send(ctx context.Context, topic string, data []byte) (string, error) {
	c.mu.Lock()
	started := c.started
	transports := c.transports
	c.mu.Unlock()

	if !started {
		return "", errors.WrapInvalid(errors.ErrNotStarted, "Chain", "Send", "chain not started")
	}

	var lastErr error
	for _, t := range transports {
		if !t.Healthy() {
			continue
		}
		if err := t.Send(ctx, topic, data); err != nil {
			lastErr = err
			c.record(t.Name(), false)
			c.logger.Warn("fallback transport send failed",
				"transport", t.Name(), "topic", topic, "error", err)
			continue
		}
		c.record(t.Name(), true)
		c.logger.Info("message delivered via fallback",
			"transport", t.Name(), "topic", topic)
		return t.Name(), nil
	}

	if lastErr == nil {
		lastErr = errors.ErrNoConnection
	}
	return "", errors.WrapTransient(lastErr, "Chain", "Send", "all fallback transports")
}

// Status reports each transport in priority order.
func (c *Chain) Status() []TransportStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]TransportStatus, 0, len(c.transports))
	for _, t := range c.transports {
		out = append(out, TransportStatus{
			Name:     t.Name(),
			Priority: t.Priority(),
			Healthy:  t.Healthy(),
			Sent:     c.sent[t.Name()],
			Failed:   c.failed[t.Name()],
		})
	}
	return out
}

func (c *Chain) record(name string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ok {
		c.sent[name]++
	} else {
		c.failed[name]++
	}
}

// monitor logs health transitions so operators see a degrading chain
// before it is exhausted.
func (c *Chain) monitor(ctx context.Context) {
	defer c.wg.Done()

	last := make(map[string]bool)
	ticker := time.NewTicker(c.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, t := range c.transports {
				healthy := t.Healthy()
				if prev, seen := last[t.Name()]; seen && prev != healthy {
					c.logger.Warn("fallback transport health changed",
						"transport", t.Name(), "healthy", healthy)
				}
				last[t.Name()] = healthy
			}
		}
	}
}

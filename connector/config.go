// Package connector is the protocol façade: it builds and secures
// envelopes, publishes them through the reliability wrappers, tracks
// pending acknowledgements, falls back to alternate transports when the
// broker cannot confirm delivery, and dispatches inbound messages to
// registered callbacks.
package connector

import (
	"log/slog"
	"time"

	"github.com/c360/agentmesh/errors"
	"github.com/c360/agentmesh/fallback"
	"github.com/c360/agentmesh/metric"
	"github.com/c360/agentmesh/pkg/balancer"
	"github.com/c360/agentmesh/pkg/retry"
	"github.com/c360/agentmesh/security"
	"github.com/c360/agentmesh/version"
)

// Config carries the connector's tunables. Zero values take the defaults
// from DefaultConfig.
type Config struct {
	// AIID identifies this agent on the mesh.
	AIID string

	// CacheMaxSize bounds the publish dedupe cache.
	CacheMaxSize int
	// CacheTTL is how long a dedupe entry suppresses identical publishes.
	CacheTTL time.Duration

	// LoadBalancingStrategy selects among broker nodes when more than one
	// transport is configured.
	LoadBalancingStrategy balancer.Strategy

	// AckTimeout is the hard deadline for one acknowledgement wait.
	AckTimeout time.Duration
	// MaxAckRetries bounds full publish retries after ACK timeouts.
	MaxAckRetries int
	// AckRetryBase scales the exponential retry backoff (sleep is
	// AckRetryBase << attempt). Production default is one second.
	AckRetryBase time.Duration

	// BreakerFailureThreshold and BreakerRecoveryTimeout configure the
	// circuit breaker guarding raw sends.
	BreakerFailureThreshold int
	BreakerRecoveryTimeout  time.Duration

	// TransportRetry is the low-level retry policy for one raw send.
	TransportRetry retry.Policy

	// EnableFallback turns the fallback chain on for ACK timeouts.
	EnableFallback bool

	// DecodeWorkers and DecodeQueueSize size the inbound decode pool.
	DecodeWorkers   int
	DecodeQueueSize int

	// Batching of low-priority non-ACK publishes.
	EnableBatching bool
	BatchSize      int
	BatchMaxAge    time.Duration
}

// DefaultConfig returns production defaults for the given agent identity.
func DefaultConfig(aiID string) Config {
	return Config{
		AIID:                    aiID,
		CacheMaxSize:            1000,
		CacheTTL:                300 * time.Second,
		LoadBalancingStrategy:   balancer.RoundRobin,
		AckTimeout:              10 * time.Second,
		MaxAckRetries:           3,
		AckRetryBase:            time.Second,
		BreakerFailureThreshold: 5,
		BreakerRecoveryTimeout:  300 * time.Second,
		TransportRetry:          retry.DefaultPolicy(),
		EnableFallback:          true,
		DecodeWorkers:           4,
		DecodeQueueSize:         1000,
		BatchSize:               10,
		BatchMaxAge:             time.Second,
	}
}

func (c Config) validate() error {
	if c.AIID == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "validate", "AIID is required")
	}
	if !c.LoadBalancingStrategy.Valid() {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "validate",
			"unknown load balancing strategy "+string(c.LoadBalancingStrategy))
	}
	if c.AckTimeout <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "validate", "AckTimeout must be positive")
	}
	if c.MaxAckRetries < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "validate", "MaxAckRetries cannot be negative")
	}
	return nil
}

// Option configures the connector at construction.
type Option func(*Connector)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Connector) { c.logger = logger }
}

// WithSecurity sets the envelope security processor. Without one the
// connector sends unsecured envelopes, which only makes sense in tests.
func WithSecurity(p *security.Processor) Option {
	return func(c *Connector) { c.sec = p }
}

// WithVersionManager sets the protocol version manager used by the
// inbound aligner.
func WithVersionManager(vm *version.Manager) Option {
	return func(c *Connector) { c.versions = vm }
}

// WithFallbackChain sets the fallback chain used on ACK timeouts.
func WithFallbackChain(chain *fallback.Chain) Option {
	return func(c *Connector) { c.chain = chain }
}

// WithMetrics sets the metrics registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(c *Connector) { c.metrics = registry }
}

// WithMiddleware appends outbound middleware, applied in order.
func WithMiddleware(mw ...Middleware) Option {
	return func(c *Connector) { c.middleware = append(c.middleware, mw...) }
}

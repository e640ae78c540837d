// Package config loads and validates the runtime configuration: agent
// identity, broker connection, security toggles, reliability tunables, and
// the fallback chain. Configuration is JSON on disk with environment
// variable overrides for deployment-specific values.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/c360/agentmesh/errors"
	"github.com/c360/agentmesh/pkg/tlsutil"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "AGENTMESH_"

// AgentConfig identifies this agent on the mesh.
type AgentConfig struct {
	AIID        string `json:"ai_id"`
	DisplayName string `json:"display_name,omitempty"`
	Environment string `json:"environment,omitempty"` // "production" or "development"
}

// BrokerConfig describes the broker connection. Multiple URLs become
// load-balanced publish nodes.
type BrokerConfig struct {
	URLs          []string              `json:"urls"`
	Name          string                `json:"name,omitempty"`
	Username      string                `json:"username,omitempty"`
	Password      string                `json:"password,omitempty"`
	Token         string                `json:"token,omitempty"`
	MaxReconnects int                   `json:"max_reconnects,omitempty"`
	ReconnectWait Duration              `json:"reconnect_wait,omitempty"`
	Timeout       Duration              `json:"timeout,omitempty"`
	TLS           tlsutil.ClientConfig  `json:"tls,omitempty"`
	Pool          BrokerPoolConfig      `json:"pool,omitempty"`
	Balancing     BrokerBalancingConfig `json:"balancing,omitempty"`
}

// BrokerPoolConfig sizes the publish connection pool.
type BrokerPoolConfig struct {
	Enabled        bool     `json:"enabled"`
	MaxConnections int      `json:"max_connections,omitempty"`
	IdleTimeout    Duration `json:"idle_timeout,omitempty"`
}

// BrokerBalancingConfig selects the publish load-balancing strategy.
type BrokerBalancingConfig struct {
	Strategy string `json:"strategy,omitempty"` // round_robin, least_connections, weighted_response_time
}

// SecurityConfig toggles envelope protections.
type SecurityConfig struct {
	EnableAuth      bool `json:"enable_auth"`
	EnableSignature bool `json:"enable_signature"`
	EnableEncrypt   bool `json:"enable_encrypt"`
}

// ReliabilityConfig carries the delivery-guarantee tunables.
type ReliabilityConfig struct {
	AckTimeout              Duration `json:"ack_timeout,omitempty"`
	MaxAckRetries           int      `json:"max_ack_retries,omitempty"`
	AckRetryBase            Duration `json:"ack_retry_base,omitempty"`
	BreakerFailureThreshold int      `json:"breaker_failure_threshold,omitempty"`
	BreakerRecoveryTimeout  Duration `json:"breaker_recovery_timeout,omitempty"`
}

// FallbackConfig configures the degraded-delivery chain.
type FallbackConfig struct {
	Enabled  bool   `json:"enabled"`
	SpoolDir string `json:"spool_dir,omitempty"`
	HTTPURL  string `json:"http_url,omitempty"`
}

// HTTPConfig configures the local diagnostics server.
type HTTPConfig struct {
	Port int `json:"port,omitempty"` // 0 disables the server
}

// Config is the complete runtime configuration.
type Config struct {
	Agent       AgentConfig       `json:"agent"`
	Broker      BrokerConfig      `json:"broker"`
	Security    SecurityConfig    `json:"security"`
	Reliability ReliabilityConfig `json:"reliability,omitempty"`
	Fallback    FallbackConfig    `json:"fallback,omitempty"`
	HTTP        HTTPConfig        `json:"http,omitempty"`
}

// Default returns the production defaults for an agent identity.
func Default(aiID string) *Config {
	return &Config{
		Agent: AgentConfig{
			AIID:        aiID,
			Environment: "production",
		},
		Broker: BrokerConfig{
			URLs:          []string{"nats://localhost:4222"},
			Name:          "agentmesh",
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
			Timeout:       Duration(10 * time.Second),
		},
		Security: SecurityConfig{
			EnableAuth:      true,
			EnableSignature: true,
			EnableEncrypt:   true,
		},
		Reliability: ReliabilityConfig{
			AckTimeout:              Duration(10 * time.Second),
			MaxAckRetries:           3,
			AckRetryBase:            Duration(time.Second),
			BreakerFailureThreshold: 5,
			BreakerRecoveryTimeout:  Duration(300 * time.Second),
		},
		Fallback: FallbackConfig{
			Enabled:  true,
			SpoolDir: "/var/spool/agentmesh",
		},
		HTTP: HTTPConfig{Port: 8080},
	}
}

// LoadFile reads, decodes, applies environment overrides, and validates a
// configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "config", "LoadFile", "read "+path)
	}

	cfg := Default("")
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.WrapInvalid(errors.ErrParsingFailed, "config", "LoadFile", "decode "+path)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides deployment-specific fields from the environment.
// Only connection and identity values are overridable; behavior tunables
// stay in the file so a deployment's semantics are reviewable.
func (c *Config) applyEnv() {
	if v := os.Getenv(EnvPrefix + "AI_ID"); v != "" {
		c.Agent.AIID = v
	}
	if v := os.Getenv(EnvPrefix + "ENVIRONMENT"); v != "" {
		c.Agent.Environment = v
	}
	if v := os.Getenv(EnvPrefix + "BROKER_URLS"); v != "" {
		c.Broker.URLs = splitAndTrim(v)
	}
	if v := os.Getenv(EnvPrefix + "BROKER_USERNAME"); v != "" {
		c.Broker.Username = v
	}
	if v := os.Getenv(EnvPrefix + "BROKER_PASSWORD"); v != "" {
		c.Broker.Password = v
	}
	if v := os.Getenv(EnvPrefix + "BROKER_TOKEN"); v != "" {
		c.Broker.Token = v
	}
	if v := os.Getenv(EnvPrefix + "HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.HTTP.Port = port
		}
	}
	if v := os.Getenv(EnvPrefix + "FALLBACK_SPOOL_DIR"); v != "" {
		c.Fallback.SpoolDir = v
	}
}

// Validate checks the structural invariants of the configuration.
func (c *Config) Validate() error {
	if c.Agent.AIID == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "agent.ai_id is required")
	}
	if len(c.Broker.URLs) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "broker.urls is required")
	}
	for _, url := range c.Broker.URLs {
		if url == "" {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "broker URL is empty")
		}
	}
	switch c.Agent.Environment {
	case "", "production", "development":
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"agent.environment must be production or development")
	}
	switch c.Broker.Balancing.Strategy {
	case "", "round_robin", "least_connections", "weighted_response_time":
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"unknown balancing strategy "+c.Broker.Balancing.Strategy)
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "http.port out of range")
	}
	if c.Reliability.MaxAckRetries < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"reliability.max_ack_retries cannot be negative")
	}
	return nil
}

// IsProduction reports whether the agent runs with production semantics
// (strict key loading, fail-fast security).
func (c *Config) IsProduction() bool {
	return c.Agent.Environment != "development"
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}
	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// SafeConfig is a thread-safe configuration holder for components that
// observe configuration after startup.
type SafeConfig struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewSafeConfig wraps a configuration. A nil config becomes empty.
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = &Config{}
	}
	return &SafeConfig{cfg: cfg}
}

// Get returns a deep copy of the current configuration.
func (s *SafeConfig) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// Update validates and atomically swaps in a new configuration.
func (s *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "SafeConfig", "Update", "config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return nil
}

// Duration is a time.Duration that marshals as a duration string
// ("10s", "5m") in JSON config files.
type Duration time.Duration

// Std returns the standard library representation.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// MarshalJSON encodes the duration as its string form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts either a duration string or nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return errors.WrapInvalid(errors.ErrParsingFailed, "Duration", "UnmarshalJSON",
				"parse duration "+s)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.WrapInvalid(errors.ErrParsingFailed, "Duration", "UnmarshalJSON",
			"duration must be a string or integer")
	}
	*d = Duration(n)
	return nil
}

func splitAndTrim(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

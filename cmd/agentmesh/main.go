// Package main is the agentmesh runtime entry point: it wires the broker
// transports, envelope security, the fallback chain, and the diagnostics
// HTTP server around a connector and runs until signalled.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360/agentmesh/config"
	"github.com/c360/agentmesh/connector"
	"github.com/c360/agentmesh/envelope"
	"github.com/c360/agentmesh/fallback"
	"github.com/c360/agentmesh/health"
	"github.com/c360/agentmesh/metric"
	"github.com/c360/agentmesh/pkg/balancer"
	"github.com/c360/agentmesh/pkg/tlsutil"
	"github.com/c360/agentmesh/security"
	"github.com/c360/agentmesh/transport"
	"github.com/c360/agentmesh/transport/memtransport"
	"github.com/c360/agentmesh/transport/natstransport"
	"github.com/c360/agentmesh/transport/pooled"
	"github.com/c360/agentmesh/version"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "agentmesh"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := loadConfiguration(cliCfg)
	if err != nil {
		return err
	}
	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	slog.Info("Starting agentmesh",
		"ai_id", cfg.Agent.AIID,
		"environment", cfg.Agent.Environment,
		"standalone", cliCfg.Standalone)

	transports, err := buildTransports(cfg, cliCfg.Standalone, logger)
	if err != nil {
		return err
	}

	sec, err := buildSecurity(cfg, logger)
	if err != nil {
		return err
	}

	metricsRegistry := metric.NewMetricsRegistry()
	versions := version.NewManager(version.Info{Version: envelope.ProtocolVersion})
	monitor := health.NewMonitor(appName)

	conn, err := buildConnector(cfg, transports, sec, versions, metricsRegistry, logger)
	if err != nil {
		return err
	}

	conn.OnConnect(func() { monitor.SetHealthy("broker", "connected") })
	conn.OnDisconnect(func() { monitor.SetUnhealthy("broker", "connection lost") })

	ctx := context.Background()
	if err := conn.Start(ctx); err != nil {
		return fmt.Errorf("start connector: %w", err)
	}
	monitor.SetHealthy("connector", "started")

	httpServer := startHTTPServer(cfg, conn, monitor, metricsRegistry)

	return runWithSignalHandling(ctx, conn, httpServer, cliCfg.ShutdownTimeout)
}

// loadConfiguration loads the config file, or synthesizes a development
// configuration in standalone mode.
func loadConfiguration(cliCfg *CLIConfig) (*config.Config, error) {
	if cliCfg.Standalone {
		cfg := config.Default(cliCfg.AIID)
		cfg.Agent.Environment = "development"
		cfg.Fallback.Enabled = false
		return cfg, nil
	}

	cfg, err := config.LoadFile(cliCfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// buildTransports creates one broker transport per configured URL, or an
// in-process broker in standalone mode.
func buildTransports(cfg *config.Config, standalone bool, logger *slog.Logger) ([]transport.ExternalTransport, error) {
	if standalone {
		broker := memtransport.NewBroker()
		return []transport.ExternalTransport{broker.NewClient()}, nil
	}

	tlsConfig, err := tlsutil.LoadClientTLSConfig(cfg.Broker.TLS)
	if err != nil {
		return nil, fmt.Errorf("load broker TLS: %w", err)
	}

	transports := make([]transport.ExternalTransport, 0, len(cfg.Broker.URLs))
	for _, url := range cfg.Broker.URLs {
		url := url
		opts := []natstransport.Option{
			natstransport.WithLogger(logger),
			natstransport.WithName(cfg.Broker.Name),
			natstransport.WithMaxReconnects(cfg.Broker.MaxReconnects),
			natstransport.WithReconnectWait(cfg.Broker.ReconnectWait.Std()),
			natstransport.WithTimeout(cfg.Broker.Timeout.Std()),
		}
		if cfg.Broker.Username != "" {
			opts = append(opts, natstransport.WithCredentials(cfg.Broker.Username, cfg.Broker.Password))
		}
		if cfg.Broker.Token != "" {
			opts = append(opts, natstransport.WithToken(cfg.Broker.Token))
		}
		if tlsConfig != nil {
			opts = append(opts, natstransport.WithTLS(tlsConfig))
		}

		if cfg.Broker.Pool.Enabled {
			pooled, err := buildPooledTransport(url, opts, cfg.Broker.Pool)
			if err != nil {
				return nil, err
			}
			transports = append(transports, pooled)
			continue
		}

		client, err := natstransport.New(url, opts...)
		if err != nil {
			return nil, fmt.Errorf("create broker transport for %s: %w", url, err)
		}
		transports = append(transports, client)
	}
	return transports, nil
}

// buildSecurity creates the envelope security processor from the key in
// the environment, or returns nil when every protection is disabled.
func buildSecurity(cfg *config.Config, logger *slog.Logger) (*security.Processor, error) {
	sc := cfg.Security
	if !sc.EnableAuth && !sc.EnableSignature && !sc.EnableEncrypt {
		logger.Warn("envelope security fully disabled")
		return nil, nil
	}

	key, err := security.LoadKey(!cfg.IsProduction(), logger)
	if err != nil {
		return nil, fmt.Errorf("load security key: %w", err)
	}
	return security.New(security.Config{
		EnableAuth:      sc.EnableAuth,
		EnableSignature: sc.EnableSignature,
		EnableEncrypt:   sc.EnableEncrypt,
		Key:             key,
	})
}

// buildConnector assembles the connector configuration and options.
func buildConnector(
	cfg *config.Config,
	transports []transport.ExternalTransport,
	sec *security.Processor,
	versions *version.Manager,
	metricsRegistry *metric.MetricsRegistry,
	logger *slog.Logger,
) (*connector.Connector, error) {
	connCfg := connector.DefaultConfig(cfg.Agent.AIID)
	if d := cfg.Reliability.AckTimeout.Std(); d > 0 {
		connCfg.AckTimeout = d
	}
	if cfg.Reliability.MaxAckRetries > 0 {
		connCfg.MaxAckRetries = cfg.Reliability.MaxAckRetries
	}
	if d := cfg.Reliability.AckRetryBase.Std(); d > 0 {
		connCfg.AckRetryBase = d
	}
	if cfg.Reliability.BreakerFailureThreshold > 0 {
		connCfg.BreakerFailureThreshold = cfg.Reliability.BreakerFailureThreshold
	}
	if d := cfg.Reliability.BreakerRecoveryTimeout.Std(); d > 0 {
		connCfg.BreakerRecoveryTimeout = d
	}
	if s := cfg.Broker.Balancing.Strategy; s != "" {
		connCfg.LoadBalancingStrategy = balancer.Strategy(s)
	}
	connCfg.EnableFallback = cfg.Fallback.Enabled

	opts := []connector.Option{
		connector.WithLogger(logger),
		connector.WithVersionManager(versions),
		connector.WithMetrics(metricsRegistry),
	}
	if sec != nil {
		opts = append(opts, connector.WithSecurity(sec))
	}
	if cfg.Fallback.Enabled {
		opts = append(opts, connector.WithFallbackChain(buildFallbackChain(cfg, logger)))
	}

	return connector.New(connCfg, transports, opts...)
}

// buildFallbackChain assembles the degraded-delivery chain: in-memory
// queue first, file spool second, HTTP endpoint last.
func buildFallbackChain(cfg *config.Config, logger *slog.Logger) *fallback.Chain {
	transports := []fallback.Transport{
		fallback.NewInMemory(1000, 1),
	}
	if cfg.Fallback.SpoolDir != "" {
		transports = append(transports, fallback.NewFileDrop(cfg.Fallback.SpoolDir, 2))
	}
	if cfg.Fallback.HTTPURL != "" {
		transports = append(transports, fallback.NewHTTPDrop(cfg.Fallback.HTTPURL, 3))
	}
	return fallback.NewChain(transports, fallback.WithChainLogger(logger))
}

// startHTTPServer serves health, metrics, and runtime status. Returns nil
// when the port is disabled.
func startHTTPServer(
	cfg *config.Config,
	conn *connector.Connector,
	monitor *health.Monitor,
	metricsRegistry *metric.MetricsRegistry,
) *http.Server {
	if cfg.HTTP.Port == 0 {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/healthz", health.Handler(monitor))
	mux.Handle("/metrics", promhttp.HandlerFor(
		metricsRegistry.PrometheusRegistry(),
		promhttp.HandlerOpts{},
	))
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(conn.Status())
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("diagnostics server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("diagnostics server failed", "error", err)
		}
	}()
	return server
}

// runWithSignalHandling blocks until SIGINT/SIGTERM, then shuts down.
func runWithSignalHandling(
	ctx context.Context,
	conn *connector.Connector,
	httpServer *http.Server,
	shutdownTimeout time.Duration,
) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	slog.Info("agentmesh started")
	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("diagnostics server shutdown failed", "error", err)
		}
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("close connector: %w", err)
	}

	slog.Info("agentmesh shutdown complete")
	return nil
}

// buildPooledTransport wraps a broker URL in a publish connection pool.
func buildPooledTransport(url string, opts []natstransport.Option, poolCfg config.BrokerPoolConfig) (transport.ExternalTransport, error) {
	factory := func() (transport.ExternalTransport, error) {
		return natstransport.New(url, opts...)
	}
	maxConns := poolCfg.MaxConnections
	if maxConns <= 0 {
		maxConns = 10
	}
	t, err := pooled.New(factory, maxConns, poolCfg.IdleTimeout.Std())
	if err != nil {
		return nil, fmt.Errorf("create pooled transport for %s: %w", url, err)
	}
	return t, nil
}

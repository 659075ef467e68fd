// Package main implements the entry point for the event streamer gateway:
// clients publish metric-style events into durable topics over WebSocket
// and subscribe to derived views of those topics.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/thinkerajay/event-streamer-service/config"
	"github.com/thinkerajay/event-streamer-service/health"
	"github.com/thinkerajay/event-streamer-service/metric"
	"github.com/thinkerajay/event-streamer-service/natsclient"
	"github.com/thinkerajay/event-streamer-service/registry"
	"github.com/thinkerajay/event-streamer-service/server"
	"github.com/thinkerajay/event-streamer-service/store"
	"github.com/thinkerajay/event-streamer-service/stream"
	"github.com/thinkerajay/event-streamer-service/topic"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "event-streamer"
)

func main() {
	// Add panic recovery
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
	// Parse and validate CLI flags
	cliCfg, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	// Load and validate configuration
	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	ctx := context.Background()
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	// Core infrastructure: metrics, durable log, snapshot store
	metricsRegistry := metric.NewMetricsRegistry()

	natsClient, err := createNATSClient(cfg, logger)
	if err != nil {
		return err
	}
	slog.Info("Connecting to NATS", "urls", cfg.NATS.URLs)
	if err := natsClient.Connect(signalCtx); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = natsClient.Close(closeCtx)
	}()
	metricsRegistry.Core.NATSConnected.Set(1)

	snapshots, err := store.Open(signalCtx, cfg.Store.Path, logger)
	if err != nil {
		return fmt.Errorf("open snapshot store: %w", err)
	}
	defer func() { _ = snapshots.Close() }()

	// Domain wiring: gateway, session registry, per-session connectors
	gateway := topic.New(natsClient, snapshots, logger, metricsRegistry.Core)
	sessions := registry.New()
	windows := stream.WindowConfig{
		JoinFlushInterval: time.Duration(cfg.Windows.JoinFlushIntervalMillis) * time.Millisecond,
		AggregateWindow:   time.Duration(cfg.Windows.AggregateWindowMillis) * time.Millisecond,
		MaxWindowKeys:     cfg.Windows.MaxWindowKeys,
	}

	srv := server.NewServer(server.ConstructorConfig{
		Port:         cfg.Server.Port,
		Path:         cfg.Server.Path,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutMillis) * time.Millisecond,
		Connectors: func(sender registry.Sender) server.SessionConnector {
			return stream.NewConnector(
				natsClient, gateway, snapshots, sessions, sender,
				windows, logger, metricsRegistry.Core,
			)
		},
		Logger:          logger,
		MetricsRegistry: metricsRegistry,
		HealthHandler: health.Handler(appName,
			health.CheckFunc(func() health.Status {
				if natsClient.IsHealthy() {
					return health.Healthy("nats")
				}
				return health.Unhealthy("nats", natsClient.Status().String())
			}),
			health.CheckFunc(func() health.Status {
				pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := snapshots.Ping(pingCtx); err != nil {
					return health.Unhealthy("store", "snapshot store unreachable")
				}
				return health.Healthy("store")
			}),
		),
	})
	if err := srv.Initialize(); err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}
	if err := srv.Start(signalCtx); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	slog.Info("Event streamer started",
		"port", cfg.Server.Port, "path", cfg.Server.Path, "store", cfg.Store.Path)

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	if err := srv.Stop(cliCfg.ShutdownTimeout); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	metricsRegistry.Core.NATSConnected.Set(0)

	slog.Info("Event streamer shutdown complete")
	return nil
}

// initializeCLI parses flags and sets up logging
func initializeCLI() (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting event streamer",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}

// createNATSClient builds the durable-log client from config.
func createNATSClient(cfg *config.Config, logger *slog.Logger) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(logger),
	}
	if cfg.NATS.ClientName != "" {
		opts = append(opts, natsclient.WithClientName(cfg.NATS.ClientName))
	}
	if cfg.NATS.MaxReconnects > 0 {
		opts = append(opts, natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects))
	}
	if cfg.NATS.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(cfg.NATS.ReconnectWait))
	}

	client, err := natsclient.NewClient(cfg.NATS.URL(), opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}
	return client, nil
}

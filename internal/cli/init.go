// Package cli provides common CLI initialization utilities shared by
// cmd/aidledger and cmd/aidledger-worker.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"aidledger/internal/amqp"
	"aidledger/internal/backend"
	"aidledger/internal/cache"
	"aidledger/internal/config"
	"aidledger/internal/core"
	applog "aidledger/internal/log"
	"aidledger/internal/services"
)

// sponsorNameCacheSize bounds the cross-sponsor name lookup cache.
const sponsorNameCacheSize = 256

// SetupLogger builds the process logger from cfg and installs it as the
// slog default so every component logger inherits its handler.
func SetupLogger(cfg *config.Config) *applog.Logger {
	lc := applog.DefaultConfig()
	if cfg != nil {
		lc.Level = applog.ParseLevel(cfg.LogLevel)
		lc.Format = cfg.LogFormat
	}
	lc.Output = os.Stderr
	logger := applog.New(lc)
	applog.SetDefault(logger)
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration from the environment, overlays
// the policy file when one is configured, and validates the result.
func LoadAndValidateConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.ApplyPolicyFile(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// OpenStore creates the configured storage backend.
func OpenStore(ctx context.Context, cfg *config.Config) (*backend.BackendResult, error) {
	bc, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	return backend.NewFactory(nil).CreateBackend(ctx, bc)
}

// ConnectAMQP dials the broker when AMQP_URL is set. It returns a nil client
// when messaging is disabled.
func ConnectAMQP(ctx context.Context, cfg *config.Config) (*amqp.Client, error) {
	if cfg.AMQPURL == "" {
		return nil, nil
	}
	client, err := amqp.NewClient(ctx, cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		return nil, fmt.Errorf("connect to AMQP: %w", err)
	}
	return client, nil
}

// EngineDeps is what BuildEngine wires together.
type EngineDeps struct {
	Engine *services.Engine
	Caches *cache.Manager
}

// BuildEngine assembles the allocation engines from configuration. client may
// be nil, in which case no events are published.
func BuildEngine(cfg *config.Config, result *backend.BackendResult, client *amqp.Client, clock core.Clock) (*EngineDeps, error) {
	presets := services.DefaultCooldownPresets()
	for name, months := range cfg.CooldownPresets {
		if err := presets.Register(name, months); err != nil {
			return nil, err
		}
	}

	names := cache.NewLRUCache[string](sponsorNameCacheSize, cfg.SponsorNameCacheTTL)
	caches := cache.NewManager()
	caches.Register(names)

	var pub services.EventPublisher
	if client != nil {
		pub = client
	}

	engine := services.New(result.Store, clock, pub, services.Options{
		DefaultBaseBudget: core.Cents(cfg.DefaultBaseBudget),
		Thresholds: services.Thresholds{
			Monitor: cfg.RiskMonitorThreshold,
			High:    cfg.RiskHighThreshold,
		},
		Presets:      presets,
		SponsorNames: names,
	})
	return &EngineDeps{Engine: engine, Caches: caches}, nil
}

// GracefulShutdown sets up signal handling for graceful shutdown.
// Returns a context that will be cancelled on shutdown signals,
// and a channel that signals when shutdown is complete.
func GracefulShutdown(logger *applog.Logger, timeout time.Duration, cleanup func()) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received",
			"signal", sig.String(),
			applog.FieldOperation, applog.OpShutdown)

		cancel()

		finished := make(chan struct{})
		go func() {
			if cleanup != nil {
				cleanup()
			}
			close(finished)
		}()

		select {
		case <-finished:
			logger.Info("Shutdown complete")
		case <-time.After(timeout):
			logger.Warn("Shutdown timeout reached")
		}
		close(done)
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}

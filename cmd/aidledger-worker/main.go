package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"aidledger/internal/cli"
	"aidledger/internal/core"
	applog "aidledger/internal/log"
	"aidledger/internal/metrics"
	"aidledger/internal/worker"
)

func main() {
	cli.LoadEnvFile()

	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		applog.ForComponent(applog.ComponentWorker).Error("Configuration validation failed", applog.FieldError, err)
		os.Exit(1)
	}
	logger := cli.SetupLogger(cfg).WithComponent(applog.ComponentWorker)
	logger.Info("Starting aidledger-worker", applog.FieldOperation, applog.OpStartup)

	bootCtx := context.Background()

	store, err := cli.OpenStore(bootCtx, cfg)
	if err != nil {
		logger.Error("Failed to open store", applog.FieldError, err)
		os.Exit(1)
	}
	defer store.Close()

	client, err := cli.ConnectAMQP(bootCtx, cfg)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", applog.FieldError, err)
		os.Exit(1)
	}
	if client == nil {
		logger.Info("AMQP disabled, serving refreshed gauges only")
	} else {
		defer client.Close()
	}

	deps, err := cli.BuildEngine(cfg, store, nil, core.SystemClock{})
	if err != nil {
		logger.Error("Failed to build engine", applog.FieldError, err)
		os.Exit(1)
	}
	deps.Caches.StartCleanup(cfg.SponsorNameCacheTTL)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	w := worker.NewEventWorker(m, deps.Engine.Risk, deps.Engine.Archive, core.SystemClock{})

	srv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, done := cli.GracefulShutdown(logger, 10*time.Second, func() {
		deps.Caches.Stop()
	})

	if err := w.StartupCheck(ctx); err != nil {
		// Not fatal; the refresh loop retries.
		logger.Error("Failed startup refresh", applog.FieldError, err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Serving metrics", "addr", cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return w.RunRefreshLoop(gctx, cfg.RefreshInterval)
	})
	if client != nil {
		g.Go(func() error {
			err := client.ConsumeEvents(gctx, w.HandleEvent)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("Worker stopped with error", applog.FieldError, err)
		os.Exit(1)
	}
	if ctx.Err() != nil {
		<-done
	}
	logger.Info("Worker shutdown complete", applog.FieldOperation, applog.OpShutdown)
}

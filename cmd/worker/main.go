package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/dunamismax/pagewize/internal/bootstrap"
	"github.com/dunamismax/pagewize/internal/config"
	"github.com/dunamismax/pagewize/internal/store"
	"github.com/dunamismax/pagewize/internal/telemetry"
	"github.com/dunamismax/pagewize/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var version = "dev"

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)
	ctx := context.Background()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Telemetry, "worker", logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	flushSentry, err := telemetry.SetupSentry(cfg.Sentry, version, logger)
	if err != nil {
		logger.Fatalf("sentry setup failed: %v", err)
	}
	defer flushSentry()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	rt, err := bootstrap.NewRuntime(ctx, cfg, logger, registry)
	if err != nil {
		logger.Fatalf("image pipeline setup failed: %v", err)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Printf("runtime close error: %v", err)
		}
	}()

	logger.Printf(
		"starting worker concurrency=%d queue=%s redis=%s cache=%s",
		cfg.Worker.Concurrency,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
		cfg.Image.CacheBackend,
	)

	if cfg.Image.CacheBackend == store.BackendMemory {
		logger.Printf("warning: memory cache backend is private to this process, warm-ups will not reach the api")
	}

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, rt.Deriver, registry)
	if err != nil {
		logger.Fatalf("worker setup failed: %v", err)
	}

	if cfg.Worker.MetricsAddr != "" {
		metricsServer := &http.Server{
			Addr:              cfg.Worker.MetricsAddr,
			Handler:           srv.MetricsHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Printf("metrics listening on %s", cfg.Worker.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Printf("metrics server failed: %v", err)
			}
		}()
	}

	if err := srv.Run(); err != nil {
		logger.Fatalf("worker failed: %v", err)
	}
}

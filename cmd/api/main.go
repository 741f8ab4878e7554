package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/pagewize/internal/api"
	"github.com/dunamismax/pagewize/internal/bootstrap"
	"github.com/dunamismax/pagewize/internal/config"
	"github.com/dunamismax/pagewize/internal/pagewize"
	"github.com/dunamismax/pagewize/internal/queue"
	"github.com/dunamismax/pagewize/internal/ratelimit"
	"github.com/dunamismax/pagewize/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var version = "dev"

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)
	ctx := context.Background()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Telemetry, "api", logger)
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

	opts := api.Options{
		Deriver:     rt.Deriver,
		BlurPolicy:  cfg.Image.BlurPolicy,
		CacheMaxAge: cfg.API.CacheControlTTL,
		Registry:    registry,
	}

	if cfg.API.RateLimit > 0 {
		limiter, err := ratelimit.NewRedisTokenBucket(rt.Redis, cfg.API.RateLimit, cfg.API.RateLimitWindow, "")
		if err != nil {
			logger.Fatalf("rate limiter setup failed: %v", err)
		}
		opts.RateLimiter = limiter
		logger.Printf("rate limiting enabled limit=%d window=%s", cfg.API.RateLimit, cfg.API.RateLimitWindow)
	}

	if cfg.API.EnablePrewarm {
		queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
		defer func() {
			if err := queueClient.Close(); err != nil {
				logger.Printf("queue client close error: %v", err)
			}
		}()
		opts.Warmups = queueClient
	}

	if cfg.API.EnableContent {
		content, err := pagewize.NewClient(pagewize.Config{
			APIKey:   cfg.Pagewize.APIKey,
			Host:     cfg.Pagewize.Host,
			Protocol: cfg.Pagewize.Protocol,
			Debug:    cfg.Pagewize.Debug,
			Timeout:  cfg.Pagewize.Timeout,
			Logger:   logger,
		})
		if err != nil {
			logger.Fatalf("content client setup failed: %v", err)
		}
		templates, err := api.LoadTemplates(cfg.Pagewize.TemplateDir)
		if err != nil {
			logger.Fatalf("template setup failed: %v", err)
		}
		opts.Content = content
		opts.Templates = templates
		logger.Printf("content front controller enabled api=%s", content.BaseURL())
	}

	app, err := api.NewServer(logger, opts)
	if err != nil {
		logger.Fatalf("api setup failed: %v", err)
	}

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Image.FetchTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s", cfg.API.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

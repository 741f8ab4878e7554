// Package bootstrap assembles the image pipeline from configuration for the
// binaries.
package bootstrap

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/dunamismax/pagewize/internal/config"
	"github.com/dunamismax/pagewize/internal/domain"
	"github.com/dunamismax/pagewize/internal/pipeline"
	"github.com/dunamismax/pagewize/internal/storage"
	"github.com/dunamismax/pagewize/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

type Runtime struct {
	Deriver *pipeline.Deriver
	Redis   *redis.Client
	Storage *storage.Client
	closers []func() error
}

// Close releases every connection opened by NewRuntime, newest first.
func (r *Runtime) Close() error {
	var firstErr error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.closers = nil
	return firstErr
}

func NewRuntime(ctx context.Context, cfg config.Config, logger *log.Logger, registerer prometheus.Registerer) (*Runtime, error) {
	if !domain.ValidBlurPolicy(cfg.Image.BlurPolicy) {
		return nil, fmt.Errorf("unknown blur policy %q", cfg.Image.BlurPolicy)
	}

	storageClient, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		Bucket:   cfg.Storage.Bucket,
		UseSSL:   cfg.Storage.UseSSL,
	})
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		Redis: redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		}),
		Storage: storageClient,
	}
	rt.closers = append(rt.closers, rt.Redis.Close)

	if err := pipeline.Startup(); err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("start image runtime: %w", err)
	}
	rt.closers = append(rt.closers, func() error {
		pipeline.Shutdown()
		return nil
	})

	artifacts, closeStore, err := NewArtifactStore(ctx, cfg, rt.Redis, storageClient)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	if closeStore != nil {
		rt.closers = append(rt.closers, closeStore)
	}
	logger.Printf("artifact store backend=%s", cfg.Image.CacheBackend)

	rt.Deriver, err = pipeline.NewDeriver(pipeline.Config{
		Fetcher:    NewFetcher(cfg.Image, storageClient),
		Store:      artifacts,
		MaxPixels:  cfg.Image.MaxPixels,
		Logger:     logger,
		Registerer: registerer,
	})
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	return rt, nil
}

// NewFetcher routes sources by scheme. ftp and ftps stay unregistered and
// resolve to an unavailable source; so does file without a local root.
func NewFetcher(cfg config.ImageConfig, storageClient *storage.Client) *pipeline.SourceFetcher {
	fetcher := pipeline.NewSourceFetcher().
		Register(pipeline.NewHTTPFetcher(cfg.FetchTimeout, cfg.MaxSourceBytes), "http", "https")
	if cfg.LocalRoot != "" {
		fetcher.Register(pipeline.LocalFileFetcher{Root: cfg.LocalRoot, MaxBytes: cfg.MaxSourceBytes}, "file")
	}
	if storageClient != nil {
		fetcher.Register(pipeline.ObjectStoreFetcher{
			Storage:  storageClient,
			Buckets:  cfg.SourceBuckets,
			MaxBytes: cfg.MaxSourceBytes,
		}, "s3")
	}
	return fetcher
}

// objectCachePrefix maps the redis-style key prefix onto an object path.
func objectCachePrefix(prefix string) string {
	return strings.ReplaceAll(prefix, ":", "/")
}

// NewArtifactStore builds the configured cache backend. The returned close
// func may be nil.
func NewArtifactStore(ctx context.Context, cfg config.Config, redisClient redis.UniversalClient, storageClient *storage.Client) (store.ArtifactStore, func() error, error) {
	switch cfg.Image.CacheBackend {
	case "", store.BackendMemory:
		return store.NewMemoryArtifactStore(), nil, nil
	case store.BackendRedis:
		s, err := store.NewRedisArtifactStore(redisClient, cfg.Image.CachePrefix, cfg.Image.CacheTTL)
		return s, nil, err
	case store.BackendObject:
		if storageClient == nil {
			return nil, nil, fmt.Errorf("object storage client is required for %s backend", store.BackendObject)
		}
		if err := storageClient.EnsureBucket(ctx); err != nil {
			return nil, nil, fmt.Errorf("ensure artifact bucket: %w", err)
		}
		s, err := store.NewObjectArtifactStore(storageClient, objectCachePrefix(cfg.Image.CachePrefix))
		return s, nil, err
	case store.BackendPostgres:
		s, err := store.NewPostgresArtifactStore(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown artifact store backend %q", cfg.Image.CacheBackend)
	}
}

package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("IMAGE_BLUR_POLICY", "")
	t.Setenv("IMAGE_CACHE_BACKEND", "")
	t.Setenv("IMAGE_LOCAL_ROOT", "")
	t.Setenv("IMAGE_SOURCE_BUCKETS", "")

	cfg := Load()
	if cfg.Image.LocalRoot != "" {
		t.Fatalf("expected local sources off by default, got root %q", cfg.Image.LocalRoot)
	}
	if len(cfg.Image.SourceBuckets) != 0 {
		t.Fatalf("expected no extra source buckets, got %v", cfg.Image.SourceBuckets)
	}
	if cfg.Image.BlurPolicy != "steps" {
		t.Fatalf("expected steps blur policy, got %s", cfg.Image.BlurPolicy)
	}
	if cfg.Image.CacheBackend != "memory" {
		t.Fatalf("expected memory backend, got %s", cfg.Image.CacheBackend)
	}
	if cfg.Pagewize.Timeout != 20*time.Second {
		t.Fatalf("expected 20s content timeout, got %v", cfg.Pagewize.Timeout)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("IMAGE_BLUR_POLICY", "LEGACY")
	t.Setenv("IMAGE_FETCH_TIMEOUT", "3s")
	t.Setenv("IMAGE_MAX_SOURCE_BYTES", "1024")
	t.Setenv("PAGEWIZE_DEBUG", "true")
	t.Setenv("REDIS_DB", "not-a-number")
	t.Setenv("IMAGE_LOCAL_ROOT", "/srv/images")
	t.Setenv("IMAGE_SOURCE_BUCKETS", "assets, uploads,,")

	cfg := Load()
	if cfg.Image.LocalRoot != "/srv/images" {
		t.Fatalf("expected /srv/images root, got %q", cfg.Image.LocalRoot)
	}
	if len(cfg.Image.SourceBuckets) != 2 || cfg.Image.SourceBuckets[0] != "assets" || cfg.Image.SourceBuckets[1] != "uploads" {
		t.Fatalf("expected [assets uploads], got %v", cfg.Image.SourceBuckets)
	}
	if cfg.Image.BlurPolicy != "legacy" {
		t.Fatalf("expected legacy blur policy, got %s", cfg.Image.BlurPolicy)
	}
	if cfg.Image.FetchTimeout != 3*time.Second {
		t.Fatalf("expected 3s fetch timeout, got %v", cfg.Image.FetchTimeout)
	}
	if cfg.Image.MaxSourceBytes != 1024 {
		t.Fatalf("expected 1024 max bytes, got %d", cfg.Image.MaxSourceBytes)
	}
	if !cfg.Pagewize.Debug {
		t.Fatal("expected debug to be enabled")
	}
	if cfg.Queue.RedisDB != 0 {
		t.Fatalf("expected fallback redis db 0, got %d", cfg.Queue.RedisDB)
	}
}

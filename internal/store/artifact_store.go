package store

import (
	"context"

	"github.com/dunamismax/pagewize/internal/domain"
)

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendObject   = "minio"
	BackendPostgres = "postgres"
)

// ArtifactStore is a key to artifact map. Put must be atomic per key: a
// concurrent Get sees either the previous artifact or the new one in full.
type ArtifactStore interface {
	Get(ctx context.Context, key string) (domain.Artifact, bool, error)
	Put(ctx context.Context, artifact domain.Artifact) error
}

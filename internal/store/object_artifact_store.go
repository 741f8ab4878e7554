package store

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/pagewize/internal/domain"
	"github.com/dunamismax/pagewize/internal/storage"
)

type objectStorage interface {
	StatObject(ctx context.Context, objectKey string) (storage.ObjectInfo, bool, error)
	ReadObject(ctx context.Context, objectKey string, limit int64) ([]byte, error)
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string, metadata map[string]string) error
}

// ObjectArtifactStore keeps artifacts in a bucket. A single PutObject is
// atomic, so readers never observe a partially written artifact.
type ObjectArtifactStore struct {
	storage objectStorage
	prefix  string
}

func NewObjectArtifactStore(storage objectStorage, prefix string) (*ObjectArtifactStore, error) {
	if storage == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = "artifacts"
	}
	return &ObjectArtifactStore{storage: storage, prefix: prefix}, nil
}

// Keys are hex digests; the two-character fan-out keeps listings small.
func (s *ObjectArtifactStore) objectKey(key string) string {
	if len(key) > 2 {
		return path.Join(s.prefix, key[:2], key)
	}
	return path.Join(s.prefix, key)
}

func (s *ObjectArtifactStore) Get(ctx context.Context, key string) (domain.Artifact, bool, error) {
	objectKey := s.objectKey(key)
	info, ok, err := s.storage.StatObject(ctx, objectKey)
	if err != nil {
		return domain.Artifact{}, false, err
	}
	if !ok {
		return domain.Artifact{}, false, nil
	}

	data, err := s.storage.ReadObject(ctx, objectKey, 0)
	if err != nil {
		return domain.Artifact{}, false, err
	}

	artifact := domain.Artifact{
		Key:         key,
		ContentType: info.ContentType,
		Data:        data,
	}
	artifact.Width, _ = strconv.Atoi(info.Metadata["width"])
	artifact.Height, _ = strconv.Atoi(info.Metadata["height"])
	if ms, err := strconv.ParseInt(info.Metadata["created-at"], 10, 64); err == nil {
		artifact.CreatedAt = time.UnixMilli(ms).UTC()
	}
	return artifact, true, nil
}

func (s *ObjectArtifactStore) Put(ctx context.Context, artifact domain.Artifact) error {
	if artifact.Key == "" {
		return ErrEmptyKey
	}
	createdAt := artifact.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return s.storage.WriteObject(ctx, s.objectKey(artifact.Key), artifact.Data, artifact.ContentType, map[string]string{
		"width":      strconv.Itoa(artifact.Width),
		"height":     strconv.Itoa(artifact.Height),
		"created-at": strconv.FormatInt(createdAt.UnixMilli(), 10),
	})
}

package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/pagewize/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	fieldData        = "data"
	fieldContentType = "content_type"
	fieldWidth       = "width"
	fieldHeight      = "height"
	fieldCreatedAt   = "created_at"
)

type RedisArtifactStore struct {
	client    redis.UniversalClient
	namespace string
	ttl       time.Duration
}

// NewRedisArtifactStore stores each artifact as a hash under namespace:key.
// A zero ttl keeps artifacts until they are evicted by redis itself.
func NewRedisArtifactStore(client redis.UniversalClient, namespace string, ttl time.Duration) (*RedisArtifactStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if strings.TrimSpace(namespace) == "" {
		namespace = "pagewize:artifacts"
	}
	return &RedisArtifactStore{
		client:    client,
		namespace: namespace,
		ttl:       ttl,
	}, nil
}

func (s *RedisArtifactStore) key(key string) string {
	return s.namespace + ":" + key
}

func (s *RedisArtifactStore) Get(ctx context.Context, key string) (domain.Artifact, bool, error) {
	values, err := s.client.HGetAll(ctx, s.key(key)).Result()
	if err != nil {
		return domain.Artifact{}, false, fmt.Errorf("read artifact %s: %w", key, err)
	}
	data, ok := values[fieldData]
	if !ok {
		return domain.Artifact{}, false, nil
	}

	artifact := domain.Artifact{
		Key:         key,
		ContentType: values[fieldContentType],
		Data:        []byte(data),
	}
	artifact.Width, _ = strconv.Atoi(values[fieldWidth])
	artifact.Height, _ = strconv.Atoi(values[fieldHeight])
	if ms, err := strconv.ParseInt(values[fieldCreatedAt], 10, 64); err == nil {
		artifact.CreatedAt = time.UnixMilli(ms).UTC()
	}
	return artifact, true, nil
}

func (s *RedisArtifactStore) Put(ctx context.Context, artifact domain.Artifact) error {
	if artifact.Key == "" {
		return ErrEmptyKey
	}
	createdAt := artifact.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	redisKey := s.key(artifact.Key)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, redisKey)
		pipe.HSet(ctx, redisKey,
			fieldData, artifact.Data,
			fieldContentType, artifact.ContentType,
			fieldWidth, artifact.Width,
			fieldHeight, artifact.Height,
			fieldCreatedAt, createdAt.UnixMilli(),
		)
		if s.ttl > 0 {
			pipe.Expire(ctx, redisKey, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write artifact %s: %w", artifact.Key, err)
	}
	return nil
}

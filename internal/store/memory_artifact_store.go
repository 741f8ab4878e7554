package store

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/dunamismax/pagewize/internal/domain"
)

var ErrEmptyKey = errors.New("artifact key is required")

type MemoryArtifactStore struct {
	mu        sync.RWMutex
	artifacts map[string]domain.Artifact
}

func NewMemoryArtifactStore() *MemoryArtifactStore {
	return &MemoryArtifactStore{
		artifacts: make(map[string]domain.Artifact),
	}
}

func (s *MemoryArtifactStore) Get(_ context.Context, key string) (domain.Artifact, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	artifact, ok := s.artifacts[key]
	if !ok {
		return domain.Artifact{}, false, nil
	}
	artifact.Data = bytes.Clone(artifact.Data)
	return artifact, true, nil
}

func (s *MemoryArtifactStore) Put(_ context.Context, artifact domain.Artifact) error {
	if artifact.Key == "" {
		return ErrEmptyKey
	}
	artifact.Data = bytes.Clone(artifact.Data)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[artifact.Key] = artifact
	return nil
}

func (s *MemoryArtifactStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.artifacts)
}

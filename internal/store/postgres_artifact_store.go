package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/pagewize/internal/domain"
	_ "github.com/lib/pq"
)

const artifactSchemaSQL = `
CREATE TABLE IF NOT EXISTS image_artifacts (
	key TEXT PRIMARY KEY,
	content_type TEXT NOT NULL,
	data BYTEA NOT NULL,
	width INTEGER NOT NULL DEFAULT 0,
	height INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL
);
`

type PostgresArtifactStore struct {
	db *sql.DB
}

func NewPostgresArtifactStore(ctx context.Context, dsn string) (*PostgresArtifactStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresArtifactStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresArtifactStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, artifactSchemaSQL); err != nil {
		return fmt.Errorf("ensure image_artifacts schema: %w", err)
	}
	return nil
}

func (s *PostgresArtifactStore) Close() error {
	return s.db.Close()
}

func (s *PostgresArtifactStore) Get(ctx context.Context, key string) (domain.Artifact, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT key, content_type, data, width, height, created_at
		 FROM image_artifacts
		 WHERE key = $1`,
		key,
	)

	var artifact domain.Artifact
	if err := row.Scan(
		&artifact.Key,
		&artifact.ContentType,
		&artifact.Data,
		&artifact.Width,
		&artifact.Height,
		&artifact.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Artifact{}, false, nil
		}
		return domain.Artifact{}, false, fmt.Errorf("query artifact: %w", err)
	}

	return artifact, true, nil
}

// Put is last-write-wins; the upsert replaces the row in one statement.
func (s *PostgresArtifactStore) Put(ctx context.Context, artifact domain.Artifact) error {
	if artifact.Key == "" {
		return ErrEmptyKey
	}
	createdAt := artifact.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO image_artifacts (key, content_type, data, width, height, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (key) DO UPDATE
		 SET content_type = EXCLUDED.content_type,
		     data = EXCLUDED.data,
		     width = EXCLUDED.width,
		     height = EXCLUDED.height,
		     created_at = EXCLUDED.created_at`,
		artifact.Key,
		artifact.ContentType,
		artifact.Data,
		artifact.Width,
		artifact.Height,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("upsert artifact: %w", err)
	}
	return nil
}

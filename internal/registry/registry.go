// Package registry implements the person/embedding/centroid store: the
// curated set of known identities the matcher scores faces against.
package registry

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EmbeddingDim is the fixed dimension for face embeddings (512, matching the
// analyzer's ResNet-based face encoder).
const EmbeddingDim = 512

// Connect opens a pgvector-enabled connection pool.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	if url == "" {
		return nil, fmt.Errorf("registry database URL is required")
	}

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create registry connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping registry database: %w", err)
	}

	return pool, nil
}

// Migrate creates the registry schema if it does not already exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}

	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS persons (
			person_id         BIGSERIAL PRIMARY KEY,
			display_name      TEXT NOT NULL,
			output_folder_rel TEXT NOT NULL UNIQUE,
			created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("create persons table: %w", err)
	}

	_, err = pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS person_embeddings (
			embedding_id BIGSERIAL PRIMARY KEY,
			person_id    BIGINT NOT NULL REFERENCES persons(person_id) ON DELETE CASCADE,
			embedding    vector(%d) NOT NULL,
			source_type  VARCHAR(16) NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`, EmbeddingDim))
	if err != nil {
		return fmt.Errorf("create person_embeddings table: %w", err)
	}

	_, err = pool.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS person_embeddings_person_idx ON person_embeddings(person_id, created_at)
	`)
	if err != nil {
		return fmt.Errorf("create person_embeddings index: %w", err)
	}

	_, err = pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS person_centroids (
			person_id       BIGINT PRIMARY KEY REFERENCES persons(person_id) ON DELETE CASCADE,
			centroid        vector(%d) NOT NULL,
			embedding_count INTEGER NOT NULL
		)
	`, EmbeddingDim))
	if err != nil {
		return fmt.Errorf("create person_centroids table: %w", err)
	}

	return nil
}

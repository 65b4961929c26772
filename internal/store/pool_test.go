//go:build integration

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/hrabal/negsort/internal/config"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestContainer(t *testing.T) (*Pool, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}
	if container == nil {
		t.Skip("Docker not available, skipping integration test")
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dbURL := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	cfg := &config.StoreConfig{URL: dbURL, MaxOpenConns: 5, MaxIdleConns: 2}
	pool, err := NewPool(cfg)
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}

	cleanup := func() {
		pool.Close()
		_ = container.Terminate(ctx)
	}

	return pool, cleanup
}

func TestMigrate_AppliesAllMigrations(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	defer cleanup()

	if err := pool.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	applied, err := pool.MigrationsApplied(context.Background())
	if err != nil {
		t.Fatalf("MigrationsApplied failed: %v", err)
	}
	if len(applied) == 0 {
		t.Error("expected at least one migration to be applied")
	}
}

func TestMigrate_IsIdempotent(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	defer cleanup()

	if err := pool.Migrate(context.Background()); err != nil {
		t.Fatalf("first Migrate failed: %v", err)
	}
	if err := pool.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}
}

//go:build integration

// Package containers starts throwaway databases for integration tests.
package containers

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gaborage/rxdao/config"
)

const (
	postgresImage    = "postgres:17-alpine"
	postgresUser     = "rxdao"
	postgresPassword = "rxdao"
	postgresDatabase = "rxdao"
	startupTimeout   = 60 * time.Second
)

// StartPostgreSQL runs a PostgreSQL container for the duration of t and
// returns the database settings pointing at it. The test is skipped when no
// Docker daemon is reachable.
func StartPostgreSQL(ctx context.Context, t *testing.T) *config.DatabaseConfig {
	t.Helper()

	if !dockerAvailable(ctx) {
		t.Skip("Docker is not available, skipping integration test")
	}

	container, err := postgres.Run(ctx, postgresImage,
		postgres.WithDatabase(postgresDatabase),
		postgres.WithUsername(postgresUser),
		postgres.WithPassword(postgresPassword),
		testcontainers.WithWaitStrategy(
			// Postgres restarts once after the init scripts ran.
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(startupTimeout),
		),
	)
	if err != nil {
		t.Fatalf("failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate PostgreSQL container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to resolve PostgreSQL host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("failed to resolve PostgreSQL port: %v", err)
	}
	t.Logf("PostgreSQL container listening on %s:%d", host, port.Int())

	cfg := &config.DatabaseConfig{
		Type:     "postgresql",
		Host:     host,
		Port:     port.Int(),
		Database: postgresDatabase,
		Username: postgresUser,
		Password: postgresPassword,
	}
	cfg.ConnectionString = DSN(cfg)
	return cfg
}

func dockerAvailable(ctx context.Context) bool {
	provider, err := testcontainers.NewDockerProvider()
	if err != nil {
		return false
	}
	defer provider.Close()

	_, err = provider.DaemonHost(ctx)
	return err == nil
}

// DSN renders cfg as a libpq URL with TLS disabled.
func DSN(cfg *config.DatabaseConfig) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
}

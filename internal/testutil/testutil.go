// Package testutil starts throwaway databases for repository and end-to-end tests.
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/nkiryanov/chatr/internal/db"
)

const postgresImage = "postgres:17-alpine"

type Postgres struct {
	DSN  string
	Pool *pgxpool.Pool
}

// StartPostgres runs a migrated postgres in docker for the rest of the test.
// The test is skipped if docker is not reachable.
func StartPostgres(t *testing.T) Postgres {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	container, err := postgres.Run(t.Context(), postgresImage,
		postgres.WithDatabase("chatr-test"),
		postgres.WithUsername("chatr"),
		postgres.WithPassword("pwd"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err, "postgres container not started")

	dsn, err := container.ConnectionString(t.Context(), "sslmode=disable")
	require.NoError(t, err)

	pool, err := db.ConnectAndMigrate(t.Context(), dsn)
	require.NoError(t, err, "postgres not migrated, dsn=%s", dsn)
	t.Cleanup(pool.Close)

	return Postgres{DSN: dsn, Pool: pool}
}

type beginner interface {
	Begin(context.Context) (pgx.Tx, error)
}

// RollbackTx runs fn inside a transaction that is always rolled back,
// so every subtest sees the database as it was
func RollbackTx(t *testing.T, conn beginner, fn func(tx pgx.Tx)) {
	t.Helper()

	tx, err := conn.Begin(t.Context())
	require.NoError(t, err)
	defer func() {
		require.NoError(t, tx.Rollback(t.Context()))
	}()

	fn(tx)
}

// SQLitePath is a database file in the test temp dir
func SQLitePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "chatr-test.db")
}

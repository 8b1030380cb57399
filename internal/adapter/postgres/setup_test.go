package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const testSchema = `
	CREATE TABLE customers (
		id        SERIAL PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name      TEXT NOT NULL,
		email     TEXT
	);

	CREATE SCHEMA billing;
	CREATE TABLE billing.invoices (
		id          SERIAL PRIMARY KEY,
		tenant_id   TEXT NOT NULL,
		customer_id INTEGER NOT NULL REFERENCES customers(id),
		amount      NUMERIC(10,2) NOT NULL
	);

	INSERT INTO customers (tenant_id, name, email) VALUES
		('t1', 'Ada', 'ada@example.com'),
		('t1', 'Grace', NULL),
		('t2', 'Linus', 'linus@example.com');
`

// setupTestDB starts a disposable PostgreSQL container and returns the
// connection string together with a pool seeded with testSchema.
func setupTestDB(t *testing.T) (string, *pgxpool.Pool) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	_, err = pool.Exec(ctx, testSchema)
	require.NoError(t, err)

	return connStr, pool
}

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Executor runs approved statements on a pgx pool, one transaction each.
type Executor struct {
	pool             *pgxpool.Pool
	statementTimeout time.Duration
}

// NewExecutor returns an Executor. A non-positive statementTimeout leaves the
// server default in place.
func NewExecutor(pool *pgxpool.Pool, statementTimeout time.Duration) *Executor {
	return &Executor{pool: pool, statementTimeout: statementTimeout}
}

func (e *Executor) Execute(ctx context.Context, sql string) (int64, error) {
	if e.statementTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.statementTimeout)
		defer cancel()
	}

	tx, err := e.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadWrite})
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// SET LOCAL lets the server cancel the statement even when the client
	// context outlives it, and is scoped to this transaction only.
	if e.statementTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL statement_timeout = '%d'", e.statementTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return 0, fmt.Errorf("setting statement timeout: %w", err)
		}
	}

	tag, err := tx.Exec(ctx, sql)
	if err != nil {
		return 0, fmt.Errorf("executing statement: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing transaction: %w", err)
	}

	return tag.RowsAffected(), nil
}

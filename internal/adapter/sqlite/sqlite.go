// Package sqlite executes approved statements against a SQLite database
// through database/sql and mattn/go-sqlite3.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/guillermoBallester/agentproxy/internal/core/port"
	_ "github.com/mattn/go-sqlite3"
)

const querySchema = `
	SELECT m.name, p.name, p.type, p."notnull"
	FROM sqlite_master m
	JOIN pragma_table_info(m.name) p
	WHERE m.type IN ('table', 'view')
		AND m.name NOT LIKE 'sqlite_%'
	ORDER BY m.name, p.cid`

// DB is a single-connection SQLite backend. Executions are serialized.
type DB struct {
	db               *sql.DB
	mu               sync.Mutex
	statementTimeout time.Duration
}

// DSN converts a sqlite:// URL into a driver DSN. file: DSNs pass through.
func DSN(databaseURL string) string {
	return strings.TrimPrefix(databaseURL, "sqlite://")
}

// Open opens the database named by databaseURL and verifies the connection.
func Open(ctx context.Context, databaseURL string, statementTimeout time.Duration) (*DB, error) {
	db, err := sql.Open("sqlite3", DSN(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// One connection keeps in-memory databases alive and makes changes()
	// refer to the statement that just ran.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := db.ExecContext(pingCtx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configuring sqlite database: %w", err)
	}

	return &DB{db: db, statementTimeout: statementTimeout}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Execute runs sql and returns the rows it changed. Statements that change
// nothing, SELECT included, report zero.
func (d *DB) Execute(ctx context.Context, sql string) (int64, error) {
	if d.statementTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.statementTimeout)
		defer cancel()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	before, err := d.totalChanges(ctx)
	if err != nil {
		return 0, err
	}

	res, err := d.db.ExecContext(ctx, sql)
	if err != nil {
		return 0, fmt.Errorf("executing statement: %w", err)
	}

	after, err := d.totalChanges(ctx)
	if err != nil {
		return 0, err
	}
	// sqlite3_changes keeps the count of the last write, so a read would
	// otherwise report a stale value.
	if after == before {
		return 0, nil
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading rows affected: %w", err)
	}
	return n, nil
}

func (d *DB) totalChanges(ctx context.Context) (int64, error) {
	var n int64
	if err := d.db.QueryRowContext(ctx, "SELECT total_changes()").Scan(&n); err != nil {
		return 0, fmt.Errorf("reading change counter: %w", err)
	}
	return n, nil
}

func (d *DB) DescribeSchema(ctx context.Context) ([]port.TableSchema, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rows, err := d.db.QueryContext(ctx, querySchema)
	if err != nil {
		return nil, fmt.Errorf("describing schema: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tables := []port.TableSchema{}
	for rows.Next() {
		var table string
		var col port.ColumnSchema
		var notNull int
		if err := rows.Scan(&table, &col.Name, &col.DataType, &notNull); err != nil {
			return nil, fmt.Errorf("scanning column row: %w", err)
		}
		col.IsNullable = notNull == 0

		n := len(tables)
		if n == 0 || tables[n-1].Name != table {
			tables = append(tables, port.TableSchema{Name: table})
			n++
		}
		tables[n-1].Columns = append(tables[n-1].Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading column rows: %w", err)
	}
	return tables, nil
}

package postgres

import (
	"context"
	"fmt"

	"github.com/guillermoBallester/agentproxy/internal/core/port"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Describer lists tables and columns from information_schema.
type Describer struct {
	pool    *pgxpool.Pool
	schemas []string // empty means all non-system schemas
}

func NewDescriber(pool *pgxpool.Pool, schemas []string) *Describer {
	return &Describer{pool: pool, schemas: schemas}
}

func (d *Describer) DescribeSchema(ctx context.Context) ([]port.TableSchema, error) {
	filter, args := schemaFilter(d.schemas, "c.table_schema", 1)
	query := fmt.Sprintf(queryDescribeColumns, filter)

	rows, err := d.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("describing schema: %w", err)
	}
	defer rows.Close()

	tables := []port.TableSchema{}
	for rows.Next() {
		var schema, table string
		var col port.ColumnSchema
		if err := rows.Scan(&schema, &table, &col.Name, &col.DataType, &col.IsNullable); err != nil {
			return nil, fmt.Errorf("scanning column row: %w", err)
		}
		n := len(tables)
		if n == 0 || tables[n-1].Schema != schema || tables[n-1].Name != table {
			tables = append(tables, port.TableSchema{Schema: schema, Name: table})
			n++
		}
		tables[n-1].Columns = append(tables[n-1].Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading column rows: %w", err)
	}
	return tables, nil
}

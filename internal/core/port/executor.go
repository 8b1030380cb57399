package port

import "context"

// StatementExecutor runs an approved statement against the backing store.
type StatementExecutor interface {
	// Execute runs sql and returns the number of rows it affected. For a
	// SELECT this is the number of rows the backend reports.
	Execute(ctx context.Context, sql string) (int64, error)
}

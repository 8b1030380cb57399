package port

import (
	"context"

	"github.com/guillermoBallester/agentproxy/internal/core/domain"
)

// RecordStore keeps QueryRecords by id. Implementations must be safe for
// concurrent use and must hand out copies, never shared state.
type RecordStore interface {
	// Insert stores a new record. It returns domain.ErrDuplicateID if the id
	// is already present.
	Insert(ctx context.Context, rec domain.QueryRecord) error
	// Get returns the record or domain.ErrNotFound.
	Get(ctx context.Context, id string) (domain.QueryRecord, error)
	// UpdateStatus atomically moves a record to status, stamping rows and,
	// for a commit, the commit time. It returns domain.ErrNotFound or
	// domain.ErrInvalidTransition.
	UpdateStatus(ctx context.Context, id string, status domain.RecordStatus, rowsAffected int64) (domain.QueryRecord, error)
}

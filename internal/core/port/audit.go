package port

import "context"

// Audit phases.
const (
	PhasePreview = "preview"
	PhaseCommit  = "commit"
)

// AuditEntry represents a single preview or commit decision.
type AuditEntry struct {
	Tool         string
	Phase        string
	PreviewID    string
	Actor        string
	TenantID     string
	SQL          string
	Operation    string
	Tables       []string
	RowsAffected int64
	DurationMS   int64
	Err          error
}

// QueryAuditor records query audit events.
type QueryAuditor interface {
	Record(ctx context.Context, entry AuditEntry)
	Close() error
}

package domain

import "time"

// TenantWildcard disables tenant enforcement for a single request.
// It is an explicit escape hatch, not a pattern.
const TenantWildcard = "*"

// QueryContext identifies who submits a statement and on behalf of which tenant.
type QueryContext struct {
	Actor    string `json:"actor"`
	TenantID string `json:"tenant_id"`
}

// SQLRequest is a single statement submitted for preview or commit.
// PreviewID is only meaningful on commit, where it binds the commit to a
// previously recorded preview.
type SQLRequest struct {
	SQL       string       `json:"sql"`
	Context   QueryContext `json:"context"`
	PreviewID string       `json:"preview_id,omitempty"`
}

// ParsedQuery is the analyzer's classification of one statement.
type ParsedQuery struct {
	Operation Operation
	Tables    []string
	HasWhere  bool
}

// RecordStatus is the lifecycle state of a QueryRecord.
type RecordStatus string

const (
	StatusPreviewed RecordStatus = "previewed"
	StatusCommitted RecordStatus = "committed"
)

// CanTransition reports whether a record may move from s to next.
// The only legal move is previewed -> committed.
func (s RecordStatus) CanTransition(next RecordStatus) bool {
	return s == StatusPreviewed && next == StatusCommitted
}

// QueryRecord is the durable decision produced by a successful preview.
type QueryRecord struct {
	ID           string       `json:"id"`
	Actor        string       `json:"actor"`
	TenantID     string       `json:"tenant_id"`
	SQL          string       `json:"sql"`
	Operation    Operation    `json:"operation"`
	Tables       []string     `json:"tables"`
	Status       RecordStatus `json:"status"`
	CreatedAt    time.Time    `json:"created_at"`
	CommittedAt  *time.Time   `json:"committed_at,omitempty"`
	RowsAffected int64        `json:"rows_affected"`
}

// Clone returns a deep copy so stores never share slices with callers.
func (r QueryRecord) Clone() QueryRecord {
	out := r
	if r.Tables != nil {
		out.Tables = append([]string(nil), r.Tables...)
	}
	if r.CommittedAt != nil {
		t := *r.CommittedAt
		out.CommittedAt = &t
	}
	return out
}

type PreviewResponse struct {
	OK           bool      `json:"ok"`
	PreviewID    string    `json:"preview_id"`
	Operation    Operation `json:"operation"`
	Tables       []string  `json:"tables"`
	RowsAffected int64     `json:"rows_affected"`
	Warnings     []string  `json:"warnings"`
}

type CommitResponse struct {
	OK           bool      `json:"ok"`
	PreviewID    string    `json:"preview_id"`
	CommittedAt  time.Time `json:"committed_at"`
	RowsAffected int64     `json:"rows_affected"`
	Warnings     []string  `json:"warnings"`
}

// ErrorResponse is the wire shape of every failed call.
type ErrorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

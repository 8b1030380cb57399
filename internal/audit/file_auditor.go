package audit

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/guillermoBallester/agentproxy/internal/core/domain"
	"github.com/guillermoBallester/agentproxy/internal/core/port"
)

// fileEntry is the NDJSON-serializable form of a preview or commit decision.
type fileEntry struct {
	Timestamp    string   `json:"ts"`
	Tool         string   `json:"tool,omitempty"`
	Phase        string   `json:"phase"`
	PreviewID    string   `json:"preview_id,omitempty"`
	Actor        string   `json:"actor"`
	TenantID     string   `json:"tenant_id"`
	SQL          string   `json:"sql"`
	Operation    string   `json:"operation,omitempty"`
	Tables       []string `json:"tables,omitempty"`
	RowsAffected int64    `json:"rows_affected"`
	DurationMS   int64    `json:"duration_ms"`
	Outcome      string   `json:"outcome"`
	Rule         string   `json:"rule,omitempty"`
	Error        *string  `json:"error"`
}

// Outcomes written to the audit log.
const (
	OutcomeApproved = "approved"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// FileAuditor writes audit entries as NDJSON (one JSON object per line) to a file.
type FileAuditor struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
	now  func() time.Time
}

// NewFileAuditor opens (or creates) the file at path for append-only writing.
func NewFileAuditor(path string) (*FileAuditor, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, err
	}
	return &FileAuditor{
		file: f,
		enc:  json.NewEncoder(f),
		now:  time.Now,
	}, nil
}

func (a *FileAuditor) Record(_ context.Context, entry port.AuditEntry) {
	fe := fileEntry{
		Timestamp:    a.now().UTC().Format(time.RFC3339Nano),
		Tool:         entry.Tool,
		Phase:        entry.Phase,
		PreviewID:    entry.PreviewID,
		Actor:        entry.Actor,
		TenantID:     entry.TenantID,
		SQL:          entry.SQL,
		Operation:    entry.Operation,
		Tables:       entry.Tables,
		RowsAffected: entry.RowsAffected,
		DurationMS:   entry.DurationMS,
		Outcome:      outcome(entry.Err),
		Rule:         domain.RuleName(entry.Err),
	}
	if entry.Err != nil {
		s := entry.Err.Error()
		fe.Error = &s
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	_ = a.enc.Encode(fe) // best-effort; don't fail the request for audit I/O
}

func (a *FileAuditor) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}

// outcome separates statements the pipeline refused from requests that
// failed for any other reason.
func outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeApproved
	case domain.Classify(err) == domain.ClassClient:
		return OutcomeRejected
	default:
		return OutcomeFailed
	}
}

// NoopAuditor discards all audit entries.
type NoopAuditor struct{}

func (NoopAuditor) Record(context.Context, port.AuditEntry) {}
func (NoopAuditor) Close() error                            { return nil }

package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/guillermoBallester/agentproxy/internal/core/domain"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestSanitizeError_Passthrough(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	tests := []struct {
		name     string
		err      error
		contains string
	}{
		{"empty query", domain.ErrEmptyQuery, "empty query"},
		{"multi statement", domain.ErrMultiStatement, "only single-statement"},
		{"destructive", domain.ErrDestructiveStatement, "destructive DDL"},
		{"violation", &domain.Violation{Rule: domain.ErrDeniedColumn, Table: "users", Detail: `column "ssn"`}, `column "ssn"`},
		{"not found", fmt.Errorf("%w: abc", domain.ErrPreviewNotFound), "preview not found: abc"},
		{"conflict", fmt.Errorf("%w: abc", domain.ErrAlreadyCommitted), "already committed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, SanitizeError(ctx, logger, tt.err, "sql_preview"), tt.contains)
		})
	}
}

func TestSanitizeError_Timeout(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	msg := SanitizeError(ctx, logger, fmt.Errorf("%w: %w", domain.ErrBackendExecution, context.DeadlineExceeded), "sql_commit")
	assert.Equal(t, "sql_commit: statement timed out", msg)

	pgErr := &pgconn.PgError{Code: "57014", Message: "canceling statement due to statement timeout"}
	msg = SanitizeError(ctx, logger, fmt.Errorf("%w: %w", domain.ErrBackendExecution, pgErr), "sql_commit")
	assert.Equal(t, "sql_commit: statement timed out", msg)
}

func TestSanitizeError_Internal(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	err := fmt.Errorf("%w: relation OID 12345 vanished", domain.ErrBackendExecution)
	msg := SanitizeError(context.Background(), logger, err, "sql_commit")

	assert.Equal(t, "internal error: sql_commit failed, check server logs", msg)
	assert.NotContains(t, msg, "OID")
	assert.Contains(t, buf.String(), "relation OID 12345")
}

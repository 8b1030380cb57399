package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/guillermoBallester/agentproxy/internal/core/domain"
)

// sqlStateQueryCanceled is raised by PostgreSQL when statement_timeout fires.
const sqlStateQueryCanceled = "57014"

// SanitizeError returns the message a transport may show the caller. Client,
// not-found and conflict errors pass through unchanged since they describe the
// caller's own input. Timeouts get a fixed message. Anything else is logged
// and replaced so backend details never reach the agent.
func SanitizeError(ctx context.Context, logger *slog.Logger, err error, op string) string {
	switch domain.Classify(err) {
	case domain.ClassClient, domain.ClassNotFound, domain.ClassConflict:
		return err.Error()
	}

	if isTimeout(err) {
		return fmt.Sprintf("%s: statement timed out", op)
	}

	logger.ErrorContext(ctx, "internal error",
		slog.String("operation", op),
		slog.String("error.type", "internal"),
		slog.Any("error", err),
	)
	return fmt.Sprintf("internal error: %s failed, check server logs", op)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var coded interface{ SQLState() string }
	return errors.As(err, &coded) && coded.SQLState() == sqlStateQueryCanceled
}

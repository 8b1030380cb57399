package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Parse errors.
var (
	ErrParseFailed    = errors.New("failed to parse SQL")
	ErrEmptyQuery     = fmt.Errorf("%w: empty query", ErrParseFailed)
	ErrMultiStatement = fmt.Errorf("%w: only single-statement SQL is supported", ErrParseFailed)
)

// Statement kind errors.
var (
	ErrUnsupportedStatement = errors.New("statement type not supported")
	ErrDestructiveStatement = fmt.Errorf("%w: destructive DDL statements are not allowed", ErrUnsupportedStatement)
)

// Policy rule sentinels. Evaluator failures are *Violation values that unwrap
// to ErrPolicyViolation and to exactly one of the rule sentinels below.
var (
	ErrPolicyViolation       = errors.New("policy violation")
	ErrMissingWhereClause    = errors.New("UPDATE/DELETE requires a WHERE clause")
	ErrMissingTenantFilter   = errors.New("tenant filter missing")
	ErrOperationNotAllowed   = errors.New("operation not allowed")
	ErrRequiredFilterMissing = errors.New("missing required filter")
	ErrDeniedColumn          = errors.New("query references denied columns")
	ErrConditionNotMet       = errors.New("policy condition not satisfied")
)

// Record lifecycle errors.
var (
	ErrNotFound          = errors.New("not found")
	ErrPreviewNotFound   = fmt.Errorf("preview %w", ErrNotFound)
	ErrDuplicateID       = errors.New("record id already exists")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyCommitted  = fmt.Errorf("%w: preview already committed", ErrInvalidTransition)
	ErrCommitInProgress  = errors.New("commit already in progress for preview")
	ErrPreviewMismatch   = errors.New("commit request does not match preview")
)

// ErrSchemaUnavailable is returned by schema introspection in dry-run mode.
var ErrSchemaUnavailable = fmt.Errorf("schema %w: no database configured", ErrNotFound)

// ErrBackendExecution wraps failures reported by the execution adapter.
var ErrBackendExecution = errors.New("backend execution failed")

// Violation describes which policy rule rejected a statement and where.
type Violation struct {
	Rule   error
	Table  string
	Detail string
}

func (v *Violation) Error() string {
	var b strings.Builder
	b.WriteString(v.Rule.Error())
	if v.Detail != "" {
		b.WriteString(": ")
		b.WriteString(v.Detail)
	}
	if v.Table != "" {
		fmt.Fprintf(&b, " (table %q)", v.Table)
	}
	return b.String()
}

func (v *Violation) Unwrap() []error {
	return []error{ErrPolicyViolation, v.Rule}
}

// ErrorClass groups errors by how transports should report them.
type ErrorClass string

const (
	ClassClient   ErrorClass = "client"
	ClassNotFound ErrorClass = "not_found"
	ClassConflict ErrorClass = "conflict"
	ClassInternal ErrorClass = "internal"
)

// Classify maps an error from the query pipeline to its ErrorClass.
// Unknown errors are internal.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return ClassNotFound
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrCommitInProgress):
		return ClassConflict
	case errors.Is(err, ErrParseFailed),
		errors.Is(err, ErrUnsupportedStatement),
		errors.Is(err, ErrPolicyViolation),
		errors.Is(err, ErrPreviewMismatch):
		return ClassClient
	default:
		return ClassInternal
	}
}

// RuleName returns a short stable label for the rule that rejected err,
// suitable for metric attributes. It returns "" for non-policy errors.
func RuleName(err error) string {
	switch {
	case errors.Is(err, ErrMissingWhereClause):
		return "missing_where"
	case errors.Is(err, ErrMissingTenantFilter):
		return "missing_tenant_filter"
	case errors.Is(err, ErrOperationNotAllowed):
		return "operation_not_allowed"
	case errors.Is(err, ErrRequiredFilterMissing):
		return "required_filter_missing"
	case errors.Is(err, ErrDeniedColumn):
		return "denied_column"
	case errors.Is(err, ErrConditionNotMet):
		return "condition_not_met"
	case errors.Is(err, ErrParseFailed):
		return "parse_error"
	case errors.Is(err, ErrUnsupportedStatement):
		return "unsupported_statement"
	}
	return ""
}

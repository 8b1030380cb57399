package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/guillermoBallester/agentproxy/internal/core/domain"
	"github.com/guillermoBallester/agentproxy/internal/core/port"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// DryRunWarning is attached to every response when no database is configured.
const DryRunWarning = "Preview executed in dry-run mode; no database configured"

type toolNameKey struct{}

// WithToolName returns a context carrying the calling tool or route for audit logging.
func WithToolName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, toolNameKey{}, name)
}

func toolNameFromCtx(ctx context.Context) string {
	if v, ok := ctx.Value(toolNameKey{}).(string); ok {
		return v
	}
	return ""
}

// Option configures optional QueryService collaborators.
type Option func(*QueryService)

// WithExecutor sets the execution adapter. Without one the service runs in
// dry-run mode: statements are validated and recorded but never executed.
func WithExecutor(e port.StatementExecutor) Option {
	return func(s *QueryService) { s.executor = e }
}

// WithDescriber enables schema introspection.
func WithDescriber(d port.SchemaDescriber) Option {
	return func(s *QueryService) { s.describer = d }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *QueryService) {
		if t != nil {
			s.tracer = t
		}
	}
}

func WithInstrumentation(inst port.Instrumentation) Option {
	return func(s *QueryService) {
		if inst != nil {
			s.inst = inst
		}
	}
}

// QueryService runs the preview/commit pipeline: statement analysis and
// policy evaluation (domain), record keeping and execution (infrastructure).
type QueryService struct {
	analyzer  port.StatementAnalyzer
	evaluator port.PolicyEvaluator
	policy    *domain.PolicyConfig
	store     port.RecordStore
	executor  port.StatementExecutor
	describer port.SchemaDescriber
	auditor   port.QueryAuditor
	logger    *slog.Logger
	tracer    trace.Tracer
	inst      port.Instrumentation

	// inflight holds preview ids with a commit currently executing.
	inflight sync.Map

	newID func() (string, error)
	now   func() time.Time
}

func NewQueryService(analyzer port.StatementAnalyzer, evaluator port.PolicyEvaluator, policy *domain.PolicyConfig, store port.RecordStore, auditor port.QueryAuditor, logger *slog.Logger, opts ...Option) *QueryService {
	s := &QueryService{
		analyzer:  analyzer,
		evaluator: evaluator,
		policy:    policy,
		store:     store,
		auditor:   auditor,
		logger:    logger,
		tracer:    noop.NewTracerProvider().Tracer("noop"),
		inst:      port.NoopInstrumentation{},
		newID:     newRecordID,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newRecordID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generating record id: %w", err)
	}
	return id.String(), nil
}

// DryRun reports whether statements are only validated and recorded.
func (s *QueryService) DryRun() bool {
	return s.executor == nil
}

// Preview validates a statement and records the approval. Nothing is executed.
func (s *QueryService) Preview(ctx context.Context, req domain.SQLRequest) (*domain.PreviewResponse, error) {
	ctx, span := s.startSpan(ctx, "QueryService.Preview", req)
	defer span.End()

	start := time.Now()
	entry := port.AuditEntry{
		Tool:     toolNameFromCtx(ctx),
		Phase:    port.PhasePreview,
		Actor:    req.Context.Actor,
		TenantID: req.Context.TenantID,
		SQL:      req.SQL,
	}
	defer func() {
		entry.DurationMS = time.Since(start).Milliseconds()
		s.auditor.Record(ctx, entry)
	}()

	parsed, err := s.validate(ctx, span, port.PhasePreview, req)
	if err != nil {
		entry.Err = err
		return nil, err
	}
	entry.Operation = string(parsed.Operation)
	entry.Tables = parsed.Tables

	rec, err := s.record(ctx, req, parsed)
	if err != nil {
		entry.Err = err
		failSpan(span, err)
		return nil, err
	}
	entry.PreviewID = rec.ID
	span.SetAttributes(attribute.String("agentproxy.preview_id", rec.ID))

	s.inst.IncrementPreviews(ctx)
	s.logger.InfoContext(ctx, "statement previewed",
		slog.String("preview_id", rec.ID),
		slog.String("db.operation.name", string(parsed.Operation)),
		slog.String("enduser.id", req.Context.Actor),
		slog.String("tenant_id", req.Context.TenantID),
	)

	return &domain.PreviewResponse{
		OK:           true,
		PreviewID:    rec.ID,
		Operation:    parsed.Operation,
		Tables:       nonNil(parsed.Tables),
		RowsAffected: 0,
		Warnings:     s.warnings(),
	}, nil
}

// Commit re-validates the statement from scratch and executes it. With a
// PreviewID the commit is bound to that preview: it must exist, still be
// previewed and carry the same statement, actor and tenant. Without one a
// new record is created and committed in the same call.
func (s *QueryService) Commit(ctx context.Context, req domain.SQLRequest) (*domain.CommitResponse, error) {
	ctx, span := s.startSpan(ctx, "QueryService.Commit", req)
	defer span.End()

	start := time.Now()
	entry := port.AuditEntry{
		Tool:      toolNameFromCtx(ctx),
		Phase:     port.PhaseCommit,
		PreviewID: req.PreviewID,
		Actor:     req.Context.Actor,
		TenantID:  req.Context.TenantID,
		SQL:       req.SQL,
	}
	defer func() {
		entry.DurationMS = time.Since(start).Milliseconds()
		s.auditor.Record(ctx, entry)
	}()

	parsed, err := s.validate(ctx, span, port.PhaseCommit, req)
	if err != nil {
		entry.Err = err
		return nil, err
	}
	entry.Operation = string(parsed.Operation)
	entry.Tables = parsed.Tables

	var rec domain.QueryRecord
	if req.PreviewID != "" {
		if _, busy := s.inflight.LoadOrStore(req.PreviewID, struct{}{}); busy {
			err := fmt.Errorf("%w: %s", domain.ErrCommitInProgress, req.PreviewID)
			entry.Err = err
			failSpan(span, err)
			return nil, err
		}
		defer s.inflight.Delete(req.PreviewID)

		rec, err = s.boundPreview(ctx, req)
	} else {
		// Stored only once execution succeeds, so a failed commit leaves no
		// previewed record behind for a later bound commit to pick up.
		rec, err = s.newRecord(req, parsed)
	}
	if err != nil {
		entry.Err = err
		failSpan(span, err)
		return nil, err
	}
	if req.PreviewID != "" {
		entry.PreviewID = rec.ID
	}
	span.SetAttributes(attribute.String("agentproxy.preview_id", rec.ID))

	rows, err := s.execute(ctx, req.SQL)
	if err != nil {
		entry.Err = err
		failSpan(span, err)
		s.logger.ErrorContext(ctx, "statement execution failed",
			slog.String("preview_id", rec.ID),
			slog.String("db.statement", req.SQL),
			slog.String("error.type", "backend_error"),
			slog.Any("error", err),
		)
		return nil, err
	}
	entry.RowsAffected = rows

	if req.PreviewID == "" {
		if err := s.store.Insert(ctx, rec); err != nil {
			err = fmt.Errorf("storing query record: %w", err)
			entry.Err = err
			failSpan(span, err)
			return nil, err
		}
		entry.PreviewID = rec.ID
	}

	committed, err := s.store.UpdateStatus(ctx, rec.ID, domain.StatusCommitted, rows)
	if err != nil {
		err = fmt.Errorf("committing query %s: %w", rec.ID, err)
		entry.Err = err
		failSpan(span, err)
		return nil, err
	}

	committedAt := s.now().UTC()
	if committed.CommittedAt != nil {
		committedAt = *committed.CommittedAt
	}

	s.inst.IncrementCommits(ctx)
	span.SetAttributes(attribute.Int64("db.response.rows_affected", rows))
	s.logger.InfoContext(ctx, "statement committed",
		slog.String("preview_id", rec.ID),
		slog.String("db.operation.name", string(parsed.Operation)),
		slog.Int64("rows_affected", rows),
		slog.Bool("dry_run", s.DryRun()),
	)

	return &domain.CommitResponse{
		OK:           true,
		PreviewID:    rec.ID,
		CommittedAt:  committedAt,
		RowsAffected: rows,
		Warnings:     s.warnings(),
	}, nil
}

// Get returns a stored record.
func (s *QueryService) Get(ctx context.Context, id string) (domain.QueryRecord, error) {
	return s.store.Get(ctx, id)
}

// Policy returns the loaded policy unchanged.
func (s *QueryService) Policy() *domain.PolicyConfig {
	return s.policy
}

// DescribeSchema lists the tables of the configured database.
func (s *QueryService) DescribeSchema(ctx context.Context) ([]port.TableSchema, error) {
	if s.describer == nil {
		return nil, domain.ErrSchemaUnavailable
	}
	ctx, span := s.tracer.Start(ctx, "QueryService.DescribeSchema")
	defer span.End()

	tables, err := s.describer.DescribeSchema(ctx)
	if err != nil {
		failSpan(span, err)
		return nil, fmt.Errorf("describing schema: %w", err)
	}
	return tables, nil
}

// validate runs the analyzer and the evaluator. Rejections are logged and
// counted here so preview and commit report them identically.
func (s *QueryService) validate(ctx context.Context, span trace.Span, phase string, req domain.SQLRequest) (*domain.ParsedQuery, error) {
	parsed, err := s.analyzer.Analyze(req.SQL)
	if err == nil {
		span.SetAttributes(
			attribute.String("db.operation.name", string(parsed.Operation)),
			attribute.StringSlice("db.collection.names", parsed.Tables),
		)
		err = s.evaluator.Evaluate(req, parsed, s.policy)
	}
	if err != nil {
		rule := domain.RuleName(err)
		s.logger.WarnContext(ctx, "statement rejected",
			slog.String("phase", phase),
			slog.String("db.statement", req.SQL),
			slog.String("enduser.id", req.Context.Actor),
			slog.String("tenant_id", req.Context.TenantID),
			slog.String("error.type", rule),
			slog.String("error", err.Error()),
		)
		failSpan(span, err)
		s.inst.IncrementRejections(ctx, rule)
		return nil, err
	}
	return parsed, nil
}

// record creates and stores a fresh previewed record.
func (s *QueryService) record(ctx context.Context, req domain.SQLRequest, parsed *domain.ParsedQuery) (domain.QueryRecord, error) {
	rec, err := s.newRecord(req, parsed)
	if err != nil {
		return domain.QueryRecord{}, err
	}
	if err := s.store.Insert(ctx, rec); err != nil {
		return domain.QueryRecord{}, fmt.Errorf("storing query record: %w", err)
	}
	return rec, nil
}

func (s *QueryService) newRecord(req domain.SQLRequest, parsed *domain.ParsedQuery) (domain.QueryRecord, error) {
	id, err := s.newID()
	if err != nil {
		return domain.QueryRecord{}, err
	}
	return domain.QueryRecord{
		ID:        id,
		Actor:     req.Context.Actor,
		TenantID:  req.Context.TenantID,
		SQL:       req.SQL,
		Operation: parsed.Operation,
		Tables:    nonNil(parsed.Tables),
		Status:    domain.StatusPreviewed,
		CreatedAt: s.now().UTC(),
	}, nil
}

// boundPreview loads the preview a commit names and checks the commit may use it.
func (s *QueryService) boundPreview(ctx context.Context, req domain.SQLRequest) (domain.QueryRecord, error) {
	rec, err := s.store.Get(ctx, req.PreviewID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.QueryRecord{}, fmt.Errorf("%w: %s", domain.ErrPreviewNotFound, req.PreviewID)
	}
	if err != nil {
		return domain.QueryRecord{}, fmt.Errorf("loading preview: %w", err)
	}
	if rec.Status != domain.StatusPreviewed {
		return domain.QueryRecord{}, fmt.Errorf("%w: %s", domain.ErrAlreadyCommitted, rec.ID)
	}
	switch {
	case rec.SQL != req.SQL:
		return domain.QueryRecord{}, fmt.Errorf("%w: sql differs", domain.ErrPreviewMismatch)
	case rec.Actor != req.Context.Actor:
		return domain.QueryRecord{}, fmt.Errorf("%w: actor differs", domain.ErrPreviewMismatch)
	case rec.TenantID != req.Context.TenantID:
		return domain.QueryRecord{}, fmt.Errorf("%w: tenant_id differs", domain.ErrPreviewMismatch)
	}
	return rec, nil
}

func (s *QueryService) execute(ctx context.Context, sql string) (int64, error) {
	if s.executor == nil {
		return 0, nil
	}
	start := time.Now()
	rows, err := s.executor.Execute(ctx, sql)
	s.inst.RecordExecDuration(ctx, float64(time.Since(start).Milliseconds()))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrBackendExecution, err)
	}
	return rows, nil
}

func (s *QueryService) warnings() []string {
	if s.DryRun() {
		return []string{DryRunWarning}
	}
	return []string{}
}

func (s *QueryService) startSpan(ctx context.Context, name string, req domain.SQLRequest) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name,
		trace.WithAttributes(
			attribute.String("db.statement", req.SQL),
			attribute.String("enduser.id", req.Context.Actor),
			attribute.String("agentproxy.tenant_id", req.Context.TenantID),
		),
	)
}

func failSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

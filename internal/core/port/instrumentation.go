package port

import "context"

// Instrumentation records application-level metrics.
type Instrumentation interface {
	RecordExecDuration(ctx context.Context, ms float64)
	IncrementPreviews(ctx context.Context)
	IncrementCommits(ctx context.Context)
	IncrementRejections(ctx context.Context, rule string)
	RecordToolDuration(ctx context.Context, ms float64)
}

// NoopInstrumentation discards all metrics.
type NoopInstrumentation struct{}

func (NoopInstrumentation) RecordExecDuration(context.Context, float64) {}
func (NoopInstrumentation) IncrementPreviews(context.Context)           {}
func (NoopInstrumentation) IncrementCommits(context.Context)            {}
func (NoopInstrumentation) IncrementRejections(context.Context, string) {}
func (NoopInstrumentation) RecordToolDuration(context.Context, float64) {}

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/guillermoBallester/agentproxy"

// Instruments holds pre-created OTel metric instruments. It implements
// port.Instrumentation.
type Instruments struct {
	Previews     metric.Int64Counter
	Commits      metric.Int64Counter
	Rejections   metric.Int64Counter
	ExecDuration metric.Float64Histogram
	ToolDuration metric.Float64Histogram
}

// NewInstruments creates metric instruments from the global MeterProvider.
func NewInstruments() *Instruments {
	return NewInstrumentsFromMeter(otel.Meter(instrumentationName))
}

// NoopInstruments returns instruments that record nothing.
func NoopInstruments() *Instruments {
	return NewInstrumentsFromMeter(noop.NewMeterProvider().Meter(instrumentationName))
}

func NewInstrumentsFromMeter(meter metric.Meter) *Instruments {
	// OTel SDK returns noop instruments on error; safe to discard.
	previews, _ := meter.Int64Counter("agentproxy.preview.count",
		metric.WithDescription("Statements approved and recorded by preview"),
	)
	commits, _ := meter.Int64Counter("agentproxy.commit.count",
		metric.WithDescription("Statements committed"),
	)
	rejections, _ := meter.Int64Counter("agentproxy.rejection.count",
		metric.WithDescription("Statements refused by the analyzer or the policy, by rule"),
	)
	execDuration, _ := meter.Float64Histogram("agentproxy.exec.duration",
		metric.WithDescription("Backend statement execution duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	toolDuration, _ := meter.Float64Histogram("agentproxy.tool.duration",
		metric.WithDescription("MCP tool call duration in milliseconds"),
		metric.WithUnit("ms"),
	)

	return &Instruments{
		Previews:     previews,
		Commits:      commits,
		Rejections:   rejections,
		ExecDuration: execDuration,
		ToolDuration: toolDuration,
	}
}

func (i *Instruments) RecordExecDuration(ctx context.Context, ms float64) {
	i.ExecDuration.Record(ctx, ms)
}

func (i *Instruments) IncrementPreviews(ctx context.Context) {
	i.Previews.Add(ctx, 1)
}

func (i *Instruments) IncrementCommits(ctx context.Context) {
	i.Commits.Add(ctx, 1)
}

func (i *Instruments) IncrementRejections(ctx context.Context, rule string) {
	if rule == "" {
		rule = "other"
	}
	i.Rejections.Add(ctx, 1, metric.WithAttributes(attribute.String("rule", rule)))
}

func (i *Instruments) RecordToolDuration(ctx context.Context, ms float64) {
	i.ToolDuration.Record(ctx, ms)
}

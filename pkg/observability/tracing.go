package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Tracer starts and annotates stage spans for the pipeline, in the same
// tracer.Start/span.SetAttributes/span.RecordError shape the corpus uses
// around its own multi-step analysis calls.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer wraps the named tracer from the global OpenTelemetry provider.
func NewTracer(instrumentationName string) *Tracer {
	return &Tracer{tracer: otel.Tracer(instrumentationName)}
}

// StartStage starts a span named "<stage>" with a stage attribute already
// attached, returning the derived context and the span so the caller can
// record its own attributes and errors.
func (t *Tracer) StartStage(ctx context.Context, stage string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, stage)
	span.SetAttributes(attribute.String("stage", stage))
	return ctx, span
}

package monitor

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "sqljudge"

// Tracer wraps OpenTelemetry tracing for the judging system.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new Tracer using the global TracerProvider.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// StartSpan creates a new span and returns the updated context.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, fmt.Sprintf("judge.%s", name),
		trace.WithAttributes(attrs...),
	)
	return ctx, span
}

// SpanFromContext returns the current span from the context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// Common attribute keys for judge tracing.
var (
	AttrSubmissionID = attribute.Key("judge.submission.id")
	AttrProblemID    = attribute.Key("judge.problem.id")
	AttrUserID       = attribute.Key("judge.user.id")
	AttrQueryHash    = attribute.Key("judge.query_hash")
	AttrScore        = attribute.Key("judge.score")
	AttrDurationMS   = attribute.Key("judge.duration_ms")
)

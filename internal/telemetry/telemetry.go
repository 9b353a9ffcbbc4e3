// Package telemetry is a thin otel.Tracer/otel.Meter wrapper instrumenting
// the queue store's writes and the worker's prompt transitions with spans
// and a counter.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "graphqueue"
	meterName  = "graphqueue"
)

// Tracer returns a named tracer from the global otel TracerProvider. Callers
// hold one per component, e.g. "graphqueue-db", "graphqueue-worker".
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// Telemetry emits one span and one counter increment per prompt status
// transition observed by the Worker.
type Telemetry struct {
	tracer      trace.Tracer
	transitions metric.Int64Counter
}

// New builds a Telemetry instrumenting prompt transitions under tracerName.
func New() (*Telemetry, error) {
	meter := otel.Meter(meterName)
	transitions, err := meter.Int64Counter(
		"graphqueue_prompt_transitions_total",
		metric.WithDescription("Total number of prompt status transitions recorded by the worker"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating prompt transition counter: %w", err)
	}
	return &Telemetry{
		tracer:      otel.Tracer(tracerName),
		transitions: transitions,
	}, nil
}

// StartPromptSpan opens a span covering a prompt's move into status. Safe to
// call on a nil *Telemetry; returns ctx unchanged and a nil span.
func (t *Telemetry) StartPromptSpan(ctx context.Context, jobID, promptID int64, status string) (context.Context, trace.Span) {
	if t == nil {
		return ctx, nil
	}
	return t.tracer.Start(ctx, fmt.Sprintf("prompt.%s", status),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.Int64("graphqueue.job_id", jobID),
			attribute.Int64("graphqueue.prompt_id", promptID),
			attribute.String("graphqueue.prompt_status", status),
		),
	)
}

// EndPromptSpan closes a span opened by StartPromptSpan and records the
// transition counter. Safe to call with a nil *Telemetry or nil span.
func (t *Telemetry) EndPromptSpan(ctx context.Context, span trace.Span, status string, err error) {
	if t == nil || span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, status)
	}
	span.End()

	t.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("graphqueue.prompt_status", status)))
}

package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/CorbanSy/PropDash-sub000/task"
)

const tracerName = "github.com/CorbanSy/PropDash-sub000"

// Tracing returns middleware that wraps task execution in an
// OpenTelemetry span using the global TracerProvider.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
//
// Span attributes: dispatch.task.kind, dispatch.job.id, dispatch.task.attempt.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, t *task.Task, next Handler) error {
		ctx, span := tracer.Start(ctx, "dispatch.task."+string(t.Kind),
			trace.WithAttributes(
				attribute.String("dispatch.task.kind", string(t.Kind)),
				attribute.String("dispatch.job.id", t.JobID.String()),
				attribute.Int("dispatch.task.attempt", t.Attempt),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return err
	}
}

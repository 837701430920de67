package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/CorbanSy/PropDash-sub000/task"
)

const meterName = "github.com/CorbanSy/PropDash-sub000"

// Metrics returns middleware that records task metrics with the global
// MeterProvider. Without one configured the instruments are noops.
//
// Instruments:
//   - dispatch.task.duration (Float64Histogram), seconds, by kind and status
//   - dispatch.task.executions (Int64Counter), by kind and status
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// The OTel API hands back noop instruments on error.
	duration, _ := meter.Float64Histogram(
		"dispatch.task.duration",
		metric.WithDescription("Duration of task execution in seconds"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter(
		"dispatch.task.executions",
		metric.WithDescription("Total number of task executions"),
		metric.WithUnit("{execution}"),
	)

	return func(ctx context.Context, t *task.Task, next Handler) error {
		start := time.Now()
		err := next(ctx)

		status := "ok"
		switch {
		case err == nil:
		case expected(err):
			status = "ended"
		default:
			status = "error"
		}
		attrs := metric.WithAttributes(
			attribute.String("kind", string(t.Kind)),
			attribute.String("status", status),
		)
		duration.Record(ctx, time.Since(start).Seconds(), attrs)
		executions.Add(ctx, 1, attrs)
		return err
	}
}

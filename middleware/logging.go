package middleware

import (
	"context"
	"errors"
	"log/slog"
	"time"

	dispatch "github.com/CorbanSy/PropDash-sub000"
	"github.com/CorbanSy/PropDash-sub000/task"
)

// Logging returns middleware that logs task completion. Expected protocol
// outcomes (no candidates, exhausted queue, lease still active) are logged
// at Info; anything else at Error.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, t *task.Task, next Handler) error {
		start := time.Now()
		err := next(ctx)
		attrs := []any{
			slog.String("kind", string(t.Kind)),
			slog.String("job_id", t.JobID.String()),
			slog.Duration("elapsed", time.Since(start)),
		}

		switch {
		case err == nil:
			logger.Debug("task completed", attrs...)
		case expected(err):
			logger.Info("task ended", append(attrs, slog.String("outcome", err.Error()))...)
		default:
			logger.Error("task failed", append(attrs, slog.String("error", err.Error()))...)
		}
		return err
	}
}

func expected(err error) bool {
	return errors.Is(err, dispatch.ErrNoCandidates) ||
		errors.Is(err, dispatch.ErrCandidateExhausted) ||
		errors.Is(err, dispatch.ErrLeaseActive)
}

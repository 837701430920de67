package middleware

import (
	"context"
	"time"

	"github.com/CorbanSy/PropDash-sub000/task"
)

// Timeout returns middleware that cancels a task's context after d. A
// claim retry loop stuck on a dead store gives up at the deadline instead
// of holding a worker. Zero or less disables it.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, _ *task.Task, next Handler) error {
		if d <= 0 {
			return next(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return next(ctx)
	}
}

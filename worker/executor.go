// Package worker runs the coordinator's background work: dispatching
// posted jobs, expiring offers at their deadline, and the periodic sweep.
// An Executor runs one task through middleware; a Pool runs tasks on
// concurrent goroutines; Timers arm an expiry task per pending offer.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/CorbanSy/PropDash-sub000/coordinator"
	"github.com/CorbanSy/PropDash-sub000/id"
	"github.com/CorbanSy/PropDash-sub000/middleware"
	"github.com/CorbanSy/PropDash-sub000/task"
)

// Coordinator is the part of coordinator.Coordinator the worker drives.
type Coordinator interface {
	Dispatch(ctx context.Context, jobID id.JobID) (*coordinator.Result, error)
	Expire(ctx context.Context, jobID id.JobID) error
	Sweep(ctx context.Context) (int, error)
}

// Executor runs a single task through the middleware chain.
type Executor struct {
	coord  Coordinator
	mw     middleware.Middleware
	logger *slog.Logger
}

// NewExecutor creates an Executor over coord.
func NewExecutor(coord Coordinator, logger *slog.Logger, mws ...middleware.Middleware) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{coord: coord, mw: middleware.Chain(mws...), logger: logger}
}

// Execute runs t.
func (e *Executor) Execute(ctx context.Context, t *task.Task) error {
	return e.mw(ctx, t, func(ctx context.Context) error {
		switch t.Kind {
		case task.KindDispatch:
			_, err := e.coord.Dispatch(ctx, t.JobID)
			return err
		case task.KindExpire:
			return e.coord.Expire(ctx, t.JobID)
		case task.KindSweep:
			n, err := e.coord.Sweep(ctx)
			if n > 0 {
				e.logger.Info("sweep moved runs", slog.Int("runs", n))
			}
			return err
		default:
			return fmt.Errorf("worker: unknown task kind %q", t.Kind)
		}
	})
}

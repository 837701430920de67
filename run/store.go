package run

import (
	"context"
	"time"

	"github.com/CorbanSy/PropDash-sub000/id"
)

// ListOpts filters run queries.
type ListOpts struct {
	// State filters by run state. Empty means all.
	State State
	// Limit caps the result. Zero means no limit.
	Limit int
}

// Store persists dispatch runs and candidate queues.
type Store interface {
	// CreateRun atomically persists r and its candidate queue and moves
	// the job to dispatching, or to unassigned when the queue is empty.
	// It returns dispatch.ErrRunExists if the job already has a run and
	// dispatch.ErrJobNotFound if the job does not exist.
	CreateRun(ctx context.Context, r *Run, candidates []Candidate) error

	// GetRun returns the run of a job, or dispatch.ErrRunNotFound.
	GetRun(ctx context.Context, jobID id.JobID) (*Run, error)

	// ListCandidates returns a job's candidate queue in rank order.
	ListCandidates(ctx context.Context, jobID id.JobID) ([]Candidate, error)

	// ListRuns returns runs ordered by creation time, oldest first.
	ListRuns(ctx context.Context, opts ListOpts) ([]*Run, error)

	// CountRuns counts runs in the given state, or all runs when empty.
	CountRuns(ctx context.Context, state State) (int64, error)

	// FailRun marks an offering run with no pending offer unassignable
	// and its job unassigned. It returns dispatch.ErrRunTerminal if the
	// run already ended and dispatch.ErrOfferPending if an offer is out.
	FailRun(ctx context.Context, jobID id.JobID, reason Reason, at time.Time) (*Run, error)
}

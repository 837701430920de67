package job

import (
	"context"
	"time"

	"github.com/CorbanSy/PropDash-sub000/id"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// Status filters by status. Empty means all.
	Status Status
}

// Store persists jobs. Dispatch-driven status changes happen inside the
// run and offer stores' atomic operations; this interface only covers
// posting, reads and the awarded provider's work updates.
type Store interface {
	// CreateJob persists a new job.
	CreateJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// ListJobs returns jobs ordered by creation time, newest first.
	ListJobs(ctx context.Context, opts ListOpts) ([]*Job, error)

	// AdvanceWork moves the job from one work status to the next on behalf
	// of the awarded provider. It is a compare-and-swap: it fails with
	// dispatch.ErrInvalidTransition unless the job is currently in from
	// and held by providerID.
	AdvanceWork(ctx context.Context, jobID id.JobID, providerID id.ProviderID, from, to Status, at time.Time) (*Job, error)
}

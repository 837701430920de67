// Package task defines the units of background work the worker pool runs
// on behalf of the coordinator.
package task

import (
	"time"

	"github.com/CorbanSy/PropDash-sub000/id"
)

// Kind names what a task does.
type Kind string

const (
	// KindDispatch starts or resumes the run of a job.
	KindDispatch Kind = "dispatch"
	// KindExpire expires a job's pending offer at its deadline.
	KindExpire Kind = "expire"
	// KindSweep expires every due offer and resumes stalled runs.
	KindSweep Kind = "sweep"
)

// Task is one unit of work.
type Task struct {
	Kind  Kind
	JobID id.JobID
	// Owner keys per-owner admission limits. Dispatch tasks carry the
	// posting customer.
	Owner string
	// Attempt counts admissions deferred by rate limits.
	Attempt    int
	EnqueuedAt time.Time
}

// Dispatch returns a dispatch task for jobID.
func Dispatch(jobID id.JobID, owner string, now time.Time) *Task {
	return &Task{Kind: KindDispatch, JobID: jobID, Owner: owner, EnqueuedAt: now}
}

// Expire returns an expiry task for jobID.
func Expire(jobID id.JobID, now time.Time) *Task {
	return &Task{Kind: KindExpire, JobID: jobID, EnqueuedAt: now}
}

// Sweep returns a sweep task.
func Sweep(now time.Time) *Task {
	return &Task{Kind: KindSweep, EnqueuedAt: now}
}

// String renders the task for logs.
func (t *Task) String() string {
	if t.JobID.IsNil() {
		return string(t.Kind)
	}
	return string(t.Kind) + ":" + t.JobID.String()
}

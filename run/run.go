// Package run defines the dispatch run of a job and its persisted
// candidate queue.
package run

import (
	"time"

	dispatch "github.com/CorbanSy/PropDash-sub000"
	"github.com/CorbanSy/PropDash-sub000/id"
)

// State is the state of a dispatch run.
type State string

const (
	// StateOffering means candidates are being offered the job in turn.
	StateOffering State = "offering"
	// StateAssigned means a provider accepted.
	StateAssigned State = "assigned"
	// StateUnassignable means no candidate accepted or the run failed.
	StateUnassignable State = "unassignable"
	// StateCancelled means the customer cancelled the job.
	StateCancelled State = "cancelled"
)

// Terminal reports whether s ends the run.
func (s State) Terminal() bool { return s != StateOffering }

// Reason explains an unassignable run.
type Reason string

const (
	ReasonNoCandidates     Reason = "no_candidates"
	ReasonExhausted        Reason = "candidates_exhausted"
	ReasonStoreUnavailable Reason = "store_unavailable"
)

// Run is the lifecycle of offering one job to its candidates.
type Run struct {
	dispatch.Entity

	ID              id.RunID      `json:"id"`
	JobID           id.JobID      `json:"job_id"`
	State           State         `json:"state"`
	Cursor          int           `json:"cursor"`
	CandidatesFound int           `json:"candidates_found"`
	ProviderID      id.ProviderID `json:"provider_id,omitempty"`
	Reason          Reason        `json:"reason,omitempty"`
	EndedAt         *time.Time    `json:"ended_at,omitempty"`
}

// New returns a run for jobID in its initial state. A run with no
// candidates is born unassignable.
func New(jobID id.JobID, candidates int, now time.Time) *Run {
	r := &Run{
		Entity:          dispatch.NewEntity(now),
		ID:              id.NewRunID(),
		JobID:           jobID,
		State:           StateOffering,
		CandidatesFound: candidates,
	}
	if candidates == 0 {
		ended := now.UTC()
		r.State = StateUnassignable
		r.Reason = ReasonNoCandidates
		r.EndedAt = &ended
	}
	return r
}

// Remaining is the number of candidates not yet offered the job.
func (r *Run) Remaining() int {
	if n := r.CandidatesFound - r.Cursor; n > 0 {
		return n
	}
	return 0
}

// Candidate is one immutable entry of a job's candidate queue. Rank is
// 1-based. Only ConsumedAt ever changes, when the entry is offered.
type Candidate struct {
	JobID      id.JobID      `json:"job_id"`
	ProviderID id.ProviderID `json:"provider_id"`
	Rank       int           `json:"rank"`
	Score      float64       `json:"match_score"`
	Bucket     int           `json:"distance_bucket"`
	ConsumedAt *time.Time    `json:"consumed_at,omitempty"`
}

// Package ext defines the extension system. Extensions are notified of
// dispatch lifecycle events and react to them: metrics, audit records,
// webhooks, realtime pushes.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/CorbanSy/PropDash-sub000/id"
	"github.com/CorbanSy/PropDash-sub000/job"
	"github.com/CorbanSy/PropDash-sub000/offer"
	"github.com/CorbanSy/PropDash-sub000/run"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Run lifecycle hooks
// ──────────────────────────────────────────────────

// RunStarted is called once the candidate queue is persisted.
type RunStarted interface {
	OnRunStarted(ctx context.Context, r *run.Run, candidates []run.Candidate) error
}

// RunAssigned is called when a provider's accept wins.
type RunAssigned interface {
	OnRunAssigned(ctx context.Context, r *run.Run) error
}

// RunUnassignable is called when a run ends without a provider, whether
// the queue was empty, exhausted, or the store kept failing.
type RunUnassignable interface {
	OnRunUnassignable(ctx context.Context, r *run.Run) error
}

// RunCancelled is called when the customer cancels during dispatch.
type RunCancelled interface {
	OnRunCancelled(ctx context.Context, jobID id.JobID) error
}

// ──────────────────────────────────────────────────
// Offer lifecycle hooks
// ──────────────────────────────────────────────────

// OfferIssued is called after an offer is claimed for a provider.
type OfferIssued interface {
	OnOfferIssued(ctx context.Context, o *offer.Offer) error
}

// OfferResolved is called after an offer leaves pending, whatever the
// cause. o.Response carries the outcome.
type OfferResolved interface {
	OnOfferResolved(ctx context.Context, o *offer.Offer) error
}

// ──────────────────────────────────────────────────
// Operational hooks
// ──────────────────────────────────────────────────

// ClaimRetrying is called when a claim failed transiently and will be
// retried after delay.
type ClaimRetrying interface {
	OnClaimRetrying(ctx context.Context, jobID id.JobID, attempt int, delay time.Duration, err error) error
}

// DispatchAlert is called when a run had to be abandoned because of
// infrastructure failure. It is meant for operators.
type DispatchAlert interface {
	OnDispatchAlert(ctx context.Context, jobID id.JobID, err error) error
}

// WorkAdvanced is called after the awarded provider moves the job on.
type WorkAdvanced interface {
	OnWorkAdvanced(ctx context.Context, j *job.Job) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}

package offer

import (
	"context"
	"time"

	"github.com/CorbanSy/PropDash-sub000/id"
)

// Store guards offers. ClaimNext, ResolveOffer and CancelDispatch are each
// a single atomic operation of the backend; callers never read and then
// write offer state themselves.
type Store interface {
	// ClaimNext consumes the next candidate of the job's queue in rank
	// order and issues it a pending offer expiring at now+ttl.
	//
	// When the queue is empty it marks the run unassignable and the job
	// unassigned in the same operation and returns
	// dispatch.ErrCandidateExhausted. It returns dispatch.ErrOfferPending
	// if an offer is already pending, dispatch.ErrRunTerminal if the run
	// is no longer offering and dispatch.ErrRunNotFound without a run.
	ClaimNext(ctx context.Context, jobID id.JobID, now time.Time, ttl time.Duration) (*Offer, error)

	// ResolveOffer records outcome on the pending offer held by
	// providerID. It returns dispatch.ErrOfferConflict when no such
	// pending offer exists. Accepted or Declined at or after the deadline
	// return dispatch.ErrExpiredOffer and leave the offer for expiry;
	// Expired before the deadline returns dispatch.ErrLeaseActive.
	//
	// On acceptance the job becomes accepted with providerID and the run
	// becomes assigned in the same operation.
	ResolveOffer(ctx context.Context, jobID id.JobID, providerID id.ProviderID, outcome Response, at time.Time) (*Offer, error)

	// CancelDispatch expires the pending offer, if any, without cascade,
	// ends an offering run as cancelled and marks the job cancelled. It
	// returns the invalidated offer, or nil. A job past dispatch yields
	// dispatch.ErrInvalidTransition.
	CancelDispatch(ctx context.Context, jobID id.JobID, at time.Time) (*Offer, error)

	// GetOffer returns an offer by ID or dispatch.ErrOfferNotFound.
	GetOffer(ctx context.Context, offerID id.OfferID) (*Offer, error)

	// PendingOffer returns the job's pending offer or
	// dispatch.ErrOfferNotFound.
	PendingOffer(ctx context.Context, jobID id.JobID) (*Offer, error)

	// CurrentForProvider returns the earliest-expiring pending offer held
	// by providerID that is not yet due at now, or
	// dispatch.ErrOfferNotFound.
	CurrentForProvider(ctx context.Context, providerID id.ProviderID, now time.Time) (*Offer, error)

	// ListOffers returns every offer of a job in issue order.
	ListOffers(ctx context.Context, jobID id.JobID) ([]*Offer, error)

	// ListExpired returns pending offers due at now, earliest first.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*Offer, error)

	// CountPending counts pending offers across all jobs.
	CountPending(ctx context.Context) (int64, error)
}

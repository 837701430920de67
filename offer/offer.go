// Package offer defines the offer lease, the single contended resource of
// the dispatch protocol, and the store contract that guards it.
package offer

import (
	"time"

	"github.com/CorbanSy/PropDash-sub000/id"
	"github.com/CorbanSy/PropDash-sub000/job"
)

// DefaultTTL is the validity window of an offer.
const DefaultTTL = 300 * time.Second

// Response is the outcome recorded on an offer.
type Response string

const (
	Pending  Response = "pending"
	Accepted Response = "accepted"
	Declined Response = "declined"
	Expired  Response = "expired"
)

// Valid reports whether r is a known response.
func (r Response) Valid() bool {
	switch r {
	case Pending, Accepted, Declined, Expired:
		return true
	}
	return false
}

// Outcome reports whether r may be used to resolve an offer.
func (r Response) Outcome() bool { return r != Pending && r.Valid() }

// Offer is an exclusive, time-boxed right for one provider to accept one
// job. ExpiresAt is authoritative: clients render against it and the
// store enforces it.
type Offer struct {
	ID         id.OfferID    `json:"id"`
	JobID      id.JobID      `json:"job_id"`
	ProviderID id.ProviderID `json:"provider_id"`
	Rank       int           `json:"rank"`
	IssuedAt   time.Time     `json:"issued_at"`
	ExpiresAt  time.Time     `json:"expires_at"`
	Response   Response      `json:"response"`
	ResolvedAt *time.Time    `json:"resolved_at,omitempty"`
}

// New returns a pending offer issued at now.
func New(jobID id.JobID, providerID id.ProviderID, rank int, now time.Time, ttl time.Duration) *Offer {
	now = now.UTC()
	return &Offer{
		ID:         id.NewOfferID(),
		JobID:      jobID,
		ProviderID: providerID,
		Rank:       rank,
		IssuedAt:   now,
		ExpiresAt:  now.Add(ttl),
		Response:   Pending,
	}
}

// IsPending reports whether the offer is still unresolved in the store.
func (o *Offer) IsPending() bool { return o.Response == Pending }

// Due reports whether the deadline has been reached at now.
func (o *Offer) Due(now time.Time) bool { return !now.Before(o.ExpiresAt) }

// Actionable reports whether the holder may still accept or decline.
func (o *Offer) Actionable(now time.Time) bool { return o.IsPending() && !o.Due(now) }

// Remaining is the time left on the lease, never negative.
func (o *Offer) Remaining(now time.Time) time.Duration {
	if d := o.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Lease is what the provider's countdown UI receives.
type Lease struct {
	OfferID    id.OfferID   `json:"offer_id"`
	JobID      id.JobID     `json:"job_id"`
	Category   string       `json:"category"`
	Title      string       `json:"title,omitempty"`
	Area       string       `json:"area,omitempty"`
	PriceCents int64        `json:"price_cents"`
	Schedule   job.Schedule `json:"schedule"`
	ExpiresAt  time.Time    `json:"expires_at"`
}

// Detail is an offer together with the job it is for.
type Detail struct {
	Offer *Offer   `json:"offer"`
	Job   *job.Job `json:"job"`
}

// Lease renders the countdown view of d.
func (d *Detail) Lease() Lease {
	return Lease{
		OfferID:    d.Offer.ID,
		JobID:      d.Job.ID,
		Category:   d.Job.Category,
		Title:      d.Job.Title,
		Area:       d.Job.Location.Area,
		PriceCents: d.Job.PriceCents,
		Schedule:   d.Job.Schedule,
		ExpiresAt:  d.Offer.ExpiresAt,
	}
}

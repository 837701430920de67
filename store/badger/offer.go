package badger

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	dispatch "github.com/CorbanSy/PropDash-sub000"
	"github.com/CorbanSy/PropDash-sub000/id"
	"github.com/CorbanSy/PropDash-sub000/job"
	"github.com/CorbanSy/PropDash-sub000/offer"
	"github.com/CorbanSy/PropDash-sub000/run"
	"github.com/CorbanSy/PropDash-sub000/store/internal/record"
)

// ClaimNext issues the next candidate a pending offer, or ends the run
// when the queue is exhausted.
func (s *Store) ClaimNext(ctx context.Context, jobID id.JobID, now time.Time, ttl time.Duration) (*offer.Offer, error) {
	jID := jobID.String()
	var (
		issued    *offer.Offer
		exhausted bool
	)
	err := s.update(ctx, "claim next", func(t tx) error {
		issued, exhausted = nil, false

		rec, err := getRun(t, jID)
		if err != nil {
			return err
		}
		if run.State(rec.State) != run.StateOffering {
			return dispatch.ErrRunTerminal
		}
		busy, err := t.has(pendingPrefix + jID)
		if err != nil {
			return err
		}
		if busy {
			return dispatch.ErrOfferPending
		}

		offerIDs, offered, err := jobOffers(t, jID)
		if err != nil {
			return err
		}
		seen := make(map[string]bool, len(offered))
		for _, o := range offered {
			seen[o.ProviderID] = true
		}
		queue, err := getQueue(t, jID)
		if err != nil {
			return err
		}

		ts := now.UTC()
		var next *record.Candidate
		for rec.Cursor < len(queue) {
			c := &queue[rec.Cursor]
			rec.Cursor++
			c.ConsumedAt = &ts
			if !seen[c.ProviderID] {
				next = c
				break
			}
		}
		if err := t.put(queuePrefix+jID, queue); err != nil {
			return err
		}

		if next == nil {
			exhausted = true
			return endUnassignable(t, rec, run.ReasonExhausted, now)
		}

		providerID, err := id.ParseProviderID(next.ProviderID)
		if err != nil {
			return fmt.Errorf("dispatch/badger: candidate provider %q: %w", next.ProviderID, err)
		}
		o := offer.New(jobID, providerID, next.Rank, now, ttl)
		oID := o.ID.String()
		rec.UpdatedAt = ts

		if err := t.put(runPrefix+jID, rec); err != nil {
			return err
		}
		if err := t.put(offerPrefix+oID, record.FromOffer(o)); err != nil {
			return err
		}
		if err := t.put(jobOffersPrefix+jID, append(offerIDs, oID)); err != nil {
			return err
		}
		if err := t.put(pendingPrefix+jID, oID); err != nil {
			return err
		}
		issued = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	if exhausted {
		return nil, dispatch.ErrCandidateExhausted
	}
	return issued, nil
}

// ResolveOffer records an outcome on the pending offer held by providerID.
func (s *Store) ResolveOffer(ctx context.Context, jobID id.JobID, providerID id.ProviderID, outcome offer.Response, at time.Time) (*offer.Offer, error) {
	if !outcome.Outcome() {
		return nil, fmt.Errorf("%w: outcome %q", dispatch.ErrInvalidTransition, outcome)
	}

	jID := jobID.String()
	var resolved *offer.Offer
	err := s.update(ctx, "resolve offer", func(t tx) error {
		o, err := pendingOffer(t, jID)
		if err != nil {
			return err
		}
		if o == nil || o.ProviderID != providerID {
			return dispatch.ErrOfferConflict
		}
		if outcome == offer.Expired {
			if !o.Due(at) {
				return dispatch.ErrLeaseActive
			}
		} else if o.Due(at) {
			return dispatch.ErrExpiredOffer
		}

		ts := at.UTC()
		o.Response = outcome
		o.ResolvedAt = &ts
		if err := settleOffer(t, o); err != nil {
			return err
		}

		if outcome == offer.Accepted {
			j, err := getJob(t, jID)
			if err != nil {
				return err
			}
			j.Status = job.StatusAccepted
			j.ProviderID = providerID
			j.AcceptedAt = &ts
			j.Touch(at)
			if err := putJob(t, j); err != nil {
				return err
			}

			r, err := getRun(t, jID)
			if err != nil {
				return err
			}
			r.State = string(run.StateAssigned)
			r.ProviderID = providerID.String()
			r.EndedAt = &ts
			r.UpdatedAt = ts
			if err := t.put(runPrefix+jID, r); err != nil {
				return err
			}
		}
		resolved = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

// CancelDispatch invalidates the pending offer and cancels the job.
func (s *Store) CancelDispatch(ctx context.Context, jobID id.JobID, at time.Time) (*offer.Offer, error) {
	jID := jobID.String()
	var invalidated *offer.Offer
	err := s.update(ctx, "cancel dispatch", func(t tx) error {
		invalidated = nil

		j, err := getJob(t, jID)
		if err != nil {
			return err
		}
		if !j.Status.Cancellable() {
			return fmt.Errorf("%w: cannot cancel a %s job", dispatch.ErrInvalidTransition, j.Status)
		}
		ts := at.UTC()

		o, err := pendingOffer(t, jID)
		if err != nil {
			return err
		}
		if o != nil {
			o.Response = offer.Expired
			o.ResolvedAt = &ts
			if err := settleOffer(t, o); err != nil {
				return err
			}
			invalidated = o
		}

		var r record.Run
		found, err := t.get(runPrefix+jID, &r)
		if err != nil {
			return err
		}
		if found && run.State(r.State) == run.StateOffering {
			r.State = string(run.StateCancelled)
			r.EndedAt = &ts
			r.UpdatedAt = ts
			if err := t.put(runPrefix+jID, &r); err != nil {
				return err
			}
		}

		j.Status = job.StatusCancelled
		j.Touch(at)
		return putJob(t, j)
	})
	if err != nil {
		return nil, err
	}
	return invalidated, nil
}

// settleOffer stores a resolved offer and clears the job's pending slot.
func settleOffer(t tx, o *offer.Offer) error {
	if err := t.put(offerPrefix+o.ID.String(), record.FromOffer(o)); err != nil {
		return err
	}
	return t.del(pendingPrefix + o.JobID.String())
}

// pendingOffer returns the job's pending offer, or nil when there is none.
func pendingOffer(t tx, jID string) (*offer.Offer, error) {
	var oID string
	ok, err := t.get(pendingPrefix+jID, &oID)
	if err != nil || !ok {
		return nil, err
	}
	return getOffer(t, oID)
}

func getOffer(t tx, oID string) (*offer.Offer, error) {
	var rec record.Offer
	ok, err := t.get(offerPrefix+oID, &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, dispatch.ErrOfferNotFound
	}
	return rec.Offer()
}

// jobOffers loads a job's offer IDs and records in issue order.
func jobOffers(t tx, jID string) ([]string, []*record.Offer, error) {
	var ids []string
	if _, err := t.get(jobOffersPrefix+jID, &ids); err != nil {
		return nil, nil, err
	}
	recs := make([]*record.Offer, 0, len(ids))
	for _, oID := range ids {
		var rec record.Offer
		ok, err := t.get(offerPrefix+oID, &rec)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			recs = append(recs, &rec)
		}
	}
	return ids, recs, nil
}

// pendingOffers loads every pending offer matching keep, ordered by expiry
// then ID.
func pendingOffers(t tx, keep func(*offer.Offer) bool) ([]*offer.Offer, error) {
	ids, err := scan[string](t, pendingPrefix)
	if err != nil {
		return nil, err
	}
	var out []*offer.Offer
	for _, oID := range ids {
		o, err := getOffer(t, *oID)
		if err != nil {
			return nil, err
		}
		if keep(o) {
			out = append(out, o)
		}
	}
	slices.SortFunc(out, func(a, b *offer.Offer) int {
		return cmp.Or(a.ExpiresAt.Compare(b.ExpiresAt), a.ID.Compare(b.ID))
	})
	return out, nil
}

// GetOffer returns an offer by ID.
func (s *Store) GetOffer(ctx context.Context, offerID id.OfferID) (*offer.Offer, error) {
	var o *offer.Offer
	err := s.view(ctx, "get offer", func(t tx) (err error) {
		o, err = getOffer(t, offerID.String())
		return err
	})
	return o, err
}

// PendingOffer returns the job's pending offer.
func (s *Store) PendingOffer(ctx context.Context, jobID id.JobID) (*offer.Offer, error) {
	var o *offer.Offer
	err := s.view(ctx, "pending offer", func(t tx) (err error) {
		o, err = pendingOffer(t, jobID.String())
		return err
	})
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, dispatch.ErrOfferNotFound
	}
	return o, nil
}

// CurrentForProvider returns the provider's earliest-expiring live offer.
func (s *Store) CurrentForProvider(ctx context.Context, providerID id.ProviderID, now time.Time) (*offer.Offer, error) {
	var live []*offer.Offer
	err := s.view(ctx, "current offer", func(t tx) (err error) {
		live, err = pendingOffers(t, func(o *offer.Offer) bool {
			return o.ProviderID == providerID && o.Actionable(now)
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(live) == 0 {
		return nil, dispatch.ErrOfferNotFound
	}
	return live[0], nil
}

// ListOffers returns a job's offers in issue order.
func (s *Store) ListOffers(ctx context.Context, jobID id.JobID) ([]*offer.Offer, error) {
	var recs []*record.Offer
	err := s.view(ctx, "list offers", func(t tx) (err error) {
		_, recs, err = jobOffers(t, jobID.String())
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]*offer.Offer, 0, len(recs))
	for _, rec := range recs {
		o, err := rec.Offer()
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// ListExpired returns pending offers due at now, earliest first.
func (s *Store) ListExpired(ctx context.Context, now time.Time, limit int) ([]*offer.Offer, error) {
	var due []*offer.Offer
	err := s.view(ctx, "list expired", func(t tx) (err error) {
		due, err = pendingOffers(t, func(o *offer.Offer) bool { return o.Due(now) })
		return err
	})
	if err != nil {
		return nil, err
	}
	return page(due, 0, limit), nil
}

// CountPending counts pending offers.
func (s *Store) CountPending(ctx context.Context) (int64, error) {
	var n int64
	err := s.view(ctx, "count pending", func(t tx) error {
		n = count(t, pendingPrefix)
		return nil
	})
	return n, err
}

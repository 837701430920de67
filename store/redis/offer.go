package redis

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

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
	err := s.atomically(ctx, "claim next", func(tx *goredis.Tx) error {
		issued, exhausted = nil, false

		rec, err := getRun(ctx, tx, jID)
		if err != nil {
			return err
		}
		if run.State(rec.State) != run.StateOffering {
			return dispatch.ErrRunTerminal
		}
		n, err := tx.Exists(ctx, pendingKey(jID)).Result()
		if err != nil {
			return wrap("claim pending", err)
		}
		if n > 0 {
			return dispatch.ErrOfferPending
		}

		offered, err := s.jobOffers(ctx, tx, jID)
		if err != nil {
			return err
		}
		seen := make(map[string]bool, len(offered))
		for _, o := range offered {
			seen[o.ProviderID] = true
		}
		queue, err := getQueue(ctx, tx, jID)
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
		queueBlob, err := blob(queue)
		if err != nil {
			return err
		}

		if next == nil {
			exhausted = true
			writes, err := endUnassignable(ctx, tx, rec, run.ReasonExhausted, now)
			if err != nil {
				return err
			}
			return commit(ctx, tx, "claim next", func(pipe goredis.Pipeliner) error {
				pipe.Set(ctx, candidatesKey(jID), queueBlob, 0)
				return writes(pipe)
			})
		}

		providerID, err := id.ParseProviderID(next.ProviderID)
		if err != nil {
			return fmt.Errorf("dispatch/redis: candidate provider %q: %w", next.ProviderID, err)
		}
		o := offer.New(jobID, providerID, next.Rank, now, ttl)
		oID := o.ID.String()
		rec.UpdatedAt = ts

		runBlob, err := blob(rec)
		if err != nil {
			return err
		}
		offerBlob, err := blob(record.FromOffer(o))
		if err != nil {
			return err
		}
		if err := commit(ctx, tx, "claim next", func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, candidatesKey(jID), queueBlob, 0)
			pipe.Set(ctx, runKey(jID), runBlob, 0)
			pipe.Set(ctx, offerKey(oID), offerBlob, 0)
			pipe.RPush(ctx, jobOffersKey(jID), oID)
			pipe.Set(ctx, pendingKey(jID), oID, 0)
			z := goredis.Z{Score: expiryScore(o.ExpiresAt), Member: oID}
			pipe.ZAdd(ctx, pendingByExpiryKey, z)
			pipe.ZAdd(ctx, providerPendingKey(next.ProviderID), z)
			return nil
		}); err != nil {
			return err
		}
		issued = o
		return nil
	}, dispatchKeys(jID)...)
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
	err := s.atomically(ctx, "resolve offer", func(tx *goredis.Tx) error {
		rec, err := s.pendingRecord(ctx, tx, jID)
		if err != nil {
			if errors.Is(err, dispatch.ErrOfferNotFound) {
				return dispatch.ErrOfferConflict
			}
			return err
		}
		o, err := rec.Offer()
		if err != nil {
			return err
		}
		if o.ProviderID != providerID {
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
		settle, err := settleOffer(ctx, o)
		if err != nil {
			return err
		}

		var awardJob, assignRun []byte
		if outcome == offer.Accepted {
			j, err := getJob(ctx, tx, jID)
			if err != nil {
				return err
			}
			j.Status = job.StatusAccepted
			j.ProviderID = providerID
			j.AcceptedAt = &ts
			j.Touch(at)
			if awardJob, err = blob(record.FromJob(j)); err != nil {
				return err
			}

			r, err := getRun(ctx, tx, jID)
			if err != nil {
				return err
			}
			r.State = string(run.StateAssigned)
			r.ProviderID = providerID.String()
			r.EndedAt = &ts
			r.UpdatedAt = ts
			if assignRun, err = blob(r); err != nil {
				return err
			}
		}

		if err := commit(ctx, tx, "resolve offer", func(pipe goredis.Pipeliner) error {
			if err := settle(pipe); err != nil {
				return err
			}
			if awardJob != nil {
				pipe.Set(ctx, jobKey(jID), awardJob, 0)
				pipe.Set(ctx, runKey(jID), assignRun, 0)
			}
			return nil
		}); err != nil {
			return err
		}
		resolved = o
		return nil
	}, dispatchKeys(jID)...)
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

// CancelDispatch invalidates the pending offer and cancels the job.
func (s *Store) CancelDispatch(ctx context.Context, jobID id.JobID, at time.Time) (*offer.Offer, error) {
	jID := jobID.String()
	var invalidated *offer.Offer
	err := s.atomically(ctx, "cancel dispatch", func(tx *goredis.Tx) error {
		invalidated = nil

		j, err := getJob(ctx, tx, jID)
		if err != nil {
			return err
		}
		if !j.Status.Cancellable() {
			return fmt.Errorf("%w: cannot cancel a %s job", dispatch.ErrInvalidTransition, j.Status)
		}
		ts := at.UTC()

		var settle func(goredis.Pipeliner) error
		rec, err := s.pendingRecord(ctx, tx, jID)
		switch {
		case err == nil:
			o, convErr := rec.Offer()
			if convErr != nil {
				return convErr
			}
			o.Response = offer.Expired
			o.ResolvedAt = &ts
			if settle, err = settleOffer(ctx, o); err != nil {
				return err
			}
			invalidated = o
		case !errors.Is(err, dispatch.ErrOfferNotFound):
			return err
		}

		var runBlob []byte
		r, err := getRun(ctx, tx, jID)
		switch {
		case err == nil:
			if run.State(r.State) == run.StateOffering {
				r.State = string(run.StateCancelled)
				r.EndedAt = &ts
				r.UpdatedAt = ts
				if runBlob, err = blob(r); err != nil {
					return err
				}
			}
		case !errors.Is(err, dispatch.ErrRunNotFound):
			return err
		}

		j.Status = job.StatusCancelled
		j.Touch(at)
		jobBlob, err := blob(record.FromJob(j))
		if err != nil {
			return err
		}

		return commit(ctx, tx, "cancel dispatch", func(pipe goredis.Pipeliner) error {
			if settle != nil {
				if err := settle(pipe); err != nil {
					return err
				}
			}
			if runBlob != nil {
				pipe.Set(ctx, runKey(jID), runBlob, 0)
			}
			pipe.Set(ctx, jobKey(jID), jobBlob, 0)
			return nil
		})
	}, dispatchKeys(jID)...)
	if err != nil {
		return nil, err
	}
	return invalidated, nil
}

// settleOffer returns the writes that store a resolved offer and drop it
// from the pending indexes.
func settleOffer(ctx context.Context, o *offer.Offer) (func(goredis.Pipeliner) error, error) {
	b, err := blob(record.FromOffer(o))
	if err != nil {
		return nil, err
	}
	oID, jID := o.ID.String(), o.JobID.String()
	return func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, offerKey(oID), b, 0)
		pipe.Del(ctx, pendingKey(jID))
		pipe.ZRem(ctx, pendingByExpiryKey, oID)
		pipe.ZRem(ctx, providerPendingKey(o.ProviderID.String()), oID)
		return nil
	}, nil
}

// GetOffer returns an offer by ID.
func (s *Store) GetOffer(ctx context.Context, offerID id.OfferID) (*offer.Offer, error) {
	var rec record.Offer
	ok, err := load(ctx, s.client, offerKey(offerID.String()), &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, dispatch.ErrOfferNotFound
	}
	return rec.Offer()
}

// PendingOffer returns the job's pending offer.
func (s *Store) PendingOffer(ctx context.Context, jobID id.JobID) (*offer.Offer, error) {
	rec, err := s.pendingRecord(ctx, s.client, jobID.String())
	if err != nil {
		return nil, err
	}
	return rec.Offer()
}

func (s *Store) pendingRecord(ctx context.Context, c getter, jID string) (*record.Offer, error) {
	oID, err := c.Get(ctx, pendingKey(jID)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, dispatch.ErrOfferNotFound
	}
	if err != nil {
		return nil, wrap("pending offer", err)
	}
	var rec record.Offer
	ok, err := load(ctx, c, offerKey(oID), &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, dispatch.ErrOfferNotFound
	}
	return &rec, nil
}

// CurrentForProvider returns the provider's earliest-expiring live offer.
func (s *Store) CurrentForProvider(ctx context.Context, providerID id.ProviderID, now time.Time) (*offer.Offer, error) {
	ids, err := s.client.ZRangeByScore(ctx, providerPendingKey(providerID.String()), &goredis.ZRangeBy{
		Min: strconv.FormatInt(now.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, wrap("current offer", err)
	}
	live, err := s.offersByID(ctx, ids, func(o *offer.Offer) bool { return o.Actionable(now) })
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
	recs, err := s.jobOffers(ctx, s.client, jobID.String())
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
	ids, err := s.client.ZRangeByScore(ctx, pendingByExpiryKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, wrap("list expired", err)
	}
	due, err := s.offersByID(ctx, ids, func(o *offer.Offer) bool { return o.IsPending() && o.Due(now) })
	if err != nil {
		return nil, err
	}
	return page(due, 0, limit), nil
}

// CountPending counts pending offers.
func (s *Store) CountPending(ctx context.Context) (int64, error) {
	n, err := s.client.ZCard(ctx, pendingByExpiryKey).Result()
	if err != nil {
		return 0, wrap("count pending", err)
	}
	return n, nil
}

// jobOffers loads a job's offers in issue order.
func (s *Store) jobOffers(ctx context.Context, c goredis.Cmdable, jID string) ([]*record.Offer, error) {
	ids, err := c.LRange(ctx, jobOffersKey(jID), 0, -1).Result()
	if err != nil {
		return nil, wrap("job offers", err)
	}
	keys := make([]string, len(ids))
	for i, v := range ids {
		keys[i] = offerKey(v)
	}
	return loadMany[record.Offer](ctx, c, keys)
}

// offersByID loads offers, keeps those matching keep and orders them by
// expiry then ID.
func (s *Store) offersByID(ctx context.Context, ids []string, keep func(*offer.Offer) bool) ([]*offer.Offer, error) {
	keys := make([]string, len(ids))
	for i, v := range ids {
		keys[i] = offerKey(v)
	}
	recs, err := loadMany[record.Offer](ctx, s.client, keys)
	if err != nil {
		return nil, err
	}
	out := make([]*offer.Offer, 0, len(recs))
	for _, rec := range recs {
		o, err := rec.Offer()
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

package bunstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	dispatch "github.com/CorbanSy/PropDash-sub000"
	"github.com/CorbanSy/PropDash-sub000/id"
	"github.com/CorbanSy/PropDash-sub000/job"
	"github.com/CorbanSy/PropDash-sub000/offer"
	"github.com/CorbanSy/PropDash-sub000/run"
)

// ClaimNext issues the next candidate a pending offer, or ends the run
// when the queue is exhausted.
func (s *Store) ClaimNext(ctx context.Context, jobID id.JobID, now time.Time, ttl time.Duration) (*offer.Offer, error) {
	var (
		issued    *offer.Offer
		exhausted bool
	)
	err := s.inTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		rm, err := lockDispatch(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if run.State(rm.State) != run.StateOffering {
			return dispatch.ErrRunTerminal
		}
		busy, err := hasPending(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if busy {
			return dispatch.ErrOfferPending
		}

		var offered []string
		if err := tx.NewSelect().Model((*offerModel)(nil)).
			Column("provider_id").
			Where("job_id = ?", jobID.String()).
			Scan(ctx, &offered); err != nil {
			return wrap("read offered", err)
		}
		seen := make(map[string]bool, len(offered))
		for _, p := range offered {
			seen[p] = true
		}

		var queue []candidateModel
		if err := tx.NewSelect().Model(&queue).
			Where("job_id = ?", jobID.String()).
			Order("rank").
			Offset(rm.Cursor).
			Scan(ctx); err != nil {
			return wrap("read queue", err)
		}

		var (
			consumed []int
			next     *candidateModel
		)
		for i := range queue {
			rm.Cursor++
			consumed = append(consumed, queue[i].Rank)
			if !seen[queue[i].ProviderID] {
				next = &queue[i]
				break
			}
		}

		ts := now.UTC()
		if len(consumed) > 0 {
			if _, err := tx.NewUpdate().Model((*candidateModel)(nil)).
				Set("consumed_at = ?", ts).
				Where("job_id = ?", jobID.String()).
				Where("rank = ANY(?)", pgdialect.Array(consumed)).
				Exec(ctx); err != nil {
				return wrap("consume candidates", err)
			}
		}

		if next == nil {
			exhausted = true
			_, err := endUnassignable(ctx, tx, rm, run.ReasonExhausted, now)
			return err
		}

		c, err := fromCandidateModel(next)
		if err != nil {
			return err
		}
		o := offer.New(jobID, c.ProviderID, c.Rank, now, ttl)
		if _, err := tx.NewInsert().Model(toOfferModel(o)).Exec(ctx); err != nil {
			if isDuplicateKey(err) {
				return dispatch.ErrOfferPending
			}
			return wrap("insert offer", err)
		}
		rm.UpdatedAt = ts
		if _, err := tx.NewUpdate().Model(rm).Column("cursor_pos", "updated_at").WherePK().Exec(ctx); err != nil {
			return wrap("advance cursor", err)
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

	var resolved *offer.Offer
	err := s.inTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if _, err := lockJob(ctx, tx, jobID); err != nil {
			if errors.Is(err, dispatch.ErrJobNotFound) {
				return dispatch.ErrOfferConflict
			}
			return err
		}

		m := new(offerModel)
		err := tx.NewSelect().Model(m).
			Where("job_id = ?", jobID.String()).
			Where("response = ?", string(offer.Pending)).
			For("UPDATE").
			Scan(ctx)
		if err != nil {
			if isNoRows(err) {
				return dispatch.ErrOfferConflict
			}
			return wrap("lock offer", err)
		}
		o, err := fromOfferModel(m)
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
		m.Response = string(outcome)
		m.ResolvedAt = &ts
		if _, err := tx.NewUpdate().Model(m).Column("response", "resolved_at").WherePK().Exec(ctx); err != nil {
			return wrap("update offer", err)
		}
		o.Response = outcome
		o.ResolvedAt = &ts

		if outcome == offer.Accepted {
			if _, err := tx.NewUpdate().Table("dispatch_jobs").
				Set("status = ?", string(job.StatusAccepted)).
				Set("provider_id = ?", providerID.String()).
				Set("accepted_at = ?", ts).
				Set("updated_at = ?", ts).
				Where("id = ?", jobID.String()).
				Exec(ctx); err != nil {
				return wrap("award job", err)
			}
			if _, err := tx.NewUpdate().Table("dispatch_runs").
				Set("state = ?", string(run.StateAssigned)).
				Set("provider_id = ?", providerID.String()).
				Set("ended_at = ?", ts).
				Set("updated_at = ?", ts).
				Where("job_id = ?", jobID.String()).
				Exec(ctx); err != nil {
				return wrap("assign run", err)
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
	var invalidated *offer.Offer
	err := s.inTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		status, err := lockJob(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if !status.Cancellable() {
			return fmt.Errorf("%w: cannot cancel a %s job", dispatch.ErrInvalidTransition, status)
		}

		ts := at.UTC()
		var expired []offerModel
		if _, err := tx.NewUpdate().Model(&expired).
			Set("response = ?", string(offer.Expired)).
			Set("resolved_at = ?", ts).
			Where("job_id = ?", jobID.String()).
			Where("response = ?", string(offer.Pending)).
			Returning("*").
			Exec(ctx); err != nil {
			return wrap("invalidate offer", err)
		}
		if len(expired) > 0 {
			if invalidated, err = fromOfferModel(&expired[0]); err != nil {
				return err
			}
		}

		if _, err := tx.NewUpdate().Table("dispatch_runs").
			Set("state = ?", string(run.StateCancelled)).
			Set("ended_at = ?", ts).
			Set("updated_at = ?", ts).
			Where("job_id = ?", jobID.String()).
			Where("state = ?", string(run.StateOffering)).
			Exec(ctx); err != nil {
			return wrap("cancel run", err)
		}
		if _, err := tx.NewUpdate().Table("dispatch_jobs").
			Set("status = ?", string(job.StatusCancelled)).
			Set("updated_at = ?", ts).
			Where("id = ?", jobID.String()).
			Exec(ctx); err != nil {
			return wrap("cancel job", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return invalidated, nil
}

// GetOffer returns an offer by ID.
func (s *Store) GetOffer(ctx context.Context, offerID id.OfferID) (*offer.Offer, error) {
	return s.oneOffer(ctx, "get offer", func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("id = ?", offerID.String())
	})
}

// PendingOffer returns the job's pending offer.
func (s *Store) PendingOffer(ctx context.Context, jobID id.JobID) (*offer.Offer, error) {
	return s.oneOffer(ctx, "pending offer", func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("job_id = ?", jobID.String()).Where("response = ?", string(offer.Pending))
	})
}

// CurrentForProvider returns the provider's earliest-expiring live offer.
func (s *Store) CurrentForProvider(ctx context.Context, providerID id.ProviderID, now time.Time) (*offer.Offer, error) {
	return s.oneOffer(ctx, "current offer", func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("provider_id = ?", providerID.String()).
			Where("response = ?", string(offer.Pending)).
			Where("expires_at > ?", now.UTC()).
			OrderExpr("expires_at ASC, id ASC")
	})
}

// ListOffers returns a job's offers in issue order.
func (s *Store) ListOffers(ctx context.Context, jobID id.JobID) ([]*offer.Offer, error) {
	var models []offerModel
	if err := s.db.NewSelect().Model(&models).
		Where("job_id = ?", jobID.String()).
		Order("seq").
		Scan(ctx); err != nil {
		return nil, wrap("list offers", err)
	}
	return fromOfferModels(models)
}

// ListExpired returns pending offers due at now, earliest first.
func (s *Store) ListExpired(ctx context.Context, now time.Time, limit int) ([]*offer.Offer, error) {
	var models []offerModel
	q := s.db.NewSelect().Model(&models).
		Where("response = ?", string(offer.Pending)).
		Where("expires_at <= ?", now.UTC()).
		OrderExpr("expires_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, wrap("list expired", err)
	}
	return fromOfferModels(models)
}

// CountPending counts pending offers.
func (s *Store) CountPending(ctx context.Context) (int64, error) {
	n, err := s.db.NewSelect().Model((*offerModel)(nil)).
		Where("response = ?", string(offer.Pending)).
		Count(ctx)
	if err != nil {
		return 0, wrap("count pending", err)
	}
	return int64(n), nil
}

func (s *Store) oneOffer(ctx context.Context, op string, where func(*bun.SelectQuery) *bun.SelectQuery) (*offer.Offer, error) {
	m := new(offerModel)
	if err := where(s.db.NewSelect().Model(m)).Limit(1).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, dispatch.ErrOfferNotFound
		}
		return nil, wrap(op, err)
	}
	return fromOfferModel(m)
}

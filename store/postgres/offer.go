package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	dispatch "github.com/CorbanSy/PropDash-sub000"
	"github.com/CorbanSy/PropDash-sub000/id"
	"github.com/CorbanSy/PropDash-sub000/job"
	"github.com/CorbanSy/PropDash-sub000/offer"
	"github.com/CorbanSy/PropDash-sub000/run"
)

const offerColumns = `
	id, job_id, provider_id, rank, issued_at, expires_at, response, resolved_at`

// ClaimNext issues the next candidate a pending offer. Skipped and
// offered candidates are stamped consumed and the cursor advances past
// them; an exhausted queue ends the run in the same transaction.
func (s *Store) ClaimNext(ctx context.Context, jobID id.JobID, now time.Time, ttl time.Duration) (*offer.Offer, error) {
	var (
		issued    *offer.Offer
		exhausted bool
	)
	err := s.inTx(ctx, "claim next", func(tx pgx.Tx) error {
		r, err := lockDispatch(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if r.State != run.StateOffering {
			return dispatch.ErrRunTerminal
		}
		if busy, err := hasPending(ctx, tx, jobID); err != nil {
			return err
		} else if busy {
			return dispatch.ErrOfferPending
		}

		offered, err := offeredProviders(ctx, tx, jobID)
		if err != nil {
			return err
		}

		rows, err := tx.Query(ctx, `
			SELECT rank, provider_id FROM dispatch_candidates
			WHERE job_id = $1
			ORDER BY rank
			OFFSET $2`,
			jobID.String(), r.Cursor,
		)
		if err != nil {
			return wrap("read queue", err)
		}
		type entry struct {
			rank       int
			providerID id.ProviderID
		}
		var queue []entry
		for rows.Next() {
			var e entry
			if err := rows.Scan(&e.rank, &e.providerID); err != nil {
				rows.Close()
				return fmt.Errorf("dispatch/postgres: scan candidate: %w", err)
			}
			queue = append(queue, e)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return wrap("iterate queue", err)
		}

		cursor := r.Cursor
		consumed := make([]int, 0, 1)
		var next *entry
		for i := range queue {
			cursor++
			consumed = append(consumed, queue[i].rank)
			if !offered[queue[i].providerID.String()] {
				next = &queue[i]
				break
			}
		}

		ts := now.UTC()
		if len(consumed) > 0 {
			if _, err := tx.Exec(ctx,
				`UPDATE dispatch_candidates SET consumed_at = $3 WHERE job_id = $1 AND rank = ANY($2)`,
				jobID.String(), consumed, ts,
			); err != nil {
				return wrap("consume candidates", err)
			}
		}

		if next == nil {
			exhausted = true
			_, err := endUnassignable(ctx, tx, jobID, cursor, run.ReasonExhausted, now)
			return err
		}

		o := offer.New(jobID, next.providerID, next.rank, now, ttl)
		if _, err := tx.Exec(ctx, `
			INSERT INTO dispatch_offers (`+offerColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			o.ID.String(), jobID.String(), o.ProviderID.String(), o.Rank,
			o.IssuedAt, o.ExpiresAt, string(o.Response), o.ResolvedAt,
		); err != nil {
			if isDuplicateKey(err) {
				return dispatch.ErrOfferPending
			}
			return wrap("insert offer", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE dispatch_runs SET cursor_pos = $2, updated_at = $3 WHERE job_id = $1`,
			jobID.String(), cursor, ts,
		); err != nil {
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
	err := s.inTx(ctx, "resolve offer", func(tx pgx.Tx) error {
		if _, err := lockJob(ctx, tx, jobID); err != nil {
			if errors.Is(err, dispatch.ErrJobNotFound) {
				return dispatch.ErrOfferConflict
			}
			return err
		}

		row := tx.QueryRow(ctx, `
			SELECT `+offerColumns+` FROM dispatch_offers
			WHERE job_id = $1 AND response = 'pending'
			FOR UPDATE`,
			jobID.String(),
		)
		o, err := scanOffer(row)
		if err != nil {
			if isNoRows(err) {
				return dispatch.ErrOfferConflict
			}
			return wrap("lock offer", err)
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
		if _, err := tx.Exec(ctx,
			`UPDATE dispatch_offers SET response = $2, resolved_at = $3 WHERE id = $1`,
			o.ID.String(), string(outcome), ts,
		); err != nil {
			return wrap("update offer", err)
		}
		o.Response = outcome
		o.ResolvedAt = &ts

		if outcome == offer.Accepted {
			if _, err := tx.Exec(ctx, `
				UPDATE dispatch_jobs
				SET status = $2, provider_id = $3, accepted_at = $4, updated_at = $4
				WHERE id = $1`,
				jobID.String(), string(job.StatusAccepted), providerID.String(), ts,
			); err != nil {
				return wrap("award job", err)
			}
			if _, err := tx.Exec(ctx, `
				UPDATE dispatch_runs
				SET state = $2, provider_id = $3, ended_at = $4, updated_at = $4
				WHERE job_id = $1`,
				jobID.String(), string(run.StateAssigned), providerID.String(), ts,
			); err != nil {
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
	err := s.inTx(ctx, "cancel dispatch", func(tx pgx.Tx) error {
		status, err := lockJob(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if !status.Cancellable() {
			return fmt.Errorf("%w: cannot cancel a %s job", dispatch.ErrInvalidTransition, status)
		}

		ts := at.UTC()
		row := tx.QueryRow(ctx, `
			UPDATE dispatch_offers SET response = 'expired', resolved_at = $2
			WHERE job_id = $1 AND response = 'pending'
			RETURNING `+offerColumns,
			jobID.String(), ts,
		)
		o, err := scanOffer(row)
		switch {
		case err == nil:
			invalidated = o
		case !isNoRows(err):
			return wrap("invalidate offer", err)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE dispatch_runs SET state = $2, ended_at = $3, updated_at = $3
			WHERE job_id = $1 AND state = $4`,
			jobID.String(), string(run.StateCancelled), ts, string(run.StateOffering),
		); err != nil {
			return wrap("cancel run", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE dispatch_jobs SET status = $2, updated_at = $3 WHERE id = $1`,
			jobID.String(), string(job.StatusCancelled), ts,
		); err != nil {
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
	return s.oneOffer(ctx, "get offer",
		`SELECT `+offerColumns+` FROM dispatch_offers WHERE id = $1`, offerID.String())
}

// PendingOffer returns the job's pending offer.
func (s *Store) PendingOffer(ctx context.Context, jobID id.JobID) (*offer.Offer, error) {
	return s.oneOffer(ctx, "pending offer",
		`SELECT `+offerColumns+` FROM dispatch_offers WHERE job_id = $1 AND response = 'pending'`,
		jobID.String())
}

// CurrentForProvider returns the provider's earliest-expiring live offer.
func (s *Store) CurrentForProvider(ctx context.Context, providerID id.ProviderID, now time.Time) (*offer.Offer, error) {
	return s.oneOffer(ctx, "current offer", `
		SELECT `+offerColumns+` FROM dispatch_offers
		WHERE provider_id = $1 AND response = 'pending' AND expires_at > $2
		ORDER BY expires_at, id
		LIMIT 1`,
		providerID.String(), now.UTC())
}

// ListOffers returns a job's offers in issue order.
func (s *Store) ListOffers(ctx context.Context, jobID id.JobID) ([]*offer.Offer, error) {
	return s.manyOffers(ctx, "list offers",
		`SELECT `+offerColumns+` FROM dispatch_offers WHERE job_id = $1 ORDER BY seq`,
		jobID.String())
}

// ListExpired returns pending offers due at now, earliest first.
func (s *Store) ListExpired(ctx context.Context, now time.Time, limit int) ([]*offer.Offer, error) {
	return s.manyOffers(ctx, "list expired", `
		SELECT `+offerColumns+` FROM dispatch_offers
		WHERE response = 'pending' AND expires_at <= $1
		ORDER BY expires_at, id
		LIMIT NULLIF($2, 0)`,
		now.UTC(), limit)
}

// CountPending counts pending offers.
func (s *Store) CountPending(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM dispatch_offers WHERE response = 'pending'`,
	).Scan(&n); err != nil {
		return 0, wrap("count pending", err)
	}
	return n, nil
}

func (s *Store) oneOffer(ctx context.Context, op, query string, args ...any) (*offer.Offer, error) {
	o, err := scanOffer(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if isNoRows(err) {
			return nil, dispatch.ErrOfferNotFound
		}
		return nil, wrap(op, err)
	}
	return o, nil
}

func (s *Store) manyOffers(ctx context.Context, op, query string, args ...any) ([]*offer.Offer, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()

	var out []*offer.Offer
	for rows.Next() {
		o, scanErr := scanOffer(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("dispatch/postgres: scan offer row: %w", scanErr)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return out, nil
}

// hasPending reports whether the job has an outstanding offer.
func hasPending(ctx context.Context, tx pgx.Tx, jobID id.JobID) (bool, error) {
	var busy bool
	err := tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM dispatch_offers WHERE job_id = $1 AND response = 'pending')`,
		jobID.String(),
	).Scan(&busy)
	if err != nil {
		return false, wrap("check pending", err)
	}
	return busy, nil
}

// offeredProviders returns every provider already offered the job.
func offeredProviders(ctx context.Context, tx pgx.Tx, jobID id.JobID) (map[string]bool, error) {
	rows, err := tx.Query(ctx, `SELECT provider_id FROM dispatch_offers WHERE job_id = $1`, jobID.String())
	if err != nil {
		return nil, wrap("read offered", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, wrap("collect offered", err)
	}
	out := make(map[string]bool, len(ids))
	for _, v := range ids {
		out[v] = true
	}
	return out, nil
}

func scanOffer(row pgx.Row) (*offer.Offer, error) {
	var (
		o        offer.Offer
		response string
	)
	err := row.Scan(
		&o.ID, &o.JobID, &o.ProviderID, &o.Rank,
		&o.IssuedAt, &o.ExpiresAt, &response, &o.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Response = offer.Response(response)
	return &o, nil
}

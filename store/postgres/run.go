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
	"github.com/CorbanSy/PropDash-sub000/run"
)

const runColumns = `
	id, job_id, state, cursor_pos, candidates_found, provider_id, reason,
	ended_at, created_at, updated_at`

// CreateRun persists a run with its candidate queue and moves the job out
// of pending_dispatch in one transaction.
func (s *Store) CreateRun(ctx context.Context, r *run.Run, candidates []run.Candidate) error {
	return s.inTx(ctx, "create run", func(tx pgx.Tx) error {
		status, err := lockJob(ctx, tx, r.JobID)
		if err != nil {
			return err
		}

		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM dispatch_runs WHERE job_id = $1)`, r.JobID.String(),
		).Scan(&exists); err != nil {
			return wrap("check run", err)
		}
		if exists {
			return dispatch.ErrRunExists
		}
		if status != job.StatusPendingDispatch {
			return fmt.Errorf("%w: cannot dispatch a %s job", dispatch.ErrInvalidTransition, status)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO dispatch_runs (`+runColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			r.ID.String(), r.JobID.String(), string(r.State), r.Cursor, r.CandidatesFound,
			nullID(r.ProviderID), string(r.Reason), r.EndedAt, r.CreatedAt, r.UpdatedAt,
		)
		if err != nil {
			if isDuplicateKey(err) {
				return dispatch.ErrRunExists
			}
			return wrap("insert run", err)
		}

		if len(candidates) > 0 {
			_, err = tx.CopyFrom(ctx,
				pgx.Identifier{"dispatch_candidates"},
				[]string{"job_id", "rank", "provider_id", "score", "distance_bucket", "consumed_at"},
				pgx.CopyFromSlice(len(candidates), func(i int) ([]any, error) {
					c := candidates[i]
					return []any{r.JobID.String(), c.Rank, c.ProviderID.String(), c.Score, c.Bucket, c.ConsumedAt}, nil
				}),
			)
			if err != nil {
				return wrap("copy candidates", err)
			}
		}

		next := job.StatusDispatching
		if r.State == run.StateUnassignable {
			next = job.StatusUnassigned
		}
		if _, err := tx.Exec(ctx,
			`UPDATE dispatch_jobs SET status = $2, updated_at = $3 WHERE id = $1`,
			r.JobID.String(), string(next), r.CreatedAt,
		); err != nil {
			return wrap("update job status", err)
		}
		return nil
	})
}

// GetRun returns the run of a job.
func (s *Store) GetRun(ctx context.Context, jobID id.JobID) (*run.Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM dispatch_runs WHERE job_id = $1`, jobID.String())

	r, err := scanRun(row)
	if err != nil {
		if isNoRows(err) {
			return nil, dispatch.ErrRunNotFound
		}
		return nil, wrap("get run", err)
	}
	return r, nil
}

// ListCandidates returns the job's queue in rank order.
func (s *Store) ListCandidates(ctx context.Context, jobID id.JobID) ([]run.Candidate, error) {
	if _, err := s.GetRun(ctx, jobID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT job_id, provider_id, rank, score, distance_bucket, consumed_at
		FROM dispatch_candidates
		WHERE job_id = $1
		ORDER BY rank`,
		jobID.String(),
	)
	if err != nil {
		return nil, wrap("list candidates", err)
	}
	defer rows.Close()

	var out []run.Candidate
	for rows.Next() {
		var c run.Candidate
		if err := rows.Scan(&c.JobID, &c.ProviderID, &c.Rank, &c.Score, &c.Bucket, &c.ConsumedAt); err != nil {
			return nil, fmt.Errorf("dispatch/postgres: scan candidate row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate candidate rows", err)
	}
	return out, nil
}

// ListRuns returns runs oldest first.
func (s *Store) ListRuns(ctx context.Context, opts run.ListOpts) ([]*run.Run, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+runColumns+`
		FROM dispatch_runs
		WHERE ($1 = '' OR state = $1)
		ORDER BY created_at, id
		LIMIT NULLIF($2, 0)`,
		string(opts.State), opts.Limit,
	)
	if err != nil {
		return nil, wrap("list runs", err)
	}
	defer rows.Close()

	var out []*run.Run
	for rows.Next() {
		r, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("dispatch/postgres: scan run row: %w", scanErr)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate run rows", err)
	}
	return out, nil
}

// CountRuns counts runs in a state, or all runs when state is empty.
func (s *Store) CountRuns(ctx context.Context, state run.State) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM dispatch_runs WHERE ($1 = '' OR state = $1)`, string(state),
	).Scan(&n)
	if err != nil {
		return 0, wrap("count runs", err)
	}
	return n, nil
}

// FailRun ends an idle offering run as unassignable.
func (s *Store) FailRun(ctx context.Context, jobID id.JobID, reason run.Reason, at time.Time) (*run.Run, error) {
	var out *run.Run
	err := s.inTx(ctx, "fail run", func(tx pgx.Tx) error {
		r, err := lockDispatch(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if r.State.Terminal() {
			return dispatch.ErrRunTerminal
		}
		if busy, err := hasPending(ctx, tx, jobID); err != nil {
			return err
		} else if busy {
			return dispatch.ErrOfferPending
		}
		out, err = endUnassignable(ctx, tx, jobID, r.Cursor, reason, at)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// lockDispatch locks the job and its run, in that order, and returns the
// run.
func lockDispatch(ctx context.Context, tx pgx.Tx, jobID id.JobID) (*run.Run, error) {
	if _, err := lockJob(ctx, tx, jobID); err != nil {
		if errors.Is(err, dispatch.ErrJobNotFound) {
			return nil, dispatch.ErrRunNotFound
		}
		return nil, err
	}
	row := tx.QueryRow(ctx, `SELECT `+runColumns+` FROM dispatch_runs WHERE job_id = $1 FOR UPDATE`, jobID.String())
	r, err := scanRun(row)
	if err != nil {
		if isNoRows(err) {
			return nil, dispatch.ErrRunNotFound
		}
		return nil, wrap("lock run", err)
	}
	return r, nil
}

// endUnassignable closes the run and marks its job unassigned.
func endUnassignable(ctx context.Context, tx pgx.Tx, jobID id.JobID, cursor int, reason run.Reason, at time.Time) (*run.Run, error) {
	ts := at.UTC()
	row := tx.QueryRow(ctx, `
		UPDATE dispatch_runs
		SET state = $2, reason = $3, cursor_pos = $4, ended_at = $5, updated_at = $5
		WHERE job_id = $1
		RETURNING `+runColumns,
		jobID.String(), string(run.StateUnassignable), string(reason), cursor, ts,
	)
	r, err := scanRun(row)
	if err != nil {
		return nil, wrap("end run", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE dispatch_jobs SET status = $2, updated_at = $3 WHERE id = $1`,
		jobID.String(), string(job.StatusUnassigned), ts,
	); err != nil {
		return nil, wrap("mark job unassigned", err)
	}
	return r, nil
}

func scanRun(row pgx.Row) (*run.Run, error) {
	var (
		r      run.Run
		state  string
		reason string
	)
	err := row.Scan(
		&r.ID, &r.JobID, &state, &r.Cursor, &r.CandidatesFound, &r.ProviderID, &reason,
		&r.EndedAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.State = run.State(state)
	r.Reason = run.Reason(reason)
	return &r, nil
}

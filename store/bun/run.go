package bunstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	dispatch "github.com/CorbanSy/PropDash-sub000"
	"github.com/CorbanSy/PropDash-sub000/id"
	"github.com/CorbanSy/PropDash-sub000/job"
	"github.com/CorbanSy/PropDash-sub000/run"
)

// CreateRun persists a run with its candidate queue and moves the job out
// of pending_dispatch in one transaction.
func (s *Store) CreateRun(ctx context.Context, r *run.Run, candidates []run.Candidate) error {
	return s.inTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		status, err := lockJob(ctx, tx, r.JobID)
		if err != nil {
			return err
		}
		exists, err := tx.NewSelect().Model((*runModel)(nil)).Where("job_id = ?", r.JobID.String()).Exists(ctx)
		if err != nil {
			return wrap("check run", err)
		}
		if exists {
			return dispatch.ErrRunExists
		}
		if status != job.StatusPendingDispatch {
			return fmt.Errorf("%w: cannot dispatch a %s job", dispatch.ErrInvalidTransition, status)
		}

		if _, err := tx.NewInsert().Model(toRunModel(r)).Exec(ctx); err != nil {
			if isDuplicateKey(err) {
				return dispatch.ErrRunExists
			}
			return wrap("insert run", err)
		}
		if len(candidates) > 0 {
			models := make([]candidateModel, len(candidates))
			for i, c := range candidates {
				c.JobID = r.JobID
				models[i] = toCandidateModel(c)
			}
			if _, err := tx.NewInsert().Model(&models).Exec(ctx); err != nil {
				return wrap("insert candidates", err)
			}
		}

		next := job.StatusDispatching
		if r.State == run.StateUnassignable {
			next = job.StatusUnassigned
		}
		_, err = tx.NewUpdate().Table("dispatch_jobs").
			Set("status = ?", string(next)).
			Set("updated_at = ?", r.CreatedAt).
			Where("id = ?", r.JobID.String()).
			Exec(ctx)
		if err != nil {
			return wrap("update job status", err)
		}
		return nil
	})
}

// GetRun returns the run of a job.
func (s *Store) GetRun(ctx context.Context, jobID id.JobID) (*run.Run, error) {
	m := new(runModel)
	err := s.db.NewSelect().Model(m).Where("job_id = ?", jobID.String()).Limit(1).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, dispatch.ErrRunNotFound
		}
		return nil, wrap("get run", err)
	}
	return fromRunModel(m)
}

// ListCandidates returns the job's queue in rank order.
func (s *Store) ListCandidates(ctx context.Context, jobID id.JobID) ([]run.Candidate, error) {
	if _, err := s.GetRun(ctx, jobID); err != nil {
		return nil, err
	}
	var models []candidateModel
	if err := s.db.NewSelect().Model(&models).
		Where("job_id = ?", jobID.String()).
		Order("rank").
		Scan(ctx); err != nil {
		return nil, wrap("list candidates", err)
	}
	out := make([]run.Candidate, 0, len(models))
	for i := range models {
		c, err := fromCandidateModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// ListRuns returns runs oldest first.
func (s *Store) ListRuns(ctx context.Context, opts run.ListOpts) ([]*run.Run, error) {
	var models []runModel
	q := s.db.NewSelect().Model(&models).OrderExpr("created_at ASC, id ASC")
	if opts.State != "" {
		q = q.Where("state = ?", string(opts.State))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, wrap("list runs", err)
	}
	out := make([]*run.Run, 0, len(models))
	for i := range models {
		r, err := fromRunModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// CountRuns counts runs in a state, or all runs when state is empty.
func (s *Store) CountRuns(ctx context.Context, state run.State) (int64, error) {
	q := s.db.NewSelect().Model((*runModel)(nil))
	if state != "" {
		q = q.Where("state = ?", string(state))
	}
	n, err := q.Count(ctx)
	if err != nil {
		return 0, wrap("count runs", err)
	}
	return int64(n), nil
}

// FailRun ends an idle offering run as unassignable.
func (s *Store) FailRun(ctx context.Context, jobID id.JobID, reason run.Reason, at time.Time) (*run.Run, error) {
	var out *run.Run
	err := s.inTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		m, err := lockDispatch(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if run.State(m.State).Terminal() {
			return dispatch.ErrRunTerminal
		}
		busy, err := hasPending(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if busy {
			return dispatch.ErrOfferPending
		}
		out, err = endUnassignable(ctx, tx, m, reason, at)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// lockDispatch locks the job and then its run.
func lockDispatch(ctx context.Context, tx bun.Tx, jobID id.JobID) (*runModel, error) {
	if _, err := lockJob(ctx, tx, jobID); err != nil {
		if errors.Is(err, dispatch.ErrJobNotFound) {
			return nil, dispatch.ErrRunNotFound
		}
		return nil, err
	}
	m := new(runModel)
	err := tx.NewSelect().Model(m).Where("job_id = ?", jobID.String()).For("UPDATE").Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, dispatch.ErrRunNotFound
		}
		return nil, wrap("lock run", err)
	}
	return m, nil
}

// endUnassignable closes the locked run m and marks its job unassigned.
func endUnassignable(ctx context.Context, tx bun.Tx, m *runModel, reason run.Reason, at time.Time) (*run.Run, error) {
	ts := at.UTC()
	m.State = string(run.StateUnassignable)
	m.Reason = string(reason)
	m.EndedAt = &ts
	m.UpdatedAt = ts
	if _, err := tx.NewUpdate().Model(m).
		Column("state", "reason", "cursor_pos", "ended_at", "updated_at").
		WherePK().
		Exec(ctx); err != nil {
		return nil, wrap("end run", err)
	}
	if _, err := tx.NewUpdate().Table("dispatch_jobs").
		Set("status = ?", string(job.StatusUnassigned)).
		Set("updated_at = ?", ts).
		Where("id = ?", m.JobID).
		Exec(ctx); err != nil {
		return nil, wrap("mark job unassigned", err)
	}
	return fromRunModel(m)
}

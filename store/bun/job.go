package bunstore

import (
	"context"
	"fmt"
	"time"

	dispatch "github.com/CorbanSy/PropDash-sub000"
	"github.com/CorbanSy/PropDash-sub000/id"
	"github.com/CorbanSy/PropDash-sub000/job"
)

// CreateJob persists a new job.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	_, err := s.db.NewInsert().Model(toJobModel(j)).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return dispatch.ErrJobAlreadyExists
		}
		return wrap("create job", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	m := new(jobModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", jobID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, dispatch.ErrJobNotFound
		}
		return nil, wrap("get job", err)
	}
	return fromJobModel(m)
}

// ListJobs returns jobs newest first.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	var models []jobModel
	q := s.db.NewSelect().Model(&models).OrderExpr("created_at DESC, id DESC")
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, wrap("list jobs", err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, err := fromJobModel(&models[i])
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// AdvanceWork moves an accepted job along the provider's work flow.
func (s *Store) AdvanceWork(ctx context.Context, jobID id.JobID, providerID id.ProviderID, from, to job.Status, at time.Time) (*job.Job, error) {
	if !job.CanAdvanceWork(from, to) {
		return nil, fmt.Errorf("%w: %s → %s", dispatch.ErrInvalidTransition, from, to)
	}

	m := new(jobModel)
	q := s.db.NewUpdate().Model(m).
		Set("status = ?", string(to)).
		Set("updated_at = ?", at.UTC()).
		Where("id = ?", jobID.String()).
		Where("status = ?", string(from)).
		Where("provider_id = ?", providerID.String()).
		Returning("*")
	if to == job.StatusCompleted {
		q = q.Set("completed_at = ?", at.UTC())
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return nil, wrap("advance work", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		cur, getErr := s.GetJob(ctx, jobID)
		if getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("%w: %s → %s", dispatch.ErrInvalidTransition, cur.Status, to)
	}
	return fromJobModel(m)
}

package badger

import (
	"context"
	"fmt"
	"slices"
	"time"

	dispatch "github.com/CorbanSy/PropDash-sub000"
	"github.com/CorbanSy/PropDash-sub000/id"
	"github.com/CorbanSy/PropDash-sub000/job"
	"github.com/CorbanSy/PropDash-sub000/store/internal/record"
)

// CreateJob persists a new job.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	key := jobPrefix + j.ID.String()
	return s.update(ctx, "create job", func(t tx) error {
		exists, err := t.has(key)
		if err != nil {
			return err
		}
		if exists {
			return dispatch.ErrJobAlreadyExists
		}
		return t.put(key, record.FromJob(j))
	})
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var j *job.Job
	err := s.view(ctx, "get job", func(t tx) (err error) {
		j, err = getJob(t, jobID.String())
		return err
	})
	return j, err
}

func getJob(t tx, jID string) (*job.Job, error) {
	var rec record.Job
	ok, err := t.get(jobPrefix+jID, &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, dispatch.ErrJobNotFound
	}
	return rec.Job()
}

func putJob(t tx, j *job.Job) error {
	return t.put(jobPrefix+j.ID.String(), record.FromJob(j))
}

// ListJobs returns jobs newest first.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	var out []*job.Job
	err := s.view(ctx, "list jobs", func(t tx) error {
		recs, err := scan[record.Job](t, jobPrefix)
		if err != nil {
			return err
		}
		out = make([]*job.Job, 0, len(recs))
		for _, rec := range recs {
			if opts.Status != "" && rec.Status != string(opts.Status) {
				continue
			}
			j, err := rec.Job()
			if err != nil {
				return err
			}
			out = append(out, j)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b *job.Job) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return b.ID.Compare(a.ID)
	})
	return page(out, opts.Offset, opts.Limit), nil
}

// AdvanceWork moves an accepted job along the provider's work flow.
func (s *Store) AdvanceWork(ctx context.Context, jobID id.JobID, providerID id.ProviderID, from, to job.Status, at time.Time) (*job.Job, error) {
	var advanced *job.Job
	err := s.update(ctx, "advance work", func(t tx) error {
		j, err := getJob(t, jobID.String())
		if err != nil {
			return err
		}
		if j.Status != from || j.ProviderID != providerID || !job.CanAdvanceWork(from, to) {
			return fmt.Errorf("%w: %s → %s", dispatch.ErrInvalidTransition, j.Status, to)
		}
		j.Status = to
		j.Touch(at)
		if to == job.StatusCompleted {
			ts := at.UTC()
			j.CompletedAt = &ts
		}
		if err := putJob(t, j); err != nil {
			return err
		}
		advanced = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return advanced, nil
}

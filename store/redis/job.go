package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	dispatch "github.com/CorbanSy/PropDash-sub000"
	"github.com/CorbanSy/PropDash-sub000/id"
	"github.com/CorbanSy/PropDash-sub000/job"
	"github.com/CorbanSy/PropDash-sub000/store/internal/record"
)

// CreateJob stores the job blob and indexes it by creation time.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)
	b, err := blob(record.FromJob(j))
	if err != nil {
		return err
	}

	return s.atomically(ctx, "create job", func(tx *goredis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return wrap("create job exists", err)
		}
		if n > 0 {
			return dispatch.ErrJobAlreadyExists
		}
		return commit(ctx, tx, "create job", func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, b, 0)
			pipe.ZAdd(ctx, jobsByTimeKey, goredis.Z{Score: timeScore(j.CreatedAt), Member: jID})
			return nil
		})
	}, key)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return getJob(ctx, s.client, jobID.String())
}

func getJob(ctx context.Context, c getter, jID string) (*job.Job, error) {
	var rec record.Job
	ok, err := load(ctx, c, jobKey(jID), &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, dispatch.ErrJobNotFound
	}
	return rec.Job()
}

// ListJobs returns jobs newest first. Equal creation times order by
// descending ID, as ZREVRANGE does.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	ids, err := s.client.ZRevRange(ctx, jobsByTimeKey, 0, -1).Result()
	if err != nil {
		return nil, wrap("list jobs", err)
	}
	keys := make([]string, len(ids))
	for i, v := range ids {
		keys[i] = jobKey(v)
	}
	recs, err := loadMany[record.Job](ctx, s.client, keys)
	if err != nil {
		return nil, err
	}

	out := make([]*job.Job, 0, len(recs))
	for _, rec := range recs {
		if opts.Status != "" && rec.Status != string(opts.Status) {
			continue
		}
		j, err := rec.Job()
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return page(out, opts.Offset, opts.Limit), nil
}

// AdvanceWork moves an accepted job along the provider's work flow.
func (s *Store) AdvanceWork(ctx context.Context, jobID id.JobID, providerID id.ProviderID, from, to job.Status, at time.Time) (*job.Job, error) {
	key := jobKey(jobID.String())
	var out *job.Job
	err := s.atomically(ctx, "advance work", func(tx *goredis.Tx) error {
		j, err := getJob(ctx, tx, jobID.String())
		if err != nil {
			return err
		}
		if j.Status != from || j.ProviderID != providerID || !job.CanAdvanceWork(from, to) {
			return fmt.Errorf("%w: %s → %s", dispatch.ErrInvalidTransition, j.Status, to)
		}
		j.Status = to
		j.Touch(at)
		if to == job.StatusCompleted {
			t := at.UTC()
			j.CompletedAt = &t
		}
		b, err := blob(record.FromJob(j))
		if err != nil {
			return err
		}
		if err := commit(ctx, tx, "advance work", func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, b, 0)
			return nil
		}); err != nil {
			return err
		}
		out = j
		return nil
	}, key)
	if err != nil {
		return nil, err
	}
	return out, nil
}

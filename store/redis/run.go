package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	dispatch "github.com/CorbanSy/PropDash-sub000"
	"github.com/CorbanSy/PropDash-sub000/id"
	"github.com/CorbanSy/PropDash-sub000/job"
	"github.com/CorbanSy/PropDash-sub000/run"
	"github.com/CorbanSy/PropDash-sub000/store/internal/record"
)

// CreateRun stores the run and its queue and moves the job out of
// pending_dispatch in one transaction.
func (s *Store) CreateRun(ctx context.Context, r *run.Run, candidates []run.Candidate) error {
	jID := r.JobID.String()
	return s.atomically(ctx, "create run", func(tx *goredis.Tx) error {
		j, err := getJob(ctx, tx, jID)
		if err != nil {
			return err
		}
		n, err := tx.Exists(ctx, runKey(jID)).Result()
		if err != nil {
			return wrap("create run exists", err)
		}
		if n > 0 {
			return dispatch.ErrRunExists
		}
		if j.Status != job.StatusPendingDispatch {
			return fmt.Errorf("%w: cannot dispatch a %s job", dispatch.ErrInvalidTransition, j.Status)
		}

		j.Status = job.StatusDispatching
		if r.State == run.StateUnassignable {
			j.Status = job.StatusUnassigned
		}
		j.Touch(r.CreatedAt)

		runBlob, err := blob(record.FromRun(r))
		if err != nil {
			return err
		}
		queueBlob, err := blob(record.FromCandidates(candidates))
		if err != nil {
			return err
		}
		jobBlob, err := blob(record.FromJob(j))
		if err != nil {
			return err
		}
		return commit(ctx, tx, "create run", func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, runKey(jID), runBlob, 0)
			pipe.Set(ctx, candidatesKey(jID), queueBlob, 0)
			pipe.Set(ctx, jobKey(jID), jobBlob, 0)
			pipe.ZAdd(ctx, runsByTimeKey, goredis.Z{Score: timeScore(r.CreatedAt), Member: jID})
			return nil
		})
	}, dispatchKeys(jID)...)
}

// GetRun returns the run of a job.
func (s *Store) GetRun(ctx context.Context, jobID id.JobID) (*run.Run, error) {
	rec, err := getRun(ctx, s.client, jobID.String())
	if err != nil {
		return nil, err
	}
	return rec.Run()
}

func getRun(ctx context.Context, c getter, jID string) (*record.Run, error) {
	var rec record.Run
	ok, err := load(ctx, c, runKey(jID), &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, dispatch.ErrRunNotFound
	}
	return &rec, nil
}

func getQueue(ctx context.Context, c getter, jID string) ([]record.Candidate, error) {
	var queue []record.Candidate
	if _, err := load(ctx, c, candidatesKey(jID), &queue); err != nil {
		return nil, err
	}
	return queue, nil
}

// ListCandidates returns the job's queue in rank order.
func (s *Store) ListCandidates(ctx context.Context, jobID id.JobID) ([]run.Candidate, error) {
	jID := jobID.String()
	if _, err := getRun(ctx, s.client, jID); err != nil {
		return nil, err
	}
	queue, err := getQueue(ctx, s.client, jID)
	if err != nil {
		return nil, err
	}
	return record.Candidates(jobID, queue)
}

// ListRuns returns runs oldest first.
func (s *Store) ListRuns(ctx context.Context, opts run.ListOpts) ([]*run.Run, error) {
	recs, err := s.allRuns(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*run.Run, 0, len(recs))
	for _, rec := range recs {
		if opts.State != "" && rec.State != string(opts.State) {
			continue
		}
		r, err := rec.Run()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return page(out, 0, opts.Limit), nil
}

// CountRuns counts runs in a state, or all runs when state is empty.
func (s *Store) CountRuns(ctx context.Context, state run.State) (int64, error) {
	if state == "" {
		n, err := s.client.ZCard(ctx, runsByTimeKey).Result()
		if err != nil {
			return 0, wrap("count runs", err)
		}
		return n, nil
	}
	recs, err := s.allRuns(ctx)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, rec := range recs {
		if rec.State == string(state) {
			n++
		}
	}
	return n, nil
}

func (s *Store) allRuns(ctx context.Context) ([]*record.Run, error) {
	ids, err := s.client.ZRange(ctx, runsByTimeKey, 0, -1).Result()
	if err != nil {
		return nil, wrap("list runs", err)
	}
	keys := make([]string, len(ids))
	for i, v := range ids {
		keys[i] = runKey(v)
	}
	return loadMany[record.Run](ctx, s.client, keys)
}

// FailRun ends an idle offering run as unassignable.
func (s *Store) FailRun(ctx context.Context, jobID id.JobID, reason run.Reason, at time.Time) (*run.Run, error) {
	jID := jobID.String()
	var out *run.Run
	err := s.atomically(ctx, "fail run", func(tx *goredis.Tx) error {
		rec, err := getRun(ctx, tx, jID)
		if err != nil {
			return err
		}
		if run.State(rec.State).Terminal() {
			return dispatch.ErrRunTerminal
		}
		n, err := tx.Exists(ctx, pendingKey(jID)).Result()
		if err != nil {
			return wrap("fail run pending", err)
		}
		if n > 0 {
			return dispatch.ErrOfferPending
		}

		writes, err := endUnassignable(ctx, tx, rec, reason, at)
		if err != nil {
			return err
		}
		if err := commit(ctx, tx, "fail run", writes); err != nil {
			return err
		}
		out, err = rec.Run()
		return err
	}, dispatchKeys(jID)...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// endUnassignable closes rec and returns the writes that persist it along
// with the job's move to unassigned.
func endUnassignable(ctx context.Context, tx *goredis.Tx, rec *record.Run, reason run.Reason, at time.Time) (func(goredis.Pipeliner) error, error) {
	rec.EndUnassignable(reason, at)
	j, err := getJob(ctx, tx, rec.JobID)
	if err != nil {
		return nil, err
	}
	j.Status = job.StatusUnassigned
	j.Touch(at)

	runBlob, err := blob(rec)
	if err != nil {
		return nil, err
	}
	jobBlob, err := blob(record.FromJob(j))
	if err != nil {
		return nil, err
	}
	return func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, runKey(rec.JobID), runBlob, 0)
		pipe.Set(ctx, jobKey(rec.JobID), jobBlob, 0)
		return nil
	}, nil
}

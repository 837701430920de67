package badger

import (
	"context"
	"fmt"
	"slices"
	"time"

	dispatch "github.com/CorbanSy/PropDash-sub000"
	"github.com/CorbanSy/PropDash-sub000/id"
	"github.com/CorbanSy/PropDash-sub000/job"
	"github.com/CorbanSy/PropDash-sub000/run"
	"github.com/CorbanSy/PropDash-sub000/store/internal/record"
)

// CreateRun persists a run with its candidate queue and moves the job
// out of pending_dispatch.
func (s *Store) CreateRun(ctx context.Context, r *run.Run, candidates []run.Candidate) error {
	jID := r.JobID.String()
	return s.update(ctx, "create run", func(t tx) error {
		j, err := getJob(t, jID)
		if err != nil {
			return err
		}
		exists, err := t.has(runPrefix + jID)
		if err != nil {
			return err
		}
		if exists {
			return dispatch.ErrRunExists
		}
		if j.Status != job.StatusPendingDispatch {
			return fmt.Errorf("%w: cannot dispatch a %s job", dispatch.ErrInvalidTransition, j.Status)
		}

		if err := t.put(runPrefix+jID, record.FromRun(r)); err != nil {
			return err
		}
		if err := t.put(queuePrefix+jID, record.FromCandidates(candidates)); err != nil {
			return err
		}
		j.Status = job.StatusDispatching
		if r.State == run.StateUnassignable {
			j.Status = job.StatusUnassigned
		}
		j.Touch(r.CreatedAt)
		return putJob(t, j)
	})
}

// GetRun returns the run of a job.
func (s *Store) GetRun(ctx context.Context, jobID id.JobID) (*run.Run, error) {
	var rec *record.Run
	err := s.view(ctx, "get run", func(t tx) (err error) {
		rec, err = getRun(t, jobID.String())
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec.Run()
}

func getRun(t tx, jID string) (*record.Run, error) {
	var rec record.Run
	ok, err := t.get(runPrefix+jID, &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, dispatch.ErrRunNotFound
	}
	return &rec, nil
}

func getQueue(t tx, jID string) ([]record.Candidate, error) {
	var queue []record.Candidate
	if _, err := t.get(queuePrefix+jID, &queue); err != nil {
		return nil, err
	}
	return queue, nil
}

// ListCandidates returns the job's queue in rank order.
func (s *Store) ListCandidates(ctx context.Context, jobID id.JobID) ([]run.Candidate, error) {
	jID := jobID.String()
	var queue []record.Candidate
	err := s.view(ctx, "list candidates", func(t tx) error {
		if _, err := getRun(t, jID); err != nil {
			return err
		}
		var err error
		queue, err = getQueue(t, jID)
		return err
	})
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
	slices.SortFunc(out, func(a, b *run.Run) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return a.ID.Compare(b.ID)
	})
	return page(out, 0, opts.Limit), nil
}

// CountRuns counts runs in a state.
func (s *Store) CountRuns(ctx context.Context, state run.State) (int64, error) {
	if state == "" {
		var n int64
		err := s.view(ctx, "count runs", func(t tx) error {
			n = count(t, runPrefix)
			return nil
		})
		return n, err
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
	var recs []*record.Run
	err := s.view(ctx, "list runs", func(t tx) (err error) {
		recs, err = scan[record.Run](t, runPrefix)
		return err
	})
	return recs, err
}

// FailRun ends an idle offering run as unassignable.
func (s *Store) FailRun(ctx context.Context, jobID id.JobID, reason run.Reason, at time.Time) (*run.Run, error) {
	jID := jobID.String()
	var failed *record.Run
	err := s.update(ctx, "fail run", func(t tx) error {
		rec, err := getRun(t, jID)
		if err != nil {
			return err
		}
		if run.State(rec.State).Terminal() {
			return dispatch.ErrRunTerminal
		}
		busy, err := t.has(pendingPrefix + jID)
		if err != nil {
			return err
		}
		if busy {
			return dispatch.ErrOfferPending
		}
		if err := endUnassignable(t, rec, reason, at); err != nil {
			return err
		}
		failed = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return failed.Run()
}

// endUnassignable closes rec and moves its job to unassigned.
func endUnassignable(t tx, rec *record.Run, reason run.Reason, at time.Time) error {
	rec.EndUnassignable(reason, at)
	if err := t.put(runPrefix+rec.JobID, rec); err != nil {
		return err
	}
	j, err := getJob(t, rec.JobID)
	if err != nil {
		return err
	}
	j.Status = job.StatusUnassigned
	j.Touch(at)
	return putJob(t, j)
}

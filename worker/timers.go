package worker

import (
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/CorbanSy/PropDash-sub000/id"
	"github.com/CorbanSy/PropDash-sub000/offer"
	"github.com/CorbanSy/PropDash-sub000/task"
)

// Submitter accepts tasks. Pool implements it.
type Submitter interface {
	Submit(t *task.Task) error
}

// Timers submits an expiry task when an offer reaches its deadline. It
// implements coordinator.Armer. Timers live in process memory; after a
// restart the sweep expires whatever they would have.
type Timers struct {
	submit Submitter
	clock  clockwork.Clock
	logger *slog.Logger

	mu    sync.Mutex
	armed map[id.JobID]*armed
}

type armed struct {
	offerID id.OfferID
	timer   clockwork.Timer
}

// NewTimers returns deadline timers feeding submit.
func NewTimers(submit Submitter, clock clockwork.Clock, logger *slog.Logger) *Timers {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Timers{
		submit: submit,
		clock:  clock,
		logger: logger,
		armed:  make(map[id.JobID]*armed),
	}
}

// Arm schedules the expiry of o, replacing any timer for the same job.
func (t *Timers) Arm(o *offer.Offer) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if prev := t.armed[o.JobID]; prev != nil {
		prev.timer.Stop()
	}
	a := &armed{offerID: o.ID}
	t.armed[o.JobID] = a
	jobID := o.JobID
	a.timer = t.clock.AfterFunc(o.ExpiresAt.Sub(t.clock.Now()), func() { t.fire(jobID, a) })
}

// Disarm cancels o's timer. A timer since armed for a later offer on the
// same job is left running.
func (t *Timers) Disarm(o *offer.Offer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if a := t.armed[o.JobID]; a != nil && a.offerID == o.ID {
		a.timer.Stop()
		delete(t.armed, o.JobID)
	}
}

// Len returns the number of armed timers.
func (t *Timers) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.armed)
}

// StopAll cancels every timer.
func (t *Timers) StopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for jobID, a := range t.armed {
		a.timer.Stop()
		delete(t.armed, jobID)
	}
}

func (t *Timers) fire(jobID id.JobID, a *armed) {
	t.mu.Lock()
	if t.armed[jobID] != a {
		t.mu.Unlock()
		return
	}
	delete(t.armed, jobID)
	t.mu.Unlock()

	if err := t.submit.Submit(task.Expire(jobID, t.clock.Now())); err != nil {
		t.logger.Warn("expiry not submitted, leaving it to the sweep",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
	}
}

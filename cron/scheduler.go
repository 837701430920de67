package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	cronlib "github.com/robfig/cron/v3"

	"github.com/CorbanSy/PropDash-sub000/task"
)

var (
	// ErrDuplicateEntry is returned when registering a name twice.
	ErrDuplicateEntry = errors.New("cron: entry already registered")
	// ErrEntryNotFound is returned for an unknown entry name.
	ErrEntryNotFound = errors.New("cron: entry not found")
)

// Submitter accepts fired tasks. worker.Pool implements it.
type Submitter interface {
	Submit(t *task.Task) error
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithClock sets the time source.
func WithClock(c clockwork.Clock) SchedulerOption {
	return func(s *Scheduler) { s.clock = c }
}

type entry struct {
	Entry
	sched cronlib.Schedule
}

// Scheduler fires registered entries into a Submitter.
type Scheduler struct {
	submit Submitter
	clock  clockwork.Clock
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	order   []string
	wake    chan struct{}

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewScheduler creates a Scheduler.
func NewScheduler(submit Submitter, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		submit:  submit,
		clock:   clockwork.NewRealClock(),
		logger:  logger,
		entries: make(map[string]*entry),
		wake:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds an enabled entry firing kind on expr.
func (s *Scheduler) Register(name, expr string, kind task.Kind) error {
	sched, err := ParseSchedule(expr)
	if err != nil {
		return fmt.Errorf("cron: parse %q: %w", expr, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateEntry, name)
	}
	next := sched.Next(s.clock.Now())
	s.entries[name] = &entry{
		Entry: Entry{Name: name, Schedule: expr, Kind: kind, Enabled: true, NextRunAt: &next},
		sched: sched,
	}
	s.order = append(s.order, name)
	s.poke()
	return nil
}

// SetEnabled enables or disables an entry. Re-enabling schedules the next
// run from now.
func (s *Scheduler) SetEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, name)
	}
	if enabled && !e.Enabled {
		next := e.sched.Next(s.clock.Now())
		e.NextRunAt = &next
	}
	e.Enabled = enabled
	s.poke()
	return nil
}

// Entries returns a snapshot of the entries in registration order.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.entries[name].Entry)
	}
	return out
}

// Start launches the scheduling goroutine.
func (s *Scheduler) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true
	s.wg.Add(1)
	go s.loop()
	s.logger.Info("cron scheduler started", slog.Int("entries", len(s.entries)))
	return nil
}

// Stop halts the scheduler and waits for its goroutine.
func (s *Scheduler) Stop(_ context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("cron scheduler stopped")
	return nil
}

func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	for {
		var (
			timer clockwork.Timer
			fired <-chan time.Time
		)
		if wait, ok := s.untilNext(); ok {
			timer = s.clock.NewTimer(wait)
			fired = timer.Chan()
		}

		select {
		case <-s.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return
		case <-s.wake:
			if timer != nil {
				timer.Stop()
			}
		case <-fired:
			s.fireDue()
		}
	}
}

// untilNext reports how long until the earliest enabled entry is due.
func (s *Scheduler) untilNext() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next *time.Time
	for _, e := range s.entries {
		if !e.Enabled || e.NextRunAt == nil {
			continue
		}
		if next == nil || e.NextRunAt.Before(*next) {
			next = e.NextRunAt
		}
	}
	if next == nil {
		return 0, false
	}
	return max(next.Sub(s.clock.Now()), 0), true
}

func (s *Scheduler) fireDue() {
	now := s.clock.Now()

	s.mu.Lock()
	var due []*entry
	for _, name := range s.order {
		e := s.entries[name]
		if e.Enabled && e.NextRunAt != nil && !e.NextRunAt.After(now) {
			due = append(due, e)
			last := now
			next := e.sched.Next(now)
			e.LastRunAt = &last
			e.NextRunAt = &next
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		if err := s.submit.Submit(&task.Task{Kind: e.Kind, EnqueuedAt: now}); err != nil {
			s.logger.Warn("cron submit failed",
				slog.String("cron_name", e.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		s.logger.Debug("cron fired", slog.String("cron_name", e.Name))
	}
}

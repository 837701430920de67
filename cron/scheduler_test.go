package cron_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/CorbanSy/PropDash-sub000/cron"
	"github.com/CorbanSy/PropDash-sub000/task"
)

type chanSubmitter chan *task.Task

func (c chanSubmitter) Submit(t *task.Task) error {
	c <- t
	return nil
}

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"@every 1s", false},
		{"*/5 * * * *", false},
		{"@hourly", false},
		{"not a schedule", true},
		{"* * * * * *", true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			_, err := cron.ParseSchedule(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegister(t *testing.T) {
	s := cron.NewScheduler(make(chanSubmitter, 1), nil)
	if err := s.Register("sweep", "@every 1s", task.KindSweep); err != nil {
		t.Fatal(err)
	}
	if err := s.Register("sweep", "@every 1s", task.KindSweep); !errors.Is(err, cron.ErrDuplicateEntry) {
		t.Errorf("duplicate err = %v", err)
	}
	if err := s.Register("bad", "nope", task.KindSweep); err == nil {
		t.Error("expected parse error")
	}
	if err := s.SetEnabled("missing", false); !errors.Is(err, cron.ErrEntryNotFound) {
		t.Errorf("missing err = %v", err)
	}

	entries := s.Entries()
	if len(entries) != 1 || entries[0].Name != "sweep" || !entries[0].Enabled || entries[0].NextRunAt == nil {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestSchedulerFires(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC))
	sub := make(chanSubmitter, 8)
	s := cron.NewScheduler(sub, nil, cron.WithClock(clock))
	if err := s.Register("sweep", "@every 1s", task.KindSweep); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop(context.Background()) //nolint:errcheck // test cleanup

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i := range 3 {
		if err := clock.BlockUntilContext(ctx, 1); err != nil {
			t.Fatalf("tick %d: scheduler not waiting: %v", i, err)
		}
		clock.Advance(time.Second)
		select {
		case tk := <-sub:
			if tk.Kind != task.KindSweep {
				t.Errorf("kind = %s", tk.Kind)
			}
		case <-ctx.Done():
			t.Fatalf("tick %d: nothing fired", i)
		}
	}

	e := s.Entries()[0]
	if e.LastRunAt == nil || !e.NextRunAt.After(*e.LastRunAt) {
		t.Errorf("entry times = %+v", e)
	}
}

func TestDisabledEntryDoesNotFire(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sub := make(chanSubmitter, 8)
	s := cron.NewScheduler(sub, nil, cron.WithClock(clock))
	if err := s.Register("sweep", "@every 1s", task.KindSweep); err != nil {
		t.Fatal(err)
	}
	if err := s.SetEnabled("sweep", false); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop(context.Background()) //nolint:errcheck // test cleanup

	clock.Advance(10 * time.Second)
	select {
	case tk := <-sub:
		t.Fatalf("disabled entry fired %s", tk)
	case <-time.After(50 * time.Millisecond):
	}
}

package run_test

import (
	"testing"
	"time"

	"github.com/CorbanSy/PropDash-sub000/id"
	"github.com/CorbanSy/PropDash-sub000/run"
)

func TestNew(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	r := run.New(id.NewJobID(), 3, now)
	if r.State != run.StateOffering || r.Remaining() != 3 || r.EndedAt != nil {
		t.Errorf("unexpected run: %+v", r)
	}

	empty := run.New(id.NewJobID(), 0, now)
	if empty.State != run.StateUnassignable || empty.Reason != run.ReasonNoCandidates {
		t.Errorf("empty run state = %s/%s", empty.State, empty.Reason)
	}
	if empty.EndedAt == nil || !empty.EndedAt.Equal(now) {
		t.Errorf("empty run ended_at = %v", empty.EndedAt)
	}
}

func TestRemaining(t *testing.T) {
	r := &run.Run{CandidatesFound: 2, Cursor: 2}
	if r.Remaining() != 0 {
		t.Errorf("Remaining = %d", r.Remaining())
	}
	r.Cursor = 5
	if r.Remaining() != 0 {
		t.Errorf("Remaining past end = %d", r.Remaining())
	}
}

func TestTerminal(t *testing.T) {
	for s, want := range map[run.State]bool{
		run.StateOffering:     false,
		run.StateAssigned:     true,
		run.StateUnassignable: true,
		run.StateCancelled:    true,
	} {
		if s.Terminal() != want {
			t.Errorf("%s.Terminal() = %v", s, !want)
		}
	}
}

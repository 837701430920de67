package backoff_test

import (
	"testing"
	"time"

	"github.com/CorbanSy/PropDash-sub000/backoff"
)

func TestConstant(t *testing.T) {
	c := backoff.Constant(3 * time.Second)
	for attempt := 1; attempt <= 5; attempt++ {
		if got := c.Delay(attempt); got != 3*time.Second {
			t.Errorf("Delay(%d) = %v", attempt, got)
		}
	}
}

func TestExponential(t *testing.T) {
	e := backoff.Exponential{Initial: 100 * time.Millisecond, Max: time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{50, time.Second},
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponentialJitterBounds(t *testing.T) {
	e := backoff.Exponential{Initial: 100 * time.Millisecond, Max: time.Second, Jitter: true}
	for attempt := 1; attempt <= 8; attempt++ {
		ceiling := backoff.Exponential{Initial: e.Initial, Max: e.Max}.Delay(attempt)
		for range 50 {
			d := e.Delay(attempt)
			if d < 0 || d > ceiling {
				t.Fatalf("Delay(%d) = %v outside [0, %v]", attempt, d, ceiling)
			}
		}
	}
}

func TestNoneAndFunc(t *testing.T) {
	if d := backoff.None.Delay(7); d != 0 {
		t.Errorf("None.Delay = %v", d)
	}
	f := backoff.Func(func(n int) time.Duration { return time.Duration(n) * time.Second })
	if d := f.Delay(3); d != 3*time.Second {
		t.Errorf("Func.Delay = %v", d)
	}
}

func TestDefaultStrategyCapped(t *testing.T) {
	s := backoff.DefaultStrategy()
	for attempt := 1; attempt <= 20; attempt++ {
		if d := s.Delay(attempt); d > 5*time.Second {
			t.Fatalf("Delay(%d) = %v exceeds 5s cap", attempt, d)
		}
	}
}

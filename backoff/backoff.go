// Package backoff provides the delay schedules used when a claim against
// the store fails transiently. Strategies are stateless and safe for
// concurrent use.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the wait before retry attempt n (1-indexed).
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Func adapts a plain function to Strategy.
type Func func(attempt int) time.Duration

// Delay calls f.
func (f Func) Delay(attempt int) time.Duration { return f(attempt) }

// None never waits. Tests use it to retry immediately.
var None Strategy = Func(func(int) time.Duration { return 0 })

// Constant waits the same interval before every attempt.
type Constant time.Duration

// Delay returns the interval.
func (c Constant) Delay(int) time.Duration { return time.Duration(c) }

// Exponential doubles from Initial up to Max. With Jitter set the delay is
// drawn uniformly from [0, base] so concurrent retries spread out.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  bool
}

// Delay returns min(Initial·2^(attempt-1), Max), jittered if requested.
func (e Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(e.Initial) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && base > float64(e.Max) {
		base = float64(e.Max)
	}
	if e.Jitter {
		base *= rand.Float64() //nolint:gosec // jitter, not security
	}
	return time.Duration(base)
}

// DefaultStrategy is jittered exponential backoff from 200ms to 5s. A
// claim that is still failing after a handful of these is worth an
// operator's attention rather than a longer wait.
func DefaultStrategy() Strategy {
	return Exponential{Initial: 200 * time.Millisecond, Max: 5 * time.Second, Jitter: true}
}

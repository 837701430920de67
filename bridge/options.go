package bridge

import (
	"log/slog"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/CorbanSy/PropDash-sub000/backoff"
)

// Option configures a Listener.
type Option func(*Listener)

// WithClock sets the time source used for lease expiry and reconnect
// delays.
func WithClock(clock clockwork.Clock) Option {
	return func(l *Listener) { l.clock = clock }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Listener) { l.logger = logger }
}

// WithReconnectBackoff sets the delay between reconnect attempts.
func WithReconnectBackoff(s backoff.Strategy) Option {
	return func(l *Listener) { l.reconnect = s }
}

// WithResyncLimit bounds how often the listener refetches the current
// offer after reconnecting.
func WithResyncLimit(every rate.Limit, burst int) Option {
	return func(l *Listener) { l.limiter = rate.NewLimiter(every, burst) }
}

// WithUpdateBuffer sets the capacity of the Updates channel.
func WithUpdateBuffer(n int) Option {
	return func(l *Listener) { l.bufSize = n }
}

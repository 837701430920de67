package coordinator

import (
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	dispatch "github.com/CorbanSy/PropDash-sub000"
	"github.com/CorbanSy/PropDash-sub000/backoff"
	"github.com/CorbanSy/PropDash-sub000/ext"
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithConfig applies the offer TTL, claim retry budget and sweep batch
// from cfg.
func WithConfig(cfg dispatch.Config) Option {
	return func(c *Coordinator) {
		if cfg.OfferTTL > 0 {
			c.ttl = cfg.OfferTTL
		}
		if cfg.MaxClaimRetries >= 0 {
			c.maxRetries = cfg.MaxClaimRetries
		}
		if cfg.SweepBatch > 0 {
			c.sweepBatch = cfg.SweepBatch
		}
	}
}

// WithClock sets the time source. Tests pass a fake clock.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Coordinator) { c.clock = clock }
}

// WithOfferTTL sets the lease window of new offers.
func WithOfferTTL(d time.Duration) Option {
	return func(c *Coordinator) { c.ttl = d }
}

// WithMaxClaimRetries sets how many times a failed claim is retried.
func WithMaxClaimRetries(n int) Option {
	return func(c *Coordinator) { c.maxRetries = n }
}

// WithBackoff sets the delay between claim retries.
func WithBackoff(s backoff.Strategy) Option {
	return func(c *Coordinator) { c.backoff = s }
}

// WithExtensions sets the lifecycle hook registry.
func WithExtensions(r *ext.Registry) Option {
	return func(c *Coordinator) { c.exts = r }
}

// WithArmer sets the offer deadline timer.
func WithArmer(a Armer) Option {
	return func(c *Coordinator) { c.armer = a }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

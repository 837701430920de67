package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Option configures a Dispatcher.
type Option func(*Dispatcher) error

// Storer is the lifecycle slice of the store held by the Dispatcher.
// The full composite interface (store.Store) lives in a subpackage so the
// entity packages can depend on this one without a cycle.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

type poolRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Dispatcher holds configuration, the logger and the store, and owns the
// lifecycle of the worker pool that engine.Build attaches to it.
type Dispatcher struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	extensions extensionEmitter
	pool       poolRunner

	started bool
}

// New creates a Dispatcher. A store is required.
func New(opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	if d.store == nil {
		return nil, ErrNoStore
	}
	return d, nil
}

// Logger returns the dispatcher's logger.
func (d *Dispatcher) Logger() *slog.Logger { return d.logger }

// Store returns the dispatcher's store.
func (d *Dispatcher) Store() Storer { return d.store }

// Config returns a copy of the dispatcher's configuration.
func (d *Dispatcher) Config() Config { return d.config }

// SetPool attaches the worker pool (called by engine.Build).
func (d *Dispatcher) SetPool(p poolRunner) { d.pool = p }

// SetExtensions attaches the extension emitter (called by engine.Build).
func (d *Dispatcher) SetExtensions(e extensionEmitter) { d.extensions = e }

// Start runs the worker pool.
func (d *Dispatcher) Start(ctx context.Context) error {
	if d.pool == nil {
		return errors.New("dispatch: no worker pool attached")
	}
	if err := d.pool.Start(ctx); err != nil {
		return err
	}
	d.started = true
	return nil
}

// Stop drains the pool, notifies extensions and closes the store.
func (d *Dispatcher) Stop(ctx context.Context) error {
	if d.pool != nil && d.started {
		if err := d.pool.Stop(ctx); err != nil {
			d.logger.Error("pool stop error", slog.String("error", err.Error()))
		}
		d.started = false
	}
	if d.extensions != nil {
		d.extensions.EmitShutdown(ctx)
	}
	return d.store.Close()
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(d *Dispatcher) error {
		d.config = cfg
		return nil
	}
}

// WithOfferTTL sets the offer validity window.
func WithOfferTTL(ttl time.Duration) Option {
	return func(d *Dispatcher) error {
		if ttl <= 0 {
			return errors.New("dispatch: offer TTL must be positive")
		}
		d.config.OfferTTL = ttl
		return nil
	}
}

// WithMaxCandidates caps the candidate queue length.
func WithMaxCandidates(n int) Option {
	return func(d *Dispatcher) error {
		d.config.MaxCandidates = n
		return nil
	}
}

// WithMaxClaimRetries bounds claim retries after store failures.
func WithMaxClaimRetries(n int) Option {
	return func(d *Dispatcher) error {
		d.config.MaxClaimRetries = n
		return nil
	}
}

// WithSweepSchedule sets the cron expression of the expiry sweep.
func WithSweepSchedule(expr string) Option {
	return func(d *Dispatcher) error {
		d.config.SweepSchedule = expr
		return nil
	}
}

// WithConcurrency sets the number of worker goroutines.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) error {
		d.config.Concurrency = n
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) error {
		d.logger = l
		return nil
	}
}

// WithStore sets the persistence backend. It is normally a store.Store,
// which embeds every subsystem store.
func WithStore(s Storer) Option {
	return func(d *Dispatcher) error {
		d.store = s
		return nil
	}
}

package badger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	dispatch "github.com/CorbanSy/PropDash-sub000"
	"github.com/CorbanSy/PropDash-sub000/job"
	"github.com/CorbanSy/PropDash-sub000/offer"
	"github.com/CorbanSy/PropDash-sub000/provider"
	"github.com/CorbanSy/PropDash-sub000/run"
)

// Compile-time interface checks.
var (
	_ job.Store      = (*Store)(nil)
	_ provider.Store = (*Store)(nil)
	_ run.Store      = (*Store)(nil)
	_ offer.Store    = (*Store)(nil)
)

// DefaultMaxTxRetries bounds how often a conflicting transaction is rerun.
const DefaultMaxTxRetries = 100

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger. Badger's own log output goes through it
// at debug level and above.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMaxTxRetries bounds conflict retries.
func WithMaxTxRetries(n int) Option {
	return func(s *Store) { s.maxRetries = n }
}

// Store implements the composite store.Store interface backed by BadgerDB.
type Store struct {
	db         *badger.DB
	logger     *slog.Logger
	maxRetries int
	owned      bool
}

// Open opens (or creates) a database at path. An empty path opens an
// in-memory database. The returned Store closes the database on Close.
func Open(path string, opts ...Option) (*Store, error) {
	s := newStore(nil, opts)

	bopts := badger.DefaultOptions(path).WithLogger(&logAdapter{l: s.logger})
	if path == "" {
		bopts = bopts.WithInMemory(true)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("dispatch/badger: open %q: %w", path, err)
	}
	s.db = db
	s.owned = true
	return s, nil
}

// New wraps an open database. The caller owns its lifecycle.
func New(db *badger.DB, opts ...Option) *Store {
	return newStore(db, opts)
}

func newStore(db *badger.DB, opts []Option) *Store {
	s := &Store{db: db, logger: slog.Default(), maxRetries: DefaultMaxTxRetries}
	for _, o := range opts {
		o(s)
	}
	return s
}

// DB returns the underlying database.
func (s *Store) DB() *badger.DB { return s.db }

// Migrate is a no-op; badger is schemaless.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping reports whether the database is still open.
func (s *Store) Ping(_ context.Context) error {
	if s.db.IsClosed() {
		return fmt.Errorf("dispatch/badger: ping: %w", dispatch.ErrStoreClosed)
	}
	return nil
}

// Close closes the database when the Store opened it. Closing twice is a
// no-op.
func (s *Store) Close() error {
	if !s.owned || s.db.IsClosed() {
		return nil
	}
	return s.db.Close()
}

// logAdapter routes badger's printf-style logging into slog.
type logAdapter struct{ l *slog.Logger }

func (a *logAdapter) Errorf(f string, v ...any)   { a.l.Error(fmt.Sprintf(f, v...), "component", "badger") }
func (a *logAdapter) Warningf(f string, v ...any) { a.l.Warn(fmt.Sprintf(f, v...), "component", "badger") }
func (a *logAdapter) Infof(f string, v ...any)    { a.l.Debug(fmt.Sprintf(f, v...), "component", "badger") }
func (a *logAdapter) Debugf(f string, v ...any)   { a.l.Debug(fmt.Sprintf(f, v...), "component", "badger") }

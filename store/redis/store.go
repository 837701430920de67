package redis

import (
	"context"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

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

// DefaultMaxTxRetries bounds how often a transaction that lost a WATCH race
// is retried.
const DefaultMaxTxRetries = 100

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMaxTxRetries bounds optimistic transaction retries.
func WithMaxTxRetries(n int) Option {
	return func(s *Store) { s.maxRetries = n }
}

// Store implements the composite store.Store interface backed by Redis.
type Store struct {
	client     goredis.UniversalClient
	logger     *slog.Logger
	maxRetries int
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default(), maxRetries: DefaultMaxTxRetries}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.UniversalClient { return s.client }

// Migrate is a no-op for Redis (schemaless).
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return wrap("ping", err)
	}
	return nil
}

// Close is a no-op; the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }

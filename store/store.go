// Package store defines the aggregate persistence interface. Each subsystem
// (job, provider, run, offer) defines its own store interface and the
// composite Store composes them. Backends: Memory, Postgres, Bun, Redis and
// Badger.
package store

import (
	"context"

	"github.com/CorbanSy/PropDash-sub000/job"
	"github.com/CorbanSy/PropDash-sub000/offer"
	"github.com/CorbanSy/PropDash-sub000/provider"
	"github.com/CorbanSy/PropDash-sub000/run"
)

// Store is the aggregate persistence interface. A single backend
// implements every subsystem store.
type Store interface {
	job.Store
	provider.Store
	run.Store
	offer.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases the backend.
	Close() error
}

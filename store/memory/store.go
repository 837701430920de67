// Package memory provides an in-memory implementation of store.Store for
// tests and development. Every atomic store operation runs under a single
// mutex.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	dispatch "github.com/CorbanSy/PropDash-sub000"
	"github.com/CorbanSy/PropDash-sub000/id"
	"github.com/CorbanSy/PropDash-sub000/job"
	"github.com/CorbanSy/PropDash-sub000/offer"
	"github.com/CorbanSy/PropDash-sub000/provider"
	"github.com/CorbanSy/PropDash-sub000/run"
)

var (
	_ job.Store      = (*Store)(nil)
	_ provider.Store = (*Store)(nil)
	_ run.Store      = (*Store)(nil)
	_ offer.Store    = (*Store)(nil)
)

// Store is a fully in-memory store.Store. Safe for concurrent access.
type Store struct {
	mu sync.RWMutex

	jobs       map[string]*job.Job
	providers  map[string]*provider.Provider
	runs       map[string]*run.Run        // key: job ID
	candidates map[string][]run.Candidate // key: job ID
	offers     map[string]*offer.Offer    // key: offer ID
	jobOffers  map[string][]string        // job ID → offer IDs in issue order
	pending    map[string]string          // job ID → pending offer ID
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:       make(map[string]*job.Job),
		providers:  make(map[string]*provider.Provider),
		runs:       make(map[string]*run.Run),
		candidates: make(map[string][]run.Candidate),
		offers:     make(map[string]*offer.Offer),
		jobOffers:  make(map[string][]string),
		pending:    make(map[string]string),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job store
// ──────────────────────────────────────────────────

// CreateJob persists a new job.
func (m *Store) CreateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, ok := m.jobs[key]; ok {
		return dispatch.ErrJobAlreadyExists
	}
	cp := *j
	m.jobs[key] = &cp
	return nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, dispatch.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// ListJobs returns jobs newest first.
func (m *Store) ListJobs(_ context.Context, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		cp := *j
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *job.Job) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return b.ID.Compare(a.ID)
	})
	return page(out, opts.Offset, opts.Limit), nil
}

// AdvanceWork moves an accepted job along the provider's work flow.
func (m *Store) AdvanceWork(_ context.Context, jobID id.JobID, providerID id.ProviderID, from, to job.Status, at time.Time) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, dispatch.ErrJobNotFound
	}
	if j.Status != from || j.ProviderID != providerID || !job.CanAdvanceWork(from, to) {
		return nil, fmt.Errorf("%w: %s → %s", dispatch.ErrInvalidTransition, j.Status, to)
	}
	j.Status = to
	j.Touch(at)
	if to == job.StatusCompleted {
		t := at.UTC()
		j.CompletedAt = &t
	}
	cp := *j
	return &cp, nil
}

// ──────────────────────────────────────────────────
// Provider store
// ──────────────────────────────────────────────────

// UpsertProvider creates or replaces a provider, keeping its statistics.
func (m *Store) UpsertProvider(_ context.Context, p *provider.Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *p
	cp.Categories = slices.Clone(p.Categories)
	cp.Areas = slices.Clone(p.Areas)
	cp.Schedule = slices.Clone(p.Schedule)
	if prev, ok := m.providers[p.ID.String()]; ok {
		cp.CreatedAt = prev.CreatedAt
		cp.AvgResponseSeconds = prev.AvgResponseSeconds
		cp.Assigned = prev.Assigned
		cp.Completed = prev.Completed
	}
	m.providers[p.ID.String()] = &cp
	return nil
}

// GetProvider returns a provider by ID.
func (m *Store) GetProvider(_ context.Context, providerID id.ProviderID) (*provider.Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.providers[providerID.String()]
	if !ok {
		return nil, dispatch.ErrProviderNotFound
	}
	cp := *p
	return &cp, nil
}

// ListProviders returns matching providers ordered by ID.
func (m *Store) ListProviders(_ context.Context, opts provider.ListOpts) ([]*provider.Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*provider.Provider, 0, len(m.providers))
	for _, p := range m.providers {
		if opts.AvailableOnly && !p.Available {
			continue
		}
		if opts.Category != "" && !p.Offers(opts.Category) {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *provider.Provider) int { return a.ID.Compare(b.ID) })
	return page(out, 0, opts.Limit), nil
}

// SetAvailability toggles whether a provider receives offers.
func (m *Store) SetAvailability(_ context.Context, providerID id.ProviderID, available bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.providers[providerID.String()]
	if !ok {
		return dispatch.ErrProviderNotFound
	}
	p.Available = available
	return nil
}

// RecordResponse folds a response latency into the provider's average.
func (m *Store) RecordResponse(_ context.Context, providerID id.ProviderID, latency time.Duration, accepted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.providers[providerID.String()]
	if !ok {
		return dispatch.ErrProviderNotFound
	}
	p.ObserveResponse(latency)
	if accepted {
		p.Assigned++
	}
	return nil
}

// RecordCompletion counts a completed job.
func (m *Store) RecordCompletion(_ context.Context, providerID id.ProviderID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.providers[providerID.String()]
	if !ok {
		return dispatch.ErrProviderNotFound
	}
	p.Completed++
	return nil
}

// ──────────────────────────────────────────────────
// Run store
// ──────────────────────────────────────────────────

// CreateRun persists a run with its candidate queue and moves the job
// out of pending_dispatch.
func (m *Store) CreateRun(_ context.Context, r *run.Run, candidates []run.Candidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := r.JobID.String()
	j, ok := m.jobs[key]
	if !ok {
		return dispatch.ErrJobNotFound
	}
	if _, exists := m.runs[key]; exists {
		return dispatch.ErrRunExists
	}
	if j.Status != job.StatusPendingDispatch {
		return fmt.Errorf("%w: cannot dispatch a %s job", dispatch.ErrInvalidTransition, j.Status)
	}

	cp := *r
	m.runs[key] = &cp
	m.candidates[key] = slices.Clone(candidates)

	j.Status = job.StatusDispatching
	if r.State == run.StateUnassignable {
		j.Status = job.StatusUnassigned
	}
	j.Touch(r.CreatedAt)
	return nil
}

// GetRun returns the run of a job.
func (m *Store) GetRun(_ context.Context, jobID id.JobID) (*run.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.runs[jobID.String()]
	if !ok {
		return nil, dispatch.ErrRunNotFound
	}
	cp := *r
	return &cp, nil
}

// ListCandidates returns the job's queue in rank order.
func (m *Store) ListCandidates(_ context.Context, jobID id.JobID) ([]run.Candidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.runs[jobID.String()]; !ok {
		return nil, dispatch.ErrRunNotFound
	}
	return slices.Clone(m.candidates[jobID.String()]), nil
}

// ListRuns returns runs oldest first.
func (m *Store) ListRuns(_ context.Context, opts run.ListOpts) ([]*run.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*run.Run, 0, len(m.runs))
	for _, r := range m.runs {
		if opts.State != "" && r.State != opts.State {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *run.Run) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return a.ID.Compare(b.ID)
	})
	return page(out, 0, opts.Limit), nil
}

// CountRuns counts runs in a state.
func (m *Store) CountRuns(_ context.Context, state run.State) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, r := range m.runs {
		if state == "" || r.State == state {
			n++
		}
	}
	return n, nil
}

// FailRun ends an idle offering run as unassignable.
func (m *Store) FailRun(_ context.Context, jobID id.JobID, reason run.Reason, at time.Time) (*run.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	r, ok := m.runs[key]
	if !ok {
		return nil, dispatch.ErrRunNotFound
	}
	if r.State.Terminal() {
		return nil, dispatch.ErrRunTerminal
	}
	if _, busy := m.pending[key]; busy {
		return nil, dispatch.ErrOfferPending
	}
	m.endUnassignable(r, reason, at)
	cp := *r
	return &cp, nil
}

func (m *Store) endUnassignable(r *run.Run, reason run.Reason, at time.Time) {
	ended := at.UTC()
	r.State = run.StateUnassignable
	r.Reason = reason
	r.EndedAt = &ended
	r.Touch(at)
	if j, ok := m.jobs[r.JobID.String()]; ok {
		j.Status = job.StatusUnassigned
		j.Touch(at)
	}
}

// ──────────────────────────────────────────────────
// Offer store
// ──────────────────────────────────────────────────

// ClaimNext issues the next candidate a pending offer.
func (m *Store) ClaimNext(_ context.Context, jobID id.JobID, now time.Time, ttl time.Duration) (*offer.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	r, ok := m.runs[key]
	if !ok {
		return nil, dispatch.ErrRunNotFound
	}
	if r.State != run.StateOffering {
		return nil, dispatch.ErrRunTerminal
	}
	if _, busy := m.pending[key]; busy {
		return nil, dispatch.ErrOfferPending
	}

	offered := make(map[id.ProviderID]bool, len(m.jobOffers[key]))
	for _, oid := range m.jobOffers[key] {
		offered[m.offers[oid].ProviderID] = true
	}

	queue := m.candidates[key]
	for r.Cursor < len(queue) {
		c := &queue[r.Cursor]
		r.Cursor++
		consumed := now.UTC()
		c.ConsumedAt = &consumed
		if offered[c.ProviderID] {
			continue
		}

		o := offer.New(jobID, c.ProviderID, c.Rank, now, ttl)
		m.offers[o.ID.String()] = o
		m.jobOffers[key] = append(m.jobOffers[key], o.ID.String())
		m.pending[key] = o.ID.String()
		r.Touch(now)

		cp := *o
		return &cp, nil
	}

	m.endUnassignable(r, run.ReasonExhausted, now)
	return nil, dispatch.ErrCandidateExhausted
}

// ResolveOffer records an outcome on the pending offer held by providerID.
func (m *Store) ResolveOffer(_ context.Context, jobID id.JobID, providerID id.ProviderID, outcome offer.Response, at time.Time) (*offer.Offer, error) {
	if !outcome.Outcome() {
		return nil, fmt.Errorf("%w: outcome %q", dispatch.ErrInvalidTransition, outcome)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	oid, ok := m.pending[key]
	if !ok {
		return nil, dispatch.ErrOfferConflict
	}
	o := m.offers[oid]
	if o.ProviderID != providerID {
		return nil, dispatch.ErrOfferConflict
	}
	if outcome == offer.Expired {
		if !o.Due(at) {
			return nil, dispatch.ErrLeaseActive
		}
	} else if o.Due(at) {
		return nil, dispatch.ErrExpiredOffer
	}

	resolved := at.UTC()
	o.Response = outcome
	o.ResolvedAt = &resolved
	delete(m.pending, key)

	if outcome == offer.Accepted {
		j := m.jobs[key]
		j.Status = job.StatusAccepted
		j.ProviderID = providerID
		j.AcceptedAt = &resolved
		j.Touch(at)

		r := m.runs[key]
		r.State = run.StateAssigned
		r.ProviderID = providerID
		r.EndedAt = &resolved
		r.Touch(at)
	}

	cp := *o
	return &cp, nil
}

// CancelDispatch invalidates the pending offer and cancels the job.
func (m *Store) CancelDispatch(_ context.Context, jobID id.JobID, at time.Time) (*offer.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	j, ok := m.jobs[key]
	if !ok {
		return nil, dispatch.ErrJobNotFound
	}
	if !j.Status.Cancellable() {
		return nil, fmt.Errorf("%w: cannot cancel a %s job", dispatch.ErrInvalidTransition, j.Status)
	}

	ts := at.UTC()
	var invalidated *offer.Offer
	if oid, busy := m.pending[key]; busy {
		o := m.offers[oid]
		o.Response = offer.Expired
		o.ResolvedAt = &ts
		delete(m.pending, key)
		cp := *o
		invalidated = &cp
	}
	if r, ok := m.runs[key]; ok && r.State == run.StateOffering {
		r.State = run.StateCancelled
		r.EndedAt = &ts
		r.Touch(at)
	}
	j.Status = job.StatusCancelled
	j.Touch(at)
	return invalidated, nil
}

// GetOffer returns an offer by ID.
func (m *Store) GetOffer(_ context.Context, offerID id.OfferID) (*offer.Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.offers[offerID.String()]
	if !ok {
		return nil, dispatch.ErrOfferNotFound
	}
	cp := *o
	return &cp, nil
}

// PendingOffer returns the job's pending offer.
func (m *Store) PendingOffer(_ context.Context, jobID id.JobID) (*offer.Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	oid, ok := m.pending[jobID.String()]
	if !ok {
		return nil, dispatch.ErrOfferNotFound
	}
	cp := *m.offers[oid]
	return &cp, nil
}

// CurrentForProvider returns the provider's earliest-expiring live offer.
func (m *Store) CurrentForProvider(_ context.Context, providerID id.ProviderID, now time.Time) (*offer.Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *offer.Offer
	for _, oid := range m.pending {
		o := m.offers[oid]
		if o.ProviderID != providerID || o.Due(now) {
			continue
		}
		if best == nil || o.ExpiresAt.Before(best.ExpiresAt) {
			best = o
		}
	}
	if best == nil {
		return nil, dispatch.ErrOfferNotFound
	}
	cp := *best
	return &cp, nil
}

// ListOffers returns a job's offers in issue order.
func (m *Store) ListOffers(_ context.Context, jobID id.JobID) ([]*offer.Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.jobOffers[jobID.String()]
	out := make([]*offer.Offer, 0, len(ids))
	for _, oid := range ids {
		cp := *m.offers[oid]
		out = append(out, &cp)
	}
	return out, nil
}

// ListExpired returns pending offers due at now, earliest first.
func (m *Store) ListExpired(_ context.Context, now time.Time, limit int) ([]*offer.Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*offer.Offer
	for _, oid := range m.pending {
		o := m.offers[oid]
		if o.Due(now) {
			cp := *o
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *offer.Offer) int {
		return cmp.Or(a.ExpiresAt.Compare(b.ExpiresAt), a.ID.Compare(b.ID))
	})
	return page(out, 0, limit), nil
}

// CountPending counts pending offers.
func (m *Store) CountPending(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.pending)), nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

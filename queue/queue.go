package queue

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/CorbanSy/PropDash-sub000/task"
)

// Config limits one task kind.
type Config struct {
	Kind task.Kind

	// MaxConcurrency caps how many tasks of this kind run at once. Zero
	// means no kind-specific cap.
	MaxConcurrency int

	// RateLimit is the sustained admissions per second. Zero disables it.
	RateLimit float64

	// RateBurst is the token-bucket burst. Defaults to 1 when RateLimit is
	// set.
	RateBurst int
}

// OwnerConfig limits one owner's tasks of one kind.
type OwnerConfig struct {
	Kind           task.Kind
	Owner          string
	RateLimit      float64
	RateBurst      int
	MaxConcurrency int
}

type gate struct {
	limiter        *rate.Limiter
	maxConcurrency int
	active         int
}

func newGate(limit float64, burst, maxConcurrency int) *gate {
	g := &gate{maxConcurrency: maxConcurrency}
	if limit > 0 {
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(limit), burst)
	}
	return g
}

func (g *gate) full() bool {
	return g.maxConcurrency > 0 && g.active >= g.maxConcurrency
}

type ownerKey struct {
	kind  task.Kind
	owner string
}

// Manager admits tasks under per-kind and per-owner limits. It is safe
// for concurrent use.
type Manager struct {
	mu     sync.Mutex
	kinds  map[task.Kind]*gate
	owners map[ownerKey]*gate
}

// NewManager creates a Manager with the given kind limits.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		kinds:  make(map[task.Kind]*gate, len(configs)),
		owners: make(map[ownerKey]*gate),
	}
	for _, cfg := range configs {
		m.kinds[cfg.Kind] = newGate(cfg.RateLimit, cfg.RateBurst, cfg.MaxConcurrency)
	}
	return m
}

// Acquire admits a task of kind for owner, counting it active. The caller
// MUST call Release with the same arguments when the task finishes.
func (m *Manager) Acquire(kind task.Kind, owner string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	kg := m.kinds[kind]
	var og *gate
	if owner != "" {
		og = m.owners[ownerKey{kind, owner}]
	}

	// Check both concurrency gates before spending any rate token.
	if (kg != nil && kg.full()) || (og != nil && og.full()) {
		return false
	}
	if kg != nil && kg.limiter != nil && !kg.limiter.Allow() {
		return false
	}
	if og != nil && og.limiter != nil && !og.limiter.Allow() {
		return false
	}

	if kg != nil {
		kg.active++
	}
	if og != nil {
		og.active++
	}
	return true
}

// Release frees the slot taken by Acquire.
func (m *Manager) Release(kind task.Kind, owner string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if g := m.kinds[kind]; g != nil && g.active > 0 {
		g.active--
	}
	if owner != "" {
		if g := m.owners[ownerKey{kind, owner}]; g != nil && g.active > 0 {
			g.active--
		}
	}
}

// SetConfig updates or creates a kind's limits, keeping its active count.
func (m *Manager) SetConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g := newGate(cfg.RateLimit, cfg.RateBurst, cfg.MaxConcurrency)
	if old := m.kinds[cfg.Kind]; old != nil {
		g.active = old.active
	}
	m.kinds[cfg.Kind] = g
}

// SetOwnerConfig updates or creates an owner's limits on one kind.
func (m *Manager) SetOwnerConfig(cfg OwnerConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := ownerKey{cfg.Kind, cfg.Owner}
	g := newGate(cfg.RateLimit, cfg.RateBurst, cfg.MaxConcurrency)
	if old := m.owners[key]; old != nil {
		g.active = old.active
	}
	m.owners[key] = g
}

// ActiveCount returns the number of admitted tasks of kind.
func (m *Manager) ActiveCount(kind task.Kind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g := m.kinds[kind]; g != nil {
		return g.active
	}
	return 0
}

// OwnerActiveCount returns the number of admitted tasks of kind for owner.
func (m *Manager) OwnerActiveCount(kind task.Kind, owner string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g := m.owners[ownerKey{kind, owner}]; g != nil {
		return g.active
	}
	return 0
}

package extension

import (
	"log/slog"

	dispatch "github.com/CorbanSy/PropDash-sub000"
	"github.com/CorbanSy/PropDash-sub000/backoff"
	"github.com/CorbanSy/PropDash-sub000/dwp"
	"github.com/CorbanSy/PropDash-sub000/ext"
	mw "github.com/CorbanSy/PropDash-sub000/middleware"
	"github.com/CorbanSy/PropDash-sub000/queue"
	"github.com/CorbanSy/PropDash-sub000/ranking"
)

// ExtOption configures the Dispatch Forge extension.
type ExtOption func(*Extension)

// WithStore sets the persistence backend. Without it the extension
// resolves a store.Store from the DI container.
func WithStore(s dispatch.Storer) ExtOption {
	return func(e *Extension) {
		e.dispatchOpts = append(e.dispatchOpts, dispatch.WithStore(s))
		e.hasStore = true
	}
}

// WithConcurrency sets the number of worker goroutines.
func WithConcurrency(n int) ExtOption {
	return func(e *Extension) {
		e.config.Dispatch.Concurrency = n
	}
}

// WithExtension registers a dispatch extension (lifecycle hooks).
func WithExtension(x ext.Extension) ExtOption {
	return func(e *Extension) {
		e.exts = append(e.exts, x)
	}
}

// WithMiddleware adds task middleware to the dispatch engine.
func WithMiddleware(m mw.Middleware) ExtOption {
	return func(e *Extension) {
		e.mws = append(e.mws, m)
	}
}

// WithBackoff sets the claim retry backoff strategy.
func WithBackoff(b backoff.Strategy) ExtOption {
	return func(e *Extension) {
		e.bo = b
	}
}

// WithWeights overrides the ranking weights.
func WithWeights(w ranking.Weights) ExtOption {
	return func(e *Extension) {
		e.config.Weights = &w
	}
}

// WithQueueConfig sets per-task-kind admission limits.
func WithQueueConfig(configs ...queue.Config) ExtOption {
	return func(e *Extension) {
		e.queueConfigs = append(e.queueConfigs, configs...)
	}
}

// WithConfig sets the extension configuration directly.
func WithConfig(cfg Config) ExtOption {
	return func(e *Extension) {
		e.config = cfg
	}
}

// WithDisableRoutes disables the registration of HTTP routes.
func WithDisableRoutes() ExtOption {
	return func(e *Extension) {
		e.config.DisableRoutes = true
	}
}

// WithDisableMigrate disables auto-migration on start.
func WithDisableMigrate() ExtOption {
	return func(e *Extension) {
		e.config.DisableMigrate = true
	}
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) ExtOption {
	return func(e *Extension) {
		e.config.RequireConfig = require
	}
}

// WithDWP mounts the provider wire protocol and enables the stream broker.
func WithDWP(opts ...dwp.Option) ExtOption {
	return func(e *Extension) {
		e.config.EnableDWP = true
		e.dwpOpts = append(e.dwpOpts, opts...)
	}
}

// WithLogger sets the structured logger for the dispatch engine.
func WithLogger(l *slog.Logger) ExtOption {
	return func(e *Extension) {
		e.logger = l
	}
}

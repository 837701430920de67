// Package extension provides the Forge extension adapter for the dispatch
// service.
//
// It implements the forge.Extension interface to integrate dispatch into a
// Forge application with store discovery from the DI container, route
// registration and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.dispatch" or "dispatch" keys.
package extension

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	dispatch "github.com/CorbanSy/PropDash-sub000"
	"github.com/CorbanSy/PropDash-sub000/api"
	"github.com/CorbanSy/PropDash-sub000/backoff"
	"github.com/CorbanSy/PropDash-sub000/dwp"
	"github.com/CorbanSy/PropDash-sub000/engine"
	"github.com/CorbanSy/PropDash-sub000/ext"
	mw "github.com/CorbanSy/PropDash-sub000/middleware"
	"github.com/CorbanSy/PropDash-sub000/queue"
	"github.com/CorbanSy/PropDash-sub000/store"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "dispatch"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Job dispatch with ranked candidates and leased offers for service marketplaces"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts dispatch as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config       Config
	eng          *engine.Engine
	apiHandler   *api.API
	dwpServer    *dwp.Server
	logger       *slog.Logger
	dispatchOpts []dispatch.Option
	exts         []ext.Extension
	mws          []mw.Middleware
	dwpOpts      []dwp.Option
	queueConfigs []queue.Config
	bo           backoff.Strategy
	hasStore     bool
}

// New creates a Dispatch Forge extension with the given options.
func New(opts ...ExtOption) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying dispatch engine.
// This is nil until Register is called.
func (e *Extension) Engine() *engine.Engine { return e.eng }

// API returns the API handler.
func (e *Extension) API() *api.API { return e.apiHandler }

// DWPServer returns the DWP server, or nil if DWP is not enabled.
func (e *Extension) DWPServer() *dwp.Server { return e.dwpServer }

// Config returns the resolved configuration.
func (e *Extension) Config() Config { return e.config }

// Register implements [forge.Extension]. It initializes the dispatcher,
// builds the engine, and optionally registers HTTP routes.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	if err := e.init(fapp); err != nil {
		return err
	}

	// Register the engine in the DI container so other extensions can use it.
	if err := vessel.Provide(fapp.Container(), func() (*engine.Engine, error) {
		return e.eng, nil
	}); err != nil {
		return fmt.Errorf("dispatch: register engine in container: %w", err)
	}

	return nil
}

// init builds the dispatcher and engine.
func (e *Extension) init(fapp forge.App) error {
	if !e.hasStore {
		s, err := vessel.Inject[store.Store](fapp.Container())
		if err != nil {
			return fmt.Errorf("dispatch: no store option and none in container: %w", err)
		}
		e.dispatchOpts = append(e.dispatchOpts, dispatch.WithStore(s))
	}

	logger := e.logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := make([]dispatch.Option, 0, len(e.dispatchOpts)+2)
	opts = append(opts, dispatch.WithConfig(withDefaults(e.config.Dispatch)))
	opts = append(opts, e.dispatchOpts...)
	opts = append(opts, dispatch.WithLogger(logger))

	d, err := dispatch.New(opts...)
	if err != nil {
		return fmt.Errorf("dispatch: create dispatcher: %w", err)
	}

	engOpts := []engine.Option{engine.WithMetricFactory(fapp.Metrics())}
	for _, x := range e.exts {
		engOpts = append(engOpts, engine.WithExtension(x))
	}
	for _, m := range e.mws {
		engOpts = append(engOpts, engine.WithMiddleware(m))
	}
	if e.bo != nil {
		engOpts = append(engOpts, engine.WithBackoff(e.bo))
	}
	if e.config.Weights != nil {
		engOpts = append(engOpts, engine.WithWeights(*e.config.Weights))
	}
	if e.config.TaskTimeout > 0 {
		engOpts = append(engOpts, engine.WithTaskTimeout(e.config.TaskTimeout))
	}
	if len(e.queueConfigs) > 0 {
		engOpts = append(engOpts, engine.WithQueueConfig(e.queueConfigs...))
	}
	if e.config.EnableDWP {
		engOpts = append(engOpts, engine.WithStreamBroker())
	}

	e.eng, err = engine.Build(d, engOpts...)
	if err != nil {
		return fmt.Errorf("dispatch: build engine: %w", err)
	}

	e.apiHandler = api.New(e.eng, fapp.Router())
	if !e.config.DisableRoutes {
		if err := e.apiHandler.RegisterRoutes(fapp.Router()); err != nil {
			return fmt.Errorf("dispatch: register routes: %w", err)
		}
	}

	if broker := e.eng.StreamBroker(); broker != nil {
		dwpOptList := make([]dwp.Option, 0, len(e.dwpOpts)+3)
		dwpOptList = append(dwpOptList, dwp.WithLogger(logger))
		if e.config.DWPBasePath != "" {
			dwpOptList = append(dwpOptList, dwp.WithPath(e.config.DWPBasePath))
		}
		if len(e.config.DWPKeys) > 0 {
			dwpOptList = append(dwpOptList, dwp.WithAuth(apiKeys(e.config.DWPKeys)))
		}
		dwpOptList = append(dwpOptList, e.dwpOpts...)

		handler := dwp.NewHandler(e.eng.Coordinator(), broker, logger)
		e.dwpServer = dwp.NewServer(broker, handler, dwpOptList...)

		if !e.config.DisableRoutes {
			e.dwpServer.RegisterRoutes(fapp.Router())
		}
	}

	return nil
}

func apiKeys(keys []DWPKey) *dwp.APIKeyAuthenticator {
	entries := make([]dwp.APIKeyEntry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, dwp.APIKeyEntry{
			Token:    k.Token,
			Identity: dwp.Identity{Subject: k.Subject, Scopes: k.Scopes},
		})
	}
	return dwp.NewAPIKeyAuthenticator(entries...)
}

// Start runs auto-migration if enabled and begins dispatch processing.
func (e *Extension) Start(ctx context.Context) error {
	if e.eng == nil {
		return errors.New("dispatch: extension not initialized")
	}

	if !e.config.DisableMigrate {
		if err := e.eng.Store().Migrate(ctx); err != nil {
			return fmt.Errorf("dispatch: migration failed: %w", err)
		}
	}

	if err := e.eng.Start(ctx); err != nil {
		return err
	}

	e.MarkStarted()
	return nil
}

// Stop gracefully shuts down the dispatch engine.
func (e *Extension) Stop(ctx context.Context) error {
	if e.eng == nil {
		e.MarkStopped()
		return nil
	}
	err := e.eng.Stop(ctx)
	e.MarkStopped()
	return err
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.eng == nil {
		return errors.New("dispatch: extension not initialized")
	}
	return e.eng.Store().Ping(ctx)
}

// Handler returns the HTTP handler for all API routes.
// Convenience for standalone use outside Forge.
func (e *Extension) Handler() (http.Handler, error) {
	if e.apiHandler == nil {
		return http.NotFoundHandler(), nil
	}
	return e.apiHandler.Handler()
}

// RegisterRoutes registers all dispatch API routes into a Forge router.
func (e *Extension) RegisterRoutes(router forge.Router) error {
	if e.apiHandler == nil {
		return nil
	}
	return e.apiHandler.RegisterRoutes(router)
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("dispatch: configuration is required but not found in config files; " +
				"ensure 'extensions.dispatch' or 'dispatch' key exists in your config")
		}
		e.config = e.mergeWithDefaults(programmaticConfig)
	} else {
		e.config = e.mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("dispatch: configuration loaded",
		forge.F("disable_routes", e.config.DisableRoutes),
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("enable_dwp", e.config.EnableDWP),
		forge.F("offer_ttl", e.config.Dispatch.OfferTTL.String()),
		forge.F("sweep_schedule", e.config.Dispatch.SweepSchedule),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	for _, key := range []string{"extensions.dispatch", "dispatch"} {
		if !cm.IsSet(key) {
			continue
		}
		if err := cm.Bind(key, &cfg); err == nil {
			e.Logger().Debug("dispatch: loaded config from file", forge.F("key", key))
			return cfg, true
		}
		e.Logger().Warn("dispatch: failed to bind config",
			forge.F("key", key),
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func (e *Extension) mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.DWPBasePath == "" {
		cfg.DWPBasePath = defaults.DWPBasePath
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = defaults.TaskTimeout
	}
	cfg.Dispatch = withDefaults(cfg.Dispatch)
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic flags fill gaps.
func (e *Extension) mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	if programmaticConfig.DisableRoutes {
		yamlConfig.DisableRoutes = true
	}
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}
	if programmaticConfig.EnableDWP {
		yamlConfig.EnableDWP = true
	}

	if yamlConfig.DWPBasePath == "" && programmaticConfig.DWPBasePath != "" {
		yamlConfig.DWPBasePath = programmaticConfig.DWPBasePath
	}
	if len(yamlConfig.DWPKeys) == 0 {
		yamlConfig.DWPKeys = programmaticConfig.DWPKeys
	}
	if yamlConfig.Weights == nil {
		yamlConfig.Weights = programmaticConfig.Weights
	}
	if yamlConfig.TaskTimeout <= 0 {
		yamlConfig.TaskTimeout = programmaticConfig.TaskTimeout
	}
	if yamlConfig.Dispatch.Concurrency <= 0 {
		yamlConfig.Dispatch.Concurrency = programmaticConfig.Dispatch.Concurrency
	}

	return e.mergeWithDefaults(yamlConfig)
}

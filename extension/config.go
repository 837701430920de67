package extension

import (
	"time"

	dispatch "github.com/CorbanSy/PropDash-sub000"
	"github.com/CorbanSy/PropDash-sub000/ranking"
)

// Config holds configuration for the Dispatch Forge extension.
type Config struct {
	// DisableRoutes disables the registration of HTTP routes.
	// Useful when embedding dispatch for background processing only.
	DisableRoutes bool `default:"false" json:"disable_routes"`

	// DisableMigrate disables auto-migration on start.
	DisableMigrate bool `default:"false" json:"disable_migrate"`

	// RequireConfig makes Register fail when no config key is present.
	RequireConfig bool `default:"false" json:"require_config"`

	// EnableDWP mounts the provider wire protocol and the stream broker
	// behind it.
	EnableDWP bool `default:"false" json:"enable_dwp"`

	// DWPBasePath is the mount path of the wire protocol.
	DWPBasePath string `default:"/dwp" json:"dwp_base_path"`

	// DWPKeys are the static API keys accepted by the wire protocol.
	DWPKeys []DWPKey `json:"dwp_keys"`

	// TaskTimeout bounds a single background task.
	TaskTimeout time.Duration `default:"30s" json:"task_timeout"`

	// Weights overrides the ranking weights.
	Weights *ranking.Weights `json:"weights,omitempty"`

	// Dispatch holds the core dispatcher configuration. Zero fields take
	// the defaults.
	Dispatch dispatch.Config `json:"dispatch"`
}

// DWPKey maps a static token to a wire protocol identity. Provider
// devices use their provider ID as Subject.
type DWPKey struct {
	Token   string   `json:"token"`
	Subject string   `json:"subject"`
	Scopes  []string `json:"scopes"`
}

// DefaultConfig returns the extension defaults.
func DefaultConfig() Config {
	return Config{
		DWPBasePath: "/dwp",
		TaskTimeout: 30 * time.Second,
		Dispatch:    dispatch.DefaultConfig(),
	}
}

// withDefaults fills zero-valued dispatcher fields.
func withDefaults(c dispatch.Config) dispatch.Config {
	d := dispatch.DefaultConfig()
	if c.OfferTTL <= 0 {
		c.OfferTTL = d.OfferTTL
	}
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = d.MaxCandidates
	}
	if c.MaxClaimRetries <= 0 {
		c.MaxClaimRetries = d.MaxClaimRetries
	}
	if c.SweepSchedule == "" {
		c.SweepSchedule = d.SweepSchedule
	}
	if c.SweepBatch <= 0 {
		c.SweepBatch = d.SweepBatch
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	return c
}

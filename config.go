package dispatch

import "time"

// Config holds configuration for the Dispatcher.
type Config struct {
	// OfferTTL is the validity window of every offer. It is read once per
	// claim and stored on the offer as expires_at.
	OfferTTL time.Duration `json:"offer_ttl" yaml:"offer_ttl"`

	// MaxCandidates caps the length of a job's candidate queue.
	MaxCandidates int `json:"max_candidates" yaml:"max_candidates"`

	// MaxClaimRetries bounds how often a claim is retried after a store
	// failure before the run is marked unassignable.
	MaxClaimRetries int `json:"max_claim_retries" yaml:"max_claim_retries"`

	// SweepSchedule is a cron expression for the expiry sweep.
	SweepSchedule string `json:"sweep_schedule" yaml:"sweep_schedule"`

	// SweepBatch limits how many expired offers one sweep handles.
	SweepBatch int `json:"sweep_batch" yaml:"sweep_batch"`

	// Concurrency is the number of worker goroutines.
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		OfferTTL:        300 * time.Second,
		MaxCandidates:   10,
		MaxClaimRetries: 5,
		SweepSchedule:   "@every 1s",
		SweepBatch:      100,
		Concurrency:     10,
		ShutdownTimeout: 30 * time.Second,
	}
}

package provider

import (
	"context"
	"time"

	"github.com/CorbanSy/PropDash-sub000/id"
)

// ListOpts filters directory queries.
type ListOpts struct {
	// Category keeps only providers offering it. Empty means all.
	Category string
	// AvailableOnly drops providers marked unavailable.
	AvailableOnly bool
	// Limit caps the result. Zero means no limit.
	Limit int
}

// Store is the provider directory.
type Store interface {
	// UpsertProvider creates or replaces a provider record. Response and
	// completion statistics already on file are preserved.
	UpsertProvider(ctx context.Context, p *Provider) error

	// GetProvider returns dispatch.ErrProviderNotFound when missing.
	GetProvider(ctx context.Context, providerID id.ProviderID) (*Provider, error)

	// ListProviders returns providers ordered by ID.
	ListProviders(ctx context.Context, opts ListOpts) ([]*Provider, error)

	// SetAvailability toggles whether the provider receives offers.
	SetAvailability(ctx context.Context, providerID id.ProviderID, available bool) error

	// RecordResponse folds an offer response latency into the provider's
	// average and, when accepted, counts an assignment.
	RecordResponse(ctx context.Context, providerID id.ProviderID, latency time.Duration, accepted bool) error

	// RecordCompletion counts a completed job.
	RecordCompletion(ctx context.Context, providerID id.ProviderID) error
}

package relayhook

import (
	"context"

	"github.com/xraph/relay"
	"github.com/xraph/relay/catalog"
)

// Dispatch lifecycle event types, used as event.Event.Type when sending
// via Relay.
const (
	EventRunStarted      = "dispatch.run.started"
	EventRunAssigned     = "dispatch.run.assigned"
	EventRunUnassignable = "dispatch.run.unassignable"
	EventRunCancelled    = "dispatch.run.cancelled"
	EventOfferIssued     = "dispatch.offer.issued"
	EventOfferResolved   = "dispatch.offer.resolved"
	EventWorkAdvanced    = "dispatch.work.advanced"
)

const definitionVersion = "2026-03-01"

// AllDefinitions returns webhook definitions for all dispatch lifecycle
// event types. Pass these to relay.RegisterEventType to populate the catalog.
func AllDefinitions() []catalog.WebhookDefinition {
	return []catalog.WebhookDefinition{
		// ── Run events ──────────────────────────────────
		{
			Name:        EventRunStarted,
			Description: "Fired when a job is ranked and dispatch begins.",
			Group:       "runs",
			Version:     definitionVersion,
		},
		{
			Name:        EventRunAssigned,
			Description: "Fired when a provider accepts and the job is awarded.",
			Group:       "runs",
			Version:     definitionVersion,
		},
		{
			Name:        EventRunUnassignable,
			Description: "Fired when no candidate accepted the job.",
			Group:       "runs",
			Version:     definitionVersion,
		},
		{
			Name:        EventRunCancelled,
			Description: "Fired when the customer withdraws a job during dispatch.",
			Group:       "runs",
			Version:     definitionVersion,
		},
		// ── Offer events ────────────────────────────────
		{
			Name:        EventOfferIssued,
			Description: "Fired when a provider receives an exclusive offer.",
			Group:       "offers",
			Version:     definitionVersion,
		},
		{
			Name:        EventOfferResolved,
			Description: "Fired when an offer is accepted, declined or expires.",
			Group:       "offers",
			Version:     definitionVersion,
		},
		// ── Job events ──────────────────────────────────
		{
			Name:        EventWorkAdvanced,
			Description: "Fired when an awarded job moves en route, in progress or completed.",
			Group:       "jobs",
			Version:     definitionVersion,
		},
	}
}

// RegisterAll registers all dispatch webhook event types in the Relay catalog.
// Call this once during application startup before sending events.
func RegisterAll(ctx context.Context, r *relay.Relay) error {
	for _, def := range AllDefinitions() {
		if _, err := r.RegisterEventType(ctx, def); err != nil {
			return err
		}
	}
	return nil
}

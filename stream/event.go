// Package stream is the realtime event broker. It receives dispatch
// lifecycle events as an extension and fans them out to subscribers by
// topic. Providers listen on their own topic to learn about offers the
// moment they are issued or resolved.
//
// Delivery is best effort. A subscriber that falls behind loses events,
// and consumers reconcile against the store on reconnect.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	EventOfferIssued   EventType = "offer.issued"
	EventOfferResolved EventType = "offer.resolved"

	EventRunStarted      EventType = "run.started"
	EventRunAssigned     EventType = "run.assigned"
	EventRunUnassignable EventType = "run.unassignable"
	EventRunCancelled    EventType = "run.cancelled"

	EventWorkAdvanced EventType = "work.advanced"
)

// Event is the envelope delivered to subscribers.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"ts"`
	// Topic is the entity topic the event concerns most directly: the
	// holder's provider topic for offer events, the job topic otherwise.
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

// OfferEventData is the payload of offer events. It carries
// identifiers only; listeners fetch the full offer and job before showing
// anything.
type OfferEventData struct {
	OfferID    string    `json:"offer_id"`
	JobID      string    `json:"job_id"`
	ProviderID string    `json:"provider_id"`
	Rank       int       `json:"rank"`
	ExpiresAt  time.Time `json:"expires_at"`
	Response   string    `json:"response"`
}

// RunEventData is the payload of run events.
type RunEventData struct {
	JobID      string `json:"job_id"`
	State      string `json:"state"`
	Candidates int    `json:"candidates,omitempty"`
	ProviderID string `json:"provider_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// WorkEventData is the payload of work updates.
type WorkEventData struct {
	JobID      string `json:"job_id"`
	ProviderID string `json:"provider_id"`
	Status     string `json:"status"`
}

// Decode unmarshals the event payload into v.
func (e *Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

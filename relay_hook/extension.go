package relayhook

import (
	"context"
	"time"

	"github.com/xraph/relay"
	"github.com/xraph/relay/event"

	"github.com/CorbanSy/PropDash-sub000/ext"
	"github.com/CorbanSy/PropDash-sub000/id"
	"github.com/CorbanSy/PropDash-sub000/job"
	"github.com/CorbanSy/PropDash-sub000/offer"
	"github.com/CorbanSy/PropDash-sub000/run"
)

// Compile-time interface checks.
var (
	_ ext.Extension       = (*Extension)(nil)
	_ ext.RunStarted      = (*Extension)(nil)
	_ ext.RunAssigned     = (*Extension)(nil)
	_ ext.RunUnassignable = (*Extension)(nil)
	_ ext.RunCancelled    = (*Extension)(nil)
	_ ext.OfferIssued     = (*Extension)(nil)
	_ ext.OfferResolved   = (*Extension)(nil)
	_ ext.WorkAdvanced    = (*Extension)(nil)
)

// Extension bridges dispatch lifecycle events to Relay for webhook
// delivery. Each lifecycle hook emits a typed event via [relay.Relay.Send].
//
// Offer events are addressed to the provider that holds the offer, so a
// provider's webhook endpoint sees only its own offers. Work updates go to
// the customer who posted the job. Run events are platform-level and carry
// no tenant.
type Extension struct {
	relay    *relay.Relay
	enabled  map[string]bool        // nil = all enabled
	payloads map[string]PayloadFunc // custom payload builders
}

// New creates an Extension that emits dispatch lifecycle events
// through the provided Relay instance.
func New(r *relay.Relay, opts ...Option) *Extension {
	h := &Extension{relay: r}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name implements ext.Extension.
func (h *Extension) Name() string { return "relay-hook" }

// ── Run lifecycle hooks ─────────────────────────────

// OnRunStarted implements ext.RunStarted.
func (h *Extension) OnRunStarted(ctx context.Context, r *run.Run, _ []run.Candidate) error {
	return h.send(ctx, EventRunStarted, "", newRunPayload(r))
}

// OnRunAssigned implements ext.RunAssigned.
func (h *Extension) OnRunAssigned(ctx context.Context, r *run.Run) error {
	return h.send(ctx, EventRunAssigned, r.ProviderID.String(), newRunPayload(r))
}

// OnRunUnassignable implements ext.RunUnassignable.
func (h *Extension) OnRunUnassignable(ctx context.Context, r *run.Run) error {
	return h.send(ctx, EventRunUnassignable, "", newRunPayload(r))
}

// OnRunCancelled implements ext.RunCancelled.
func (h *Extension) OnRunCancelled(ctx context.Context, jobID id.JobID) error {
	return h.send(ctx, EventRunCancelled, "", &runPayload{JobID: jobID.String()})
}

// ── Offer lifecycle hooks ───────────────────────────

// OnOfferIssued implements ext.OfferIssued.
func (h *Extension) OnOfferIssued(ctx context.Context, o *offer.Offer) error {
	return h.send(ctx, EventOfferIssued, o.ProviderID.String(), newOfferPayload(o))
}

// OnOfferResolved implements ext.OfferResolved.
func (h *Extension) OnOfferResolved(ctx context.Context, o *offer.Offer) error {
	return h.send(ctx, EventOfferResolved, o.ProviderID.String(), newOfferPayload(o))
}

// ── Job lifecycle hooks ─────────────────────────────

// OnWorkAdvanced implements ext.WorkAdvanced.
func (h *Extension) OnWorkAdvanced(ctx context.Context, j *job.Job) error {
	return h.send(ctx, EventWorkAdvanced, j.CustomerID.String(), &workPayload{
		JobID:      j.ID.String(),
		Status:     string(j.Status),
		ProviderID: j.ProviderID.String(),
	})
}

// ── Internal helpers ────────────────────────────────

// send emits an event through Relay if the event type is enabled.
func (h *Extension) send(ctx context.Context, eventType, tenantID string, defaultData any) error {
	if h.enabled != nil && !h.enabled[eventType] {
		return nil
	}

	data := defaultData
	if fn, ok := h.payloads[eventType]; ok {
		custom, err := fn(defaultData)
		if err != nil {
			return err
		}
		data = custom
	}

	return h.relay.Send(ctx, &event.Event{
		Type:     eventType,
		TenantID: tenantID,
		Data:     data,
	})
}

// ── Default payload types ───────────────────────────

type runPayload struct {
	JobID           string `json:"job_id"`
	RunID           string `json:"run_id,omitempty"`
	State           string `json:"state,omitempty"`
	CandidatesFound int    `json:"candidates_found,omitempty"`
	ProviderID      string `json:"provider_id,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

func newRunPayload(r *run.Run) *runPayload {
	p := &runPayload{
		JobID:           r.JobID.String(),
		RunID:           r.ID.String(),
		State:           string(r.State),
		CandidatesFound: r.CandidatesFound,
		Reason:          string(r.Reason),
	}
	if !r.ProviderID.IsNil() {
		p.ProviderID = r.ProviderID.String()
	}
	return p
}

type offerPayload struct {
	OfferID    string `json:"offer_id"`
	JobID      string `json:"job_id"`
	ProviderID string `json:"provider_id"`
	Rank       int    `json:"rank"`
	Response   string `json:"response"`
	ExpiresAt  string `json:"expires_at"`
	ResolvedAt string `json:"resolved_at,omitempty"`
}

func newOfferPayload(o *offer.Offer) *offerPayload {
	p := &offerPayload{
		OfferID:    o.ID.String(),
		JobID:      o.JobID.String(),
		ProviderID: o.ProviderID.String(),
		Rank:       o.Rank,
		Response:   string(o.Response),
		ExpiresAt:  o.ExpiresAt.Format(time.RFC3339),
	}
	if o.ResolvedAt != nil {
		p.ResolvedAt = o.ResolvedAt.Format(time.RFC3339)
	}
	return p
}

type workPayload struct {
	JobID      string `json:"job_id"`
	Status     string `json:"status"`
	ProviderID string `json:"provider_id,omitempty"`
}

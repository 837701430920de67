package relayhook_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/relay"
	revent "github.com/xraph/relay/event"
	"github.com/xraph/relay/store/memory"

	"github.com/CorbanSy/PropDash-sub000/ext"
	"github.com/CorbanSy/PropDash-sub000/id"
	"github.com/CorbanSy/PropDash-sub000/job"
	"github.com/CorbanSy/PropDash-sub000/offer"
	rh "github.com/CorbanSy/PropDash-sub000/relay_hook"
	"github.com/CorbanSy/PropDash-sub000/run"
)

var t0 = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

// ── Helpers ─────────────────────────────────────────

func newTestRelay(t *testing.T) *relay.Relay {
	t.Helper()
	r, err := relay.New(relay.WithStore(memory.New()))
	if err != nil {
		t.Fatalf("failed to create relay: %v", err)
	}
	if err := rh.RegisterAll(context.Background(), r); err != nil {
		t.Fatalf("failed to register event types: %v", err)
	}
	return r
}

func newTestOffer() *offer.Offer {
	return offer.New(id.NewJobID(), id.NewProviderID(), 0, t0, offer.DefaultTTL)
}

// lastEvent retrieves the most recent event from the relay store with the
// given type. It fails the test if no matching event is found.
func lastEvent(t *testing.T, r *relay.Relay, eventType string) *revent.Event {
	t.Helper()
	events, err := r.Store().ListEvents(context.Background(), revent.ListOpts{
		Type:  eventType,
		Limit: 1,
	})
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) == 0 {
		t.Fatalf("no %s event found", eventType)
	}
	return events[0]
}

// ── Tests ───────────────────────────────────────────

func TestRelayHookExtension_Name(t *testing.T) {
	h := rh.New(newTestRelay(t))
	if h.Name() != "relay-hook" {
		t.Errorf("expected name %q, got %q", "relay-hook", h.Name())
	}
}

func TestRelayHookExtension_OfferAddressedToProvider(t *testing.T) {
	r := newTestRelay(t)
	h := rh.New(r)
	o := newTestOffer()

	if err := h.OnOfferIssued(context.Background(), o); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	evt := lastEvent(t, r, rh.EventOfferIssued)
	if evt.TenantID != o.ProviderID.String() {
		t.Errorf("TenantID: want %q, got %q", o.ProviderID.String(), evt.TenantID)
	}
}

func TestRelayHookExtension_OfferResolved(t *testing.T) {
	r := newTestRelay(t)
	h := rh.New(r)
	o := newTestOffer()
	o.Response = offer.Declined
	at := t0.Add(30 * time.Second)
	o.ResolvedAt = &at

	if err := h.OnOfferResolved(context.Background(), o); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	evt := lastEvent(t, r, rh.EventOfferResolved)
	if evt.TenantID != o.ProviderID.String() {
		t.Errorf("TenantID: want %q, got %q", o.ProviderID.String(), evt.TenantID)
	}
}

func TestRelayHookExtension_RunAssignedAddressedToWinner(t *testing.T) {
	r := newTestRelay(t)
	h := rh.New(r)
	rn := run.New(id.NewJobID(), 2, t0)
	rn.State = run.StateAssigned
	rn.ProviderID = id.NewProviderID()

	if err := h.OnRunAssigned(context.Background(), rn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	evt := lastEvent(t, r, rh.EventRunAssigned)
	if evt.TenantID != rn.ProviderID.String() {
		t.Errorf("TenantID: want %q, got %q", rn.ProviderID.String(), evt.TenantID)
	}
}

func TestRelayHookExtension_RunEventsHaveNoTenant(t *testing.T) {
	r := newTestRelay(t)
	h := rh.New(r)
	rn := run.New(id.NewJobID(), 0, t0)

	if err := h.OnRunUnassignable(context.Background(), rn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	evt := lastEvent(t, r, rh.EventRunUnassignable)
	if evt.TenantID != "" {
		t.Errorf("TenantID: want empty, got %q", evt.TenantID)
	}
}

func TestRelayHookExtension_WorkAdvancedAddressedToCustomer(t *testing.T) {
	r := newTestRelay(t)
	h := rh.New(r)
	j := &job.Job{ID: id.NewJobID(), CustomerID: id.NewCustomerID(), Status: job.StatusEnRoute}

	if err := h.OnWorkAdvanced(context.Background(), j); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	evt := lastEvent(t, r, rh.EventWorkAdvanced)
	if evt.TenantID != j.CustomerID.String() {
		t.Errorf("TenantID: want %q, got %q", j.CustomerID.String(), evt.TenantID)
	}
}

func TestRelayHookExtension_WithEvents_FiltersDisabled(t *testing.T) {
	r := newTestRelay(t)
	h := rh.New(r, rh.WithEvents(rh.EventOfferResolved))
	ctx := context.Background()
	o := newTestOffer()

	if err := h.OnOfferIssued(ctx, o); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	events, err := r.Store().ListEvents(ctx, revent.ListOpts{Type: rh.EventOfferIssued, Limit: 10})
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected 0 issued events (disabled), got %d", len(events))
	}

	if err := h.OnOfferResolved(ctx, o); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	events, err = r.Store().ListEvents(ctx, revent.ListOpts{Type: rh.EventOfferResolved, Limit: 10})
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("expected 1 resolved event, got %d", len(events))
	}
}

func TestRelayHookExtension_PayloadFunc(t *testing.T) {
	r := newTestRelay(t)
	h := rh.New(r, rh.WithPayloadFunc(rh.EventRunCancelled, func(any) (any, error) {
		return nil, errors.New("no payload")
	}))

	if err := h.OnRunCancelled(context.Background(), id.NewJobID()); err == nil {
		t.Fatal("expected payload error to propagate")
	}
}

func TestRelayHookExtension_ViaRegistry(t *testing.T) {
	r := newTestRelay(t)
	reg := ext.NewRegistry(slog.New(slog.DiscardHandler))
	reg.Register(rh.New(r))

	ctx := context.Background()
	rn := run.New(id.NewJobID(), 1, t0)
	o := newTestOffer()

	reg.EmitRunStarted(ctx, rn, nil)
	reg.EmitOfferIssued(ctx, o)
	reg.EmitOfferResolved(ctx, o)
	reg.EmitRunAssigned(ctx, rn)
	reg.EmitRunUnassignable(ctx, rn)
	reg.EmitRunCancelled(ctx, rn.JobID)
	reg.EmitWorkAdvanced(ctx, &job.Job{ID: rn.JobID, CustomerID: id.NewCustomerID(), Status: job.StatusEnRoute})

	for _, def := range rh.AllDefinitions() {
		events, err := r.Store().ListEvents(ctx, revent.ListOpts{Type: def.Name, Limit: 10})
		if err != nil {
			t.Fatalf("ListEvents(%s) failed: %v", def.Name, err)
		}
		if len(events) != 1 {
			t.Errorf("%s: want 1 event, got %d", def.Name, len(events))
		}
	}
}

package dwp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	dispatch "github.com/CorbanSy/PropDash-sub000"
	"github.com/CorbanSy/PropDash-sub000/backoff"
	"github.com/CorbanSy/PropDash-sub000/coordinator"
	"github.com/CorbanSy/PropDash-sub000/geo"
	"github.com/CorbanSy/PropDash-sub000/id"
	"github.com/CorbanSy/PropDash-sub000/job"
	"github.com/CorbanSy/PropDash-sub000/offer"
	"github.com/CorbanSy/PropDash-sub000/provider"
	"github.com/CorbanSy/PropDash-sub000/ranking"
	"github.com/CorbanSy/PropDash-sub000/store/memory"
	"github.com/CorbanSy/PropDash-sub000/stream"
)

var t0 = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ── Test Helpers ──────────────────────────────────────

type handlerFixture struct {
	t       *testing.T
	store   *memory.Store
	clock   *clockwork.FakeClock
	coord   *coordinator.Coordinator
	handler *Handler
	ana     *provider.Provider
	ben     *provider.Provider
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	f := &handlerFixture{t: t, store: memory.New(), clock: clockwork.NewFakeClockAt(t0)}
	f.coord = coordinator.New(f.store, ranking.New(f.store),
		coordinator.WithClock(f.clock),
		coordinator.WithBackoff(backoff.None),
		coordinator.WithLogger(testLogger()),
	)
	f.handler = NewHandler(f.coord, stream.NewBroker(testLogger()), testLogger())
	f.ana = f.provider("Ana", 5)
	f.ben = f.provider("Ben", 4)
	return f
}

func (f *handlerFixture) provider(name string, rating float64) *provider.Provider {
	f.t.Helper()
	p := &provider.Provider{
		Entity:          dispatch.NewEntity(t0),
		ID:              id.NewProviderID(),
		Name:            name,
		Categories:      []string{"plumbing"},
		Location:        geo.Point{Lat: 39.95, Lng: -75.16},
		ServiceRadiusKm: 20,
		Available:       true,
		Rating:          rating,
	}
	if err := f.store.UpsertProvider(context.Background(), p); err != nil {
		f.t.Fatalf("UpsertProvider: %v", err)
	}
	return p
}

// dispatchJob posts a job and dispatches it; Ana holds the first offer.
func (f *handlerFixture) dispatchJob() (*job.Job, *offer.Offer) {
	f.t.Helper()
	loc := geo.Location{Point: geo.Point{Lat: 39.95, Lng: -75.16}, Area: "19103"}
	j := job.New(id.NewCustomerID(), "plumbing", loc, t0, job.WithTitle("Burst pipe"))
	if err := f.store.CreateJob(context.Background(), j); err != nil {
		f.t.Fatalf("CreateJob: %v", err)
	}
	res, err := f.coord.Dispatch(context.Background(), j.ID)
	if err != nil {
		f.t.Fatalf("Dispatch: %v", err)
	}
	if res.Offer == nil || res.Offer.ProviderID != f.ana.ID {
		f.t.Fatalf("first offer = %+v, want Ana", res.Offer)
	}
	return j, res.Offer
}

func providerConn(p *provider.Provider) *Connection {
	return NewConnection("c-"+p.Name, &Identity{
		Subject: p.ID.String(),
		Scopes:  []string{ScopeOfferRead, ScopeOfferWrite, ScopeSubscribe},
	}, &JSONCodec{})
}

func call(t *testing.T, h *Handler, conn *Connection, method string, data any) *Frame {
	t.Helper()
	frame := &Frame{ID: "req-" + method, Type: FrameRequest, Method: method}
	if data != nil {
		frame.Data = mustJSON(data)
	}
	resp := h.Handle(context.Background(), frame, conn)
	if resp == nil {
		t.Fatal("expected response")
	}
	if resp.CorrelID != frame.ID {
		t.Errorf("CorrelID = %q, want %q", resp.CorrelID, frame.ID)
	}
	return resp
}

func wantError(t *testing.T, resp *Frame, code int) {
	t.Helper()
	if resp.Type != FrameErr || resp.Error == nil {
		t.Fatalf("Type = %q, want error frame", resp.Type)
	}
	if resp.Error.Code != code {
		t.Errorf("code = %d, want %d (%s)", resp.Error.Code, code, resp.Error.Message)
	}
}

// ── Offer methods ─────────────────────────────────────

func TestHandler_OfferCurrent(t *testing.T) {
	f := newHandlerFixture(t)
	j, o := f.dispatchJob()

	resp := call(t, f.handler, providerConn(f.ana), MethodOfferCurrent, nil)
	if resp.Type != FrameResponse {
		t.Fatalf("Type = %q, error = %+v", resp.Type, resp.Error)
	}
	var d offer.Detail
	if err := json.Unmarshal(resp.Data, &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.Offer.ID != o.ID || d.Job.ID != j.ID {
		t.Errorf("detail = offer %v job %v", d.Offer.ID, d.Job.ID)
	}

	wantError(t, call(t, f.handler, providerConn(f.ben), MethodOfferCurrent, nil), ErrCodeNotFound)
}

func TestHandler_OfferGetOnlyForHolder(t *testing.T) {
	f := newHandlerFixture(t)
	_, o := f.dispatchJob()

	resp := call(t, f.handler, providerConn(f.ana), MethodOfferGet, OfferGetRequest{OfferID: o.ID.String()})
	if resp.Type != FrameResponse {
		t.Fatalf("holder: %+v", resp.Error)
	}
	wantError(t, call(t, f.handler, providerConn(f.ben), MethodOfferGet, OfferGetRequest{OfferID: o.ID.String()}), ErrCodeNotFound)
	wantError(t, call(t, f.handler, providerConn(f.ana), MethodOfferGet, OfferGetRequest{OfferID: "garbage"}), ErrCodeBadRequest)
}

func TestHandler_Accept(t *testing.T) {
	f := newHandlerFixture(t)
	j, _ := f.dispatchJob()

	resp := call(t, f.handler, providerConn(f.ana), MethodOfferAccept, OfferRespondRequest{JobID: j.ID.String()})
	if resp.Type != FrameResponse {
		t.Fatalf("accept: %+v", resp.Error)
	}
	var o offer.Offer
	if err := json.Unmarshal(resp.Data, &o); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if o.Response != offer.Accepted {
		t.Errorf("Response = %q, want accepted", o.Response)
	}

	// Second tap on the same offer is a conflict, not a second accept.
	wantError(t, call(t, f.handler, providerConn(f.ana), MethodOfferAccept, OfferRespondRequest{JobID: j.ID.String()}), ErrCodeConflict)
}

func TestHandler_AcceptByNonHolderConflicts(t *testing.T) {
	f := newHandlerFixture(t)
	j, _ := f.dispatchJob()

	wantError(t, call(t, f.handler, providerConn(f.ben), MethodOfferAccept, OfferRespondRequest{JobID: j.ID.String()}), ErrCodeConflict)
}

func TestHandler_AcceptAfterDeadlineConflicts(t *testing.T) {
	f := newHandlerFixture(t)
	j, _ := f.dispatchJob()

	f.clock.Advance(offer.DefaultTTL)
	wantError(t, call(t, f.handler, providerConn(f.ana), MethodOfferAccept, OfferRespondRequest{JobID: j.ID.String()}), ErrCodeConflict)
}

func TestHandler_DeclineCascades(t *testing.T) {
	f := newHandlerFixture(t)
	j, _ := f.dispatchJob()

	resp := call(t, f.handler, providerConn(f.ana), MethodOfferDecline, OfferRespondRequest{JobID: j.ID.String()})
	if resp.Type != FrameResponse {
		t.Fatalf("decline: %+v", resp.Error)
	}

	next := call(t, f.handler, providerConn(f.ben), MethodOfferCurrent, nil)
	if next.Type != FrameResponse {
		t.Fatalf("Ben should hold the next offer: %+v", next.Error)
	}
}

func TestHandler_OfferMethodsNeedProvider(t *testing.T) {
	f := newHandlerFixture(t)
	ops := NewConnection("ops", &Identity{Subject: "ops-console", Scopes: []string{ScopeAll}}, &JSONCodec{})

	for _, method := range []string{MethodOfferCurrent, MethodOfferGet, MethodOfferAccept, MethodOfferDecline} {
		wantError(t, call(t, f.handler, ops, method, nil), ErrCodeForbidden)
	}
}

func TestHandler_BadJSON(t *testing.T) {
	f := newHandlerFixture(t)
	frame := &Frame{ID: "bad", Type: FrameRequest, Method: MethodOfferAccept, Data: json.RawMessage(`{nope`)}
	wantError(t, f.handler.Handle(context.Background(), frame, providerConn(f.ana)), ErrCodeBadRequest)
}

// ── Subscriptions and admin ───────────────────────────

func TestHandler_Subscribe(t *testing.T) {
	f := newHandlerFixture(t)
	conn := providerConn(f.ana)

	own := call(t, f.handler, conn, MethodSubscribe, SubscribeRequest{Channel: stream.ProviderTopic(f.ana.ID.String())})
	if own.Type != FrameResponse {
		t.Fatalf("own topic: %+v", own.Error)
	}
	var result map[string]string
	if err := json.Unmarshal(own.Data, &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if result["status"] != "subscribed" {
		t.Errorf("status = %q", result["status"])
	}

	wantError(t, call(t, f.handler, conn, MethodSubscribe, SubscribeRequest{Channel: stream.ProviderTopic(f.ben.ID.String())}), ErrCodeForbidden)
	wantError(t, call(t, f.handler, conn, MethodSubscribe, SubscribeRequest{Channel: ""}), ErrCodeBadRequest)
}

func TestHandler_Unsubscribe(t *testing.T) {
	f := newHandlerFixture(t)
	resp := call(t, f.handler, providerConn(f.ana), MethodUnsubscribe, UnsubscribeRequest{Channel: "provider:x"})
	if resp.Type != FrameResponse {
		t.Fatalf("unsubscribe: %+v", resp.Error)
	}
}

func TestHandler_Stats(t *testing.T) {
	f := newHandlerFixture(t)
	f.handler.conns = NewConnectionManager()
	f.handler.conns.Add(providerConn(f.ana))

	resp := call(t, f.handler, providerConn(f.ana), MethodStats, nil)
	var stats struct {
		Broker      stream.BrokerStats `json:"broker"`
		Connections int                `json:"connections"`
	}
	if err := json.Unmarshal(resp.Data, &stats); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if stats.Connections != 1 {
		t.Errorf("connections = %d, want 1", stats.Connections)
	}
}

func TestHandler_UnknownMethod(t *testing.T) {
	f := newHandlerFixture(t)
	wantError(t, call(t, f.handler, providerConn(f.ana), "job.enqueue", nil), ErrCodeMethodNotFound)
}

func TestErrorCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{dispatch.ErrOfferConflict, ErrCodeConflict},
		{dispatch.ErrExpiredOffer, ErrCodeConflict},
		{dispatch.ErrOfferNotFound, ErrCodeNotFound},
		{dispatch.ErrJobNotFound, ErrCodeNotFound},
		{dispatch.ErrInvalidTransition, ErrCodeBadRequest},
		{dispatch.ErrStoreUnavailable, ErrCodeInternal},
	}
	for _, tt := range tests {
		if got := ErrorCode(tt.err); got != tt.want {
			t.Errorf("ErrorCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

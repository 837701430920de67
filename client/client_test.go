package client_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	forgetesting "github.com/xraph/forge/testing"
	"golang.org/x/time/rate"

	dispatch "github.com/CorbanSy/PropDash-sub000"
	"github.com/CorbanSy/PropDash-sub000/backoff"
	"github.com/CorbanSy/PropDash-sub000/bridge"
	"github.com/CorbanSy/PropDash-sub000/client"
	"github.com/CorbanSy/PropDash-sub000/coordinator"
	"github.com/CorbanSy/PropDash-sub000/dwp"
	"github.com/CorbanSy/PropDash-sub000/ext"
	"github.com/CorbanSy/PropDash-sub000/geo"
	"github.com/CorbanSy/PropDash-sub000/id"
	"github.com/CorbanSy/PropDash-sub000/job"
	"github.com/CorbanSy/PropDash-sub000/offer"
	"github.com/CorbanSy/PropDash-sub000/provider"
	"github.com/CorbanSy/PropDash-sub000/ranking"
	"github.com/CorbanSy/PropDash-sub000/store/memory"
	"github.com/CorbanSy/PropDash-sub000/stream"
)

// ── Test Helpers ──────────────────────────────────────

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var here = geo.Location{Point: geo.Point{Lat: 39.95, Lng: -75.16}, Area: "19103"}

type env struct {
	t     *testing.T
	store *memory.Store
	coord *coordinator.Coordinator
	url   string
	ana   *provider.Provider
	ben   *provider.Provider
}

// setupClientTest serves DWP from a Forge test app on an httptest server.
// Ana (rated 5) and Ben (rated 4) each have a device key.
func setupClientTest(t *testing.T) *env {
	t.Helper()
	logger := testLogger()

	e := &env{t: t, store: memory.New()}
	e.ana = e.provider("Ana", 5)
	e.ben = e.provider("Ben", 4)

	broker := stream.NewBroker(logger)
	exts := ext.NewRegistry(logger)
	exts.Register(broker)
	e.coord = coordinator.New(e.store, ranking.New(e.store),
		coordinator.WithExtensions(exts),
		coordinator.WithBackoff(backoff.None),
		coordinator.WithLogger(logger),
	)

	deviceScopes := []string{dwp.ScopeOfferRead, dwp.ScopeOfferWrite, dwp.ScopeSubscribe}
	handler := dwp.NewHandler(e.coord, broker, logger)
	srv := dwp.NewServer(broker, handler,
		dwp.WithAuth(dwp.NewAPIKeyAuthenticator(
			dwp.APIKeyEntry{Token: "ana-key", Identity: dwp.Identity{Subject: e.ana.ID.String(), Scopes: deviceScopes}},
			dwp.APIKeyEntry{Token: "ben-key", Identity: dwp.Identity{Subject: e.ben.ID.String(), Scopes: deviceScopes}},
			dwp.APIKeyEntry{Token: "ops-key", Identity: dwp.Identity{Subject: "ops-console", Scopes: []string{dwp.ScopeAll}}},
		)),
		dwp.WithLogger(logger),
	)

	fapp := forgetesting.NewTestApp("client-test-app", "0.1.0")
	srv.RegisterRoutes(fapp.Router())
	ts := httptest.NewServer(fapp.Router())
	t.Cleanup(ts.Close)

	e.url = "ws" + strings.TrimPrefix(ts.URL, "http") + "/dwp"
	return e
}

func (e *env) provider(name string, rating float64) *provider.Provider {
	e.t.Helper()
	p := &provider.Provider{
		Entity:          dispatch.NewEntity(time.Now()),
		ID:              id.NewProviderID(),
		Name:            name,
		Categories:      []string{"plumbing"},
		Location:        here.Point,
		ServiceRadiusKm: 20,
		Available:       true,
		Rating:          rating,
	}
	if err := e.store.UpsertProvider(context.Background(), p); err != nil {
		e.t.Fatalf("UpsertProvider: %v", err)
	}
	return p
}

func (e *env) dial(token string, opts ...client.Option) *client.Client {
	e.t.Helper()
	opts = append([]client.Option{client.WithToken(token), client.WithLogger(testLogger())}, opts...)
	c, err := client.DialContext(context.Background(), e.url, opts...)
	if err != nil {
		e.t.Fatalf("DialContext: %v", err)
	}
	e.t.Cleanup(func() { _ = c.Close() })
	return c
}

func (e *env) dispatchJob() *job.Job {
	e.t.Helper()
	j := job.New(id.NewCustomerID(), "plumbing", here, time.Now(), job.WithTitle("Burst pipe"))
	if err := e.store.CreateJob(context.Background(), j); err != nil {
		e.t.Fatalf("CreateJob: %v", err)
	}
	if _, err := e.coord.Dispatch(context.Background(), j.ID); err != nil {
		e.t.Fatalf("Dispatch: %v", err)
	}
	return j
}

func ctxTimeout(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// ── Connection Tests ──────────────────────────────────

func TestClient_DialAndClose(t *testing.T) {
	e := setupClientTest(t)
	c := e.dial("ana-key")

	if c.SessionID() == "" {
		t.Error("expected non-empty session ID after dial")
	}
	if c.ProviderID() != e.ana.ID {
		t.Errorf("ProviderID = %v, want %v", c.ProviderID(), e.ana.ID)
	}
	if err := c.Ping(ctxTimeout(t)); err != nil {
		t.Errorf("Ping: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	select {
	case <-c.Done():
	default:
		t.Error("Done should be closed after Close")
	}
	if _, err := c.CurrentOffer(ctxTimeout(t)); !errors.Is(err, client.ErrClosed) {
		t.Errorf("call after Close = %v, want ErrClosed", err)
	}
}

func TestClient_DialAuthFailure(t *testing.T) {
	e := setupClientTest(t)
	_, err := client.DialContext(context.Background(), e.url,
		client.WithToken("wrong-key"),
		client.WithLogger(testLogger()),
	)
	if !errors.Is(err, dwp.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

// ── Offer Tests ───────────────────────────────────────

func TestClient_CurrentOfferAndAccept(t *testing.T) {
	for _, format := range []string{dwp.CodecNameJSON, dwp.CodecNameMsgpack} {
		t.Run(format, func(t *testing.T) {
			e := setupClientTest(t)
			j := e.dispatchJob()
			ana := e.dial("ana-key", client.WithFormat(format))

			d, err := ana.CurrentOffer(ctxTimeout(t))
			if err != nil {
				t.Fatalf("CurrentOffer: %v", err)
			}
			if d.Job.ID != j.ID || d.Job.Title != "Burst pipe" {
				t.Errorf("detail job = %v %q", d.Job.ID, d.Job.Title)
			}

			got, err := ana.OfferDetail(ctxTimeout(t), d.Offer.ID)
			if err != nil || got.Offer.ID != d.Offer.ID {
				t.Fatalf("OfferDetail = %+v, %v", got, err)
			}

			o, err := ana.Accept(ctxTimeout(t), j.ID)
			if err != nil {
				t.Fatalf("Accept: %v", err)
			}
			if o.Response != offer.Accepted {
				t.Errorf("Response = %q", o.Response)
			}

			stored, err := e.store.GetJob(context.Background(), j.ID)
			if err != nil {
				t.Fatalf("GetJob: %v", err)
			}
			if stored.Status != job.StatusAccepted || stored.ProviderID != e.ana.ID {
				t.Errorf("job = %s by %v", stored.Status, stored.ProviderID)
			}
		})
	}
}

func TestClient_ConflictsSurviveTheWire(t *testing.T) {
	e := setupClientTest(t)
	j := e.dispatchJob()
	ben := e.dial("ben-key")

	if _, err := ben.Accept(ctxTimeout(t), j.ID); !errors.Is(err, dispatch.ErrOfferConflict) {
		t.Errorf("non-holder accept = %v, want ErrOfferConflict", err)
	}
	if _, err := ben.CurrentOffer(ctxTimeout(t)); !errors.Is(err, dispatch.ErrOfferNotFound) {
		t.Errorf("CurrentOffer = %v, want ErrOfferNotFound", err)
	}
}

func TestClient_SubscribeOffers(t *testing.T) {
	for _, format := range []string{dwp.CodecNameJSON, dwp.CodecNameMsgpack} {
		t.Run(format, func(t *testing.T) {
			e := setupClientTest(t)
			ana := e.dial("ana-key", client.WithFormat(format))

			events, err := ana.SubscribeOffers(ctxTimeout(t))
			if err != nil {
				t.Fatalf("SubscribeOffers: %v", err)
			}

			j := e.dispatchJob()
			select {
			case evt := <-events:
				if evt.Type != stream.EventOfferIssued {
					t.Fatalf("event type = %q", evt.Type)
				}
				var data stream.OfferEventData
				if err := evt.Decode(&data); err != nil {
					t.Fatalf("Decode: %v", err)
				}
				if data.JobID != j.ID.String() || data.ProviderID != e.ana.ID.String() {
					t.Errorf("data = %+v", data)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("no offer.issued event")
			}

			if err := ana.Unsubscribe(ctxTimeout(t), stream.ProviderTopic(e.ana.ID.String())); err != nil {
				t.Fatalf("Unsubscribe: %v", err)
			}
			if _, ok := <-events; ok {
				t.Error("channel should be closed after Unsubscribe")
			}
		})
	}
}

func TestClient_SubscribeOtherProviderForbidden(t *testing.T) {
	e := setupClientTest(t)
	ana := e.dial("ana-key")

	_, err := ana.Subscribe(ctxTimeout(t), stream.ProviderTopic(e.ben.ID.String()))
	var wireErr *client.Error
	if !errors.As(err, &wireErr) || wireErr.Code != dwp.ErrCodeForbidden {
		t.Fatalf("err = %v, want forbidden", err)
	}
}

func TestClient_CloseClosesSubscriptions(t *testing.T) {
	e := setupClientTest(t)
	ana := e.dial("ana-key")

	events, err := ana.SubscribeOffers(ctxTimeout(t))
	if err != nil {
		t.Fatalf("SubscribeOffers: %v", err)
	}
	_ = ana.Close()

	select {
	case _, ok := <-events:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed")
	}
}

func TestClient_Stats(t *testing.T) {
	e := setupClientTest(t)
	e.dial("ana-key")
	ops := e.dial("ops-key")

	raw, err := ops.Stats(ctxTimeout(t))
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if !strings.Contains(string(raw), `"connections":2`) {
		t.Errorf("stats = %s", raw)
	}

	if _, err := e.dial("ana-key").Stats(ctxTimeout(t)); err == nil {
		t.Error("device key should not read stats")
	}
}

// ── Source Tests ──────────────────────────────────────

func TestSource_ListenerFollowsRemoteCascade(t *testing.T) {
	e := setupClientTest(t)

	listen := func(p *provider.Provider, token string) *bridge.Listener {
		src := client.NewSource(e.url, client.WithToken(token), client.WithLogger(testLogger()))
		t.Cleanup(func() { _ = src.Close() })
		l := bridge.New(src, p.ID,
			bridge.WithLogger(testLogger()),
			bridge.WithReconnectBackoff(backoff.Constant(50*time.Millisecond)),
			bridge.WithResyncLimit(rate.Inf, 1),
		)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = l.Run(ctx)
		}()
		t.Cleanup(func() {
			cancel()
			<-done
		})
		return l
	}
	anaL := listen(e.ana, "ana-key")
	benL := listen(e.ben, "ben-key")

	// Whether a listener connects before or after an offer is issued, the
	// connect-time resync or the push shows it exactly once.

	next := func(l *bridge.Listener) bridge.Update {
		t.Helper()
		select {
		case u := <-l.Updates():
			return u
		case <-time.After(5 * time.Second):
			t.Fatal("no update")
			return bridge.Update{}
		}
	}

	j := e.dispatchJob()
	if u := next(anaL); u.Kind != bridge.UpdateShown || u.Detail.Job.ID != j.ID {
		t.Fatalf("Ana update = %+v", u)
	}

	if _, err := e.coord.Decline(context.Background(), j.ID, e.ana.ID); err != nil {
		t.Fatalf("Decline: %v", err)
	}
	if u := next(anaL); u.Kind != bridge.UpdateCleared {
		t.Fatalf("Ana update = %+v, want cleared", u)
	}
	if u := next(benL); u.Kind != bridge.UpdateShown || u.Detail.Offer.Rank != 2 {
		t.Fatalf("Ben update = %+v", u)
	}
}

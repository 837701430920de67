package engine_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	dispatch "github.com/CorbanSy/PropDash-sub000"
	"github.com/CorbanSy/PropDash-sub000/backoff"
	"github.com/CorbanSy/PropDash-sub000/engine"
	"github.com/CorbanSy/PropDash-sub000/geo"
	"github.com/CorbanSy/PropDash-sub000/id"
	"github.com/CorbanSy/PropDash-sub000/job"
	mw "github.com/CorbanSy/PropDash-sub000/middleware"
	"github.com/CorbanSy/PropDash-sub000/offer"
	"github.com/CorbanSy/PropDash-sub000/provider"
	"github.com/CorbanSy/PropDash-sub000/queue"
	"github.com/CorbanSy/PropDash-sub000/ranking"
	"github.com/CorbanSy/PropDash-sub000/run"
	"github.com/CorbanSy/PropDash-sub000/store/memory"
	"github.com/CorbanSy/PropDash-sub000/stream"
	"github.com/CorbanSy/PropDash-sub000/task"
)

var t0 = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

var here = geo.Location{Point: geo.Point{Lat: 39.95, Lng: -75.16}, Area: "19103"}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

type fixture struct {
	t     *testing.T
	ctx   context.Context
	store *memory.Store
	clock *clockwork.FakeClock
	eng   *engine.Engine
}

func build(t *testing.T, opts ...engine.Option) *fixture {
	t.Helper()
	f := &fixture{
		t:     t,
		ctx:   context.Background(),
		store: memory.New(),
		clock: clockwork.NewFakeClockAt(t0),
	}
	d, err := dispatch.New(
		dispatch.WithStore(f.store),
		dispatch.WithConcurrency(2),
		dispatch.WithSweepSchedule("@every 1h"),
	)
	if err != nil {
		t.Fatalf("dispatch.New: %v", err)
	}
	base := []engine.Option{
		engine.WithClock(f.clock),
		engine.WithBackoff(backoff.None),
	}
	f.eng, err = engine.Build(d, append(base, opts...)...)
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}
	return f
}

func (f *fixture) start() {
	f.t.Helper()
	if err := f.eng.Start(f.ctx); err != nil {
		f.t.Fatalf("Start: %v", err)
	}
	f.t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = f.eng.Stop(ctx)
	})
}

func (f *fixture) provider(name string, rating float64) *provider.Provider {
	f.t.Helper()
	p := &provider.Provider{
		Entity:          dispatch.NewEntity(t0),
		ID:              id.NewProviderID(),
		Name:            name,
		Categories:      []string{"plumbing"},
		Location:        here.Point,
		ServiceRadiusKm: 20,
		Available:       true,
		Rating:          rating,
	}
	if err := f.store.UpsertProvider(f.ctx, p); err != nil {
		f.t.Fatalf("UpsertProvider: %v", err)
	}
	return p
}

func (f *fixture) newJob() *job.Job {
	return job.New(id.NewCustomerID(), "plumbing", here, f.clock.Now(), job.WithTitle("Burst pipe"))
}

// waitFor polls cond until it holds or two seconds pass.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (f *fixture) waitPendingFor(jobID id.JobID, providerID id.ProviderID) *offer.Offer {
	f.t.Helper()
	var got *offer.Offer
	waitFor(f.t, "pending offer", func() bool {
		o, err := f.store.PendingOffer(f.ctx, jobID)
		if err != nil || o.ProviderID != providerID {
			return false
		}
		got = o
		return true
	})
	return got
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestPostJobDispatchesOnWorker(t *testing.T) {
	f := build(t)
	ana := f.provider("Ana", 5)
	f.provider("Ben", 4)
	f.start()

	j, err := f.eng.PostJob(f.ctx, f.newJob())
	if err != nil {
		t.Fatalf("PostJob: %v", err)
	}
	o := f.waitPendingFor(j.ID, ana.ID)
	if o.Rank != 1 {
		t.Errorf("rank = %d, want 1", o.Rank)
	}
	if !o.ExpiresAt.Equal(t0.Add(300 * time.Second)) {
		t.Errorf("expires_at = %v, want issued + 300s", o.ExpiresAt)
	}
	waitFor(t, "deadline timer", func() bool { return f.eng.Timers().Len() == 1 })
}

func TestDeadlineCascadesToNextCandidate(t *testing.T) {
	f := build(t)
	ana := f.provider("Ana", 5)
	ben := f.provider("Ben", 4)
	f.start()

	j, err := f.eng.PostJob(f.ctx, f.newJob())
	if err != nil {
		t.Fatalf("PostJob: %v", err)
	}
	f.waitPendingFor(j.ID, ana.ID)
	waitFor(t, "deadline timer", func() bool { return f.eng.Timers().Len() == 1 })

	f.clock.Advance(300 * time.Second)
	next := f.waitPendingFor(j.ID, ben.ID)
	if next.Rank != 2 {
		t.Errorf("rank = %d, want 2", next.Rank)
	}

	offers, err := f.store.ListOffers(f.ctx, j.ID)
	if err != nil {
		t.Fatalf("ListOffers: %v", err)
	}
	if len(offers) != 2 || offers[0].Response != offer.Expired {
		t.Fatalf("offers = %+v, want first expired", offers)
	}

	if _, err := f.eng.Coordinator().Accept(f.ctx, j.ID, ben.ID); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	got, err := f.store.GetJob(f.ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != job.StatusAccepted || got.ProviderID != ben.ID {
		t.Errorf("job = %s/%s, want accepted by Ben", got.Status, got.ProviderID)
	}
}

func TestDispatchIsIdempotent(t *testing.T) {
	f := build(t)
	f.provider("Ana", 5)

	j := f.newJob()
	if err := f.store.CreateJob(f.ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	first, err := f.eng.Dispatch(f.ctx, j.ID)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	again, err := f.eng.Dispatch(f.ctx, j.ID)
	if err != nil {
		t.Fatalf("second Dispatch: %v", err)
	}
	if !first.QueueCreated || again.QueueCreated {
		t.Errorf("QueueCreated = %v then %v, want true then false", first.QueueCreated, again.QueueCreated)
	}
	if again.State != run.StateOffering {
		t.Errorf("state = %s, want offering", again.State)
	}
	offers, _ := f.store.ListOffers(f.ctx, j.ID)
	if len(offers) != 1 {
		t.Errorf("offers = %d, want 1", len(offers))
	}
}

func TestNoCandidatesLeavesJobUnassigned(t *testing.T) {
	f := build(t)

	j := f.newJob()
	if err := f.store.CreateJob(f.ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	res, err := f.eng.Dispatch(f.ctx, j.ID)
	if !errors.Is(err, dispatch.ErrNoCandidates) {
		t.Fatalf("err = %v, want ErrNoCandidates", err)
	}
	if res != nil && res.CandidatesFound != 0 {
		t.Errorf("CandidatesFound = %d", res.CandidatesFound)
	}
	got, _ := f.store.GetJob(f.ctx, j.ID)
	if got.Status != job.StatusUnassigned {
		t.Errorf("status = %s, want unassigned", got.Status)
	}
}

func TestStreamBrokerPublishesToProviderTopic(t *testing.T) {
	f := build(t, engine.WithStreamBroker())
	ana := f.provider("Ana", 5)
	if f.eng.StreamBroker() == nil {
		t.Fatal("broker not built")
	}
	sub := f.eng.StreamBroker().Subscribe("device-1", stream.ProviderTopic(ana.ID.String()))
	defer sub.Close()

	j := f.newJob()
	if err := f.store.CreateJob(f.ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if _, err := f.eng.Dispatch(f.ctx, j.ID); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	select {
	case evt := <-sub.C():
		if evt.Type != stream.EventOfferIssued {
			t.Fatalf("event = %s, want offer.issued", evt.Type)
		}
		var data stream.OfferEventData
		if err := evt.Decode(&data); err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if data.JobID != j.ID.String() {
			t.Errorf("job_id = %s, want %s", data.JobID, j.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
	}
}

func TestSweepEntryRegistered(t *testing.T) {
	f := build(t)
	entries := f.eng.Scheduler().Entries()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if e := entries[0]; e.Name != engine.SweepEntry || e.Kind != task.KindSweep || !e.Enabled {
		t.Errorf("entry = %+v", e)
	}
}

func TestQueueConfigEnablesAdmission(t *testing.T) {
	f := build(t)
	if f.eng.QueueManager() != nil {
		t.Error("no queue config should leave admission off")
	}
	g := build(t, engine.WithQueueConfig(queue.Config{Kind: task.KindDispatch, MaxConcurrency: 1}))
	if g.eng.QueueManager() == nil {
		t.Fatal("queue manager not built")
	}
}

func TestBuildRejectsInvalidWeights(t *testing.T) {
	d, err := dispatch.New(dispatch.WithStore(memory.New()))
	if err != nil {
		t.Fatalf("dispatch.New: %v", err)
	}
	_, err = engine.Build(d, engine.WithWeights(ranking.Weights{}))
	if err == nil {
		t.Fatal("all-zero weights should fail")
	}
}

func TestBuildRejectsBadSweepSchedule(t *testing.T) {
	d, err := dispatch.New(
		dispatch.WithStore(memory.New()),
		dispatch.WithSweepSchedule("every so often"),
	)
	if err != nil {
		t.Fatalf("dispatch.New: %v", err)
	}
	if _, err := engine.Build(d); err == nil {
		t.Fatal("bad schedule should fail")
	}
}

func TestCustomMiddlewareRuns(t *testing.T) {
	var seen atomic.Int32
	f := build(t, engine.WithMiddleware(func(ctx context.Context, tk *task.Task, next mw.Handler) error {
		seen.Add(1)
		return next(ctx)
	}))
	f.provider("Ana", 5)
	f.start()

	if _, err := f.eng.PostJob(f.ctx, f.newJob()); err != nil {
		t.Fatalf("PostJob: %v", err)
	}
	waitFor(t, "middleware", func() bool { return seen.Load() >= 1 })
}

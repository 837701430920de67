// Package storetest is the conformance suite for store.Store backends.
//
//	func TestConformance(t *testing.T) {
//	    storetest.Run(t, func(t *testing.T) store.Store { return memory.New() })
//	}
package storetest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	dispatch "github.com/CorbanSy/PropDash-sub000"
	"github.com/CorbanSy/PropDash-sub000/geo"
	"github.com/CorbanSy/PropDash-sub000/id"
	"github.com/CorbanSy/PropDash-sub000/job"
	"github.com/CorbanSy/PropDash-sub000/offer"
	"github.com/CorbanSy/PropDash-sub000/provider"
	"github.com/CorbanSy/PropDash-sub000/run"
	"github.com/CorbanSy/PropDash-sub000/store"
)

// Factory returns an empty, migrated store. It should register cleanup
// with t.
type Factory func(t *testing.T) store.Store

// T0 is the reference instant used by every test in the suite.
var T0 = time.Date(2026, 3, 2, 15, 4, 5, 0, time.UTC)

const ttl = 300 * time.Second

// Run executes the whole suite against fresh stores from newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"Jobs", testJobs},
		{"Providers", testProviders},
		{"CreateRun", testCreateRun},
		{"ClaimNextRankOrder", testClaimNextRankOrder},
		{"ClaimNextSkipsOffered", testClaimNextSkipsOffered},
		{"ClaimNextExhausted", testClaimNextExhausted},
		{"ResolveAccept", testResolveAccept},
		{"ResolveWrongProvider", testResolveWrongProvider},
		{"ResolveDeadline", testResolveDeadline},
		{"ConcurrentAccept", testConcurrentAccept},
		{"ConcurrentClaim", testConcurrentClaim},
		{"CancelDispatch", testCancelDispatch},
		{"FailRun", testFailRun},
		{"ProviderQueries", testProviderQueries},
		{"AdvanceWork", testAdvanceWork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

// Fixture is a job with a persisted run over providers in rank order.
type Fixture struct {
	Job       *job.Job
	Providers []*provider.Provider
}

// Seed creates n providers, a job, and a run whose queue ranks the
// providers in creation order.
func Seed(t *testing.T, s store.Store, n int) Fixture {
	t.Helper()
	ctx := context.Background()

	f := Fixture{Job: job.New(id.NewCustomerID(), "plumbing",
		geo.Location{Point: geo.Point{Lat: 40, Lng: -75}, Area: "19103"}, T0,
		job.WithTitle("Leaking sink"), job.WithPrice(15000))}
	if err := s.CreateJob(ctx, f.Job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	cands := make([]run.Candidate, n)
	for i := range n {
		p := &provider.Provider{
			Entity:          dispatch.NewEntity(T0),
			ID:              id.NewProviderID(),
			Name:            "p" + string(rune('A'+i)),
			Categories:      []string{"plumbing"},
			Location:        geo.Point{Lat: 40, Lng: -75},
			ServiceRadiusKm: 25,
			Available:       true,
			Rating:          4.5,
		}
		if err := s.UpsertProvider(ctx, p); err != nil {
			t.Fatalf("UpsertProvider: %v", err)
		}
		f.Providers = append(f.Providers, p)
		cands[i] = run.Candidate{JobID: f.Job.ID, ProviderID: p.ID, Rank: i + 1, Score: float64(90 - i)}
	}

	if err := s.CreateRun(ctx, run.New(f.Job.ID, n, T0), cands); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	return f
}

func mustStatus(t *testing.T, s store.Store, jobID id.JobID, want job.Status) *job.Job {
	t.Helper()
	j, err := s.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Status != want {
		t.Fatalf("job status = %s, want %s", j.Status, want)
	}
	return j
}

func mustRunState(t *testing.T, s store.Store, jobID id.JobID, want run.State) *run.Run {
	t.Helper()
	r, err := s.GetRun(context.Background(), jobID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if r.State != want {
		t.Fatalf("run state = %s, want %s", r.State, want)
	}
	return r
}

func mustClaim(t *testing.T, s store.Store, jobID id.JobID, at time.Time) *offer.Offer {
	t.Helper()
	o, err := s.ClaimNext(context.Background(), jobID, at, ttl)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	return o
}

func testJobs(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := job.New(id.NewCustomerID(), "hvac", geo.Location{Area: "60614"}, T0)
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateJob(ctx, j); !errors.Is(err, dispatch.ErrJobAlreadyExists) {
		t.Errorf("duplicate CreateJob = %v, want ErrJobAlreadyExists", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Category != "hvac" || got.Location.Area != "60614" || got.Status != job.StatusPendingDispatch {
		t.Errorf("round trip = %+v", got)
	}
	if _, err := s.GetJob(ctx, id.NewJobID()); !errors.Is(err, dispatch.ErrJobNotFound) {
		t.Errorf("missing job = %v, want ErrJobNotFound", err)
	}

	later := job.New(id.NewCustomerID(), "hvac", geo.Location{Area: "60614"}, T0.Add(time.Minute))
	if err := s.CreateJob(ctx, later); err != nil {
		t.Fatal(err)
	}
	list, err := s.ListJobs(ctx, job.ListOpts{Status: job.StatusPendingDispatch})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != later.ID {
		t.Errorf("ListJobs = %d jobs, first %v; want 2, newest first", len(list), list)
	}
	list, err = s.ListJobs(ctx, job.ListOpts{Status: job.StatusAccepted})
	if err != nil || len(list) != 0 {
		t.Errorf("filtered ListJobs = %v, %v", list, err)
	}
}

func testProviders(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := &provider.Provider{
		Entity:     dispatch.NewEntity(T0),
		ID:         id.NewProviderID(),
		Name:       "Ada",
		Categories: []string{"plumbing", "hvac"},
		Areas:      []string{"19103"},
		Schedule:   []job.DayPart{job.Morning},
		Available:  true,
		Rating:     4.8,
	}
	if err := s.UpsertProvider(ctx, p); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordResponse(ctx, p.ID, 40*time.Second, true); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordCompletion(ctx, p.ID); err != nil {
		t.Fatal(err)
	}

	// A profile update must not wipe statistics.
	p.Rating = 4.9
	if err := s.UpsertProvider(ctx, p); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetProvider(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Rating != 4.9 || got.AvgResponseSeconds != 40 || got.Assigned != 1 || got.Completed != 1 {
		t.Errorf("provider = %+v", got)
	}
	if len(got.Categories) != 2 || len(got.Schedule) != 1 || got.Schedule[0] != job.Morning {
		t.Errorf("slices lost: %+v", got)
	}

	if err := s.SetAvailability(ctx, p.ID, false); err != nil {
		t.Fatal(err)
	}
	avail, err := s.ListProviders(ctx, provider.ListOpts{Category: "hvac", AvailableOnly: true})
	if err != nil || len(avail) != 0 {
		t.Errorf("available hvac = %v, %v; want none", avail, err)
	}
	all, err := s.ListProviders(ctx, provider.ListOpts{Category: "hvac"})
	if err != nil || len(all) != 1 {
		t.Errorf("all hvac = %v, %v; want one", all, err)
	}

	if _, err := s.GetProvider(ctx, id.NewProviderID()); !errors.Is(err, dispatch.ErrProviderNotFound) {
		t.Errorf("missing provider = %v", err)
	}
	if err := s.SetAvailability(ctx, id.NewProviderID(), true); !errors.Is(err, dispatch.ErrProviderNotFound) {
		t.Errorf("SetAvailability missing = %v", err)
	}
}

func testCreateRun(t *testing.T, s store.Store) {
	ctx := context.Background()
	f := Seed(t, s, 2)
	mustStatus(t, s, f.Job.ID, job.StatusDispatching)
	r := mustRunState(t, s, f.Job.ID, run.StateOffering)
	if r.CandidatesFound != 2 || r.Cursor != 0 {
		t.Errorf("run = %+v", r)
	}

	if err := s.CreateRun(ctx, run.New(f.Job.ID, 0, T0), nil); !errors.Is(err, dispatch.ErrRunExists) {
		t.Errorf("second CreateRun = %v, want ErrRunExists", err)
	}

	cands, err := s.ListCandidates(ctx, f.Job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 2 || cands[0].ProviderID != f.Providers[0].ID || cands[1].Rank != 2 {
		t.Errorf("candidates = %+v", cands)
	}

	// An empty queue starts unassignable.
	empty := job.New(id.NewCustomerID(), "roofing", geo.Location{Area: "1"}, T0)
	if err := s.CreateJob(ctx, empty); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateRun(ctx, run.New(empty.ID, 0, T0), nil); err != nil {
		t.Fatal(err)
	}
	mustStatus(t, s, empty.ID, job.StatusUnassigned)
	er := mustRunState(t, s, empty.ID, run.StateUnassignable)
	if er.Reason != run.ReasonNoCandidates {
		t.Errorf("reason = %s", er.Reason)
	}

	if err := s.CreateRun(ctx, run.New(id.NewJobID(), 1, T0), nil); !errors.Is(err, dispatch.ErrJobNotFound) {
		t.Errorf("CreateRun for missing job = %v", err)
	}

	n, err := s.CountRuns(ctx, run.StateOffering)
	if err != nil || n != 1 {
		t.Errorf("CountRuns(offering) = %d, %v", n, err)
	}
	runs, err := s.ListRuns(ctx, run.ListOpts{State: run.StateUnassignable})
	if err != nil || len(runs) != 1 || runs[0].JobID != empty.ID {
		t.Errorf("ListRuns(unassignable) = %v, %v", runs, err)
	}
}

func testClaimNextRankOrder(t *testing.T, s store.Store) {
	ctx := context.Background()
	f := Seed(t, s, 3)

	first := mustClaim(t, s, f.Job.ID, T0)
	if first.ProviderID != f.Providers[0].ID || first.Rank != 1 || !first.IsPending() {
		t.Fatalf("first offer = %+v", first)
	}
	if !first.ExpiresAt.Equal(T0.Add(ttl)) {
		t.Errorf("expires_at = %v", first.ExpiresAt)
	}

	if _, err := s.ClaimNext(ctx, f.Job.ID, T0, ttl); !errors.Is(err, dispatch.ErrOfferPending) {
		t.Fatalf("claim with pending = %v, want ErrOfferPending", err)
	}

	if _, err := s.ResolveOffer(ctx, f.Job.ID, f.Providers[0].ID, offer.Declined, T0.Add(10*time.Second)); err != nil {
		t.Fatal(err)
	}
	second := mustClaim(t, s, f.Job.ID, T0.Add(10*time.Second))
	if second.ProviderID != f.Providers[1].ID {
		t.Fatalf("second offer to %v, want %v", second.ProviderID, f.Providers[1].ID)
	}

	pending, err := s.PendingOffer(ctx, f.Job.ID)
	if err != nil || pending.ID != second.ID {
		t.Errorf("PendingOffer = %v, %v", pending, err)
	}
	got, err := s.GetOffer(ctx, first.ID)
	if err != nil || got.Response != offer.Declined || got.ResolvedAt == nil {
		t.Errorf("GetOffer(first) = %+v, %v", got, err)
	}
	all, err := s.ListOffers(ctx, f.Job.ID)
	if err != nil || len(all) != 2 || all[0].ID != first.ID {
		t.Errorf("ListOffers = %v, %v", all, err)
	}
	r := mustRunState(t, s, f.Job.ID, run.StateOffering)
	if r.Cursor != 2 {
		t.Errorf("cursor = %d, want 2", r.Cursor)
	}
}

func testClaimNextSkipsOffered(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := job.New(id.NewCustomerID(), "plumbing", geo.Location{Area: "x"}, T0)
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatal(err)
	}
	a, b := id.NewProviderID(), id.NewProviderID()
	// A queue naming a provider twice must never offer them the job twice.
	cands := []run.Candidate{
		{JobID: j.ID, ProviderID: a, Rank: 1},
		{JobID: j.ID, ProviderID: a, Rank: 2},
		{JobID: j.ID, ProviderID: b, Rank: 3},
	}
	if err := s.CreateRun(ctx, run.New(j.ID, len(cands), T0), cands); err != nil {
		t.Fatal(err)
	}

	mustClaim(t, s, j.ID, T0)
	if _, err := s.ResolveOffer(ctx, j.ID, a, offer.Declined, T0); err != nil {
		t.Fatal(err)
	}
	o := mustClaim(t, s, j.ID, T0)
	if o.ProviderID != b || o.Rank != 3 {
		t.Errorf("offer = %+v, want provider b at rank 3", o)
	}
}

func testClaimNextExhausted(t *testing.T, s store.Store) {
	ctx := context.Background()
	f := Seed(t, s, 2)

	for i := range 2 {
		o := mustClaim(t, s, f.Job.ID, T0)
		if _, err := s.ResolveOffer(ctx, f.Job.ID, o.ProviderID, offer.Declined, T0); err != nil {
			t.Fatalf("decline %d: %v", i, err)
		}
	}
	if _, err := s.ClaimNext(ctx, f.Job.ID, T0, ttl); !errors.Is(err, dispatch.ErrCandidateExhausted) {
		t.Fatalf("claim past end = %v, want ErrCandidateExhausted", err)
	}
	mustStatus(t, s, f.Job.ID, job.StatusUnassigned)
	r := mustRunState(t, s, f.Job.ID, run.StateUnassignable)
	if r.Reason != run.ReasonExhausted || r.EndedAt == nil {
		t.Errorf("run = %+v", r)
	}

	if _, err := s.ClaimNext(ctx, f.Job.ID, T0, ttl); !errors.Is(err, dispatch.ErrRunTerminal) {
		t.Errorf("claim on ended run = %v, want ErrRunTerminal", err)
	}
	offers, _ := s.ListOffers(ctx, f.Job.ID)
	if len(offers) != 2 {
		t.Errorf("%d offers created, want 2", len(offers))
	}
	if _, err := s.ClaimNext(ctx, id.NewJobID(), T0, ttl); !errors.Is(err, dispatch.ErrRunNotFound) {
		t.Errorf("claim without run = %v, want ErrRunNotFound", err)
	}
}

func testResolveAccept(t *testing.T, s store.Store) {
	ctx := context.Background()
	f := Seed(t, s, 2)
	o := mustClaim(t, s, f.Job.ID, T0)

	at := T0.Add(50 * time.Second)
	got, err := s.ResolveOffer(ctx, f.Job.ID, o.ProviderID, offer.Accepted, at)
	if err != nil {
		t.Fatal(err)
	}
	if got.Response != offer.Accepted || got.ResolvedAt == nil || !got.ResolvedAt.Equal(at) {
		t.Errorf("resolved = %+v", got)
	}
	j := mustStatus(t, s, f.Job.ID, job.StatusAccepted)
	if j.ProviderID != o.ProviderID {
		t.Errorf("job provider = %v, want %v", j.ProviderID, o.ProviderID)
	}
	r := mustRunState(t, s, f.Job.ID, run.StateAssigned)
	if r.ProviderID != o.ProviderID {
		t.Errorf("run provider = %v", r.ProviderID)
	}

	if _, err := s.ResolveOffer(ctx, f.Job.ID, o.ProviderID, offer.Accepted, at); !errors.Is(err, dispatch.ErrOfferConflict) {
		t.Errorf("repeat accept = %v, want ErrOfferConflict", err)
	}
	if _, err := s.ClaimNext(ctx, f.Job.ID, at, ttl); !errors.Is(err, dispatch.ErrRunTerminal) {
		t.Errorf("claim after accept = %v, want ErrRunTerminal", err)
	}
	if _, err := s.PendingOffer(ctx, f.Job.ID); !errors.Is(err, dispatch.ErrOfferNotFound) {
		t.Errorf("PendingOffer after accept = %v", err)
	}
}

func testResolveWrongProvider(t *testing.T, s store.Store) {
	ctx := context.Background()
	f := Seed(t, s, 2)
	mustClaim(t, s, f.Job.ID, T0)

	for _, outcome := range []offer.Response{offer.Accepted, offer.Declined} {
		if _, err := s.ResolveOffer(ctx, f.Job.ID, f.Providers[1].ID, outcome, T0); !errors.Is(err, dispatch.ErrOfferConflict) {
			t.Errorf("%s by non-holder = %v, want ErrOfferConflict", outcome, err)
		}
	}
	if _, err := s.ResolveOffer(ctx, f.Job.ID, f.Providers[0].ID, offer.Pending, T0); err == nil {
		t.Error("resolving to pending must fail")
	}
	mustStatus(t, s, f.Job.ID, job.StatusDispatching)
}

func testResolveDeadline(t *testing.T, s store.Store) {
	ctx := context.Background()
	f := Seed(t, s, 2)
	o := mustClaim(t, s, f.Job.ID, T0)
	holder := o.ProviderID

	if _, err := s.ResolveOffer(ctx, f.Job.ID, holder, offer.Expired, T0.Add(299*time.Second)); !errors.Is(err, dispatch.ErrLeaseActive) {
		t.Errorf("early expiry = %v, want ErrLeaseActive", err)
	}
	if _, err := s.ResolveOffer(ctx, f.Job.ID, holder, offer.Accepted, T0.Add(ttl)); !errors.Is(err, dispatch.ErrExpiredOffer) {
		t.Errorf("accept at deadline = %v, want ErrExpiredOffer", err)
	}
	// The late accept leaves the offer for expiry.
	if p, err := s.PendingOffer(ctx, f.Job.ID); err != nil || p.ID != o.ID {
		t.Fatalf("pending after late accept = %v, %v", p, err)
	}

	expired, err := s.ListExpired(ctx, T0.Add(301*time.Second), 10)
	if err != nil || len(expired) != 1 || expired[0].ID != o.ID {
		t.Fatalf("ListExpired = %v, %v", expired, err)
	}
	if none, _ := s.ListExpired(ctx, T0.Add(299*time.Second), 10); len(none) != 0 {
		t.Errorf("ListExpired before deadline = %v", none)
	}

	got, err := s.ResolveOffer(ctx, f.Job.ID, holder, offer.Expired, T0.Add(301*time.Second))
	if err != nil || got.Response != offer.Expired {
		t.Fatalf("expire = %+v, %v", got, err)
	}
	if _, err := s.ResolveOffer(ctx, f.Job.ID, holder, offer.Expired, T0.Add(302*time.Second)); !errors.Is(err, dispatch.ErrOfferConflict) {
		t.Errorf("second expiry = %v, want ErrOfferConflict", err)
	}
}

func testConcurrentAccept(t *testing.T, s store.Store) {
	ctx := context.Background()
	const n = 8
	f := Seed(t, s, n)
	o := mustClaim(t, s, f.Job.ID, T0)

	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := range 2 * n {
		// Every provider tries, and the holder tries several times.
		pid := f.Providers[i%n].ID
		if i >= n {
			pid = o.ProviderID
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := s.ResolveOffer(ctx, f.Job.ID, pid, offer.Accepted, T0.Add(time.Second))
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, dispatch.ErrOfferConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("%d accepts succeeded, want exactly 1", wins.Load())
	}
	if conflicts.Load() != 2*n-1 {
		t.Errorf("%d conflicts, want %d", conflicts.Load(), 2*n-1)
	}
	j := mustStatus(t, s, f.Job.ID, job.StatusAccepted)
	if j.ProviderID != o.ProviderID {
		t.Errorf("job awarded to %v, want holder %v", j.ProviderID, o.ProviderID)
	}
}

func testConcurrentClaim(t *testing.T, s store.Store) {
	ctx := context.Background()
	f := Seed(t, s, 5)

	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := s.ClaimNext(ctx, f.Job.ID, T0, ttl)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, dispatch.ErrOfferPending):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("%d claims succeeded, want exactly 1", wins.Load())
	}
	n, err := s.CountPending(ctx)
	if err != nil || n != 1 {
		t.Errorf("CountPending = %d, %v", n, err)
	}
}

func testCancelDispatch(t *testing.T, s store.Store) {
	ctx := context.Background()
	f := Seed(t, s, 2)
	o := mustClaim(t, s, f.Job.ID, T0)

	inv, err := s.CancelDispatch(ctx, f.Job.ID, T0.Add(20*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if inv == nil || inv.ID != o.ID || inv.Response != offer.Expired {
		t.Fatalf("invalidated = %+v", inv)
	}
	mustStatus(t, s, f.Job.ID, job.StatusCancelled)
	mustRunState(t, s, f.Job.ID, run.StateCancelled)

	if _, err := s.ResolveOffer(ctx, f.Job.ID, o.ProviderID, offer.Accepted, T0.Add(21*time.Second)); !errors.Is(err, dispatch.ErrOfferConflict) {
		t.Errorf("accept after cancel = %v, want ErrOfferConflict", err)
	}
	if _, err := s.ClaimNext(ctx, f.Job.ID, T0, ttl); !errors.Is(err, dispatch.ErrRunTerminal) {
		t.Errorf("claim after cancel = %v, want ErrRunTerminal", err)
	}
	if _, err := s.CancelDispatch(ctx, f.Job.ID, T0); !errors.Is(err, dispatch.ErrInvalidTransition) {
		t.Errorf("second cancel = %v, want ErrInvalidTransition", err)
	}

	// Cancelling before any run exists only touches the job.
	bare := job.New(id.NewCustomerID(), "plumbing", geo.Location{Area: "x"}, T0)
	if err := s.CreateJob(ctx, bare); err != nil {
		t.Fatal(err)
	}
	if inv, err := s.CancelDispatch(ctx, bare.ID, T0); err != nil || inv != nil {
		t.Errorf("cancel without run = %v, %v", inv, err)
	}
	mustStatus(t, s, bare.ID, job.StatusCancelled)

	// A held job cannot be cancelled through dispatch.
	g := Seed(t, s, 1)
	held := mustClaim(t, s, g.Job.ID, T0)
	if _, err := s.ResolveOffer(ctx, g.Job.ID, held.ProviderID, offer.Accepted, T0); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CancelDispatch(ctx, g.Job.ID, T0); !errors.Is(err, dispatch.ErrInvalidTransition) {
		t.Errorf("cancel accepted job = %v, want ErrInvalidTransition", err)
	}
	if _, err := s.CancelDispatch(ctx, id.NewJobID(), T0); !errors.Is(err, dispatch.ErrJobNotFound) {
		t.Errorf("cancel missing job = %v", err)
	}
}

func testFailRun(t *testing.T, s store.Store) {
	ctx := context.Background()
	f := Seed(t, s, 2)
	o := mustClaim(t, s, f.Job.ID, T0)

	if _, err := s.FailRun(ctx, f.Job.ID, run.ReasonStoreUnavailable, T0); !errors.Is(err, dispatch.ErrOfferPending) {
		t.Fatalf("FailRun with pending offer = %v, want ErrOfferPending", err)
	}
	if _, err := s.ResolveOffer(ctx, f.Job.ID, o.ProviderID, offer.Declined, T0); err != nil {
		t.Fatal(err)
	}
	r, err := s.FailRun(ctx, f.Job.ID, run.ReasonStoreUnavailable, T0)
	if err != nil {
		t.Fatal(err)
	}
	if r.State != run.StateUnassignable || r.Reason != run.ReasonStoreUnavailable {
		t.Errorf("run = %+v", r)
	}
	mustStatus(t, s, f.Job.ID, job.StatusUnassigned)
	if _, err := s.FailRun(ctx, f.Job.ID, run.ReasonStoreUnavailable, T0); !errors.Is(err, dispatch.ErrRunTerminal) {
		t.Errorf("second FailRun = %v, want ErrRunTerminal", err)
	}
}

func testProviderQueries(t *testing.T, s store.Store) {
	ctx := context.Background()
	f := Seed(t, s, 2)
	g := Seed(t, s, 1)

	o1 := mustClaim(t, s, f.Job.ID, T0)
	mustClaim(t, s, g.Job.ID, T0.Add(time.Minute))

	cur, err := s.CurrentForProvider(ctx, o1.ProviderID, T0.Add(time.Second))
	if err != nil || cur.ID != o1.ID {
		t.Errorf("CurrentForProvider = %v, %v", cur, err)
	}
	if _, err := s.CurrentForProvider(ctx, f.Providers[1].ID, T0); !errors.Is(err, dispatch.ErrOfferNotFound) {
		t.Errorf("provider without offer = %v", err)
	}
	// A due offer is no longer current even before the sweep runs.
	if _, err := s.CurrentForProvider(ctx, o1.ProviderID, T0.Add(ttl)); !errors.Is(err, dispatch.ErrOfferNotFound) {
		t.Errorf("due offer still current: %v", err)
	}

	n, err := s.CountPending(ctx)
	if err != nil || n != 2 {
		t.Errorf("CountPending = %d, %v", n, err)
	}
	expired, err := s.ListExpired(ctx, T0.Add(ttl+2*time.Minute), 1)
	if err != nil || len(expired) != 1 || expired[0].ID != o1.ID {
		t.Errorf("ListExpired limit 1 = %v, %v; want earliest %v", expired, err, o1.ID)
	}
	if _, err := s.GetOffer(ctx, id.NewOfferID()); !errors.Is(err, dispatch.ErrOfferNotFound) {
		t.Errorf("GetOffer missing = %v", err)
	}
}

func testAdvanceWork(t *testing.T, s store.Store) {
	ctx := context.Background()
	f := Seed(t, s, 2)
	o := mustClaim(t, s, f.Job.ID, T0)
	if _, err := s.ResolveOffer(ctx, f.Job.ID, o.ProviderID, offer.Accepted, T0); err != nil {
		t.Fatal(err)
	}

	if _, err := s.AdvanceWork(ctx, f.Job.ID, f.Providers[1].ID, job.StatusAccepted, job.StatusEnRoute, T0); !errors.Is(err, dispatch.ErrInvalidTransition) {
		t.Errorf("advance by other provider = %v", err)
	}
	if _, err := s.AdvanceWork(ctx, f.Job.ID, o.ProviderID, job.StatusAccepted, job.StatusCompleted, T0); !errors.Is(err, dispatch.ErrInvalidTransition) {
		t.Errorf("skipping steps = %v", err)
	}

	steps := []job.Status{job.StatusEnRoute, job.StatusInProgress, job.StatusCompleted}
	from := job.StatusAccepted
	for _, to := range steps {
		j, err := s.AdvanceWork(ctx, f.Job.ID, o.ProviderID, from, to, T0.Add(time.Hour))
		if err != nil {
			t.Fatalf("%s → %s: %v", from, to, err)
		}
		if j.Status != to {
			t.Fatalf("status = %s, want %s", j.Status, to)
		}
		from = to
	}
	j := mustStatus(t, s, f.Job.ID, job.StatusCompleted)
	if j.CompletedAt == nil {
		t.Error("completed_at not set")
	}
	if _, err := s.AdvanceWork(ctx, id.NewJobID(), o.ProviderID, job.StatusAccepted, job.StatusEnRoute, T0); !errors.Is(err, dispatch.ErrJobNotFound) {
		t.Errorf("missing job = %v", err)
	}
}

package coordinator_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	dispatch "github.com/CorbanSy/PropDash-sub000"
	"github.com/CorbanSy/PropDash-sub000/backoff"
	"github.com/CorbanSy/PropDash-sub000/coordinator"
	"github.com/CorbanSy/PropDash-sub000/ext"
	"github.com/CorbanSy/PropDash-sub000/geo"
	"github.com/CorbanSy/PropDash-sub000/id"
	"github.com/CorbanSy/PropDash-sub000/job"
	"github.com/CorbanSy/PropDash-sub000/offer"
	"github.com/CorbanSy/PropDash-sub000/provider"
	"github.com/CorbanSy/PropDash-sub000/ranking"
	"github.com/CorbanSy/PropDash-sub000/run"
	"github.com/CorbanSy/PropDash-sub000/store"
	"github.com/CorbanSy/PropDash-sub000/store/memory"
	"github.com/CorbanSy/PropDash-sub000/store/storetest"
)

var t0 = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

var here = geo.Location{Point: geo.Point{Lat: 39.95, Lng: -75.16}, Area: "19103"}

// ──────────────────────────────────────────────────
// Harness
// ──────────────────────────────────────────────────

type harness struct {
	t     *testing.T
	ctx   context.Context
	store store.Store
	clock *clockwork.FakeClock
	coord *coordinator.Coordinator
	rec   *recorder
}

func newHarness(t *testing.T, s store.Store, opts ...coordinator.Option) *harness {
	t.Helper()
	if s == nil {
		s = memory.New()
	}
	h := &harness{
		t:     t,
		ctx:   context.Background(),
		store: s,
		clock: clockwork.NewFakeClockAt(t0),
		rec:   &recorder{},
	}
	exts := ext.NewRegistry(nil)
	exts.Register(h.rec)
	base := []coordinator.Option{
		coordinator.WithClock(h.clock),
		coordinator.WithBackoff(backoff.None),
		coordinator.WithExtensions(exts),
	}
	h.coord = coordinator.New(s, ranking.New(s), append(base, opts...)...)
	return h
}

// provider registers an eligible plumber. Higher rating ranks first.
func (h *harness) provider(name string, rating float64) *provider.Provider {
	h.t.Helper()
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
	if err := h.store.UpsertProvider(h.ctx, p); err != nil {
		h.t.Fatalf("UpsertProvider: %v", err)
	}
	return p
}

func (h *harness) post() *job.Job {
	h.t.Helper()
	j := job.New(id.NewCustomerID(), "plumbing", here, h.clock.Now(),
		job.WithTitle("Burst pipe"), job.WithPrice(22000))
	if err := h.store.CreateJob(h.ctx, j); err != nil {
		h.t.Fatalf("CreateJob: %v", err)
	}
	return j
}

func (h *harness) dispatch(j *job.Job) *coordinator.Result {
	h.t.Helper()
	res, err := h.coord.Dispatch(h.ctx, j.ID)
	if err != nil {
		h.t.Fatalf("Dispatch: %v", err)
	}
	return res
}

func (h *harness) pending(jobID id.JobID) *offer.Offer {
	h.t.Helper()
	o, err := h.store.PendingOffer(h.ctx, jobID)
	if err != nil {
		h.t.Fatalf("PendingOffer: %v", err)
	}
	return o
}

func (h *harness) jobStatus(jobID id.JobID, want job.Status) *job.Job {
	h.t.Helper()
	j, err := h.store.GetJob(h.ctx, jobID)
	if err != nil {
		h.t.Fatalf("GetJob: %v", err)
	}
	if j.Status != want {
		h.t.Fatalf("job status = %s, want %s", j.Status, want)
	}
	return j
}

func (h *harness) runState(jobID id.JobID, want run.State) *run.Run {
	h.t.Helper()
	r, err := h.store.GetRun(h.ctx, jobID)
	if err != nil {
		h.t.Fatalf("GetRun: %v", err)
	}
	if r.State != want {
		h.t.Fatalf("run state = %s, want %s", r.State, want)
	}
	return r
}

func (h *harness) offers(jobID id.JobID) []*offer.Offer {
	h.t.Helper()
	os, err := h.store.ListOffers(h.ctx, jobID)
	if err != nil {
		h.t.Fatalf("ListOffers: %v", err)
	}
	return os
}

// recorder captures lifecycle events.
type recorder struct {
	mu     sync.Mutex
	events []string
	alerts []error
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) add(ev string) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) count(ev string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == ev {
			n++
		}
	}
	return n
}

func (r *recorder) OnRunStarted(context.Context, *run.Run, []run.Candidate) error {
	r.add("run.started")
	return nil
}

func (r *recorder) OnRunAssigned(context.Context, *run.Run) error {
	r.add("run.assigned")
	return nil
}

func (r *recorder) OnRunUnassignable(context.Context, *run.Run) error {
	r.add("run.unassignable")
	return nil
}

func (r *recorder) OnRunCancelled(context.Context, id.JobID) error {
	r.add("run.cancelled")
	return nil
}

func (r *recorder) OnOfferIssued(context.Context, *offer.Offer) error {
	r.add("offer.issued")
	return nil
}

func (r *recorder) OnOfferResolved(_ context.Context, o *offer.Offer) error {
	r.add("offer." + string(o.Response))
	return nil
}

func (r *recorder) OnClaimRetrying(context.Context, id.JobID, int, time.Duration, error) error {
	r.add("claim.retrying")
	return nil
}

func (r *recorder) OnDispatchAlert(_ context.Context, _ id.JobID, err error) error {
	r.mu.Lock()
	r.alerts = append(r.alerts, err)
	r.mu.Unlock()
	return nil
}

// flaky fails the first n claims with a transient error.
type flaky struct {
	store.Store
	fails atomic.Int32
}

var errDown = errors.New("connection refused")

func (f *flaky) ClaimNext(ctx context.Context, jobID id.JobID, now time.Time, ttl time.Duration) (*offer.Offer, error) {
	if f.fails.Add(-1) >= 0 {
		return nil, errDown
	}
	return f.Store.ClaimNext(ctx, jobID, now, ttl)
}

// ──────────────────────────────────────────────────
// Dispatch
// ──────────────────────────────────────────────────

func TestDispatchOffersTopCandidate(t *testing.T) {
	h := newHarness(t, nil)
	best := h.provider("best", 5)
	h.provider("good", 4)
	h.provider("fair", 3)
	j := h.post()

	res := h.dispatch(j)
	if res.CandidatesFound != 3 || !res.QueueCreated || res.State != run.StateOffering {
		t.Fatalf("result = %+v", res)
	}
	if res.Offer == nil || res.Offer.ProviderID != best.ID || res.Offer.Rank != 1 {
		t.Fatalf("first offer = %+v, want rank 1 to %s", res.Offer, best.ID)
	}
	if want := t0.Add(300 * time.Second); !res.Offer.ExpiresAt.Equal(want) {
		t.Errorf("expires_at = %v, want %v", res.Offer.ExpiresAt, want)
	}
	h.jobStatus(j.ID, job.StatusDispatching)
	if h.rec.count("run.started") != 1 || h.rec.count("offer.issued") != 1 {
		t.Errorf("events = %v", h.rec.events)
	}
}

func TestDispatchIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	h.provider("a", 5)
	h.provider("b", 4)
	j := h.post()

	first := h.dispatch(j)
	second := h.dispatch(j)

	if second.QueueCreated {
		t.Error("second dispatch created a queue")
	}
	if second.CandidatesFound != first.CandidatesFound {
		t.Errorf("candidates = %d, want %d", second.CandidatesFound, first.CandidatesFound)
	}
	if second.Offer == nil || second.Offer.ID != first.Offer.ID {
		t.Errorf("second dispatch reported a different offer")
	}
	if n := len(h.offers(j.ID)); n != 1 {
		t.Errorf("offers = %d, want 1", n)
	}
	if h.rec.count("run.started") != 1 {
		t.Error("run started twice")
	}
}

func TestDispatchConcurrentCallsShareOneRun(t *testing.T) {
	h := newHarness(t, nil)
	for range 4 {
		h.provider("p", 4)
	}
	j := h.post()

	var (
		wg      sync.WaitGroup
		created atomic.Int32
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.coord.Dispatch(h.ctx, j.ID)
			if err != nil {
				t.Errorf("Dispatch: %v", err)
				return
			}
			if res.QueueCreated {
				created.Add(1)
			}
		}()
	}
	wg.Wait()

	if created.Load() != 1 {
		t.Errorf("queues created = %d, want 1", created.Load())
	}
	if n := len(h.offers(j.ID)); n != 1 {
		t.Errorf("offers = %d, want 1", n)
	}
}

func TestDispatchNoCandidates(t *testing.T) {
	h := newHarness(t, nil)
	far := h.provider("far", 5)
	far.Location = geo.Point{Lat: 34.05, Lng: -118.24}
	far.Areas = nil
	if err := h.store.UpsertProvider(h.ctx, far); err != nil {
		t.Fatal(err)
	}
	j := h.post()

	res, err := h.coord.Dispatch(h.ctx, j.ID)
	if !errors.Is(err, dispatch.ErrNoCandidates) {
		t.Fatalf("err = %v, want ErrNoCandidates", err)
	}
	if res == nil || res.CandidatesFound != 0 || !res.QueueCreated || res.State != run.StateUnassignable {
		t.Fatalf("result = %+v", res)
	}
	h.jobStatus(j.ID, job.StatusUnassigned)
	r := h.runState(j.ID, run.StateUnassignable)
	if r.Reason != run.ReasonNoCandidates {
		t.Errorf("reason = %s", r.Reason)
	}
	if len(h.offers(j.ID)) != 0 {
		t.Error("an offer was issued without candidates")
	}
}

func TestDispatchUnknownJob(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.coord.Dispatch(h.ctx, id.NewJobID()); !errors.Is(err, dispatch.ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
}

// ──────────────────────────────────────────────────
// Responses and cascade
// ──────────────────────────────────────────────────

func TestCascadeFollowsRankOrder(t *testing.T) {
	h := newHarness(t, nil)
	a := h.provider("a", 5)
	b := h.provider("b", 4)
	c := h.provider("c", 3)
	j := h.post()
	h.dispatch(j)

	if _, err := h.coord.Decline(h.ctx, j.ID, a.ID); err != nil {
		t.Fatalf("Decline: %v", err)
	}
	if got := h.pending(j.ID); got.ProviderID != b.ID || got.Rank != 2 {
		t.Fatalf("after decline offer went to rank %d", got.Rank)
	}

	h.clock.Advance(300 * time.Second)
	if err := h.coord.Expire(h.ctx, j.ID); err != nil {
		t.Fatalf("Expire: %v", err)
	}
	if got := h.pending(j.ID); got.ProviderID != c.ID || got.Rank != 3 {
		t.Fatalf("after expiry offer went to rank %d", got.Rank)
	}

	if _, err := h.coord.Accept(h.ctx, j.ID, c.ID); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	want := []offer.Response{offer.Declined, offer.Expired, offer.Accepted}
	os := h.offers(j.ID)
	if len(os) != len(want) {
		t.Fatalf("offers = %d, want %d", len(os), len(want))
	}
	for i, o := range os {
		if o.Rank != i+1 || o.Response != want[i] {
			t.Errorf("offer %d = rank %d %s, want rank %d %s", i, o.Rank, o.Response, i+1, want[i])
		}
	}
	got := h.jobStatus(j.ID, job.StatusAccepted)
	if got.ProviderID != c.ID {
		t.Errorf("provider = %s, want %s", got.ProviderID, c.ID)
	}
	h.runState(j.ID, run.StateAssigned)
}

// armLog records deadline arming by offer.
type armLog struct {
	mu       sync.Mutex
	armed    []id.OfferID
	disarmed []id.OfferID
}

func (a *armLog) Arm(o *offer.Offer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.armed = append(a.armed, o.ID)
}

func (a *armLog) Disarm(o *offer.Offer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.disarmed = append(a.disarmed, o.ID)
}

func TestDisarmNamesResolvedOffer(t *testing.T) {
	log := &armLog{}
	h := newHarness(t, nil, coordinator.WithArmer(log))
	ana := h.provider("Ana", 5)
	h.provider("Ben", 4)
	j := h.post()
	h.dispatch(j)
	first := h.pending(j.ID)

	if _, err := h.coord.Decline(h.ctx, j.ID, ana.ID); err != nil {
		t.Fatalf("Decline: %v", err)
	}
	second := h.pending(j.ID)
	if err := h.coord.Cancel(h.ctx, j.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	log.mu.Lock()
	defer log.mu.Unlock()
	if len(log.armed) != 2 || log.armed[0] != first.ID || log.armed[1] != second.ID {
		t.Errorf("armed = %v, want [%s %s]", log.armed, first.ID, second.ID)
	}
	if len(log.disarmed) != 2 || log.disarmed[0] != first.ID || log.disarmed[1] != second.ID {
		t.Errorf("disarmed = %v, want [%s %s]", log.disarmed, first.ID, second.ID)
	}
}

func TestAtMostOneAcceptance(t *testing.T) {
	h := newHarness(t, nil)
	holder := h.provider("holder", 5)
	other := h.provider("other", 4)
	j := h.post()
	h.dispatch(j)

	var (
		wg       sync.WaitGroup
		won      atomic.Int32
		conflict atomic.Int32
	)
	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			who := holder.ID
			if i%2 == 1 {
				who = other.ID
			}
			_, err := h.coord.Accept(h.ctx, j.ID, who)
			switch {
			case err == nil:
				won.Add(1)
			case errors.Is(err, dispatch.ErrOfferConflict):
				conflict.Add(1)
			default:
				t.Errorf("Accept: %v", err)
			}
		}()
	}
	wg.Wait()

	if won.Load() != 1 || conflict.Load() != 31 {
		t.Fatalf("won = %d, conflicts = %d", won.Load(), conflict.Load())
	}
	got := h.jobStatus(j.ID, job.StatusAccepted)
	if got.ProviderID != holder.ID {
		t.Errorf("awarded to %s, want %s", got.ProviderID, holder.ID)
	}
	if h.rec.count("run.assigned") != 1 {
		t.Errorf("run.assigned emitted %d times", h.rec.count("run.assigned"))
	}
}

func TestAcceptAtDeadline(t *testing.T) {
	tests := []struct {
		name    string
		after   time.Duration
		wantErr error
	}{
		{"one second left", 299 * time.Second, nil},
		{"at deadline", 300 * time.Second, dispatch.ErrExpiredOffer},
		{"one second late", 301 * time.Second, dispatch.ErrExpiredOffer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			first := h.provider("first", 5)
			second := h.provider("second", 4)
			j := h.post()
			h.dispatch(j)

			h.clock.Advance(tt.after)
			_, err := h.coord.Accept(h.ctx, j.ID, first.ID)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Accept err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil {
				h.jobStatus(j.ID, job.StatusAccepted)
				return
			}
			// A late accept expires the offer and moves on.
			next := h.pending(j.ID)
			if next.ProviderID != second.ID {
				t.Fatalf("next offer to %s, want %s", next.ProviderID, second.ID)
			}
			if want := t0.Add(tt.after + 300*time.Second); !next.ExpiresAt.Equal(want) {
				t.Errorf("next expires_at = %v, want %v", next.ExpiresAt, want)
			}
		})
	}
}

func TestExhaustion(t *testing.T) {
	h := newHarness(t, nil)
	a := h.provider("a", 5)
	b := h.provider("b", 4)
	j := h.post()
	h.dispatch(j)

	for _, p := range []*provider.Provider{a, b} {
		if _, err := h.coord.Decline(h.ctx, j.ID, p.ID); err != nil {
			t.Fatalf("Decline %s: %v", p.Name, err)
		}
	}

	h.jobStatus(j.ID, job.StatusUnassigned)
	r := h.runState(j.ID, run.StateUnassignable)
	if r.Reason != run.ReasonExhausted {
		t.Errorf("reason = %s, want %s", r.Reason, run.ReasonExhausted)
	}
	if h.rec.count("run.unassignable") != 1 {
		t.Errorf("run.unassignable emitted %d times", h.rec.count("run.unassignable"))
	}

	// Nothing revives a finished run.
	if _, err := h.coord.Sweep(h.ctx); err != nil {
		t.Fatal(err)
	}
	if res := h.dispatch(j); res.QueueCreated || res.State != run.StateUnassignable {
		t.Errorf("redispatch = %+v", res)
	}
	if n := len(h.offers(j.ID)); n != 2 {
		t.Errorf("offers = %d, want 2", n)
	}
}

func TestCancelPreemptsPendingOffer(t *testing.T) {
	h := newHarness(t, nil)
	a := h.provider("a", 5)
	b := h.provider("b", 4)
	j := h.post()
	h.dispatch(j)
	if _, err := h.coord.Decline(h.ctx, j.ID, a.ID); err != nil {
		t.Fatal(err)
	}

	if err := h.coord.Cancel(h.ctx, j.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, err := h.coord.Accept(h.ctx, j.ID, b.ID); !errors.Is(err, dispatch.ErrOfferConflict) {
		t.Fatalf("accept after cancel err = %v, want ErrOfferConflict", err)
	}

	h.jobStatus(j.ID, job.StatusCancelled)
	h.runState(j.ID, run.StateCancelled)
	os := h.offers(j.ID)
	if last := os[len(os)-1]; last.ProviderID != b.ID || last.Response != offer.Expired {
		t.Errorf("preempted offer = %+v", last)
	}
	if h.rec.count("run.cancelled") != 1 || h.rec.count("run.unassignable") != 0 {
		t.Errorf("events = %v", h.rec.events)
	}
}

func TestCancelAfterAcceptRejected(t *testing.T) {
	h := newHarness(t, nil)
	a := h.provider("a", 5)
	j := h.post()
	h.dispatch(j)
	if _, err := h.coord.Accept(h.ctx, j.ID, a.ID); err != nil {
		t.Fatal(err)
	}
	if err := h.coord.Cancel(h.ctx, j.ID); !errors.Is(err, dispatch.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	h.jobStatus(j.ID, job.StatusAccepted)
}

// Job J1 with queue [A, B]: A declines at t+10s, B accepts at t+50s, A
// retries an accept at t+60s.
func TestScenarioDeclineThenAccept(t *testing.T) {
	h := newHarness(t, nil)
	a := h.provider("A", 5)
	b := h.provider("B", 3.5)
	j := h.post()

	res := h.dispatch(j)
	if res.Offer.ProviderID != a.ID || !res.Offer.ExpiresAt.Equal(t0.Add(300*time.Second)) {
		t.Fatalf("first offer = %+v", res.Offer)
	}

	h.clock.Advance(10 * time.Second)
	if _, err := h.coord.Decline(h.ctx, j.ID, a.ID); err != nil {
		t.Fatal(err)
	}
	ob := h.pending(j.ID)
	if ob.ProviderID != b.ID || !ob.ExpiresAt.Equal(t0.Add(310*time.Second)) {
		t.Fatalf("second offer = %+v", ob)
	}

	h.clock.Advance(40 * time.Second)
	if _, err := h.coord.Accept(h.ctx, j.ID, b.ID); err != nil {
		t.Fatal(err)
	}
	got := h.jobStatus(j.ID, job.StatusAccepted)
	if got.ProviderID != b.ID {
		t.Fatalf("provider = %s, want B", got.ProviderID)
	}

	h.clock.Advance(10 * time.Second)
	if _, err := h.coord.Accept(h.ctx, j.ID, a.ID); !errors.Is(err, dispatch.ErrOfferConflict) {
		t.Fatalf("late accept err = %v, want ErrOfferConflict", err)
	}
	if n := len(h.offers(j.ID)); n != 2 {
		t.Errorf("offers = %d, want 2", n)
	}
}

func TestResponseLatencyRecorded(t *testing.T) {
	h := newHarness(t, nil)
	a := h.provider("a", 5)
	j := h.post()
	h.dispatch(j)

	h.clock.Advance(40 * time.Second)
	if _, err := h.coord.Accept(h.ctx, j.ID, a.ID); err != nil {
		t.Fatal(err)
	}
	p, err := h.store.GetProvider(h.ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if p.AvgResponseSeconds <= 0 || p.Assigned != 1 {
		t.Errorf("avg = %v, assigned = %d", p.AvgResponseSeconds, p.Assigned)
	}
}

// ──────────────────────────────────────────────────
// Expiry and sweep
// ──────────────────────────────────────────────────

func TestExpireBeforeDeadline(t *testing.T) {
	h := newHarness(t, nil)
	h.provider("a", 5)
	j := h.post()
	h.dispatch(j)

	h.clock.Advance(299 * time.Second)
	if err := h.coord.Expire(h.ctx, j.ID); !errors.Is(err, dispatch.ErrLeaseActive) {
		t.Fatalf("err = %v, want ErrLeaseActive", err)
	}
	if o := h.pending(j.ID); o.Response != offer.Pending {
		t.Errorf("offer touched before deadline: %s", o.Response)
	}
}

func TestExpireIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	h.provider("a", 5)
	j := h.post()
	h.dispatch(j)

	h.clock.Advance(301 * time.Second)
	for range 3 {
		if err := h.coord.Expire(h.ctx, j.ID); err != nil {
			t.Fatalf("Expire: %v", err)
		}
	}
	h.runState(j.ID, run.StateUnassignable)
	if n := h.rec.count("offer.expired"); n != 1 {
		t.Errorf("offer.expired emitted %d times", n)
	}
}

func TestSweep(t *testing.T) {
	h := newHarness(t, nil)
	h.provider("a", 5)
	second := h.provider("b", 4)
	j1, j2 := h.post(), h.post()
	h.dispatch(j1)
	h.dispatch(j2)

	h.clock.Advance(200 * time.Second)
	if n, err := h.coord.Sweep(h.ctx); err != nil || n != 0 {
		t.Fatalf("early sweep = %d, %v", n, err)
	}

	h.clock.Advance(101 * time.Second)
	n, err := h.coord.Sweep(h.ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("moved = %d, want 2", n)
	}
	for _, j := range []*job.Job{j1, j2} {
		if o := h.pending(j.ID); o.ProviderID != second.ID {
			t.Errorf("job %s next offer to %s", j.ID, o.ProviderID)
		}
	}
}

func TestSweepResumesStalledRun(t *testing.T) {
	h := newHarness(t, nil)
	// Seed persists a run without claiming, as after a crash.
	f := storetest.Seed(t, h.store, 2)

	n, err := h.coord.Sweep(h.ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("moved = %d, want 1", n)
	}
	if o := h.pending(f.Job.ID); o.ProviderID != f.Providers[0].ID {
		t.Errorf("resumed offer to %s", o.ProviderID)
	}
}

// ──────────────────────────────────────────────────
// Store failures
// ──────────────────────────────────────────────────

func TestClaimRetriesTransientFailure(t *testing.T) {
	fs := &flaky{Store: memory.New()}
	h := newHarness(t, fs, coordinator.WithMaxClaimRetries(3))
	a := h.provider("a", 5)
	j := h.post()
	fs.fails.Store(2)

	res := h.dispatch(j)
	if res.Offer == nil || res.Offer.ProviderID != a.ID {
		t.Fatalf("offer = %+v", res.Offer)
	}
	if n := h.rec.count("claim.retrying"); n != 2 {
		t.Errorf("retries = %d, want 2", n)
	}
}

func TestClaimGivesUpAfterRetries(t *testing.T) {
	fs := &flaky{Store: memory.New()}
	h := newHarness(t, fs, coordinator.WithMaxClaimRetries(3))
	h.provider("a", 5)
	j := h.post()
	fs.fails.Store(100)

	_, err := h.coord.Dispatch(h.ctx, j.ID)
	if !errors.Is(err, dispatch.ErrStoreUnavailable) || !errors.Is(err, errDown) {
		t.Fatalf("err = %v, want ErrStoreUnavailable wrapping the cause", err)
	}
	if n := h.rec.count("claim.retrying"); n != 3 {
		t.Errorf("retries = %d, want 3", n)
	}
	if len(h.rec.alerts) != 1 {
		t.Errorf("alerts = %d, want 1", len(h.rec.alerts))
	}
	r := h.runState(j.ID, run.StateUnassignable)
	if r.Reason != run.ReasonStoreUnavailable {
		t.Errorf("reason = %s", r.Reason)
	}
	h.jobStatus(j.ID, job.StatusUnassigned)
}

func TestClaimRetryHonoursContext(t *testing.T) {
	fs := &flaky{Store: memory.New()}
	h := newHarness(t, fs, coordinator.WithBackoff(backoff.Constant(time.Minute)))
	h.provider("a", 5)
	j := h.post()
	fs.fails.Store(100)

	ctx, cancel := context.WithCancel(h.ctx)
	done := make(chan error, 1)
	go func() {
		_, err := h.coord.Dispatch(ctx, j.ID)
		done <- err
	}()
	if err := h.clock.BlockUntilContext(h.ctx, 1); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

// ──────────────────────────────────────────────────
// Work flow and reads
// ──────────────────────────────────────────────────

func TestUpdateWork(t *testing.T) {
	h := newHarness(t, nil)
	a := h.provider("a", 5)
	intruder := h.provider("b", 4)
	j := h.post()
	h.dispatch(j)
	if _, err := h.coord.Accept(h.ctx, j.ID, a.ID); err != nil {
		t.Fatal(err)
	}

	if _, err := h.coord.UpdateWork(h.ctx, j.ID, a.ID, job.StatusCompleted); !errors.Is(err, dispatch.ErrInvalidTransition) {
		t.Fatalf("skip ahead err = %v", err)
	}
	if _, err := h.coord.UpdateWork(h.ctx, j.ID, intruder.ID, job.StatusEnRoute); !errors.Is(err, dispatch.ErrInvalidTransition) {
		t.Fatalf("other provider err = %v", err)
	}
	for _, to := range []job.Status{job.StatusEnRoute, job.StatusInProgress, job.StatusCompleted} {
		if _, err := h.coord.UpdateWork(h.ctx, j.ID, a.ID, to); err != nil {
			t.Fatalf("UpdateWork %s: %v", to, err)
		}
	}
	done := h.jobStatus(j.ID, job.StatusCompleted)
	if done.CompletedAt == nil {
		t.Error("completed_at not set")
	}
	p, _ := h.store.GetProvider(h.ctx, a.ID)
	if p.Completed != 1 {
		t.Errorf("completed = %d, want 1", p.Completed)
	}
}

func TestCurrentOfferAndDetail(t *testing.T) {
	h := newHarness(t, nil)
	a := h.provider("a", 5)
	b := h.provider("b", 4)
	j := h.post()
	h.dispatch(j)

	d, err := h.coord.CurrentOffer(h.ctx, a.ID)
	if err != nil {
		t.Fatalf("CurrentOffer: %v", err)
	}
	if d.Job.ID != j.ID || d.Lease().Title != "Burst pipe" {
		t.Errorf("detail = %+v", d.Lease())
	}
	if _, err := h.coord.CurrentOffer(h.ctx, b.ID); !errors.Is(err, dispatch.ErrOfferNotFound) {
		t.Errorf("non-holder current err = %v", err)
	}
	if _, err := h.coord.OfferDetail(h.ctx, d.Offer.ID, b.ID); !errors.Is(err, dispatch.ErrOfferNotFound) {
		t.Errorf("non-holder detail err = %v", err)
	}

	h.clock.Advance(300 * time.Second)
	if _, err := h.coord.CurrentOffer(h.ctx, a.ID); !errors.Is(err, dispatch.ErrOfferNotFound) {
		t.Errorf("due offer still current: %v", err)
	}
}

func TestStats(t *testing.T) {
	h := newHarness(t, nil)
	a := h.provider("a", 5)
	j1, j2 := h.post(), h.post()
	h.dispatch(j1)
	h.dispatch(j2)
	if _, err := h.coord.Accept(h.ctx, j1.ID, a.ID); err != nil {
		t.Fatal(err)
	}

	s, err := h.coord.Stats(h.ctx)
	if err != nil {
		t.Fatal(err)
	}
	if s.Runs[run.StateAssigned] != 1 || s.Runs[run.StateOffering] != 1 || s.PendingOffers != 1 {
		t.Errorf("stats = %+v", s)
	}
}

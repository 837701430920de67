// Package coordinator drives dispatch runs.
//
// A run moves through one loop per candidate: claim the next candidate,
// wait for the offer to be resolved, and claim again on decline or expiry.
// It ends when an accept wins, when the queue is exhausted, or when the
// customer cancels. Every state change goes through one atomic store
// operation, so the coordinator itself holds no locks and any number of
// coordinators may drive the same jobs.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	dispatch "github.com/CorbanSy/PropDash-sub000"
	"github.com/CorbanSy/PropDash-sub000/backoff"
	"github.com/CorbanSy/PropDash-sub000/ext"
	"github.com/CorbanSy/PropDash-sub000/id"
	"github.com/CorbanSy/PropDash-sub000/job"
	"github.com/CorbanSy/PropDash-sub000/offer"
	"github.com/CorbanSy/PropDash-sub000/run"
	"github.com/CorbanSy/PropDash-sub000/store"
)

// Ranker computes a job's candidate queue.
type Ranker interface {
	Rank(ctx context.Context, j *job.Job) ([]run.Candidate, error)
}

// Armer schedules an offer's expiry for its deadline. The sweep catches
// anything an armer misses, so arming is best effort.
type Armer interface {
	Arm(o *offer.Offer)
	// Disarm cancels o's timer. A timer armed since for a later offer on
	// the same job stays.
	Disarm(o *offer.Offer)
}

// Result is what Dispatch reports to the posting flow.
type Result struct {
	JobID           id.JobID     `json:"job_id"`
	CandidatesFound int          `json:"candidates_found"`
	QueueCreated    bool         `json:"queue_created"`
	State           run.State    `json:"state"`
	Offer           *offer.Offer `json:"offer,omitempty"`
}

// Coordinator drives dispatch runs over a store.
type Coordinator struct {
	store      store.Store
	ranker     Ranker
	clock      clockwork.Clock
	ttl        time.Duration
	maxRetries int
	sweepBatch int
	backoff    backoff.Strategy
	exts       *ext.Registry
	logger     *slog.Logger
	armer      Armer
}

// New returns a Coordinator over s, ranking with r.
func New(s store.Store, r Ranker, opts ...Option) *Coordinator {
	cfg := dispatch.DefaultConfig()
	c := &Coordinator{
		store:      s,
		ranker:     r,
		clock:      clockwork.NewRealClock(),
		ttl:        cfg.OfferTTL,
		maxRetries: cfg.MaxClaimRetries,
		sweepBatch: cfg.SweepBatch,
		backoff:    backoff.DefaultStrategy(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.exts == nil {
		c.exts = ext.NewRegistry(c.logger)
	}
	return c
}

// SetArmer attaches the deadline timer after construction. The engine
// calls it once the worker pool exists.
func (c *Coordinator) SetArmer(a Armer) { c.armer = a }

// Store returns the underlying store.
func (c *Coordinator) Store() store.Store { return c.store }

// Clock returns the coordinator's clock.
func (c *Coordinator) Clock() clockwork.Clock { return c.clock }

// OfferTTL returns the lease window applied to new offers.
func (c *Coordinator) OfferTTL() time.Duration { return c.ttl }

// ──────────────────────────────────────────────────
// Dispatch
// ──────────────────────────────────────────────────

// Dispatch starts the run for jobID and issues its first offer. It is
// idempotent: when a run already exists it reports that run with
// QueueCreated false. A job with no eligible provider gets an
// unassignable run and dispatch.ErrNoCandidates alongside the result.
func (c *Coordinator) Dispatch(ctx context.Context, jobID id.JobID) (*Result, error) {
	if existing, err := c.store.GetRun(ctx, jobID); err == nil {
		return c.resume(ctx, existing)
	} else if !errors.Is(err, dispatch.ErrRunNotFound) {
		return nil, fmt.Errorf("coordinator: load run: %w", err)
	}

	j, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	cands, err := c.ranker.Rank(ctx, j)
	if err != nil {
		return nil, fmt.Errorf("coordinator: rank %s: %w", jobID, err)
	}

	r := run.New(jobID, len(cands), c.clock.Now())
	if err := c.store.CreateRun(ctx, r, cands); err != nil {
		if errors.Is(err, dispatch.ErrRunExists) {
			existing, gerr := c.store.GetRun(ctx, jobID)
			if gerr != nil {
				return nil, gerr
			}
			return c.resume(ctx, existing)
		}
		return nil, fmt.Errorf("coordinator: create run: %w", err)
	}

	c.logger.Info("dispatch run started",
		slog.String("job_id", jobID.String()),
		slog.Int("candidates", len(cands)),
	)
	c.exts.EmitRunStarted(ctx, r, cands)

	res := &Result{JobID: jobID, CandidatesFound: len(cands), QueueCreated: true, State: r.State}
	if len(cands) == 0 {
		c.logger.Warn("no eligible candidates", slog.String("job_id", jobID.String()))
		c.exts.EmitRunUnassignable(ctx, r)
		return res, dispatch.ErrNoCandidates
	}

	o, err := c.advance(ctx, jobID)
	res.Offer = o
	if err != nil {
		if errors.Is(err, dispatch.ErrCandidateExhausted) {
			res.State = run.StateUnassignable
			return res, nil
		}
		return res, err
	}
	if o == nil {
		res.State = c.stateOf(ctx, jobID)
	}
	return res, nil
}

// resume reports an existing run and restarts it when it was left
// offering with nothing pending.
func (c *Coordinator) resume(ctx context.Context, r *run.Run) (*Result, error) {
	res := &Result{JobID: r.JobID, CandidatesFound: r.CandidatesFound, State: r.State}
	if r.State != run.StateOffering {
		return res, nil
	}
	if p, err := c.store.PendingOffer(ctx, r.JobID); err == nil {
		res.Offer = p
		return res, nil
	}
	o, err := c.advance(ctx, r.JobID)
	if err != nil && !errors.Is(err, dispatch.ErrCandidateExhausted) {
		return res, err
	}
	res.Offer = o
	if o == nil {
		res.State = c.stateOf(ctx, r.JobID)
	}
	return res, nil
}

// ──────────────────────────────────────────────────
// Claim loop
// ──────────────────────────────────────────────────

// advance claims the next candidate, retrying transient store failures
// with backoff. A nil offer with nil error means another actor already
// advanced the run or it has ended.
func (c *Coordinator) advance(ctx context.Context, jobID id.JobID) (*offer.Offer, error) {
	for attempt := 1; ; attempt++ {
		o, err := c.store.ClaimNext(ctx, jobID, c.clock.Now(), c.ttl)
		switch {
		case err == nil:
			c.issued(ctx, o)
			return o, nil
		case errors.Is(err, dispatch.ErrOfferPending), errors.Is(err, dispatch.ErrRunTerminal):
			return nil, nil
		case errors.Is(err, dispatch.ErrCandidateExhausted):
			c.exhausted(ctx, jobID)
			return nil, err
		case !dispatch.IsTransient(err):
			return nil, err
		}

		if attempt > c.maxRetries {
			return nil, c.abandon(ctx, jobID, attempt, err)
		}
		delay := c.backoff.Delay(attempt)
		c.logger.Warn("claim failed, retrying",
			slog.String("job_id", jobID.String()),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		c.exts.EmitClaimRetrying(ctx, jobID, attempt, delay, err)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (c *Coordinator) issued(ctx context.Context, o *offer.Offer) {
	c.logger.Info("offer issued",
		slog.String("job_id", o.JobID.String()),
		slog.String("provider_id", o.ProviderID.String()),
		slog.Int("rank", o.Rank),
		slog.Time("expires_at", o.ExpiresAt),
	)
	if c.armer != nil {
		c.armer.Arm(o)
	}
	c.exts.EmitOfferIssued(ctx, o)
}

func (c *Coordinator) exhausted(ctx context.Context, jobID id.JobID) {
	c.logger.Warn("candidates exhausted, job unassigned", slog.String("job_id", jobID.String()))
	if r, err := c.store.GetRun(ctx, jobID); err == nil {
		c.exts.EmitRunUnassignable(ctx, r)
	}
}

// abandon ends the run after the claim retry budget is spent. If the
// store is still failing the run stays offering and the sweep picks it up
// again, so the job is never silently dropped.
func (c *Coordinator) abandon(ctx context.Context, jobID id.JobID, attempts int, cause error) error {
	err := fmt.Errorf("%w: claim for %s failed %d times: %w", dispatch.ErrStoreUnavailable, jobID, attempts, cause)
	c.logger.Error("dispatch run abandoned",
		slog.String("job_id", jobID.String()),
		slog.Int("attempts", attempts),
		slog.String("error", cause.Error()),
	)
	c.exts.EmitDispatchAlert(ctx, jobID, err)

	r, ferr := c.store.FailRun(ctx, jobID, run.ReasonStoreUnavailable, c.clock.Now())
	if ferr != nil {
		c.logger.Error("could not mark run unassignable",
			slog.String("job_id", jobID.String()),
			slog.String("error", ferr.Error()),
		)
		return err
	}
	c.exts.EmitRunUnassignable(ctx, r)
	return err
}

func (c *Coordinator) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-c.clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) stateOf(ctx context.Context, jobID id.JobID) run.State {
	r, err := c.store.GetRun(ctx, jobID)
	if err != nil {
		return run.StateOffering
	}
	return r.State
}

// ──────────────────────────────────────────────────
// Provider responses
// ──────────────────────────────────────────────────

// Accept resolves the provider's pending offer as accepted and awards
// the job. A lost race returns dispatch.ErrOfferConflict; an answer at or
// past the deadline returns dispatch.ErrExpiredOffer and triggers the
// expiry cascade.
func (c *Coordinator) Accept(ctx context.Context, jobID id.JobID, providerID id.ProviderID) (*offer.Offer, error) {
	o, err := c.respond(ctx, jobID, providerID, offer.Accepted)
	if err != nil {
		return nil, err
	}
	if r, err := c.store.GetRun(ctx, jobID); err == nil {
		c.exts.EmitRunAssigned(ctx, r)
	}
	c.logger.Info("offer accepted",
		slog.String("job_id", jobID.String()),
		slog.String("provider_id", providerID.String()),
	)
	return o, nil
}

// Decline resolves the provider's pending offer as declined and offers
// the job to the next candidate.
func (c *Coordinator) Decline(ctx context.Context, jobID id.JobID, providerID id.ProviderID) (*offer.Offer, error) {
	o, err := c.respond(ctx, jobID, providerID, offer.Declined)
	if err != nil {
		return nil, err
	}
	c.logger.Info("offer declined",
		slog.String("job_id", jobID.String()),
		slog.String("provider_id", providerID.String()),
	)
	c.cascade(ctx, jobID)
	return o, nil
}

func (c *Coordinator) respond(ctx context.Context, jobID id.JobID, providerID id.ProviderID, outcome offer.Response) (*offer.Offer, error) {
	now := c.clock.Now()
	o, err := c.store.ResolveOffer(ctx, jobID, providerID, outcome, now)
	if err != nil {
		if errors.Is(err, dispatch.ErrExpiredOffer) {
			if xerr := c.Expire(ctx, jobID); xerr != nil {
				c.logger.Warn("lazy expiry failed",
					slog.String("job_id", jobID.String()),
					slog.String("error", xerr.Error()),
				)
			}
		}
		return nil, err
	}
	c.resolved(ctx, o, now.Sub(o.IssuedAt), outcome == offer.Accepted)
	return o, nil
}

func (c *Coordinator) resolved(ctx context.Context, o *offer.Offer, latency time.Duration, accepted bool) {
	if c.armer != nil {
		c.armer.Disarm(o)
	}
	if err := c.store.RecordResponse(ctx, o.ProviderID, latency, accepted); err != nil {
		c.logger.Warn("record response latency",
			slog.String("provider_id", o.ProviderID.String()),
			slog.String("error", err.Error()),
		)
	}
	c.exts.EmitOfferResolved(ctx, o)
}

// cascade claims the next candidate after a decline or expiry. Failures
// are logged: the caller's own action already succeeded, and the sweep
// resumes any run left without a pending offer.
func (c *Coordinator) cascade(ctx context.Context, jobID id.JobID) {
	if _, err := c.advance(ctx, jobID); err != nil && !errors.Is(err, dispatch.ErrCandidateExhausted) {
		c.logger.Error("cascade failed",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// ──────────────────────────────────────────────────
// Expiry, cancellation, sweep
// ──────────────────────────────────────────────────

// Expire resolves the job's pending offer as expired once its deadline
// has passed and cascades. It is idempotent: a job with nothing pending,
// or whose offer was resolved concurrently, is left alone. An offer not
// yet due yields dispatch.ErrLeaseActive.
func (c *Coordinator) Expire(ctx context.Context, jobID id.JobID) error {
	pending, err := c.store.PendingOffer(ctx, jobID)
	if errors.Is(err, dispatch.ErrOfferNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	now := c.clock.Now()
	if !pending.Due(now) {
		return dispatch.ErrLeaseActive
	}

	o, err := c.store.ResolveOffer(ctx, jobID, pending.ProviderID, offer.Expired, now)
	if errors.Is(err, dispatch.ErrOfferConflict) {
		return nil
	}
	if err != nil {
		return err
	}
	c.logger.Info("offer expired",
		slog.String("job_id", jobID.String()),
		slog.String("provider_id", o.ProviderID.String()),
	)
	c.resolved(ctx, o, o.ExpiresAt.Sub(o.IssuedAt), false)
	c.cascade(ctx, jobID)
	return nil
}

// Cancel withdraws a job during dispatch. The pending offer, if any, is
// expired without cascade and can no longer be accepted.
func (c *Coordinator) Cancel(ctx context.Context, jobID id.JobID) error {
	o, err := c.store.CancelDispatch(ctx, jobID, c.clock.Now())
	if err != nil {
		return err
	}
	if o != nil {
		if c.armer != nil {
			c.armer.Disarm(o)
		}
		c.exts.EmitOfferResolved(ctx, o)
	}
	c.exts.EmitRunCancelled(ctx, jobID)
	c.logger.Info("dispatch cancelled", slog.String("job_id", jobID.String()))
	return nil
}

// Sweep expires every due offer and restarts runs left offering with no
// pending offer, which happens after a crash between resolve and claim.
// It returns how many runs it moved.
func (c *Coordinator) Sweep(ctx context.Context) (int, error) {
	moved := 0
	due, err := c.store.ListExpired(ctx, c.clock.Now(), c.sweepBatch)
	if err != nil {
		return 0, fmt.Errorf("coordinator: list expired: %w", err)
	}
	for _, o := range due {
		if err := c.Expire(ctx, o.JobID); err != nil {
			c.logger.Warn("sweep expiry failed",
				slog.String("job_id", o.JobID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		moved++
	}

	stalled, err := c.store.ListRuns(ctx, run.ListOpts{State: run.StateOffering, Limit: c.sweepBatch})
	if err != nil {
		return moved, fmt.Errorf("coordinator: list runs: %w", err)
	}
	for _, r := range stalled {
		if _, err := c.store.PendingOffer(ctx, r.JobID); !errors.Is(err, dispatch.ErrOfferNotFound) {
			continue
		}
		o, err := c.advance(ctx, r.JobID)
		switch {
		case o != nil, errors.Is(err, dispatch.ErrCandidateExhausted):
			moved++
		case err != nil:
			c.logger.Warn("sweep resume failed",
				slog.String("job_id", r.JobID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	return moved, nil
}

// ──────────────────────────────────────────────────
// Work updates and reads
// ──────────────────────────────────────────────────

// UpdateWork moves an accepted job one step along the awarded provider's
// work flow.
func (c *Coordinator) UpdateWork(ctx context.Context, jobID id.JobID, providerID id.ProviderID, to job.Status) (*job.Job, error) {
	j, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	updated, err := c.store.AdvanceWork(ctx, jobID, providerID, j.Status, to, c.clock.Now())
	if err != nil {
		return nil, err
	}
	if to == job.StatusCompleted {
		if err := c.store.RecordCompletion(ctx, providerID); err != nil {
			c.logger.Warn("record completion",
				slog.String("provider_id", providerID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	c.exts.EmitWorkAdvanced(ctx, updated)
	return updated, nil
}

// CurrentOffer returns the provider's live offer with its job, or
// dispatch.ErrOfferNotFound.
func (c *Coordinator) CurrentOffer(ctx context.Context, providerID id.ProviderID) (*offer.Detail, error) {
	o, err := c.store.CurrentForProvider(ctx, providerID, c.clock.Now())
	if err != nil {
		return nil, err
	}
	return c.detail(ctx, o)
}

// OfferDetail returns one of the provider's offers with its job. Offers
// held by someone else are reported as not found.
func (c *Coordinator) OfferDetail(ctx context.Context, offerID id.OfferID, providerID id.ProviderID) (*offer.Detail, error) {
	o, err := c.store.GetOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if o.ProviderID != providerID {
		return nil, dispatch.ErrOfferNotFound
	}
	return c.detail(ctx, o)
}

func (c *Coordinator) detail(ctx context.Context, o *offer.Offer) (*offer.Detail, error) {
	j, err := c.store.GetJob(ctx, o.JobID)
	if err != nil {
		return nil, err
	}
	return &offer.Detail{Offer: o, Job: j}, nil
}

// Stats is a point-in-time summary of dispatch activity.
type Stats struct {
	Runs          map[run.State]int64 `json:"runs"`
	PendingOffers int64               `json:"pending_offers"`
}

// Stats counts runs by state and pending offers.
func (c *Coordinator) Stats(ctx context.Context) (*Stats, error) {
	s := &Stats{Runs: make(map[run.State]int64, 4)}
	for _, st := range []run.State{run.StateOffering, run.StateAssigned, run.StateUnassignable, run.StateCancelled} {
		n, err := c.store.CountRuns(ctx, st)
		if err != nil {
			return nil, err
		}
		s.Runs[st] = n
	}
	n, err := c.store.CountPending(ctx)
	if err != nil {
		return nil, err
	}
	s.PendingOffers = n
	return s, nil
}

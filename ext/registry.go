package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/CorbanSy/PropDash-sub000/id"
	"github.com/CorbanSy/PropDash-sub000/job"
	"github.com/CorbanSy/PropDash-sub000/offer"
	"github.com/CorbanSy/PropDash-sub000/run"
)

// entry pairs a hook with the extension name captured at registration.
type entry[H any] struct {
	name string
	hook H
}

// cache appends e to list when it implements H.
func cache[H any](list []entry[H], name string, e Extension) []entry[H] {
	if h, ok := e.(H); ok {
		return append(list, entry[H]{name: name, hook: h})
	}
	return list
}

// Registry fans lifecycle events out to registered extensions. Hooks are
// type-cached at registration, so an emit only visits extensions that
// implement it. Registration happens during setup; emits are safe for
// concurrent use afterwards.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	runStarted      []entry[RunStarted]
	runAssigned     []entry[RunAssigned]
	runUnassignable []entry[RunUnassignable]
	runCancelled    []entry[RunCancelled]
	offerIssued     []entry[OfferIssued]
	offerResolved   []entry[OfferResolved]
	claimRetrying   []entry[ClaimRetrying]
	dispatchAlert   []entry[DispatchAlert]
	workAdvanced    []entry[WorkAdvanced]
	shutdown        []entry[Shutdown]
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension. Extensions are notified in registration
// order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	r.runStarted = cache(r.runStarted, name, e)
	r.runAssigned = cache(r.runAssigned, name, e)
	r.runUnassignable = cache(r.runUnassignable, name, e)
	r.runCancelled = cache(r.runCancelled, name, e)
	r.offerIssued = cache(r.offerIssued, name, e)
	r.offerResolved = cache(r.offerResolved, name, e)
	r.claimRetrying = cache(r.claimRetrying, name, e)
	r.dispatchAlert = cache(r.dispatchAlert, name, e)
	r.workAdvanced = cache(r.workAdvanced, name, e)
	r.shutdown = cache(r.shutdown, name, e)
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// EmitRunStarted notifies RunStarted hooks.
func (r *Registry) EmitRunStarted(ctx context.Context, rn *run.Run, candidates []run.Candidate) {
	for _, e := range r.runStarted {
		r.check("OnRunStarted", e.name, e.hook.OnRunStarted(ctx, rn, candidates))
	}
}

// EmitRunAssigned notifies RunAssigned hooks.
func (r *Registry) EmitRunAssigned(ctx context.Context, rn *run.Run) {
	for _, e := range r.runAssigned {
		r.check("OnRunAssigned", e.name, e.hook.OnRunAssigned(ctx, rn))
	}
}

// EmitRunUnassignable notifies RunUnassignable hooks.
func (r *Registry) EmitRunUnassignable(ctx context.Context, rn *run.Run) {
	for _, e := range r.runUnassignable {
		r.check("OnRunUnassignable", e.name, e.hook.OnRunUnassignable(ctx, rn))
	}
}

// EmitRunCancelled notifies RunCancelled hooks.
func (r *Registry) EmitRunCancelled(ctx context.Context, jobID id.JobID) {
	for _, e := range r.runCancelled {
		r.check("OnRunCancelled", e.name, e.hook.OnRunCancelled(ctx, jobID))
	}
}

// EmitOfferIssued notifies OfferIssued hooks.
func (r *Registry) EmitOfferIssued(ctx context.Context, o *offer.Offer) {
	for _, e := range r.offerIssued {
		r.check("OnOfferIssued", e.name, e.hook.OnOfferIssued(ctx, o))
	}
}

// EmitOfferResolved notifies OfferResolved hooks.
func (r *Registry) EmitOfferResolved(ctx context.Context, o *offer.Offer) {
	for _, e := range r.offerResolved {
		r.check("OnOfferResolved", e.name, e.hook.OnOfferResolved(ctx, o))
	}
}

// EmitClaimRetrying notifies ClaimRetrying hooks.
func (r *Registry) EmitClaimRetrying(ctx context.Context, jobID id.JobID, attempt int, delay time.Duration, cause error) {
	for _, e := range r.claimRetrying {
		r.check("OnClaimRetrying", e.name, e.hook.OnClaimRetrying(ctx, jobID, attempt, delay, cause))
	}
}

// EmitDispatchAlert notifies DispatchAlert hooks.
func (r *Registry) EmitDispatchAlert(ctx context.Context, jobID id.JobID, cause error) {
	for _, e := range r.dispatchAlert {
		r.check("OnDispatchAlert", e.name, e.hook.OnDispatchAlert(ctx, jobID, cause))
	}
}

// EmitWorkAdvanced notifies WorkAdvanced hooks.
func (r *Registry) EmitWorkAdvanced(ctx context.Context, j *job.Job) {
	for _, e := range r.workAdvanced {
		r.check("OnWorkAdvanced", e.name, e.hook.OnWorkAdvanced(ctx, j))
	}
}

// EmitShutdown notifies Shutdown hooks.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		r.check("OnShutdown", e.name, e.hook.OnShutdown(ctx))
	}
}

// check logs a hook failure. Hook errors never reach the caller.
func (r *Registry) check(hook, extName string, err error) {
	if err == nil {
		return
	}
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}

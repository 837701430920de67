package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

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
	_ ext.DispatchAlert   = (*Extension)(nil)
	_ ext.WorkAdvanced    = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one entry of the audit trail.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges dispatch lifecycle events to an audit trail backend.
// Each lifecycle hook emits a structured audit event through the [Recorder].
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Run lifecycle hooks ─────────────────────────────

// OnRunStarted implements ext.RunStarted.
func (e *Extension) OnRunStarted(ctx context.Context, r *run.Run, candidates []run.Candidate) error {
	ranked := make([]string, len(candidates))
	for i, c := range candidates {
		ranked[i] = c.ProviderID.String()
	}
	return e.record(ctx, ActionRunStarted, SeverityInfo, OutcomeSuccess,
		ResourceJob, r.JobID.String(), CategoryRun, "",
		"run_id", r.ID.String(),
		"candidates_found", r.CandidatesFound,
		"ranked", ranked,
	)
}

// OnRunAssigned implements ext.RunAssigned.
func (e *Extension) OnRunAssigned(ctx context.Context, r *run.Run) error {
	return e.record(ctx, ActionRunAssigned, SeverityInfo, OutcomeSuccess,
		ResourceJob, r.JobID.String(), CategoryRun, "",
		"run_id", r.ID.String(),
		"provider_id", r.ProviderID.String(),
		"offers_made", r.Cursor,
	)
}

// OnRunUnassignable implements ext.RunUnassignable.
func (e *Extension) OnRunUnassignable(ctx context.Context, r *run.Run) error {
	return e.record(ctx, ActionRunUnassignable, SeverityWarning, OutcomeFailure,
		ResourceJob, r.JobID.String(), CategoryRun, string(r.Reason),
		"run_id", r.ID.String(),
		"candidates_found", r.CandidatesFound,
	)
}

// OnRunCancelled implements ext.RunCancelled.
func (e *Extension) OnRunCancelled(ctx context.Context, jobID id.JobID) error {
	return e.record(ctx, ActionRunCancelled, SeverityInfo, OutcomeSuccess,
		ResourceJob, jobID.String(), CategoryRun, "")
}

// ── Offer lifecycle hooks ───────────────────────────

// OnOfferIssued implements ext.OfferIssued.
func (e *Extension) OnOfferIssued(ctx context.Context, o *offer.Offer) error {
	return e.record(ctx, ActionOfferIssued, SeverityInfo, OutcomeSuccess,
		ResourceOffer, o.ID.String(), CategoryOffer, "",
		"job_id", o.JobID.String(),
		"provider_id", o.ProviderID.String(),
		"rank", o.Rank,
		"expires_at", o.ExpiresAt.Format(time.RFC3339),
	)
}

// OnOfferResolved implements ext.OfferResolved.
func (e *Extension) OnOfferResolved(ctx context.Context, o *offer.Offer) error {
	var action, outcome string
	switch o.Response {
	case offer.Accepted:
		action, outcome = ActionOfferAccepted, OutcomeSuccess
	case offer.Declined:
		action, outcome = ActionOfferDeclined, OutcomeFailure
	case offer.Expired:
		action, outcome = ActionOfferExpired, OutcomeFailure
	default:
		return nil
	}
	kv := []any{
		"job_id", o.JobID.String(),
		"provider_id", o.ProviderID.String(),
		"rank", o.Rank,
	}
	if o.ResolvedAt != nil {
		kv = append(kv, "response_ms", o.ResolvedAt.Sub(o.IssuedAt).Milliseconds())
	}
	return e.record(ctx, action, SeverityInfo, outcome,
		ResourceOffer, o.ID.String(), CategoryOffer, "", kv...)
}

// OnDispatchAlert implements ext.DispatchAlert.
func (e *Extension) OnDispatchAlert(ctx context.Context, jobID id.JobID, cause error) error {
	var reason string
	if cause != nil {
		reason = cause.Error()
	}
	return e.record(ctx, ActionDispatchAlert, SeverityCritical, OutcomeFailure,
		ResourceJob, jobID.String(), CategoryRun, reason)
}

// ── Job lifecycle hooks ─────────────────────────────

// OnWorkAdvanced implements ext.WorkAdvanced.
func (e *Extension) OnWorkAdvanced(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionWorkAdvanced, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, "",
		"status", string(j.Status),
		"provider_id", j.ProviderID.String(),
	)
}

// ── Internal helpers ────────────────────────────────

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
// Recorder failures are logged and never fail the transition.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	reason string,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			slog.String("action", action),
			slog.String("resource_id", resourceID),
			slog.String("error", recErr.Error()),
		)
	}
	return nil
}

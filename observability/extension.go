package observability

import (
	"context"
	"time"

	gu "github.com/xraph/go-utils/metrics"

	"github.com/CorbanSy/PropDash-sub000/ext"
	"github.com/CorbanSy/PropDash-sub000/id"
	"github.com/CorbanSy/PropDash-sub000/job"
	"github.com/CorbanSy/PropDash-sub000/offer"
	"github.com/CorbanSy/PropDash-sub000/run"
)

// Compile-time interface checks.
var (
	_ ext.Extension       = (*MetricsExtension)(nil)
	_ ext.RunStarted      = (*MetricsExtension)(nil)
	_ ext.RunAssigned     = (*MetricsExtension)(nil)
	_ ext.RunUnassignable = (*MetricsExtension)(nil)
	_ ext.RunCancelled    = (*MetricsExtension)(nil)
	_ ext.OfferIssued     = (*MetricsExtension)(nil)
	_ ext.OfferResolved   = (*MetricsExtension)(nil)
	_ ext.ClaimRetrying   = (*MetricsExtension)(nil)
	_ ext.DispatchAlert   = (*MetricsExtension)(nil)
	_ ext.WorkAdvanced    = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide dispatch counters via a go-utils
// MetricFactory: runs by outcome, offers by response, claim retries and
// alerts raised when the store stays unavailable.
type MetricsExtension struct {
	RunStarted      gu.Counter
	RunAssigned     gu.Counter
	RunUnassignable gu.Counter
	RunCancelled    gu.Counter
	OfferIssued     gu.Counter
	OfferAccepted   gu.Counter
	OfferDeclined   gu.Counter
	OfferExpired    gu.Counter
	ClaimRetried    gu.Counter
	DispatchAlert   gu.Counter
	WorkCompleted   gu.Counter
}

// NewMetricsExtension creates a MetricsExtension using a default metrics collector.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithFactory(gu.NewMetricsCollector("dispatch/observability"))
}

// NewMetricsExtensionWithFactory creates a MetricsExtension with the provided MetricFactory.
// Use fapp.Metrics() in forge extensions, or gu.NewMetricsCollector for testing.
func NewMetricsExtensionWithFactory(factory gu.MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		RunStarted:      factory.Counter("dispatch.run.started"),
		RunAssigned:     factory.Counter("dispatch.run.assigned"),
		RunUnassignable: factory.Counter("dispatch.run.unassignable"),
		RunCancelled:    factory.Counter("dispatch.run.cancelled"),
		OfferIssued:     factory.Counter("dispatch.offer.issued"),
		OfferAccepted:   factory.Counter("dispatch.offer.accepted"),
		OfferDeclined:   factory.Counter("dispatch.offer.declined"),
		OfferExpired:    factory.Counter("dispatch.offer.expired"),
		ClaimRetried:    factory.Counter("dispatch.claim.retried"),
		DispatchAlert:   factory.Counter("dispatch.alert"),
		WorkCompleted:   factory.Counter("dispatch.work.completed"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ──────────────────────────────────────────────────
// Run lifecycle hooks
// ──────────────────────────────────────────────────

// OnRunStarted implements ext.RunStarted.
func (m *MetricsExtension) OnRunStarted(_ context.Context, _ *run.Run, _ []run.Candidate) error {
	m.RunStarted.Inc()
	return nil
}

// OnRunAssigned implements ext.RunAssigned.
func (m *MetricsExtension) OnRunAssigned(_ context.Context, _ *run.Run) error {
	m.RunAssigned.Inc()
	return nil
}

// OnRunUnassignable implements ext.RunUnassignable.
func (m *MetricsExtension) OnRunUnassignable(_ context.Context, _ *run.Run) error {
	m.RunUnassignable.Inc()
	return nil
}

// OnRunCancelled implements ext.RunCancelled.
func (m *MetricsExtension) OnRunCancelled(_ context.Context, _ id.JobID) error {
	m.RunCancelled.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Offer lifecycle hooks
// ──────────────────────────────────────────────────

// OnOfferIssued implements ext.OfferIssued.
func (m *MetricsExtension) OnOfferIssued(_ context.Context, _ *offer.Offer) error {
	m.OfferIssued.Inc()
	return nil
}

// OnOfferResolved implements ext.OfferResolved. An offer withdrawn by a
// cancellation is resolved as expired and counted here too.
func (m *MetricsExtension) OnOfferResolved(_ context.Context, o *offer.Offer) error {
	switch o.Response {
	case offer.Accepted:
		m.OfferAccepted.Inc()
	case offer.Declined:
		m.OfferDeclined.Inc()
	case offer.Expired:
		m.OfferExpired.Inc()
	}
	return nil
}

// OnClaimRetrying implements ext.ClaimRetrying.
func (m *MetricsExtension) OnClaimRetrying(_ context.Context, _ id.JobID, _ int, _ time.Duration, _ error) error {
	m.ClaimRetried.Inc()
	return nil
}

// OnDispatchAlert implements ext.DispatchAlert.
func (m *MetricsExtension) OnDispatchAlert(_ context.Context, _ id.JobID, _ error) error {
	m.DispatchAlert.Inc()
	return nil
}

// OnWorkAdvanced implements ext.WorkAdvanced.
func (m *MetricsExtension) OnWorkAdvanced(_ context.Context, j *job.Job) error {
	if j.Status == job.StatusCompleted {
		m.WorkCompleted.Inc()
	}
	return nil
}

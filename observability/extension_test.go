package observability_test

import (
	"context"
	"errors"
	"testing"
	"time"

	gu "github.com/xraph/go-utils/metrics"

	"github.com/CorbanSy/PropDash-sub000/id"
	"github.com/CorbanSy/PropDash-sub000/job"
	"github.com/CorbanSy/PropDash-sub000/observability"
	"github.com/CorbanSy/PropDash-sub000/offer"
	"github.com/CorbanSy/PropDash-sub000/run"
)

var t0 = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

func newTestExtension() *observability.MetricsExtension {
	return observability.NewMetricsExtensionWithFactory(gu.NewMetricsCollector("test"))
}

func newTestRun() *run.Run {
	return run.New(id.NewJobID(), 3, t0)
}

func newTestOffer(resp offer.Response) *offer.Offer {
	o := offer.New(id.NewJobID(), id.NewProviderID(), 0, t0, offer.DefaultTTL)
	o.Response = resp
	return o
}

func TestMetricsExtension_Name(t *testing.T) {
	e := newTestExtension()
	if e.Name() != "observability-metrics" {
		t.Errorf("expected name %q, got %q", "observability-metrics", e.Name())
	}
}

func TestMetricsExtension_RunHooks(t *testing.T) {
	e := newTestExtension()
	ctx := context.Background()
	r := newTestRun()

	if err := e.OnRunStarted(ctx, r, nil); err != nil {
		t.Fatalf("OnRunStarted: %v", err)
	}
	if err := e.OnRunAssigned(ctx, r); err != nil {
		t.Fatalf("OnRunAssigned: %v", err)
	}
	if err := e.OnRunUnassignable(ctx, r); err != nil {
		t.Fatalf("OnRunUnassignable: %v", err)
	}
	if err := e.OnRunCancelled(ctx, r.JobID); err != nil {
		t.Fatalf("OnRunCancelled: %v", err)
	}

	for name, c := range map[string]gu.Counter{
		"RunStarted":      e.RunStarted,
		"RunAssigned":     e.RunAssigned,
		"RunUnassignable": e.RunUnassignable,
		"RunCancelled":    e.RunCancelled,
	} {
		if c.Value() != 1 {
			t.Errorf("%s: want 1, got %v", name, c.Value())
		}
	}
}

func TestMetricsExtension_OfferResolvedByResponse(t *testing.T) {
	e := newTestExtension()
	ctx := context.Background()

	for _, resp := range []offer.Response{offer.Accepted, offer.Declined, offer.Declined, offer.Expired} {
		if err := e.OnOfferResolved(ctx, newTestOffer(resp)); err != nil {
			t.Fatalf("OnOfferResolved: %v", err)
		}
	}

	if e.OfferAccepted.Value() != 1 {
		t.Errorf("OfferAccepted: want 1, got %v", e.OfferAccepted.Value())
	}
	if e.OfferDeclined.Value() != 2 {
		t.Errorf("OfferDeclined: want 2, got %v", e.OfferDeclined.Value())
	}
	if e.OfferExpired.Value() != 1 {
		t.Errorf("OfferExpired: want 1, got %v", e.OfferExpired.Value())
	}
}

func TestMetricsExtension_OfferIssued(t *testing.T) {
	e := newTestExtension()
	if err := e.OnOfferIssued(context.Background(), newTestOffer(offer.Pending)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.OfferIssued.Value() != 1 {
		t.Errorf("OfferIssued: want 1, got %v", e.OfferIssued.Value())
	}
}

func TestMetricsExtension_ClaimRetryAndAlert(t *testing.T) {
	e := newTestExtension()
	ctx := context.Background()
	jobID := id.NewJobID()
	cause := errors.New("connection refused")

	for attempt := 1; attempt <= 3; attempt++ {
		if err := e.OnClaimRetrying(ctx, jobID, attempt, time.Second, cause); err != nil {
			t.Fatalf("OnClaimRetrying: %v", err)
		}
	}
	if err := e.OnDispatchAlert(ctx, jobID, cause); err != nil {
		t.Fatalf("OnDispatchAlert: %v", err)
	}

	if e.ClaimRetried.Value() != 3 {
		t.Errorf("ClaimRetried: want 3, got %v", e.ClaimRetried.Value())
	}
	if e.DispatchAlert.Value() != 1 {
		t.Errorf("DispatchAlert: want 1, got %v", e.DispatchAlert.Value())
	}
}

func TestMetricsExtension_WorkCompletedOnly(t *testing.T) {
	e := newTestExtension()
	ctx := context.Background()

	for _, st := range []job.Status{job.StatusEnRoute, job.StatusInProgress, job.StatusCompleted} {
		if err := e.OnWorkAdvanced(ctx, &job.Job{ID: id.NewJobID(), Status: st}); err != nil {
			t.Fatalf("OnWorkAdvanced: %v", err)
		}
	}
	if e.WorkCompleted.Value() != 1 {
		t.Errorf("WorkCompleted: want 1, got %v", e.WorkCompleted.Value())
	}
}

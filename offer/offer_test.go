package offer_test

import (
	"testing"
	"time"

	"github.com/CorbanSy/PropDash-sub000/id"
	"github.com/CorbanSy/PropDash-sub000/job"
	"github.com/CorbanSy/PropDash-sub000/offer"
)

func TestLeaseWindow(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	o := offer.New(id.NewJobID(), id.NewProviderID(), 1, t0, offer.DefaultTTL)

	if !o.ExpiresAt.Equal(t0.Add(300 * time.Second)) {
		t.Fatalf("expires_at = %v", o.ExpiresAt)
	}

	tests := []struct {
		name       string
		at         time.Time
		actionable bool
		remaining  time.Duration
	}{
		{"at issue", t0, true, 300 * time.Second},
		{"one second left", t0.Add(299 * time.Second), true, time.Second},
		{"at deadline", t0.Add(300 * time.Second), false, 0},
		{"past deadline", t0.Add(301 * time.Second), false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := o.Actionable(tt.at); got != tt.actionable {
				t.Errorf("Actionable = %v, want %v", got, tt.actionable)
			}
			if got := o.Remaining(tt.at); got != tt.remaining {
				t.Errorf("Remaining = %v, want %v", got, tt.remaining)
			}
		})
	}

	o.Response = offer.Declined
	if o.Actionable(t0) {
		t.Error("resolved offer must not be actionable")
	}
}

func TestResponseOutcome(t *testing.T) {
	for r, want := range map[offer.Response]bool{
		offer.Pending:  false,
		offer.Accepted: true,
		offer.Declined: true,
		offer.Expired:  true,
		"bogus":        false,
	} {
		if r.Outcome() != want {
			t.Errorf("%q.Outcome() = %v", r, !want)
		}
	}
}

func TestDetailLease(t *testing.T) {
	now := time.Now()
	j := &job.Job{ID: id.NewJobID(), Category: "hvac", Title: "No heat", PriceCents: 9000, Schedule: job.ScheduleASAP}
	j.Location.Area = "60614"
	o := offer.New(j.ID, id.NewProviderID(), 2, now, time.Minute)

	l := (&offer.Detail{Offer: o, Job: j}).Lease()
	if l.OfferID != o.ID || l.JobID != j.ID || l.Area != "60614" || l.PriceCents != 9000 {
		t.Errorf("lease = %+v", l)
	}
	if !l.ExpiresAt.Equal(o.ExpiresAt) {
		t.Errorf("lease deadline %v != offer deadline %v", l.ExpiresAt, o.ExpiresAt)
	}
}

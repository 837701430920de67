package ranking_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/CorbanSy/PropDash-sub000/geo"
	"github.com/CorbanSy/PropDash-sub000/id"
	"github.com/CorbanSy/PropDash-sub000/job"
	"github.com/CorbanSy/PropDash-sub000/provider"
	"github.com/CorbanSy/PropDash-sub000/ranking"
	"github.com/CorbanSy/PropDash-sub000/store/memory"
)

var origin = geo.Point{Lat: 40.0, Lng: -75.0}

func north(km float64) geo.Point {
	return geo.Point{Lat: origin.Lat + km/111.19, Lng: origin.Lng}
}

func prov(t *testing.T, s *memory.Store, raw string, mut func(*provider.Provider)) *provider.Provider {
	t.Helper()
	p := &provider.Provider{
		ID:              id.MustParseAs(raw, id.PrefixProvider),
		Categories:      []string{"plumbing"},
		Location:        origin,
		ServiceRadiusKm: 50,
		Available:       true,
		Rating:          4,
	}
	if mut != nil {
		mut(p)
	}
	if err := s.UpsertProvider(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	return p
}

func newJob() *job.Job {
	return job.New(id.NewCustomerID(), "plumbing", geo.Location{Point: origin}, time.Now())
}

func TestRankOrdering(t *testing.T) {
	s := memory.New()
	a := prov(t, s, "prov_01h2xcejqtf2nbrexx3vqjhp4a", func(p *provider.Provider) {
		p.Rating = 5
		p.Location = north(2)
		p.AvgResponseSeconds = 30
		p.Assigned, p.Completed = 10, 10
	})
	b := prov(t, s, "prov_01h2xcejqtf2nbrexx3vqjhp4b", func(p *provider.Provider) {
		p.Location = north(2)
	})
	c := prov(t, s, "prov_01h2xcejqtf2nbrexx3vqjhp4c", func(p *provider.Provider) {
		p.Location = north(10)
	})
	// Unavailable, wrong category and out of range providers are dropped.
	prov(t, s, "prov_01h2xcejqtf2nbrexx3vqjhp4d", func(p *provider.Provider) { p.Available = false })
	prov(t, s, "prov_01h2xcejqtf2nbrexx3vqjhp4e", func(p *provider.Provider) { p.Categories = []string{"hvac"} })
	prov(t, s, "prov_01h2xcejqtf2nbrexx3vqjhp4f", func(p *provider.Provider) {
		p.Location = north(80)
	})

	got, err := ranking.New(s).Rank(context.Background(), newJob())
	if err != nil {
		t.Fatal(err)
	}
	want := []id.ProviderID{a.ID, b.ID, c.ID}
	if len(got) != len(want) {
		t.Fatalf("got %d candidates, want %d: %+v", len(got), len(want), got)
	}
	for i, c := range got {
		if c.ProviderID != want[i] {
			t.Errorf("rank %d = %s, want %s", i+1, c.ProviderID, want[i])
		}
		if c.Rank != i+1 {
			t.Errorf("rank field = %d, want %d", c.Rank, i+1)
		}
	}
	if math.Abs(got[0].Score-100) > 1e-9 {
		t.Errorf("top score = %v, want 100", got[0].Score)
	}
	if got[0].Bucket != 0 || got[2].Bucket != 1 {
		t.Errorf("buckets = %d, %d", got[0].Bucket, got[2].Bucket)
	}
}

func TestRankTieBreaks(t *testing.T) {
	s := memory.New()
	// Same bucket (both within 5 km) and same score components apart from
	// distance, so ID decides.
	late := prov(t, s, "prov_01h2xcejqtf2nbrexx3vqjhp49", func(p *provider.Provider) { p.Location = north(1) })
	early := prov(t, s, "prov_01h2xcejqtf2nbrexx3vqjhp41", func(p *provider.Provider) { p.Location = north(4) })

	r := ranking.New(s)
	for range 5 {
		got, err := r.Rank(context.Background(), newJob())
		if err != nil {
			t.Fatal(err)
		}
		if got[0].ProviderID != early.ID || got[1].ProviderID != late.ID {
			t.Fatalf("tie not broken by provider ID: %v, %v", got[0].ProviderID, got[1].ProviderID)
		}
	}
}

func TestRankBucketBeforeRating(t *testing.T) {
	// With proximity weighted out, a closer provider still wins a score tie.
	s := memory.New()
	far := prov(t, s, "prov_01h2xcejqtf2nbrexx3vqjhp41", func(p *provider.Provider) { p.Location = north(20) })
	near := prov(t, s, "prov_01h2xcejqtf2nbrexx3vqjhp42", func(p *provider.Provider) { p.Location = north(1) })

	w := ranking.DefaultWeights()
	w.Proximity = 0
	got, err := ranking.New(s, ranking.WithWeights(w)).Rank(context.Background(), newJob())
	if err != nil {
		t.Fatal(err)
	}
	if got[0].ProviderID != near.ID || got[1].ProviderID != far.ID {
		t.Errorf("order = %v, %v; want near before far", got[0].ProviderID, got[1].ProviderID)
	}
}

func TestRankMaxCandidates(t *testing.T) {
	s := memory.New()
	for range 5 {
		prov(t, s, id.NewProviderID().String(), nil)
	}
	got, err := ranking.New(s, ranking.WithMaxCandidates(3)).Rank(context.Background(), newJob())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Errorf("got %d candidates, want 3", len(got))
	}
}

func TestRankEmptyAndIncomplete(t *testing.T) {
	s := memory.New()
	got, err := ranking.New(s).Rank(context.Background(), newJob())
	if err != nil || len(got) != 0 {
		t.Errorf("empty directory = %v, %v", got, err)
	}

	_, err = ranking.New(s).Rank(context.Background(), &job.Job{ID: id.NewJobID()})
	if !errors.Is(err, ranking.ErrIncompleteJob) {
		t.Errorf("err = %v, want ErrIncompleteJob", err)
	}
}

func TestAvailabilityComponent(t *testing.T) {
	r := ranking.New(memory.New())
	mornings := &provider.Provider{Categories: []string{"plumbing"}, Schedule: []job.DayPart{job.Morning}}
	anytime := &provider.Provider{Categories: []string{"plumbing"}}

	tests := []struct {
		name  string
		pref  job.Schedule
		p     *provider.Provider
		delta float64
	}{
		{"morning job, morning provider", job.ScheduleMorning, mornings, 20},
		{"evening job, morning provider", job.ScheduleEvening, mornings, 0},
		{"asap, restricted schedule", job.ScheduleASAP, mornings, 10},
		{"asap, any time", job.ScheduleASAP, anytime, 20},
		{"flexible", job.ScheduleFlexible, mornings, 20},
	}
	base := r.Score(&job.Job{Category: "plumbing", Schedule: job.ScheduleEvening}, mornings).Score
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Score(&job.Job{Category: "plumbing", Schedule: tt.pref}, tt.p).Score - base
			if math.Abs(got-tt.delta) > 1e-9 {
				t.Errorf("availability contribution = %v, want %v", got, tt.delta)
			}
		})
	}
}

func TestWeightsValidate(t *testing.T) {
	if err := ranking.DefaultWeights().Validate(); err != nil {
		t.Fatal(err)
	}
	if ranking.DefaultWeights().Total() != 100 {
		t.Errorf("default total = %v", ranking.DefaultWeights().Total())
	}
	if err := (ranking.Weights{Rating: -1, Category: 5}).Validate(); err == nil {
		t.Error("negative weight accepted")
	}
	if err := (ranking.Weights{}).Validate(); err == nil {
		t.Error("all-zero weights accepted")
	}
}

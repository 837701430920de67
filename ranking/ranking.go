// Package ranking turns a posted job into its ordered candidate queue.
//
// Providers are first filtered (available, offering the category, covering
// the job's location) and then scored. Proximity and responsiveness are
// bucketed rather than continuous, so two providers at 3 km and 4 km are
// equally close and their order falls to rating. Final ties break on
// provider ID, so a queue is reproducible.
package ranking

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/CorbanSy/PropDash-sub000/geo"
	"github.com/CorbanSy/PropDash-sub000/job"
	"github.com/CorbanSy/PropDash-sub000/provider"
	"github.com/CorbanSy/PropDash-sub000/run"
)

// ErrIncompleteJob is returned for a job without category or location.
var ErrIncompleteJob = errors.New("ranking: job needs a category and a location")

var (
	// DefaultDistanceBucketsKm are the upper bounds of the proximity buckets.
	DefaultDistanceBucketsKm = []float64{5, 15, 30}
	// DefaultResponseBucketsSec are the upper bounds of the responsiveness
	// buckets.
	DefaultResponseBucketsSec = []float64{60, 180, 300}
)

const (
	unknownResponsiveness = 1.0 / 3
	unknownCompletion     = 0.5
)

// Ranker scores providers from a directory.
type Ranker struct {
	providers       provider.Store
	weights         Weights
	maxCandidates   int
	distanceBuckets []float64
	responseBuckets []float64
}

// Option configures a Ranker.
type Option func(*Ranker)

// WithWeights replaces the default weights.
func WithWeights(w Weights) Option {
	return func(r *Ranker) { r.weights = w }
}

// WithMaxCandidates caps the queue length. Zero or less means no cap.
func WithMaxCandidates(n int) Option {
	return func(r *Ranker) { r.maxCandidates = n }
}

// WithDistanceBuckets sets ascending proximity thresholds in km.
func WithDistanceBuckets(km ...float64) Option {
	return func(r *Ranker) { r.distanceBuckets = km }
}

// New returns a Ranker reading from providers.
func New(providers provider.Store, opts ...Option) *Ranker {
	r := &Ranker{
		providers:       providers,
		weights:         DefaultWeights(),
		distanceBuckets: DefaultDistanceBucketsKm,
		responseBuckets: DefaultResponseBucketsSec,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Weights returns the weights in use.
func (r *Ranker) Weights() Weights { return r.weights }

// Breakdown is the scored view of one provider against one job.
type Breakdown struct {
	Provider   *provider.Provider
	Score      float64
	Bucket     int
	DistanceKm float64
}

// Rank returns the job's candidate queue. An empty, nil-error result means
// nobody is eligible.
func (r *Ranker) Rank(ctx context.Context, j *job.Job) ([]run.Candidate, error) {
	if !j.Rankable() {
		return nil, ErrIncompleteJob
	}
	pool, err := r.providers.ListProviders(ctx, provider.ListOpts{
		Category:      j.Category,
		AvailableOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("ranking: list providers: %w", err)
	}

	scored := make([]Breakdown, 0, len(pool))
	for _, p := range pool {
		if !Eligible(j, p) {
			continue
		}
		scored = append(scored, r.Score(j, p))
	}
	Sort(scored)

	if r.maxCandidates > 0 && len(scored) > r.maxCandidates {
		scored = scored[:r.maxCandidates]
	}

	out := make([]run.Candidate, len(scored))
	for i, b := range scored {
		out[i] = run.Candidate{
			JobID:      j.ID,
			ProviderID: b.Provider.ID,
			Rank:       i + 1,
			Score:      b.Score,
			Bucket:     b.Bucket,
		}
	}
	return out, nil
}

// Eligible applies the hard filters.
func Eligible(j *job.Job, p *provider.Provider) bool {
	return p.Available && p.Offers(j.Category) && p.Covers(j.Location)
}

// Score computes the weighted score of p for j.
func (r *Ranker) Score(j *job.Job, p *provider.Provider) Breakdown {
	b := Breakdown{Provider: p, Bucket: len(r.distanceBuckets), DistanceKm: -1}
	if !j.Location.IsZero() && !p.Location.IsZero() {
		b.DistanceKm = geo.DistanceKm(p.Location, j.Location.Point)
		b.Bucket = bucketOf(b.DistanceKm, r.distanceBuckets)
	}

	w := r.weights
	var s float64
	if p.Offers(j.Category) {
		s += w.Category
	}
	s += w.Rating * clamp01(p.Rating/5)
	s += w.Availability * availability(j.Schedule, p)
	s += w.Proximity * bucketScore(b.Bucket, len(r.distanceBuckets))
	s += w.Responsiveness * r.responsiveness(p.AvgResponseSeconds)
	s += w.Completion * completion(p)
	b.Score = s
	return b
}

// Sort orders by score, then closer bucket, then rating, then provider ID.
func Sort(bs []Breakdown) {
	slices.SortStableFunc(bs, func(a, b Breakdown) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Bucket, b.Bucket); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Provider.Rating, a.Provider.Rating); c != 0 {
			return c
		}
		return a.Provider.ID.Compare(b.Provider.ID)
	})
}

func (r *Ranker) responsiveness(avgSec float64) float64 {
	if avgSec <= 0 {
		return unknownResponsiveness
	}
	return bucketScore(bucketOf(avgSec, r.responseBuckets), len(r.responseBuckets))
}

func availability(pref job.Schedule, p *provider.Provider) float64 {
	switch pref {
	case job.ScheduleFlexible, "":
		return 1
	case job.ScheduleASAP:
		if len(p.Schedule) == 0 {
			return 1
		}
		return 0.5
	default:
		if p.WorksDuring(job.DayPart(pref)) {
			return 1
		}
		return 0
	}
}

func completion(p *provider.Provider) float64 {
	r := p.CompletionRate()
	if r < 0 {
		return unknownCompletion
	}
	return r
}

// bucketOf returns the index of the first threshold v fits under, or
// len(thresholds) when it exceeds them all.
func bucketOf(v float64, thresholds []float64) int {
	for i, t := range thresholds {
		if v <= t {
			return i
		}
	}
	return len(thresholds)
}

func bucketScore(bucket, n int) float64 {
	if n == 0 {
		return 1
	}
	return 1 - float64(bucket)/float64(n)
}

func clamp01(v float64) float64 {
	return max(0, min(1, v))
}

// Package record holds the flat, string-keyed forms the key-value backends
// persist, and their MessagePack encoding.
package record

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	dispatch "github.com/CorbanSy/PropDash-sub000"
	"github.com/CorbanSy/PropDash-sub000/geo"
	"github.com/CorbanSy/PropDash-sub000/id"
	"github.com/CorbanSy/PropDash-sub000/job"
	"github.com/CorbanSy/PropDash-sub000/offer"
	"github.com/CorbanSy/PropDash-sub000/provider"
	"github.com/CorbanSy/PropDash-sub000/run"
)

// Marshal encodes v as MessagePack.
func Marshal(v any) ([]byte, error) { return msgpack.Marshal(v) }

// Unmarshal decodes MessagePack into v.
func Unmarshal(b []byte, v any) error { return msgpack.Unmarshal(b, v) }

// ── Job ───────────────────────────────────────────────────────────

// Job is the stored form of job.Job.
type Job struct {
	ID          string     `msgpack:"id"`
	CustomerID  string     `msgpack:"customer_id"`
	Category    string     `msgpack:"category"`
	Title       string     `msgpack:"title,omitempty"`
	Lat         float64    `msgpack:"lat"`
	Lng         float64    `msgpack:"lng"`
	Area        string     `msgpack:"area,omitempty"`
	Schedule    string     `msgpack:"schedule"`
	PriceCents  int64      `msgpack:"price_cents"`
	Status      string     `msgpack:"status"`
	ProviderID  string     `msgpack:"provider_id,omitempty"`
	AcceptedAt  *time.Time `msgpack:"accepted_at,omitempty"`
	CompletedAt *time.Time `msgpack:"completed_at,omitempty"`
	CreatedAt   time.Time  `msgpack:"created_at"`
	UpdatedAt   time.Time  `msgpack:"updated_at"`
}

// FromJob flattens j.
func FromJob(j *job.Job) *Job {
	return &Job{
		ID:          j.ID.String(),
		CustomerID:  j.CustomerID.String(),
		Category:    j.Category,
		Title:       j.Title,
		Lat:         j.Location.Lat,
		Lng:         j.Location.Lng,
		Area:        j.Location.Area,
		Schedule:    string(j.Schedule),
		PriceCents:  j.PriceCents,
		Status:      string(j.Status),
		ProviderID:  j.ProviderID.String(),
		AcceptedAt:  j.AcceptedAt,
		CompletedAt: j.CompletedAt,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
}

// Job rebuilds the domain job.
func (r *Job) Job() (*job.Job, error) {
	jobID, err := id.ParseJobID(r.ID)
	if err != nil {
		return nil, fmt.Errorf("record: job id %q: %w", r.ID, err)
	}
	customerID, err := id.ParseCustomerID(r.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("record: customer id %q: %w", r.CustomerID, err)
	}
	providerID, err := optional(r.ProviderID, id.PrefixProvider)
	if err != nil {
		return nil, err
	}
	return &job.Job{
		Entity:      dispatch.Entity{CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt},
		ID:          jobID,
		CustomerID:  customerID,
		Category:    r.Category,
		Title:       r.Title,
		Location:    geo.Location{Point: geo.Point{Lat: r.Lat, Lng: r.Lng}, Area: r.Area},
		Schedule:    job.Schedule(r.Schedule),
		PriceCents:  r.PriceCents,
		Status:      job.Status(r.Status),
		ProviderID:  providerID,
		AcceptedAt:  r.AcceptedAt,
		CompletedAt: r.CompletedAt,
	}, nil
}

// ── Provider ──────────────────────────────────────────────────────

// Provider is the stored form of provider.Provider.
type Provider struct {
	ID                 string    `msgpack:"id"`
	Name               string    `msgpack:"name"`
	Categories         []string  `msgpack:"categories"`
	Lat                float64   `msgpack:"lat"`
	Lng                float64   `msgpack:"lng"`
	ServiceRadiusKm    float64   `msgpack:"service_radius_km"`
	Areas              []string  `msgpack:"areas,omitempty"`
	Available          bool      `msgpack:"available"`
	Schedule           []string  `msgpack:"schedule,omitempty"`
	Rating             float64   `msgpack:"rating"`
	AvgResponseSeconds float64   `msgpack:"avg_response_seconds"`
	Assigned           int       `msgpack:"assigned"`
	Completed          int       `msgpack:"completed"`
	CreatedAt          time.Time `msgpack:"created_at"`
	UpdatedAt          time.Time `msgpack:"updated_at"`
}

// FromProvider flattens p.
func FromProvider(p *provider.Provider) *Provider {
	schedule := make([]string, len(p.Schedule))
	for i, part := range p.Schedule {
		schedule[i] = string(part)
	}
	return &Provider{
		ID:                 p.ID.String(),
		Name:               p.Name,
		Categories:         p.Categories,
		Lat:                p.Location.Lat,
		Lng:                p.Location.Lng,
		ServiceRadiusKm:    p.ServiceRadiusKm,
		Areas:              p.Areas,
		Available:          p.Available,
		Schedule:           schedule,
		Rating:             p.Rating,
		AvgResponseSeconds: p.AvgResponseSeconds,
		Assigned:           p.Assigned,
		Completed:          p.Completed,
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
	}
}

// Provider rebuilds the domain provider.
func (r *Provider) Provider() (*provider.Provider, error) {
	providerID, err := id.ParseProviderID(r.ID)
	if err != nil {
		return nil, fmt.Errorf("record: provider id %q: %w", r.ID, err)
	}
	var schedule []job.DayPart
	for _, part := range r.Schedule {
		schedule = append(schedule, job.DayPart(part))
	}
	return &provider.Provider{
		Entity:             dispatch.Entity{CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt},
		ID:                 providerID,
		Name:               r.Name,
		Categories:         r.Categories,
		Location:           geo.Point{Lat: r.Lat, Lng: r.Lng},
		ServiceRadiusKm:    r.ServiceRadiusKm,
		Areas:              r.Areas,
		Available:          r.Available,
		Schedule:           schedule,
		Rating:             r.Rating,
		AvgResponseSeconds: r.AvgResponseSeconds,
		Assigned:           r.Assigned,
		Completed:          r.Completed,
	}, nil
}

// ── Run ───────────────────────────────────────────────────────────

// Run is the stored form of run.Run.
type Run struct {
	ID              string     `msgpack:"id"`
	JobID           string     `msgpack:"job_id"`
	State           string     `msgpack:"state"`
	Cursor          int        `msgpack:"cursor"`
	CandidatesFound int        `msgpack:"candidates_found"`
	ProviderID      string     `msgpack:"provider_id,omitempty"`
	Reason          string     `msgpack:"reason,omitempty"`
	EndedAt         *time.Time `msgpack:"ended_at,omitempty"`
	CreatedAt       time.Time  `msgpack:"created_at"`
	UpdatedAt       time.Time  `msgpack:"updated_at"`
}

// FromRun flattens r.
func FromRun(r *run.Run) *Run {
	return &Run{
		ID:              r.ID.String(),
		JobID:           r.JobID.String(),
		State:           string(r.State),
		Cursor:          r.Cursor,
		CandidatesFound: r.CandidatesFound,
		ProviderID:      r.ProviderID.String(),
		Reason:          string(r.Reason),
		EndedAt:         r.EndedAt,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

// Run rebuilds the domain run.
func (r *Run) Run() (*run.Run, error) {
	runID, err := id.ParseRunID(r.ID)
	if err != nil {
		return nil, fmt.Errorf("record: run id %q: %w", r.ID, err)
	}
	jobID, err := id.ParseJobID(r.JobID)
	if err != nil {
		return nil, fmt.Errorf("record: job id %q: %w", r.JobID, err)
	}
	providerID, err := optional(r.ProviderID, id.PrefixProvider)
	if err != nil {
		return nil, err
	}
	return &run.Run{
		Entity:          dispatch.Entity{CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt},
		ID:              runID,
		JobID:           jobID,
		State:           run.State(r.State),
		Cursor:          r.Cursor,
		CandidatesFound: r.CandidatesFound,
		ProviderID:      providerID,
		Reason:          run.Reason(r.Reason),
		EndedAt:         r.EndedAt,
	}, nil
}

// EndUnassignable closes the run as unassignable.
func (r *Run) EndUnassignable(reason run.Reason, at time.Time) {
	ts := at.UTC()
	r.State = string(run.StateUnassignable)
	r.Reason = string(reason)
	r.EndedAt = &ts
	r.UpdatedAt = ts
}

// ── Candidate ─────────────────────────────────────────────────────

// Candidate is the stored form of run.Candidate.
type Candidate struct {
	ProviderID string     `msgpack:"provider_id"`
	Rank       int        `msgpack:"rank"`
	Score      float64    `msgpack:"score"`
	Bucket     int        `msgpack:"bucket"`
	ConsumedAt *time.Time `msgpack:"consumed_at,omitempty"`
}

// FromCandidates flattens a queue.
func FromCandidates(cs []run.Candidate) []Candidate {
	out := make([]Candidate, len(cs))
	for i, c := range cs {
		out[i] = Candidate{
			ProviderID: c.ProviderID.String(),
			Rank:       c.Rank,
			Score:      c.Score,
			Bucket:     c.Bucket,
			ConsumedAt: c.ConsumedAt,
		}
	}
	return out
}

// Candidates rebuilds the queue of jobID.
func Candidates(jobID id.JobID, rs []Candidate) ([]run.Candidate, error) {
	out := make([]run.Candidate, len(rs))
	for i, r := range rs {
		providerID, err := id.ParseProviderID(r.ProviderID)
		if err != nil {
			return nil, fmt.Errorf("record: candidate provider id %q: %w", r.ProviderID, err)
		}
		out[i] = run.Candidate{
			JobID:      jobID,
			ProviderID: providerID,
			Rank:       r.Rank,
			Score:      r.Score,
			Bucket:     r.Bucket,
			ConsumedAt: r.ConsumedAt,
		}
	}
	return out, nil
}

// ── Offer ─────────────────────────────────────────────────────────

// Offer is the stored form of offer.Offer.
type Offer struct {
	ID         string     `msgpack:"id"`
	JobID      string     `msgpack:"job_id"`
	ProviderID string     `msgpack:"provider_id"`
	Rank       int        `msgpack:"rank"`
	IssuedAt   time.Time  `msgpack:"issued_at"`
	ExpiresAt  time.Time  `msgpack:"expires_at"`
	Response   string     `msgpack:"response"`
	ResolvedAt *time.Time `msgpack:"resolved_at,omitempty"`
}

// FromOffer flattens o.
func FromOffer(o *offer.Offer) *Offer {
	return &Offer{
		ID:         o.ID.String(),
		JobID:      o.JobID.String(),
		ProviderID: o.ProviderID.String(),
		Rank:       o.Rank,
		IssuedAt:   o.IssuedAt,
		ExpiresAt:  o.ExpiresAt,
		Response:   string(o.Response),
		ResolvedAt: o.ResolvedAt,
	}
}

// Offer rebuilds the domain offer.
func (r *Offer) Offer() (*offer.Offer, error) {
	offerID, err := id.ParseOfferID(r.ID)
	if err != nil {
		return nil, fmt.Errorf("record: offer id %q: %w", r.ID, err)
	}
	jobID, err := id.ParseJobID(r.JobID)
	if err != nil {
		return nil, fmt.Errorf("record: job id %q: %w", r.JobID, err)
	}
	providerID, err := id.ParseProviderID(r.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("record: provider id %q: %w", r.ProviderID, err)
	}
	return &offer.Offer{
		ID:         offerID,
		JobID:      jobID,
		ProviderID: providerID,
		Rank:       r.Rank,
		IssuedAt:   r.IssuedAt,
		ExpiresAt:  r.ExpiresAt,
		Response:   offer.Response(r.Response),
		ResolvedAt: r.ResolvedAt,
	}, nil
}

func optional(s string, prefix id.Prefix) (id.ID, error) {
	if s == "" {
		return id.Nil, nil
	}
	v, err := id.ParseAs(s, prefix)
	if err != nil {
		return id.Nil, fmt.Errorf("record: %s id %q: %w", prefix, s, err)
	}
	return v, nil
}

package bunstore

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"

	dispatch "github.com/CorbanSy/PropDash-sub000"
	"github.com/CorbanSy/PropDash-sub000/geo"
	"github.com/CorbanSy/PropDash-sub000/id"
	"github.com/CorbanSy/PropDash-sub000/job"
	"github.com/CorbanSy/PropDash-sub000/offer"
	"github.com/CorbanSy/PropDash-sub000/provider"
	"github.com/CorbanSy/PropDash-sub000/run"
)

// ── Job model ─────────────────────────────────────────────────────

type jobModel struct {
	bun.BaseModel `bun:"table:dispatch_jobs"`

	ID          string     `bun:"id,pk"`
	CustomerID  string     `bun:"customer_id,notnull"`
	Category    string     `bun:"category,notnull"`
	Title       string     `bun:"title,notnull"`
	Lat         float64    `bun:"lat,notnull"`
	Lng         float64    `bun:"lng,notnull"`
	Area        string     `bun:"area,notnull"`
	Schedule    string     `bun:"schedule,notnull"`
	PriceCents  int64      `bun:"price_cents,notnull"`
	Status      string     `bun:"status,notnull"`
	ProviderID  *string    `bun:"provider_id"`
	AcceptedAt  *time.Time `bun:"accepted_at"`
	CompletedAt *time.Time `bun:"completed_at"`
	CreatedAt   time.Time  `bun:"created_at,notnull"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull"`
}

func toJobModel(j *job.Job) *jobModel {
	return &jobModel{
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
		ProviderID:  optString(j.ProviderID),
		AcceptedAt:  j.AcceptedAt,
		CompletedAt: j.CompletedAt,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	jobID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("dispatch/bun: parse job id %q: %w", m.ID, err)
	}
	customerID, err := id.ParseCustomerID(m.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("dispatch/bun: parse customer id %q: %w", m.CustomerID, err)
	}
	providerID, err := parseOptional(m.ProviderID, id.PrefixProvider)
	if err != nil {
		return nil, err
	}

	return &job.Job{
		Entity:      dispatch.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:          jobID,
		CustomerID:  customerID,
		Category:    m.Category,
		Title:       m.Title,
		Location:    geo.Location{Point: geo.Point{Lat: m.Lat, Lng: m.Lng}, Area: m.Area},
		Schedule:    job.Schedule(m.Schedule),
		PriceCents:  m.PriceCents,
		Status:      job.Status(m.Status),
		ProviderID:  providerID,
		AcceptedAt:  m.AcceptedAt,
		CompletedAt: m.CompletedAt,
	}, nil
}

// ── Provider model ────────────────────────────────────────────────

type providerModel struct {
	bun.BaseModel `bun:"table:dispatch_providers"`

	ID                 string    `bun:"id,pk"`
	Name               string    `bun:"name,notnull"`
	Categories         []string  `bun:"categories,array"`
	Lat                float64   `bun:"lat,notnull"`
	Lng                float64   `bun:"lng,notnull"`
	ServiceRadiusKm    float64   `bun:"service_radius_km,notnull"`
	Areas              []string  `bun:"areas,array"`
	Available          bool      `bun:"available,notnull"`
	Schedule           []string  `bun:"schedule,array"`
	Rating             float64   `bun:"rating,notnull"`
	AvgResponseSeconds float64   `bun:"avg_response_seconds,notnull"`
	Assigned           int       `bun:"assigned,notnull"`
	Completed          int       `bun:"completed,notnull"`
	CreatedAt          time.Time `bun:"created_at,notnull"`
	UpdatedAt          time.Time `bun:"updated_at,notnull"`
}

func toProviderModel(p *provider.Provider) *providerModel {
	schedule := make([]string, len(p.Schedule))
	for i, part := range p.Schedule {
		schedule[i] = string(part)
	}
	return &providerModel{
		ID:                 p.ID.String(),
		Name:               p.Name,
		Categories:         nonNil(p.Categories),
		Lat:                p.Location.Lat,
		Lng:                p.Location.Lng,
		ServiceRadiusKm:    p.ServiceRadiusKm,
		Areas:              nonNil(p.Areas),
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

func fromProviderModel(m *providerModel) (*provider.Provider, error) {
	providerID, err := id.ParseProviderID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("dispatch/bun: parse provider id %q: %w", m.ID, err)
	}
	var schedule []job.DayPart
	for _, part := range m.Schedule {
		schedule = append(schedule, job.DayPart(part))
	}
	return &provider.Provider{
		Entity:             dispatch.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:                 providerID,
		Name:               m.Name,
		Categories:         m.Categories,
		Location:           geo.Point{Lat: m.Lat, Lng: m.Lng},
		ServiceRadiusKm:    m.ServiceRadiusKm,
		Areas:              m.Areas,
		Available:          m.Available,
		Schedule:           schedule,
		Rating:             m.Rating,
		AvgResponseSeconds: m.AvgResponseSeconds,
		Assigned:           m.Assigned,
		Completed:          m.Completed,
	}, nil
}

// ── Run model ─────────────────────────────────────────────────────

type runModel struct {
	bun.BaseModel `bun:"table:dispatch_runs"`

	JobID           string     `bun:"job_id,pk"`
	ID              string     `bun:"id,notnull"`
	State           string     `bun:"state,notnull"`
	Cursor          int        `bun:"cursor_pos,notnull"`
	CandidatesFound int        `bun:"candidates_found,notnull"`
	ProviderID      *string    `bun:"provider_id"`
	Reason          string     `bun:"reason,notnull"`
	EndedAt         *time.Time `bun:"ended_at"`
	CreatedAt       time.Time  `bun:"created_at,notnull"`
	UpdatedAt       time.Time  `bun:"updated_at,notnull"`
}

func toRunModel(r *run.Run) *runModel {
	return &runModel{
		JobID:           r.JobID.String(),
		ID:              r.ID.String(),
		State:           string(r.State),
		Cursor:          r.Cursor,
		CandidatesFound: r.CandidatesFound,
		ProviderID:      optString(r.ProviderID),
		Reason:          string(r.Reason),
		EndedAt:         r.EndedAt,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func fromRunModel(m *runModel) (*run.Run, error) {
	runID, err := id.ParseRunID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("dispatch/bun: parse run id %q: %w", m.ID, err)
	}
	jobID, err := id.ParseJobID(m.JobID)
	if err != nil {
		return nil, fmt.Errorf("dispatch/bun: parse job id %q: %w", m.JobID, err)
	}
	providerID, err := parseOptional(m.ProviderID, id.PrefixProvider)
	if err != nil {
		return nil, err
	}
	return &run.Run{
		Entity:          dispatch.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:              runID,
		JobID:           jobID,
		State:           run.State(m.State),
		Cursor:          m.Cursor,
		CandidatesFound: m.CandidatesFound,
		ProviderID:      providerID,
		Reason:          run.Reason(m.Reason),
		EndedAt:         m.EndedAt,
	}, nil
}

// ── Candidate model ───────────────────────────────────────────────

type candidateModel struct {
	bun.BaseModel `bun:"table:dispatch_candidates"`

	JobID      string     `bun:"job_id,pk"`
	Rank       int        `bun:"rank,pk"`
	ProviderID string     `bun:"provider_id,notnull"`
	Score      float64    `bun:"score,notnull"`
	Bucket     int        `bun:"distance_bucket,notnull"`
	ConsumedAt *time.Time `bun:"consumed_at"`
}

func toCandidateModel(c run.Candidate) candidateModel {
	return candidateModel{
		JobID:      c.JobID.String(),
		Rank:       c.Rank,
		ProviderID: c.ProviderID.String(),
		Score:      c.Score,
		Bucket:     c.Bucket,
		ConsumedAt: c.ConsumedAt,
	}
}

func fromCandidateModel(m *candidateModel) (run.Candidate, error) {
	jobID, err := id.ParseJobID(m.JobID)
	if err != nil {
		return run.Candidate{}, fmt.Errorf("dispatch/bun: parse job id %q: %w", m.JobID, err)
	}
	providerID, err := id.ParseProviderID(m.ProviderID)
	if err != nil {
		return run.Candidate{}, fmt.Errorf("dispatch/bun: parse provider id %q: %w", m.ProviderID, err)
	}
	return run.Candidate{
		JobID:      jobID,
		ProviderID: providerID,
		Rank:       m.Rank,
		Score:      m.Score,
		Bucket:     m.Bucket,
		ConsumedAt: m.ConsumedAt,
	}, nil
}

// ── Offer model ───────────────────────────────────────────────────

type offerModel struct {
	bun.BaseModel `bun:"table:dispatch_offers"`

	ID         string     `bun:"id,pk"`
	JobID      string     `bun:"job_id,notnull"`
	ProviderID string     `bun:"provider_id,notnull"`
	Rank       int        `bun:"rank,notnull"`
	IssuedAt   time.Time  `bun:"issued_at,notnull"`
	ExpiresAt  time.Time  `bun:"expires_at,notnull"`
	Response   string     `bun:"response,notnull"`
	ResolvedAt *time.Time `bun:"resolved_at"`
	Seq        int64      `bun:"seq,scanonly"`
}

func toOfferModel(o *offer.Offer) *offerModel {
	return &offerModel{
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

func fromOfferModel(m *offerModel) (*offer.Offer, error) {
	offerID, err := id.ParseOfferID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("dispatch/bun: parse offer id %q: %w", m.ID, err)
	}
	jobID, err := id.ParseJobID(m.JobID)
	if err != nil {
		return nil, fmt.Errorf("dispatch/bun: parse job id %q: %w", m.JobID, err)
	}
	providerID, err := id.ParseProviderID(m.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("dispatch/bun: parse provider id %q: %w", m.ProviderID, err)
	}
	return &offer.Offer{
		ID:         offerID,
		JobID:      jobID,
		ProviderID: providerID,
		Rank:       m.Rank,
		IssuedAt:   m.IssuedAt,
		ExpiresAt:  m.ExpiresAt,
		Response:   offer.Response(m.Response),
		ResolvedAt: m.ResolvedAt,
	}, nil
}

func fromOfferModels(ms []offerModel) ([]*offer.Offer, error) {
	out := make([]*offer.Offer, 0, len(ms))
	for i := range ms {
		o, err := fromOfferModel(&ms[i])
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// ── Helpers ───────────────────────────────────────────────────────

func optString(v id.ID) *string {
	if v.IsNil() {
		return nil
	}
	s := v.String()
	return &s
}

func parseOptional(s *string, prefix id.Prefix) (id.ID, error) {
	if s == nil || *s == "" {
		return id.Nil, nil
	}
	v, err := id.ParseAs(*s, prefix)
	if err != nil {
		return id.Nil, fmt.Errorf("dispatch/bun: parse %s id %q: %w", prefix, *s, err)
	}
	return v, nil
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

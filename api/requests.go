package api

import (
	"github.com/CorbanSy/PropDash-sub000/coordinator"
	"github.com/CorbanSy/PropDash-sub000/job"
	"github.com/CorbanSy/PropDash-sub000/stream"
)

// ──────────────────────────────────────────────────
// Jobs
// ──────────────────────────────────────────────────

// CreateJobRequest is the body of POST /v1/jobs.
type CreateJobRequest struct {
	CustomerID string       `json:"customer_id" description:"Posting customer (cust_...)"`
	Category   string       `json:"category" description:"Service category"`
	Title      string       `json:"title,omitempty"`
	Lat        float64      `json:"lat"`
	Lng        float64      `json:"lng"`
	Area       string       `json:"area,omitempty" description:"Service area code"`
	Schedule   job.Schedule `json:"schedule,omitempty" description:"asap, morning, afternoon, evening or flexible"`
	PriceCents int64        `json:"price_cents,omitempty"`
}

// ListJobsRequest filters GET /v1/jobs.
type ListJobsRequest struct {
	Status string `query:"status" description:"Filter by job status"`
	Limit  int    `query:"limit" description:"Maximum results (default 50)"`
	Offset int    `query:"offset" description:"Results to skip"`
}

// JobPathRequest addresses a single job.
type JobPathRequest struct {
	JobID string `path:"jobId" description:"Job ID (job_...)"`
}

// WorkRequest is the body of POST /v1/jobs/:jobId/work.
type WorkRequest struct {
	ProviderID string     `json:"provider_id" description:"Awarded provider"`
	Status     job.Status `json:"status" description:"en_route, in_progress or completed"`
}

// ──────────────────────────────────────────────────
// Offers
// ──────────────────────────────────────────────────

// RespondRequest is the body of accept and decline.
type RespondRequest struct {
	ProviderID string `json:"provider_id" description:"Provider answering the offer"`
}

// ProviderPathRequest addresses a single provider.
type ProviderPathRequest struct {
	ProviderID string `path:"providerId" description:"Provider ID (prov_...)"`
}

// ──────────────────────────────────────────────────
// Providers
// ──────────────────────────────────────────────────

// ProviderRequest is the body of PUT /v1/providers/:providerId.
type ProviderRequest struct {
	Name            string   `json:"name"`
	Categories      []string `json:"categories"`
	Lat             float64  `json:"lat"`
	Lng             float64  `json:"lng"`
	ServiceRadiusKm float64  `json:"service_radius_km"`
	Areas           []string `json:"areas,omitempty"`
	Available       bool     `json:"available"`
	Schedule        []string `json:"schedule,omitempty" description:"Day parts: morning, afternoon, evening"`
	Rating          float64  `json:"rating"`
}

// ──────────────────────────────────────────────────
// Crons and stats
// ──────────────────────────────────────────────────

// CronPathRequest addresses a cron entry by name.
type CronPathRequest struct {
	Name string `path:"name" description:"Cron entry name"`
}

// StatsResponse is the body of GET /v1/stats.
type StatsResponse struct {
	coordinator.Stats
	ActiveTasks int                 `json:"active_tasks"`
	ArmedTimers int                 `json:"armed_timers"`
	Stream      *stream.BrokerStats `json:"stream,omitempty"`
}

// ErrorResponse is written for conflicts.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func defaultLimit(n int) int {
	if n <= 0 {
		return 50
	}
	if n > 500 {
		return 500
	}
	return n
}

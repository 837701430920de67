package job

import (
	"time"

	dispatch "github.com/CorbanSy/PropDash-sub000"
	"github.com/CorbanSy/PropDash-sub000/geo"
	"github.com/CorbanSy/PropDash-sub000/id"
)

// Option sets optional job attributes at posting time.
type Option func(*Job)

// New builds a job in pending_dispatch with a fresh ID.
func New(customer id.CustomerID, category string, loc geo.Location, now time.Time, opts ...Option) *Job {
	j := &Job{
		Entity:     dispatch.NewEntity(now),
		ID:         id.NewJobID(),
		CustomerID: customer,
		Category:   category,
		Location:   loc,
		Schedule:   ScheduleFlexible,
		Status:     StatusPendingDispatch,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// WithTitle sets the short summary shown in the offer.
func WithTitle(t string) Option {
	return func(j *Job) { j.Title = t }
}

// WithSchedule sets the scheduling preference.
func WithSchedule(s Schedule) Option {
	return func(j *Job) { j.Schedule = s }
}

// WithPrice sets the quoted price in cents.
func WithPrice(cents int64) Option {
	return func(j *Job) { j.PriceCents = cents }
}

// WithID overrides the generated ID.
func WithID(jobID id.JobID) Option {
	return func(j *Job) { j.ID = jobID }
}

package job

import (
	"time"

	dispatch "github.com/CorbanSy/PropDash-sub000"
	"github.com/CorbanSy/PropDash-sub000/geo"
	"github.com/CorbanSy/PropDash-sub000/id"
)

// Status is the lifecycle status of a job.
type Status string

const (
	// StatusPendingDispatch means the job was posted but no run exists yet.
	StatusPendingDispatch Status = "pending_dispatch"
	// StatusDispatching means offers are being extended to candidates.
	StatusDispatching Status = "dispatching"
	// StatusAccepted means a provider holds the job.
	StatusAccepted Status = "accepted"
	// StatusEnRoute means the awarded provider is travelling to the job.
	StatusEnRoute Status = "en_route"
	// StatusInProgress means work has started.
	StatusInProgress Status = "in_progress"
	// StatusCompleted means the work is done.
	StatusCompleted Status = "completed"
	// StatusCancelled means the customer withdrew the job.
	StatusCancelled Status = "cancelled"
	// StatusUnassigned means no candidate accepted and the job needs
	// manual follow-up.
	StatusUnassigned Status = "unassigned"
)

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Cancellable reports whether a customer may still cancel from s.
// Once a provider holds the job, cancellation is outside this protocol.
func (s Status) Cancellable() bool {
	switch s {
	case StatusPendingDispatch, StatusDispatching, StatusUnassigned:
		return true
	}
	return false
}

// workFlow lists the transitions the awarded provider may drive.
var workFlow = map[Status]Status{
	StatusAccepted:   StatusEnRoute,
	StatusEnRoute:    StatusInProgress,
	StatusInProgress: StatusCompleted,
}

// NextWork returns the status that follows s in the provider's work flow.
func NextWork(s Status) (Status, bool) {
	next, ok := workFlow[s]
	return next, ok
}

// CanAdvanceWork reports whether the awarded provider may move from to.
func CanAdvanceWork(from, to Status) bool {
	next, ok := workFlow[from]
	return ok && next == to
}

// DayPart is a coarse scheduling window.
type DayPart string

const (
	Morning   DayPart = "morning"
	Afternoon DayPart = "afternoon"
	Evening   DayPart = "evening"
)

// Schedule is the customer's scheduling preference.
type Schedule string

const (
	ScheduleASAP      Schedule = "asap"
	ScheduleFlexible  Schedule = "flexible"
	ScheduleMorning   Schedule = Schedule(Morning)
	ScheduleAfternoon Schedule = Schedule(Afternoon)
	ScheduleEvening   Schedule = Schedule(Evening)
)

// Job is a unit of work posted by a customer.
type Job struct {
	dispatch.Entity

	ID          id.JobID      `json:"id"`
	CustomerID  id.CustomerID `json:"customer_id"`
	Category    string        `json:"category"`
	Title       string        `json:"title,omitempty"`
	Location    geo.Location  `json:"location"`
	Schedule    Schedule      `json:"schedule"`
	PriceCents  int64         `json:"price_cents"`
	Status      Status        `json:"status"`
	ProviderID  id.ProviderID `json:"provider_id,omitempty"`
	AcceptedAt  *time.Time    `json:"accepted_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// Rankable reports whether the job carries what ranking needs.
func (j *Job) Rankable() bool {
	return j.Category != "" && (!j.Location.IsZero() || j.Location.Area != "")
}

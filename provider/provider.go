// Package provider defines the provider directory record consulted by
// ranking, and the store that keeps it.
package provider

import (
	"slices"
	"time"

	dispatch "github.com/CorbanSy/PropDash-sub000"
	"github.com/CorbanSy/PropDash-sub000/geo"
	"github.com/CorbanSy/PropDash-sub000/id"
	"github.com/CorbanSy/PropDash-sub000/job"
)

// ResponseSmoothing is the EWMA weight given to the newest response
// latency sample.
const ResponseSmoothing = 0.3

// MinResponseSeconds is the floor applied to every latency sample, so an
// instant answer still counts as history.
const MinResponseSeconds = 0.01

// Provider is a service provider as seen by dispatch.
type Provider struct {
	dispatch.Entity

	ID              id.ProviderID `json:"id"`
	Name            string        `json:"name"`
	Categories      []string      `json:"categories"`
	Location        geo.Point     `json:"location"`
	ServiceRadiusKm float64       `json:"service_radius_km"`
	Areas           []string      `json:"areas,omitempty"`
	Available       bool          `json:"available"`
	Schedule        []job.DayPart `json:"schedule,omitempty"`
	Rating          float64       `json:"rating"`

	// AvgResponseSeconds is a moving average of how long the provider
	// takes to answer an offer. Zero means no history.
	AvgResponseSeconds float64 `json:"avg_response_seconds"`

	Assigned  int `json:"assigned"`
	Completed int `json:"completed"`
}

// Offers reports whether p serves category.
func (p *Provider) Offers(category string) bool {
	return slices.Contains(p.Categories, category)
}

// Covers reports whether loc lies in p's service area, either by radius
// or by explicit area code.
func (p *Provider) Covers(loc geo.Location) bool {
	if loc.Area != "" && slices.Contains(p.Areas, loc.Area) {
		return true
	}
	if loc.IsZero() || p.Location.IsZero() || p.ServiceRadiusKm <= 0 {
		return false
	}
	return geo.DistanceKm(p.Location, loc.Point) <= p.ServiceRadiusKm
}

// WorksDuring reports whether part is in p's schedule. An empty schedule
// means the provider takes work at any time.
func (p *Provider) WorksDuring(part job.DayPart) bool {
	return len(p.Schedule) == 0 || slices.Contains(p.Schedule, part)
}

// CompletionRate is completed over assigned jobs, or -1 without history.
func (p *Provider) CompletionRate() float64 {
	if p.Assigned == 0 {
		return -1
	}
	r := float64(p.Completed) / float64(p.Assigned)
	if r > 1 {
		return 1
	}
	return r
}

// ObserveResponse folds one offer response latency into the average.
func (p *Provider) ObserveResponse(latency time.Duration) {
	p.AvgResponseSeconds = NextAverage(p.AvgResponseSeconds, latency)
}

// SampleSeconds converts a latency to the sample folded into the average.
func SampleSeconds(latency time.Duration) float64 {
	return max(latency.Seconds(), MinResponseSeconds)
}

// NextAverage is the EWMA step shared by every backend.
func NextAverage(prev float64, latency time.Duration) float64 {
	s := SampleSeconds(latency)
	if prev <= 0 {
		return s
	}
	return prev*(1-ResponseSmoothing) + s*ResponseSmoothing
}

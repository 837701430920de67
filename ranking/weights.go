package ranking

import "errors"

// Weights are the points each score component contributes at full
// strength. The defaults sum to 100 and keep the ordering category >
// rating > availability > proximity > responsiveness > completion; the
// exact values are deployment configuration.
type Weights struct {
	Category       float64 `json:"category" yaml:"category"`
	Rating         float64 `json:"rating" yaml:"rating"`
	Availability   float64 `json:"availability" yaml:"availability"`
	Proximity      float64 `json:"proximity" yaml:"proximity"`
	Responsiveness float64 `json:"responsiveness" yaml:"responsiveness"`
	Completion     float64 `json:"completion" yaml:"completion"`
}

// DefaultWeights returns the 30/20/20/15/10/5 split.
func DefaultWeights() Weights {
	return Weights{
		Category:       30,
		Rating:         20,
		Availability:   20,
		Proximity:      15,
		Responsiveness: 10,
		Completion:     5,
	}
}

// Total is the maximum attainable score.
func (w Weights) Total() float64 {
	return w.Category + w.Rating + w.Availability + w.Proximity + w.Responsiveness + w.Completion
}

// Validate rejects negative weights and an all-zero set.
func (w Weights) Validate() error {
	for _, v := range []float64{w.Category, w.Rating, w.Availability, w.Proximity, w.Responsiveness, w.Completion} {
		if v < 0 {
			return errors.New("ranking: weights must not be negative")
		}
	}
	if w.Total() == 0 {
		return errors.New("ranking: at least one weight must be positive")
	}
	return nil
}

package dispatch

import (
	"context"
	"errors"
)

var (
	// Protocol outcomes.
	ErrNoCandidates       = errors.New("dispatch: no eligible candidates")
	ErrOfferConflict      = errors.New("dispatch: offer already resolved or held by another provider")
	ErrExpiredOffer       = errors.New("dispatch: offer expired")
	ErrStoreUnavailable   = errors.New("dispatch: store unavailable")
	ErrCandidateExhausted = errors.New("dispatch: candidates exhausted")

	// Store errors.
	ErrNoStore         = errors.New("dispatch: no store configured")
	ErrStoreClosed     = errors.New("dispatch: store closed")
	ErrMigrationFailed = errors.New("dispatch: migration failed")

	// Not found errors.
	ErrJobNotFound      = errors.New("dispatch: job not found")
	ErrProviderNotFound = errors.New("dispatch: provider not found")
	ErrRunNotFound      = errors.New("dispatch: run not found")
	ErrOfferNotFound    = errors.New("dispatch: offer not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("dispatch: job already exists")
	ErrRunExists        = errors.New("dispatch: dispatch run already exists")
	ErrOfferPending     = errors.New("dispatch: an offer is already pending for this job")

	// State errors.
	ErrRunTerminal       = errors.New("dispatch: dispatch run is not offering")
	ErrLeaseActive       = errors.New("dispatch: offer lease has not expired")
	ErrInvalidTransition = errors.New("dispatch: invalid job status transition")
)

// IsTransient reports whether err is an infrastructure failure worth
// retrying, as opposed to a protocol outcome the caller must act on.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrStoreClosed) {
		return true
	}
	for _, known := range protocolErrors {
		if errors.Is(err, known) {
			return false
		}
	}
	return true
}

var protocolErrors = []error{
	ErrNoCandidates, ErrOfferConflict, ErrExpiredOffer, ErrCandidateExhausted,
	ErrNoStore, ErrMigrationFailed,
	ErrJobNotFound, ErrProviderNotFound, ErrRunNotFound, ErrOfferNotFound,
	ErrJobAlreadyExists, ErrRunExists, ErrOfferPending,
	ErrRunTerminal, ErrLeaseActive, ErrInvalidTransition,
}

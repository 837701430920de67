package client

import (
	"fmt"
	"strings"

	dispatch "github.com/CorbanSy/PropDash-sub000"
	"github.com/CorbanSy/PropDash-sub000/dwp"
)

// Error is an error frame returned by the server. It unwraps to the
// matching dispatch sentinel, so errors.Is(err, dispatch.ErrOfferConflict)
// works across the wire.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("dwp error %d: %s", e.Code, e.Message)
}

// Unwrap returns the dispatch sentinel named by the message, falling back
// to one chosen by code.
func (e *Error) Unwrap() error {
	for _, known := range wireErrors {
		if strings.Contains(e.Message, known.Error()) {
			return known
		}
	}
	switch e.Code {
	case dwp.ErrCodeConflict:
		return dispatch.ErrOfferConflict
	case dwp.ErrCodeNotFound:
		return dispatch.ErrOfferNotFound
	case dwp.ErrCodeUnauthorized:
		return dwp.ErrUnauthorized
	}
	return nil
}

var wireErrors = []error{
	dispatch.ErrExpiredOffer,
	dispatch.ErrOfferConflict,
	dispatch.ErrOfferNotFound,
	dispatch.ErrJobNotFound,
	dispatch.ErrInvalidTransition,
	dispatch.ErrStoreUnavailable,
}

func frameError(f *dwp.Frame) error {
	if f.Error == nil {
		return &Error{Code: dwp.ErrCodeInternal, Message: "unknown error"}
	}
	return &Error{Code: f.Error.Code, Message: f.Error.Message}
}

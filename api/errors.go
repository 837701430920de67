package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/xraph/forge"

	dispatch "github.com/CorbanSy/PropDash-sub000"
	"github.com/CorbanSy/PropDash-sub000/id"
)

// writeError converts dispatch sentinel errors to HTTP responses.
func writeError(ctx forge.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case isConflict(err):
		return ctx.Status(http.StatusConflict).JSON(ErrorResponse{Code: http.StatusConflict, Message: err.Error()})
	case isNotFound(err):
		return forge.NotFound(err.Error())
	case errors.Is(err, dispatch.ErrInvalidTransition):
		return forge.BadRequest(err.Error())
	default:
		return forge.InternalError(err)
	}
}

func isConflict(err error) bool {
	return errors.Is(err, dispatch.ErrOfferConflict) ||
		errors.Is(err, dispatch.ErrExpiredOffer) ||
		errors.Is(err, dispatch.ErrOfferPending) ||
		errors.Is(err, dispatch.ErrRunTerminal) ||
		errors.Is(err, dispatch.ErrLeaseActive) ||
		errors.Is(err, dispatch.ErrJobAlreadyExists)
}

func isNotFound(err error) bool {
	return errors.Is(err, dispatch.ErrJobNotFound) ||
		errors.Is(err, dispatch.ErrRunNotFound) ||
		errors.Is(err, dispatch.ErrOfferNotFound) ||
		errors.Is(err, dispatch.ErrProviderNotFound)
}

func parseJobID(ctx forge.Context) (id.JobID, error) {
	jobID, err := id.ParseJobID(ctx.Param("jobId"))
	if err != nil {
		return id.Nil, forge.BadRequest(fmt.Sprintf("invalid job ID: %v", err))
	}
	return jobID, nil
}

func parseProviderID(raw string) (id.ProviderID, error) {
	providerID, err := id.ParseProviderID(raw)
	if err != nil {
		return id.Nil, forge.BadRequest(fmt.Sprintf("invalid provider ID: %v", err))
	}
	return providerID, nil
}

func queryInt(ctx forge.Context, name string) (int, error) {
	raw := ctx.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, forge.BadRequest(fmt.Sprintf("invalid %s: %q", name, raw))
	}
	return n, nil
}

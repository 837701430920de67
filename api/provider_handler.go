package api

import (
	"errors"
	"net/http"

	"github.com/xraph/forge"

	dispatch "github.com/CorbanSy/PropDash-sub000"
	"github.com/CorbanSy/PropDash-sub000/geo"
	"github.com/CorbanSy/PropDash-sub000/job"
	"github.com/CorbanSy/PropDash-sub000/provider"
)

// putProvider replaces the editable profile. Response latency, assignment
// and completion counts are learned by the service and carried over.
func (a *API) putProvider(ctx forge.Context) error {
	providerID, err := parseProviderID(ctx.Param("providerId"))
	if err != nil {
		return err
	}
	var req ProviderRequest
	if bindErr := ctx.Bind(&req); bindErr != nil {
		return forge.BadRequest("invalid request body")
	}
	loc := geo.Point{Lat: req.Lat, Lng: req.Lng}
	if !loc.Valid() {
		return forge.BadRequest("location out of range")
	}
	if req.Rating < 0 || req.Rating > 5 {
		return forge.BadRequest("rating must be between 0 and 5")
	}

	now := a.eng.Coordinator().Clock().Now()
	p := &provider.Provider{
		Entity:          dispatch.NewEntity(now),
		ID:              providerID,
		Name:            req.Name,
		Categories:      req.Categories,
		Location:        loc,
		ServiceRadiusKm: req.ServiceRadiusKm,
		Areas:           req.Areas,
		Available:       req.Available,
		Rating:          req.Rating,
	}
	for _, part := range req.Schedule {
		p.Schedule = append(p.Schedule, job.DayPart(part))
	}

	s := a.eng.Store()
	existing, err := s.GetProvider(ctx.Context(), providerID)
	switch {
	case err == nil:
		p.CreatedAt = existing.CreatedAt
		p.AvgResponseSeconds = existing.AvgResponseSeconds
		p.Assigned = existing.Assigned
		p.Completed = existing.Completed
	case !errors.Is(err, dispatch.ErrProviderNotFound):
		return writeError(ctx, err)
	}

	if err := s.UpsertProvider(ctx.Context(), p); err != nil {
		return writeError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, p)
}

func (a *API) getProvider(ctx forge.Context, _ *ProviderPathRequest) (*provider.Provider, error) {
	providerID, err := parseProviderID(ctx.Param("providerId"))
	if err != nil {
		return nil, err
	}

	p, err := a.eng.Store().GetProvider(ctx.Context(), providerID)
	if err != nil {
		return nil, writeError(ctx, err)
	}

	return p, nil
}

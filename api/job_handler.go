package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/xraph/forge"

	dispatch "github.com/CorbanSy/PropDash-sub000"
	"github.com/CorbanSy/PropDash-sub000/geo"
	"github.com/CorbanSy/PropDash-sub000/id"
	"github.com/CorbanSy/PropDash-sub000/job"
	"github.com/CorbanSy/PropDash-sub000/run"
)

func (a *API) createJob(ctx forge.Context) error {
	var req CreateJobRequest
	if err := ctx.Bind(&req); err != nil {
		return forge.BadRequest("invalid request body")
	}
	customerID, err := id.ParseCustomerID(req.CustomerID)
	if err != nil {
		return forge.BadRequest(fmt.Sprintf("invalid customer ID: %v", err))
	}
	loc := geo.Location{Point: geo.Point{Lat: req.Lat, Lng: req.Lng}, Area: req.Area}
	if !loc.Valid() {
		return forge.BadRequest("location out of range")
	}

	opts := []job.Option{job.WithTitle(req.Title), job.WithPrice(req.PriceCents)}
	if req.Schedule != "" {
		opts = append(opts, job.WithSchedule(req.Schedule))
	}
	j := job.New(customerID, req.Category, loc, a.eng.Coordinator().Clock().Now(), opts...)
	if !j.Rankable() {
		return forge.BadRequest("job needs a category and a location or area")
	}

	posted, err := a.eng.PostJob(ctx.Context(), j)
	if err != nil {
		return writeError(ctx, err)
	}
	return ctx.JSON(http.StatusCreated, posted)
}

func (a *API) listJobs(ctx forge.Context) error {
	limit, err := queryInt(ctx, "limit")
	if err != nil {
		return err
	}
	offset, err := queryInt(ctx, "offset")
	if err != nil {
		return err
	}

	jobs, err := a.eng.Store().ListJobs(ctx.Context(), job.ListOpts{
		Limit:  defaultLimit(limit),
		Offset: offset,
		Status: job.Status(ctx.Query("status")),
	})
	if err != nil {
		return writeError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, jobs)
}

func (a *API) getJob(ctx forge.Context, _ *JobPathRequest) (*job.Job, error) {
	jobID, err := parseJobID(ctx)
	if err != nil {
		return nil, err
	}

	j, err := a.eng.Store().GetJob(ctx.Context(), jobID)
	if err != nil {
		return nil, writeError(ctx, err)
	}

	return j, nil
}

// dispatchJob runs dispatch inline. A job without eligible providers is a
// valid outcome and is reported as an unassignable result.
func (a *API) dispatchJob(ctx forge.Context) error {
	jobID, err := parseJobID(ctx)
	if err != nil {
		return err
	}

	res, err := a.eng.Dispatch(ctx.Context(), jobID)
	if err != nil && !(errors.Is(err, dispatch.ErrNoCandidates) && res != nil) {
		return writeError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, res)
}

func (a *API) cancelJob(ctx forge.Context, _ *JobPathRequest) (*struct{}, error) {
	jobID, err := parseJobID(ctx)
	if err != nil {
		return nil, err
	}

	if err := a.eng.Coordinator().Cancel(ctx.Context(), jobID); err != nil {
		return nil, writeError(ctx, err)
	}

	return nil, ctx.NoContent(http.StatusNoContent)
}

func (a *API) getRun(ctx forge.Context, _ *JobPathRequest) (*run.Run, error) {
	jobID, err := parseJobID(ctx)
	if err != nil {
		return nil, err
	}

	r, err := a.eng.Store().GetRun(ctx.Context(), jobID)
	if err != nil {
		return nil, writeError(ctx, err)
	}

	return r, nil
}

func (a *API) listCandidates(ctx forge.Context) error {
	jobID, err := parseJobID(ctx)
	if err != nil {
		return err
	}

	cands, err := a.eng.Store().ListCandidates(ctx.Context(), jobID)
	if err != nil {
		return writeError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, cands)
}

func (a *API) updateWork(ctx forge.Context) error {
	jobID, err := parseJobID(ctx)
	if err != nil {
		return err
	}
	var req WorkRequest
	if bindErr := ctx.Bind(&req); bindErr != nil {
		return forge.BadRequest("invalid request body")
	}
	providerID, err := parseProviderID(req.ProviderID)
	if err != nil {
		return err
	}

	j, err := a.eng.Coordinator().UpdateWork(ctx.Context(), jobID, providerID, req.Status)
	if err != nil {
		return writeError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, j)
}

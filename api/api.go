package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/xraph/forge"

	"github.com/CorbanSy/PropDash-sub000/coordinator"
	"github.com/CorbanSy/PropDash-sub000/cron"
	"github.com/CorbanSy/PropDash-sub000/engine"
	"github.com/CorbanSy/PropDash-sub000/job"
	"github.com/CorbanSy/PropDash-sub000/offer"
	"github.com/CorbanSy/PropDash-sub000/provider"
	"github.com/CorbanSy/PropDash-sub000/run"
)

// API wires all Forge-style HTTP handlers together for the dispatch service.
type API struct {
	eng    *engine.Engine
	router forge.Router
}

// New creates an API from a dispatch Engine.
func New(eng *engine.Engine, router forge.Router) *API {
	return &API{eng: eng, router: router}
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() (http.Handler, error) {
	if a.router == nil {
		a.router = forge.NewRouter()
	}
	if err := a.RegisterRoutes(a.router); err != nil {
		return nil, err
	}
	return a.router.Handler(), nil
}

// RegisterRoutes registers all dispatch API routes into the given Forge router
// with full OpenAPI metadata. Every route is attempted; the returned error
// joins the ones the router refused.
func (a *API) RegisterRoutes(router forge.Router) error {
	var rs routeErrors
	a.registerJobRoutes(router, &rs)
	a.registerOfferRoutes(router, &rs)
	a.registerProviderRoutes(router, &rs)
	a.registerCronRoutes(router, &rs)
	a.registerStatsRoutes(router, &rs)
	return rs.err()
}

// routeErrors collects registration failures across route groups.
type routeErrors []error

func (rs *routeErrors) add(err error) {
	if err != nil {
		*rs = append(*rs, fmt.Errorf("dispatch/api: %w", err))
	}
}

func (rs routeErrors) err() error { return errors.Join(rs...) }

// registerJobRoutes registers job posting and run inspection routes.
func (a *API) registerJobRoutes(router forge.Router, rs *routeErrors) {
	g := router.Group("/v1", forge.WithGroupTags("jobs"))

	rs.add(g.POST("/jobs", a.createJob,
		forge.WithSummary("Post job"),
		forge.WithDescription("Stores a job and queues its dispatch. The run proceeds in the background."),
		forge.WithOperationID("createJob"),
		forge.WithRequestSchema(CreateJobRequest{}),
		forge.WithCreatedResponse(&job.Job{}),
		forge.WithErrorResponses(),
	))

	rs.add(g.GET("/jobs", a.listJobs,
		forge.WithSummary("List jobs"),
		forge.WithDescription("Returns jobs filtered by status."),
		forge.WithOperationID("listJobs"),
		forge.WithRequestSchema(ListJobsRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Job list", []*job.Job{}),
		forge.WithErrorResponses(),
	))

	rs.add(g.GET("/jobs/:jobId", a.getJob,
		forge.WithSummary("Get job"),
		forge.WithDescription("Returns details of a specific job."),
		forge.WithOperationID("getJob"),
		forge.WithResponseSchema(http.StatusOK, "Job details", &job.Job{}),
		forge.WithErrorResponses(),
	))

	rs.add(g.POST("/jobs/:jobId/dispatch", a.dispatchJob,
		forge.WithSummary("Dispatch job"),
		forge.WithDescription("Runs dispatch for a job and waits for the first offer. Repeating the call reports the existing run."),
		forge.WithOperationID("dispatchJob"),
		forge.WithResponseSchema(http.StatusOK, "Dispatch result", &coordinator.Result{}),
		forge.WithErrorResponses(),
	))

	rs.add(g.POST("/jobs/:jobId/cancel", a.cancelJob,
		forge.WithSummary("Cancel job"),
		forge.WithDescription("Cancels a job that is not yet accepted and voids its pending offer."),
		forge.WithOperationID("cancelJob"),
		forge.WithNoContentResponse(),
		forge.WithErrorResponses(),
	))

	rs.add(g.GET("/jobs/:jobId/run", a.getRun,
		forge.WithSummary("Get dispatch run"),
		forge.WithDescription("Returns the dispatch run of a job."),
		forge.WithOperationID("getRun"),
		forge.WithResponseSchema(http.StatusOK, "Dispatch run", &run.Run{}),
		forge.WithErrorResponses(),
	))

	rs.add(g.GET("/jobs/:jobId/candidates", a.listCandidates,
		forge.WithSummary("List candidates"),
		forge.WithDescription("Returns the ranked candidate queue of a job."),
		forge.WithOperationID("listCandidates"),
		forge.WithResponseSchema(http.StatusOK, "Candidate queue", []run.Candidate{}),
		forge.WithErrorResponses(),
	))

	rs.add(g.POST("/jobs/:jobId/work", a.updateWork,
		forge.WithSummary("Update work status"),
		forge.WithDescription("Moves an accepted job through en_route, in_progress and completed. Only the awarded provider may call it."),
		forge.WithOperationID("updateWork"),
		forge.WithRequestSchema(WorkRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Updated job", &job.Job{}),
		forge.WithErrorResponses(),
	))
}

// registerOfferRoutes registers the provider's side of an offer.
func (a *API) registerOfferRoutes(router forge.Router, rs *routeErrors) {
	g := router.Group("/v1", forge.WithGroupTags("offers"))

	rs.add(g.GET("/jobs/:jobId/offers", a.listOffers,
		forge.WithSummary("List offers"),
		forge.WithDescription("Returns every offer issued for a job in rank order."),
		forge.WithOperationID("listOffers"),
		forge.WithResponseSchema(http.StatusOK, "Offers", []*offer.Offer{}),
		forge.WithErrorResponses(),
	))

	rs.add(g.POST("/jobs/:jobId/accept", a.acceptOffer,
		forge.WithSummary("Accept offer"),
		forge.WithDescription("Accepts the pending offer held by the provider. Fails with 409 if the offer is no longer actionable."),
		forge.WithOperationID("acceptOffer"),
		forge.WithRequestSchema(RespondRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Accepted offer", &offer.Offer{}),
		forge.WithErrorResponses(),
	))

	rs.add(g.POST("/jobs/:jobId/decline", a.declineOffer,
		forge.WithSummary("Decline offer"),
		forge.WithDescription("Declines the pending offer held by the provider and moves to the next candidate."),
		forge.WithOperationID("declineOffer"),
		forge.WithRequestSchema(RespondRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Declined offer", &offer.Offer{}),
		forge.WithErrorResponses(),
	))

	rs.add(g.GET("/providers/:providerId/offer", a.currentOffer,
		forge.WithSummary("Current offer"),
		forge.WithDescription("Returns the actionable offer held by a provider with its job."),
		forge.WithOperationID("currentOffer"),
		forge.WithResponseSchema(http.StatusOK, "Offer detail", &offer.Detail{}),
		forge.WithErrorResponses(),
	))
}

// registerProviderRoutes registers the provider directory routes.
func (a *API) registerProviderRoutes(router forge.Router, rs *routeErrors) {
	g := router.Group("/v1", forge.WithGroupTags("providers"))

	rs.add(g.PUT("/providers/:providerId", a.putProvider,
		forge.WithSummary("Upsert provider"),
		forge.WithDescription("Creates or replaces a provider profile. Learned response and completion history is kept."),
		forge.WithOperationID("putProvider"),
		forge.WithRequestSchema(ProviderRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Provider", &provider.Provider{}),
		forge.WithErrorResponses(),
	))

	rs.add(g.GET("/providers/:providerId", a.getProvider,
		forge.WithSummary("Get provider"),
		forge.WithDescription("Returns a provider profile."),
		forge.WithOperationID("getProvider"),
		forge.WithResponseSchema(http.StatusOK, "Provider", &provider.Provider{}),
		forge.WithErrorResponses(),
	))
}

// registerCronRoutes registers routes for the background schedules.
func (a *API) registerCronRoutes(router forge.Router, rs *routeErrors) {
	g := router.Group("/v1", forge.WithGroupTags("crons"))

	rs.add(g.GET("/crons", a.listCrons,
		forge.WithSummary("List cron entries"),
		forge.WithDescription("Returns the background schedules of this node."),
		forge.WithOperationID("listCrons"),
		forge.WithResponseSchema(http.StatusOK, "Cron entries", []cron.Entry{}),
		forge.WithErrorResponses(),
	))

	rs.add(g.POST("/crons/:name/enable", a.enableCron,
		forge.WithSummary("Enable cron entry"),
		forge.WithDescription("Enables a disabled cron entry."),
		forge.WithOperationID("enableCron"),
		forge.WithResponseSchema(http.StatusOK, "Enabled cron entry", &cron.Entry{}),
		forge.WithErrorResponses(),
	))

	rs.add(g.POST("/crons/:name/disable", a.disableCron,
		forge.WithSummary("Disable cron entry"),
		forge.WithDescription("Disables a cron entry so it no longer fires."),
		forge.WithOperationID("disableCron"),
		forge.WithResponseSchema(http.StatusOK, "Disabled cron entry", &cron.Entry{}),
		forge.WithErrorResponses(),
	))
}

// registerStatsRoutes registers aggregate statistics routes.
func (a *API) registerStatsRoutes(router forge.Router, rs *routeErrors) {
	g := router.Group("/v1", forge.WithGroupTags("stats"))

	rs.add(g.GET("/stats", a.stats,
		forge.WithSummary("Dispatch stats"),
		forge.WithDescription("Returns run counts by state, pending offers and worker activity."),
		forge.WithOperationID("dispatchStats"),
		forge.WithResponseSchema(http.StatusOK, "Dispatch statistics", StatsResponse{}),
		forge.WithErrorResponses(),
	))
}

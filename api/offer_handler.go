package api

import (
	"net/http"

	"github.com/xraph/forge"

	"github.com/CorbanSy/PropDash-sub000/offer"
)

func (a *API) listOffers(ctx forge.Context) error {
	jobID, err := parseJobID(ctx)
	if err != nil {
		return err
	}

	offers, err := a.eng.Store().ListOffers(ctx.Context(), jobID)
	if err != nil {
		return writeError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, offers)
}

func (a *API) acceptOffer(ctx forge.Context) error {
	return a.respond(ctx, true)
}

func (a *API) declineOffer(ctx forge.Context) error {
	return a.respond(ctx, false)
}

func (a *API) respond(ctx forge.Context, accept bool) error {
	jobID, err := parseJobID(ctx)
	if err != nil {
		return err
	}
	var req RespondRequest
	if bindErr := ctx.Bind(&req); bindErr != nil {
		return forge.BadRequest("invalid request body")
	}
	providerID, err := parseProviderID(req.ProviderID)
	if err != nil {
		return err
	}

	var o *offer.Offer
	if accept {
		o, err = a.eng.Coordinator().Accept(ctx.Context(), jobID, providerID)
	} else {
		o, err = a.eng.Coordinator().Decline(ctx.Context(), jobID, providerID)
	}
	if err != nil {
		return writeError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, o)
}

func (a *API) currentOffer(ctx forge.Context, _ *ProviderPathRequest) (*offer.Detail, error) {
	providerID, err := parseProviderID(ctx.Param("providerId"))
	if err != nil {
		return nil, err
	}

	d, err := a.eng.Coordinator().CurrentOffer(ctx.Context(), providerID)
	if err != nil {
		return nil, writeError(ctx, err)
	}

	return d, nil
}

// Package api provides HTTP handlers for the dispatch service.
package api

import (
	"net/http"

	"github.com/xraph/forge"
)

func (a *API) stats(ctx forge.Context) error {
	st, err := a.eng.Coordinator().Stats(ctx.Context())
	if err != nil {
		return forge.InternalError(err)
	}

	resp := StatsResponse{
		Stats:       *st,
		ActiveTasks: a.eng.Pool().Active(),
		ArmedTimers: a.eng.Timers().Len(),
	}
	if b := a.eng.StreamBroker(); b != nil {
		bs := b.Stats()
		resp.Stream = &bs
	}
	return ctx.JSON(http.StatusOK, resp)
}

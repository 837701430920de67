package api

import (
	"errors"
	"net/http"

	"github.com/xraph/forge"

	"github.com/CorbanSy/PropDash-sub000/cron"
)

func (a *API) listCrons(ctx forge.Context) error {
	return ctx.JSON(http.StatusOK, a.eng.Scheduler().Entries())
}

func (a *API) enableCron(ctx forge.Context, _ *CronPathRequest) (*cron.Entry, error) {
	return a.setCronEnabled(ctx, true)
}

func (a *API) disableCron(ctx forge.Context, _ *CronPathRequest) (*cron.Entry, error) {
	return a.setCronEnabled(ctx, false)
}

func (a *API) setCronEnabled(ctx forge.Context, enabled bool) (*cron.Entry, error) {
	name := ctx.Param("name")
	if err := a.eng.Scheduler().SetEnabled(name, enabled); err != nil {
		if errors.Is(err, cron.ErrEntryNotFound) {
			return nil, forge.NotFound(err.Error())
		}
		return nil, forge.InternalError(err)
	}

	for _, e := range a.eng.Scheduler().Entries() {
		if e.Name == name {
			entry := e
			return &entry, nil
		}
	}
	return nil, forge.NotFound("cron entry not found")
}

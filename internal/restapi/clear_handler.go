package restapi

import (
	"errors"
	"net/http"

	"livetrail.dev/internal/engine"
	"livetrail.dev/internal/models"
)

// clearTrailHandler ends the current lifetime. The trail is empty even when
// the store write fails, but the caller still gets a 500 so the failure is
// visible.
func (api *RestAPI) clearTrailHandler(w http.ResponseWriter, r *http.Request) {
	err := api.Engine.Clear(r.Context())
	switch {
	case errors.Is(err, engine.ErrClosed):
		api.writeError(w, http.StatusServiceUnavailable, "trail engine stopped")
		return
	case err != nil:
		api.serverErrorResponse(w, r, err)
		return
	}

	api.sendResponse(w, r, models.NewEntryResponse(api.Engine.Current()))
}

package restapi

import (
	"net/http"

	"livetrail.dev/internal/models"
)

func (api *RestAPI) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := api.Engine.Status()

	code, text := http.StatusOK, "OK"
	if !status.Healthy {
		code, text = http.StatusServiceUnavailable, "no successful poll recently"
	}

	response := models.NewResponse(code, map[string]interface{}{"entry": status}, text)
	api.sendResponseWithStatus(w, r, code, response)
}

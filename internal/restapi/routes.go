package restapi

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
)

type handlerFunc func(w http.ResponseWriter, r *http.Request)

func validateAPIKey(api *RestAPI, finalHandler handlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if api.RequestHasInvalidAPIKey(r) {
			api.invalidAPIKeyResponse(w, r)
			return
		}
		finalHandler(w, r)
	})
}

// SetRoutes registers every endpoint on router.
func (api *RestAPI) SetRoutes(router *httprouter.Router) {
	router.Handler(http.MethodGet, "/api/trail.json", validateAPIKey(api, api.trailHandler))
	router.Handler(http.MethodGet, "/api/trail.geojson", validateAPIKey(api, api.trailGeoJSONHandler))
	router.Handler(http.MethodGet, "/api/trail/point/:index", validateAPIKey(api, api.trailPointHandler))
	router.Handler(http.MethodPost, "/api/trail/clear", validateAPIKey(api, api.clearTrailHandler))
	router.Handler(http.MethodPost, "/api/trail/select", validateAPIKey(api, api.selectHandler))
	router.HandlerFunc(http.MethodGet, "/healthz", api.healthHandler)
	if api.Metrics != nil {
		router.Handler(http.MethodGet, "/metrics", api.Metrics.Handler())
	}
}

// Routes returns a router with every endpoint registered.
func (api *RestAPI) Routes() *httprouter.Router {
	router := httprouter.New()
	router.NotFound = http.HandlerFunc(api.sendNotFound)
	router.MethodNotAllowed = http.HandlerFunc(api.methodNotAllowedResponse)
	api.SetRoutes(router)
	return router
}

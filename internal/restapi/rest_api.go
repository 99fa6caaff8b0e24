package restapi

import (
	"net/http"
	"time"

	"livetrail.dev/internal/app"
)

type RestAPI struct {
	*app.Application
	rateLimiter *RateLimitMiddleware
}

// NewRestAPI creates a new RestAPI instance with initialized rate limiter
func NewRestAPI(app *app.Application) *RestAPI {
	return &RestAPI{
		Application: app,
		rateLimiter: NewRateLimitMiddleware(app.Config.RateLimit, time.Second),
	}
}

// Handler returns the API routes inside the middleware chain.
func (api *RestAPI) Handler() http.Handler {
	return api.Wrap(api.Routes())
}

// Wrap applies the middleware chain, outermost first: security headers,
// request logging, compression, rate limit.
func (api *RestAPI) Wrap(handler http.Handler) http.Handler {
	if api.rateLimiter != nil {
		handler = api.rateLimiter.Handler(handler)
	}
	handler = CompressionMiddleware(handler)
	handler = NewRequestLoggingMiddleware(api.Logger, api.Metrics)(handler)
	return api.WithSecurityHeaders(handler)
}

// Close stops background work owned by the API.
func (api *RestAPI) Close() {
	if api.rateLimiter != nil {
		api.rateLimiter.Stop()
	}
}

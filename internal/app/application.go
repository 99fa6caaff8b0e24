package app

import (
	"context"
	"log/slog"

	"livetrail.dev/internal/appconf"
	"livetrail.dev/internal/engine"
	"livetrail.dev/internal/metrics"
	"livetrail.dev/internal/models"
	"livetrail.dev/internal/trailstore"
)

// TrailEngine is the part of *engine.Engine the HTTP handlers use.
type TrailEngine interface {
	Current() models.RenderState
	Changed() <-chan struct{}
	Select(sel models.Selection) error
	Clear(ctx context.Context) error
	Status() engine.Status
	Config() engine.Config
}

// Application holds the dependencies for our HTTP handlers, helpers,
// and middleware.
type Application struct {
	Config  appconf.Config
	Logger  *slog.Logger
	Engine  TrailEngine
	Store   trailstore.Store
	Metrics *metrics.Collector
}

var _ TrailEngine = (*engine.Engine)(nil)

// Package snapper turns a raw trail into a road-aligned polyline through an
// external routing service. Failures never reach the caller: the raw
// coordinates are returned instead.
package snapper

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
	"livetrail.dev/internal/geo"
	"livetrail.dev/internal/logging"
)

// Provider is a routing backend. Implementations may fail for any reason.
type Provider interface {
	Route(ctx context.Context, points []geo.Coordinate) ([]geo.Coordinate, error)
}

// Snap outcomes reported to the Recorder.
const (
	ResultOK          = "ok"
	ResultDegraded    = "degraded"
	ResultPassthrough = "passthrough"
)

// Recorder receives one observation per Snap call that had at least two points.
type Recorder interface {
	ObserveSnap(result string, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveSnap(string, time.Duration) {}

type Config struct {
	Timeout       time.Duration
	RatePerSecond float64 // zero disables limiting
	Logger        *slog.Logger
	Recorder      Recorder
}

// Client wraps a Provider with a timeout, an outbound rate limit and the
// fall-back-to-raw rule.
type Client struct {
	provider Provider
	timeout  time.Duration
	limiter  *rate.Limiter
	logger   *slog.Logger
	recorder Recorder
}

// NewClient returns a Client. A nil provider makes every Snap a passthrough.
func NewClient(provider Provider, cfg Config) *Client {
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	var recorder Recorder = nopRecorder{}
	if cfg.Recorder != nil {
		recorder = cfg.Recorder
	}
	return &Client{
		provider: provider,
		timeout:  cfg.Timeout,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger.With(slog.String("component", "snapper")),
		recorder: recorder,
	}
}

// Enabled reports whether a routing backend is configured.
func (c *Client) Enabled() bool {
	return c.provider != nil
}

// Snap returns the road-aligned version of points, or a copy of points when
// there are fewer than two, no provider is configured, or the call fails.
func (c *Client) Snap(ctx context.Context, points []geo.Coordinate) []geo.Coordinate {
	raw := append([]geo.Coordinate(nil), points...)
	if len(points) < 2 {
		return raw
	}
	if c.provider == nil {
		c.recorder.ObserveSnap(ResultPassthrough, 0)
		return raw
	}

	start := time.Now()
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		c.degrade(err, len(points), start)
		return raw
	}

	snapped, err := c.provider.Route(ctx, points)
	if err != nil {
		c.degrade(err, len(points), start)
		return raw
	}

	c.recorder.ObserveSnap(ResultOK, time.Since(start))
	c.logger.Debug("trail snapped",
		slog.Int("points", len(points)),
		slog.Int("snapped_points", len(snapped)),
		slog.Duration("duration", time.Since(start)))
	return snapped
}

func (c *Client) degrade(err error, n int, start time.Time) {
	elapsed := time.Since(start)
	c.recorder.ObserveSnap(ResultDegraded, elapsed)
	logging.LogWarn(c.logger, "snap failed, using raw trail", err,
		slog.Int("points", n),
		slog.Duration("duration", elapsed))
}

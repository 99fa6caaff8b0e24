// Package metrics exports the trail engine's counters and gauges in the
// Prometheus exposition format.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"livetrail.dev/internal/models"
)

const namespace = "livetrail"

// Collector bundles the service metrics. Every method is safe on a nil
// receiver so callers can run without metrics.
type Collector struct {
	gatherer prometheus.Gatherer

	Fixes               *prometheus.CounterVec
	Polls               *prometheus.CounterVec
	Snaps               *prometheus.CounterVec
	SnapDurations       prometheus.Histogram
	SnapResults         *prometheus.CounterVec
	PersistenceFailures prometheus.Counter
	HTTPRequests        *prometheus.CounterVec

	TrailPoints prometheus.Gauge
	Generation  prometheus.Gauge
	LatestSpeed prometheus.Gauge
	Temperature prometheus.Gauge
	Humidity    prometheus.Gauge
	Pressure    prometheus.Gauge
	DeviceOn    prometheus.Gauge
}

// NewCollector registers the metrics against reg, defaulting to the global
// Prometheus registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{gatherer: gatherer}
	var err error

	if c.Fixes, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fixes_total",
		Help:      "Fixes seen by the aggregator, labeled by result (accepted, jitter, invalid).",
	}, []string{"result"}), "fixes_total"); err != nil {
		return nil, err
	}
	if c.Polls, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "polls_total",
		Help:      "Source polls, labeled by result (ok, empty, error, skipped).",
	}, []string{"result"}), "polls_total"); err != nil {
		return nil, err
	}
	if c.Snaps, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "snaps_total",
		Help:      "Route snapping calls, labeled by result (ok, degraded, passthrough).",
	}, []string{"result"}), "snaps_total"); err != nil {
		return nil, err
	}
	if c.SnapDurations, err = registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "snap_duration_seconds",
		Help:      "Route snapping latency in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}), "snap_duration_seconds"); err != nil {
		return nil, err
	}
	if c.SnapResults, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "snap_results_total",
		Help:      "Completed snaps, labeled by whether the result was applied or discarded as stale.",
	}, []string{"outcome"}), "snap_results_total"); err != nil {
		return nil, err
	}
	if c.PersistenceFailures, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "persistence_failures_total",
		Help:      "Trail store writes that failed.",
	}), "persistence_failures_total"); err != nil {
		return nil, err
	}
	if c.HTTPRequests, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests served, labeled by method and status code.",
	}, []string{"method", "code"}), "http_requests_total"); err != nil {
		return nil, err
	}

	gauges := []struct {
		dst  *prometheus.Gauge
		name string
		help string
	}{
		{&c.TrailPoints, "trail_points", "Points in the current trail."},
		{&c.Generation, "trail_generation", "Current trail generation."},
		{&c.LatestSpeed, "latest_speed_meters_per_second", "Speed reported with the latest fix."},
		{&c.Temperature, "sensor_temperature_celsius", "Temperature reported with the latest fix."},
		{&c.Humidity, "sensor_humidity_percent", "Relative humidity reported with the latest fix."},
		{&c.Pressure, "sensor_pressure_hpa", "Pressure reported with the latest fix."},
		{&c.DeviceOn, "sensor_device_on", "1 when the tracker reports its device as on."},
	}
	for _, g := range gauges {
		if *g.dst, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      g.name,
			Help:      g.help,
		}), g.name); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (c *Collector) ObserveFix(result string) {
	if c == nil {
		return
	}
	c.Fixes.WithLabelValues(result).Inc()
}

func (c *Collector) ObservePoll(result string) {
	if c == nil {
		return
	}
	c.Polls.WithLabelValues(result).Inc()
}

// ObserveSnap records one snapper call.
func (c *Collector) ObserveSnap(result string, duration time.Duration) {
	if c == nil {
		return
	}
	c.Snaps.WithLabelValues(result).Inc()
	if duration > 0 {
		c.SnapDurations.Observe(duration.Seconds())
	}
}

// ObserveSnapResult records whether a finished snap was applied or stale.
func (c *Collector) ObserveSnapResult(outcome string) {
	if c == nil {
		return
	}
	c.SnapResults.WithLabelValues(outcome).Inc()
}

func (c *Collector) IncPersistenceFailures() {
	if c == nil {
		return
	}
	c.PersistenceFailures.Inc()
}

func (c *Collector) SetTrailLength(n int) {
	if c == nil {
		return
	}
	c.TrailPoints.Set(float64(n))
}

func (c *Collector) SetGeneration(g uint64) {
	if c == nil {
		return
	}
	c.Generation.Set(float64(g))
}

// ObserveLatestFix exports the speed and sensor values of every polled fix.
func (c *Collector) ObserveLatestFix(fix models.Fix) {
	if c == nil {
		return
	}
	if fix.Speed != nil {
		c.LatestSpeed.Set(*fix.Speed)
	}
	r := fix.Readings
	if r == nil {
		return
	}
	if r.Temperature != nil {
		c.Temperature.Set(*r.Temperature)
	}
	if r.Humidity != nil {
		c.Humidity.Set(*r.Humidity)
	}
	if r.Pressure != nil {
		c.Pressure.Set(*r.Pressure)
	}
	if r.DeviceOn != nil {
		on := 0.0
		if *r.DeviceOn {
			on = 1
		}
		c.DeviceOn.Set(on)
	}
}

func (c *Collector) ObserveHTTPRequest(method string, status int) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return h, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

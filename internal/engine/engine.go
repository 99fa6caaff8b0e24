// Package engine turns a polled stream of raw fixes into a filtered,
// persisted and snapped trail, published as an immutable RenderState.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"livetrail.dev/internal/logging"
	"livetrail.dev/internal/models"
	"livetrail.dev/internal/source"
	"livetrail.dev/internal/trailstore"
)

// Config holds the engine tunables.
type Config struct {
	MinDisplacementMeters float64
	PollInterval          time.Duration
	PollTimeout           time.Duration
}

// DefaultConfig matches the values the tracker dashboard was tuned with.
func DefaultConfig() Config {
	return Config{
		MinDisplacementMeters: 10,
		PollInterval:          2 * time.Second,
		PollTimeout:           15 * time.Second,
	}
}

// unhealthyAfter is how many poll intervals may pass without a successful
// poll before the engine reports itself unhealthy.
const unhealthyAfter = 10

// Status is a point-in-time view of the poll loop.
type Status struct {
	State         string    `json:"state"`
	Diverged      bool      `json:"diverged"`
	StartedAt     time.Time `json:"startedAt"`
	LastPollAt    time.Time `json:"lastPollAt"`
	LastSuccessAt time.Time `json:"lastSuccessAt"`
	LastError     string    `json:"lastError,omitempty"`
	Healthy       bool      `json:"healthy"`
}

type Option func(*Engine)

func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithFixObserver adds a consumer that sees every polled fix.
func WithFixObserver(o FixObserver) Option {
	return func(e *Engine) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

// Engine runs the poll loop and owns the aggregator and publisher.
type Engine struct {
	config     Config
	source     source.FixSource
	aggregator *Aggregator
	publisher  *Publisher
	recorder   Recorder
	logger     *slog.Logger
	observers  []FixObserver

	polling atomic.Bool

	statusMu      sync.RWMutex
	startedAt     time.Time
	lastPollAt    time.Time
	lastSuccessAt time.Time
	lastErr       error

	shutdownChan chan struct{}
	wg           sync.WaitGroup
	startOnce    sync.Once
	shutdownOnce sync.Once
}

// New wires an engine. Nothing runs until Start.
func New(config Config, src source.FixSource, store trailstore.Store, snapper Snapper, opts ...Option) *Engine {
	defaults := DefaultConfig()
	if config.MinDisplacementMeters <= 0 {
		config.MinDisplacementMeters = defaults.MinDisplacementMeters
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.PollTimeout <= 0 {
		config.PollTimeout = defaults.PollTimeout
	}

	e := &Engine{
		config:       config,
		source:       src,
		publisher:    NewPublisher(),
		recorder:     nopRecorder{},
		logger:       logging.Discard(),
		shutdownChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(slog.String("component", "trail_engine"))
	e.aggregator = NewAggregator(config.MinDisplacementMeters, store, snapper, e.publisher, e.recorder, e.logger)
	return e
}

// Start restores the persisted trail and launches the poll loop. The first
// poll runs immediately.
func (e *Engine) Start(ctx context.Context) error {
	var err error
	e.startOnce.Do(func() {
		if err = e.aggregator.Restore(ctx); err != nil {
			return
		}

		e.statusMu.Lock()
		e.startedAt = time.Now()
		e.statusMu.Unlock()

		if l, ok := e.source.(source.Listener); ok {
			l.Start(context.Background())
		}

		e.wg.Add(1)
		go e.run()

		logging.LogOperation(e.logger, "trail_engine_started",
			slog.Duration("poll_interval", e.config.PollInterval),
			slog.Float64("min_displacement_m", e.config.MinDisplacementMeters))
	})
	return err
}

func (e *Engine) run() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	var notify <-chan struct{}
	if n, ok := e.source.(source.Notifier); ok {
		notify = n.Notify()
	}

	e.triggerPoll()
	for {
		select {
		case <-ticker.C:
			e.triggerPoll()
		case <-notify:
			e.triggerPoll()
		case <-e.shutdownChan:
			logging.LogOperation(e.logger, "shutting_down_poll_loop")
			return
		}
	}
}

// triggerPoll starts a poll unless one is still running. Skipped ticks are
// dropped, never queued.
func (e *Engine) triggerPoll() bool {
	if !e.polling.CompareAndSwap(false, true) {
		e.recorder.ObservePoll(PollSkipped)
		e.logger.Debug("poll still in flight, skipping tick")
		return false
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.polling.Store(false)
		e.pollOnce()
	}()
	return true
}

func (e *Engine) pollOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), e.config.PollTimeout)
	defer cancel()
	ctx = logging.WithLogger(ctx, e.logger)

	fix, err := e.source.Poll(ctx)
	e.recordPoll(err)
	if err != nil {
		e.recorder.ObservePoll(PollError)
		logging.LogWarn(e.logger, "fix source poll failed", err)
		return
	}
	if fix == nil {
		e.recorder.ObservePoll(PollEmpty)
		return
	}
	e.recorder.ObservePoll(PollOK)

	for _, o := range e.observers {
		o.ObserveLatestFix(*fix)
	}

	// persistence failures are logged and counted by the aggregator
	_, _ = e.aggregator.OnFix(ctx, *fix)
}

func (e *Engine) recordPoll(err error) {
	now := time.Now()

	e.statusMu.Lock()
	defer e.statusMu.Unlock()

	e.lastPollAt = now
	e.lastErr = err
	if err == nil {
		e.lastSuccessAt = now
	}
}

// Current returns the latest RenderState without blocking.
func (e *Engine) Current() models.RenderState {
	return e.publisher.Current()
}

// Changed returns a channel closed on the next RenderState publish.
func (e *Engine) Changed() <-chan struct{} {
	return e.publisher.Changed()
}

func (e *Engine) Select(sel models.Selection) error {
	return e.publisher.Select(sel)
}

// Clear resets the trail. A non-nil error wraps ErrPersistence; the
// in-memory trail is empty either way.
func (e *Engine) Clear(ctx context.Context) error {
	return e.aggregator.Clear(ctx)
}

func (e *Engine) Config() Config {
	return e.config
}

// Status reports the poll loop health as of now.
func (e *Engine) Status() Status {
	state, diverged := e.aggregator.State()

	e.statusMu.RLock()
	defer e.statusMu.RUnlock()

	s := Status{
		State:         state.String(),
		Diverged:      diverged,
		StartedAt:     e.startedAt,
		LastPollAt:    e.lastPollAt,
		LastSuccessAt: e.lastSuccessAt,
	}
	if e.lastErr != nil {
		s.LastError = e.lastErr.Error()
	}

	since := e.lastSuccessAt
	if since.IsZero() {
		since = e.startedAt
	}
	s.Healthy = !since.IsZero() && time.Since(since) <= unhealthyAfter*e.config.PollInterval
	return s
}

// Shutdown stops the poll loop and any push listener, then closes the
// aggregator and waits for in-flight snaps, which are discarded when they
// land.
func (e *Engine) Shutdown() {
	e.shutdownOnce.Do(func() {
		close(e.shutdownChan)
		e.wg.Wait()
		if l, ok := e.source.(source.Listener); ok {
			if err := l.Close(); err != nil {
				logging.LogError(e.logger, "failed to close fix listener", err)
			}
		}
		e.aggregator.Close()
		e.aggregator.Wait()
	})
}

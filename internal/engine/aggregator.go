package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
	"livetrail.dev/internal/geo"
	"livetrail.dev/internal/logging"
	"livetrail.dev/internal/models"
	"livetrail.dev/internal/trailstore"
)

// State is the lifecycle of one trail.
type State int

const (
	StateEmpty State = iota
	StateAccumulating
)

func (s State) String() string {
	if s == StateAccumulating {
		return "accumulating"
	}
	return "empty"
}

// Snapper derives the road-aligned trail. It must always return something
// usable; *snapper.Client falls back to the raw coordinates.
type Snapper interface {
	Snap(ctx context.Context, points []geo.Coordinate) []geo.Coordinate
}

// Aggregator owns the trail of the current lifetime. OnFix, Clear and
// Restore are serialized by one mutex; snapping runs outside it and its
// result is applied only if no mutation happened in between.
type Aggregator struct {
	mu sync.Mutex

	store           trailstore.Store
	snapper         Snapper
	publisher       *Publisher
	recorder        Recorder
	logger          *slog.Logger
	minDisplacement float64

	state      State
	lifetimeID string
	trail      models.Trail
	initial    *models.TrailPoint
	snapped    []geo.Coordinate
	latest     *models.Fix
	generation uint64
	diverged   bool
	closed     bool

	snaps sync.WaitGroup
}

// NewAggregator builds an aggregator that accepts a fix only when it lies at
// least minDisplacement meters from the last accepted point. A threshold of
// zero or less would let duplicates through, so it falls back to the default.
func NewAggregator(minDisplacement float64, store trailstore.Store, snapper Snapper, publisher *Publisher, recorder Recorder, logger *slog.Logger) *Aggregator {
	if minDisplacement <= 0 {
		minDisplacement = DefaultConfig().MinDisplacementMeters
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = logging.Discard()
	}
	if publisher == nil {
		publisher = NewPublisher()
	}
	return &Aggregator{
		store:           store,
		snapper:         snapper,
		publisher:       publisher,
		recorder:        recorder,
		logger:          logger.With(slog.String("component", "trail_aggregator")),
		minDisplacement: minDisplacement,
	}
}

func validateFix(fix models.Fix) error {
	if err := geo.ValidateCoordinate(fix.Coordinate); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFix, err)
	}
	if fix.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidFix)
	}
	return nil
}

// OnFix filters one fix into the trail. It reports whether the fix was
// accepted. Invalid fixes and jitter are dropped with a nil error; the only
// error is a wrapped ErrPersistence, returned after the fix has been
// accepted in memory.
func (a *Aggregator) OnFix(ctx context.Context, fix models.Fix) (bool, error) {
	if err := validateFix(fix); err != nil {
		a.logger.Debug("dropping fix", slog.String("reason", err.Error()), slog.String("coordinate", fix.Coordinate.String()))
		a.recorder.ObserveFix(FixInvalid)
		return false, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return false, ErrClosed
	}

	latest := fix
	a.latest = &latest
	point := fix.Point()

	var persistErr error
	switch a.state {
	case StateEmpty:
		a.lifetimeID = uuid.NewString()
		anchor := point
		a.initial = &anchor
		a.trail = models.Trail{point}
		a.state = StateAccumulating
		persistErr = a.persistLocked(ctx, "start_lifetime", func() error {
			if err := a.store.SetInitial(ctx, a.lifetimeID, point); err != nil {
				return err
			}
			return a.store.Append(ctx, point)
		})
		a.logger.Info("trail lifetime started",
			slog.String("lifetime_id", a.lifetimeID),
			slog.String("anchor", point.Coordinate.String()))

	case StateAccumulating:
		last, _ := a.trail.Last()
		if geo.DistanceMeters(last.Coordinate, point.Coordinate) < a.minDisplacement {
			a.recorder.ObserveFix(FixJitter)
			a.publishLocked()
			return false, nil
		}
		a.trail = append(a.trail, point)
		persistErr = a.persistLocked(ctx, "append_point", func() error {
			return a.store.Append(ctx, point)
		})
	}

	a.generation++
	a.recorder.ObserveFix(FixAccepted)
	a.startSnapLocked()
	a.publishLocked()

	return true, persistErr
}

// Clear ends the current lifetime. Derived state is dropped before the
// store is touched, so a store failure still leaves an empty trail.
func (a *Aggregator) Clear(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}

	a.generation++
	a.state = StateEmpty
	a.lifetimeID = ""
	a.trail = nil
	a.initial = nil
	a.snapped = nil
	a.latest = nil
	a.publishLocked()

	a.logger.Info("trail cleared", slog.Uint64("generation", a.generation))

	return a.persistLocked(ctx, "clear_trail", func() error {
		return a.store.Clear(ctx)
	})
}

// Restore loads the persisted lifetime. It is meant to run once, before the
// first fix.
func (a *Aggregator) Restore(ctx context.Context) error {
	snap, err := a.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("%w: load: %w", ErrPersistence, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if snap.Empty() {
		a.publishLocked()
		return nil
	}

	points := slices.Clone(snap.Points)
	initial := snap.Initial
	lifetimeID := snap.LifetimeID

	// a crash between the anchor and the first append, or an older store,
	// can leave only half of a lifetime behind
	if initial == nil {
		anchor := points[0]
		initial = &anchor
		a.diverged = true
	}
	if len(points) == 0 {
		points = models.Trail{*initial}
		a.diverged = true
	}
	if lifetimeID == "" {
		lifetimeID = uuid.NewString()
		a.diverged = true
	}

	a.state = StateAccumulating
	a.lifetimeID = lifetimeID
	a.initial = initial
	a.trail = points
	a.generation++
	a.startSnapLocked()
	a.publishLocked()

	logging.LogOperation(a.logger, "trail_restored",
		slog.String("lifetime_id", lifetimeID),
		slog.Int("points", len(points)),
		slog.Bool("diverged", a.diverged))
	return nil
}

// persistLocked runs write, or rewrites the whole lifetime when an earlier
// write failed.
func (a *Aggregator) persistLocked(ctx context.Context, operation string, write func() error) error {
	var err error
	if a.diverged {
		operation = "reconcile_" + operation
		err = a.store.Replace(ctx, a.snapshotLocked())
	} else {
		err = write()
	}

	if err != nil {
		a.diverged = true
		a.recorder.IncPersistenceFailures()
		logging.LogError(a.logger, "trail store write failed", err,
			slog.String("operation", operation),
			slog.Int("points", len(a.trail)))
		return fmt.Errorf("%w: %s: %w", ErrPersistence, operation, err)
	}

	if a.diverged {
		logging.LogOperation(a.logger, "trail_store_reconciled", slog.Int("points", len(a.trail)))
	}
	a.diverged = false
	return nil
}

func (a *Aggregator) snapshotLocked() trailstore.Snapshot {
	snap := trailstore.Snapshot{
		LifetimeID: a.lifetimeID,
		Points:     slices.Clone(a.trail),
	}
	if a.initial != nil {
		initial := *a.initial
		snap.Initial = &initial
	}
	return snap
}

// startSnapLocked issues a snap for the current generation. The caller
// publishes.
func (a *Aggregator) startSnapLocked() {
	if len(a.trail) < 2 {
		a.snapped = nil
		return
	}

	gen := a.generation
	coords := a.trail.Coordinates()

	a.snaps.Add(1)
	go func() {
		defer a.snaps.Done()
		// detached from the poll context, which ends before most snaps do
		snapped := a.snapper.Snap(context.Background(), coords)
		a.applySnap(gen, snapped)
	}()
}

func (a *Aggregator) applySnap(gen uint64, snapped []geo.Coordinate) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed || gen != a.generation {
		a.recorder.ObserveSnapResult(SnapStale)
		a.logger.Debug("discarding stale snap",
			slog.Uint64("issued_generation", gen),
			slog.Uint64("current_generation", a.generation))
		return
	}

	a.snapped = snapped
	a.recorder.ObserveSnapResult(SnapApplied)
	a.publishLocked()
}

func (a *Aggregator) publishLocked() {
	state := models.RenderState{
		LifetimeID:   a.lifetimeID,
		Trail:        slices.Clip(a.trail),
		InitialPoint: a.initial,
		SnappedTrail: slices.Clip(a.snapped),
		LatestFix:    a.latest,
		Generation:   a.generation,
	}
	if n := len(a.trail); n >= 2 {
		heading := geo.BearingDegrees(a.trail[n-2].Coordinate, a.trail[n-1].Coordinate)
		state.Heading = &heading
		state.Compass = geo.BearingToCompass(heading)
	}

	a.publisher.publish(state)
	a.recorder.SetTrailLength(len(a.trail))
	a.recorder.SetGeneration(a.generation)
}

// State returns the lifecycle state and whether the store is behind memory.
func (a *Aggregator) State() (State, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state, a.diverged
}

// Close stops accepting fixes and makes every in-flight snap stale.
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.generation++
}

// Wait blocks until every snap goroutine has returned.
func (a *Aggregator) Wait() {
	a.snaps.Wait()
}

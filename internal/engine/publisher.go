package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"livetrail.dev/internal/geo"
	"livetrail.dev/internal/models"
)

// Publisher holds the latest RenderState. Reads are a single atomic load;
// writes are serialized so a selection is never lost between publishes.
type Publisher struct {
	mu      sync.Mutex
	current atomic.Pointer[models.RenderState]
	changed chan struct{}
	now     func() time.Time
}

func NewPublisher() *Publisher {
	p := &Publisher{
		changed: make(chan struct{}),
		now:     time.Now,
	}
	p.current.Store(&models.RenderState{
		Trail:        models.Trail{},
		SnappedTrail: []geo.Coordinate{},
		UpdatedAt:    p.now().UTC(),
	})
	return p
}

// Current returns the latest snapshot. It never blocks. The slices inside
// are shared with other readers and must not be modified.
func (p *Publisher) Current() models.RenderState {
	return *p.current.Load()
}

// Changed returns a channel that is closed on the next publish.
func (p *Publisher) Changed() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.changed
}

// Select highlights a point or fix from the current lifetime. The zero
// Selection clears it.
func (p *Publisher) Select(sel models.Selection) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := p.Current()
	if sel.Empty() {
		next.Selected = nil
	} else {
		if !selectionValid(next, sel) {
			return ErrUnknownSelection
		}
		next.Selected = &sel
	}
	p.storeLocked(next)
	return nil
}

// publish replaces the snapshot. The selection survives for as long as the
// lifetime it was made in.
func (p *Publisher) publish(state models.RenderState) {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev := p.current.Load()
	state.Selected = nil
	if prev.Selected != nil && state.LifetimeID != "" && state.LifetimeID == prev.LifetimeID {
		state.Selected = prev.Selected
	}
	p.storeLocked(state)
}

func (p *Publisher) storeLocked(state models.RenderState) {
	if state.Trail == nil {
		state.Trail = models.Trail{}
	}
	if state.SnappedTrail == nil {
		state.SnappedTrail = []geo.Coordinate{}
	}
	state.UpdatedAt = p.now().UTC()
	p.current.Store(&state)
	close(p.changed)
	p.changed = make(chan struct{})
}

func selectionValid(state models.RenderState, sel models.Selection) bool {
	if sel.Point != nil && sel.Fix != nil {
		return false
	}
	if sel.Point != nil {
		if state.InitialPoint != nil && state.InitialPoint.Same(*sel.Point) {
			return true
		}
		return state.Trail.Contains(*sel.Point)
	}
	if sel.Fix != nil {
		if state.LatestFix != nil && state.LatestFix.Point().Same(sel.Fix.Point()) {
			return true
		}
		return state.Trail.Contains(sel.Fix.Point())
	}
	return false
}

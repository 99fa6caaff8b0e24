// Package trailstore persists the accepted trail of the current lifetime so
// it survives a process restart.
package trailstore

import (
	"context"

	"livetrail.dev/internal/models"
)

// Snapshot is everything persisted for one lifetime.
type Snapshot struct {
	LifetimeID string
	Initial    *models.TrailPoint
	Points     []models.TrailPoint
}

func (s Snapshot) Empty() bool {
	return s.Initial == nil && len(s.Points) == 0
}

// Store is the durable home of the trail. Each method is atomic: a failed
// call leaves the previous contents intact.
type Store interface {
	// Append adds one accepted point to the end of the trail.
	Append(ctx context.Context, p models.TrailPoint) error
	// SetInitial records the anchor of a new lifetime.
	SetInitial(ctx context.Context, lifetimeID string, p models.TrailPoint) error
	// Clear removes the trail and the anchor.
	Clear(ctx context.Context) error
	// Replace overwrites everything with snap in one transaction.
	Replace(ctx context.Context, snap Snapshot) error
	// Load returns the persisted lifetime, points in insertion order.
	Load(ctx context.Context) (Snapshot, error)
}

package models

import (
	"time"

	"livetrail.dev/internal/geo"
)

// Selection is the point or fix the consumer has highlighted. At most one
// field is set; the zero value means nothing is selected.
type Selection struct {
	Point *TrailPoint `json:"point,omitempty"`
	Fix   *Fix        `json:"fix,omitempty"`
}

func (s Selection) Empty() bool {
	return s.Point == nil && s.Fix == nil
}

// RenderState is an immutable snapshot of everything a consumer draws.
// Publishers replace it wholesale and never mutate a published value.
type RenderState struct {
	LifetimeID   string           `json:"lifetimeId,omitempty"`
	Trail        Trail            `json:"trail"`
	InitialPoint *TrailPoint      `json:"initialPoint,omitempty"`
	SnappedTrail []geo.Coordinate `json:"snappedTrail"`
	LatestFix    *Fix             `json:"latestFix,omitempty"`
	Heading      *float64         `json:"heading,omitempty"`
	Compass      string           `json:"compass,omitempty"`
	Selected     *Selection       `json:"selected,omitempty"`
	Generation   uint64           `json:"generation"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"livetrail.dev/internal/geo"
)

func TestTrailHelpers(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	a := TrailPoint{Coordinate: geo.Coordinate{Lat: 24.9270, Lon: 67.0835}, Timestamp: ts}
	b := TrailPoint{Coordinate: geo.Coordinate{Lat: 24.9271, Lon: 67.0835}, Timestamp: ts.Add(2 * time.Second)}

	t.Run("empty trail", func(t *testing.T) {
		var trail Trail
		assert.Nil(t, trail.Coordinates())
		_, ok := trail.Last()
		assert.False(t, ok)
		assert.False(t, trail.Contains(a))
	})

	t.Run("populated trail", func(t *testing.T) {
		trail := Trail{a, b}
		assert.Equal(t, []geo.Coordinate{a.Coordinate, b.Coordinate}, trail.Coordinates())
		last, ok := trail.Last()
		assert.True(t, ok)
		assert.Equal(t, b, last)
		assert.True(t, trail.Contains(a))
	})

	t.Run("same ignores time zone representation", func(t *testing.T) {
		local := TrailPoint{Coordinate: a.Coordinate, Timestamp: ts.In(time.FixedZone("PKT", 5*3600))}
		assert.True(t, a.Same(local))
		assert.False(t, a.Same(b))
	})
}

func TestFixPoint(t *testing.T) {
	speed := 4.2
	fix := Fix{
		Coordinate: geo.Coordinate{Lat: 1, Lon: 2},
		Timestamp:  time.Unix(100, 0).UTC(),
		Speed:      &speed,
		Readings:   &SensorReadings{},
	}

	assert.Equal(t, TrailPoint{Coordinate: fix.Coordinate, Timestamp: fix.Timestamp}, fix.Point())
}

func TestSelectionEmpty(t *testing.T) {
	assert.True(t, Selection{}.Empty())
	assert.False(t, Selection{Point: &TrailPoint{}}.Empty())
	assert.False(t, Selection{Fix: &Fix{}}.Empty())
}

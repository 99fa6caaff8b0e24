package models

import (
	"time"

	"livetrail.dev/internal/geo"
)

// SensorReadings are the environmental values that ride along with a fix.
// The trail engine never reads them.
type SensorReadings struct {
	Temperature *float64 `json:"temperature,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
	Pressure    *float64 `json:"pressure,omitempty"`
	DeviceOn    *bool    `json:"deviceOn,omitempty"`
}

// Fix is one raw position sample from the location source. A zero
// Timestamp means the source timestamp could not be parsed.
type Fix struct {
	geo.Coordinate
	Timestamp time.Time       `json:"timestamp"`
	Speed     *float64        `json:"speed,omitempty"`
	Readings  *SensorReadings `json:"readings,omitempty"`
}

// Point drops the speed and sensor values.
func (f Fix) Point() TrailPoint {
	return TrailPoint{Coordinate: f.Coordinate, Timestamp: f.Timestamp}
}

// TrailPoint is an accepted fix reduced to what the trail keeps.
type TrailPoint struct {
	geo.Coordinate
	Timestamp time.Time `json:"timestamp"`
}

// Same reports whether p and o are the same sample.
func (p TrailPoint) Same(o TrailPoint) bool {
	return p.Coordinate == o.Coordinate && p.Timestamp.Equal(o.Timestamp)
}

// Trail is the accepted points of one lifetime in arrival order.
type Trail []TrailPoint

func (t Trail) Coordinates() []geo.Coordinate {
	if len(t) == 0 {
		return nil
	}
	coords := make([]geo.Coordinate, len(t))
	for i, p := range t {
		coords[i] = p.Coordinate
	}
	return coords
}

// Last returns the most recent point.
func (t Trail) Last() (TrailPoint, bool) {
	if len(t) == 0 {
		return TrailPoint{}, false
	}
	return t[len(t)-1], true
}

// Contains reports whether p is one of the trail's points.
func (t Trail) Contains(p TrailPoint) bool {
	for _, q := range t {
		if q.Same(p) {
			return true
		}
	}
	return false
}

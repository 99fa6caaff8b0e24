package models

// TrailEntry is the RenderState as served over HTTP, with both trails also
// in Google encoded polyline form for map clients.
type TrailEntry struct {
	RenderState
	PointCount          int    `json:"pointCount"`
	EncodedTrail        string `json:"encodedTrail"`
	EncodedSnappedTrail string `json:"encodedSnappedTrail"`
}

// TrailPointEntry is one accepted point with its distances along the trail.
type TrailPointEntry struct {
	Index                      int        `json:"index"`
	Point                      TrailPoint `json:"point"`
	DistanceFromPreviousMeters float64    `json:"distanceFromPreviousMeters"`
	DistanceAlongTrailMeters   float64    `json:"distanceAlongTrailMeters"`
}

package restapi

import (
	"net/http"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"livetrail.dev/internal/geo"
	"livetrail.dev/internal/logging"
	"livetrail.dev/internal/models"
)

func lineString(coords []geo.Coordinate) orb.LineString {
	ls := make(orb.LineString, len(coords))
	for i, c := range coords {
		ls[i] = orb.Point{c.Lon, c.Lat}
	}
	return ls
}

// trailFeatureCollection renders the state as GeoJSON. Lines need two
// points, so a one-point trail yields only the anchor.
func trailFeatureCollection(state models.RenderState) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	if len(state.Trail) >= 2 {
		f := geojson.NewFeature(lineString(state.Trail.Coordinates()))
		f.Properties["kind"] = "trail"
		f.Properties["points"] = len(state.Trail)
		f.Properties["lifetimeId"] = state.LifetimeID
		fc.Append(f)
	}
	if len(state.SnappedTrail) >= 2 {
		f := geojson.NewFeature(lineString(state.SnappedTrail))
		f.Properties["kind"] = "snapped"
		fc.Append(f)
	}
	if p := state.InitialPoint; p != nil {
		f := geojson.NewFeature(orb.Point{p.Lon, p.Lat})
		f.Properties["kind"] = "initial"
		f.Properties["timestamp"] = p.Timestamp
		fc.Append(f)
	}
	if fix := state.LatestFix; fix != nil {
		f := geojson.NewFeature(orb.Point{fix.Lon, fix.Lat})
		f.Properties["kind"] = "latest"
		f.Properties["timestamp"] = fix.Timestamp
		if fix.Speed != nil {
			f.Properties["speed"] = *fix.Speed
		}
		if state.Heading != nil {
			f.Properties["heading"] = *state.Heading
			f.Properties["compass"] = state.Compass
		}
		fc.Append(f)
	}
	return fc
}

// trailGeoJSONHandler serves a bare FeatureCollection so map tools can load
// the URL directly.
func (api *RestAPI) trailGeoJSONHandler(w http.ResponseWriter, r *http.Request) {
	body, err := trailFeatureCollection(api.Engine.Current()).MarshalJSON()
	if err != nil {
		api.serverErrorResponse(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/geo+json")
	if _, err := w.Write(body); err != nil {
		logging.LogError(api.Logger, "failed to write geojson response", err)
	}
}

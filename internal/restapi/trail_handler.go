package restapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/julienschmidt/httprouter"
	"github.com/twpayne/go-polyline"
	"livetrail.dev/internal/geo"
	"livetrail.dev/internal/models"
)

func encodePolyline(coords []geo.Coordinate) string {
	if len(coords) == 0 {
		return ""
	}
	line := make([][]float64, len(coords))
	for i, c := range coords {
		line[i] = []float64{c.Lat, c.Lon}
	}
	return string(polyline.EncodeCoords(line))
}

func (api *RestAPI) trailHandler(w http.ResponseWriter, r *http.Request) {
	state := api.Engine.Current()

	entry := models.TrailEntry{
		RenderState:         state,
		PointCount:          len(state.Trail),
		EncodedTrail:        encodePolyline(state.Trail.Coordinates()),
		EncodedSnappedTrail: encodePolyline(state.SnappedTrail),
	}
	api.sendResponse(w, r, models.NewEntryResponse(entry))
}

func (api *RestAPI) trailPointHandler(w http.ResponseWriter, r *http.Request) {
	params := httprouter.ParamsFromContext(r.Context())
	raw := strings.TrimSuffix(params.ByName("index"), ".json")

	index, err := strconv.Atoi(raw)
	if err != nil || index < 0 {
		api.validationErrorResponse(w, r, map[string][]string{
			"index": {"must be a non-negative integer"},
		})
		return
	}

	trail := api.Engine.Current().Trail
	if index >= len(trail) {
		api.sendNotFound(w, r)
		return
	}

	entry := models.TrailPointEntry{
		Index: index,
		Point: trail[index],
	}
	for i := 1; i <= index; i++ {
		d := geo.DistanceMeters(trail[i-1].Coordinate, trail[i].Coordinate)
		entry.DistanceAlongTrailMeters += d
		if i == index {
			entry.DistanceFromPreviousMeters = d
		}
	}
	api.sendResponse(w, r, models.NewEntryResponse(entry))
}

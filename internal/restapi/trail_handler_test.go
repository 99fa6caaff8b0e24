package restapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-polyline"
	"livetrail.dev/internal/engine"
	"livetrail.dev/internal/geo"
	"livetrail.dev/internal/models"
)

func TestTrailHandler(t *testing.T) {
	api, _ := createTestApi(t)
	resp, model := serveApiAndRetrieveEndpoint(t, api, http.MethodGet, "/api/trail.json?key=TEST", "")

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, http.StatusOK, model.Code)
	assert.Equal(t, 2, model.Version)
	assert.Equal(t, "OK", model.Text)

	var entry models.TrailEntry
	entryOf(t, model, &entry)

	want := sampleState()
	assert.Equal(t, "lifetime-1", entry.LifetimeID)
	assert.Equal(t, 3, entry.PointCount)
	assert.Equal(t, want.Trail, entry.Trail)
	assert.Equal(t, want.SnappedTrail, entry.SnappedTrail)
	assert.Equal(t, uint64(3), entry.Generation)
	assert.Equal(t, "N", entry.Compass)

	expected := polyline.EncodeCoords([][]float64{
		{24.9270, 67.0835},
		{24.9272, 67.0835},
		{24.9274, 67.0835},
	})
	assert.Equal(t, string(expected), entry.EncodedTrail)

	coords, _, err := polyline.DecodeCoords([]byte(entry.EncodedSnappedTrail))
	require.NoError(t, err)
	require.Len(t, coords, 3)
	assert.InDelta(t, 67.0836, coords[0][1], 1e-5)
}

func TestTrailHandlerEmptyTrail(t *testing.T) {
	api, fake := createTestApi(t)
	fake.state = models.RenderState{Trail: models.Trail{}, SnappedTrail: []geo.Coordinate{}}

	resp, model := serveApiAndRetrieveEndpoint(t, api, http.MethodGet, "/api/trail.json?key=TEST", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var entry models.TrailEntry
	entryOf(t, model, &entry)
	assert.Zero(t, entry.PointCount)
	assert.Empty(t, entry.EncodedTrail)
	assert.NotNil(t, entry.Trail)
	assert.Nil(t, entry.InitialPoint)
}

func TestTrailEndpointsRequireAPIKey(t *testing.T) {
	api, _ := createTestApi(t)

	for _, endpoint := range []string{
		"/api/trail.json",
		"/api/trail.json?key=wrong",
		"/api/trail.geojson",
		"/api/trail/point/0",
	} {
		t.Run(endpoint, func(t *testing.T) {
			resp, model := serveApiAndRetrieveEndpoint(t, api, http.MethodGet, endpoint, "")
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.Equal(t, http.StatusUnauthorized, model.Code)
			assert.Equal(t, "permission denied", model.Text)
		})
	}

	resp, _ := serveApiAndRetrieveEndpoint(t, api, http.MethodPost, "/api/trail/clear", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestTrailGeoJSONHandler(t *testing.T) {
	api, _ := createTestApi(t)
	resp := doRequest(t, api, http.MethodGet, "/api/trail.geojson?key=TEST", "")

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/geo+json", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	fc, err := geojson.UnmarshalFeatureCollection(body)
	require.NoError(t, err)
	require.Len(t, fc.Features, 4)

	kinds := map[string]*geojson.Feature{}
	for _, f := range fc.Features {
		kinds[f.Properties.MustString("kind")] = f
	}

	trail, ok := kinds["trail"].Geometry.(orb.LineString)
	require.True(t, ok)
	require.Len(t, trail, 3)
	assert.Equal(t, orb.Point{67.0835, 24.9270}, trail[0])

	_, ok = kinds["snapped"].Geometry.(orb.LineString)
	assert.True(t, ok)

	latest, ok := kinds["latest"].Geometry.(orb.Point)
	require.True(t, ok)
	assert.Equal(t, orb.Point{67.0835, 24.92741}, latest)
	assert.InDelta(t, 4.5, kinds["latest"].Properties.MustFloat64("speed"), 1e-9)
	assert.Equal(t, "N", kinds["latest"].Properties.MustString("compass"))

	_, ok = kinds["initial"].Geometry.(orb.Point)
	assert.True(t, ok)
}

func TestTrailGeoJSONSinglePoint(t *testing.T) {
	state := sampleState()
	state.Trail = state.Trail[:1]
	state.SnappedTrail = []geo.Coordinate{}
	state.LatestFix = nil

	fc := trailFeatureCollection(state)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "initial", fc.Features[0].Properties.MustString("kind"))
}

func TestTrailPointHandler(t *testing.T) {
	api, _ := createTestApi(t)
	state := sampleState()

	for _, endpoint := range []string{"/api/trail/point/2?key=TEST", "/api/trail/point/2.json?key=TEST"} {
		resp, model := serveApiAndRetrieveEndpoint(t, api, http.MethodGet, endpoint, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var entry models.TrailPointEntry
		entryOf(t, model, &entry)

		step := geo.DistanceMeters(state.Trail[1].Coordinate, state.Trail[2].Coordinate)
		assert.Equal(t, 2, entry.Index)
		assert.Equal(t, state.Trail[2], entry.Point)
		assert.InDelta(t, step, entry.DistanceFromPreviousMeters, 1e-9)
		assert.InDelta(t, 2*step, entry.DistanceAlongTrailMeters, 0.01)
	}
}

func TestTrailPointHandlerErrors(t *testing.T) {
	api, _ := createTestApi(t)

	resp, model := serveApiAndRetrieveEndpoint(t, api, http.MethodGet, "/api/trail/point/3?key=TEST", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, http.StatusNotFound, model.Code)

	for _, index := range []string{"abc", "-1"} {
		resp := doRequest(t, api, http.MethodGet, "/api/trail/point/"+index+"?key=TEST", "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		var body struct {
			FieldErrors map[string][]string `json:"fieldErrors"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Contains(t, body.FieldErrors, "index")
	}
}

func TestClearTrailHandler(t *testing.T) {
	api, fake := createTestApi(t)

	resp, model := serveApiAndRetrieveEndpoint(t, api, http.MethodPost, "/api/trail/clear?key=TEST", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, fake.cleared)

	var state models.RenderState
	entryOf(t, model, &state)
	assert.Empty(t, state.Trail)
	assert.Nil(t, state.InitialPoint)
}

func TestClearTrailHandlerFailures(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "persistence", err: fmt.Errorf("%w: clear_trail: %w", engine.ErrPersistence, errors.New("disk full")), status: http.StatusInternalServerError},
		{name: "closed", err: engine.ErrClosed, status: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api, fake := createTestApi(t)
			fake.clearErr = tt.err

			resp, model := serveApiAndRetrieveEndpoint(t, api, http.MethodPost, "/api/trail/clear?key=TEST", "")
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.status, model.Code)
			assert.Equal(t, 1, fake.cleared)
		})
	}
}

func TestHealthHandler(t *testing.T) {
	api, fake := createTestApi(t)

	resp, model := serveApiAndRetrieveEndpoint(t, api, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var status engine.Status
	entryOf(t, model, &status)
	assert.True(t, status.Healthy)
	assert.Equal(t, "accumulating", status.State)

	fake.status = engine.Status{State: "empty", LastError: "transient source failure: timeout"}
	resp, model = serveApiAndRetrieveEndpoint(t, api, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, http.StatusServiceUnavailable, model.Code)
	entryOf(t, model, &status)
	assert.False(t, status.Healthy)
	assert.Contains(t, status.LastError, "timeout")
}

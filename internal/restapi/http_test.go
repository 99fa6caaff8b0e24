package restapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"livetrail.dev/internal/app"
	"livetrail.dev/internal/appconf"
	"livetrail.dev/internal/engine"
	"livetrail.dev/internal/geo"
	"livetrail.dev/internal/logging"
	"livetrail.dev/internal/models"
)

// fakeEngine serves a fixed RenderState and records commands.
type fakeEngine struct {
	mu       sync.Mutex
	state    models.RenderState
	status   engine.Status
	clearErr error
	cleared  int
}

func (f *fakeEngine) Current() models.RenderState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeEngine) Changed() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (f *fakeEngine) Select(sel models.Selection) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if sel.Empty() {
		f.state.Selected = nil
		return nil
	}
	known := sel.Point != nil && (f.state.Trail.Contains(*sel.Point) ||
		(f.state.InitialPoint != nil && f.state.InitialPoint.Same(*sel.Point)))
	if sel.Fix != nil && f.state.LatestFix != nil {
		known = f.state.LatestFix.Point().Same(sel.Fix.Point())
	}
	if !known {
		return engine.ErrUnknownSelection
	}
	f.state.Selected = &sel
	return nil
}

func (f *fakeEngine) Clear(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
	f.state = models.RenderState{Trail: models.Trail{}, SnappedTrail: []geo.Coordinate{}}
	return f.clearErr
}

func (f *fakeEngine) Status() engine.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeEngine) Config() engine.Config {
	return engine.DefaultConfig()
}

var testTime = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func testPoint(lat, lon float64, sec int) models.TrailPoint {
	return models.TrailPoint{
		Coordinate: geo.Coordinate{Lat: lat, Lon: lon},
		Timestamp:  testTime.Add(time.Duration(sec) * time.Second),
	}
}

// sampleState is a three point trail heading north.
func sampleState() models.RenderState {
	trail := models.Trail{
		testPoint(24.9270, 67.0835, 0),
		testPoint(24.9272, 67.0835, 2),
		testPoint(24.9274, 67.0835, 4),
	}
	initial := trail[0]
	speed := 4.5
	latest := models.Fix{Coordinate: geo.Coordinate{Lat: 24.92741, Lon: 67.0835}, Timestamp: testTime.Add(6 * time.Second), Speed: &speed}
	heading := 0.0

	snapped := make([]geo.Coordinate, len(trail))
	for i, p := range trail {
		snapped[i] = geo.Coordinate{Lat: p.Lat, Lon: p.Lon + 0.0001}
	}

	return models.RenderState{
		LifetimeID:   "lifetime-1",
		Trail:        trail,
		InitialPoint: &initial,
		SnappedTrail: snapped,
		LatestFix:    &latest,
		Heading:      &heading,
		Compass:      "N",
		Generation:   3,
		UpdatedAt:    testTime.Add(6 * time.Second),
	}
}

// createTestApi creates a RestAPI over a fake engine holding sampleState.
func createTestApi(t *testing.T) (*RestAPI, *fakeEngine) {
	t.Helper()
	fake := &fakeEngine{
		state:  sampleState(),
		status: engine.Status{State: engine.StateAccumulating.String(), Healthy: true},
	}

	application := &app.Application{
		Config: appconf.Config{
			Env:     appconf.Test,
			ApiKeys: []string{"TEST"},
		},
		Logger: logging.Discard(),
		Engine: fake,
	}

	api := NewRestAPI(application)
	t.Cleanup(api.Close)
	return api, fake
}

func doRequest(t *testing.T, api *RestAPI, method, endpoint, body string) *http.Response {
	t.Helper()
	server := httptest.NewServer(api.Handler())
	t.Cleanup(server.Close)

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, server.URL+endpoint, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() {
		logging.SafeCloseWithLogging(resp.Body,
			slog.Default().With(slog.String("component", "test")),
			"http_response_body")
	})
	return resp
}

// serveApiAndRetrieveEndpoint sends one request and decodes the envelope.
func serveApiAndRetrieveEndpoint(t *testing.T, api *RestAPI, method, endpoint, body string) (*http.Response, models.ResponseModel) {
	t.Helper()
	resp := doRequest(t, api, method, endpoint, body)

	var response models.ResponseModel
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&response))
	return resp, response
}

// entryOf re-decodes data.entry into out.
func entryOf(t *testing.T, model models.ResponseModel, out interface{}) {
	t.Helper()
	data, ok := model.Data.(map[string]interface{})
	require.True(t, ok, "data is %T", model.Data)
	raw, err := json.Marshal(data["entry"])
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}

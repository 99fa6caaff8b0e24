package snapper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"livetrail.dev/internal/geo"
	"livetrail.dev/internal/logging"
)

var (
	ErrNoRoute         = errors.New("snap service returned no route")
	ErrInvalidGeometry = errors.New("snap service returned an invalid geometry")
)

// maxResponseBytes caps how much of a route response is read.
const maxResponseBytes = 8 << 20

// OSRMProvider calls the route endpoint of an OSRM-compatible service.
type OSRMProvider struct {
	endpoint   string
	profile    string
	credential string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ Provider = (*OSRMProvider)(nil)

// NewOSRMProvider builds a provider for endpoint. An empty profile means
// "driving". httpClient may be nil.
func NewOSRMProvider(endpoint, profile, credential string, httpClient *http.Client, logger *slog.Logger) *OSRMProvider {
	if profile == "" {
		profile = "driving"
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &OSRMProvider{
		endpoint:   strings.TrimRight(endpoint, "/"),
		profile:    profile,
		credential: credential,
		httpClient: httpClient,
		logger:     logger,
	}
}

type osrmResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Geometry struct {
			Coordinates [][]float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"routes"`
}

func (p *OSRMProvider) routeURL(points []geo.Coordinate) string {
	pairs := make([]string, len(points))
	for i, pt := range points {
		pairs[i] = strconv.FormatFloat(pt.Lon, 'f', 6, 64) + "," + strconv.FormatFloat(pt.Lat, 'f', 6, 64)
	}

	q := url.Values{}
	q.Set("overview", "full")
	q.Set("geometries", "geojson")
	if p.credential != "" {
		q.Set("access_token", p.credential)
	}

	// the whole trail goes in one request, so the server's waypoint limit
	// (500 by default) bounds how long a trail can be snapped
	return fmt.Sprintf("%s/route/v1/%s/%s?%s", p.endpoint, url.PathEscape(p.profile), strings.Join(pairs, ";"), q.Encode())
}

// Route asks the service for a road-aligned path through points.
func (p *OSRMProvider) Route(ctx context.Context, points []geo.Coordinate) ([]geo.Coordinate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.routeURL(points), nil)
	if err != nil {
		return nil, fmt.Errorf("build route request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("route request: %w", err)
	}
	defer logging.SafeCloseWithLogging(resp.Body, p.logger, "osrm_response_body")

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read route response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("snap service returned %d", resp.StatusCode)
	}

	var parsed osrmResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode route response: %w", err)
	}
	if parsed.Code != "Ok" {
		return nil, fmt.Errorf("%w: code %q %s", ErrNoRoute, parsed.Code, parsed.Message)
	}
	if len(parsed.Routes) == 0 || len(parsed.Routes[0].Geometry.Coordinates) == 0 {
		return nil, ErrNoRoute
	}

	raw := parsed.Routes[0].Geometry.Coordinates
	coords := make([]geo.Coordinate, 0, len(raw))
	for i, pair := range raw {
		if len(pair) < 2 {
			return nil, fmt.Errorf("%w: position %d has %d values", ErrInvalidGeometry, i, len(pair))
		}
		c := geo.Coordinate{Lat: pair[1], Lon: pair[0]}
		if err := geo.ValidateCoordinate(c); err != nil {
			return nil, fmt.Errorf("%w: position %d: %w", ErrInvalidGeometry, i, err)
		}
		coords = append(coords, c)
	}

	return coords, nil
}

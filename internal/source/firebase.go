package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"livetrail.dev/internal/geo"
	"livetrail.dev/internal/logging"
	"livetrail.dev/internal/models"
)

// Firebase bucket keys: TrackingData/{YYYY-MM-DD}/{HH-MM-SS}.
const firebaseKeyLayout = "2006-01-02 15-04-05"

// maxResponseBytes caps how much of a database response is read.
const maxResponseBytes = 1 << 20

type FirebaseConfig struct {
	DatabaseURL string
	Root        string
	Credential  string
	Location    *time.Location // zone the bucket keys are written in
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// FirebaseSource reads the newest record from a Firebase Realtime Database
// over its REST API. Records are grouped by day, then by time of day.
type FirebaseSource struct {
	baseURL    string
	root       string
	credential string
	location   *time.Location
	httpClient *http.Client
	logger     *slog.Logger
}

var _ FixSource = (*FirebaseSource)(nil)

func NewFirebaseSource(cfg FirebaseConfig) *FirebaseSource {
	root := strings.Trim(cfg.Root, "/")
	if root == "" {
		root = "TrackingData"
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &FirebaseSource{
		baseURL:    strings.TrimRight(cfg.DatabaseURL, "/"),
		root:       root,
		credential: cfg.Credential,
		location:   loc,
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "firebase_source")),
	}
}

// Poll makes two requests: a shallow listing of the day buckets, then the
// last entry of the newest bucket.
func (s *FirebaseSource) Poll(ctx context.Context) (*models.Fix, error) {
	var days map[string]json.RawMessage
	if err := s.get(ctx, s.root, url.Values{"shallow": {"true"}}, &days); err != nil {
		return nil, fmt.Errorf("%w: list days: %w", ErrTransient, err)
	}
	day, ok := latestKey(days)
	if !ok {
		return nil, nil
	}

	var records map[string]map[string]any
	query := url.Values{
		"orderBy":     {`"$key"`},
		"limitToLast": {"1"},
	}
	if err := s.get(ctx, s.root+"/"+url.PathEscape(day), query, &records); err != nil {
		return nil, fmt.Errorf("%w: read day %s: %w", ErrTransient, day, err)
	}

	clock, ok := latestRecordKey(records)
	if !ok {
		return nil, nil
	}

	fix := decodeFirebaseRecord(records[clock])
	fix.Timestamp = parseBucketTime(day, clock, s.location)
	if fix.Timestamp.IsZero() {
		s.logger.Debug("unparseable record key", slog.String("day", day), slog.String("time", clock))
	}
	return &fix, nil
}

func (s *FirebaseSource) get(ctx context.Context, path string, query url.Values, out any) error {
	if s.credential != "" {
		query.Set("auth", s.credential)
	}
	endpoint := fmt.Sprintf("%s/%s.json?%s", s.baseURL, path, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer logging.SafeCloseWithLogging(resp.Body, s.logger, "http_response_body")

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return json.Unmarshal(b, out)
}

func latestKey(m map[string]json.RawMessage) (string, bool) {
	if len(m) == 0 {
		return "", false
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return slices.Max(keys), true
}

// latestRecordKey skips null leaves, which Firebase returns for deleted children.
func latestRecordKey(m map[string]map[string]any) (string, bool) {
	var best string
	found := false
	for k, v := range m {
		if v == nil {
			continue
		}
		if !found || k > best {
			best, found = k, true
		}
	}
	return best, found
}

func parseBucketTime(day, clock string, loc *time.Location) time.Time {
	t, err := time.ParseInLocation(firebaseKeyLayout, day+" "+clock, loc)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// decodeFirebaseRecord maps a loosely typed record onto a Fix. Non-numeric
// coordinates become NaN so the aggregator rejects the fix.
func decodeFirebaseRecord(rec map[string]any) models.Fix {
	fix := models.Fix{
		Coordinate: geo.Coordinate{
			Lat: numberOrNaN(rec["latitude"]),
			Lon: numberOrNaN(rec["longitude"]),
		},
		Speed: numberPtr(rec["speed"]),
	}

	readings := models.SensorReadings{
		Temperature: numberPtr(rec["temperature"]),
		Humidity:    numberPtr(rec["humidity"]),
		Pressure:    numberPtr(rec["pressure"]),
		DeviceOn:    boolPtr(rec["deviceOn"]),
	}
	if readings != (models.SensorReadings{}) {
		fix.Readings = &readings
	}
	return fix
}

func numberOrNaN(v any) float64 {
	if f, ok := v.(float64); ok {
		return f
	}
	return math.NaN()
}

func numberPtr(v any) *float64 {
	f, ok := v.(float64)
	if !ok || math.IsNaN(f) {
		return nil
	}
	return &f
}

func boolPtr(v any) *bool {
	switch b := v.(type) {
	case bool:
		return &b
	case float64:
		on := b != 0
		return &on
	}
	return nil
}

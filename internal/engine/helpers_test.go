package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"livetrail.dev/internal/appconf"
	"livetrail.dev/internal/geo"
	"livetrail.dev/internal/models"
	"livetrail.dev/internal/trailstore"
)

var errStoreDown = errors.New("store down")

var baseTime = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func fixAt(lat, lon float64, sec int) models.Fix {
	return models.Fix{
		Coordinate: geo.Coordinate{Lat: lat, Lon: lon},
		Timestamp:  baseTime.Add(time.Duration(sec) * time.Second),
	}
}

func newMemStore(t *testing.T) *trailstore.Client {
	t.Helper()
	client, err := trailstore.NewClient(trailstore.Config{DBPath: ":memory:", Env: appconf.Test})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// newTestAggregator wires an aggregator over an in-memory store. Cleanup
// closes it and waits for snaps before the store goes away.
func newTestAggregator(t *testing.T, store trailstore.Store, snapper Snapper, recorder Recorder) *Aggregator {
	t.Helper()
	if snapper == nil {
		snapper = &gatedSnapper{}
	}
	a := NewAggregator(10, store, snapper, NewPublisher(), recorder, nil)
	t.Cleanup(func() {
		a.Close()
		a.Wait()
	})
	return a
}

// flakyStore fails the selected operations on demand.
type flakyStore struct {
	trailstore.Store

	failAppend  atomic.Bool
	failInitial atomic.Bool
	failClear   atomic.Bool
	failReplace atomic.Bool
	failLoad    atomic.Bool
	replaces    atomic.Int32
}

func (s *flakyStore) Append(ctx context.Context, p models.TrailPoint) error {
	if s.failAppend.Load() {
		return errStoreDown
	}
	return s.Store.Append(ctx, p)
}

func (s *flakyStore) SetInitial(ctx context.Context, lifetimeID string, p models.TrailPoint) error {
	if s.failInitial.Load() {
		return errStoreDown
	}
	return s.Store.SetInitial(ctx, lifetimeID, p)
}

func (s *flakyStore) Clear(ctx context.Context) error {
	if s.failClear.Load() {
		return errStoreDown
	}
	return s.Store.Clear(ctx)
}

func (s *flakyStore) Replace(ctx context.Context, snap trailstore.Snapshot) error {
	s.replaces.Add(1)
	if s.failReplace.Load() {
		return errStoreDown
	}
	return s.Store.Replace(ctx, snap)
}

func (s *flakyStore) Load(ctx context.Context) (trailstore.Snapshot, error) {
	if s.failLoad.Load() {
		return trailstore.Snapshot{}, errStoreDown
	}
	return s.Store.Load(ctx)
}

// gatedSnapper shifts every coordinate north by shift degrees so snapped
// output is distinguishable from the raw trail. Call i blocks on gates[i]
// when one is set.
type gatedSnapper struct {
	mu    sync.Mutex
	calls int
	gates []chan struct{}
	shift float64
}

func (s *gatedSnapper) Snap(_ context.Context, points []geo.Coordinate) []geo.Coordinate {
	s.mu.Lock()
	idx := s.calls
	s.calls++
	var gate chan struct{}
	if idx < len(s.gates) {
		gate = s.gates[idx]
	}
	s.mu.Unlock()

	if gate != nil {
		<-gate
	}

	out := make([]geo.Coordinate, len(points))
	for i, p := range points {
		out[i] = geo.Coordinate{Lat: p.Lat + s.shift, Lon: p.Lon}
	}
	return out
}

func (s *gatedSnapper) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type countingRecorder struct {
	mu       sync.Mutex
	fixes    map[string]int
	polls    map[string]int
	snaps    map[string]int
	failures int
	length   int
	gen      uint64
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{
		fixes: map[string]int{},
		polls: map[string]int{},
		snaps: map[string]int{},
	}
}

func (r *countingRecorder) ObserveFix(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fixes[result]++
}

func (r *countingRecorder) ObservePoll(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.polls[result]++
}

func (r *countingRecorder) ObserveSnapResult(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps[outcome]++
}

func (r *countingRecorder) IncPersistenceFailures() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures++
}

func (r *countingRecorder) SetTrailLength(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.length = n
}

func (r *countingRecorder) SetGeneration(g uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen = g
}

func (r *countingRecorder) fix(result string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fixes[result]
}

func (r *countingRecorder) poll(result string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.polls[result]
}

func (r *countingRecorder) snap(outcome string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snaps[outcome]
}

func (r *countingRecorder) persistenceFailures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures
}

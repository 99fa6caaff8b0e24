package engine

import "livetrail.dev/internal/models"

// Labels passed to the Recorder.
const (
	FixAccepted = "accepted"
	FixJitter   = "jitter"
	FixInvalid  = "invalid"

	PollOK      = "ok"
	PollEmpty   = "empty"
	PollError   = "error"
	PollSkipped = "skipped"

	SnapApplied = "applied"
	SnapStale   = "stale"
)

// Recorder receives engine events for metrics.
type Recorder interface {
	ObserveFix(result string)
	ObservePoll(result string)
	ObserveSnapResult(outcome string)
	IncPersistenceFailures()
	SetTrailLength(n int)
	SetGeneration(g uint64)
}

// FixObserver sees every fix a poll returns, before the aggregator filters
// it. This is how consumers other than the trail share a single poll.
type FixObserver interface {
	ObserveLatestFix(fix models.Fix)
}

type nopRecorder struct{}

func (nopRecorder) ObserveFix(string) {}
func (nopRecorder) ObservePoll(string) {}
func (nopRecorder) ObserveSnapResult(string) {}
func (nopRecorder) IncPersistenceFailures() {}
func (nopRecorder) SetTrailLength(int) {}
func (nopRecorder) SetGeneration(uint64) {}

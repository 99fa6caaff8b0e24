// Package source adapts upstream location feeds into models.Fix values.
package source

import (
	"context"
	"errors"

	"livetrail.dev/internal/models"
)

// ErrTransient wraps every adapter failure. The poll loop skips the tick
// and tries again on the next one.
var ErrTransient = errors.New("transient source failure")

// FixSource returns the most recent fix. A nil fix with a nil error means
// the upstream has no data yet.
type FixSource interface {
	Poll(ctx context.Context) (*models.Fix, error)
}

// Notifier is implemented by push-capable sources. A receive on the channel
// means a new fix is ready to be polled.
type Notifier interface {
	Notify() <-chan struct{}
}

// Listener is implemented by sources that keep a background reader. The
// engine starts it before the first poll and closes it on shutdown.
type Listener interface {
	Start(ctx context.Context)
	Close() error
}

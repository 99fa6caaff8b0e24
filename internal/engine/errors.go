package engine

import "errors"

var (
	// ErrInvalidFix marks a fix with an out-of-range coordinate or no
	// timestamp. OnFix absorbs it; it never reaches callers.
	ErrInvalidFix = errors.New("invalid fix")
	// ErrPersistence wraps a trail store failure. The in-memory trail has
	// still been updated and is reconciled on the next successful write.
	ErrPersistence = errors.New("trail persistence failed")
	// ErrUnknownSelection is returned when selecting something that is not
	// part of the current lifetime.
	ErrUnknownSelection = errors.New("selection is not part of the current trail")
	// ErrClosed is returned by mutations after Shutdown.
	ErrClosed = errors.New("engine is shut down")
)

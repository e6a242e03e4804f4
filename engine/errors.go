// ABOUTME: Sentinel errors of the event processor
// ABOUTME: Recoverable trace errors are counted, everything else fails the run

package engine

import "errors"

var (
	// ErrUnknownAbstraction is returned by New for an unknown abstraction kind
	ErrUnknownAbstraction = errors.New("unknown abstraction")

	// ErrUnknownEvent is a recoverable error for an event kind the processor
	// does not know
	ErrUnknownEvent = errors.New("unknown event kind")

	// ErrInternal marks a broken invariant; the run fails immediately
	ErrInternal = errors.New("internal consistency error")
)

// recoverable reports whether err only affects the current event.
func recoverable(err error) bool {
	return errors.Is(err, ErrUnknownEvent)
}

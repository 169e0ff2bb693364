package supervisor

import (
	"strings"

	"github.com/dermesser/eio/cancel"
)

// ErrFinished is returned by any operation attempted against a Switch
// that has already transitioned to Off.
var ErrFinished = finishedError{}

type finishedError struct{}

func (finishedError) Error() string { return "switch finished" }

// Multiple is raised when two or more independent failures must be
// preserved instead of discarding all but one. It is never nested:
// Combine flattens any Multiple operand into the result's list rather
// than wrapping it.
type Multiple struct {
	Errs []error
}

func (m *Multiple) Error() string {
	parts := make([]string, len(m.Errs))
	for i, e := range m.Errs {
		parts[i] = e.Error()
	}
	return "multiple errors: " + strings.Join(parts, "; ")
}

// Combine merges two failures for a Switch's stored exception slot,
// following the turn_off policy in full:
//   - a non-Cancelled error alongside an existing Cancelled one wins
//     outright (the Cancelled is discarded);
//   - two non-Cancelled errors flatten into a Multiple, never nesting
//     one Multiple inside another;
//   - two Cancelled errors: the most recently arrived wins.
func Combine(old, new error) error {
	if old == nil {
		return new
	}
	if new == nil {
		return old
	}
	if old == new {
		// Re-applying the exact same failure (e.g. a body that calls
		// TurnOff and then also returns that same error) must not
		// manufacture a spurious Multiple out of one failure.
		return old
	}

	_, oldCancelled := cancel.AsCancelled(old)
	_, newCancelled := cancel.AsCancelled(new)

	switch {
	case oldCancelled && newCancelled:
		return new // most recent Cancelled wins
	case oldCancelled && !newCancelled:
		return new // non-Cancelled displaces a stored Cancelled
	case !oldCancelled && newCancelled:
		return old // Cancelled is discarded when a real error is stored
	}

	// Both non-Cancelled: flatten, never nest.
	var errs []error
	if m, ok := old.(*Multiple); ok {
		errs = append(errs, m.Errs...)
	} else {
		errs = append(errs, old)
	}
	if m, ok := new.(*Multiple); ok {
		errs = append(errs, m.Errs...)
	} else {
		errs = append(errs, new)
	}
	return &Multiple{Errs: errs}
}

package cancel

import (
	"errors"
	"fmt"
)

// Cancelled wraps the cause that cancelled a context. It is a
// runtime signaling value, not a user exception. It is stripped back
// to Cause at two boundaries: Sub returns it unwrapped once the child
// it ran has retired, and a root supervisor.Run (one with a nil
// parent) unwraps its final error. A nested switch and SubUnchecked
// return it still wrapped.
type Cancelled struct {
	Cause error
}

func (c *Cancelled) Error() string {
	return fmt.Sprintf("cancelled: %v", c.Cause)
}

func (c *Cancelled) Unwrap() error { return c.Cause }

// AsCancelled reports whether err is (or wraps) a *Cancelled, and
// returns it.
func AsCancelled(err error) (*Cancelled, bool) {
	var c *Cancelled
	if errors.As(err, &c) {
		return c, true
	}
	return nil, false
}

// Unwrapped strips one layer of Cancelled, returning Cause if err is
// a *Cancelled, else err itself unchanged. Use this at a scope
// boundary that owns the context which produced the Cancelled value,
// matching the "strip outside the originating context" rule.
func Unwrapped(err error) error {
	if c, ok := AsCancelled(err); ok {
		return c.Cause
	}
	return err
}

// ErrFinished is returned by operations attempted against a Ctx whose
// scope has already completed (cancel.Sub/SubUnchecked returned).
var ErrFinished = errors.New("cancel: context finished")

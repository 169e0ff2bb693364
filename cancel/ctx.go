// Package cancel implements the cancellation-context tree: a set of
// scopes each carrying at most one cancellation cause, where
// cancelling a scope propagates to every descendant before the call
// returns. It is grounded in the teacher's lifecycle.CGroup
// (lifecycle/cgroup.go), which tracks the same Active/cancelling/done
// lifecycle with context.WithCancelCause, but is reworked here into an
// explicit tree so Switch can attach release handlers and op counts
// per scope rather than per goroutine-group.
package cancel

import (
	"fmt"
	"sync"

	"github.com/dermesser/eio/internal/idgen"
)

type state int

const (
	active state = iota
	cancelling
	finished
)

// Ctx is a node in the cancellation tree. The zero value is not
// usable; construct one with New.
//
// Every Ctx is owned by exactly one fibre at a time for the purposes
// of cancel-callback installation: combinators that need several
// concurrently-runnable branches to share one logical scope give each
// branch its own child Ctx rather than reusing a single node, so the
// "at most one installed callback" invariant below holds even though,
// unlike the source system, branches here really do run in parallel
// goroutines rather than one at a time on a single-threaded loop. See
// DESIGN.md.
type Ctx struct {
	mu        sync.Mutex
	id        uint32
	parent    *Ctx
	children  map[*Ctx]struct{}
	state     state
	cause     error
	cancelFn  func(error)
	protected int // re-entrant protect depth
}

// New creates an Active child of parent. If parent is nil, the
// returned Ctx is a fresh root. New fails, propagating parent's
// current error, if parent is not Active.
func New(parent *Ctx) (*Ctx, error) {
	c := &Ctx{id: idgen.Next(), parent: parent, state: active}

	if parent == nil {
		return c, nil
	}

	parent.mu.Lock()
	defer parent.mu.Unlock()

	switch parent.state {
	case cancelling:
		return nil, &Cancelled{Cause: parent.cause}
	case finished:
		return nil, ErrFinished
	}

	if parent.children == nil {
		parent.children = make(map[*Ctx]struct{})
	}
	parent.children[c] = struct{}{}
	return c, nil
}

func (c *Ctx) String() string {
	return fmt.Sprintf("cancel.Ctx#%d", c.id)
}

// Check raises Cancelled(cause) if the context is cancelling, or
// ErrFinished if it has completed its scope.
func (c *Ctx) Check() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checkLocked()
}

func (c *Ctx) checkLocked() error {
	switch c.state {
	case cancelling:
		return &Cancelled{Cause: c.cause}
	case finished:
		return ErrFinished
	}
	return nil
}

// Err returns the stored cancellation cause if the context is
// cancelling, else nil. Unlike Check it never reports ErrFinished and
// never wraps the cause in Cancelled.
func (c *Ctx) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == cancelling {
		return c.cause
	}
	return nil
}

// Cancel is idempotent: only the first call has any effect. It
// recursively cancels every descendant with the same cause before
// invoking this context's installed cancel callback, if any. Under
// Protect the callback is left installed and not invoked.
func (c *Ctx) Cancel(cause error) {
	c.mu.Lock()
	if c.state != active {
		c.mu.Unlock()
		return
	}
	c.state = cancelling
	c.cause = cause

	children := make([]*Ctx, 0, len(c.children))
	for child := range c.children {
		children = append(children, child)
	}
	var fn func(error)
	if c.protected == 0 {
		fn = c.cancelFn
		c.cancelFn = nil
	}
	c.mu.Unlock()

	for _, child := range children {
		child.Cancel(cause)
	}

	if fn != nil {
		fn(&Cancelled{Cause: cause})
	}
}

// InstallCancelFn installs fn as the context's cancel callback. Exactly
// one may be installed at a time; installing a second while one is
// already present is a programming error. If the context is already
// cancelling and not under Protect, fn is invoked synchronously before
// InstallCancelFn returns (mirroring resumption-may-be-synchronous).
func (c *Ctx) InstallCancelFn(fn func(error)) {
	c.mu.Lock()
	if c.cancelFn != nil {
		c.mu.Unlock()
		panic("cancel: cancel_fn already installed for this context")
	}

	if c.state == cancelling && c.protected == 0 {
		cause := c.cause
		c.mu.Unlock()
		fn(&Cancelled{Cause: cause})
		return
	}

	c.cancelFn = fn
	c.mu.Unlock()
}

// ClearCancelFn detaches the installed callback, if any. Safe to call
// when none is installed.
func (c *Ctx) ClearCancelFn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelFn = nil
}

// Protect runs f with cancellation delivery deferred: if a concurrent
// Cancel arrives while f is running, it is not synchronously surfaced
// to code suspending inside f (any nested suspension behaves as if
// the context were still Active), and is instead re-raised right
// after f returns. Release handlers and the `any`/`pair` "await the
// loser under protect" step both rely on this.
func Protect(c *Ctx, f func() error) error {
	c.mu.Lock()
	c.protected++
	c.mu.Unlock()

	err := f()

	c.mu.Lock()
	c.protected--
	c.mu.Unlock()

	if err != nil {
		return err
	}
	return c.Check()
}

// Finish transitions c out of Active, detaching it from its parent's
// child set. If c is still Active it is cancelled with scopeCause
// first (a nil scopeCause is replaced with the internal scope-exit
// marker). Switch uses this directly to retire the cancel.Ctx it owns
// once its own finish algorithm completes; Sub/SubUnchecked use it to
// retire the child they created.
func (c *Ctx) Finish(scopeCause error) {
	c.finish(scopeCause)
}

func (c *Ctx) finish(scopeCause error) {
	c.mu.Lock()
	wasActive := c.state == active
	parent := c.parent
	c.mu.Unlock()

	if wasActive {
		if scopeCause == nil {
			scopeCause = errScopeDone
		}
		c.Cancel(scopeCause)
	}

	c.mu.Lock()
	c.state = finished
	c.mu.Unlock()

	if parent != nil {
		parent.mu.Lock()
		delete(parent.children, c)
		parent.mu.Unlock()
	}
}

// errScopeDone is the internal cause used to retire a child context
// whose Sub/SubUnchecked body returned without itself cancelling the
// child. It never escapes: Sub/SubUnchecked only ever surface it via
// Err()/Check(), and callers are not expected to compare against it
// directly, only to check whether the child was cancelled for a
// reason distinct from ordinary scope exit.
var errScopeDone = &scopeDoneError{}

type scopeDoneError struct{}

func (*scopeDoneError) Error() string { return "cancel: scope exited" }

// IsScopeDone reports whether err is the sentinel cause Sub/SubUnchecked
// use to retire a child context that exited without being explicitly
// cancelled.
func IsScopeDone(err error) bool {
	_, ok := err.(*scopeDoneError)
	return ok
}

// Sub creates a child of parent, runs f(child), and ensures the child
// is no longer Active when Sub returns (cancelling it with the
// internal scope-exit cause if f didn't already cancel it itself). If
// f returned nil but the child was cancelled for some other reason
// while f ran, that cancellation is surfaced instead of nil.
//
// By the time Sub returns, child has fully retired: whatever Cancelled
// it produced is no longer "inside" the context that caused it, so per
// the stripping rule (spec.md §7) it is unwrapped back to its bare
// cause here, rather than left for the caller to unwrap.
func Sub(parent *Ctx, f func(*Ctx) error) error {
	child, err := New(parent)
	if err != nil {
		return err
	}

	res := f(child)

	wasCancelledByOther := func() error {
		child.mu.Lock()
		defer child.mu.Unlock()
		if child.state == cancelling && !IsScopeDone(child.cause) {
			return &Cancelled{Cause: child.cause}
		}
		return nil
	}()

	child.finish(res)

	final := res
	if res == nil && wasCancelledByOther != nil {
		final = wasCancelledByOther
	}
	return Unwrapped(final)
}

// SubUnchecked behaves like Sub but never substitutes the child's own
// cancellation for a nil result: it always returns exactly what f
// returned, leaving the caller to inspect child.Err() for itself
// (typically from within f, before the scope is retired).
func SubUnchecked(parent *Ctx, f func(*Ctx) error) error {
	child, err := New(parent)
	if err != nil {
		return err
	}
	res := f(child)
	child.finish(res)
	return res
}

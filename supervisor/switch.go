// Package supervisor implements the Switch scoped supervisor: an
// op-counted, release-ordered, exception-aggregating scope owning one
// cancel.Ctx. It is named supervisor rather than switch because the
// latter is a Go keyword.
//
// Grounded in lifecycle.CGroup (lifecycle/cgroup.go): the same
// active-counter-plus-context.AfterFunc shape, generalized from "one
// group of goroutines" to "one structured-concurrency scope with
// release handlers and cancel hooks" and reworked onto a
// sync.WaitGroup since every counted operation here really does run
// concurrently, unlike the cooperative single-threaded source.
package supervisor

import (
	"log"
	"sync"

	"github.com/dermesser/eio/cancel"
	"github.com/dermesser/eio/waiter"
)

type switchState int

const (
	on switchState = iota
	turningOff
	off
)

// Switch is a scoped supervisor. The zero value is not usable; obtain
// one via Run or (*Switch).Sub.
type Switch struct {
	mu        sync.Mutex
	cc        *cancel.Ctx
	root      bool // cc has no parent: this switch is the outermost scope
	state     switchState
	stored    error // set once state != on
	wg        sync.WaitGroup
	opCount   int64
	release   []func() // LIFO stack
	cancelled waiter.List
}

// CancelCtx returns the cancel.Ctx every fibre spawned under this
// switch is rooted at (directly, for fork/fork_ignore, or via a
// further child, for combinators that need per-branch isolation).
func (sw *Switch) CancelCtx() *cancel.Ctx { return sw.cc }

// Run creates a switch with a fresh child of parent (or a fresh root,
// if parent is nil), runs body(sw), and then finishes the scope:
// waits for every outstanding op to complete, runs release handlers
// in LIFO order under Protect, and returns the aggregated failure (if
// any) from body, from fork_ignore'd children, and from release
// handlers.
func Run(parent *cancel.Ctx, body func(*Switch) error) error {
	cc, err := cancel.New(parent)
	if err != nil {
		return err
	}

	sw := &Switch{cc: cc, state: on, root: parent == nil}
	bodyErr := runBody(sw, body)
	return sw.finish(bodyErr)
}

func runBody(sw *Switch, body func(*Switch) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicToError(r)
		}
	}()
	return body(sw)
}

// Sub runs body under a fresh child switch whose cancel context is a
// child of sw's. A failure from body that is not Cancelled is passed
// to onError; Cancelled propagates transparently (the parent switch
// is not touched — the caller already knows its own context was
// cancelled). The nested Run this drives always has a non-nil parent,
// so it never unwraps Cancelled on the way out — stripping only ever
// happens at the outermost Run, once nothing further up is left to
// make an on_error routing decision based on the wrapped form.
func (sw *Switch) Sub(onError func(error), body func(*Switch) error) error {
	err := Run(sw.cc, body)
	if err == nil {
		return nil
	}
	if _, ok := cancel.AsCancelled(err); ok {
		return err
	}
	if onError != nil {
		onError(err)
	}
	return err
}

// BeginOp increments the op counter. Unless the switch is On it fails
// instead, returning the stored exception if there is one, else
// ErrFinished. Every caller that succeeds must call EndOp exactly
// once, regardless of outcome.
func (sw *Switch) BeginOp() error {
	sw.mu.Lock()
	if sw.state != on {
		err := sw.stored
		sw.mu.Unlock()
		if err == nil {
			err = ErrFinished
		}
		return err
	}
	sw.opCount++
	sw.wg.Add(1)
	sw.mu.Unlock()
	return nil
}

// EndOp decrements the op counter. Calling it without a matching,
// successful BeginOp is a programming error.
func (sw *Switch) EndOp() {
	sw.mu.Lock()
	sw.opCount--
	if sw.opCount < 0 {
		sw.mu.Unlock()
		panic("supervisor: op_count went negative")
	}
	sw.mu.Unlock()
	sw.wg.Done()
}

// WithOp runs f as one counted operation: BeginOp, f, EndOp, on every
// exit path.
func (sw *Switch) WithOp(f func() error) error {
	if err := sw.BeginOp(); err != nil {
		return err
	}
	defer sw.EndOp()
	return f()
}

// Check returns nil while the switch is On. Once it is TurningOff or
// Off it returns the stored exception exactly as stored (a Cancelled
// is not unwrapped here), or ErrFinished if the switch went Off with
// nothing stored.
func (sw *Switch) Check() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	switch sw.state {
	case off:
		if sw.stored != nil {
			return sw.stored
		}
		return ErrFinished
	case turningOff:
		return sw.stored
	}
	return nil
}

// TurnOff transitions On -> TurningOff(exn), or combines exn into the
// already-stored exception if already TurningOff or Off. After a
// fresh transition, every registered cancel hook fires and the
// switch's cancel.Ctx is cancelled with the (unwrapped) non-Cancelled
// cause, if any.
func (sw *Switch) TurnOff(exn error) {
	sw.mu.Lock()
	first := sw.state == on
	sw.stored = Combine(sw.stored, exn)
	if first {
		sw.state = turningOff
	}
	combined := sw.stored
	sw.mu.Unlock()

	if !first {
		return
	}

	sw.cancelled.FireAll(combined)

	cause := combined
	if c, ok := cancel.AsCancelled(combined); ok {
		cause = c.Cause
	}
	sw.cc.Cancel(cause)
}

// OnRelease pushes a release handler, to run in LIFO order once the
// scope's op_count reaches zero. It may be called while TurningOff
// (the handler still runs during finish); it returns ErrFinished only
// once the switch is fully Off.
func (sw *Switch) OnRelease(h func()) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.state == off {
		return ErrFinished
	}
	sw.release = append(sw.release, h)
	return nil
}

// AddCancelHook registers a one-shot callback invoked when the switch
// transitions On -> TurningOff, carrying the exception that caused the
// transition. Returns a handle that may be used to deregister it
// beforehand.
func (sw *Switch) AddCancelHook(h func(error)) waiter.Handle {
	return sw.cancelled.Add(func(v any) {
		err, _ := v.(error)
		h(err)
	})
}

// finish implements the algorithm in full: turn off on body failure,
// wait for every outstanding op, run release handlers LIFO under
// Protect, transition to Off, and return the final stored exception.
func (sw *Switch) finish(bodyErr error) error {
	if bodyErr != nil {
		sw.TurnOff(bodyErr)
	}

	sw.wg.Wait()

	for {
		sw.mu.Lock()
		n := len(sw.release)
		if n == 0 {
			sw.mu.Unlock()
			break
		}
		h := sw.release[n-1]
		sw.release = sw.release[:n-1]
		sw.mu.Unlock()

		if err := cancel.Protect(sw.cc, func() error {
			return runReleaseHandler(h)
		}); err != nil {
			sw.TurnOff(err)
		}
	}

	sw.mu.Lock()
	sw.state = off
	final := sw.stored
	sw.mu.Unlock()

	sw.cc.Finish(scopeDone(final))

	if sw.root {
		// This scope has no parent switch to propagate Cancelled through
		// transparently (there is no enclosing Sub/fork_sub_ignore left
		// to decide on_error routing on it) — it is the outermost
		// boundary, so anything still wrapped is now truly outside the
		// context that caused it and is stripped to its bare cause
		// (spec.md §7, scenario 8: "outer handler observes Exit,
		// unwrapped").
		return cancel.Unwrapped(final)
	}
	return final
}

func runReleaseHandler(h func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("supervisor: release handler panicked: %v", r)
			err = panicToError(r)
		}
	}()
	h()
	return nil
}

func panicToError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return &panicError{v: r}
}

type panicError struct{ v any }

func (p *panicError) Error() string {
	return "panic: " + formatAny(p.v)
}

func formatAny(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return "non-error panic value"
}

// scopeDone picks the cause used to finally retire the switch's own
// cancel.Ctx: the stored exception if there is one (so descendants
// still observe the real reason), otherwise a plain scope-exit marker.
func scopeDone(stored error) error {
	if stored != nil {
		return stored
	}
	return cancelScopeDoneCause
}

var cancelScopeDoneCause = &scopeDoneMarker{}

type scopeDoneMarker struct{}

func (*scopeDoneMarker) Error() string { return "supervisor: scope exited" }

package fiber

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dermesser/eio/cancel"
	"github.com/dermesser/eio/promise"
	"github.com/dermesser/eio/supervisor"
)

// NotFirst is the internal cause any() cancels losing branches with.
// It is swallowed by the branch that observes it and must never
// escape to user code.
var NotFirst = errors.New("fiber: not first")

// Yield suspends the calling fibre with an immediate enqueue, so it
// resumes at once: it hands control to no loop or scheduler and is
// not ordered after any other queued work. It then checks
// cancellation, which makes Yield a guaranteed cancellation point.
func Yield(fc *Ctx) error {
	_, err := Suspend(fc, func(enqueue func(struct{}, error)) {
		enqueue(struct{}{}, nil)
	})
	if err != nil {
		return err
	}
	return fc.Check()
}

// AwaitCancel suspends forever except via cancellation of fc's
// context.
func AwaitCancel(fc *Ctx) error {
	_, err := Suspend(fc, func(enqueue func(struct{}, error)) {
		fc.cancelCtx.InstallCancelFn(func(cause error) {
			enqueue(struct{}{}, cause)
		})
	})
	return err
}

// Fork spawns f as a new fibre under sw, counted as one of sw's
// outstanding ops, and returns a promise for its result.
func Fork[T any](sw *supervisor.Switch, f func(*Ctx) (T, error)) (promise.Promise[T], error) {
	if err := sw.BeginOp(); err != nil {
		return nil, err
	}
	child, err := New(sw.CancelCtx())
	if err != nil {
		sw.EndOp()
		return nil, err
	}

	p, resolve := promise.New[T]()
	go func() {
		defer sw.EndOp()
		v, ferr := f(child)
		resolve(v, ferr)
	}()
	return p, nil
}

// ForkIgnore spawns f as a new fibre under sw with no promise
// returned. Any failure other than Cancelled turns sw off; Cancelled
// is swallowed because the cause is already recorded on sw.
func ForkIgnore(sw *supervisor.Switch, f func(*Ctx) error) error {
	if err := sw.BeginOp(); err != nil {
		return err
	}
	child, err := New(sw.CancelCtx())
	if err != nil {
		sw.EndOp()
		return err
	}

	go func() {
		defer sw.EndOp()
		ferr := f(child)
		if ferr == nil || isCancelled(ferr) {
			return
		}
		sw.TurnOff(ferr)
	}()
	return nil
}

// ForkSubIgnore is the canonical "allocate scoped resource, run child,
// release" primitive: it spawns a fibre running a fresh child switch,
// optionally attaching onRelease to that child switch before running
// body. A Cancelled failure is reported to the parent switch directly
// (never to onError); any other failure is reported to onError, and a
// failure from onError itself turns off the parent with both combined.
//
// If the parent switch cannot even admit the fork attempt (already
// Off or TurningOff), the child never starts: onRelease still runs,
// under Protect, and the parent's own stored failure is returned.
// Because admission is decided synchronously here, before any
// goroutine is spawned, sw.Check() is guaranteed to raise in that
// path — unlike the open question the source spec leaves about
// whether that assertion is reachable in a pathological loop
// implementation (see DESIGN.md).
func ForkSubIgnore(sw *supervisor.Switch, onError func(error), onRelease func(), body func(*supervisor.Switch) error) error {
	if err := sw.BeginOp(); err != nil {
		if onRelease != nil {
			_ = cancel.Protect(sw.CancelCtx(), func() error { onRelease(); return nil })
		}
		if checkErr := sw.Check(); checkErr != nil {
			return checkErr
		}
		panic("fiber: fork_sub_ignore: switch.Check did not raise after BeginOp denied entry")
	}

	go func() {
		defer sw.EndOp()
		err := supervisor.Run(sw.CancelCtx(), func(childSw *supervisor.Switch) error {
			if onRelease != nil {
				_ = childSw.OnRelease(onRelease)
			}
			return body(childSw)
		})
		switch {
		case err == nil:
		case isCancelled(err):
			sw.TurnOff(err)
		default:
			if oerr := callOnError(onError, err); oerr != nil {
				sw.TurnOff(supervisor.Combine(err, oerr))
			}
		}
	}()
	return nil
}

func isCancelled(err error) bool {
	_, ok := cancel.AsCancelled(err)
	return ok
}

func callOnError(onError func(error), err error) (oerr error) {
	if onError == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			oerr = fmt.Errorf("panic in on_error: %v", r)
		}
	}()
	onError(err)
	return nil
}

// Pair runs f and g concurrently, each under its own child of a fresh
// shared cancellation scope (see the package doc comment for why each
// gets its own node). Outcomes:
//   - both succeed: (f's result, g's result, nil).
//   - g fails with gerr: the shared scope is cancelled with gerr, f is
//     awaited under Protect; if f succeeded or was itself Cancelled,
//     gerr is returned bare, otherwise Multiple[fex, gerr].
//   - f fails but g succeeds: f's failure is returned.
func Pair[A, B any](fc *Ctx, f func(*Ctx) (A, error), g func(*Ctx) (B, error)) (A, B, error) {
	var zeroA A
	var zeroB B

	scope, err := cancel.New(fc.cancelCtx)
	if err != nil {
		return zeroA, zeroB, err
	}

	fFiber, err := New(scope)
	if err != nil {
		scope.Finish(err)
		return zeroA, zeroB, err
	}
	gFiber, err := New(scope)
	if err != nil {
		scope.Finish(err)
		return zeroA, zeroB, err
	}

	type fres struct {
		v   A
		err error
	}
	fCh := make(chan fres, 1)
	go func() {
		v, ferr := f(fFiber)
		fCh <- fres{v, ferr}
	}()

	gv, gerr := g(gFiber)

	if gerr == nil {
		fr := <-fCh
		scope.Finish(nil)
		if fr.err != nil {
			return zeroA, zeroB, fr.err
		}
		return fr.v, gv, nil
	}

	scope.Cancel(gerr)

	var fr fres
	_ = cancel.Protect(fc.cancelCtx, func() error {
		fr = <-fCh
		return nil
	})
	scope.Finish(gerr)

	if fr.err == nil || isCancelled(fr.err) {
		return zeroA, zeroB, gerr
	}
	return zeroA, zeroB, supervisor.Combine(fr.err, gerr)
}

// Both runs f and g to completion and discards nothing: both(f, g) =
// all([f; g]).
func Both(fc *Ctx, f, g func(*Ctx) error) error {
	return All(fc, []func(*Ctx) error{f, g})
}

// All runs every function in fs to completion under a fresh switch,
// each spawned via ForkIgnore, and aggregates their failures.
func All(fc *Ctx, fs []func(*Ctx) error) error {
	return supervisor.Run(fc.cancelCtx, func(sw *supervisor.Switch) error {
		for _, f := range fs {
			f := f
			if err := ForkIgnore(sw, f); err != nil {
				return err
			}
		}
		return nil
	})
}

type anyResult[T any] struct {
	mu    sync.Mutex
	hasOk bool
	ok    T
	hasEx bool
	ex    error
}

func (r *anyResult[T]) reportOk(v T, cancelSub func(error)) {
	r.mu.Lock()
	first := !r.hasOk && !r.hasEx
	if first {
		r.hasOk = true
		r.ok = v
	}
	r.mu.Unlock()

	if first {
		cancelSub(NotFirst)
	}
}

func (r *anyResult[T]) reportErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.hasEx:
		r.ex = supervisor.Combine(r.ex, err)
	case r.hasOk:
		r.hasOk = false
		r.hasEx = true
		r.ex = err
	default:
		r.hasEx = true
		r.ex = err
	}
}

func runAnyBranch[T any](f func(*Ctx) (T, error), childFc *Ctx, subCtx *cancel.Ctx, res *anyResult[T]) {
	v, err := f(childFc)
	if err == nil {
		res.reportOk(v, subCtx.Cancel)
		return
	}
	if isCancelled(err) && subCtx.Err() != nil {
		return // a loser (or fallout from outer cancellation), already accounted for
	}
	res.reportErr(err)
}

// Any runs every function in fs concurrently under a fresh
// sub-context and waits for all of them to finish. The first success
// is kept, and the remaining branches are cancelled with NotFirst,
// unless some branch fails with an error other than that
// cancellation: such a failure replaces the success, and several
// failures are aggregated into a Multiple. If fc's context is not
// Active, Any returns its error without running any function. Only
// the first len(fs)-1 functions are forked; the last runs on the
// calling goroutine so a single-function Any never pays for a fork.
func Any[T any](fc *Ctx, fs []func(*Ctx) (T, error)) (T, error) {
	var zero T
	if len(fs) == 0 {
		panic("fiber: any requires at least one function")
	}

	res := &anyResult[T]{}
	var subErr error

	if err := cancel.SubUnchecked(fc.cancelCtx, func(subCtx *cancel.Ctx) error {
		var wg sync.WaitGroup
		n := len(fs)

		for i := 0; i < n-1; i++ {
			f := fs[i]
			childFc, err := New(subCtx)
			if err != nil {
				continue // subCtx already finished/cancelling: nothing to run
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				runAnyBranch(f, childFc, subCtx, res)
			}()
		}

		if childFc, err := New(subCtx); err == nil {
			runAnyBranch(fs[n-1], childFc, subCtx, res)
		}

		_ = cancel.Protect(fc.cancelCtx, func() error {
			wg.Wait()
			return nil
		})

		subErr = subCtx.Err()
		if subErr == NotFirst {
			// Self-inflicted: a branch won and cancelled the rest with
			// NotFirst. It must never escape as a failure (spec.md §7).
			subErr = nil
		}
		return nil
	}); err != nil {
		return zero, err
	}

	res.mu.Lock()
	defer res.mu.Unlock()

	switch {
	case res.hasOk && subErr == nil:
		return res.ok, nil
	case subErr != nil && !res.hasEx:
		return zero, subErr
	case res.hasEx && subErr == nil:
		return zero, res.ex
	case res.hasEx && subErr != nil:
		return zero, supervisor.Combine(res.ex, subErr)
	default:
		panic("fiber: any: unreachable — neither a result nor an error was recorded")
	}
}

// First runs f and g concurrently, returning whichever succeeds
// first under Any's rules: first(f, g) = any([f; g]).
func First[T any](fc *Ctx, f, g func(*Ctx) (T, error)) (T, error) {
	return Any(fc, []func(*Ctx) (T, error){f, g})
}

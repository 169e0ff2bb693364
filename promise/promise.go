// Package promise provides the Promise collaborator named in the core
// spec: a value-or-error slot fulfilled or broken at most once, with
// an Await that respects the awaiting fibre's cancellation context.
//
// Adapted directly from future.Future (future/future.go): the same
// once-closed doneCh shape, generalized from context.Context to
// cancel.Ctx so Await participates in the cancellation tree instead
// of stdlib context cancellation, and split into Await (raises on
// cancellation) vs AwaitResult (never does) per §6.
package promise

import (
	"sync"

	"github.com/dermesser/eio/cancel"
)

// Promise represents a value that becomes available, or fails,
// exactly once.
type Promise[T any] interface {
	// Await suspends until the promise resolves or cc is cancelled,
	// whichever happens first. A cancellation surfaces as the raw
	// cancel.Cancelled error, exactly as any other suspension point.
	Await(cc *cancel.Ctx) (T, error)

	// AwaitResult blocks until the promise resolves, ignoring
	// cancellation entirely: it never raises Cancelled.
	AwaitResult() (T, error)

	// Sync checks the promise immediately, reporting false if it has
	// not resolved yet.
	Sync() (T, error, bool)
}

type promiseImpl[T any] struct {
	doneCh <-chan struct{}
	result T
	err    error
	once   sync.Once
}

func (p *promiseImpl[T]) Await(cc *cancel.Ctx) (res T, err error) {
	if err = cc.Check(); err != nil {
		return
	}

	cancelCh := make(chan error, 1)
	cc.InstallCancelFn(func(cerr error) {
		select {
		case cancelCh <- cerr:
		default:
		}
	})
	defer cc.ClearCancelFn()

	select {
	case <-p.doneCh:
		return p.result, p.err
	case err = <-cancelCh:
		return
	}
}

func (p *promiseImpl[T]) AwaitResult() (T, error) {
	<-p.doneCh
	return p.result, p.err
}

func (p *promiseImpl[T]) Sync() (res T, err error, ok bool) {
	select {
	case <-p.doneCh:
	default:
		return
	}
	return p.result, p.err, true
}

// New creates a promise together with the resolver that fulfils or
// breaks it. Calling resolve(v, nil) fulfils the promise with v;
// calling resolve(zero, err) breaks it with err. Only the first call
// has any effect.
func New[T any]() (Promise[T], func(result T, err error)) {
	doneCh := make(chan struct{})
	p := &promiseImpl[T]{doneCh: doneCh}

	resolve := func(result T, err error) {
		p.once.Do(func() {
			p.result = result
			p.err = err
			close(doneCh)
		})
	}

	return p, resolve
}

// Package loop provides a reference implementation of the event loop
// collaborator from §6: something that accepts spawn requests and
// dispatches them FIFO, reporting a deadlock if it ever runs out of
// both runnable work and outstanding work that could produce more.
//
// The core (cancel, waiter, supervisor, fiber) never imports this
// package — every fibre in this module actually runs on its own
// goroutine rather than being dispatched by a central loop. Loop
// exists because a structured-concurrency library with no reference
// driver is hard to exercise end to end; it is built the way the
// teacher's queue.Queue is (queue/queue.go: a mutex plus sync.Cond
// guarding a plain slice), not as a channel-per-item bus.
package loop

import (
	"context"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dermesser/eio/fiber"
	"github.com/dermesser/eio/promise"
)

// Loop is a FIFO run-queue dispatcher.
type Loop struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	pending int64
	stopped bool
}

// New returns an empty, ready-to-run Loop.
func New() *Loop {
	l := &Loop{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Spawn submits thunk to run on the loop under fc, counted against
// its outstanding-work tally so Run can distinguish "idle" from
// "deadlocked", and returns a promise for its result.
func Spawn[T any](l *Loop, fc *fiber.Ctx, thunk func(*fiber.Ctx) (T, error)) promise.Promise[T] {
	p, resolve := promise.New[T]()

	l.mu.Lock()
	l.pending++
	l.queue = append(l.queue, func() {
		v, err := thunk(fc)
		resolve(v, err)
		l.mu.Lock()
		l.pending--
		l.mu.Unlock()
		l.cond.Broadcast()
	})
	l.cond.Signal()
	l.mu.Unlock()

	return p
}

// deadlockError is returned by Run when the queue empties with no
// outstanding work left to refill it.
type deadlockError struct{}

func (*deadlockError) Error() string { return "loop: deadlock — no runnable work, nothing pending" }

// ErrDeadlock is the sentinel Run returns on deadlock.
var ErrDeadlock error = &deadlockError{}

// Run dispatches queued thunks FIFO until ctx is cancelled, the queue
// is Stop()ed and drains, or a deadlock is detected. It races "new
// work enqueued" against "context cancelled" with an errgroup, the
// same shape call/runner.go uses to race a socket read against
// handshake init.
func (l *Loop) Run(ctx context.Context) error {
	eg, gctx := errgroup.WithContext(ctx)
	doneCh := make(chan struct{})

	eg.Go(func() error {
		select {
		case <-gctx.Done():
			l.mu.Lock()
			l.stopped = true
			l.mu.Unlock()
			l.cond.Broadcast()
		case <-doneCh:
		}
		return nil
	})

	eg.Go(func() error {
		defer close(doneCh)
		for {
			l.mu.Lock()
			for len(l.queue) == 0 && !l.stopped {
				if l.pending == 0 {
					l.mu.Unlock()
					log.Printf("loop: deadlock detected")
					return ErrDeadlock
				}
				l.cond.Wait()
			}
			if len(l.queue) == 0 {
				l.mu.Unlock()
				return nil
			}
			thunk := l.queue[0]
			l.queue = l.queue[1:]
			l.mu.Unlock()

			thunk()
		}
	})

	return eg.Wait()
}

// Stop marks the loop for shutdown: Run returns once the queue drains.
func (l *Loop) Stop() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()
	l.cond.Broadcast()
}

package fiber

import "sync/atomic"

// Suspend yields control until enter arranges for the enqueue
// callback it is given to be called exactly once. There being no
// separate loop thread in this implementation, enter runs
// synchronously on the calling goroutine, exactly as the source
// system's loop calls it "from the suspended fibre's frame" — it may
// install a cancel callback on fc.CancelCtx() and/or register with
// some other producer (a promise resolver, a timer, a websocket
// read). Suspend blocks until enqueue fires — which may happen
// synchronously, inside enter itself — then clears any installed
// cancel callback and returns the delivered value or error.
func Suspend[T any](fc *Ctx, enter func(enqueue func(T, error))) (T, error) {
	type outcome struct {
		v   T
		err error
	}
	ch := make(chan outcome, 1)
	var fired atomic.Bool

	enqueue := func(v T, err error) {
		if fired.CompareAndSwap(false, true) {
			ch <- outcome{v, err}
		}
	}

	enter(enqueue)

	o := <-ch
	fc.cancelCtx.ClearCancelFn()
	return o.v, o.err
}

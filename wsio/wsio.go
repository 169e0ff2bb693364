// Package wsio bridges a websocket connection into fiber.Suspend, the
// shape call/runner.go's runSocket uses when it "actively waits" on a
// wsjson read so an early socket close is observed immediately rather
// than surfacing only on the next write.
package wsio

import (
	"context"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/dermesser/eio/fiber"
)

// ReadJSON suspends the calling fibre until a JSON message arrives on
// conn, ctx is done, or fc is cancelled. Cancellation of fc resumes
// the fibre with the Cancelled error and stops the pending read by
// cancelling a derived read context, the same early-exit path
// runSocket gets for free from errgroup.WithContext.
func ReadJSON[T any](fc *fiber.Ctx, ctx context.Context, conn *websocket.Conn) (T, error) {
	return fiber.Suspend(fc, func(enqueue func(T, error)) {
		readCtx, stopRead := context.WithCancel(ctx)
		fc.CancelCtx().InstallCancelFn(func(cause error) {
			var zero T
			enqueue(zero, cause)
			stopRead()
		})

		go func() {
			defer stopRead()
			var v T
			err := wsjson.Read(readCtx, conn, &v)
			enqueue(v, err)
		}()
	})
}

// WriteJSON writes v as a single JSON websocket message. It does not
// suspend: like activeSession.runOutgoing's direct conn.Write/wsjson.Write
// calls, a write either completes or fails without needing a fibre to
// park on it. fc.Check() gives it the same fail-fast-if-cancelled
// behaviour every other fiber operation has.
func WriteJSON(fc *fiber.Ctx, ctx context.Context, conn *websocket.Conn, v any) error {
	if err := fc.Check(); err != nil {
		return err
	}
	return wsjson.Write(ctx, conn, v)
}

package loop

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/dermesser/eio/fiber"
	"github.com/dermesser/eio/promise"
)

// RateLimitedSpawner wraps Spawn with a token-bucket limiter, the same
// tool and purpose as call/runner.go's buildLimiter: bound the rate of
// a hot path, here a pathological all/any fan-out of thousands of
// fibres, instead of a per-session websocket handler.
type RateLimitedSpawner struct {
	loop    *Loop
	limiter *rate.Limiter
}

// NewRateLimitedSpawner wraps l with a limiter allowing r spawns per
// second, with a burst of b.
func NewRateLimitedSpawner(l *Loop, r rate.Limit, b int) *RateLimitedSpawner {
	return &RateLimitedSpawner{loop: l, limiter: rate.NewLimiter(r, b)}
}

// SpawnLimited blocks until the limiter admits another spawn (or ctx
// is cancelled), then submits thunk to the underlying loop exactly as
// Spawn does.
func SpawnLimited[T any](rls *RateLimitedSpawner, ctx context.Context, fc *fiber.Ctx, thunk func(*fiber.Ctx) (T, error)) (promise.Promise[T], error) {
	if err := rls.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return Spawn(rls.loop, fc, thunk), nil
}

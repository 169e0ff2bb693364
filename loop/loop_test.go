package loop

import (
	"context"
	"testing"
	"time"

	"github.com/dermesser/eio/cancel"
	"github.com/dermesser/eio/fiber"
)

func TestDispatchIsFIFO(t *testing.T) {
	l := New()
	root, _ := cancel.New(nil)
	fc, _ := fiber.New(root)

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		Spawn(l, fc, func(*fiber.Ctx) (struct{}, error) {
			order = append(order, i)
			return struct{}{}, nil
		})
	}
	l.Stop()

	ctx, cancelFn := context.WithTimeout(context.Background(), time.Second)
	defer cancelFn()
	if err := l.Run(ctx); err != nil {
		t.Fatal(err)
	}

	for i, v := range order {
		if v != i {
			t.Fatalf("dispatch order = %v, want 0..4 in order", order)
		}
	}
}

func TestSpawnResultDeliveredViaPromise(t *testing.T) {
	l := New()
	root, _ := cancel.New(nil)
	fc, _ := fiber.New(root)

	p := Spawn(l, fc, func(*fiber.Ctx) (int, error) {
		return 99, nil
	})

	go func() {
		ctx, cancelFn := context.WithTimeout(context.Background(), time.Second)
		defer cancelFn()
		l.Run(ctx)
	}()

	v, err := p.AwaitResult()
	if err != nil || v != 99 {
		t.Fatalf("got (%v, %v), want (99, nil)", v, err)
	}
	l.Stop()
}

func TestRunReportsDeadlockWhenEmptyAndNothingPending(t *testing.T) {
	l := New()
	ctx, cancelFn := context.WithTimeout(context.Background(), time.Second)
	defer cancelFn()

	err := l.Run(ctx)
	if err != ErrDeadlock {
		t.Fatalf("got %v, want ErrDeadlock", err)
	}
}

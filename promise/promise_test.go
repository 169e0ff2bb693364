package promise

import (
	"errors"
	"testing"
	"time"

	"github.com/dermesser/eio/cancel"
)

func TestFulfillThenAwaitResult(t *testing.T) {
	p, resolve := New[int]()
	resolve(42, nil)

	v, err := p.AwaitResult()
	if err != nil || v != 42 {
		t.Fatalf("got (%v, %v), want (42, nil)", v, err)
	}
}

func TestBreakThenAwaitResult(t *testing.T) {
	p, resolve := New[int]()
	boom := errors.New("boom")
	resolve(0, boom)

	_, err := p.AwaitResult()
	if err != boom {
		t.Fatalf("got %v, want %v", err, boom)
	}
}

func TestOnlyFirstResolveWins(t *testing.T) {
	p, resolve := New[int]()
	resolve(1, nil)
	resolve(2, nil)

	v, _ := p.AwaitResult()
	if v != 1 {
		t.Fatalf("got %d, want 1", v)
	}
}

func TestAwaitBlocksUntilResolved(t *testing.T) {
	p, resolve := New[int]()
	root, _ := cancel.New(nil)

	done := make(chan struct{})
	go func() {
		v, err := p.Await(root)
		if err != nil || v != 7 {
			t.Errorf("got (%v, %v), want (7, nil)", v, err)
		}
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	resolve(7, nil)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Await never returned")
	}
}

func TestAwaitRaisesOnCancellation(t *testing.T) {
	p, _ := New[int]()
	root, _ := cancel.New(nil)

	done := make(chan error, 1)
	go func() {
		_, err := p.Await(root)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cause := errors.New("timeout")
	root.Cancel(cause)

	select {
	case err := <-done:
		c, ok := cancel.AsCancelled(err)
		if !ok || c.Cause != cause {
			t.Fatalf("got %v, want Cancelled(%v)", err, cause)
		}
	case <-time.After(time.Second):
		t.Fatal("Await never returned")
	}
}

func TestAwaitOnAlreadyCancelledContextReturnsImmediately(t *testing.T) {
	p, _ := New[int]()
	root, _ := cancel.New(nil)
	cause := errors.New("already done")
	root.Cancel(cause)

	_, err := p.Await(root)
	c, ok := cancel.AsCancelled(err)
	if !ok || c.Cause != cause {
		t.Fatalf("got %v, want Cancelled(%v)", err, cause)
	}
}

func TestSyncReportsAvailability(t *testing.T) {
	p, resolve := New[int]()

	if _, _, ok := p.Sync(); ok {
		t.Fatal("Sync reported ready before resolve")
	}

	resolve(5, nil)

	v, err, ok := p.Sync()
	if !ok || err != nil || v != 5 {
		t.Fatalf("got (%v, %v, %v), want (5, nil, true)", v, err, ok)
	}
}

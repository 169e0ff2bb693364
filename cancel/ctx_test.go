package cancel

import (
	"errors"
	"testing"
)

func TestNewChildFailsIfParentCancelling(t *testing.T) {
	root, err := New(nil)
	if err != nil {
		t.Fatal(err)
	}
	cause := errors.New("boom")
	root.Cancel(cause)

	_, err = New(root)
	c, ok := AsCancelled(err)
	if !ok || c.Cause != cause {
		t.Fatalf("got %v, want Cancelled(%v)", err, cause)
	}
}

func TestCancelPropagatesToChildren(t *testing.T) {
	root, _ := New(nil)
	child, _ := New(root)
	grandchild, _ := New(child)

	cause := errors.New("boom")
	root.Cancel(cause)

	if err := child.Check(); err == nil {
		t.Fatal("child not cancelled")
	}
	if err := grandchild.Check(); err == nil {
		t.Fatal("grandchild not cancelled")
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	root, _ := New(nil)
	e1 := errors.New("first")
	e2 := errors.New("second")

	root.Cancel(e1)
	root.Cancel(e2)

	if root.Err() != e1 {
		t.Fatalf("got %v, want %v", root.Err(), e1)
	}
}

func TestInstallCancelFnFiresImmediatelyIfAlreadyCancelling(t *testing.T) {
	root, _ := New(nil)
	cause := errors.New("boom")
	root.Cancel(cause)

	fired := false
	root.InstallCancelFn(func(err error) {
		fired = true
		if c, ok := AsCancelled(err); !ok || c.Cause != cause {
			t.Fatalf("got %v", err)
		}
	})
	if !fired {
		t.Fatal("cancel_fn did not fire synchronously")
	}
}

func TestInstallCancelFnTwiceIsProgrammingError(t *testing.T) {
	root, _ := New(nil)
	root.InstallCancelFn(func(error) {})

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on double install")
		}
	}()
	root.InstallCancelFn(func(error) {})
}

func TestClearCancelFnPreventsLaterFire(t *testing.T) {
	root, _ := New(nil)
	fired := false
	root.InstallCancelFn(func(error) { fired = true })
	root.ClearCancelFn()

	root.Cancel(errors.New("boom"))
	if fired {
		t.Fatal("cleared cancel_fn fired anyway")
	}
}

func TestProtectDefersCancelUntilAfterF(t *testing.T) {
	root, _ := New(nil)
	cause := errors.New("boom")

	var sawCancelDuringF error
	err := Protect(root, func() error {
		root.Cancel(cause)
		// Within Protect, installing a cancel_fn must not fire
		// synchronously even though the context is now cancelling.
		root.InstallCancelFn(func(e error) { sawCancelDuringF = e })
		root.ClearCancelFn()
		return nil
	})

	if sawCancelDuringF != nil {
		t.Fatalf("cancel_fn fired inside protected region: %v", sawCancelDuringF)
	}
	c, ok := AsCancelled(err)
	if !ok || c.Cause != cause {
		t.Fatalf("got %v, want Cancelled(%v) after Protect returns", err, cause)
	}
}

func TestSubSurfacesForeignCancellation(t *testing.T) {
	root, _ := New(nil)
	cause := errors.New("from outside")

	err := Sub(root, func(child *Ctx) error {
		child.Cancel(cause) // simulate cancellation that isn't scope-exit
		return nil
	})

	// child has fully retired by the time Sub returns, so its
	// Cancelled is already outside the context that caused it and
	// comes back stripped to the bare cause (spec.md §7).
	if err != cause {
		t.Fatalf("got %v, want bare %v (stripped once the child has retired)", err, cause)
	}
}

func TestSubUnwrapsCancelledReturnedDirectlyByBody(t *testing.T) {
	root, _ := New(nil)
	cause := errors.New("from inside")

	err := Sub(root, func(child *Ctx) error {
		child.Cancel(cause)
		return child.Check() // body observes the wrapped form itself
	})

	if err != cause {
		t.Fatalf("got %v, want bare %v (stripped on the way out of Sub)", err, cause)
	}
}

func TestSubReturnsBodyErrorUnchanged(t *testing.T) {
	root, _ := New(nil)
	bodyErr := errors.New("body failed")

	err := Sub(root, func(child *Ctx) error {
		return bodyErr
	})

	if err != bodyErr {
		t.Fatalf("got %v, want %v", err, bodyErr)
	}
}

func TestSubUncheckedNeverSubstitutes(t *testing.T) {
	root, _ := New(nil)
	cause := errors.New("from outside")

	var sawErr error
	err := SubUnchecked(root, func(child *Ctx) error {
		child.Cancel(cause)
		sawErr = child.Err()
		return nil
	})

	if err != nil {
		t.Fatalf("got %v, want nil", err)
	}
	if sawErr != cause {
		t.Fatalf("body did not observe its own child's cause: %v", sawErr)
	}
}

func TestChildFinishedAfterSub(t *testing.T) {
	root, _ := New(nil)
	var captured *Ctx

	_ = Sub(root, func(child *Ctx) error {
		captured = child
		return nil
	})

	if err := captured.Check(); !errors.Is(err, ErrFinished) {
		t.Fatalf("got %v, want ErrFinished", err)
	}
}

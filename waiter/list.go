// Package waiter implements an intrusive list of one-shot callbacks,
// the collaborator every Switch cancel-hook list is built from. Add is O(1); Remove is O(1) and safe after the
// waiter has already fired; FireAll invokes and detaches every waiter
// exactly once, most-recently-added first.
package waiter

import "sync"

type node struct {
	prev, next *node
	fn         func(any)
	fired      bool
	list       *List
}

// List is a LIFO-firing intrusive waiter list. The zero value is a
// valid, empty list.
type List struct {
	mu   sync.Mutex
	head *node // most recently added
}

// Handle is an opaque token returned by Add. Remove is safe to call
// any number of times, including after the waiter has fired.
type Handle struct {
	n *node
}

// Add registers fn and returns a handle that can later detach it.
// Added waiters fire most-recently-added-first (LIFO).
func (l *List) Add(fn func(any)) Handle {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := &node{fn: fn, list: l, next: l.head}
	if l.head != nil {
		l.head.prev = n
	}
	l.head = n
	return Handle{n: n}
}

// Remove detaches the waiter. It is a no-op if the waiter already
// fired or was already removed.
func (h Handle) Remove() {
	n := h.n
	if n == nil {
		return
	}
	l := n.list
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unlink(n)
}

// unlink must be called under l.mu. It is safe to call more than once.
func (l *List) unlink(n *node) {
	if n.fired {
		return
	}
	if n.prev != nil {
		n.prev.next = n.next
	} else if l.head == n {
		l.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	n.prev, n.next = nil, nil
	n.fired = true // also guards against double-fire below
}

// FireAll invokes every currently-registered waiter exactly once, in
// LIFO order (most-recently-added first), and detaches all of them.
// Waiters added by a callback running during FireAll are not fired by
// this call.
func (l *List) FireAll(v any) {
	l.mu.Lock()
	n := l.head
	l.head = nil
	// detach the whole chain up front so late Remove calls from
	// within a callback are harmless no-ops.
	var fns []func(any)
	for cur := n; cur != nil; {
		next := cur.next
		if !cur.fired {
			cur.fired = true
			fns = append(fns, cur.fn)
		}
		cur.prev, cur.next = nil, nil
		cur = next
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Len reports the number of waiters currently registered. Intended for
// tests and diagnostics only.
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for cur := l.head; cur != nil; cur = cur.next {
		n++
	}
	return n
}

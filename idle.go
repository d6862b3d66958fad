package evloop

import (
	"reflect"
	"sync"
)

// idleEntry is one pending deferred call in an [idleQueue].
type idleEntry struct {
	callback IdleCallback
	userdata any
	cookie   any
	next     *idleEntry
}

// idleQueue is a thread-safe FIFO of deferred one-shot callbacks, with
// optional cookie-based bulk cancellation/flush. It is the implementation
// behind [Loop]'s idle_add/idle_remove/idle_flush family.
//
// Entries are delivered in enqueue order. An entry is either queued, being
// executed (already unlinked), or gone — never both queued and executing.
type idleQueue struct {
	mu         sync.Mutex
	head, tail *idleEntry
	length     int

	// onNonEmpty is invoked (with mu released) whenever the queue
	// transitions from empty to non-empty, or gains another entry while
	// already non-empty — it signals the loop's internal idle event.
	onNonEmpty func()
	// onEmpty is invoked (with mu released) whenever the queue becomes
	// empty — it clears the loop's internal idle event.
	onEmpty func()
}

func newIdleQueue(onNonEmpty, onEmpty func()) *idleQueue {
	return &idleQueue{onNonEmpty: onNonEmpty, onEmpty: onEmpty}
}

func (q *idleQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.length
}

// pushLocked appends entry to the tail. Caller holds q.mu.
func (q *idleQueue) pushLocked(entry *idleEntry) {
	if q.tail == nil {
		q.head, q.tail = entry, entry
	} else {
		q.tail.next = entry
		q.tail = entry
	}
	q.length++
}

// add appends a callback with no cookie, then signals.
func (q *idleQueue) add(cb IdleCallback, userdata any) {
	q.mu.Lock()
	q.pushLocked(&idleEntry{callback: cb, userdata: userdata})
	q.mu.Unlock()
	q.onNonEmpty()
}

// addWithCookie appends a callback tagged with a non-nil cookie, then
// signals. Fails with [ErrInvalidArgument] if cookie is nil.
func (q *idleQueue) addWithCookie(cb IdleCallback, userdata, cookie any) error {
	if cookie == nil {
		return ErrInvalidArgument.withOp("idle.add_with_cookie")
	}
	q.mu.Lock()
	q.pushLocked(&idleEntry{callback: cb, userdata: userdata, cookie: cookie})
	q.mu.Unlock()
	q.onNonEmpty()
	return nil
}

// sameCallback compares two IdleCallback values by underlying function
// pointer. Go function values are not comparable with ==, so identity-based
// removal (mirroring a C API's function-pointer equality) uses
// reflect.Value.Pointer() instead.
func sameCallback(a, b IdleCallback) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}

// sameUserdata reports whether two userdata values are equal, treating
// non-comparable dynamic types (slices, maps, funcs) as always distinct
// rather than panicking.
func sameUserdata(a, b any) (equal bool) {
	defer func() {
		if recover() != nil {
			equal = false
		}
	}()
	return a == b
}

// removeByIdentity removes every entry whose callback and userdata match
// (cb, userdata), without invoking them. If the queue becomes empty as a
// result, the idle event is cleared.
func (q *idleQueue) removeByIdentity(cb IdleCallback, userdata any) {
	q.mu.Lock()
	q.filterLocked(func(e *idleEntry) bool {
		return !(sameCallback(e.callback, cb) && sameUserdata(e.userdata, userdata))
	})
	empty := q.length == 0
	q.mu.Unlock()
	if empty {
		q.onEmpty()
	}
}

// removeByCookie removes every entry whose cookie matches, without invoking
// them. If the queue becomes empty as a result, the idle event is cleared.
func (q *idleQueue) removeByCookie(cookie any) {
	q.mu.Lock()
	q.filterLocked(func(e *idleEntry) bool {
		return !sameUserdata(e.cookie, cookie)
	})
	empty := q.length == 0
	q.mu.Unlock()
	if empty {
		q.onEmpty()
	}
}

// filterLocked rebuilds the list keeping only entries for which keep
// returns true. Caller holds q.mu.
func (q *idleQueue) filterLocked(keep func(*idleEntry) bool) {
	var newHead, newTail *idleEntry
	n := 0
	for e := q.head; e != nil; e = e.next {
		if !keep(e) {
			continue
		}
		n++
		e2 := &idleEntry{callback: e.callback, userdata: e.userdata, cookie: e.cookie}
		if newTail == nil {
			newHead, newTail = e2, e2
		} else {
			newTail.next = e2
			newTail = e2
		}
	}
	q.head, q.tail, q.length = newHead, newTail, n
}

// popFrontLocked unlinks and returns the head entry, or nil if empty.
// Caller holds q.mu.
func (q *idleQueue) popFrontLocked() *idleEntry {
	e := q.head
	if e == nil {
		return nil
	}
	q.head = e.next
	if q.head == nil {
		q.tail = nil
	}
	q.length--
	return e
}

// drainOne removes and invokes exactly one head entry, with the mutex
// released around the call. It reports whether any entries remain
// afterward, so the loop's idle-event handler knows whether to re-signal.
//
// This one-entry-per-call discipline is load-bearing: it bounds how much
// idle work runs per loop iteration relative to fd events, matching
// spec.md's "idle ordering vs fd events" policy. Do not change it to drain
// more than one entry per call.
func (q *idleQueue) drainOne() (more bool) {
	q.mu.Lock()
	e := q.popFrontLocked()
	if e == nil {
		q.mu.Unlock()
		return false
	}
	q.mu.Unlock()

	e.callback(e.userdata)

	q.mu.Lock()
	more = q.length > 0
	q.mu.Unlock()
	if !more {
		q.onEmpty()
	}
	return more
}

// flush drains and executes every entry in FIFO order, releasing the mutex
// around each invocation, then clears the idle event.
func (q *idleQueue) flush() {
	for {
		q.mu.Lock()
		e := q.popFrontLocked()
		q.mu.Unlock()
		if e == nil {
			break
		}
		e.callback(e.userdata)
	}
	q.onEmpty()
}

// flushByCookie drains and executes only entries whose cookie matches,
// restarting the scan from the head after every invocation since the
// callback may re-enter and mutate the queue (mirroring the original
// loop's idle_flush_by_cookie, which restarts for the same reason). If the
// queue is empty afterward, the idle event is cleared.
func (q *idleQueue) flushByCookie(cookie any) {
	for {
		q.mu.Lock()
		var found *idleEntry
		var prev *idleEntry
		for e := q.head; e != nil; e = e.next {
			if sameUserdata(e.cookie, cookie) {
				found = e
				break
			}
			prev = e
		}
		if found == nil {
			empty := q.length == 0
			q.mu.Unlock()
			if empty {
				q.onEmpty()
			}
			return
		}
		if prev == nil {
			q.head = found.next
		} else {
			prev.next = found.next
		}
		if q.tail == found {
			q.tail = prev
		}
		q.length--
		q.mu.Unlock()

		found.callback(found.userdata)
	}
}

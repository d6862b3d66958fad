package evloop

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIdleQueue() (*idleQueue, *int32) {
	var signals int32
	q := newIdleQueue(
		func() { signals++ },
		func() {},
	)
	return q, &signals
}

func TestIdleQueue_FIFOOrdering(t *testing.T) {
	q, _ := newTestIdleQueue()

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		q.add(func(any) { order = append(order, i) }, nil)
	}

	q.flush()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestIdleQueue_AddWithCookieRejectsNilCookie(t *testing.T) {
	q, _ := newTestIdleQueue()
	err := q.addWithCookie(func(any) {}, nil, nil)
	require.Error(t, err)
}

func TestIdleQueue_RemoveByIdentityCancelsBeforeRun(t *testing.T) {
	q, _ := newTestIdleQueue()

	ran := false
	cb := func(any) { ran = true }
	q.add(cb, "ud")

	q.removeByIdentity(cb, "ud")
	q.flush()

	assert.False(t, ran)
	assert.Equal(t, 0, q.len())
}

func TestIdleQueue_RemoveByIdentityRequiresMatchingUserdata(t *testing.T) {
	q, _ := newTestIdleQueue()

	ran := false
	cb := func(any) { ran = true }
	q.add(cb, "ud-a")

	q.removeByIdentity(cb, "ud-b") // different userdata, should not match
	q.flush()

	assert.True(t, ran)
}

func TestIdleQueue_RemoveByCookie(t *testing.T) {
	q, _ := newTestIdleQueue()

	var ranA, ranB, ranC bool
	q.addWithCookie(func(any) { ranA = true }, nil, "group-1")
	q.addWithCookie(func(any) { ranB = true }, nil, "group-1")
	q.addWithCookie(func(any) { ranC = true }, nil, "group-2")

	q.removeByCookie("group-1")
	q.flush()

	assert.False(t, ranA)
	assert.False(t, ranB)
	assert.True(t, ranC)
}

func TestIdleQueue_FlushByCookieOnlyMatchingAndRestartsOnMutation(t *testing.T) {
	q, _ := newTestIdleQueue()

	var ran []string
	q.addWithCookie(func(any) {
		ran = append(ran, "first")
		// re-entrant add with the same cookie while flush is in progress
		q.addWithCookie(func(any) { ran = append(ran, "reentrant") }, nil, "c")
	}, nil, "c")
	q.addWithCookie(func(any) { ran = append(ran, "other") }, nil, "other-cookie")

	q.flushByCookie("c")

	assert.Equal(t, []string{"first", "reentrant"}, ran)
	assert.Equal(t, 1, q.len()) // the "other-cookie" entry remains
}

func TestIdleQueue_DrainOneRunsExactlyOnePerCall(t *testing.T) {
	q, _ := newTestIdleQueue()

	var ran []int
	for i := 0; i < 3; i++ {
		i := i
		q.add(func(any) { ran = append(ran, i) }, nil)
	}

	more := q.drainOne()
	assert.True(t, more)
	assert.Equal(t, []int{0}, ran)

	more = q.drainOne()
	assert.True(t, more)
	assert.Equal(t, []int{0, 1}, ran)

	more = q.drainOne()
	assert.False(t, more)
	assert.Equal(t, []int{0, 1, 2}, ran)
}

func TestIdleQueue_CallbackRunsWithMutexReleased(t *testing.T) {
	q, _ := newTestIdleQueue()

	done := make(chan struct{})
	q.add(func(any) {
		// Mutating the queue from inside a running callback must not
		// deadlock: the mutex is released around invocation.
		q.add(func(any) { close(done) }, nil)
	}, nil)

	q.flush()
	select {
	case <-done:
	default:
		t.Fatal("nested add's callback never ran")
	}
}

func TestIdleQueue_ConcurrentAddIsSafe(t *testing.T) {
	q, _ := newTestIdleQueue()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.add(func(any) {}, nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, q.len())
}

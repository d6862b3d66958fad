package evloop

import (
	"errors"
	"sync/atomic"
)

// Loop is the public facade composing an [fdRegistry], a [Backend], and an
// idle queue into a single-threaded reactive event loop.
//
// The fd registry and backend are the exclusive property of the
// loop-owning thread: [Loop.Add], [Loop.Update], [Loop.Update2],
// [Loop.Remove], and [Loop.WaitAndProcess] must only be called from there.
// [Loop.Wakeup] and the idle-queue methods are safe from any goroutine.
type Loop struct {
	registry *fdRegistry
	backend  Backend
	impl     Implementation
	idle     *idleQueue
	watchdog *watchdog
	logger   *diagLogger

	destroying atomic.Bool
}

// New allocates a Loop: it builds the fd registry, selects and creates a
// backend, and wires the idle queue's signal to the backend's cross-thread
// wakeup primitive. On any failure, everything allocated so far is rolled
// back and an error is returned — there is no partially-usable Loop.
func New(opts ...LoopOption) (*Loop, error) {
	cfg, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}

	impl := cfg.impl
	if impl == 0 {
		impl = getImplementation()
	}
	logger := cfg.logger
	if logger == nil {
		logger = getGlobalDiagLogger()
	}

	reg := newFdRegistry(cfg.bucketCount)
	backend, err := newBackend(impl, reg, logger)
	if err != nil {
		return nil, err
	}
	if err := backend.create(); err != nil {
		return nil, err
	}

	wd := cfg.watchdog
	if wd == nil {
		wd = &watchdog{}
	}

	l := &Loop{
		registry: reg,
		backend:  backend,
		impl:     impl,
		watchdog: wd,
		logger:   logger,
	}
	l.idle = newIdleQueue(
		func() { _ = l.backend.wakeup() },
		func() {},
	)
	return l, nil
}

// Destroy releases the loop's backend and storage. It fails with
// [ErrBusy] — without freeing anything — if any fd or idle entry is still
// registered; the caller is expected to remove/flush those and retry.
//
// destroying is latched on the first call (mirroring the original loop's
// destroy-is-idempotent-up-to-the-busy-check contract), so a retried
// Destroy after draining outstanding work does not repeat any one-time
// teardown step.
func (l *Loop) Destroy() error {
	l.destroying.Store(true)
	if l.registry.count > 0 || l.idle.len() > 0 {
		return ErrBusy.withOp("destroy")
	}
	return l.backend.destroy()
}

// Add registers fd for monitoring of events, invoking cb with userdata
// whenever it becomes ready. Fails with [ErrInvalidArgument] for a
// negative fd, a zero event mask, or a nil callback; fails with
// [ErrExists] if fd is already registered. If the backend rejects the
// registration, the registry entry is rolled back before returning.
func (l *Loop) Add(fd int, events EventMask, cb FdCallback, userdata any) error {
	if fd < 0 || events == 0 || cb == nil {
		return ErrInvalidArgument.withOp("add")
	}
	if l.registry.find(fd) != nil {
		return ErrExists.withOp("add")
	}
	rec, _ := l.registry.add(fd, events, cb, userdata)
	if err := l.backend.add(rec); err != nil {
		_ = l.registry.remove(rec)
		return err
	}
	return nil
}

// Update replaces the monitored event mask for fd. Fails with
// [ErrNotFound] if fd isn't registered. If the backend rejects the
// change, the previous mask is restored.
func (l *Loop) Update(fd int, events EventMask) error {
	rec := l.registry.find(fd)
	if rec == nil {
		return ErrNotFound.withOp("update")
	}
	prev := rec.events
	rec.events = events
	if err := l.backend.update(rec); err != nil {
		rec.events = prev
		return err
	}
	return nil
}

// Update2 adjusts fd's monitored event mask by adding addMask and then
// removing removeMask, in that order. Same failure/rollback behavior as
// [Loop.Update].
func (l *Loop) Update2(fd int, addMask, removeMask EventMask) error {
	rec := l.registry.find(fd)
	if rec == nil {
		return ErrNotFound.withOp("update2")
	}
	prev := rec.events
	rec.events = (rec.events | addMask) &^ removeMask
	if err := l.backend.update(rec); err != nil {
		rec.events = prev
		return err
	}
	return nil
}

// Remove stops monitoring fd. Fails with [ErrNotFound] if it isn't
// registered. The backend's own remove error is not propagated — fd is
// unlinked from the registry regardless, matching the original loop's
// remove contract.
func (l *Loop) Remove(fd int) error {
	rec := l.registry.find(fd)
	if rec == nil {
		return ErrNotFound.withOp("remove")
	}
	_ = l.backend.remove(rec)
	return l.registry.remove(rec)
}

// HasFD reports whether fd is currently registered. Safe to call on a nil
// Loop, returning false.
func (l *Loop) HasFD(fd int) bool {
	if l == nil {
		return false
	}
	return l.registry.find(fd) != nil
}

// GetFD returns the backend's externally-waitable composition handle, for
// embedding this Loop inside another reactor. Fails with
// [ErrNoSystemCall] on backends that don't support composition.
func (l *Loop) GetFD() (int, error) {
	return l.backend.getFD()
}

// ProcessFD is equivalent to WaitAndProcess(0): a single non-blocking poll.
func (l *Loop) ProcessFD() error {
	return l.WaitAndProcess(0)
}

// WaitAndProcess blocks up to timeoutMS (-1 infinite, 0 non-blocking),
// dispatching ready fds and at most one idle entry. Returns nil if
// anything was dispatched or the wait was infinite; [ErrTimeout] if the
// timeout elapsed with nothing ready.
func (l *Loop) WaitAndProcess(timeoutMS int) error {
	err := l.backend.waitAndProcess(timeoutMS)
	if err != nil && !errors.Is(err, ErrTimeout) {
		return err
	}
	if l.idle.len() > 0 {
		if l.idle.drainOne() {
			_ = l.backend.wakeup()
		}
		return nil
	}
	return err
}

// Wakeup makes a concurrent or in-loop WaitAndProcess return promptly at
// least once. Safe from any goroutine.
func (l *Loop) Wakeup() error {
	return l.backend.wakeup()
}

// IdleAdd schedules cb to run once, on the loop thread, with no ordering
// guarantee relative to fd events beyond "at most one idle entry per
// WaitAndProcess call". Fails with [ErrPermission] once the loop is
// destroying.
func (l *Loop) IdleAdd(cb IdleCallback, userdata any) error {
	if l.destroying.Load() {
		return ErrPermission.withOp("idle_add")
	}
	l.idle.add(cb, userdata)
	return nil
}

// IdleAddWithCookie is IdleAdd, tagging the entry with cookie for later
// bulk removal or flush via [Loop.IdleRemoveByCookie] / [Loop.IdleFlushByCookie].
func (l *Loop) IdleAddWithCookie(cb IdleCallback, userdata, cookie any) error {
	if l.destroying.Load() {
		return ErrPermission.withOp("idle_add_with_cookie")
	}
	return l.idle.addWithCookie(cb, userdata, cookie)
}

// IdleRemove cancels every not-yet-run idle entry matching both cb and
// userdata, without invoking them.
func (l *Loop) IdleRemove(cb IdleCallback, userdata any) {
	l.idle.removeByIdentity(cb, userdata)
}

// IdleRemoveByCookie cancels every not-yet-run idle entry tagged with
// cookie, without invoking them.
func (l *Loop) IdleRemoveByCookie(cookie any) {
	l.idle.removeByCookie(cookie)
}

// IdleFlush synchronously runs every pending idle entry, in FIFO order.
func (l *Loop) IdleFlush() {
	l.idle.flush()
}

// IdleFlushByCookie synchronously runs every pending idle entry tagged
// with cookie, in FIFO order.
func (l *Loop) IdleFlushByCookie(cookie any) {
	l.idle.flushByCookie(cookie)
}

// WatchdogEnable arms the loop's watchdog collaborator: cb fires with
// userdata if not cleared or disabled within delayMS.
func (l *Loop) WatchdogEnable(delayMS int, cb WatchdogCallback, userdata any) {
	l.watchdog.enable(delayMS, cb, userdata)
}

// WatchdogDisable cancels a pending watchdog without firing it.
func (l *Loop) WatchdogDisable() {
	l.watchdog.disable()
}

// SetImplementation changes the process-wide default backend selection
// used by future [New] calls that don't override it via
// [WithImplementation], returning the previous selection. Fails with
// [ErrInvalidArgument] if impl isn't compiled into this build.
func SetImplementation(impl Implementation) (Implementation, error) {
	return setImplementation(impl)
}

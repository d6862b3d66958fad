//go:build windows

package evloop

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

func init() {
	registerBackendConstructor(ImplObjectWait, func(reg *fdRegistry, logger *diagLogger) Backend {
		return &objectWaitBackend{reg: reg, logger: logger}
	})
}

// Dynamically bound: golang.org/x/sys/windows exposes WSAStartup/WSACleanup
// but not WSAEventSelect or WSAEnumNetworkEvents, so those two are bound
// via a lazy DLL handle instead.
var (
	ws2_32                   = windows.NewLazySystemDLL("ws2_32.dll")
	procWSAEventSelect       = ws2_32.NewProc("WSAEventSelect")
	procWSAEnumNetworkEvents = ws2_32.NewProc("WSAEnumNetworkEvents")
)

const (
	fdRead    = 1 << 0
	fdWrite   = 1 << 1
	fdAccept  = 1 << 3
	fdConnect = 1 << 4
	fdClose   = 1 << 5

	maximumWaitObjects = 64
)

// wsaNetworkEvents mirrors WSANETWORKEVENTS from winsock2.h: a bitmask of
// which events fired plus one error code per event type. Only
// lNetworkEvents is consumed here.
type wsaNetworkEvents struct {
	lNetworkEvents int32
	iErrorCode     [10]int32
}

func wsaEventSelect(sock windows.Handle, event windows.Handle, events int32) error {
	r, _, err := procWSAEventSelect.Call(uintptr(sock), uintptr(event), uintptr(events))
	if r != 0 {
		return err
	}
	return nil
}

func wsaEnumNetworkEvents(sock windows.Handle, event windows.Handle, out *wsaNetworkEvents) error {
	r, _, err := procWSAEnumNetworkEvents.Call(uintptr(sock), uintptr(event), uintptr(unsafe.Pointer(out)))
	if r != 0 {
		return err
	}
	return nil
}

// fdEventsToWSA converts a portable EventMask to the WSAEventSelect network
// event bitmask. The mapping is intentionally asymmetric with
// wsaEventsToFD: ERR/HUP/PRI have no WSA equivalent and are never
// requested.
func fdEventsToWSA(events EventMask) int32 {
	var e int32
	if events&EventIn != 0 {
		e |= fdRead | fdAccept | fdClose
	}
	if events&EventOut != 0 {
		e |= fdWrite | fdConnect
	}
	return e
}

// wsaEventsToFD converts a fired WSANETWORKEVENTS bitmask back to the
// portable EventMask, per the same asymmetric mapping used by the original
// implementation this backend is modeled on.
func wsaEventsToFD(e int32) EventMask {
	var events EventMask
	if e&(fdRead|fdAccept|fdClose) != 0 {
		events |= EventIn
	}
	if e&(fdWrite|fdConnect) != 0 {
		events |= EventOut
	}
	return events
}

// waiterState is the handshake between the loop thread and the dedicated
// waiter goroutine: a ready/done pair of manual-reset events guarded by a
// mutex.
type waiterState struct {
	lock    sync.Mutex
	ready   windows.Handle
	done    windows.Handle
	stopped bool
	started bool
}

// objectWaitBackend is the Windows readiness multiplexer: one manual-reset
// wakeup event plus one dedicated OS event object per registered handle,
// bound via WSAEventSelect and consumed through WaitForMultipleObjects.
type objectWaitBackend struct {
	reg    *fdRegistry
	logger *diagLogger

	wakeEvt windows.Handle
	waiter  waiterState

	// byEvent maps a handle's OS event object back to its FdRecord, since
	// WaitForMultipleObjects resolves to an event handle, not an fd.
	// Populated on add, cleared on remove. Guarded by waiter.lock once the
	// waiter thread exists; otherwise single-threaded by loop contract.
	byEvent map[windows.Handle]*FdRecord
}

func (b *objectWaitBackend) create() error {
	if err := windows.WSAStartup(uint32(0x0002), &windows.WSAData{}); err != nil {
		return wrapWinError("object_wait.create", err)
	}
	evt, err := windows.CreateEvent(nil, 1, 0, nil)
	if err != nil {
		windows.WSACleanup()
		return wrapWinError("object_wait.create", err)
	}
	b.wakeEvt = evt
	b.byEvent = make(map[windows.Handle]*FdRecord)
	return nil
}

func (b *objectWaitBackend) destroy() error {
	b.waiter.lock.Lock()
	if b.waiter.started {
		b.waiter.stopped = true
		windows.SetEvent(b.waiter.done)
		if b.wakeEvt != 0 {
			windows.SetEvent(b.wakeEvt)
		}
	}
	b.waiter.lock.Unlock()

	if b.wakeEvt != 0 {
		windows.CloseHandle(b.wakeEvt)
		b.wakeEvt = 0
	}
	windows.WSACleanup()
	return nil
}

func (b *objectWaitBackend) add(rec *FdRecord) error {
	evt, err := windows.CreateEvent(nil, 1, 0, nil)
	if err != nil {
		return wrapWinError("object_wait.add", err)
	}
	if err := wsaEventSelect(windows.Handle(rec.ID()), evt, fdEventsToWSA(rec.Events())); err != nil {
		windows.CloseHandle(evt)
		return wrapWinError("object_wait.add", err)
	}

	b.waiter.lock.Lock()
	rec.backendToken = uintptr(evt)
	b.byEvent[evt] = rec
	running := b.waiter.started
	b.waiter.lock.Unlock()

	if running {
		windows.SetEvent(b.wakeEvt)
	}
	return nil
}

func (b *objectWaitBackend) update(rec *FdRecord) error {
	evt := windows.Handle(rec.backendToken)
	if err := wsaEventSelect(windows.Handle(rec.ID()), evt, fdEventsToWSA(rec.Events())); err != nil {
		return wrapWinError("object_wait.update", err)
	}
	if b.waiterRunning() {
		windows.SetEvent(b.wakeEvt)
	}
	return nil
}

func (b *objectWaitBackend) remove(rec *FdRecord) error {
	evt := windows.Handle(rec.backendToken)
	wsaEventSelect(windows.Handle(rec.ID()), evt, 0)

	b.waiter.lock.Lock()
	delete(b.byEvent, evt)
	running := b.waiter.started
	b.waiter.lock.Unlock()

	if running {
		windows.SetEvent(b.wakeEvt)
	}
	windows.CloseHandle(evt)
	rec.backendToken = 0
	return nil
}

func (b *objectWaitBackend) waiterRunning() bool {
	b.waiter.lock.Lock()
	defer b.waiter.lock.Unlock()
	return b.waiter.started
}

func (b *objectWaitBackend) wakeup() error {
	return wrapWinError("object_wait.wakeup", windows.SetEvent(b.wakeEvt))
}

// getFD lazily starts the dedicated waiter goroutine on first call and
// returns its "ready" handshake event as the externally-waitable
// composition handle, per the original backend's do_get_fd contract.
func (b *objectWaitBackend) getFD() (int, error) {
	b.waiter.lock.Lock()
	defer b.waiter.lock.Unlock()
	if b.waiter.started {
		return int(b.waiter.ready), nil
	}

	ready, err := windows.CreateEvent(nil, 1, 0, nil)
	if err != nil {
		return 0, wrapWinError("object_wait.get_fd", err)
	}
	done, err := windows.CreateEvent(nil, 1, 0, nil)
	if err != nil {
		windows.CloseHandle(ready)
		return 0, wrapWinError("object_wait.get_fd", err)
	}
	b.waiter.ready = ready
	b.waiter.done = done
	b.waiter.started = true
	go b.runWaiterThread()
	return int(ready), nil
}

// runWaiterThread repeatedly snapshots the handle list, waits for
// readiness, then hands off to the loop thread via the ready/done
// handshake before looping again.
func (b *objectWaitBackend) runWaiterThread() {
	for {
		b.waiter.lock.Lock()
		if b.waiter.stopped {
			b.waiter.lock.Unlock()
			return
		}
		handles := []windows.Handle{b.wakeEvt}
		for evt := range b.byEvent {
			if len(handles) >= maximumWaitObjects {
				break
			}
			handles = append(handles, evt)
		}
		windows.ResetEvent(b.waiter.ready)
		windows.ResetEvent(b.waiter.done)
		b.waiter.lock.Unlock()

		windows.WaitForMultipleObjects(handles, false, windows.INFINITE)
		windows.ResetEvent(b.wakeEvt)
		windows.SetEvent(b.waiter.ready)
		windows.WaitForSingleObject(b.waiter.done, windows.INFINITE)
	}
}

// waitAndProcess behaves differently depending on whether the waiter
// goroutine has been started (via getFD): without it, it waits directly
// with the caller's timeout; with it, only timeoutMS == 0 is accepted,
// since the waiter goroutine owns the blocking wait.
func (b *objectWaitBackend) waitAndProcess(timeoutMS int) error {
	if b.waiterRunning() {
		if timeoutMS != 0 {
			return ErrInvalidArgument.withOp("object_wait.wait_and_process")
		}
		return b.waitAndProcessWithWaiter()
	}
	return b.waitAndProcessDirect(timeoutMS)
}

func (b *objectWaitBackend) waitAndProcessDirect(timeoutMS int) error {
	b.waiter.lock.Lock()
	handles := []windows.Handle{b.wakeEvt}
	for evt := range b.byEvent {
		if len(handles) >= maximumWaitObjects {
			break
		}
		handles = append(handles, evt)
	}
	b.waiter.lock.Unlock()

	ms := uint32(windows.INFINITE)
	if timeoutMS >= 0 {
		ms = uint32(timeoutMS)
	}
	idx, err := windows.WaitForMultipleObjects(handles, false, ms)
	if err != nil {
		return wrapWinError("object_wait.wait", err)
	}
	if idx == uint32(windows.WAIT_TIMEOUT) {
		if timeoutMS < 0 {
			return nil
		}
		return ErrTimeout.withOp("object_wait.wait_and_process")
	}
	return b.dispatch(handles[idx-windows.WAIT_OBJECT_0])
}

func (b *objectWaitBackend) waitAndProcessWithWaiter() error {
	b.waiter.lock.Lock()
	windows.WaitForSingleObject(b.waiter.ready, windows.INFINITE)

	var fired windows.Handle
	if b.wakeEvtSignaled() {
		fired = b.wakeEvt
	} else {
		for evt := range b.byEvent {
			if b.eventSignaled(evt) {
				fired = evt
				break
			}
		}
	}
	b.waiter.lock.Unlock()

	windows.SetEvent(b.waiter.done)

	if fired == 0 {
		return nil
	}
	return b.dispatch(fired)
}

func (b *objectWaitBackend) wakeEvtSignaled() bool {
	return b.eventSignaled(b.wakeEvt)
}

func (b *objectWaitBackend) eventSignaled(evt windows.Handle) bool {
	r, err := windows.WaitForSingleObject(evt, 0)
	return err == nil && r == windows.WAIT_OBJECT_0
}

func (b *objectWaitBackend) dispatch(hevt windows.Handle) error {
	if hevt == b.wakeEvt {
		windows.ResetEvent(b.wakeEvt)
		return nil
	}

	b.waiter.lock.Lock()
	rec := b.byEvent[hevt]
	b.waiter.lock.Unlock()

	if rec == nil {
		b.logger.skippedDispatch(ImplObjectWait, 0)
		return nil
	}

	var ne wsaNetworkEvents
	if err := wsaEnumNetworkEvents(windows.Handle(rec.ID()), hevt, &ne); err != nil {
		b.logger.backendError(ImplObjectWait, "wsa_enum_network_events", err)
		return nil
	}
	rec.callback(rec.ID(), wsaEventsToFD(ne.lNetworkEvents), rec.userdata)
	return nil
}

func wrapWinError(op string, err error) error {
	if err == nil {
		return nil
	}
	code := CodeNoSystemCall
	switch err {
	case windows.ERROR_INVALID_PARAMETER:
		code = CodeInvalidArgument
	case windows.ERROR_NOT_ENOUGH_MEMORY, windows.ERROR_OUTOFMEMORY:
		code = CodeOutOfMemory
	case windows.ERROR_ACCESS_DENIED:
		code = CodePermission
	}
	return &Error{Code: code, Op: op, Err: err}
}

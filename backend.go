package evloop

import "sync"

// Implementation selects one of the compiled-in readiness-multiplexer
// backends.
type Implementation int

const (
	// ImplEpoll is the Linux epoll-based backend.
	ImplEpoll Implementation = iota + 1
	// ImplPoll is the generic POSIX poll-based backend.
	ImplPoll
	// ImplObjectWait is the Windows WSAEventSelect/WaitForMultipleObjects
	// backend.
	ImplObjectWait
)

// String returns the backend's lowercase, hyphenated name.
func (i Implementation) String() string {
	switch i {
	case ImplEpoll:
		return "epoll"
	case ImplPoll:
		return "poll"
	case ImplObjectWait:
		return "object-wait"
	default:
		return "unknown"
	}
}

// Backend is the OS-specific readiness multiplexer contract a [Loop] drives.
// Exactly one Backend instance backs a Loop for its lifetime; all methods
// except wakeup are called only from the loop-owning thread.
type Backend interface {
	// create builds the OS reactor and wakeup primitive, and begins
	// monitoring the wakeup primitive internally.
	create() error
	// destroy releases all OS resources. Must tolerate being called after
	// a partial create.
	destroy() error
	// add begins monitoring rec.ID() for rec.Events().
	add(rec *FdRecord) error
	// update replaces the monitored event mask for rec.
	update(rec *FdRecord) error
	// remove stops monitoring rec and releases any backend token attached
	// to it.
	remove(rec *FdRecord) error
	// getFD returns a handle suitable for an external reactor to wait on
	// this loop, or fails with ErrNoSystemCall if this backend doesn't
	// support composition.
	getFD() (int, error)
	// waitAndProcess blocks up to timeoutMS (-1 infinite, 0 poll), then
	// dispatches ready handles. Returns nil after any dispatch or an
	// infinite wait; ErrTimeout if the timeout elapsed with nothing ready;
	// a wrapped OS error otherwise.
	waitAndProcess(timeoutMS int) error
	// wakeup makes a concurrent or in-loop waitAndProcess return promptly
	// at least once. Idempotent while no wait is outstanding.
	wakeup() error
}

// backendConstructor builds a Backend bound to reg, the owning Loop's fd
// registry, and logger, the owning Loop's diagnostic logger.
type backendConstructor func(reg *fdRegistry, logger *diagLogger) Backend

var (
	backendMu             sync.Mutex
	backendConstructors   = map[Implementation]backendConstructor{}
	currentImplementation Implementation
)

// registerBackendConstructor is called from each platform-specific backend
// file's init(), gated by build tags, so only constructors for backends
// actually compiled into this build are ever registered. The first backend
// registered for a given build becomes the default implementation, which is
// why file naming matters: Go runs a package's init functions in the
// lexical order of the files presenting them, and "backend_epoll_linux.go"
// sorts before "backend_poll.go", so epoll wins the default on Linux even
// though poll is also compiled in there (selectable explicitly via
// SetImplementation).
func registerBackendConstructor(impl Implementation, ctor backendConstructor) {
	backendMu.Lock()
	defer backendMu.Unlock()
	backendConstructors[impl] = ctor
	if currentImplementation == 0 {
		currentImplementation = impl
	}
}

// setImplementation changes the process-wide default backend selection and
// returns the previous selection, mirroring the original loop's
// return-previous-ops contract. Fails with ErrInvalidArgument if impl is
// not compiled into this build.
func setImplementation(impl Implementation) (Implementation, error) {
	backendMu.Lock()
	defer backendMu.Unlock()
	if _, ok := backendConstructors[impl]; !ok {
		return currentImplementation, ErrInvalidArgument.withOp("set_implementation")
	}
	prev := currentImplementation
	currentImplementation = impl
	return prev, nil
}

// getImplementation returns the current process-wide default backend
// selection.
func getImplementation() Implementation {
	backendMu.Lock()
	defer backendMu.Unlock()
	return currentImplementation
}

// newBackend constructs a Backend for impl, or fails with
// ErrInvalidArgument if that implementation is not compiled into this
// build.
func newBackend(impl Implementation, reg *fdRegistry, logger *diagLogger) (Backend, error) {
	backendMu.Lock()
	ctor, ok := backendConstructors[impl]
	backendMu.Unlock()
	if !ok {
		return nil, ErrInvalidArgument.withOp("new_backend")
	}
	return ctor(reg, logger), nil
}

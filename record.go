package evloop

// FdCallback is invoked with the fd identifier, the decoded readiness mask,
// and the userdata pointer supplied at registration. Implementations must
// not destroy their owning [Loop] and must not block indefinitely; they may
// freely register, update, or remove any fd, including the one currently
// firing.
type FdCallback func(fd int, events EventMask, userdata any)

// IdleCallback is invoked with the userdata pointer supplied at
// registration. Same constraints as [FdCallback].
type IdleCallback func(userdata any)

// WatchdogCallback is invoked by the watchdog collaborator on expiry.
type WatchdogCallback func(userdata any)

// FdRecord is the loop's bookkeeping entry for one registered handle.
//
// A record exists in exactly one registry bucket chain at a time. events is
// never zero for a regular registration. backendToken is written by the
// active [Backend] and is opaque to everything else (e.g. the Windows
// object-wait backend stores its per-handle OS event there).
type FdRecord struct {
	id       int
	events   EventMask
	callback FdCallback
	userdata any

	next *FdRecord

	// backendToken is backend-specific out-of-band state attached to this
	// record (e.g. a Windows event handle). Never read or written outside
	// the active Backend implementation.
	backendToken uintptr
}

// ID returns the platform handle identifier this record was registered
// with.
func (r *FdRecord) ID() int { return r.id }

// Events returns the currently monitored event mask.
func (r *FdRecord) Events() EventMask { return r.events }

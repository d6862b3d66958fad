//go:build unix

package evloop

import (
	"golang.org/x/sys/unix"
)

func init() {
	registerBackendConstructor(ImplPoll, func(reg *fdRegistry, logger *diagLogger) Backend {
		return &pollBackend{reg: reg, logger: logger}
	})
}

// pollBackend is the generic POSIX multiplexer: it keeps no persistent
// kernel state and rebuilds a pollfd array from the registry on every
// wait_and_process call. The wakeup primitive is a self-pipe, with its read
// end always in slot 0.
type pollBackend struct {
	reg    *fdRegistry
	logger *diagLogger

	pipeR, pipeW int
	fds          []unix.PollFd
}

func (b *pollBackend) create() error {
	fds := make([]int, 2)
	if err := unix.Pipe2(fds, unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return wrapOSError("poll.create", err)
	}
	b.pipeR, b.pipeW = fds[0], fds[1]
	return nil
}

func (b *pollBackend) destroy() error {
	if b.pipeR != 0 {
		unix.Close(b.pipeR)
		b.pipeR = 0
	}
	if b.pipeW != 0 {
		unix.Close(b.pipeW)
		b.pipeW = 0
	}
	return nil
}

func (b *pollBackend) add(rec *FdRecord) error    { return nil }
func (b *pollBackend) update(rec *FdRecord) error { return nil }
func (b *pollBackend) remove(rec *FdRecord) error { return nil }

func (b *pollBackend) getFD() (int, error) {
	return 0, ErrNoSystemCall.withOp("poll.get_fd")
}

func (b *pollBackend) wakeup() error {
	var buf [1]byte
	buf[0] = 1
	for {
		_, err := unix.Write(b.pipeW, buf[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil && err != unix.EAGAIN {
			return wrapOSError("poll.wakeup", err)
		}
		return nil
	}
}

// rebuild reallocates b.fds if undersized, then fills slot 0 with the
// self-pipe and the remaining slots with registered records in bucket
// iteration order, mirroring the original poll backend's pfdcount+1 cache.
func (b *pollBackend) rebuild() {
	n := b.reg.count + 1
	if cap(b.fds) < n {
		b.fds = make([]unix.PollFd, n)
	} else {
		b.fds = b.fds[:n]
	}
	for i := range b.fds {
		b.fds[i] = unix.PollFd{}
	}
	b.fds[0].Fd = int32(b.pipeR)
	b.fds[0].Events = unix.POLLIN

	i := 1
	b.reg.each(func(rec *FdRecord) {
		b.fds[i].Fd = int32(rec.ID())
		b.fds[i].Events = eventsToPoll(rec.Events())
		i++
	})
}

func (b *pollBackend) waitAndProcess(timeoutMS int) error {
	b.rebuild()

	var n int
	for {
		var err error
		n, err = unix.Poll(b.fds, timeoutMS)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return wrapOSError("poll.wait", err)
		}
		break
	}

	if n == 0 {
		if timeoutMS < 0 {
			return nil
		}
		return ErrTimeout.withOp("poll.wait_and_process")
	}

	for i, pfd := range b.fds {
		if pfd.Revents == 0 {
			continue
		}
		if i == 0 {
			b.drainWakeup()
			continue
		}
		rec := b.reg.find(int(pfd.Fd))
		if rec == nil {
			b.logger.skippedDispatch(ImplPoll, int(pfd.Fd))
			continue
		}
		rec.callback(rec.ID(), pollToEvents(pfd.Revents), rec.userdata)
	}
	return nil
}

func (b *pollBackend) drainWakeup() {
	var buf [1]byte
	for {
		n, err := unix.Read(b.pipeR, buf[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil || n == 0 {
			return
		}
	}
}

// eventsToPoll converts a portable EventMask to poll(2)'s native bitmask.
func eventsToPoll(events EventMask) int16 {
	var e int16
	if events&EventIn != 0 {
		e |= unix.POLLIN
	}
	if events&EventPri != 0 {
		e |= unix.POLLPRI
	}
	if events&EventOut != 0 {
		e |= unix.POLLOUT
	}
	if events&EventErr != 0 {
		e |= unix.POLLERR
	}
	if events&EventHup != 0 {
		e |= unix.POLLHUP
	}
	return e
}

// pollToEvents converts poll(2)'s native bitmask to a portable EventMask.
func pollToEvents(e int16) EventMask {
	var events EventMask
	if e&unix.POLLIN != 0 {
		events |= EventIn
	}
	if e&unix.POLLPRI != 0 {
		events |= EventPri
	}
	if e&unix.POLLOUT != 0 {
		events |= EventOut
	}
	if e&unix.POLLERR != 0 {
		events |= EventErr
	}
	if e&unix.POLLHUP != 0 {
		events |= EventHup
	}
	return events
}

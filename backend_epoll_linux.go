//go:build linux

package evloop

import (
	"golang.org/x/sys/unix"
)

func init() {
	registerBackendConstructor(ImplEpoll, func(reg *fdRegistry, logger *diagLogger) Backend {
		return &epollBackend{reg: reg, logger: logger}
	})
}

// epollBackend is the Linux readiness multiplexer: one epoll instance plus
// one counting eventfd used as the cross-thread wakeup primitive.
type epollBackend struct {
	reg    *fdRegistry
	logger *diagLogger

	epfd     int
	wakeFD   int
	eventBuf [16]unix.EpollEvent
}

func (b *epollBackend) create() error {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return wrapOSError("epoll.create", err)
	}
	wakeFD, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return wrapOSError("epoll.create", err)
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFD, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(wakeFD),
	}); err != nil {
		unix.Close(wakeFD)
		unix.Close(epfd)
		return wrapOSError("epoll.create", err)
	}
	b.epfd = epfd
	b.wakeFD = wakeFD
	return nil
}

func (b *epollBackend) destroy() error {
	if b.wakeFD != 0 {
		unix.Close(b.wakeFD)
		b.wakeFD = 0
	}
	if b.epfd != 0 {
		unix.Close(b.epfd)
		b.epfd = 0
	}
	return nil
}

func (b *epollBackend) add(rec *FdRecord) error {
	ev := &unix.EpollEvent{Events: eventsToEpoll(rec.Events()), Fd: int32(rec.ID())}
	if err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_ADD, rec.ID(), ev); err != nil {
		return wrapOSError("epoll.add", err)
	}
	return nil
}

func (b *epollBackend) update(rec *FdRecord) error {
	ev := &unix.EpollEvent{Events: eventsToEpoll(rec.Events()), Fd: int32(rec.ID())}
	if err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_MOD, rec.ID(), ev); err != nil {
		return wrapOSError("epoll.update", err)
	}
	return nil
}

func (b *epollBackend) remove(rec *FdRecord) error {
	if err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, rec.ID(), nil); err != nil {
		return wrapOSError("epoll.remove", err)
	}
	return nil
}

func (b *epollBackend) getFD() (int, error) {
	return b.epfd, nil
}

func (b *epollBackend) wakeup() error {
	var buf [8]byte
	buf[0] = 1
	for {
		_, err := unix.Write(b.wakeFD, buf[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil && err != unix.EAGAIN {
			return wrapOSError("epoll.wakeup", err)
		}
		return nil
	}
}

func (b *epollBackend) waitAndProcess(timeoutMS int) error {
	var n int
	for {
		var err error
		n, err = unix.EpollWait(b.epfd, b.eventBuf[:], timeoutMS)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return wrapOSError("epoll.wait", err)
		}
		break
	}

	if n == 0 {
		if timeoutMS < 0 {
			return nil
		}
		return ErrTimeout.withOp("epoll.wait_and_process")
	}

	for i := 0; i < n; i++ {
		fd := int(b.eventBuf[i].Fd)
		if fd == b.wakeFD {
			b.drainWakeup()
			continue
		}
		rec := b.reg.find(fd)
		if rec == nil {
			b.logger.skippedDispatch(ImplEpoll, fd)
			continue
		}
		rec.callback(fd, epollToEvents(b.eventBuf[i].Events), rec.userdata)
	}
	return nil
}

func (b *epollBackend) drainWakeup() {
	var buf [8]byte
	for {
		_, err := unix.Read(b.wakeFD, buf[:])
		if err == unix.EINTR {
			continue
		}
		return
	}
}

// eventsToEpoll converts a portable EventMask to epoll's native bitmask.
func eventsToEpoll(events EventMask) uint32 {
	var e uint32
	if events&EventIn != 0 {
		e |= unix.EPOLLIN
	}
	if events&EventPri != 0 {
		e |= unix.EPOLLPRI
	}
	if events&EventOut != 0 {
		e |= unix.EPOLLOUT
	}
	if events&EventErr != 0 {
		e |= unix.EPOLLERR
	}
	if events&EventHup != 0 {
		e |= unix.EPOLLHUP
	}
	return e
}

// epollToEvents converts epoll's native bitmask to a portable EventMask.
func epollToEvents(e uint32) EventMask {
	var events EventMask
	if e&unix.EPOLLIN != 0 {
		events |= EventIn
	}
	if e&unix.EPOLLPRI != 0 {
		events |= EventPri
	}
	if e&unix.EPOLLOUT != 0 {
		events |= EventOut
	}
	if e&unix.EPOLLERR != 0 {
		events |= EventErr
	}
	if e&unix.EPOLLHUP != 0 {
		events |= EventHup
	}
	return events
}


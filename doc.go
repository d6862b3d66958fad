// Package evloop provides a portable file-descriptor event loop: a reactive
// multiplexer that monitors sockets, pipes, timers and other waitable
// handles for readiness, dispatches per-handle callbacks, and supports
// cross-thread wakeup plus deferred idle work.
//
// # Architecture
//
// The loop is built around a [Loop] facade that composes an fd registry, a
// [Backend] (one of epoll on Linux, poll on POSIX, or an object-wait reactor
// on Windows), and an idle queue of one-shot deferred callbacks drained by
// the loop thread.
//
// # Platform support
//
// Readiness multiplexing uses the OS-native mechanism:
//   - Linux: epoll ([ImplEpoll], the default)
//   - any POSIX: poll ([ImplPoll])
//   - Windows: WSAEventSelect-bound event objects with WaitForMultipleObjects
//     ([ImplObjectWait], the default on that platform)
//
// # Thread safety
//
// A Loop's fd registry is the exclusive property of the loop-owning thread:
// [Loop.Add], [Loop.Update], [Loop.Update2], [Loop.Remove] and
// [Loop.WaitAndProcess] must all be called from that thread. [Loop.Wakeup]
// and the idle-queue methods ([Loop.IdleAdd], [Loop.IdleAddWithCookie],
// [Loop.IdleRemove], [Loop.IdleRemoveByCookie], [Loop.IdleFlush],
// [Loop.IdleFlushByCookie]) are safe to call from any goroutine.
//
// # Usage
//
//	loop, err := evloop.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer loop.Destroy()
//
//	r, w, _ := os.Pipe()
//	_ = loop.Add(int(r.Fd()), evloop.EventIn, func(fd int, ev evloop.EventMask, ud any) {
//	    var buf [1]byte
//	    r.Read(buf[:])
//	}, nil)
//
//	if err := loop.WaitAndProcess(1000); err != nil {
//	    log.Fatal(err)
//	}
package evloop

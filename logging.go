// Package-level diagnostic logging: a single package-level logger
// configurable via a setter function, backed by logiface
// (github.com/joeycumines/logiface) with stumpy
// (github.com/joeycumines/stumpy) as the default zero-configuration JSON
// writer.

package evloop

import (
	"sync"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// diagLogger wraps a logiface logger for the two diagnostic points this
// package calls out: the epoll/poll backends' dispatch-during-mutation
// skip, and backend OS errors. A nil *logiface.Logger is safe to use (every
// method is a no-op), so a Loop constructed before any global logger is
// configured logs nothing rather than panicking.
type diagLogger struct {
	logger *logiface.Logger[*stumpy.Event]
}

var (
	globalLoggerMu sync.RWMutex
	globalLogger   = &diagLogger{logger: stumpy.L.New()}
)

// SetLogWriter installs the package-level diagnostic logger's writer,
// replacing the default stderr JSON writer. Pass nil to silence logging
// entirely. Affects Loops created afterwards that do not override their
// logger via [WithLogger]; an existing Loop keeps the logger it was created
// with.
func SetLogWriter(writer logiface.Writer[*stumpy.Event]) {
	globalLoggerMu.Lock()
	defer globalLoggerMu.Unlock()
	if writer == nil {
		globalLogger = &diagLogger{}
		return
	}
	globalLogger = &diagLogger{logger: stumpy.L.New(stumpy.L.WithWriter(writer))}
}

func getGlobalDiagLogger() *diagLogger {
	globalLoggerMu.RLock()
	defer globalLoggerMu.RUnlock()
	return globalLogger
}

// skippedDispatch logs a backend's decision to skip a dispatch for a handle
// that was removed from the registry mid-batch by an earlier callback in
// the same wait_and_process call.
func (d *diagLogger) skippedDispatch(backend Implementation, id int) {
	if d == nil || d.logger == nil {
		return
	}
	d.logger.Debug().
		Str(`backend`, backend.String()).
		Int(`fd`, id).
		Log(`skipped dispatch for fd removed during batch`)
}

// backendError logs a non-fatal OS error encountered by a backend (e.g. a
// syscall failure on a path that still lets the loop continue running).
func (d *diagLogger) backendError(backend Implementation, op string, err error) {
	if d == nil || d.logger == nil {
		return
	}
	d.logger.Err().
		Str(`backend`, backend.String()).
		Str(`op`, op).
		Err(err).
		Log(`backend OS error`)
}

package evloop

import (
	"sync"
	"time"
)

// watchdog is the Loop's external collaborator for detecting a stuck loop
// thread: enable arms a one-shot timer that fires cb if not disabled before
// delayMS elapses. It mirrors the start/stop half of the original loop's
// watchdog.start/stop/clear contract; [Loop] itself only exposes
// WatchdogEnable/WatchdogDisable (the facade's §4.4 contract), per spec.md's
// "out of scope... the watchdog facility (start/stop/clear only)" note
// treating the full collaborator as an external dependency.
type watchdog struct {
	mu    sync.Mutex
	timer *time.Timer
}

// enable arms the watchdog, replacing any previously armed timer.
func (w *watchdog) enable(delayMS int, cb WatchdogCallback, userdata any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(time.Duration(delayMS)*time.Millisecond, func() {
		cb(userdata)
	})
}

// disable cancels a pending watchdog without firing it.
func (w *watchdog) disable() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

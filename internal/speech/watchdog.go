package speech

import (
	"sync"
	"time"
)

// Watchdog fires a callback after a stretch of recognition inactivity. It is
// armed when a listening attempt starts and pushed forward by every
// transcript event; expiry surfaces as a recoverable no-speech failure.
type Watchdog struct {
	timeout  time.Duration
	onExpire func()

	mu    sync.Mutex
	timer *time.Timer
}

func NewWatchdog(timeout time.Duration, onExpire func()) *Watchdog {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Watchdog{timeout: timeout, onExpire: onExpire}
}

// Arm starts (or restarts) the inactivity countdown.
func (w *Watchdog) Arm() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.timeout, func() {
		w.mu.Lock()
		w.timer = nil
		w.mu.Unlock()

		if w.onExpire != nil {
			w.onExpire()
		}
	})
}

// Activity pushes the countdown forward.
func (w *Watchdog) Activity() {
	w.Arm()
}

// Stop cancels the countdown.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

package station

import (
	"sync"
	"time"
)

type WatchdogState int

const (
	WatchdogUnarmed WatchdogState = iota
	WatchdogArmed
	WatchdogFired
	WatchdogCancelled
)

func (s WatchdogState) String() string {
	switch s {
	case WatchdogArmed:
		return "armed"
	case WatchdogFired:
		return "fired"
	case WatchdogCancelled:
		return "cancelled"
	default:
		return "unarmed"
	}
}

// Watchdog is a cancellable one-shot timer. When the deadline passes while armed, onExpire
// is called; the owner then claims the firing with Fire, which fails if Cancel won the race.
type Watchdog struct {
	mu       sync.Mutex
	state    WatchdogState
	timeout  time.Duration
	timer    *time.Timer
	onExpire func(*Watchdog)
}

func NewWatchdog(timeout time.Duration, onExpire func(*Watchdog)) *Watchdog {
	return &Watchdog{timeout: timeout, onExpire: onExpire}
}

// Arm starts the timer. Arming an armed watchdog is a no-op and returns false.
func (w *Watchdog) Arm() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == WatchdogArmed {
		return false
	}
	w.state = WatchdogArmed
	w.timer = time.AfterFunc(w.timeout, w.expire)
	return true
}

// Cancel stops an armed watchdog. It returns false if it was not armed.
func (w *Watchdog) Cancel() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != WatchdogArmed {
		return false
	}
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.state = WatchdogCancelled
	return true
}

// Fire moves armed to fired. Only the caller that gets true may act on the expiry.
func (w *Watchdog) Fire() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != WatchdogArmed {
		return false
	}
	w.state = WatchdogFired
	w.timer = nil
	return true
}

// Reset returns a fired watchdog to unarmed.
func (w *Watchdog) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == WatchdogFired {
		w.state = WatchdogUnarmed
	}
}

func (w *Watchdog) State() WatchdogState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Watchdog) expire() {
	w.mu.Lock()
	armed := w.state == WatchdogArmed
	w.mu.Unlock()

	if armed && w.onExpire != nil {
		w.onExpire(w)
	}
}

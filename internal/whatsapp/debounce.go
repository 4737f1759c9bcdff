package whatsapp

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of fault reports into one call. The first
// Trigger arms a timer; further triggers before it fires only update the
// reason.
type Debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	fn      func(reason string)
	timer   *time.Timer
	reason  string
	stopped bool
}

func NewDebouncer(delay time.Duration, fn func(reason string)) *Debouncer {
	return &Debouncer{delay: delay, fn: fn}
}

func (d *Debouncer) Trigger(reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.reason = reason
	if d.timer != nil {
		return
	}
	d.timer = time.AfterFunc(d.delay, d.fire)
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	reason := d.reason
	d.timer = nil
	d.mu.Unlock()

	d.fn(reason)
}

// Stop cancels any pending call. Later triggers are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

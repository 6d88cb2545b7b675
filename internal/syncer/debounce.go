package syncer

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of Schedule calls into a single deferred fire.
// The first Schedule after an idle period arms the timer immediately; further
// Schedule calls within the window join the same pending fire instead of
// rescheduling it. This keeps a steady stream of events from starving the
// fire indefinitely.
type Debouncer struct {
	window time.Duration
	fn     func()

	mu    sync.Mutex
	timer *time.Timer
	armed bool
}

// NewDebouncer creates a debouncer that invokes fn window after the first
// Schedule of a burst.
func NewDebouncer(window time.Duration, fn func()) *Debouncer {
	return &Debouncer{window: window, fn: fn}
}

// Schedule arms the timer if it is not already armed. Calls while armed are
// no-ops: they coalesce into the already-pending fire.
func (d *Debouncer) Schedule() {
	d.mu.Lock()
	if d.armed {
		d.mu.Unlock()
		return
	}
	d.armed = true
	d.timer = time.AfterFunc(d.window, d.fire)
	d.mu.Unlock()
}

// Cancel stops any pending fire.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.armed = false
	d.mu.Unlock()
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	d.armed = false
	d.mu.Unlock()
	d.fn()
}

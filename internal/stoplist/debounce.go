package stoplist

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of stop-list webhook events: every trigger
// restarts the window, and the flush runs once after the burst goes quiet.
// Flushes never overlap: a trigger that lands while a flush is running is
// remembered and re-arms the window once the flush returns.
type Debouncer struct {
	window time.Duration
	flush  func()

	mu      sync.Mutex
	timer   *time.Timer
	running bool
	rearm   bool
	stopped bool
}

func NewDebouncer(window time.Duration, flush func()) *Debouncer {
	return &Debouncer{window: window, flush: flush}
}

// Trigger arms or extends the window.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		d.rearm = true
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.run)
}

func (d *Debouncer) run() {
	d.mu.Lock()
	if d.running || d.stopped {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.mu.Unlock()

	d.flush()

	d.mu.Lock()
	d.running = false
	rearm := d.rearm && !d.stopped
	d.rearm = false
	if rearm {
		d.timer = time.AfterFunc(d.window, d.run)
	}
	d.mu.Unlock()
}

// Stop cancels a pending flush, for shutdown.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.rearm = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

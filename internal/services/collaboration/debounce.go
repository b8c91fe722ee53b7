package collaboration

import (
	"sync"
	"time"
)

// Debouncer is an explicit scheduled task with a cancellation handle, rather
// than a fire-and-forget timer. Scheduling again replaces the pending run, so
// a burst of triggers collapses into one execution after the quiet period.
// Section switches cancel exactly the debouncers they own.
type Debouncer struct {
	mu    sync.Mutex
	timer *time.Timer
	fn    func()
}

// Schedule arms the debouncer to run fn after delay, replacing any pending run.
func (d *Debouncer) Schedule(delay time.Duration, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.fn = fn
	d.timer = time.AfterFunc(delay, d.fire)
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	fn := d.fn
	d.fn = nil
	d.timer = nil
	d.mu.Unlock()

	// A concurrent Cancel may have cleared fn already; firing then is a no-op.
	if fn != nil {
		fn()
	}
}

// Cancel drops the pending run, if any.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = nil
	d.fn = nil
}

// Flush runs the pending task immediately, if one is scheduled.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	fn := d.fn
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = nil
	d.fn = nil
	d.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Pending reports whether a run is currently scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fn != nil
}

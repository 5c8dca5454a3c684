package preview

import (
	"sync"
	"time"
)

// Debouncer runs trailing-edge delayed tasks with at most one pending task
// per key. Triggering a key again cancels its pending task and schedules
// the new one.
type Debouncer struct {
	mu      sync.Mutex
	pending map[string]*task
	stopped bool
}

type task struct {
	timer *time.Timer
}

// NewDebouncer returns an idle debouncer.
func NewDebouncer() *Debouncer {
	return &Debouncer{pending: make(map[string]*task)}
}

// Trigger schedules fn to run after wait unless key is triggered or
// cancelled again first. fn runs on its own goroutine.
func (d *Debouncer) Trigger(key string, wait time.Duration, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if old, ok := d.pending[key]; ok {
		old.timer.Stop()
	}
	t := &task{}
	t.timer = time.AfterFunc(wait, func() {
		d.mu.Lock()
		// a timer that fired while being replaced finds a newer task
		if d.pending[key] != t || d.stopped {
			d.mu.Unlock()
			return
		}
		delete(d.pending, key)
		d.mu.Unlock()
		fn()
	})
	d.pending[key] = t
}

// Cancel drops the pending task of key and reports whether there was one.
func (d *Debouncer) Cancel(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.pending[key]
	if ok {
		t.timer.Stop()
		delete(d.pending, key)
	}
	return ok
}

// Pending reports whether key has a scheduled task.
func (d *Debouncer) Pending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[key]
	return ok
}

// Stop cancels every pending task. Later triggers are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for k, t := range d.pending {
		t.timer.Stop()
		delete(d.pending, k)
	}
}

// Reset re-arms a stopped debouncer.
func (d *Debouncer) Reset() {
	d.mu.Lock()
	d.stopped = false
	d.mu.Unlock()
}

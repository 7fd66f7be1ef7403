package listview

import (
	"sync"
	"time"
)

// DefaultDebounce is the delay applied to search input before it takes
// effect.
const DefaultDebounce = 300 * time.Millisecond

// Debouncer defers a string value until input has been quiet for the
// configured delay. Only the newest value is applied.
type Debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	apply   func(string)
	timer   *time.Timer
	pending *string
	// gen counts Push, Flush and Stop calls. A timer only applies the
	// value when no later call has happened since it was armed.
	gen uint64
}

// NewDebouncer creates a Debouncer calling apply on its own goroutine.
func NewDebouncer(delay time.Duration, apply func(string)) *Debouncer {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Debouncer{delay: delay, apply: apply}
}

// Push records value and restarts the quiet period.
func (d *Debouncer) Push(value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = &value
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = time.AfterFunc(d.delay, func() { d.fire(gen) })
}

// Flush applies the pending value immediately, if any.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	v := d.take()
	d.mu.Unlock()
	if v != nil {
		d.apply(*v)
	}
}

// Stop discards any pending value.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = nil
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen {
		d.mu.Unlock()
		return
	}
	v := d.take()
	d.timer = nil
	d.mu.Unlock()
	if v != nil {
		d.apply(*v)
	}
}

func (d *Debouncer) take() *string {
	v := d.pending
	d.pending = nil
	return v
}

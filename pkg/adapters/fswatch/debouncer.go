package fswatch

import (
	"sync"
	"time"
)

// debouncer collapses bursts of events for the same key into one firing
// after a quiet period. Editors tend to emit several writes per save; the
// store only needs the final state.
type debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	timers  map[string]*time.Timer
	wg      sync.WaitGroup
	stopped bool
}

func newDebouncer(delay time.Duration) *debouncer {
	return &debouncer{
		delay:  delay,
		timers: make(map[string]*time.Timer),
	}
}

// add schedules fire for key, resetting the quiet period if one is pending.
func (d *debouncer) add(key string, fire func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if t, ok := d.timers[key]; ok {
		t.Stop()
		d.wg.Done()
	}

	d.wg.Add(1)
	d.timers[key] = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		if d.stopped {
			d.mu.Unlock()
			d.wg.Done()
			return
		}
		delete(d.timers, key)
		d.mu.Unlock()

		defer d.wg.Done()
		fire()
	})
}

// stopAndWait stops accepting events and waits for in-flight timers, up to
// the given timeout. Pending timers that have not fired yet are cancelled.
func (d *debouncer) stopAndWait(timeout time.Duration) {
	d.mu.Lock()
	d.stopped = true
	for key, t := range d.timers {
		if t.Stop() {
			d.wg.Done()
		}
		delete(d.timers, key)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
	}
}

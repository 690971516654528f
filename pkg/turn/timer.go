package turn

import (
	"sync"
	"time"
)

// Timer counts a session down at one-second resolution and fires onExpire
// exactly once per run. It can be stopped early and started again; each
// Start begins a fresh countdown.
type Timer struct {
	duration time.Duration
	interval time.Duration
	onTick   func(remaining time.Duration)
	onExpire func()

	mu        sync.Mutex
	stop      chan struct{}
	remaining time.Duration
}

// TimerOption configures a Timer.
type TimerOption func(*Timer)

// WithTickInterval overrides the one-second tick, mainly for tests.
func WithTickInterval(d time.Duration) TimerOption {
	return func(t *Timer) { t.interval = d }
}

// WithOnTick registers a callback invoked after every tick with the time
// left. Runs on the timer goroutine; keep it quick.
func WithOnTick(fn func(remaining time.Duration)) TimerOption {
	return func(t *Timer) { t.onTick = fn }
}

// NewTimer returns a stopped Timer that will run for duration once started.
func NewTimer(duration time.Duration, onExpire func(), opts ...TimerOption) *Timer {
	t := &Timer{
		duration:  duration,
		interval:  time.Second,
		onExpire:  onExpire,
		remaining: duration,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start begins the countdown. Calling Start while already running is a
// no-op; calling it after Stop or expiry starts over from the full duration.
func (t *Timer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		return
	}
	t.remaining = t.duration
	stop := make(chan struct{})
	t.stop = stop
	go t.run(stop)
}

// Stop halts the countdown without firing onExpire. Idempotent.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

func (t *Timer) stopLocked() {
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
}

// Remaining reports the time left in the current or most recent run.
func (t *Timer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

// Running reports whether a countdown is in progress.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stop != nil
}

func (t *Timer) run(stop chan struct{}) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.mu.Lock()
			if t.stop != stop {
				// Superseded by a Stop+Start; this run is dead.
				t.mu.Unlock()
				return
			}
			t.remaining -= t.interval
			if t.remaining < 0 {
				t.remaining = 0
			}
			expired := t.remaining == 0
			if expired {
				t.stopLocked()
			}
			remaining := t.remaining
			t.mu.Unlock()

			if t.onTick != nil {
				t.onTick(remaining)
			}
			if expired {
				if t.onExpire != nil {
					t.onExpire()
				}
				return
			}
		}
	}
}

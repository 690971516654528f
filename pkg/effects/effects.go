// Package effects is the tool-action dispatcher: it maps named tool
// invocations onto transient UI-effect flags that auto-revert after a fixed,
// per-kind duration. It is pure presentation state with no influence on
// conversation logic.
package effects

import (
	"encoding/json"
	"sync"
	"time"
)

// Kind names one UI effect.
type Kind string

const (
	KindHighlight  Kind = "highlight"
	KindStars      Kind = "stars"
	KindConfetti   Kind = "confetti"
	KindBackground Kind = "background"
)

// DefaultDurations are the per-kind auto-revert windows.
var DefaultDurations = map[Kind]time.Duration{
	KindHighlight:  3 * time.Second,
	KindStars:      2500 * time.Millisecond,
	KindConfetti:   4 * time.Second,
	KindBackground: 6 * time.Second,
}

// Effect is the visible state of one kind.
type Effect struct {
	Kind    Kind
	Active  bool
	Payload json.RawMessage
}

type effectState struct {
	active  bool
	payload json.RawMessage
	revert  *time.Timer
}

// Dispatcher owns the effect set. Kinds are independent: activating one
// never touches another's timer, and re-activating an active kind restarts
// only that kind's revert.
type Dispatcher struct {
	mu        sync.Mutex
	durations map[Kind]time.Duration
	states    map[Kind]*effectState
	onChange  func(Effect)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithDuration overrides one kind's revert window.
func WithDuration(kind Kind, d time.Duration) Option {
	return func(disp *Dispatcher) { disp.durations[kind] = d }
}

// WithOnChange registers a callback invoked (outside the lock) on every
// activation and revert.
func WithOnChange(fn func(Effect)) Option {
	return func(disp *Dispatcher) { disp.onChange = fn }
}

// New creates a dispatcher with the default durations.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		durations: make(map[Kind]time.Duration, len(DefaultDurations)),
		states:    make(map[Kind]*effectState, len(DefaultDurations)),
	}
	for k, dur := range DefaultDurations {
		d.durations[k] = dur
		d.states[k] = &effectState{}
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Apply activates the named effect and schedules its deactivation. Unknown
// kinds are ignored without error. Applying an already-active kind resets
// that kind's timer; reverts never stack.
func (d *Dispatcher) Apply(kind Kind, payload json.RawMessage) {
	d.mu.Lock()
	state, ok := d.states[kind]
	if !ok {
		d.mu.Unlock()
		return
	}

	if state.revert != nil {
		state.revert.Stop()
	}
	state.active = true
	state.payload = payload
	duration := d.durations[kind]
	state.revert = time.AfterFunc(duration, func() { d.deactivate(kind) })
	notify := d.onChange
	ev := Effect{Kind: kind, Active: true, Payload: payload}
	d.mu.Unlock()

	if notify != nil {
		notify(ev)
	}
}

func (d *Dispatcher) deactivate(kind Kind) {
	d.mu.Lock()
	state, ok := d.states[kind]
	if !ok || !state.active {
		d.mu.Unlock()
		return
	}
	state.active = false
	state.payload = nil
	state.revert = nil
	notify := d.onChange
	d.mu.Unlock()

	if notify != nil {
		notify(Effect{Kind: kind, Active: false})
	}
}

// Active reports whether the kind is currently active.
func (d *Dispatcher) Active(kind Kind) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	state, ok := d.states[kind]
	return ok && state.active
}

// Snapshot returns the current state of every kind.
func (d *Dispatcher) Snapshot() []Effect {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Effect, 0, len(d.states))
	for kind, state := range d.states {
		out = append(out, Effect{Kind: kind, Active: state.active, Payload: state.payload})
	}
	return out
}

// Reset deactivates everything and cancels pending reverts.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, state := range d.states {
		if state.revert != nil {
			state.revert.Stop()
			state.revert = nil
		}
		state.active = false
		state.payload = nil
	}
}

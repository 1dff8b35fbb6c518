package component

import (
	"fmt"
	"sync"
	"time"

	"github.com/c360/sigstream/errors"
)

// State represents the current lifecycle state of a component
type State int

const (
	// StateCreated indicates the component was registered but not initialized
	StateCreated State = iota
	// StateInitialized indicates Init succeeded and buffers are allocated
	StateInitialized
	// StateRunning indicates the component's loop is processing frames
	StateRunning
	// StateStopping indicates Stop was called and the loop is winding down
	StateStopping
	// StateClosed indicates Close was called
	StateClosed
	// StateFailed indicates the component stopped on an error
	StateFailed
)

// String returns a string representation of the component state
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var transitions = map[State][]State{
	StateCreated:     {StateInitialized, StateFailed, StateClosed},
	StateInitialized: {StateRunning, StateStopping, StateFailed, StateClosed},
	StateRunning:     {StateStopping, StateFailed},
	StateStopping:    {StateClosed, StateFailed},
	StateFailed:      {StateClosed},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Tracker holds one component's lifecycle state and health counters. It
// is safe for concurrent use.
type Tracker struct {
	name string

	mu           sync.RWMutex
	state        State
	since        time.Time
	runningSince time.Time
	lastError    error
	errorCount   int
	frames       int64
	bytes        int64
	lastActivity time.Time
}

// NewTracker creates a tracker in StateCreated
func NewTracker(name string) *Tracker {
	return &Tracker{name: name, state: StateCreated, since: time.Now()}
}

// Name returns the tracked component name
func (t *Tracker) Name() string {
	return t.name
}

// State returns the current state
func (t *Tracker) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Transition moves to the given state or returns ErrInvalidState.
func (t *Tracker) Transition(to State) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !CanTransition(t.state, to) {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s -> %s", errors.ErrInvalidState, t.state, to),
			"Tracker", "Transition", t.name)
	}
	t.state = to
	t.since = time.Now()
	if to == StateRunning {
		t.runningSince = t.since
	}
	return nil
}

// Fail records err and moves to StateFailed when that move is legal.
func (t *Tracker) Fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastError = err
	t.errorCount++
	if CanTransition(t.state, StateFailed) {
		t.state = StateFailed
		t.since = time.Now()
	}
}

// RecordError counts a non-fatal error
func (t *Tracker) RecordError(err error) {
	t.mu.Lock()
	t.lastError = err
	t.errorCount++
	t.mu.Unlock()
}

// RecordFrame counts one processed frame of n bytes
func (t *Tracker) RecordFrame(n int) {
	t.mu.Lock()
	t.frames++
	t.bytes += int64(n)
	t.lastActivity = time.Now()
	t.mu.Unlock()
}

// Err returns the last recorded error
func (t *Tracker) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastError
}

// Health returns the component's health snapshot
func (t *Tracker) Health() HealthStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h := HealthStatus{
		State:      t.state.String(),
		Healthy:    t.state != StateFailed,
		LastCheck:  time.Now(),
		ErrorCount: t.errorCount,
	}
	if t.lastError != nil {
		h.LastError = t.lastError.Error()
	}
	if t.state == StateRunning {
		h.Uptime = time.Since(t.runningSince)
	}
	return h
}

// DataFlow returns frame rates averaged since the component started running
func (t *Tracker) DataFlow() FlowMetrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	f := FlowMetrics{Frames: t.frames, LastActivity: t.lastActivity}
	if t.runningSince.IsZero() {
		return f
	}
	if elapsed := time.Since(t.runningSince).Seconds(); elapsed > 0 {
		f.FramesPerSecond = float64(t.frames) / elapsed
		f.BytesPerSecond = float64(t.bytes) / elapsed
	}
	if t.frames > 0 {
		f.ErrorRate = float64(t.errorCount) / float64(t.frames)
	}
	return f
}

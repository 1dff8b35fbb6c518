// Package timer provides the pipeline's elapsed-time source. All stages
// express time as float64 seconds since Start.
package timer

import (
	"context"
	"sync"
	"time"
)

// Timer measures seconds elapsed since Start. Before Start, Elapsed is 0.
type Timer struct {
	clock Clock

	mu      sync.RWMutex
	start   time.Time
	started bool
}

// New returns a Timer reading from clock. A nil clock means Real().
func New(clock Clock) *Timer {
	if clock == nil {
		clock = Real()
	}
	return &Timer{clock: clock}
}

// Clock returns the underlying time source.
func (t *Timer) Clock() Clock { return t.clock }

// Start fixes the origin at the current clock time. Calling it again
// moves the origin.
func (t *Timer) Start() {
	t.mu.Lock()
	t.start = t.clock.Now()
	t.started = true
	t.mu.Unlock()
}

// Started reports whether Start has been called.
func (t *Timer) Started() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.started
}

// StartTime returns the wall-clock origin. Zero before Start.
func (t *Timer) StartTime() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.start
}

// ElapsedDuration returns the time since Start.
func (t *Timer) ElapsedDuration() time.Duration {
	t.mu.RLock()
	start, started := t.start, t.started
	t.mu.RUnlock()
	if !started {
		return 0
	}
	return t.clock.Now().Sub(start)
}

// Elapsed returns seconds since Start.
func (t *Timer) Elapsed() float64 {
	return t.ElapsedDuration().Seconds()
}

// SleepUntil blocks until Elapsed reaches at seconds or ctx is done.
// It returns immediately when the target has already passed.
func (t *Timer) SleepUntil(ctx context.Context, at float64) error {
	wait := time.Duration(at*float64(time.Second)) - t.ElapsedDuration()
	if wait <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.clock.After(wait):
		return nil
	}
}

// Seconds converts a duration into pipeline seconds.
func Seconds(d time.Duration) float64 { return d.Seconds() }

// Duration converts pipeline seconds into a duration.
func Duration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}

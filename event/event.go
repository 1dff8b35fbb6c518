// Package event carries discrete occurrences between pipeline components.
package event

import (
	"fmt"

	"github.com/google/uuid"
)

// State tells listeners whether an event is final.
type State int

const (
	// StateCompleted marks a closed interval.
	StateCompleted State = iota
	// StateContinued marks an interval that is still growing; a later
	// event with the same name supersedes it.
	StateContinued
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateCompleted:
		return "completed"
	case StateContinued:
		return "continued"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Event describes an interval on the pipeline clock. Time and Duration are
// seconds since pipeline start, so an event consumer can read exactly the
// window [Time, Time+Duration) from its source buffers.
type Event struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Sender   string    `json:"sender"`
	Time     float64   `json:"time"`
	Duration float64   `json:"duration"`
	State    State     `json:"state"`
	Data     any       `json:"data,omitempty"`
}

// New creates a completed event with a fresh ID.
func New(name, sender string, start, duration float64) *Event {
	return &Event{
		ID:       uuid.New(),
		Name:     name,
		Sender:   sender,
		Time:     start,
		Duration: duration,
		State:    StateCompleted,
	}
}

// End returns Time+Duration.
func (e *Event) End() float64 {
	return e.Time + e.Duration
}

// Validate rejects events that cannot address a buffer window.
func (e *Event) Validate() error {
	switch {
	case e.Name == "":
		return fmt.Errorf("event name is empty")
	case e.Time < 0:
		return fmt.Errorf("event %s starts before pipeline start: %v", e.Name, e.Time)
	case e.Duration < 0:
		return fmt.Errorf("event %s has negative duration: %v", e.Name, e.Duration)
	}
	return nil
}

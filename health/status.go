// Package health reports whether a pipeline and its components are working.
package health

import (
	"fmt"
	"slices"
	"time"

	"github.com/c360/sigstream/component"
)

// Status levels
const (
	LevelHealthy   = "healthy"
	LevelDegraded  = "degraded"
	LevelUnhealthy = "unhealthy"
)

// Status represents the health state of a component or of the pipeline
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics contains health-related metrics
type Metrics struct {
	Uptime          time.Duration `json:"uptime"`
	ErrorCount      int           `json:"error_count"`
	Frames          int64         `json:"frames,omitempty"`
	FramesPerSecond float64       `json:"frames_per_second,omitempty"`
	LastActivity    time.Time     `json:"last_activity,omitempty"`
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool {
	return s.Status == LevelHealthy
}

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool {
	return s.Status == LevelDegraded
}

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool {
	return s.Status == LevelUnhealthy
}

// WithSubStatus returns a copy with sub appended
func (s Status) WithSubStatus(sub Status) Status {
	s.SubStatuses = append(slices.Clone(s.SubStatuses), sub)
	return s
}

// FromComponent converts a component's tracked health and flow into a
// Status. Failed components are unhealthy. Components that recorded errors
// but are still running are degraded. The last error is sanitized before
// it is exposed.
func FromComponent(name string, h component.HealthStatus, flow component.FlowMetrics) Status {
	var s Status
	switch {
	case !h.Healthy:
		s = NewUnhealthy(name, fmt.Sprintf("%s: %s", h.State, sanitizeErrorMessage(h.LastError)))
	case h.ErrorCount > 0:
		s = NewDegraded(name, fmt.Sprintf("%s with %d errors, last: %s",
			h.State, h.ErrorCount, sanitizeErrorMessage(h.LastError)))
	default:
		s = NewHealthy(name, h.State)
	}

	s.Metrics = &Metrics{
		Uptime:          h.Uptime,
		ErrorCount:      h.ErrorCount,
		Frames:          flow.Frames,
		FramesPerSecond: flow.FramesPerSecond,
		LastActivity:    flow.LastActivity,
	}
	return s
}

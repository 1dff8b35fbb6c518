package health

import (
	"fmt"
	"strings"
	"time"
)

// New creates a status at level. Only LevelHealthy is Healthy.
func New(component, level, message string) Status {
	return Status{
		Component: component,
		Healthy:   level == LevelHealthy,
		Status:    level,
		Message:   message,
		Timestamp: time.Now(),
	}
}

func NewHealthy(component, message string) Status   { return New(component, LevelHealthy, message) }
func NewDegraded(component, message string) Status  { return New(component, LevelDegraded, message) }
func NewUnhealthy(component, message string) Status { return New(component, LevelUnhealthy, message) }

// Aggregate rolls subs up under component. The worst level wins and the
// message names the parts at that level.
func Aggregate(component string, subs []Status) Status {
	if len(subs) == 0 {
		return NewHealthy(component, "nothing registered")
	}

	var unhealthy, degraded []string
	for _, sub := range subs {
		switch {
		case sub.IsUnhealthy():
			unhealthy = append(unhealthy, sub.Component)
		case sub.IsDegraded():
			degraded = append(degraded, sub.Component)
		}
	}

	var status Status
	switch {
	case len(unhealthy) > 0:
		status = NewUnhealthy(component, summary(unhealthy, len(subs), LevelUnhealthy))
	case len(degraded) > 0:
		status = NewDegraded(component, summary(degraded, len(subs), LevelDegraded))
	default:
		status = NewHealthy(component, fmt.Sprintf("%d parts healthy", len(subs)))
	}
	status.SubStatuses = append([]Status(nil), subs...)
	return status
}

func summary(names []string, total int, level string) string {
	return fmt.Sprintf("%d of %d %s: %s", len(names), total, level, strings.Join(names, ", "))
}

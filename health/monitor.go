package health

import (
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
)

// Monitor holds the latest status of parts of a pipeline that are not
// components, such as network sync or the metrics server.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
}

// NewMonitor creates an empty monitor
func NewMonitor() *Monitor {
	return &Monitor{statuses: make(map[string]Status)}
}

// Update records status under name, replacing its Component
func (m *Monitor) Update(name string, status Status) {
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	m.mu.Lock()
	m.statuses[name] = status
	m.mu.Unlock()
}

func (m *Monitor) UpdateHealthy(name, message string)   { m.Update(name, NewHealthy(name, message)) }
func (m *Monitor) UpdateDegraded(name, message string)  { m.Update(name, NewDegraded(name, message)) }
func (m *Monitor) UpdateUnhealthy(name, message string) { m.Update(name, NewUnhealthy(name, message)) }

// Get returns the last status recorded for name
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.statuses[name]
	return status, ok
}

// Snapshot returns every status ordered by name
func (m *Monitor) Snapshot() []Status {
	m.mu.RLock()
	out := slices.Collect(maps.Values(m.statuses))
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b Status) int { return strings.Compare(a.Component, b.Component) })
	return out
}

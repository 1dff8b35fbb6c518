package health

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sigstream/component"
)

func TestFromComponent(t *testing.T) {
	tests := []struct {
		name       string
		health     component.HealthStatus
		wantStatus string
		wantInMsg  string
	}{
		{
			name:       "running without errors",
			health:     component.HealthStatus{State: "running", Healthy: true, Uptime: time.Minute},
			wantStatus: LevelHealthy,
			wantInMsg:  "running",
		},
		{
			name: "running with errors",
			health: component.HealthStatus{
				State: "running", Healthy: true, ErrorCount: 2, LastError: "skipped frame",
			},
			wantStatus: LevelDegraded,
			wantInMsg:  "2 errors",
		},
		{
			name: "failed",
			health: component.HealthStatus{
				State: "failed", ErrorCount: 1, LastError: "cannot open /dev/ttyUSB0",
			},
			wantStatus: LevelUnhealthy,
			wantInMsg:  "failed: cannot open [PATH]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flow := component.FlowMetrics{Frames: 10, FramesPerSecond: 5}
			s := FromComponent("acc", tt.health, flow)

			assert.Equal(t, "acc", s.Component)
			assert.Equal(t, tt.wantStatus, s.Status)
			assert.Contains(t, s.Message, tt.wantInMsg)
			require.NotNil(t, s.Metrics)
			assert.Equal(t, int64(10), s.Metrics.Frames)
			assert.Equal(t, tt.health.Uptime, s.Metrics.Uptime)
			assert.False(t, s.Timestamp.IsZero())
		})
	}
}

func TestSanitizeErrorMessage(t *testing.T) {
	tests := []struct {
		input, expected string
	}{
		{"", ""},
		{"failed to open /etc/sigstream/config.yaml", "failed to open [PATH]"},
		{"cannot connect to nats://localhost:4222", "cannot connect to [URL]"},
		{"no reply from 192.168.1.100", "no reply from [IP]"},
		{"failed to bind to :8080", "failed to bind to [PORT]"},
		{"auth failed with password:hunter2", "auth failed with [REDACTED]"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeErrorMessage(tt.input))
		})
	}
}

func TestAggregate(t *testing.T) {
	healthy := NewHealthy("a", "ok")
	degraded := NewDegraded("b", "slow")
	unhealthy := NewUnhealthy("c", "down")

	assert.True(t, Aggregate("p", nil).IsHealthy())
	assert.True(t, Aggregate("p", []Status{healthy}).Healthy)

	agg := Aggregate("p", []Status{healthy, degraded})
	assert.True(t, agg.IsDegraded())
	assert.Equal(t, "1 of 2 degraded: b", agg.Message)

	all := []Status{healthy, degraded, unhealthy}
	agg = Aggregate("p", all)
	assert.True(t, agg.IsUnhealthy())
	assert.False(t, agg.Healthy)
	assert.Equal(t, "1 of 3 unhealthy: c", agg.Message)
	require.Len(t, agg.SubStatuses, 3)

	agg.SubStatuses[0].Message = "changed"
	assert.Equal(t, "ok", all[0].Message)
}

func TestStatus_WithSubStatus(t *testing.T) {
	parent := NewHealthy("parent", "ok")
	child := parent.WithSubStatus(NewUnhealthy("child", "down"))

	assert.Empty(t, parent.SubStatuses)
	require.Len(t, child.SubStatuses, 1)
	assert.Equal(t, "child", child.SubStatuses[0].Component)
}

func TestMonitor(t *testing.T) {
	m := NewMonitor()
	m.UpdateHealthy("netsync", "synchronized")
	m.UpdateDegraded("metrics", "listener retrying")

	s, ok := m.Get("netsync")
	require.True(t, ok)
	assert.True(t, s.IsHealthy())

	snap := m.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "metrics", snap[0].Component)
	assert.True(t, Aggregate("pipeline", snap).IsDegraded())

	m.Update("renamed", NewUnhealthy("other", "x"))
	s, _ = m.Get("renamed")
	assert.Equal(t, "renamed", s.Component)

	_, ok = m.Get("missing")
	assert.False(t, ok)
}

func TestMonitor_ConcurrentAccess(t *testing.T) {
	m := NewMonitor()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("part-%d", i)
			for j := 0; j < 100; j++ {
				m.UpdateHealthy(name, "ok")
				_ = Aggregate("pipeline", m.Snapshot())
			}
		}(i)
	}
	wg.Wait()
	assert.Len(t, m.Snapshot(), 8)
}

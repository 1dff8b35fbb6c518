package component

import (
	"log/slog"

	"github.com/c360/sigstream/event"
	"github.com/c360/sigstream/metric"
	"github.com/c360/sigstream/pkg/timer"
)

// Env is the framework context handed to Init.
type Env interface {
	// Logger returns a logger already scoped to the component.
	Logger() *slog.Logger

	// Metrics returns the registry, or nil when metrics are disabled.
	Metrics() *metric.MetricsRegistry

	// Timer is the pipeline clock. Elapsed is 0 until the pipeline runs.
	Timer() *timer.Timer

	// IsRunning reports whether the pipeline has passed its start barrier.
	IsRunning() bool

	// IsTerminating reports whether Stop has been called.
	IsTerminating() bool

	// EventChannel returns a channel created with the framework.
	EventChannel(name string) (*event.Channel, bool)

	// SessionID identifies this pipeline run.
	SessionID() string
}

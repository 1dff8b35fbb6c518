package pipeline

import (
	"log/slog"

	"github.com/c360/sigstream/metric"
	"github.com/c360/sigstream/pkg/timer"
)

// Option configures a Framework
type Option func(*Framework)

// WithLogger sets the framework logger. Component loggers derive from it.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Framework) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithMetrics exports buffer, executor and pipeline metrics through registry
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(f *Framework) {
		f.registry = registry
	}
}

// WithClock replaces the wall clock, mainly for tests
func WithClock(clock timer.Clock) Option {
	return func(f *Framework) {
		if clock != nil {
			f.clock = clock
		}
	}
}

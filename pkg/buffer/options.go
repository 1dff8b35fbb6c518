package buffer

import (
	"log/slog"

	"github.com/c360/sigstream/metric"
)

// Option configures a CircularBuffer.
type Option[T any] func(*bufferOptions[T])

// bufferOptions holds CircularBuffer configuration. Statistics are always
// collected; Prometheus export is opt-in.
type bufferOptions[T any] struct {
	overflowPolicy OverflowPolicy
	dropCallback   DropCallback[T]
	metricsReg     *metric.MetricsRegistry
	metricsName    string
}

// WithOverflowPolicy sets the behavior when the queue is full.
// Defaults to DropOldest.
func WithOverflowPolicy[T any](policy OverflowPolicy) Option[T] {
	return func(opts *bufferOptions[T]) {
		opts.overflowPolicy = policy
	}
}

// WithMetrics exports queue statistics under the given name.
// A nil registry or empty name is ignored.
func WithMetrics[T any](registry *metric.MetricsRegistry, name string) Option[T] {
	return func(opts *bufferOptions[T]) {
		if registry != nil && name != "" {
			opts.metricsReg = registry
			opts.metricsName = name
		}
	}
}

// WithDropCallback is called with every item discarded by the overflow policy.
func WithDropCallback[T any](callback DropCallback[T]) Option[T] {
	return func(opts *bufferOptions[T]) {
		opts.dropCallback = callback
	}
}

func applyOptions[T any](options ...Option[T]) *bufferOptions[T] {
	opts := &bufferOptions[T]{overflowPolicy: DropOldest}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}
	return opts
}

// TimeOption configures a TimeBuffer.
type TimeOption func(*timeOptions)

type timeOptions struct {
	metricsReg    *metric.MetricsRegistry
	logger        *slog.Logger
	syncTolerance float64 // seconds; <0 means default
}

// WithTimeMetrics exports TimeBuffer statistics to registry, labelled with
// the buffer name.
func WithTimeMetrics(registry *metric.MetricsRegistry) TimeOption {
	return func(opts *timeOptions) {
		opts.metricsReg = registry
	}
}

// WithLogger sets the logger used for drift and truncation warnings.
func WithLogger(logger *slog.Logger) TimeOption {
	return func(opts *timeOptions) {
		if logger != nil {
			opts.logger = logger
		}
	}
}

// WithSyncTolerance sets how far, in seconds, the write cursor may lag the
// pipeline clock before Sync pads zeroes. Defaults to one second.
func WithSyncTolerance(seconds float64) TimeOption {
	return func(opts *timeOptions) {
		if seconds >= 0 {
			opts.syncTolerance = seconds
		}
	}
}

func applyTimeOptions(options ...TimeOption) *timeOptions {
	opts := &timeOptions{
		logger:        slog.Default(),
		syncTolerance: 1.0,
	}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}
	return opts
}

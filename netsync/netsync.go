// Package netsync releases pipelines on several machines at the same
// moment with a single UDP datagram.
package netsync

import (
	"bytes"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/sigstream/metric"
)

// Magic is the complete start datagram.
var Magic = [4]byte{'S', 'S', 'J', 0x01}

// IsMagic reports whether b is exactly the start datagram.
func IsMagic(b []byte) bool {
	return bytes.Equal(b, Magic[:])
}

// Option configures a Client or Server
type Option func(*options)

type options struct {
	logger   *slog.Logger
	registry *metric.MetricsRegistry
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics exports datagram counters through registry
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(o *options) {
		o.registry = registry
	}
}

func applyOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type netsyncMetrics struct {
	datagrams *prometheus.CounterVec
	core      *metric.Metrics
}

func newMetrics(registry *metric.MetricsRegistry, role string) (*netsyncMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &netsyncMetrics{
		datagrams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "sigstream",
			Subsystem:   "netsync",
			Name:        "datagrams_total",
			Help:        "Start datagrams sent, accepted or ignored",
			ConstLabels: prometheus.Labels{"role": role},
		}, []string{"result"}),
		core: registry.CoreMetrics(),
	}
	if err := registry.RegisterCounterVec("netsync."+role, "datagrams", m.datagrams); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *netsyncMetrics) count(result string) {
	if m != nil {
		m.datagrams.WithLabelValues(result).Inc()
	}
}

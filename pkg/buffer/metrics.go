package buffer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/sigstream/metric"
)

// queueMetrics exports CircularBuffer statistics.
type queueMetrics struct {
	writes      prometheus.Counter
	reads       prometheus.Counter
	drops       prometheus.Counter
	size        prometheus.Gauge
	utilization prometheus.Gauge
}

func newQueueMetrics(registry *metric.MetricsRegistry, name string) (*queueMetrics, error) {
	labels := prometheus.Labels{"queue": name}
	m := &queueMetrics{
		writes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sigstream", Subsystem: "queue", Name: "writes_total",
			ConstLabels: labels, Help: "Items written to the queue",
		}),
		reads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sigstream", Subsystem: "queue", Name: "reads_total",
			ConstLabels: labels, Help: "Items read from the queue",
		}),
		drops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sigstream", Subsystem: "queue", Name: "drops_total",
			ConstLabels: labels, Help: "Items discarded by the overflow policy",
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sigstream", Subsystem: "queue", Name: "size",
			ConstLabels: labels, Help: "Items currently queued",
		}),
		utilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sigstream", Subsystem: "queue", Name: "utilization",
			ConstLabels: labels, Help: "Queue fill as a fraction of capacity",
		}),
	}

	owner := "queue." + name
	if err := registry.RegisterCounter(owner, "writes", m.writes); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(owner, "reads", m.reads); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(owner, "drops", m.drops); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(owner, "size", m.size); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(owner, "utilization", m.utilization); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *queueMetrics) updateSize(size, capacity int) {
	m.size.Set(float64(size))
	m.utilization.Set(float64(size) / float64(capacity))
}

// timeMetrics exports TimeBuffer statistics.
type timeMetrics struct {
	samples  prometheus.Counter
	zeroes   prometheus.Counter
	reads    *prometheus.CounterVec
	position prometheus.Gauge
	drift    prometheus.Gauge
}

func newTimeMetrics(registry *metric.MetricsRegistry, name string) (*timeMetrics, error) {
	labels := prometheus.Labels{"buffer": name}
	m := &timeMetrics{
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sigstream", Subsystem: "timebuffer", Name: "samples_total",
			ConstLabels: labels, Help: "Real samples pushed",
		}),
		zeroes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sigstream", Subsystem: "timebuffer", Name: "zero_samples_total",
			ConstLabels: labels, Help: "Zero samples pushed to keep time alignment",
		}),
		reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sigstream", Subsystem: "timebuffer", Name: "reads_total",
			ConstLabels: labels, Help: "Window reads by resulting status",
		}, []string{"status"}),
		position: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sigstream", Subsystem: "timebuffer", Name: "position_samples",
			ConstLabels: labels, Help: "Absolute write cursor",
		}),
		drift: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sigstream", Subsystem: "timebuffer", Name: "drift_samples",
			ConstLabels: labels, Help: "Write cursor minus expected position at last sync",
		}),
	}

	owner := "timebuffer." + name
	if err := registry.RegisterCounter(owner, "samples", m.samples); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(owner, "zeroes", m.zeroes); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(owner, "reads", m.reads); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(owner, "position", m.position); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(owner, "drift", m.drift); err != nil {
		return nil, err
	}
	return m, nil
}

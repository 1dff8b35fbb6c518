package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline-level metrics shared by every stage.
type Metrics struct {
	ComponentState     *prometheus.GaugeVec
	FramesProcessed    *prometheus.CounterVec
	FramesSkipped      *prometheus.CounterVec
	ProcessingDuration *prometheus.HistogramVec
	ErrorsTotal        *prometheus.CounterVec
	SyncPadding        *prometheus.CounterVec
	EventsDispatched   *prometheus.CounterVec
	EventsDropped      *prometheus.CounterVec

	PipelineRunning prometheus.Gauge
	PipelineTime    prometheus.Gauge
	NetSyncWait     prometheus.Gauge
}

// NewMetrics creates the pipeline metrics without registering them.
func NewMetrics() *Metrics {
	return &Metrics{
		ComponentState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "sigstream",
				Subsystem: "component",
				Name:      "state",
				Help:      "Component lifecycle state (0=created, 1=initialized, 2=running, 3=stopping, 4=closed, 5=failed)",
			},
			[]string{"component"},
		),

		FramesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sigstream",
				Subsystem: "frames",
				Name:      "processed_total",
				Help:      "Frames handled by a pipeline stage",
			},
			[]string{"component", "kind"},
		),

		FramesSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sigstream",
				Subsystem: "frames",
				Name:      "skipped_total",
				Help:      "Frames skipped because the window was unavailable",
			},
			[]string{"component", "reason"},
		),

		ProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "sigstream",
				Subsystem: "processing",
				Name:      "duration_seconds",
				Help:      "Time spent in a single stage invocation",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 9),
			},
			[]string{"component"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sigstream",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Errors raised by pipeline stages",
			},
			[]string{"component", "class"},
		),

		SyncPadding: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sigstream",
				Subsystem: "buffer",
				Name:      "sync_padding_samples_total",
				Help:      "Zero samples inserted to keep a source aligned with pipeline time",
			},
			[]string{"provider"},
		),

		EventsDispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sigstream",
				Subsystem: "events",
				Name:      "dispatched_total",
				Help:      "Events delivered to listeners",
			},
			[]string{"channel"},
		),

		EventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sigstream",
				Subsystem: "events",
				Name:      "dropped_total",
				Help:      "Events dropped because the queue was full",
			},
			[]string{"channel"},
		),

		PipelineRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "sigstream",
				Subsystem: "pipeline",
				Name:      "running",
				Help:      "1 while the pipeline is running",
			},
		),

		PipelineTime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "sigstream",
				Subsystem: "pipeline",
				Name:      "elapsed_seconds",
				Help:      "Seconds since pipeline start",
			},
		),

		NetSyncWait: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "sigstream",
				Subsystem: "netsync",
				Name:      "wait_seconds",
				Help:      "Time spent waiting for the network start signal",
			},
		),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.ComponentState,
		c.FramesProcessed,
		c.FramesSkipped,
		c.ProcessingDuration,
		c.ErrorsTotal,
		c.SyncPadding,
		c.EventsDispatched,
		c.EventsDropped,
		c.PipelineRunning,
		c.PipelineTime,
		c.NetSyncWait,
	}
}

// RecordComponentState updates the lifecycle gauge of a component
func (c *Metrics) RecordComponentState(component string, state int) {
	c.ComponentState.WithLabelValues(component).Set(float64(state))
}

// RecordFrame counts a processed frame and its duration
func (c *Metrics) RecordFrame(component, kind string, duration time.Duration) {
	c.FramesProcessed.WithLabelValues(component, kind).Inc()
	c.ProcessingDuration.WithLabelValues(component).Observe(duration.Seconds())
}

// RecordSkip counts a skipped frame
func (c *Metrics) RecordSkip(component, reason string) {
	c.FramesSkipped.WithLabelValues(component, reason).Inc()
}

// RecordError counts an error by class
func (c *Metrics) RecordError(component, class string) {
	c.ErrorsTotal.WithLabelValues(component, class).Inc()
}

// RecordSyncPadding adds zero-padded samples for a provider
func (c *Metrics) RecordSyncPadding(provider string, samples int64) {
	if samples > 0 {
		c.SyncPadding.WithLabelValues(provider).Add(float64(samples))
	}
}

// RecordEventDispatched counts a delivered event
func (c *Metrics) RecordEventDispatched(channel string) {
	c.EventsDispatched.WithLabelValues(channel).Inc()
}

// RecordEventDropped counts an event lost to queue overflow
func (c *Metrics) RecordEventDropped(channel string) {
	c.EventsDropped.WithLabelValues(channel).Inc()
}

// RecordRunning sets the running gauge
func (c *Metrics) RecordRunning(running bool) {
	value := 0.0
	if running {
		value = 1.0
	}
	c.PipelineRunning.Set(value)
}

// RecordPipelineTime sets the elapsed pipeline time
func (c *Metrics) RecordPipelineTime(seconds float64) {
	c.PipelineTime.Set(seconds)
}

// RecordNetSyncWait sets how long start waited for the network signal
func (c *Metrics) RecordNetSyncWait(d time.Duration) {
	c.NetSyncWait.Set(d.Seconds())
}

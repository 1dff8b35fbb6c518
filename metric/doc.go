// Package metric provides the Prometheus registry and HTTP endpoint for
// pipeline observability.
//
// A MetricsRegistry carries two kinds of metrics:
//
//  1. Pipeline metrics (Metrics): frame counts, skips, errors, sync padding
//     and event dispatch, labelled by component.
//  2. Component metrics registered through MetricsRegistrar, keyed by
//     owner and metric name so a component cannot register twice.
//
// Usage:
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry)
//	go server.Start()
//	defer server.Shutdown(ctx)
//
//	registry.CoreMetrics().RecordFrame("fft", "transformer", d)
//
// Metrics are optional everywhere: components take a nil registry to mean
// "statistics only".
package metric

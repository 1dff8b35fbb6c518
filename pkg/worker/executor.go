// Package worker runs long-lived pipeline tasks, one goroutine each.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/sigstream/metric"
)

// TaskFunc is a unit of work. It should return when ctx is done.
type TaskFunc func(ctx context.Context) error

// CompletionHandler is called after every task returns, with the task's
// error or a wrapped ErrTaskPanicked.
type CompletionHandler func(name string, err error)

// Executor is an unbounded pool: every submitted task gets its own
// goroutine. Stop cancels the task context and waits for tasks to return.
type Executor struct {
	lifecycleMu sync.Mutex
	started     bool
	stopped     bool
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	panicked  atomic.Int64
	running   atomic.Int64

	onDone  CompletionHandler
	logger  *slog.Logger
	metrics *executorMetrics

	metricsRegistry *metric.MetricsRegistry
	metricsName     string
}

type executorMetrics struct {
	running  prometheus.Gauge
	finished *prometheus.CounterVec
	duration prometheus.Histogram
}

// Option configures an Executor
type Option func(*Executor)

// WithMetricsRegistry exports task counts under name
func WithMetricsRegistry(registry *metric.MetricsRegistry, name string) Option {
	return func(e *Executor) {
		e.metricsRegistry = registry
		e.metricsName = name
	}
}

// WithLogger sets the logger used for task failures
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithCompletionHandler registers a callback for finished tasks
func WithCompletionHandler(fn CompletionHandler) Option {
	return func(e *Executor) {
		e.onDone = fn
	}
}

// NewExecutor creates an executor. It does not run anything until Start.
func NewExecutor(opts ...Option) (*Executor, error) {
	e := &Executor{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}

	if e.metricsRegistry != nil && e.metricsName != "" {
		if err := e.initializeMetrics(); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *Executor) initializeMetrics() error {
	labels := prometheus.Labels{"executor": e.metricsName}
	m := &executorMetrics{
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sigstream", Subsystem: "executor", Name: "running_tasks",
			ConstLabels: labels, Help: "Tasks currently running",
		}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sigstream", Subsystem: "executor", Name: "finished_tasks_total",
			ConstLabels: labels, Help: "Tasks that returned, by outcome",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sigstream", Subsystem: "executor", Name: "task_duration_seconds",
			ConstLabels: labels, Help: "Task lifetime",
			Buckets: []float64{0.01, 0.1, 1, 10, 60, 600, 3600},
		}),
	}

	owner := "executor." + e.metricsName
	if err := e.metricsRegistry.RegisterGauge(owner, "running", m.running); err != nil {
		return err
	}
	if err := e.metricsRegistry.RegisterCounterVec(owner, "finished", m.finished); err != nil {
		return err
	}
	if err := e.metricsRegistry.RegisterHistogram(owner, "duration", m.duration); err != nil {
		return err
	}
	e.metrics = m
	return nil
}

// Start enables Submit. Tasks receive a context derived from ctx that is
// cancelled by Stop.
func (e *Executor) Start(ctx context.Context) error {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	if e.started {
		return ErrAlreadyStarted
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.started = true
	return nil
}

// Submit runs fn on a new goroutine.
func (e *Executor) Submit(name string, fn TaskFunc) error {
	if fn == nil {
		return ErrNilTask
	}

	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	if !e.started {
		return ErrNotStarted
	}
	if e.stopped {
		return ErrStopped
	}

	e.submitted.Add(1)
	e.running.Add(1)
	if e.metrics != nil {
		e.metrics.running.Inc()
	}

	e.wg.Add(1)
	go e.run(e.ctx, name, fn)
	return nil
}

func (e *Executor) run(ctx context.Context, name string, fn TaskFunc) {
	defer e.wg.Done()
	start := time.Now()

	err := e.call(ctx, name, fn)

	e.running.Add(-1)
	e.completed.Add(1)
	outcome := "ok"
	if err != nil {
		e.failed.Add(1)
		outcome = "error"
	}
	if e.metrics != nil {
		e.metrics.running.Dec()
		e.metrics.finished.WithLabelValues(outcome).Inc()
		e.metrics.duration.Observe(time.Since(start).Seconds())
	}
	if e.onDone != nil {
		e.onDone(name, err)
	}
}

func (e *Executor) call(ctx context.Context, name string, fn TaskFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.panicked.Add(1)
			e.logger.Error("Task panicked", "task", name, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %s: %v", ErrTaskPanicked, name, r)
		}
	}()
	return fn(ctx)
}

// Shutdown cancels the task context and rejects further submissions
// without waiting.
func (e *Executor) Shutdown() {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	if !e.started || e.stopped {
		return
	}
	e.stopped = true
	e.cancel()
}

// AwaitTermination waits up to timeout for all tasks to return.
func (e *Executor) AwaitTermination(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: %d still running after %s", ErrStopTimeout, e.running.Load(), timeout)
	}
}

// Stop is Shutdown followed by AwaitTermination.
func (e *Executor) Stop(timeout time.Duration) error {
	e.Shutdown()
	return e.AwaitTermination(timeout)
}

// Stats returns current executor statistics
func (e *Executor) Stats() Stats {
	return Stats{
		Submitted: e.submitted.Load(),
		Completed: e.completed.Load(),
		Failed:    e.failed.Load(),
		Panicked:  e.panicked.Load(),
		Running:   e.running.Load(),
	}
}

// Stats represents executor statistics
type Stats struct {
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panicked  int64 `json:"panicked"`
	Running   int64 `json:"running"`
}

package pipeline

import (
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/c360/sigstream/component"
	"github.com/c360/sigstream/config"
	"github.com/c360/sigstream/errors"
	"github.com/c360/sigstream/event"
	"github.com/c360/sigstream/health"
	"github.com/c360/sigstream/metric"
	"github.com/c360/sigstream/pkg/buffer"
	"github.com/c360/sigstream/pkg/timer"
	"github.com/c360/sigstream/pkg/worker"
)

// Framework owns one pipeline run: the component graph, its buffers, the
// pipeline clock and the tasks that drive it. A Framework is started at
// most once.
type Framework struct {
	cfg      config.Framework
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	core     *metric.Metrics
	clock    timer.Clock
	timer    *timer.Timer
	session  string
	monitor  *health.Monitor
	executor *worker.Executor

	// regMu serializes registration and Start; mu guards the maps below.
	regMu    sync.Mutex
	mu       sync.Mutex
	units    []*unit
	byName   map[string]*unit
	sensors  []*sensorUnit
	buffers  map[string]*buffer.TimeBuffer
	channels map[string]*event.Channel
	emitters map[string][]string // channel name -> provider names
	queues   []buffer.Buffer[*event.Event]

	started     atomic.Bool
	running     atomic.Bool
	terminating atomic.Bool
	runningCh   chan struct{} // closed when the clock starts
	stopCh      chan struct{} // closed when Stop begins
	stopOnce    sync.Once
	stopErr     error
}

// New validates cfg and returns an empty framework.
func New(cfg config.Framework, opts ...Option) (*Framework, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	f := &Framework{
		cfg:       cfg,
		logger:    slog.Default(),
		clock:     timer.Real(),
		session:   uuid.NewString(),
		monitor:   health.NewMonitor(),
		byName:    make(map[string]*unit),
		buffers:   make(map[string]*buffer.TimeBuffer),
		channels:  make(map[string]*event.Channel),
		emitters:  make(map[string][]string),
		runningCh: make(chan struct{}),
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With("session", f.session)
	f.timer = timer.New(f.clock)
	if f.registry != nil {
		f.core = f.registry.CoreMetrics()
	}

	execOpts := []worker.Option{
		worker.WithLogger(f.logger),
		worker.WithCompletionHandler(f.taskDone),
	}
	if f.registry != nil {
		execOpts = append(execOpts, worker.WithMetricsRegistry(f.registry, "pipeline"))
	}
	executor, err := worker.NewExecutor(execOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "Framework", "New", "executor creation")
	}
	f.executor = executor
	return f, nil
}

// Config returns the framework configuration
func (f *Framework) Config() config.Framework {
	return f.cfg
}

// SessionID identifies this run in logs
func (f *Framework) SessionID() string {
	return f.session
}

// IsRunning reports whether Start has passed its barrier and Stop has not
// been called.
func (f *Framework) IsRunning() bool {
	return f.running.Load()
}

// IsTerminating reports whether Stop has been called
func (f *Framework) IsTerminating() bool {
	return f.terminating.Load()
}

// Time returns seconds on the pipeline clock. It is 0 until Start
// completes.
func (f *Framework) Time() float64 {
	return f.timer.Elapsed()
}

// Timer returns the pipeline clock
func (f *Framework) Timer() *timer.Timer {
	return f.timer
}

// Monitor holds health of parts that are not components, such as the
// metrics server. Its entries are included in Health.
func (f *Framework) Monitor() *health.Monitor {
	return f.monitor
}

// Buffers returns every allocated buffer by provider name
func (f *Framework) Buffers() map[string]*buffer.TimeBuffer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return maps.Clone(f.buffers)
}

// EventChannel returns a channel created with NewEventChannel
func (f *Framework) EventChannel(name string) (*event.Channel, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[name]
	return ch, ok
}

// State returns a registered component's lifecycle state
func (f *Framework) State(name string) (component.State, bool) {
	f.mu.Lock()
	u, ok := f.byName[name]
	f.mu.Unlock()
	if !ok {
		return component.StateCreated, false
	}
	return u.tracker.State(), true
}

// Health aggregates every component and monitored part into one status.
func (f *Framework) Health() health.Status {
	f.mu.Lock()
	units := slices.Clone(f.units)
	f.mu.Unlock()

	subs := make([]health.Status, 0, len(units))
	for _, u := range units {
		subs = append(subs, health.FromComponent(u.name, u.tracker.Health(), u.tracker.DataFlow()))
	}
	subs = append(subs, f.monitor.Snapshot()...)

	status := health.Aggregate("pipeline", subs)
	if f.terminating.Load() {
		status.Healthy = false
		status.Status = health.LevelUnhealthy
		status.Message = "pipeline stopped"
	}
	return status
}

func (f *Framework) lookup(name string) *unit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byName[name]
}

// taskDone is the executor completion handler. A task that returns an
// error marks its unit Failed; siblings are not affected.
func (f *Framework) taskDone(name string, err error) {
	if err == nil || errors.Is(err, errors.ErrShuttingDown) {
		return
	}
	u := f.lookup(name)
	if u == nil {
		f.logger.Error("Task failed", "task", name, "error", err)
		return
	}
	if f.terminating.Load() && errors.Is(err, errors.ErrBufferClosed) {
		return
	}

	u.tracker.Fail(err)
	u.logger.Error("Component stopped", "error", err, "class", errors.Classify(err).String())
	if f.core != nil {
		f.core.RecordError(u.name, errors.Classify(err).String())
		f.core.RecordComponentState(u.name, int(component.StateFailed))
	}
}

// transition moves u to state, ignoring moves its current state forbids.
func (f *Framework) transition(u *unit, to component.State) {
	if err := u.tracker.Transition(to); err != nil {
		u.logger.Debug("Skipping state change", "to", to.String(), "from", u.tracker.State().String())
		return
	}
	if f.core != nil {
		f.core.RecordComponentState(u.name, int(to))
	}
}

// env is the component.Env handed to one component
type env struct {
	f      *Framework
	logger *slog.Logger
}

func (f *Framework) envFor(name string) component.Env {
	return &env{f: f, logger: f.logger.With("component", name)}
}

func (e *env) Logger() *slog.Logger                            { return e.logger }
func (e *env) Metrics() *metric.MetricsRegistry                { return e.f.registry }
func (e *env) Timer() *timer.Timer                             { return e.f.timer }
func (e *env) IsRunning() bool                                 { return e.f.IsRunning() }
func (e *env) IsTerminating() bool                             { return e.f.IsTerminating() }
func (e *env) SessionID() string                               { return e.f.session }
func (e *env) EventChannel(name string) (*event.Channel, bool) { return e.f.EventChannel(name) }

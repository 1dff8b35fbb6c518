package pipeline

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/sigstream/component"
	"github.com/c360/sigstream/event"
	"github.com/c360/sigstream/pkg/buffer"
	"github.com/c360/sigstream/pkg/worker"
	"github.com/c360/sigstream/stream"
)

// Unit kinds used in logs and metric labels
const (
	kindSensor        = "sensor"
	kindChannel       = "channel"
	kindTransformer   = "transformer"
	kindConsumer      = "consumer"
	kindEventConsumer = "event-consumer"
	kindListener      = "event-listener"
)

// warnEvery bounds how often a runner repeats the same warning.
const warnEvery = time.Second

// unit is one scheduled component. Sensors, each of their channels and
// every consumer are separate units with their own task and tracker.
type unit struct {
	name    string
	kind    string
	comp    component.Component
	tracker *component.Tracker
	logger  *slog.Logger
	warn    *rate.Limiter

	// run is nil for units that only take part in the lifecycle.
	run worker.TaskFunc
}

func newUnit(name, kind string, c component.Component, logger *slog.Logger) *unit {
	return &unit{
		name:    name,
		kind:    kind,
		comp:    c,
		tracker: component.NewTracker(name),
		logger:  logger.With("component", name, "kind", kind),
		warn:    rate.NewLimiter(rate.Every(warnEvery), 1),
	}
}

// warnf logs at warn level at most once per warnEvery.
func (u *unit) warnf(msg string, args ...any) {
	if u.warn.Allow() {
		u.logger.Warn(msg, args...)
	}
}

// gate resolves once, either open when its producer is about to run or
// failed when the producer gave up before that.
type gate struct {
	once   sync.Once
	ready  chan struct{}
	failed chan struct{}
}

func newGate() *gate {
	return &gate{ready: make(chan struct{}), failed: make(chan struct{})}
}

func (g *gate) open() { g.once.Do(func() { close(g.ready) }) }
func (g *gate) fail() { g.once.Do(func() { close(g.failed) }) }

func (g *gate) isOpen() bool {
	select {
	case <-g.ready:
		return true
	default:
		return false
	}
}

type sensorUnit struct {
	*unit
	sensor    component.Sensor
	channels  []*channelUnit
	connected *gate
}

type channelUnit struct {
	*unit
	channel component.Channel
	sensor  *sensorUnit
	spec    stream.Spec
	out     *buffer.TimeBuffer
	gate    *gate
}

// frameUnit drives a Transformer (out != nil) or a Consumer.
type frameUnit struct {
	*unit
	transformer component.Transformer
	consumer    component.Consumer
	sources     []component.Provider
	frame       float64
	delta       float64
	outSpec     stream.Spec
	out         *buffer.TimeBuffer
	gate        *gate // nil for consumers

	// dead marks sources whose producer never ran; their windows read as
	// zeroes.
	dead []bool
}

type eventUnit struct {
	*unit
	consumer component.EventConsumer
	sources  []component.Provider
	trigger  *event.Channel
	queue    buffer.Buffer[*event.Event]
	dead     []bool
}

// output is the Provider handed back by registration.
type output struct {
	name string
	buf  *buffer.TimeBuffer
	gate *gate
}

func (o *output) Name() string               { return o.name }
func (o *output) Spec() stream.Spec          { return o.buf.Spec() }
func (o *output) Buffer() *buffer.TimeBuffer { return o.buf }

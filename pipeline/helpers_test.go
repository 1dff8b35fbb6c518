package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/sigstream/component"
	"github.com/c360/sigstream/config"
	"github.com/c360/sigstream/errors"
	"github.com/c360/sigstream/event"
	"github.com/c360/sigstream/stream"
)

func testConfig() config.Framework {
	cfg := config.DefaultFramework()
	cfg.Countdown = 0
	cfg.ConnectTimeout = config.Duration(time.Second)
	cfg.PollInterval = config.Duration(5 * time.Millisecond)
	cfg.ShutdownTimeout = config.Duration(2 * time.Second)
	cfg.SyncTolerance = 10
	return cfg
}

// rampSensor is a sensor whose channels emit consecutive sample indices.
type rampSensor struct {
	name        string
	channels    []component.Channel
	failConnect bool

	connects    atomic.Int32
	disconnects atomic.Int32
	closes      atomic.Int32
}

func newRampSensor(name string, channels ...component.Channel) *rampSensor {
	return &rampSensor{name: name, channels: channels}
}

func (s *rampSensor) Name() string { return s.name }

func (s *rampSensor) Connect(context.Context) error {
	s.connects.Add(1)
	if s.failConnect {
		return errors.ErrNoConnection
	}
	return nil
}

func (s *rampSensor) Disconnect() error {
	s.disconnects.Add(1)
	return nil
}

func (s *rampSensor) CheckConnection() bool         { return true }
func (s *rampSensor) Channels() []component.Channel { return s.channels }

func (s *rampSensor) Close() error {
	s.closes.Add(1)
	return nil
}

// rampChannel fills every chunk with the running sample index.
type rampChannel struct {
	name string
	spec stream.Spec
	next float64
}

func newRampChannel(name string, rate float64, num int) *rampChannel {
	return &rampChannel{
		name: name,
		spec: stream.Spec{Num: num, Dim: 1, Bytes: 8, Type: stream.TypeDouble, SampleRate: rate},
	}
}

func (c *rampChannel) Name() string      { return c.name }
func (c *rampChannel) Spec() stream.Spec { return c.spec }

func (c *rampChannel) Process(_ context.Context, out *stream.Stream) (bool, error) {
	for i := range out.MustDoubles() {
		out.MustDoubles()[i] = c.next
		c.next++
	}
	return true, nil
}

// recorder keeps a copy of every frame it consumes.
type recorder struct {
	name string
	err  error
	hook func()

	mu      sync.Mutex
	frames  [][]*stream.Stream
	events  []*event.Event
	flushes int
	closes  int
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) Consume(_ context.Context, in []*stream.Stream) error {
	if r.hook != nil {
		r.hook()
	}
	r.keep(in)
	return r.err
}

func (r *recorder) ConsumeEvent(_ context.Context, in []*stream.Stream, trigger *event.Event) error {
	r.keep(in)
	r.mu.Lock()
	r.events = append(r.events, trigger)
	r.mu.Unlock()
	return r.err
}

func (r *recorder) keep(in []*stream.Stream) {
	frame := make([]*stream.Stream, len(in))
	for i, s := range in {
		frame[i] = s.Clone()
	}
	r.mu.Lock()
	r.frames = append(r.frames, frame)
	r.mu.Unlock()
}

func (r *recorder) Frames() [][]*stream.Stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]*stream.Stream(nil), r.frames...)
}

func (r *recorder) Events() []*event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*event.Event(nil), r.events...)
}

func (r *recorder) Flush(context.Context) error {
	r.mu.Lock()
	r.flushes++
	r.mu.Unlock()
	return nil
}

func (r *recorder) Close() error {
	r.mu.Lock()
	r.closes++
	r.mu.Unlock()
	return fmt.Errorf("close failure is only logged")
}

// doubler outputs its first source multiplied by two.
type doubler struct {
	name     string
	describe []stream.Spec
}

func (d *doubler) Name() string { return d.name }

func (d *doubler) Describe(in []stream.Spec) (stream.Spec, error) {
	d.describe = in
	return stream.Spec{Num: in[0].Num, Dim: 1, Bytes: 8, Type: stream.TypeDouble}, nil
}

func (d *doubler) Transform(_ context.Context, in []*stream.Stream, out *stream.Stream) error {
	src := in[0].MustDoubles()
	dst := out.MustDoubles()
	for i := range dst {
		dst[i] = 2 * src[i]
	}
	return nil
}

// listener counts events and takes part in the lifecycle.
type listener struct {
	name    string
	entered atomic.Bool
	closed  atomic.Bool

	mu     sync.Mutex
	events []*event.Event
}

func (l *listener) Name() string { return l.name }

func (l *listener) Notify(ev *event.Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *listener) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

func (l *listener) Enter(context.Context) error {
	l.entered.Store(true)
	return nil
}

func (l *listener) Close() error {
	l.closed.Store(true)
	return nil
}

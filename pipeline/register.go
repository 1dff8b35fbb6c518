package pipeline

import (
	"context"
	"fmt"
	"math"

	"github.com/c360/sigstream/component"
	"github.com/c360/sigstream/errors"
	"github.com/c360/sigstream/event"
	"github.com/c360/sigstream/pkg/buffer"
	"github.com/c360/sigstream/stream"
)

func invalid(op, format string, args ...any) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: "+format, append([]any{errors.ErrInvalidConfig}, args...)...),
		"Framework", op, "registration")
}

// AddSensor registers a sensor and allocates one buffer per channel. The
// returned providers are in channel order and are named
// "<sensor>.<channel>".
func (f *Framework) AddSensor(s component.Sensor) ([]component.Provider, error) {
	f.regMu.Lock()
	defer f.regMu.Unlock()

	if s == nil {
		return nil, invalid("AddSensor", "nil sensor")
	}
	channels := s.Channels()
	if len(channels) == 0 {
		return nil, invalid("AddSensor", "sensor %s has no channels", s.Name())
	}

	names := []string{s.Name()}
	for _, ch := range channels {
		if ch == nil {
			return nil, invalid("AddSensor", "sensor %s has a nil channel", s.Name())
		}
		names = append(names, channelName(s, ch))
	}
	if err := f.checkNames("AddSensor", names...); err != nil {
		return nil, err
	}

	if err := f.initialize("AddSensor", s); err != nil {
		return nil, err
	}
	for _, ch := range channels {
		if err := f.initialize("AddSensor", ch); err != nil {
			return nil, err
		}
	}

	su := &sensorUnit{
		unit:      newUnit(s.Name(), kindSensor, s, f.logger),
		sensor:    s,
		connected: newGate(),
	}
	su.run = func(ctx context.Context) error { return f.runSensor(ctx, su) }

	providers := make([]component.Provider, 0, len(channels))
	units := []*unit{su.unit}
	for _, ch := range channels {
		name := channelName(s, ch)
		spec := ch.Spec()
		if spec.Num < 1 {
			return nil, invalid("AddSensor", "channel %s produces %d samples per call", name, spec.Num)
		}
		buf, err := f.allocate("AddSensor", name, spec, bufferSize(f.cfg.BufferSize, ch, s))
		if err != nil {
			return nil, err
		}

		cu := &channelUnit{
			unit:    newUnit(name, kindChannel, ch, f.logger),
			channel: ch,
			sensor:  su,
			spec:    spec,
			out:     buf,
			gate:    newGate(),
		}
		cu.run = func(ctx context.Context) error { return f.runChannel(ctx, cu) }
		su.channels = append(su.channels, cu)
		units = append(units, cu.unit)
		providers = append(providers, &output{name: name, buf: buf, gate: cu.gate})
	}

	f.commit(units...)
	f.mu.Lock()
	f.sensors = append(f.sensors, su)
	f.mu.Unlock()

	f.logger.Info("Sensor registered", "sensor", s.Name(), "channels", len(channels))
	return providers, nil
}

// AddTransformer registers t to read delta seconds of look-back plus frame
// seconds from every source, and allocates its output buffer.
func (f *Framework) AddTransformer(t component.Transformer, sources []component.Provider, frame, delta float64) (component.Provider, error) {
	f.regMu.Lock()
	defer f.regMu.Unlock()

	if t == nil {
		return nil, invalid("AddTransformer", "nil transformer")
	}
	if err := f.checkNames("AddTransformer", t.Name()); err != nil {
		return nil, err
	}
	in, err := f.checkWindow("AddTransformer", t.Name(), sources, frame, delta)
	if err != nil {
		return nil, err
	}
	if err := f.initialize("AddTransformer", t); err != nil {
		return nil, err
	}

	spec, err := t.Describe(in)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Framework", "AddTransformer", "describe "+t.Name())
	}
	if spec.SampleRate == 0 && spec.Num > 0 {
		spec.SampleRate = float64(spec.Num) / frame
	}
	if spec.Num < 1 {
		return nil, invalid("AddTransformer", "transformer %s produces %d samples per frame", t.Name(), spec.Num)
	}

	buf, err := f.allocate("AddTransformer", t.Name(), spec, bufferSize(f.cfg.BufferSize, t))
	if err != nil {
		return nil, err
	}

	fu := &frameUnit{
		unit:        newUnit(t.Name(), kindTransformer, t, f.logger),
		transformer: t,
		sources:     sources,
		frame:       frame,
		delta:       delta,
		outSpec:     spec,
		out:         buf,
		gate:        newGate(),
	}
	fu.run = func(ctx context.Context) error { return f.runFrames(ctx, fu) }
	f.commit(fu.unit)

	f.logger.Info("Transformer registered", "transformer", t.Name(),
		"sources", len(sources), "frame", frame, "delta", delta,
		"out_num", spec.Num, "out_rate", spec.SampleRate)
	return &output{name: t.Name(), buf: buf, gate: fu.gate}, nil
}

// AddConsumer registers c to read delta seconds of look-back plus frame
// seconds from every source.
func (f *Framework) AddConsumer(c component.Consumer, sources []component.Provider, frame, delta float64) error {
	f.regMu.Lock()
	defer f.regMu.Unlock()

	if c == nil {
		return invalid("AddConsumer", "nil consumer")
	}
	if err := f.checkNames("AddConsumer", c.Name()); err != nil {
		return err
	}
	if _, err := f.checkWindow("AddConsumer", c.Name(), sources, frame, delta); err != nil {
		return err
	}
	if err := f.initialize("AddConsumer", c); err != nil {
		return err
	}

	fu := &frameUnit{
		unit:     newUnit(c.Name(), kindConsumer, c, f.logger),
		consumer: c,
		sources:  sources,
		frame:    frame,
		delta:    delta,
	}
	fu.run = func(ctx context.Context) error { return f.runFrames(ctx, fu) }
	f.commit(fu.unit)

	f.logger.Info("Consumer registered", "consumer", c.Name(),
		"sources", len(sources), "frame", frame, "delta", delta)
	return nil
}

// AddEventConsumer registers c to read its sources over the interval of
// every event on trigger.
func (f *Framework) AddEventConsumer(c component.EventConsumer, sources []component.Provider, trigger *event.Channel) error {
	f.regMu.Lock()
	defer f.regMu.Unlock()

	if c == nil {
		return invalid("AddEventConsumer", "nil event consumer")
	}
	if err := f.checkNames("AddEventConsumer", c.Name()); err != nil {
		return err
	}
	if len(sources) == 0 {
		return invalid("AddEventConsumer", "%s has no sources", c.Name())
	}
	for _, src := range sources {
		if !f.owns(src) {
			return invalid("AddEventConsumer", "%s reads a source not registered here", c.Name())
		}
	}
	if !f.ownsChannel(trigger) {
		return invalid("AddEventConsumer", "%s has no trigger channel created by this framework", c.Name())
	}
	if err := f.initialize("AddEventConsumer", c); err != nil {
		return err
	}

	eu := &eventUnit{
		unit:     newUnit(c.Name(), kindEventConsumer, c, f.logger),
		consumer: c,
		sources:  sources,
		trigger:  trigger,
	}
	queue, err := buffer.NewCircularBuffer(event.DefaultQueueSize,
		buffer.WithOverflowPolicy[*event.Event](buffer.DropOldest),
		buffer.WithDropCallback[*event.Event](func(ev *event.Event) {
			eu.warnf("Event consumer is behind, dropping event", "event", ev.Name, "time", ev.Time)
		}),
	)
	if err != nil {
		return errors.Wrap(err, "Framework", "AddEventConsumer", "queue creation")
	}
	eu.queue = queue
	trigger.AddListener(event.ListenerFunc(func(ev *event.Event) {
		_ = queue.Write(ev)
	}))
	eu.run = func(ctx context.Context) error { return f.runEvents(ctx, eu) }
	f.commit(eu.unit)

	f.mu.Lock()
	f.queues = append(f.queues, queue)
	f.mu.Unlock()

	f.logger.Info("Event consumer registered", "consumer", c.Name(),
		"sources", len(sources), "trigger", trigger.Name())
	return nil
}

// NewEventChannel creates a named event channel. Its dispatcher runs from
// Start until Stop.
func (f *Framework) NewEventChannel(name string) (*event.Channel, error) {
	f.regMu.Lock()
	defer f.regMu.Unlock()

	if f.started.Load() {
		return nil, errors.WrapInvalid(errors.ErrAlreadyStarted, "Framework", "NewEventChannel", "registration after start")
	}
	if err := component.ValidateComponentName(name); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.channels[name]; exists {
		return nil, invalid("NewEventChannel", "duplicate event channel %s", name)
	}
	ch, err := event.NewChannel(name,
		event.WithLogger(f.logger),
		event.WithMetrics(f.registry),
	)
	if err != nil {
		return nil, err
	}
	f.channels[name] = ch
	return ch, nil
}

// RegisterEventProvider records that c emits on ch. The component looks
// the channel up with Env.EventChannel and calls Provide itself.
func (f *Framework) RegisterEventProvider(c component.Component, ch *event.Channel) error {
	f.regMu.Lock()
	defer f.regMu.Unlock()

	if c == nil {
		return invalid("RegisterEventProvider", "nil provider")
	}
	if !f.ownsChannel(ch) {
		return invalid("RegisterEventProvider", "%s emits on a channel not created here", c.Name())
	}

	f.mu.Lock()
	f.emitters[ch.Name()] = append(f.emitters[ch.Name()], c.Name())
	f.mu.Unlock()
	return nil
}

// RegisterEventListener subscribes l to ch. A listener that is also a
// Component takes part in the lifecycle: Enter before the pipeline runs,
// Flush and Close on Stop.
func (f *Framework) RegisterEventListener(l event.Listener, ch *event.Channel) error {
	f.regMu.Lock()
	defer f.regMu.Unlock()

	if l == nil {
		return invalid("RegisterEventListener", "nil listener")
	}
	if !f.ownsChannel(ch) {
		return invalid("RegisterEventListener", "listener subscribes to a channel not created here")
	}

	if c, ok := l.(component.Component); ok {
		if err := f.checkNames("RegisterEventListener", c.Name()); err != nil {
			return err
		}
		if err := f.initialize("RegisterEventListener", c); err != nil {
			return err
		}
		u := newUnit(c.Name(), kindListener, c, f.logger)
		u.run = func(ctx context.Context) error { return f.runListener(ctx, u) }
		f.commit(u)
	} else if f.started.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Framework", "RegisterEventListener", "registration after start")
	}

	ch.AddListener(l)
	return nil
}

// checkNames rejects registration after Start, invalid names and names
// already in use.
func (f *Framework) checkNames(op string, names ...string) error {
	if f.started.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Framework", op, "registration after start")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if err := component.ValidateComponentName(name); err != nil {
			return err
		}
		if _, exists := f.byName[name]; exists || seen[name] {
			return invalid(op, "duplicate component name %s", name)
		}
		seen[name] = true
	}
	return nil
}

// checkWindow validates a frame request against every source and returns
// the source specs with Num set to one frame's worth of samples.
func (f *Framework) checkWindow(op, name string, sources []component.Provider, frame, delta float64) ([]stream.Spec, error) {
	switch {
	case !(frame > 0) || math.IsInf(frame, 0):
		return nil, invalid(op, "%s: frame must be a positive number of seconds, got %v", name, frame)
	case !(delta >= 0) || math.IsInf(delta, 0):
		return nil, invalid(op, "%s: delta must be >= 0 seconds, got %v", name, delta)
	case len(sources) == 0:
		return nil, invalid(op, "%s has no sources", name)
	}

	specs := make([]stream.Spec, 0, len(sources))
	for _, src := range sources {
		if !f.owns(src) {
			return nil, invalid(op, "%s reads a source not registered here", name)
		}
		buf := src.Buffer()
		numFrame := buf.SamplesFor(frame)
		if numFrame < 1 {
			return nil, invalid(op, "%s: frame %vs is shorter than one sample of %s", name, frame, src.Name())
		}
		if need := buf.SamplesFor(frame+delta) + f.headroom(src); need > buf.Capacity() {
			return nil, invalid(op, "%s needs %d samples of %s including headroom but its buffer holds %d (%.3gs)",
				name, need, src.Name(), buf.Capacity(), buf.Duration())
		}

		spec := src.Spec()
		spec.Num = int(numFrame)
		specs = append(specs, spec)
	}
	return specs, nil
}

// headroom is the slack a window of src needs beyond frame+delta: the
// writer may push one more chunk while the reader waits out one poll.
func (f *Framework) headroom(src component.Provider) int64 {
	return src.Buffer().SamplesFor(f.cfg.PollInterval.D().Seconds()) + int64(src.Spec().Num)
}

func (f *Framework) owns(p component.Provider) bool {
	if p == nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	buf, ok := f.buffers[p.Name()]
	return ok && buf == p.Buffer()
}

func (f *Framework) ownsChannel(ch *event.Channel) bool {
	if ch == nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channels[ch.Name()] == ch
}

func (f *Framework) initialize(op string, c component.Component) error {
	i, ok := c.(component.Initializer)
	if !ok {
		return nil
	}
	if err := i.Init(f.envFor(c.Name())); err != nil {
		return errors.Wrap(err, "Framework", op, "init "+c.Name())
	}
	return nil
}

func (f *Framework) allocate(op, name string, spec stream.Spec, seconds float64) (*buffer.TimeBuffer, error) {
	opts := []buffer.TimeOption{
		buffer.WithLogger(f.logger),
		buffer.WithSyncTolerance(f.cfg.SyncTolerance),
	}
	if f.registry != nil {
		opts = append(opts, buffer.WithTimeMetrics(f.registry))
	}

	buf, err := buffer.NewTimeBuffer(name, spec, seconds, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "Framework", op, "allocate buffer "+name)
	}

	f.mu.Lock()
	f.buffers[name] = buf
	f.mu.Unlock()

	f.logger.Debug("Buffer allocated", "buffer", name, "rate", spec.SampleRate,
		"dim", spec.Dim, "type", spec.Type.String(), "capacity", buf.Capacity())
	return buf, nil
}

func (f *Framework) commit(units ...*unit) {
	f.mu.Lock()
	for _, u := range units {
		f.units = append(f.units, u)
		f.byName[u.name] = u
	}
	f.mu.Unlock()

	for _, u := range units {
		f.transition(u, component.StateInitialized)
	}
}

func channelName(s component.Sensor, ch component.Channel) string {
	return s.Name() + "." + ch.Name()
}

// bufferSize returns the first positive BufferSizer override, or def.
func bufferSize(def float64, comps ...component.Component) float64 {
	for _, c := range comps {
		if bs, ok := c.(component.BufferSizer); ok && bs.BufferSize() > 0 {
			return bs.BufferSize()
		}
	}
	return def
}

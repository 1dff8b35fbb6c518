package pipeline

import (
	"github.com/c360/sigstream/component"
	"github.com/c360/sigstream/config"
	"github.com/c360/sigstream/errors"
	"github.com/c360/sigstream/event"
)

// Build creates every component p names through reg and registers it.
// Event channels come first, then sensors, transformers in declaration
// order, consumers, event consumers and listeners. A source must name a
// sensor channel ("<sensor>.<channel>") or a transformer declared earlier.
func (f *Framework) Build(reg *component.Registry, p config.Pipeline) error {
	if reg == nil {
		return invalid("Build", "nil component registry")
	}
	if err := p.Validate(); err != nil {
		return err
	}

	b := &builder{
		f:         f,
		reg:       reg,
		providers: make(map[string]component.Provider),
		channels:  make(map[string]*event.Channel),
	}
	for _, name := range p.Events {
		ch, err := f.NewEventChannel(name)
		if err != nil {
			return err
		}
		b.channels[name] = ch
	}

	for _, spec := range p.Sensors {
		if err := b.sensor(spec); err != nil {
			return err
		}
	}
	for _, spec := range p.Transformers {
		if err := b.transformer(spec); err != nil {
			return err
		}
	}
	for _, spec := range p.Consumers {
		if err := b.consumer(spec); err != nil {
			return err
		}
	}
	for _, spec := range p.EventConsumers {
		if err := b.eventConsumer(spec); err != nil {
			return err
		}
	}
	for _, spec := range p.Listeners {
		if err := b.listener(spec); err != nil {
			return err
		}
	}

	f.logger.Info("Pipeline built",
		"events", len(p.Events),
		"sensors", len(p.Sensors),
		"transformers", len(p.Transformers),
		"consumers", len(p.Consumers),
		"event_consumers", len(p.EventConsumers),
		"listeners", len(p.Listeners))
	return nil
}

type builder struct {
	f         *Framework
	reg       *component.Registry
	providers map[string]component.Provider
	channels  map[string]*event.Channel
}

func (b *builder) create(spec config.ComponentSpec) (component.Component, error) {
	c, err := b.reg.Create(spec.Factory, spec.Name, spec.Config, component.Dependencies{
		MetricsRegistry: b.f.registry,
		Logger:          b.f.logger,
		Emits:           spec.Emits,
	})
	if err != nil {
		return nil, errors.Wrap(err, "Framework", "Build", "create "+spec.Name)
	}
	return c, nil
}

// emits records c as a provider on its declared event channel
func (b *builder) emits(c component.Component, spec config.ComponentSpec) error {
	if spec.Emits == "" {
		return nil
	}
	return b.f.RegisterEventProvider(c, b.channels[spec.Emits])
}

func (b *builder) sources(spec config.ComponentSpec) ([]component.Provider, error) {
	out := make([]component.Provider, 0, len(spec.Sources))
	for _, name := range spec.Sources {
		p, ok := b.providers[name]
		if !ok {
			return nil, invalid("Build", "%s reads unknown source %q", spec.Name, name)
		}
		out = append(out, p)
	}
	return out, nil
}

func (b *builder) sensor(spec config.ComponentSpec) error {
	c, err := b.create(spec)
	if err != nil {
		return err
	}
	s, ok := c.(component.Sensor)
	if !ok {
		return invalid("Build", "%s (%s) is not a sensor", spec.Name, spec.Factory)
	}
	providers, err := b.f.AddSensor(s)
	if err != nil {
		return err
	}
	for _, p := range providers {
		b.providers[p.Name()] = p
	}
	return b.emits(c, spec)
}

func (b *builder) transformer(spec config.ComponentSpec) error {
	c, err := b.create(spec)
	if err != nil {
		return err
	}
	t, ok := c.(component.Transformer)
	if !ok {
		return invalid("Build", "%s (%s) is not a transformer", spec.Name, spec.Factory)
	}
	sources, err := b.sources(spec)
	if err != nil {
		return err
	}
	p, err := b.f.AddTransformer(t, sources, spec.Frame, spec.Delta)
	if err != nil {
		return err
	}
	b.providers[p.Name()] = p
	return b.emits(c, spec)
}

func (b *builder) consumer(spec config.ComponentSpec) error {
	c, err := b.create(spec)
	if err != nil {
		return err
	}
	cons, ok := c.(component.Consumer)
	if !ok {
		return invalid("Build", "%s (%s) is not a consumer", spec.Name, spec.Factory)
	}
	sources, err := b.sources(spec)
	if err != nil {
		return err
	}
	if err := b.f.AddConsumer(cons, sources, spec.Frame, spec.Delta); err != nil {
		return err
	}
	return b.emits(c, spec)
}

func (b *builder) eventConsumer(spec config.ComponentSpec) error {
	c, err := b.create(spec)
	if err != nil {
		return err
	}
	ec, ok := c.(component.EventConsumer)
	if !ok {
		return invalid("Build", "%s (%s) is not an event consumer", spec.Name, spec.Factory)
	}
	sources, err := b.sources(spec)
	if err != nil {
		return err
	}
	if err := b.f.AddEventConsumer(ec, sources, b.channels[spec.Trigger]); err != nil {
		return err
	}
	return b.emits(c, spec)
}

func (b *builder) listener(spec config.ComponentSpec) error {
	c, err := b.create(spec)
	if err != nil {
		return err
	}
	l, ok := c.(event.Listener)
	if !ok {
		return invalid("Build", "%s (%s) is not an event listener", spec.Name, spec.Factory)
	}
	return b.f.RegisterEventListener(l, b.channels[spec.Trigger])
}

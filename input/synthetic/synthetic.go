package synthetic

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/sigstream/component"
	"github.com/c360/sigstream/config"
	"github.com/c360/sigstream/errors"
	"github.com/c360/sigstream/event"
	"github.com/c360/sigstream/stream"
)

// Config holds configuration for the synthetic sensor
type Config struct {
	Channels []ChannelConfig `json:"channels"`
	Burst    *BurstConfig    `json:"burst,omitempty"`

	// ConnectDelay simulates the time a device takes to connect.
	ConnectDelay config.Duration `json:"connect_delay,omitempty"`
}

// ChannelConfig describes one generated channel
type ChannelConfig struct {
	Name       string   `json:"name"`
	Waveform   string   `json:"waveform"`
	Frequency  float64  `json:"frequency"`
	Amplitude  float64  `json:"amplitude"`
	Offset     float64  `json:"offset"`
	Noise      float64  `json:"noise,omitempty"`
	Seed       uint64   `json:"seed,omitempty"`
	SampleRate float64  `json:"sample_rate"`
	Num        int      `json:"num"`
	Dim        int      `json:"dim"`
	Labels     []string `json:"labels,omitempty"`
}

// BurstConfig makes the sensor emit periodic events
type BurstConfig struct {
	Name     string  `json:"name,omitempty"`
	Every    float64 `json:"every"`
	Duration float64 `json:"duration"`
}

// DefaultConfig returns a single 1 Hz sine channel sampled at 100 Hz
func DefaultConfig() Config {
	return Config{
		Channels: []ChannelConfig{DefaultChannel("wave")},
	}
}

// DefaultChannel returns channel defaults under the given name
func DefaultChannel(name string) ChannelConfig {
	return ChannelConfig{
		Name:       name,
		Waveform:   WaveSine,
		Frequency:  1,
		Amplitude:  1,
		SampleRate: 100,
		Num:        10,
		Dim:        1,
	}
}

// UnmarshalJSON fills fields missing from the document with channel defaults
func (c *ChannelConfig) UnmarshalJSON(data []byte) error {
	type plain ChannelConfig
	p := plain(DefaultChannel(""))
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = ChannelConfig(p)
	return nil
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if len(c.Channels) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "at least one channel is required")
	}
	seen := make(map[string]bool, len(c.Channels))
	for _, ch := range c.Channels {
		if err := ch.validate(); err != nil {
			return err
		}
		if seen[ch.Name] {
			return errors.WrapInvalid(fmt.Errorf("%w: duplicate channel %q", errors.ErrInvalidConfig, ch.Name),
				"Config", "Validate", "channel names")
		}
		seen[ch.Name] = true
	}
	if c.ConnectDelay < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "connect_delay cannot be negative")
	}
	if b := c.Burst; b != nil {
		if !(b.Every > 0) || !(b.Duration > 0) || b.Duration > b.Every {
			return errors.WrapInvalid(
				fmt.Errorf("%w: burst needs 0 < duration <= every, got %v/%v", errors.ErrInvalidConfig, b.Duration, b.Every),
				"Config", "Validate", "burst")
		}
	}
	return nil
}

func (c ChannelConfig) validate() error {
	bad := func(format string, args ...any) error {
		return errors.WrapInvalid(
			fmt.Errorf("%w: channel %q: "+format, append([]any{errors.ErrInvalidConfig, c.Name}, args...)...),
			"Config", "Validate", "channel")
	}
	switch {
	case c.Name == "":
		return bad("name is required")
	case !(c.SampleRate > 0):
		return bad("sample_rate must be > 0")
	case c.Num < 1:
		return bad("num must be >= 1")
	case c.Dim < 1:
		return bad("dim must be >= 1")
	case c.Frequency < 0 || c.Noise < 0:
		return bad("frequency and noise cannot be negative")
	case len(c.Labels) > 0 && len(c.Labels) != c.Dim:
		return bad("%d labels for %d dimensions", len(c.Labels), c.Dim)
	}
	if _, err := lookupWave(c.Waveform, c.Frequency); err != nil {
		return bad("%v", err)
	}
	return nil
}

// Sensor simulates a device whose channels share one connection
type Sensor struct {
	name     string
	cfg      Config
	emits    string
	logger   *slog.Logger
	channels []*Channel

	connected atomic.Bool
	events    *event.Channel
	emitted   atomic.Int64
}

var (
	_ component.Sensor      = (*Sensor)(nil)
	_ component.Initializer = (*Sensor)(nil)
	_ component.Describer   = (*Sensor)(nil)
)

// NewSensor builds a sensor from a validated configuration. emits names the
// event channel bursts go to and may be empty when Burst is nil.
func NewSensor(name string, cfg Config, emits string, logger *slog.Logger) (*Sensor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Burst != nil && emits == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Sensor", "NewSensor", "burst needs an event channel to emit on")
	}
	if logger == nil {
		logger = slog.Default().With("component", name)
	}

	s := &Sensor{name: name, cfg: cfg, emits: emits, logger: logger}
	for i, cc := range cfg.Channels {
		wave, _ := lookupWave(cc.Waveform, cc.Frequency)
		ch := &Channel{
			sensor: s,
			cfg:    cc,
			wave:   wave,
			spec: stream.Spec{
				Num:        cc.Num,
				Dim:        cc.Dim,
				Bytes:      8,
				Type:       stream.TypeDouble,
				SampleRate: cc.SampleRate,
				Labels:     cc.Labels,
			},
			bursts: i == 0 && cfg.Burst != nil,
		}
		if cc.Noise > 0 {
			ch.rng = rand.New(rand.NewPCG(cc.Seed, uint64(i)))
		}
		s.channels = append(s.channels, ch)
	}
	return s, nil
}

// Name returns the sensor name
func (s *Sensor) Name() string { return s.name }

// Meta returns component metadata
func (s *Sensor) Meta() component.Metadata {
	return component.Metadata{
		Name:        s.name,
		Kind:        component.KindSensor,
		Description: fmt.Sprintf("Synthetic waveform sensor with %d channels", len(s.channels)),
		Version:     "1.0.0",
	}
}

// Init resolves the burst event channel
func (s *Sensor) Init(env component.Env) error {
	s.logger = env.Logger()
	if s.emits == "" {
		return nil
	}
	ch, ok := env.EventChannel(s.emits)
	if !ok {
		return errors.WrapInvalid(fmt.Errorf("%w: event channel %q", errors.ErrConfigNotFound, s.emits),
			"Sensor", "Init", "event channel lookup")
	}
	s.events = ch
	return nil
}

// Connect waits ConnectDelay and marks the sensor connected
func (s *Sensor) Connect(ctx context.Context) error {
	if d := s.cfg.ConnectDelay.D(); d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return errors.WrapTransient(ctx.Err(), "Sensor", "Connect", "connect delay")
		case <-t.C:
		}
	}
	s.connected.Store(true)
	s.logger.Info("Synthetic sensor connected", "channels", len(s.channels))
	return nil
}

// Disconnect marks the sensor disconnected
func (s *Sensor) Disconnect() error {
	s.connected.Store(false)
	return nil
}

// CheckConnection reports whether Connect succeeded and Disconnect was not called
func (s *Sensor) CheckConnection() bool {
	return s.connected.Load()
}

// Channels returns the generated channels
func (s *Sensor) Channels() []component.Channel {
	out := make([]component.Channel, len(s.channels))
	for i, ch := range s.channels {
		out[i] = ch
	}
	return out
}

// Emitted returns the number of burst events provided so far
func (s *Sensor) Emitted() int64 {
	return s.emitted.Load()
}

// Channel generates one waveform
type Channel struct {
	sensor *Sensor
	cfg    ChannelConfig
	spec   stream.Spec
	wave   waveFunc
	bursts bool

	mu        sync.Mutex
	rng       *rand.Rand
	lastBurst int64
}

// Name returns the channel name
func (c *Channel) Name() string { return c.cfg.Name }

// Spec returns the output shape
func (c *Channel) Spec() stream.Spec { return c.spec }

// Process fills out with the samples starting at out.Time(). It reports no
// fresh data while the sensor is disconnected.
func (c *Channel) Process(_ context.Context, out *stream.Stream) (bool, error) {
	if !c.sensor.connected.Load() {
		return false, nil
	}
	data, err := out.Doubles()
	if err != nil {
		return false, errors.WrapFatal(err, "Channel", "Process", "output type")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rate := c.cfg.SampleRate
	first := int64(math.Floor(out.Time()*rate + 0.5))
	dim := c.cfg.Dim
	for j := 0; j < out.Num(); j++ {
		i := first + int64(j)
		t := float64(i) / rate
		for d := 0; d < dim; d++ {
			v := c.cfg.Offset + c.cfg.Amplitude*c.wave(t, i, d, dim)
			if c.rng != nil {
				v += c.rng.NormFloat64() * c.cfg.Noise
			}
			data[j*dim+d] = v
		}
	}

	if c.bursts {
		c.burst(float64(first+int64(out.Num())) / rate)
	}
	return true, nil
}

// burst emits one event each time end crosses a multiple of Every.
func (c *Channel) burst(end float64) {
	b := c.sensor.cfg.Burst
	n := int64(math.Floor(end / b.Every))
	if n <= c.lastBurst || end < b.Duration {
		return
	}
	c.lastBurst = n

	ch := c.sensor.events
	if ch == nil {
		return
	}
	name := b.Name
	if name == "" {
		name = c.sensor.name + ".burst"
	}
	ev := event.New(name, c.sensor.name, end-b.Duration, b.Duration)
	ev.Data = map[string]any{"channel": c.cfg.Name, "index": n}
	if err := ch.Provide(ev); err != nil {
		c.sensor.logger.Debug("Burst event not provided", "error", err)
		return
	}
	c.sensor.emitted.Add(1)
}

// NewComponent is the registry factory
func NewComponent(name string, rawConfig json.RawMessage, deps component.Dependencies) (component.Component, error) {
	var cfg Config
	if err := json.Unmarshal(rawConfig, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "synthetic", "NewComponent", "config unmarshal")
	}
	if len(cfg.Channels) == 0 {
		cfg.Channels = DefaultConfig().Channels
	}
	return NewSensor(name, cfg, deps.Emits, deps.GetLoggerWithComponent(name))
}

// Register registers the synthetic sensor with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterFactory(component.Registration{
		Name:        "synthetic",
		Kind:        component.KindSensor,
		Description: "Waveform generator sensor for demos and tests",
		Version:     "1.0.0",
		Factory:     NewComponent,
	})
}

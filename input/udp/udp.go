package udp

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/sigstream/component"
	"github.com/c360/sigstream/errors"
	"github.com/c360/sigstream/metric"
	"github.com/c360/sigstream/pkg/buffer"
	"github.com/c360/sigstream/stream"
)

// Sample encodings
const (
	FormatFloat64 = "float64"
	FormatFloat32 = "float32"
)

// readDeadline bounds each blocking read so Disconnect is noticed promptly
const readDeadline = 100 * time.Millisecond

// Metrics holds Prometheus metrics for the UDP sensor
type Metrics struct {
	packetsReceived  prometheus.Counter
	bytesReceived    prometheus.Counter
	packetsMalformed prometheus.Counter
	samplesDropped   prometheus.Counter
	socketErrors     prometheus.Counter
	lastActivity     prometheus.Gauge
}

// newMetrics creates and registers UDP sensor metrics
func newMetrics(registry *metric.MetricsRegistry, name string) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	labels := prometheus.Labels{"sensor": name}
	m := &Metrics{
		packetsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "sigstream",
			Subsystem:   "udp",
			Name:        "packets_received_total",
			Help:        "Total UDP packets received",
			ConstLabels: labels,
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "sigstream",
			Subsystem:   "udp",
			Name:        "bytes_received_total",
			Help:        "Total bytes received from UDP",
			ConstLabels: labels,
		}),
		packetsMalformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "sigstream",
			Subsystem:   "udp",
			Name:        "packets_malformed_total",
			Help:        "Packets whose length is not a whole number of samples",
			ConstLabels: labels,
		}),
		samplesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "sigstream",
			Subsystem:   "udp",
			Name:        "samples_dropped_total",
			Help:        "Samples dropped because the queue was full",
			ConstLabels: labels,
		}),
		socketErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "sigstream",
			Subsystem:   "udp",
			Name:        "socket_errors_total",
			Help:        "Socket read errors encountered",
			ConstLabels: labels,
		}),
		lastActivity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "sigstream",
			Subsystem:   "udp",
			Name:        "last_activity_timestamp",
			Help:        "Unix timestamp of last received packet",
			ConstLabels: labels,
		}),
	}

	owner := "udp_" + name
	err := errors.Join(
		registry.RegisterCounter(owner, "packets_received", m.packetsReceived),
		registry.RegisterCounter(owner, "bytes_received", m.bytesReceived),
		registry.RegisterCounter(owner, "packets_malformed", m.packetsMalformed),
		registry.RegisterCounter(owner, "samples_dropped", m.samplesDropped),
		registry.RegisterCounter(owner, "socket_errors", m.socketErrors),
		registry.RegisterGauge(owner, "last_activity", m.lastActivity),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Config holds configuration for the UDP sensor
type Config struct {
	Bind       string   `json:"bind"`
	Port       int      `json:"port"`
	Channel    string   `json:"channel"`
	Format     string   `json:"format"`
	Dim        int      `json:"dim"`
	SampleRate float64  `json:"sample_rate"`
	Num        int      `json:"num"`
	Labels     []string `json:"labels,omitempty"`

	// QueueSize bounds the samples held between datagrams and the channel.
	// The oldest samples are dropped when it is full.
	QueueSize int `json:"queue_size"`
}

// DefaultConfig returns sensible defaults for the UDP sensor
func DefaultConfig() Config {
	return Config{
		Bind:       "0.0.0.0",
		Port:       5005,
		Channel:    "samples",
		Format:     FormatFloat64,
		Dim:        1,
		SampleRate: 100,
		Num:        10,
		QueueSize:  4096,
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	bad := func(action string) error {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", action)
	}
	switch {
	case c.Port < 0 || c.Port > 65535:
		return bad("port must be within 0-65535")
	case c.Channel == "":
		return bad("channel name is required")
	case c.Format != FormatFloat64 && c.Format != FormatFloat32:
		return bad("format must be float64 or float32")
	case c.Dim < 1:
		return bad("dim must be >= 1")
	case !(c.SampleRate > 0):
		return bad("sample_rate must be > 0")
	case c.Num < 1:
		return bad("num must be >= 1")
	case c.QueueSize < c.Num:
		return bad("queue_size must hold at least one chunk")
	case len(c.Labels) > 0 && len(c.Labels) != c.Dim:
		return bad("one label per dimension")
	}
	return nil
}

func (c *Config) width() int {
	if c.Format == FormatFloat32 {
		return 4
	}
	return 8
}

// Input is a sensor listening for datagrams of little-endian floats. A
// datagram carries one or more interleaved samples of Dim values.
type Input struct {
	name    string
	cfg     Config
	addr    string
	logger  *slog.Logger
	metrics *Metrics
	channel *Channel

	queue buffer.Buffer[[]float64]

	mu   sync.RWMutex
	conn net.PacketConn
	done chan struct{}
	wg   sync.WaitGroup

	packetsReceived atomic.Int64
	bytesReceived   atomic.Int64
	errors          atomic.Int64
	lastActivity    atomic.Int64 // unix nanos
}

var (
	_ component.Sensor    = (*Input)(nil)
	_ component.Describer = (*Input)(nil)
)

// NewInput creates a UDP sensor. The socket is bound by Connect.
func NewInput(name string, cfg Config, deps component.Dependencies) (*Input, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m, err := newMetrics(deps.MetricsRegistry, name)
	if err != nil {
		return nil, errors.Wrap(err, "udp-input", "NewInput", "metrics registration")
	}

	u := &Input{
		name:    name,
		cfg:     cfg,
		addr:    net.JoinHostPort(cfg.Bind, strconv.Itoa(cfg.Port)),
		logger:  deps.GetLoggerWithComponent(name),
		metrics: m,
	}

	queue, err := buffer.NewCircularBuffer(cfg.QueueSize,
		buffer.WithOverflowPolicy[[]float64](buffer.DropOldest),
		buffer.WithMetrics[[]float64](deps.MetricsRegistry, "udp_"+name),
		buffer.WithDropCallback[[]float64](func([]float64) {
			if u.metrics != nil {
				u.metrics.samplesDropped.Inc()
			}
		}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "udp-input", "NewInput", "sample queue")
	}
	u.queue = queue

	u.channel = &Channel{
		input: u,
		spec: stream.Spec{
			Num:        cfg.Num,
			Dim:        cfg.Dim,
			Bytes:      8,
			Type:       stream.TypeDouble,
			SampleRate: cfg.SampleRate,
			Labels:     cfg.Labels,
		},
	}
	return u, nil
}

// Name returns the sensor name
func (u *Input) Name() string { return u.name }

// Meta returns the component metadata
func (u *Input) Meta() component.Metadata {
	return component.Metadata{
		Name:        u.name,
		Kind:        component.KindSensor,
		Description: fmt.Sprintf("UDP sensor on %s receiving %d x %s samples", u.addr, u.cfg.Dim, u.cfg.Format),
		Version:     "1.0.0",
	}
}

// Channels returns the single sample channel
func (u *Input) Channels() []component.Channel {
	return []component.Channel{u.channel}
}

// Addr returns the bound address, or nil when not connected
func (u *Input) Addr() net.Addr {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.conn == nil {
		return nil
	}
	return u.conn.LocalAddr()
}

// Connect binds the socket and starts the read loop
func (u *Input) Connect(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.conn != nil {
		return nil
	}

	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp", u.addr)
	if err != nil {
		return errors.WrapTransient(err, "udp-input", "Connect", "bind "+u.addr)
	}

	// Increase OS socket buffer for high throughput to prevent drops
	const socketBufferSize = 2 * 1024 * 1024
	if uc, ok := conn.(*net.UDPConn); ok {
		if err := uc.SetReadBuffer(socketBufferSize); err != nil {
			u.logger.Warn("Could not set UDP buffer size", "buffer_size", socketBufferSize, "error", err)
		}
	}

	u.conn = conn
	u.done = make(chan struct{})
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		u.readLoop(conn, u.done)
	}()

	u.logger.Info("UDP sensor listening", "addr", conn.LocalAddr().String())
	return nil
}

// Disconnect closes the socket and waits for the read loop
func (u *Input) Disconnect() error {
	u.mu.Lock()
	conn, done := u.conn, u.done
	u.conn, u.done = nil, nil
	u.mu.Unlock()

	if conn == nil {
		return nil
	}
	close(done)
	err := conn.Close()
	u.wg.Wait()
	if err != nil {
		return errors.WrapTransient(err, "udp-input", "Disconnect", "close socket")
	}
	return nil
}

// CheckConnection reports whether the socket is bound
func (u *Input) CheckConnection() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.conn != nil
}

// Close releases the sample queue
func (u *Input) Close() error {
	return u.queue.Close()
}

// readLoop reads datagrams until done is closed
func (u *Input) readLoop(conn net.PacketConn, done <-chan struct{}) {
	packet := make([]byte, 65536)

	for {
		select {
		case <-done:
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		n, _, err := conn.ReadFrom(packet)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-done:
				return
			default:
			}
			u.errors.Add(1)
			if u.metrics != nil {
				u.metrics.socketErrors.Inc()
			}
			u.logger.Warn("UDP read failed", "error", err)
			return
		}

		u.packetsReceived.Add(1)
		u.bytesReceived.Add(int64(n))
		now := time.Now()
		u.lastActivity.Store(now.UnixNano())
		if u.metrics != nil {
			u.metrics.packetsReceived.Inc()
			u.metrics.bytesReceived.Add(float64(n))
			u.metrics.lastActivity.Set(float64(now.Unix()))
		}

		if err := u.decode(packet[:n]); err != nil {
			u.errors.Add(1)
			if u.metrics != nil {
				u.metrics.packetsMalformed.Inc()
			}
			u.logger.Debug("Dropping malformed datagram", "bytes", n, "error", err)
		}
	}
}

// decode splits a datagram into samples and queues them
func (u *Input) decode(data []byte) error {
	width := u.cfg.width()
	sampleBytes := width * u.cfg.Dim
	if len(data) == 0 || len(data)%sampleBytes != 0 {
		return fmt.Errorf("%w: %d bytes is not a multiple of %d", errors.ErrInvalidData, len(data), sampleBytes)
	}

	for off := 0; off < len(data); off += sampleBytes {
		sample := make([]float64, u.cfg.Dim)
		for d := range sample {
			at := off + d*width
			if width == 4 {
				sample[d] = float64(math.Float32frombits(binary.LittleEndian.Uint32(data[at:])))
			} else {
				sample[d] = math.Float64frombits(binary.LittleEndian.Uint64(data[at:]))
			}
		}
		if err := u.queue.Write(sample); err != nil {
			return err
		}
	}
	return nil
}

// Health returns the current health status of the sensor
func (u *Input) Health() component.HealthStatus {
	return component.HealthStatus{
		Healthy:    u.CheckConnection(),
		LastCheck:  time.Now(),
		ErrorCount: int(u.errors.Load()),
	}
}

// DataFlow returns the packet counters
func (u *Input) DataFlow() component.FlowMetrics {
	var last time.Time
	if ns := u.lastActivity.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}
	var errorRate float64
	if packets := u.packetsReceived.Load(); packets > 0 {
		errorRate = float64(u.errors.Load()) / float64(packets)
	}
	return component.FlowMetrics{
		Frames:       u.packetsReceived.Load(),
		ErrorRate:    errorRate,
		LastActivity: last,
	}
}

// Channel hands queued samples to the pipeline
type Channel struct {
	input *Input
	spec  stream.Spec
}

// Name returns the channel name
func (c *Channel) Name() string { return c.input.cfg.Channel }

// Spec returns the output shape
func (c *Channel) Spec() stream.Spec { return c.spec }

// Process moves up to Num queued samples into out. A partially filled
// chunk is padded with zeroes; an empty queue reports no fresh data.
func (c *Channel) Process(_ context.Context, out *stream.Stream) (bool, error) {
	data, err := out.Doubles()
	if err != nil {
		return false, errors.WrapFatal(err, "udp-channel", "Process", "output type")
	}

	dim := c.spec.Dim
	got := 0
	for got < out.Num() {
		sample, ok := c.input.queue.Read()
		if !ok {
			break
		}
		copy(data[got*dim:], sample)
		got++
	}
	if got == 0 {
		return false, nil
	}
	clear(data[got*dim:])
	return true, nil
}

// NewComponent is the registry factory
func NewComponent(name string, rawConfig json.RawMessage, deps component.Dependencies) (component.Component, error) {
	cfg := DefaultConfig()
	if err := json.Unmarshal(rawConfig, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "udp-input-factory", "create", "config parsing")
	}
	return NewInput(name, cfg, deps)
}

// Register registers the UDP sensor with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterFactory(component.Registration{
		Name:        "udp",
		Kind:        component.KindSensor,
		Description: "Sensor receiving little-endian float samples over UDP",
		Version:     "1.0.0",
		Factory:     NewComponent,
	})
}

package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/c360/sigstream/component"
	"github.com/c360/sigstream/config"
	"github.com/c360/sigstream/errors"
	"github.com/c360/sigstream/metric"
	"github.com/c360/sigstream/pkg/buffer"
	"github.com/c360/sigstream/stream"
)

// Config holds configuration for WebSocket output component
type Config struct {
	Bind         string          `json:"bind"`
	Port         int             `json:"port"`
	Path         string          `json:"path"`
	WriteTimeout config.Duration `json:"write_timeout"`
	PingInterval config.Duration `json:"ping_interval"`
	// QueueSize is the number of messages buffered per client.
	QueueSize int `json:"queue_size"`
	// MaxClients rejects upgrades beyond this count; 0 means unlimited.
	MaxClients int `json:"max_clients"`
}

// DefaultConfig returns the default configuration for WebSocket output
func DefaultConfig() Config {
	return Config{
		Bind:         "0.0.0.0",
		Port:         8081,
		Path:         "/ws",
		WriteTimeout: config.Duration(5 * time.Second),
		PingInterval: config.Duration(30 * time.Second),
		QueueSize:    64,
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "port out of range")
	}
	if c.Path == "" || c.Path[0] != '/' {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "path must start with /")
	}
	if c.WriteTimeout <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "write_timeout must be positive")
	}
	if c.PingInterval <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "ping_interval must be positive")
	}
	if c.QueueSize < 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "queue_size must be at least 1")
	}
	if c.MaxClients < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "max_clients cannot be negative")
	}
	return nil
}

// Envelope wraps every message sent to clients
type Envelope struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Frame is the payload of a "frame" envelope
type Frame struct {
	Consumer string        `json:"consumer"`
	Time     float64       `json:"time"`
	Sources  []FrameSource `json:"sources"`
}

// FrameSource carries the frame samples of one source
type FrameSource struct {
	Source  int         `json:"source"`
	Rate    float64     `json:"rate"`
	Dim     int         `json:"dim"`
	Labels  []string    `json:"labels,omitempty"`
	Samples [][]float64 `json:"samples"`
}

// Metrics holds Prometheus metrics for the WebSocket output
type Metrics struct {
	messagesSent       prometheus.Counter
	bytesSent          prometheus.Counter
	messagesDropped    prometheus.Counter
	clientsConnected   prometheus.Gauge
	connectionTotal    prometheus.Counter
	disconnectionTotal *prometheus.CounterVec
	broadcastDuration  prometheus.Histogram
	errorsTotal        *prometheus.CounterVec
}

// newMetrics creates and registers WebSocket output metrics
func newMetrics(registry *metric.MetricsRegistry, name string) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	labels := prometheus.Labels{"consumer": name}
	m := &Metrics{
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "sigstream",
			Subsystem:   "websocket",
			Name:        "messages_sent_total",
			Help:        "Total messages written to WebSocket clients",
			ConstLabels: labels,
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "sigstream",
			Subsystem:   "websocket",
			Name:        "bytes_sent_total",
			Help:        "Total bytes written to WebSocket clients",
			ConstLabels: labels,
		}),
		messagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "sigstream",
			Subsystem:   "websocket",
			Name:        "messages_dropped_total",
			Help:        "Messages dropped from full client queues",
			ConstLabels: labels,
		}),
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "sigstream",
			Subsystem:   "websocket",
			Name:        "clients_connected",
			Help:        "Number of currently connected clients",
			ConstLabels: labels,
		}),
		connectionTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "sigstream",
			Subsystem:   "websocket",
			Name:        "client_connections_total",
			Help:        "Total client connections (including disconnected)",
			ConstLabels: labels,
		}),
		disconnectionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "sigstream",
			Subsystem:   "websocket",
			Name:        "client_disconnections_total",
			Help:        "Total client disconnections",
			ConstLabels: labels,
		}, []string{"reason"}),
		broadcastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "sigstream",
			Subsystem:   "websocket",
			Name:        "broadcast_duration_seconds",
			Help:        "Time to encode and enqueue a frame for all clients",
			Buckets:     []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
			ConstLabels: labels,
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "sigstream",
			Subsystem:   "websocket",
			Name:        "errors_total",
			Help:        "WebSocket server errors",
			ConstLabels: labels,
		}, []string{"type"}),
	}

	owner := "websocket_" + name
	err := errors.Join(
		registry.RegisterCounter(owner, "messages_sent", m.messagesSent),
		registry.RegisterCounter(owner, "bytes_sent", m.bytesSent),
		registry.RegisterCounter(owner, "messages_dropped", m.messagesDropped),
		registry.RegisterGauge(owner, "clients_connected", m.clientsConnected),
		registry.RegisterCounter(owner, "client_connections", m.connectionTotal),
		registry.RegisterCounterVec(owner, "client_disconnections", m.disconnectionTotal),
		registry.RegisterHistogram(owner, "broadcast_duration", m.broadcastDuration),
		registry.RegisterCounterVec(owner, "errors", m.errorsTotal),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// clientInfo holds information about a connected WebSocket client
type clientInfo struct {
	conn        *websocket.Conn
	connectedAt time.Time
	queue       buffer.Buffer[[]byte]
	lastPong    atomic.Int64
	closeOnce   sync.Once
	writeMutex  sync.Mutex
}

// Output serves frames to WebSocket clients
type Output struct {
	name    string
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics

	upgrader websocket.Upgrader

	mu       sync.RWMutex
	server   *http.Server
	listener net.Listener
	group    *errgroup.Group
	cancel   context.CancelFunc
	ctx      context.Context
	started  time.Time

	clientsMu sync.RWMutex
	clients   map[*websocket.Conn]*clientInfo
	clientWG  sync.WaitGroup

	frameCounter atomic.Uint64
	messagesSent atomic.Int64
	bytesSent    atomic.Int64
	errors       atomic.Int64
	lastActivity atomic.Int64
}

var (
	_ component.Consumer  = (*Output)(nil)
	_ component.Lifecycle = (*Output)(nil)
	_ component.Describer = (*Output)(nil)
)

// NewOutput creates a WebSocket output. The server starts in Enter.
func NewOutput(name string, cfg Config, deps component.Dependencies) (*Output, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	metrics, err := newMetrics(deps.MetricsRegistry, name)
	if err != nil {
		return nil, errors.WrapFatal(err, "Output", "NewOutput", "register metrics")
	}
	return &Output{
		name:    name,
		cfg:     cfg,
		logger:  deps.GetLoggerWithComponent(name),
		metrics: metrics,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		clients: make(map[*websocket.Conn]*clientInfo),
	}, nil
}

// Name returns the component name
func (w *Output) Name() string { return w.name }

// Meta returns the component metadata
func (w *Output) Meta() component.Metadata {
	return component.Metadata{
		Name:        w.name,
		Kind:        component.KindConsumer,
		Description: fmt.Sprintf("WebSocket frame server on %s:%d%s", w.cfg.Bind, w.cfg.Port, w.cfg.Path),
		Version:     "1.0.0",
	}
}

// Addr returns the bound server address, or nil before Enter
func (w *Output) Addr() net.Addr {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.listener == nil {
		return nil
	}
	return w.listener.Addr()
}

// ClientCount returns the number of connected clients
func (w *Output) ClientCount() int {
	w.clientsMu.RLock()
	defer w.clientsMu.RUnlock()
	return len(w.clients)
}

// Enter binds the listener and starts the server and client maintenance
func (w *Output) Enter(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.server != nil {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Output", "Enter", "check server state")
	}

	addr := net.JoinHostPort(w.cfg.Bind, strconv.Itoa(w.cfg.Port))
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return errors.WrapTransient(err, "Output", "Enter", "listen on "+addr)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(w.cfg.Path, w.handleWebSocket)
	w.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	w.listener = listener
	w.started = time.Now()

	// The server outlives Enter's context; Close cancels it.
	runCtx, cancel := context.WithCancel(context.Background())
	w.ctx, w.cancel = runCtx, cancel
	group, groupCtx := errgroup.WithContext(runCtx)
	w.group = group

	server := w.server
	group.Go(func() error {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			return errors.WrapTransient(err, "Output", "Serve", "http server")
		}
		return nil
	})
	group.Go(func() error {
		w.maintainClients(groupCtx)
		return nil
	})

	w.logger.Info("WebSocket output listening", "addr", listener.Addr().String(), "path", w.cfg.Path)
	return nil
}

// handleWebSocket upgrades a request and registers the client
func (w *Output) handleWebSocket(wr http.ResponseWriter, r *http.Request) {
	if w.cfg.MaxClients > 0 && w.ClientCount() >= w.cfg.MaxClients {
		w.recordError("client_limit")
		http.Error(wr, "too many clients", http.StatusServiceUnavailable)
		return
	}

	conn, err := w.upgrader.Upgrade(wr, r, nil)
	if err != nil {
		w.recordError("connection_upgrade")
		return
	}

	info := &clientInfo{conn: conn, connectedAt: time.Now()}
	info.lastPong.Store(time.Now().UnixNano())
	info.queue, err = buffer.NewCircularBuffer[[]byte](w.cfg.QueueSize,
		buffer.WithOverflowPolicy[[]byte](buffer.DropOldest),
		buffer.WithDropCallback[[]byte](func([]byte) {
			if w.metrics != nil {
				w.metrics.messagesDropped.Inc()
			}
		}),
	)
	if err != nil {
		_ = conn.Close()
		w.recordError("buffer_creation")
		return
	}

	// Registration holds the read lock so Close either sees the client or
	// the client sees the cancelled context.
	w.mu.RLock()
	ctx := w.ctx
	if ctx == nil || ctx.Err() != nil {
		w.mu.RUnlock()
		_ = conn.Close()
		return
	}
	w.clientsMu.Lock()
	w.clients[conn] = info
	count := len(w.clients)
	w.clientsMu.Unlock()
	w.clientWG.Add(2)
	w.mu.RUnlock()

	if w.metrics != nil {
		w.metrics.connectionTotal.Inc()
		w.metrics.clientsConnected.Set(float64(count))
	}
	w.logger.Debug("WebSocket client connected", "remote", r.RemoteAddr, "clients", count)

	go w.readClient(info)
	go w.writeClient(ctx, info)
}

// readClient consumes control frames until the connection fails
func (w *Output) readClient(info *clientInfo) {
	defer w.clientWG.Done()

	info.conn.SetPongHandler(func(string) error {
		info.lastPong.Store(time.Now().UnixNano())
		return nil
	})
	for {
		if _, _, err := info.conn.ReadMessage(); err != nil {
			w.removeClient(info, "client_closed")
			return
		}
	}
}

// writeClient drains the client's queue onto the connection
func (w *Output) writeClient(ctx context.Context, info *clientInfo) {
	defer w.clientWG.Done()

	for {
		data, err := info.queue.ReadWithContext(ctx)
		if err != nil {
			return
		}
		if err := w.sendToClient(info, websocket.TextMessage, data); err != nil {
			w.recordError("write")
			w.removeClient(info, "write_error")
			return
		}
		w.messagesSent.Add(1)
		w.bytesSent.Add(int64(len(data)))
		if w.metrics != nil {
			w.metrics.messagesSent.Inc()
			w.metrics.bytesSent.Add(float64(len(data)))
		}
	}
}

// sendToClient writes one message with the write deadline applied.
// gorilla/websocket connections support one concurrent writer.
func (w *Output) sendToClient(info *clientInfo, messageType int, data []byte) error {
	info.writeMutex.Lock()
	defer info.writeMutex.Unlock()

	_ = info.conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout.D()))
	return info.conn.WriteMessage(messageType, data)
}

// removeClient unregisters and closes a client once
func (w *Output) removeClient(info *clientInfo, reason string) {
	info.closeOnce.Do(func() {
		w.clientsMu.Lock()
		delete(w.clients, info.conn)
		count := len(w.clients)
		w.clientsMu.Unlock()

		_ = info.queue.Close()
		_ = info.conn.Close()

		if w.metrics != nil {
			w.metrics.disconnectionTotal.WithLabelValues(reason).Inc()
			w.metrics.clientsConnected.Set(float64(count))
		}
		w.logger.Debug("WebSocket client disconnected", "reason", reason, "clients", count,
			"connected_for", time.Since(info.connectedAt))
	})
}

// maintainClients pings clients and drops those that stopped answering
func (w *Output) maintainClients(ctx context.Context) {
	interval := w.cfg.PingInterval.D()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(-2 * interval).UnixNano()
			for _, info := range w.snapshot() {
				if info.lastPong.Load() < deadline {
					w.removeClient(info, "ping_timeout")
					continue
				}
				if err := w.sendToClient(info, websocket.PingMessage, nil); err != nil {
					w.recordError("ping")
					w.removeClient(info, "ping_error")
				}
			}
		}
	}
}

func (w *Output) snapshot() []*clientInfo {
	w.clientsMu.RLock()
	defer w.clientsMu.RUnlock()
	list := make([]*clientInfo, 0, len(w.clients))
	for _, info := range w.clients {
		list = append(list, info)
	}
	return list
}

func (w *Output) recordError(kind string) {
	w.errors.Add(1)
	if w.metrics != nil {
		w.metrics.errorsTotal.WithLabelValues(kind).Inc()
	}
}

// Consume encodes the frame once and queues it for every client
func (w *Output) Consume(_ context.Context, in []*stream.Stream) error {
	w.mu.RLock()
	running := w.server != nil
	w.mu.RUnlock()
	if !running {
		return errors.WrapFatal(errors.ErrNotStarted, "Output", "Consume", "server not running")
	}

	start := time.Now()
	clients := w.snapshot()
	if len(clients) == 0 {
		return nil
	}

	data, err := w.encode(in, start)
	if err != nil {
		w.recordError("encode")
		return errors.WrapFatal(err, "Output", "Consume", "encode frame")
	}
	for _, info := range clients {
		// a closed queue belongs to a client being removed
		_ = info.queue.Write(data)
	}

	w.lastActivity.Store(start.UnixNano())
	if w.metrics != nil {
		w.metrics.broadcastDuration.Observe(time.Since(start).Seconds())
	}
	return nil
}

func (w *Output) encode(in []*stream.Stream, now time.Time) ([]byte, error) {
	frame := Frame{Consumer: w.name, Sources: make([]FrameSource, len(in))}
	if len(in) > 0 {
		frame.Time = in[0].FrameTime()
	}
	for i, s := range in {
		src := FrameSource{
			Source:  i,
			Rate:    s.SampleRate(),
			Dim:     s.Dim(),
			Labels:  s.Labels(),
			Samples: make([][]float64, s.NumFrame()),
		}
		for n := range src.Samples {
			sample := make([]float64, s.Dim())
			for d := range sample {
				v, err := s.Value(s.NumDelta()+n, d)
				if err != nil {
					return nil, err
				}
				sample[d] = v
			}
			src.Samples[n] = sample
		}
		frame.Sources[i] = src
	}

	payload, err := json.Marshal(frame)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{
		Type:      "frame",
		ID:        fmt.Sprintf("frame-%d", w.frameCounter.Add(1)),
		Timestamp: now.UnixMilli(),
		Payload:   payload,
	})
}

// Flush has nothing to flush; queued messages drain on their own.
func (w *Output) Flush(context.Context) error { return nil }

// Close shuts the server down and disconnects every client
func (w *Output) Close() error {
	w.mu.Lock()
	server, group := w.server, w.group
	if w.cancel != nil {
		w.cancel()
	}
	w.server, w.group, w.cancel = nil, nil, nil
	w.mu.Unlock()

	if server == nil {
		return nil
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), w.cfg.WriteTimeout.D())
	defer done()
	shutdownErr := server.Shutdown(shutdownCtx)

	for _, info := range w.snapshot() {
		_ = w.sendToClient(info, websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"))
		w.removeClient(info, "server_shutdown")
	}
	w.clientWG.Wait()

	groupErr := group.Wait()
	w.logger.Info("WebSocket output closed", "messages", w.messagesSent.Load(), "bytes", w.bytesSent.Load())
	if shutdownErr != nil {
		return errors.WrapTransient(shutdownErr, "Output", "Close", "shutdown server")
	}
	return groupErr
}

// Health returns the current health status
func (w *Output) Health() component.HealthStatus {
	w.mu.RLock()
	running, started := w.server != nil, w.started
	w.mu.RUnlock()

	var uptime time.Duration
	if running {
		uptime = time.Since(started)
	}
	return component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: int(w.errors.Load()),
		Uptime:     uptime,
	}
}

// DataFlow returns current data flow metrics
func (w *Output) DataFlow() component.FlowMetrics {
	w.mu.RLock()
	started := w.started
	w.mu.RUnlock()

	sent := w.messagesSent.Load()
	var mps, bps, errorRate float64
	if elapsed := time.Since(started).Seconds(); !started.IsZero() && elapsed > 0 {
		mps = float64(sent) / elapsed
		bps = float64(w.bytesSent.Load()) / elapsed
	}
	if sent > 0 {
		errorRate = float64(w.errors.Load()) / float64(sent)
	}
	var last time.Time
	if ns := w.lastActivity.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}
	return component.FlowMetrics{
		Frames:          sent,
		FramesPerSecond: mps,
		BytesPerSecond:  bps,
		ErrorRate:       errorRate,
		LastActivity:    last,
	}
}

// NewComponent is the registry factory
func NewComponent(name string, rawConfig json.RawMessage, deps component.Dependencies) (component.Component, error) {
	cfg := DefaultConfig()
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return nil, errors.WrapInvalid(err, "Output", "NewComponent", "config unmarshal")
		}
	}
	return NewOutput(name, cfg, deps)
}

// Register registers the WebSocket output component with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterFactory(component.Registration{
		Name:        "websocket",
		Kind:        component.KindConsumer,
		Description: "WebSocket server broadcasting frames as JSON",
		Version:     "1.0.0",
		Factory:     NewComponent,
	})
}

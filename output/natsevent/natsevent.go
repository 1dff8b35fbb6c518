// Package natsevent publishes pipeline events to NATS.
//
// Each event becomes one JSON message on <subject_prefix>.<event name>,
// carrying the pipeline session ID and sender as headers. The publisher is
// an event listener: it connects in Enter, publishes from the channel's
// dispatcher goroutine, and drains the connection in Close so events
// emitted during shutdown still reach the server.
package natsevent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/sigstream/component"
	"github.com/c360/sigstream/config"
	"github.com/c360/sigstream/errors"
	"github.com/c360/sigstream/event"
	"github.com/c360/sigstream/metric"
)

// Header names set on every published message
const (
	HeaderSession = "Sigstream-Session"
	HeaderSender  = "Sigstream-Sender"
	HeaderState   = "Sigstream-State"
)

// Config holds configuration for the NATS event publisher
type Config struct {
	URL           string          `json:"url"`
	SubjectPrefix string          `json:"subject_prefix"`
	Timeout       config.Duration `json:"timeout"`
	MaxReconnects int             `json:"max_reconnects"`
	ReconnectWait config.Duration `json:"reconnect_wait"`
	DrainTimeout  config.Duration `json:"drain_timeout"`
	Username      string          `json:"username,omitempty"`
	Password      string          `json:"password,omitempty"`
	Token         string          `json:"token,omitempty"`
}

// DefaultConfig returns the default publisher configuration
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		SubjectPrefix: "sigstream.events",
		Timeout:       config.Duration(5 * time.Second),
		MaxReconnects: -1,
		ReconnectWait: config.Duration(2 * time.Second),
		DrainTimeout:  config.Duration(5 * time.Second),
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "url is required")
	}
	if c.SubjectPrefix == "" || strings.ContainsAny(c.SubjectPrefix, " \t*>") ||
		strings.HasPrefix(c.SubjectPrefix, ".") || strings.HasSuffix(c.SubjectPrefix, ".") {
		return errors.WrapInvalid(
			fmt.Errorf("%w: subject prefix %q", errors.ErrInvalidConfig, c.SubjectPrefix),
			"Config", "Validate", "subject_prefix")
	}
	if c.Timeout <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "timeout must be positive")
	}
	if c.DrainTimeout <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "drain_timeout must be positive")
	}
	if (c.Username == "") != (c.Password == "") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"username and password must be set together")
	}
	return nil
}

// Message is the JSON body of a published event
type Message struct {
	Session string `json:"session"`
	*event.Event
}

// Metrics holds Prometheus metrics for the publisher
type Metrics struct {
	published prometheus.Counter
	dropped   *prometheus.CounterVec
	bytes     prometheus.Counter
}

func newMetrics(registry *metric.MetricsRegistry, name string) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}
	labels := prometheus.Labels{"listener": name}
	m := &Metrics{
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "sigstream",
			Subsystem:   "natsevent",
			Name:        "published_total",
			Help:        "Events published to NATS",
			ConstLabels: labels,
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "sigstream",
			Subsystem:   "natsevent",
			Name:        "dropped_total",
			Help:        "Events not published",
			ConstLabels: labels,
		}, []string{"reason"}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "sigstream",
			Subsystem:   "natsevent",
			Name:        "bytes_total",
			Help:        "Payload bytes published",
			ConstLabels: labels,
		}),
	}
	owner := "natsevent_" + name
	err := errors.Join(
		registry.RegisterCounter(owner, "published", m.published),
		registry.RegisterCounterVec(owner, "dropped", m.dropped),
		registry.RegisterCounter(owner, "bytes", m.bytes),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Publisher is an event listener that forwards events to NATS
type Publisher struct {
	name    string
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics
	session string

	mu   sync.RWMutex
	conn *nats.Conn

	published atomic.Int64
	dropped   atomic.Int64
	lastEvent atomic.Int64
}

var (
	_ event.Listener        = (*Publisher)(nil)
	_ component.Initializer = (*Publisher)(nil)
	_ component.Lifecycle   = (*Publisher)(nil)
	_ component.Describer   = (*Publisher)(nil)
)

// NewPublisher creates a publisher. The connection is opened by Enter.
func NewPublisher(name string, cfg Config, deps component.Dependencies) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	metrics, err := newMetrics(deps.MetricsRegistry, name)
	if err != nil {
		return nil, errors.WrapFatal(err, "Publisher", "NewPublisher", "register metrics")
	}
	return &Publisher{
		name:    name,
		cfg:     cfg,
		logger:  deps.GetLoggerWithComponent(name),
		metrics: metrics,
	}, nil
}

// Name returns the component name
func (p *Publisher) Name() string { return p.name }

// Meta returns component metadata
func (p *Publisher) Meta() component.Metadata {
	return component.Metadata{
		Name:        p.name,
		Kind:        component.KindEventListener,
		Description: "Publishes events to NATS under " + p.cfg.SubjectPrefix,
		Version:     "1.0.0",
	}
}

// Init records the session ID stamped on every message
func (p *Publisher) Init(env component.Env) error {
	p.session = env.SessionID()
	return nil
}

// Subject returns the subject an event named name is published on
func (p *Publisher) Subject(name string) string {
	return p.cfg.SubjectPrefix + "." + subjectToken(name)
}

// subjectToken maps characters NATS reserves in subjects to underscores
func subjectToken(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, name)
}

func (p *Publisher) options() []nats.Option {
	opts := []nats.Option{
		nats.Name("sigstream-" + p.name),
		nats.Timeout(p.cfg.Timeout.D()),
		nats.MaxReconnects(p.cfg.MaxReconnects),
		nats.ReconnectWait(p.cfg.ReconnectWait.D()),
		nats.DrainTimeout(p.cfg.DrainTimeout.D()),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			p.logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			p.logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			p.logger.Error("NATS async error", "error", err)
		}),
	}
	if p.cfg.Username != "" {
		opts = append(opts, nats.UserInfo(p.cfg.Username, p.cfg.Password))
	}
	if p.cfg.Token != "" {
		opts = append(opts, nats.Token(p.cfg.Token))
	}
	return opts
}

// Enter connects to the server. Connection failures are transient.
func (p *Publisher) Enter(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Publisher", "Enter", "check connection")
	}

	type result struct {
		conn *nats.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := nats.Connect(p.cfg.URL, p.options()...)
		done <- result{conn, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return errors.WrapTransient(r.err, "Publisher", "Enter", "connect to "+p.cfg.URL)
		}
		p.conn = r.conn
	case <-ctx.Done():
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return errors.WrapTransient(ctx.Err(), "Publisher", "Enter", "connection cancelled")
	}

	p.logger.Info("Connected to NATS", "url", p.conn.ConnectedUrl(), "prefix", p.cfg.SubjectPrefix)
	return nil
}

// Notify publishes ev. Events arriving without a connection are dropped.
func (p *Publisher) Notify(ev *event.Event) {
	p.mu.RLock()
	conn := p.conn
	p.mu.RUnlock()

	if conn == nil {
		p.drop("not_connected")
		return
	}

	data, err := json.Marshal(Message{Session: p.session, Event: ev})
	if err != nil {
		p.drop("encode")
		p.logger.Warn("Failed to encode event", "event", ev.Name, "error", err)
		return
	}

	msg := nats.NewMsg(p.Subject(ev.Name))
	msg.Data = data
	msg.Header.Set(HeaderSession, p.session)
	msg.Header.Set(HeaderSender, ev.Sender)
	msg.Header.Set(HeaderState, ev.State.String())

	if err := conn.PublishMsg(msg); err != nil {
		p.drop("publish")
		p.logger.Warn("Failed to publish event", "subject", msg.Subject, "error", err)
		return
	}

	p.published.Add(1)
	p.lastEvent.Store(time.Now().UnixNano())
	if p.metrics != nil {
		p.metrics.published.Inc()
		p.metrics.bytes.Add(float64(len(data)))
	}
}

func (p *Publisher) drop(reason string) {
	p.dropped.Add(1)
	if p.metrics != nil {
		p.metrics.dropped.WithLabelValues(reason).Inc()
	}
}

// Flush waits until the server has processed every published message
func (p *Publisher) Flush(ctx context.Context) error {
	p.mu.RLock()
	conn := p.conn
	p.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return nil
	}
	flushCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout.D())
	defer cancel()
	if err := conn.FlushWithContext(flushCtx); err != nil {
		return errors.WrapTransient(err, "Publisher", "Flush", "flush connection")
	}
	return nil
}

// Close drains and closes the connection
func (p *Publisher) Close() error {
	p.mu.Lock()
	conn := p.conn
	p.conn = nil
	p.mu.Unlock()

	if conn == nil {
		return nil
	}

	closed := make(chan struct{})
	conn.SetClosedHandler(func(*nats.Conn) { close(closed) })
	if err := conn.Drain(); err != nil {
		conn.Close()
		return errors.WrapTransient(err, "Publisher", "Close", "drain connection")
	}
	select {
	case <-closed:
	case <-time.After(p.cfg.DrainTimeout.D() + time.Second):
		conn.Close()
	}

	p.logger.Info("NATS publisher closed", "published", p.published.Load(), "dropped", p.dropped.Load())
	return nil
}

// Health returns the current health status
func (p *Publisher) Health() component.HealthStatus {
	p.mu.RLock()
	conn := p.conn
	p.mu.RUnlock()

	status := component.HealthStatus{
		State:      "disconnected",
		LastCheck:  time.Now(),
		ErrorCount: int(p.dropped.Load()),
	}
	if conn != nil {
		status.State = strings.ToLower(conn.Status().String())
		status.Healthy = conn.IsConnected()
		if err := conn.LastError(); err != nil {
			status.LastError = err.Error()
		}
	}
	return status
}

// DataFlow returns current data flow metrics
func (p *Publisher) DataFlow() component.FlowMetrics {
	published := p.published.Load()
	var errorRate float64
	if total := published + p.dropped.Load(); total > 0 {
		errorRate = float64(p.dropped.Load()) / float64(total)
	}
	var last time.Time
	if ns := p.lastEvent.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}
	return component.FlowMetrics{
		Frames:       published,
		ErrorRate:    errorRate,
		LastActivity: last,
	}
}

// NewComponent is the registry factory
func NewComponent(name string, rawConfig json.RawMessage, deps component.Dependencies) (component.Component, error) {
	cfg := DefaultConfig()
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return nil, errors.WrapInvalid(err, "Publisher", "NewComponent", "config unmarshal")
		}
	}
	return NewPublisher(name, cfg, deps)
}

// Register registers the NATS event publisher with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterFactory(component.Registration{
		Name:        "natsevent",
		Kind:        component.KindEventListener,
		Description: "Publishes pipeline events to NATS subjects",
		Version:     "1.0.0",
		Factory:     NewComponent,
	})
}

package httppost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/sigstream/component"
	"github.com/c360/sigstream/config"
	"github.com/c360/sigstream/errors"
	"github.com/c360/sigstream/event"
	"github.com/c360/sigstream/pkg/retry"
	"github.com/c360/sigstream/stream"
)

// Config holds configuration for HTTP POST output component
type Config struct {
	URL         string            `json:"url"`
	Headers     map[string]string `json:"headers,omitempty"`
	Timeout     config.Duration   `json:"timeout"`
	RetryCount  int               `json:"retry_count"`
	RetryDelay  config.Duration   `json:"retry_delay"`
	ContentType string            `json:"content_type"`
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "url is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "invalid URL format")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"url scheme must be http or https")
	}
	if c.Timeout <= 0 || c.Timeout.D() > 5*time.Minute {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"timeout must be between 0 and 5m")
	}
	if c.RetryCount < 0 || c.RetryCount > 10 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"retry_count must be between 0 and 10")
	}
	if c.RetryDelay < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"retry_delay cannot be negative")
	}
	return nil
}

// DefaultConfig returns default configuration for HTTP POST output
func DefaultConfig() Config {
	return Config{
		URL:         "http://localhost:8080/webhook",
		Timeout:     config.Duration(10 * time.Second),
		RetryCount:  3,
		RetryDelay:  config.Duration(100 * time.Millisecond),
		ContentType: "application/json",
	}
}

// Snapshot is the body of one POST
type Snapshot struct {
	Consumer string       `json:"consumer"`
	Session  string       `json:"session,omitempty"`
	Event    *event.Event `json:"event"`
	Sources  []Window     `json:"sources"`
}

// Window is the data one source holds for the event interval
type Window struct {
	Source  int         `json:"source"`
	Time    float64     `json:"time"`
	Rate    float64     `json:"rate"`
	Dim     int         `json:"dim"`
	Labels  []string    `json:"labels,omitempty"`
	Samples [][]float64 `json:"samples"`
}

// statusError is a non-2xx response
type statusError struct {
	code   int
	status string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.code, e.status)
}

// Output posts event snapshots to an HTTP endpoint
type Output struct {
	name       string
	cfg        Config
	logger     *slog.Logger
	httpClient *http.Client
	session    string

	mu        sync.RWMutex
	running   bool
	startTime time.Time

	messagesSent    atomic.Int64
	messagesRetried atomic.Int64
	bytesSent       atomic.Int64
	errors          atomic.Int64
	lastActivity    atomic.Int64
}

var (
	_ component.EventConsumer = (*Output)(nil)
	_ component.Initializer   = (*Output)(nil)
	_ component.Lifecycle     = (*Output)(nil)
	_ component.Describer     = (*Output)(nil)
)

// NewOutput creates an HTTP POST event consumer
func NewOutput(name string, cfg Config, logger *slog.Logger) (*Output, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "application/json"
	}
	if logger == nil {
		logger = slog.Default().With("component", name)
	}
	return &Output{
		name:       name,
		cfg:        cfg,
		logger:     logger,
		httpClient: &http.Client{Timeout: cfg.Timeout.D()},
	}, nil
}

// Name returns the component name
func (h *Output) Name() string { return h.name }

// Meta returns component metadata
func (h *Output) Meta() component.Metadata {
	return component.Metadata{
		Name:        h.name,
		Kind:        component.KindEventConsumer,
		Description: "HTTP POST of event windows to " + h.cfg.URL,
		Version:     "1.0.0",
	}
}

// Init records the session the snapshots are tagged with
func (h *Output) Init(env component.Env) error {
	h.session = env.SessionID()
	return nil
}

// Enter marks the output running
func (h *Output) Enter(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Output", "Enter", "check running state")
	}
	h.running = true
	h.startTime = time.Now()
	h.logger.Info("HTTP POST output ready", "url", h.cfg.URL, "retry_count", h.cfg.RetryCount)
	return nil
}

// ConsumeEvent posts the windows covering trigger. Delivery failures are
// logged and counted, not returned.
func (h *Output) ConsumeEvent(ctx context.Context, in []*stream.Stream, trigger *event.Event) error {
	h.mu.RLock()
	running := h.running
	h.mu.RUnlock()
	if !running {
		return errors.WrapFatal(errors.ErrNotStarted, "Output", "ConsumeEvent", "check running state")
	}

	snap, err := h.snapshot(in, trigger)
	if err != nil {
		return errors.WrapFatal(err, "Output", "ConsumeEvent", "build snapshot")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return errors.WrapFatal(err, "Output", "ConsumeEvent", "encode snapshot")
	}

	h.lastActivity.Store(time.Now().UnixNano())
	if err := h.post(ctx, data); err != nil {
		h.errors.Add(1)
		h.logger.Warn("Dropping snapshot after failed delivery",
			"event", trigger.Name, "time", trigger.Time, "error", err)
		return nil
	}
	h.messagesSent.Add(1)
	h.bytesSent.Add(int64(len(data)))
	return nil
}

func (h *Output) snapshot(in []*stream.Stream, trigger *event.Event) (*Snapshot, error) {
	snap := &Snapshot{
		Consumer: h.name,
		Session:  h.session,
		Event:    trigger,
		Sources:  make([]Window, len(in)),
	}
	for src, s := range in {
		w := Window{
			Source:  src,
			Time:    s.Time(),
			Rate:    s.SampleRate(),
			Dim:     s.Dim(),
			Labels:  s.Labels(),
			Samples: make([][]float64, s.Num()),
		}
		for i := range w.Samples {
			sample := make([]float64, s.Dim())
			for d := range sample {
				v, err := s.Value(i, d)
				if err != nil {
					return nil, err
				}
				sample[d] = v
			}
			w.Samples[i] = sample
		}
		snap.Sources[src] = w
	}
	return snap, nil
}

// post sends data, retrying network errors, 5xx and 429 responses
func (h *Output) post(ctx context.Context, data []byte) error {
	cfg := retry.Config{
		MaxAttempts:  h.cfg.RetryCount + 1,
		InitialDelay: h.cfg.RetryDelay.D(),
		MaxDelay:     max(h.cfg.RetryDelay.D()*16, h.cfg.RetryDelay.D()),
		Multiplier:   2.0,
		AddJitter:    true,
	}
	attempt := 0
	return retry.Do(ctx, cfg, func() error {
		attempt++
		if attempt > 1 {
			h.messagesRetried.Add(1)
		}
		err := h.send(ctx, data)
		var se *statusError
		if errors.As(err, &se) && se.code < 500 && se.code != http.StatusTooManyRequests {
			return retry.NonRetryable(err)
		}
		return err
	})
}

// send issues a single POST request
func (h *Output) send(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", h.cfg.ContentType)
	for key, value := range h.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Drain to reuse the connection
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode, status: resp.Status}
	}
	return nil
}

// Flush is a no-op; every POST completes inside ConsumeEvent.
func (h *Output) Flush(context.Context) error { return nil }

// Close releases idle connections
func (h *Output) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return nil
	}
	h.running = false
	h.httpClient.CloseIdleConnections()
	h.logger.Info("HTTP POST output closed",
		"sent", h.messagesSent.Load(), "retried", h.messagesRetried.Load(), "errors", h.errors.Load())
	return nil
}

// Health returns the current health status
func (h *Output) Health() component.HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var uptime time.Duration
	if h.running {
		uptime = time.Since(h.startTime)
	}
	return component.HealthStatus{
		Healthy:    h.running,
		LastCheck:  time.Now(),
		ErrorCount: int(h.errors.Load()),
		Uptime:     uptime,
	}
}

// DataFlow returns current data flow metrics
func (h *Output) DataFlow() component.FlowMetrics {
	sent := h.messagesSent.Load()
	errorCount := h.errors.Load()

	var errorRate float64
	if total := sent + errorCount; total > 0 {
		errorRate = float64(errorCount) / float64(total)
	}
	var last time.Time
	if ns := h.lastActivity.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}
	return component.FlowMetrics{
		Frames:       sent,
		ErrorRate:    errorRate,
		LastActivity: last,
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
	return NewOutput(name, cfg, deps.GetLoggerWithComponent(name))
}

// Register registers the HTTP POST output component with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterFactory(component.Registration{
		Name:        "httppost",
		Kind:        component.KindEventConsumer,
		Description: "HTTP POST of the source windows around each event, with retries",
		Version:     "1.0.0",
		Factory:     NewComponent,
	})
}

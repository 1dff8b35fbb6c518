package config

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/c360/sigstream/errors"
)

// NetSync roles
const (
	RoleClient = "client"
	RoleServer = "server"
)

// DefaultNetSyncPort is the UDP port used for start synchronization
const DefaultNetSyncPort = 1111

// Duration is a time.Duration that decodes from "250ms"-style strings or
// from numbers of seconds.
type Duration time.Duration

// D returns the value as time.Duration
func (d Duration) D() time.Duration {
	return time.Duration(d)
}

// String formats like time.Duration
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalJSON writes the duration as a string
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts "1.5s" or 1.5
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	parsed, err := parseDuration(v)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func parseDuration(v any) (Duration, error) {
	switch x := v.(type) {
	case string:
		if secs, err := strconv.ParseFloat(x, 64); err == nil {
			return Duration(secs * float64(time.Second)), nil
		}
		d, err := time.ParseDuration(x)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", x, err)
		}
		return Duration(d), nil
	case float64:
		return Duration(x * float64(time.Second)), nil
	case int:
		return Duration(time.Duration(x) * time.Second), nil
	default:
		return 0, fmt.Errorf("invalid duration %v", v)
	}
}

// Config is the complete application configuration
type Config struct {
	Framework Framework `json:"framework"`
	Log       Log       `json:"log"`
	Pipeline  Pipeline  `json:"pipeline"`
}

// Framework configures the pipeline orchestrator
type Framework struct {
	// Countdown is the delay between launching component goroutines and
	// releasing the pipeline, giving sensors time to connect.
	Countdown Duration `json:"countdown"`

	// BufferSize is the history kept by every output buffer, in seconds,
	// unless a provider overrides it.
	BufferSize float64 `json:"buffer_size"`

	ConnectTimeout  Duration `json:"connect_timeout"`
	PollInterval    Duration `json:"poll_interval"`
	ShutdownTimeout Duration `json:"shutdown_timeout"`

	// SyncTolerance is how far, in seconds, a sensor buffer may lag the
	// pipeline clock before it is padded with zeroes.
	SyncTolerance float64 `json:"sync_tolerance"`

	NetSync NetSync `json:"netsync"`
	Metrics Metrics `json:"metrics"`
}

// NetSync configures cross-machine start synchronization
type NetSync struct {
	Enabled bool   `json:"enabled"`
	Role    string `json:"role"`
	// Host is the address clients broadcast to.
	Host string `json:"host"`
	// Bind is the address servers listen on. Empty means all interfaces.
	Bind string `json:"bind"`
	Port int    `json:"port"`
	// Timeout bounds how long a server waits. Zero waits until Stop.
	Timeout Duration `json:"timeout"`
}

// Metrics configures the Prometheus endpoint
type Metrics struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
}

// Log configures the process logger
type Log struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Pipeline describes components to build through the component registry.
// Sources name providers: "<sensor>.<channel>" for sensor channels and the
// component name for transformers.
type Pipeline struct {
	Events         []string        `json:"events,omitempty"`
	Sensors        []ComponentSpec `json:"sensors,omitempty"`
	Transformers   []ComponentSpec `json:"transformers,omitempty"`
	Consumers      []ComponentSpec `json:"consumers,omitempty"`
	EventConsumers []ComponentSpec `json:"event_consumers,omitempty"`
	Listeners      []ComponentSpec `json:"listeners,omitempty"`
}

// ComponentSpec is one pipeline entry
type ComponentSpec struct {
	Name    string          `json:"name"`
	Factory string          `json:"factory"`
	Sources []string        `json:"sources,omitempty"`
	Frame   float64         `json:"frame,omitempty"`
	Delta   float64         `json:"delta,omitempty"`
	Trigger string          `json:"trigger,omitempty"`
	Emits   string          `json:"emits,omitempty"`
	Config  json.RawMessage `json:"config,omitempty"`
}

// Default returns the configuration used when no file is given
func Default() Config {
	return Config{
		Framework: DefaultFramework(),
		Log:       Log{Level: "info", Format: "text"},
	}
}

// DefaultFramework returns framework defaults
func DefaultFramework() Framework {
	return Framework{
		Countdown:       Duration(3 * time.Second),
		BufferSize:      2.0,
		ConnectTimeout:  Duration(5 * time.Second),
		PollInterval:    Duration(10 * time.Millisecond),
		ShutdownTimeout: Duration(5 * time.Second),
		SyncTolerance:   1.0,
		NetSync: NetSync{
			Role: RoleServer,
			Host: "255.255.255.255",
			Port: DefaultNetSyncPort,
		},
		Metrics: Metrics{Port: 9090, Path: "/metrics"},
	}
}

func invalid(format string, args ...any) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: "+format, append([]any{errors.ErrInvalidConfig}, args...)...),
		"Config", "Validate", "field validation")
}

// Validate checks the framework settings
func (f Framework) Validate() error {
	switch {
	case f.Countdown < 0:
		return invalid("countdown must be >= 0, got %s", f.Countdown)
	case !(f.BufferSize > 0):
		return invalid("buffer_size must be > 0, got %v", f.BufferSize)
	case f.ConnectTimeout <= 0:
		return invalid("connect_timeout must be > 0, got %s", f.ConnectTimeout)
	case f.PollInterval <= 0:
		return invalid("poll_interval must be > 0, got %s", f.PollInterval)
	case f.ShutdownTimeout <= 0:
		return invalid("shutdown_timeout must be > 0, got %s", f.ShutdownTimeout)
	case !(f.SyncTolerance > 0):
		return invalid("sync_tolerance must be > 0, got %v", f.SyncTolerance)
	}

	if f.NetSync.Enabled {
		if f.NetSync.Role != RoleClient && f.NetSync.Role != RoleServer {
			return invalid("netsync role must be %q or %q, got %q", RoleClient, RoleServer, f.NetSync.Role)
		}
		if err := validPort("netsync", f.NetSync.Port); err != nil {
			return err
		}
		if f.NetSync.Timeout < 0 {
			return invalid("netsync timeout must be >= 0, got %s", f.NetSync.Timeout)
		}
	}

	if f.Metrics.Enabled {
		if err := validPort("metrics", f.Metrics.Port); err != nil {
			return err
		}
		if !strings.HasPrefix(f.Metrics.Path, "/") {
			return invalid("metrics path must start with /, got %q", f.Metrics.Path)
		}
	}
	return nil
}

func validPort(what string, port int) error {
	if port < 1 || port > 65535 {
		return invalid("%s port %d outside 1-65535", what, port)
	}
	return nil
}

// Validate checks every section
func (c Config) Validate() error {
	if err := c.Framework.Validate(); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return invalid("log level %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return invalid("log format %q", c.Log.Format)
	}
	return c.Pipeline.Validate()
}

// Validate checks names are unique and every entry names a factory.
// Source resolution happens when the pipeline is built.
func (p Pipeline) Validate() error {
	seen := map[string]bool{}
	groups := [][]ComponentSpec{p.Sensors, p.Transformers, p.Consumers, p.EventConsumers, p.Listeners}
	for _, group := range groups {
		for _, spec := range group {
			if spec.Name == "" || spec.Factory == "" {
				return invalid("pipeline entry needs name and factory: %+v", spec)
			}
			if seen[spec.Name] {
				return invalid("duplicate component name %q", spec.Name)
			}
			seen[spec.Name] = true
		}
	}
	for _, spec := range slices.Concat(p.Transformers, p.Consumers, p.EventConsumers) {
		if len(spec.Sources) == 0 {
			return invalid("%s has no sources", spec.Name)
		}
		if spec.Trigger == "" && (!(spec.Frame > 0) || spec.Delta < 0) {
			return invalid("%s needs frame > 0 and delta >= 0", spec.Name)
		}
	}
	events := map[string]bool{}
	for _, e := range p.Events {
		events[e] = true
	}
	for _, spec := range slices.Concat(p.EventConsumers, p.Listeners) {
		if !events[spec.Trigger] {
			return invalid("%s triggers on undeclared event channel %q", spec.Name, spec.Trigger)
		}
	}
	for _, group := range groups {
		for _, spec := range group {
			if spec.Emits != "" && !events[spec.Emits] {
				return invalid("%s emits on undeclared event channel %q", spec.Name, spec.Emits)
			}
		}
	}
	return nil
}

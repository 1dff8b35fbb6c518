package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/c360/sigstream/errors"
)

// DefaultEnvPrefix prefixes environment overrides
const DefaultEnvPrefix = "SIGSTREAM"

//go:embed schema.json
var schemaJSON []byte

var schemaLoader = gojsonschema.NewBytesLoader(schemaJSON)

// Loader builds a Config from defaults, file layers and the environment.
// Later layers override earlier ones key by key.
type Loader struct {
	layers    []string
	envPrefix string
}

// NewLoader creates a loader with the default env prefix
func NewLoader() *Loader {
	return &Loader{envPrefix: DefaultEnvPrefix}
}

// AddLayer appends a JSON or YAML file
func (l *Loader) AddLayer(path string) *Loader {
	l.layers = append(l.layers, path)
	return l
}

// WithEnvPrefix changes the environment variable prefix
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Load merges every layer over the defaults, validates each layer against
// the embedded schema, applies environment overrides and validates the
// result.
func (l *Loader) Load() (*Config, error) {
	merged, err := toMap(Default())
	if err != nil {
		return nil, errors.WrapFatal(err, "Loader", "Load", "default config encoding")
	}

	for _, path := range l.layers {
		doc, err := readDocument(path)
		if err != nil {
			return nil, err
		}
		if err := ValidateDocument(doc); err != nil {
			return nil, errors.Wrap(err, "Loader", "Load", path)
		}
		merged = deepMergeMaps(merged, doc)
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "merged config encoding")
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "config decoding")
	}

	if err := l.applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads one file over the defaults. An empty path yields the defaults
// with environment overrides.
func Load(path string) (*Config, error) {
	l := NewLoader()
	if path != "" {
		l.AddLayer(path)
	}
	return l.Load()
}

func readDocument(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WrapInvalid(errors.ErrConfigNotFound, "Loader", "readDocument", path)
		}
		return nil, errors.WrapTransient(err, "Loader", "readDocument", "file read")
	}
	return ParseDocument(data, filepath.Ext(path))
}

// ParseDocument decodes a JSON or YAML document selected by file extension.
func ParseDocument(data []byte, ext string) (map[string]any, error) {
	doc := map[string]any{}
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "ParseDocument", "YAML parsing")
		}
	case ".json":
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "ParseDocument", "JSON parsing")
		}
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: unsupported config format %q", errors.ErrInvalidConfig, ext),
			"Loader", "ParseDocument", "format detection")
	}
	return doc, nil
}

// ValidateDocument checks a decoded document against the embedded schema.
func ValidateDocument(doc map[string]any) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewGoLoader(doc))
	if err != nil {
		return errors.WrapInvalid(err, "Loader", "ValidateDocument", "schema evaluation")
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s", errors.ErrInvalidConfig, strings.Join(msgs, "; ")),
		"Loader", "ValidateDocument", "schema validation")
}

func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	m := map[string]any{}
	return m, json.Unmarshal(data, &m)
}

func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

func (l *Loader) applyEnvOverrides(cfg *Config) error {
	f := &cfg.Framework
	overrides := []struct {
		key   string
		apply func(string) error
	}{
		{"COUNTDOWN", durationSetter(&f.Countdown)},
		{"BUFFER_SIZE", floatSetter(&f.BufferSize)},
		{"CONNECT_TIMEOUT", durationSetter(&f.ConnectTimeout)},
		{"SHUTDOWN_TIMEOUT", durationSetter(&f.ShutdownTimeout)},
		{"NETSYNC_ENABLED", boolSetter(&f.NetSync.Enabled)},
		{"NETSYNC_ROLE", stringSetter(&f.NetSync.Role)},
		{"NETSYNC_HOST", stringSetter(&f.NetSync.Host)},
		{"NETSYNC_BIND", stringSetter(&f.NetSync.Bind)},
		{"NETSYNC_PORT", intSetter(&f.NetSync.Port)},
		{"NETSYNC_TIMEOUT", durationSetter(&f.NetSync.Timeout)},
		{"METRICS_ENABLED", boolSetter(&f.Metrics.Enabled)},
		{"METRICS_PORT", intSetter(&f.Metrics.Port)},
		{"LOG_LEVEL", stringSetter(&cfg.Log.Level)},
		{"LOG_FORMAT", stringSetter(&cfg.Log.Format)},
	}

	for _, o := range overrides {
		name := l.envPrefix + "_" + o.key
		val, ok := os.LookupEnv(name)
		if !ok || val == "" {
			continue
		}
		if err := o.apply(val); err != nil {
			return errors.WrapInvalid(fmt.Errorf("%s=%q: %w", name, val, err),
				"Loader", "applyEnvOverrides", "environment override")
		}
	}
	return nil
}

func stringSetter(dst *string) func(string) error {
	return func(v string) error {
		*dst = v
		return nil
	}
}

func intSetter(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err == nil {
			*dst = n
		}
		return err
	}
}

func floatSetter(dst *float64) func(string) error {
	return func(v string) error {
		n, err := strconv.ParseFloat(v, 64)
		if err == nil {
			*dst = n
		}
		return err
	}
}

func boolSetter(dst *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err == nil {
			*dst = b
		}
		return err
	}
}

func durationSetter(dst *Duration) func(string) error {
	return func(v string) error {
		d, err := parseDuration(v)
		if err == nil {
			*dst = d
		}
		return err
	}
}

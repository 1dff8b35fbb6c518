package component

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/c360/sigstream/errors"
	"github.com/c360/sigstream/metric"
)

// MaxNameLength bounds component and factory names
const MaxNameLength = 128

// Dependencies are handed to every factory.
type Dependencies struct {
	MetricsRegistry *metric.MetricsRegistry // can be nil
	Logger          *slog.Logger            // can be nil, defaults to slog.Default()

	// Emits names the event channel the component provides to, if any.
	// The component resolves it with Env.EventChannel during Init.
	Emits string
}

// GetLogger returns the configured logger or a default logger if none is provided
func (d *Dependencies) GetLogger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// GetLoggerWithComponent returns a logger configured with component context
func (d *Dependencies) GetLoggerWithComponent(componentName string) *slog.Logger {
	return d.GetLogger().With("component", componentName)
}

// Factory builds a component from its raw JSON configuration. Factories do
// no I/O; connections are opened by Connect or Enter.
type Factory func(name string, rawConfig json.RawMessage, deps Dependencies) (Component, error)

// Registration holds factory and metadata for a component type
type Registration struct {
	Name        string  `json:"name"`
	Kind        Kind    `json:"kind"`
	Description string  `json:"description"`
	Version     string  `json:"version"`
	Factory     Factory `json:"-"`
}

// Registry maps factory names to constructors. The CLI uses it to build a
// pipeline from configuration.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]*Registration
}

// NewRegistry creates a new empty component registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]*Registration)}
}

// RegisterFactory adds a factory. Names must be unique.
func (r *Registry) RegisterFactory(reg Registration) error {
	if err := ValidateComponentName(reg.Name); err != nil {
		return errors.Wrap(err, "Registry", "RegisterFactory", "factory name validation")
	}
	if reg.Factory == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "RegisterFactory", "factory function validation")
	}
	if reg.Kind == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "RegisterFactory", "component kind validation")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[reg.Name]; exists {
		msg := fmt.Errorf("factory '%s' is already registered", reg.Name)
		return errors.WrapInvalid(msg, "Registry", "RegisterFactory", "duplicate factory check")
	}
	r.factories[reg.Name] = &reg
	return nil
}

// Create instantiates a component and checks it implements the capability
// its registration promises.
func (r *Registry) Create(factory, instanceName string, rawConfig json.RawMessage, deps Dependencies) (Component, error) {
	if err := ValidateComponentName(instanceName); err != nil {
		return nil, errors.Wrap(err, "Registry", "Create", "instance name validation")
	}

	r.mu.RLock()
	reg, exists := r.factories[factory]
	r.mu.RUnlock()
	if !exists {
		msg := fmt.Errorf("unknown component factory '%s'", factory)
		return nil, errors.WrapInvalid(msg, "Registry", "Create", "factory lookup")
	}

	if len(rawConfig) == 0 {
		rawConfig = json.RawMessage("{}")
	}
	c, err := reg.Factory(instanceName, rawConfig, deps)
	if err != nil {
		return nil, errors.Wrap(err, "Registry", "Create", "factory execution")
	}

	if !implements(c, reg.Kind) {
		msg := fmt.Errorf("factory '%s' returned %T, which is not a %s", factory, c, reg.Kind)
		return nil, errors.WrapFatal(msg, "Registry", "Create", "capability check")
	}
	return c, nil
}

func implements(c Component, kind Kind) bool {
	var ok bool
	switch kind {
	case KindSensor:
		_, ok = c.(Sensor)
	case KindTransformer:
		_, ok = c.(Transformer)
	case KindConsumer:
		_, ok = c.(Consumer)
	case KindEventConsumer:
		_, ok = c.(EventConsumer)
	case KindEventListener:
		got, _ := KindOf(c)
		ok = got == KindEventListener
	}
	return ok
}

// Lookup returns the registration for a factory name
func (r *Registry) Lookup(name string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.factories[name]
	if !ok {
		return Registration{}, false
	}
	return *reg, true
}

// ListFactories returns registered factory names, sorted
func (r *Registry) ListFactories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ValidateComponentName allows alphanumerics, dash, underscore and dot.
func ValidateComponentName(name string) error {
	if name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "component", "ValidateComponentName", "empty name")
	}
	if len(name) > MaxNameLength {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "component", "ValidateComponentName", "name too long")
	}
	for _, r := range name {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.') {
			return errors.WrapInvalid(
				fmt.Errorf("%w: %q", errors.ErrInvalidConfig, name),
				"component", "ValidateComponentName", "invalid name characters")
		}
	}
	return nil
}

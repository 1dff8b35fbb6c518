// Package componentregistry registers the built-in components with a
// component registry.
package componentregistry

import (
	"fmt"

	"github.com/c360/sigstream/component"
	"github.com/c360/sigstream/errors"
	"github.com/c360/sigstream/input/synthetic"
	"github.com/c360/sigstream/input/udp"
	"github.com/c360/sigstream/output/file"
	"github.com/c360/sigstream/output/httppost"
	"github.com/c360/sigstream/output/natsevent"
	"github.com/c360/sigstream/output/websocket"
	"github.com/c360/sigstream/processor/selector"
)

// Register registers every built-in factory:
//
// Sensors:
//   - synthetic (generated waveforms, optional burst events)
//   - udp (raw float samples from datagrams)
//
// Transformers:
//   - selector (dimension projection)
//
// Consumers:
//   - file (CSV or JSON lines)
//   - websocket (live frame broadcast)
//
// Event consumers:
//   - httppost (event windows posted to a URL)
//
// Event listeners:
//   - natsevent (events published to NATS)
func Register(registry *component.Registry) error {
	if registry == nil {
		return errors.WrapFatal(fmt.Errorf("registry cannot be nil"),
			"ComponentRegistry", "Register", "registry validation")
	}

	steps := []struct {
		name     string
		register func(*component.Registry) error
	}{
		{"synthetic sensor", synthetic.Register},
		{"UDP sensor", udp.Register},
		{"selector transformer", selector.Register},
		{"file output", file.Register},
		{"WebSocket output", websocket.Register},
		{"HTTP POST output", httppost.Register},
		{"NATS event publisher", natsevent.Register},
	}
	for _, step := range steps {
		if err := step.register(registry); err != nil {
			return errors.WrapInvalid(err, "ComponentRegistry", "Register", step.name+" registration")
		}
	}
	return nil
}

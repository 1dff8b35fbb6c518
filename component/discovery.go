package component

import (
	"time"

	"github.com/c360/sigstream/event"
)

// Describer is implemented by components that report static metadata.
type Describer interface {
	Meta() Metadata
}

// Metadata describes what a component is
type Metadata struct {
	Name        string `json:"name"`
	Kind        Kind   `json:"kind"`
	Description string `json:"description"`
	Version     string `json:"version"`
}

// HealthStatus describes the current health state of a component
type HealthStatus struct {
	State      string        `json:"state"`
	Healthy    bool          `json:"healthy"`
	LastCheck  time.Time     `json:"last_check"`
	ErrorCount int           `json:"error_count"`
	LastError  string        `json:"last_error,omitempty"`
	Uptime     time.Duration `json:"uptime"`
}

// FlowMetrics describes the current data flow through a component
type FlowMetrics struct {
	Frames          int64     `json:"frames"`
	FramesPerSecond float64   `json:"frames_per_second"`
	BytesPerSecond  float64   `json:"bytes_per_second"`
	ErrorRate       float64   `json:"error_rate"`
	LastActivity    time.Time `json:"last_activity"`
}

// Kind classifies a component by the capability the framework drives.
type Kind string

const (
	// KindSensor is a Sensor
	KindSensor Kind = "sensor"
	// KindTransformer is a Transformer
	KindTransformer Kind = "transformer"
	// KindConsumer is a Consumer
	KindConsumer Kind = "consumer"
	// KindEventConsumer is an EventConsumer
	KindEventConsumer Kind = "event-consumer"
	// KindEventListener is an event.Listener
	KindEventListener Kind = "event-listener"
)

// KindOf returns the first capability c implements, in the order the
// framework checks them.
func KindOf(c Component) (Kind, bool) {
	switch c.(type) {
	case Sensor:
		return KindSensor, true
	case Transformer:
		return KindTransformer, true
	case EventConsumer:
		return KindEventConsumer, true
	case Consumer:
		return KindConsumer, true
	case event.Listener:
		return KindEventListener, true
	}
	return "", false
}

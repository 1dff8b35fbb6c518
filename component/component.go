package component

import (
	"context"

	"github.com/c360/sigstream/event"
	"github.com/c360/sigstream/pkg/buffer"
	"github.com/c360/sigstream/stream"
)

// Component is anything the framework schedules. Every other capability is
// discovered with a type assertion.
type Component interface {
	Name() string
}

// Initializer is called once at registration time, before any buffer is
// allocated for the component's outputs.
type Initializer interface {
	Init(env Env) error
}

// Enterer is called on the component's own goroutine before its first
// frame.
type Enterer interface {
	Enter(ctx context.Context) error
}

// Flusher is called during Stop, before Close.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Closer releases resources. It is called once, during Stop.
type Closer interface {
	Close() error
}

// Lifecycle groups the three optional hooks.
type Lifecycle interface {
	Enterer
	Flusher
	Closer
}

// Sensor owns a device connection shared by its channels.
type Sensor interface {
	Component
	Connect(ctx context.Context) error
	Disconnect() error
	CheckConnection() bool
	Channels() []Channel
}

// Channel produces Spec().Num samples per Process call at
// Spec().SampleRate. Process returns false when no fresh data was
// available; the framework then pushes zeroes to keep the buffer aligned
// with the clock.
type Channel interface {
	Component
	Spec() stream.Spec
	Process(ctx context.Context, out *stream.Stream) (bool, error)
}

// Transformer derives one stream from the windows of its sources.
//
// Describe receives one Spec per source with Num set to the number of
// samples in one frame at that source's rate. It returns the output Spec:
// Num samples produced per frame and the resulting SampleRate. A zero
// SampleRate is derived from the frame duration.
type Transformer interface {
	Component
	Describe(in []stream.Spec) (stream.Spec, error)
	Transform(ctx context.Context, in []*stream.Stream, out *stream.Stream) error
}

// Consumer terminates a chain.
type Consumer interface {
	Component
	Consume(ctx context.Context, in []*stream.Stream) error
}

// EventConsumer is driven by events instead of a fixed frame. Each call
// receives the source windows covering [trigger.Time, trigger.End()).
type EventConsumer interface {
	Component
	ConsumeEvent(ctx context.Context, in []*stream.Stream, trigger *event.Event) error
}

// Provider is the handle the framework returns for every output buffer.
// Downstream registrations name their sources with it.
type Provider interface {
	Name() string
	Spec() stream.Spec
	Buffer() *buffer.TimeBuffer
}

// BufferSizer overrides the framework's default history length, in
// seconds, for a component's output buffer.
type BufferSizer interface {
	BufferSize() float64
}

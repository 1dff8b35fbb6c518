package event

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/c360/sigstream/errors"
	"github.com/c360/sigstream/metric"
	"github.com/c360/sigstream/pkg/buffer"
)

// DefaultQueueSize bounds the number of undelivered events per channel.
const DefaultQueueSize = 256

// Listener receives events from a Channel. Notify runs on the channel's
// dispatcher goroutine and should not block for long.
type Listener interface {
	Notify(ev *Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ev *Event)

// Notify calls f(ev).
func (f ListenerFunc) Notify(ev *Event) { f(ev) }

// Channel fans events out from any number of providers to its listeners.
// Providers never block: when the queue is full the oldest undelivered
// event is dropped.
type Channel struct {
	name   string
	queue  buffer.Buffer[*Event]
	logger *slog.Logger
	core   *metric.Metrics

	mu        sync.RWMutex
	listeners []Listener

	provided   atomic.Int64
	dispatched atomic.Int64
	dropped    atomic.Int64
	closed     atomic.Bool
}

// ChannelOption configures a Channel
type ChannelOption func(*channelOptions)

type channelOptions struct {
	queueSize int
	logger    *slog.Logger
	registry  *metric.MetricsRegistry
}

// WithQueueSize sets the undelivered event bound
func WithQueueSize(n int) ChannelOption {
	return func(o *channelOptions) {
		o.queueSize = n
	}
}

// WithLogger sets the logger used for listener failures
func WithLogger(logger *slog.Logger) ChannelOption {
	return func(o *channelOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records dispatch and drop counts in the registry's core metrics
func WithMetrics(registry *metric.MetricsRegistry) ChannelOption {
	return func(o *channelOptions) {
		o.registry = registry
	}
}

// NewChannel creates a named channel. Events are delivered only while Run
// is executing.
func NewChannel(name string, opts ...ChannelOption) (*Channel, error) {
	if name == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Channel", "NewChannel", "channel name validation")
	}

	o := channelOptions{queueSize: DefaultQueueSize, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Channel{
		name:   name,
		logger: o.logger.With("channel", name),
	}
	if o.registry != nil {
		c.core = o.registry.CoreMetrics()
	}

	queue, err := buffer.NewCircularBuffer(o.queueSize,
		buffer.WithOverflowPolicy[*Event](buffer.DropOldest),
		buffer.WithDropCallback[*Event](c.onDrop),
	)
	if err != nil {
		return nil, errors.Wrap(err, "Channel", "NewChannel", "queue creation")
	}
	c.queue = queue
	return c, nil
}

// Name returns the channel name
func (c *Channel) Name() string {
	return c.name
}

// AddListener subscribes l to every event dispatched after this call.
func (c *Channel) AddListener(l Listener) {
	if l == nil {
		return
	}
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
}

// Listeners returns the number of subscribed listeners
func (c *Channel) Listeners() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.listeners)
}

// Provide enqueues ev for dispatch.
func (c *Channel) Provide(ev *Event) error {
	if ev == nil {
		return errors.WrapInvalid(errors.ErrInvalidData, "Channel", "Provide", "nil event")
	}
	if err := ev.Validate(); err != nil {
		return errors.WrapInvalid(err, "Channel", "Provide", "event validation")
	}
	if c.closed.Load() {
		return errors.WrapFatal(errors.ErrBufferClosed, "Channel", "Provide", "channel closed")
	}
	if err := c.queue.Write(ev); err != nil {
		return errors.Wrap(err, "Channel", "Provide", "enqueue")
	}
	c.provided.Add(1)
	return nil
}

// Run dispatches queued events until the channel is closed and drained or
// ctx is done.
func (c *Channel) Run(ctx context.Context) error {
	for {
		ev, err := c.queue.ReadWithContext(ctx)
		if err != nil {
			if errors.Is(err, errors.ErrBufferClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		c.dispatch(ev)
	}
}

func (c *Channel) dispatch(ev *Event) {
	c.mu.RLock()
	listeners := make([]Listener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.RUnlock()

	for _, l := range listeners {
		c.notify(l, ev)
	}
	c.dispatched.Add(1)
	if c.core != nil {
		c.core.RecordEventDispatched(c.name)
	}
}

func (c *Channel) notify(l Listener, ev *Event) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Event listener panicked", "event", ev.Name, "panic", r)
		}
	}()
	l.Notify(ev)
}

func (c *Channel) onDrop(ev *Event) {
	c.dropped.Add(1)
	if c.core != nil {
		c.core.RecordEventDropped(c.name)
	}
	c.logger.Debug("Event dropped", "event", ev.Name, "id", ev.ID)
}

// Close stops accepting events. Queued events are still dispatched by Run.
func (c *Channel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.queue.Close()
}

// Stats returns channel counters
func (c *Channel) Stats() Stats {
	return Stats{
		Provided:   c.provided.Load(),
		Dispatched: c.dispatched.Load(),
		Dropped:    c.dropped.Load(),
		Pending:    c.queue.Size(),
	}
}

// Stats represents channel counters
type Stats struct {
	Provided   int64 `json:"provided"`
	Dispatched int64 `json:"dispatched"`
	Dropped    int64 `json:"dropped"`
	Pending    int   `json:"pending"`
}

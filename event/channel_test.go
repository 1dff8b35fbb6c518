package event

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sigstream/errors"
	"github.com/c360/sigstream/metric"
)

type recorder struct {
	mu     sync.Mutex
	events []*Event
	got    chan struct{}
}

func newRecorder() *recorder {
	return &recorder{got: make(chan struct{}, 64)}
}

func (r *recorder) Notify(ev *Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.got <- struct{}{}
}

func (r *recorder) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.got:
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d of %d events", i, n)
		}
	}
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Name
	}
	return out
}

func runChannel(t *testing.T, c *Channel) (cancel func(), done <-chan error) {
	t.Helper()
	ctx, cancelFn := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()
	return cancelFn, errc
}

func TestEvent_Validate(t *testing.T) {
	ev := New("tap", "detector", 1.5, 0.25)
	assert.NotEqual(t, [16]byte{}, [16]byte(ev.ID))
	assert.Equal(t, 1.75, ev.End())
	assert.NoError(t, ev.Validate())

	assert.Error(t, (&Event{Name: "", Time: 0}).Validate())
	assert.Error(t, (&Event{Name: "x", Time: -1}).Validate())
	assert.Error(t, (&Event{Name: "x", Duration: -1}).Validate())
	assert.Equal(t, "continued", StateContinued.String())
}

func TestChannel_FanOut(t *testing.T) {
	c, err := NewChannel("gestures")
	require.NoError(t, err)

	a, b := newRecorder(), newRecorder()
	c.AddListener(a)
	c.AddListener(b)
	assert.Equal(t, 2, c.Listeners())

	cancel, done := runChannel(t, c)
	defer cancel()

	require.NoError(t, c.Provide(New("one", "src", 0, 1)))
	require.NoError(t, c.Provide(New("two", "src", 1, 1)))

	a.wait(t, 2)
	b.wait(t, 2)
	assert.Equal(t, []string{"one", "two"}, a.names())
	assert.Equal(t, []string{"one", "two"}, b.names())

	require.NoError(t, c.Close())
	assert.NoError(t, <-done)
	assert.Equal(t, int64(2), c.Stats().Dispatched)
}

func TestChannel_DropsOldestWhenFull(t *testing.T) {
	c, err := NewChannel("burst", WithQueueSize(2))
	require.NoError(t, err)

	// no dispatcher running, so the queue fills
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, c.Provide(New(name, "src", 0, 0)))
	}
	assert.Equal(t, int64(1), c.Stats().Dropped)

	r := newRecorder()
	c.AddListener(r)
	require.NoError(t, c.Close())

	// Run drains what was queued before the close
	require.NoError(t, c.Run(context.Background()))
	r.wait(t, 2)
	assert.Equal(t, []string{"b", "c"}, r.names())
}

func TestChannel_ProvideRejects(t *testing.T) {
	c, err := NewChannel("x")
	require.NoError(t, err)

	err = c.Provide(nil)
	assert.True(t, errors.IsInvalid(err))

	err = c.Provide(&Event{Name: "neg", Time: -2})
	assert.True(t, errors.IsInvalid(err))

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	err = c.Provide(New("late", "src", 0, 0))
	assert.ErrorIs(t, err, errors.ErrBufferClosed)

	_, err = NewChannel("")
	assert.Error(t, err)
}

func TestChannel_ListenerPanicDoesNotStopDispatch(t *testing.T) {
	c, err := NewChannel("fragile")
	require.NoError(t, err)

	c.AddListener(ListenerFunc(func(*Event) { panic("listener bug") }))
	r := newRecorder()
	c.AddListener(r)

	cancel, _ := runChannel(t, c)
	defer cancel()

	require.NoError(t, c.Provide(New("first", "src", 0, 0)))
	require.NoError(t, c.Provide(New("second", "src", 0, 0)))
	r.wait(t, 2)
	assert.Equal(t, []string{"first", "second"}, r.names())
}

func TestChannel_RunStopsOnContext(t *testing.T) {
	c, err := NewChannel("idle")
	require.NoError(t, err)

	cancel, done := runChannel(t, c)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestChannel_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	c, err := NewChannel("metered", WithMetrics(registry), WithQueueSize(1))
	require.NoError(t, err)

	require.NoError(t, c.Provide(New("a", "src", 0, 0)))
	require.NoError(t, c.Provide(New("b", "src", 0, 0)))
	require.NoError(t, c.Close())
	require.NoError(t, c.Run(context.Background()))

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	found := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if m.GetCounter() != nil {
				found[mf.GetName()] += m.GetCounter().GetValue()
			}
		}
	}
	assert.Equal(t, 1.0, found["sigstream_events_dispatched_total"])
	assert.Equal(t, 1.0, found["sigstream_events_dropped_total"])
}

package websocket

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sigstream/component"
	"github.com/c360/sigstream/config"
	"github.com/c360/sigstream/errors"
	"github.com/c360/sigstream/metric"
	"github.com/c360/sigstream/stream"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Bind = "127.0.0.1"
	cfg.Port = 0
	return cfg
}

func started(t *testing.T, cfg Config, registry *metric.MetricsRegistry) *Output {
	t.Helper()
	out, err := NewOutput("scope", cfg, component.Dependencies{MetricsRegistry: registry})
	require.NoError(t, err)
	require.NoError(t, out.Enter(context.Background()))
	t.Cleanup(func() { _ = out.Close() })
	return out
}

func dial(t *testing.T, out *Output) *websocket.Conn {
	t.Helper()
	url := "ws://" + out.Addr().String() + out.cfg.Path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func window(t *testing.T, start float64) *stream.Stream {
	t.Helper()
	s, err := stream.NewFromSpec(stream.Spec{
		Num: 2, Dim: 2, Bytes: 8, Type: stream.TypeDouble, SampleRate: 50,
		Labels: []string{"x", "y"},
	}, 2, 1)
	require.NoError(t, err)
	for i := range s.MustDoubles() {
		s.MustDoubles()[i] = float64(i)
	}
	s.SetTime(start)
	return s
}

func TestOutput_BroadcastsFrames(t *testing.T) {
	out := started(t, testConfig(), nil)
	first := dial(t, out)
	second := dial(t, out)
	require.Eventually(t, func() bool { return out.ClientCount() == 2 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, out.Consume(context.Background(), []*stream.Stream{window(t, 1.5)}))

	for _, conn := range []*websocket.Conn{first, second} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		msgType, data, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.TextMessage, msgType)

		var env Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		assert.Equal(t, "frame", env.Type)
		assert.Equal(t, "frame-1", env.ID)
		assert.NotZero(t, env.Timestamp)

		var frame Frame
		require.NoError(t, json.Unmarshal(env.Payload, &frame))
		assert.Equal(t, "scope", frame.Consumer)
		assert.InDelta(t, 1.52, frame.Time, 1e-12, "time of the first frame sample")
		require.Len(t, frame.Sources, 1)
		src := frame.Sources[0]
		assert.Equal(t, 50.0, src.Rate)
		assert.Equal(t, []string{"x", "y"}, src.Labels)
		assert.Equal(t, [][]float64{{2, 3}, {4, 5}}, src.Samples, "look-back sample is not sent")
	}

	require.Eventually(t, func() bool { return out.DataFlow().Frames == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestOutput_NoClients(t *testing.T) {
	out := started(t, testConfig(), nil)
	require.NoError(t, out.Consume(context.Background(), []*stream.Stream{window(t, 0)}))
	assert.Equal(t, int64(0), out.DataFlow().Frames)
}

func TestOutput_ClientDisconnect(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	out := started(t, testConfig(), registry)
	conn := dial(t, out)
	require.Eventually(t, func() bool { return out.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(out.metrics.clientsConnected))

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return out.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0.0, testutil.ToFloat64(out.metrics.clientsConnected))
	assert.Equal(t, 1.0, testutil.ToFloat64(out.metrics.connectionTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(out.metrics.disconnectionTotal.WithLabelValues("client_closed")))
}

func TestOutput_MaxClients(t *testing.T) {
	cfg := testConfig()
	cfg.MaxClients = 1
	out := started(t, cfg, nil)
	dial(t, out)
	require.Eventually(t, func() bool { return out.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	url := "ws://" + out.Addr().String() + cfg.Path
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestOutput_CloseDisconnectsClients(t *testing.T) {
	out, err := NewOutput("scope", testConfig(), component.Dependencies{})
	require.NoError(t, err)
	require.NoError(t, out.Enter(context.Background()))
	conn := dial(t, out)
	require.Eventually(t, func() bool { return out.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, out.Health().Healthy)

	require.NoError(t, out.Close())
	assert.Equal(t, 0, out.ClientCount())
	assert.False(t, out.Health().Healthy)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	require.NoError(t, out.Close(), "close is idempotent")
	err = out.Consume(context.Background(), []*stream.Stream{window(t, 0)})
	assert.True(t, errors.IsFatal(err))
}

func TestOutput_EnterBindConflict(t *testing.T) {
	first := started(t, testConfig(), nil)

	cfg := testConfig()
	cfg.Port = first.Addr().(*net.TCPAddr).Port
	second, err := NewOutput("other", cfg, component.Dependencies{})
	require.NoError(t, err)

	err = second.Enter(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.NoError(t, second.Close())
}

func TestOutput_MetricsRegisteredOnce(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	_, err := NewOutput("scope", testConfig(), component.Dependencies{MetricsRegistry: registry})
	require.NoError(t, err)
	_, err = NewOutput("scope", testConfig(), component.Dependencies{MetricsRegistry: registry})
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Port = -1 }},
		{"path", func(c *Config) { c.Path = "ws" }},
		{"write timeout", func(c *Config) { c.WriteTimeout = 0 }},
		{"ping interval", func(c *Config) { c.PingInterval = config.Duration(-time.Second) }},
		{"queue", func(c *Config) { c.QueueSize = 0 }},
		{"max clients", func(c *Config) { c.MaxClients = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestRegister(t *testing.T) {
	registry := component.NewRegistry()
	require.NoError(t, Register(registry))

	c, err := registry.Create("websocket", "scope",
		json.RawMessage(`{"port":9100,"path":"/frames","ping_interval":"10s"}`), component.Dependencies{})
	require.NoError(t, err)

	out := c.(*Output)
	assert.Equal(t, 9100, out.cfg.Port)
	assert.Equal(t, "/frames", out.cfg.Path)
	assert.Equal(t, 10*time.Second, out.cfg.PingInterval.D())
	assert.Equal(t, 64, out.cfg.QueueSize, "defaults kept")
	assert.Equal(t, component.KindConsumer, out.Meta().Kind)
}

package udp

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"math"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sigstream/component"
	"github.com/c360/sigstream/errors"
	"github.com/c360/sigstream/metric"
	"github.com/c360/sigstream/stream"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Bind = "127.0.0.1"
	cfg.Port = 0
	cfg.Dim = 2
	cfg.Num = 3
	cfg.QueueSize = 8
	return cfg
}

func connected(t *testing.T, cfg Config, registry *metric.MetricsRegistry) (*Input, net.Conn) {
	t.Helper()
	u, err := NewInput("dev", cfg, component.Dependencies{MetricsRegistry: registry})
	require.NoError(t, err)
	require.NoError(t, u.Connect(context.Background()))
	t.Cleanup(func() {
		_ = u.Disconnect()
		_ = u.Close()
	})

	conn, err := net.Dial("udp", u.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return u, conn
}

func float64s(values ...float64) []byte {
	b := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(b[8*i:], math.Float64bits(v))
	}
	return b
}

func float32s(values ...float32) []byte {
	b := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(v))
	}
	return b
}

func newChunk(t *testing.T, u *Input) *stream.Stream {
	t.Helper()
	spec := u.Channels()[0].Spec()
	s, err := stream.NewFromSpec(spec, spec.Num, 0)
	require.NoError(t, err)
	return s
}

func TestInput_ReceivesSamples(t *testing.T) {
	u, conn := connected(t, testConfig(), nil)
	assert.True(t, u.CheckConnection())

	// two samples in one datagram, one in the next
	_, err := conn.Write(float64s(1, 2, 3, 4))
	require.NoError(t, err)
	_, err = conn.Write(float64s(5, 6))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return u.queue.Size() == 3 }, 2*time.Second, 5*time.Millisecond)

	out := newChunk(t, u)
	fresh, err := u.Channels()[0].Process(context.Background(), out)
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, out.MustDoubles())

	fresh, err = u.Channels()[0].Process(context.Background(), out)
	require.NoError(t, err)
	assert.False(t, fresh, "queue drained")
}

func TestInput_PartialChunkIsZeroPadded(t *testing.T) {
	u, conn := connected(t, testConfig(), nil)

	_, err := conn.Write(float64s(7, 8))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return u.queue.Size() == 1 }, 2*time.Second, 5*time.Millisecond)

	out := newChunk(t, u)
	out.MustDoubles()[5] = 99
	fresh, err := u.Channels()[0].Process(context.Background(), out)
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.Equal(t, []float64{7, 8, 0, 0, 0, 0}, out.MustDoubles())
}

func TestInput_Float32(t *testing.T) {
	cfg := testConfig()
	cfg.Format = FormatFloat32
	cfg.Dim = 1
	u, conn := connected(t, cfg, nil)

	_, err := conn.Write(float32s(0.5, -1.5, 2))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return u.queue.Size() == 3 }, 2*time.Second, 5*time.Millisecond)

	out := newChunk(t, u)
	_, err = u.Channels()[0].Process(context.Background(), out)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, -1.5, 2}, out.MustDoubles())
}

func TestInput_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	u, conn := connected(t, testConfig(), registry)

	_, err := conn.Write(float64s(1, 2))
	require.NoError(t, err)
	_, err = conn.Write([]byte{1, 2, 3})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(u.metrics.packetsReceived) == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(u.metrics.packetsMalformed))
	assert.Equal(t, 19.0, testutil.ToFloat64(u.metrics.bytesReceived))
	assert.Equal(t, 1, u.queue.Size())

	flow := u.DataFlow()
	assert.Equal(t, int64(2), flow.Frames)
	assert.InDelta(t, 0.5, flow.ErrorRate, 1e-9)
	assert.False(t, flow.LastActivity.IsZero())

	_, err = NewInput("dev", testConfig(), component.Dependencies{MetricsRegistry: registry})
	assert.Error(t, err, "metrics already registered for this name")
}

func TestInput_DropsOldestWhenFull(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	cfg := testConfig()
	cfg.Dim = 1
	cfg.Num = 2
	cfg.QueueSize = 4
	u, conn := connected(t, cfg, registry)

	_, err := conn.Write(float64s(1, 2, 3, 4, 5, 6))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(u.metrics.samplesDropped) == 2
	}, 2*time.Second, 5*time.Millisecond)

	out := newChunk(t, u)
	_, err = u.Channels()[0].Process(context.Background(), out)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 4}, out.MustDoubles())
}

func TestInput_Disconnect(t *testing.T) {
	u, err := NewInput("dev", testConfig(), component.Dependencies{})
	require.NoError(t, err)

	assert.False(t, u.CheckConnection())
	assert.Nil(t, u.Addr())
	require.NoError(t, u.Disconnect(), "disconnect before connect")

	require.NoError(t, u.Connect(context.Background()))
	require.NoError(t, u.Connect(context.Background()), "connect is idempotent")
	require.NoError(t, u.Disconnect())
	assert.False(t, u.CheckConnection())
	assert.False(t, u.Health().Healthy)
	require.NoError(t, u.Close())
}

func TestInput_BindConflict(t *testing.T) {
	taken, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	cfg := testConfig()
	cfg.Port = taken.LocalAddr().(*net.UDPAddr).Port
	u, err := NewInput("dev", cfg, component.Dependencies{})
	require.NoError(t, err)

	err = u.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err), "the framework retries transient connect failures")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Port = 70000 }},
		{"channel", func(c *Config) { c.Channel = "" }},
		{"format", func(c *Config) { c.Format = "int16" }},
		{"dim", func(c *Config) { c.Dim = 0 }},
		{"rate", func(c *Config) { c.SampleRate = 0 }},
		{"num", func(c *Config) { c.Num = 0 }},
		{"queue", func(c *Config) { c.QueueSize = c.Num - 1 }},
		{"labels", func(c *Config) { c.Labels = []string{"a", "b"} }},
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

	c, err := registry.Create("udp", "imu", json.RawMessage(`{"port":0,"dim":3,"format":"float32"}`),
		component.Dependencies{})
	require.NoError(t, err)

	u := c.(*Input)
	spec := u.Channels()[0].Spec()
	assert.Equal(t, "samples", u.Channels()[0].Name())
	assert.Equal(t, 3, spec.Dim)
	assert.Equal(t, stream.TypeDouble, spec.Type)
	assert.Equal(t, component.KindSensor, u.Meta().Kind)
}

package pipeline

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sigstream/component"
	"github.com/c360/sigstream/config"
	"github.com/c360/sigstream/errors"
	"github.com/c360/sigstream/netsync"
	"github.com/c360/sigstream/pkg/buffer"
	"github.com/c360/sigstream/stream"
)

func TestStart_Twice(t *testing.T) {
	fw, err := New(testConfig())
	require.NoError(t, err)

	require.NoError(t, fw.Start(context.Background()))
	err = fw.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrAlreadyStarted)

	require.NoError(t, fw.Stop())
	err = fw.Start(context.Background())
	assert.ErrorIs(t, err, errors.ErrAlreadyStopped, "a stopped framework cannot restart")
}

func TestStop_BeforeStart(t *testing.T) {
	fw, err := New(testConfig())
	require.NoError(t, err)

	sensor := newRampSensor("s", newRampChannel("a", 10, 1))
	outs, err := fw.AddSensor(sensor)
	require.NoError(t, err)
	rec := &recorder{name: "rec"}
	require.NoError(t, fw.AddConsumer(rec, outs, 0.1, 0))

	require.NoError(t, fw.Stop())
	require.NoError(t, fw.Stop(), "idempotent")

	assert.True(t, fw.IsTerminating())
	assert.Equal(t, 1, rec.closes)
	assert.Equal(t, int32(1), sensor.closes.Load())
	assert.True(t, outs[0].Buffer().IsClosed())

	state, _ := fw.State("rec")
	assert.Equal(t, component.StateClosed, state)
}

func TestStop_FlushesClosesAndDisconnects(t *testing.T) {
	fw, err := New(testConfig())
	require.NoError(t, err)

	sensor := newRampSensor("s", newRampChannel("a", 20, 2))
	outs, err := fw.AddSensor(sensor)
	require.NoError(t, err)
	rec := &recorder{name: "rec"}
	require.NoError(t, fw.AddConsumer(rec, outs, 0.1, 0))

	require.NoError(t, fw.Start(context.Background()))
	waitFrames(t, rec, 1, 5*time.Second)

	require.NoError(t, fw.Stop(), "component close errors are only logged")

	assert.False(t, fw.IsRunning())
	assert.True(t, fw.IsTerminating())
	assert.Equal(t, 1, rec.flushes)
	assert.Equal(t, 1, rec.closes)
	assert.Equal(t, int32(1), sensor.disconnects.Load())
	assert.Equal(t, buffer.StatusError, outs[0].Buffer().Get(make([]byte, 8), 0, 0.05))

	for _, name := range []string{"s", "s.a", "rec"} {
		state, _ := fw.State(name)
		assert.Equal(t, component.StateClosed, state, name)
	}
	assert.True(t, fw.Health().IsUnhealthy())
}

// stuckConsumer ignores cancellation until released.
type stuckConsumer struct {
	name    string
	release chan struct{}
}

func (s *stuckConsumer) Name() string { return s.name }

func (s *stuckConsumer) Consume(context.Context, []*stream.Stream) error {
	<-s.release
	return nil
}

func TestStop_Timeout(t *testing.T) {
	cfg := testConfig()
	cfg.ShutdownTimeout = config.Duration(100 * time.Millisecond)
	fw, err := New(cfg)
	require.NoError(t, err)

	outs, err := fw.AddSensor(newRampSensor("s", newRampChannel("a", 20, 2)))
	require.NoError(t, err)
	stuck := &stuckConsumer{name: "stuck", release: make(chan struct{})}
	defer close(stuck.release)
	require.NoError(t, fw.AddConsumer(stuck, outs, 0.1, 0))

	require.NoError(t, fw.Start(context.Background()))
	require.Eventually(t, func() bool { return fw.Time() > 0.3 }, 5*time.Second, 10*time.Millisecond)

	err = fw.Stop()
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, err, fw.Stop(), "later calls report the same outcome")
}

func TestStart_Countdown(t *testing.T) {
	cfg := testConfig()
	cfg.Countdown = config.Duration(200 * time.Millisecond)
	fw, err := New(cfg)
	require.NoError(t, err)

	started := time.Now()
	require.NoError(t, fw.Start(context.Background()))
	defer fw.Stop()

	assert.GreaterOrEqual(t, time.Since(started), 200*time.Millisecond)
	assert.True(t, fw.IsRunning())
	assert.Less(t, fw.Time(), 0.2, "clock starts after the countdown")
}

func TestStart_CountdownCancelled(t *testing.T) {
	cfg := testConfig()
	cfg.Countdown = config.Duration(time.Minute)
	fw, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = fw.Start(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.False(t, fw.IsRunning())
	assert.True(t, fw.IsTerminating(), "an aborted start stops the pipeline")
}

func TestStart_StopDuringCountdown(t *testing.T) {
	cfg := testConfig()
	cfg.Countdown = config.Duration(time.Minute)
	fw, err := New(cfg)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- fw.Start(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, fw.Stop())

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
	assert.False(t, fw.IsRunning())
}

func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, conn.Close())
	return port
}

func TestStart_WaitsForNetworkSignal(t *testing.T) {
	port := freeUDPPort(t)
	cfg := testConfig()
	cfg.NetSync = config.NetSync{Enabled: true, Role: config.RoleServer, Bind: "127.0.0.1", Port: port}
	fw, err := New(cfg)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- fw.Start(context.Background()) }()
	defer fw.Stop()

	time.Sleep(200 * time.Millisecond)
	assert.False(t, fw.IsRunning(), "server holds Start until the signal")

	client, err := netsync.NewClient("127.0.0.1", port)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_ = client.Broadcast(context.Background())
		return fw.IsRunning()
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, <-done)
	status, ok := fw.Monitor().Get("netsync")
	require.True(t, ok)
	assert.True(t, status.IsHealthy())
}

func TestStart_NetSyncTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.NetSync = config.NetSync{
		Enabled: true,
		Role:    config.RoleServer,
		Bind:    "127.0.0.1",
		Port:    freeUDPPort(t),
		Timeout: config.Duration(150 * time.Millisecond),
	}
	fw, err := New(cfg)
	require.NoError(t, err)

	err = fw.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrConnectionTimeout)
	assert.False(t, fw.IsRunning())

	status, ok := fw.Monitor().Get("netsync")
	require.True(t, ok)
	assert.True(t, status.IsUnhealthy())
}

func TestStart_NetSyncClient(t *testing.T) {
	port := freeUDPPort(t)
	server, err := netsync.NewServer("127.0.0.1", port, 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, server.Open(context.Background()))

	received := make(chan error, 1)
	go func() { received <- server.Wait(context.Background()) }()

	cfg := testConfig()
	cfg.NetSync = config.NetSync{Enabled: true, Role: config.RoleClient, Host: "127.0.0.1", Port: port}
	fw, err := New(cfg)
	require.NoError(t, err)

	require.NoError(t, fw.Start(context.Background()))
	defer fw.Stop()
	assert.True(t, fw.IsRunning())
	require.NoError(t, <-received)
}

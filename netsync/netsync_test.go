package netsync

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sigstream/errors"
	"github.com/c360/sigstream/metric"
)

func openServer(t *testing.T, timeout time.Duration, opts ...Option) (*Server, int) {
	t.Helper()
	s, err := NewServer("127.0.0.1", 0, timeout, opts...)
	require.NoError(t, err)
	require.NoError(t, s.Open(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s, s.Addr().(*net.UDPAddr).Port
}

func send(t *testing.T, port int, payload []byte) {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(payload)
	require.NoError(t, err)
}

func TestIsMagic(t *testing.T) {
	assert.True(t, IsMagic([]byte{'S', 'S', 'J', 1}))
	assert.False(t, IsMagic([]byte{'S', 'S', 'J', 2}))
	assert.False(t, IsMagic([]byte{'S', 'S', 'J', 1, 0}))
	assert.False(t, IsMagic([]byte{'S', 'S', 'J'}))
}

func TestServer_StaysBlockedUntilMagic(t *testing.T) {
	s, port := openServer(t, 0)

	done := make(chan error, 1)
	go func() { done <- s.Wait(context.Background()) }()

	// wrong payloads are ignored
	send(t, port, []byte("hello"))
	send(t, port, []byte{'S', 'S', 'J', 0x02})
	select {
	case err := <-done:
		t.Fatalf("server released early: %v", err)
	case <-time.After(300 * time.Millisecond):
	}

	client, err := NewClient("127.0.0.1", port)
	require.NoError(t, err)
	require.NoError(t, client.Broadcast(context.Background()))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not release after start datagram")
	}
	assert.Nil(t, s.Addr(), "socket closed after Wait")
}

func TestServer_Timeout(t *testing.T) {
	s, _ := openServer(t, 150*time.Millisecond)

	start := time.Now()
	err := s.Wait(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrConnectionTimeout)
	assert.True(t, errors.IsTransient(err))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestServer_ContextCancel(t *testing.T) {
	s, _ := openServer(t, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Wait(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Wait ignored cancellation")
	}
}

func TestServer_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	s, port := openServer(t, 0, WithMetrics(registry))

	done := make(chan error, 1)
	go func() { done <- s.Wait(context.Background()) }()

	send(t, port, []byte("noise"))
	send(t, port, Magic[:])
	require.NoError(t, <-done)

	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.datagrams.WithLabelValues("ignored")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.datagrams.WithLabelValues("accepted")))

	// a second server on the same registry collides
	_, err := NewServer("127.0.0.1", 0, 0, WithMetrics(registry))
	assert.Error(t, err)
}

func TestConstructors_Validate(t *testing.T) {
	_, err := NewClient("255.255.255.255", 0)
	assert.True(t, errors.IsInvalid(err))

	_, err = NewServer("", 70000, 0)
	assert.True(t, errors.IsInvalid(err))

	_, err = NewServer("", 1111, -time.Second)
	assert.True(t, errors.IsInvalid(err))

	c, err := NewClient("255.255.255.255", 1111)
	require.NoError(t, err)
	assert.Equal(t, "255.255.255.255:1111", c.Addr())
}

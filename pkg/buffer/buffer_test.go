package buffer

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sigstream/errors"
	"github.com/c360/sigstream/metric"
)

func TestCircularBufferBasicOperations(t *testing.T) {
	buf, err := NewCircularBuffer[string](3)
	require.NoError(t, err)
	defer buf.Close()

	for _, s := range []string{"first", "second", "third"} {
		if err := buf.Write(s); err != nil {
			t.Fatalf("Failed to write: %v", err)
		}
	}
	if buf.Size() != 3 {
		t.Errorf("Expected size 3, got %d", buf.Size())
	}
	if buf.Capacity() != 3 {
		t.Errorf("Expected capacity 3, got %d", buf.Capacity())
	}

	value, ok := buf.Read()
	require.True(t, ok)
	assert.Equal(t, "first", value)
	assert.Equal(t, 2, buf.Size())
}

func TestCircularBufferOverflowPolicies(t *testing.T) {
	testCases := []struct {
		name     string
		policy   OverflowPolicy
		expected []int
		dropped  []int
	}{
		{"DropOldest", DropOldest, []int{3, 4, 5}, []int{1, 2}},
		{"DropNewest", DropNewest, []int{1, 2, 3}, []int{4, 5}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var dropped []int
			buf, err := NewCircularBuffer[int](3,
				WithOverflowPolicy[int](tc.policy),
				WithDropCallback[int](func(i int) { dropped = append(dropped, i) }),
			)
			require.NoError(t, err)
			defer buf.Close()

			for i := 1; i <= 5; i++ {
				require.NoError(t, buf.Write(i))
			}

			var result []int
			for buf.Size() > 0 {
				v, _ := buf.Read()
				result = append(result, v)
			}
			assert.Equal(t, tc.expected, result)
			assert.Equal(t, tc.dropped, dropped)
			assert.Equal(t, int64(2), buf.Stats().Drops())
			assert.Equal(t, int64(2), buf.Stats().Overflows())
		})
	}
}

func TestCircularBufferReadWithContext(t *testing.T) {
	buf, err := NewCircularBuffer[int](4)
	require.NoError(t, err)
	defer buf.Close()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = buf.Write(7)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := buf.ReadWithContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestCircularBufferReadWithContextCancelled(t *testing.T) {
	buf, err := NewCircularBuffer[int](4)
	require.NoError(t, err)
	defer buf.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = buf.ReadWithContext(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestCircularBufferCloseDrainsThenFails(t *testing.T) {
	buf, err := NewCircularBuffer[int](4)
	require.NoError(t, err)

	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Close())
	require.NoError(t, buf.Close())

	err = buf.Write(2)
	assert.ErrorIs(t, err, errors.ErrBufferClosed)

	v, err := buf.ReadWithContext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	_, err = buf.ReadWithContext(context.Background())
	assert.ErrorIs(t, err, errors.ErrBufferClosed)
}

func TestCircularBufferCloseWakesReader(t *testing.T) {
	buf, err := NewCircularBuffer[int](1)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := buf.ReadWithContext(context.Background())
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, buf.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, errors.ErrBufferClosed)
	case <-time.After(time.Second):
		t.Fatal("reader was not woken by Close")
	}
}

func TestBlockingPolicyWithTimeout(t *testing.T) {
	buf, err := NewCircularBuffer[int](2, WithOverflowPolicy[int](Block))
	require.NoError(t, err)
	defer buf.Close()

	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Write(2))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = buf.(*circularBuffer[int]).WriteWithContext(ctx, 3)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestBlockingPolicyUnblocksOnRead(t *testing.T) {
	buf, err := NewCircularBuffer[int](1, WithOverflowPolicy[int](Block))
	require.NoError(t, err)
	defer buf.Close()

	require.NoError(t, buf.Write(1))

	written := make(chan error, 1)
	go func() { written <- buf.Write(2) }()

	time.Sleep(20 * time.Millisecond)
	v, ok := buf.Read()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	select {
	case err := <-written:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked writer did not resume")
	}
	v, _ = buf.Read()
	assert.Equal(t, 2, v)
}

func TestCircularBufferClear(t *testing.T) {
	var dropped []int
	buf, err := NewCircularBuffer[int](3, WithDropCallback[int](func(i int) { dropped = append(dropped, i) }))
	require.NoError(t, err)

	_ = buf.Write(1)
	_ = buf.Write(2)
	buf.Clear()

	assert.Equal(t, 0, buf.Size())
	assert.Equal(t, []int{1, 2}, dropped)
}

func TestCircularBufferThreadSafety(t *testing.T) {
	buf, err := NewCircularBuffer[int](100)
	require.NoError(t, err)
	defer buf.Close()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				_ = buf.Write(w*1000 + i)
			}
		}(w)
	}

	var reads sync.WaitGroup
	reads.Add(1)
	go func() {
		defer reads.Done()
		for i := 0; i < 500; i++ {
			buf.Read()
		}
	}()

	wg.Wait()
	reads.Wait()
	assert.Equal(t, int64(1000), buf.Stats().Writes())
}

func TestCircularBufferMetrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	buf, err := NewCircularBuffer[int](2, WithMetrics[int](registry, "events"))
	require.NoError(t, err)
	_ = buf.Write(1)

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["sigstream_queue_writes_total"])
	assert.True(t, names["sigstream_queue_size"])

	_, err = NewCircularBuffer[int](2, WithMetrics[int](registry, "events"))
	assert.Error(t, err, "duplicate queue name must not register twice")
}

func TestBlockingPolicyNoGoroutineLeaks(t *testing.T) {
	initial := runtime.NumGoroutine()

	buf, err := NewCircularBuffer[int](1, WithOverflowPolicy[int](Block))
	require.NoError(t, err)
	defer buf.Close()
	_ = buf.Write(1)

	for i := 0; i < 10; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		_ = buf.(*circularBuffer[int]).WriteWithContext(ctx, i)
		cancel()
	}

	time.Sleep(50 * time.Millisecond)
	if final := runtime.NumGoroutine(); final > initial+2 {
		t.Errorf("Potential goroutine leak: started with %d, ended with %d", initial, final)
	}
}

func TestOverflowPolicyString(t *testing.T) {
	assert.Equal(t, "DropOldest", DropOldest.String())
	assert.Equal(t, "DropNewest", DropNewest.String())
	assert.Equal(t, "Block", Block.String())
	assert.Equal(t, "Unknown", OverflowPolicy(9).String())
}

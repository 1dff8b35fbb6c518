package buffer

import (
	"context"
	"sync"

	"github.com/c360/sigstream/errors"
)

type circularBuffer[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	size     int
	head     int // next write
	tail     int // next read
	closed   bool

	notEmpty *sync.Cond
	notFull  *sync.Cond

	stats   *Statistics
	metrics *queueMetrics
	opts    *bufferOptions[T]
}

func newCircularBuffer[T any](capacity int, opts *bufferOptions[T]) (*circularBuffer[T], error) {
	capacity = max(capacity, 1)

	var metrics *queueMetrics
	if opts.metricsReg != nil {
		var err error
		metrics, err = newQueueMetrics(opts.metricsReg, opts.metricsName)
		if err != nil {
			return nil, errors.WrapTransient(err, "Buffer", "New", "metrics registration")
		}
	}

	cb := &circularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		stats:    NewStatistics(),
		metrics:  metrics,
		opts:     opts,
	}
	cb.notEmpty = sync.NewCond(&cb.mu)
	cb.notFull = sync.NewCond(&cb.mu)
	return cb, nil
}

func (cb *circularBuffer[T]) Write(item T) error {
	return cb.WriteWithContext(context.Background(), item)
}

// WriteWithContext is Write that gives up waiting under the Block policy
// when ctx is done.
func (cb *circularBuffer[T]) WriteWithContext(ctx context.Context, item T) error {
	var dropped []T

	cb.mu.Lock()
	err := cb.writeLocked(ctx, item, &dropped)
	cb.mu.Unlock()

	if cb.opts.dropCallback != nil {
		for _, d := range dropped {
			cb.opts.dropCallback(d)
		}
	}
	return err
}

func (cb *circularBuffer[T]) writeLocked(ctx context.Context, item T, dropped *[]T) error {
	if cb.closed {
		return errors.WrapInvalid(errors.ErrBufferClosed, "Buffer", "Write", "buffer closed")
	}

	if cb.size == cb.capacity {
		cb.stats.Overflow()
		switch cb.opts.overflowPolicy {
		case DropOldest:
			*dropped = append(*dropped, cb.pop())
			cb.recordDrop()

		case DropNewest:
			*dropped = append(*dropped, item)
			cb.recordDrop()
			return nil

		case Block:
			stop := context.AfterFunc(ctx, func() {
				cb.mu.Lock()
				cb.notFull.Broadcast()
				cb.mu.Unlock()
			})
			defer stop()

			for cb.size == cb.capacity && !cb.closed {
				if err := ctx.Err(); err != nil {
					return err
				}
				cb.notFull.Wait()
			}
			if cb.closed {
				return errors.WrapInvalid(errors.ErrBufferClosed, "Buffer", "Write", "buffer closed during wait")
			}
		}
	}

	cb.items[cb.head] = item
	cb.head = (cb.head + 1) % cb.capacity
	cb.size++

	cb.stats.Write()
	cb.stats.UpdateSize(int64(cb.size))
	if cb.metrics != nil {
		cb.metrics.writes.Inc()
		cb.metrics.updateSize(cb.size, cb.capacity)
	}
	cb.notEmpty.Signal()
	return nil
}

func (cb *circularBuffer[T]) recordDrop() {
	cb.stats.Drop()
	if cb.metrics != nil {
		cb.metrics.drops.Inc()
	}
}

// pop removes the oldest item. The caller holds mu and size > 0.
func (cb *circularBuffer[T]) pop() T {
	var zero T
	item := cb.items[cb.tail]
	cb.items[cb.tail] = zero
	cb.tail = (cb.tail + 1) % cb.capacity
	cb.size--
	return item
}

func (cb *circularBuffer[T]) Read() (T, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.size == 0 {
		var zero T
		return zero, false
	}
	return cb.readLocked(), true
}

func (cb *circularBuffer[T]) readLocked() T {
	item := cb.pop()
	cb.stats.Read()
	cb.stats.UpdateSize(int64(cb.size))
	if cb.metrics != nil {
		cb.metrics.reads.Inc()
		cb.metrics.updateSize(cb.size, cb.capacity)
	}
	cb.notFull.Signal()
	return item
}

func (cb *circularBuffer[T]) ReadWithContext(ctx context.Context) (T, error) {
	var zero T

	stop := context.AfterFunc(ctx, func() {
		cb.mu.Lock()
		cb.notEmpty.Broadcast()
		cb.mu.Unlock()
	})
	defer stop()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	for cb.size == 0 {
		if cb.closed {
			return zero, errors.WrapInvalid(errors.ErrBufferClosed, "Buffer", "ReadWithContext", "buffer closed")
		}
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		cb.notEmpty.Wait()
	}
	return cb.readLocked(), nil
}

func (cb *circularBuffer[T]) Size() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.size
}

func (cb *circularBuffer[T]) Capacity() int {
	return cb.capacity
}

func (cb *circularBuffer[T]) Clear() {
	cb.mu.Lock()
	var dropped []T
	for cb.size > 0 {
		dropped = append(dropped, cb.pop())
	}
	cb.head, cb.tail = 0, 0
	cb.stats.UpdateSize(0)
	if cb.metrics != nil {
		cb.metrics.updateSize(0, cb.capacity)
	}
	cb.notFull.Broadcast()
	cb.mu.Unlock()

	if cb.opts.dropCallback != nil {
		for _, d := range dropped {
			cb.opts.dropCallback(d)
		}
	}
}

func (cb *circularBuffer[T]) Stats() *Statistics {
	return cb.stats
}

func (cb *circularBuffer[T]) Close() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.closed {
		return nil
	}
	cb.closed = true
	cb.notEmpty.Broadcast()
	cb.notFull.Broadcast()
	return nil
}

package buffer

import "context"

// Buffer is a bounded FIFO queue. Event channels use it between producers
// and the dispatcher goroutine.
type Buffer[T any] interface {
	// Write enqueues item, applying the overflow policy when full.
	Write(item T) error

	// Read dequeues one item without blocking.
	Read() (T, bool)

	// ReadWithContext blocks until an item is available, the buffer is
	// closed and drained, or ctx is done.
	ReadWithContext(ctx context.Context) (T, error)

	// Size returns the number of queued items.
	Size() int

	// Capacity returns the maximum number of queued items.
	Capacity() int

	// Clear discards all queued items.
	Clear()

	// Stats returns the always-on statistics.
	Stats() *Statistics

	// Close stops accepting writes and wakes blocked readers and writers.
	Close() error
}

// OverflowPolicy decides what Write does on a full buffer.
type OverflowPolicy int

const (
	// DropOldest discards the oldest item.
	DropOldest OverflowPolicy = iota

	// DropNewest discards the item being written.
	DropNewest

	// Block waits for space.
	Block
)

// String returns the policy name.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	case Block:
		return "Block"
	default:
		return "Unknown"
	}
}

// DropCallback receives items discarded by the overflow policy or Clear.
type DropCallback[T any] func(item T)

// NewCircularBuffer creates a bounded queue. Capacity below one is raised
// to one.
func NewCircularBuffer[T any](capacity int, options ...Option[T]) (Buffer[T], error) {
	return newCircularBuffer(capacity, applyOptions(options...))
}

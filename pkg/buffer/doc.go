// Package buffer provides the pipeline's two buffer kinds: TimeBuffer, a
// time-addressed sample ring shared by one writer and many readers, and a
// generic bounded queue (CircularBuffer) used for event delivery.
//
// # TimeBuffer
//
// A TimeBuffer keeps the last Capacity samples of one stream. The writer
// appends raw little-endian samples with Push, or zero samples with
// PushZeroes to keep the buffer aligned with wall-clock time while a source
// is silent. Readers copy windows by time or by absolute sample index:
//
//	buf, _ := buffer.NewTimeBuffer("imu.acc", spec, 5.0,
//		buffer.WithTimeMetrics(registry),
//	)
//	buf.Push(raw, len(raw))
//
//	out := make([]byte, buf.SamplesFor(1.0)*int64(buf.SampleBytes()))
//	switch st := buf.Get(out, 2.0, 1.0); st {
//	case buffer.StatusOK:
//	case buffer.StatusDataNotInBufferYet:
//		// retry later, or use GetWait
//	default:
//		// skip this window
//	}
//
// Every time to sample conversion rounds half up: round(t*SampleRate).
// The write cursor is an absolute sample count and never wraps, so a stale
// window is detected by comparing absolute indices regardless of where the
// physical ring has wrapped.
//
// Get never blocks. GetWait waits on a condition variable until the window
// is available, the buffer closes, or the context is done.
//
// # CircularBuffer
//
// NewCircularBuffer returns a bounded FIFO with DropOldest, DropNewest or
// Block overflow policies and a blocking ReadWithContext.
//
// # Observability
//
// Statistics are always collected and available through Stats(). Prometheus
// export is enabled with WithTimeMetrics or WithMetrics.
package buffer

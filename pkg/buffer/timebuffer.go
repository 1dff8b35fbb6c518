package buffer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/c360/sigstream/errors"
	"github.com/c360/sigstream/stream"
)

// TimeBuffer is a ring of one provider's recent samples, addressed by time or
// absolute sample index rather than by read position. It has a single writer
// and any number of readers.
//
// The write cursor is an absolute sample count that never wraps; physical
// storage wraps at Capacity samples. A window is readable while it lies in
// [cursor-Capacity, cursor).
type TimeBuffer struct {
	name        string
	spec        stream.Spec
	sampleBytes int
	capacity    int64
	tolerance   int64

	mu       sync.RWMutex
	cond     *sync.Cond // broadcast on push and close, bound to mu
	data     []byte
	position int64
	closed   bool

	scratch sync.Pool

	stats   *Statistics
	metrics *timeMetrics
	logger  *slog.Logger
}

// NewTimeBuffer allocates a buffer holding bufferSize seconds of spec-shaped
// samples. Capacity is round(bufferSize*SampleRate), at least one sample.
func NewTimeBuffer(name string, spec stream.Spec, bufferSize float64, options ...TimeOption) (*TimeBuffer, error) {
	if err := spec.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "TimeBuffer", "New", "spec validation")
	}
	if !(bufferSize > 0) || math.IsInf(bufferSize, 0) {
		return nil, errors.WrapInvalid(fmt.Errorf("buffer size %v must be a positive number of seconds", bufferSize),
			"TimeBuffer", "New", "size validation")
	}

	capf := math.Floor(bufferSize*spec.SampleRate + 0.5)
	if capf > math.MaxInt32 {
		return nil, errors.WrapInvalid(fmt.Errorf("%v seconds at %v Hz is too large", bufferSize, spec.SampleRate),
			"TimeBuffer", "New", "size validation")
	}
	capacity := max(int64(capf), 1)

	opts := applyTimeOptions(options...)
	b := &TimeBuffer{
		name:        name,
		spec:        spec,
		sampleBytes: spec.SampleBytes(),
		capacity:    capacity,
		tolerance:   samplesAt(opts.syncTolerance, spec.SampleRate),
		data:        make([]byte, capacity*int64(spec.SampleBytes())),
		stats:       NewStatistics(),
		logger:      opts.logger.With("buffer", name),
	}
	b.cond = sync.NewCond(&b.mu)

	if opts.metricsReg != nil {
		m, err := newTimeMetrics(opts.metricsReg, name)
		if err != nil {
			return nil, errors.WrapTransient(err, "TimeBuffer", "New", "metrics registration")
		}
		b.metrics = m
	}

	return b, nil
}

// samplesAt converts seconds to samples, rounding half up. It is the only
// time-to-index rule used by the buffer.
func samplesAt(t, sampleRate float64) int64 {
	return int64(math.Floor(t*sampleRate + 0.5))
}

// Name returns the buffer name.
func (b *TimeBuffer) Name() string { return b.name }

// Spec returns the shape of the buffered stream.
func (b *TimeBuffer) Spec() stream.Spec { return b.spec }

// SampleRate returns samples per second.
func (b *TimeBuffer) SampleRate() float64 { return b.spec.SampleRate }

// Capacity returns the number of samples retained.
func (b *TimeBuffer) Capacity() int64 { return b.capacity }

// Duration returns the time span retained, in seconds.
func (b *TimeBuffer) Duration() float64 { return float64(b.capacity) / b.spec.SampleRate }

// SampleBytes returns the width of one sample.
func (b *TimeBuffer) SampleBytes() int { return b.sampleBytes }

// Stats returns the always-on statistics.
func (b *TimeBuffer) Stats() *Statistics { return b.stats }

// SamplesFor converts a duration into samples using the buffer's rounding rule.
func (b *TimeBuffer) SamplesFor(seconds float64) int64 {
	return samplesAt(seconds, b.spec.SampleRate)
}

// Position returns the absolute write cursor.
func (b *TimeBuffer) Position() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.position
}

// Time returns the time of the write cursor in seconds.
func (b *TimeBuffer) Time() float64 {
	return float64(b.Position()) / b.spec.SampleRate
}

// IsClosed reports whether Close has been called.
func (b *TimeBuffer) IsClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// Push appends the whole samples contained in data[:numBytes]. Trailing
// bytes that do not form a whole sample are discarded. When more than
// Capacity samples are pushed only the newest are kept, but the cursor
// still advances by the full count. Push on a closed buffer does nothing.
func (b *TimeBuffer) Push(data []byte, numBytes int) {
	numBytes = min(numBytes, len(data))
	n := int64(numBytes / b.sampleBytes)
	if n <= 0 {
		return
	}
	if rem := numBytes % b.sampleBytes; rem != 0 {
		b.logger.Debug("Discarding partial sample", "bytes", rem)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	src := data[:n*int64(b.sampleBytes)]
	b.writeLocked(n, func(dst []byte, from int64) {
		copy(dst, src[from*int64(b.sampleBytes):])
	})
	b.mu.Unlock()

	b.stats.Samples(n)
	if b.metrics != nil {
		b.metrics.samples.Add(float64(n))
	}
}

// PushStream appends the logical samples of s. The stream must match the
// buffer's dimension and element width.
func (b *TimeBuffer) PushStream(s *stream.Stream) error {
	if s.Dim() != b.spec.Dim || s.Bytes() != b.spec.Bytes {
		return errors.WrapInvalid(
			fmt.Errorf("stream %dx%dB does not match buffer %dx%dB", s.Dim(), s.Bytes(), b.spec.Dim, b.spec.Bytes),
			"TimeBuffer", "PushStream", "shape check")
	}
	if raw, err := s.Raw(); err == nil {
		b.Push(raw, len(raw))
		return nil
	}

	buf := b.getScratch(s.TotalBytes())
	defer b.scratch.Put(buf)
	n, err := s.Encode(*buf)
	if err != nil {
		return errors.Wrap(err, "TimeBuffer", "PushStream", "encode")
	}
	b.Push(*buf, n)
	return nil
}

// PushZeroes appends n zero samples.
func (b *TimeBuffer) PushZeroes(n int) {
	b.pushZeroes(int64(n))
}

// PushZeroesFor appends round(seconds*SampleRate) zero samples.
func (b *TimeBuffer) PushZeroesFor(seconds float64) {
	b.pushZeroes(b.SamplesFor(seconds))
}

func (b *TimeBuffer) pushZeroes(n int64) {
	if n <= 0 {
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.writeLocked(n, func(dst []byte, _ int64) {
		clear(dst)
	})
	b.mu.Unlock()

	b.stats.Zeroes(n)
	if b.metrics != nil {
		b.metrics.zeroes.Add(float64(n))
	}
}

// writeLocked advances the cursor by n samples. fill is called with the
// destination region and the index of its first sample within the n being
// written; it is called at most twice when the region wraps.
func (b *TimeBuffer) writeLocked(n int64, fill func(dst []byte, from int64)) {
	skip := int64(0)
	if n > b.capacity {
		skip = n - b.capacity
	}
	count := n - skip
	overwritten := b.position + n - b.capacity
	overwritten = min(max(overwritten, 0), n)

	at := (b.position + skip) % b.capacity
	first := min(count, b.capacity-at)
	sb := int64(b.sampleBytes)
	fill(b.data[at*sb:(at+first)*sb], skip)
	if rest := count - first; rest > 0 {
		fill(b.data[:rest*sb], skip+first)
	}

	b.position += n
	b.stats.Write()
	b.stats.UpdateSize(min(b.position, b.capacity))
	if overwritten > 0 {
		b.stats.Overflow()
		b.stats.Overwritten(overwritten)
	}
	if b.metrics != nil {
		b.metrics.position.Set(float64(b.position))
	}
	b.cond.Broadcast()
}

// Get copies the window [startTime, startTime+duration) into out.
func (b *TimeBuffer) Get(out []byte, startTime, duration float64) Status {
	start, n, st := b.window(startTime, duration)
	if st != StatusOK {
		return b.record(st)
	}
	return b.GetSamples(out, start, n)
}

// GetSamples copies numSamples samples starting at absolute index
// startSample into out.
func (b *TimeBuffer) GetSamples(out []byte, startSample, numSamples int64) Status {
	b.mu.RLock()
	st := b.getLocked(out, startSample, numSamples)
	b.mu.RUnlock()
	return b.record(st)
}

// GetWait is Get that blocks while the window is not yet in the buffer.
// It returns when the window is readable, the buffer closes, or ctx is done,
// in which case the status is StatusDataNotInBufferYet.
func (b *TimeBuffer) GetWait(ctx context.Context, out []byte, startTime, duration float64) Status {
	start, n, st := b.window(startTime, duration)
	if st != StatusOK {
		return b.record(st)
	}
	return b.GetSamplesWait(ctx, out, start, n)
}

// GetSamplesWait is GetSamples that blocks like GetWait.
func (b *TimeBuffer) GetSamplesWait(ctx context.Context, out []byte, startSample, numSamples int64) Status {
	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.cond.Broadcast()
		b.mu.Unlock()
	})
	defer stop()

	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		st := b.getLocked(out, startSample, numSamples)
		if st != StatusDataNotInBufferYet || ctx.Err() != nil {
			return b.record(st)
		}
		b.cond.Wait()
	}
}

// GetStream reads [startTime, startTime+duration) into s, resizing it to the
// window length and setting its Time to the window start.
func (b *TimeBuffer) GetStream(s *stream.Stream, startTime, duration float64) Status {
	start, n, st := b.window(startTime, duration)
	if st != StatusOK {
		return b.record(st)
	}
	if s.Dim() != b.spec.Dim || s.Bytes() != b.spec.Bytes {
		b.logger.Warn("Stream shape does not match buffer",
			"stream_dim", s.Dim(), "buffer_dim", b.spec.Dim)
		return b.record(StatusError)
	}

	buf := b.getScratch(int(n) * b.sampleBytes)
	defer b.scratch.Put(buf)

	if st := b.GetSamples(*buf, start, n); st != StatusOK {
		return st
	}
	if err := s.Decode(*buf); err != nil {
		b.logger.Warn("Failed to decode window", "error", err)
		return StatusError
	}
	s.SetTime(float64(start) / b.spec.SampleRate)
	return StatusOK
}

// window converts a time range into a sample range. A closed buffer is
// reported first, then the duration, then the start.
func (b *TimeBuffer) window(startTime, duration float64) (int64, int64, Status) {
	nf := math.Floor(duration*b.spec.SampleRate + 0.5)
	switch {
	case b.IsClosed():
		return 0, 0, StatusError
	case nf <= 0:
		return 0, 0, StatusDurationTooSmall
	case math.IsNaN(nf) || math.IsInf(nf, 0) || nf > math.MaxInt32:
		return 0, 0, StatusDurationTooLarge
	}

	sf := math.Floor(startTime*b.spec.SampleRate + 0.5)
	if math.IsNaN(sf) || math.IsInf(sf, 0) {
		return 0, 0, StatusUnknownData
	}
	return int64(sf), int64(nf), StatusOK
}

func (b *TimeBuffer) getLocked(out []byte, start, n int64) Status {
	switch {
	case b.closed:
		return StatusError
	case n <= 0:
		return StatusDurationTooSmall
	case n > math.MaxInt32:
		return StatusDurationTooLarge
	case n > b.capacity:
		return StatusDataExceedsBufferSize
	case int64(len(out)) < n*int64(b.sampleBytes):
		return StatusInputArrayTooSmall
	case start < 0:
		return StatusUnknownData
	case start+n > b.position:
		return StatusDataNotInBufferYet
	case start < b.position-b.capacity:
		return StatusDataNotInBufferAnymore
	}

	sb := int64(b.sampleBytes)
	at := start % b.capacity
	first := min(n, b.capacity-at)
	copy(out, b.data[at*sb:(at+first)*sb])
	if rest := n - first; rest > 0 {
		copy(out[first*sb:], b.data[:rest*sb])
	}
	return StatusOK
}

func (b *TimeBuffer) record(st Status) Status {
	b.stats.Status(st)
	if st == StatusOK {
		b.stats.Read()
	}
	if b.metrics != nil {
		b.metrics.reads.WithLabelValues(st.String()).Inc()
	}
	return st
}

func (b *TimeBuffer) getScratch(size int) *[]byte {
	if v, ok := b.scratch.Get().(*[]byte); ok && cap(*v) >= size {
		*v = (*v)[:size]
		return v
	}
	buf := make([]byte, size)
	return &buf
}

// Sync aligns the write cursor with the pipeline clock. If the cursor lags
// round(now*SampleRate) by more than the sync tolerance, zero samples are
// pushed up to that position and their count is returned. A writer that is
// ahead is only recorded as drift. Sync is called by the writer.
func (b *TimeBuffer) Sync(now float64) int64 {
	expected := samplesAt(now, b.spec.SampleRate)

	b.mu.RLock()
	closed, pos := b.closed, b.position
	b.mu.RUnlock()
	if closed {
		return 0
	}

	lag := expected - pos
	b.stats.UpdateDrift(-lag)
	if b.metrics != nil {
		b.metrics.drift.Set(float64(-lag))
	}
	if lag <= b.tolerance {
		return 0
	}

	b.logger.Debug("Padding lagging buffer", "samples", lag, "time", now)
	b.pushZeroes(lag)
	b.stats.Padded(lag)
	return lag
}

// Reset empties the buffer and rewinds the cursor to zero. A closed buffer
// stays closed.
func (b *TimeBuffer) Reset() {
	b.mu.Lock()
	clear(b.data)
	b.position = 0
	b.mu.Unlock()

	b.stats.Reset()
	if b.metrics != nil {
		b.metrics.position.Set(0)
		b.metrics.drift.Set(0)
	}
}

// Close invalidates the buffer and wakes blocked readers. Reads afterwards
// return StatusError and pushes are ignored. Close is idempotent.
func (b *TimeBuffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.cond.Broadcast()
	return nil
}

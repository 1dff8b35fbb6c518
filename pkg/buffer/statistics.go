package buffer

import (
	"sync"
	"sync/atomic"
	"time"
)

// Statistics tracks buffer activity. It is always collected, whether or not
// Prometheus export is enabled.
type Statistics struct {
	writes    atomic.Int64
	reads     atomic.Int64
	overflows atomic.Int64
	drops     atomic.Int64

	// sample-level counters, TimeBuffer only
	samples     atomic.Int64
	zeroSamples atomic.Int64
	padded      atomic.Int64
	overwritten atomic.Int64
	statuses    [numStatus]atomic.Int64

	mu          sync.RWMutex
	startTime   time.Time
	currentSize int64
	maxSize     int64
	drift       int64
}

// NewStatistics creates a statistics tracker starting now.
func NewStatistics() *Statistics {
	return &Statistics{startTime: time.Now()}
}

// Write records a push or enqueue.
func (s *Statistics) Write() { s.writes.Add(1) }

// Read records a successful read.
func (s *Statistics) Read() { s.reads.Add(1) }

// Overflow records a write into a full buffer.
func (s *Statistics) Overflow() { s.overflows.Add(1) }

// Drop records an item discarded by the overflow policy.
func (s *Statistics) Drop() { s.drops.Add(1) }

// Samples records n real samples written.
func (s *Statistics) Samples(n int64) { s.samples.Add(n) }

// Zeroes records n zero samples written.
func (s *Statistics) Zeroes(n int64) { s.zeroSamples.Add(n) }

// Padded records n zero samples inserted by Sync.
func (s *Statistics) Padded(n int64) { s.padded.Add(n) }

// Overwritten records n retained samples replaced by newer ones.
func (s *Statistics) Overwritten(n int64) { s.overwritten.Add(n) }

// Status records the outcome of a TimeBuffer read.
func (s *Statistics) Status(st Status) {
	if st >= 0 && st < numStatus {
		s.statuses[st].Add(1)
	}
}

// UpdateSize records the current fill level.
func (s *Statistics) UpdateSize(size int64) {
	s.mu.Lock()
	s.currentSize = size
	if size > s.maxSize {
		s.maxSize = size
	}
	s.mu.Unlock()
}

// UpdateDrift records how many samples the writer is ahead of the clock.
func (s *Statistics) UpdateDrift(samples int64) {
	s.mu.Lock()
	s.drift = samples
	s.mu.Unlock()
}

// Writes returns the number of writes.
func (s *Statistics) Writes() int64 { return s.writes.Load() }

// Reads returns the number of successful reads.
func (s *Statistics) Reads() int64 { return s.reads.Load() }

// Overflows returns the number of writes into a full buffer.
func (s *Statistics) Overflows() int64 { return s.overflows.Load() }

// Drops returns the number of discarded items.
func (s *Statistics) Drops() int64 { return s.drops.Load() }

// SamplesWritten returns the number of real samples written.
func (s *Statistics) SamplesWritten() int64 { return s.samples.Load() }

// ZeroSamples returns the number of zero samples written, padding included.
func (s *Statistics) ZeroSamples() int64 { return s.zeroSamples.Load() }

// PaddedSamples returns the number of zero samples inserted by Sync.
func (s *Statistics) PaddedSamples() int64 { return s.padded.Load() }

// OverwrittenSamples returns the number of samples lost to ring wrap.
func (s *Statistics) OverwrittenSamples() int64 { return s.overwritten.Load() }

// StatusCount returns how often a read ended with st.
func (s *Statistics) StatusCount(st Status) int64 {
	if st < 0 || st >= numStatus {
		return 0
	}
	return s.statuses[st].Load()
}

// CurrentSize returns the current fill level.
func (s *Statistics) CurrentSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentSize
}

// MaxSize returns the highest fill level seen.
func (s *Statistics) MaxSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxSize
}

// Drift returns the last recorded writer lead in samples.
func (s *Statistics) Drift() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.drift
}

// Throughput returns writes per second since start.
func (s *Statistics) Throughput() float64 {
	elapsed := s.Uptime()
	if elapsed <= 0 {
		return 0
	}
	return float64(s.Writes()) / elapsed.Seconds()
}

// DropRate returns drops as a fraction of writes.
func (s *Statistics) DropRate() float64 {
	writes := s.Writes()
	if writes == 0 {
		return 0
	}
	return float64(s.Drops()) / float64(writes)
}

// Utilization returns the fill level as a fraction of capacity.
func (s *Statistics) Utilization(capacity int64) float64 {
	if capacity == 0 {
		return 0
	}
	return float64(s.CurrentSize()) / float64(capacity)
}

// Uptime returns the time since creation or the last Reset.
func (s *Statistics) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.startTime)
}

// Reset zeroes every counter.
func (s *Statistics) Reset() {
	s.writes.Store(0)
	s.reads.Store(0)
	s.overflows.Store(0)
	s.drops.Store(0)
	s.samples.Store(0)
	s.zeroSamples.Store(0)
	s.padded.Store(0)
	s.overwritten.Store(0)
	for i := range s.statuses {
		s.statuses[i].Store(0)
	}

	s.mu.Lock()
	s.startTime = time.Now()
	s.currentSize = 0
	s.maxSize = 0
	s.drift = 0
	s.mu.Unlock()
}

// StatsSummary is a point-in-time copy of Statistics.
type StatsSummary struct {
	Writes      int64            `json:"writes"`
	Reads       int64            `json:"reads"`
	Overflows   int64            `json:"overflows"`
	Drops       int64            `json:"drops"`
	Samples     int64            `json:"samples"`
	ZeroSamples int64            `json:"zero_samples"`
	Padded      int64            `json:"padded"`
	Overwritten int64            `json:"overwritten"`
	Statuses    map[string]int64 `json:"statuses,omitempty"`
	CurrentSize int64            `json:"current_size"`
	MaxSize     int64            `json:"max_size"`
	Drift       int64            `json:"drift"`
	Throughput  float64          `json:"throughput"`
	Uptime      time.Duration    `json:"uptime"`
}

// Summary returns a snapshot of all statistics.
func (s *Statistics) Summary() StatsSummary {
	sum := StatsSummary{
		Writes:      s.Writes(),
		Reads:       s.Reads(),
		Overflows:   s.Overflows(),
		Drops:       s.Drops(),
		Samples:     s.SamplesWritten(),
		ZeroSamples: s.ZeroSamples(),
		Padded:      s.PaddedSamples(),
		Overwritten: s.OverwrittenSamples(),
		CurrentSize: s.CurrentSize(),
		MaxSize:     s.MaxSize(),
		Drift:       s.Drift(),
		Throughput:  s.Throughput(),
		Uptime:      s.Uptime(),
	}
	for st := Status(0); st < numStatus; st++ {
		if n := s.StatusCount(st); n > 0 {
			if sum.Statuses == nil {
				sum.Statuses = make(map[string]int64)
			}
			sum.Statuses[st.String()] = n
		}
	}
	return sum
}

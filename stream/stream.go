// Package stream provides the typed, multi-dimensional sample chunk exchanged
// between pipeline stages.
package stream

import (
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/c360/sigstream/errors"
)

// Stream is a fixed-shape chunk of typed samples. Samples are interleaved:
// element (i, d) lives at index i*Dim+d of the payload.
type Stream struct {
	num        int
	numDelta   int
	dim        int
	bytes      int
	typ        Type
	sampleRate float64
	time       float64
	labels     []string

	capacity int // samples allocated
	payload  any
}

// New returns a zero-initialized stream of a fixed-width element type.
func New(num, dim int, sampleRate float64, typ Type) (*Stream, error) {
	if typ.Opaque() {
		return nil, errors.WrapInvalid(fmt.Errorf("%s needs an explicit element width", typ),
			"stream", "New", "type validation")
	}
	return NewCustom(num, dim, typ.Size(), sampleRate, typ)
}

// NewCustom returns a zero-initialized stream with an explicit element width.
// The width must match the type for fixed-width types.
func NewCustom(num, dim, bytes int, sampleRate float64, typ Type) (*Stream, error) {
	spec := Spec{Num: num, Dim: dim, Bytes: bytes, Type: typ, SampleRate: sampleRate}
	if err := spec.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "stream", "New", "shape validation")
	}
	s := &Stream{
		num:        num,
		dim:        dim,
		bytes:      bytes,
		typ:        typ,
		sampleRate: sampleRate,
	}
	s.allocate(num)
	return s, nil
}

// NewFromSpec derives shape, type and rate from a provider spec. The stream
// holds numDelta samples of look-back context followed by numFrame samples
// of frame.
func NewFromSpec(spec Spec, numFrame, numDelta int) (*Stream, error) {
	if numFrame < 0 || numDelta < 0 {
		return nil, errors.WrapInvalid(fmt.Errorf("frame %d, delta %d", numFrame, numDelta),
			"stream", "NewFromSpec", "frame validation")
	}
	s, err := NewCustom(numFrame+numDelta, spec.Dim, spec.Bytes, spec.SampleRate, spec.Type)
	if err != nil {
		return nil, err
	}
	s.numDelta = numDelta
	if len(spec.Labels) > 0 {
		s.labels = slices.Clone(spec.Labels)
	}
	return s, nil
}

// MustNew is New for statically known shapes; it panics on error.
func MustNew(num, dim int, sampleRate float64, typ Type) *Stream {
	s, err := New(num, dim, sampleRate, typ)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Stream) allocate(samples int) {
	n := samples * s.dim
	switch s.typ {
	case TypeByte:
		s.payload = make([]int8, n)
	case TypeChar:
		s.payload = make([]uint16, n)
	case TypeShort:
		s.payload = make([]int16, n)
	case TypeInt:
		s.payload = make([]int32, n)
	case TypeLong:
		s.payload = make([]int64, n)
	case TypeFloat:
		s.payload = make([]float32, n)
	case TypeDouble:
		s.payload = make([]float64, n)
	case TypeBool:
		s.payload = make([]bool, n)
	default:
		s.payload = make([]byte, n*s.bytes)
	}
	s.capacity = samples
}

// Num returns the logical sample count, delta included.
func (s *Stream) Num() int { return s.num }

// NumDelta returns the number of leading look-back samples. The frame
// proper starts at sample NumDelta.
func (s *Stream) NumDelta() int { return s.numDelta }

// NumFrame returns the samples that belong to the current frame, the newest
// Num-NumDelta samples.
func (s *Stream) NumFrame() int { return s.num - s.numDelta }

// FrameTime returns the time of the first frame sample, after the look-back.
func (s *Stream) FrameTime() float64 {
	return s.time + float64(s.numDelta)/s.sampleRate
}

// Dim returns the number of dimensions per sample.
func (s *Stream) Dim() int { return s.dim }

// Bytes returns the element width in bytes.
func (s *Stream) Bytes() int { return s.bytes }

// Type returns the element type.
func (s *Stream) Type() Type { return s.typ }

// SampleRate returns samples per second.
func (s *Stream) SampleRate() float64 { return s.sampleRate }

// Step returns the time between two samples in seconds.
func (s *Stream) Step() float64 { return 1 / s.sampleRate }

// Time returns the start time of the chunk in seconds since pipeline start.
func (s *Stream) Time() float64 { return s.time }

// SetTime sets the start time of the chunk.
func (s *Stream) SetTime(t float64) { s.time = t }

// Duration returns the time covered by the logical samples.
func (s *Stream) Duration() float64 { return float64(s.num) / s.sampleRate }

// Capacity returns the allocated sample capacity.
func (s *Stream) Capacity() int { return s.capacity }

// Labels returns the per-dimension names. Nil when unnamed.
func (s *Stream) Labels() []string { return s.labels }

// SetLabels names the dimensions.
func (s *Stream) SetLabels(labels ...string) error {
	if len(labels) != 0 && len(labels) != s.dim {
		return errors.WrapInvalid(fmt.Errorf("%d labels for %d dimensions", len(labels), s.dim),
			"stream", "SetLabels", "label count")
	}
	s.labels = slices.Clone(labels)
	return nil
}

// SampleBytes returns the encoded width of one multi-dimensional sample.
func (s *Stream) SampleBytes() int { return s.dim * s.bytes }

// TotalBytes returns the encoded width of all logical samples.
func (s *Stream) TotalBytes() int { return s.num * s.SampleBytes() }

// Spec describes the stream shape, with Num set to the logical count.
func (s *Stream) Spec() Spec {
	return Spec{
		Num:        s.num,
		Dim:        s.dim,
		Bytes:      s.bytes,
		Type:       s.typ,
		SampleRate: s.sampleRate,
		Labels:     slices.Clone(s.labels),
	}
}

// Adjust changes the logical sample count. Shrinking, or growing within the
// allocated capacity, reuses the payload. Growing beyond capacity allocates a
// fresh zeroed payload.
func (s *Stream) Adjust(n int) error {
	if n < 0 {
		return errors.WrapInvalid(fmt.Errorf("negative sample count %d", n),
			"stream", "Adjust", "count validation")
	}
	if n > s.capacity {
		s.allocate(n)
	}
	s.num = n
	if s.numDelta > n {
		s.numDelta = n
	}
	return nil
}

// Reset zeroes the logical payload.
func (s *Stream) Reset() {
	switch p := s.payload.(type) {
	case []int8:
		clear(p)
	case []uint16:
		clear(p)
	case []int16:
		clear(p)
	case []int32:
		clear(p)
	case []int64:
		clear(p)
	case []float32:
		clear(p)
	case []float64:
		clear(p)
	case []bool:
		clear(p)
	case []byte:
		clear(p)
	}
}

// Clone returns a deep copy with its own payload.
func (s *Stream) Clone() *Stream {
	c := *s
	c.labels = slices.Clone(s.labels)
	switch p := s.payload.(type) {
	case []int8:
		c.payload = slices.Clone(p)
	case []uint16:
		c.payload = slices.Clone(p)
	case []int16:
		c.payload = slices.Clone(p)
	case []int32:
		c.payload = slices.Clone(p)
	case []int64:
		c.payload = slices.Clone(p)
	case []float32:
		c.payload = slices.Clone(p)
	case []float64:
		c.payload = slices.Clone(p)
	case []bool:
		c.payload = slices.Clone(p)
	case []byte:
		c.payload = slices.Clone(p)
	}
	return &c
}

// Select copies the given dimensions, in the given order, into a new stream
// with independent storage.
func (s *Stream) Select(dims ...int) (*Stream, error) {
	if len(dims) == 0 {
		return nil, errors.WrapInvalid(fmt.Errorf("no dimensions selected"),
			"stream", "Select", "dimension validation")
	}
	for _, d := range dims {
		if d < 0 || d >= s.dim {
			return nil, errors.WrapInvalid(fmt.Errorf("dimension %d out of range [0,%d)", d, s.dim),
				"stream", "Select", "dimension validation")
		}
	}

	out, err := NewCustom(s.num, len(dims), s.bytes, s.sampleRate, s.typ)
	if err != nil {
		return nil, err
	}
	out.time = s.time
	out.numDelta = s.numDelta
	if len(s.labels) == s.dim {
		out.labels = make([]string, len(dims))
		for i, d := range dims {
			out.labels[i] = s.labels[d]
		}
	}

	switch p := s.payload.(type) {
	case []int8:
		selectInto(out.payload.([]int8), p, s.num, s.dim, dims, 1)
	case []uint16:
		selectInto(out.payload.([]uint16), p, s.num, s.dim, dims, 1)
	case []int16:
		selectInto(out.payload.([]int16), p, s.num, s.dim, dims, 1)
	case []int32:
		selectInto(out.payload.([]int32), p, s.num, s.dim, dims, 1)
	case []int64:
		selectInto(out.payload.([]int64), p, s.num, s.dim, dims, 1)
	case []float32:
		selectInto(out.payload.([]float32), p, s.num, s.dim, dims, 1)
	case []float64:
		selectInto(out.payload.([]float64), p, s.num, s.dim, dims, 1)
	case []bool:
		selectInto(out.payload.([]bool), p, s.num, s.dim, dims, 1)
	case []byte:
		selectInto(out.payload.([]byte), p, s.num, s.dim, dims, s.bytes)
	}
	return out, nil
}

// selectInto copies width-wide elements of the chosen dims for num samples.
func selectInto[T any](dst, src []T, num, dim int, dims []int, width int) {
	outDim := len(dims)
	for i := 0; i < num; i++ {
		for j, d := range dims {
			from := (i*dim + d) * width
			to := (i*outDim + j) * width
			copy(dst[to:to+width], src[from:from+width])
		}
	}
}

func (s *Stream) mismatch(method string, want Type) error {
	return errors.WrapFatal(
		fmt.Errorf("%w: %s accessor on %s stream", errors.ErrUnsupportedOperation, want, s.typ),
		"stream", method, "type check")
}

func (s *Stream) elements() int { return s.num * s.dim }

// Bytes8 returns the payload of a TypeByte stream.
func (s *Stream) Bytes8() ([]int8, error) {
	p, ok := s.payload.([]int8)
	if !ok {
		return nil, s.mismatch("Bytes8", TypeByte)
	}
	return p[:s.elements()], nil
}

// Chars returns the payload of a TypeChar stream.
func (s *Stream) Chars() ([]uint16, error) {
	p, ok := s.payload.([]uint16)
	if !ok {
		return nil, s.mismatch("Chars", TypeChar)
	}
	return p[:s.elements()], nil
}

// Shorts returns the payload of a TypeShort stream.
func (s *Stream) Shorts() ([]int16, error) {
	p, ok := s.payload.([]int16)
	if !ok {
		return nil, s.mismatch("Shorts", TypeShort)
	}
	return p[:s.elements()], nil
}

// Ints returns the payload of a TypeInt stream.
func (s *Stream) Ints() ([]int32, error) {
	p, ok := s.payload.([]int32)
	if !ok {
		return nil, s.mismatch("Ints", TypeInt)
	}
	return p[:s.elements()], nil
}

// Longs returns the payload of a TypeLong stream.
func (s *Stream) Longs() ([]int64, error) {
	p, ok := s.payload.([]int64)
	if !ok {
		return nil, s.mismatch("Longs", TypeLong)
	}
	return p[:s.elements()], nil
}

// Floats returns the payload of a TypeFloat stream.
func (s *Stream) Floats() ([]float32, error) {
	p, ok := s.payload.([]float32)
	if !ok {
		return nil, s.mismatch("Floats", TypeFloat)
	}
	return p[:s.elements()], nil
}

// Doubles returns the payload of a TypeDouble stream.
func (s *Stream) Doubles() ([]float64, error) {
	p, ok := s.payload.([]float64)
	if !ok {
		return nil, s.mismatch("Doubles", TypeDouble)
	}
	return p[:s.elements()], nil
}

// Bools returns the payload of a TypeBool stream.
func (s *Stream) Bools() ([]bool, error) {
	p, ok := s.payload.([]bool)
	if !ok {
		return nil, s.mismatch("Bools", TypeBool)
	}
	return p[:s.elements()], nil
}

// Raw returns the payload of an image or custom stream.
func (s *Stream) Raw() ([]byte, error) {
	p, ok := s.payload.([]byte)
	if !ok {
		return nil, s.mismatch("Raw", TypeCustom)
	}
	return p[:s.elements()*s.bytes], nil
}

// MustFloats is Floats for code that owns the stream type.
func (s *Stream) MustFloats() []float32 {
	p, err := s.Floats()
	if err != nil {
		panic(err)
	}
	return p
}

// MustDoubles is Doubles for code that owns the stream type.
func (s *Stream) MustDoubles() []float64 {
	p, err := s.Doubles()
	if err != nil {
		panic(err)
	}
	return p
}

// Value returns element (sample, d) widened to float64. Bools map to 0 and 1.
func (s *Stream) Value(sample, d int) (float64, error) {
	if sample < 0 || sample >= s.num || d < 0 || d >= s.dim {
		return 0, errors.WrapInvalid(fmt.Errorf("element (%d,%d) out of range", sample, d),
			"stream", "Value", "index check")
	}
	i := sample*s.dim + d
	switch p := s.payload.(type) {
	case []int8:
		return float64(p[i]), nil
	case []uint16:
		return float64(p[i]), nil
	case []int16:
		return float64(p[i]), nil
	case []int32:
		return float64(p[i]), nil
	case []int64:
		return float64(p[i]), nil
	case []float32:
		return float64(p[i]), nil
	case []float64:
		return p[i], nil
	case []bool:
		if p[i] {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, s.mismatch("Value", TypeDouble)
	}
}

// Encode writes the logical samples little-endian into dst and returns the
// number of bytes written.
func (s *Stream) Encode(dst []byte) (int, error) {
	need := s.TotalBytes()
	if len(dst) < need {
		return 0, errors.WrapInvalid(fmt.Errorf("need %d bytes, have %d", need, len(dst)),
			"stream", "Encode", "destination size")
	}
	if raw, ok := s.payload.([]byte); ok {
		return copy(dst, raw[:need]), nil
	}
	n, err := binary.Encode(dst[:need], binary.LittleEndian, s.logical())
	if err != nil {
		return 0, errors.Wrap(err, "stream", "Encode", "binary encode")
	}
	return n, nil
}

// Decode reads len(src)/SampleBytes samples from src into the payload,
// adjusting the logical count to match.
func (s *Stream) Decode(src []byte) error {
	sb := s.SampleBytes()
	if len(src)%sb != 0 {
		return errors.WrapInvalid(fmt.Errorf("%d bytes is not a multiple of sample width %d", len(src), sb),
			"stream", "Decode", "source size")
	}
	if err := s.Adjust(len(src) / sb); err != nil {
		return err
	}
	if raw, ok := s.payload.([]byte); ok {
		copy(raw, src)
		return nil
	}
	if _, err := binary.Decode(src, binary.LittleEndian, s.logical()); err != nil {
		return errors.Wrap(err, "stream", "Decode", "binary decode")
	}
	return nil
}

// logical returns the payload truncated to the logical element count.
func (s *Stream) logical() any {
	n := s.elements()
	switch p := s.payload.(type) {
	case []int8:
		return p[:n]
	case []uint16:
		return p[:n]
	case []int16:
		return p[:n]
	case []int32:
		return p[:n]
	case []int64:
		return p[:n]
	case []float32:
		return p[:n]
	case []float64:
		return p[:n]
	case []bool:
		return p[:n]
	case []byte:
		return p[:n*s.bytes]
	}
	return nil
}

package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sigstream/errors"
)

func TestNew_Shape(t *testing.T) {
	s, err := New(4, 3, 100, TypeFloat)
	require.NoError(t, err)

	assert.Equal(t, 4, s.Num())
	assert.Equal(t, 3, s.Dim())
	assert.Equal(t, 4, s.Bytes())
	assert.Equal(t, 12, s.SampleBytes())
	assert.Equal(t, 48, s.TotalBytes())
	assert.InDelta(t, 0.04, s.Duration(), 1e-9)
	assert.InDelta(t, 0.01, s.Step(), 1e-12)

	f, err := s.Floats()
	require.NoError(t, err)
	assert.Len(t, f, 12)
}

func TestNew_Rejects(t *testing.T) {
	tests := []struct {
		name string
		fn   func() (*Stream, error)
	}{
		{"zero dim", func() (*Stream, error) { return New(1, 0, 10, TypeFloat) }},
		{"zero rate", func() (*Stream, error) { return New(1, 1, 0, TypeFloat) }},
		{"opaque without width", func() (*Stream, error) { return New(1, 1, 10, TypeImage) }},
		{"width mismatch", func() (*Stream, error) { return NewCustom(1, 1, 3, 10, TypeInt) }},
		{"undefined type", func() (*Stream, error) { return NewCustom(1, 1, 1, 10, TypeUndefined) }},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := test.fn()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestNewFromSpec_RecordsDelta(t *testing.T) {
	spec := Spec{Num: 1, Dim: 2, Bytes: 8, Type: TypeDouble, SampleRate: 10, Labels: []string{"x", "y"}}
	s, err := NewFromSpec(spec, 5, 3)
	require.NoError(t, err)

	assert.Equal(t, 8, s.Num())
	assert.Equal(t, 3, s.NumDelta())
	assert.Equal(t, 5, s.NumFrame())
	assert.Equal(t, []string{"x", "y"}, s.Labels())

	s.SetTime(1.0)
	assert.InDelta(t, 1.3, s.FrameTime(), 1e-12, "frame starts after the look-back samples")

	_, err = NewFromSpec(spec, -1, 0)
	assert.Error(t, err)
}

func TestTypedAccessor_Mismatch(t *testing.T) {
	s := MustNew(2, 1, 10, TypeShort)

	_, err := s.Floats()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnsupportedOperation)

	_, err = s.Raw()
	assert.ErrorIs(t, err, errors.ErrUnsupportedOperation)

	shorts, err := s.Shorts()
	require.NoError(t, err)
	assert.Len(t, shorts, 2)

	assert.Panics(t, func() { s.MustDoubles() })
}

func TestAdjust(t *testing.T) {
	s := MustNew(10, 2, 100, TypeInt)
	ints, _ := s.Ints()
	ints[0] = 7

	require.NoError(t, s.Adjust(4))
	assert.Equal(t, 4, s.Num())
	assert.Equal(t, 10, s.Capacity())
	ints, _ = s.Ints()
	assert.Len(t, ints, 8)
	assert.Equal(t, int32(7), ints[0], "shrink reuses payload")

	require.NoError(t, s.Adjust(10))
	ints, _ = s.Ints()
	assert.Equal(t, int32(7), ints[0], "growing within capacity reuses payload")

	require.NoError(t, s.Adjust(20))
	assert.Equal(t, 20, s.Capacity())
	ints, _ = s.Ints()
	assert.Len(t, ints, 40)
	assert.Equal(t, int32(0), ints[0], "growing past capacity allocates")

	assert.Error(t, s.Adjust(-1))
}

func TestClone_Independent(t *testing.T) {
	s := MustNew(3, 1, 10, TypeDouble)
	s.SetTime(1.5)
	require.NoError(t, s.SetLabels("v"))
	s.MustDoubles()[1] = 42

	c := s.Clone()
	c.MustDoubles()[1] = -1
	c.Labels()[0] = "changed"

	assert.Equal(t, 42.0, s.MustDoubles()[1])
	assert.Equal(t, "v", s.Labels()[0])
	assert.Equal(t, 1.5, c.Time())
}

func TestSelect(t *testing.T) {
	s := MustNew(2, 3, 10, TypeInt)
	require.NoError(t, s.SetLabels("a", "b", "c"))
	ints, _ := s.Ints()
	copy(ints, []int32{1, 2, 3, 4, 5, 6})

	sel, err := s.Select(2, 0)
	require.NoError(t, err)
	out, _ := sel.Ints()
	assert.Equal(t, []int32{3, 1, 6, 4}, out)
	assert.Equal(t, []string{"c", "a"}, sel.Labels())

	out[0] = 99
	assert.Equal(t, int32(3), ints[2], "selection owns its storage")

	_, err = s.Select(3)
	assert.Error(t, err)
	_, err = s.Select()
	assert.Error(t, err)
}

func TestSelect_Opaque(t *testing.T) {
	s, err := NewCustom(2, 2, 3, 10, TypeCustom)
	require.NoError(t, err)
	raw, _ := s.Raw()
	copy(raw, []byte{1, 1, 1, 2, 2, 2, 3, 3, 3, 4, 4, 4})

	sel, err := s.Select(1)
	require.NoError(t, err)
	out, _ := sel.Raw()
	assert.Equal(t, []byte{2, 2, 2, 4, 4, 4}, out)
}

func TestEncodeDecode(t *testing.T) {
	s := MustNew(2, 2, 10, TypeShort)
	shorts, _ := s.Shorts()
	copy(shorts, []int16{1, -1, 256, 3})

	buf := make([]byte, s.TotalBytes())
	n, err := s.Encode(buf)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, []byte{1, 0, 0xff, 0xff, 0, 1, 3, 0}, buf)

	d := MustNew(1, 2, 10, TypeShort)
	require.NoError(t, d.Decode(buf))
	assert.Equal(t, 2, d.Num())
	got, _ := d.Shorts()
	assert.Equal(t, shorts, got)

	assert.Error(t, d.Decode(buf[:3]))
	_, err = s.Encode(buf[:4])
	assert.Error(t, err)
}

func TestValue(t *testing.T) {
	s := MustNew(1, 2, 10, TypeBool)
	b, _ := s.Bools()
	b[1] = true

	v, err := s.Value(0, 1)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	_, err = s.Value(1, 0)
	assert.Error(t, err)
}

func TestReset(t *testing.T) {
	s := MustNew(2, 1, 10, TypeDouble)
	copy(s.MustDoubles(), []float64{1, 2})
	s.Reset()
	assert.Equal(t, []float64{0, 0}, s.MustDoubles())
}

func TestParseType(t *testing.T) {
	typ, err := ParseType(" Float ")
	require.NoError(t, err)
	assert.Equal(t, TypeFloat, typ)

	_, err = ParseType("undefined")
	assert.Error(t, err)
	_, err = ParseType("quaternion")
	assert.Error(t, err)
}

package stream

import (
	"fmt"
	"strings"
)

// Type identifies the element type of a stream payload.
type Type int

const (
	// TypeUndefined marks a zero Spec.
	TypeUndefined Type = iota
	// TypeByte is a signed 8-bit integer.
	TypeByte
	// TypeChar is an unsigned 16-bit code unit.
	TypeChar
	// TypeShort is a signed 16-bit integer.
	TypeShort
	// TypeInt is a signed 32-bit integer.
	TypeInt
	// TypeLong is a signed 64-bit integer.
	TypeLong
	// TypeFloat is a 32-bit IEEE float.
	TypeFloat
	// TypeDouble is a 64-bit IEEE float.
	TypeDouble
	// TypeBool is a boolean stored as one byte.
	TypeBool
	// TypeImage is an opaque image record of Bytes width.
	TypeImage
	// TypeCustom is an opaque record of Bytes width.
	TypeCustom
)

var typeNames = map[Type]string{
	TypeUndefined: "undefined",
	TypeByte:      "byte",
	TypeChar:      "char",
	TypeShort:     "short",
	TypeInt:       "int",
	TypeLong:      "long",
	TypeFloat:     "float",
	TypeDouble:    "double",
	TypeBool:      "bool",
	TypeImage:     "image",
	TypeCustom:    "custom",
}

// String returns the lowercase type name
func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "unknown"
}

// ParseType converts a type name into a Type.
func ParseType(s string) (Type, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, name := range typeNames {
		if name == s && t != TypeUndefined {
			return t, nil
		}
	}
	return TypeUndefined, fmt.Errorf("unknown stream type %q", s)
}

// Size returns the fixed element width in bytes, or 0 for opaque types
// whose width is chosen per stream.
func (t Type) Size() int {
	switch t {
	case TypeByte, TypeBool:
		return 1
	case TypeChar, TypeShort:
		return 2
	case TypeInt, TypeFloat:
		return 4
	case TypeLong, TypeDouble:
		return 8
	default:
		return 0
	}
}

// Opaque reports whether elements are raw byte records.
func (t Type) Opaque() bool {
	return t == TypeImage || t == TypeCustom
}

// Spec describes the output shape a provider declares.
// Num is the number of samples produced per invocation.
type Spec struct {
	Num        int      `json:"num"`
	Dim        int      `json:"dim"`
	Bytes      int      `json:"bytes"`
	Type       Type     `json:"type"`
	SampleRate float64  `json:"sample_rate"`
	Labels     []string `json:"labels,omitempty"`
}

// SampleBytes returns the width of one multi-dimensional sample.
func (s Spec) SampleBytes() int {
	return s.Dim * s.Bytes
}

// Validate checks the spec is usable for allocation.
func (s Spec) Validate() error {
	switch {
	case s.Dim < 1:
		return fmt.Errorf("dim must be >= 1, got %d", s.Dim)
	case s.Num < 0:
		return fmt.Errorf("num must be >= 0, got %d", s.Num)
	case !(s.SampleRate > 0):
		return fmt.Errorf("sample rate must be > 0, got %v", s.SampleRate)
	case s.Type == TypeUndefined || s.Type.String() == "unknown":
		return fmt.Errorf("undefined element type")
	case s.Bytes < 1:
		return fmt.Errorf("element width must be >= 1, got %d", s.Bytes)
	case !s.Type.Opaque() && s.Bytes != s.Type.Size():
		return fmt.Errorf("element width %d does not match %s", s.Bytes, s.Type)
	case len(s.Labels) != 0 && len(s.Labels) != s.Dim:
		return fmt.Errorf("%d labels for %d dimensions", len(s.Labels), s.Dim)
	}
	return nil
}

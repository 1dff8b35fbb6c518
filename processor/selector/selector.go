// Package selector provides a transformer that keeps a subset of the
// dimensions of one source, in a chosen order.
package selector

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/c360/sigstream/component"
	"github.com/c360/sigstream/errors"
	"github.com/c360/sigstream/stream"
)

// Config holds configuration for the selector
type Config struct {
	// Dims lists the source dimensions to keep. Order is preserved and a
	// dimension may repeat.
	Dims []int `json:"dims"`

	// Labels picks dimensions by label instead of index. Ignored when Dims
	// is set.
	Labels []string `json:"labels,omitempty"`

	// Source is the index of the source to read when several are given.
	Source int `json:"source"`
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if len(c.Dims) == 0 && len(c.Labels) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "dims or labels required")
	}
	if c.Source < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "source index cannot be negative")
	}
	for _, d := range c.Dims {
		if d < 0 {
			return errors.WrapInvalid(
				fmt.Errorf("%w: negative dimension %d", errors.ErrInvalidConfig, d),
				"Config", "Validate", "dims")
		}
	}
	return nil
}

// Selector projects frames of one source onto selected dimensions
type Selector struct {
	name string
	cfg  Config
	dims []int
	buf  []byte
}

var (
	_ component.Transformer = (*Selector)(nil)
	_ component.Describer   = (*Selector)(nil)
)

// New creates a selector
func New(name string, cfg Config) (*Selector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Selector{name: name, cfg: cfg}, nil
}

// Name returns the component name
func (s *Selector) Name() string { return s.name }

// Meta returns component metadata
func (s *Selector) Meta() component.Metadata {
	return component.Metadata{
		Name:        s.name,
		Kind:        component.KindTransformer,
		Description: "Selects dimensions of a source stream",
		Version:     "1.0.0",
	}
}

// Describe resolves the dimensions against the source spec. The output
// has the source's rate and one sample per source sample.
func (s *Selector) Describe(in []stream.Spec) (stream.Spec, error) {
	if s.cfg.Source >= len(in) {
		return stream.Spec{}, errors.WrapInvalid(
			fmt.Errorf("%w: source %d of %d", errors.ErrInvalidConfig, s.cfg.Source, len(in)),
			"Selector", "Describe", "source index")
	}
	src := in[s.cfg.Source]

	dims := s.cfg.Dims
	if len(dims) == 0 {
		dims = make([]int, 0, len(s.cfg.Labels))
		for _, label := range s.cfg.Labels {
			d := slices.Index(src.Labels, label)
			if d < 0 {
				return stream.Spec{}, errors.WrapInvalid(
					fmt.Errorf("%w: source has no dimension labelled %q", errors.ErrInvalidConfig, label),
					"Selector", "Describe", "label lookup")
			}
			dims = append(dims, d)
		}
	}
	for _, d := range dims {
		if d >= src.Dim {
			return stream.Spec{}, errors.WrapInvalid(
				fmt.Errorf("%w: dimension %d of %d", errors.ErrInvalidConfig, d, src.Dim),
				"Selector", "Describe", "dimension range")
		}
	}
	s.dims = dims

	out := src
	out.Dim = len(dims)
	out.Labels = nil
	if len(src.Labels) == src.Dim {
		for _, d := range dims {
			out.Labels = append(out.Labels, src.Labels[d])
		}
	}
	return out, nil
}

// Transform copies the selected dimensions of the frame into out
func (s *Selector) Transform(_ context.Context, in []*stream.Stream, out *stream.Stream) error {
	src := in[s.cfg.Source]
	sel, err := src.Select(s.dims...)
	if err != nil {
		return errors.WrapFatal(err, "Selector", "Transform", "select dimensions")
	}

	n := min(out.Num(), sel.Num())
	size := n * sel.SampleBytes()
	if cap(s.buf) < sel.TotalBytes() {
		s.buf = make([]byte, sel.TotalBytes())
	}
	s.buf = s.buf[:sel.TotalBytes()]
	if _, err := sel.Encode(s.buf); err != nil {
		return errors.WrapFatal(err, "Selector", "Transform", "encode selection")
	}
	num := out.Num()
	if err := out.Decode(s.buf[:size]); err != nil {
		return errors.WrapFatal(err, "Selector", "Transform", "decode selection")
	}
	return out.Adjust(num)
}

// NewComponent is the registry factory
func NewComponent(name string, rawConfig json.RawMessage, _ component.Dependencies) (component.Component, error) {
	var cfg Config
	if err := json.Unmarshal(rawConfig, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "selector", "NewComponent", "config unmarshal")
	}
	return New(name, cfg)
}

// Register registers the selector with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterFactory(component.Registration{
		Name:        "selector",
		Kind:        component.KindTransformer,
		Description: "Projects a stream onto a subset of its dimensions",
		Version:     "1.0.0",
		Factory:     NewComponent,
	})
}

package component

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sigstream/errors"
	"github.com/c360/sigstream/event"
	"github.com/c360/sigstream/stream"
)

type printer struct {
	name   string
	Prefix string `json:"prefix"`
}

func (p *printer) Name() string { return p.name }

func (p *printer) Consume(context.Context, []*stream.Stream) error { return nil }

type bell struct{ name string }

func (b *bell) Name() string         { return b.name }
func (b *bell) Notify(*event.Event) {}

func printerFactory(name string, raw json.RawMessage, _ Dependencies) (Component, error) {
	p := &printer{name: name}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, errors.WrapInvalid(err, "printer", "factory", "config parse")
	}
	return p, nil
}

func TestRegistry_CreateFromConfig(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterFactory(Registration{
		Name:    "printer",
		Kind:    KindConsumer,
		Factory: printerFactory,
	}))

	c, err := r.Create("printer", "console", json.RawMessage(`{"prefix":"> "}`), Dependencies{})
	require.NoError(t, err)
	assert.Equal(t, "console", c.Name())
	assert.Equal(t, "> ", c.(*printer).Prefix)

	// empty config is treated as {}
	_, err = r.Create("printer", "console2", nil, Dependencies{})
	require.NoError(t, err)

	reg, ok := r.Lookup("printer")
	require.True(t, ok)
	assert.Equal(t, KindConsumer, reg.Kind)
	assert.Equal(t, []string{"printer"}, r.ListFactories())
}

func TestRegistry_Rejects(t *testing.T) {
	r := NewRegistry()
	good := Registration{Name: "printer", Kind: KindConsumer, Factory: printerFactory}
	require.NoError(t, r.RegisterFactory(good))

	tests := []struct {
		name string
		reg  Registration
	}{
		{"duplicate", good},
		{"no factory", Registration{Name: "x", Kind: KindConsumer}},
		{"no kind", Registration{Name: "y", Factory: printerFactory}},
		{"bad name", Registration{Name: "a b", Kind: KindConsumer, Factory: printerFactory}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.RegisterFactory(tt.reg)
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}

	_, err := r.Create("missing", "x", nil, Dependencies{})
	assert.True(t, errors.IsInvalid(err))

	_, err = r.Create("printer", "bad/name", nil, Dependencies{})
	assert.Error(t, err)

	_, err = r.Create("printer", "p", json.RawMessage(`{"prefix":1}`), Dependencies{})
	assert.Error(t, err)
}

func TestRegistry_CapabilityMismatch(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterFactory(Registration{
		Name: "liar",
		Kind: KindSensor,
		Factory: func(name string, _ json.RawMessage, _ Dependencies) (Component, error) {
			return &printer{name: name}, nil
		},
	}))

	_, err := r.Create("liar", "l", nil, Dependencies{})
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestKindOf(t *testing.T) {
	k, ok := KindOf(&printer{})
	require.True(t, ok)
	assert.Equal(t, KindConsumer, k)

	k, ok = KindOf(&bell{})
	require.True(t, ok)
	assert.Equal(t, KindEventListener, k)
}

func TestDependencies_Logger(t *testing.T) {
	var d Dependencies
	assert.NotNil(t, d.GetLogger())
	assert.NotNil(t, d.GetLoggerWithComponent("x"))
}

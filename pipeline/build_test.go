package pipeline

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sigstream/component"
	"github.com/c360/sigstream/config"
	"github.com/c360/sigstream/errors"
	"github.com/c360/sigstream/event"
)

// emitter is a consumer that provides to the event channel named in its
// dependencies.
type emitter struct {
	recorder
	emits   string
	channel *event.Channel
}

func (e *emitter) Init(env component.Env) error {
	ch, ok := env.EventChannel(e.emits)
	if !ok {
		return errors.WrapInvalid(errors.ErrConfigNotFound, "emitter", "Init", "event channel "+e.emits)
	}
	e.channel = ch
	return nil
}

// testComponents registers fakes and keeps every instance created.
type testComponents struct {
	registry  *component.Registry
	recorders map[string]*recorder
	emitters  map[string]*emitter
	listeners map[string]*listener
	deps      map[string]component.Dependencies
}

func newTestComponents(t *testing.T) *testComponents {
	t.Helper()
	tc := &testComponents{
		registry:  component.NewRegistry(),
		recorders: map[string]*recorder{},
		emitters:  map[string]*emitter{},
		listeners: map[string]*listener{},
		deps:      map[string]component.Dependencies{},
	}
	regs := []component.Registration{
		{
			Name: "ramp", Kind: component.KindSensor,
			Factory: func(name string, raw json.RawMessage, deps component.Dependencies) (component.Component, error) {
				var cfg struct {
					Rate float64 `json:"rate"`
					Num  int     `json:"num"`
				}
				if err := json.Unmarshal(raw, &cfg); err != nil {
					return nil, err
				}
				tc.deps[name] = deps
				return newRampSensor(name, newRampChannel("a", cfg.Rate, cfg.Num)), nil
			},
		},
		{
			Name: "double", Kind: component.KindTransformer,
			Factory: func(name string, _ json.RawMessage, deps component.Dependencies) (component.Component, error) {
				tc.deps[name] = deps
				return &doubler{name: name}, nil
			},
		},
		{
			Name: "recorder", Kind: component.KindConsumer,
			Factory: func(name string, _ json.RawMessage, deps component.Dependencies) (component.Component, error) {
				tc.deps[name] = deps
				r := &recorder{name: name}
				tc.recorders[name] = r
				return r, nil
			},
		},
		{
			Name: "snapshot", Kind: component.KindEventConsumer,
			Factory: func(name string, _ json.RawMessage, deps component.Dependencies) (component.Component, error) {
				tc.deps[name] = deps
				r := &recorder{name: name}
				tc.recorders[name] = r
				return r, nil
			},
		},
		{
			Name: "emitter", Kind: component.KindConsumer,
			Factory: func(name string, _ json.RawMessage, deps component.Dependencies) (component.Component, error) {
				tc.deps[name] = deps
				e := &emitter{recorder: recorder{name: name}, emits: deps.Emits}
				tc.emitters[name] = e
				return e, nil
			},
		},
		{
			Name: "listener", Kind: component.KindEventListener,
			Factory: func(name string, _ json.RawMessage, deps component.Dependencies) (component.Component, error) {
				tc.deps[name] = deps
				l := &listener{name: name}
				tc.listeners[name] = l
				return l, nil
			},
		},
	}
	for _, reg := range regs {
		require.NoError(t, tc.registry.RegisterFactory(reg))
	}
	return tc
}

func testPipeline() config.Pipeline {
	return config.Pipeline{
		Events: []string{"marks"},
		Sensors: []config.ComponentSpec{
			{Name: "s", Factory: "ramp", Config: json.RawMessage(`{"rate":40,"num":4}`)},
		},
		Transformers: []config.ComponentSpec{
			{Name: "double", Factory: "double", Sources: []string{"s.a"}, Frame: 0.25},
		},
		Consumers: []config.ComponentSpec{
			{Name: "rec", Factory: "recorder", Sources: []string{"double"}, Frame: 0.5},
			{Name: "marker", Factory: "emitter", Sources: []string{"s.a"}, Frame: 0.5, Emits: "marks"},
		},
		EventConsumers: []config.ComponentSpec{
			{Name: "snap", Factory: "snapshot", Sources: []string{"s.a", "double"}, Trigger: "marks"},
		},
		Listeners: []config.ComponentSpec{
			{Name: "audit", Factory: "listener", Trigger: "marks"},
		},
	}
}

func TestBuild(t *testing.T) {
	tc := newTestComponents(t)
	fw, err := New(testConfig())
	require.NoError(t, err)

	require.NoError(t, fw.Build(tc.registry, testPipeline()))

	_, ok := fw.EventChannel("marks")
	assert.True(t, ok)
	assert.Contains(t, fw.Buffers(), "s.a")
	assert.Contains(t, fw.Buffers(), "double")
	for _, name := range []string{"s", "s.a", "double", "rec", "marker", "snap", "audit"} {
		state, ok := fw.State(name)
		assert.True(t, ok, name)
		assert.Equal(t, component.StateInitialized, state, name)
	}

	assert.Equal(t, "marks", tc.deps["marker"].Emits)
	assert.Empty(t, tc.deps["rec"].Emits)
	require.NotNil(t, tc.emitters["marker"].channel, "emitter resolved its channel in Init")

	fw.mu.Lock()
	assert.Equal(t, []string{"marker"}, fw.emitters["marks"])
	fw.mu.Unlock()
}

func TestBuild_Runs(t *testing.T) {
	tc := newTestComponents(t)
	fw, err := New(testConfig())
	require.NoError(t, err)
	require.NoError(t, fw.Build(tc.registry, testPipeline()))

	startPipeline(t, fw)

	rec := tc.recorders["rec"]
	frames := waitFrames(t, rec, 2, 5*time.Second)
	second := frames[1][0]
	require.Equal(t, 20, second.Num())
	assert.Equal(t, 40.0, second.MustDoubles()[0])

	require.Eventually(t, func() bool {
		state, _ := fw.State("audit")
		return state == component.StateRunning
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, tc.emitters["marker"].channel.Provide(event.New("mark", "marker", 0.25, 0.25)))

	snap := tc.recorders["snap"]
	require.Eventually(t, func() bool { return len(snap.Events()) == 1 }, 5*time.Second, 10*time.Millisecond)
	window := snap.Frames()[0]
	require.Len(t, window, 2)
	assert.Equal(t, 10, window[0].Num())
	assert.Equal(t, 10.0, window[0].MustDoubles()[0])
	assert.Equal(t, 20.0, window[1].MustDoubles()[0])
	assert.Eventually(t, func() bool { return tc.listeners["audit"].Count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestBuild_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Pipeline)
	}{
		{"unknown factory", func(p *config.Pipeline) { p.Sensors[0].Factory = "missing" }},
		{"unknown source", func(p *config.Pipeline) { p.Transformers[0].Sources = []string{"s.b"} }},
		{"later transformer", func(p *config.Pipeline) { p.Transformers[0].Sources = []string{"rec"} }},
		{"wrong kind", func(p *config.Pipeline) { p.Sensors[0].Factory = "recorder" }},
		{"undeclared event", func(p *config.Pipeline) { p.Listeners[0].Trigger = "other" }},
		{"duplicate name", func(p *config.Pipeline) { p.Consumers[1].Name = "rec" }},
		{"bad sensor config", func(p *config.Pipeline) { p.Sensors[0].Config = json.RawMessage(`{"rate":"fast"}`) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := newTestComponents(t)
			fw, err := New(testConfig())
			require.NoError(t, err)

			p := testPipeline()
			tt.mutate(&p)
			require.Error(t, fw.Build(tc.registry, p))
		})
	}
}

func TestBuild_NilRegistry(t *testing.T) {
	fw, err := New(testConfig())
	require.NoError(t, err)
	err = fw.Build(nil, testPipeline())
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

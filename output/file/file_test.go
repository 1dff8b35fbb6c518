package file

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sigstream/component"
	"github.com/c360/sigstream/errors"
	"github.com/c360/sigstream/stream"
)

func testOutput(t *testing.T, format string, appendMode bool) (*Output, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "out")
	cfg := DefaultConfig()
	cfg.Directory = dir
	cfg.FilePrefix = "frames"
	cfg.Format = format
	cfg.Append = appendMode

	out, err := NewOutput("recorder", cfg, nil)
	require.NoError(t, err)
	return out, filepath.Join(dir, "frames."+format)
}

// frame returns a 2-dimensional window of 1 look-back sample followed by
// 3 frame samples at 10Hz, filled with 0..7.
func frame(t *testing.T, start float64) *stream.Stream {
	t.Helper()
	s, err := stream.NewFromSpec(stream.Spec{
		Num: 3, Dim: 2, Bytes: 8, Type: stream.TypeDouble, SampleRate: 10,
	}, 3, 1)
	require.NoError(t, err)
	for i := range s.MustDoubles() {
		s.MustDoubles()[i] = float64(i)
	}
	s.SetTime(start)
	return s
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	return lines
}

func TestOutput_CSV(t *testing.T) {
	out, path := testOutput(t, FormatCSV, false)
	ctx := context.Background()

	require.NoError(t, out.Enter(ctx))
	assert.True(t, out.Health().Healthy)
	require.NoError(t, out.Consume(ctx, []*stream.Stream{frame(t, 1), frame(t, 2)}))
	require.NoError(t, out.Flush(ctx))

	assert.Equal(t, []string{
		"0,1.1,2,3",
		"0,1.2,4,5",
		"0,1.3,6,7",
		"1,2.1,2,3",
		"1,2.2,4,5",
		"1,2.3,6,7",
	}, readLines(t, path))

	require.NoError(t, out.Close())
	assert.False(t, out.Health().Healthy)
	assert.Equal(t, int64(1), out.DataFlow().Frames)
}

func TestOutput_JSONL(t *testing.T) {
	out, path := testOutput(t, FormatJSONL, false)
	ctx := context.Background()

	require.NoError(t, out.Enter(ctx))
	require.NoError(t, out.Consume(ctx, []*stream.Stream{frame(t, 0.5)}))
	require.NoError(t, out.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 1)

	var rec frameRecord
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, 0, rec.Source)
	assert.InDelta(t, 0.6, rec.Time, 1e-12, "time of the first frame sample")
	assert.Equal(t, 10.0, rec.Rate)
	assert.Equal(t, 2, rec.Dim)
	assert.Equal(t, [][]float64{{2, 3}, {4, 5}, {6, 7}}, rec.Samples, "look-back sample is not written")
}

func TestOutput_AppendAndTruncate(t *testing.T) {
	ctx := context.Background()
	write := func(out *Output) {
		require.NoError(t, out.Enter(ctx))
		require.NoError(t, out.Consume(ctx, []*stream.Stream{frame(t, 0)}))
		require.NoError(t, out.Close())
	}

	out, path := testOutput(t, FormatCSV, true)
	write(out)
	again, err := NewOutput("recorder", out.cfg, nil)
	require.NoError(t, err)
	write(again)
	assert.Len(t, readLines(t, path), 6)

	cfg := out.cfg
	cfg.Append = false
	truncating, err := NewOutput("recorder", cfg, nil)
	require.NoError(t, err)
	write(truncating)
	assert.Len(t, readLines(t, path), 3)
}

func TestOutput_Precision(t *testing.T) {
	out, path := testOutput(t, FormatCSV, false)
	out.cfg.Precision = 3
	ctx := context.Background()

	s, err := stream.New(1, 1, 3, stream.TypeDouble)
	require.NoError(t, err)
	s.MustDoubles()[0] = 3.14159
	s.SetTime(1.0 / 3)

	require.NoError(t, out.Enter(ctx))
	require.NoError(t, out.Consume(ctx, []*stream.Stream{s}))
	require.NoError(t, out.Close())
	assert.Equal(t, []string{"0,0.333,3.14"}, readLines(t, path))
}

func TestOutput_ConsumeBeforeEnter(t *testing.T) {
	out, _ := testOutput(t, FormatCSV, false)

	err := out.Consume(context.Background(), []*stream.Stream{frame(t, 0)})
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.ErrorIs(t, err, errors.ErrNotStarted)
	assert.NoError(t, out.Close(), "close without enter")
}

func TestOutput_EnterTwice(t *testing.T) {
	out, _ := testOutput(t, FormatCSV, false)
	require.NoError(t, out.Enter(context.Background()))
	defer out.Close()

	err := out.Enter(context.Background())
	assert.ErrorIs(t, err, errors.ErrAlreadyStarted)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"directory", func(c *Config) { c.Directory = "" }},
		{"prefix", func(c *Config) { c.FilePrefix = "" }},
		{"format", func(c *Config) { c.Format = "parquet" }},
		{"precision", func(c *Config) { c.Precision = -2 }},
		{"buffer", func(c *Config) { c.BufferSize = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
}

func TestRegister(t *testing.T) {
	registry := component.NewRegistry()
	require.NoError(t, Register(registry))

	dir := t.TempDir()
	raw, err := json.Marshal(map[string]any{"directory": dir, "format": "jsonl"})
	require.NoError(t, err)
	c, err := registry.Create("file", "log", raw, component.Dependencies{})
	require.NoError(t, err)

	out := c.(*Output)
	assert.True(t, strings.HasSuffix(out.Path(), "sigstream.jsonl"))
	assert.Equal(t, component.KindConsumer, out.Meta().Kind)
}

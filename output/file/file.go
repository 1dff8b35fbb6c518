package file

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/sigstream/component"
	"github.com/c360/sigstream/errors"
	"github.com/c360/sigstream/stream"
)

// Output formats
const (
	FormatCSV   = "csv"
	FormatJSONL = "jsonl"
)

// Config holds configuration for file output component
type Config struct {
	Directory  string `json:"directory"`
	FilePrefix string `json:"file_prefix"`
	Format     string `json:"format"`
	Append     bool   `json:"append"`
	// Precision is the number of significant digits written; -1 writes
	// the shortest exact representation.
	Precision int `json:"precision"`
	// BufferSize is the write buffer in bytes.
	BufferSize int `json:"buffer_size"`
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Directory == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "directory is required")
	}
	if c.FilePrefix == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "file_prefix is required")
	}
	if c.Format != FormatCSV && c.Format != FormatJSONL {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"format must be one of: csv, jsonl")
	}
	if c.Precision < -1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "precision must be >= -1")
	}
	if c.BufferSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"buffer_size cannot be negative")
	}
	return nil
}

// DefaultConfig returns default configuration for file output
func DefaultConfig() Config {
	return Config{
		Directory:  os.TempDir(),
		FilePrefix: "sigstream",
		Format:     FormatCSV,
		Precision:  -1,
		BufferSize: 64 * 1024,
	}
}

// Output writes frames to a file
type Output struct {
	name   string
	cfg    Config
	path   string
	logger *slog.Logger

	mu     sync.Mutex
	file   *os.File
	buf    *bufio.Writer
	csv    *csv.Writer
	row    []string
	opened time.Time

	framesWritten atomic.Int64
	rowsWritten   atomic.Int64
	errors        atomic.Int64
	lastActivity  atomic.Int64
}

var (
	_ component.Consumer  = (*Output)(nil)
	_ component.Lifecycle = (*Output)(nil)
	_ component.Describer = (*Output)(nil)
)

// NewOutput creates a file output. The file is opened by Enter.
func NewOutput(name string, cfg Config, logger *slog.Logger) (*Output, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default().With("component", name)
	}
	return &Output{
		name:   name,
		cfg:    cfg,
		path:   filepath.Join(cfg.Directory, fmt.Sprintf("%s.%s", cfg.FilePrefix, cfg.Format)),
		logger: logger,
	}, nil
}

// Name returns the component name
func (f *Output) Name() string { return f.name }

// Path returns the output file path
func (f *Output) Path() string { return f.path }

// Meta returns component metadata
func (f *Output) Meta() component.Metadata {
	return component.Metadata{
		Name:        f.name,
		Kind:        component.KindConsumer,
		Description: "File output writing frames as " + f.cfg.Format,
		Version:     "1.0.0",
	}
}

// Enter creates the directory and opens the output file
func (f *Output) Enter(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file != nil {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Output", "Enter", "check open file")
	}
	if err := os.MkdirAll(f.cfg.Directory, 0o755); err != nil {
		return errors.WrapFatal(err, "Output", "Enter", "create output directory")
	}

	flags := os.O_CREATE | os.O_WRONLY
	if f.cfg.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(f.path, flags, 0o644)
	if err != nil {
		return errors.WrapFatal(err, "Output", "Enter", "open output file")
	}

	f.file = file
	f.buf = bufio.NewWriterSize(file, max(f.cfg.BufferSize, 4096))
	if f.cfg.Format == FormatCSV {
		f.csv = csv.NewWriter(f.buf)
	}
	f.opened = time.Now()

	f.logger.Info("File output opened", "path", f.path, "format", f.cfg.Format, "append", f.cfg.Append)
	return nil
}

// Consume appends the frame part of every source window
func (f *Output) Consume(_ context.Context, in []*stream.Stream) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		return errors.WrapFatal(errors.ErrNotStarted, "Output", "Consume", "file not open")
	}

	for src, s := range in {
		var err error
		if f.cfg.Format == FormatCSV {
			err = f.writeCSV(src, s)
		} else {
			err = f.writeJSONL(src, s)
		}
		if err != nil {
			f.errors.Add(1)
			return errors.WrapTransient(err, "Output", "Consume", "write frame")
		}
	}

	f.framesWritten.Add(1)
	f.lastActivity.Store(time.Now().UnixNano())
	return nil
}

func (f *Output) format(v float64) string {
	return strconv.FormatFloat(v, 'g', f.cfg.Precision, 64)
}

func (f *Output) writeCSV(src int, s *stream.Stream) error {
	dim := s.Dim()
	for i := s.NumDelta(); i < s.Num(); i++ {
		f.row = append(f.row[:0], strconv.Itoa(src), f.format(s.Time()+float64(i)/s.SampleRate()))
		for d := 0; d < dim; d++ {
			v, err := s.Value(i, d)
			if err != nil {
				return err
			}
			f.row = append(f.row, f.format(v))
		}
		if err := f.csv.Write(f.row); err != nil {
			return err
		}
		f.rowsWritten.Add(1)
	}
	f.csv.Flush()
	return f.csv.Error()
}

// frameRecord is one jsonl line
type frameRecord struct {
	Source  int         `json:"source"`
	Time    float64     `json:"time"`
	Rate    float64     `json:"rate"`
	Dim     int         `json:"dim"`
	Labels  []string    `json:"labels,omitempty"`
	Samples [][]float64 `json:"samples"`
}

func (f *Output) writeJSONL(src int, s *stream.Stream) error {
	rec := frameRecord{
		Source:  src,
		Time:    s.FrameTime(),
		Rate:    s.SampleRate(),
		Dim:     s.Dim(),
		Labels:  s.Labels(),
		Samples: make([][]float64, s.NumFrame()),
	}
	for i := range rec.Samples {
		sample := make([]float64, s.Dim())
		for d := range sample {
			v, err := s.Value(s.NumDelta()+i, d)
			if err != nil {
				return err
			}
			sample[d] = v
		}
		rec.Samples[i] = sample
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := f.buf.Write(append(data, '\n')); err != nil {
		return err
	}
	f.rowsWritten.Add(int64(len(rec.Samples)))
	return nil
}

// Flush writes buffered rows and syncs the file
func (f *Output) Flush(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushLocked()
}

func (f *Output) flushLocked() error {
	if f.file == nil {
		return nil
	}
	if err := f.buf.Flush(); err != nil {
		return errors.WrapTransient(err, "Output", "Flush", "flush buffer")
	}
	if err := f.file.Sync(); err != nil {
		return errors.WrapTransient(err, "Output", "Flush", "sync file")
	}
	return nil
}

// Close flushes and closes the file
func (f *Output) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		return nil
	}
	flushErr := f.flushLocked()
	closeErr := f.file.Close()
	f.file, f.buf, f.csv = nil, nil, nil

	f.logger.Info("File output closed", "path", f.path,
		"frames", f.framesWritten.Load(), "rows", f.rowsWritten.Load(), "errors", f.errors.Load())
	if closeErr != nil {
		return errors.WrapTransient(closeErr, "Output", "Close", "close file")
	}
	return flushErr
}

// Health returns the current health status
func (f *Output) Health() component.HealthStatus {
	f.mu.Lock()
	open, opened := f.file != nil, f.opened
	f.mu.Unlock()

	var uptime time.Duration
	if open {
		uptime = time.Since(opened)
	}
	return component.HealthStatus{
		Healthy:    open,
		LastCheck:  time.Now(),
		ErrorCount: int(f.errors.Load()),
		Uptime:     uptime,
	}
}

// DataFlow returns current data flow metrics
func (f *Output) DataFlow() component.FlowMetrics {
	frames := f.framesWritten.Load()
	var errorRate float64
	if frames > 0 {
		errorRate = float64(f.errors.Load()) / float64(frames)
	}
	var last time.Time
	if ns := f.lastActivity.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}
	return component.FlowMetrics{
		Frames:       frames,
		ErrorRate:    errorRate,
		LastActivity: last,
	}
}

// NewComponent is the registry factory
func NewComponent(name string, rawConfig json.RawMessage, deps component.Dependencies) (component.Component, error) {
	cfg := DefaultConfig()
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return nil, errors.WrapInvalid(err, "Output", "NewComponent", "config unmarshal")
		}
	}
	return NewOutput(name, cfg, deps.GetLoggerWithComponent(name))
}

// Register registers the file output component with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterFactory(component.Registration{
		Name:        "file",
		Kind:        component.KindConsumer,
		Description: "File output writing frames as CSV or JSON lines",
		Version:     "1.0.0",
		Factory:     NewComponent,
	})
}

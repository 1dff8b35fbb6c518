package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath     string
	LogLevel       string
	LogFormat      string
	Debug          bool
	ShowVersion    bool
	ShowHelp       bool
	Validate       bool
	ListComponents bool

	usage func()
}

func parseFlags(args []string, stderr io.Writer) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&cfg.ConfigPath, "config", getEnv("SIGSTREAM_CONFIG", ""),
		"Path to a JSON or YAML configuration file (env: SIGSTREAM_CONFIG)")
	fs.StringVar(&cfg.ConfigPath, "c", getEnv("SIGSTREAM_CONFIG", ""),
		"Path to a JSON or YAML configuration file (env: SIGSTREAM_CONFIG)")

	// Empty log flags defer to the configuration file and SIGSTREAM_LOG_*.
	fs.StringVar(&cfg.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, "log-format", "", "Log format: json, text")
	fs.BoolVar(&cfg.Debug, "debug", getEnvBool("SIGSTREAM_DEBUG", false),
		"Enable debug logging (env: SIGSTREAM_DEBUG)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Build the pipeline, then exit without running it")
	fs.BoolVar(&cfg.ListComponents, "list-components", false, "List component factories and exit")

	fs.Usage = func() { printDetailedHelp(fs, stderr) }
	cfg.usage = fs.Usage

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.Debug {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp || cfg.ListComponents {
		return nil
	}
	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}
	if cfg.LogLevel != "" && !slices.Contains(validLevels, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if cfg.LogFormat != "" && !slices.Contains(validFormats, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	return nil
}

var (
	validLevels  = []string{"debug", "info", "warn", "error"}
	validFormats = []string{"json", "text"}
)

func printDetailedHelp(fs *flag.FlagSet, w io.Writer) {
	_, _ = fmt.Fprintf(w, `%s - multi-rate sensor dataflow

Usage: %s [options]

Options:
`, appName, appName)
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(w, `
Examples:
  # Run a pipeline
  %[1]s --config=pipeline.yaml

  # Check a configuration builds
  %[1]s --config=pipeline.yaml --validate

  # Start in step with other machines (this one waits for the signal)
  SIGSTREAM_NETSYNC_ENABLED=true SIGSTREAM_NETSYNC_ROLE=server %[1]s -c pipeline.yaml

Environment:
  SIGSTREAM_LOG_LEVEL, SIGSTREAM_LOG_FORMAT, SIGSTREAM_COUNTDOWN,
  SIGSTREAM_BUFFER_SIZE, SIGSTREAM_NETSYNC_*, SIGSTREAM_METRICS_* override
  the configuration file.

Version: %[2]s
Build: %[3]s
`, appName, Version, BuildTime)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

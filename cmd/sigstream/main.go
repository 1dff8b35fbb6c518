// Package main implements the sigstream command. It loads a pipeline
// configuration, builds the components it names and runs the pipeline
// until SIGINT or SIGTERM.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/c360/sigstream/component"
	"github.com/c360/sigstream/componentregistry"
	"github.com/c360/sigstream/config"
	"github.com/c360/sigstream/metric"
	"github.com/c360/sigstream/pipeline"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "sigstream"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cli, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if err := validateFlags(cli); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	registry := component.NewRegistry()
	if err := componentregistry.Register(registry); err != nil {
		return fmt.Errorf("register components: %w", err)
	}

	switch {
	case cli.ShowVersion:
		_, _ = fmt.Fprintf(stdout, "%s version %s (%s)\n", appName, Version, BuildTime)
		return nil
	case cli.ShowHelp:
		cli.usage()
		return nil
	case cli.ListComponents:
		return listComponents(stdout, registry)
	}

	cfg, err := config.Load(cli.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cli.LogLevel != "" {
		cfg.Log.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Log.Format = cli.LogFormat
	}

	logger := setupLogger(stderr, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)
	logger.Info("Starting sigstream", "build_time", BuildTime, "config_path", cli.ConfigPath)

	var metrics *metric.MetricsRegistry
	if cfg.Framework.Metrics.Enabled {
		metrics = metric.NewMetricsRegistry()
	}

	fw, err := pipeline.New(cfg.Framework,
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(metrics),
	)
	if err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}
	if err := fw.Build(registry, cfg.Pipeline); err != nil {
		_ = fw.Stop()
		return fmt.Errorf("build pipeline: %w", err)
	}

	if cli.Validate {
		logger.Info("Configuration is valid", "buffers", len(fw.Buffers()))
		return fw.Stop()
	}

	return serve(ctx, logger, fw, metrics, cfg.Framework.Metrics)
}

// serve runs the pipeline and the metrics endpoint until ctx is done or
// either fails, then stops both.
func serve(ctx context.Context, logger *slog.Logger, fw *pipeline.Framework,
	metrics *metric.MetricsRegistry, mcfg config.Metrics) error {
	g, gctx := errgroup.WithContext(ctx)

	if metrics != nil {
		server := metric.NewServer(mcfg.Port, mcfg.Path, metrics)
		g.Go(func() error {
			logger.Info("Metrics server listening", "address", server.Address())
			fw.Monitor().UpdateHealthy("metrics-server", "serving "+mcfg.Path)
			if err := server.Start(); err != nil {
				fw.Monitor().UpdateUnhealthy("metrics-server", err.Error())
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), fw.Config().ShutdownTimeout.D())
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		if err := fw.Start(gctx); err != nil {
			return fmt.Errorf("start pipeline: %w", err)
		}
		logger.Debug("Session started", "session", fw.SessionID())

		<-gctx.Done()
		logger.Info("Shutting down", "pipeline_time", fw.Time())
		if err := fw.Stop(); err != nil {
			return fmt.Errorf("stop pipeline: %w", err)
		}
		logger.Info("Shutdown complete", "health", fw.Health().Status)
		return nil
	})

	return g.Wait()
}

func listComponents(w io.Writer, registry *component.Registry) error {
	for _, name := range registry.ListFactories() {
		reg, _ := registry.Lookup(name)
		if _, err := fmt.Fprintf(w, "%-12s %-16s %s\n", reg.Name, reg.Kind, reg.Description); err != nil {
			return err
		}
	}
	return nil
}

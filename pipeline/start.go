package pipeline

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/c360/sigstream/component"
	"github.com/c360/sigstream/config"
	"github.com/c360/sigstream/errors"
	"github.com/c360/sigstream/event"
	"github.com/c360/sigstream/netsync"
	"github.com/c360/sigstream/pkg/buffer"
)

// Start launches every unit, waits for the countdown and the optional
// network start signal, then starts the pipeline clock. ctx bounds only
// that wait; the tasks keep running until Stop.
//
// If the wait is interrupted by ctx, a netsync failure or a concurrent
// Stop, Start stops the pipeline and returns the error.
func (f *Framework) Start(ctx context.Context) error {
	f.regMu.Lock()
	if f.terminating.Load() {
		f.regMu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Framework", "Start", "start after stop")
	}
	if !f.started.CompareAndSwap(false, true) {
		f.regMu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Framework", "Start", "double start")
	}
	f.mu.Lock()
	units := slices.Clone(f.units)
	buffers := slices.Collect(maps.Values(f.buffers))
	channels := slices.Collect(maps.Values(f.channels))
	f.mu.Unlock()
	f.regMu.Unlock()

	for _, b := range buffers {
		b.Reset()
	}
	f.warnSilentChannels(channels)

	if err := f.executor.Start(context.WithoutCancel(ctx)); err != nil {
		return errors.Wrap(err, "Framework", "Start", "executor start")
	}
	for _, ch := range channels {
		if err := f.executor.Submit("events."+ch.Name(), ch.Run); err != nil {
			return f.abort(errors.Wrap(err, "Framework", "Start", "submit "+ch.Name()))
		}
	}
	for _, u := range units {
		if u.run == nil {
			continue
		}
		if err := f.executor.Submit(u.name, u.run); err != nil {
			return f.abort(errors.Wrap(err, "Framework", "Start", "submit "+u.name))
		}
	}

	// Stop during the wait releases Start.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-f.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	f.logger.Info("Pipeline starting", "components", len(units), "buffers", len(buffers),
		"countdown", f.cfg.Countdown.D())
	if err := f.countdown(ctx); err != nil {
		return f.abort(err)
	}
	if err := f.syncStart(ctx); err != nil {
		return f.abort(err)
	}

	f.mu.Lock()
	if f.terminating.Load() {
		f.mu.Unlock()
		return f.abort(errors.WrapTransient(errors.ErrShuttingDown, "Framework", "Start", "stopped during start"))
	}
	f.timer.Start()
	f.running.Store(true)
	close(f.runningCh)
	f.mu.Unlock()

	if f.core != nil {
		f.core.RecordRunning(true)
	}
	f.logger.Info("Pipeline running", "start_time", f.timer.StartTime())
	return nil
}

func (f *Framework) abort(err error) error {
	f.logger.Error("Pipeline start aborted", "error", err)
	_ = f.Stop()
	return err
}

// countdown waits Countdown, logging each remaining second.
func (f *Framework) countdown(ctx context.Context) error {
	remaining := f.cfg.Countdown.D()
	for remaining > 0 {
		f.logger.Info("Pipeline starts in", "remaining", remaining)
		step := min(remaining, time.Second)
		select {
		case <-ctx.Done():
			return errors.WrapTransient(ctx.Err(), "Framework", "Start", "countdown")
		case <-f.clock.After(step):
		}
		remaining -= step
	}
	return nil
}

// syncStart broadcasts or waits for the network start signal.
func (f *Framework) syncStart(ctx context.Context) error {
	ns := f.cfg.NetSync
	if !ns.Enabled {
		return nil
	}
	opts := []netsync.Option{
		netsync.WithLogger(f.logger),
		netsync.WithMetrics(f.registry),
	}

	switch ns.Role {
	case config.RoleClient:
		client, err := netsync.NewClient(ns.Host, ns.Port, opts...)
		if err != nil {
			return err
		}
		if err := client.Broadcast(ctx); err != nil {
			f.monitor.UpdateUnhealthy("netsync", err.Error())
			return err
		}
		f.monitor.UpdateHealthy("netsync", "start signal sent to "+client.Addr())
	default:
		server, err := netsync.NewServer(ns.Bind, ns.Port, ns.Timeout.D(), opts...)
		if err != nil {
			return err
		}
		if err := server.Listen(ctx); err != nil {
			f.monitor.UpdateUnhealthy("netsync", err.Error())
			return err
		}
		f.monitor.UpdateHealthy("netsync", "start signal received")
	}
	return nil
}

func (f *Framework) warnSilentChannels(channels []*event.Channel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range channels {
		if ch.Listeners() > 0 && len(f.emitters[ch.Name()]) == 0 {
			f.logger.Warn("Event channel has listeners but no registered provider", "channel", ch.Name())
		}
	}
}

// Stop ends the run. It closes every buffer and event channel so blocked
// readers return, cancels the tasks and waits up to ShutdownTimeout for
// them, then flushes and closes each component and disconnects sensors.
//
// Component errors are logged, not returned. The only error is a task
// that outlived ShutdownTimeout. Stop is idempotent and may be called
// before Start.
func (f *Framework) Stop() error {
	f.stopOnce.Do(func() {
		f.stopErr = f.stop()
	})
	return f.stopErr
}

func (f *Framework) stop() error {
	f.regMu.Lock()
	f.mu.Lock()
	f.terminating.Store(true)
	f.running.Store(false)
	close(f.stopCh)
	units := slices.Clone(f.units)
	sensors := slices.Clone(f.sensors)
	queues := slices.Clone(f.queues)
	buffers := slices.Collect(maps.Values(f.buffers))
	channels := slices.Collect(maps.Values(f.channels))
	f.mu.Unlock()
	f.regMu.Unlock()

	if f.core != nil {
		f.core.RecordRunning(false)
	}
	stoppedAt := f.timer.Elapsed()
	f.logger.Info("Pipeline stopping", "time", stoppedAt)

	for _, u := range units {
		if s := u.tracker.State(); s == component.StateRunning || s == component.StateInitialized {
			f.transition(u, component.StateStopping)
		}
	}
	for _, b := range buffers {
		_ = b.Close()
	}
	for _, q := range queues {
		_ = q.Close()
	}
	for _, ch := range channels {
		_ = ch.Close()
	}

	var stopErr error
	if f.started.Load() {
		if err := f.executor.Stop(f.cfg.ShutdownTimeout.D()); err != nil {
			stopErr = errors.WrapTransient(err, "Framework", "Stop", "await tasks")
			f.logger.Warn("Tasks still running after shutdown timeout", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), f.cfg.ShutdownTimeout.D())
	defer cancel()

	var errs []error
	for i := len(units) - 1; i >= 0; i-- {
		if err := f.closeUnit(ctx, units[i]); err != nil {
			errs = append(errs, err)
		}
	}
	for _, su := range sensors {
		if !su.connected.isOpen() {
			continue
		}
		if err := su.sensor.Disconnect(); err != nil {
			su.logger.Warn("Disconnect failed", "error", err)
			errs = append(errs, fmt.Errorf("%s: disconnect: %w", su.name, err))
		}
	}
	if len(errs) > 0 {
		f.logger.Warn("Components reported errors during stop", "count", len(errs), "error", errors.Join(errs...))
	}

	f.logger.Info("Pipeline stopped", "time", stoppedAt, "stats", f.bufferSummary(buffers))
	return stopErr
}

// closeUnit flushes then closes one component. Both hooks are always
// attempted.
func (f *Framework) closeUnit(ctx context.Context, u *unit) error {
	var errs []error
	if fl, ok := u.comp.(component.Flusher); ok {
		if err := fl.Flush(ctx); err != nil {
			u.logger.Warn("Flush failed", "error", err)
			errs = append(errs, fmt.Errorf("%s: flush: %w", u.name, err))
		}
	}
	if c, ok := u.comp.(component.Closer); ok {
		if err := c.Close(); err != nil {
			u.logger.Warn("Close failed", "error", err)
			errs = append(errs, fmt.Errorf("%s: close: %w", u.name, err))
		}
	}
	f.transition(u, component.StateClosed)
	return errors.Join(errs...)
}

func (f *Framework) bufferSummary(buffers []*buffer.TimeBuffer) map[string]int64 {
	summary := make(map[string]int64, len(buffers))
	for _, b := range buffers {
		summary[b.Name()] = b.Stats().SamplesWritten()
	}
	return summary
}

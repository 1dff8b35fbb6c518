package pipeline

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/c360/sigstream/component"
	"github.com/c360/sigstream/errors"
	"github.com/c360/sigstream/pkg/buffer"
	"github.com/c360/sigstream/pkg/retry"
	"github.com/c360/sigstream/stream"
)

const (
	// connectAttempts caps sensor connect retries; ConnectTimeout usually
	// ends them first.
	connectAttempts = 10

	// connectionCheckInterval is how often a running sensor is asked
	// whether its connection is still up.
	connectionCheckInterval = time.Second

	// stallAfter is how long, in pipeline seconds, a window may be overdue
	// before the reader warns that a source has stalled.
	stallAfter = 2.0
)

// waitRunning blocks until Start has released the pipeline.
func (f *Framework) waitRunning(ctx context.Context) error {
	select {
	case <-f.runningCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func enter(ctx context.Context, u *unit) error {
	e, ok := u.comp.(component.Enterer)
	if !ok {
		return nil
	}
	if err := e.Enter(ctx); err != nil {
		return errors.Wrap(err, "Framework", "enter", u.name)
	}
	return nil
}

func (f *Framework) runSensor(ctx context.Context, su *sensorUnit) error {
	defer su.connected.fail()

	if err := enter(ctx, su.unit); err != nil {
		return err
	}
	if err := f.connect(ctx, su); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	su.connected.open()

	if f.waitRunning(ctx) != nil {
		return nil
	}
	f.transition(su.unit, component.StateRunning)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-f.clock.After(connectionCheckInterval):
		}
		if !su.sensor.CheckConnection() {
			su.tracker.RecordError(errors.ErrConnectionLost)
			f.recordError(su.unit, errors.ErrConnectionLost)
			su.warnf("Sensor connection lost")
		}
	}
}

// connect retries Connect with backoff until it succeeds, ConnectTimeout
// elapses or Stop is called.
func (f *Framework) connect(ctx context.Context, su *sensorUnit) error {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.ConnectTimeout.D())
	defer cancel()

	cfg := retry.Config{
		MaxAttempts:  connectAttempts,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
		Abort:        f.IsTerminating,
	}
	attempt := 0
	err := retry.Do(ctx, cfg, func() error {
		attempt++
		err := su.sensor.Connect(ctx)
		if err != nil {
			su.logger.Debug("Connect attempt failed", "attempt", attempt, "error", err)
		}
		return err
	})
	if err != nil {
		return errors.WrapFatal(fmt.Errorf("%w: %w", errors.ErrConnectFailed, err),
			"Framework", "connect", su.name)
	}
	su.logger.Info("Sensor connected", "attempts", attempt)
	return nil
}

// runChannel produces one chunk every Num/SampleRate seconds. Chunk k
// covers [k*step, (k+1)*step) and is pushed once that interval has passed.
func (f *Framework) runChannel(ctx context.Context, cu *channelUnit) error {
	defer cu.gate.fail()

	select {
	case <-cu.sensor.connected.ready:
	case <-cu.sensor.connected.failed:
		return errors.WrapFatal(errors.ErrConnectFailed, "Framework", "runChannel", "sensor "+cu.sensor.name)
	case <-ctx.Done():
		return nil
	}
	if err := enter(ctx, cu.unit); err != nil {
		return err
	}
	out, err := stream.NewFromSpec(cu.spec, cu.spec.Num, 0)
	if err != nil {
		return err
	}
	cu.gate.open()

	if f.waitRunning(ctx) != nil {
		return nil
	}
	f.transition(cu.unit, component.StateRunning)

	num := int64(cu.spec.Num)
	step := float64(num) / cu.spec.SampleRate
	for k := int64(0); ; k++ {
		if f.timer.SleepUntil(ctx, float64(k+1)*step) != nil || f.terminating.Load() {
			return nil
		}

		started := time.Now()
		if err := out.Adjust(cu.spec.Num); err != nil {
			return err
		}
		out.SetTime(float64(k) * step)

		fresh, err := cu.channel.Process(ctx, out)
		if err != nil {
			if errors.IsFatal(err) {
				return err
			}
			fresh = false
			cu.tracker.RecordError(err)
			f.recordError(cu.unit, err)
			cu.warnf("Process failed, pushing zeroes", "error", err)
		}

		if fresh {
			if err := cu.out.PushStream(out); err != nil {
				return err
			}
		} else {
			cu.out.PushZeroes(cu.spec.Num)
		}
		f.recordFrame(cu.unit, started, out.TotalBytes())

		now := f.timer.Elapsed()
		if padded := cu.out.Sync(now); padded > 0 {
			// The padding stands in for the chunks missed while stalled.
			// Round up to a chunk boundary and resume after it.
			if rem := cu.out.Position() % num; rem != 0 {
				cu.out.PushZeroes(int(num - rem))
				padded += num - rem
			}
			k = cu.out.Position()/num - 1
			if f.core != nil {
				f.core.RecordSyncPadding(cu.name, padded)
			}
			cu.warnf("Channel fell behind the clock, padded with zeroes", "samples", padded, "time", now)
		}
		if f.core != nil {
			f.core.RecordPipelineTime(now)
		}
	}
}

// runFrames drives a transformer or consumer. Frame k reads the window
// starting at k*frame, frame+delta seconds long, from every source: delta
// seconds of look-back followed by the frame.
func (f *Framework) runFrames(ctx context.Context, fu *frameUnit) error {
	if fu.gate != nil {
		defer fu.gate.fail()
	}

	dead, ok, err := f.awaitSources(ctx, fu.unit, fu.sources)
	if !ok {
		return err
	}
	fu.dead = dead
	if err := enter(ctx, fu.unit); err != nil {
		return err
	}

	in := make([]*stream.Stream, len(fu.sources))
	for i, src := range fu.sources {
		buf := src.Buffer()
		s, err := stream.NewFromSpec(src.Spec(), int(buf.SamplesFor(fu.frame)), int(buf.SamplesFor(fu.delta)))
		if err != nil {
			return err
		}
		in[i] = s
	}
	var out *stream.Stream
	if fu.transformer != nil {
		if out, err = stream.NewFromSpec(fu.outSpec, fu.outSpec.Num, 0); err != nil {
			return err
		}
		fu.gate.open()
	}

	if f.waitRunning(ctx) != nil {
		return nil
	}
	f.transition(fu.unit, component.StateRunning)

	k := int64(0)
	for {
		at := float64(k) * fu.frame
		st, src := f.read(ctx, fu.unit, fu.sources, fu.dead, in, at, fu.frame+fu.delta)
		switch st {
		case buffer.StatusOK:
		case buffer.StatusDataNotInBufferAnymore, buffer.StatusDataExceedsBufferSize:
			next := fu.resumeAfter(k)
			fu.warnf("Frame no longer in buffer, skipping", "source", src,
				"frame", k, "time", at, "skipped", next-k, "status", st.String())
			if f.core != nil {
				f.core.RecordSkip(fu.name, st.String())
			}
			if fu.out != nil {
				fu.out.PushZeroes(int(next-k) * fu.outSpec.Num)
			}
			k = next
			continue
		case buffer.StatusDataNotInBufferYet:
			return nil
		default:
			if f.terminating.Load() {
				return nil
			}
			return errors.WrapFatal(st.Err(), "Framework", "runFrames", "read "+src)
		}

		started := time.Now()
		if fu.transformer != nil {
			err = fu.transform(ctx, in, out, at)
		} else {
			err = fu.consumer.Consume(ctx, in)
		}
		if err != nil {
			if errors.IsFatal(err) {
				return err
			}
			fu.tracker.RecordError(err)
			f.recordError(fu.unit, err)
			fu.warnf("Frame failed", "frame", k, "time", at, "error", err)
		} else {
			f.recordFrame(fu.unit, started, frameBytes(in))
		}
		k++
	}
}

// transform runs one frame and pushes its output. A failed frame is
// replaced by zeroes so the output stays aligned with the clock.
func (fu *frameUnit) transform(ctx context.Context, in []*stream.Stream, out *stream.Stream, at float64) error {
	if err := out.Adjust(fu.outSpec.Num); err != nil {
		return err
	}
	out.SetTime(at)
	if err := fu.transformer.Transform(ctx, in, out); err != nil {
		fu.out.PushZeroes(fu.outSpec.Num)
		return err
	}
	return fu.out.PushStream(out)
}

// resumeAfter returns the first frame after k whose window is still held
// by every source.
func (fu *frameUnit) resumeAfter(k int64) int64 {
	next := k + 1
	for _, src := range fu.sources {
		buf := src.Buffer()
		oldest := float64(buf.Position()-buf.Capacity()) / buf.SampleRate()
		if oldest <= 0 {
			continue
		}
		if first := int64(math.Ceil(oldest / fu.frame)); first > next {
			next = first
		}
	}
	return next
}

func (f *Framework) runEvents(ctx context.Context, eu *eventUnit) error {
	dead, ok, err := f.awaitSources(ctx, eu.unit, eu.sources)
	if !ok {
		return err
	}
	eu.dead = dead
	if err := enter(ctx, eu.unit); err != nil {
		return err
	}

	in := make([]*stream.Stream, len(eu.sources))
	for i, src := range eu.sources {
		s, err := stream.NewFromSpec(src.Spec(), 0, 0)
		if err != nil {
			return err
		}
		in[i] = s
	}

	if f.waitRunning(ctx) != nil {
		return nil
	}
	f.transition(eu.unit, component.StateRunning)

	for {
		ev, err := eu.queue.ReadWithContext(ctx)
		if err != nil {
			return nil
		}

		st, src := f.read(ctx, eu.unit, eu.sources, eu.dead, in, ev.Time, ev.Duration)
		switch st {
		case buffer.StatusOK:
		case buffer.StatusDataNotInBufferYet:
			return nil
		case buffer.StatusError:
			if f.terminating.Load() {
				return nil
			}
			return errors.WrapFatal(st.Err(), "Framework", "runEvents", "read "+src)
		default:
			eu.warnf("Event window unavailable, skipping event", "event", ev.Name,
				"time", ev.Time, "duration", ev.Duration, "source", src, "status", st.String())
			if f.core != nil {
				f.core.RecordSkip(eu.name, st.String())
			}
			continue
		}

		started := time.Now()
		if err := eu.consumer.ConsumeEvent(ctx, in, ev); err != nil {
			if errors.IsFatal(err) {
				return err
			}
			eu.tracker.RecordError(err)
			f.recordError(eu.unit, err)
			eu.warnf("Event failed", "event", ev.Name, "error", err)
			continue
		}
		f.recordFrame(eu.unit, started, frameBytes(in))
	}
}

// runListener keeps a lifecycle-aware event listener in step with the
// pipeline. Delivery itself happens on the channel dispatcher.
func (f *Framework) runListener(ctx context.Context, u *unit) error {
	if err := enter(ctx, u); err != nil {
		return err
	}
	if f.waitRunning(ctx) != nil {
		return nil
	}
	f.transition(u, component.StateRunning)
	<-ctx.Done()
	return nil
}

// awaitSources blocks until the producer of every source has started or
// given up, and reports which gave up. A unit none of whose sources will
// ever produce fails with ErrConnectFailed. ok is false when ctx ended the
// wait or the unit failed.
func (f *Framework) awaitSources(ctx context.Context, u *unit, sources []component.Provider) (dead []bool, ok bool, err error) {
	dead = make([]bool, len(sources))
	var failed []string
	for i, src := range sources {
		o, isOutput := src.(*output)
		if !isOutput || o.gate == nil {
			continue
		}
		select {
		case <-o.gate.ready:
		case <-o.gate.failed:
			dead[i] = true
			failed = append(failed, src.Name())
		case <-ctx.Done():
			return nil, false, nil
		}
	}

	switch {
	case len(failed) == len(sources):
		return nil, false, errors.WrapFatal(
			fmt.Errorf("%w: no source will produce data (%s)", errors.ErrConnectFailed, strings.Join(failed, ", ")),
			"Framework", "awaitSources", u.name)
	case len(failed) > 0:
		u.logger.Warn("Sources failed to start, reading zeroes in their place", "failed", failed)
	}
	return dead, true, nil
}

// read fills in[i] with [at, at+dur) from every source, polling while a
// window is not yet available. Dead sources read as zeroes. It returns the
// first status that is not StatusOK together with the source that produced
// it. StatusDataNotInBufferYet is only returned once ctx is done.
func (f *Framework) read(ctx context.Context, u *unit, sources []component.Provider, dead []bool, in []*stream.Stream, at, dur float64) (buffer.Status, string) {
	poll := f.cfg.PollInterval.D()
	for i, src := range sources {
		if dead[i] {
			if err := zeroWindow(in[i], src.Buffer(), at, dur); err != nil {
				return buffer.StatusError, src.Name()
			}
			continue
		}
		for {
			st := src.Buffer().GetStream(in[i], at, dur)
			if st == buffer.StatusOK {
				break
			}
			if st != buffer.StatusDataNotInBufferYet {
				return st, src.Name()
			}

			if overdue := f.timer.Elapsed() - (at + dur); overdue > stallAfter {
				u.warnf("Waiting for source", "source", src.Name(), "time", at, "overdue", overdue)
			}
			select {
			case <-ctx.Done():
				return st, src.Name()
			case <-f.clock.After(poll):
			}
		}
	}
	return buffer.StatusOK, ""
}

func (f *Framework) recordFrame(u *unit, started time.Time, bytes int) {
	u.tracker.RecordFrame(bytes)
	if f.core != nil {
		f.core.RecordFrame(u.name, u.kind, time.Since(started))
	}
}

func (f *Framework) recordError(u *unit, err error) {
	if f.core != nil {
		f.core.RecordError(u.name, errors.Classify(err).String())
	}
}

// zeroWindow shapes s like a window of buf over [at, at+dur) and zeroes it.
func zeroWindow(s *stream.Stream, buf *buffer.TimeBuffer, at, dur float64) error {
	if err := s.Adjust(int(buf.SamplesFor(dur))); err != nil {
		return err
	}
	s.Reset()
	s.SetTime(float64(buf.SamplesFor(at)) / buf.SampleRate())
	return nil
}

func frameBytes(in []*stream.Stream) int {
	n := 0
	for _, s := range in {
		n += s.TotalBytes()
	}
	return n
}

// Package importer runs the decode import loops that move raw frames from a
// source into the frame registry.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jmylchreest/reelpipe/internal/filter"
	"github.com/jmylchreest/reelpipe/internal/frame"
	"github.com/jmylchreest/reelpipe/internal/observability"
	"github.com/jmylchreest/reelpipe/internal/ranges"
	"github.com/jmylchreest/reelpipe/internal/registry"
	"github.com/jmylchreest/reelpipe/internal/source"
)

// Cause classifies why an import loop stopped.
type Cause int

const (
	// CauseNone means the loop has not stopped yet.
	CauseNone Cause = iota
	// CauseDone means the source ran out of data.
	CauseDone
	// CauseInterrupted means the registry was interrupted.
	CauseInterrupted
	// CauseExternalError means the source failed with an I/O error.
	CauseExternalError
	// CauseProbeError means a later source unit did not match the first.
	CauseProbeError
)

func (c Cause) String() string {
	switch c {
	case CauseNone:
		return "none"
	case CauseDone:
		return "done"
	case CauseInterrupted:
		return "interrupted"
	case CauseExternalError:
		return "external_error"
	case CauseProbeError:
		return "probe_error"
	default:
		return fmt.Sprintf("cause(%d)", int(c))
	}
}

// unitReporter is implemented by sources spanning several physical units.
type unitReporter interface {
	Unit() int
}

// Config wires an import loop.
type Config struct {
	Kind     frame.Kind
	Source   source.Source
	Registry *registry.Registry
	Ranges   ranges.List
	// Filters holds the pre stage chain. May be nil.
	Filters *filter.Chain
	// Workers is the number of frame workers for Kind. With workers the
	// pre stage runs on the pool instead of in the loop.
	Workers int
	Logger  *slog.Logger
}

// Loop imports frames of one media kind.
type Loop struct {
	cfg    Config
	logger *slog.Logger
	probe  source.Probe

	active atomic.Bool
	frames atomic.Int64

	mu    sync.Mutex
	cause Cause
	err   error
}

// New creates an import loop. The source must already be open.
func New(cfg Config) (*Loop, error) {
	if cfg.Source == nil {
		return nil, errors.New("import loop requires a source")
	}
	if cfg.Registry == nil {
		return nil, errors.New("import loop requires a registry")
	}
	if cfg.Source.Kind() != cfg.Kind {
		return nil, fmt.Errorf("import loop for %s given a %s source", cfg.Kind, cfg.Source.Kind())
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		cfg:    cfg,
		logger: observability.WithComponent(logger, "import").With(slog.String("kind", cfg.Kind.String())),
		probe:  cfg.Source.Probe(),
	}, nil
}

// Run imports frames until the source ends, fails or the registry is
// interrupted. It closes the registry kind on return so frame workers drain.
// A non-nil error is returned only for hard stops: a probe mismatch or a
// registration failure after cancellation.
func (l *Loop) Run(ctx context.Context) error {
	l.active.Store(true)
	defer l.active.Store(false)
	defer l.cfg.Registry.Close(l.cfg.Kind)

	l.logger.DebugContext(ctx, "import loop started")
	for {
		if ctx.Err() != nil {
			l.stop(CauseInterrupted, nil)
			return ctx.Err()
		}

		f, err := l.cfg.Registry.Register(l.cfg.Kind)
		if err != nil {
			l.stop(CauseInterrupted, nil)
			if errors.Is(err, registry.ErrInterrupted) {
				return err
			}
			return fmt.Errorf("registering %s frame: %w", l.cfg.Kind, err)
		}

		if !l.cfg.Ranges.Contains(f.ID) {
			f.Set(frame.OutOfRange)
		}

		stop, err := l.fill(ctx, f)
		if err != nil {
			if rerr := l.cfg.Registry.Remove(f); rerr != nil {
				l.logger.WarnContext(ctx, "releasing frame after probe failure", slog.Any("error", rerr))
			}
			if n := l.cfg.Registry.Flush(l.cfg.Kind); n > 0 {
				l.logger.DebugContext(ctx, "queued frames discarded", slog.Int("frames", n))
			}
			l.cfg.Registry.Interrupt()
			return err
		}

		l.process(ctx, f)
		l.frames.Add(1)

		if stop {
			l.logger.InfoContext(ctx, "import loop finished",
				slog.String("cause", l.Cause().String()),
				slog.Int64("frames", l.frames.Load()))
			return nil
		}
	}
}

// fill reads the next frame from the source. It reports whether the loop
// must stop after pushing f. An error means a hard stop before f is pushed.
func (l *Loop) fill(ctx context.Context, f *frame.Frame) (bool, error) {
	size := l.cfg.Source.FrameSize(f.ID)
	if size > f.Capacity() {
		size = f.Capacity()
	}

	n, err := l.cfg.Source.ReadFrame(f.Buffer()[:size])
	if u, ok := l.cfg.Source.(unitReporter); ok {
		f.Source = u.Unit()
	}

	switch {
	case err == nil:
		f.SetSize(n)
		l.describe(f)
		return false, nil

	case errors.Is(err, io.EOF):
		f.SetSize(0)
		f.Set(frame.EndOfStream)
		l.stop(CauseDone, nil)
		return true, nil

	case errors.Is(err, source.ErrUnitSwitch), errors.Is(err, source.ErrShortFrame):
		f.SetSize(0)
		f.Set(frame.Skipped)
		l.logger.DebugContext(ctx, "frame gap", slog.Int64("frame_id", f.ID), slog.Any("reason", err))
		return false, nil

	case errors.Is(err, source.ErrProbeMismatch):
		l.stop(CauseProbeError, err)
		l.logger.ErrorContext(ctx, "source unit rejected",
			slog.Int64("frame_id", f.ID),
			slog.Any("error", err))
		return true, fmt.Errorf("%s import: %w", l.cfg.Kind, err)

	default:
		f.SetSize(0)
		f.Set(frame.EndOfStream)
		l.stop(CauseExternalError, err)
		l.logger.ErrorContext(ctx, "source read failed, ending stream",
			slog.Int64("frame_id", f.ID),
			slog.Any("error", err))
		return true, nil
	}
}

func (l *Loop) describe(f *frame.Frame) {
	switch f.Kind {
	case frame.Video:
		f.Set(frame.Keyframe)
		f.Width, f.Height = l.probe.Width, l.probe.Height
	case frame.Audio:
		t := l.probe.Track()
		f.SampleRate, f.Channels, f.Bits = t.SampleRate, t.Channels, t.Bits
	}
}

// process runs the pre stage and pushes f downstream.
func (l *Loop) process(ctx context.Context, f *frame.Frame) {
	if !f.NeedsProcessing() {
		l.cfg.Registry.Push(f, registry.PushReady)
		return
	}
	if l.cfg.Workers > 0 {
		l.cfg.Registry.Push(f, registry.PushWait)
		return
	}
	if err := l.cfg.Filters.Apply(filter.Pre, f); err != nil {
		l.logger.WarnContext(ctx, "pre filter failed, frame skipped",
			slog.Int64("frame_id", f.ID),
			slog.Any("error", err))
		f.Set(frame.Skipped)
	}
	l.logger.Log(ctx, observability.LevelTrace, "frame imported",
		slog.Int64("frame_id", f.ID),
		slog.Int("size", f.Size),
		slog.String("flags", f.Flags.String()))
	l.cfg.Registry.Push(f, registry.PushReady)
}

func (l *Loop) stop(cause Cause, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cause == CauseNone {
		l.cause = cause
		l.err = err
	}
}

// Kind returns the media kind imported.
func (l *Loop) Kind() frame.Kind { return l.cfg.Kind }

// Active reports whether the loop is running.
func (l *Loop) Active() bool { return l.active.Load() }

// Frames returns the number of frames pushed so far.
func (l *Loop) Frames() int64 { return l.frames.Load() }

// Cause returns why the loop stopped, or CauseNone while running.
func (l *Loop) Cause() Cause {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cause
}

// Err returns the source error behind CauseExternalError or CauseProbeError.
func (l *Loop) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Package encoder runs the encode loop: it pairs video and audio frames
// from the encoder buffer, encodes them through the codec modules,
// multiplexes the result and drives output rotation.
package encoder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/reelpipe/internal/codec"
	"github.com/jmylchreest/reelpipe/internal/encbuf"
	"github.com/jmylchreest/reelpipe/internal/frame"
	"github.com/jmylchreest/reelpipe/internal/mux"
	"github.com/jmylchreest/reelpipe/internal/observability"
	"github.com/jmylchreest/reelpipe/internal/ranges"
	"github.com/jmylchreest/reelpipe/internal/rotation"
)

// State is the encode loop state.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateDone
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Stats is a snapshot of the loop counters.
type Stats struct {
	State   string `json:"state"`
	Paused  bool   `json:"paused"`
	Encoded int64  `json:"encoded"`
	// Skipped counts frames outside the encode ranges.
	Skipped int64 `json:"skipped"`
	Dropped int64 `json:"dropped"`
	Cloned  int64 `json:"cloned"`
	Delayed int64 `json:"delayed"`
	Bytes   int64 `json:"bytes"`
	Chunks  int   `json:"chunks"`
	// LastVideo and LastAudio are the ids of the most recent pair.
	LastVideo int64         `json:"last_video"`
	LastAudio int64         `json:"last_audio"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Config wires an encode loop.
type Config struct {
	Buffer   *encbuf.Buffer
	Video    codec.Module
	Audio    codec.Module
	Mux      mux.Multiplexer
	Rotation *rotation.Controller
	Ranges   ranges.List
	// Cluster stops the loop at the adjusted last frame of Ranges.
	Cluster bool
	// ProgressEvery logs progress every n encoded frames; 0 disables.
	ProgressEvery int64
	Logger        *slog.Logger
}

// Loop is the single goroutine encode scheduler.
type Loop struct {
	cfg    Config
	logger *slog.Logger

	state    atomic.Int32
	snapshot atomic.Pointer[Stats]

	mu       sync.Mutex
	resume   chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once

	// Owned by the loop goroutine.
	stats   Stats
	started time.Time
	vpkt    codec.Packet
	apkt    codec.Packet
}

// New creates a loop in the Idle state.
func New(cfg Config) (*Loop, error) {
	switch {
	case cfg.Buffer == nil:
		return nil, errors.New("encode loop requires an encoder buffer")
	case cfg.Video == nil || cfg.Audio == nil:
		return nil, errors.New("encode loop requires video and audio codecs")
	case cfg.Mux == nil:
		return nil, errors.New("encode loop requires a multiplexer")
	case cfg.Rotation == nil:
		return nil, errors.New("encode loop requires a rotation controller")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loop{
		cfg:    cfg,
		logger: observability.WithComponent(logger, "encoder"),
		stopCh: make(chan struct{}),
	}
	l.stats.LastVideo, l.stats.LastAudio = -1, -1
	l.publish()
	return l, nil
}

// State returns the current state.
func (l *Loop) State() State { return State(l.state.Load()) }

// Stats returns the latest published snapshot.
func (l *Loop) Stats() Stats { return *l.snapshot.Load() }

// Pause suspends the loop at the next iteration boundary.
func (l *Loop) Pause() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.resume == nil {
		l.resume = make(chan struct{})
		l.logger.Info("encode loop paused")
	}
}

// Resume releases a paused loop.
func (l *Loop) Resume() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.resume != nil {
		close(l.resume)
		l.resume = nil
		l.logger.Info("encode loop resumed")
	}
}

// Paused reports whether a pause is in effect.
func (l *Loop) Paused() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.resume != nil
}

// Stop asks the loop to stop at the next iteration boundary. The output
// is closed without flushing the codecs.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

func (l *Loop) stopRequested(ctx context.Context) bool {
	select {
	case <-l.stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (l *Loop) waitIfPaused(ctx context.Context) {
	l.mu.Lock()
	ch := l.resume
	l.mu.Unlock()
	if ch == nil {
		return
	}
	l.publish()
	select {
	case <-ch:
	case <-l.stopCh:
	case <-ctx.Done():
	}
}

// Run encodes until end of stream, a stop request or a failure and then
// tears the output down. It returns nil when the loop ends Done or
// Stopping, and the failure when it ends in Error.
func (l *Loop) Run(ctx context.Context) (err error) {
	if !l.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return fmt.Errorf("encode loop cannot run from state %s", l.State())
	}
	l.started = time.Now()
	done := observability.TimedOperationWithError(ctx, l.logger, "encode", &err)
	defer done()

	if err = l.cfg.Rotation.Open(); err != nil {
		l.setState(StateError)
		l.teardown(ctx, false)
		return err
	}
	l.publish()

	final, err := l.loop(ctx)
	l.setState(final)
	l.teardown(ctx, final == StateDone || final == StateError)
	if final == StateError {
		return err
	}
	return nil
}

func (l *Loop) loop(ctx context.Context) (State, error) {
	// Cluster mode ends on the raw id of the last range's final frame.
	var clusterLast int64 = -1
	if l.cfg.Cluster && len(l.cfg.Ranges) > 0 {
		clusterLast = l.cfg.Ranges.Last() - 1
	}

	for {
		if l.stopRequested(ctx) {
			return StateStopping, nil
		}
		l.waitIfPaused(ctx)
		if l.stopRequested(ctx) {
			return StateStopping, nil
		}

		v, err := l.cfg.Buffer.AcquireVideo()
		if err != nil {
			l.logAcquireFailure(ctx, frame.Video, err)
			return StateStopping, nil
		}
		a, err := l.cfg.Buffer.AcquireAudio()
		if err != nil {
			l.logAcquireFailure(ctx, frame.Audio, err)
			l.dispose(ctx, v, nil)
			return StateStopping, nil
		}
		l.stats.LastVideo, l.stats.LastAudio = v.ID, a.ID

		eos := v.Has(frame.EndOfStream) || a.Has(frame.EndOfStream)
		last := eos || (clusterLast >= 0 && v.ID == clusterLast)

		if !eos {
			if l.inRange(v) {
				if err := l.encodePair(ctx, v, a); err != nil {
					l.dispose(ctx, v, a)
					l.publish()
					return StateError, err
				}
			} else {
				l.stats.Skipped++
			}
		}

		// Audio lagging behind delayed video is drained unless audio ended.
		// At video end of stream the unencoded audio frame opens the tail.
		drain := last && l.stats.Delayed > 0 && !a.Has(frame.EndOfStream)
		var tail *frame.Frame
		if drain && eos {
			tail, a = a, nil
		}
		l.dispose(ctx, v, a)
		l.publish()

		if last {
			l.logger.InfoContext(ctx, "end of stream reached",
				slog.Int64("video_frame", v.ID),
				slog.Int64("adjusted_frame", l.cfg.Ranges.Adjust(v.ID)),
				slog.Int64("audio_frame", l.stats.LastAudio))
			if drain {
				if err := l.drainAudio(ctx, tail); err != nil {
					l.publish()
					return StateError, err
				}
			}
			l.publish()
			return StateDone, nil
		}
	}
}

// drainAudio encodes the audio frames still lagging behind video after
// delayed video output. Each delayed iteration deferred one audio frame,
// so at most Delayed frames remain. first, when set, is the next of them.
func (l *Loop) drainAudio(ctx context.Context, first *frame.Frame) error {
	var drained int64
	a := first
	for n := l.stats.Delayed; n > 0; n-- {
		if a == nil {
			var err error
			if a, err = l.cfg.Buffer.AcquireAudio(); err != nil {
				l.logAcquireFailure(ctx, frame.Audio, err)
				break
			}
		}
		if a.Has(frame.EndOfStream) {
			l.dispose(ctx, nil, a)
			break
		}
		l.stats.LastAudio = a.ID
		if !a.Has(frame.OutOfRange) && l.cfg.Ranges.Contains(a.ID) {
			if err := l.cfg.Audio.Encode(a, &l.apkt); err != nil {
				l.dispose(ctx, nil, a)
				return fmt.Errorf("encoding audio frame %d: %w", a.ID, err)
			}
			if err := l.write(nil, &l.apkt); err != nil {
				l.dispose(ctx, nil, a)
				return err
			}
			drained++
		}
		l.dispose(ctx, nil, a)
		a = nil
	}
	if drained > 0 {
		l.logger.DebugContext(ctx, "audio tail drained", slog.Int64("frames", drained))
	}
	return nil
}

func (l *Loop) inRange(v *frame.Frame) bool {
	return !v.Has(frame.OutOfRange) && l.cfg.Ranges.Contains(v.ID)
}

func (l *Loop) logAcquireFailure(ctx context.Context, kind frame.Kind, err error) {
	if errors.Is(err, encbuf.ErrNoMoreFrames) {
		l.logger.DebugContext(ctx, "frame acquisition interrupted", slog.String("kind", kind.String()))
		return
	}
	l.logger.ErrorContext(ctx, "frame acquisition failed",
		slog.String("kind", kind.String()),
		slog.Any("error", err))
}

// encodePair encodes video then audio and multiplexes the result. When the
// video codec delays its output the audio frame is cloned and kept for the
// next iteration instead of being encoded now.
func (l *Loop) encodePair(ctx context.Context, v, a *frame.Frame) error {
	if err := l.cfg.Video.Encode(v, &l.vpkt); err != nil {
		return fmt.Errorf("encoding video frame %d: %w", v.ID, err)
	}

	audio := &l.apkt
	if l.vpkt.Delayed {
		v.Set(frame.Delayed)
		a.Set(frame.Cloned)
		audio = nil
		l.stats.Delayed++
		l.logger.Log(ctx, observability.LevelTrace, "video output delayed, audio deferred",
			slog.Int64("video_frame", v.ID),
			slog.Int64("audio_frame", a.ID))
	} else if err := l.cfg.Audio.Encode(a, &l.apkt); err != nil {
		return fmt.Errorf("encoding audio frame %d: %w", a.ID, err)
	}

	if err := l.write(&l.vpkt, audio); err != nil {
		return err
	}

	l.stats.Encoded++
	if n := l.cfg.ProgressEvery; n > 0 && l.stats.Encoded%n == 0 {
		l.logger.InfoContext(ctx, "encode progress",
			slog.Int64("encoded", l.stats.Encoded),
			slog.Int64("skipped", l.stats.Skipped),
			slog.Int64("dropped", l.cfg.Buffer.Dropped()),
			slog.Int64("bytes", l.stats.Bytes),
			slog.Int("chunk", l.cfg.Rotation.Chunks()-1))
	}
	return nil
}

// write multiplexes one unit and accounts it for rotation.
func (l *Loop) write(video, audio *codec.Packet) error {
	n, err := l.cfg.Mux.Multiplex(video, audio)
	if err != nil {
		return fmt.Errorf("multiplexing: %w", err)
	}
	l.stats.Bytes += int64(n)
	return l.cfg.Rotation.OnUnitWritten(n)
}

func (l *Loop) dispose(ctx context.Context, v, a *frame.Frame) {
	if v != nil {
		if err := l.cfg.Buffer.DisposeVideo(v); err != nil {
			l.logger.WarnContext(ctx, "disposing video frame", slog.Int64("frame_id", v.ID), slog.Any("error", err))
		}
	}
	if a != nil {
		if err := l.cfg.Buffer.DisposeAudio(a); err != nil {
			l.logger.WarnContext(ctx, "disposing audio frame", slog.Int64("frame_id", a.ID), slog.Any("error", err))
		}
	}
}

// flush drains a codec by repeated null input encodes.
func (l *Loop) flush(ctx context.Context, kind frame.Kind) error {
	m, pkt := l.cfg.Video, &l.vpkt
	if kind == frame.Audio {
		m, pkt = l.cfg.Audio, &l.apkt
	}
	var units int
	for {
		if err := m.Encode(nil, pkt); err != nil {
			return fmt.Errorf("flushing %s codec: %w", kind, err)
		}
		if pkt.Size() == 0 {
			break
		}
		var err error
		if kind == frame.Audio {
			err = l.write(nil, pkt)
		} else {
			err = l.write(pkt, nil)
		}
		if err != nil {
			return err
		}
		units++
	}
	if units > 0 {
		l.logger.DebugContext(ctx, "codec flushed", slog.String("kind", kind.String()), slog.Int("units", units))
	}
	return nil
}

func (l *Loop) teardown(ctx context.Context, flush bool) {
	if flush {
		for _, kind := range []frame.Kind{frame.Audio, frame.Video} {
			if err := l.flush(ctx, kind); err != nil {
				l.logger.ErrorContext(ctx, "codec flush failed", slog.Any("error", err))
				break
			}
		}
	}
	if err := l.cfg.Rotation.Close(); err != nil {
		l.logger.ErrorContext(ctx, "closing output", slog.Any("error", err))
	}
	if err := l.cfg.Video.Stop(); err != nil {
		l.logger.WarnContext(ctx, "stopping video codec", slog.Any("error", err))
	}
	if err := l.cfg.Audio.Stop(); err != nil {
		l.logger.WarnContext(ctx, "stopping audio codec", slog.Any("error", err))
	}
	if err := l.cfg.Mux.Stop(); err != nil {
		l.logger.WarnContext(ctx, "stopping multiplexer", slog.Any("error", err))
	}
	if err := l.cfg.Buffer.Release(); err != nil {
		l.logger.WarnContext(ctx, "releasing retained frames", slog.Any("error", err))
	}
	l.publish()
	l.logger.InfoContext(ctx, "encode loop finished",
		slog.String("state", l.State().String()),
		slog.Int64("encoded", l.stats.Encoded),
		slog.Int64("skipped", l.stats.Skipped),
		slog.Int64("bytes", l.stats.Bytes),
		slog.Int("chunks", l.cfg.Rotation.Chunks()))
}

func (l *Loop) setState(s State) { l.state.Store(int32(s)) }

// publish copies the loop counters into a new snapshot.
func (l *Loop) publish() {
	s := l.stats
	s.State = l.State().String()
	s.Paused = l.Paused()
	s.Dropped = l.cfg.Buffer.Dropped()
	s.Cloned = l.cfg.Buffer.Cloned()
	s.Chunks = l.cfg.Rotation.Chunks()
	if !l.started.IsZero() {
		s.Elapsed = time.Since(l.started)
	}
	l.snapshot.Store(&s)
}

// Package encbuf adapts the frame registry to the encode loop: it hands out
// the next frame to encode, hiding skip and clone bookkeeping.
package encbuf

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/reelpipe/internal/filter"
	"github.com/jmylchreest/reelpipe/internal/frame"
	"github.com/jmylchreest/reelpipe/internal/registry"
)

// ErrNoMoreFrames is returned by Acquire once retrieval is interrupted.
var ErrNoMoreFrames = errors.New("no more frames")

// Buffer serves frames to the encode loop. It is used from one goroutine.
type Buffer struct {
	reg     *registry.Registry
	filters *filter.Chain
	logger  *slog.Logger

	// pending holds a cloned frame awaiting its second consumption.
	pending map[frame.Kind]*frame.Frame

	dropped int64
	cloned  int64
}

// New creates a buffer reading from reg and applying the post stage of
// filters, which may be nil.
func New(reg *registry.Registry, filters *filter.Chain, logger *slog.Logger) *Buffer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Buffer{
		reg:     reg,
		filters: filters,
		logger:  logger,
		pending: make(map[frame.Kind]*frame.Frame, len(frame.Kinds)),
	}
}

// AcquireVideo returns the next video frame to encode.
func (b *Buffer) AcquireVideo() (*frame.Frame, error) { return b.acquire(frame.Video) }

// AcquireAudio returns the next audio frame to encode.
func (b *Buffer) AcquireAudio() (*frame.Frame, error) { return b.acquire(frame.Audio) }

// DisposeVideo hands a video frame back after encoding.
func (b *Buffer) DisposeVideo(f *frame.Frame) error { return b.dispose(frame.Video, f) }

// DisposeAudio hands an audio frame back after encoding.
func (b *Buffer) DisposeAudio(f *frame.Frame) error { return b.dispose(frame.Audio, f) }

func (b *Buffer) acquire(kind frame.Kind) (*frame.Frame, error) {
	if f := b.pending[kind]; f != nil {
		delete(b.pending, kind)
		return f, nil
	}

	for {
		f, err := b.reg.Retrieve(kind)
		if err != nil {
			if errors.Is(err, registry.ErrInterrupted) {
				return nil, ErrNoMoreFrames
			}
			return nil, fmt.Errorf("retrieving %s frame: %w", kind, err)
		}

		if f.NeedsProcessing() {
			if err := b.filters.Apply(filter.Post, f); err != nil {
				b.logger.Warn("post filter failed, frame skipped",
					slog.Int64("frame_id", f.ID),
					slog.String("kind", kind.String()),
					slog.Any("error", err))
				f.Set(frame.Skipped)
			}
		}

		if !f.Has(frame.Skipped) || f.Has(frame.EndOfStream) {
			return f, nil
		}

		if f.Has(frame.Cloned) {
			f.Clear(frame.Cloned)
			f.Set(frame.WasCloned)
			b.cloned++
		}
		b.dropped++
		if err := b.reg.Remove(f); err != nil {
			return nil, err
		}
	}
}

func (b *Buffer) dispose(kind frame.Kind, f *frame.Frame) error {
	if f == nil {
		return nil
	}
	if f.Kind != kind {
		return fmt.Errorf("disposing %s frame %d as %s", f.Kind, f.ID, kind)
	}

	if f.Has(frame.Cloned) {
		f.Clear(frame.Cloned)
		f.Set(frame.WasCloned)
		b.pending[kind] = f
		return nil
	}

	if f.Has(frame.WasCloned) {
		b.cloned++
	}
	return b.reg.Remove(f)
}

// Pending reports whether a cloned frame of kind is waiting to be reused.
func (b *Buffer) Pending(kind frame.Kind) bool { return b.pending[kind] != nil }

// Release removes any retained cloned frames from the registry. Called once
// the encode loop stops.
func (b *Buffer) Release() error {
	var errs []error
	for kind, f := range b.pending {
		delete(b.pending, kind)
		if err := b.reg.Remove(f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dropped returns the number of skipped frames released without encoding.
func (b *Buffer) Dropped() int64 { return b.dropped }

// Cloned returns the number of completed clones.
func (b *Buffer) Cloned() int64 { return b.cloned }

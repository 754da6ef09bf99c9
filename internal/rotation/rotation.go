// Package rotation splits the encoded output into chunks bounded by a frame
// count or a byte size. Chunk n of base B is written to "B-nnn".
package rotation

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/reelpipe/internal/mux"
	"github.com/jmylchreest/reelpipe/internal/observability"
)

// ErrRotate wraps failures closing or reopening the output.
var ErrRotate = errors.New("output rotation failed")

// Mode is the active split strategy.
type Mode int

const (
	// Never keeps a single output.
	Never Mode = iota
	// Frames rotates after a number of written units.
	Frames
	// Bytes rotates once the chunk reaches a byte size.
	Bytes
)

func (m Mode) String() string {
	switch m {
	case Frames:
		return "frames"
	case Bytes:
		return "bytes"
	default:
		return "never"
	}
}

// Output is the part of a multiplexer the controller drives.
type Output interface {
	Open(out mux.Output) error
	Close() error
}

// ChunkName returns the name of chunk n of base.
func ChunkName(base string, n int) string {
	return fmt.Sprintf("%s-%03d", base, n)
}

// Controller owns the output naming and the per-chunk counters. It is used
// from the encode loop goroutine only.
type Controller struct {
	out     Output
	base    string
	auxBase string
	null    bool
	logger  *slog.Logger

	mode  Mode
	limit int64

	chunk        int
	opened       int
	isOpen       bool
	chunkFrames  int64
	chunkBytes   int64
	encodedBytes int64
}

// New creates a controller writing through out. auxBase is the separate
// audio output base, or empty.
func New(out Output, base, auxBase string, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if auxBase == base {
		auxBase = ""
	}
	return &Controller{
		out:     out,
		base:    base,
		auxBase: auxBase,
		null:    base == "-" || mux.IsNull(base),
		logger:  observability.WithComponent(logger, "rotation"),
	}
}

// SetFrameLimit rotates after every n units. It replaces any byte limit;
// n <= 0 disables rotation.
func (c *Controller) SetFrameLimit(n int64) { c.setLimit(Frames, n) }

// SetByteLimit rotates once a chunk holds at least n bytes. It replaces
// any frame limit; n <= 0 disables rotation.
func (c *Controller) SetByteLimit(n int64) { c.setLimit(Bytes, n) }

func (c *Controller) setLimit(mode Mode, n int64) {
	if c.null || n <= 0 {
		c.mode, c.limit = Never, 0
		return
	}
	c.mode, c.limit = mode, n
}

// Mode returns the active strategy.
func (c *Controller) Mode() Mode { return c.mode }

// Open opens the first output. With a limit set it is chunk 0.
func (c *Controller) Open() error {
	if err := c.open(); err != nil {
		return fmt.Errorf("%w: %w", ErrRotate, err)
	}
	return nil
}

func (c *Controller) open() error {
	primary, aux := c.Names()
	if err := c.out.Open(mux.Output{Path: primary, AuxPath: aux}); err != nil {
		return err
	}
	c.isOpen = true
	c.opened++
	c.chunkFrames, c.chunkBytes = 0, 0
	c.logger.Debug("output opened",
		slog.String("path", primary),
		slog.String("aux_path", aux),
		slog.Int("chunk", c.chunk))
	return nil
}

// Names returns the current primary and auxiliary output names.
func (c *Controller) Names() (primary, aux string) {
	primary, aux = c.base, c.auxBase
	if c.mode == Never {
		return primary, aux
	}
	primary = ChunkName(c.base, c.chunk)
	if aux != "" {
		aux = ChunkName(c.auxBase, c.chunk)
	}
	return primary, aux
}

// OnUnitWritten accounts one multiplexed unit of n bytes and rotates when
// the chunk limit is reached. Empty units, such as iterations whose video
// output was delayed, are not counted.
func (c *Controller) OnUnitWritten(n int) error {
	if n <= 0 {
		return nil
	}
	c.encodedBytes += int64(n)
	c.chunkFrames++
	c.chunkBytes += int64(n)

	switch {
	case c.mode == Frames && c.chunkFrames >= c.limit:
	case c.mode == Bytes && c.chunkBytes >= c.limit:
	default:
		return nil
	}
	return c.rotate()
}

func (c *Controller) rotate() error {
	frames, bytes := c.chunkFrames, c.chunkBytes
	c.isOpen = false
	if err := c.out.Close(); err != nil {
		return fmt.Errorf("%w: closing chunk %d: %w", ErrRotate, c.chunk, err)
	}
	c.chunk++
	if err := c.open(); err != nil {
		return fmt.Errorf("%w: opening chunk %d: %w", ErrRotate, c.chunk, err)
	}
	c.logger.Info("output rotated",
		slog.Int("chunk", c.chunk),
		slog.Int64("previous_frames", frames),
		slog.Int64("previous_bytes", bytes))
	return nil
}

// Close closes the current output.
func (c *Controller) Close() error {
	if !c.isOpen {
		return nil
	}
	c.isOpen = false
	if err := c.out.Close(); err != nil {
		return fmt.Errorf("%w: closing chunk %d: %w", ErrRotate, c.chunk, err)
	}
	return nil
}

// Chunks returns how many outputs have been opened.
func (c *Controller) Chunks() int { return c.opened }

// ChunkFrames returns the units written to the current chunk.
func (c *Controller) ChunkFrames() int64 { return c.chunkFrames }

// ChunkBytes returns the bytes written to the current chunk.
func (c *Controller) ChunkBytes() int64 { return c.chunkBytes }

// EncodedBytes returns the bytes written over the whole run.
func (c *Controller) EncodedBytes() int64 { return c.encodedBytes }

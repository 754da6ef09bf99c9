// Package source provides the raw frame readers consumed by the import loops:
// YUV4MPEG2 video, RIFF WAVE audio and a synthetic generator, plus the
// multi-unit Switch used for directory and list jobs.
package source

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/jmylchreest/reelpipe/internal/frame"
)

var (
	// ErrShortFrame is returned when a source ends in the middle of a frame.
	ErrShortFrame = errors.New("short frame")

	// ErrProbeMismatch is returned when a later unit does not match the first one.
	ErrProbeMismatch = errors.New("probe mismatch")

	// ErrUnitSwitch is returned by a Switch when it moved to its next unit.
	// No data was read; the caller should record a gap and read again.
	ErrUnitSwitch = errors.New("source unit switched")

	// ErrUnknownFormat is returned when no reader is registered for a format.
	ErrUnknownFormat = errors.New("unknown source format")
)

// Source delivers raw frames of one media kind.
type Source interface {
	// Open prepares the source and reads its header.
	Open() error
	// ReadFrame fills buf with the next frame. It returns io.EOF when no
	// data is left and ErrShortFrame when the data ends mid-frame.
	ReadFrame(buf []byte) (int, error)
	// Close releases the underlying input.
	Close() error
	// Probe describes the source format. Valid after Open.
	Probe() Probe
	// Kind returns the media kind produced.
	Kind() frame.Kind
	// FrameSize returns the payload size of frame id in bytes.
	FrameSize(id int64) int
}

// Spec selects and parameterizes a source.
type Spec struct {
	Kind frame.Kind
	// Path of the input, or empty for synthetic sources.
	Path string
	// Format is the registered reader name. Empty or "auto" picks by extension.
	Format string
	// FrameRate is the video frame rate, used by audio sources to size frames.
	FrameRate frame.Rational
	// Synthetic configures the synthetic generator.
	Synthetic SyntheticConfig
	Logger    *slog.Logger
}

// Constructor builds an unopened source.
type Constructor func(spec Spec) (Source, error)

var (
	registryMu   sync.RWMutex
	constructors = map[string]Constructor{}
)

// Register makes a source format available by name.
func Register(name string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	constructors[name] = ctor
}

// Formats lists the registered source formats.
func Formats() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	Register("y4m", func(spec Spec) (Source, error) { return NewY4M(spec.Path), nil })
	Register("wav", func(spec Spec) (Source, error) { return NewWAV(spec.Path, spec.FrameRate), nil })
	Register("synthetic", func(spec Spec) (Source, error) {
		cfg := spec.Synthetic
		if spec.FrameRate.Valid() {
			cfg.FrameRate = spec.FrameRate
		}
		return NewSynthetic(spec.Kind, cfg), nil
	})
}

// New builds the source described by spec without opening it.
func New(spec Spec) (Source, error) {
	format := spec.Format
	if format == "" || format == "auto" {
		format = DetectFormat(spec.Path)
	}

	registryMu.RLock()
	ctor, ok := constructors[format]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (path %q)", ErrUnknownFormat, format, spec.Path)
	}

	src, err := ctor(spec)
	if err != nil {
		return nil, err
	}
	if src.Kind() != spec.Kind {
		return nil, fmt.Errorf("source %q produces %s, want %s", format, src.Kind(), spec.Kind)
	}
	return src, nil
}

// DetectFormat guesses the reader from a file name, ignoring compression
// suffixes.
func DetectFormat(path string) string {
	if path == "" {
		return "synthetic"
	}
	name := strings.ToLower(filepath.Base(path))
	for _, ext := range compressedExts {
		name = strings.TrimSuffix(name, ext)
	}
	switch filepath.Ext(name) {
	case ".y4m", ".yuv4mpeg":
		return "y4m"
	case ".wav", ".wave":
		return "wav"
	default:
		return strings.TrimPrefix(filepath.Ext(name), ".")
	}
}

package source

import (
	"errors"
	"fmt"
	"io"

	"github.com/jmylchreest/reelpipe/internal/frame"
)

// ErrInjectedFailure is the read error produced by a synthetic source at FailAt.
var ErrInjectedFailure = errors.New("synthetic read failure")

// SyntheticConfig describes generated frames.
type SyntheticConfig struct {
	// Frames is the number of frames produced before io.EOF.
	Frames int64 `mapstructure:"frames" yaml:"frames"`
	// FailAt makes the read of this frame id fail. Negative disables.
	FailAt int64 `mapstructure:"fail_at" yaml:"fail_at"`
	// ShortLast truncates the final frame.
	ShortLast bool `mapstructure:"short_last" yaml:"short_last"`

	Width      int            `mapstructure:"width" yaml:"width"`
	Height     int            `mapstructure:"height" yaml:"height"`
	Colorspace string         `mapstructure:"colorspace" yaml:"colorspace"`
	FrameRate  frame.Rational `mapstructure:"frame_rate" yaml:"frame_rate"`

	SampleRate int `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels   int `mapstructure:"channels" yaml:"channels"`
	Bits       int `mapstructure:"bits" yaml:"bits"`
}

// DefaultSyntheticConfig returns a small PAL-rate stream of 100 frames.
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		Frames:     100,
		FailAt:     -1,
		Width:      64,
		Height:     48,
		Colorspace: ColorspaceYUV420,
		FrameRate:  frame.Rational{Num: 25, Den: 1},
		SampleRate: 48000,
		Channels:   2,
		Bits:       16,
	}
}

// Synthetic generates deterministic frames; every byte of frame n is n mod 256.
type Synthetic struct {
	kind  frame.Kind
	cfg   SyntheticConfig
	probe Probe
	next  int64
	open  bool
}

// NewSynthetic returns a generator for kind.
func NewSynthetic(kind frame.Kind, cfg SyntheticConfig) *Synthetic {
	return &Synthetic{kind: kind, cfg: cfg}
}

// Open validates the configuration.
func (s *Synthetic) Open() error {
	if !s.cfg.FrameRate.Valid() {
		return fmt.Errorf("synthetic source: invalid frame rate %s", s.cfg.FrameRate)
	}
	p := Probe{
		FrameRate:     s.cfg.FrameRate,
		FrameRateCode: FrameRateCode(s.cfg.FrameRate),
	}
	if s.kind == frame.Video {
		if s.cfg.Width <= 0 || s.cfg.Height <= 0 {
			return fmt.Errorf("synthetic source: invalid geometry %dx%d", s.cfg.Width, s.cfg.Height)
		}
		p.Width, p.Height = s.cfg.Width, s.cfg.Height
		p.Aspect = frame.Rational{Num: 1, Den: 1}
		p.Colorspace = s.cfg.Colorspace
		if p.Colorspace == "" {
			p.Colorspace = ColorspaceYUV420
		}
	} else {
		if s.cfg.SampleRate <= 0 || s.cfg.Channels <= 0 || s.cfg.Bits <= 0 {
			return fmt.Errorf("synthetic source: invalid pcm parameters")
		}
		p.Tracks = []AudioTrack{{SampleRate: s.cfg.SampleRate, Channels: s.cfg.Channels, Bits: s.cfg.Bits}}
	}
	s.probe = p
	s.next = 0
	s.open = true
	return nil
}

// ReadFrame generates the next frame.
func (s *Synthetic) ReadFrame(buf []byte) (int, error) {
	if !s.open {
		return 0, errors.New("synthetic source not open")
	}
	id := s.next
	if s.cfg.FailAt >= 0 && id == s.cfg.FailAt {
		return 0, fmt.Errorf("frame %d: %w", id, ErrInjectedFailure)
	}
	if id >= s.cfg.Frames {
		return 0, io.EOF
	}
	s.next++

	n := min(len(buf), s.FrameSize(id))
	for i := range buf[:n] {
		buf[i] = byte(id)
	}
	if s.cfg.ShortLast && id == s.cfg.Frames-1 {
		return n / 2, ErrShortFrame
	}
	return n, nil
}

// Close marks the source closed.
func (s *Synthetic) Close() error {
	s.open = false
	return nil
}

// Probe returns the configured format.
func (s *Synthetic) Probe() Probe { return s.probe }

// Kind returns the generated media kind.
func (s *Synthetic) Kind() frame.Kind { return s.kind }

// FrameSize returns the size of frame id.
func (s *Synthetic) FrameSize(id int64) int {
	if s.kind == frame.Video {
		return VideoFrameSize(s.probe.Width, s.probe.Height, s.probe.Colorspace)
	}
	return AudioFrameSize(id, s.probe.Track(), s.cfg.FrameRate)
}

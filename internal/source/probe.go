package source

import (
	"fmt"
	"strings"

	"github.com/jmylchreest/reelpipe/internal/frame"
)

// Pixel formats reported in Probe.Colorspace.
const (
	ColorspaceYUV420 = "yuv420p"
	ColorspaceYUV422 = "yuv422p"
	ColorspaceYUV444 = "yuv444p"
	ColorspaceGray   = "gray"
	ColorspaceRGB24  = "rgb24"
)

// AudioTrack describes one PCM track.
type AudioTrack struct {
	SampleRate int `json:"sample_rate" yaml:"sample_rate"`
	Channels   int `json:"channels" yaml:"channels"`
	Bits       int `json:"bits" yaml:"bits"`
}

// BlockAlign returns the size of one sample frame in bytes.
func (t AudioTrack) BlockAlign() int {
	return t.Channels * ((t.Bits + 7) / 8)
}

// Probe is the format fingerprint of a source, compared across units of a
// multi-unit job.
type Probe struct {
	Width         int            `json:"width,omitempty" yaml:"width,omitempty"`
	Height        int            `json:"height,omitempty" yaml:"height,omitempty"`
	FrameRate     frame.Rational `json:"frame_rate" yaml:"frame_rate"`
	FrameRateCode int            `json:"frame_rate_code,omitempty" yaml:"frame_rate_code,omitempty"`
	Aspect        frame.Rational `json:"aspect" yaml:"aspect"`
	Colorspace    string         `json:"colorspace,omitempty" yaml:"colorspace,omitempty"`
	Tracks        []AudioTrack   `json:"tracks,omitempty" yaml:"tracks,omitempty"`
}

// Track returns the first audio track, or a zero track.
func (p Probe) Track() AudioTrack {
	if len(p.Tracks) == 0 {
		return AudioTrack{}
	}
	return p.Tracks[0]
}

// Compatible returns nil when other can continue a stream described by p.
// Every mismatch is listed in the returned error.
func (p Probe) Compatible(other Probe) error {
	var diffs []string
	if p.Width != other.Width || p.Height != other.Height {
		diffs = append(diffs, fmt.Sprintf("geometry %dx%d != %dx%d", p.Width, p.Height, other.Width, other.Height))
	}
	if p.FrameRate != other.FrameRate {
		diffs = append(diffs, fmt.Sprintf("frame rate %s != %s", p.FrameRate, other.FrameRate))
	}
	if p.Colorspace != other.Colorspace {
		diffs = append(diffs, fmt.Sprintf("colorspace %q != %q", p.Colorspace, other.Colorspace))
	}
	a, b := p.Track(), other.Track()
	if a.SampleRate != b.SampleRate {
		diffs = append(diffs, fmt.Sprintf("sample rate %d != %d", a.SampleRate, b.SampleRate))
	}
	if a.Channels != b.Channels {
		diffs = append(diffs, fmt.Sprintf("channels %d != %d", a.Channels, b.Channels))
	}
	if a.Bits != b.Bits {
		diffs = append(diffs, fmt.Sprintf("sample bits %d != %d", a.Bits, b.Bits))
	}
	if len(diffs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrProbeMismatch, strings.Join(diffs, ", "))
}

// frameRateCodes maps the MPEG frame rate codes.
var frameRateCodes = []frame.Rational{
	{},
	{Num: 24000, Den: 1001},
	{Num: 24, Den: 1},
	{Num: 25, Den: 1},
	{Num: 30000, Den: 1001},
	{Num: 30, Den: 1},
	{Num: 50, Den: 1},
	{Num: 60000, Den: 1001},
	{Num: 60, Den: 1},
}

// FrameRateCode returns the MPEG frame rate code of r, or 0.
func FrameRateCode(r frame.Rational) int {
	for code, fr := range frameRateCodes {
		if code > 0 && fr.Num*r.Den == r.Num*fr.Den {
			return code
		}
	}
	return 0
}

// VideoFrameSize returns the payload size of one picture.
func VideoFrameSize(width, height int, colorspace string) int {
	luma := width * height
	switch colorspace {
	case ColorspaceYUV422:
		return luma * 2
	case ColorspaceYUV444, ColorspaceRGB24:
		return luma * 3
	case ColorspaceGray:
		return luma
	default:
		cw, ch := (width+1)/2, (height+1)/2
		return luma + 2*cw*ch
	}
}

// AudioFrameSize returns the byte size of the audio paired with video frame
// id. The sample count is floor((id+1)*rate/fps) - floor(id*rate/fps), in
// exact integer arithmetic, so the running total never drifts from
// rate*elapsed for non-integer frame rates.
func AudioFrameSize(id int64, track AudioTrack, fps frame.Rational) int {
	if !fps.Valid() || track.SampleRate <= 0 {
		return 0
	}
	rate := int64(track.SampleRate)
	samples := (id+1)*rate*fps.Den/fps.Num - id*rate*fps.Den/fps.Num
	return int(samples) * track.BlockAlign()
}

// MaxAudioFrameSize returns the largest AudioFrameSize for any id.
func MaxAudioFrameSize(track AudioTrack, fps frame.Rational) int {
	if !fps.Valid() || track.SampleRate <= 0 {
		return 0
	}
	rate := int64(track.SampleRate)
	samples := (rate*fps.Den + fps.Num - 1) / fps.Num
	return int(samples) * track.BlockAlign()
}

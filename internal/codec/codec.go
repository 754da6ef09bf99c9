// Package codec defines the codec module contract used by the encode loop,
// the capability bitmask checked at setup and a name based registry of
// module constructors.
package codec

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/jmylchreest/reelpipe/internal/frame"
)

var (
	// ErrUnsupportedFormat is returned when a module cannot accept the input format.
	ErrUnsupportedFormat = errors.New("unsupported input format")

	// ErrUnknownCodec is returned by New for an unregistered name.
	ErrUnknownCodec = errors.New("unknown codec")
)

// Capability is a bitmask of raw input formats a module accepts.
type Capability uint32

// Capability bits.
const (
	CapYUV420 Capability = 1 << iota
	CapYUV422
	CapYUV444
	CapRGB24
	CapGray
	CapPCM8
	CapPCM16
	CapPCM24
	CapPCM32

	CapVideo = CapYUV420 | CapYUV422 | CapYUV444 | CapRGB24 | CapGray
	CapAudio = CapPCM8 | CapPCM16 | CapPCM24 | CapPCM32
	CapAll   = CapVideo | CapAudio
)

var capNames = []struct {
	cap  Capability
	name string
}{
	{CapYUV420, "yuv420p"},
	{CapYUV422, "yuv422p"},
	{CapYUV444, "yuv444p"},
	{CapRGB24, "rgb24"},
	{CapGray, "gray"},
	{CapPCM8, "pcm8"},
	{CapPCM16, "pcm16"},
	{CapPCM24, "pcm24"},
	{CapPCM32, "pcm32"},
}

// Has reports whether every bit of other is set.
func (c Capability) Has(other Capability) bool { return c&other == other }

func (c Capability) String() string {
	if c == 0 {
		return "none"
	}
	var parts []string
	for _, n := range capNames {
		if c.Has(n.cap) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// Format describes the raw input handed to a module.
type Format struct {
	Kind       frame.Kind
	Width      int
	Height     int
	Colorspace string
	FrameRate  frame.Rational
	SampleRate int
	Channels   int
	Bits       int
}

// Requires returns the capability bit the format needs.
func (f Format) Requires() (Capability, error) {
	if f.Kind == frame.Video {
		for _, n := range capNames[:5] {
			if n.name == f.Colorspace {
				return n.cap, nil
			}
		}
		return 0, fmt.Errorf("%w: colorspace %q", ErrUnsupportedFormat, f.Colorspace)
	}
	switch f.Bits {
	case 8:
		return CapPCM8, nil
	case 16:
		return CapPCM16, nil
	case 24:
		return CapPCM24, nil
	case 32:
		return CapPCM32, nil
	default:
		return 0, fmt.Errorf("%w: %d bit pcm", ErrUnsupportedFormat, f.Bits)
	}
}

func (f Format) String() string {
	if f.Kind == frame.Video {
		return fmt.Sprintf("%dx%d %s @ %s", f.Width, f.Height, f.Colorspace, f.FrameRate)
	}
	return fmt.Sprintf("%d Hz %dch %d bit", f.SampleRate, f.Channels, f.Bits)
}

// Options are module specific settings.
type Options map[string]string

// Int returns the integer value of key, or def when unset.
func (o Options) Int(key string, def int) (int, error) {
	v, ok := o[key]
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("option %s: invalid integer %q", key, v)
	}
	return n, nil
}

// Packet is one encoded unit.
type Packet struct {
	Kind    frame.Kind
	FrameID int64
	// PTS is the presentation time in 90 kHz ticks.
	PTS      int64
	Keyframe bool
	// Delayed is set when the module buffered the input and produced nothing.
	Delayed bool
	Data    []byte
}

// Size returns the number of encoded bytes; a nil packet has none.
func (p *Packet) Size() int {
	if p == nil {
		return 0
	}
	return len(p.Data)
}

// Reset empties the packet, keeping its storage.
func (p *Packet) Reset() {
	p.FrameID, p.PTS = 0, 0
	p.Keyframe, p.Delayed = false, false
	p.Data = p.Data[:0]
}

// Module encodes raw frames of one kind.
type Module interface {
	Name() string
	// Capabilities reports the raw formats the module accepts.
	Capabilities() Capability
	Configure(opts Options, format Format) error
	// Encode encodes in into out. A nil in requests a flush; callers repeat
	// it until out.Size() is zero.
	Encode(in *frame.Frame, out *Packet) error
	Stop() error
}

// Check verifies that m accepts format.
func Check(m Module, format Format) error {
	need, err := format.Requires()
	if err != nil {
		return fmt.Errorf("codec %s: %w", m.Name(), err)
	}
	if !m.Capabilities().Has(need) {
		return fmt.Errorf("codec %s accepts %s, input is %s: %w",
			m.Name(), m.Capabilities(), need, ErrUnsupportedFormat)
	}
	return nil
}

// Constructor builds an unconfigured module.
type Constructor func() Module

var (
	registryMu   sync.RWMutex
	constructors = map[string]Constructor{}
)

// Register makes a module available by name.
func Register(name string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	constructors[name] = ctor
}

// New builds the module registered as name.
func New(name string) (Module, error) {
	registryMu.RLock()
	ctor, ok := constructors[strings.ToLower(name)]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
	return ctor(), nil
}

// Names lists the registered modules.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PTS converts a frame id to 90 kHz ticks at rate fps.
func PTS(id int64, fps frame.Rational) int64 {
	if !fps.Valid() {
		return 0
	}
	return id * 90000 * fps.Den / fps.Num
}

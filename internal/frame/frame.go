// Package frame defines the raw media frame exchanged between the import
// loops and the encode loop.
package frame

import (
	"strconv"
	"strings"
)

// Kind identifies the media kind of a frame.
type Kind int

// Media kinds.
const (
	Video Kind = iota
	Audio
)

// Kinds lists every media kind in processing order.
var Kinds = []Kind{Video, Audio}

// String returns the lowercase kind name.
func (k Kind) String() string {
	switch k {
	case Video:
		return "video"
	case Audio:
		return "audio"
	default:
		return "unknown"
	}
}

// ParseKind parses "video" or "audio".
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(s) {
	case "video", "v":
		return Video, true
	case "audio", "a":
		return Audio, true
	default:
		return 0, false
	}
}

// Flags is the attribute bitset carried by every frame.
type Flags uint32

// Frame attribute flags.
const (
	Keyframe    Flags = 1 << iota // Frame starts a new group of pictures
	Skipped                       // Frame must not be encoded
	Cloned                        // Frame is consumed a second time
	WasCloned                     // Frame has already been consumed as a clone
	EndOfStream                   // No more frames follow
	OutOfRange                    // Frame id is outside every encode range
	Delayed                       // Codec buffered the frame internally
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{Keyframe, "keyframe"},
	{Skipped, "skipped"},
	{Cloned, "cloned"},
	{WasCloned, "was_cloned"},
	{EndOfStream, "eos"},
	{OutOfRange, "out_of_range"},
	{Delayed, "delayed"},
}

// Has returns true if every bit of flag is set.
func (f Flags) Has(flag Flags) bool { return f&flag == flag }

// String returns a pipe separated list of the set flags.
func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			parts = append(parts, fn.name)
		}
	}
	return strings.Join(parts, "|")
}

// Status is the position of a frame slot in its lifecycle.
type Status int

// Slot lifecycle states.
const (
	StatusEmpty      Status = iota // In the free pool
	StatusFilling                  // Registered, owned by an import loop
	StatusWaiting                  // Filled, queued for a frame worker
	StatusProcessing               // Claimed by a frame worker
	StatusReady                    // Ready for the encode side
	StatusLocked                   // Held by the encode side
)

func (s Status) String() string {
	switch s {
	case StatusEmpty:
		return "empty"
	case StatusFilling:
		return "filling"
	case StatusWaiting:
		return "waiting"
	case StatusProcessing:
		return "processing"
	case StatusReady:
		return "ready"
	case StatusLocked:
		return "locked"
	default:
		return "unknown"
	}
}

// Frame is one unit of raw audio or video data plus metadata.
// Payload aliases the storage of the registry slot that owns the frame and
// is only valid until the frame is removed.
type Frame struct {
	ID      int64
	Kind    Kind
	Payload []byte
	Size    int
	Flags   Flags
	Status  Status

	// Source is the index of the physical source unit the frame came from.
	Source int

	// Video attributes.
	Width  int
	Height int

	// Audio attributes.
	SampleRate int
	Channels   int
	Bits       int

	buf  []byte
	slot int
}

// New creates a frame backed by a buffer of the given capacity.
// Registries use it to populate their slots; tests use it directly.
func New(kind Kind, capacity int) *Frame {
	return &Frame{Kind: kind, buf: make([]byte, capacity)}
}

// Buffer returns the full backing storage of the frame.
func (f *Frame) Buffer() []byte { return f.buf }

// Capacity returns the size of the backing storage.
func (f *Frame) Capacity() int { return len(f.buf) }

// SetSize sets the payload length, clamped to the buffer capacity.
func (f *Frame) SetSize(n int) {
	if n < 0 {
		n = 0
	}
	if n > len(f.buf) {
		n = len(f.buf)
	}
	f.Size = n
	f.Payload = f.buf[:n]
}

// Set sets the given flags.
func (f *Frame) Set(flags Flags) { f.Flags |= flags }

// Clear clears the given flags.
func (f *Frame) Clear(flags Flags) { f.Flags &^= flags }

// Has reports whether all of flags are set.
func (f *Frame) Has(flags Flags) bool { return f.Flags.Has(flags) }

// Slot returns the registry slot index holding the frame.
func (f *Frame) Slot() int { return f.slot }

// Reset prepares a frame for reuse under a new id.
func (f *Frame) Reset(id int64, slot int) {
	f.ID = id
	f.slot = slot
	f.Flags = 0
	f.Source = 0
	f.Size = 0
	f.Payload = f.buf[:0]
	f.Width, f.Height = 0, 0
	f.SampleRate, f.Channels, f.Bits = 0, 0, 0
}

// NeedsProcessing reports whether the frame carries data a filter could act on.
func (f *Frame) NeedsProcessing() bool {
	return f.Size > 0 && !f.Has(EndOfStream) && !f.Has(Skipped)
}

// Rational is an exact frame or sample rate, Num/Den units per second.
type Rational struct {
	Num int64 `json:"num" yaml:"num"`
	Den int64 `json:"den" yaml:"den"`
}

// Valid reports whether both terms are positive.
func (r Rational) Valid() bool { return r.Num > 0 && r.Den > 0 }

// Float returns the rate as a float64, or 0 when invalid.
func (r Rational) Float() float64 {
	if !r.Valid() {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

func (r Rational) String() string {
	if r.Den == 1 {
		return strconv.FormatInt(r.Num, 10)
	}
	return strconv.FormatInt(r.Num, 10) + "/" + strconv.FormatInt(r.Den, 10)
}

package codec

import (
	"errors"

	"github.com/jmylchreest/reelpipe/internal/frame"
)

func init() {
	Register("raw", func() Module { return &Raw{} })
	Register("null", func() Module { return &Null{} })
}

// Raw passes frames through unchanged. With the "delay" option it holds
// that many frames back, reporting Delayed until its queue is full, and
// releases them on flush.
type Raw struct {
	format Format
	delay  int
	queue  []Packet
	ready  bool
}

// Name returns "raw".
func (r *Raw) Name() string { return "raw" }

// Capabilities accepts every raw format.
func (r *Raw) Capabilities() Capability { return CapAll }

// Configure reads the delay option.
func (r *Raw) Configure(opts Options, format Format) error {
	delay, err := opts.Int("delay", 0)
	if err != nil {
		return err
	}
	if delay < 0 {
		return errors.New("raw codec: delay must not be negative")
	}
	r.format, r.delay, r.ready = format, delay, true
	r.queue = r.queue[:0]
	return nil
}

// Encode copies in to out, through the delay queue.
func (r *Raw) Encode(in *frame.Frame, out *Packet) error {
	if !r.ready {
		return errors.New("raw codec not configured")
	}
	out.Reset()
	out.Kind = r.format.Kind

	if in == nil {
		if len(r.queue) == 0 {
			return nil
		}
		r.pop(out)
		return nil
	}

	if r.delay == 0 {
		out.FrameID = in.ID
		out.PTS = PTS(in.ID, r.format.FrameRate)
		out.Keyframe = in.Has(frame.Keyframe)
		out.Data = append(out.Data, in.Payload...)
		return nil
	}

	r.queue = append(r.queue, Packet{
		Kind:     in.Kind,
		FrameID:  in.ID,
		PTS:      PTS(in.ID, r.format.FrameRate),
		Keyframe: in.Has(frame.Keyframe),
		Data:     append([]byte(nil), in.Payload...),
	})
	if len(r.queue) <= r.delay {
		out.Delayed = true
		return nil
	}
	r.pop(out)
	return nil
}

func (r *Raw) pop(out *Packet) {
	*out = r.queue[0]
	r.queue = r.queue[1:]
}

// Stop drops any queued frames.
func (r *Raw) Stop() error {
	r.queue = nil
	r.ready = false
	return nil
}

// Null accepts every frame and produces no output.
type Null struct{}

// Name returns "null".
func (Null) Name() string { return "null" }

// Capabilities accepts every raw format.
func (Null) Capabilities() Capability { return CapAll }

// Configure is a no-op.
func (Null) Configure(Options, Format) error { return nil }

// Encode discards in.
func (Null) Encode(_ *frame.Frame, out *Packet) error {
	out.Reset()
	return nil
}

// Stop is a no-op.
func (Null) Stop() error { return nil }

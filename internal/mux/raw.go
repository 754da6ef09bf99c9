package mux

import (
	"errors"

	"github.com/jmylchreest/reelpipe/internal/codec"
)

// Raw writes video packets to the primary output and audio packets to the
// auxiliary output, or interleaved into the primary one when there is none.
type Raw struct {
	video *sink
	audio *sink
}

// Name returns "raw".
func (m *Raw) Name() string { return "raw" }

// Configure is a no-op; raw takes no options.
func (m *Raw) Configure(codec.Options) error { return nil }

// Open creates the output files.
func (m *Raw) Open(out Output) error {
	if m.video != nil {
		return errors.New("raw multiplexer already open")
	}
	v, err := openSink(out.Path)
	if err != nil {
		return err
	}
	m.video, m.audio = v, v
	if out.AuxPath != "" && out.AuxPath != out.Path {
		a, err := openSink(out.AuxPath)
		if err != nil {
			_ = v.Close()
			m.video, m.audio = nil, nil
			return err
		}
		m.audio = a
	}
	return nil
}

// Multiplex writes video then audio.
func (m *Raw) Multiplex(video, audio *codec.Packet) (int, error) {
	if m.video == nil {
		return 0, ErrNotOpen
	}
	var total int
	if video.Size() > 0 {
		n, err := m.video.Write(video.Data)
		total += n
		if err != nil {
			return total, err
		}
	}
	if audio.Size() > 0 {
		n, err := m.audio.Write(audio.Data)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Close closes the output files.
func (m *Raw) Close() error {
	var errs []error
	if m.audio != m.video {
		errs = append(errs, m.audio.Close())
	}
	errs = append(errs, m.video.Close())
	m.video, m.audio = nil, nil
	return errors.Join(errs...)
}

// Stop closes any open output.
func (m *Raw) Stop() error {
	if m.video == nil {
		return nil
	}
	return m.Close()
}

// Null counts packet bytes and writes nothing.
type Null struct {
	open bool
}

// Name returns "null".
func (m *Null) Name() string { return "null" }

// Configure is a no-op.
func (m *Null) Configure(codec.Options) error { return nil }

// Open marks the output open.
func (m *Null) Open(Output) error {
	m.open = true
	return nil
}

// Multiplex reports the packet sizes as written.
func (m *Null) Multiplex(video, audio *codec.Packet) (int, error) {
	if !m.open {
		return 0, ErrNotOpen
	}
	return video.Size() + audio.Size(), nil
}

// Close marks the output closed.
func (m *Null) Close() error {
	m.open = false
	return nil
}

// Stop is Close.
func (m *Null) Stop() error { return m.Close() }

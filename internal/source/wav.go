package source

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/jmylchreest/reelpipe/internal/frame"
)

const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
)

// WAV reads PCM audio from RIFF WAVE files, delivering the samples that
// belong to each video frame.
type WAV struct {
	path  string
	fps   frame.Rational
	rc    io.ReadCloser
	data  io.Reader
	probe Probe
}

// NewWAV returns an unopened WAVE source paced to the video frame rate fps.
func NewWAV(path string, fps frame.Rational) *WAV {
	return &WAV{path: path, fps: fps}
}

// Open parses the RIFF header up to the start of the data chunk.
func (w *WAV) Open() error {
	if !w.fps.Valid() {
		return fmt.Errorf("wav source %s: video frame rate required", w.path)
	}
	rc, err := openInput(w.path)
	if err != nil {
		return err
	}
	track, data, err := parseWAVHeader(rc)
	if err != nil {
		_ = rc.Close()
		return fmt.Errorf("%s: %w", w.path, err)
	}
	w.rc = rc
	w.data = data
	w.probe = Probe{FrameRate: w.fps, FrameRateCode: FrameRateCode(w.fps), Tracks: []AudioTrack{track}}
	return nil
}

func parseWAVHeader(r io.Reader) (AudioTrack, io.Reader, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return AudioTrack{}, nil, fmt.Errorf("reading RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return AudioTrack{}, nil, errors.New("not a RIFF WAVE file")
	}

	var (
		track   AudioTrack
		haveFmt bool
		hdr     [8]byte
	)
	for {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return AudioTrack{}, nil, fmt.Errorf("reading chunk header: %w", err)
		}
		id := string(hdr[0:4])
		size := binary.LittleEndian.Uint32(hdr[4:8])

		switch id {
		case "fmt ":
			if size < 16 {
				return AudioTrack{}, nil, fmt.Errorf("fmt chunk too short: %d", size)
			}
			body := make([]byte, size+size%2)
			if _, err := io.ReadFull(r, body); err != nil {
				return AudioTrack{}, nil, fmt.Errorf("reading fmt chunk: %w", err)
			}
			format := binary.LittleEndian.Uint16(body[0:2])
			if format != wavFormatPCM && format != wavFormatExtensible {
				return AudioTrack{}, nil, fmt.Errorf("unsupported wave format 0x%04x", format)
			}
			track = AudioTrack{
				Channels:   int(binary.LittleEndian.Uint16(body[2:4])),
				SampleRate: int(binary.LittleEndian.Uint32(body[4:8])),
				Bits:       int(binary.LittleEndian.Uint16(body[14:16])),
			}
			haveFmt = true

		case "data":
			if !haveFmt {
				return AudioTrack{}, nil, errors.New("data chunk before fmt chunk")
			}
			if track.Channels <= 0 || track.SampleRate <= 0 || track.Bits <= 0 {
				return AudioTrack{}, nil, fmt.Errorf("invalid pcm parameters %+v", track)
			}
			// Streamed files carry 0 or 0xFFFFFFFF as data size.
			if size == 0 || size == 0xFFFFFFFF {
				return track, r, nil
			}
			return track, io.LimitReader(r, int64(size)), nil

		default:
			if _, err := io.CopyN(io.Discard, r, int64(size+size%2)); err != nil {
				return AudioTrack{}, nil, fmt.Errorf("skipping %q chunk: %w", id, err)
			}
		}
	}
}

// ReadFrame fills buf completely with samples.
func (w *WAV) ReadFrame(buf []byte) (int, error) {
	n, err := io.ReadFull(w.data, buf)
	switch {
	case errors.Is(err, io.EOF):
		return 0, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		return n, ErrShortFrame
	}
	return n, err
}

// Close closes the input.
func (w *WAV) Close() error {
	if w.rc == nil {
		return nil
	}
	err := w.rc.Close()
	w.rc = nil
	return err
}

// Probe returns the PCM parameters.
func (w *WAV) Probe() Probe { return w.probe }

// Kind returns frame.Audio.
func (w *WAV) Kind() frame.Kind { return frame.Audio }

// FrameSize returns the byte size of the samples paired with video frame id.
func (w *WAV) FrameSize(id int64) int {
	return AudioFrameSize(id, w.probe.Track(), w.fps)
}

// WriteWAVHeader writes a PCM header for dataSize bytes of samples.
func WriteWAVHeader(wr io.Writer, track AudioTrack, dataSize uint32) error {
	hdr := make([]byte, 44)
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], 36+dataSize)
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], wavFormatPCM)
	binary.LittleEndian.PutUint16(hdr[22:24], uint16(track.Channels))
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(track.SampleRate))
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(track.SampleRate*track.BlockAlign()))
	binary.LittleEndian.PutUint16(hdr[32:34], uint16(track.BlockAlign()))
	binary.LittleEndian.PutUint16(hdr[34:36], uint16(track.Bits))
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], dataSize)
	_, err := wr.Write(hdr)
	return err
}

package mux

import (
	"errors"
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/jmylchreest/reelpipe/internal/codec"
)

// PID constants for MPEG-TS.
const (
	tsVideoPID = 0x0100
	tsAudioPID = 0x0101
)

// maxAACUnit bounds one access unit so it fits an ADTS frame length.
const maxAACUnit = 4096

// TS multiplexes packets into an MPEG transport stream. Video payloads are
// written as H.264 or H.265 access units and audio payloads as AAC, AC-3,
// MPEG-1 audio or Opus frames, as selected by the options.
//
// Options: video_stream (h264, h265), audio_stream (aac, ac3, mp3, opus,
// none), sample_rate, channels.
type TS struct {
	videoStream string
	audioStream string
	sampleRate  int
	channels    int

	out        *sink
	writer     *mpegts.Writer
	videoTrack *mpegts.Track
	audioTrack *mpegts.Track
}

// Name returns "mpegts".
func (m *TS) Name() string { return "mpegts" }

// Configure selects the stream types.
func (m *TS) Configure(opts codec.Options) error {
	m.videoStream = opts["video_stream"]
	if m.videoStream == "" {
		m.videoStream = "h264"
	}
	m.audioStream = opts["audio_stream"]
	if m.audioStream == "" {
		m.audioStream = "aac"
	}

	var err error
	if m.sampleRate, err = opts.Int("sample_rate", 48000); err != nil {
		return err
	}
	if m.channels, err = opts.Int("channels", 2); err != nil {
		return err
	}

	switch m.videoStream {
	case "h264", "h265", "hevc":
	default:
		return fmt.Errorf("mpegts: unsupported video stream %q", m.videoStream)
	}
	switch m.audioStream {
	case "aac", "ac3", "mp3", "opus", "none":
	default:
		return fmt.Errorf("mpegts: unsupported audio stream %q", m.audioStream)
	}
	return nil
}

// Open creates the output and initializes the transport stream writer.
// Audio always shares the primary output.
func (m *TS) Open(out Output) error {
	if m.out != nil {
		return errors.New("mpegts multiplexer already open")
	}
	if m.videoStream == "" {
		if err := m.Configure(nil); err != nil {
			return err
		}
	}

	s, err := openSink(out.Path)
	if err != nil {
		return err
	}

	m.videoTrack = &mpegts.Track{PID: tsVideoPID, Codec: m.createVideoCodec()}
	tracks := []*mpegts.Track{m.videoTrack}
	m.audioTrack = nil
	if m.audioStream != "none" {
		m.audioTrack = &mpegts.Track{PID: tsAudioPID, Codec: m.createAudioCodec()}
		tracks = append(tracks, m.audioTrack)
	}

	w := &mpegts.Writer{W: s, Tracks: tracks}
	if err := w.Initialize(); err != nil {
		_ = s.Close()
		return fmt.Errorf("initializing mpegts writer: %w", err)
	}
	m.out, m.writer = s, w
	return nil
}

func (m *TS) createVideoCodec() mpegts.Codec {
	switch m.videoStream {
	case "h265", "hevc":
		return &mpegts.CodecH265{}
	default:
		return &mpegts.CodecH264{}
	}
}

func (m *TS) createAudioCodec() mpegts.Codec {
	switch m.audioStream {
	case "ac3":
		return &mpegts.CodecAC3{SampleRate: m.sampleRate, ChannelCount: m.channels}
	case "mp3":
		return &mpegts.CodecMPEG1Audio{}
	case "opus":
		return &mpegts.CodecOpus{ChannelCount: m.channels}
	default:
		return &mpegts.CodecMPEG4Audio{Config: mpeg4audio.AudioSpecificConfig{
			Type:         mpeg4audio.ObjectTypeAACLC,
			SampleRate:   m.sampleRate,
			ChannelCount: m.channels,
		}}
	}
}

// Multiplex writes the video access unit then the audio frame and returns
// the transport stream bytes produced.
func (m *TS) Multiplex(video, audio *codec.Packet) (int, error) {
	if m.writer == nil {
		return 0, ErrNotOpen
	}
	before := m.out.n

	if video.Size() > 0 {
		if err := m.writeVideo(video); err != nil {
			return int(m.out.n - before), fmt.Errorf("writing video frame %d: %w", video.FrameID, err)
		}
	}
	if audio.Size() > 0 && m.audioTrack != nil {
		if err := m.writeAudio(audio); err != nil {
			return int(m.out.n - before), fmt.Errorf("writing audio frame %d: %w", audio.FrameID, err)
		}
	}
	return int(m.out.n - before), nil
}

func (m *TS) writeVideo(p *codec.Packet) error {
	au := dataToAccessUnit(p.Data)
	if _, ok := m.videoTrack.Codec.(*mpegts.CodecH265); ok {
		return m.writer.WriteH265(m.videoTrack, p.PTS, p.PTS, au)
	}
	return m.writer.WriteH264(m.videoTrack, p.PTS, p.PTS, au)
}

func (m *TS) writeAudio(p *codec.Packet) error {
	switch m.audioTrack.Codec.(type) {
	case *mpegts.CodecAC3:
		return m.writer.WriteAC3(m.audioTrack, p.PTS, p.Data)
	case *mpegts.CodecMPEG1Audio:
		return m.writer.WriteMPEG1Audio(m.audioTrack, p.PTS, [][]byte{p.Data})
	case *mpegts.CodecOpus:
		return m.writer.WriteOpus(m.audioTrack, p.PTS, [][]byte{p.Data})
	default:
		return m.writer.WriteMPEG4Audio(m.audioTrack, p.PTS, splitUnits(p.Data, maxAACUnit))
	}
}

// dataToAccessUnit splits Annex B data into NAL units; anything else is
// treated as a single NAL unit.
func dataToAccessUnit(data []byte) [][]byte {
	if len(data) >= 4 && data[0] == 0x00 && data[1] == 0x00 &&
		(data[2] == 0x01 || (data[2] == 0x00 && data[3] == 0x01)) {
		var au h264.AnnexB
		if err := au.Unmarshal(data); err == nil {
			return au
		}
	}
	return [][]byte{data}
}

func splitUnits(data []byte, size int) [][]byte {
	units := make([][]byte, 0, (len(data)+size-1)/size)
	for len(data) > size {
		units = append(units, data[:size])
		data = data[size:]
	}
	if len(data) > 0 {
		units = append(units, data)
	}
	return units
}

// Close closes the output file.
func (m *TS) Close() error {
	err := m.out.Close()
	m.out, m.writer = nil, nil
	return err
}

// Stop closes any open output.
func (m *TS) Stop() error {
	if m.out == nil {
		return nil
	}
	return m.Close()
}

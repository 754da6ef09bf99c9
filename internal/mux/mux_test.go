package mux

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/reelpipe/internal/codec"
	"github.com/jmylchreest/reelpipe/internal/frame"
)

func packet(kind frame.Kind, id int64, data ...byte) *codec.Packet {
	return &codec.Packet{Kind: kind, FrameID: id, PTS: id * 3600, Data: data}
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{"mpegts", "null", "raw"}, Names())

	m, err := New("Raw")
	require.NoError(t, err)
	assert.Equal(t, "raw", m.Name())

	_, err = New("mkv")
	assert.ErrorIs(t, err, ErrUnknownMuxer)
}

func TestIsNull(t *testing.T) {
	assert.True(t, IsNull(""))
	assert.True(t, IsNull(os.DevNull))
	assert.False(t, IsNull("-"))
	assert.False(t, IsNull("out.yuv"))
}

func TestRaw_SharedOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.raw")
	m := &Raw{}
	require.NoError(t, m.Configure(nil))
	require.NoError(t, m.Open(Output{Path: path}))

	n, err := m.Multiplex(packet(frame.Video, 0, 1, 2, 3), packet(frame.Audio, 0, 9))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = m.Multiplex(nil, packet(frame.Audio, 1, 8, 8))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, m.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 9, 8, 8}, data)
}

func TestRaw_AuxOutput(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "v.yuv")
	audio := filepath.Join(dir, "a.pcm")

	m := &Raw{}
	require.NoError(t, m.Open(Output{Path: video, AuxPath: audio}))
	_, err := m.Multiplex(packet(frame.Video, 0, 1, 2), packet(frame.Audio, 0, 7))
	require.NoError(t, err)
	require.NoError(t, m.Stop())

	v, err := os.ReadFile(video)
	require.NoError(t, err)
	a, err := os.ReadFile(audio)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, v)
	assert.Equal(t, []byte{7}, a)
	assert.NoError(t, m.Stop(), "stop after close is a no-op")
}

func TestRaw_Errors(t *testing.T) {
	m := &Raw{}
	_, err := m.Multiplex(packet(frame.Video, 0, 1), nil)
	assert.ErrorIs(t, err, ErrNotOpen)

	err = m.Open(Output{Path: filepath.Join(t.TempDir(), "missing", "out.raw")})
	assert.Error(t, err)

	require.NoError(t, m.Open(Output{Path: ""}))
	assert.Error(t, m.Open(Output{Path: ""}), "already open")
	n, err := m.Multiplex(packet(frame.Video, 0, 1, 2), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "discarded bytes still count")
	require.NoError(t, m.Close())
}

func TestNull(t *testing.T) {
	m := &Null{}
	_, err := m.Multiplex(nil, nil)
	assert.ErrorIs(t, err, ErrNotOpen)

	require.NoError(t, m.Open(Output{Path: "ignored"}))
	n, err := m.Multiplex(packet(frame.Video, 0, 1, 2, 3), packet(frame.Audio, 0, 4))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	require.NoError(t, m.Stop())
}

func TestTS_Configure(t *testing.T) {
	tests := []struct {
		name    string
		opts    codec.Options
		wantErr bool
	}{
		{"defaults", nil, false},
		{"hevc with ac3", codec.Options{"video_stream": "h265", "audio_stream": "ac3"}, false},
		{"video only", codec.Options{"audio_stream": "none"}, false},
		{"bad video", codec.Options{"video_stream": "vp9"}, true},
		{"bad audio", codec.Options{"audio_stream": "flac"}, true},
		{"bad sample rate", codec.Options{"sample_rate": "fast"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := (&TS{}).Configure(tt.opts)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTS_WritesTransportStream(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.ts")
	m := &TS{}
	require.NoError(t, m.Configure(nil))
	require.NoError(t, m.Open(Output{Path: path}))

	idr := []byte{0x00, 0x00, 0x00, 0x01, 0x65, 0x88, 0x84, 0x00}
	var total int
	for i := int64(0); i < 10; i++ {
		n, err := m.Multiplex(packet(frame.Video, i, idr...), packet(frame.Audio, i, bytes.Repeat([]byte{0x21}, 64)...))
		require.NoError(t, err)
		total += n
	}
	require.NoError(t, m.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(total), info.Size(), "reported bytes match the file")

	_, err = m.Multiplex(nil, nil)
	assert.ErrorIs(t, err, ErrNotOpen)
}

func TestDataToAccessUnit(t *testing.T) {
	annexB := []byte{0, 0, 0, 1, 0x67, 0x42, 0, 0, 1, 0x68, 0xce}
	au := dataToAccessUnit(annexB)
	assert.Equal(t, [][]byte{{0x67, 0x42}, {0x68, 0xce}}, au)

	raw := []byte{0x10, 0x20}
	assert.Equal(t, [][]byte{raw}, dataToAccessUnit(raw))
}

func TestSplitUnits(t *testing.T) {
	units := splitUnits(make([]byte, 10), 4)
	require.Len(t, units, 3)
	assert.Len(t, units[2], 2)
	assert.Empty(t, splitUnits(nil, 4))
}

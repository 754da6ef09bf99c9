package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/reelpipe/internal/frame"
)

var pal = frame.Rational{Num: 25, Den: 1}

func videoFrame(id int64, payload ...byte) *frame.Frame {
	f := frame.New(frame.Video, len(payload))
	f.Reset(id, 0)
	copy(f.Buffer(), payload)
	f.SetSize(len(payload))
	f.Set(frame.Keyframe)
	return f
}

// limitedModule only accepts 4:2:0 video and 16 bit audio.
type limitedModule struct{ Null }

func (limitedModule) Name() string             { return "limited" }
func (limitedModule) Capabilities() Capability { return CapYUV420 | CapPCM16 }

func TestCheck(t *testing.T) {
	tests := []struct {
		name    string
		format  Format
		wantErr bool
	}{
		{"yuv420 accepted", Format{Kind: frame.Video, Colorspace: "yuv420p"}, false},
		{"yuv444 rejected", Format{Kind: frame.Video, Colorspace: "yuv444p"}, true},
		{"unknown colorspace", Format{Kind: frame.Video, Colorspace: "nv12"}, true},
		{"pcm16 accepted", Format{Kind: frame.Audio, Bits: 16}, false},
		{"pcm24 rejected", Format{Kind: frame.Audio, Bits: 24}, true},
		{"pcm12 unknown", Format{Kind: frame.Audio, Bits: 12}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(limitedModule{}, tt.format)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedFormat)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCapability_String(t *testing.T) {
	assert.Equal(t, "none", Capability(0).String())
	assert.Equal(t, "yuv420p|pcm16", (CapYUV420 | CapPCM16).String())
	assert.True(t, CapAll.Has(CapVideo))
	assert.False(t, CapVideo.Has(CapPCM8))
}

func TestRegistry(t *testing.T) {
	assert.Contains(t, Names(), "raw")
	assert.Contains(t, Names(), "null")

	m, err := New("RAW")
	require.NoError(t, err)
	assert.Equal(t, "raw", m.Name())

	_, err = New("h264")
	assert.ErrorIs(t, err, ErrUnknownCodec)
}

func TestRaw_PassThrough(t *testing.T) {
	r := &Raw{}
	require.NoError(t, r.Configure(nil, Format{Kind: frame.Video, FrameRate: pal}))

	var out Packet
	require.NoError(t, r.Encode(videoFrame(5, 1, 2, 3), &out))
	assert.Equal(t, []byte{1, 2, 3}, out.Data)
	assert.Equal(t, int64(5), out.FrameID)
	assert.Equal(t, int64(5*3600), out.PTS)
	assert.True(t, out.Keyframe)
	assert.False(t, out.Delayed)

	require.NoError(t, r.Encode(nil, &out))
	assert.Zero(t, out.Size())
}

func TestRaw_DelayQueuesAndFlushes(t *testing.T) {
	r := &Raw{}
	require.NoError(t, r.Configure(Options{"delay": "2"}, Format{Kind: frame.Video, FrameRate: pal}))

	var out Packet
	require.NoError(t, r.Encode(videoFrame(0, 0), &out))
	assert.True(t, out.Delayed)
	assert.Zero(t, out.Size())
	require.NoError(t, r.Encode(videoFrame(1, 1), &out))
	assert.True(t, out.Delayed)

	require.NoError(t, r.Encode(videoFrame(2, 2), &out))
	assert.False(t, out.Delayed)
	assert.Equal(t, int64(0), out.FrameID)

	var flushed []int64
	for {
		require.NoError(t, r.Encode(nil, &out))
		if out.Size() == 0 {
			break
		}
		flushed = append(flushed, out.FrameID)
	}
	assert.Equal(t, []int64{1, 2}, flushed)
	require.NoError(t, r.Stop())
}

func TestRaw_Errors(t *testing.T) {
	r := &Raw{}
	var out Packet
	assert.Error(t, r.Encode(videoFrame(0, 1), &out), "not configured")
	assert.Error(t, r.Configure(Options{"delay": "x"}, Format{}))
	assert.Error(t, r.Configure(Options{"delay": "-1"}, Format{}))
}

func TestNull_ProducesNothing(t *testing.T) {
	var out Packet
	out.Data = []byte{9}
	require.NoError(t, Null{}.Encode(videoFrame(0, 1, 2), &out))
	assert.Zero(t, out.Size())
	assert.Zero(t, (*Packet)(nil).Size())
}

func TestPTS(t *testing.T) {
	assert.Equal(t, int64(3003), PTS(1, frame.Rational{Num: 30000, Den: 1001}))
	assert.Zero(t, PTS(10, frame.Rational{}))
}

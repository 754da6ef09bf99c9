package source

import (
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/dsnet/compress/bzip2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"

	"github.com/jmylchreest/reelpipe/internal/frame"
)

var pal = frame.Rational{Num: 25, Den: 1}

// y4mBytes builds a stream of n frames; every byte of frame i is i.
func y4mBytes(t *testing.T, width, height, n int) []byte {
	t.Helper()
	var buf bytes.Buffer
	p := Probe{Width: width, Height: height, FrameRate: pal, Colorspace: ColorspaceYUV420}
	require.NoError(t, WriteY4MHeader(&buf, p))
	size := VideoFrameSize(width, height, ColorspaceYUV420)
	for i := 0; i < n; i++ {
		buf.WriteString("FRAME\n")
		buf.Write(bytes.Repeat([]byte{byte(i)}, size))
	}
	return buf.Bytes()
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func readAll(t *testing.T, src Source) (frames int, err error) {
	t.Helper()
	buf := make([]byte, src.FrameSize(0)*2)
	for id := int64(0); ; id++ {
		_, err := src.ReadFrame(buf[:src.FrameSize(id)])
		if err != nil {
			return frames, err
		}
		frames++
	}
}

func TestY4M_ReadFrames(t *testing.T) {
	path := writeFile(t, t.TempDir(), "clip.y4m", y4mBytes(t, 8, 4, 3))

	src, err := New(Spec{Kind: frame.Video, Path: path})
	require.NoError(t, err)
	require.NoError(t, src.Open())
	defer src.Close()

	p := src.Probe()
	assert.Equal(t, 8, p.Width)
	assert.Equal(t, 4, p.Height)
	assert.Equal(t, pal, p.FrameRate)
	assert.Equal(t, 3, p.FrameRateCode)
	assert.Equal(t, ColorspaceYUV420, p.Colorspace)
	assert.Equal(t, 48, src.FrameSize(0))

	buf := make([]byte, 48)
	for i := 0; i < 3; i++ {
		n, err := src.ReadFrame(buf)
		require.NoError(t, err)
		assert.Equal(t, 48, n)
		assert.Equal(t, byte(i), buf[0])
	}
	_, err = src.ReadFrame(buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestY4M_TruncatedFrame(t *testing.T) {
	data := y4mBytes(t, 8, 4, 2)
	path := writeFile(t, t.TempDir(), "cut.y4m", data[:len(data)-10])

	src := NewY4M(path)
	require.NoError(t, src.Open())
	defer src.Close()

	frames, err := readAll(t, src)
	assert.Equal(t, 1, frames)
	assert.ErrorIs(t, err, ErrShortFrame)
}

func TestY4M_RejectsBadHeader(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.y4m", []byte("YUV4MPEG2 W8 F25:1\n"))
	err := NewY4M(path).Open()
	assert.Error(t, err)
}

func TestCompressedInputs(t *testing.T) {
	raw := y4mBytes(t, 8, 4, 2)

	compress := map[string]func(w io.Writer) io.WriteCloser{
		"clip.y4m.gz": func(w io.Writer) io.WriteCloser { return gzip.NewWriter(w) },
		"clip.y4m.bz2": func(w io.Writer) io.WriteCloser {
			bw, err := bzip2.NewWriter(w, nil)
			require.NoError(t, err)
			return bw
		},
		"clip.y4m.xz": func(w io.Writer) io.WriteCloser {
			xw, err := xz.NewWriter(w)
			require.NoError(t, err)
			return xw
		},
		"clip.y4m.br": func(w io.Writer) io.WriteCloser { return brotli.NewWriter(w) },
	}

	for name, newWriter := range compress {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			w := newWriter(&buf)
			_, err := w.Write(raw)
			require.NoError(t, err)
			require.NoError(t, w.Close())

			path := writeFile(t, t.TempDir(), name, buf.Bytes())
			assert.Equal(t, "y4m", DetectFormat(path))

			src, err := New(Spec{Kind: frame.Video, Path: path})
			require.NoError(t, err)
			require.NoError(t, src.Open())
			defer src.Close()

			frames, err := readAll(t, src)
			assert.ErrorIs(t, err, io.EOF)
			assert.Equal(t, 2, frames)
		})
	}
}

func wavBytes(t *testing.T, track AudioTrack, samples int) []byte {
	t.Helper()
	var buf bytes.Buffer
	size := samples * track.BlockAlign()
	require.NoError(t, WriteWAVHeader(&buf, track, uint32(size)))
	buf.Write(make([]byte, size))
	return buf.Bytes()
}

func TestWAV_ReadFramesPacedToVideo(t *testing.T) {
	track := AudioTrack{SampleRate: 48000, Channels: 2, Bits: 16}
	path := writeFile(t, t.TempDir(), "tone.wav", wavBytes(t, track, 48000))

	src, err := New(Spec{Kind: frame.Audio, Path: path, FrameRate: pal})
	require.NoError(t, err)
	require.NoError(t, src.Open())
	defer src.Close()

	assert.Equal(t, []AudioTrack{track}, src.Probe().Tracks)
	assert.Equal(t, 1920*4, src.FrameSize(0))

	frames, err := readAll(t, src)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 25, frames)
}

func TestWAV_RequiresFrameRate(t *testing.T) {
	track := AudioTrack{SampleRate: 8000, Channels: 1, Bits: 8}
	path := writeFile(t, t.TempDir(), "a.wav", wavBytes(t, track, 10))
	assert.Error(t, NewWAV(path, frame.Rational{}).Open())
}

func TestAudioFrameSize_NoDrift(t *testing.T) {
	track := AudioTrack{SampleRate: 48000, Channels: 2, Bits: 16}
	ntsc := frame.Rational{Num: 30000, Den: 1001}

	var want []int
	for _, s := range []int{1601, 1602, 1601, 1602, 1602} {
		want = append(want, s*4)
	}
	var got []int
	total := 0
	for id := int64(0); id < 5; id++ {
		got = append(got, AudioFrameSize(id, track, ntsc))
	}
	assert.Equal(t, want, got)

	for id := int64(0); id < 30000; id++ {
		total += AudioFrameSize(id, track, ntsc)
	}
	// 30000 frames at 29.97 fps is exactly 1001 seconds.
	assert.Equal(t, 1001*48000*4, total)
	assert.Equal(t, 1602*4, MaxAudioFrameSize(track, ntsc))
}

func TestSynthetic_FailAt(t *testing.T) {
	cfg := DefaultSyntheticConfig()
	cfg.FailAt = 3
	src := NewSynthetic(frame.Video, cfg)
	require.NoError(t, src.Open())

	frames, err := readAll(t, src)
	assert.Equal(t, 3, frames)
	assert.ErrorIs(t, err, ErrInjectedFailure)
}

func TestSynthetic_ShortLast(t *testing.T) {
	cfg := DefaultSyntheticConfig()
	cfg.Frames = 2
	cfg.ShortLast = true
	src := NewSynthetic(frame.Audio, cfg)
	require.NoError(t, src.Open())

	frames, err := readAll(t, src)
	assert.Equal(t, 1, frames)
	assert.ErrorIs(t, err, ErrShortFrame)
}

func TestProbe_CompatibleListsEveryMismatch(t *testing.T) {
	a := Probe{Width: 8, Height: 4, FrameRate: pal, Colorspace: ColorspaceYUV420,
		Tracks: []AudioTrack{{SampleRate: 48000, Channels: 2, Bits: 16}}}
	assert.NoError(t, a.Compatible(a))

	b := a
	b.Width = 16
	b.Tracks = []AudioTrack{{SampleRate: 44100, Channels: 2, Bits: 16}}
	err := a.Compatible(b)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProbeMismatch))
	assert.Contains(t, err.Error(), "geometry")
	assert.Contains(t, err.Error(), "sample rate")
}

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, "synthetic", DetectFormat(""))
	assert.Equal(t, "y4m", DetectFormat("/x/a.Y4M"))
	assert.Equal(t, "wav", DetectFormat("b.wav.xz"))
	assert.Equal(t, "mkv", DetectFormat("c.mkv"))

	_, err := New(Spec{Kind: frame.Video, Path: "c.mkv"})
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

package encbuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/reelpipe/internal/filter"
	"github.com/jmylchreest/reelpipe/internal/frame"
	"github.com/jmylchreest/reelpipe/internal/registry"
)

func newRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New(registry.Config{Slots: 8, VideoBytes: 16, AudioBytes: 16})
	require.NoError(t, err)
	return reg
}

// push registers n frames of kind; flags[i] is applied to frame i.
func push(t *testing.T, reg *registry.Registry, kind frame.Kind, flags ...frame.Flags) {
	t.Helper()
	for _, fl := range flags {
		f, err := reg.Register(kind)
		require.NoError(t, err)
		if fl&(frame.Skipped|frame.EndOfStream) == 0 {
			f.SetSize(16)
		}
		f.Set(fl)
		reg.Push(f, registry.PushReady)
	}
}

func TestAcquire_InOrder(t *testing.T) {
	reg := newRegistry(t)
	push(t, reg, frame.Video, 0, 0, frame.EndOfStream)
	b := New(reg, nil, nil)

	for want := int64(0); want < 3; want++ {
		f, err := b.AcquireVideo()
		require.NoError(t, err)
		assert.Equal(t, want, f.ID)
		require.NoError(t, b.DisposeVideo(f))
	}
	assert.Zero(t, reg.Stats(frame.Video).Used)
}

func TestAcquire_SkippedFramesAreReleased(t *testing.T) {
	reg := newRegistry(t)
	push(t, reg, frame.Audio, frame.Skipped, frame.Skipped|frame.Cloned, 0)
	b := New(reg, nil, nil)

	f, err := b.AcquireAudio()
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.ID)
	assert.Equal(t, int64(2), b.Dropped())
	assert.Equal(t, int64(1), b.Cloned())
	require.NoError(t, b.DisposeAudio(f))
}

func TestAcquire_EndOfStreamIsNeverDropped(t *testing.T) {
	reg := newRegistry(t)
	push(t, reg, frame.Video, frame.Skipped|frame.EndOfStream)
	b := New(reg, nil, nil)

	f, err := b.AcquireVideo()
	require.NoError(t, err)
	assert.True(t, f.Has(frame.EndOfStream))
	assert.Zero(t, b.Dropped())
}

func TestClone_ConsumedTwiceCountedOnce(t *testing.T) {
	reg := newRegistry(t)
	push(t, reg, frame.Video, frame.Cloned, 0)
	b := New(reg, nil, nil)

	var seen []int64
	for i := 0; i < 3; i++ {
		f, err := b.AcquireVideo()
		require.NoError(t, err)
		seen = append(seen, f.ID)
		require.NoError(t, b.DisposeVideo(f))
	}

	assert.Equal(t, []int64{0, 0, 1}, seen)
	assert.Equal(t, int64(1), b.Cloned())
	assert.False(t, b.Pending(frame.Video))
	assert.Zero(t, reg.Stats(frame.Video).Used)
}

func TestDispose_RetainsClonedFrame(t *testing.T) {
	reg := newRegistry(t)
	push(t, reg, frame.Audio, 0)
	b := New(reg, nil, nil)

	f, err := b.AcquireAudio()
	require.NoError(t, err)
	f.Set(frame.Cloned)
	require.NoError(t, b.DisposeAudio(f))

	assert.True(t, b.Pending(frame.Audio))
	assert.True(t, f.Has(frame.WasCloned))
	assert.False(t, f.Has(frame.Cloned))
	assert.Equal(t, 1, reg.Stats(frame.Audio).Used)

	require.NoError(t, b.Release())
	assert.Zero(t, reg.Stats(frame.Audio).Used)
}

func TestDispose_WrongKind(t *testing.T) {
	reg := newRegistry(t)
	push(t, reg, frame.Video, 0)
	b := New(reg, nil, nil)

	f, err := b.AcquireVideo()
	require.NoError(t, err)
	assert.Error(t, b.DisposeAudio(f))
	require.NoError(t, b.DisposeVideo(f))
	assert.ErrorIs(t, b.DisposeVideo(f), registry.ErrNotOwned)
}

func TestAcquire_AppliesPostFilters(t *testing.T) {
	reg := newRegistry(t)
	push(t, reg, frame.Video, 0, 0, 0, 0, frame.EndOfStream)
	chain, err := filter.NewChain([]filter.Spec{{
		Name:    "skip",
		Kind:    frame.Video.String(),
		Stage:   filter.Post.String(),
		Options: map[string]string{"every": "2"},
	}})
	require.NoError(t, err)
	b := New(reg, chain, nil)

	var ids []int64
	for {
		f, err := b.AcquireVideo()
		require.NoError(t, err)
		ids = append(ids, f.ID)
		eos := f.Has(frame.EndOfStream)
		require.NoError(t, b.DisposeVideo(f))
		if eos {
			break
		}
	}
	assert.Equal(t, []int64{1, 3, 4}, ids)
	assert.Equal(t, int64(2), b.Dropped())
}

func TestAcquire_InterruptedReturnsNoMoreFrames(t *testing.T) {
	reg := newRegistry(t)
	b := New(reg, nil, nil)
	reg.Interrupt()

	_, err := b.AcquireVideo()
	assert.ErrorIs(t, err, ErrNoMoreFrames)
}

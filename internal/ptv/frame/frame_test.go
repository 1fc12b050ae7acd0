package frame

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluidlab/ptv3d/internal/ptv"
)

func TestNewCorrespondencePoint(t *testing.T) {
	t.Parallel()

	p := NewCorrespondencePoint([3]float64{1, 2, 3})
	assert.Equal(t, [3]float64{1, 2, 3}, p.Pos)
	for cam := 0; cam < ptv.MaxCams; cam++ {
		assert.Equal(t, ptv.CorresNone, p.TargetIx[cam])
	}
}

func TestBufferAdvance(t *testing.T) {
	t.Parallel()

	t.Run("fills to capacity then evicts oldest", func(t *testing.T) {
		t.Parallel()
		b := NewBuffer(3)

		for n := 1; n <= 3; n++ {
			evicted, err := b.Advance(NewFrame(n, 2))
			require.NoError(t, err)
			assert.Nil(t, evicted)
		}
		assert.Equal(t, 3, b.Len())

		evicted, err := b.Advance(NewFrame(4, 2))
		require.NoError(t, err)
		require.NotNil(t, evicted)
		assert.Equal(t, 1, evicted.Num)

		window := b.Window()
		require.Len(t, window, 3)
		assert.Equal(t, 2, window[0].Num)
		assert.Equal(t, 4, window[2].Num)
	})

	t.Run("rejects out-of-sequence frame", func(t *testing.T) {
		t.Parallel()
		b := NewBuffer(3)

		_, err := b.Advance(NewFrame(10, 2))
		require.NoError(t, err)

		_, err = b.Advance(NewFrame(12, 2))
		require.Error(t, err)
		var se *ptv.SequenceError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, 11, se.Want)
		assert.Equal(t, 12, se.Got)

		// Buffer unchanged after the failed advance.
		assert.Equal(t, 1, b.Len())
	})

	t.Run("default capacity", func(t *testing.T) {
		t.Parallel()
		b := NewBuffer(0)
		assert.Equal(t, ptv.BufSpace, b.Cap())
	})
}

func TestBufferFrameLookup(t *testing.T) {
	t.Parallel()

	b := NewBuffer(4)
	for n := 5; n <= 7; n++ {
		_, err := b.Advance(NewFrame(n, 2))
		require.NoError(t, err)
	}

	require.NotNil(t, b.Frame(6))
	assert.Equal(t, 6, b.Frame(6).Num)
	assert.Nil(t, b.Frame(99))
}

func TestBufferRewindTo(t *testing.T) {
	t.Parallel()

	b := NewBuffer(4)
	for n := 1; n <= 4; n++ {
		_, err := b.Advance(NewFrame(n, 2))
		require.NoError(t, err)
	}

	b.RewindTo(100)
	assert.Equal(t, 0, b.Len())

	_, err := b.Advance(NewFrame(99, 2))
	assert.Error(t, err)

	_, err = b.Advance(NewFrame(100, 2))
	assert.NoError(t, err)
}

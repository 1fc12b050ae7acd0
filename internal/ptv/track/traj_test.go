package track

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluidlab/ptv3d/internal/fsutil"
	"github.com/fluidlab/ptv3d/internal/ptv"
	"github.com/fluidlab/ptv3d/internal/ptv/frame"
	"github.com/fluidlab/ptv3d/internal/ptv/resio"
)

// writeRun persists a hand-built two-frame run: two particles moving in
// parallel, one extra unlinked point in the second frame.
func writeRun(t *testing.T, store *resio.Store) {
	t.Helper()

	f1 := &frame.Frame{Num: 1, Points: []frame.CorrespondencePoint{
		frame.NewCorrespondencePoint([3]float64{0, 0, 0}),
		frame.NewCorrespondencePoint([3]float64{10, 0, 0}),
	}}
	require.NoError(t, store.WriteStep(f1,
		[]int{ptv.PrevNone, ptv.PrevNone},
		[]int{0, 1},
		nil))

	f2 := &frame.Frame{Num: 2, Points: []frame.CorrespondencePoint{
		frame.NewCorrespondencePoint([3]float64{1, 0, 0}),
		frame.NewCorrespondencePoint([3]float64{11, 0, 0}),
		frame.NewCorrespondencePoint([3]float64{20, 5, 0}),
	}}
	require.NoError(t, store.WriteStep(f2,
		[]int{0, 1, ptv.PrevNone},
		[]int{ptv.NextNone, ptv.NextNone, ptv.NextNone},
		[][3]float64{{20, 5, 0}}))
}

func TestTrajectories(t *testing.T) {
	t.Parallel()

	store := resio.NewStore(fsutil.NewMemoryFileSystem(), "res")
	writeRun(t, store)

	trs, err := Trajectories(store, 1, 2)
	require.NoError(t, err)
	require.Len(t, trs, 3)

	lengths := map[int]int{}
	for _, tr := range trs {
		lengths[tr.Len()]++
	}
	assert.Equal(t, 2, lengths[2], "two linked trajectories")
	assert.Equal(t, 1, lengths[1], "one singleton")

	for _, tr := range trs {
		if tr.Len() == 2 {
			assert.Equal(t, 1, tr.Start)
			assert.Equal(t, 2, tr.End())
			speeds := tr.Speeds()
			require.Len(t, speeds, 1)
			assert.InDelta(t, 1.0, speeds[0], 1e-6)
		}
	}
}

func TestFrameCounts(t *testing.T) {
	t.Parallel()

	store := resio.NewStore(fsutil.NewMemoryFileSystem(), "res")
	writeRun(t, store)

	counts, err := FrameCounts(store, 1, 2)
	require.NoError(t, err)
	require.Len(t, counts, 2)

	assert.Equal(t, FrameCount{Frame: 1, Points: 2, Linked: 2, Added: 0}, counts[0])
	assert.Equal(t, FrameCount{Frame: 2, Points: 3, Linked: 0, Added: 1}, counts[1])
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	trs := []Trajectory{
		{Start: 1, Pos: [][3]float64{{0, 0, 0}, {1, 0, 0}, {2, 0, 0}}},
		{Start: 2, Pos: [][3]float64{{5, 0, 0}, {5, 2, 0}}},
		{Start: 4, Pos: [][3]float64{{9, 9, 9}}},
	}

	s := Summarize(trs)
	assert.Equal(t, 3, s.Trajectories)
	assert.Equal(t, 6, s.Points)
	assert.InDelta(t, 2.0, s.MeanLength, 1e-9)
	assert.InDelta(t, (1.0+1.0+2.0)/3, s.MeanSpeed, 1e-9)
	assert.InDelta(t, 2.0, s.MaxSpeed, 1e-9)
}

func TestSummarizeEmpty(t *testing.T) {
	t.Parallel()

	s := Summarize(nil)
	assert.Equal(t, 0, s.Trajectories)
	assert.Equal(t, 0, s.Points)
	assert.Equal(t, 0.0, s.MeanSpeed)
}

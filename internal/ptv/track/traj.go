package track

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/fluidlab/ptv3d/internal/ptv"
	"github.com/fluidlab/ptv3d/internal/ptv/resio"
)

// Trajectory is one chained particle path recovered from the persisted
// linkage files.
type Trajectory struct {
	Start int // frame number of the first position
	Pos   [][3]float64
}

// Len returns the number of positions in the trajectory.
func (tr Trajectory) Len() int { return len(tr.Pos) }

// End returns the frame number of the last position.
func (tr Trajectory) End() int { return tr.Start + len(tr.Pos) - 1 }

// Speeds returns the per-interval displacement magnitudes.
func (tr Trajectory) Speeds() []float64 {
	if len(tr.Pos) < 2 {
		return nil
	}
	speeds := make([]float64, len(tr.Pos)-1)
	for i := 1; i < len(tr.Pos); i++ {
		speeds[i-1] = norm3(sub3(tr.Pos[i], tr.Pos[i-1]))
	}
	return speeds
}

// Trajectories chains the ptv_is files of a completed run: every point
// without an incoming link starts a trajectory, followed along its next
// references to the end of the sequence.
func Trajectories(store *resio.Store, first, last int) ([]Trajectory, error) {
	n := last - first + 1
	next := make([][]int, n)
	prev := make([][]int, n)
	pos := make([][][3]float64, n)
	for k := 0; k < n; k++ {
		pr, nx, ps, err := store.ReadLinks(first + k)
		if err != nil {
			return nil, err
		}
		prev[k], next[k], pos[k] = pr, nx, ps
	}

	var trs []Trajectory
	for k := 0; k < n; k++ {
		for i := range pos[k] {
			if prev[k][i] != ptv.PrevNone {
				continue
			}
			tr := Trajectory{Start: first + k}
			for f, ix := k, i; ; {
				tr.Pos = append(tr.Pos, pos[f][ix])
				nx := next[f][ix]
				if nx == ptv.NextNone || f+1 >= n || nx >= len(pos[f+1]) {
					break
				}
				f, ix = f+1, nx
			}
			trs = append(trs, tr)
		}
	}
	return trs, nil
}

// FrameCount summarises one frame's persisted results.
type FrameCount struct {
	Frame  int
	Points int
	Linked int
	Added  int
}

// FrameCounts reads per-frame point, link and added counts from a
// completed run.
func FrameCounts(store *resio.Store, first, last int) ([]FrameCount, error) {
	counts := make([]FrameCount, 0, last-first+1)
	for num := first; num <= last; num++ {
		_, next, pos, err := store.ReadLinks(num)
		if err != nil {
			return nil, err
		}
		added, err := store.ReadAdded(num)
		if err != nil {
			return nil, err
		}

		fc := FrameCount{Frame: num, Points: len(pos), Added: len(added)}
		for _, nx := range next {
			if nx != ptv.NextNone {
				fc.Linked++
			}
		}
		counts = append(counts, fc)
	}
	return counts, nil
}

// SequenceStats aggregates a run's trajectories.
type SequenceStats struct {
	Trajectories int
	Points       int
	MeanLength   float64
	MedianLength float64
	P90Length    float64
	MeanSpeed    float64
	MaxSpeed     float64
}

// Summarize computes length and speed statistics over a trajectory set.
func Summarize(trs []Trajectory) SequenceStats {
	var s SequenceStats
	s.Trajectories = len(trs)
	if len(trs) == 0 {
		return s
	}

	lengths := make([]float64, len(trs))
	var speeds []float64
	for i, tr := range trs {
		lengths[i] = float64(tr.Len())
		s.Points += tr.Len()
		speeds = append(speeds, tr.Speeds()...)
	}
	sort.Float64s(lengths)

	s.MeanLength = stat.Mean(lengths, nil)
	s.MedianLength = stat.Quantile(0.5, stat.Empirical, lengths, nil)
	s.P90Length = stat.Quantile(0.9, stat.Empirical, lengths, nil)

	if len(speeds) > 0 {
		s.MeanSpeed = stat.Mean(speeds, nil)
		for _, v := range speeds {
			if v > s.MaxSpeed {
				s.MaxSpeed = v
			}
		}
	}
	return s
}

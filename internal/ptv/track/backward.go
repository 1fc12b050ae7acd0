package track

import (
	"fmt"

	"github.com/fluidlab/ptv3d/internal/monitoring"
	"github.com/fluidlab/ptv3d/internal/ptv"
	"github.com/fluidlab/ptv3d/internal/ptv/frame"
)

// FullBackward re-walks the persisted sequence in decreasing frame order
// and closes one-frame gaps: a trajectory that ends at frame g-1 and a
// track-less point at frame g+1 are reconnected, under the same
// kinematic gates scaled to the two-frame interval, by inserting an
// interpolated midpoint into frame g. Only the file sets of affected
// frames are rewritten; the corresponding added records become links.
// Valid only once the forward pass has completed.
func (t *Tracker) FullBackward() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.phase != PhaseDoneForward {
		return fmt.Errorf("full backward: invalid in phase %s", t.phase)
	}
	t.phase = PhaseRunningBackward

	first, last := t.cfg.Sequence.First, t.cfg.Sequence.Last
	n := last - first + 1

	pts := make([][]frame.CorrespondencePoint, n)
	prev := make([][]int, n)
	next := make([][]int, n)
	added := make([][][3]float64, n)
	for k := 0; k < n; k++ {
		num := first + k
		p, err := t.store.ReadPoints(num)
		if err != nil {
			return err
		}
		pr, nx, _, err := t.store.ReadLinks(num)
		if err != nil {
			return err
		}
		if len(pr) != len(p) {
			return &ptv.MissingFrameDataError{Frame: num, Path: t.store.PtvIsPath(num),
				Err: fmt.Errorf("%d links for %d points", len(pr), len(p))}
		}
		ad, err := t.store.ReadAdded(num)
		if err != nil {
			return err
		}
		pts[k], prev[k], next[k], added[k] = p, pr, nx, ad
	}

	dirty := map[int]bool{}
	closed := 0
	for g := last - 1; g >= first+1; g-- {
		closed += t.closeGapsAt(g, first, pts, prev, next, added, dirty)
	}

	for k := 0; k < n; k++ {
		num := first + k
		if !dirty[num] {
			continue
		}
		f := &frame.Frame{Num: num, Points: pts[k]}
		if err := t.store.WriteStep(f, prev[k], next[k], added[k]); err != nil {
			return err
		}
	}

	monitoring.Logf("track: backward pass closed %d gaps", closed)
	t.phase = PhaseDoneBackward
	return nil
}

// closeGapsAt reconnects trajectories across gap frame g. Dangling ends
// live in g-1, track-less starts in g+1; competing reconnections are
// resolved by the same optimal assignment the forward pass uses.
func (t *Tracker) closeGapsAt(g, first int, pts [][]frame.CorrespondencePoint,
	prev, next [][]int, added [][][3]float64, dirty map[int]bool) int {

	gi, lo, hi := g-first, g-1-first, g+1-first

	var ends, starts []int
	for i := range pts[lo] {
		if next[lo][i] == ptv.NextNone {
			ends = append(ends, i)
		}
	}
	for j := range pts[hi] {
		if prev[hi][j] == ptv.PrevNone {
			starts = append(starts, j)
		}
	}
	if len(ends) == 0 || len(starts) == 0 {
		return 0
	}

	tp := &t.cfg.Tracking
	degenerate := tp.DvxMin == 0 && tp.DvxMax == 0 &&
		tp.DvyMin == 0 && tp.DvyMax == 0 &&
		tp.DvzMin == 0 && tp.DvzMax == 0

	cost := make([][]float64, len(ends))
	for r, i := range ends {
		cost[r] = make([]float64, len(starts))
		a := pts[lo][i]

		var vel [3]float64
		hasVel := false
		if pv := prev[lo][i]; pv != ptv.PrevNone && lo-1 >= 0 && pv < len(pts[lo-1]) {
			vel = sub3(a.Pos, pts[lo-1][pv].Pos)
			hasVel = true
		}
		pred := [3]float64{a.Pos[0] + 2*vel[0], a.Pos[1] + 2*vel[1], a.Pos[2] + 2*vel[2]}

		for c, j := range starts {
			b := pts[hi][j]
			d := sub3(b.Pos, a.Pos)
			// Per-interval step over the two-frame gap.
			step := [3]float64{d[0] / 2, d[1] / 2, d[2] / 2}

			if degenerate {
				cost[r][c] = norm3(sub3(b.Pos, pred))
				continue
			}
			if step[0] < tp.DvxMin || step[0] > tp.DvxMax ||
				step[1] < tp.DvyMin || step[1] > tp.DvyMax ||
				step[2] < tp.DvzMin || step[2] > tp.DvzMax {
				cost[r][c] = forbiddenCost
				continue
			}
			ang := 0.0
			if hasVel {
				if norm3(sub3(step, vel)) > tp.DAcc {
					cost[r][c] = forbiddenCost
					continue
				}
				ang = angleDeg(vel, step)
				if ang > tp.DAngle {
					cost[r][c] = forbiddenCost
					continue
				}
			}
			cost[r][c] = norm3(sub3(b.Pos, pred)) + angleWeight*ang
		}
	}

	closed := 0
	for r, c := range assign(cost) {
		if c < 0 {
			continue
		}
		i, j := ends[r], starts[c]
		a, b := pts[lo][i], pts[hi][j]

		mid := frame.NewCorrespondencePoint([3]float64{
			(a.Pos[0] + b.Pos[0]) / 2,
			(a.Pos[1] + b.Pos[1]) / 2,
			(a.Pos[2] + b.Pos[2]) / 2,
		})
		midIx := len(pts[gi])
		pts[gi] = append(pts[gi], mid)
		prev[gi] = append(prev[gi], i)
		next[gi] = append(next[gi], j)

		next[lo][i] = midIx
		prev[hi][j] = midIx
		added[gi] = removePosition(added[gi], b.Pos)

		dirty[first+lo] = true
		dirty[first+gi] = true
		dirty[first+hi] = true
		closed++
	}
	return closed
}

// removePosition drops the first entry matching pos. The added record and
// the point position both round-tripped through the same file formatting,
// so they compare equal up to print precision.
func removePosition(list [][3]float64, pos [3]float64) [][3]float64 {
	for i, a := range list {
		if norm3(sub3(a, pos)) < 1e-6 {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

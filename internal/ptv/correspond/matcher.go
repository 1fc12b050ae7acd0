// Package correspond matches detected 2D targets across cameras into
// triangulated 3D points. Camera pairs are searched along epipolar
// segments clipped to the working volume; surviving pairs are merged
// into multi-camera candidates by consistency voting and committed
// greedily, most cameras and highest correlation first.
package correspond

import (
	"math"
	"sort"
	"sync"

	"github.com/fluidlab/ptv3d/internal/monitoring"
	"github.com/fluidlab/ptv3d/internal/ptv"
	"github.com/fluidlab/ptv3d/internal/ptv/calib"
	"github.com/fluidlab/ptv3d/internal/ptv/frame"
	"github.com/fluidlab/ptv3d/internal/ptv/params"
)

// mergeTol is the maximum distance, in world units, between the
// triangulated positions of two camera-pair candidates for them to be
// voted into one multi-camera particle.
const mergeTol = 0.5

// Matcher runs the per-frame correspondence search for one camera rig.
type Matcher struct {
	ctrl *params.ControlParams
	vol  *params.VolumeParams
	cams []calib.Camera
}

// NewMatcher validates the rig against the declared camera count.
func NewMatcher(ctrl *params.ControlParams, vol *params.VolumeParams, cams []calib.Camera) (*Matcher, error) {
	if len(cams) != ctrl.NumCams {
		return nil, &ptv.ConfigMismatchError{Declared: ctrl.NumCams, Supplied: len(cams)}
	}
	return &Matcher{ctrl: ctrl, vol: vol, cams: cams}, nil
}

// pairCandidate is one accepted two-camera match before voting.
type pairCandidate struct {
	camA, camB int
	ixA, ixB   int
	pos        [3]float64
	corr       float64
}

// candidate is a voted multi-camera particle candidate.
type candidate struct {
	targetIx [ptv.MaxCams]int
	pos      [3]float64
	corrSum  float64
	pairs    int
	ncams    int
}

// Match populates f.Points from f.Targets and claims each contributing
// target's Pnr. Capacity and configuration checks run before any search.
// A frame that yields zero correspondences is not an error; it is logged
// and the frame simply carries no points.
func (m *Matcher) Match(f *frame.Frame) error {
	for cam, ts := range f.Targets {
		if len(ts) > ptv.MaxTargets {
			return &ptv.OverCapacityError{Cam: cam, Count: len(ts)}
		}
	}

	for cam := range f.Targets {
		for i := range f.Targets[cam] {
			f.Targets[cam][i].Pnr = ptv.CorresNone
		}
	}
	f.Points = f.Points[:0]

	met := m.metricTargets(f)

	// Camera pairs are independent; search them in parallel, each writing
	// its own result slot.
	pairs := cameraPairs(m.ctrl.NumCams)
	results := make([][]pairCandidate, len(pairs))
	var wg sync.WaitGroup
	for pi, pr := range pairs {
		wg.Add(1)
		go func(pi, a, b int) {
			defer wg.Done()
			results[pi] = m.searchPair(f, met, a, b)
		}(pi, pr[0], pr[1])
	}
	wg.Wait()

	var flat []pairCandidate
	for _, r := range results {
		flat = append(flat, r...)
	}

	m.commit(f, m.vote(flat, met))

	if len(f.Points) == 0 {
		monitoring.Logf("correspond: frame %d: no correspondences", f.Num)
	}
	return nil
}

// metricTargets converts every target's pixel position to metric sensor
// coordinates once, up front.
func (m *Matcher) metricTargets(f *frame.Frame) [][][2]float64 {
	met := make([][][2]float64, len(f.Targets))
	for cam, ts := range f.Targets {
		met[cam] = make([][2]float64, len(ts))
		for i, t := range ts {
			x, y := calib.PixelToMetric(t.X, t.Y, m.ctrl)
			met[cam][i] = [2]float64{x, y}
		}
	}
	return met
}

func cameraPairs(n int) [][2]int {
	var pairs [][2]int
	for a := 0; a < n; a++ {
		for b := a + 1; b < n; b++ {
			pairs = append(pairs, [2]int{a, b})
		}
	}
	return pairs
}

// searchPair finds all accepted two-camera matches between cameras a and b.
func (m *Matcher) searchPair(f *frame.Frame, met [][][2]float64, a, b int) []pairCandidate {
	var out []pairCandidate
	for i := range f.Targets[a] {
		p1, p2, ok := calib.EpipolarSegment(m.cams[a], m.cams[b], met[a][i][0], met[a][i][1], m.vol)
		if !ok {
			continue
		}
		for j := range f.Targets[b] {
			if calib.DistToSegment(met[b][j], p1, p2) > m.vol.Eps0 {
				continue
			}
			corr, ok := pairQuality(&f.Targets[a][i], &f.Targets[b][j], m.vol)
			if !ok {
				continue
			}
			var ix [ptv.MaxCams]int
			ix[a], ix[b] = i, j
			pos, ok := m.triangulate(met, ix, a, b)
			if !ok {
				continue
			}
			out = append(out, pairCandidate{camA: a, camB: b, ixA: i, ixB: j, pos: pos, corr: corr})
		}
	}
	return out
}

// triangulate intersects the rays of the referenced targets and checks the
// result against the working volume. camsUsed lists the cameras whose
// slots in ix are meaningful.
func (m *Matcher) triangulate(met [][][2]float64, ix [ptv.MaxCams]int, camsUsed ...int) ([3]float64, bool) {
	pts := make([][2]float64, len(m.cams))
	use := make([]bool, len(m.cams))
	for _, cam := range camsUsed {
		pts[cam] = met[cam][ix[cam]]
		use[cam] = true
	}
	pos, _, ok := calib.Triangulate(m.cams, pts, use)
	if !ok || !m.insideVolume(pos) {
		return [3]float64{}, false
	}
	return pos, true
}

// insideVolume checks x against the layer bounds and z against the depth
// range linearly interpolated between the two layer positions.
func (m *Matcher) insideVolume(pos [3]float64) bool {
	v := m.vol
	x, z := pos[0], pos[2]
	if x < v.XLay[0] || x > v.XLay[1] {
		return false
	}
	t := 0.0
	if span := v.XLay[1] - v.XLay[0]; span > 0 {
		t = (x - v.XLay[0]) / span
	}
	zMin := v.ZMinLay[0] + t*(v.ZMinLay[1]-v.ZMinLay[0])
	zMax := v.ZMaxLay[0] + t*(v.ZMaxLay[1]-v.ZMaxLay[0])
	return z >= zMin && z <= zMax
}

// pairQuality compares the two targets' pixel statistics. Each ratio is
// min/max in 0..1; all four must clear their thresholds and the weighted
// sum (0..9) must clear CorrMin.
func pairQuality(a, b *frame.Target, vol *params.VolumeParams) (float64, bool) {
	qn := statRatio(a.N, b.N)
	qnx := statRatio(a.Nx, b.Nx)
	qny := statRatio(a.Ny, b.Ny)
	qsumg := statRatio(a.SumG, b.SumG)

	if qn < vol.Cn || qnx < vol.Cnx || qny < vol.Cny || qsumg < vol.CSumG {
		return 0, false
	}
	corr := 4*qn + 2*qnx + 2*qny + qsumg
	if corr < vol.CorrMin {
		return 0, false
	}
	return corr, true
}

func statRatio(a, b int) float64 {
	if a == 0 && b == 0 {
		return 1
	}
	lo, hi := float64(a), float64(b)
	if lo > hi {
		lo, hi = hi, lo
	}
	if hi <= 0 {
		return 0
	}
	return lo / hi
}

// vote merges pair candidates into multi-camera candidates. Two
// candidates sharing a target with agreeing positions are the same
// particle; the merged set is re-triangulated over all its cameras.
func (m *Matcher) vote(flat []pairCandidate, met [][][2]float64) []candidate {
	// Deterministic merge order regardless of goroutine scheduling.
	sort.Slice(flat, func(i, j int) bool {
		a, b := flat[i], flat[j]
		if a.camA != b.camA {
			return a.camA < b.camA
		}
		if a.camB != b.camB {
			return a.camB < b.camB
		}
		if a.ixA != b.ixA {
			return a.ixA < b.ixA
		}
		return a.ixB < b.ixB
	})

	var cands []candidate
	for _, pc := range flat {
		if !m.tryMerge(&cands, pc, met) {
			c := candidate{pos: pc.pos, corrSum: pc.corr, pairs: 1, ncams: 2}
			for i := range c.targetIx {
				c.targetIx[i] = ptv.CorresNone
			}
			c.targetIx[pc.camA] = pc.ixA
			c.targetIx[pc.camB] = pc.ixB
			cands = append(cands, c)
		}
	}
	return cands
}

// tryMerge folds a pair candidate into the first compatible existing
// candidate: at least one shared target, no conflicting slot, and
// positions within mergeTol.
func (m *Matcher) tryMerge(cands *[]candidate, pc pairCandidate, met [][][2]float64) bool {
	for ci := range *cands {
		c := &(*cands)[ci]
		shared := c.targetIx[pc.camA] == pc.ixA || c.targetIx[pc.camB] == pc.ixB
		conflict := (c.targetIx[pc.camA] != ptv.CorresNone && c.targetIx[pc.camA] != pc.ixA) ||
			(c.targetIx[pc.camB] != ptv.CorresNone && c.targetIx[pc.camB] != pc.ixB)
		if !shared || conflict {
			continue
		}
		if dist3(c.pos, pc.pos) > mergeTol {
			continue
		}

		merged := *c
		merged.targetIx[pc.camA] = pc.ixA
		merged.targetIx[pc.camB] = pc.ixB

		var used []int
		for cam, ix := range merged.targetIx[:len(m.cams)] {
			if ix != ptv.CorresNone {
				used = append(used, cam)
			}
		}
		pos, ok := m.triangulate(met, merged.targetIx, used...)
		if !ok || dist3(pos, c.pos) > mergeTol {
			continue
		}

		merged.pos = pos
		merged.corrSum += pc.corr
		merged.pairs++
		merged.ncams = len(used)
		*c = merged
		return true
	}
	return false
}

// commit resolves target ownership: candidates are taken in order of
// camera count then correlation, and a candidate whose targets are all
// still unclaimed becomes a point; the rest lose.
func (m *Matcher) commit(f *frame.Frame, cands []candidate) {
	if m.ctrl.AllCams {
		kept := cands[:0]
		for _, c := range cands {
			if c.ncams == m.ctrl.NumCams {
				kept = append(kept, c)
			}
		}
		cands = kept
	}

	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.ncams != b.ncams {
			return a.ncams > b.ncams
		}
		ca, cb := a.corrSum/float64(a.pairs), b.corrSum/float64(b.pairs)
		if ca != cb {
			return ca > cb
		}
		for k := 0; k < 3; k++ {
			if a.pos[k] != b.pos[k] {
				return a.pos[k] < b.pos[k]
			}
		}
		return false
	})

	for _, c := range cands {
		claimed := false
		for cam, ix := range c.targetIx[:len(m.cams)] {
			if ix != ptv.CorresNone && f.Targets[cam][ix].Pnr != ptv.CorresNone {
				claimed = true
				break
			}
		}
		if claimed {
			continue
		}

		id := len(f.Points)
		p := frame.NewCorrespondencePoint(c.pos)
		p.NCams = c.ncams
		p.Corr = c.corrSum / float64(c.pairs)
		for cam, ix := range c.targetIx[:len(m.cams)] {
			if ix == ptv.CorresNone {
				continue
			}
			p.TargetIx[cam] = ix
			f.Targets[cam][ix].Pnr = id
		}
		f.Points = append(f.Points, p)
	}
}

func dist3(a, b [3]float64) float64 {
	dx, dy, dz := a[0]-b[0], a[1]-b[1], a[2]-b[2]
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

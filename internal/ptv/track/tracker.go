// Package track links per-frame 3D correspondence points into
// trajectories. The tracker walks the sequence forward over a rolling
// frame buffer, gating candidate links by per-axis velocity bounds, an
// acceleration bound and a direction-change bound, and resolving
// competing links with a globally optimal assignment. A backward pass
// closes one-frame gaps left by occlusion.
package track

import (
	"fmt"
	"math"
	"sync"

	"github.com/fluidlab/ptv3d/internal/fsutil"
	"github.com/fluidlab/ptv3d/internal/monitoring"
	"github.com/fluidlab/ptv3d/internal/ptv"
	"github.com/fluidlab/ptv3d/internal/ptv/calib"
	"github.com/fluidlab/ptv3d/internal/ptv/correspond"
	"github.com/fluidlab/ptv3d/internal/ptv/frame"
	"github.com/fluidlab/ptv3d/internal/ptv/params"
	"github.com/fluidlab/ptv3d/internal/ptv/resio"
)

// angleWeight converts the direction-change penalty (degrees) into the
// same units as the positional residual for candidate scoring. The
// relative weighting is a policy knob; this default favours position.
const angleWeight = 0.1

// StepStats summarises one forward linking step.
type StepStats struct {
	Frame  int // the frame whose files this step persisted
	Points int // correspondence points in that frame
	Linked int // outgoing links recorded
	Added  int // next-frame points left without an incoming link
}

// Tracker drives the full pipeline for one configured run: per-frame
// correspondence, forward linking, persistence and backward correction.
// It is single-writer; the phase accessor alone is safe for concurrent
// use.
type Tracker struct {
	mu sync.RWMutex

	cfg     *params.RunConfig
	matcher *correspond.Matcher
	fs      fsutil.FileSystem
	store   *resio.Store

	phase Phase
	buf   *frame.Buffer
	cur   int // oldest not-yet-persisted frame number
	end   int // newest loaded frame number

	// Per-buffered-frame link state, keyed by frame number. A point's
	// arrival velocity is recorded when its incoming link is made, so
	// prediction never needs an already-evicted frame.
	prevL map[int][]int
	nextL map[int][]int
	velL  map[int][][3]float64
	hasV  map[int][]bool
}

// NewTracker validates the configuration and assembles the pipeline.
func NewTracker(cfg *params.RunConfig, cams []calib.Camera, fs fsutil.FileSystem) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	matcher, err := correspond.NewMatcher(&cfg.Control, &cfg.Volume, cams)
	if err != nil {
		return nil, err
	}

	resDir := cfg.ResDir
	if resDir == "" {
		resDir = "res"
	}
	return &Tracker{
		cfg:     cfg,
		matcher: matcher,
		fs:      fs,
		store:   resio.NewStore(fs, resDir),
		phase:   PhaseIdle,
		buf:     frame.NewBuffer(ptv.BufSpace),
	}, nil
}

// Phase returns the tracker's current state-machine position.
func (t *Tracker) Phase() Phase {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.phase
}

// Store exposes the result store, for readers of a finished run.
func (t *Tracker) Store() *resio.Store { return t.store }

// Restart resets to the beginning of the sequence: clears the buffer,
// runs correspondence for the first window of frames and arms the
// forward pass.
func (t *Tracker) Restart() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	first, last := t.cfg.Sequence.First, t.cfg.Sequence.Last

	t.phase = PhaseIdle
	t.buf.RewindTo(first)
	t.prevL = map[int][]int{}
	t.nextL = map[int][]int{}
	t.velL = map[int][][3]float64{}
	t.hasV = map[int][]bool{}

	if err := t.store.EnsureDir(); err != nil {
		return fmt.Errorf("result directory: %w", err)
	}

	fill := ptv.BufSpace
	if n := last - first + 1; n < fill {
		fill = n
	}
	for k := 0; k < fill; k++ {
		f, err := t.loadFrame(first + k)
		if err != nil {
			return err
		}
		if _, err := t.buf.Advance(f); err != nil {
			return err
		}
		t.initLinks(f)
	}

	t.cur = first
	t.end = first + fill - 1
	t.phase = PhaseRunningForward
	return nil
}

// StepForward links the oldest buffered frame pair, persists the older
// frame's file set and slides the window one frame. It reports whether a
// further linkable pair remains; on the last pair it transitions to
// PhaseDoneForward.
func (t *Tracker) StepForward() (StepStats, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var stats StepStats
	if t.phase != PhaseRunningForward {
		return stats, false, fmt.Errorf("step forward: invalid in phase %s", t.phase)
	}

	last := t.cfg.Sequence.Last
	if t.cur >= last {
		t.phase = PhaseDoneForward
		return stats, false, nil
	}

	fi := t.buf.Frame(t.cur)
	fj := t.buf.Frame(t.cur + 1)
	if fi == nil || fj == nil {
		return stats, false, fmt.Errorf("step forward: frames %d..%d not buffered", t.cur, t.cur+1)
	}

	stats = t.linkPair(fi, fj)

	added := t.unlinkedPositions(fj)
	stats.Added = len(added)
	if err := t.store.WriteStep(fi, t.prevL[fi.Num], t.nextL[fi.Num], added); err != nil {
		return stats, false, err
	}
	if err := t.writeTargets(fi); err != nil {
		return stats, false, err
	}
	monitoring.Logf("track: frame %d: %d points, %d linked, %d added",
		fi.Num, stats.Points, stats.Linked, stats.Added)

	if t.end+1 <= last {
		f, err := t.loadFrame(t.end + 1)
		if err != nil {
			return stats, false, err
		}
		if _, err := t.buf.Advance(f); err != nil {
			return stats, false, err
		}
		t.initLinks(f)
		t.end++
	}

	t.dropLinks(fi.Num)
	t.cur++

	if t.cur >= last {
		t.phase = PhaseDoneForward
		return stats, false, nil
	}
	return stats, true, nil
}

// Finalize persists every buffered frame not yet written (normally just
// the last frame of the sequence, whose added list is empty by
// construction) and leaves the tracker in PhaseDoneForward.
func (t *Tracker) Finalize() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.phase != PhaseRunningForward && t.phase != PhaseDoneForward {
		return fmt.Errorf("finalize: invalid in phase %s", t.phase)
	}

	for num := t.cur; num <= t.end; num++ {
		f := t.buf.Frame(num)
		if f == nil {
			continue
		}
		if err := t.store.WriteStep(f, t.prevL[num], t.nextL[num], nil); err != nil {
			return err
		}
		if err := t.writeTargets(f); err != nil {
			return err
		}
	}
	t.cur = t.end + 1
	t.phase = PhaseDoneForward
	return nil
}

// FullForward runs the complete forward pass: restart, step to the end,
// finalize.
func (t *Tracker) FullForward() error {
	if err := t.Restart(); err != nil {
		return err
	}
	for {
		_, more, err := t.StepForward()
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	return t.Finalize()
}

// loadFrame reads every camera's target file for a frame and runs
// correspondence on it.
func (t *Tracker) loadFrame(num int) (*frame.Frame, error) {
	f := frame.NewFrame(num, t.cfg.Control.NumCams)
	for cam, base := range t.cfg.Sequence.BaseNames {
		path := resio.TargetPath(base, num)
		ts, err := resio.ReadTargets(t.fs, path)
		if err != nil {
			return nil, &ptv.MissingFrameDataError{Frame: num, Path: path, Err: err}
		}
		f.Targets[cam] = ts
	}
	if err := t.matcher.Match(f); err != nil {
		return nil, err
	}
	return f, nil
}

func (t *Tracker) initLinks(f *frame.Frame) {
	n := len(f.Points)
	prev := make([]int, n)
	next := make([]int, n)
	for i := 0; i < n; i++ {
		prev[i] = ptv.PrevNone
		next[i] = ptv.NextNone
	}
	t.prevL[f.Num] = prev
	t.nextL[f.Num] = next
	t.velL[f.Num] = make([][3]float64, n)
	t.hasV[f.Num] = make([]bool, n)
}

func (t *Tracker) dropLinks(num int) {
	delete(t.prevL, num)
	delete(t.nextL, num)
	delete(t.velL, num)
	delete(t.hasV, num)
}

// linkPair gates and scores every trajectory-head-to-candidate pairing
// between consecutive frames and records the optimal assignment.
func (t *Tracker) linkPair(fi, fj *frame.Frame) StepStats {
	stats := StepStats{Frame: fi.Num, Points: len(fi.Points)}
	if len(fi.Points) == 0 || len(fj.Points) == 0 {
		if len(fi.Points) == 0 {
			monitoring.Logf("track: frame %d: no points, trajectories terminated", fi.Num)
		}
		return stats
	}

	tp := &t.cfg.Tracking
	degenerate := tp.DvxMin == 0 && tp.DvxMax == 0 &&
		tp.DvyMin == 0 && tp.DvyMax == 0 &&
		tp.DvzMin == 0 && tp.DvzMax == 0
	if degenerate {
		monitoring.Logf("track: frame %d: degenerate velocity gate, nearest-neighbour fallback", fi.Num)
	}

	// A point may extend a trajectory if it continues one (has an
	// incoming link), sits in the first frame, or new trajectories are
	// being seeded.
	var rows []int
	for ip := range fi.Points {
		if t.prevL[fi.Num][ip] != ptv.PrevNone ||
			fi.Num == t.cfg.Sequence.First || tp.AddParticles {
			rows = append(rows, ip)
		}
	}
	if len(rows) == 0 {
		return stats
	}

	cost := make([][]float64, len(rows))
	for r, ip := range rows {
		cost[r] = make([]float64, len(fj.Points))
		p := &fi.Points[ip]
		vel := t.velL[fi.Num][ip]
		hasVel := t.hasV[fi.Num][ip]
		pred := [3]float64{p.Pos[0] + vel[0], p.Pos[1] + vel[1], p.Pos[2] + vel[2]}

		for q := range fj.Points {
			d := sub3(fj.Points[q].Pos, p.Pos)

			if degenerate {
				cost[r][q] = norm3(sub3(fj.Points[q].Pos, pred))
				continue
			}

			// Inclusive per-axis velocity window.
			if d[0] < tp.DvxMin || d[0] > tp.DvxMax ||
				d[1] < tp.DvyMin || d[1] > tp.DvyMax ||
				d[2] < tp.DvzMin || d[2] > tp.DvzMax {
				cost[r][q] = forbiddenCost
				continue
			}

			ang := 0.0
			if hasVel {
				if norm3(sub3(d, vel)) > tp.DAcc {
					cost[r][q] = forbiddenCost
					continue
				}
				ang = angleDeg(vel, d)
				if ang > tp.DAngle {
					cost[r][q] = forbiddenCost
					continue
				}
			}
			cost[r][q] = norm3(sub3(fj.Points[q].Pos, pred)) + angleWeight*ang
		}
	}

	for r, q := range assign(cost) {
		if q < 0 {
			continue
		}
		ip := rows[r]
		t.nextL[fi.Num][ip] = q
		t.prevL[fj.Num][q] = ip
		t.velL[fj.Num][q] = sub3(fj.Points[q].Pos, fi.Points[ip].Pos)
		t.hasV[fj.Num][q] = true
		stats.Linked++
	}
	return stats
}

// unlinkedPositions lists the points of a frame that received no
// incoming link this step; they go into the older frame's added file.
func (t *Tracker) unlinkedPositions(f *frame.Frame) [][3]float64 {
	var added [][3]float64
	for q, prev := range t.prevL[f.Num] {
		if prev == ptv.PrevNone {
			added = append(added, f.Points[q].Pos)
		}
	}
	return added
}

// writeTargets persists the frame's per-camera target lists with their
// claimed Pnr values.
func (t *Tracker) writeTargets(f *frame.Frame) error {
	for cam, base := range t.cfg.Sequence.BaseNames {
		if err := resio.WriteTargets(t.fs, resio.TargetPath(base, f.Num), f.Targets[cam]); err != nil {
			return err
		}
	}
	return nil
}

func sub3(a, b [3]float64) [3]float64 {
	return [3]float64{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

func norm3(v [3]float64) float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

// angleDeg returns the angle between two displacement vectors in
// degrees; zero when either is degenerate.
func angleDeg(a, b [3]float64) float64 {
	na, nb := norm3(a), norm3(b)
	if na == 0 || nb == 0 {
		return 0
	}
	dot := (a[0]*b[0] + a[1]*b[1] + a[2]*b[2]) / (na * nb)
	if dot > 1 {
		dot = 1
	} else if dot < -1 {
		dot = -1
	}
	return math.Acos(dot) * 180 / math.Pi
}

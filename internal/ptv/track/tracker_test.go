package track

import (
	"math"
	"os"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluidlab/ptv3d/internal/fsutil"
	"github.com/fluidlab/ptv3d/internal/monitoring"
	"github.com/fluidlab/ptv3d/internal/ptv"
	"github.com/fluidlab/ptv3d/internal/ptv/calib"
	"github.com/fluidlab/ptv3d/internal/ptv/frame"
	"github.com/fluidlab/ptv3d/internal/ptv/params"
	"github.com/fluidlab/ptv3d/internal/ptv/resio"
)

func TestMain(m *testing.M) {
	monitoring.Silence()
	os.Exit(m.Run())
}

func testRig() []calib.Camera {
	phi := math.Atan(0.5)
	return []calib.Camera{
		calib.NewPinhole([3]float64{-200, 0, -400}, [3]float64{0, -phi, 0}, 60, 0, 0),
		calib.NewPinhole([3]float64{200, 0, -400}, [3]float64{0, phi, 0}, 60, 0, 0),
	}
}

func testConfig(first, last int) *params.RunConfig {
	return &params.RunConfig{
		Control: params.ControlParams{
			NumCams: 2,
			ImgX:    1280, ImgY: 1024,
			PixX: 0.012, PixY: 0.012,
		},
		Volume: params.VolumeParams{
			XLay:    [2]float64{-40, 40},
			ZMinLay: [2]float64{-10, -10},
			ZMaxLay: [2]float64{10, 10},
			Cn:      0.1, Cnx: 0.1, Cny: 0.1, CSumG: 0.1,
			CorrMin: 4, Eps0: 0.2,
		},
		Tracking: params.TrackingParams{
			DvxMin: -2, DvxMax: 2,
			DvyMin: -2, DvyMax: 2,
			DvzMin: -2, DvzMax: 2,
			DAngle: 90, DAcc: 5,
			AddParticles: true,
		},
		Sequence: params.SequenceParams{
			First: first, Last: last,
			BaseNames: []string{"cam1.", "cam2."},
		},
		Calibrations: []string{"cal1.json", "cal2.json"},
		ResDir:       "res",
	}
}

// writeScene persists synthetic target files: for each frame, each world
// point is projected into every camera.
func writeScene(t *testing.T, fs fsutil.FileSystem, cfg *params.RunConfig, cams []calib.Camera, scene map[int][][3]float64) {
	t.Helper()
	for num := cfg.Sequence.First; num <= cfg.Sequence.Last; num++ {
		for ci, cam := range cams {
			var targets []frame.Target
			for pi, p := range scene[num] {
				x, y, ok := cam.Project(p)
				require.True(t, ok, "frame %d point %v not visible", num, p)
				xp, yp := calib.MetricToPixel(x, y, &cfg.Control)
				targets = append(targets, frame.Target{
					ID: pi, X: xp, Y: yp,
					N: 10, Nx: 4, Ny: 3, SumG: 400,
					Pnr: ptv.CorresNone,
				})
			}
			path := resio.TargetPath(cfg.Sequence.BaseNames[ci], num)
			require.NoError(t, resio.WriteTargets(fs, path, targets))
		}
	}
}

func newTestTracker(t *testing.T, cfg *params.RunConfig, fs fsutil.FileSystem) *Tracker {
	t.Helper()
	tr, err := NewTracker(cfg, testRig(), fs)
	require.NoError(t, err)
	return tr
}

// findPoint locates a persisted point by position, tolerating the file
// format's print precision.
func findPoint(t *testing.T, pos [][3]float64, want [3]float64) int {
	t.Helper()
	for i, p := range pos {
		if norm3(sub3(p, want)) < 1e-2 {
			return i
		}
	}
	t.Fatalf("no point near %v in %v", want, pos)
	return -1
}

func TestFullForwardConstantVelocity(t *testing.T) {
	t.Parallel()

	fs := fsutil.NewMemoryFileSystem()
	cfg := testConfig(1, 3)
	scene := map[int][][3]float64{
		1: {{0, 0, 0}},
		2: {{1, 0, 0}},
		3: {{2, 0, 0}},
	}
	cams := testRig()
	writeScene(t, fs, cfg, cams, scene)

	tr := newTestTracker(t, cfg, fs)
	require.NoError(t, tr.FullForward())
	assert.Equal(t, PhaseDoneForward, tr.Phase())

	store := tr.Store()
	for num := 1; num <= 3; num++ {
		prev, next, pos, err := store.ReadLinks(num)
		require.NoError(t, err)
		require.Len(t, pos, 1, "frame %d", num)

		if num == 1 {
			assert.Equal(t, ptv.PrevNone, prev[0])
		} else {
			assert.Equal(t, 0, prev[0], "frame %d", num)
		}
		if num == 3 {
			assert.Equal(t, ptv.NextNone, next[0])
		} else {
			assert.Equal(t, 0, next[0], "frame %d", num)
		}
	}

	for num := 1; num <= 3; num++ {
		added, err := store.ReadAdded(num)
		require.NoError(t, err)
		assert.Empty(t, added, "added.%d", num)
	}

	trs, err := Trajectories(store, 1, 3)
	require.NoError(t, err)
	require.Len(t, trs, 1)
	assert.Equal(t, 1, trs[0].Start)
	assert.Equal(t, 3, trs[0].Len())
}

func TestFullForwardIdempotent(t *testing.T) {
	t.Parallel()

	fs := fsutil.NewMemoryFileSystem()
	cfg := testConfig(1, 4)
	scene := map[int][][3]float64{
		1: {{-10, 8, 2}, {12, -6, -3}},
		2: {{-9, 8, 2}, {12.5, -6, -3}},
		3: {{-8, 8, 2}, {13, -6, -3}},
		4: {{-7, 8, 2}, {13.5, -6, -3}},
	}
	writeScene(t, fs, cfg, testRig(), scene)

	tr := newTestTracker(t, cfg, fs)
	require.NoError(t, tr.FullForward())

	snapshot := map[string][]byte{}
	for _, name := range fs.Files() {
		data, err := fs.ReadFile(name)
		require.NoError(t, err)
		snapshot[name] = data
	}

	require.NoError(t, tr.FullForward())

	names := fs.Files()
	sort.Strings(names)
	require.Len(t, names, len(snapshot))
	for _, name := range names {
		data, err := fs.ReadFile(name)
		require.NoError(t, err)
		assert.Equal(t, snapshot[name], data, "file %s changed between runs", name)
	}
}

func TestVelocityGateBoundaryInclusive(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name   string
		dx     float64
		linked bool
	}{
		{"exactly at bound", 2.0, true},
		{"beyond bound", 2.2, false},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			fs := fsutil.NewMemoryFileSystem()
			cfg := testConfig(1, 2)
			scene := map[int][][3]float64{
				1: {{0, 0, 0}},
				2: {{tc.dx, 0, 0}},
			}
			writeScene(t, fs, cfg, testRig(), scene)

			tr := newTestTracker(t, cfg, fs)
			require.NoError(t, tr.FullForward())

			_, next, _, err := tr.Store().ReadLinks(1)
			require.NoError(t, err)
			require.Len(t, next, 1)
			if tc.linked {
				assert.Equal(t, 0, next[0])
			} else {
				assert.Equal(t, ptv.NextNone, next[0])
			}

			added, err := tr.Store().ReadAdded(1)
			require.NoError(t, err)
			if tc.linked {
				assert.Empty(t, added)
			} else {
				assert.Len(t, added, 1)
			}
		})
	}
}

func TestDegenerateGateFallsBackToNearestNeighbour(t *testing.T) {
	t.Parallel()

	fs := fsutil.NewMemoryFileSystem()
	cfg := testConfig(1, 2)
	cfg.Tracking = params.TrackingParams{AddParticles: true}
	scene := map[int][][3]float64{
		1: {{0, 0, 0}},
		2: {{1, 0, 0}},
	}
	writeScene(t, fs, cfg, testRig(), scene)

	tr := newTestTracker(t, cfg, fs)
	require.NoError(t, tr.FullForward())

	_, next, _, err := tr.Store().ReadLinks(1)
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, 0, next[0])
}

func TestFullBackwardClosesOneFrameGap(t *testing.T) {
	t.Parallel()

	fs := fsutil.NewMemoryFileSystem()
	cfg := testConfig(1, 3)
	// The particle is occluded at frame 2 and reappears at frame 3
	// within the two-interval velocity gate.
	scene := map[int][][3]float64{
		1: {{0, 0, 0}},
		2: {},
		3: {{2, 0, 0}},
	}
	writeScene(t, fs, cfg, testRig(), scene)

	tr := newTestTracker(t, cfg, fs)
	require.NoError(t, tr.FullForward())
	store := tr.Store()

	// Before the backward pass the reappearing point is an added record.
	added, err := store.ReadAdded(2)
	require.NoError(t, err)
	require.Len(t, added, 1)
	assert.InDelta(t, 2.0, added[0][0], 1e-3)

	require.NoError(t, tr.FullBackward())
	assert.Equal(t, PhaseDoneBackward, tr.Phase())

	// The gap frame gained an interpolated midpoint linking both ends.
	prev, next, pos, err := store.ReadLinks(2)
	require.NoError(t, err)
	require.Len(t, pos, 1)
	assert.InDelta(t, 1.0, pos[0][0], 1e-3)
	assert.Equal(t, 0, prev[0])
	assert.Equal(t, 0, next[0])

	_, next1, _, err := store.ReadLinks(1)
	require.NoError(t, err)
	assert.Equal(t, 0, next1[0])

	prev3, _, _, err := store.ReadLinks(3)
	require.NoError(t, err)
	assert.Equal(t, 0, prev3[0])

	// The added record became a link.
	added, err = store.ReadAdded(2)
	require.NoError(t, err)
	assert.Empty(t, added)

	// The midpoint has no contributing cameras.
	points, err := store.ReadPoints(2)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, 0, points[0].NCams)

	trs, err := Trajectories(store, 1, 3)
	require.NoError(t, err)
	require.Len(t, trs, 1)
	assert.Equal(t, 3, trs[0].Len())
}

func TestAddParticlesControlsSeeding(t *testing.T) {
	t.Parallel()

	for _, seed := range []bool{true, false} {
		seed := seed
		name := "enabled"
		if !seed {
			name = "disabled"
		}
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			fs := fsutil.NewMemoryFileSystem()
			cfg := testConfig(1, 3)
			cfg.Tracking.AddParticles = seed
			// One particle tracked from the start; a second appears only
			// at frame 2.
			scene := map[int][][3]float64{
				1: {{-10, 8, 2}},
				2: {{-9, 8, 2}, {12, -6, -3}},
				3: {{-8, 8, 2}, {12.5, -6, -3}},
			}
			writeScene(t, fs, cfg, testRig(), scene)

			tr := newTestTracker(t, cfg, fs)
			require.NoError(t, tr.FullForward())

			_, next, pos, err := tr.Store().ReadLinks(2)
			require.NoError(t, err)
			late := findPoint(t, pos, [3]float64{12, -6, -3})

			if seed {
				assert.NotEqual(t, ptv.NextNone, next[late])
			} else {
				assert.Equal(t, ptv.NextNone, next[late])
			}

			// The established trajectory extends either way.
			tracked := findPoint(t, pos, [3]float64{-9, 8, 2})
			assert.NotEqual(t, ptv.NextNone, next[tracked])
		})
	}
}

func TestPhaseTransitions(t *testing.T) {
	t.Parallel()

	fs := fsutil.NewMemoryFileSystem()
	cfg := testConfig(1, 2)
	scene := map[int][][3]float64{
		1: {{0, 0, 0}},
		2: {{1, 0, 0}},
	}
	writeScene(t, fs, cfg, testRig(), scene)

	tr := newTestTracker(t, cfg, fs)
	assert.Equal(t, PhaseIdle, tr.Phase())

	// Stepping and backward correction are invalid before restart.
	_, _, err := tr.StepForward()
	require.Error(t, err)
	require.Error(t, tr.FullBackward())

	require.NoError(t, tr.Restart())
	assert.Equal(t, PhaseRunningForward, tr.Phase())

	// Backward is still invalid while the forward pass runs.
	require.Error(t, tr.FullBackward())

	_, more, err := tr.StepForward()
	require.NoError(t, err)
	assert.False(t, more)
	assert.Equal(t, PhaseDoneForward, tr.Phase())

	require.NoError(t, tr.Finalize())
	require.NoError(t, tr.FullBackward())
	assert.Equal(t, PhaseDoneBackward, tr.Phase())

	// A second backward pass needs a fresh forward pass first.
	require.Error(t, tr.FullBackward())
}

func TestRestartMissingTargetFile(t *testing.T) {
	t.Parallel()

	fs := fsutil.NewMemoryFileSystem()
	cfg := testConfig(1, 2)
	// Only frame 1 exists on disk.
	scene := map[int][][3]float64{1: {{0, 0, 0}}}
	cfg.Sequence.Last = 1
	writeScene(t, fs, cfg, testRig(), scene)
	cfg.Sequence.Last = 2

	tr := newTestTracker(t, cfg, fs)
	err := tr.Restart()
	require.Error(t, err)

	var missing *ptv.MissingFrameDataError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, 2, missing.Frame)
	assert.Equal(t, PhaseIdle, tr.Phase())
}

func TestStepStats(t *testing.T) {
	t.Parallel()

	fs := fsutil.NewMemoryFileSystem()
	cfg := testConfig(1, 2)
	scene := map[int][][3]float64{
		1: {{-10, 8, 2}},
		2: {{-9, 8, 2}, {12, -6, -3}},
	}
	writeScene(t, fs, cfg, testRig(), scene)

	tr := newTestTracker(t, cfg, fs)
	require.NoError(t, tr.Restart())

	stats, more, err := tr.StepForward()
	require.NoError(t, err)
	assert.False(t, more)
	assert.Equal(t, 1, stats.Frame)
	assert.Equal(t, 1, stats.Points)
	assert.Equal(t, 1, stats.Linked)
	assert.Equal(t, 1, stats.Added)
}

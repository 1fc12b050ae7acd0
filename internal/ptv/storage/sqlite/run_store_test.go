package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluidlab/ptv3d/internal/ptv/track"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenAppliesMigrations(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)

	for _, table := range []string{"ptv_runs", "ptv_trajectories", "ptv_positions", "ptv_frame_stats"} {
		var name string
		err := db.QueryRow(
			`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		require.NoError(t, err, "table %s missing", table)
	}
}

func TestRunStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewRunStore(setupTestDB(t))

	run := &Run{
		WorkDir: "/data/exp7", FirstFrame: 100, LastFrame: 250,
		Phase:  "done-backward",
		Params: `{"sequence":{"first":100,"last":250}}`,
	}
	require.NoError(t, store.InsertRun(run))
	assert.NotEmpty(t, run.RunID)
	assert.NotZero(t, run.CreatedAt)

	got, err := store.GetRun(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, run, got)

	runs, err := store.ListRuns()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.RunID, runs[0].RunID)
}

func TestTrajectoryRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewRunStore(setupTestDB(t))

	run := &Run{WorkDir: ".", FirstFrame: 1, LastFrame: 3, Phase: "done-forward"}
	require.NoError(t, store.InsertRun(run))

	trs := []track.Trajectory{
		{Start: 1, Pos: [][3]float64{{0, 0, 0}, {1, 0, 0}, {2, 0, 0}}},
		{Start: 2, Pos: [][3]float64{{5, 5, 5}, {5, 6, 5}}},
	}
	require.NoError(t, store.InsertTrajectories(run.RunID, trs))

	got, err := store.TrajectoriesForRun(run.RunID)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(trs, got))

	// Summary columns are derived at insert time.
	var endFrame int
	var meanSpeed, maxSpeed, dx float64
	err = store.db.QueryRow(`
		SELECT end_frame, mean_speed, max_speed, dx
		FROM ptv_trajectories WHERE run_id = ? AND start_frame = 1`, run.RunID).
		Scan(&endFrame, &meanSpeed, &maxSpeed, &dx)
	require.NoError(t, err)
	assert.Equal(t, 3, endFrame)
	assert.InDelta(t, 1.0, meanSpeed, 1e-12)
	assert.InDelta(t, 1.0, maxSpeed, 1e-12)
	assert.InDelta(t, 2.0, dx, 1e-12)
}

func TestFrameStatsRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewRunStore(setupTestDB(t))

	run := &Run{WorkDir: ".", FirstFrame: 1, LastFrame: 2, Phase: "done-forward"}
	require.NoError(t, store.InsertRun(run))

	counts := []track.FrameCount{
		{Frame: 1, Points: 12, Linked: 10, Added: 0},
		{Frame: 2, Points: 13, Linked: 11, Added: 2},
	}
	require.NoError(t, store.InsertFrameStats(run.RunID, counts))

	got, err := store.FrameStatsForRun(run.RunID)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(counts, got))
}

func TestGetRunMissing(t *testing.T) {
	t.Parallel()

	store := NewRunStore(setupTestDB(t))
	_, err := store.GetRun("no-such-run")
	require.Error(t, err)
}

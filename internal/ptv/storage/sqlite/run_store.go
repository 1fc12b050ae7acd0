package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fluidlab/ptv3d/internal/ptv/track"
)

// Run is a persisted tracking run's metadata. Params carries the JSON
// snapshot of the run configuration the run was produced with.
type Run struct {
	RunID      string `json:"run_id"`
	WorkDir    string `json:"work_dir"`
	FirstFrame int    `json:"first_frame"`
	LastFrame  int    `json:"last_frame"`
	Phase      string `json:"phase"`
	Params     string `json:"params,omitempty"`
	CreatedAt  int64  `json:"created_at"`
}

// RunStore provides persistence for tracking runs and their results.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a RunStore backed by the given database.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db.DB}
}

// InsertRun persists run metadata. If RunID is empty, a UUID is
// generated.
func (s *RunStore) InsertRun(run *Run) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.CreatedAt == 0 {
		run.CreatedAt = time.Now().UnixNano()
	}

	err := retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO ptv_runs (run_id, work_dir, first_frame, last_frame, phase, params, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, run.WorkDir, run.FirstFrame, run.LastFrame, run.Phase, run.Params, run.CreatedAt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.RunID, err)
	}
	return nil
}

// GetRun returns a run by ID.
func (s *RunStore) GetRun(runID string) (*Run, error) {
	row := s.db.QueryRow(`
		SELECT run_id, work_dir, first_frame, last_frame, phase, params, created_at
		FROM ptv_runs WHERE run_id = ?`, runID)

	var r Run
	if err := row.Scan(&r.RunID, &r.WorkDir, &r.FirstFrame, &r.LastFrame, &r.Phase, &r.Params, &r.CreatedAt); err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return &r, nil
}

// ListRuns returns all runs, newest first.
func (s *RunStore) ListRuns() ([]*Run, error) {
	rows, err := s.db.Query(`
		SELECT run_id, work_dir, first_frame, last_frame, phase, params, created_at
		FROM ptv_runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.RunID, &r.WorkDir, &r.FirstFrame, &r.LastFrame, &r.Phase, &r.Params, &r.CreatedAt); err != nil {
			return nil, err
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

// InsertTrajectories persists a run's trajectories and positions in one
// transaction.
func (s *RunStore) InsertTrajectories(runID string, trs []track.Trajectory) error {
	return retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		trStmt, err := tx.Prepare(`
			INSERT INTO ptv_trajectories
				(trajectory_id, run_id, start_frame, end_frame, length,
				 mean_speed, max_speed, dx, dy, dz)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer trStmt.Close()

		posStmt, err := tx.Prepare(`
			INSERT INTO ptv_positions (trajectory_id, frame, x, y, z)
			VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer posStmt.Close()

		for _, tr := range trs {
			id := uuid.New().String()
			meanSpeed, maxSpeed := speedSummary(tr)
			disp := displacement(tr)
			if _, err := trStmt.Exec(id, runID, tr.Start, tr.End(), tr.Len(),
				meanSpeed, maxSpeed, disp[0], disp[1], disp[2]); err != nil {
				return fmt.Errorf("inserting trajectory: %w", err)
			}
			for i, p := range tr.Pos {
				if _, err := posStmt.Exec(id, tr.Start+i, p[0], p[1], p[2]); err != nil {
					return fmt.Errorf("inserting position: %w", err)
				}
			}
		}
		return tx.Commit()
	})
}

// speedSummary returns the mean and peak per-interval speed of a
// trajectory, zero for singletons.
func speedSummary(tr track.Trajectory) (mean, max float64) {
	speeds := tr.Speeds()
	if len(speeds) == 0 {
		return 0, 0
	}
	var sum float64
	for _, s := range speeds {
		sum += s
		if s > max {
			max = s
		}
	}
	return sum / float64(len(speeds)), max
}

// displacement returns the per-axis net displacement from first to last
// position.
func displacement(tr track.Trajectory) [3]float64 {
	if len(tr.Pos) == 0 {
		return [3]float64{}
	}
	a, b := tr.Pos[0], tr.Pos[len(tr.Pos)-1]
	return [3]float64{b[0] - a[0], b[1] - a[1], b[2] - a[2]}
}

// TrajectoriesForRun reads a run's trajectories back, ordered by start
// frame.
func (s *RunStore) TrajectoriesForRun(runID string) ([]track.Trajectory, error) {
	rows, err := s.db.Query(`
		SELECT t.trajectory_id, t.start_frame, p.x, p.y, p.z
		FROM ptv_trajectories t
		JOIN ptv_positions p ON p.trajectory_id = t.trajectory_id
		WHERE t.run_id = ?
		ORDER BY t.start_frame, t.trajectory_id, p.frame`, runID)
	if err != nil {
		return nil, fmt.Errorf("query trajectories: %w", err)
	}
	defer rows.Close()

	var trs []track.Trajectory
	lastID := ""
	for rows.Next() {
		var id string
		var start int
		var x, y, z float64
		if err := rows.Scan(&id, &start, &x, &y, &z); err != nil {
			return nil, err
		}
		if id != lastID {
			trs = append(trs, track.Trajectory{Start: start})
			lastID = id
		}
		tr := &trs[len(trs)-1]
		tr.Pos = append(tr.Pos, [3]float64{x, y, z})
	}
	return trs, rows.Err()
}

// InsertFrameStats persists per-frame counts for a run.
func (s *RunStore) InsertFrameStats(runID string, counts []track.FrameCount) error {
	return retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		stmt, err := tx.Prepare(`
			INSERT INTO ptv_frame_stats (run_id, frame, points, linked, added)
			VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, c := range counts {
			if _, err := stmt.Exec(runID, c.Frame, c.Points, c.Linked, c.Added); err != nil {
				return fmt.Errorf("inserting frame stats: %w", err)
			}
		}
		return tx.Commit()
	})
}

// FrameStatsForRun reads a run's per-frame counts, ordered by frame.
func (s *RunStore) FrameStatsForRun(runID string) ([]track.FrameCount, error) {
	rows, err := s.db.Query(`
		SELECT frame, points, linked, added
		FROM ptv_frame_stats WHERE run_id = ? ORDER BY frame`, runID)
	if err != nil {
		return nil, fmt.Errorf("query frame stats: %w", err)
	}
	defer rows.Close()

	var counts []track.FrameCount
	for rows.Next() {
		var c track.FrameCount
		if err := rows.Scan(&c.Frame, &c.Points, &c.Linked, &c.Added); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

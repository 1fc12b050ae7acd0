// Package main is the batch driver for the particle tracking pipeline.
// It loads a run configuration and calibrations from a working
// directory, runs the forward linking pass over the configured frame
// range, optionally the backward gap-closing pass, and optionally
// records the finished run into a results database.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/fluidlab/ptv3d/internal/fsutil"
	"github.com/fluidlab/ptv3d/internal/ptv/calib"
	"github.com/fluidlab/ptv3d/internal/ptv/params"
	"github.com/fluidlab/ptv3d/internal/ptv/storage/sqlite"
	"github.com/fluidlab/ptv3d/internal/ptv/track"
	"github.com/fluidlab/ptv3d/internal/version"
)

// Config holds the command-line configuration.
type Config struct {
	WorkDir    string
	ConfigPath string
	First      int
	Last       int
	Backward   bool
	DBPath     string
}

func main() {
	var cfg Config
	flag.StringVar(&cfg.WorkDir, "dir", ".", "working directory containing target files and configuration")
	flag.StringVar(&cfg.ConfigPath, "config", "parameters/run.json", "run configuration file, relative to the working directory")
	flag.IntVar(&cfg.First, "first", -1, "override the configured first frame")
	flag.IntVar(&cfg.Last, "last", -1, "override the configured last frame")
	flag.BoolVar(&cfg.Backward, "backward", true, "run the backward gap-closing pass after the forward pass")
	flag.StringVar(&cfg.DBPath, "db", "", "optional results database; the run is recorded there when set")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ptv3d %s\n", version.String())
		return
	}

	if err := run(cfg); err != nil {
		log.Fatalf("ptv3d: %v", err)
	}
}

func run(cfg Config) error {
	// Target file base names and calibration paths in the configuration
	// are relative to the working directory.
	if err := os.Chdir(cfg.WorkDir); err != nil {
		return fmt.Errorf("working directory: %w", err)
	}

	rc, err := params.LoadRunConfig(cfg.ConfigPath)
	if err != nil {
		return err
	}
	if cfg.First >= 0 {
		rc.Sequence.First = cfg.First
	}
	if cfg.Last >= 0 {
		rc.Sequence.Last = cfg.Last
	}

	cams := make([]calib.Camera, 0, len(rc.Calibrations))
	for _, path := range rc.Calibrations {
		cam, err := calib.LoadPinhole(path)
		if err != nil {
			return err
		}
		cams = append(cams, cam)
	}

	tracker, err := track.NewTracker(rc, cams, fsutil.OSFileSystem{})
	if err != nil {
		return err
	}

	log.Printf("tracking frames %d..%d with %d cameras", rc.Sequence.First, rc.Sequence.Last, len(cams))
	if err := tracker.FullForward(); err != nil {
		return err
	}
	if cfg.Backward {
		if err := tracker.FullBackward(); err != nil {
			return err
		}
	}

	trs, err := track.Trajectories(tracker.Store(), rc.Sequence.First, rc.Sequence.Last)
	if err != nil {
		return err
	}
	stats := track.Summarize(trs)
	log.Printf("done: %d trajectories, %d points, mean length %.1f, mean speed %.3f",
		stats.Trajectories, stats.Points, stats.MeanLength, stats.MeanSpeed)

	if cfg.DBPath != "" {
		if err := record(cfg, rc, tracker, trs); err != nil {
			return fmt.Errorf("record run: %w", err)
		}
	}
	return nil
}

// record stores the finished run in the results database.
func record(cfg Config, rc *params.RunConfig, tracker *track.Tracker, trs []track.Trajectory) error {
	db, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	counts, err := track.FrameCounts(tracker.Store(), rc.Sequence.First, rc.Sequence.Last)
	if err != nil {
		return err
	}

	snapshot, err := json.Marshal(rc)
	if err != nil {
		return fmt.Errorf("marshal run configuration: %w", err)
	}

	store := sqlite.NewRunStore(db)
	run := &sqlite.Run{
		WorkDir:    cfg.WorkDir,
		FirstFrame: rc.Sequence.First,
		LastFrame:  rc.Sequence.Last,
		Phase:      tracker.Phase().String(),
		Params:     string(snapshot),
	}
	if err := store.InsertRun(run); err != nil {
		return err
	}
	if err := store.InsertTrajectories(run.RunID, trs); err != nil {
		return err
	}
	if err := store.InsertFrameStats(run.RunID, counts); err != nil {
		return err
	}
	log.Printf("recorded run %s in %s", run.RunID, cfg.DBPath)
	return nil
}

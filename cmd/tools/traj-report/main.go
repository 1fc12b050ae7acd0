// Package main builds an HTML report for a recorded tracking run: per
// frame point/link/added counts as a line chart and a trajectory length
// histogram as a bar chart.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/fluidlab/ptv3d/internal/ptv/storage/sqlite"
	"github.com/fluidlab/ptv3d/internal/ptv/track"
)

func main() {
	var (
		dbPath = flag.String("db", "runs.db", "results database")
		runID  = flag.String("run", "", "run to report on; defaults to the newest run")
		out    = flag.String("o", "report.html", "output HTML file")
	)
	flag.Parse()

	if err := run(*dbPath, *runID, *out); err != nil {
		log.Fatalf("traj-report: %v", err)
	}
}

func run(dbPath, runID, out string) error {
	db, err := sqlite.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	store := sqlite.NewRunStore(db)
	if runID == "" {
		runs, err := store.ListRuns()
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			return fmt.Errorf("no runs recorded in %s", dbPath)
		}
		runID = runs[0].RunID
	}

	rec, err := store.GetRun(runID)
	if err != nil {
		return err
	}
	counts, err := store.FrameStatsForRun(runID)
	if err != nil {
		return err
	}
	trs, err := store.TrajectoriesForRun(runID)
	if err != nil {
		return err
	}
	stats := track.Summarize(trs)

	page := components.NewPage()
	page.AddCharts(frameChart(rec, counts), lengthChart(stats, trs))

	f, err := os.Create(out)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := page.Render(f); err != nil {
		return err
	}
	log.Printf("wrote %s for run %s (%d trajectories)", out, runID, stats.Trajectories)
	return nil
}

func frameChart(rec *sqlite.Run, counts []track.FrameCount) *charts.Line {
	frames := make([]int, len(counts))
	points := make([]opts.LineData, len(counts))
	linked := make([]opts.LineData, len(counts))
	added := make([]opts.LineData, len(counts))
	for i, c := range counts {
		frames[i] = c.Frame
		points[i] = opts.LineData{Value: c.Points}
		linked[i] = opts.LineData{Value: c.Linked}
		added[i] = opts.LineData{Value: c.Added}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Per-frame counts",
			Subtitle: fmt.Sprintf("run %s, frames %d..%d", rec.RunID, rec.FirstFrame, rec.LastFrame),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	line.SetXAxis(frames).
		AddSeries("points", points).
		AddSeries("linked", linked).
		AddSeries("added", added)
	return line
}

func lengthChart(stats track.SequenceStats, trs []track.Trajectory) *charts.Bar {
	hist := map[int]int{}
	maxLen := 0
	for _, tr := range trs {
		hist[tr.Len()]++
		if tr.Len() > maxLen {
			maxLen = tr.Len()
		}
	}

	var lengths []int
	var data []opts.BarData
	for l := 1; l <= maxLen; l++ {
		lengths = append(lengths, l)
		data = append(data, opts.BarData{Value: hist[l]})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title: "Trajectory lengths",
			Subtitle: fmt.Sprintf("%d trajectories, mean %.1f, median %.0f, p90 %.0f",
				stats.Trajectories, stats.MeanLength, stats.MedianLength, stats.P90Length),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(lengths).AddSeries("trajectories", data)
	return bar
}

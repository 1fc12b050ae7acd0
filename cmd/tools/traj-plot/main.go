// Package main renders the trajectories of a completed tracking run as
// a 2D projection, one polyline per trajectory, saved as a PNG.
package main

import (
	"flag"
	"fmt"
	"image/color"
	"log"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/fluidlab/ptv3d/internal/fsutil"
	"github.com/fluidlab/ptv3d/internal/ptv/resio"
	"github.com/fluidlab/ptv3d/internal/ptv/track"
)

func main() {
	var (
		resDir  = flag.String("res", "res", "result directory of the run")
		first   = flag.Int("first", -1, "first frame of the run")
		last    = flag.Int("last", -1, "last frame of the run")
		out     = flag.String("o", "trajectories.png", "output PNG file")
		minLen  = flag.Int("min-len", 2, "skip trajectories shorter than this")
		planeNm = flag.String("plane", "xy", "projection plane: xy, xz or yz")
	)
	flag.Parse()

	if *first < 0 || *last < *first {
		log.Fatal("traj-plot: -first and -last must describe a valid frame range")
	}
	if err := run(*resDir, *first, *last, *out, *minLen, *planeNm); err != nil {
		log.Fatalf("traj-plot: %v", err)
	}
}

func run(resDir string, first, last int, out string, minLen int, plane string) error {
	ax, ay, err := planeAxes(plane)
	if err != nil {
		return err
	}

	store := resio.NewStore(fsutil.OSFileSystem{}, resDir)
	trs, err := track.Trajectories(store, first, last)
	if err != nil {
		return err
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Trajectories, frames %d..%d", first, last)
	p.X.Label.Text = axisLabel(ax)
	p.Y.Label.Text = axisLabel(ay)

	colors := palette()
	drawn := 0
	for _, tr := range trs {
		if tr.Len() < minLen {
			continue
		}
		pts := make(plotter.XYs, len(tr.Pos))
		for i, pos := range tr.Pos {
			pts[i] = plotter.XY{X: pos[ax], Y: pos[ay]}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		line.Width = vg.Points(1)
		line.Color = colors[drawn%len(colors)]
		p.Add(line)
		drawn++
	}

	if err := p.Save(8*vg.Inch, 8*vg.Inch, out); err != nil {
		return err
	}
	log.Printf("wrote %s: %d of %d trajectories", out, drawn, len(trs))
	return nil
}

func planeAxes(plane string) (int, int, error) {
	switch plane {
	case "xy":
		return 0, 1, nil
	case "xz":
		return 0, 2, nil
	case "yz":
		return 1, 2, nil
	}
	return 0, 0, fmt.Errorf("unknown plane %q", plane)
}

func axisLabel(axis int) string {
	return [...]string{"X (mm)", "Y (mm)", "Z (mm)"}[axis]
}

func palette() []color.Color {
	return []color.Color{
		color.RGBA{R: 31, G: 119, B: 180, A: 255},
		color.RGBA{R: 255, G: 127, B: 14, A: 255},
		color.RGBA{R: 44, G: 160, B: 44, A: 255},
		color.RGBA{R: 214, G: 39, B: 40, A: 255},
		color.RGBA{R: 148, G: 103, B: 189, A: 255},
		color.RGBA{R: 140, G: 86, B: 75, A: 255},
	}
}

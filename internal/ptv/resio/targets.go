package resio

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/fluidlab/ptv3d/internal/fsutil"
	"github.com/fluidlab/ptv3d/internal/ptv"
	"github.com/fluidlab/ptv3d/internal/ptv/frame"
)

// TargetPath builds the per-camera target file name for a frame, e.g.
// base "cam1." and frame 497 give "cam1.0497_targets".
func TargetPath(base string, frameNum int) string {
	return fmt.Sprintf("%s%04d_targets", base, frameNum)
}

// ReadTargets reads a detection target file: count header, then rows of
// "id x y n nx ny sumg pnr".
func ReadTargets(fsys fsutil.FileSystem, path string) ([]frame.Target, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read targets %s: %w", path, err)
	}

	lines := splitLines(data)
	if len(lines) == 0 {
		return nil, fmt.Errorf("read targets %s: empty file", path)
	}
	count, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil || count < 0 {
		return nil, fmt.Errorf("read targets %s: malformed count %q", path, lines[0])
	}
	if len(lines)-1 < count {
		return nil, fmt.Errorf("read targets %s: count %d but %d rows", path, count, len(lines)-1)
	}

	targets := make([]frame.Target, 0, count)
	for i, line := range lines[1 : count+1] {
		t, err := parseTarget(line)
		if err != nil {
			return nil, fmt.Errorf("read targets %s: row %d: %w", path, i, err)
		}
		targets = append(targets, t)
	}
	return targets, nil
}

// WriteTargets writes targets in the detection file format. Used by the
// tracker to persist updated Pnr assignments after a correspondence pass.
func WriteTargets(fsys fsutil.FileSystem, path string, targets []frame.Target) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d\n", len(targets))
	for _, t := range targets {
		fmt.Fprintf(&buf, "%4d %9.4f %9.4f %5d %5d %5d %5d %5d\n",
			t.ID, t.X, t.Y, t.N, t.Nx, t.Ny, t.SumG, t.Pnr)
	}
	if err := fsys.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write targets %s: %w", path, err)
	}
	return nil
}

func parseTarget(line string) (frame.Target, error) {
	var t frame.Target
	fields := strings.Fields(line)
	if len(fields) != 8 {
		return t, fmt.Errorf("%d fields, want 8", len(fields))
	}

	ints := [6]int{}
	for i, ix := range []int{0, 3, 4, 5, 6, 7} {
		v, err := strconv.Atoi(fields[ix])
		if err != nil {
			return t, fmt.Errorf("malformed int %q", fields[ix])
		}
		ints[i] = v
	}
	floats, err := parseFloats(fields[1:3])
	if err != nil {
		return t, err
	}

	t.ID = ints[0]
	t.X, t.Y = floats[0], floats[1]
	t.N, t.Nx, t.Ny, t.SumG = ints[1], ints[2], ints[3], ints[4]
	t.Pnr = ints[5]
	if t.Pnr < 0 && t.Pnr != ptv.CorresNone {
		t.Pnr = ptv.CorresNone
	}
	return t, nil
}

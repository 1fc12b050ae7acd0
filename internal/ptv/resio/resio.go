// Package resio reads and writes the persisted per-frame result files:
//
//	rt_is.<n>   correspondences: count header, then "id x y z t0 t1 t2 t3"
//	ptv_is.<n>  linkage: count header, then "prev next x y z"
//	added.<n>   unlinked arrivals: count header, then "x y z"
//
// plus the per-camera target files produced by external detection. All
// I/O goes through the fsutil.FileSystem abstraction; the files for one
// tracking step are committed atomically as a set via staged writes.
package resio

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fluidlab/ptv3d/internal/fsutil"
	"github.com/fluidlab/ptv3d/internal/ptv"
	"github.com/fluidlab/ptv3d/internal/ptv/frame"
)

// Store names and persists the result files of one run directory.
type Store struct {
	fs  fsutil.FileSystem
	dir string
}

// NewStore creates a store rooted at the given result directory.
func NewStore(fs fsutil.FileSystem, dir string) *Store {
	return &Store{fs: fs, dir: dir}
}

// EnsureDir creates the result directory if needed.
func (s *Store) EnsureDir() error {
	return s.fs.MkdirAll(s.dir, 0o755)
}

// RtIsPath returns the correspondence file path for a frame.
func (s *Store) RtIsPath(n int) string {
	return filepath.Join(s.dir, fmt.Sprintf("rt_is.%d", n))
}

// PtvIsPath returns the linkage file path for a frame.
func (s *Store) PtvIsPath(n int) string {
	return filepath.Join(s.dir, fmt.Sprintf("ptv_is.%d", n))
}

// AddedPath returns the added-particle file path for a frame.
func (s *Store) AddedPath(n int) string {
	return filepath.Join(s.dir, fmt.Sprintf("added.%d", n))
}

// WriteStep persists the complete result set for one frame: points with
// their camera references, prev/next links, and the step's added-particle
// positions. The three files are staged with a .tmp suffix and renamed
// only after every stage write succeeded, so a crashed step never leaves
// a partial set behind.
func (s *Store) WriteStep(f *frame.Frame, prev, next []int, added [][3]float64) error {
	if len(prev) != len(f.Points) || len(next) != len(f.Points) {
		return fmt.Errorf("frame %d: link arrays (%d, %d) do not match %d points",
			f.Num, len(prev), len(next), len(f.Points))
	}

	files := []struct {
		path string
		data []byte
	}{
		{s.RtIsPath(f.Num), encodeRtIs(f.Points)},
		{s.PtvIsPath(f.Num), encodePtvIs(f.Points, prev, next)},
		{s.AddedPath(f.Num), encodeAdded(added)},
	}

	for _, fl := range files {
		if err := s.fs.WriteFile(fl.path+".tmp", fl.data, 0o644); err != nil {
			return fmt.Errorf("stage %s: %w", fl.path, err)
		}
	}
	for _, fl := range files {
		if err := s.fs.Rename(fl.path+".tmp", fl.path); err != nil {
			return fmt.Errorf("commit %s: %w", fl.path, err)
		}
	}
	return nil
}

// ReadPoints reads a frame's rt_is file back into correspondence points.
func (s *Store) ReadPoints(n int) ([]frame.CorrespondencePoint, error) {
	path := s.RtIsPath(n)
	rows, err := s.readRows(n, path)
	if err != nil {
		return nil, err
	}

	points := make([]frame.CorrespondencePoint, 0, len(rows))
	for i, fields := range rows {
		if len(fields) != 4+ptv.MaxCams {
			return nil, &ptv.MissingFrameDataError{Frame: n, Path: path,
				Err: fmt.Errorf("row %d: %d fields, want %d", i, len(fields), 4+ptv.MaxCams)}
		}
		p := frame.NewCorrespondencePoint([3]float64{})
		vals, err := parseFloats(fields[1:4])
		if err != nil {
			return nil, &ptv.MissingFrameDataError{Frame: n, Path: path, Err: err}
		}
		copy(p.Pos[:], vals)
		for cam := 0; cam < ptv.MaxCams; cam++ {
			ix, err := strconv.Atoi(fields[4+cam])
			if err != nil {
				return nil, &ptv.MissingFrameDataError{Frame: n, Path: path, Err: err}
			}
			p.TargetIx[cam] = ix
			if ix != ptv.CorresNone {
				p.NCams++
			}
		}
		points = append(points, p)
	}
	return points, nil
}

// ReadLinks reads a frame's ptv_is file: prev/next link arrays plus the
// recorded point positions.
func (s *Store) ReadLinks(n int) (prev, next []int, pos [][3]float64, err error) {
	path := s.PtvIsPath(n)
	rows, err := s.readRows(n, path)
	if err != nil {
		return nil, nil, nil, err
	}

	for i, fields := range rows {
		if len(fields) != 5 {
			return nil, nil, nil, &ptv.MissingFrameDataError{Frame: n, Path: path,
				Err: fmt.Errorf("row %d: %d fields, want 5", i, len(fields))}
		}
		p, err1 := strconv.Atoi(fields[0])
		nx, err2 := strconv.Atoi(fields[1])
		vals, err3 := parseFloats(fields[2:5])
		if err1 != nil || err2 != nil || err3 != nil {
			return nil, nil, nil, &ptv.MissingFrameDataError{Frame: n, Path: path,
				Err: fmt.Errorf("row %d: malformed values", i)}
		}
		prev = append(prev, p)
		next = append(next, nx)
		pos = append(pos, [3]float64{vals[0], vals[1], vals[2]})
	}
	return prev, next, pos, nil
}

// ReadAdded reads a frame's added-particle positions.
func (s *Store) ReadAdded(n int) ([][3]float64, error) {
	path := s.AddedPath(n)
	rows, err := s.readRows(n, path)
	if err != nil {
		return nil, err
	}

	added := make([][3]float64, 0, len(rows))
	for i, fields := range rows {
		if len(fields) != 3 {
			return nil, &ptv.MissingFrameDataError{Frame: n, Path: path,
				Err: fmt.Errorf("row %d: %d fields, want 3", i, len(fields))}
		}
		vals, err := parseFloats(fields)
		if err != nil {
			return nil, &ptv.MissingFrameDataError{Frame: n, Path: path, Err: err}
		}
		added = append(added, [3]float64{vals[0], vals[1], vals[2]})
	}
	return added, nil
}

// readRows reads a count-headed line file and returns the whitespace-split
// data rows, validated against the header count.
func (s *Store) readRows(n int, path string) ([][]string, error) {
	data, err := s.fs.ReadFile(path)
	if err != nil {
		return nil, &ptv.MissingFrameDataError{Frame: n, Path: path, Err: err}
	}

	lines := splitLines(data)
	if len(lines) == 0 {
		return nil, &ptv.MissingFrameDataError{Frame: n, Path: path,
			Err: fmt.Errorf("empty file")}
	}
	count, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil || count < 0 {
		return nil, &ptv.MissingFrameDataError{Frame: n, Path: path,
			Err: fmt.Errorf("malformed count header %q", lines[0])}
	}
	if len(lines)-1 < count {
		return nil, &ptv.MissingFrameDataError{Frame: n, Path: path,
			Err: fmt.Errorf("count header %d but %d rows", count, len(lines)-1)}
	}

	rows := make([][]string, 0, count)
	for _, line := range lines[1 : count+1] {
		rows = append(rows, strings.Fields(line))
	}
	return rows, nil
}

func splitLines(data []byte) []string {
	var lines []string
	for _, line := range bytes.Split(data, []byte("\n")) {
		trimmed := strings.TrimRight(string(line), "\r")
		if strings.TrimSpace(trimmed) == "" {
			continue
		}
		lines = append(lines, trimmed)
	}
	return lines
}

func parseFloats(fields []string) ([]float64, error) {
	vals := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed float %q", f)
		}
		vals[i] = v
	}
	return vals, nil
}

func encodeRtIs(points []frame.CorrespondencePoint) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d\n", len(points))
	for i, p := range points {
		fmt.Fprintf(&buf, "%4d %9.3f %9.3f %9.3f", i, p.Pos[0], p.Pos[1], p.Pos[2])
		for cam := 0; cam < ptv.MaxCams; cam++ {
			fmt.Fprintf(&buf, " %4d", p.TargetIx[cam])
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func encodePtvIs(points []frame.CorrespondencePoint, prev, next []int) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d\n", len(points))
	for i, p := range points {
		fmt.Fprintf(&buf, "%4d %4d %10.3f %10.3f %10.3f\n",
			prev[i], next[i], p.Pos[0], p.Pos[1], p.Pos[2])
	}
	return buf.Bytes()
}

func encodeAdded(added [][3]float64) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d\n", len(added))
	for _, a := range added {
		fmt.Fprintf(&buf, "%10.3f %10.3f %10.3f\n", a[0], a[1], a[2])
	}
	return buf.Bytes()
}

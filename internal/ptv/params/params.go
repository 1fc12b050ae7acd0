// Package params defines the validated parameter sets that drive the
// correspondence and tracking pipeline: camera/control geometry, working
// volume bounds and correlation thresholds, kinematic gates, and the frame
// sequence description.
//
// Parameters are plain immutable structs loaded from JSON and validated at
// construction. A malformed parameter file fails the run before any frame
// is touched.
package params

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fluidlab/ptv3d/internal/ptv"
)

// MultimediaParams describes the refractive layers between camera and
// measurement volume (air / glass wall / water). Indices of refraction,
// with D the wall thickness in world units.
type MultimediaParams struct {
	N1 float64 `json:"n1"` // air
	N2 float64 `json:"n2"` // wall
	N3 float64 `json:"n3"` // medium
	D  float64 `json:"d"`  // wall thickness
}

// ControlParams holds the camera-rig geometry shared by every stage.
type ControlParams struct {
	NumCams  int     `json:"num_cams"`
	ImgX     int     `json:"img_x"`  // sensor width, pixels
	ImgY     int     `json:"img_y"`  // sensor height, pixels
	PixX     float64 `json:"pix_x"`  // pixel pitch, mm
	PixY     float64 `json:"pix_y"`  // pixel pitch, mm
	HighPass bool    `json:"high_pass"`
	AllCams  bool    `json:"all_cams"` // require every camera to see a particle

	MM MultimediaParams `json:"mm"`
}

// Validate checks the control parameters for internal consistency.
func (c *ControlParams) Validate() error {
	if c.NumCams < 1 || c.NumCams > ptv.MaxCams {
		return fmt.Errorf("num_cams must be in 1..%d, got %d", ptv.MaxCams, c.NumCams)
	}
	if c.ImgX <= 0 || c.ImgY <= 0 {
		return fmt.Errorf("image size must be positive, got %dx%d", c.ImgX, c.ImgY)
	}
	if c.PixX <= 0 || c.PixY <= 0 {
		return fmt.Errorf("pixel pitch must be positive, got %gx%g", c.PixX, c.PixY)
	}
	return nil
}

// VolumeParams bounds the working volume and sets the correspondence
// acceptance thresholds. The volume is described by two illuminated layer
// boundaries: at X position XLay[i] the valid depth range is
// ZMinLay[i]..ZMaxLay[i], linearly interpolated in between.
type VolumeParams struct {
	XLay    [2]float64 `json:"x_lay"`
	ZMinLay [2]float64 `json:"z_min_lay"`
	ZMaxLay [2]float64 `json:"z_max_lay"`

	// Minimum ratios (0..1) between the paired targets' pixel statistics.
	Cn    float64 `json:"cn"`     // pixel count
	Cnx   float64 `json:"cnx"`    // x extent
	Cny   float64 `json:"cny"`    // y extent
	CSumG float64 `json:"csumg"`  // grey value sum
	// CorrMin is the minimum weighted correlation (4qn+2qnx+2qny+qsumg,
	// range 0..9) for a candidate pair.
	CorrMin float64 `json:"corrmin"`

	// Eps0 is the epipolar band half-width in metric image units.
	Eps0 float64 `json:"eps0"`
}

// Validate checks the volume parameters.
func (v *VolumeParams) Validate() error {
	for i := 0; i < 2; i++ {
		if v.ZMinLay[i] > v.ZMaxLay[i] {
			return fmt.Errorf("layer %d: z_min %g exceeds z_max %g", i, v.ZMinLay[i], v.ZMaxLay[i])
		}
	}
	if v.XLay[0] > v.XLay[1] {
		return fmt.Errorf("x_lay bounds inverted: %g > %g", v.XLay[0], v.XLay[1])
	}
	if v.Eps0 < 0 {
		return fmt.Errorf("eps0 must not be negative, got %g", v.Eps0)
	}
	for _, r := range []struct {
		name string
		val  float64
	}{{"cn", v.Cn}, {"cnx", v.Cnx}, {"cny", v.Cny}, {"csumg", v.CSumG}} {
		if r.val < 0 || r.val > 1 {
			return fmt.Errorf("%s must be a ratio in 0..1, got %g", r.name, r.val)
		}
	}
	return nil
}

// TrackingParams holds the kinematic gates for linking particles between
// consecutive frames. Velocity bounds are per frame interval; DAngle is in
// degrees; DAcc bounds the implied acceleration magnitude.
type TrackingParams struct {
	DvxMin float64 `json:"dvxmin"`
	DvxMax float64 `json:"dvxmax"`
	DvyMin float64 `json:"dvymin"`
	DvyMax float64 `json:"dvymax"`
	DvzMin float64 `json:"dvzmin"`
	DvzMax float64 `json:"dvzmax"`
	DAngle float64 `json:"dangle"`
	DAcc   float64 `json:"dacc"`

	// AddParticles seeds unclaimed next-frame points as new trajectories.
	AddParticles bool `json:"add_particles"`
}

// Validate checks the per-axis velocity windows.
func (p *TrackingParams) Validate() error {
	axes := []struct {
		name     string
		min, max float64
	}{
		{"dvx", p.DvxMin, p.DvxMax},
		{"dvy", p.DvyMin, p.DvyMax},
		{"dvz", p.DvzMin, p.DvzMax},
	}
	for _, a := range axes {
		if a.min > a.max {
			return fmt.Errorf("%s window inverted: min %g > max %g", a.name, a.min, a.max)
		}
	}
	if p.DAngle < 0 {
		return fmt.Errorf("dangle must not be negative, got %g", p.DAngle)
	}
	if p.DAcc < 0 {
		return fmt.Errorf("dacc must not be negative, got %g", p.DAcc)
	}
	return nil
}

// SequenceParams names the frame range and the per-camera target file
// base names.
type SequenceParams struct {
	First     int      `json:"first"`
	Last      int      `json:"last"`
	BaseNames []string `json:"base_names"`
}

// Validate checks the frame range. The base-name count is checked against
// the camera count by RunConfig, which knows both.
func (s *SequenceParams) Validate() error {
	if s.First > s.Last {
		return fmt.Errorf("first frame %d exceeds last frame %d", s.First, s.Last)
	}
	return nil
}

// RunConfig gathers every parameter set for one processing run plus the
// per-camera calibration file locations.
type RunConfig struct {
	Control  ControlParams  `json:"control"`
	Volume   VolumeParams   `json:"volume"`
	Tracking TrackingParams `json:"tracking"`
	Sequence SequenceParams `json:"sequence"`

	// Calibrations are per-camera calibration JSON paths, relative to the
	// working directory unless absolute.
	Calibrations []string `json:"calibrations"`

	// ResDir is the result directory, relative to the working directory.
	// Defaults to "res".
	ResDir string `json:"res_dir,omitempty"`
}

// Validate checks every section and the cross-section counts.
func (rc *RunConfig) Validate() error {
	if err := rc.Control.Validate(); err != nil {
		return fmt.Errorf("control: %w", err)
	}
	if err := rc.Volume.Validate(); err != nil {
		return fmt.Errorf("volume: %w", err)
	}
	if err := rc.Tracking.Validate(); err != nil {
		return fmt.Errorf("tracking: %w", err)
	}
	if err := rc.Sequence.Validate(); err != nil {
		return fmt.Errorf("sequence: %w", err)
	}
	if got := len(rc.Sequence.BaseNames); got != rc.Control.NumCams {
		return fmt.Errorf("sequence: %d base names for %d cameras", got, rc.Control.NumCams)
	}
	if got := len(rc.Calibrations); got != rc.Control.NumCams {
		return &ptv.ConfigMismatchError{Declared: rc.Control.NumCams, Supplied: got}
	}
	return nil
}

// LoadRunConfig reads and validates a RunConfig from a JSON file.
func LoadRunConfig(path string) (*RunConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("run config must have .json extension, got %q", ext)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read run config: %w", err)
	}

	rc := &RunConfig{}
	if err := json.Unmarshal(data, rc); err != nil {
		return nil, fmt.Errorf("failed to parse run config JSON: %w", err)
	}
	if rc.ResDir == "" {
		rc.ResDir = "res"
	}
	if err := rc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run config: %w", err)
	}
	return rc, nil
}

// Save writes the RunConfig as indented JSON.
func (rc *RunConfig) Save(path string) error {
	data, err := json.MarshalIndent(rc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run config: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write run config: %w", err)
	}
	return nil
}

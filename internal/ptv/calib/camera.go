// Package calib provides the camera model contract the correspondence
// engine works against, plus one conforming pinhole implementation.
//
// Calibration estimation (bundle adjustment) is out of scope: calibrations
// arrive pre-computed and are only evaluated here. The engine is written
// against the Camera interface so an implementation with a different lens
// or refraction model can be swapped in by the caller.
package calib

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// Camera maps between 3D world coordinates and 2D metric image-plane
// coordinates (millimetres, origin at the sensor centre, y up).
type Camera interface {
	// Project maps a world point to metric image coordinates. ok is false
	// when the point is behind the camera.
	Project(p [3]float64) (x, y float64, ok bool)

	// Ray returns the world-space viewing ray through the given metric
	// image point: a camera origin and a unit direction.
	Ray(x, y float64) (origin, dir [3]float64)
}

// Pinhole is a central-projection camera with exterior orientation,
// principal distance, principal point offset, and optional radial
// distortion on the metric plane.
type Pinhole struct {
	Pos    [3]float64 `json:"pos"`    // projection centre, world units
	Angles [3]float64 `json:"angles"` // omega, phi, kappa, radians

	Focal float64 `json:"focal"` // principal distance, mm
	Xh    float64 `json:"xh"`    // principal point offset, mm
	Yh    float64 `json:"yh"`

	K1 float64 `json:"k1,omitempty"`
	K2 float64 `json:"k2,omitempty"`
	K3 float64 `json:"k3,omitempty"`

	r [3][3]float64 // world-to-camera rotation, derived from Angles
}

// NewPinhole builds a pinhole camera and derives its rotation matrix.
func NewPinhole(pos, angles [3]float64, focal, xh, yh float64) *Pinhole {
	c := &Pinhole{Pos: pos, Angles: angles, Focal: focal, Xh: xh, Yh: yh}
	c.deriveRotation()
	return c
}

// LoadPinhole reads a pinhole calibration from a JSON file.
func LoadPinhole(path string) (*Pinhole, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration: %w", err)
	}
	c := &Pinhole{}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse calibration %s: %w", path, err)
	}
	if c.Focal <= 0 {
		return nil, fmt.Errorf("calibration %s: focal must be positive, got %g", path, c.Focal)
	}
	c.deriveRotation()
	return c, nil
}

// deriveRotation composes the world-to-camera rotation from the Euler
// angles omega (x), phi (y), kappa (z), applied in that order.
func (c *Pinhole) deriveRotation() {
	so, co := math.Sincos(c.Angles[0])
	sp, cp := math.Sincos(c.Angles[1])
	sk, ck := math.Sincos(c.Angles[2])

	// R = Rz(kappa) * Ry(phi) * Rx(omega)
	c.r = [3][3]float64{
		{cp * ck, so*sp*ck - co*sk, co*sp*ck + so*sk},
		{cp * sk, so*sp*sk + co*ck, co*sp*sk - so*ck},
		{-sp, so * cp, co * cp},
	}
}

// rotate applies the world-to-camera rotation.
func (c *Pinhole) rotate(v [3]float64) [3]float64 {
	return [3]float64{
		c.r[0][0]*v[0] + c.r[0][1]*v[1] + c.r[0][2]*v[2],
		c.r[1][0]*v[0] + c.r[1][1]*v[1] + c.r[1][2]*v[2],
		c.r[2][0]*v[0] + c.r[2][1]*v[1] + c.r[2][2]*v[2],
	}
}

// rotateT applies the camera-to-world rotation (transpose).
func (c *Pinhole) rotateT(v [3]float64) [3]float64 {
	return [3]float64{
		c.r[0][0]*v[0] + c.r[1][0]*v[1] + c.r[2][0]*v[2],
		c.r[0][1]*v[0] + c.r[1][1]*v[1] + c.r[2][1]*v[2],
		c.r[0][2]*v[0] + c.r[1][2]*v[1] + c.r[2][2]*v[2],
	}
}

// Project maps a world point to distorted metric image coordinates.
func (c *Pinhole) Project(p [3]float64) (float64, float64, bool) {
	d := c.rotate([3]float64{p[0] - c.Pos[0], p[1] - c.Pos[1], p[2] - c.Pos[2]})
	if d[2] <= 1e-12 {
		return 0, 0, false
	}
	x := c.Focal * d[0] / d[2]
	y := c.Focal * d[1] / d[2]
	x, y = c.distort(x, y)
	return x + c.Xh, y + c.Yh, true
}

// Ray returns the viewing ray through a distorted metric image point.
func (c *Pinhole) Ray(x, y float64) ([3]float64, [3]float64) {
	x, y = c.undistort(x-c.Xh, y-c.Yh)
	d := c.rotateT([3]float64{x, y, c.Focal})
	n := math.Sqrt(d[0]*d[0] + d[1]*d[1] + d[2]*d[2])
	return c.Pos, [3]float64{d[0] / n, d[1] / n, d[2] / n}
}

// distort applies radial distortion to ideal metric coordinates.
func (c *Pinhole) distort(x, y float64) (float64, float64) {
	if c.K1 == 0 && c.K2 == 0 && c.K3 == 0 {
		return x, y
	}
	r2 := x*x + y*y
	f := 1 + r2*(c.K1+r2*(c.K2+r2*c.K3))
	return x * f, y * f
}

// undistort removes radial distortion by fixed-point iteration. Converges
// in a handful of rounds for the mild distortions of PTV optics.
func (c *Pinhole) undistort(xd, yd float64) (float64, float64) {
	if c.K1 == 0 && c.K2 == 0 && c.K3 == 0 {
		return xd, yd
	}
	x, y := xd, yd
	for i := 0; i < 8; i++ {
		r2 := x*x + y*y
		f := 1 + r2*(c.K1+r2*(c.K2+r2*c.K3))
		if f == 0 {
			break
		}
		x = xd / f
		y = yd / f
	}
	return x, y
}

package calib

import (
	"math"

	"github.com/fluidlab/ptv3d/internal/ptv/params"
)

// EpipolarSegment projects the viewing ray of an image point in one
// camera into another camera, clipped to the illuminated depth range of
// the working volume. The result is a straight segment in the second
// camera's metric image plane; for a central projection the epipolar
// curve restricted to the volume is exactly this segment.
//
// ok is false when the segment cannot be formed (ray parallel to the
// layer planes, or volume behind the second camera).
func EpipolarSegment(from, to Camera, x, y float64, vpar *params.VolumeParams) (p1, p2 [2]float64, ok bool) {
	origin, dir := from.Ray(x, y)

	zNear := math.Min(vpar.ZMinLay[0], vpar.ZMinLay[1])
	zFar := math.Max(vpar.ZMaxLay[0], vpar.ZMaxLay[1])

	if math.Abs(dir[2]) < 1e-12 {
		return p1, p2, false
	}
	t1 := (zNear - origin[2]) / dir[2]
	t2 := (zFar - origin[2]) / dir[2]

	a := [3]float64{origin[0] + t1*dir[0], origin[1] + t1*dir[1], origin[2] + t1*dir[2]}
	b := [3]float64{origin[0] + t2*dir[0], origin[1] + t2*dir[1], origin[2] + t2*dir[2]}

	ax, ay, okA := to.Project(a)
	bx, by, okB := to.Project(b)
	if !okA || !okB {
		return p1, p2, false
	}
	return [2]float64{ax, ay}, [2]float64{bx, by}, true
}

// DistToSegment returns the distance from point p to the segment a-b.
func DistToSegment(p, a, b [2]float64) float64 {
	abx := b[0] - a[0]
	aby := b[1] - a[1]
	apx := p[0] - a[0]
	apy := p[1] - a[1]

	len2 := abx*abx + aby*aby
	if len2 == 0 {
		return math.Hypot(apx, apy)
	}

	t := (apx*abx + apy*aby) / len2
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	dx := p[0] - (a[0] + t*abx)
	dy := p[1] - (a[1] + t*aby)
	return math.Hypot(dx, dy)
}

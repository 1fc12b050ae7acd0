// Package frame holds the per-frame data model of the pipeline: detected
// 2D targets per camera, matched 3D correspondence points, and the rolling
// buffer of consecutive frames the tracker operates on.
package frame

import (
	"github.com/fluidlab/ptv3d/internal/ptv"
)

// Target is a detected 2D particle-image blob in one camera, one frame.
// Detection itself is external; targets arrive from per-camera target
// files. Pnr is the index of the correspondence point that claimed this
// target, or ptv.CorresNone.
type Target struct {
	ID   int     // detection-order identifier within the camera's frame
	X, Y float64 // pixel coordinates
	N    int     // pixel count
	Nx   int     // x extent, pixels
	Ny   int     // y extent, pixels
	SumG int     // grey value sum
	Pnr  int     // claiming correspondence point, or CorresNone
}

// CorrespondencePoint is a triangulated 3D particle position together
// with the per-camera target indices that produced it. Immutable once
// committed to a Frame.
type CorrespondencePoint struct {
	Pos [3]float64

	// TargetIx[cam] is the index into the frame's per-camera target list,
	// or ptv.CorresNone for a camera that did not contribute.
	TargetIx [ptv.MaxCams]int

	NCams int     // number of contributing cameras (2..MaxCams)
	Corr  float64 // accumulated match quality
}

// NewCorrespondencePoint returns a point with every camera slot empty.
func NewCorrespondencePoint(pos [3]float64) CorrespondencePoint {
	p := CorrespondencePoint{Pos: pos}
	for i := range p.TargetIx {
		p.TargetIx[i] = ptv.CorresNone
	}
	return p
}

// Frame is the per-frame collection of targets from every camera plus the
// matched 3D points derived from them.
type Frame struct {
	Num     int
	Targets [][]Target // per camera, detection order
	Points  []CorrespondencePoint
}

// NewFrame allocates an empty frame for the given number of cameras.
func NewFrame(num, numCams int) *Frame {
	return &Frame{
		Num:     num,
		Targets: make([][]Target, numCams),
	}
}

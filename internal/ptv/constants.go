// Package ptv holds the shared constants and error taxonomy for the
// particle tracking velocimetry pipeline.
//
// The constants mirror the limits the persisted file formats were designed
// around; changing them changes the on-disk contract, so they are fixed at
// compile time rather than configurable.
package ptv

const (
	// MaxCams is the maximum number of cameras in a rig.
	MaxCams = 4

	// MaxTargets is the maximum number of detected targets per camera per
	// frame. A frame exceeding this fails with OverCapacityError.
	MaxTargets = 20000

	// BufSpace is the number of frames the rolling tracking buffer holds.
	BufSpace = 4

	// CorresNone marks a target that no correspondence point has claimed.
	CorresNone = -1

	// NextNone and PrevNone mark the absence of a forward or backward link
	// in the persisted linkage files.
	NextNone = -1
	PrevNone = -1

	// PtUnused marks an unused particle slot in legacy-format records.
	PtUnused = -999

	// CoordUnused marks an unavailable coordinate value.
	CoordUnused = -999.0
)

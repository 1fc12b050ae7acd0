package ptv

import "fmt"

// The pipeline distinguishes fatal configuration/sequencing errors, which
// abort a run before or at the offending step, from recoverable per-point
// conditions (no correspondence, no link), which are absorbed inside the
// gating logic and only surface as reduced counts in the persisted output.
// Only the fatal conditions get error types.

// ConfigMismatchError reports an inconsistency between the declared camera
// count and the supplied calibrations. Fatal before any frame is processed.
type ConfigMismatchError struct {
	Declared int // camera count from control parameters
	Supplied int // calibration objects actually provided
}

func (e *ConfigMismatchError) Error() string {
	return fmt.Sprintf("configuration mismatch: control parameters declare %d cameras, %d calibrations supplied",
		e.Declared, e.Supplied)
}

// OverCapacityError reports a camera whose per-frame target list exceeds
// MaxTargets. Fatal for the run.
type OverCapacityError struct {
	Cam   int
	Count int
}

func (e *OverCapacityError) Error() string {
	return fmt.Sprintf("over capacity: camera %d has %d targets (max %d)", e.Cam, e.Count, MaxTargets)
}

// SequenceError reports a frame fed to the rolling buffer out of numeric
// order. Fatal; this is a programming or configuration error.
type SequenceError struct {
	Want int
	Got  int
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("sequence error: expected frame %d, got %d", e.Want, e.Got)
}

// MissingFrameDataError reports an absent or malformed input/linkage file
// for a required frame. Fatal: downstream frames depend on it.
type MissingFrameDataError struct {
	Frame int
	Path  string
	Err   error
}

func (e *MissingFrameDataError) Error() string {
	return fmt.Sprintf("missing frame data for frame %d (%s): %v", e.Frame, e.Path, e.Err)
}

func (e *MissingFrameDataError) Unwrap() error { return e.Err }

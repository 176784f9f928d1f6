// Package features maintains the sliding window's sparse feature map: per-feature observation
// history, triangulation, anchor-frame bookkeeping across window slides, and the parallax policy
// that decides between the MARG_OLD and MARG_SECOND_NEW slide.
package features

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"go.viam.com/vio/spatialmath"
)

// SolveFlag records whether a feature's inverse depth has been estimated by the optimizer.
type SolveFlag int

const (
	// Unestimated means the feature has no depth yet.
	Unestimated SolveFlag = iota
	// Estimated means the optimizer has solved for the feature's inverse depth.
	Estimated
	// Rejected means the feature was tagged for removal by outlier rejection or a failed
	// re-anchoring and must not be handed to the optimizer.
	Rejected
)

// Observation is one frame's sighting of a feature: a bearing on the main camera, an optional
// bearing on a stereo right camera, the pixel-plane location (for outlier rejection in pixel
// units) and pixel velocity, and this observation's time offset from the frame timestamp.
type Observation struct {
	Bearing       r3.Vector
	HasStereo     bool
	StereoBearing r3.Vector
	Pixel         r2.Point
	PixelVelocity r2.Point
	TimeOffset    float64
}

// CameraObservation is one (camera_id, observation) pair as produced by the external tracker for
// a single feature in a single frame.
type CameraObservation struct {
	CameraID      int
	Bearing       r3.Vector
	Pixel         r2.Point
	PixelVelocity r2.Point
	TimeOffset    float64
}

// Frame is the tracker's per-image output: feature_id -> observations across camera(s).
type Frame map[int][]CameraObservation

// Feature is the window's per-feature bookkeeping, keyed by feature_id in the owning Manager.
type Feature struct {
	ID           int
	StartFrame   int
	MainCam      int
	Observations []Observation
	InverseDepth float64
	Solve        SolveFlag
}

// Depth returns the feature's depth (reciprocal of InverseDepth), or 0 if unestimated or the
// stored inverse depth is non-positive.
func (f *Feature) Depth() float64 {
	if f.Solve != Estimated || f.InverseDepth <= 0 {
		return 0
	}
	return 1 / f.InverseDepth
}

// endFrame returns the last window slot at which this feature is observed.
func (f *Feature) endFrame() int {
	return f.StartFrame + len(f.Observations) - 1
}

// observedAt reports whether the feature has an observation at window slot.
func (f *Feature) observedAt(slot int) bool {
	return slot >= f.StartFrame && slot <= f.endFrame()
}

// at returns the observation recorded at window slot.
func (f *Feature) at(slot int) Observation {
	return f.Observations[slot-f.StartFrame]
}

// Pose is a minimal alias so this package's public signatures read naturally; it is exactly
// spatialmath.Pose.
type Pose = spatialmath.Pose

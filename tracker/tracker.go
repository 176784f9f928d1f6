// Package tracker implements the default CPU tracker satisfying spec.md §6's tracker contract:
// `track_image(t, img_left, img_right) -> FeatureFrame`, `set_prediction`, and
// `read_intrinsic_parameter`. Feature tracking/undistortion are out of the estimator's core
// scope (spec.md §1); this package is the concrete collaborator the core consumes through the
// Tracker interface, never dispatched on directly by the estimator. Grounded on the teacher's
// `vision/keypoints` (FAST/ORB corner detection, grid-based keypoint spacing) and
// `vision/odometry/motionestimation.go` (per-feature pixel bookkeeping across frames).
package tracker

import (
	"context"
	"image"

	"github.com/golang/geo/r2"

	"go.viam.com/vio/features"
)

// Tracker is the capability interface the estimator consumes for per-frame feature extraction.
// CPU is the only implementation in this package; there is no GPU-accelerated variant. The core
// never sees which implementation it holds.
type Tracker interface {
	// TrackImage extracts and tracks features in one (possibly stereo) frame, returning the
	// feature frame the estimator's feature manager will ingest.
	TrackImage(ctx context.Context, t float64, left, right *image.Gray) (features.Frame, error)
	// SetPrediction gives the tracker a hint of where each feature is expected to appear in the
	// next frame's main camera, keyed by feature_id, e.g. from IMU-predicted rotation.
	SetPrediction(predict map[int]r2.Point)
	// ReadIntrinsicParameter (re)initializes the tracker's per-camera intrinsics from a list of
	// calibration file paths, one per camera, in camera-index order.
	ReadIntrinsicParameter(paths []string) error
}

// Config holds the tracker's tunables, named after spec.md §6's configuration enumeration.
type Config struct {
	MaxCnt   int     // MAX_CNT: maximum features tracked per frame
	MinDist  float64 // MIN_DIST: minimum pixel spacing enforced between tracked features
	FlowBack bool    // FLOW_BACK: forward-backward consistency check on tracked features
	Stereo   bool
}

// DefaultConfig returns the spec's documented tracker defaults.
func DefaultConfig() Config {
	return Config{MaxCnt: 150, MinDist: 30, FlowBack: true, Stereo: true}
}

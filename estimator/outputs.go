package estimator

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/vio/pointcloud"
)

// Odometry is the fast-forward-rate published pose/velocity estimate (spec.md §6 "odometry").
type Odometry struct {
	T float64
	P r3.Vector
	Q quat.Number
	V r3.Vector
}

// Keyframe is the image-rate published slot-W pose and its associated feature ids (spec.md §6
// "keyframe").
type Keyframe struct {
	T          float64
	P          r3.Vector
	Q          quat.Number
	FeatureIDs []int
}

// CameraPose publishes one camera's current extrinsic (spec.md §6 "camera_pose").
type CameraPose struct {
	CameraID int
	TIC      r3.Vector
	RIC      quat.Number
}

// Bias publishes the current window-edge IMU bias estimate (spec.md §6 "bias").
type Bias struct {
	T  float64
	Ba r3.Vector
	Bg r3.Vector
}

// TF publishes the body-in-world transform (spec.md §6 "tf"); identical payload shape to
// Odometry's pose fields but kept distinct since a transport may frame it differently.
type TF struct {
	T float64
	P r3.Vector
	Q quat.Number
}

// StepOutputs bundles everything one ProcessImage call publishes, for the pipeline to fan out
// onto the Estimator's external channels.
type StepOutputs struct {
	Odometry    Odometry
	Keyframe    Keyframe
	CameraPoses []CameraPose
	PointCloud  pointcloud.PointCloud
	TF          TF
	Bias        Bias
	Initialized bool
}

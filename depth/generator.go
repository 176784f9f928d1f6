package depth

import (
	"image"

	"go.viam.com/vio/cameramodel"
	"go.viam.com/vio/logging"
	"go.viam.com/vio/pointcloud"
	"go.viam.com/vio/spatialmath"
)

// Generator produces a world-frame point cloud from a stereo image pair and the pose the
// measurement pipeline attached to the frame that pair was captured at, per spec.md §4.7. It
// performs one-time rectification table setup at construction, then runs remap, disparity, and
// back-projection per call to Process.
type Generator struct {
	left, right cameramodel.Model
	rect        RectificationResult
	dispCfg     DisparityConfig
	backCfg     BackprojectConfig
	logger      logging.Logger

	mapLeft, mapRight remapTable
}

// NewGenerator builds a Generator from the stereo pair's camera models and the right-to-left
// extrinsic pose. The camera models must be pinhole (cameramodel.Pinhole); fisheye stereo depth
// is out of scope, matching spec.md's depth-generation Non-goals for non-pinhole rigs.
func NewGenerator(left, right *cameramodel.Pinhole, rightToLeft *spatialmath.Pose, logger logging.Logger) *Generator {
	if logger == nil {
		logger = logging.NewBlankLogger("vio.depth")
	}
	leftIntr := Intrinsics{Fx: left.Fx, Fy: left.Fy, Cx: left.Cx, Cy: left.Cy, Width: left.Width, Height: left.Height}
	rightIntr := Intrinsics{Fx: right.Fx, Fy: right.Fy, Cx: right.Cx, Cy: right.Cy, Width: right.Width, Height: right.Height}
	rect := Rectify(leftIntr, rightIntr, rightToLeft)

	g := &Generator{
		left: left, right: right,
		rect: rect, dispCfg: DefaultDisparityConfig(), backCfg: DefaultBackprojectConfig(),
		logger: logger,
	}
	g.mapLeft = buildRemapTable(left, g.rect.R1, g.rect.P1, left.Width, left.Height)
	g.mapRight = buildRemapTable(right, g.rect.R2, g.rect.P2, right.Width, right.Height)
	return g
}

// SetDisparityConfig overrides the default block-matching parameters.
func (g *Generator) SetDisparityConfig(cfg DisparityConfig) { g.dispCfg = cfg }

// SetBackprojectConfig overrides the default z-range/stride.
func (g *Generator) SetBackprojectConfig(cfg BackprojectConfig) { g.backCfg = cfg }

// Process rectifies leftImg/rightImg, computes disparity, and back-projects into worldPose's
// frame, returning the resulting point cloud.
func (g *Generator) Process(leftImg, rightImg *image.Gray, worldPose *spatialmath.Pose) pointcloud.PointCloud {
	rectLeft := remapGray(leftImg, g.mapLeft)
	rectRight := remapGray(rightImg, g.mapRight)
	disp := Disparity(rectLeft, rectRight, g.dispCfg)
	return Backproject(disp, g.rect.Q, worldPose, g.backCfg)
}

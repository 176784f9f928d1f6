package optimizer

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/vio/marginalize"
	"go.viam.com/vio/spatialmath"
)

// poseFromAmbient7 reconstructs a Pose from a ParamBlock's 7-value ambient representation
// (translation xyz, quaternion wxyz).
func poseFromAmbient7(v []float64) *spatialmath.Pose {
	q := quat.Number{Real: v[3], Imag: v[4], Jmag: v[5], Kmag: v[6]}
	return spatialmath.NewPoseFromQuaternion(r3.Vector{X: v[0], Y: v[1], Z: v[2]}, q)
}

// normalizedPlane projects a bearing onto its z=1 normalized image plane.
func normalizedPlane(v r3.Vector) (float64, float64) {
	if v.Z == 0 {
		return v.X, v.Y
	}
	return v.X / v.Z, v.Y / v.Z
}

// ReprojectionKind selects which of spec.md §4.4's three reprojection-residual shapes a
// ReprojectionSpec describes.
type ReprojectionKind int

const (
	// MonoTwoFrame is the two-frame, one-camera residual: main-cam observation at a slot other
	// than the feature's anchor.
	MonoTwoFrame ReprojectionKind = iota
	// StereoTwoFrame is the two-frame, two-camera residual: right-cam observation at a slot
	// other than the anchor.
	StereoTwoFrame
	// StereoOneFrame is the one-frame, two-camera residual: right-cam observation at the
	// anchor slot itself.
	StereoOneFrame
)

// ReprojectionSpec names every block and observed quantity one reprojection residual needs.
type ReprojectionSpec struct {
	Kind         ReprojectionKind
	FeatureID    int
	AnchorSlot   int
	ObsSlot      int // equals AnchorSlot for StereoOneFrame
	AnchorBearing r3.Vector
	ObsBearing   r3.Vector // main-cam bearing (MonoTwoFrame) or stereo-cam bearing (Stereo*)
	MainCam      int       // camera index the anchor bearing was observed on, usually 0
	StereoCam    int       // camera index the stereo bearing was observed on, usually 1
}

// NewReprojectionResidual builds the numerically-differentiated residual for one feature
// observation pair, weighted by precision = focalLength/1.5, per spec.md §4.4. The residual is
// the 2-D normalized-plane error, or, when fisheye is set, the 3-D difference between normalized
// (unit-sphere) bearings — a normalized-plane residual degenerates as a fisheye bearing's Z
// approaches zero, which happens well within its field of view.
func NewReprojectionResidual(spec ReprojectionSpec, get func(marginalize.BlockID) []float64, focalLength, huberDelta float64, fisheye bool) marginalize.Residual {
	precision := focalLength / 1.5
	dim := 2
	if fisheye {
		dim = 3
	}
	sqrtInfo := mat.NewDense(dim, dim, nil)
	for i := 0; i < dim; i++ {
		sqrtInfo.Set(i, i, precision)
	}

	var blocks []marginalize.BlockID
	switch spec.Kind {
	case MonoTwoFrame:
		blocks = []marginalize.BlockID{
			marginalize.PoseBlock(spec.AnchorSlot),
			marginalize.PoseBlock(spec.ObsSlot),
			marginalize.ExtrinsicBlock(spec.MainCam),
			marginalize.FeatureBlock(spec.FeatureID),
		}
	case StereoTwoFrame:
		blocks = []marginalize.BlockID{
			marginalize.PoseBlock(spec.AnchorSlot),
			marginalize.PoseBlock(spec.ObsSlot),
			marginalize.ExtrinsicBlock(spec.MainCam),
			marginalize.ExtrinsicBlock(spec.StereoCam),
			marginalize.FeatureBlock(spec.FeatureID),
		}
	case StereoOneFrame:
		blocks = []marginalize.BlockID{
			marginalize.PoseBlock(spec.AnchorSlot),
			marginalize.ExtrinsicBlock(spec.MainCam),
			marginalize.ExtrinsicBlock(spec.StereoCam),
			marginalize.FeatureBlock(spec.FeatureID),
		}
	}

	eval := func(ambient [][]float64) []float64 {
		return evaluateReprojection(spec, ambient, fisheye)
	}

	return newNumericResidual(blocks, get, eval, sqrtInfo, huberDelta)
}

func evaluateReprojection(spec ReprojectionSpec, ambient [][]float64, fisheye bool) []float64 {
	var anchorPose, obsPose, tic0, tic1 *spatialmath.Pose
	var invDepth float64

	switch spec.Kind {
	case MonoTwoFrame:
		anchorPose = poseFromAmbient7(ambient[0])
		obsPose = poseFromAmbient7(ambient[1])
		tic0 = poseFromAmbient7(ambient[2])
		invDepth = ambient[3][0]
	case StereoTwoFrame:
		anchorPose = poseFromAmbient7(ambient[0])
		obsPose = poseFromAmbient7(ambient[1])
		tic0 = poseFromAmbient7(ambient[2])
		tic1 = poseFromAmbient7(ambient[3])
		invDepth = ambient[4][0]
	case StereoOneFrame:
		anchorPose = poseFromAmbient7(ambient[0])
		obsPose = anchorPose
		tic0 = poseFromAmbient7(ambient[1])
		tic1 = poseFromAmbient7(ambient[2])
		invDepth = ambient[3][0]
	}

	if invDepth == 0 {
		if fisheye {
			return []float64{0, 0, 0}
		}
		return []float64{0, 0}
	}
	depth := 1 / invDepth

	pointCam0 := spec.AnchorBearing.Normalize().Mul(depth)
	pointBody := tic0.Transform(pointCam0)
	pointWorld := anchorPose.Transform(pointBody)
	pointBodyObs := spatialmath.Invert(obsPose).Transform(pointWorld)

	var pointCamObs r3.Vector
	if spec.Kind == MonoTwoFrame {
		pointCamObs = spatialmath.Invert(tic0).Transform(pointBodyObs)
	} else {
		pointCamObs = spatialmath.Invert(tic1).Transform(pointBodyObs)
	}

	if fisheye {
		diff := pointCamObs.Normalize().Sub(spec.ObsBearing.Normalize())
		return []float64{diff.X, diff.Y, diff.Z}
	}

	px, py := normalizedPlane(pointCamObs)
	ox, oy := normalizedPlane(spec.ObsBearing)
	return []float64{px - ox, py - oy}
}

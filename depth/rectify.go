// Package depth implements the stereo depth generator of spec.md §4.7: one-time stereo
// rectification, per-pair semi-global block matching for disparity, and back-projection of
// disparity into a world-frame point cloud via the odometry pose the measurement pipeline
// supplies. Grounded on the teacher's `rimage/transform` (PinholeCameraIntrinsics, homography/
// bilinear-interpolation remap pattern) and `pointcloud` for the output sink.
package depth

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/vio/spatialmath"
)

// Intrinsics is one rectified-or-not camera's pinhole parameters, used only by the rectification
// math in this file (not the full cameramodel.Model capability interface, since rectification
// needs the raw focal/principal-point numbers rather than a lift/project dispatch).
type Intrinsics struct {
	Fx, Fy, Cx, Cy float64
	Width, Height  int
}

// RectificationResult holds the one-time outputs of stereo rectification: the rotations to apply
// to each camera to align epipolar lines with image rows, the resulting rectified projection
// matrices, and the disparity-to-depth matrix Q.
type RectificationResult struct {
	R1, R2 *spatialmath.Pose // rotation-only poses (zero translation) aligning each camera
	P1, P2 [3][4]float64
	Q      [4][4]float64
}

// Rectify computes standard Bouguet-style stereo rectification from the left/right intrinsics
// and the left-to-right extrinsic (R, t expressed as a Pose mapping right-camera frame into
// left-camera frame), following the same "split the rotation in half, align the new x-axis with
// the baseline" construction OpenCV's cv::stereoRectify and most VIO stereo front-ends use.
func Rectify(left, right Intrinsics, rightToLeft *spatialmath.Pose) RectificationResult {
	q := rightToLeft.Orientation().Quaternion()
	halfQ := halfRotation(q)
	rect := rectifyingRotation(halfQ, rightToLeft.Point())

	r1 := spatialmath.NewPoseFromQuaternion(r3.Vector{}, quat.Mul(rect, quat.Conj(halfQ)))
	r2 := spatialmath.NewPoseFromQuaternion(r3.Vector{}, quat.Mul(rect, halfQ))

	// Rectified focal length: the average of the two cameras', as Bouguet's method does to keep
	// a single shared Q matrix valid for both rectified images.
	f := 0.5 * (left.Fx + right.Fx)
	cx, cy := left.Cx, left.Cy
	baseline := rotate(rect, rightToLeft.Point()).Norm()

	p1 := [3][4]float64{
		{f, 0, cx, 0},
		{0, f, cy, 0},
		{0, 0, 1, 0},
	}
	p2 := [3][4]float64{
		{f, 0, cx, -f * baseline},
		{0, f, cy, 0},
		{0, 0, 1, 0},
	}

	q4 := [4][4]float64{
		{1, 0, 0, -cx},
		{0, 1, 0, -cy},
		{0, 0, 0, f},
		{0, 0, 1 / baseline, 0},
	}

	return RectificationResult{R1: r1, R2: r2, P1: p1, P2: p2, Q: q4}
}

// halfRotation returns a quaternion q2 such that q2*q2 == q (up to sign), via spherical
// interpolation from identity, splitting the left-to-right rotation evenly between the two
// rectifying rotations so neither camera's rectified frame is favored.
func halfRotation(q quat.Number) quat.Number {
	identity := quat.Number{Real: 1}
	return spatialmath.Slerp(spatialmath.NewQuaternion(identity), spatialmath.NewQuaternion(q), 0.5).Quaternion()
}

// rectifyingRotation builds the rotation that takes the halved left-to-right rotation's baseline
// direction onto the camera x-axis, the defining property of rectified stereo (epipolar lines
// become horizontal image rows).
func rectifyingRotation(halfQ quat.Number, t r3.Vector) quat.Number {
	baseline := rotate(halfQ, t)
	e1 := baseline.Normalize()
	upHint := r3.Vector{X: 0, Y: 0, Z: 1}
	if e1.Cross(upHint).Norm() < 1e-6 {
		upHint = r3.Vector{X: 0, Y: 1, Z: 0}
	}
	e2 := upHint.Cross(e1).Normalize()
	e3 := e1.Cross(e2).Normalize()
	return spatialmath.NewRotationMatrix([]float64{
		e1.X, e1.Y, e1.Z,
		e2.X, e2.Y, e2.Z,
		e3.X, e3.Y, e3.Z,
	}).Quaternion()
}

func rotate(q quat.Number, v r3.Vector) r3.Vector {
	return spatialmath.NewPoseFromQuaternion(r3.Vector{}, q).Transform(v)
}

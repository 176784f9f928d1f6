package spatialmath

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// Pose represents a rigid transform: a translation plus an orientation. Window slots, camera
// extrinsics, and the marginalizer's linearization points are all expressed as Poses.
type Pose struct {
	point       r3.Vector
	orientation Orientation
}

// NewPose builds a Pose from a translation and an orientation.
func NewPose(point r3.Vector, orientation Orientation) *Pose {
	if orientation == nil {
		orientation = NewZeroOrientation()
	}
	return &Pose{point, orientation}
}

// NewZeroPose returns a Pose with zero translation and zero rotation.
func NewZeroPose() *Pose {
	return NewPose(r3.Vector{}, NewZeroOrientation())
}

// NewPoseFromQuaternion builds a Pose directly from a translation and a quat.Number.
func NewPoseFromQuaternion(point r3.Vector, q quat.Number) *Pose {
	return NewPose(point, NewQuaternion(q))
}

// Point returns the translation component of the pose.
func (p *Pose) Point() r3.Vector { return p.point }

// Orientation returns the orientation component of the pose.
func (p *Pose) Orientation() Orientation { return p.orientation }

// Compose returns the pose of `p` applied, then `other` applied on top (other ∘ p): if p maps a
// camera frame to body frame and other maps body to world, Compose(other, p) maps camera to world.
func Compose(other, p *Pose) *Pose {
	rotated := quat.Mul(quat.Mul(other.orientation.Quaternion(), quatFromVec(p.point)), quat.Conj(other.orientation.Quaternion()))
	newPoint := other.point.Add(r3.Vector{X: rotated.Imag, Y: rotated.Jmag, Z: rotated.Kmag})
	newOrient := quat.Mul(other.orientation.Quaternion(), p.orientation.Quaternion())
	return NewPoseFromQuaternion(newPoint, newOrient)
}

// Invert returns the pose that undoes `p`.
func Invert(p *Pose) *Pose {
	qInv := quat.Conj(p.orientation.Quaternion())
	rotated := quat.Mul(quat.Mul(qInv, quatFromVec(p.point)), quat.Conj(qInv))
	return NewPoseFromQuaternion(r3.Vector{X: -rotated.Imag, Y: -rotated.Jmag, Z: -rotated.Kmag}, qInv)
}

// Transform applies the pose to a point expressed in the pose's own frame, returning the point
// expressed in the parent frame: parent_point = R*point + t.
func (p *Pose) Transform(point r3.Vector) r3.Vector {
	q := p.orientation.Quaternion()
	rotated := quat.Mul(quat.Mul(q, quatFromVec(point)), quat.Conj(q))
	return p.point.Add(r3.Vector{X: rotated.Imag, Y: rotated.Jmag, Z: rotated.Kmag})
}

// PoseAlmostEqual reports whether two poses are equal in position and orientation up to tol.
func PoseAlmostEqual(a, b *Pose, tol float64) bool {
	return a.point.Sub(b.point).Norm() <= tol && OrientationAlmostEqual(a.orientation, b.orientation)
}

func quatFromVec(v r3.Vector) quat.Number {
	return quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
}

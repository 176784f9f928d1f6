package spatialmath

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// EulerAngles are three angles (in radians) used to represent the rotation of an object in 3D space.
// Roll is a rotation about the x-axis, pitch about the y-axis and yaw about the z-axis, applied
// in that order about the fixed axes (equivalently, intrinsic yaw-pitch-roll Tait-Bryan angles).
// Euler angles are not used internally by the estimator
// -- they exist for interop with configuration/log formats that prefer them.
type EulerAngles struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// NewEulerAngles returns euler angles representing zero rotation.
func NewEulerAngles() *EulerAngles {
	return &EulerAngles{0, 0, 0}
}

// Quaternion converts euler angles to a quaternion.
func (ea *EulerAngles) Quaternion() quat.Number {
	cr, sr := math.Cos(ea.Roll/2), math.Sin(ea.Roll/2)
	cp, sp := math.Cos(ea.Pitch/2), math.Sin(ea.Pitch/2)
	cy, sy := math.Cos(ea.Yaw/2), math.Sin(ea.Yaw/2)

	return quat.Number{
		Real: cr*cp*cy + sr*sp*sy,
		Imag: sr*cp*cy - cr*sp*sy,
		Jmag: cr*sp*cy + sr*cp*sy,
		Kmag: cr*cp*sy - sr*sp*cy,
	}
}

// OrientationVectorRadians converts euler angles to an orientation vector.
func (ea *EulerAngles) OrientationVectorRadians() *OrientationVector { return QuatToOV(ea.Quaternion()) }

// OrientationVectorDegrees converts euler angles to an orientation vector in degrees.
func (ea *EulerAngles) OrientationVectorDegrees() *OrientationVectorDegrees {
	return QuatToOVD(ea.Quaternion())
}

// AxisAngles converts euler angles to an R4 axis angle.
func (ea *EulerAngles) AxisAngles() *R4AA {
	aa := QuatToR4AA(ea.Quaternion())
	return &aa
}

// EulerAngles returns the receiver.
func (ea *EulerAngles) EulerAngles() *EulerAngles { return ea }

// RotationMatrix converts euler angles to a rotation matrix.
func (ea *EulerAngles) RotationMatrix() *RotationMatrix { return QuatToRotationMatrix(ea.Quaternion()) }

// QuatToEulerAngles converts a quaternion to euler angles.
// See https://en.wikipedia.org/wiki/Conversion_between_quaternions_and_Euler_angles.
func QuatToEulerAngles(q quat.Number) *EulerAngles {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag

	roll := math.Atan2(2*(w*x+y*z), 1-2*(x*x+y*y))
	sinp := 2 * (w*y - z*x)
	var pitch float64
	if math.Abs(sinp) >= 1 {
		pitch = math.Copysign(math.Pi/2, sinp)
	} else {
		pitch = math.Asin(sinp)
	}
	yaw := math.Atan2(2*(w*z+x*y), 1-2*(y*y+z*z))
	return &EulerAngles{roll, pitch, yaw}
}

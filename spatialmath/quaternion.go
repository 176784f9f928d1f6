package spatialmath

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// quaternion is a wrapper around the gonum quat.Number that implements the Orientation interface.
// It is the canonical internal representation of a 3D rotation used throughout this module: the
// window state's per-slot rotation, the IMU pre-integration delta's δq, and the optimizer's pose
// parameterization are all quaternion-backed.
type quaternion quat.Number

// NewQuaternion constructs an Orientation from a raw quat.Number. The caller is responsible for
// passing a unit quaternion; callers that are not sure should call Normalize first.
func NewQuaternion(q quat.Number) Orientation {
	quat := quaternion(q)
	return &quat
}

// Quaternion returns the quaternion representation of the orientation.
func (q *quaternion) Quaternion() quat.Number {
	return quat.Number(*q)
}

// OrientationVectorRadians converts the quaternion to an orientation vector, in radians.
func (q *quaternion) OrientationVectorRadians() *OrientationVector {
	return QuatToOV(quat.Number(*q))
}

// OrientationVectorDegrees converts the quaternion to an orientation vector, in degrees.
func (q *quaternion) OrientationVectorDegrees() *OrientationVectorDegrees {
	return q.OrientationVectorRadians().Degrees()
}

// AxisAngles converts the quaternion to an R4 axis angle.
func (q *quaternion) AxisAngles() *R4AA {
	aa := QuatToR4AA(quat.Number(*q))
	return &aa
}

// EulerAngles converts the quaternion to euler angles.
func (q *quaternion) EulerAngles() *EulerAngles {
	return QuatToEulerAngles(quat.Number(*q))
}

// RotationMatrix converts the quaternion to a 3x3 rotation matrix.
func (q *quaternion) RotationMatrix() *RotationMatrix {
	return QuatToRotationMatrix(quat.Number(*q))
}

// Normalize scales the quaternion in place so that it has unit norm.
func (q *quaternion) Normalize() {
	n := quat.Abs(quat.Number(*q))
	if n == 0 {
		*q = quaternion{1, 0, 0, 0}
		return
	}
	*q = quaternion(quat.Scale(1/n, quat.Number(*q)))
}

// QuaternionAlmostEqual returns whether two quaternions represent approximately the same rotation,
// up to a sign flip (q and -q are the same rotation).
func QuaternionAlmostEqual(a, b quat.Number, tol float64) bool {
	diff := math.Abs(a.Real-b.Real) + math.Abs(a.Imag-b.Imag) + math.Abs(a.Jmag-b.Jmag) + math.Abs(a.Kmag-b.Kmag)
	if diff <= tol {
		return true
	}
	flipped := math.Abs(a.Real+b.Real) + math.Abs(a.Imag+b.Imag) + math.Abs(a.Jmag+b.Jmag) + math.Abs(a.Kmag+b.Kmag)
	return flipped <= tol
}

// QuatToR4AA converts a unit quaternion to an R4 axis angle.
func QuatToR4AA(q quat.Number) R4AA {
	denom := Norm(q)
	angle := 2 * math.Atan2(denom, q.Real)
	if denom < 1e-9 {
		return R4AA{0, 1, 0, 0}
	}
	return R4AA{angle, q.Imag / denom, q.Jmag / denom, q.Kmag / denom}
}

// Norm returns the norm of the imaginary part of the quaternion.
func Norm(q quat.Number) float64 {
	return math.Sqrt(q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
}

// slerp performs spherical linear interpolation between two quaternions, at t in [0, 1].
func slerp(a, b quat.Number, t float64) quat.Number {
	dot := a.Real*b.Real + a.Imag*b.Imag + a.Jmag*b.Jmag + a.Kmag*b.Kmag
	if dot < 0 {
		b = quat.Scale(-1, b)
		dot = -dot
	}
	const threshold = 0.9995
	if dot > threshold {
		lin := quat.Number{
			Real: a.Real + t*(b.Real-a.Real),
			Imag: a.Imag + t*(b.Imag-a.Imag),
			Jmag: a.Jmag + t*(b.Jmag-a.Jmag),
			Kmag: a.Kmag + t*(b.Kmag-a.Kmag),
		}
		return quat.Scale(1/quat.Abs(lin), lin)
	}
	theta0 := math.Acos(dot)
	theta := theta0 * t
	sinTheta := math.Sin(theta)
	sinTheta0 := math.Sin(theta0)
	s0 := math.Cos(theta) - dot*sinTheta/sinTheta0
	s1 := sinTheta / sinTheta0
	return quat.Number{
		Real: s0*a.Real + s1*b.Real,
		Imag: s0*a.Imag + s1*b.Imag,
		Jmag: s0*a.Jmag + s1*b.Jmag,
		Kmag: s0*a.Kmag + s1*b.Kmag,
	}
}

// Slerp performs spherical linear interpolation between two orientations, at t in [0, 1].
func Slerp(a, b Orientation, t float64) Orientation {
	return NewQuaternion(slerp(a.Quaternion(), b.Quaternion(), t))
}

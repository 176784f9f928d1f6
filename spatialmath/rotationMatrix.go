package spatialmath

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/mat"
)

// RotationMatrix is a 3x3 matrix representation of an SO(3) rotation, stored row-major.
// It backs the optimizer's yaw-gauge fixup (§4.4) where pitch-near-gimbal-lock must be detected
// directly from matrix entries rather than from a derived Euler angle.
type RotationMatrix struct {
	data [9]float64
}

// NewRotationMatrix builds a RotationMatrix from nine row-major entries.
func NewRotationMatrix(data []float64) *RotationMatrix {
	var rm RotationMatrix
	copy(rm.data[:], data)
	return &rm
}

// At returns the (row, col) entry of the matrix, 0-indexed.
func (rm *RotationMatrix) At(row, col int) float64 {
	return rm.data[row*3+col]
}

// Dense returns the rotation matrix as a gonum dense matrix, for use in linear-algebra-heavy
// consumers such as the estimator and the initializer's visual-inertial alignment.
func (rm *RotationMatrix) Dense() *mat.Dense {
	return mat.NewDense(3, 3, append([]float64{}, rm.data[:]...))
}

// Quaternion converts the rotation matrix to a quaternion.
func (rm *RotationMatrix) Quaternion() quat.Number {
	m := rm.data
	tr := m[0] + m[4] + m[8]
	var w, x, y, z float64
	switch {
	case tr > 0:
		s := math.Sqrt(tr+1.0) * 2
		w = 0.25 * s
		x = (m[7] - m[5]) / s
		y = (m[2] - m[6]) / s
		z = (m[3] - m[1]) / s
	case m[0] > m[4] && m[0] > m[8]:
		s := math.Sqrt(1.0+m[0]-m[4]-m[8]) * 2
		w = (m[7] - m[5]) / s
		x = 0.25 * s
		y = (m[1] + m[3]) / s
		z = (m[2] + m[6]) / s
	case m[4] > m[8]:
		s := math.Sqrt(1.0+m[4]-m[0]-m[8]) * 2
		w = (m[2] - m[6]) / s
		x = (m[1] + m[3]) / s
		y = 0.25 * s
		z = (m[5] + m[7]) / s
	default:
		s := math.Sqrt(1.0+m[8]-m[0]-m[4]) * 2
		w = (m[3] - m[1]) / s
		x = (m[2] + m[6]) / s
		y = (m[5] + m[7]) / s
		z = 0.25 * s
	}
	return quat.Number{Real: w, Imag: x, Jmag: y, Kmag: z}
}

// OrientationVectorRadians converts the rotation matrix to an orientation vector.
func (rm *RotationMatrix) OrientationVectorRadians() *OrientationVector { return QuatToOV(rm.Quaternion()) }

// OrientationVectorDegrees converts the rotation matrix to an orientation vector in degrees.
func (rm *RotationMatrix) OrientationVectorDegrees() *OrientationVectorDegrees {
	return QuatToOVD(rm.Quaternion())
}

// AxisAngles converts the rotation matrix to an R4 axis angle.
func (rm *RotationMatrix) AxisAngles() *R4AA {
	aa := QuatToR4AA(rm.Quaternion())
	return &aa
}

// EulerAngles converts the rotation matrix to euler angles.
func (rm *RotationMatrix) EulerAngles() *EulerAngles { return QuatToEulerAngles(rm.Quaternion()) }

// RotationMatrix returns the receiver.
func (rm *RotationMatrix) RotationMatrix() *RotationMatrix { return rm }

// Pitch returns the pitch angle (rotation about y) directly from the matrix entries, using the
// standard Tait-Bryan extraction, without round-tripping through a quaternion.
func (rm *RotationMatrix) Pitch() float64 {
	return math.Asin(clamp(-rm.At(2, 0), -1, 1))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// QuatToRotationMatrix converts a unit quaternion to a row-major 3x3 rotation matrix.
func QuatToRotationMatrix(q quat.Number) *RotationMatrix {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return &RotationMatrix{data: [9]float64{
		1 - 2*(y*y+z*z), 2 * (x*y - z*w), 2 * (x*z + y*w),
		2 * (x*y + z*w), 1 - 2*(x*x+z*z), 2 * (y*z - x*w),
		2 * (x*z - y*w), 2 * (y*z + x*w), 1 - 2*(x*x+y*y),
	}}
}

package spatialmath

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
)

const radToDeg = 180 / math.Pi
const degToRad = math.Pi / 180

// OrientationVector contains the same data as an R4AA: a rotation of Theta radians about the
// (OX, OY, OZ) axis, with the same json field names.
type OrientationVector struct {
	Theta float64 `json:"th"`
	OX    float64 `json:"x"`
	OY    float64 `json:"y"`
	OZ    float64 `json:"z"`
}

// OrientationVectorDegrees is an OrientationVector that Marshals/Unmarshals to degrees instead of radians.
type OrientationVectorDegrees struct {
	Theta float64 `json:"th"`
	OX    float64 `json:"x"`
	OY    float64 `json:"y"`
	OZ    float64 `json:"z"`
}

// NewOrientationVector returns an orientation vector representing zero rotation.
func NewOrientationVector() *OrientationVector {
	return &OrientationVector{0, 0, 0, 1}
}

// NewOrientationVectorDegrees returns an orientation vector (in degrees) representing zero rotation.
func NewOrientationVectorDegrees() *OrientationVectorDegrees {
	return &OrientationVectorDegrees{0, 0, 0, 1}
}

// Normalize scales the OX/OY/OZ axis components of the vector to lie on the unit sphere.
func (ov *OrientationVector) Normalize() {
	norm := math.Sqrt(ov.OX*ov.OX + ov.OY*ov.OY + ov.OZ*ov.OZ)
	if norm == 0 {
		ov.OZ = 1
		return
	}
	ov.OX /= norm
	ov.OY /= norm
	ov.OZ /= norm
}

// Quaternion converts the orientation vector to a quaternion.
func (ov *OrientationVector) Quaternion() quat.Number {
	ov2 := *ov
	ov2.Normalize()
	axis := R4AA{ov2.Theta, ov2.OX, ov2.OY, ov2.OZ}
	return axis.ToQuat()
}

// OrientationVectorRadians returns the receiver.
func (ov *OrientationVector) OrientationVectorRadians() *OrientationVector { return ov }

// OrientationVectorDegrees converts the receiver to degrees.
func (ov *OrientationVector) OrientationVectorDegrees() *OrientationVectorDegrees { return ov.Degrees() }

// AxisAngles converts the orientation vector to an R4 axis angle.
func (ov *OrientationVector) AxisAngles() *R4AA {
	ov2 := *ov
	ov2.Normalize()
	return &R4AA{ov2.Theta, ov2.OX, ov2.OY, ov2.OZ}
}

// EulerAngles converts the orientation vector to euler angles.
func (ov *OrientationVector) EulerAngles() *EulerAngles {
	return QuatToEulerAngles(ov.Quaternion())
}

// RotationMatrix converts the orientation vector to a rotation matrix.
func (ov *OrientationVector) RotationMatrix() *RotationMatrix {
	return QuatToRotationMatrix(ov.Quaternion())
}

// Degrees converts an OrientationVector (radians) to an OrientationVectorDegrees.
func (ov *OrientationVector) Degrees() *OrientationVectorDegrees {
	return &OrientationVectorDegrees{ov.Theta * radToDeg, ov.OX, ov.OY, ov.OZ}
}

// Radians converts an OrientationVectorDegrees to an OrientationVector (radians).
func (ovd *OrientationVectorDegrees) Radians() *OrientationVector {
	return &OrientationVector{ovd.Theta * degToRad, ovd.OX, ovd.OY, ovd.OZ}
}

// Quaternion converts the orientation vector (degrees) to a quaternion.
func (ovd *OrientationVectorDegrees) Quaternion() quat.Number { return ovd.Radians().Quaternion() }

// OrientationVectorRadians converts the receiver to radians.
func (ovd *OrientationVectorDegrees) OrientationVectorRadians() *OrientationVector {
	return ovd.Radians()
}

// OrientationVectorDegrees returns the receiver.
func (ovd *OrientationVectorDegrees) OrientationVectorDegrees() *OrientationVectorDegrees { return ovd }

// AxisAngles converts the orientation vector (degrees) to an R4 axis angle.
func (ovd *OrientationVectorDegrees) AxisAngles() *R4AA { return ovd.Radians().AxisAngles() }

// EulerAngles converts the orientation vector (degrees) to euler angles.
func (ovd *OrientationVectorDegrees) EulerAngles() *EulerAngles { return ovd.Radians().EulerAngles() }

// RotationMatrix converts the orientation vector (degrees) to a rotation matrix.
func (ovd *OrientationVectorDegrees) RotationMatrix() *RotationMatrix {
	return ovd.Radians().RotationMatrix()
}

// QuatToOV converts a quaternion to an orientation vector.
func QuatToOV(q quat.Number) *OrientationVector {
	aa := QuatToR4AA(q)
	return &OrientationVector{aa.Theta, aa.RX, aa.RY, aa.RZ}
}

// QuatToOVD converts a quaternion to an orientation vector in degrees.
func QuatToOVD(q quat.Number) *OrientationVectorDegrees {
	return QuatToOV(q).Degrees()
}

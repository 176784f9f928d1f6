package spatialmath

import (
	"math"
	"testing"

	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"
)

var (
	th    = math.Pi / 4.
	q45x  = quat.Number{Real: math.Cos(th / 2.), Imag: math.Sin(th / 2.)}
	aa45x = &R4AA{th, 1., 0., 0.}
	ea45x = &EulerAngles{Roll: th, Pitch: 0, Yaw: 0}
)

func TestZeroOrientation(t *testing.T) {
	zero := NewZeroOrientation()
	test.That(t, zero.Quaternion(), test.ShouldResemble, quat.Number{Real: 1})
	test.That(t, zero.AxisAngles().Theta, test.ShouldAlmostEqual, 0.0)
}

func TestQuaternionRoundTrips(t *testing.T) {
	qq := quaternion(q45x)
	test.That(t, qq.AxisAngles().Theta, test.ShouldAlmostEqual, aa45x.Theta)
	test.That(t, qq.AxisAngles().RX, test.ShouldAlmostEqual, aa45x.RX)
	test.That(t, qq.EulerAngles().Roll, test.ShouldAlmostEqual, ea45x.Roll)
	test.That(t, qq.EulerAngles().Pitch, test.ShouldAlmostEqual, ea45x.Pitch)

	rm := qq.RotationMatrix()
	back := rm.Quaternion()
	test.That(t, QuaternionAlmostEqual(back, quat.Number(qq), 1e-9), test.ShouldBeTrue)
}

func TestEulerAnglesToQuaternion(t *testing.T) {
	q := ea45x.Quaternion()
	test.That(t, QuaternionAlmostEqual(q, q45x, 1e-9), test.ShouldBeTrue)
}

func TestSlerp(t *testing.T) {
	q1 := q45x
	q2 := quat.Conj(q45x)
	s2 := slerp(q1, q2, 0.5)

	test.That(t, s2.Real, test.ShouldAlmostEqual, 1.0, 0.001)
	test.That(t, s2.Imag, test.ShouldAlmostEqual, 0.0, 0.001)
}

func TestOrientationBetween(t *testing.T) {
	a := NewQuaternion(q45x)
	b := NewQuaternion(q45x)
	diff := OrientationBetween(a, b)
	test.That(t, diff.AxisAngles().Theta, test.ShouldAlmostEqual, 0.0, 1e-9)
}

func TestRotationMatrixPitch(t *testing.T) {
	// 90 degree rotation about Y should report pitch near pi/2.
	ov := &OrientationVector{Theta: math.Pi / 2, OX: 0, OY: 1, OZ: 0}
	rm := ov.RotationMatrix()
	test.That(t, math.Abs(rm.Pitch()), test.ShouldBeGreaterThan, math.Pi/2-0.1)
}

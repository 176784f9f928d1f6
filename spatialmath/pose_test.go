package spatialmath

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestPoseComposeInvert(t *testing.T) {
	p := NewPose(r3.Vector{X: 1, Y: 2, Z: 3}, NewQuaternion(q45x))
	inv := Invert(p)
	identity := Compose(p, inv)
	test.That(t, PoseAlmostEqual(identity, NewZeroPose(), 1e-9), test.ShouldBeTrue)
}

func TestPoseTransform(t *testing.T) {
	p := NewPose(r3.Vector{X: 1, Y: 0, Z: 0}, NewZeroOrientation())
	out := p.Transform(r3.Vector{X: 0, Y: 0, Z: 0})
	test.That(t, out, test.ShouldResemble, r3.Vector{X: 1, Y: 0, Z: 0})
}

func TestPoseTransformRotation(t *testing.T) {
	ov := &OrientationVector{Theta: math.Pi / 2, OX: 0, OY: 0, OZ: 1}
	p := NewPose(r3.Vector{}, ov)
	out := p.Transform(r3.Vector{X: 1, Y: 0, Z: 0})
	test.That(t, out.X, test.ShouldAlmostEqual, 0.0, 1e-9)
	test.That(t, out.Y, test.ShouldAlmostEqual, 1.0, 1e-9)
}

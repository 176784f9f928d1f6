package cameramodel

import (
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestPinholeLiftProjectRoundTrip(t *testing.T) {
	p := NewPinhole(640, 480, 400, 400, 320, 240, nil)
	pixel := r2.Point{X: 400, Y: 300}
	bearing := p.Lift(pixel)
	test.That(t, bearing.Z, test.ShouldEqual, 1.0)

	back := p.Project(bearing.Mul(3))
	test.That(t, back.X, test.ShouldAlmostEqual, pixel.X, 1e-9)
	test.That(t, back.Y, test.ShouldAlmostEqual, pixel.Y, 1e-9)
}

func TestPinholeDistortionRoundTrip(t *testing.T) {
	p := NewPinhole(640, 480, 400, 400, 320, 240, NewBrownConrady([]float64{-0.2, 0.05, 0, 0, 0}))
	pixel := r2.Point{X: 450, Y: 280}
	bearing := p.Lift(pixel)
	back := p.Project(bearing)
	test.That(t, back.X, test.ShouldAlmostEqual, pixel.X, 1e-6)
	test.That(t, back.Y, test.ShouldAlmostEqual, pixel.Y, 1e-6)
}

func TestFisheyeLiftIsUnitBearing(t *testing.T) {
	f := NewFisheye(640, 480, 300, 300, 320, 240, [4]float64{})
	b := f.Lift(r2.Point{X: 500, Y: 260})
	test.That(t, b.Norm(), test.ShouldAlmostEqual, 1.0, 1e-9)
}

func TestFisheyeProjectLiftRoundTrip(t *testing.T) {
	f := NewFisheye(640, 480, 300, 300, 320, 240, [4]float64{})
	bearing := r3.Vector{X: 0.3, Y: -0.2, Z: 0.9}.Normalize()
	pixel := f.Project(bearing)
	back := f.Lift(pixel)
	test.That(t, back.X, test.ShouldAlmostEqual, bearing.X, 1e-6)
	test.That(t, back.Y, test.ShouldAlmostEqual, bearing.Y, 1e-6)
	test.That(t, back.Z, test.ShouldAlmostEqual, bearing.Z, 1e-6)
}

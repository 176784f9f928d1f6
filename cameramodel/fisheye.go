package cameramodel

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

// Fisheye is an equidistant ("f*theta") fisheye camera model, used when Config.Fisheye is set
// (spec.md §6). Bearings it lifts are true unit vectors rather than a z=1 normalized-plane ray,
// since a fisheye's field of view can exceed 180 degrees and has no well-defined normalized
// plane; optimizer residuals against fisheye observations use the unit-sphere form spec.md §4.4
// describes for this case.
type Fisheye struct {
	Width, Height int
	Fx, Fy        float64
	Cx, Cy        float64
	// K are the equidistant distortion coefficients (k1..k4) applied to theta, following the
	// Kannala-Brandt family the teacher's camera-system code assumes for wide-angle lenses.
	K [4]float64
}

// NewFisheye builds a Fisheye model.
func NewFisheye(width, height int, fx, fy, cx, cy float64, k [4]float64) *Fisheye {
	return &Fisheye{Width: width, Height: height, Fx: fx, Fy: fy, Cx: cx, Cy: cy, K: k}
}

// ImageSize returns the calibrated image resolution.
func (f *Fisheye) ImageSize() (int, int) { return f.Width, f.Height }

// Lift returns the unit bearing a fisheye pixel corresponds to, inverting the equidistant
// r(theta) = theta*(1 + k1*theta^2 + k2*theta^4 + k3*theta^6 + k4*theta^8) model via Newton's
// method on theta, then rotating that theta about the pixel's azimuth.
func (f *Fisheye) Lift(pixel r2.Point) r3.Vector {
	x := (pixel.X - f.Cx) / f.Fx
	y := (pixel.Y - f.Cy) / f.Fy
	r := math.Hypot(x, y)
	if r < 1e-12 {
		return r3.Vector{X: 0, Y: 0, Z: 1}
	}
	theta := f.solveTheta(r)
	scale := math.Sin(theta) / r
	return r3.Vector{X: x * scale, Y: y * scale, Z: math.Cos(theta)}
}

func (f *Fisheye) solveTheta(r float64) float64 {
	theta := r // initial guess: undistorted
	for i := 0; i < 10; i++ {
		t2 := theta * theta
		rTheta := theta * (1 + f.K[0]*t2 + f.K[1]*t2*t2 + f.K[2]*t2*t2*t2 + f.K[3]*t2*t2*t2*t2)
		dr := 1 + 3*f.K[0]*t2 + 5*f.K[1]*t2*t2 + 7*f.K[2]*t2*t2*t2 + 9*f.K[3]*t2*t2*t2*t2
		if dr == 0 {
			break
		}
		theta -= (rTheta - r) / dr
	}
	return theta
}

// Project maps a camera-frame point to a fisheye pixel via the forward equidistant model.
func (f *Fisheye) Project(point r3.Vector) r2.Point {
	norm := point.Norm()
	if norm == 0 {
		return r2.Point{X: f.Cx, Y: f.Cy}
	}
	theta := math.Acos(clampCos(point.Z / norm))
	rxy := math.Hypot(point.X, point.Y)
	if rxy < 1e-12 {
		return r2.Point{X: f.Cx, Y: f.Cy}
	}
	t2 := theta * theta
	rTheta := theta * (1 + f.K[0]*t2 + f.K[1]*t2*t2 + f.K[2]*t2*t2*t2 + f.K[3]*t2*t2*t2*t2)
	scale := rTheta / rxy
	return r2.Point{X: point.X*scale*f.Fx + f.Cx, Y: point.Y*scale*f.Fy + f.Cy}
}

func clampCos(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

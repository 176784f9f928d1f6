package cameramodel

import "math"

// BrownConrady is the radial/tangential lens distortion model used by most pinhole cameras,
// grounded on the teacher's `rimage/transform.InverseBrownConrady` (same five coefficients, same
// iterative undistort approach, here a fixed-point iteration).
type BrownConrady struct {
	RadialK1, RadialK2, RadialK3   float64
	TangentialP1, TangentialP2     float64
}

// NewBrownConrady builds a BrownConrady model from up to 5 coefficients (k1, k2, p1, p2, k3),
// filling any missing trailing coefficients with zero, matching the teacher's constructor.
func NewBrownConrady(coeffs []float64) *BrownConrady {
	c := make([]float64, 5)
	copy(c, coeffs)
	return &BrownConrady{RadialK1: c[0], RadialK2: c[1], TangentialP1: c[2], TangentialP2: c[3], RadialK3: c[4]}
}

// Distort applies the forward Brown-Conrady model to a normalized-plane point.
func (d *BrownConrady) Distort(x, y float64) (float64, float64) {
	r2v := x*x + y*y
	radial := 1 + d.RadialK1*r2v + d.RadialK2*r2v*r2v + d.RadialK3*r2v*r2v*r2v
	xTangential := 2*d.TangentialP1*x*y + d.TangentialP2*(r2v+2*x*x)
	yTangential := d.TangentialP1*(r2v+2*y*y) + 2*d.TangentialP2*x*y
	return x*radial + xTangential, y*radial + yTangential
}

// Undistort inverts Distort via 20 steps of fixed-point iteration, starting
// from the distorted point itself as is standard practice for small distortions.
func (d *BrownConrady) Undistort(x, y float64) (float64, float64) {
	ux, uy := x, y
	const iterations = 20
	for i := 0; i < iterations; i++ {
		dx, dy := d.Distort(ux, uy)
		ux -= dx - x
		uy -= dy - y
	}
	return ux, uy
}

// clampUnit guards against NaN/Inf creeping into a normalized bearing under pathological
// distortion coefficients.
func clampUnit(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

package cameramodel

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

// Pinhole is the standard pinhole-plus-distortion camera model, grounded on the teacher's
// `rimage/transform.PinholeCameraIntrinsics`/`PinholeCameraModel`.
type Pinhole struct {
	Width, Height int
	Fx, Fy        float64
	Cx, Cy        float64
	Distortion    Distortion
}

// NewPinhole builds a Pinhole model. A nil distortion is treated as NoDistortion.
func NewPinhole(width, height int, fx, fy, cx, cy float64, distortion Distortion) *Pinhole {
	if distortion == nil {
		distortion = NoDistortion{}
	}
	return &Pinhole{Width: width, Height: height, Fx: fx, Fy: fy, Cx: cx, Cy: cy, Distortion: distortion}
}

// ImageSize returns the calibrated image resolution.
func (p *Pinhole) ImageSize() (int, int) { return p.Width, p.Height }

// Lift undistorts pixel and returns the corresponding camera-frame ray with z=1 (a projective
// ray, not unit length, matching spec.md §6's "projective ray in camera frame").
func (p *Pinhole) Lift(pixel r2.Point) r3.Vector {
	x := (pixel.X - p.Cx) / p.Fx
	y := (pixel.Y - p.Cy) / p.Fy
	ux, uy := p.Distortion.Undistort(x, y)
	return r3.Vector{X: clampUnit(ux), Y: clampUnit(uy), Z: 1}
}

// Project distorts and projects a camera-frame point to a pixel.
func (p *Pinhole) Project(point r3.Vector) r2.Point {
	if point.Z == 0 {
		return r2.Point{X: p.Cx, Y: p.Cy}
	}
	x, y := point.X/point.Z, point.Y/point.Z
	dx, dy := p.Distortion.Distort(x, y)
	return r2.Point{X: dx*p.Fx + p.Cx, Y: dy*p.Fy + p.Cy}
}

// Package cameramodel implements the camera-model contract the estimator consumes (spec.md §6):
// `lift(pixel) -> bearing`, `project(point) -> pixel`, and `image_size() -> (w, h)`. The core
// never dispatches on the concrete model; it only calls through the Model interface, grounded on
// the teacher's `rimage/transform.PinholeCameraModel`/`Distorter` dynamic-dispatch shape.
package cameramodel

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

// Model is the capability interface the estimator consumes for each camera. Pinhole and fisheye
// variants implement it identically from the core's point of view (spec.md §9's "dynamic
// dispatch... the core never sees the variant").
type Model interface {
	// Lift returns the projective ray (in camera frame, not necessarily unit length) that a
	// pixel observation corresponds to.
	Lift(pixel r2.Point) r3.Vector
	// Project returns the pixel a 3-D point (in camera frame) projects to.
	Project(point r3.Vector) r2.Point
	// ImageSize returns the camera's (width, height) in pixels.
	ImageSize() (int, int)
}

// Distortion is the radial/tangential distortion model applied on top of the linear pinhole
// projection, mirroring the teacher's `rimage/transform.Distorter` interface.
type Distortion interface {
	// Distort maps an undistorted normalized-plane point to its distorted counterpart.
	Distort(x, y float64) (float64, float64)
	// Undistort maps a distorted normalized-plane point back to its undistorted counterpart,
	// via iterative refinement (mirroring InverseBrownConrady's Newton-Raphson approach).
	Undistort(x, y float64) (float64, float64)
}

// NoDistortion is the identity Distortion, used by cameras calibrated without a distortion model.
type NoDistortion struct{}

// Distort is the identity transform.
func (NoDistortion) Distort(x, y float64) (float64, float64) { return x, y }

// Undistort is the identity transform.
func (NoDistortion) Undistort(x, y float64) (float64, float64) { return x, y }

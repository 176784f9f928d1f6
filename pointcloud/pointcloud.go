// Package pointcloud defines a point cloud and provides a sparse, map-backed implementation.
// It backs the stereo depth generator's per-frame output (spec §4.7) and the "point_cloud" and
// "depth_cloud" published streams (spec §6).
package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
)

// MetaData is data about what's stored in a PointCloud: whether any point carries color/value
// data, and the axis-aligned bounding box of all points currently in the cloud.
type MetaData struct {
	HasColor bool
	HasValue bool

	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64
}

// NewMetaData returns an empty MetaData with the bounding box inverted so that the first Merge
// call establishes real bounds.
func NewMetaData() MetaData {
	return MetaData{
		MinX: math.MaxFloat64,
		MinY: math.MaxFloat64,
		MinZ: math.MaxFloat64,
		MaxX: -math.MaxFloat64,
		MaxY: -math.MaxFloat64,
		MaxZ: -math.MaxFloat64,
	}
}

// Merge folds a newly-set point into the running metadata.
func (meta *MetaData) Merge(p r3.Vector, data Data) {
	if data != nil {
		if data.HasColor() {
			meta.HasColor = true
		}
		if data.HasValue() {
			meta.HasValue = true
		}
	}

	if p.X > meta.MaxX {
		meta.MaxX = p.X
	}
	if p.Y > meta.MaxY {
		meta.MaxY = p.Y
	}
	if p.Z > meta.MaxZ {
		meta.MaxZ = p.Z
	}
	if p.X < meta.MinX {
		meta.MinX = p.X
	}
	if p.Y < meta.MinY {
		meta.MinY = p.Y
	}
	if p.Z < meta.MinZ {
		meta.MinZ = p.Z
	}
}

// PointCloud is a general purpose container of 3-D points, optionally carrying per-point color or
// a scalar value. The basic implementation is a sparse map keyed by position.
type PointCloud interface {
	// Size returns the number of points in the cloud.
	Size() int

	// MetaData returns the bounding box and color/value presence flags.
	MetaData() MetaData

	// Set places the given point in the cloud.
	Set(p r3.Vector, d Data) error

	// Unset removes the point at the given position, if present.
	Unset(x, y, z float64)

	// At returns the data at the given position, if a point exists there.
	At(x, y, z float64) (Data, bool)

	// Iterate calls fn for every point in the cloud; if fn returns false, iteration stops early.
	// numBatches > 0 restricts iteration to the myBatch-th of numBatches roughly-equal shards.
	Iterate(numBatches, myBatch int, fn func(p r3.Vector, d Data) bool)
}

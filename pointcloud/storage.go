package pointcloud

import (
	"github.com/golang/geo/r3"
)

// PointAndData pairs a position with its associated Data, for storage and iteration.
type PointAndData struct {
	Point r3.Vector
	Data  Data
}

// storage is the backing store used by basicPointCloud. It is kept as an interface so that
// denser storage strategies (e.g. a voxel grid) could later be swapped in without touching the
// PointCloud API.
type storage interface {
	Size() int
	Set(p r3.Vector, d Data) error
	Unset(x, y, z float64)
	At(x, y, z float64) (Data, bool)
	Iterate(numBatches, myBatch int, fn func(p r3.Vector, d Data) bool)
}

// matrixStorage is a flat slice of points plus an index from position to slice offset, which
// keeps Iterate cache-friendly for the depth generator's per-frame rebuild-from-scratch pattern
// (a whole cloud is Set once per frame and never densely updated in place).
type matrixStorage struct {
	points   []PointAndData
	indexMap map[r3.Vector]uint
}

func (s *matrixStorage) Size() int {
	return len(s.points)
}

func (s *matrixStorage) Set(p r3.Vector, d Data) error {
	if idx, ok := s.indexMap[p]; ok {
		s.points[idx].Data = d
		return nil
	}
	s.indexMap[p] = uint(len(s.points))
	s.points = append(s.points, PointAndData{Point: p, Data: d})
	return nil
}

func (s *matrixStorage) Unset(x, y, z float64) {
	p := r3.Vector{X: x, Y: y, Z: z}
	idx, ok := s.indexMap[p]
	if !ok {
		return
	}
	last := len(s.points) - 1
	s.points[idx] = s.points[last]
	s.indexMap[s.points[idx].Point] = idx
	s.points = s.points[:last]
	delete(s.indexMap, p)
}

func (s *matrixStorage) At(x, y, z float64) (Data, bool) {
	idx, ok := s.indexMap[r3.Vector{X: x, Y: y, Z: z}]
	if !ok {
		return nil, false
	}
	return s.points[idx].Data, true
}

func (s *matrixStorage) Iterate(numBatches, myBatch int, fn func(p r3.Vector, d Data) bool) {
	start, end := 0, len(s.points)
	if numBatches > 0 {
		batchSize := (len(s.points) + numBatches - 1) / numBatches
		start = myBatch * batchSize
		end = start + batchSize
		if start > len(s.points) {
			start = len(s.points)
		}
		if end > len(s.points) {
			end = len(s.points)
		}
	}
	for _, pd := range s.points[start:end] {
		if !fn(pd.Point, pd.Data) {
			return
		}
	}
}

package depth

import (
	"github.com/golang/geo/r3"

	"go.viam.com/vio/pointcloud"
	"go.viam.com/vio/spatialmath"
)

// BackprojectConfig bounds which disparity pixels are trusted enough to lift into 3-D.
type BackprojectConfig struct {
	MinZ, MaxZ float64 // accepted depth range in meters, in the rectified left-camera frame
	Stride     int     // subsample every Stride pixels, to bound point cloud size
}

// DefaultBackprojectConfig matches spec.md's depth-enable defaults: reject anything beyond a
// typical indoor/hand-held VIO rig's reliable stereo range.
func DefaultBackprojectConfig() BackprojectConfig {
	return BackprojectConfig{MinZ: 0.1, MaxZ: 10.0, Stride: 2}
}

// Backproject lifts a disparity map into a point cloud expressed in the worldPose frame, using
// the Q matrix from Rectify: [X Y Z W]^T = Q * [x y d 1]^T, point = (X/W, Y/W, Z/W). Pixels marked
// InvalidDisparity, or whose resulting depth falls outside cfg's z-range, are skipped.
func Backproject(disp [][]float64, q [4][4]float64, worldPose *spatialmath.Pose, cfg BackprojectConfig) pointcloud.PointCloud {
	cloud := pointcloud.New()
	if cfg.Stride < 1 {
		cfg.Stride = 1
	}
	for y := 0; y < len(disp); y += cfg.Stride {
		row := disp[y]
		for x := 0; x < len(row); x += cfg.Stride {
			d := row[x]
			if d == InvalidDisparity || d <= 0 {
				continue
			}
			px, py, pz, pw := applyQ(q, float64(x), float64(y), d)
			if pw == 0 {
				continue
			}
			cameraPoint := r3.Vector{X: px / pw, Y: py / pw, Z: pz / pw}
			if cameraPoint.Z < cfg.MinZ || cameraPoint.Z > cfg.MaxZ {
				continue
			}
			worldPoint := cameraPoint
			if worldPose != nil {
				worldPoint = worldPose.Transform(cameraPoint)
			}
			if err := cloud.Set(worldPoint, pointcloud.NewBasicData()); err != nil {
				continue
			}
		}
	}
	return cloud
}

func applyQ(q [4][4]float64, x, y, d float64) (px, py, pz, pw float64) {
	v := [4]float64{x, y, d, 1}
	var out [4]float64
	for r := 0; r < 4; r++ {
		var sum float64
		for c := 0; c < 4; c++ {
			sum += q[r][c] * v[c]
		}
		out[r] = sum
	}
	return out[0], out[1], out[2], out[3]
}

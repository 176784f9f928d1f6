package depth

import (
	"image"
	"image/color"

	"github.com/golang/geo/r3"

	"go.viam.com/vio/cameramodel"
	"go.viam.com/vio/spatialmath"
)

// remapTable holds, for every rectified-image pixel, the fractional source-image coordinate to
// sample from. Built once per Generator since it depends only on calibration, not on image
// content — the same one-time-cost/per-frame-reuse split the teacher's
// `rimage/transform/pinhole_camera_parameters.go` warp caches follow.
type remapTable struct {
	width, height int
	srcX, srcY    []float64 // flattened width*height, row-major
}

// buildRemapTable computes, for each rectified pixel, the corresponding distorted source pixel:
// invert the rectified pinhole projection to get a ray in the rectified frame, rotate it back
// into the original camera frame by rect's inverse, then reproject with the original model's
// distortion. This is the same "per-pixel inverse-homography lookup" shape the teacher's
// `rimage/transform/homography.go` AlignImageWithDepth method uses, generalized from a planar
// homography to a full rotation-plus-distortion remap.
func buildRemapTable(model cameramodel.Model, rect *spatialmath.Pose, p [3][4]float64, width, height int) remapTable {
	fx, fy, cx, cy := p[0][0], p[1][1], p[0][2], p[1][2]
	inv := spatialmath.Invert(rect)
	t := remapTable{width: width, height: height, srcX: make([]float64, width*height), srcY: make([]float64, width*height)}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			ray := r3.Vector{X: (float64(x) - cx) / fx, Y: (float64(y) - cy) / fy, Z: 1}
			originalRay := inv.Transform(ray)
			if originalRay.Z <= 0 {
				t.srcX[y*width+x], t.srcY[y*width+x] = -1, -1
				continue
			}
			src := model.Project(originalRay)
			t.srcX[y*width+x] = src.X
			t.srcY[y*width+x] = src.Y
		}
	}
	return t
}

// remapGray resamples src according to table using bilinear interpolation, producing a new
// rectified grayscale image. Hand-rolled rather than using golang.org/x/image/draw's affine
// BiLinear.Transform, since the per-pixel remap table here is not expressible as a single affine
// transform.
func remapGray(src *image.Gray, table remapTable) *image.Gray {
	out := image.NewGray(image.Rect(0, 0, table.width, table.height))
	b := src.Bounds()
	for y := 0; y < table.height; y++ {
		for x := 0; x < table.width; x++ {
			sx, sy := table.srcX[y*table.width+x], table.srcY[y*table.width+x]
			if sx < 0 || sy < 0 {
				continue
			}
			v, ok := bilinearSample(src, b, sx, sy)
			if !ok {
				continue
			}
			out.SetGray(x, y, colorGray(v))
		}
	}
	return out
}

func bilinearSample(img *image.Gray, b image.Rectangle, x, y float64) (float64, bool) {
	x0, y0 := int(x), int(y)
	if x0 < b.Min.X || y0 < b.Min.Y || x0+1 >= b.Max.X || y0+1 >= b.Max.Y {
		return 0, false
	}
	fx, fy := x-float64(x0), y-float64(y0)
	v00 := float64(img.GrayAt(x0, y0).Y)
	v10 := float64(img.GrayAt(x0+1, y0).Y)
	v01 := float64(img.GrayAt(x0, y0+1).Y)
	v11 := float64(img.GrayAt(x0+1, y0+1).Y)
	top := v00*(1-fx) + v10*fx
	bottom := v01*(1-fx) + v11*fx
	return top*(1-fy) + bottom*fy, true
}

func colorGray(v float64) color.Gray {
	if v < 0 {
		v = 0
	} else if v > 255 {
		v = 255
	}
	return color.Gray{Y: uint8(v)}
}

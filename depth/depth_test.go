package depth

import (
	"image"
	"image/color"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/vio/cameramodel"
	"go.viam.com/vio/spatialmath"
)

func checkerboard(w, h, square int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(40)
			if (x/square+y/square)%2 == 0 {
				v = 220
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return img
}

func TestRectifyProducesValidBaseline(t *testing.T) {
	left := Intrinsics{Fx: 300, Fy: 300, Cx: 160, Cy: 120, Width: 320, Height: 240}
	right := left
	rightToLeft := spatialmath.NewPose(r3.Vector{X: 0.06}, spatialmath.NewZeroPose().Orientation())
	result := Rectify(left, right, rightToLeft)
	test.That(t, result.Q[2][3], test.ShouldNotEqual, 0)
}

func TestDisparityOfShiftedImageIsPositive(t *testing.T) {
	left := checkerboard(160, 120, 16)
	right := image.NewGray(left.Bounds())
	const shift = 4
	for y := 0; y < 120; y++ {
		for x := 0; x < 160; x++ {
			sx := x + shift
			if sx >= 160 {
				sx = 159
			}
			right.SetGray(x, y, left.GrayAt(sx, y))
		}
	}
	disp := Disparity(left, right, DefaultDisparityConfig())
	found := false
	for y := 20; y < 100 && !found; y++ {
		for x := 20; x < 140; x++ {
			if disp[y][x] > 0 {
				found = true
				break
			}
		}
	}
	test.That(t, found, test.ShouldBeTrue)
}

func TestBackprojectSkipsInvalidDisparity(t *testing.T) {
	disp := [][]float64{{InvalidDisparity, 10}, {0, InvalidDisparity}}
	q := [4][4]float64{
		{1, 0, 0, -1},
		{0, 1, 0, -1},
		{0, 0, 0, 300},
		{0, 0, -1.0 / 0.06, 0},
	}
	cloud := Backproject(disp, q, spatialmath.NewZeroPose(), BackprojectConfig{MinZ: 0.01, MaxZ: 100, Stride: 1})
	test.That(t, cloud.Size(), test.ShouldBeLessThanOrEqualTo, 1)
}

func TestGeneratorProcessReturnsCloud(t *testing.T) {
	left := cameramodel.NewPinhole(160, 120, 150, 150, 80, 60, nil)
	right := cameramodel.NewPinhole(160, 120, 150, 150, 80, 60, nil)
	rightToLeft := spatialmath.NewPose(r3.Vector{X: 0.06}, spatialmath.NewZeroPose().Orientation())
	gen := NewGenerator(left, right, rightToLeft, nil)

	leftImg := checkerboard(160, 120, 16)
	rightImg := checkerboard(160, 120, 16)
	cloud := gen.Process(leftImg, rightImg, spatialmath.NewZeroPose())
	test.That(t, cloud, test.ShouldNotBeNil)
}

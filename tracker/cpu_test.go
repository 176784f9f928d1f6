package tracker

import (
	"context"
	"image"
	"image/color"
	"testing"

	"go.viam.com/test"

	"go.viam.com/vio/cameramodel"
)

// checkerboard renders a synthetic textured image so corner detection has something to latch
// onto, avoiding a dependency on real test imagery.
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

func TestCPUTrackerDetectsAndTracksFeatures(t *testing.T) {
	models := []cameramodel.Model{cameramodel.NewPinhole(320, 240, 300, 300, 160, 120, nil)}
	tr := New(DefaultConfig(), models, nil)

	img1 := checkerboard(320, 240, 16)
	frame1, err := tr.TrackImage(context.Background(), 0, img1, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(frame1), test.ShouldBeGreaterThan, 0)

	img2 := checkerboard(320, 240, 16) // static scene: tracks should persist across frames
	frame2, err := tr.TrackImage(context.Background(), 0.05, img2, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(frame2), test.ShouldBeGreaterThan, 0)
}

func TestCPUTrackerRequiresModel(t *testing.T) {
	tr := New(DefaultConfig(), nil, nil)
	_, err := tr.TrackImage(context.Background(), 0, checkerboard(64, 64, 8), nil)
	test.That(t, err, test.ShouldNotBeNil)
}

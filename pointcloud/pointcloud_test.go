package pointcloud

import (
	"image/color"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestBasicPointCloudSetAtUnset(t *testing.T) {
	pc := New()
	p1 := r3.Vector{X: 1, Y: 2, Z: 3}
	test.That(t, pc.Set(p1, NewColoredData(color.NRGBA{R: 255, A: 255})), test.ShouldBeNil)
	test.That(t, pc.Size(), test.ShouldEqual, 1)

	d, ok := pc.At(1, 2, 3)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, d.HasColor(), test.ShouldBeTrue)

	meta := pc.MetaData()
	test.That(t, meta.HasColor, test.ShouldBeTrue)
	test.That(t, meta.MaxZ, test.ShouldAlmostEqual, 3.0)

	pc.Unset(1, 2, 3)
	test.That(t, pc.Size(), test.ShouldEqual, 0)
	_, ok = pc.At(1, 2, 3)
	test.That(t, ok, test.ShouldBeFalse)
}

func TestBasicPointCloudIterate(t *testing.T) {
	pc := New()
	for i := 0; i < 10; i++ {
		test.That(t, pc.Set(r3.Vector{X: float64(i)}, NewBasicData()), test.ShouldBeNil)
	}
	seen := 0
	pc.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		seen++
		return true
	})
	test.That(t, seen, test.ShouldEqual, 10)
}

func TestBasicPointCloudIterateBatches(t *testing.T) {
	pc := New()
	for i := 0; i < 10; i++ {
		test.That(t, pc.Set(r3.Vector{X: float64(i)}, NewBasicData()), test.ShouldBeNil)
	}
	total := 0
	for batch := 0; batch < 4; batch++ {
		count := 0
		pc.Iterate(4, batch, func(p r3.Vector, d Data) bool {
			count++
			return true
		})
		total += count
	}
	test.That(t, total, test.ShouldEqual, 10)
}

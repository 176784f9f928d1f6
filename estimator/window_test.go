package estimator

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestNewWindowStartsEmpty(t *testing.T) {
	w := NewWindow(10)
	test.That(t, len(w.Slots), test.ShouldEqual, 11)
	test.That(t, w.CurrentSlot, test.ShouldEqual, -1)
	test.That(t, w.Full(), test.ShouldBeFalse)
}

func TestWindowFullOnceCurrentSlotReachesW(t *testing.T) {
	w := NewWindow(3)
	w.CurrentSlot = 2
	test.That(t, w.Full(), test.ShouldBeFalse)
	w.CurrentSlot = 3
	test.That(t, w.Full(), test.ShouldBeTrue)
}

func TestSlideOldShiftsSlotsDownAndPreservesSlotW(t *testing.T) {
	w := NewWindow(3)
	for i := range w.Slots {
		w.Slots[i] = Slot{H: float64(i)}
	}
	w.SlideOld()

	test.That(t, w.Slots[0].H, test.ShouldEqual, 1)
	test.That(t, w.Slots[1].H, test.ShouldEqual, 2)
	test.That(t, w.Slots[2].H, test.ShouldEqual, 3)
	test.That(t, w.Slots[3].H, test.ShouldEqual, 3) // slot W untouched by the shift
}

func TestSlideSecondNewMovesSlotWIntoWMinus1AndClearsW(t *testing.T) {
	w := NewWindow(3)
	w.Slots[2] = Slot{H: 2}
	w.Slots[3] = Slot{H: 3, P: r3.Vector{X: 1}}

	w.SlideSecondNew()

	test.That(t, w.Slots[2].H, test.ShouldEqual, 3)
	test.That(t, w.Slots[2].P.X, test.ShouldEqual, 1)
	test.That(t, w.Slots[3], test.ShouldResemble, Slot{})
}

func TestWindowPosesReturnsOnePerSlot(t *testing.T) {
	w := NewWindow(2)
	poses := w.Poses()
	test.That(t, len(poses), test.ShouldEqual, 3)
	for _, p := range poses {
		test.That(t, p, test.ShouldNotBeNil)
	}
}

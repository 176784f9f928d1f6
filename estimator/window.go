// Package estimator ties the preintegration, features, initialize, optimizer, and marginalize
// packages into the sliding-window visual-inertial estimator of spec.md §3/§4, owning the window
// state the way the teacher's `services/slam/builtin` owns its SLAM service's background workers
// and mutable map/pose state.
package estimator

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/vio/preintegration"
	"go.viam.com/vio/spatialmath"
)

// Slot is one window position's pose/velocity/bias/time state (spec.md §3 "Window state").
type Slot struct {
	P  r3.Vector
	Q  quat.Number
	V  r3.Vector
	Ba r3.Vector
	Bg r3.Vector
	H  float64 // timestamp

	// Delta is the pre-integration delta spanning [H of the previous slot, H]. Slot 0's Delta is
	// never read; after SlideOld it still holds the delta that led into the dropped slot.
	Delta *preintegration.Delta
}

// Pose returns the slot's pose as a spatialmath.Pose.
func (s *Slot) Pose() *spatialmath.Pose { return spatialmath.NewPoseFromQuaternion(s.P, s.Q) }

// Window is the fixed-size (W+1)-slot sliding window. Slot 0 is always the oldest; slot W is the
// frame currently being assembled.
type Window struct {
	W     int
	Slots []Slot // length W+1

	// CurrentSlot is the highest filled slot index, or -1 before any frame has been accepted; the
	// window is "full" once CurrentSlot == W.
	CurrentSlot int
}

// NewWindow returns an empty Window sized for w+1 slots.
func NewWindow(w int) *Window {
	return &Window{W: w, Slots: make([]Slot, w+1), CurrentSlot: -1}
}

// Full reports whether every slot 0..W has been assigned at least once.
func (win *Window) Full() bool { return win.CurrentSlot >= win.W }

// SlideOld drops slot 0 and shifts slots 1..W down to 0..W-1, per spec.md §3's MARG_OLD
// lifecycle. Slot W is left untouched: the caller has already written the newly-committed frame
// there before calling SlideOld, and the shift naturally leaves that data in place since only
// indices 0..W-1 are overwritten.
func (win *Window) SlideOld() {
	copy(win.Slots, win.Slots[1:])
}

// SlideSecondNew discards slot W-1 (a non-keyframe) and moves slot W's state into its place, per
// spec.md §3's MARG_SECOND_NEW lifecycle; the caller fills the new slot W afterward. Slot W-1's
// own pre-integration interval [H_{W-2}, H_{W-1}] is merged into the surviving delta rather than
// dropped, so the moved slot's Delta spans [H_{W-2}, H_W] as required by the invariant that a
// pre-integration delta exists between every pair of adjacent kept slots.
func (win *Window) SlideSecondNew() {
	if win.Slots[win.W].Delta != nil && win.Slots[win.W-1].Delta != nil {
		win.Slots[win.W].Delta = win.Slots[win.W].Delta.Merge(win.Slots[win.W-1].Delta)
	}
	win.Slots[win.W-1] = win.Slots[win.W]
	win.Slots[win.W] = Slot{}
}

// Poses returns every slot's Pose in slot order, a convenience for calls into features.Manager
// and the initialize package that want a []*spatialmath.Pose.
func (win *Window) Poses() []*spatialmath.Pose {
	out := make([]*spatialmath.Pose, len(win.Slots))
	for i := range win.Slots {
		out[i] = win.Slots[i].Pose()
	}
	return out
}

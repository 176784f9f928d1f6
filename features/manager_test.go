package features

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/vio/spatialmath"
)

func TestAddFrameForcesKeyframeBelowCovisibilityThreshold(t *testing.T) {
	m := NewManager(DefaultConfig(400), nil)
	frame := Frame{1: {{CameraID: 0, Bearing: r3.Vector{X: 0, Y: 0, Z: 1}}}}
	isKeyframe := m.AddFrameAndCheckParallax(0, frame, 0)
	test.That(t, isKeyframe, test.ShouldBeTrue)
}

func TestRemoveFrontDropsObservationAndKeepsFeatureAlive(t *testing.T) {
	m := NewManager(DefaultConfig(400), nil)
	m.AddFrameAndCheckParallax(0, Frame{1: {{CameraID: 0, Bearing: r3.Vector{Z: 1}}}}, 0)
	m.AddFrameAndCheckParallax(1, Frame{1: {{CameraID: 0, Bearing: r3.Vector{Z: 1}}}}, 0)

	m.RemoveFront(1)
	f := m.Features()[1]
	test.That(t, f, test.ShouldNotBeNil)
	test.That(t, len(f.Observations), test.ShouldEqual, 1)
}

func TestRemoveFrontDropsFeatureWhenLastObservationRemoved(t *testing.T) {
	m := NewManager(DefaultConfig(400), nil)
	m.AddFrameAndCheckParallax(0, Frame{1: {{CameraID: 0, Bearing: r3.Vector{Z: 1}}}}, 0)

	m.RemoveFront(0)
	test.That(t, m.Features()[1], test.ShouldBeNil)
}

func TestRemoveFrontDecrementsStartFrameOfFeatureFirstSeenAtDroppedSlot(t *testing.T) {
	m := NewManager(DefaultConfig(400), nil)
	// Feature 2 is first observed at slot 2, the frame SlideSecondNew has already moved down into
	// slot 1 before RemoveFront(1) runs; it was never observed at slot 1 itself.
	m.AddFrameAndCheckParallax(0, Frame{1: {{CameraID: 0, Bearing: r3.Vector{Z: 1}}}}, 0)
	m.features[2] = &Feature{ID: 2, StartFrame: 2, Observations: []Observation{{Bearing: r3.Vector{Z: 1}}}}

	m.RemoveFront(1)

	f := m.Features()[2]
	test.That(t, f, test.ShouldNotBeNil)
	test.That(t, f.StartFrame, test.ShouldEqual, 1)
	test.That(t, len(f.Observations), test.ShouldEqual, 1)
}

func TestRemoveBackErasesSingleObservationFeature(t *testing.T) {
	m := NewManager(DefaultConfig(400), nil)
	m.AddFrameAndCheckParallax(0, Frame{1: {{CameraID: 0, Bearing: r3.Vector{Z: 1}}}}, 0)

	m.RemoveBack()
	test.That(t, m.Features()[1], test.ShouldBeNil)
}

func TestDecrementStartFramesShiftsStartFrameDown(t *testing.T) {
	m := NewManager(DefaultConfig(400), nil)
	m.AddFrameAndCheckParallax(1, Frame{1: {{CameraID: 0, Bearing: r3.Vector{Z: 1}}}}, 0)
	f := m.Features()[1]
	test.That(t, f.StartFrame, test.ShouldEqual, 1)

	m.DecrementStartFrames()
	test.That(t, f.StartFrame, test.ShouldEqual, 0)
}

func TestTriangulateStereoFeature(t *testing.T) {
	m := NewManager(DefaultConfig(400), nil)
	// A point 2m ahead of the main camera, with a small positive-x baseline stereo camera.
	frame := Frame{
		1: {
			{CameraID: 0, Bearing: r3.Vector{X: 0, Y: 0, Z: 1}},
			{CameraID: 1, Bearing: r3.Vector{X: -0.05, Y: 0, Z: 1}.Normalize()},
		},
	}
	m.AddFrameAndCheckParallax(0, frame, 0)

	identity := spatialmath.NewZeroPose()
	baseline := spatialmath.NewPose(r3.Vector{X: 0.1}, spatialmath.NewZeroOrientation())

	m.Triangulate([]int{0}, []*spatialmath.Pose{identity}, identity, baseline)
	f := m.Features()[1]
	test.That(t, f.Solve, test.ShouldEqual, Estimated)
	test.That(t, f.Depth(), test.ShouldBeGreaterThan, 0)
}

func TestRemoveOutlierDeletesFeature(t *testing.T) {
	m := NewManager(DefaultConfig(400), nil)
	m.AddFrameAndCheckParallax(0, Frame{1: {{CameraID: 0, Bearing: r3.Vector{Z: 1}}}}, 0)
	m.RemoveOutlier(map[int]struct{}{1: {}})
	test.That(t, m.Features()[1], test.ShouldBeNil)
}

func TestGetSetDepthRoundTrip(t *testing.T) {
	m := NewManager(DefaultConfig(400), nil)
	m.AddFrameAndCheckParallax(0, Frame{1: {{CameraID: 0, Bearing: r3.Vector{Z: 1}}}}, 0)
	m.SetDepth(map[int]float64{1: 0.5})

	depths := m.GetDepthVector()
	test.That(t, depths[1], test.ShouldAlmostEqual, 0.5)
}

package features

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/vio/logging"
	"go.viam.com/vio/spatialmath"
)

// Config holds the Manager's tunable thresholds, all with the spec's documented defaults.
type Config struct {
	// FocalLength is used to convert the parallax policy's pixel threshold into normalized
	// image-plane units (10 px at this focal length).
	FocalLength float64
	// MinCovisible is the minimum number of features co-visible across the last two slots
	// below which add_frame_and_check_parallax immediately declares a keyframe.
	MinCovisible int
	// MinDepth and MaxDepth clamp triangulated depths; outside this range a triangulation is
	// rejected.
	MinDepth, MaxDepth float64
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig(focalLength float64) Config {
	return Config{
		FocalLength:  focalLength,
		MinCovisible: 20,
		MinDepth:     0.1,
		MaxDepth:     80,
	}
}

// Manager is the feature map for one sliding window, keyed by feature_id.
type Manager struct {
	cfg      Config
	logger   logging.Logger
	features map[int]*Feature
}

// NewManager constructs an empty feature manager.
func NewManager(cfg Config, logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewBlankLogger("vio.features")
	}
	return &Manager{cfg: cfg, logger: logger, features: make(map[int]*Feature)}
}

// Features returns the live feature_id -> Feature map. Callers must not mutate entries outside
// of the Manager's own methods.
func (m *Manager) Features() map[int]*Feature { return m.features }

// AddFrameAndCheckParallax inserts this frame's observations for the given slot and returns true
// iff the caller should treat the previous slot as a keyframe (MARG_OLD), false for a
// non-keyframe (MARG_SECOND_NEW).
func (m *Manager) AddFrameAndCheckParallax(slot int, frame Frame, td float64) bool {
	for id, camObs := range frame {
		f, ok := m.features[id]
		if !ok {
			f = &Feature{ID: id, StartFrame: slot, MainCam: camObs[0].CameraID}
			m.features[id] = f
		}
		obs := mergeCameraObservations(camObs, td)
		// Observations must be contiguous; a feature reappearing after a gap is treated as new.
		if f.endFrame()+1 != slot && len(f.Observations) > 0 {
			f.StartFrame = slot
			f.Observations = nil
			f.Solve = Unestimated
		}
		f.Observations = append(f.Observations, obs)
	}

	return m.checkParallax(slot)
}

// mergeCameraObservations combines the per-camera observations of one feature in one frame into
// a single Observation, taking camera 0 as the main bearing and any other camera as the stereo
// companion.
func mergeCameraObservations(camObs []CameraObservation, td float64) Observation {
	obs := Observation{TimeOffset: td}
	for _, co := range camObs {
		if co.CameraID == 0 {
			obs.Bearing = co.Bearing
			obs.Pixel = co.Pixel
			obs.PixelVelocity = co.PixelVelocity
		} else {
			obs.HasStereo = true
			obs.StereoBearing = co.Bearing
		}
	}
	return obs
}

// checkParallax implements the spec's parallax policy: co-visibility below MinCovisible forces a
// keyframe; otherwise the mean per-feature translation between the two most recent slots is
// compared against 10/focal.
func (m *Manager) checkParallax(slot int) bool {
	if slot < 2 {
		return true
	}
	prev, cur := slot-2, slot-1

	var sum float64
	count := 0
	for _, f := range m.features {
		if f.observedAt(prev) && f.observedAt(cur) {
			count++
			a := f.at(prev).Bearing
			b := f.at(cur).Bearing
			sum += normalizedTranslation(a, b)
		}
	}

	if count < m.cfg.MinCovisible {
		return true
	}

	mean := sum / float64(count)
	threshold := 10.0 / m.cfg.FocalLength
	return mean >= threshold
}

// normalizedTranslation approximates the translation between two normalized-plane projections of
// the same bearing, as used by the parallax heuristic: project both unit bearings onto the z=1
// plane and take the Euclidean distance between the resulting 2-D points.
func normalizedTranslation(a, b r3.Vector) float64 {
	ax, ay := normalizedPlane(a)
	bx, by := normalizedPlane(b)
	dx, dy := ax-bx, ay-by
	return math.Hypot(dx, dy)
}

func normalizedPlane(v r3.Vector) (float64, float64) {
	if v.Z == 0 {
		return v.X, v.Y
	}
	return v.X / v.Z, v.Y / v.Z
}

// BearingPair is one feature's main-camera bearings in two window slots, as GetCorresponding
// returns them.
type BearingPair struct {
	FeatureID int
	Bearing0  r3.Vector
	Bearing1  r3.Vector
}

// GetCorresponding returns every feature observed in both slots i and j, with its main-camera
// bearing at each.
func (m *Manager) GetCorresponding(i, j int) []BearingPair {
	var pairs []BearingPair
	for id, f := range m.features {
		if f.observedAt(i) && f.observedAt(j) {
			pairs = append(pairs, BearingPair{FeatureID: id, Bearing0: f.at(i).Bearing, Bearing1: f.at(j).Bearing})
		}
	}
	return pairs
}

// Triangulate solves for the inverse depth of every feature that does not yet have one, given
// the current window poses (body-frame, slot-indexed) and the camera extrinsics (camera-to-body
// transforms for cam 0 and, if stereo, cam 1).
func (m *Manager) Triangulate(slots []int, poses []*Pose, tic, ric *Pose) {
	slotPose := make(map[int]*Pose, len(slots))
	for i, s := range slots {
		slotPose[s] = poses[i]
	}

	for _, f := range m.features {
		if f.Solve != Unestimated {
			continue
		}
		depth, ok := m.triangulateFeature(f, slotPose, tic, ric)
		if !ok {
			continue
		}
		if depth < m.cfg.MinDepth || depth > m.cfg.MaxDepth {
			continue
		}
		f.InverseDepth = 1 / depth
		f.Solve = Estimated
	}
}

// triangulateFeature prefers one-frame-two-camera (stereo) triangulation at the anchor frame when
// available, otherwise falls back to two-frame triangulation between the anchor and the feature's
// last observed slot.
func (m *Manager) triangulateFeature(f *Feature, slotPose map[int]*Pose, tic, ric *Pose) (float64, bool) {
	anchorObs := f.Observations[0]
	anchorPose, ok := slotPose[f.StartFrame]
	if !ok {
		return 0, false
	}

	if anchorObs.HasStereo {
		baseline := spatialmath.Compose(spatialmath.Invert(tic), ric)
		return triangulateTwoRays(anchorObs.Bearing, baseline.Point(), baseline.Orientation().Quaternion(), anchorObs.StereoBearing)
	}

	if len(f.Observations) < 2 {
		return 0, false
	}
	lastSlot := f.endFrame()
	lastPose, ok := slotPose[lastSlot]
	if !ok || lastSlot == f.StartFrame {
		return 0, false
	}
	relative := spatialmath.Compose(spatialmath.Invert(anchorPose), lastPose)
	return triangulateTwoRays(anchorObs.Bearing, relative.Point(), relative.Orientation().Quaternion(), f.at(lastSlot).Bearing)
}

// RemoveBack handles features whose observation list has no re-anchoring information: called
// after a MARG_OLD slide for every feature with start_frame == 0 and at most one observation.
func (m *Manager) RemoveBack() {
	for id, f := range m.features {
		if f.StartFrame != 0 {
			continue
		}
		if len(f.Observations) <= 1 {
			delete(m.features, id)
		}
	}
}

// RemoveBackShiftDepth is RemoveBack's counterpart for features with enough observations to
// re-anchor: drops the first observation and, if the feature's depth was already estimated,
// re-expresses it in the new anchor frame by transforming the 3-D point from the old anchor pose
// (R0, P0) to the new one (R1, P1).
func (m *Manager) RemoveBackShiftDepth(r0 *Pose, p0 r3.Vector, r1 *Pose, p1 r3.Vector) {
	oldAnchor := spatialmath.NewPose(p0, r0.Orientation())
	newAnchor := spatialmath.NewPose(p1, r1.Orientation())

	for _, f := range m.features {
		if f.StartFrame != 0 {
			continue
		}
		if len(f.Observations) <= 1 {
			continue
		}

		if f.Solve == Estimated {
			point := oldAnchor.Transform(f.Observations[0].Bearing.Mul(1 / f.InverseDepth))
			newLocal := spatialmath.Invert(newAnchor).Transform(point)
			if newLocal.Z <= 0 {
				f.Solve = Rejected
			} else {
				f.InverseDepth = 1 / newLocal.Z
			}
		}

		f.Observations = f.Observations[1:]
	}
}

// DecrementStartFrames shifts every surviving feature's start_frame down by one, preserving the
// window-index invariant after a MARG_OLD slide. It must be called after RemoveBack/
// RemoveBackShiftDepth, which handle the start_frame == 0 features separately (those stay
// anchored at the new slot 0 once their stale first observation is dropped).
func (m *Manager) DecrementStartFrames() {
	for _, f := range m.features {
		if f.StartFrame > 0 {
			f.StartFrame--
		}
	}
}

// RemoveFront drops the observation at slot for every feature that has one, called after a
// MARG_SECOND_NEW slide (the discarded non-keyframe was slot, and the former newest slot slot+1
// has already been moved down into slot by Window.SlideSecondNew). The feature itself is only
// kept if it still has observations left afterward. Features first observed at the former newest
// slot never had an observation at slot, so instead of being dropped they have their start_frame
// decremented to track the frame's new index, matching VINS-Mono's removeFront.
func (m *Manager) RemoveFront(slot int) {
	for id, f := range m.features {
		switch {
		case f.StartFrame == slot+1:
			f.StartFrame--
		case f.observedAt(slot):
			idx := slot - f.StartFrame
			f.Observations = append(f.Observations[:idx], f.Observations[idx+1:]...)
			if len(f.Observations) == 0 {
				delete(m.features, id)
			}
		}
	}
}

// RemoveOutlier deletes every feature whose id is in ids.
func (m *Manager) RemoveOutlier(ids map[int]struct{}) {
	for id := range ids {
		delete(m.features, id)
	}
}

// GetDepthVector returns the per-feature inverse depths of every estimated feature, for handing
// to the optimizer as parameter-block initial values.
func (m *Manager) GetDepthVector() map[int]float64 {
	out := make(map[int]float64)
	for id, f := range m.features {
		if f.Solve == Estimated {
			out[id] = f.InverseDepth
		}
	}
	return out
}

// SetDepth writes back the optimizer's solved inverse depths.
func (m *Manager) SetDepth(depths map[int]float64) {
	for id, d := range depths {
		if f, ok := m.features[id]; ok {
			f.InverseDepth = d
			if d > 0 {
				f.Solve = Estimated
			} else {
				f.Solve = Rejected
			}
		}
	}
}

// triangulateTwoRays solves the linear least-squares intersection of two 3-D rays, expressed in
// a shared frame: ray0 from the origin along bearing0, ray1 from origin1 (rotated by q1) along
// bearing1. Returns the depth along bearing0 at closest approach, i.e. the feature's distance
// from the anchor camera.
func triangulateTwoRays(bearing0, origin1 r3.Vector, q1 quat.Number, bearing1 r3.Vector) (float64, bool) {
	d0 := bearing0.Normalize()
	d1 := spatialmath.NewPoseFromQuaternion(r3.Vector{}, q1).Transform(bearing1).Normalize()

	a := mat.NewDense(3, 2, []float64{
		d0.X, -d1.X,
		d0.Y, -d1.Y,
		d0.Z, -d1.Z,
	})
	var ata mat.Dense
	ata.Mul(a.T(), a)
	atb := mat.NewVecDense(2, []float64{
		d0.Dot(origin1), -d1.Dot(origin1),
	})

	var sol mat.VecDense
	if err := sol.SolveVec(&ata, atb); err != nil {
		return 0, false
	}
	depth := sol.AtVec(0)
	if depth <= 0 {
		return 0, false
	}
	return depth, true
}

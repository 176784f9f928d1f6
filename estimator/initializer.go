package estimator

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/vio/features"
	"go.viam.com/vio/initialize"
	"go.viam.com/vio/preintegration"
	"go.viam.com/vio/spatialmath"
)

// tryInitialize runs spec.md §4.3's stereo+IMU or mono+IMU initializer once the window has first
// filled. On success it seeds every window slot's pose/velocity and returns true; on failure it
// returns false and leaves the window untouched, so the caller can slide as a non-keyframe and
// retry on the next frame.
func (e *Estimator) tryInitialize() bool {
	saved := make([]Slot, len(e.window.Slots))
	copy(saved, e.window.Slots)

	var ok bool
	if e.cfg.Stereo {
		ok = e.initStereoIMU()
	} else {
		ok = e.initMonoIMU()
	}
	if !ok {
		copy(e.window.Slots, saved)
	}
	return ok
}

// initStereoIMU implements spec.md's Stereo+IMU path: PnP the current slot against features
// anchored at slot 0 and already triangulated by stereo, then solve for a single shared gyroscope
// bias correction across every window pair and re-propagate.
//
// Simplification: PnP is solved against slot 0's body frame taken as world (rather than a
// globally bundle-adjusted frame), since at first-fill time the great majority of long-tracked
// features anchor at slot 0.
func (e *Estimator) initStereoIMU() bool {
	tic0, tic1 := e.extrinsic(0), e.extrinsicOrIdentity(1)
	identityPoses := make([]*spatialmath.Pose, len(e.window.Slots))
	slots := make([]int, len(e.window.Slots))
	for i := range identityPoses {
		identityPoses[i] = spatialmath.NewZeroPose()
		slots[i] = i
	}
	e.featureManager.Triangulate(slots, identityPoses, tic0, tic1)

	var points, bearings []r3.Vector
	for _, f := range e.featureManager.Features() {
		if f.StartFrame != 0 || f.Solve != features.Estimated {
			continue
		}
		if !featureObservedAt(f, e.window.W) {
			continue
		}
		pointCam0 := f.Observations[0].Bearing.Normalize().Mul(f.Depth())
		pointBody := tic0.Transform(pointCam0)
		points = append(points, pointBody)
		bearings = append(bearings, featureAt(f, e.window.W).Bearing)
	}
	if len(points) < 6 {
		e.logger.Warnw("stereo+imu init: not enough triangulated correspondences for PnP", "count", len(points))
		return false
	}

	worldToCam, err := initialize.EstimatePoseLinearPnP(points, bearings)
	if err != nil {
		e.logger.Warnw("stereo+imu init: PnP failed", "error", err)
		return false
	}
	bodyToWorldW := spatialmath.Compose(spatialmath.Invert(worldToCam), spatialmath.Invert(tic0))

	e.window.Slots[0].P, e.window.Slots[0].Q = r3.Vector{}, quat.Number{Real: 1}
	e.window.Slots[e.window.W].P = bodyToWorldW.Point()
	e.window.Slots[e.window.W].Q = bodyToWorldW.Orientation().Quaternion()
	e.interpolateIntermediatePoses()

	deltas := e.collectDeltas()
	bg, err := initialize.SolveGyroBiasStereo(e.window.Poses(), deltas)
	if err != nil {
		e.logger.Warnw("stereo+imu init: gyro bias solve failed", "error", err)
		return false
	}
	e.repropagateAll(r3.Vector{}, bg)

	if !initialize.GravitySufficientlyExcited(deltas) {
		e.logger.Warn("stereo+imu init: IMU insufficiently excited, proceeding per documented behavior")
	}
	return true
}

// initMonoIMU implements spec.md's Mono+IMU path in a reduced but functioning form: a reference
// slot is chosen by essential-matrix parallax against the current slot, relative poses are then
// chained sequentially slot-to-slot (rather than a full window-wide bundle) to seed the window,
// and visual-inertial alignment solves for scale, gravity, and per-slot velocity exactly as
// spec.md describes.
func (e *Estimator) initMonoIMU() bool {
	refSlot := -1
	for l := 0; l < e.window.W; l++ {
		pairs := e.featureManager.GetCorresponding(l, e.window.W)
		if len(pairs) < 20 {
			continue
		}
		if meanPixelParallax(pairs, e.cfg.FocalLength) > 30 {
			refSlot = l
			break
		}
	}
	if refSlot < 0 {
		e.logger.Warn("mono+imu init: no reference slot with sufficient parallax")
		return false
	}

	e.window.Slots[refSlot].P, e.window.Slots[refSlot].Q = r3.Vector{}, quat.Number{Real: 1}
	cur := refSlot
	for cur < e.window.W {
		next := cur + 1
		pairs := e.featureManager.GetCorresponding(cur, next)
		bearings0 := make([]r3.Vector, len(pairs))
		bearings1 := make([]r3.Vector, len(pairs))
		for i, p := range pairs {
			bearings0[i], bearings1[i] = p.Bearing0, p.Bearing1
		}
		relative, err := initialize.EstimateRelativePose(bearings0, bearings1)
		if err != nil {
			e.logger.Warnw("mono+imu init: relative pose failed", "from", cur, "to", next, "error", err)
			return false
		}
		curPose := e.window.Slots[cur].Pose()
		nextPose := spatialmath.Compose(curPose, relative)
		e.window.Slots[next].P = nextPose.Point()
		e.window.Slots[next].Q = nextPose.Orientation().Quaternion()
		cur = next
	}
	for l := refSlot - 1; l >= 0; l-- {
		pairs := e.featureManager.GetCorresponding(l, l+1)
		bearings0 := make([]r3.Vector, len(pairs))
		bearings1 := make([]r3.Vector, len(pairs))
		for i, p := range pairs {
			bearings0[i], bearings1[i] = p.Bearing0, p.Bearing1
		}
		relative, err := initialize.EstimateRelativePose(bearings1, bearings0)
		if err != nil {
			return false
		}
		nextPose := e.window.Slots[l+1].Pose()
		curPose := spatialmath.Compose(nextPose, relative)
		e.window.Slots[l].P = curPose.Point()
		e.window.Slots[l].Q = curPose.Orientation().Quaternion()
	}

	identityPoses := e.window.Poses()
	slots := make([]int, len(identityPoses))
	for i := range slots {
		slots[i] = i
	}
	e.featureManager.Triangulate(slots, identityPoses, e.extrinsic(0), e.extrinsicOrIdentity(1))

	deltas := e.collectDeltas()
	align, err := initialize.VIAlignment(e.window.Poses(), deltas)
	if err != nil {
		e.logger.Warnw("mono+imu init: visual-inertial alignment failed", "error", err)
		return false
	}

	rot := initialize.GravityAlignmentRotation(align.Gravity)
	rotQ := spatialmath.R3ToR4(rot).Quaternion()
	origin := e.window.Slots[0].P

	for i := range e.window.Slots {
		p := e.window.Slots[i].P.Sub(origin).Mul(align.Scale)
		p = quatRotate(rotQ, p)
		e.window.Slots[i].P = p
		e.window.Slots[i].Q = quat.Mul(rotQ, e.window.Slots[i].Q)
		if i < len(align.Velocities) {
			e.window.Slots[i].V = quatRotate(rotQ, align.Velocities[i])
		}
	}
	e.gravity = quatRotate(rotQ, align.Gravity)
	e.repropagateAll(r3.Vector{}, r3.Vector{})
	return true
}

func featureObservedAt(f *features.Feature, slot int) bool {
	return slot >= f.StartFrame && slot <= f.StartFrame+len(f.Observations)-1
}

func featureAt(f *features.Feature, slot int) features.Observation {
	return f.Observations[slot-f.StartFrame]
}

func meanPixelParallax(pairs []features.BearingPair, focal float64) float64 {
	if len(pairs) == 0 {
		return 0
	}
	var sum float64
	for _, p := range pairs {
		ax, ay := p.Bearing0.X/p.Bearing0.Z, p.Bearing0.Y/p.Bearing0.Z
		bx, by := p.Bearing1.X/p.Bearing1.Z, p.Bearing1.Y/p.Bearing1.Z
		dx, dy := (ax-bx)*focal, (ay-by)*focal
		sum += r3.Vector{X: dx, Y: dy}.Norm()
	}
	return sum / float64(len(pairs))
}

func quatRotate(q quat.Number, v r3.Vector) r3.Vector {
	return spatialmath.NewPoseFromQuaternion(r3.Vector{}, q).Transform(v)
}

// interpolateIntermediatePoses linearly interpolates position and slerps orientation for slots
// strictly between 0 and W once both endpoints are known, giving the optimizer a reasonable seed
// rather than leaving them at zero.
func (e *Estimator) interpolateIntermediatePoses() {
	w := e.window.W
	p0, q0 := e.window.Slots[0].P, e.window.Slots[0].Q
	pw, qw := e.window.Slots[w].P, e.window.Slots[w].Q
	for i := 1; i < w; i++ {
		t := float64(i) / float64(w)
		e.window.Slots[i].P = p0.Add(pw.Sub(p0).Mul(t))
		e.window.Slots[i].Q = spatialmath.Slerp(spatialmath.NewQuaternion(q0), spatialmath.NewQuaternion(qw), t).Quaternion()
	}
}

// collectDeltas gathers the pre-integration delta spanning every adjacent window pair, in slot
// order, for the initializer's gyro-bias solve / visual-inertial alignment.
func (e *Estimator) collectDeltas() []*preintegration.Delta {
	deltas := make([]*preintegration.Delta, 0, e.window.W)
	for i := 1; i <= e.window.W; i++ {
		if e.window.Slots[i].Delta != nil {
			deltas = append(deltas, e.window.Slots[i].Delta)
		}
	}
	return deltas
}

// repropagateAll re-propagates every window slot's pre-integration delta with new reference
// biases, per spec.md §4.3's "re-propagate all pre-integration deltas with the new Bg" step.
func (e *Estimator) repropagateAll(ba, bg r3.Vector) {
	for i := 1; i <= e.window.W; i++ {
		if e.window.Slots[i].Delta != nil {
			e.window.Slots[i].Delta.Repropagate(ba, bg)
		}
		e.window.Slots[i].Ba = ba
		e.window.Slots[i].Bg = bg
	}
}

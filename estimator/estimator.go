package estimator

import (
	"context"
	"math"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/vio/config"
	"go.viam.com/vio/features"
	"go.viam.com/vio/logging"
	"go.viam.com/vio/marginalize"
	"go.viam.com/vio/optimizer"
	"go.viam.com/vio/preintegration"
	"go.viam.com/vio/solver"
	"go.viam.com/vio/spatialmath"
)

// huberDelta is the robust loss threshold on reprojection residuals, per spec.md §4.4's "Huber
// loss scale 1.0" (expressed in the same precision-weighted units NewReprojectionResidual uses).
const huberDelta = 1.0

// Estimator owns one sliding-window visual-inertial estimator instance: the window state, the
// feature map, the current extrinsic/time-offset/gravity estimates, the marginalization prior
// carried across steps, and the pluggable nonlinear solver. It mirrors the teacher's SLAM service
// builtin's pattern of a single mutable struct advanced by discrete Process* calls rather than a
// class hierarchy of per-stage objects.
type Estimator struct {
	cfg    config.Config
	logger logging.Logger

	window         *Window
	featureManager *features.Manager
	solver         optimizer.Solver

	extrinsics []*spatialmath.Pose // camera-to-body, length cfg.NumOfCam
	td         float64
	gravity    r3.Vector

	prior       *marginalize.Prior
	initialized bool

	// building accumulates raw IMU samples into the pre-integration delta for the window's
	// pending slot; it is finalized into that slot and reset to nil every ProcessImage call.
	building         *preintegration.Delta
	haveLastIMU      bool
	lastIMUTime      float64
	lastAcc, lastGyr r3.Vector

	// latest is the fast-forward nominal state advanced by every raw IMU sample via midpoint
	// integration, independent of the window; it seeds each new slot's pose/velocity guess and
	// is what a caller wanting IMU-rate odometry between keyframes would read.
	latest Slot
}

// NewEstimator validates cfg and returns a fresh Estimator with an empty window, seeded with
// cfg's extrinsic/gravity defaults and the dogleg solver as its default backend.
func NewEstimator(cfg config.Config, logger logging.Logger) (*Estimator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewBlankLogger("vio.estimator")
	}

	e := &Estimator{
		cfg:    cfg,
		logger: logger,
		solver: solver.New(),
		td:     cfg.Td,
	}
	e.Reset()
	return e, nil
}

// SetSolver overrides the default dogleg solver, e.g. with the nlopt cgo backend.
func (e *Estimator) SetSolver(s optimizer.Solver) { e.solver = s }

// Gravity returns the estimator's current world-frame gravity vector, fixed once initialization
// completes. A measurement pipeline's fast-forward predictor needs this to resync after every
// solve, since it integrates independently of the estimator's own window state.
func (e *Estimator) Gravity() r3.Vector { return e.gravity }

// Reset clears every piece of mutable state back to a fresh, uninitialized window, per spec.md
// §9's clear_state/set_parameter operation.
func (e *Estimator) Reset() {
	e.window = NewWindow(e.cfg.WindowSize)
	featureCfg := features.DefaultConfig(e.cfg.FocalLength)
	featureCfg.MaxDepth = e.cfg.MaxDepth
	e.featureManager = features.NewManager(featureCfg, e.logger.Sublogger("features"))
	e.prior = nil
	e.initialized = false
	e.building = nil
	e.haveLastIMU = false
	e.lastAcc, e.lastGyr = r3.Vector{}, r3.Vector{}
	e.latest = Slot{Q: quat.Number{Real: 1}}
	e.td = e.cfg.Td
	e.gravity = r3.Vector{Z: -e.cfg.Gravity}

	e.extrinsics = make([]*spatialmath.Pose, e.cfg.NumOfCam)
	for i := range e.extrinsics {
		if i < len(e.cfg.Extrinsics) {
			seed := e.cfg.Extrinsics[i]
			e.extrinsics[i] = spatialmath.NewPoseFromQuaternion(seed.TIC.Point(), seed.RIC.Orientation().Quaternion())
		} else {
			e.extrinsics[i] = spatialmath.NewZeroPose()
		}
	}
}

func (e *Estimator) extrinsic(cam int) *spatialmath.Pose {
	if cam >= 0 && cam < len(e.extrinsics) {
		return e.extrinsics[cam]
	}
	return spatialmath.NewZeroPose()
}

// extrinsicOrIdentity is extrinsic's alias for call sites that want to make explicit that a
// missing camera (e.g. cam 1 in a mono rig) falls back to identity rather than a configured seed.
func (e *Estimator) extrinsicOrIdentity(cam int) *spatialmath.Pose { return e.extrinsic(cam) }

func (e *Estimator) noiseConfig() preintegration.NoiseConfig {
	return preintegration.NoiseConfig{
		AccNoise:     e.cfg.AccNoise,
		GyrNoise:     e.cfg.GyrNoise,
		AccBiasNoise: e.cfg.AccBiasNoise,
		GyrBiasNoise: e.cfg.GyrBiasNoise,
	}
}

// ProcessIMU integrates one raw sample through the currently-building pre-integration delta and
// advances the fast-forward nominal state, per spec.md §4.6.
func (e *Estimator) ProcessIMU(t float64, acc, gyr r3.Vector) {
	if !e.haveLastIMU {
		e.haveLastIMU = true
		e.lastIMUTime = t
		e.lastAcc, e.lastGyr = acc, gyr
		e.latest.H = t
		return
	}

	dt := t - e.lastIMUTime
	if dt <= 0 {
		e.logger.Warnw("estimator: dropping non-increasing imu sample", "t", t, "last", e.lastIMUTime)
		return
	}

	if e.building == nil {
		e.building = preintegration.New(e.latest.Ba, e.latest.Bg, e.lastAcc, e.lastGyr, e.noiseConfig())
	}
	e.building.Push(dt, acc, gyr)
	e.propagateLatest(dt, e.lastAcc, e.lastGyr, acc, gyr)
	e.latest.H = t

	e.lastIMUTime = t
	e.lastAcc, e.lastGyr = acc, gyr
}

// propagateLatest runs one midpoint-integration step of the fast-forward nominal state, the same
// shape as preintegration.Delta.integrate but accumulating an absolute world-frame pose/velocity
// rather than a relative delta, following VINS-Mono's fastPredictIMU.
func (e *Estimator) propagateLatest(dt float64, acc0, gyr0, acc1, gyr1 r3.Vector) {
	unGyr := gyr0.Add(gyr1).Mul(0.5).Sub(e.latest.Bg)
	halfAngle := unGyr.Mul(0.5 * dt)
	dq := quat.Number{Real: 1, Imag: halfAngle.X, Jmag: halfAngle.Y, Kmag: halfAngle.Z}
	nq := quat.Mul(e.latest.Q, dq)
	nq = quat.Scale(1/quat.Abs(nq), nq)

	unAcc0 := quatRotate(e.latest.Q, acc0.Sub(e.latest.Ba)).Add(e.gravity)
	unAcc1 := quatRotate(nq, acc1.Sub(e.latest.Ba)).Add(e.gravity)
	unAcc := unAcc0.Add(unAcc1).Mul(0.5)

	e.latest.P = e.latest.P.Add(e.latest.V.Mul(dt)).Add(unAcc.Mul(0.5 * dt * dt))
	e.latest.V = e.latest.V.Add(unAcc.Mul(dt))
	e.latest.Q = nq
}

// ProcessImage runs one image-rate step: finalize the pending pre-integration delta into the
// window's pending slot, update the feature map, initialize if the window has just filled, and
// otherwise solve, fix the yaw gauge, reject outliers, marginalize, and slide. Per spec.md §3/§4.
func (e *Estimator) ProcessImage(ctx context.Context, t float64, frame features.Frame) (StepOutputs, error) {
	target := e.window.W
	if !e.window.Full() {
		target = e.window.CurrentSlot + 1
	}

	e.window.Slots[target].H = t
	e.window.Slots[target].P = e.latest.P
	e.window.Slots[target].Q = e.latest.Q
	e.window.Slots[target].V = e.latest.V
	e.window.Slots[target].Ba = e.latest.Ba
	e.window.Slots[target].Bg = e.latest.Bg
	if target > 0 {
		e.window.Slots[target].Delta = e.building
	}
	e.building = nil
	if target > e.window.CurrentSlot {
		e.window.CurrentSlot = target
	}

	isKeyframe := e.featureManager.AddFrameAndCheckParallax(target, frame, e.td)

	if !e.window.Full() {
		return e.publishSlot(target), nil
	}

	if !e.initialized {
		if e.tryInitialize() {
			e.initialized = true
			e.logger.Infow("estimator: initialized", "t", t)
		} else {
			e.slideSecondNew()
			return StepOutputs{Initialized: false}, nil
		}
	}

	e.triangulateNewFeatures()

	prevQ0, prevP0 := e.window.Slots[0].Q, e.window.Slots[0].P

	problem := e.buildProblem()
	opts := optimizer.SolveOptions{
		MaxIterations: e.cfg.NumIterations,
		MaxTime:       time.Duration(e.cfg.SolverTime * float64(time.Second)),
	}
	if _, err := e.solver.Solve(ctx, problem, opts); err != nil {
		return StepOutputs{}, errors.Wrap(err, "estimator: solving factor graph")
	}
	e.writeBack(problem)
	e.fixYawGauge(prevQ0, prevP0)
	e.rejectOutliers()

	out := e.publishSlot(e.window.W)

	if isKeyframe {
		e.slideOldWithMarginalization()
	} else {
		e.slideSecondNew()
	}
	return out, nil
}

// triangulateNewFeatures solves for the depth of every feature that has not yet been estimated,
// using the window's current poses; called once per keyframe/non-keyframe step before the factor
// graph is built, since new features enter the map continuously as the window slides and each
// needs an initial depth before it can contribute a reprojection residual.
func (e *Estimator) triangulateNewFeatures() {
	slots := make([]int, len(e.window.Slots))
	for i := range slots {
		slots[i] = i
	}
	e.featureManager.Triangulate(slots, e.window.Poses(), e.extrinsic(0), e.extrinsicOrIdentity(1))
}

// buildProblem assembles the factor graph over the window's current state: one pose and
// speed-bias block per slot, one extrinsic block per camera, the td block, one feature block per
// estimated feature, and IMU/reprojection/prior residuals against them, per spec.md §4.4.
func (e *Estimator) buildProblem() *optimizer.Problem {
	p := optimizer.NewProblem()

	for i := range e.window.Slots {
		s := &e.window.Slots[i]
		p.AddBlock(&optimizer.ParamBlock{ID: marginalize.PoseBlock(i), Pose: s.Pose()})
		p.AddBlock(&optimizer.ParamBlock{
			ID:        marginalize.SpeedBiasBlock(i),
			SpeedBias: optimizer.SpeedBias{V: s.V, Ba: s.Ba, Bg: s.Bg},
		})
	}
	for c := 0; c < e.cfg.NumOfCam; c++ {
		p.AddBlock(&optimizer.ParamBlock{
			ID:       marginalize.ExtrinsicBlock(c),
			Pose:     e.extrinsic(c),
			Constant: e.cfg.EstimateExtrinsic == config.ExtrinsicFixed,
		})
	}
	p.AddBlock(&optimizer.ParamBlock{ID: marginalize.TdBlock(), Scalar: e.td, Constant: !e.cfg.EstimateTd})
	for id, depth := range e.featureManager.GetDepthVector() {
		p.AddBlock(&optimizer.ParamBlock{ID: marginalize.FeatureBlock(id), Scalar: depth})
	}

	get := func(b marginalize.BlockID) []float64 { return p.Blocks[b].Ambient() }

	for i := 1; i <= e.window.W; i++ {
		d := e.window.Slots[i].Delta
		if d == nil {
			continue
		}
		if err := d.ValidateSumDt(); err != nil {
			e.logger.Warnw("estimator: dropping imu factor", "slot", i, "error", err)
			continue
		}
		p.AddResidual(optimizer.NewIMUResidual(i-1, i, d, e.gravity, get))
	}

	for id, f := range e.featureManager.Features() {
		if f.Solve != features.Estimated {
			continue
		}
		anchor := f.StartFrame
		anchorBearing := f.Observations[0].Bearing
		for k, obs := range f.Observations {
			slot := anchor + k
			switch {
			case slot == anchor && obs.HasStereo:
				spec := optimizer.ReprojectionSpec{
					Kind: optimizer.StereoOneFrame, FeatureID: id, AnchorSlot: anchor, ObsSlot: anchor,
					AnchorBearing: anchorBearing, ObsBearing: obs.StereoBearing, MainCam: 0, StereoCam: 1,
				}
				p.AddResidual(optimizer.NewReprojectionResidual(spec, get, e.cfg.FocalLength, huberDelta, e.cfg.Fisheye))
			case slot == anchor:
				continue
			default:
				spec := optimizer.ReprojectionSpec{
					Kind: optimizer.MonoTwoFrame, FeatureID: id, AnchorSlot: anchor, ObsSlot: slot,
					AnchorBearing: anchorBearing, ObsBearing: obs.Bearing, MainCam: 0,
				}
				p.AddResidual(optimizer.NewReprojectionResidual(spec, get, e.cfg.FocalLength, huberDelta, e.cfg.Fisheye))
				if obs.HasStereo {
					stereoSpec := optimizer.ReprojectionSpec{
						Kind: optimizer.StereoTwoFrame, FeatureID: id, AnchorSlot: anchor, ObsSlot: slot,
						AnchorBearing: anchorBearing, ObsBearing: obs.StereoBearing, MainCam: 0, StereoCam: 1,
					}
					p.AddResidual(optimizer.NewReprojectionResidual(stereoSpec, get, e.cfg.FocalLength, huberDelta, e.cfg.Fisheye))
				}
			}
		}
	}

	if e.prior.Valid() {
		dx := make(map[marginalize.BlockID]*mat.VecDense, len(e.prior.Blocks))
		for _, b := range e.prior.Blocks {
			blk, ok := p.Blocks[b]
			ref := e.prior.LinPoint[b]
			if !ok || ref == nil {
				continue
			}
			delta := optimizer.Local(b.Kind, blk.Ambient(), ref)
			dx[b] = mat.NewVecDense(len(delta), delta)
		}
		p.AddResidual(e.prior.AsResidual(dx))
	}

	return p
}

// writeBack copies the solver's output back into the window, extrinsics, td, and feature depths.
func (e *Estimator) writeBack(p *optimizer.Problem) {
	for i := range e.window.Slots {
		pose := p.Blocks[marginalize.PoseBlock(i)]
		e.window.Slots[i].P = pose.Pose.Point()
		e.window.Slots[i].Q = pose.Pose.Orientation().Quaternion()

		sb := p.Blocks[marginalize.SpeedBiasBlock(i)]
		e.window.Slots[i].V = sb.SpeedBias.V
		e.window.Slots[i].Ba = sb.SpeedBias.Ba
		e.window.Slots[i].Bg = sb.SpeedBias.Bg
	}

	if e.cfg.EstimateExtrinsic != config.ExtrinsicFixed {
		for c := range e.extrinsics {
			if eb, ok := p.Blocks[marginalize.ExtrinsicBlock(c)]; ok {
				e.extrinsics[c] = eb.Pose
			}
		}
	}
	if e.cfg.EstimateTd {
		e.td = p.Blocks[marginalize.TdBlock()].Scalar
	}

	depths := make(map[int]float64)
	for id := range e.featureManager.Features() {
		if fb, ok := p.Blocks[marginalize.FeatureBlock(id)]; ok {
			depths[id] = fb.Scalar
		}
	}
	e.featureManager.SetDepth(depths)

	tail := e.window.Slots[e.window.W]
	e.latest.P, e.latest.Q, e.latest.V, e.latest.Ba, e.latest.Bg = tail.P, tail.Q, tail.V, tail.Ba, tail.Bg
}

// fixYawGauge re-anchors the window to slot 0's pre-solve yaw and position: every slot is rotated
// by slot 0's yaw difference (by its full rotation difference instead when slot 0's pitch is
// within 1 degree of +/-90 degrees, where yaw is ill-defined) and translated so slot 0's position
// is its pre-solve value, per spec.md §4.4's note that the
// solver's 4-DOF gauge freedom (position + yaw) must be pinned back to a stable reference every
// step rather than left to drift, following VINS-Mono's Estimator::optimization gauge fixup.
func (e *Estimator) fixYawGauge(prevQ0 quat.Number, prevP0 r3.Vector) {
	newQ0 := e.window.Slots[0].Q
	newP0 := e.window.Slots[0].P

	prevPitch := pitchFromQuat(prevQ0)
	newPitch := pitchFromQuat(newQ0)

	var rotDiff quat.Number
	if math.Abs(math.Abs(prevPitch)-math.Pi/2) < math.Pi/180 || math.Abs(math.Abs(newPitch)-math.Pi/2) < math.Pi/180 {
		rotDiff = quat.Mul(prevQ0, quat.Conj(newQ0))
	} else {
		rotDiff = yawRotation(yawFromQuat(prevQ0) - yawFromQuat(newQ0))
	}

	for i := range e.window.Slots {
		s := &e.window.Slots[i]
		s.P = quatRotate(rotDiff, s.P.Sub(newP0)).Add(prevP0)
		s.Q = quat.Mul(rotDiff, s.Q)
		s.V = quatRotate(rotDiff, s.V)
	}
	tail := e.window.Slots[e.window.W]
	e.latest.P, e.latest.Q, e.latest.V = tail.P, tail.Q, tail.V
}

func yawFromQuat(q quat.Number) float64 {
	r := spatialmath.QuatToRotationMatrix(q).Dense()
	return math.Atan2(r.At(1, 0), r.At(0, 0))
}

func pitchFromQuat(q quat.Number) float64 {
	r := spatialmath.QuatToRotationMatrix(q).Dense()
	return math.Atan2(-r.At(2, 0), math.Hypot(r.At(2, 1), r.At(2, 2)))
}

func yawRotation(yaw float64) quat.Number {
	half := yaw / 2
	return quat.Number{Real: math.Cos(half), Kmag: math.Sin(half)}
}

// rejectOutliers drops every feature whose mean reprojection error, scaled into pixel units by
// the focal length, exceeds ThresOutlier, per spec.md §4.4's outlier policy.
func (e *Estimator) rejectOutliers() {
	reject := make(map[int]struct{})
	for id, f := range e.featureManager.Features() {
		sum, count := e.featureReprojectionError(f)
		if count == 0 {
			continue
		}
		if mean := sum / float64(count); mean*e.cfg.FocalLength > e.cfg.ThresOutlier {
			reject[id] = struct{}{}
		}
	}
	if len(reject) > 0 {
		e.logger.Debugw("estimator: rejecting outlier features", "count", len(reject))
	}
	e.featureManager.RemoveOutlier(reject)
}

func (e *Estimator) featureReprojectionError(f *features.Feature) (float64, int) {
	if f.Solve != features.Estimated {
		return 0, 0
	}
	anchorPose := e.window.Slots[f.StartFrame].Pose()
	tic0 := e.extrinsic(0)
	anchorObs := f.Observations[0]
	pointBody := tic0.Transform(anchorObs.Bearing.Normalize().Mul(f.Depth()))
	pointWorld := anchorPose.Transform(pointBody)

	var sum float64
	count := 0
	for k, obs := range f.Observations {
		slot := f.StartFrame + k
		obsPose := e.window.Slots[slot].Pose()
		pointBodyObs := spatialmath.Invert(obsPose).Transform(pointWorld)

		pointCamObs := spatialmath.Invert(tic0).Transform(pointBodyObs)
		sum += reprojectionNorm(pointCamObs, obs.Bearing)
		count++

		if obs.HasStereo {
			tic1 := e.extrinsic(1)
			pointCamObs1 := spatialmath.Invert(tic1).Transform(pointBodyObs)
			sum += reprojectionNorm(pointCamObs1, obs.StereoBearing)
			count++
		}
	}
	return sum, count
}

func reprojectionNorm(pointCam, bearing r3.Vector) float64 {
	px, py := normalizedPlane(pointCam)
	ox, oy := normalizedPlane(bearing)
	return math.Hypot(px-ox, py-oy)
}

func normalizedPlane(v r3.Vector) (float64, float64) {
	if v.Z == 0 {
		return v.X, v.Y
	}
	return v.X / v.Z, v.Y / v.Z
}

// slideOldWithMarginalization runs the MARG_OLD path: marginalize slot 0's pose/speed-bias and
// every feature anchored there into a fresh prior (rebuilding the factor graph fresh so the
// marginalization linearizes at the just-solved state, not the pre-solve snapshot the solver's
// own residuals were built against), re-anchor the feature map, and slide the window.
func (e *Estimator) slideOldWithMarginalization() {
	problem := e.buildProblem()
	linPoints := make(map[marginalize.BlockID][]float64, len(problem.Blocks))
	for id, b := range problem.Blocks {
		linPoints[id] = append([]float64{}, b.Ambient()...)
	}

	var anchoredAtZero []int
	for id, f := range e.featureManager.Features() {
		if f.StartFrame == 0 {
			anchoredAtZero = append(anchoredAtZero, id)
		}
	}

	// Only the factors touching slot 0 belong in the prior: the previous prior, the (0,1) IMU
	// factor, and reprojection factors anchored at slot 0. Every other live residual (IMU factors
	// (1,2)..(W-1,W), reprojection factors anchored elsewhere) is rebuilt by buildProblem on the
	// next step; folding them in here would double-count their information once that happens.
	dropSet := map[marginalize.BlockID]bool{
		marginalize.PoseBlock(0):      true,
		marginalize.SpeedBiasBlock(0): true,
	}
	for _, id := range anchoredAtZero {
		dropSet[marginalize.FeatureBlock(id)] = true
	}
	var residuals []marginalize.Residual
	for _, r := range problem.Residuals {
		for _, b := range r.Blocks() {
			if dropSet[b] {
				residuals = append(residuals, r)
				break
			}
		}
	}

	next, err := marginalize.MargOld(residuals, anchoredAtZero, linPoints)
	if err != nil {
		e.logger.Warnw("estimator: MargOld failed, dropping prior", "error", err)
		next = nil
	}
	e.prior = next

	r0, p0 := e.window.Slots[0].Pose(), e.window.Slots[0].P
	r1, p1 := e.window.Slots[1].Pose(), e.window.Slots[1].P
	e.featureManager.RemoveBack()
	e.featureManager.RemoveBackShiftDepth(r0, p0, r1, p1)
	e.featureManager.DecrementStartFrames()

	e.window.SlideOld()
	e.window.Slots[e.window.W].Delta = nil
}

// slideSecondNew runs the MARG_SECOND_NEW path: if the current prior touches the pose about to be
// dropped, re-marginalize it out first; then discard the window's second-newest slot.
func (e *Estimator) slideSecondNew() {
	if e.prior != nil && e.prior.Touches(marginalize.PoseBlock(e.window.W-1)) {
		next, err := marginalize.MargSecondNew(e.prior, e.window.W)
		if err != nil {
			e.logger.Warnw("estimator: MargSecondNew failed, keeping prior unchanged", "error", err)
		} else {
			e.prior = next
		}
	}
	e.window.SlideSecondNew()
	e.featureManager.RemoveFront(e.window.W - 1)
}

// publishSlot builds the StepOutputs for the window slot at idx.
func (e *Estimator) publishSlot(idx int) StepOutputs {
	slot := e.window.Slots[idx]

	var ids []int
	for id, f := range e.featureManager.Features() {
		if featureObservedAt(f, idx) {
			ids = append(ids, id)
		}
	}

	cams := make([]CameraPose, len(e.extrinsics))
	for i, pose := range e.extrinsics {
		cams[i] = CameraPose{CameraID: i, TIC: pose.Point(), RIC: pose.Orientation().Quaternion()}
	}

	return StepOutputs{
		Odometry:    Odometry{T: slot.H, P: slot.P, Q: slot.Q, V: slot.V},
		Keyframe:    Keyframe{T: slot.H, P: slot.P, Q: slot.Q, FeatureIDs: ids},
		CameraPoses: cams,
		TF:          TF{T: slot.H, P: slot.P, Q: slot.Q},
		Bias:        Bias{T: slot.H, Ba: slot.Ba, Bg: slot.Bg},
		Initialized: e.initialized,
	}
}

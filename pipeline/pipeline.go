// Package pipeline runs the estimator's measurement pipeline: image/IMU input tasks, a dedicated
// process task, and an optional depth task, wired together the way the teacher's
// utils.StoppableWorkers runs a fixed set of long-lived goroutines that exit on context
// cancellation, per spec.md §4.6/§5.
package pipeline

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/golang/geo/r3"

	"go.viam.com/vio/depth"
	"go.viam.com/vio/estimator"
	"go.viam.com/vio/features"
	"go.viam.com/vio/logging"
	"go.viam.com/vio/pointcloud"
	"go.viam.com/vio/spatialmath"
	"go.viam.com/vio/tracker"
	vioutils "go.viam.com/vio/utils"
)

// bufSize is the depth of every published stream channel; sends beyond it are dropped rather
// than blocking a producer, per spec.md §5's "producers never block".
const bufSize = 32

// imuSample is one raw IMU measurement, buffered until the process task consumes it.
type imuSample struct {
	t        float64
	acc, gyr r3.Vector
}

// featureJob is one image-rate feature frame waiting for the process task, already halved down
// from the image input task's every-other-frame policy.
type featureJob struct {
	t     float64
	frame features.Frame
}

// imagePair is one raw stereo pair waiting for the depth task.
type imagePair struct {
	t           float64
	left, right *image.Gray
}

// odomSample is one published keyframe pose, kept briefly for the depth task's timestamp-nearest
// pairing.
type odomSample struct {
	t    float64
	pose *spatialmath.Pose
}

// Pipeline wires an Estimator and Tracker (and, if enabled, a depth.Generator) into the
// concurrent measurement pipeline of spec.md §4.6. The Estimator's heavy state (window, features,
// pre-integration, prior) is touched only from the process task; every other task touches only
// the queues below and the fast-forward predictor, guarded by mu ("M_buf") and odomMu ("M_odom").
type Pipeline struct {
	est     *estimator.Estimator
	tracker tracker.Tracker
	depth   *depth.Generator
	td      float64
	imuFreq float64
	logger  logging.Logger

	mu           sync.Mutex // "M_buf": queues + fast-forward predictor state
	featureQueue []featureJob
	imuQueue     []imuSample
	imageQueue   []imagePair
	prevT        float64
	imageCounter int
	predictor    predictor
	haveLastRaw  bool
	lastRawT     float64

	odomMu      sync.Mutex // "M_odom"
	odomHistory []odomSample

	workers vioutils.StoppableWorkers

	Odometry   chan estimator.Odometry
	Keyframe   chan estimator.Keyframe
	CameraPose chan []estimator.CameraPose
	TF         chan estimator.TF
	Bias       chan estimator.Bias
	DepthCloud chan pointcloud.PointCloud
}

// New builds a Pipeline around an already-configured Estimator and Tracker. depthGen may be nil
// when depth generation is disabled; imuFreq is used only for the dt sanity warnings spec.md §4.6
// names, and may be 0 to disable them.
func New(est *estimator.Estimator, trk tracker.Tracker, depthGen *depth.Generator, td, imuFreq float64, logger logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.NewBlankLogger("vio.pipeline")
	}
	return &Pipeline{
		est:        est,
		tracker:    trk,
		depth:      depthGen,
		td:         td,
		imuFreq:    imuFreq,
		logger:     logger,
		Odometry:   make(chan estimator.Odometry, bufSize),
		Keyframe:   make(chan estimator.Keyframe, bufSize),
		CameraPose: make(chan []estimator.CameraPose, bufSize),
		TF:         make(chan estimator.TF, bufSize),
		Bias:       make(chan estimator.Bias, bufSize),
		DepthCloud: make(chan pointcloud.PointCloud, bufSize),
	}
}

// Start launches the process task and, if depth is enabled, the depth task as long-lived
// goroutines, following the teacher's utils.NewStoppableWorkers convention of one call starting
// every worker at once. The image and IMU input tasks run synchronously on the caller's own
// goroutine via InputImage/InputIMU rather than as separate loops, since spec.md describes them
// as invoked directly by the caller rather than polling a queue of their own.
func (p *Pipeline) Start() {
	funcs := []func(context.Context){p.processLoop}
	if p.depth != nil {
		funcs = append(funcs, p.depthLoop)
	}
	p.workers = vioutils.NewStoppableWorkers(funcs...)
}

// Stop cancels every running task and waits for them to exit, per spec.md §5's cancellation
// model: loops exit at their next sleep boundary and outstanding queue contents are discarded.
func (p *Pipeline) Stop() {
	if p.workers != nil {
		p.workers.Stop()
	}
}

// InputIMU is the IMU input task's entry point (spec.md §4.6): nonblocking, called directly by
// the caller's IMU driver thread. It enqueues the sample for the process task and immediately
// advances a lightweight fast-forward predictor (kept separate from the estimator's authoritative
// state, following VINS-Mono's fastPredictIMU/predict split) so odometry publishes at IMU rate
// instead of waiting for the next image.
func (p *Pipeline) InputIMU(t float64, acc, gyr r3.Vector) {
	p.mu.Lock()
	p.imuQueue = append(p.imuQueue, imuSample{t: t, acc: acc, gyr: gyr})

	var dt float64
	if p.haveLastRaw {
		dt = t - p.lastRawT
		warnIMUDt(p.logger, dt, p.imuFreq)
	}
	p.lastRawT, p.haveLastRaw = t, true

	odom := p.predictor.step(dt, acc, gyr)
	odom.T = t
	p.mu.Unlock()

	select {
	case p.Odometry <- odom:
	default:
	}
}

// InputImage is the image input task's entry point (spec.md §4.6): invokes the tracker on every
// call, but only enqueues a feature job (and, when depth is enabled, a raw image pair) on every
// other call, halving the estimator's effective image rate relative to the tracker's.
func (p *Pipeline) InputImage(ctx context.Context, t float64, left, right *image.Gray) error {
	frame, err := p.tracker.TrackImage(ctx, t, left, right)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.imageCounter++
	if p.imageCounter%2 == 0 {
		p.featureQueue = append(p.featureQueue, featureJob{t: t, frame: frame})
		if p.depth != nil {
			p.imageQueue = append(p.imageQueue, imagePair{t: t, left: left, right: right})
		}
	}
	p.mu.Unlock()
	return nil
}

// InputFeature bypasses the tracker entirely, injecting a feature frame directly for replay or
// test use, per spec.md §6's input_feature.
func (p *Pipeline) InputFeature(t float64, frame features.Frame) {
	p.mu.Lock()
	p.featureQueue = append(p.featureQueue, featureJob{t: t, frame: frame})
	p.mu.Unlock()
}

// processLoop is the process task of spec.md §4.6: dequeue the oldest feature job, wait for
// enough buffered IMU to cover it, splice/interpolate the IMU samples spanning (prevT, t+td],
// run them through the estimator, then call ProcessImage and publish its outputs.
func (p *Pipeline) processLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		job, ok := p.popFeatureJob()
		if !ok {
			sleep(ctx, 2*time.Millisecond)
			continue
		}

		target := job.t + p.td
		samples, ready := p.waitForIMU(ctx, target)
		if !ready {
			return
		}

		p.integrateIMU(samples, target)

		out, err := p.est.ProcessImage(ctx, job.t, job.frame)
		if err != nil {
			p.logger.Warnw("pipeline: processImage failed", "t", job.t, "error", err)
			continue
		}
		p.resyncPredictor(out, target)
		p.publishStep(out)
		p.recordOdometry(job.t, out)
	}
}

// waitForIMU blocks (re-checking every 5 ms, per spec.md §5) until the buffered IMU queue's
// latest timestamp reaches target, then returns a copy of every buffered sample.
func (p *Pipeline) waitForIMU(ctx context.Context, target float64) ([]imuSample, bool) {
	for {
		if ctx.Err() != nil {
			return nil, false
		}
		p.mu.Lock()
		if len(p.imuQueue) > 0 && p.imuQueue[len(p.imuQueue)-1].t >= target {
			out := make([]imuSample, len(p.imuQueue))
			copy(out, p.imuQueue)
			p.mu.Unlock()
			return out, true
		}
		p.mu.Unlock()
		sleep(ctx, 5*time.Millisecond)
	}
}

// integrateIMU feeds every IMU sample in (prevT, target] through the estimator's ProcessIMU,
// interpolating the slice's start and end so it runs exactly from prevT to target, per spec.md
// §4.6's "linearly interpolating the endpoints" step, then trims the consumed prefix from the
// buffered queue.
func (p *Pipeline) integrateIMU(samples []imuSample, target float64) {
	p.mu.Lock()
	prevT := p.prevT
	p.mu.Unlock()
	if prevT == 0 && len(samples) > 0 {
		prevT = samples[0].t
	}

	startIdx := 0
	for startIdx < len(samples) && samples[startIdx].t <= prevT {
		startIdx++
	}

	feed := func(s imuSample) { p.est.ProcessIMU(s.t, s.acc, s.gyr) }

	fedCount := 0
	if startIdx > 0 && startIdx < len(samples) && samples[startIdx].t > prevT {
		feed(interpolateSample(samples[startIdx-1], samples[startIdx], prevT))
		fedCount++
	}

	var lastFed *imuSample
	for i := startIdx; i < len(samples); i++ {
		s := samples[i]
		if s.t > target {
			break
		}
		feed(s)
		fedCount++
		lastFed = &samples[i]
		if s.t == target {
			break
		}
	}

	if lastFed != nil && lastFed.t < target {
		for i := range samples {
			if samples[i].t > target {
				feed(interpolateSample(*lastFed, samples[i], target))
				fedCount++
				break
			}
		}
	}

	if span := target - prevT; span > 0 && fedCount > 1 {
		if effectiveHz := float64(fedCount-1) / span; effectiveHz < 350 {
			p.logger.Warnw("pipeline: effective imu rate below 350Hz", "hz", effectiveHz)
		}
	}

	p.mu.Lock()
	p.prevT = target
	kept := p.imuQueue[:0]
	for _, s := range p.imuQueue {
		if s.t > target {
			kept = append(kept, s)
		}
	}
	p.imuQueue = kept
	p.mu.Unlock()
}

// resyncPredictor re-anchors the fast-forward predictor to the just-solved slot-W state and
// re-propagates it against any IMU samples already buffered past target, per spec.md §4.6's
// "refresh latest fast-forward state ... re-propagate against any IMU samples already buffered
// past t" step, mirroring VINS-Mono's update() re-seeding tmp_P/tmp_Q/tmp_V after every solve.
func (p *Pipeline) resyncPredictor(out estimator.StepOutputs, target float64) {
	p.mu.Lock()
	p.predictor.resync(out.Odometry, out.Bias, p.est.Gravity())
	pending := make([]imuSample, len(p.imuQueue))
	copy(pending, p.imuQueue)
	p.mu.Unlock()

	lastT := target
	for _, s := range pending {
		p.mu.Lock()
		p.predictor.step(s.t-lastT, s.acc, s.gyr)
		p.mu.Unlock()
		lastT = s.t
	}
}

// interpolateSample linearly interpolates an IMU sample's acc/gyr between a and b at time t.
func interpolateSample(a, b imuSample, t float64) imuSample {
	if b.t == a.t {
		return imuSample{t: t, acc: a.acc, gyr: a.gyr}
	}
	frac := (t - a.t) / (b.t - a.t)
	return imuSample{
		t:   t,
		acc: a.acc.Add(b.acc.Sub(a.acc).Mul(frac)),
		gyr: a.gyr.Add(b.gyr.Sub(a.gyr).Mul(frac)),
	}
}

// warnIMUDt logs when a raw IMU sample's spacing falls outside spec.md's documented nominal band
// of [0.5, 1.5]/IMU_rate, or (fast-forward dt) beyond 1.5/IMU_rate.
func warnIMUDt(logger logging.Logger, dt, imuFreq float64) {
	if imuFreq <= 0 || dt <= 0 {
		return
	}
	nominal := 1 / imuFreq
	if dt < 0.5*nominal || dt > 1.5*nominal {
		logger.Warnw("pipeline: imu sample dt outside nominal band", "dt", dt, "nominal", nominal)
	}
}

// popFeatureJob removes and returns the oldest queued feature job, if any.
func (p *Pipeline) popFeatureJob() (featureJob, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.featureQueue) == 0 {
		return featureJob{}, false
	}
	job := p.featureQueue[0]
	p.featureQueue = p.featureQueue[1:]
	return job, true
}

// recordOdometry appends the just-published keyframe pose to the odometry history the depth task
// pairs against, warning if the gap since the previous keyframe exceeds 0.11s, and trimming
// entries older than a few seconds.
func (p *Pipeline) recordOdometry(t float64, out estimator.StepOutputs) {
	p.odomMu.Lock()
	defer p.odomMu.Unlock()
	if len(p.odomHistory) > 0 {
		if gap := t - p.odomHistory[len(p.odomHistory)-1].t; gap > 0.11 {
			p.logger.Warnw("pipeline: keyframe gap exceeds 0.11s", "gap", gap)
		}
	}
	pose := spatialmath.NewPoseFromQuaternion(out.Keyframe.P, out.Keyframe.Q)
	p.odomHistory = append(p.odomHistory, odomSample{t: t, pose: pose})
	cutoff := t - 5
	kept := p.odomHistory[:0]
	for _, s := range p.odomHistory {
		if s.t >= cutoff {
			kept = append(kept, s)
		}
	}
	p.odomHistory = kept
}

// depthLoop is the depth task of spec.md §4.6: for the head of the image queue, wait until a
// timestamp-matching odometry exists (discarding stale ones), then back-project into world frame.
func (p *Pipeline) depthLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		pair, ok := p.popImagePair()
		if !ok {
			sleep(ctx, 5*time.Millisecond)
			continue
		}
		pose, ok := p.findOdometry(pair.t)
		if !ok {
			sleep(ctx, 5*time.Millisecond)
			p.mu.Lock()
			p.imageQueue = append([]imagePair{pair}, p.imageQueue...)
			p.mu.Unlock()
			continue
		}
		cloud := p.depth.Process(pair.left, pair.right, pose)
		select {
		case p.DepthCloud <- cloud:
		default:
			p.logger.Debug("pipeline: dropping depth cloud, channel full")
		}
	}
}

func (p *Pipeline) popImagePair() (imagePair, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.imageQueue) == 0 {
		return imagePair{}, false
	}
	pair := p.imageQueue[0]
	p.imageQueue = p.imageQueue[1:]
	return pair, true
}

// findOdometry returns the odometry pose within 1 ms of t, discarding every older entry it scans
// past, per spec.md §4.6's depth-task pairing rule.
func (p *Pipeline) findOdometry(t float64) (*spatialmath.Pose, bool) {
	p.odomMu.Lock()
	defer p.odomMu.Unlock()
	kept := p.odomHistory[:0]
	var found *spatialmath.Pose
	for _, s := range p.odomHistory {
		if s.t < t-0.001 {
			continue // stale, discard
		}
		kept = append(kept, s)
		if found == nil && absDiff(s.t, t) <= 0.001 {
			found = s.pose
		}
	}
	p.odomHistory = kept
	return found, found != nil
}

func absDiff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}

// publishStep fans a step's outputs out onto the pipeline's channels with a non-blocking send,
// dropping the value rather than blocking the process thread if a subscriber has fallen behind.
func (p *Pipeline) publishStep(out estimator.StepOutputs) {
	select {
	case p.Odometry <- out.Odometry:
	default:
	}
	select {
	case p.Keyframe <- out.Keyframe:
	default:
	}
	select {
	case p.CameraPose <- out.CameraPoses:
	default:
	}
	select {
	case p.TF <- out.TF:
	default:
	}
	select {
	case p.Bias <- out.Bias:
	default:
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

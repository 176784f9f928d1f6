package tracker

import (
	"context"
	"image"
	"os"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"go.viam.com/vio/cameramodel"
	"go.viam.com/vio/features"
	"go.viam.com/vio/logging"
)

// track is the tracker's per-feature bookkeeping between frames: its current main-camera pixel
// position and the last frame's timestamp it was seen at, mirroring the teacher
// `vision/odometry/motionestimation.go` habit of keeping per-feature pixel state in a plain map
// rather than a pointer graph.
type track struct {
	pixel    point
	lastT    float64
	lastTime float64 // timestamp at which lastT (the previous pixel x) was recorded, for pixel-velocity estimation
}

// CPU is the default tracker implementation: Shi-Tomasi corner detection for new features plus
// brute-force patch correlation for frame-to-frame and stereo matching.
type CPU struct {
	cfg    Config
	models []cameramodel.Model // index 0 = main cam, index 1 = stereo cam if present
	logger logging.Logger

	nextID int
	tracks map[int]*track

	prevLeft   *image.Gray
	prediction map[int]r2.Point
}

// New constructs a CPU tracker for the given camera models (index 0 main, index 1 stereo cam if
// Config.Stereo).
func New(cfg Config, models []cameramodel.Model, logger logging.Logger) *CPU {
	if logger == nil {
		logger = logging.NewBlankLogger("vio.tracker")
	}
	return &CPU{cfg: cfg, models: models, logger: logger, tracks: make(map[int]*track)}
}

// SetPrediction stores a hint of where features are expected next, used to center the next
// frame's patch search instead of the feature's last known position.
func (c *CPU) SetPrediction(predict map[int]r2.Point) {
	c.prediction = predict
}

// intrinsicFile is the YAML shape a calibration file path is expected to contain: a pinhole
// model with optional Brown-Conrady distortion coefficients, the same flat-field shape the
// teacher's `services/slam/orbslam_yaml.go` uses for its own hand-rolled SLAM-backend configs.
type intrinsicFile struct {
	Width, Height int       `yaml:"width"`
	Fx, Fy        float64   `yaml:"fx"`
	Cx, Cy        float64   `yaml:"cx"`
	Distortion    []float64 `yaml:"distortion"`
}

// ReadIntrinsicParameter loads one calibration YAML file per camera, in camera-index order,
// replacing this tracker's camera models.
func (c *CPU) ReadIntrinsicParameter(paths []string) error {
	models := make([]cameramodel.Model, len(paths))
	for i, p := range paths {
		raw, err := os.ReadFile(p)
		if err != nil {
			return errors.Wrapf(err, "tracker: reading intrinsics %q", p)
		}
		var f intrinsicFile
		if err := yaml.Unmarshal(raw, &f); err != nil {
			return errors.Wrapf(err, "tracker: parsing intrinsics %q", p)
		}
		models[i] = cameramodel.NewPinhole(f.Width, f.Height, f.Fx, f.Fy, f.Cx, f.Cy, cameramodel.NewBrownConrady(f.Distortion))
	}
	c.models = models
	return nil
}

// TrackImage implements Tracker.
func (c *CPU) TrackImage(ctx context.Context, t float64, left, right *image.Gray) (features.Frame, error) {
	if len(c.models) == 0 {
		return nil, errors.New("tracker: no camera models configured, call ReadIntrinsicParameter or New with models")
	}

	c.trackExisting(left, t)
	c.detectNew(left)

	frame := make(features.Frame)
	for id, tr := range c.tracks {
		mainBearing := c.models[0].Lift(r2.Point{X: tr.pixel.x, Y: tr.pixel.y})
		velocity := r2.Point{}
		if tr.lastTime > 0 && t > tr.lastTime {
			velocity = r2.Point{X: (tr.pixel.x - tr.lastT) / (t - tr.lastTime)}
		}
		obs := []features.CameraObservation{{
			CameraID:      0,
			Bearing:       mainBearing,
			Pixel:         r2.Point{X: tr.pixel.x, Y: tr.pixel.y},
			PixelVelocity: velocity,
		}}

		if c.cfg.Stereo && right != nil && len(c.models) > 1 {
			if stereoPixel, ok := c.matchStereo(left, right, tr.pixel); ok {
				stereoBearing := c.models[1].Lift(r2.Point{X: stereoPixel.x, Y: stereoPixel.y})
				obs = append(obs, features.CameraObservation{CameraID: 1, Bearing: stereoBearing, Pixel: r2.Point{X: stereoPixel.x, Y: stereoPixel.y}})
			}
		}
		frame[id] = obs
		tr.lastT, tr.lastTime = tr.pixel.x, t
	}

	c.prevLeft = left
	return frame, nil
}

// trackExisting advances every live track to its best match in the new frame, dropping tracks
// that lose a match or (when FlowBack is set) fail the forward-backward consistency check.
func (c *CPU) trackExisting(left *image.Gray, t float64) {
	if c.prevLeft == nil {
		return
	}
	const searchRadius = 15
	for id, tr := range c.tracks {
		guess := tr.pixel
		if pred, ok := c.prediction[id]; ok {
			guess = point{pred.X, pred.Y}
		}
		next, ok := trackPatch(c.prevLeft, left, tr.pixel, guess, searchRadius)
		if !ok {
			delete(c.tracks, id)
			continue
		}
		if c.cfg.FlowBack {
			back, ok := trackPatch(left, c.prevLeft, next, tr.pixel, searchRadius)
			if !ok || back.sub(tr.pixel).norm() > 1.5 {
				delete(c.tracks, id)
				continue
			}
		}
		tr.pixel = next
	}
}

// detectNew fills the tracker back up to MaxCnt with freshly detected corners, spaced at least
// MinDist from every currently tracked feature.
func (c *CPU) detectNew(left *image.Gray) {
	need := c.cfg.MaxCnt - len(c.tracks)
	if need <= 0 {
		return
	}
	occupied := make([]point, 0, len(c.tracks))
	for _, tr := range c.tracks {
		occupied = append(occupied, tr.pixel)
	}
	for _, p := range detectCorners(left, occupied, need, c.cfg.MinDist) {
		c.tracks[c.nextID] = &track{pixel: p}
		c.nextID++
	}
}

// matchStereo searches the right image along a small vertical band around the left pixel's row
// (tolerating minor un-rectified vertical offset) for the best horizontal correlation match.
func (c *CPU) matchStereo(left, right *image.Gray, leftPixel point) (point, bool) {
	b := right.Bounds()
	if int(leftPixel.x) >= b.Max.X || int(leftPixel.y) >= b.Max.Y {
		return point{}, false
	}
	const vBand = 2
	bestScore := -1.0
	var best point
	found := false
	for dy := -vBand; dy <= vBand; dy++ {
		for x := b.Min.X + patchHalf; x < int(leftPixel.x)+1; x++ {
			y := int(leftPixel.y) + dy
			if !patchInBounds(right, x, y) {
				continue
			}
			score := ssd(left, int(leftPixel.x), int(leftPixel.y), right, x, y)
			if !found || score < bestScore {
				bestScore, best, found = score, point{float64(x), float64(y)}, true
			}
		}
	}
	return best, found
}

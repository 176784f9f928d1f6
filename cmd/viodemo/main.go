// Package main is the CLI command that replays a recorded IMU/stereo-camera dataset through the
// estimator and prints the resulting odometry stream, the way the teacher's small rimage/robot
// cmd/ binaries wrap a single package behind a thin urfave/cli/v2 front end.
package main

import (
	"context"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"go.viam.com/vio/cameramodel"
	"go.viam.com/vio/config"
	"go.viam.com/vio/depth"
	"go.viam.com/vio/estimator"
	"go.viam.com/vio/logging"
	"go.viam.com/vio/pipeline"
	"go.viam.com/vio/spatialmath"
	"go.viam.com/vio/tracker"
)

// stereoMatchTolerance is how far apart a cam0/cam1 frame pair's timestamps may be and still be
// treated as one stereo capture, mirroring typical hardware-synced stereo rig jitter.
const stereoMatchTolerance = 0.002

func main() {
	app := &cli.App{
		Name:  "viodemo",
		Usage: "replay a recorded IMU/camera dataset through the visual-inertial estimator",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run the estimator against a dataset directory and print odometry",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "dataset",
						Aliases:  []string{"d"},
						Usage:    "dataset directory, containing imu0.csv, cam0/data.csv, cam0/data/, and optionally cam1/",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "config",
						Usage: "YAML file overriding the default estimator configuration",
					},
					&cli.StringFlag{
						Name:  "extrinsic",
						Usage: "camera-to-body extrinsic seed YAML for cam0 (see config.LoadExtrinsicSeed)",
					},
					&cli.BoolFlag{
						Name:  "debug",
						Usage: "enable debug logging",
					},
					&cli.BoolFlag{
						Name:  "keyframes-only",
						Usage: "only print keyframe odometry instead of every published sample",
					},
				},
				Action: runCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCommand(c *cli.Context) error {
	logger := logging.NewLogger("viodemo")
	if c.Bool("debug") {
		logger = logging.NewDebugLogger("viodemo")
	}

	cfg := config.DefaultConfig()
	if p := c.String("config"); p != "" {
		loaded, err := loadConfigYAML(p)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if p := c.String("extrinsic"); p != "" {
		tic, err := config.LoadExtrinsicSeed(p)
		if err != nil {
			return err
		}
		cfg.Extrinsics = []config.CameraExtrinsic{{TIC: tic, RIC: tic}}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	datasetDir := c.String("dataset")
	imuSamples, err := loadIMUCSV(filepath.Join(datasetDir, "imu0.csv"))
	if err != nil {
		return err
	}
	leftFrames, err := loadImageCSV(filepath.Join(datasetDir, "cam0", "data.csv"), filepath.Join(datasetDir, "cam0", "data"))
	if err != nil {
		return err
	}
	var rightFrames []imageRecord
	if cfg.Stereo {
		rightFrames, err = loadImageCSV(filepath.Join(datasetDir, "cam1", "data.csv"), filepath.Join(datasetDir, "cam1", "data"))
		if err != nil {
			return err
		}
	}
	logger.Infow("loaded dataset", "imu_samples", len(imuSamples), "image_frames", len(leftFrames))

	est, err := estimator.NewEstimator(cfg, logger.Sublogger("estimator"))
	if err != nil {
		return err
	}

	leftModel := defaultPinhole(cfg)
	trackerCfg := tracker.Config{MaxCnt: cfg.MaxCnt, MinDist: cfg.MinDist, FlowBack: cfg.FlowBack, Stereo: cfg.Stereo}
	trk := tracker.New(trackerCfg, []cameramodel.Model{leftModel}, logger.Sublogger("tracker"))

	var depthGen *depth.Generator
	if cfg.EnableDepth {
		rightModel := defaultPinhole(cfg)
		rightToLeft := spatialmath.NewZeroPose()
		depthGen = depth.NewGenerator(leftModel, rightModel, rightToLeft, logger.Sublogger("depth"))
	}

	pl := pipeline.New(est, trk, depthGen, cfg.Td, cfg.IMUFreq, logger.Sublogger("pipeline"))
	pl.Start()
	defer pl.Stop()

	done := make(chan struct{})
	go printOdometry(pl, c.Bool("keyframes-only"), done)

	replay(context.Background(), pl, imuSamples, leftFrames, rightFrames)

	close(done)
	return nil
}

// replay feeds every IMU sample and image frame into the pipeline in timestamp order, the way a
// live sensor driver would call InputIMU/InputImage as data arrives, except as fast as this
// process can run rather than throttled to the recording's real-time rate.
func replay(ctx context.Context, pl *pipeline.Pipeline, imuSamples []imuRecord, leftFrames, rightFrames []imageRecord) {
	type event struct {
		t       float64
		isImage bool
		index   int
	}
	events := make([]event, 0, len(imuSamples)+len(leftFrames))
	for i, s := range imuSamples {
		events = append(events, event{t: s.t, index: i})
	}
	for i, im := range leftFrames {
		events = append(events, event{t: im.t, isImage: true, index: i})
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].t < events[j].t })

	for _, ev := range events {
		if ev.isImage {
			frame := leftFrames[ev.index]
			leftImg, err := loadGray(frame.path)
			if err != nil {
				continue
			}
			var rightImg *image.Gray
			if match, ok := nearestFrame(rightFrames, frame.t, stereoMatchTolerance); ok {
				rightImg, _ = loadGray(match.path)
			}
			if err := pl.InputImage(ctx, frame.t, leftImg, rightImg); err != nil {
				continue
			}
			continue
		}
		s := imuSamples[ev.index]
		pl.InputIMU(s.t, s.acc, s.gyr)
	}
}

// nearestFrame finds frames's entry closest in time to t, if any lies within tol.
func nearestFrame(frames []imageRecord, t, tol float64) (imageRecord, bool) {
	best := -1
	bestDiff := math.Inf(1)
	for i, f := range frames {
		diff := math.Abs(f.t - t)
		if diff < bestDiff {
			bestDiff = diff
			best = i
		}
	}
	if best < 0 || bestDiff > tol {
		return imageRecord{}, false
	}
	return frames[best], true
}

func printOdometry(pl *pipeline.Pipeline, keyframesOnly bool, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case o, ok := <-pl.Odometry:
			if !ok {
				return
			}
			if !keyframesOnly {
				fmt.Printf("t=%.4f p=(%.3f,%.3f,%.3f)\n", o.T, o.P.X, o.P.Y, o.P.Z)
			}
		case k, ok := <-pl.Keyframe:
			if !ok {
				return
			}
			if keyframesOnly {
				fmt.Printf("keyframe t=%.4f p=(%.3f,%.3f,%.3f) features=%d\n", k.T, k.P.X, k.P.Y, k.P.Z, len(k.FeatureIDs))
			}
		}
	}
}

func defaultPinhole(cfg config.Config) *cameramodel.Pinhole {
	return cameramodel.NewPinhole(752, 480, cfg.FocalLength, cfg.FocalLength, 376, 240, nil)
}

func loadConfigYAML(path string) (config.Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return config.Config{}, errors.Wrapf(err, "viodemo: reading config %q", path)
	}
	cfg := config.DefaultConfig()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return config.Config{}, errors.Wrapf(err, "viodemo: parsing config %q", path)
	}
	return cfg, nil
}

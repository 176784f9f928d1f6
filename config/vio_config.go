package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"go.viam.com/vio/spatialmath"
)

// ExtrinsicEstimation selects how a camera-to-body extrinsic is treated by the optimizer, per
// spec.md §6's ESTIMATE_EXTRINSIC enumeration.
type ExtrinsicEstimation int

const (
	// ExtrinsicFixed holds the extrinsic constant at its seeded value.
	ExtrinsicFixed ExtrinsicEstimation = 0
	// ExtrinsicRefine jointly refines the extrinsic around its seeded value.
	ExtrinsicRefine ExtrinsicEstimation = 1
	// ExtrinsicCalibrateOnline estimates the extrinsic from scratch with no seed trusted.
	ExtrinsicCalibrateOnline ExtrinsicEstimation = 2
)

// CameraExtrinsic is one camera's seeded body-frame pose, used to initialize an ExtrinsicBlockKind parameter block (spec.md §3 "Extrinsics").
type CameraExtrinsic struct {
	TIC spatialmath.Pose // camera-frame to body-frame translation component honored via TIC.Point()
	RIC spatialmath.Pose // camera-frame to body-frame rotation component honored via RIC.Orientation()
}

// Config is the VIO estimator's process-wide configuration, built once at startup and passed by
// reference, mirroring the teacher's own `config.Config` immutable-singleton convention (spec.md
// §9 "global mutable state" note). Every field corresponds to one of spec.md §6's enumerated
// options.
type Config struct {
	WindowSize int  `yaml:"window_size"`
	NumOfCam   int  `yaml:"num_of_cam"`
	UseIMU     bool `yaml:"use_imu"`
	Stereo     bool `yaml:"stereo"`
	Fisheye    bool `yaml:"fisheye"`
	EnableDepth bool `yaml:"enable_depth"`

	FocalLength float64 `yaml:"focal_length"`
	IMUFreq     float64 `yaml:"imu_freq"`
	ImageFreq   float64 `yaml:"image_freq"`

	SolverTime    float64 `yaml:"solver_time"`
	NumIterations int     `yaml:"num_iterations"`

	EstimateExtrinsic ExtrinsicEstimation `yaml:"estimate_extrinsic"`
	EstimateTd        bool                `yaml:"estimate_td"`
	Td                float64             `yaml:"td"`

	Extrinsics []CameraExtrinsic `yaml:"-"` // loaded via LoadExtrinsicSeed, one per camera

	Gravity float64 `yaml:"gravity_magnitude"`

	AccNoise     float64 `yaml:"acc_noise"`
	GyrNoise     float64 `yaml:"gyr_noise"`
	AccBiasNoise float64 `yaml:"acc_bias_noise"`
	GyrBiasNoise float64 `yaml:"gyr_bias_noise"`

	MaxDepth      float64 `yaml:"max_depth"`
	ThresOutlier  float64 `yaml:"thres_outlier"`

	FlowBack bool    `yaml:"flow_back"`
	MaxCnt   int     `yaml:"max_cnt"`
	MinDist  float64 `yaml:"min_dist"`
}

// DefaultConfig returns a Config carrying the same numeric defaults spec.md §6/§4 name
// throughout: a 10-frame window, 3-pixel outlier threshold, 20-correspondence/10-px-per-focal
// parallax policy baked into the features package's own DefaultConfig, and so on.
func DefaultConfig() Config {
	return Config{
		WindowSize:    10,
		NumOfCam:      1,
		UseIMU:        true,
		Stereo:        false,
		Fisheye:       false,
		EnableDepth:   false,
		FocalLength:   460,
		IMUFreq:       200,
		ImageFreq:     20,
		SolverTime:    0.04,
		NumIterations: 8,
		EstimateExtrinsic: ExtrinsicFixed,
		EstimateTd:        false,
		Td:                0,
		Gravity:           9.81,
		AccNoise:          0.08,
		GyrNoise:          0.004,
		AccBiasNoise:      0.00004,
		GyrBiasNoise:      2.0e-6,
		MaxDepth:          80,
		ThresOutlier:      3,
		FlowBack:          true,
		MaxCnt:            150,
		MinDist:           30,
	}
}

// Validate rejects configuration combinations that spec.md §7 names as fatal ("Depth
// configuration mismatch": stereo disabled but depth requested) or otherwise nonsensical.
func (c *Config) Validate() error {
	if c.EnableDepth && !c.Stereo {
		return errors.New("config: depth generation requires stereo to be enabled")
	}
	if c.WindowSize < 2 {
		return errors.New("config: window_size must be at least 2")
	}
	if c.NumOfCam < 1 || c.NumOfCam > 4 {
		return errors.New("config: num_of_cam must be between 1 and 4")
	}
	if c.Fisheye && c.NumOfCam != 1 && c.NumOfCam != 2 && c.NumOfCam != 4 {
		return errors.New("config: fisheye rigs support 1, 2, or 4 cameras")
	}
	if len(c.Extrinsics) != 0 && len(c.Extrinsics) != c.NumOfCam {
		return errors.Errorf("config: have %d extrinsics for num_of_cam=%d", len(c.Extrinsics), c.NumOfCam)
	}
	return nil
}

// extrinsicSeedFile is the YAML shape of one camera's extrinsic seed file, per spec.md §6
// "Persisted/readable files": R (3x3 row-major), T (3x1), and an optional Roo re-basing rotation
// applied as R ← Roo·R·Rooᵀ, T ← Roo·T.
type extrinsicSeedFile struct {
	R   []float64  `yaml:"R"`
	T   []float64  `yaml:"T"`
	Roo []float64  `yaml:"Roo"`
}

// LoadExtrinsicSeed reads one extrinsic seed YAML file and returns the resulting camera-to-body
// pose, grounded in the teacher's `services/slam/orbslam_yaml.go` pattern of hand-rolled YAML
// structs for SLAM-backend configuration files.
func LoadExtrinsicSeed(path string) (spatialmath.Pose, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return spatialmath.Pose{}, errors.Wrapf(err, "config: reading extrinsic seed %q", path)
	}
	var f extrinsicSeedFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return spatialmath.Pose{}, errors.Wrapf(err, "config: parsing extrinsic seed %q", path)
	}
	if len(f.R) != 9 || len(f.T) != 3 {
		return spatialmath.Pose{}, errors.Errorf("config: extrinsic seed %q must have a 3x3 R and 3x1 T", path)
	}

	r := f.R
	t := f.T
	if len(f.Roo) == 9 {
		r, t = rebaseExtrinsic(f.R, f.T, f.Roo)
	}

	rot := spatialmath.NewRotationMatrix(r)
	pose := spatialmath.NewPoseFromQuaternion(vec3(t), rot.Quaternion())
	return *pose, nil
}

// rebaseExtrinsic applies R ← Roo·R·Rooᵀ, T ← Roo·T, the re-basing transform spec.md §6 names for
// extrinsic seed files recorded in a different reference frame than the one the estimator uses.
func rebaseExtrinsic(r, t, roo []float64) ([]float64, []float64) {
	rm := mat3FromSlice(r)
	rooM := mat3FromSlice(roo)
	newR := mat3Mul(mat3Mul(rooM, rm), mat3Transpose(rooM))
	newT := mat3MulVec(rooM, t)
	return mat3Flatten(newR), newT
}

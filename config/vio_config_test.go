package config

import (
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

func TestValidateRejectsDepthWithoutStereo(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableDepth = true
	cfg.Stereo = false
	err := cfg.Validate()
	test.That(t, err, test.ShouldNotBeNil)
}

func TestValidateAcceptsDepthWithStereo(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableDepth = true
	cfg.Stereo = true
	err := cfg.Validate()
	test.That(t, err, test.ShouldBeNil)
}

func TestValidateRejectsUndersizedWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WindowSize = 1
	err := cfg.Validate()
	test.That(t, err, test.ShouldNotBeNil)
}

func TestValidateRejectsOutOfRangeCameraCount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumOfCam = 0
	test.That(t, cfg.Validate(), test.ShouldNotBeNil)

	cfg.NumOfCam = 5
	test.That(t, cfg.Validate(), test.ShouldNotBeNil)
}

func TestValidateRejectsUnsupportedFisheyeCameraCount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Fisheye = true
	cfg.NumOfCam = 3
	err := cfg.Validate()
	test.That(t, err, test.ShouldNotBeNil)
}

func TestValidateRejectsMismatchedExtrinsicCount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumOfCam = 2
	cfg.Extrinsics = []CameraExtrinsic{{}}
	err := cfg.Validate()
	test.That(t, err, test.ShouldNotBeNil)
}

func TestLoadExtrinsicSeedRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "extrinsic.yaml")
	contents := `
R: [1, 0, 0,
    0, 1, 0,
    0, 0, 1]
T: [0.1, 0.2, 0.3]
`
	test.That(t, os.WriteFile(path, []byte(contents), 0o600), test.ShouldBeNil)

	pose, err := LoadExtrinsicSeed(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pose.Point().X, test.ShouldEqual, 0.1)
	test.That(t, pose.Point().Y, test.ShouldEqual, 0.2)
	test.That(t, pose.Point().Z, test.ShouldEqual, 0.3)
}

func TestLoadExtrinsicSeedRejectsMalformedMatrix(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "extrinsic.yaml")
	contents := `
R: [1, 0, 0]
T: [0, 0, 0]
`
	test.That(t, os.WriteFile(path, []byte(contents), 0o600), test.ShouldBeNil)

	_, err := LoadExtrinsicSeed(path)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestLoadExtrinsicSeedAppliesRoo(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "extrinsic.yaml")
	// Roo = 90 degree rotation about Z; applied as R <- Roo*R*Roo^T, T <- Roo*T, so a seed
	// translation along +X should come out along +Y once re-based.
	contents := `
R: [1, 0, 0,
    0, 1, 0,
    0, 0, 1]
T: [1, 0, 0]
Roo: [0, -1, 0,
      1, 0, 0,
      0, 0, 1]
`
	test.That(t, os.WriteFile(path, []byte(contents), 0o600), test.ShouldBeNil)

	pose, err := LoadExtrinsicSeed(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pose.Point().X, test.ShouldAlmostEqual, 0.0, 1e-9)
	test.That(t, pose.Point().Y, test.ShouldAlmostEqual, 1.0, 1e-9)
}

func TestLoadExtrinsicSeedMissingFile(t *testing.T) {
	_, err := LoadExtrinsicSeed(filepath.Join(t.TempDir(), "missing.yaml"))
	test.That(t, err, test.ShouldNotBeNil)
}

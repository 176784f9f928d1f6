package estimator

import (
	"testing"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
	"go.viam.com/test"

	"go.viam.com/vio/config"
)

func testConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.UseIMU = true
	return cfg
}

func TestNewEstimatorRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.WindowSize = 0
	_, err := NewEstimator(cfg, nil)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestNewEstimatorStartsUninitializedWithIdentityLatestPose(t *testing.T) {
	e, err := NewEstimator(testConfig(), nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, e.window.CurrentSlot, test.ShouldEqual, -1)
	test.That(t, e.initialized, test.ShouldBeFalse)
	test.That(t, e.latest.Q, test.ShouldResemble, quat.Number{Real: 1})
}

func TestGravityMagnitudeMatchesConfiguredValue(t *testing.T) {
	cfg := testConfig()
	cfg.Gravity = 9.81
	e, err := NewEstimator(cfg, nil)
	test.That(t, err, test.ShouldBeNil)
	g := e.Gravity()
	test.That(t, g.X, test.ShouldEqual, 0.0)
	test.That(t, g.Y, test.ShouldEqual, 0.0)
	test.That(t, g.Z, test.ShouldEqual, -9.81)
}

func TestProcessIMUFirstSampleOnlySeedsState(t *testing.T) {
	e, err := NewEstimator(testConfig(), nil)
	test.That(t, err, test.ShouldBeNil)

	e.ProcessIMU(0, r3.Vector{Z: 9.81}, r3.Vector{})
	test.That(t, e.haveLastIMU, test.ShouldBeTrue)
	test.That(t, e.building, test.ShouldBeNil)
	test.That(t, e.latest.P, test.ShouldResemble, r3.Vector{})
}

// TestProcessIMUStationaryFastForwardStaysAtRest exercises propagateLatest's gravity handling: a
// stationary accelerometer (reading exactly the gravity magnitude, no bias) must fast-forward to
// zero net velocity, since a specific-force reading of {0,0,+g} corresponds to zero true
// acceleration under this estimator's {Z:-g} gravity vector convention.
func TestProcessIMUStationaryFastForwardStaysAtRest(t *testing.T) {
	e, err := NewEstimator(testConfig(), nil)
	test.That(t, err, test.ShouldBeNil)

	e.ProcessIMU(0, r3.Vector{Z: 9.81}, r3.Vector{})
	e.ProcessIMU(0.01, r3.Vector{Z: 9.81}, r3.Vector{})
	e.ProcessIMU(0.02, r3.Vector{Z: 9.81}, r3.Vector{})

	test.That(t, e.latest.V.Norm(), test.ShouldBeLessThan, 1e-9)
	test.That(t, e.latest.P.Norm(), test.ShouldBeLessThan, 1e-9)
}

func TestProcessIMUDropsNonIncreasingTimestamp(t *testing.T) {
	e, err := NewEstimator(testConfig(), nil)
	test.That(t, err, test.ShouldBeNil)

	e.ProcessIMU(1.0, r3.Vector{Z: 9.81}, r3.Vector{})
	e.ProcessIMU(1.0, r3.Vector{Z: 9.81}, r3.Vector{}) // same timestamp, must be dropped
	test.That(t, e.building, test.ShouldBeNil)
}

func TestResetClearsBuildingDeltaAndInitializedFlag(t *testing.T) {
	e, err := NewEstimator(testConfig(), nil)
	test.That(t, err, test.ShouldBeNil)

	e.ProcessIMU(0, r3.Vector{Z: 9.81}, r3.Vector{})
	e.ProcessIMU(0.01, r3.Vector{Z: 9.81}, r3.Vector{})
	test.That(t, e.building, test.ShouldNotBeNil)

	e.initialized = true
	e.Reset()

	test.That(t, e.building, test.ShouldBeNil)
	test.That(t, e.initialized, test.ShouldBeFalse)
	test.That(t, e.haveLastIMU, test.ShouldBeFalse)
}

func TestExtrinsicFallsBackToIdentityForUnconfiguredCamera(t *testing.T) {
	e, err := NewEstimator(testConfig(), nil)
	test.That(t, err, test.ShouldBeNil)

	p := e.extrinsic(5)
	test.That(t, p, test.ShouldNotBeNil)
	test.That(t, p.Point(), test.ShouldResemble, r3.Vector{})
}

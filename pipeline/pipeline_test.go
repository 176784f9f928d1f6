package pipeline

import (
	"testing"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
	"go.viam.com/test"

	"go.viam.com/vio/estimator"
	"go.viam.com/vio/spatialmath"
)

func TestInterpolateSampleMidpoint(t *testing.T) {
	a := imuSample{t: 0, acc: r3.Vector{X: 0}, gyr: r3.Vector{X: 0}}
	b := imuSample{t: 1, acc: r3.Vector{X: 2}, gyr: r3.Vector{X: 4}}
	mid := interpolateSample(a, b, 0.5)
	test.That(t, mid.t, test.ShouldEqual, 0.5)
	test.That(t, mid.acc.X, test.ShouldEqual, 1)
	test.That(t, mid.gyr.X, test.ShouldEqual, 2)
}

func TestInterpolateSampleSameTimestamp(t *testing.T) {
	a := imuSample{t: 1, acc: r3.Vector{X: 5}}
	b := imuSample{t: 1, acc: r3.Vector{X: 9}}
	got := interpolateSample(a, b, 1)
	test.That(t, got.acc.X, test.ShouldEqual, 5)
}

func TestPopFeatureJobFIFO(t *testing.T) {
	p := &Pipeline{}
	p.featureQueue = []featureJob{{t: 1}, {t: 2}, {t: 3}}

	first, ok := p.popFeatureJob()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, first.t, test.ShouldEqual, 1)

	second, ok := p.popFeatureJob()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, second.t, test.ShouldEqual, 2)
}

func TestPopFeatureJobEmpty(t *testing.T) {
	p := &Pipeline{}
	_, ok := p.popFeatureJob()
	test.That(t, ok, test.ShouldBeFalse)
}

func TestWarnIMUDtSkipsWhenFreqUnset(t *testing.T) {
	// imuFreq <= 0 disables the check entirely; this call must not panic on a nil logger field
	// access, since the function returns before touching logger.
	warnIMUDt(nil, 100, 0)
}

func TestPredictorFirstStepSeedsWithoutIntegrating(t *testing.T) {
	var pr predictor
	pr.resync(estimator.Odometry{}, estimator.Bias{}, r3.Vector{Z: -9.81})

	out := pr.step(0, r3.Vector{Z: 9.81}, r3.Vector{})
	test.That(t, out.P, test.ShouldResemble, r3.Vector{})
}

func TestPredictorIntegratesStationaryGravityToZeroMotion(t *testing.T) {
	var pr predictor
	pr.resync(estimator.Odometry{Q: quat.Number{Real: 1}}, estimator.Bias{}, r3.Vector{Z: -9.81})

	pr.step(0, r3.Vector{Z: 9.81}, r3.Vector{})
	out := pr.step(0.01, r3.Vector{Z: 9.81}, r3.Vector{})

	test.That(t, out.P.X, test.ShouldEqual, 0)
	test.That(t, out.P.Y, test.ShouldEqual, 0)
	test.That(t, out.V.Norm(), test.ShouldBeLessThan, 1e-9)
}

func TestFindOdometryDiscardsStaleAndMatchesWithinTolerance(t *testing.T) {
	p := &Pipeline{}
	pose := spatialmath.NewZeroPose()
	p.odomHistory = []odomSample{
		{t: 0.900, pose: pose},
		{t: 1.000, pose: pose},
		{t: 1.100, pose: pose},
	}

	found, ok := p.findOdometry(1.0005)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, found, test.ShouldEqual, pose)

	// entries older than 1ms before the query must have been discarded from odomHistory
	test.That(t, len(p.odomHistory), test.ShouldEqual, 2)
}

func TestFindOdometryNoMatchWithinTolerance(t *testing.T) {
	p := &Pipeline{}
	p.odomHistory = []odomSample{{t: 5.0, pose: spatialmath.NewZeroPose()}}

	_, ok := p.findOdometry(5.5)
	test.That(t, ok, test.ShouldBeFalse)
}

func TestAbsDiff(t *testing.T) {
	test.That(t, absDiff(3, 5), test.ShouldEqual, 2)
	test.That(t, absDiff(5, 3), test.ShouldEqual, 2)
}

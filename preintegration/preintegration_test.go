package preintegration

import (
	"testing"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
	"go.viam.com/test"
)

func TestStationaryDeltaIntegratesOnlyGravityReaction(t *testing.T) {
	g := r3.Vector{Z: 9.81}
	acc0 := g
	gyr0 := r3.Vector{}
	noise := DefaultNoiseConfig()

	d := New(r3.Vector{}, r3.Vector{}, acc0, gyr0, noise)
	const dt = 0.005
	for i := 0; i < 200; i++ {
		d.Push(dt, g, r3.Vector{})
	}

	test.That(t, d.SumDt(), test.ShouldAlmostEqual, 1.0, 1e-6)
	// The delta integrates specific force, so a resting IMU's reading of the reaction to gravity
	// accumulates into position and velocity while the rotation stays at identity.
	test.That(t, d.DeltaP().Sub(g.Mul(0.5*d.SumDt()*d.SumDt())).Norm(), test.ShouldBeLessThan, 1e-6)
	test.That(t, d.DeltaV().Sub(g.Mul(d.SumDt())).Norm(), test.ShouldBeLessThan, 1e-6)
	identityDiff := d.DeltaQ()
	identityDiff.Real -= 1
	test.That(t, quat.Abs(identityDiff), test.ShouldBeLessThan, 1e-6)
}

func TestExceededFlagsLongIntervals(t *testing.T) {
	noise := DefaultNoiseConfig()
	d := New(r3.Vector{}, r3.Vector{}, r3.Vector{Z: 9.81}, r3.Vector{}, noise)
	for i := 0; i < 11; i++ {
		d.Push(1.0, r3.Vector{Z: 9.81}, r3.Vector{})
	}
	test.That(t, d.Exceeded(), test.ShouldBeTrue)
	test.That(t, d.ValidateSumDt(), test.ShouldNotBeNil)
}

func TestEvaluateZeroForConsistentMotion(t *testing.T) {
	g := r3.Vector{Z: -9.81}
	acc0 := r3.Vector{Z: 9.81}
	noise := DefaultNoiseConfig()

	d := New(r3.Vector{}, r3.Vector{}, acc0, r3.Vector{}, noise)
	const dt = 0.01
	for i := 0; i < 100; i++ {
		d.Push(dt, acc0, r3.Vector{})
	}

	qi := quat.Number{Real: 1}
	pi := r3.Vector{}
	vi := r3.Vector{}
	pj := d.DeltaP().Add(g.Mul(0.5 * d.SumDt() * d.SumDt()))
	vj := d.DeltaV().Add(g.Mul(d.SumDt()))
	qj := d.DeltaQ()

	residual := d.Evaluate(pi, qi, vi, r3.Vector{}, r3.Vector{}, pj, qj, vj, r3.Vector{}, r3.Vector{}, g)

	for i := 0; i < 9; i++ {
		test.That(t, residual.AtVec(i), test.ShouldAlmostEqual, 0, 1e-6)
	}
}

func TestMergeSumsDtAndMatchesContinuousIntegration(t *testing.T) {
	noise := DefaultNoiseConfig()
	acc := r3.Vector{X: 0.1, Z: 9.81}
	gyr := r3.Vector{Y: 0.01}
	const dt = 0.01

	older := New(r3.Vector{}, r3.Vector{}, acc, gyr, noise)
	for i := 0; i < 30; i++ {
		older.Push(dt, acc, gyr)
	}
	newer := New(r3.Vector{}, r3.Vector{}, acc, gyr, noise)
	for i := 0; i < 20; i++ {
		newer.Push(dt, acc, gyr)
	}

	merged := newer.Merge(older)

	continuous := New(r3.Vector{}, r3.Vector{}, acc, gyr, noise)
	for i := 0; i < 50; i++ {
		continuous.Push(dt, acc, gyr)
	}

	test.That(t, merged.SumDt(), test.ShouldAlmostEqual, older.SumDt()+newer.SumDt(), 1e-9)
	test.That(t, merged.DeltaP().X, test.ShouldAlmostEqual, continuous.DeltaP().X, 1e-9)
	test.That(t, merged.DeltaV().X, test.ShouldAlmostEqual, continuous.DeltaV().X, 1e-9)
}

func TestRepropagateKeepsSumDtAndChangesMean(t *testing.T) {
	noise := DefaultNoiseConfig()
	acc0 := r3.Vector{Z: 9.81}

	d := New(r3.Vector{}, r3.Vector{}, acc0, r3.Vector{}, noise)
	const dt = 0.01
	for i := 0; i < 50; i++ {
		d.Push(dt, r3.Vector{X: 0.1, Z: 9.81}, r3.Vector{Y: 0.01})
	}
	sumDtBefore := d.SumDt()
	deltaPBefore := d.DeltaP()

	d.Repropagate(r3.Vector{X: 0.05}, r3.Vector{Y: 0.005})

	test.That(t, d.SumDt(), test.ShouldAlmostEqual, sumDtBefore, 1e-9)
	test.That(t, d.DeltaP().X, test.ShouldNotEqual, deltaPBefore.X)
}

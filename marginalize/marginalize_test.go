package marginalize

import (
	"testing"

	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

// linearResidual is a fixed-Jacobian residual used to test the marginalizer against a reference
// linear-algebra path, independent of the estimator's actual IMU/reprojection residual shapes.
type linearResidual struct {
	blocks    []BlockID
	jacobians map[BlockID]*mat.Dense
	residual  *mat.VecDense
}

func (r *linearResidual) Blocks() []BlockID { return r.blocks }

func (r *linearResidual) Evaluate() (*mat.VecDense, map[BlockID]*mat.Dense) {
	return r.residual, r.jacobians
}

// TestMarginalizePreservesSchurComplement builds a toy two-block Gaussian (a "pose" block p0 and
// a "feature" block f0 coupled by one residual) and checks that eliminating p0 via Marginalize
// reproduces the textbook Schur complement computed directly from (H, g).
func TestMarginalizePreservesSchurComplement(t *testing.T) {
	p0 := BlockID{Kind: FeatureBlockKind, Index: 100}
	f0 := BlockID{Kind: FeatureBlockKind, Index: 200}

	jp := mat.NewDense(2, 1, []float64{1.0, 0.5})
	jf := mat.NewDense(2, 1, []float64{0.3, 1.2})
	residual := mat.NewVecDense(2, []float64{0.1, -0.2})

	r := &linearResidual{
		blocks:    []BlockID{p0, f0},
		jacobians: map[BlockID]*mat.Dense{p0: jp, f0: jf},
		residual:  residual,
	}

	prior, err := Marginalize([]Residual{r}, map[BlockID]bool{p0: true}, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, prior.Blocks, test.ShouldResemble, []BlockID{f0})

	// Reference: H = J^T J, g = J^T r over the full 2-var system, then the scalar Schur
	// complement H_ff - H_fp * H_pp^-1 * H_pf.
	var hpp, hpf, hff, gp, gf float64
	for i := 0; i < 2; i++ {
		hpp += jp.At(i, 0) * jp.At(i, 0)
		hpf += jp.At(i, 0) * jf.At(i, 0)
		hff += jf.At(i, 0) * jf.At(i, 0)
		gp += jp.At(i, 0) * residual.AtVec(i)
		gf += jf.At(i, 0) * residual.AtVec(i)
	}
	wantH := hff - hpf*hpf/hpp
	wantG := gf - hpf*gp/hpp

	var gotH mat.Dense
	gotH.Mul(prior.J.T(), prior.J)
	var gotG mat.Dense
	gotG.Mul(prior.J.T(), prior.B)

	test.That(t, gotH.At(0, 0), test.ShouldAlmostEqual, wantH, 1e-8)
	test.That(t, gotG.At(0, 0), test.ShouldAlmostEqual, wantG, 1e-8)
}

func TestMarginalizeRejectsEmptyDropIntersection(t *testing.T) {
	other := BlockID{Kind: FeatureBlockKind, Index: 1}
	missing := BlockID{Kind: FeatureBlockKind, Index: 999}
	r := &linearResidual{
		blocks:    []BlockID{other},
		jacobians: map[BlockID]*mat.Dense{other: mat.NewDense(1, 1, []float64{1})},
		residual:  mat.NewVecDense(1, []float64{0}),
	}
	_, err := Marginalize([]Residual{r}, map[BlockID]bool{missing: true}, nil)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestMargSecondNewRejectsSpeedBiasInDropSet(t *testing.T) {
	const w = 5
	prior := &Prior{
		Blocks: []BlockID{PoseBlock(w - 1), SpeedBiasBlock(w - 1)},
		J:      mat.NewDense(12, 12, nil),
		B:      mat.NewVecDense(12, nil),
	}

	defer func() {
		r := recover()
		test.That(t, r, test.ShouldNotBeNil)
	}()
	_, _ = MargSecondNew(prior, w)
}

func TestMargSecondNewNoopWhenPriorDoesNotTouchDroppedPose(t *testing.T) {
	const w = 5
	prior := &Prior{
		Blocks: []BlockID{PoseBlock(w - 2)},
		J:      mat.NewDense(6, 6, nil),
		B:      mat.NewVecDense(6, nil),
	}
	_, err := MargSecondNew(prior, w)
	test.That(t, err, test.ShouldNotBeNil)
}

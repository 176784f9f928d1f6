package optimizer

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"go.viam.com/vio/marginalize"
)

// numericStep is the central-difference step used for every numerically-differentiated residual
// in this package. Small enough to keep the linearization local, large enough to stay well above
// float64 noise for the quantities involved (normalized bearings, SI positions/velocities).
const numericStep = 1e-6

// EvalFunc computes a residual's raw (unweighted, pre-robust-loss) value at a given set of
// ambient parameter values, one slice per block in the same order as the owning residual's
// Blocks(). This is the only thing a concrete residual (IMU, reprojection, ...) needs to supply;
// numericResidual takes care of differentiating it and applying weighting/robust loss.
type EvalFunc func(ambient [][]float64) []float64

// numericResidual turns a pure evaluation function into a marginalize.Residual by numerically
// differentiating it with central differences over each block's tangent space, then applying a
// constant weighting matrix and an optional Huber robust loss. This lets every residual type in
// this package (whose underlying physics come from preintegration.Delta.Evaluate or a
// cameramodel projection) avoid hand-deriving an analytic Jacobian, the same tradeoff nlopt-backed
// solvers elsewhere in this module's stack already make by treating the objective as a black box.
type numericResidual struct {
	blocks   []marginalize.BlockID
	get      func(marginalize.BlockID) []float64 // reads a block's live ambient value from the problem
	eval     EvalFunc
	sqrtInfo *mat.Dense // dim x dim, applied to both residual and Jacobian
	huber    float64    // 0 disables the robust loss
}

// newNumericResidual builds a residual that re-linearizes at the problem's current ambient values
// on every Evaluate call, via get, rather than freezing them at construction time: the solver
// mutates blocks in place across dogleg iterations within a single Solve call, and a residual that
// did not track those moves would report the same cost no matter what step was taken.
func newNumericResidual(blocks []marginalize.BlockID, get func(marginalize.BlockID) []float64, eval EvalFunc, sqrtInfo *mat.Dense, huber float64) *numericResidual {
	return &numericResidual{blocks: blocks, get: get, eval: eval, sqrtInfo: sqrtInfo, huber: huber}
}

func (r *numericResidual) Blocks() []marginalize.BlockID { return r.blocks }

func (r *numericResidual) Evaluate() (*mat.VecDense, map[marginalize.BlockID]*mat.Dense) {
	ambient := make([][]float64, len(r.blocks))
	for i, b := range r.blocks {
		v := r.get(b)
		cp := make([]float64, len(v))
		copy(cp, v)
		ambient[i] = cp
	}

	raw := r.eval(ambient)
	dim := len(raw)

	jac := make(map[marginalize.BlockID]*mat.Dense, len(r.blocks))
	for bi, b := range r.blocks {
		tdim := tangentDim(b.Kind)
		j := mat.NewDense(dim, tdim, nil)
		for k := 0; k < tdim; k++ {
			delta := make([]float64, tdim)
			delta[k] = numericStep
			plus := r.perturbedEval(ambient, bi, delta)
			delta[k] = -numericStep
			minus := r.perturbedEval(ambient, bi, delta)
			for row := 0; row < dim; row++ {
				j.Set(row, k, (plus[row]-minus[row])/(2*numericStep))
			}
		}
		jac[b] = j
	}

	residualVec := mat.NewVecDense(dim, raw)

	weight := r.robustWeight(residualVec)
	if weight != 1 {
		residualVec.ScaleVec(weight, residualVec)
		for _, j := range jac {
			j.Scale(weight, j)
		}
	}
	if r.sqrtInfo != nil {
		weighted := mat.NewVecDense(dim, nil)
		weighted.MulVec(r.sqrtInfo, residualVec)
		residualVec = weighted
		for b, j := range jac {
			var wj mat.Dense
			wj.Mul(r.sqrtInfo, j)
			jac[b] = &wj
		}
	}
	return residualVec, jac
}

func (r *numericResidual) perturbedEval(ambient [][]float64, blockIdx int, delta []float64) []float64 {
	inputs := make([][]float64, len(r.blocks))
	copy(inputs, ambient)
	inputs[blockIdx] = retract(r.blocks[blockIdx].Kind, ambient[blockIdx], delta)
	return r.eval(inputs)
}

// robustWeight implements the IRLS form of the Huber loss: residuals inside the threshold are
// unweighted; residuals beyond it are scaled down by sqrt(delta/||r||) so that both the residual
// and its Jacobian contribute as if the loss were linear beyond the threshold, matching the
// spec's "Huber loss scale 1.0" description without requiring a full robustified-normal-equation
// solver.
func (r *numericResidual) robustWeight(residual *mat.VecDense) float64 {
	if r.huber <= 0 {
		return 1
	}
	norm := mat.Norm(residual, 2)
	if norm <= r.huber || norm == 0 {
		return 1
	}
	return math.Sqrt(r.huber / norm)
}

package marginalize

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// EigenThreshold is the absolute eigenvalue threshold below which an eigenvalue is treated as
// zero when pseudo-inverting a (possibly singular) Hessian block, per spec.md §4.5 step 4.
const EigenThreshold = 1e-8

// Residual is a linearized residual block contributing to the marginalization's normal
// equations: it names the parameter blocks it touches and, when evaluated, returns its residual
// vector and its Jacobian with respect to each of those blocks (in the same order as Blocks()).
// Every Residual fed to Marginalize must already be linearized at the current estimate, i.e.
// Evaluate's residual is the true nonlinear residual at that point and its Jacobian the true
// derivative there; Marginalize only ever forms one Gauss-Newton step around it.
type Residual interface {
	Blocks() []BlockID
	Evaluate() (residual *mat.VecDense, jacobians map[BlockID]*mat.Dense)
}

// Prior is a linear Gaussian residual block produced by a previous marginalization: a reference
// linearization point for its parameter blocks and a (J, b) pair such that, for a perturbation dx
// of those blocks away from the linearization point, the prior's residual is J*dx + b.
type Prior struct {
	Blocks   []BlockID
	J        *mat.Dense
	B        *mat.VecDense
	LinPoint map[BlockID][]float64 // ambient values (caller's representation) at linearization time
}

// Valid reports whether the prior carries any blocks; a freshly constructed estimator has no
// prior yet and callers should skip it rather than pass a zero-value Prior into Marginalize.
func (p *Prior) Valid() bool { return p != nil && len(p.Blocks) > 0 }

// Touches reports whether the prior's block list contains id.
func (p *Prior) Touches(id BlockID) bool {
	if p == nil {
		return false
	}
	for _, b := range p.Blocks {
		if b == id {
			return true
		}
	}
	return false
}

// AsResidual adapts the prior into a Residual so it can be combined with IMU/reprojection
// residuals inside Marginalize. dx supplies, for each of the prior's blocks, the tangent-space
// perturbation of the current estimate away from the prior's own linearization point (for pose
// blocks this is the caller's local delta between the current quaternion/translation and the ones
// the prior was built against, since marginalization's linear prior remains valid only to first
// order away from its own linearization point).
func (p *Prior) AsResidual(dx map[BlockID]*mat.VecDense) Residual {
	return &priorResidual{prior: p, dx: dx}
}

type priorResidual struct {
	prior *Prior
	dx    map[BlockID]*mat.VecDense
}

func (r *priorResidual) Blocks() []BlockID { return r.prior.Blocks }

func (r *priorResidual) Evaluate() (*mat.VecDense, map[BlockID]*mat.Dense) {
	offsets, _ := blockOffsets(r.prior.Blocks)
	dxVec := mat.NewVecDense(r.prior.J.RawMatrix().Cols, nil)
	for _, b := range r.prior.Blocks {
		off := offsets[b]
		d := r.dx[b]
		for i := 0; i < b.Dim(); i++ {
			if d != nil {
				dxVec.SetVec(off+i, d.AtVec(i))
			}
		}
	}

	residual := mat.NewVecDense(r.prior.B.Len(), nil)
	residual.MulVec(r.prior.J, dxVec)
	residual.AddVec(residual, r.prior.B)

	jacobians := make(map[BlockID]*mat.Dense, len(r.prior.Blocks))
	for _, b := range r.prior.Blocks {
		off := offsets[b]
		jacobians[b] = sliceCols(r.prior.J, off, b.Dim())
	}
	return residual, jacobians
}

func sliceCols(m *mat.Dense, off, n int) *mat.Dense {
	rows, _ := m.Dims()
	out := mat.NewDense(rows, n, nil)
	out.Copy(m.Slice(0, rows, off, off+n))
	return out
}

// blockOffsets assigns each block a column/row offset into a dense system in list order, and
// returns the total dimension.
func blockOffsets(blocks []BlockID) (map[BlockID]int, int) {
	offsets := make(map[BlockID]int, len(blocks))
	total := 0
	for _, b := range blocks {
		offsets[b] = total
		total += b.Dim()
	}
	return offsets, total
}

// Marginalize builds the normal equations (H, g) from residuals, eliminates the parameter blocks
// in dropSet via Schur complement, and returns the resulting linear prior on the remaining
// blocks. The remaining blocks appear in the returned Prior in the same relative order they had
// among the union of residuals' blocks, excluding dropSet.
func Marginalize(residuals []Residual, dropSet map[BlockID]bool, linPoints map[BlockID][]float64) (*Prior, error) {
	allBlocks := collectBlocks(residuals)

	var dropped, kept []BlockID
	for _, b := range allBlocks {
		if dropSet[b] {
			dropped = append(dropped, b)
		} else {
			kept = append(kept, b)
		}
	}
	if len(dropped) == 0 {
		return nil, errors.New("marginalize: drop set does not intersect any residual's blocks")
	}

	ordered := append(append([]BlockID{}, dropped...), kept...)
	offsets, total := blockOffsets(ordered)

	h := mat.NewSymDense(total, nil)
	g := mat.NewVecDense(total, nil)
	for _, r := range residuals {
		accumulate(h, g, r, offsets)
	}

	mDim := blockSpan(dropped)
	rDim := total - mDim

	hDense := mat.NewDense(total, total, nil)
	hDense.CloneFrom(h)

	hmm := hDense.Slice(0, mDim, 0, mDim)
	hmr := hDense.Slice(0, mDim, mDim, total)
	hrm := hDense.Slice(mDim, total, 0, mDim)
	hrr := hDense.Slice(mDim, total, mDim, total)
	gm := g.SliceVec(0, mDim)
	gr := g.SliceVec(mDim, total)

	hmmInv, err := pseudoInverseSym(symmetrize(hmm))
	if err != nil {
		return nil, errors.Wrap(err, "marginalize: pseudo-inverting dropped block")
	}

	var hrmHmmInv mat.Dense
	hrmHmmInv.Mul(hrm, hmmInv)

	var schurH mat.Dense
	schurH.Mul(&hrmHmmInv, hmr)
	schurH.Sub(hrr, &schurH)

	var schurG mat.VecDense
	schurG.MulVec(&hrmHmmInv, gm)
	schurG.SubVec(gr, &schurG)

	j, b, err := factorInformation(symmetrize(&schurH), &schurG, rDim)
	if err != nil {
		return nil, errors.Wrap(err, "marginalize: factoring remaining information matrix")
	}

	lin := make(map[BlockID][]float64, len(kept))
	for _, bID := range kept {
		lin[bID] = linPoints[bID]
	}
	return &Prior{Blocks: kept, J: j, B: b, LinPoint: lin}, nil
}

func blockSpan(blocks []BlockID) int {
	n := 0
	for _, b := range blocks {
		n += b.Dim()
	}
	return n
}

func collectBlocks(residuals []Residual) []BlockID {
	seen := make(map[BlockID]bool)
	var out []BlockID
	for _, r := range residuals {
		for _, b := range r.Blocks() {
			if !seen[b] {
				seen[b] = true
				out = append(out, b)
			}
		}
	}
	return out
}

// accumulate adds one residual's J^T J and J^T r contributions into the global (h, g), at the
// offsets its blocks occupy in the shared system.
func accumulate(h *mat.SymDense, g *mat.VecDense, r Residual, offsets map[BlockID]int) {
	residual, jacobians := r.Evaluate()
	blocks := r.Blocks()

	for _, bi := range blocks {
		ji, ok := jacobians[bi]
		if !ok {
			continue
		}
		oi := offsets[bi]

		var jtr mat.VecDense
		jtr.MulVec(ji.T(), residual)
		for k := 0; k < bi.Dim(); k++ {
			g.SetVec(oi+k, g.AtVec(oi+k)+jtr.AtVec(k))
		}

		for _, bj := range blocks {
			jj, ok := jacobians[bj]
			if !ok {
				continue
			}
			oj := offsets[bj]

			var jtj mat.Dense
			jtj.Mul(ji.T(), jj)
			for a := 0; a < bi.Dim(); a++ {
				for c := 0; c < bj.Dim(); c++ {
					h.SetSym(oi+a, oj+c, h.At(oi+a, oj+c)+jtj.At(a, c))
				}
			}
		}
	}
}

func symmetrize(m mat.Matrix) *mat.SymDense {
	r, _ := m.Dims()
	out := mat.NewSymDense(r, nil)
	for i := 0; i < r; i++ {
		for j := i; j < r; j++ {
			out.SetSym(i, j, 0.5*(m.At(i, j)+m.At(j, i)))
		}
	}
	return out
}

// pseudoInverseSym computes the Moore-Penrose pseudo-inverse of a symmetric matrix via
// eigendecomposition, zeroing the reciprocal of any eigenvalue below EigenThreshold.
func pseudoInverseSym(m *mat.SymDense) (*mat.Dense, error) {
	var eig mat.EigenSym
	if !eig.Factorize(m, true) {
		return nil, errors.New("eigendecomposition failed")
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	n := m.SymmetricDim()
	diag := mat.NewDiagDense(n, nil)
	for i, v := range values {
		if v > EigenThreshold {
			diag.SetDiag(i, 1/v)
		}
	}

	var tmp mat.Dense
	tmp.Mul(&vectors, diag)
	var out mat.Dense
	out.Mul(&tmp, vectors.T())
	return &out, nil
}

// factorInformation decomposes a symmetric information matrix A and information vector g into a
// Jacobian/residual pair (J, b) such that J^T J == A and J^T b == g to first order, clamping
// eigenvalues below EigenThreshold to zero exactly as pseudoInverseSym does. This is the same
// "square root" factorization mainstream VIO marginalizers (e.g. VINS-Mono) use to turn a Hessian
// back into a residual-space prior that later solves can add as an ordinary cost term.
func factorInformation(a *mat.SymDense, g *mat.VecDense, n int) (*mat.Dense, *mat.VecDense, error) {
	var eig mat.EigenSym
	if !eig.Factorize(a, true) {
		return nil, nil, errors.New("eigendecomposition failed")
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	sqrtDiag := mat.NewDiagDense(n, nil)
	invSqrtDiag := mat.NewDiagDense(n, nil)
	for i, v := range values {
		if v > EigenThreshold {
			sqrtDiag.SetDiag(i, sqrtPositive(v))
			invSqrtDiag.SetDiag(i, 1/sqrtPositive(v))
		}
	}

	var vt mat.Dense
	vt.CloneFrom(vectors.T())

	j := mat.NewDense(n, n, nil)
	j.Mul(sqrtDiag, &vt)

	var bIntermediate mat.Dense
	bIntermediate.Mul(invSqrtDiag, &vt)
	b := mat.NewVecDense(n, nil)
	b.MulVec(&bIntermediate, g)

	return j, b, nil
}

func sqrtPositive(v float64) float64 {
	if v <= 0 {
		return 0
	}
	return math.Sqrt(v)
}

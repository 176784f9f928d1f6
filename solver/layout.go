package solver

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/vio/marginalize"
	"go.viam.com/vio/optimizer"
)

// blockLayout assigns every non-constant parameter block a tangent-space offset into the dense
// normal-equation system, partitioned into a "dense" group (pose/speed-bias/extrinsic/td, the
// variables every residual tends to touch) and a "sparse" group (feature inverse depths, which
// only ever appear block-diagonally) so schurEliminate can marginalize the sparse group cheaply.
type blockLayout struct {
	order    []marginalize.BlockID
	offset   map[marginalize.BlockID]int
	dim      int
	denseDim int
	sparseOf []marginalize.BlockID // sparse-group blocks, in order, starting at denseDim
}

func newLayout(p *optimizer.Problem) *blockLayout {
	l := &blockLayout{offset: make(map[marginalize.BlockID]int)}
	var dense, sparse []marginalize.BlockID
	for _, id := range p.Order {
		b := p.Blocks[id]
		if b.Constant {
			continue
		}
		if id.Kind == marginalize.FeatureBlockKind {
			sparse = append(sparse, id)
		} else {
			dense = append(dense, id)
		}
	}
	off := 0
	for _, id := range dense {
		l.offset[id] = off
		off += id.Dim()
	}
	l.denseDim = off
	for _, id := range sparse {
		l.offset[id] = off
		off += id.Dim()
	}
	l.dim = off
	l.order = append(dense, sparse...)
	l.sparseOf = sparse
	return l
}

// normalEquations linearizes every residual at the problem's current ambient values and
// accumulates J^T J / J^T r into a dense (H, g) over this layout's blocks, following the same
// accumulation shape as marginalize.Marginalize's internal accumulate.
func (l *blockLayout) normalEquations(p *optimizer.Problem) (*mat.Dense, *mat.VecDense, error) {
	h := mat.NewDense(l.dim, l.dim, nil)
	g := mat.NewVecDense(l.dim, nil)

	for _, r := range p.Residuals {
		residual, jac := r.Evaluate()
		blocks := r.Blocks()
		for _, bi := range blocks {
			oi, ok := l.offset[bi]
			if !ok {
				continue // constant block, contributes no gradient/Hessian entries for itself
			}
			ji, ok := jac[bi]
			if !ok {
				continue
			}
			var jtr mat.VecDense
			jtr.MulVec(ji.T(), residual)
			for k := 0; k < bi.Dim(); k++ {
				g.SetVec(oi+k, g.AtVec(oi+k)+jtr.AtVec(k))
			}
			for _, bj := range blocks {
				oj, ok := l.offset[bj]
				if !ok {
					continue
				}
				jj, ok := jac[bj]
				if !ok {
					continue
				}
				var jtj mat.Dense
				jtj.Mul(ji.T(), jj)
				for a := 0; a < bi.Dim(); a++ {
					for c := 0; c < bj.Dim(); c++ {
						h.Set(oi+a, oj+c, h.At(oi+a, oj+c)+jtj.At(a, c))
					}
				}
			}
		}
	}
	return h, g, nil
}

// cost returns 0.5*sum(residual^2) over every residual block at the problem's current estimate.
func (l *blockLayout) cost(p *optimizer.Problem) float64 {
	total := 0.0
	for _, r := range p.Residuals {
		residual, _ := r.Evaluate()
		total += 0.5 * mat.Dot(residual, residual)
	}
	return total
}

// snapshot/restore let the solver reject a step by reverting every mutated block's ambient
// values, without needing to re-derive them from the pre-step normal equations.
func (l *blockLayout) snapshot(p *optimizer.Problem) map[marginalize.BlockID][]float64 {
	out := make(map[marginalize.BlockID][]float64, len(l.order))
	for _, id := range l.order {
		out[id] = append([]float64{}, p.Blocks[id].Ambient()...)
	}
	return out
}

func (l *blockLayout) restore(p *optimizer.Problem, snap map[marginalize.BlockID][]float64) {
	for id, v := range snap {
		p.Blocks[id].SetAmbient(v)
	}
}

// applyStep retracts every non-constant block by its slice of the full tangent-space step.
func (l *blockLayout) applyStep(p *optimizer.Problem, step *mat.VecDense) {
	for _, id := range l.order {
		off := l.offset[id]
		delta := make([]float64, id.Dim())
		for k := 0; k < id.Dim(); k++ {
			delta[k] = step.AtVec(off + k)
		}
		b := p.Blocks[id]
		b.SetAmbient(optimizer.Retract(id.Kind, b.Ambient(), delta))
	}
}

func dimsMatch(a, b int) error {
	if a != b {
		return errors.Errorf("solver: dimension mismatch %d != %d", a, b)
	}
	return nil
}

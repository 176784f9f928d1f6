//go:build !windows && !no_cgo

package solver

import (
	"context"
	"time"

	"github.com/go-nlopt/nlopt"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/vio/optimizer"
)

// Nlopt is an alternate optimizer.Solver backend built on the same LD_SLSQP local optimizer the
// teacher's motionplan/ik package uses for inverse kinematics, applied here to a VIO factor graph
// instead of a kinematic chain: minimize the sum-of-squared residuals over the tangent-space
// offsets of every non-constant parameter block, with a numeric (finite-difference) gradient since
// marginalize.Residual exposes analytic Jacobians per-block rather than a single flat gradient
// nlopt's C API expects.
type Nlopt struct {
	// Jump is the finite-difference step used to estimate the gradient, mirroring
	// nloptInverseKinematics.go's defaultJump.
	Jump float64
	// MaxEval bounds the number of objective evaluations nlopt performs per Solve call.
	MaxEval int
}

// NewNlopt returns an Nlopt solver with the defaults the estimator uses when SetSolver selects
// this backend instead of the default Dogleg.
func NewNlopt() *Nlopt {
	return &Nlopt{Jump: 1e-8, MaxEval: 200}
}

var _ optimizer.Solver = (*Nlopt)(nil)

// Solve runs one LD_SLSQP local optimization over the problem's tangent space. It mutates p's
// non-constant blocks in place, following the same retract-from-baseline shape blockLayout.applyStep
// uses for the dogleg backend, but as a single nlopt-driven descent rather than iterated trust-region
// steps.
func (s *Nlopt) Solve(ctx context.Context, p *optimizer.Problem, opts optimizer.SolveOptions) (*optimizer.Solution, error) {
	start := time.Now()
	layout := newLayout(p)
	sol := &optimizer.Solution{}
	if layout.dim == 0 {
		sol.Converged = true
		return sol, nil
	}

	baseline := layout.snapshot(p)
	sol.InitialCost = layout.cost(p)
	sol.FinalCost = sol.InitialCost

	opt, err := nlopt.NewNLopt(nlopt.LD_SLSQP, uint(layout.dim))
	if err != nil {
		return sol, errors.Wrap(err, "solver: nlopt creation error")
	}
	defer opt.Destroy()

	jump := s.Jump
	if jump <= 0 {
		jump = 1e-8
	}
	maxEval := s.MaxEval
	if maxEval <= 0 {
		maxEval = 200
	}

	applyOffset := func(x []float64) {
		layout.restore(p, baseline)
		for _, id := range layout.order {
			off := layout.offset[id]
			delta := x[off : off+id.Dim()]
			b := p.Blocks[id]
			b.SetAmbient(optimizer.Retract(id.Kind, baseline[id], delta))
		}
	}

	minFunc := func(x, gradient []float64) float64 {
		applyOffset(x)
		f := layout.cost(p)
		for i := range gradient {
			xPlus := append([]float64{}, x...)
			xPlus[i] += jump
			applyOffset(xPlus)
			fPlus := layout.cost(p)
			gradient[i] = (fPlus - f) / jump
		}
		applyOffset(x)
		return f
	}

	err = multierr.Combine(
		opt.SetMinObjective(minFunc),
		opt.SetMaxEval(maxEval),
		opt.SetXtolRel(1e-10),
		opt.SetFtolRel(1e-12),
	)
	if err != nil {
		return sol, errors.Wrap(err, "solver: nlopt configuration error")
	}

	if ctx.Err() != nil {
		return sol, ctx.Err()
	}

	x0 := make([]float64, layout.dim)
	xBest, finalCost, optErr := opt.Optimize(x0)
	if optErr != nil {
		layout.restore(p, baseline)
		sol.ElapsedTime = time.Since(start)
		return sol, errors.Wrap(optErr, "solver: nlopt optimize error")
	}

	if finalCost <= sol.InitialCost {
		applyOffset(xBest)
		sol.FinalCost = finalCost
		sol.Converged = true
	} else {
		layout.restore(p, baseline)
	}
	sol.ElapsedTime = time.Since(start)
	return sol, nil
}

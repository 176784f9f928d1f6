//go:build no_cgo

package solver

import (
	"context"

	"github.com/pkg/errors"

	"go.viam.com/vio/optimizer"
)

// Nlopt mimics the type in the cgo compiled code so callers can still reference solver.Nlopt in a
// no_cgo build; it just refuses to solve.
type Nlopt struct {
	Jump    float64
	MaxEval int
}

// NewNlopt is not supported on no_cgo builds.
func NewNlopt() *Nlopt {
	return &Nlopt{}
}

var _ optimizer.Solver = (*Nlopt)(nil)

// Solve refuses to solve problems without cgo.
func (s *Nlopt) Solve(ctx context.Context, p *optimizer.Problem, opts optimizer.SolveOptions) (*optimizer.Solution, error) {
	return nil, errors.New("nlopt solver is not supported on this build")
}

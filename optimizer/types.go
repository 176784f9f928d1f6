// Package optimizer assembles the sliding window's factor graph (pose, speed-bias, extrinsic,
// time-offset and feature parameter blocks; IMU, reprojection and prior residual blocks) per
// spec.md §4.4 and hands it to a pluggable nonlinear least-squares Solver. The optimizer package
// owns the factor graph; the concrete solve algorithm lives in a `solver/*` subpackage, mirroring
// the teacher's `motionplan/ik.Solver` boundary between frame/IK-problem assembly and the solver
// backend that consumes it.
package optimizer

import (
	"context"
	"time"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/vio/marginalize"
	"go.viam.com/vio/spatialmath"
)

// SpeedBias is a window slot's velocity and IMU bias estimate, the ambient representation of a
// SpeedBiasBlockKind parameter block.
type SpeedBias struct {
	V, Ba, Bg r3.Vector
}

// ParamBlock is one parameter block of the factor graph, addressed by a marginalize.BlockID so
// the same addressing scheme threads through the optimizer and the marginalizer. Exactly one of
// Pose/SpeedBias/Scalar is meaningful, selected by ID.Kind.
type ParamBlock struct {
	ID        marginalize.BlockID
	Pose      *spatialmath.Pose // PoseBlockKind, ExtrinsicBlockKind
	SpeedBias SpeedBias         // SpeedBiasBlockKind
	Scalar    float64           // TdBlockKind, FeatureBlockKind
	Constant  bool              // held fixed by the solver (e.g. frozen extrinsics)
}

// Ambient returns the parameter block's values in the flat representation retract/Jacobian
// numeric-differencing use: 7 values (t, quat wxyz) for a pose, 9 for speed-bias (v, ba, bg), 1
// for a scalar block.
func (pb *ParamBlock) Ambient() []float64 {
	switch pb.ID.Kind {
	case marginalize.PoseBlockKind, marginalize.ExtrinsicBlockKind:
		p := pb.Pose.Point()
		q := pb.Pose.Orientation().Quaternion()
		return []float64{p.X, p.Y, p.Z, q.Real, q.Imag, q.Jmag, q.Kmag}
	case marginalize.SpeedBiasBlockKind:
		return []float64{
			pb.SpeedBias.V.X, pb.SpeedBias.V.Y, pb.SpeedBias.V.Z,
			pb.SpeedBias.Ba.X, pb.SpeedBias.Ba.Y, pb.SpeedBias.Ba.Z,
			pb.SpeedBias.Bg.X, pb.SpeedBias.Bg.Y, pb.SpeedBias.Bg.Z,
		}
	case marginalize.TdBlockKind, marginalize.FeatureBlockKind:
		return []float64{pb.Scalar}
	default:
		return nil
	}
}

// SetAmbient writes values back from the flat representation Ambient returns.
func (pb *ParamBlock) SetAmbient(v []float64) {
	switch pb.ID.Kind {
	case marginalize.PoseBlockKind, marginalize.ExtrinsicBlockKind:
		q := quat.Number{Real: v[3], Imag: v[4], Jmag: v[5], Kmag: v[6]}
		n := quat.Abs(q)
		if n > 0 {
			q = quat.Scale(1/n, q)
		}
		pb.Pose = spatialmath.NewPoseFromQuaternion(r3.Vector{X: v[0], Y: v[1], Z: v[2]}, q)
	case marginalize.SpeedBiasBlockKind:
		pb.SpeedBias = SpeedBias{
			V:  r3.Vector{X: v[0], Y: v[1], Z: v[2]},
			Ba: r3.Vector{X: v[3], Y: v[4], Z: v[5]},
			Bg: r3.Vector{X: v[6], Y: v[7], Z: v[8]},
		}
	case marginalize.TdBlockKind, marginalize.FeatureBlockKind:
		pb.Scalar = v[0]
	}
}

// Problem is one step's factor graph: every parameter block the window currently carries, plus
// every residual block built against the current estimate.
type Problem struct {
	Blocks    map[marginalize.BlockID]*ParamBlock
	Order     []marginalize.BlockID // deterministic iteration/addressing order
	Residuals []marginalize.Residual
}

// NewProblem returns an empty Problem ready for AddBlock/AddResidual.
func NewProblem() *Problem {
	return &Problem{Blocks: make(map[marginalize.BlockID]*ParamBlock)}
}

// AddBlock registers a parameter block, preserving insertion order.
func (p *Problem) AddBlock(b *ParamBlock) {
	if _, exists := p.Blocks[b.ID]; !exists {
		p.Order = append(p.Order, b.ID)
	}
	p.Blocks[b.ID] = b
}

// AddResidual appends a residual block to the problem.
func (p *Problem) AddResidual(r marginalize.Residual) {
	p.Residuals = append(p.Residuals, r)
}

// SolveOptions bounds one solver invocation, per spec.md §4.4's time-budget split between
// MARG_OLD (reserves time for marginalization) and MARG_SECOND_NEW.
type SolveOptions struct {
	MaxIterations int
	MaxTime       time.Duration
	Seed          int64 // deterministic seed for any randomized step (e.g. dogleg's initial radius jitter)
}

// Solution is the solver's outcome: final cost and whether it converged within budget.
type Solution struct {
	Iterations  int
	InitialCost float64
	FinalCost   float64
	Converged   bool
	ElapsedTime time.Duration
}

// Solver is the pluggable nonlinear least-squares backend. It mutates p's non-constant blocks in
// place via repeated calls to ParamBlock.SetAmbient.
type Solver interface {
	Solve(ctx context.Context, p *Problem, opts SolveOptions) (*Solution, error)
}

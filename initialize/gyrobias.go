package initialize

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/vio/preintegration"
	"go.viam.com/vio/spatialmath"
)

// preintegration's documented row/column layout: state rows (δp, δθ, δv, Ba, Bg) each 3 wide,
// bias columns (Ba, Bg) each 3 wide. The rotation-error-wrt-gyro-bias block sits at rows 3:6,
// columns 3:6.
const (
	dqRowStart = 3
	dbgColStart = 3
	blockSize   = 3
)

// SolveGyroBiasStereo solves for the gyroscope bias that best explains the window's visually
// estimated relative rotations, minimizing sum ||2*(δq_imu(Bg) ⊖ Qi^T Qi+1)_xyz||^2 over all
// adjacent slot pairs. The normal equations are linear because the correction term is itself
// linear in the bias (preintegration.Delta's first-order Jacobian); one solve suffices, matching
// the spec's "closed-form via linearization, one iteration suffices."
func SolveGyroBiasStereo(poses []*spatialmath.Pose, deltas []*preintegration.Delta) (r3.Vector, error) {
	if len(poses) != len(deltas)+1 {
		return r3.Vector{}, errors.New("need one more pose than deltas (poses bracket each delta)")
	}
	if len(deltas) == 0 {
		return r3.Vector{}, errors.New("no IMU deltas to solve against")
	}

	a := mat.NewDense(blockSize, blockSize, nil)
	b := mat.NewVecDense(blockSize, nil)

	for i, d := range deltas {
		qi := poses[i].Orientation().Quaternion()
		qj := poses[i+1].Orientation().Quaternion()
		qij := quat.Mul(quat.Conj(qi), qj)

		errQ := quat.Mul(quat.Conj(d.DeltaQ()), qij)
		tmpB := mat.NewVecDense(blockSize, []float64{2 * errQ.Imag, 2 * errQ.Jmag, 2 * errQ.Kmag})

		tmpA := d.Jacobian().Slice(dqRowStart, dqRowStart+blockSize, dbgColStart, dbgColStart+blockSize)

		var ata mat.Dense
		ata.Mul(tmpA.T(), tmpA)
		a.Add(a, &ata)

		var atb mat.VecDense
		atb.MulVec(tmpA.T(), tmpB)
		b.AddVec(b, &atb)
	}

	var dbg mat.VecDense
	if err := dbg.SolveVec(a, b); err != nil {
		return r3.Vector{}, errors.Wrap(err, "gyroscope bias normal equations are singular")
	}
	return r3.Vector{X: dbg.AtVec(0), Y: dbg.AtVec(1), Z: dbg.AtVec(2)}, nil
}

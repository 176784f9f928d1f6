package initialize

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/vio/preintegration"
	"go.viam.com/vio/spatialmath"
)

// StandardGravity is Earth's nominal gravitational acceleration, used to fix the magnitude of the
// solved gravity vector once its direction has been recovered.
const StandardGravity = 9.80665

// VIAlignmentResult is the output of the mono+IMU visual-inertial alignment solve.
type VIAlignmentResult struct {
	Velocities []r3.Vector
	Gravity    r3.Vector
	Scale      float64
}

// VIAlignment jointly solves for per-keyframe body velocity, the gravity vector, and the
// monocular scale factor that best reconcile the window's vision-only (up-to-scale) poses with
// its IMU pre-integration deltas, following the same linear system as VINS-Mono's
// LinearAlignment: each adjacent pair contributes a 6-row block relating (v_i, v_j, g, s)
// to that pair's pre-integrated position and velocity delta. The camera-to-IMU translation
// extrinsic is assumed zero here; a non-zero lever arm would add a constant offset to each
// block's position residual, which this module's cameramodel layer does not yet model.
func VIAlignment(poses []*spatialmath.Pose, deltas []*preintegration.Delta) (*VIAlignmentResult, error) {
	n := len(poses)
	if len(deltas) != n-1 || n < 2 {
		return nil, errors.New("need one IMU delta between every pair of consecutive keyframe poses")
	}

	size := 3*n + 4
	a := mat.NewDense(size, size, nil)
	b := mat.NewVecDense(size, nil)

	for i := 0; i < n-1; i++ {
		j := i + 1
		d := deltas[i]
		dt := d.SumDt()
		if dt <= 0 {
			return nil, errors.Errorf("non-positive sum_dt between keyframes %d and %d", i, j)
		}

		ri := spatialmath.QuatToRotationMatrix(poses[i].Orientation().Quaternion()).Dense()
		rj := spatialmath.QuatToRotationMatrix(poses[j].Orientation().Quaternion()).Dense()
		var riT mat.Dense
		riT.CloneFrom(ri.T())

		var riTrj mat.Dense
		riTrj.Mul(&riT, rj)

		pDiff := poses[j].Point().Sub(poses[i].Point())
		pDiffVec := mat.NewVecDense(3, []float64{pDiff.X, pDiff.Y, pDiff.Z})
		var scaleCol mat.VecDense
		scaleCol.MulVec(&riT, pDiffVec)

		localA := mat.NewDense(6, 10, nil)
		localB := mat.NewVecDense(6, nil)

		setDenseBlock(localA, 0, 0, scaleMat(-dt, identity3()))
		setDenseBlock(localA, 0, 6, scaleMat(0.5*dt*dt, matFromDense(&riT)))
		localA.Set(0, 9, scaleCol.AtVec(0))
		localA.Set(1, 9, scaleCol.AtVec(1))
		localA.Set(2, 9, scaleCol.AtVec(2))

		dp := d.DeltaP()
		localB.SetVec(0, dp.X)
		localB.SetVec(1, dp.Y)
		localB.SetVec(2, dp.Z)

		setDenseBlock(localA, 3, 0, scaleMat(-1, identity3()))
		setDenseBlock(localA, 3, 3, matFromDense(&riTrj))
		setDenseBlock(localA, 3, 6, scaleMat(dt, matFromDense(&riT)))

		dv := d.DeltaV()
		localB.SetVec(3, dv.X)
		localB.SetVec(4, dv.Y)
		localB.SetVec(5, dv.Z)

		var localATA mat.Dense
		localATA.Mul(localA.T(), localA)
		var localATB mat.VecDense
		localATB.MulVec(localA.T(), localB)

		idx := [10]int{
			3 * i, 3*i + 1, 3*i + 2,
			3 * j, 3*j + 1, 3*j + 2,
			3 * n, 3*n + 1, 3*n + 2,
			3*n + 3,
		}
		for r := 0; r < 10; r++ {
			for c := 0; c < 10; c++ {
				a.Set(idx[r], idx[c], a.At(idx[r], idx[c])+localATA.At(r, c))
			}
			b.SetVec(idx[r], b.AtVec(idx[r])+localATB.AtVec(r))
		}
	}

	var x mat.VecDense
	if err := x.SolveVec(a, b); err != nil {
		return nil, errors.Wrap(err, "visual-inertial alignment normal equations are singular")
	}

	velocities := make([]r3.Vector, n)
	for i := 0; i < n; i++ {
		velocities[i] = r3.Vector{X: x.AtVec(3 * i), Y: x.AtVec(3*i + 1), Z: x.AtVec(3*i + 2)}
	}
	gravity := r3.Vector{X: x.AtVec(3 * n), Y: x.AtVec(3*n + 1), Z: x.AtVec(3*n + 2)}
	scale := x.AtVec(3*n + 3)

	if scale <= 0 {
		return nil, errors.Errorf("visual-inertial alignment produced non-positive scale %.4f", scale)
	}
	gravity = gravity.Normalize().Mul(StandardGravity)

	return &VIAlignmentResult{Velocities: velocities, Gravity: gravity, Scale: scale}, nil
}

type mat3x3 [3][3]float64

func identity3() mat3x3 {
	return mat3x3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

func scaleMat(s float64, m mat3x3) mat3x3 {
	var out mat3x3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = s * m[i][j]
		}
	}
	return out
}

func matFromDense(d *mat.Dense) mat3x3 {
	var out mat3x3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = d.At(i, j)
		}
	}
	return out
}

func setDenseBlock(dst *mat.Dense, row, col int, m mat3x3) {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			dst.Set(row+i, col+j, m[i][j])
		}
	}
}

package optimizer

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/vio/marginalize"
	"go.viam.com/vio/preintegration"
	"go.viam.com/vio/spatialmath"
)

// NewIMUResidual builds the 15-dimensional IMU residual between adjacent window slots i and j,
// weighted by the inverse square root of the pre-integration delta's propagated covariance, per
// spec.md §4.1/§4.4. Callers must already have checked delta.ValidateSumDt(); this constructor
// does not re-check it.
func NewIMUResidual(i, j int, delta *preintegration.Delta, gravity r3.Vector, get func(marginalize.BlockID) []float64) marginalize.Residual {
	blocks := []marginalize.BlockID{
		marginalize.PoseBlock(i),
		marginalize.SpeedBiasBlock(i),
		marginalize.PoseBlock(j),
		marginalize.SpeedBiasBlock(j),
	}

	sqrtInfo := sqrtInfoFromCovariance(delta.Covariance())

	eval := func(ambient [][]float64) []float64 {
		pi, vi, bai, bgi := poseAndSpeedBias(ambient[0], ambient[1])
		pj, vj, baj, bgj := poseAndSpeedBias(ambient[2], ambient[3])
		res := delta.Evaluate(
			pi.Point(), pi.Orientation().Quaternion(), vi, bai, bgi,
			pj.Point(), pj.Orientation().Quaternion(), vj, baj, bgj,
			gravity,
		)
		out := make([]float64, res.Len())
		for k := 0; k < res.Len(); k++ {
			out[k] = res.AtVec(k)
		}
		return out
	}

	return newNumericResidual(blocks, get, eval, sqrtInfo, 0)
}

func poseAndSpeedBias(poseAmbient, speedBiasAmbient []float64) (pose *spatialmath.Pose, v, ba, bg r3.Vector) {
	p := poseFromAmbient7(poseAmbient)
	v = r3.Vector{X: speedBiasAmbient[0], Y: speedBiasAmbient[1], Z: speedBiasAmbient[2]}
	ba = r3.Vector{X: speedBiasAmbient[3], Y: speedBiasAmbient[4], Z: speedBiasAmbient[5]}
	bg = r3.Vector{X: speedBiasAmbient[6], Y: speedBiasAmbient[7], Z: speedBiasAmbient[8]}
	return p, v, ba, bg
}

// sqrtInfoFromCovariance returns W such that W^T W = covariance^-1, via W = L^-1 where
// covariance = L L^T is the Cholesky factorization. Falls back to the identity if the covariance
// is singular (e.g. a freshly constructed delta with a single sample).
func sqrtInfoFromCovariance(covariance *mat.SymDense) *mat.Dense {
	n := covariance.SymmetricDim()
	var chol mat.Cholesky
	if !chol.Factorize(covariance) {
		return identityDense(n)
	}
	var l mat.TriDense
	chol.LTo(&l)

	identity := identityDense(n)
	var inv mat.Dense
	if err := inv.Solve(&l, identity); err != nil {
		return identityDense(n)
	}
	return &inv
}

func identityDense(n int) *mat.Dense {
	out := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		out.Set(i, i, 1)
	}
	return out
}

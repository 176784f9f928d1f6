package initialize

import (
	"math"

	"github.com/golang/geo/r3"

	"go.viam.com/vio/preintegration"
)

// MinGravityVariance is the default threshold (m/s^2) on the variance of per-frame δv/sum_dt
// below which the IMU is considered insufficiently excited to trust the upcoming visual-inertial
// alignment. Per spec.md §4.3 this only produces a warning; initialization proceeds regardless.
const MinGravityVariance = 0.25

// GravityExcitation reports the variance of per-frame (δv/sum_dt) across the window, the
// spec's sufficiency proxy for IMU excitation during initialization.
func GravityExcitation(deltas []*preintegration.Delta) float64 {
	if len(deltas) == 0 {
		return 0
	}

	var sum r3.Vector
	samples := make([]r3.Vector, 0, len(deltas))
	for _, d := range deltas {
		if d.SumDt() == 0 {
			continue
		}
		avg := d.DeltaV().Mul(1 / d.SumDt())
		samples = append(samples, avg)
		sum = sum.Add(avg)
	}
	if len(samples) == 0 {
		return 0
	}
	mean := sum.Mul(1 / float64(len(samples)))

	var variance float64
	for _, s := range samples {
		diff := s.Sub(mean)
		variance += diff.Dot(diff)
	}
	return variance / float64(len(samples))
}

// GravitySufficientlyExcited reports whether GravityExcitation clears MinGravityVariance.
func GravitySufficientlyExcited(deltas []*preintegration.Delta) bool {
	return GravityExcitation(deltas) >= MinGravityVariance
}

// GravityAlignmentRotation returns the rotation that takes g (expressed in the frame the VI
// alignment solved in) onto -z, so the optimizer's world frame has gravity pointing down. Ground
// truth gravity magnitude is preserved; only the direction is rotated.
func GravityAlignmentRotation(g r3.Vector) r3.Vector {
	down := r3.Vector{Z: -1}
	gNorm := g.Normalize()
	axis := gNorm.Cross(down)
	sinAngle := axis.Norm()
	cosAngle := gNorm.Dot(down)
	angle := math.Atan2(sinAngle, cosAngle)
	if sinAngle < 1e-9 {
		if cosAngle > 0 {
			return r3.Vector{}
		}
		return r3.Vector{X: math.Pi}
	}
	return axis.Normalize().Mul(angle)
}

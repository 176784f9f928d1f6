package optimizer

import (
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/vio/marginalize"
)

// tangentDim is marginalize.BlockKind.Dim, re-exported locally for readability at call sites
// that already import this file's retract machinery.
func tangentDim(kind marginalize.BlockKind) int { return kind.Dim() }

// Retract is the exported form of retract, used by the solver package to apply a computed
// tangent-space step to a block's ambient representation.
func Retract(kind marginalize.BlockKind, ambient, delta []float64) []float64 {
	return retract(kind, ambient, delta)
}

// retract applies a tangent-space perturbation delta to an ambient parameter vector, following
// spec.md §4.4's local parameterization on the right-multiplied quaternion for pose/extrinsic
// blocks (translation perturbed additively, rotation perturbed by right-multiplying a small-angle
// quaternion) and plain vector addition for speed-bias/td/feature blocks.
func retract(kind marginalize.BlockKind, ambient []float64, delta []float64) []float64 {
	switch kind {
	case marginalize.PoseBlockKind, marginalize.ExtrinsicBlockKind:
		out := make([]float64, 7)
		out[0] = ambient[0] + delta[0]
		out[1] = ambient[1] + delta[1]
		out[2] = ambient[2] + delta[2]
		q := quat.Number{Real: ambient[3], Imag: ambient[4], Jmag: ambient[5], Kmag: ambient[6]}
		dq := smallAngleQuat(delta[3], delta[4], delta[5])
		nq := quat.Mul(q, dq)
		n := quat.Abs(nq)
		if n > 0 {
			nq = quat.Scale(1/n, nq)
		}
		out[3], out[4], out[5], out[6] = nq.Real, nq.Imag, nq.Jmag, nq.Kmag
		return out
	default:
		out := make([]float64, len(ambient))
		for i := range ambient {
			out[i] = ambient[i] + delta[i]
		}
		return out
	}
}

// smallAngleQuat builds the first-order quaternion exp(0.5*(x,y,z)) used to apply a small
// rotation update in the local tangent frame.
func smallAngleQuat(x, y, z float64) quat.Number {
	return quat.Number{Real: 1, Imag: 0.5 * x, Jmag: 0.5 * y, Kmag: 0.5 * z}
}

// Local is retract's inverse: given an ambient value and a reference ambient value it was
// retracted from, it recovers the tangent-space perturbation delta such that
// retract(kind, reference, delta) ≈ ambient. Used to express a block's current estimate as a
// perturbation away from a marginalization prior's own linearization point, since
// marginalize.Prior.AsResidual takes dx in exactly this tangent-space form.
func Local(kind marginalize.BlockKind, ambient, reference []float64) []float64 {
	switch kind {
	case marginalize.PoseBlockKind, marginalize.ExtrinsicBlockKind:
		out := make([]float64, 6)
		out[0] = ambient[0] - reference[0]
		out[1] = ambient[1] - reference[1]
		out[2] = ambient[2] - reference[2]
		q := quat.Number{Real: ambient[3], Imag: ambient[4], Jmag: ambient[5], Kmag: ambient[6]}
		refQ := quat.Number{Real: reference[3], Imag: reference[4], Jmag: reference[5], Kmag: reference[6]}
		dq := quat.Mul(quat.Conj(refQ), q)
		if dq.Real < 0 {
			dq = quat.Scale(-1, dq)
		}
		out[3] = 2 * dq.Imag
		out[4] = 2 * dq.Jmag
		out[5] = 2 * dq.Kmag
		return out
	default:
		out := make([]float64, len(ambient))
		for i := range ambient {
			out[i] = ambient[i] - reference[i]
		}
		return out
	}
}

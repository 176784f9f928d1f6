package pipeline

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/vio/estimator"
	"go.viam.com/vio/spatialmath"
)

// predictor is a scratch fast-forward nominal-state integrator kept separate from the estimator's
// own authoritative window state, mirroring VINS-Mono's tmp_P/tmp_Q/tmp_V globals: resync anchors
// it to the estimator's just-solved slot-W state, and step advances it one raw IMU sample at a
// time via the same midpoint-integration math as estimator.propagateLatest.
type predictor struct {
	p, v    r3.Vector
	q       quat.Number
	ba, bg  r3.Vector
	gravity r3.Vector

	haveLast         bool
	lastAcc, lastGyr r3.Vector
}

// resync re-anchors the predictor to a freshly solved slot-W state.
func (pr *predictor) resync(odom estimator.Odometry, bias estimator.Bias, gravity r3.Vector) {
	pr.p, pr.q, pr.v = odom.P, odom.Q, odom.V
	pr.ba, pr.bg = bias.Ba, bias.Bg
	pr.gravity = gravity
	pr.haveLast = false
}

// step advances the predictor by one IMU sample and returns the resulting odometry. The very
// first call after construction or a resync only seeds lastAcc/lastGyr, since midpoint
// integration needs a preceding sample to average against.
func (pr *predictor) step(dt float64, acc, gyr r3.Vector) estimator.Odometry {
	if !pr.haveLast {
		pr.lastAcc, pr.lastGyr, pr.haveLast = acc, gyr, true
		return estimator.Odometry{P: pr.p, Q: pr.q, V: pr.v}
	}

	unGyr := pr.lastGyr.Add(gyr).Mul(0.5).Sub(pr.bg)
	halfAngle := unGyr.Mul(0.5 * dt)
	dq := quat.Number{Real: 1, Imag: halfAngle.X, Jmag: halfAngle.Y, Kmag: halfAngle.Z}
	nq := quat.Mul(pr.q, dq)
	nq = quat.Scale(1/quat.Abs(nq), nq)

	unAcc0 := quatRotate(pr.q, pr.lastAcc.Sub(pr.ba)).Add(pr.gravity)
	unAcc1 := quatRotate(nq, acc.Sub(pr.ba)).Add(pr.gravity)
	unAcc := unAcc0.Add(unAcc1).Mul(0.5)

	pr.p = pr.p.Add(pr.v.Mul(dt)).Add(unAcc.Mul(0.5 * dt * dt))
	pr.v = pr.v.Add(unAcc.Mul(dt))
	pr.q = nq
	pr.lastAcc, pr.lastGyr = acc, gyr

	return estimator.Odometry{P: pr.p, Q: pr.q, V: pr.v}
}

func quatRotate(q quat.Number, v r3.Vector) r3.Vector {
	return spatialmath.NewPoseFromQuaternion(r3.Vector{}, q).Transform(v)
}

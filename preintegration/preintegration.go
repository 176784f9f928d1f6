// Package preintegration implements IMU pre-integration between consecutive window slots:
// accumulating raw accelerometer/gyroscope samples into a single relative-motion delta (δp, δv,
// δq), its 15x15 covariance, and its 15x6 Jacobian with respect to the reference biases, so the
// optimizer can build one IMU residual per adjacent slot pair without re-integrating every sample
// on every solve.
package preintegration

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// MaxSumDt is the sum_dt beyond which the caller must drop the IMU factor for this delta rather
// than hand it to the optimizer (spec §4.1 failure mode).
const MaxSumDt = 10.0

// State/noise row layout shared by the covariance, Jacobian and residual: position, the
// small-angle rotation error, velocity, accelerometer bias, gyroscope bias.
const (
	idxP  = 0
	idxQ  = 3
	idxV  = 6
	idxBa = 9
	idxBg = 12

	stateDim = 15
	biasDim  = 6
	noiseDim = 18
)

// NoiseConfig holds the continuous-time noise densities used to propagate the delta's
// covariance. Defaults follow typical MEMS-grade IMU datasheets and are deliberately
// conservative; callers integrating a better-characterized sensor should override them.
type NoiseConfig struct {
	AccNoise     float64
	GyrNoise     float64
	AccBiasNoise float64
	GyrBiasNoise float64
}

// DefaultNoiseConfig returns the module's default noise parameters.
func DefaultNoiseConfig() NoiseConfig {
	return NoiseConfig{
		AccNoise:     0.08,
		GyrNoise:     0.004,
		AccBiasNoise: 0.00004,
		GyrBiasNoise: 2.0e-6,
	}
}

type sample struct {
	dt       float64
	acc, gyr r3.Vector
}

// Delta is the accumulated relative-motion estimate between two window slots, referenced at a
// fixed pair of biases. It must be repropagated if the reference biases drift too far from the
// window's current bias estimate.
type Delta struct {
	noise NoiseConfig

	baRef, bgRef r3.Vector
	acc0, gyr0   r3.Vector

	deltaP r3.Vector
	deltaV r3.Vector
	deltaQ quat.Number
	sumDt  float64

	covariance *mat.SymDense
	jacobian   *mat.Dense

	samples []sample
}

// New starts an empty delta referenced at the given biases, seeded with the first raw sample. The
// seed is buffered as a zero-length sample so that Repropagate and Merge replay from it.
func New(baRef, bgRef, acc0, gyr0 r3.Vector, noise NoiseConfig) *Delta {
	return &Delta{
		noise:      noise,
		baRef:      baRef,
		bgRef:      bgRef,
		acc0:       acc0,
		gyr0:       gyr0,
		deltaQ:     quat.Number{Real: 1},
		covariance: mat.NewSymDense(stateDim, nil),
		jacobian:   identityBiasJacobian(),
		samples:    []sample{{0, acc0, gyr0}},
	}
}

func identityBiasJacobian() *mat.Dense {
	j := mat.NewDense(stateDim, biasDim, nil)
	for i := 0; i < biasDim; i++ {
		j.Set(idxBa+i, i, 1)
	}
	return j
}

// SumDt returns the total elapsed time spanned by the delta.
func (d *Delta) SumDt() float64 { return d.sumDt }

// DeltaP returns the accumulated mean position delta, linearized about the reference biases.
func (d *Delta) DeltaP() r3.Vector { return d.deltaP }

// DeltaV returns the accumulated mean velocity delta, linearized about the reference biases.
func (d *Delta) DeltaV() r3.Vector { return d.deltaV }

// DeltaQ returns the accumulated mean rotation delta, linearized about the reference biases.
func (d *Delta) DeltaQ() quat.Number { return d.deltaQ }

// Covariance returns the delta's 15x15 propagated noise covariance.
func (d *Delta) Covariance() *mat.SymDense { return d.covariance }

// Jacobian returns the delta's 15x6 Jacobian of (δp, δθ, δv, Ba, Bg) with respect to the
// reference biases (Ba, Bg), used to linearly correct the mean when the optimizer's current bias
// estimate has drifted from the reference.
func (d *Delta) Jacobian() *mat.Dense { return d.jacobian }

// Exceeded reports whether this delta has accumulated more than MaxSumDt seconds, the point at
// which the caller should drop the corresponding IMU factor instead of handing it to the
// optimizer.
func (d *Delta) Exceeded() bool { return d.sumDt > MaxSumDt }

// ValidateSumDt returns an error if sumDt exceeds MaxSumDt, for callers that would rather fail
// fast than check Exceeded.
func (d *Delta) ValidateSumDt() error {
	if d.Exceeded() {
		return errors.Errorf("imu delta sum_dt %.3fs exceeds max %.3fs, drop this factor", d.sumDt, MaxSumDt)
	}
	return nil
}

// Push appends one raw sample, updating the mean via midpoint integration, propagating the
// covariance under the discrete noise model, and updating the bias Jacobian. The sample is
// buffered so Repropagate can later replay it against different reference biases.
func (d *Delta) Push(dt float64, acc, gyr r3.Vector) {
	d.samples = append(d.samples, sample{dt, acc, gyr})
	d.integrate(dt, acc, gyr)
}

// Merge folds older's buffered samples in front of d's own and reintegrates from scratch,
// producing a single delta spanning older's start through d's end. Used when a window slot
// straddled by two deltas is dropped without dropping either of its neighbors (spec.md §3's
// MARG_SECOND_NEW): the discarded slot's own pre-integration interval must be folded into the
// surviving delta rather than discarded, mirroring VINS-Mono's pre_integrations push-back merge.
func (d *Delta) Merge(older *Delta) *Delta {
	merged := New(older.baRef, older.bgRef, older.acc0, older.gyr0, older.noise)
	for _, s := range older.samples {
		merged.Push(s.dt, s.acc, s.gyr)
	}
	for _, s := range d.samples {
		merged.Push(s.dt, s.acc, s.gyr)
	}
	return merged
}

// Repropagate replays every buffered sample from scratch against new reference biases. This is
// required whenever the optimizer's bias estimate has moved far enough from the reference that
// the linearized Jacobian correction in Evaluate would no longer be accurate.
func (d *Delta) Repropagate(baNew, bgNew r3.Vector) {
	samples := d.samples

	d.baRef = baNew
	d.bgRef = bgNew
	d.deltaP = r3.Vector{}
	d.deltaV = r3.Vector{}
	d.deltaQ = quat.Number{Real: 1}
	d.sumDt = 0
	d.covariance = mat.NewSymDense(stateDim, nil)
	d.jacobian = identityBiasJacobian()
	d.samples = nil

	for _, s := range samples {
		d.Push(s.dt, s.acc, s.gyr)
	}
}

// integrate runs one midpoint integration step and propagates the linearized error state's
// covariance and bias Jacobian across it, following the discrete-time error-state model used by
// mainstream VIO pre-integrators (e.g. VINS-Mono's IntegrationBase::midPointIntegration).
func (d *Delta) integrate(dt float64, acc1, gyr1 r3.Vector) {
	unAcc0 := d.acc0.Sub(d.baRef)
	unGyr := d.gyr0.Add(gyr1).Mul(0.5).Sub(d.bgRef)

	halfAngle := unGyr.Mul(0.5 * dt)
	dq := quat.Number{Real: 1, Imag: halfAngle.X, Jmag: halfAngle.Y, Kmag: halfAngle.Z}
	resultDeltaQ := quat.Mul(d.deltaQ, dq)
	resultDeltaQ = quat.Scale(1/quat.Abs(resultDeltaQ), resultDeltaQ)

	unAcc1 := acc1.Sub(d.baRef)
	r0 := quatToMat3(d.deltaQ)
	r1 := quatToMat3(resultDeltaQ)
	unAcc0World := vecMat3(r0, unAcc0)
	unAcc1World := vecMat3(r1, unAcc1)
	unAcc := unAcc0World.Add(unAcc1World).Mul(0.5)

	resultDeltaP := d.deltaP.Add(d.deltaV.Mul(dt)).Add(unAcc.Mul(0.5 * dt * dt))
	resultDeltaV := d.deltaV.Add(unAcc.Mul(dt))

	f := d.buildF(dt, unGyr, unAcc0, unAcc1, r0, r1)
	v := d.buildV(dt, r0, r1)

	d.covariance = propagateCovariance(f, v, d.covariance, d.noiseMatrix())
	d.jacobian = propagateJacobian(f, d.jacobian)

	d.deltaP = resultDeltaP
	d.deltaV = resultDeltaV
	d.deltaQ = resultDeltaQ
	d.sumDt += dt
	d.acc0 = acc1
	d.gyr0 = gyr1
}

// buildF assembles the 15x15 discrete error-state transition matrix for one integration step.
func (d *Delta) buildF(dt float64, unGyr, unAcc0, unAcc1 r3.Vector, r0, r1 mat3) *mat.Dense {
	rwx := skewMat3(unGyr)
	ra0x := skewMat3(unAcc0)
	ra1x := skewMat3(unAcc1)
	iMinusRwxDt := subMat3(identityMat3(), scaleMat3(rwx, dt))

	f := mat.NewDense(stateDim, stateDim, nil)
	setBlock3(f, idxP, idxP, identityMat3())
	setBlock3(f, idxQ, idxQ, iMinusRwxDt)
	setBlock3(f, idxV, idxV, identityMat3())
	setBlock3(f, idxBa, idxBa, identityMat3())
	setBlock3(f, idxBg, idxBg, identityMat3())

	setBlock3(f, idxP, idxV, scaleMat3(identityMat3(), dt))
	setBlock3(f, idxQ, idxBg, scaleMat3(identityMat3(), -dt))

	dpdq := addMat3(
		scaleMat3(mulMat3(r0, ra0x), -0.25*dt*dt),
		scaleMat3(mulMat3(mulMat3(r1, ra1x), iMinusRwxDt), -0.25*dt*dt),
	)
	setBlock3(f, idxP, idxQ, dpdq)

	dvdq := addMat3(
		scaleMat3(mulMat3(r0, ra0x), -0.5*dt),
		scaleMat3(mulMat3(mulMat3(r1, ra1x), iMinusRwxDt), -0.5*dt),
	)
	setBlock3(f, idxV, idxQ, dvdq)

	dpdba := scaleMat3(addMat3(r0, r1), -0.25*dt*dt)
	setBlock3(f, idxP, idxBa, dpdba)
	dvdba := scaleMat3(addMat3(r0, r1), -0.5*dt)
	setBlock3(f, idxV, idxBa, dvdba)

	dpdbg := scaleMat3(mulMat3(r1, ra1x), 0.25*dt*dt*dt)
	setBlock3(f, idxP, idxBg, dpdbg)
	dvdbg := scaleMat3(mulMat3(r1, ra1x), 0.5*dt*dt)
	setBlock3(f, idxV, idxBg, dvdbg)

	return f
}

// buildV assembles the 15x18 matrix mapping raw sample noise (acc0, gyr0, acc1, gyr1, then the
// bias random-walk terms) into the error state for one integration step.
func (d *Delta) buildV(dt float64, r0, r1 mat3) *mat.Dense {
	v := mat.NewDense(stateDim, noiseDim, nil)

	setBlock3(v, idxP, 0, scaleMat3(r0, 0.25*dt*dt))
	setBlock3(v, idxP, 6, scaleMat3(r1, 0.25*dt*dt))
	setBlock3(v, idxV, 0, scaleMat3(r0, 0.5*dt))
	setBlock3(v, idxV, 6, scaleMat3(r1, 0.5*dt))

	setBlock3(v, idxQ, 3, scaleMat3(identityMat3(), 0.5*dt))
	setBlock3(v, idxQ, 9, scaleMat3(identityMat3(), 0.5*dt))

	setBlock3(v, idxBa, 12, scaleMat3(identityMat3(), dt))
	setBlock3(v, idxBg, 15, scaleMat3(identityMat3(), dt))

	return v
}

func (d *Delta) noiseMatrix() *mat.Dense {
	n := mat.NewDense(noiseDim, noiseDim, nil)
	accVar := d.noise.AccNoise * d.noise.AccNoise
	gyrVar := d.noise.GyrNoise * d.noise.GyrNoise
	baVar := d.noise.AccBiasNoise * d.noise.AccBiasNoise
	bgVar := d.noise.GyrBiasNoise * d.noise.GyrBiasNoise
	for i := 0; i < 3; i++ {
		n.Set(i, i, accVar)
		n.Set(3+i, 3+i, gyrVar)
		n.Set(6+i, 6+i, accVar)
		n.Set(9+i, 9+i, gyrVar)
		n.Set(12+i, 12+i, baVar)
		n.Set(15+i, 15+i, bgVar)
	}
	return n
}

func propagateCovariance(f, v *mat.Dense, prev *mat.SymDense, noise *mat.Dense) *mat.SymDense {
	prevDense := mat.NewDense(stateDim, stateDim, nil)
	prevDense.CloneFrom(prev)

	var fpft mat.Dense
	fpft.Mul(f, prevDense)
	fpft.Mul(&fpft, f.T())

	var vqvt mat.Dense
	vqvt.Mul(v, noise)
	vqvt.Mul(&vqvt, v.T())

	var sum mat.Dense
	sum.Add(&fpft, &vqvt)

	out := mat.NewSymDense(stateDim, nil)
	for i := 0; i < stateDim; i++ {
		for j := i; j < stateDim; j++ {
			avg := 0.5 * (sum.At(i, j) + sum.At(j, i))
			out.SetSym(i, j, avg)
		}
	}
	return out
}

func propagateJacobian(f, prev *mat.Dense) *mat.Dense {
	var next mat.Dense
	next.Mul(f, prev)
	out := mat.NewDense(stateDim, biasDim, nil)
	out.Copy(&next)
	return out
}

// Evaluate compares the delta against the pose/velocity change predicted by the free-body
// equations over sum_dt between adjacent window slots i and j, linearly corrected for the
// deviation of the current bias estimate from the delta's reference biases. Returns the 15-vector
// residual (δp, δθ, δv, δBa, δBg).
func (d *Delta) Evaluate(
	pi r3.Vector, qi quat.Number, vi r3.Vector, bai, bgi r3.Vector,
	pj r3.Vector, qj quat.Number, vj r3.Vector, baj, bgj r3.Vector,
	g r3.Vector,
) *mat.VecDense {
	dba := bai.Sub(d.baRef)
	dbg := bgi.Sub(d.bgRef)

	correctedDeltaQ := correctQ(d.deltaQ, d.jacobian, dbg)
	correctedDeltaP := correctVec(d.deltaP, d.jacobian, idxP, dba, dbg)
	correctedDeltaV := correctVec(d.deltaV, d.jacobian, idxV, dba, dbg)

	qiInv := quat.Conj(qi)
	residualP := rotate(qiInv, pj.Sub(pi).Sub(vi.Mul(d.sumDt)).Sub(g.Mul(0.5*d.sumDt*d.sumDt))).Sub(correctedDeltaP)
	residualV := rotate(qiInv, vj.Sub(vi).Sub(g.Mul(d.sumDt))).Sub(correctedDeltaV)

	relativeQ := quat.Mul(qiInv, qj)
	errQ := quat.Mul(quat.Conj(correctedDeltaQ), relativeQ)
	residualQ := r3.Vector{X: 2 * errQ.Imag, Y: 2 * errQ.Jmag, Z: 2 * errQ.Kmag}

	residualBa := baj.Sub(bai)
	residualBg := bgj.Sub(bgi)

	out := mat.NewVecDense(stateDim, nil)
	setVec3(out, idxP, residualP)
	setVec3(out, idxQ, residualQ)
	setVec3(out, idxV, residualV)
	setVec3(out, idxBa, residualBa)
	setVec3(out, idxBg, residualBg)
	return out
}

// correctQ applies the first-order bias correction ∂δq/∂Bg to the delta's mean rotation.
func correctQ(deltaQ quat.Number, jacobian *mat.Dense, dbg r3.Vector) quat.Number {
	correction := jacobianRow3(jacobian, idxQ, r3.Vector{}, dbg)
	correction = correction.Mul(0.5)
	dq := quat.Number{Real: 1, Imag: correction.X, Jmag: correction.Y, Kmag: correction.Z}
	result := quat.Mul(deltaQ, dq)
	return quat.Scale(1/quat.Abs(result), result)
}

// correctVec applies the first-order bias correction ∂mean/∂(Ba,Bg) to a position or velocity
// mean, whose Jacobian rows start at rowOffset.
func correctVec(mean r3.Vector, jacobian *mat.Dense, rowOffset int, dba, dbg r3.Vector) r3.Vector {
	return mean.Add(jacobianRow3(jacobian, rowOffset, dba, dbg))
}

// jacobianRow3 evaluates three consecutive Jacobian rows (columns 0-2 against dba, 3-5 against
// dbg) starting at rowOffset, returning the resulting 3-vector correction.
func jacobianRow3(jacobian *mat.Dense, rowOffset int, dba, dbg r3.Vector) r3.Vector {
	row := func(r int) r3.Vector {
		return r3.Vector{
			X: jacobian.At(r, 0)*dba.X + jacobian.At(r, 1)*dba.Y + jacobian.At(r, 2)*dba.Z +
				jacobian.At(r, 3)*dbg.X + jacobian.At(r, 4)*dbg.Y + jacobian.At(r, 5)*dbg.Z,
		}
	}
	return r3.Vector{
		X: row(rowOffset).X,
		Y: row(rowOffset + 1).X,
		Z: row(rowOffset + 2).X,
	}
}

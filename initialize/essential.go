// Package initialize implements the sliding window's stereo+IMU and mono+IMU initialization
// paths: relative pose from correspondences, linear PnP, closed-form gyroscope bias solving, and
// visual-inertial alignment for velocity/gravity/scale.
package initialize

import (
	"math"
	"math/rand"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/vio/spatialmath"
)

// toNormalizedPlane projects a bearing onto the z=1 plane, as ComputeEssentialMatrix expects:
// bearings coming out of the tracker/cameramodel layer are already calibrated (undistorted,
// intrinsics-free) directions, so no K correction is needed before the 8-point algorithm.
func toNormalizedPlane(bearings []r3.Vector) []r2.Point {
	pts := make([]r2.Point, len(bearings))
	for i, b := range bearings {
		if b.Z == 0 {
			pts[i] = r2.Point{X: b.X, Y: b.Y}
			continue
		}
		pts[i] = r2.Point{X: b.X / b.Z, Y: b.Y / b.Z}
	}
	return pts
}

// ComputeEssentialMatrix estimates the essential matrix from at least 8 normalized-plane
// correspondences via the 8-point algorithm, enforcing the rank-2 constraint by zeroing the
// smallest singular value. Bearings are assumed calibrated, so this needs no intrinsics matrix.
func ComputeEssentialMatrix(pts1, pts2 []r2.Point) (*mat.Dense, error) {
	if len(pts1) != len(pts2) {
		return nil, errors.New("correspondence sets must have the same length")
	}
	if len(pts1) < 8 {
		return nil, errors.New("8-point algorithm needs at least 8 correspondences")
	}

	n1, t1 := normalizePoints(pts1)
	n2, t2 := normalizePoints(pts2)

	m := mat.NewDense(len(pts1), 9, nil)
	for i := range n1 {
		a, b := n1[i], n2[i]
		m.SetRow(i, []float64{
			b.X * a.X, b.X * a.Y, b.X,
			b.Y * a.X, b.Y * a.Y, b.Y,
			a.X, a.Y, 1,
		})
	}

	var svd mat.SVD
	if !svd.Factorize(m, mat.SVDFull) {
		return nil, errors.New("failed to factorize correspondence matrix")
	}
	var v mat.Dense
	svd.VTo(&v)
	last := v.ColView(8)
	eData := make([]float64, 9)
	for i := range eData {
		eData[i] = last.AtVec(i)
	}
	e := mat.NewDense(3, 3, eData)

	var svd2 mat.SVD
	if !svd2.Factorize(e, mat.SVDFull) {
		return nil, errors.New("failed to factorize raw essential matrix")
	}
	var u2, vt2 mat.Dense
	svd2.UTo(&u2)
	var v2 mat.Dense
	svd2.VTo(&v2)
	vt2.CloneFrom(v2.T())
	sv := svd2.Values(nil)
	// An essential matrix has two equal non-zero singular values; average the top two and drop
	// the third rather than trusting the raw (noisy) 8-point solution directly.
	avg := (sv[0] + sv[1]) / 2
	s := mat.NewDense(3, 3, nil)
	s.Set(0, 0, avg)
	s.Set(1, 1, avg)

	var refined mat.Dense
	refined.Mul(&u2, s)
	refined.Mul(&refined, &vt2)

	var out mat.Dense
	out.Mul(t2.T(), &refined)
	out.Mul(&out, t1)
	return &out, nil
}

func normalizePoints(pts []r2.Point) ([]r2.Point, *mat.Dense) {
	n := len(pts)
	var mu r2.Point
	for _, p := range pts {
		mu.X += p.X
		mu.Y += p.Y
	}
	mu = mu.Mul(1 / float64(n))

	var meanDist float64
	for _, p := range pts {
		dx, dy := p.X-mu.X, p.Y-mu.Y
		meanDist += math.Sqrt(dx*dx+dy*dy) / float64(n)
	}
	scale := math.Sqrt2 / meanDist
	if meanDist == 0 {
		scale = 1
	}

	t := mat.NewDense(3, 3, []float64{
		scale, 0, -scale * mu.X,
		0, scale, -scale * mu.Y,
		0, 0, 1,
	})

	out := make([]r2.Point, n)
	for i, p := range pts {
		out[i] = r2.Point{X: scale * (p.X - mu.X), Y: scale * (p.Y - mu.Y)}
	}
	return out, t
}

// decomposeEssentialMatrix returns the two candidate rotations and the (unit-norm, sign-
// ambiguous) translation direction encoded by an essential matrix.
func decomposeEssentialMatrix(e *mat.Dense) (r1, r2m, t *mat.Dense, err error) {
	var svd mat.SVD
	if !svd.Factorize(e, mat.SVDFull) {
		return nil, nil, nil, errors.New("failed to factorize essential matrix")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	var vt mat.Dense
	vt.CloneFrom(v.T())

	if mat.Det(&u) < 0 {
		u.Scale(-1, &u)
	}
	if mat.Det(&vt) < 0 {
		vt.Scale(-1, &vt)
	}

	w := mat.NewDense(3, 3, nil)
	w.Set(0, 1, 1)
	w.Set(1, 0, -1)
	w.Set(2, 2, 1)

	var rr1, rr2 mat.Dense
	rr1.Mul(&u, w)
	rr1.Mul(&rr1, &vt)
	rr2.Mul(&u, w.T())
	rr2.Mul(&rr2, &vt)

	tCol := u.ColView(2)
	tt := mat.NewDense(3, 1, []float64{tCol.AtVec(0), tCol.AtVec(1), tCol.AtVec(2)})

	return &rr1, &rr2, tt, nil
}

// triangulateLinear triangulates correspondences given an identity pose for pts1's camera and
// `pose` (a 3x4 [R|t]) for pts2's camera, via the standard two-view DLT.
func triangulateLinear(pose *mat.Dense, pts1, pts2 []r3.Vector) []r3.Vector {
	p0 := mat.NewDense(3, 4, nil)
	p0.Set(0, 0, 1)
	p0.Set(1, 1, 1)
	p0.Set(2, 2, 1)

	out := make([]r3.Vector, len(pts1))
	for i := range pts1 {
		c1 := crossMat(pts1[i])
		c2 := crossMat(pts2[i])
		var row1, row2 mat.Dense
		row1.Mul(c1, p0)
		row2.Mul(c2, pose)
		var a mat.Dense
		a.Stack(&row1, &row2)

		var svd mat.SVD
		if !svd.Factorize(&a, mat.SVDFull) {
			out[i] = r3.Vector{}
			continue
		}
		var v mat.Dense
		svd.VTo(&v)
		col := v.ColView(3)
		w := col.AtVec(3)
		if w == 0 {
			out[i] = r3.Vector{}
			continue
		}
		out[i] = r3.Vector{X: col.AtVec(0) / w, Y: col.AtVec(1) / w, Z: col.AtVec(2) / w}
	}
	return out
}

func crossMat(v r3.Vector) *mat.Dense {
	m := mat.NewDense(3, 3, nil)
	m.Set(0, 1, -v.Z)
	m.Set(0, 2, v.Y)
	m.Set(1, 0, v.Z)
	m.Set(1, 2, -v.X)
	m.Set(2, 0, -v.Y)
	m.Set(2, 1, v.X)
	return m
}

func countPositiveDepth(pose *mat.Dense, pts3d []r3.Vector) int {
	rot3 := r3.Vector{X: pose.At(2, 0), Y: pose.At(2, 1), Z: pose.At(2, 2)}
	tz := pose.At(2, 3)
	count := 0
	for _, pt := range pts3d {
		if pt.Z > 0 && rot3.Dot(pt)+tz > 0 {
			count++
		}
	}
	return count
}

// disambiguatePose picks, among the 4 sign combinations of (R1, R2) x (t, -t), the one that
// places the most triangulated points in front of both cameras.
func disambiguatePose(r1, r2m, t *mat.Dense, pts1, pts2 []r3.Vector) *mat.Dense {
	var tNeg mat.Dense
	tNeg.Scale(-1, t)

	candidates := make([]*mat.Dense, 4)
	rs := []*mat.Dense{r1, r1, r2m, r2m}
	ts := []*mat.Dense{t, &tNeg, t, &tNeg}
	for i := range candidates {
		var pose mat.Dense
		pose.Augment(rs[i], ts[i])
		candidates[i] = &pose
	}

	best := candidates[0]
	bestCount := -1
	for _, cand := range candidates {
		pts3d := triangulateLinear(cand, pts1, pts2)
		count := countPositiveDepth(cand, pts3d)
		if count > bestCount {
			bestCount = count
			best = cand
		}
	}
	return best
}

func poseFromRT(rt *mat.Dense) *spatialmath.Pose {
	r := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r.Set(i, j, rt.At(i, j))
		}
	}
	rm := spatialmath.NewRotationMatrix(r.RawMatrix().Data)
	t := r3.Vector{X: rt.At(0, 3), Y: rt.At(1, 3), Z: rt.At(2, 3)}
	return spatialmath.NewPoseFromQuaternion(t, rm.Quaternion())
}

// EstimateRelativePose computes the pose of camera 1 with respect to camera 0 from a set of
// bearing correspondences, using the 8-point essential matrix and cheirality disambiguation. The
// returned translation is unit-norm; scale must be recovered separately (stereo depth or IMU
// alignment).
func EstimateRelativePose(bearings0, bearings1 []r3.Vector) (*spatialmath.Pose, error) {
	pts1 := toNormalizedPlane(bearings0)
	pts2 := toNormalizedPlane(bearings1)

	e, err := ComputeEssentialMatrix(pts1, pts2)
	if err != nil {
		return nil, errors.Wrap(err, "essential matrix estimation")
	}
	r1, r2m, t, err := decomposeEssentialMatrix(e)
	if err != nil {
		return nil, errors.Wrap(err, "essential matrix decomposition")
	}

	pts1H := make([]r3.Vector, len(pts1))
	pts2H := make([]r3.Vector, len(pts2))
	for i := range pts1 {
		pts1H[i] = r3.Vector{X: pts1[i].X, Y: pts1[i].Y, Z: 1}
		pts2H[i] = r3.Vector{X: pts2[i].X, Y: pts2[i].Y, Z: 1}
	}
	best := disambiguatePose(r1, r2m, t, pts1H, pts2H)
	return poseFromRT(best), nil
}

// RANSACOptions controls EstimateRelativePoseRANSAC.
type RANSACOptions struct {
	Iterations int
	Threshold  float64
}

// DefaultRANSACOptions returns defaults for the 8-point RANSAC loop, sized for a
// sliding-window-sized correspondence set.
func DefaultRANSACOptions() RANSACOptions {
	return RANSACOptions{Iterations: 200, Threshold: 0.01}
}

// EstimateRelativePoseRANSAC robustly estimates the relative pose between two bearing sets,
// rejecting outlier correspondences by repeated random 8-point minimal solves scored against
// Sampson-style epipolar residuals on the full correspondence set.
func EstimateRelativePoseRANSAC(bearings0, bearings1 []r3.Vector, opts RANSACOptions) (*spatialmath.Pose, []bool, error) {
	n := len(bearings0)
	if n != len(bearings1) {
		return nil, nil, errors.New("correspondence sets must have the same length")
	}
	if n < 8 {
		return nil, nil, errors.New("need at least 8 correspondences for RANSAC essential estimation")
	}

	pts1 := toNormalizedPlane(bearings0)
	pts2 := toNormalizedPlane(bearings1)

	bestInliers := -1
	var bestMask []bool
	var bestE *mat.Dense

	for iter := 0; iter < opts.Iterations; iter++ {
		idx := rand.Perm(n)[:8]
		sample1 := make([]r2.Point, 8)
		sample2 := make([]r2.Point, 8)
		for i, j := range idx {
			sample1[i] = pts1[j]
			sample2[i] = pts2[j]
		}
		e, err := ComputeEssentialMatrix(sample1, sample2)
		if err != nil {
			continue
		}

		mask := make([]bool, n)
		count := 0
		for i := range pts1 {
			if epipolarResidual(e, pts1[i], pts2[i]) < opts.Threshold {
				mask[i] = true
				count++
			}
		}
		if count > bestInliers {
			bestInliers = count
			bestMask = mask
			bestE = e
		}
	}

	if bestE == nil || bestInliers < 8 {
		return nil, nil, errors.New("RANSAC failed to find a consensus essential matrix")
	}

	inPts1 := make([]r3.Vector, 0, bestInliers)
	inPts2 := make([]r3.Vector, 0, bestInliers)
	for i, ok := range bestMask {
		if !ok {
			continue
		}
		inPts1 = append(inPts1, r3.Vector{X: pts1[i].X, Y: pts1[i].Y, Z: 1})
		inPts2 = append(inPts2, r3.Vector{X: pts2[i].X, Y: pts2[i].Y, Z: 1})
	}

	r1, r2m, t, err := decomposeEssentialMatrix(bestE)
	if err != nil {
		return nil, nil, errors.Wrap(err, "essential matrix decomposition")
	}
	best := disambiguatePose(r1, r2m, t, inPts1, inPts2)
	return poseFromRT(best), bestMask, nil
}

// epipolarResidual returns |x2^T E x1|, a cheap proxy for the Sampson distance used for RANSAC
// inlier scoring.
func epipolarResidual(e *mat.Dense, p1, p2 r2.Point) float64 {
	x1 := mat.NewVecDense(3, []float64{p1.X, p1.Y, 1})
	x2 := mat.NewVecDense(3, []float64{p2.X, p2.Y, 1})
	var ex1 mat.VecDense
	ex1.MulVec(e, x1)
	return math.Abs(mat.Dot(x2, &ex1))
}

package initialize

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/vio/spatialmath"
)

// EstimatePoseLinearPnP solves for the calibrated camera pose that best explains a set of
// 3-D-point/bearing correspondences, via the direct linear transform: build the 2Nx12 system
// relating the unknown 3x4 projection matrix to each correspondence, solve via SVD, then project
// the rotation block back onto SO(3). Used to seed stereo+IMU initialization (PnP against already
// triangulated features) and to place mono+IMU's buffered non-keyframe frames against the SfM
// point cloud.
func EstimatePoseLinearPnP(points, bearings []r3.Vector) (*spatialmath.Pose, error) {
	if len(points) != len(bearings) {
		return nil, errors.New("points and bearings must have the same length")
	}
	if len(points) < 6 {
		return nil, errors.New("linear PnP needs at least 6 correspondences")
	}

	n := len(points)
	a := mat.NewDense(2*n, 12, nil)
	for i := 0; i < n; i++ {
		x, y, z := points[i].X, points[i].Y, points[i].Z
		u, v := normalizedUV(bearings[i])

		a.SetRow(2*i, []float64{
			x, y, z, 1, 0, 0, 0, 0, -u * x, -u * y, -u * z, -u,
		})
		a.SetRow(2*i+1, []float64{
			0, 0, 0, 0, x, y, z, 1, -v * x, -v * y, -v * z, -v,
		})
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return nil, errors.New("failed to factorize PnP DLT matrix")
	}
	var vmat mat.Dense
	svd.VTo(&vmat)
	last := vmat.ColView(11)
	pData := make([]float64, 12)
	for i := range pData {
		pData[i] = last.AtVec(i)
	}
	p := mat.NewDense(3, 4, pData)

	r := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r.Set(i, j, p.At(i, j))
		}
	}
	t := r3.Vector{X: p.At(0, 3), Y: p.At(1, 3), Z: p.At(2, 3)}

	rOrtho, scale, err := orthogonalize(r)
	if err != nil {
		return nil, errors.Wrap(err, "PnP rotation orthogonalization")
	}
	if mat.Det(rOrtho) < 0 {
		rOrtho.Scale(-1, rOrtho)
		scale = -scale
	}
	t = t.Mul(1 / scale)

	rm := spatialmath.NewRotationMatrix(rOrtho.RawMatrix().Data)
	return spatialmath.NewPoseFromQuaternion(t, rm.Quaternion()), nil
}

func normalizedUV(b r3.Vector) (float64, float64) {
	if b.Z == 0 {
		return b.X, b.Y
	}
	return b.X / b.Z, b.Y / b.Z
}

// orthogonalize projects a near-rotation 3x3 matrix onto SO(3) via SVD, returning the corrected
// rotation and the scale factor (the mean singular value) that the unknown projection matrix's
// overall scale ambiguity introduced.
func orthogonalize(r *mat.Dense) (*mat.Dense, float64, error) {
	var svd mat.SVD
	if !svd.Factorize(r, mat.SVDFull) {
		return nil, 0, errors.New("failed to factorize rotation block")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	var out mat.Dense
	out.Mul(&u, v.T())

	sv := svd.Values(nil)
	scale := (sv[0] + sv[1] + sv[2]) / 3
	return &out, scale, nil
}

package preintegration

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// mat3 is a plain 3x3 matrix, row-major. The error-state Jacobians below are assembled in terms
// of 3x3 blocks (rotation matrices, skew-symmetric lever arms, scaled identities); it is easier to
// read and verify the block algebra in this form before copying the result into the 15x15/15x18
// gonum matrices used for the actual covariance propagation.
type mat3 [3][3]float64

func identityMat3() mat3 {
	return mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

func scaleMat3(m mat3, s float64) mat3 {
	var out mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = m[i][j] * s
		}
	}
	return out
}

func addMat3(a, b mat3) mat3 {
	var out mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = a[i][j] + b[i][j]
		}
	}
	return out
}

func subMat3(a, b mat3) mat3 {
	return addMat3(a, scaleMat3(b, -1))
}

func mulMat3(a, b mat3) mat3 {
	var out mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var sum float64
			for k := 0; k < 3; k++ {
				sum += a[i][k] * b[k][j]
			}
			out[i][j] = sum
		}
	}
	return out
}

// skewMat3 returns the skew-symmetric cross-product matrix [v]_x such that [v]_x * u == v × u.
func skewMat3(v r3.Vector) mat3 {
	return mat3{
		{0, -v.Z, v.Y},
		{v.Z, 0, -v.X},
		{-v.Y, v.X, 0},
	}
}

// quatToMat3 returns the rotation matrix of a unit quaternion.
func quatToMat3(q quat.Number) mat3 {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return mat3{
		{1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y)},
		{2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x)},
		{2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y)},
	}
}

func vecMat3(m mat3, v r3.Vector) r3.Vector {
	return r3.Vector{
		X: m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z,
		Y: m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z,
		Z: m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z,
	}
}

// setBlock3 writes m into dense starting at (row, col).
func setBlock3(dense *mat.Dense, row, col int, m mat3) {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			dense.Set(row+i, col+j, m[i][j])
		}
	}
}

func setVec3(vec *mat.VecDense, row int, v r3.Vector) {
	vec.SetVec(row, v.X)
	vec.SetVec(row+1, v.Y)
	vec.SetVec(row+2, v.Z)
}

// rotate rotates a vector by a unit quaternion: q * v * q^-1, using the quaternion's rotation
// matrix rather than sandwiched quaternion products (cheaper, same result).
func rotate(q quat.Number, v r3.Vector) r3.Vector {
	return vecMat3(quatToMat3(q), v)
}

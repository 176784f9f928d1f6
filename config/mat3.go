package config

import "github.com/golang/geo/r3"

// mat3/vec3 are tiny fixed-size helpers for the extrinsic seed file's Roo re-basing transform,
// mirroring the preintegration package's own small inline mat3 helpers rather than pulling in
// gonum/mat for a single 3x3-by-3x3 multiply.
type mat3 [9]float64 // row-major

func mat3FromSlice(s []float64) mat3 {
	var m mat3
	copy(m[:], s)
	return m
}

func mat3Mul(a, b mat3) mat3 {
	var out mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var sum float64
			for k := 0; k < 3; k++ {
				sum += a[i*3+k] * b[k*3+j]
			}
			out[i*3+j] = sum
		}
	}
	return out
}

func mat3Transpose(a mat3) mat3 {
	var out mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[j*3+i] = a[i*3+j]
		}
	}
	return out
}

func mat3MulVec(a mat3, v []float64) []float64 {
	out := make([]float64, 3)
	for i := 0; i < 3; i++ {
		out[i] = a[i*3]*v[0] + a[i*3+1]*v[1] + a[i*3+2]*v[2]
	}
	return out
}

func mat3Flatten(a mat3) []float64 { return append([]float64{}, a[:]...) }

func vec3(v []float64) r3.Vector { return r3.Vector{X: v[0], Y: v[1], Z: v[2]} }

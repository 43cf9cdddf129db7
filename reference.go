// Package tilegemm reference implementations for verification
package tilegemm

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/gonum/mat"
)

// Reference contains simple, correct implementations of the product.
// They are used for testing and for verifying the offloaded result.
type Reference struct{}

// Naive computes C = A×B with a straightforward triple loop, accumulating
// in float32 in ascending k order.
func (Reference) Naive(a, b *Matrix) *Matrix {
	n := a.N
	c := NewMatrix(n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			var sum float32
			for k := 0; k < n; k++ {
				sum += float32(a.Data[i*n+k] * b.Data[k*n+j])
			}
			c.Data[i*n+j] = sum
		}
	}
	return c
}

// BLAS computes C = A×B with gonum's float32 Gemm.
func (Reference) BLAS(a, b *Matrix) *Matrix {
	n := a.N
	c := NewMatrix(n)
	ga := blas32.General{Rows: n, Cols: n, Stride: n, Data: a.Data}
	gb := blas32.General{Rows: n, Cols: n, Stride: n, Data: b.Data}
	gc := blas32.General{Rows: n, Cols: n, Stride: n, Data: c.Data}
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, ga, gb, 0, gc)
	return c
}

// Exact computes A×B in float64 with gonum's mat package. Row-major
// float64 data is returned; it serves as the ground truth against which
// float32 rounding error is measured.
func (Reference) Exact(a, b *Matrix) []float64 {
	n := a.N
	da := mat.NewDense(n, n, widen(a.Data))
	db := mat.NewDense(n, n, widen(b.Data))

	var dc mat.Dense
	dc.Mul(da, db)
	return dc.RawMatrix().Data
}

func widen(src []float32) []float64 {
	dst := make([]float64, len(src))
	for i, v := range src {
		dst[i] = float64(v)
	}
	return dst
}

// VerifyAgainstBLAS compares c with gonum's product of a and b using a
// tolerance scaled to the problem size and the largest input magnitude.
func VerifyAgainstBLAS(a, b, c *Matrix) VerificationResult {
	expected := Reference{}.BLAS(a, b)
	scale := max(maxAbs(a.Data), maxAbs(b.Data))
	return VerifyFloat32Array(expected.Data, c.Data, MatMulTolerance(a.N, scale))
}

func maxAbs(data []float32) float32 {
	var m float32
	for _, v := range data {
		if v < 0 {
			v = -v
		}
		if v > m {
			m = v
		}
	}
	return m
}

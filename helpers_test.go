package tilegemm

import (
	"math/rand"
	"testing"
)

// NewContextOrFail creates a context and closes it when the test ends
func NewContextOrFail(t testing.TB, cfg Config) *Context {
	t.Helper()
	ctx, err := NewContext(cfg)
	if err != nil {
		t.Fatalf("Failed to create context: %v", err)
	}
	t.Cleanup(func() { ctx.Close() })
	return ctx
}

// NewRegionOrFail creates a region and fails the test if unsuccessful
func NewRegionOrFail(t testing.TB, ctx *Context, host []float32, extent Range2, mode AccessMode) *Region {
	t.Helper()
	r, err := ctx.NewRegion(host, extent, mode)
	if err != nil {
		t.Fatalf("Failed to create %s region: %v", mode, err)
	}
	return r
}

// JoinOrFail joins the queue and fails the test on error
func JoinOrFail(t testing.TB, q *Queue) {
	t.Helper()
	if err := q.Join(); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
}

// MatMulOrFail multiplies and fails the test on error
func MatMulOrFail(t testing.TB, ctx *Context, q *Queue, a, b *Matrix, opts MatMulOptions) *Matrix {
	t.Helper()
	c, err := Multiply(ctx, q, a, b, opts)
	if err != nil {
		t.Fatalf("Multiply(n=%d, block=%d) failed: %v", a.N, opts.BlockSize, err)
	}
	return c
}

// randomMatrix fills an n×n matrix with values in [-1, 1)
func randomMatrix(rng *rand.Rand, n int) *Matrix {
	m := NewMatrix(n)
	for i := range m.Data {
		m.Data[i] = rng.Float32()*2 - 1
	}
	return m
}

func withBlock(bs int) MatMulOptions {
	opts := DefaultMatMulOptions()
	opts.BlockSize = bs
	return opts
}

func assertMatrixNear(t *testing.T, expected, actual *Matrix, tol ToleranceConfig) {
	t.Helper()
	if result := VerifyFloat32Array(expected.Data, actual.Data, tol); !result.OK() {
		t.Fatalf("matrices differ: %s", result)
	}
}

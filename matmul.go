package tilegemm

import (
	"fmt"
	"math"
	"time"
)

// KernelTiledMatMul is the registry name of the tiled multiply kernel.
const KernelTiledMatMul = "tiled_matmul"

// Matrix is an N×N matrix of float32 values in row-major order.
type Matrix struct {
	N    int
	Data []float32
}

// NewMatrix allocates a zeroed n×n matrix.
func NewMatrix(n int) *Matrix {
	return &Matrix{N: n, Data: make([]float32, n*n)}
}

// NewMatrixFilled allocates an n×n matrix with every element set to v.
func NewMatrixFilled(n int, v float32) *Matrix {
	m := NewMatrix(n)
	for i := range m.Data {
		m.Data[i] = v
	}
	return m
}

// At returns element (row, col).
func (m *Matrix) At(row, col int) float32 {
	return m.Data[row*m.N+col]
}

// Set stores v at (row, col).
func (m *Matrix) Set(row, col int, v float32) {
	m.Data[row*m.N+col] = v
}

func (m *Matrix) validate(op, name string) error {
	if m == nil {
		return NewInvalidArgError(op, fmt.Sprintf("matrix %s is nil", name))
	}
	if m.N <= 0 {
		return NewInvalidArgError(op, fmt.Sprintf("matrix %s: size must be positive, got %d", name, m.N))
	}
	if m.N > math.MaxInt/m.N {
		return NewInvalidArgError(op, fmt.Sprintf("matrix %s: size %d overflows the element count", name, m.N))
	}
	if len(m.Data) != m.N*m.N {
		return NewInvalidArgError(op, fmt.Sprintf("matrix %s: %d elements for size %d", name, len(m.Data), m.N))
	}
	return nil
}

// TiledRange returns the launch shape used for an n×n product with the
// given block size: one work-item per output element, rounded up to whole
// block×block work-groups.
func TiledRange(n, blockSize int) NDRange {
	padded := (n + blockSize - 1) / blockSize * blockSize
	return NDRange{
		Global: Range2{Rows: padded, Cols: padded},
		Local:  Range2{Rows: blockSize, Cols: blockSize},
	}
}

// tiledMatMulArgs carries the bound accessors and tile layout.
type tiledMatMulArgs struct {
	a, b, c      Accessor
	n, blockSize int
	tileA, tileB int // local memory slots
}

// tiledMatMulKernel computes one block×block tile of C per work-group.
// For every block of the reduction dimension the group stages an A tile
// and a B tile in local memory, then every work-item accumulates from the
// tiles in ascending k order. Each Items pass completes before the next
// starts, which orders the staging writes before the reads and the reads
// before the next overwrite. Work-items outside the matrix stage zeros
// and skip the final store.
func tiledMatMulKernel(g *WorkGroup, args ...interface{}) {
	p := args[0].(tiledMatMulArgs)
	n, bs := p.n, p.blockSize

	tileA := g.LocalMem(p.tileA)
	tileB := g.LocalMem(p.tileB)
	acc := make([]float32, bs*bs) // private per work-item

	for k := 0; k < n; k += bs {
		g.Items(func(it *NDItem) {
			row, col := it.Global.Row, it.Global.Col
			lr, lc := it.Local.Row, it.Local.Col

			var av, bv float32
			if row < n && k+lc < n {
				av = p.a.At(row, k+lc)
			}
			if k+lr < n && col < n {
				bv = p.b.At(k+lr, col)
			}
			tileA[lr*bs+lc] = av
			tileB[lr*bs+lc] = bv
		})

		// The trailing block may be shorter than bs
		width := min(bs, n-k)
		g.Items(func(it *NDItem) {
			lr, lc := it.Local.Row, it.Local.Col
			sum := acc[lr*bs+lc]
			for i := 0; i < width; i++ {
				// The conversion rounds the product and keeps it unfused
				sum += float32(tileA[lr*bs+i] * tileB[i*bs+lc])
			}
			acc[lr*bs+lc] = sum
		})
	}

	g.Items(func(it *NDItem) {
		if row, col := it.Global.Row, it.Global.Col; row < n && col < n {
			p.c.Set(row, col, acc[it.Local.Row*bs+it.Local.Col])
		}
	})
}

// MatMul computes c = a × b on the context's device through q.
//
// The inputs are mirrored into read-only regions and c into a write-only
// region, the tiled kernel is submitted and joined, and the result is
// copied back with TransferResult. c.Data is only written by that final
// copy, so on any error it is left untouched.
func MatMul(ctx *Context, q *Queue, a, b, c *Matrix, opts MatMulOptions) error {
	for _, m := range []struct {
		name string
		m    *Matrix
	}{{"A", a}, {"B", b}, {"C", c}} {
		if err := m.m.validate("MatMul", m.name); err != nil {
			return err
		}
	}
	n := a.N
	if b.N != n || c.N != n {
		return NewInvalidArgError("MatMul", fmt.Sprintf("dimension mismatch: A is %d, B is %d, C is %d", a.N, b.N, c.N))
	}
	if err := opts.Validate(n); err != nil {
		return err
	}

	extent := Range2{Rows: n, Cols: n}
	var regions []*Region
	defer func() {
		for _, r := range regions {
			if err := r.Release(); err != nil {
				ctx.log.Warn().Err(err).Msg("region release failed")
			}
		}
	}()

	newRegion := func(m *Matrix, mode AccessMode) (*Region, error) {
		r, err := ctx.NewRegion(m.Data, extent, mode)
		if err != nil {
			return nil, err
		}
		regions = append(regions, r)
		return r, nil
	}

	ra, err := newRegion(a, AccessRead)
	if err != nil {
		return err
	}
	rb, err := newRegion(b, AccessRead)
	if err != nil {
		return err
	}
	rc, err := newRegion(c, AccessWrite)
	if err != nil {
		return err
	}

	bs := opts.BlockSize
	start := time.Now()

	q.Submit(func(h *Handler) error {
		accA, err := h.Access(ra, AccessRead)
		if err != nil {
			return err
		}
		accB, err := h.Access(rb, AccessRead)
		if err != nil {
			return err
		}
		accC, err := h.Access(rc, AccessWrite)
		if err != nil {
			return err
		}
		args := tiledMatMulArgs{
			a: accA, b: accB, c: accC,
			n: n, blockSize: bs,
			tileA: h.LocalAlloc(bs * bs),
			tileB: h.LocalAlloc(bs * bs),
		}
		return h.ParallelFor(KernelTiledMatMul, TiledRange(n, bs), args)
	})

	if err := q.Join(); err != nil {
		return err
	}

	if err := TransferResult(q, rc, c.Data); err != nil {
		return err
	}

	ctx.log.Debug().
		Int("n", n).
		Int("block_size", bs).
		Stringer("remainder", opts.Remainder).
		Dur("elapsed", time.Since(start)).
		Msg("matmul complete")
	return nil
}

// Multiply returns a × b as a new matrix, or nil and the error.
func Multiply(ctx *Context, q *Queue, a, b *Matrix, opts MatMulOptions) (*Matrix, error) {
	if err := a.validate("Multiply", "A"); err != nil {
		return nil, err
	}
	c := NewMatrix(a.N)
	if err := MatMul(ctx, q, a, b, c, opts); err != nil {
		return nil, err
	}
	return c, nil
}

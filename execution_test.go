package tilegemm

import (
	"fmt"
	"sync/atomic"
	"testing"
)

// launch registers fn under the test's name and runs it over rng with
// the given local allocations, returning the Join error.
func launch(t *testing.T, ctx *Context, fn KernelFunc, rng NDRange, local []int, args ...interface{}) error {
	t.Helper()
	name := fmt.Sprintf("%s_kernel", t.Name())
	if err := ctx.RegisterKernel(name, fn); err != nil {
		t.Fatalf("RegisterKernel: %v", err)
	}
	q := ctx.NewQueue()
	q.Submit(func(h *Handler) error {
		for _, n := range local {
			h.LocalAlloc(n)
		}
		return h.ParallelFor(name, rng, args...)
	})
	return q.Join()
}

func TestLaunchCoversIndexSpace(t *testing.T) {
	ctx := NewContextOrFail(t, DefaultConfig())

	rng := NDRange{Global: Range2{12, 20}, Local: Range2{3, 4}}
	hits := make([]int32, rng.Global.Size())

	err := launch(t, ctx, func(it *NDItem, args ...interface{}) {
		if it.Global.Row != it.Group.Row*it.LocalRange.Rows+it.Local.Row ||
			it.Global.Col != it.Group.Col*it.LocalRange.Cols+it.Local.Col {
			panic("inconsistent work-item indices")
		}
		atomic.AddInt32(&hits[it.Global.Row*it.GlobalRange.Cols+it.Global.Col], 1)
	}, rng, nil)
	if err != nil {
		t.Fatalf("launch failed: %v", err)
	}

	for i, h := range hits {
		if h != 1 {
			t.Fatalf("index %d executed %d times", i, h)
		}
	}
}

func TestBarrierPublishesLocalMemory(t *testing.T) {
	ctx := NewContextOrFail(t, DefaultConfig())

	const phases = 5
	rng := NDRange{Global: Range2{8, 8}, Local: Range2{4, 4}}
	groupSize := rng.Local.Size()
	out := make([]int32, rng.Global.Size())

	err := launch(t, ctx, func(it *NDItem, args ...interface{}) {
		local := it.LocalMem(0)
		self := it.Local.Row*it.LocalRange.Cols + it.Local.Col
		var sum int32
		for p := 0; p < phases; p++ {
			local[self] = float32(self + p)
			it.Barrier()
			// Read a peer's slot written before the barrier
			peer := (self + 1 + p) % groupSize
			if got, want := local[peer], float32(peer+p); got != want {
				panic(fmt.Sprintf("phase %d: slot %d = %v, want %v", p, peer, got, want))
			}
			sum += int32(local[peer])
			it.Barrier()
		}
		atomic.StoreInt32(&out[it.Global.Row*it.GlobalRange.Cols+it.Global.Col], sum)
	}, rng, []int{groupSize})
	if err != nil {
		t.Fatalf("launch failed: %v", err)
	}

	for row := 0; row < rng.Global.Rows; row++ {
		for col := 0; col < rng.Global.Cols; col++ {
			self := (row%rng.Local.Rows)*rng.Local.Cols + col%rng.Local.Cols
			var want int32
			for p := 0; p < phases; p++ {
				want += int32((self+1+p)%groupSize + p)
			}
			if got := out[row*rng.Global.Cols+col]; got != want {
				t.Fatalf("work-item (%d,%d) sum = %d, want %d", row, col, got, want)
			}
		}
	}
}

func TestEarlyExitDoesNotStrandGroup(t *testing.T) {
	ctx := NewContextOrFail(t, DefaultConfig())

	rng := NDRange{Global: Range2{4, 4}, Local: Range2{4, 4}}
	var finished int32

	err := launch(t, ctx, func(it *NDItem, args ...interface{}) {
		defer atomic.AddInt32(&finished, 1)
		if it.Local.Col == 0 {
			return
		}
		it.Barrier()
		it.Barrier()
	}, rng, nil)
	if err != nil {
		t.Fatalf("launch failed: %v", err)
	}
	if finished := atomic.LoadInt32(&finished); finished != 16 {
		t.Errorf("finished = %d, want 16", finished)
	}
}

func TestWorkItemPanicBreaksBarrier(t *testing.T) {
	ctx := NewContextOrFail(t, DefaultConfig())

	rng := NDRange{Global: Range2{8, 8}, Local: Range2{4, 4}}
	err := launch(t, ctx, func(it *NDItem, args ...interface{}) {
		if it.Global.Row == 5 && it.Global.Col == 6 {
			panic("work-item failure")
		}
		it.Barrier()
	}, rng, nil)

	if !IsKernelLaunchError(err) {
		t.Fatalf("expected kernel launch error, got %v", err)
	}
}

func TestAccessorModeViolation(t *testing.T) {
	ctx := NewContextOrFail(t, DefaultConfig())
	host := make([]float32, 4)

	in := NewRegionOrFail(t, ctx, host, Range2{2, 2}, AccessRead)
	defer in.Release()
	out := NewRegionOrFail(t, ctx, host, Range2{2, 2}, AccessWrite)
	defer out.Release()

	if err := ctx.RegisterKernel("write_input", func(it *NDItem, args ...interface{}) {
		args[0].(Accessor).Set(it.Global.Row, it.Global.Col, 1)
	}); err != nil {
		t.Fatal(err)
	}
	if err := ctx.RegisterKernel("read_output", func(it *NDItem, args ...interface{}) {
		_ = args[0].(Accessor).At(it.Global.Row, it.Global.Col)
	}); err != nil {
		t.Fatal(err)
	}

	rng := NDRange{Global: Range2{2, 2}, Local: Range2{1, 1}}
	q := ctx.NewQueue()

	tests := []struct {
		kernel string
		region *Region
		mode   AccessMode
	}{
		// Accessors may be narrower than their region
		{"write_input", in, AccessRead},
		{"read_output", out, AccessWrite},
	}
	for _, tt := range tests {
		t.Run(tt.kernel, func(t *testing.T) {
			q.Submit(func(h *Handler) error {
				acc, err := h.Access(tt.region, tt.mode)
				if err != nil {
					return err
				}
				return h.ParallelFor(tt.kernel, rng, acc)
			})
			if err := q.Join(); !IsKernelLaunchError(err) {
				t.Errorf("expected kernel launch error, got %v", err)
			}
		})
	}
}

func TestLaunchRejectsInvalidRange(t *testing.T) {
	ctx := NewContextOrFail(t, DefaultConfig())
	var ran int32
	if err := ctx.RegisterKernel("noop", func(it *NDItem, args ...interface{}) {
		atomic.AddInt32(&ran, 1)
	}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		rng   NDRange
		local []int
	}{
		{"ZeroLocal", NDRange{Global: Range2{4, 4}, Local: Range2{0, 4}}, nil},
		{"ZeroGlobal", NDRange{Global: Range2{0, 4}, Local: Range2{1, 1}}, nil},
		{"NotMultiple", NDRange{Global: Range2{10, 10}, Local: Range2{4, 4}}, nil},
		{"GroupTooLarge", NDRange{Global: Range2{64, 64}, Local: Range2{64, 64}}, nil},
		{"LocalMemoryTooLarge", NDRange{Global: Range2{4, 4}, Local: Range2{2, 2}}, []int{LocalMemElements + 1}},
		{"ZeroLocalAllocation", NDRange{Global: Range2{4, 4}, Local: Range2{2, 2}}, []int{0}},
	}

	q := ctx.NewQueue()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q.Submit(func(h *Handler) error {
				for _, n := range tt.local {
					h.LocalAlloc(n)
				}
				return h.ParallelFor("noop", tt.rng)
			})
			if err := q.Join(); !IsKernelLaunchError(err) {
				t.Errorf("expected kernel launch error, got %v", err)
			}
		})
	}

	if ran := atomic.LoadInt32(&ran); ran != 0 {
		t.Errorf("rejected launches executed %d work-items", ran)
	}
}

func TestRegisterKernel(t *testing.T) {
	ctx := NewContextOrFail(t, DefaultConfig())
	noop := func(it *NDItem, args ...interface{}) {}

	if err := ctx.RegisterKernel(KernelTiledMatMul, noop); !IsInvalidArgError(err) {
		t.Errorf("re-registering %q: got %v, want invalid argument error", KernelTiledMatMul, err)
	}
	if err := ctx.RegisterKernel("", noop); !IsInvalidArgError(err) {
		t.Errorf("empty name: got %v, want invalid argument error", err)
	}
	if err := ctx.RegisterKernel("nil_kernel", nil); !IsInvalidArgError(err) {
		t.Errorf("nil kernel: got %v, want invalid argument error", err)
	}
}

func TestGroupKernelPhases(t *testing.T) {
	ctx := NewContextOrFail(t, DefaultConfig())

	rng := NDRange{Global: Range2{6, 8}, Local: Range2{3, 4}}
	groupSize := rng.Local.Size()
	out := make([]float32, rng.Global.Size())

	// Each work-item publishes its local index, then reads its mirror
	// image written in the previous pass
	if err := ctx.RegisterGroupKernel("mirror", func(g *WorkGroup, args ...interface{}) {
		local := g.LocalMem(0)
		g.Items(func(it *NDItem) {
			local[it.Local.Row*it.LocalRange.Cols+it.Local.Col] = float32(it.Local.Row*it.LocalRange.Cols + it.Local.Col)
		})
		g.Items(func(it *NDItem) {
			self := it.Local.Row*it.LocalRange.Cols + it.Local.Col
			out[it.Global.Row*it.GlobalRange.Cols+it.Global.Col] = local[groupSize-1-self]
		})
	}); err != nil {
		t.Fatal(err)
	}

	q := ctx.NewQueue()
	q.Submit(func(h *Handler) error {
		h.LocalAlloc(groupSize)
		return h.ParallelFor("mirror", rng)
	})
	JoinOrFail(t, q)

	for row := 0; row < rng.Global.Rows; row++ {
		for col := 0; col < rng.Global.Cols; col++ {
			self := (row%rng.Local.Rows)*rng.Local.Cols + col%rng.Local.Cols
			if got, want := out[row*rng.Global.Cols+col], float32(groupSize-1-self); got != want {
				t.Fatalf("work-item (%d,%d) = %v, want %v", row, col, got, want)
			}
		}
	}
}

func TestGroupKernelFailures(t *testing.T) {
	ctx := NewContextOrFail(t, DefaultConfig())

	kernels := map[string]GroupKernelFunc{
		"group_panic": func(g *WorkGroup, args ...interface{}) {
			if g.Group == (Index2{Row: 1, Col: 1}) {
				panic("work-group failure")
			}
		},
		"group_barrier": func(g *WorkGroup, args ...interface{}) {
			g.Items(func(it *NDItem) { it.Barrier() })
		},
	}

	rng := NDRange{Global: Range2{4, 4}, Local: Range2{2, 2}}
	q := ctx.NewQueue()
	for name, fn := range kernels {
		t.Run(name, func(t *testing.T) {
			if err := ctx.RegisterGroupKernel(name, fn); err != nil {
				t.Fatal(err)
			}
			q.Submit(func(h *Handler) error {
				return h.ParallelFor(name, rng)
			})
			if err := q.Join(); !IsKernelLaunchError(err) {
				t.Errorf("expected kernel launch error, got %v", err)
			}
		})
	}
}

func TestRegisterGroupKernel(t *testing.T) {
	ctx := NewContextOrFail(t, DefaultConfig())
	noop := func(g *WorkGroup, args ...interface{}) {}

	// Both kernel forms share one namespace
	if err := ctx.RegisterKernel("shared", func(it *NDItem, args ...interface{}) {}); err != nil {
		t.Fatal(err)
	}
	if err := ctx.RegisterGroupKernel("shared", noop); !IsInvalidArgError(err) {
		t.Errorf("duplicate name: got %v, want invalid argument error", err)
	}
	if err := ctx.RegisterGroupKernel("nil_group_kernel", nil); !IsInvalidArgError(err) {
		t.Errorf("nil kernel: got %v, want invalid argument error", err)
	}
	if err := ctx.RegisterGroupKernel("", noop); !IsInvalidArgError(err) {
		t.Errorf("empty name: got %v, want invalid argument error", err)
	}
}

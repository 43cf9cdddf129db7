package tilegemm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// NDRange describes a launch: the global index space and the shape of
// the work-groups that tile it.
type NDRange struct {
	Global Range2
	Local  Range2
}

// Groups returns the number of work-groups along each dimension.
func (r NDRange) Groups() Range2 {
	return Range2{Rows: r.Global.Rows / r.Local.Rows, Cols: r.Global.Cols / r.Local.Cols}
}

func (r NDRange) validate(d *Device, localElems int) error {
	if r.Local.Rows <= 0 || r.Local.Cols <= 0 {
		return fmt.Errorf("work-group size %dx%d must be positive", r.Local.Rows, r.Local.Cols)
	}
	if r.Global.Rows <= 0 || r.Global.Cols <= 0 {
		return fmt.Errorf("global range %dx%d must be positive", r.Global.Rows, r.Global.Cols)
	}
	if r.Global.Rows%r.Local.Rows != 0 || r.Global.Cols%r.Local.Cols != 0 {
		return fmt.Errorf("global range %dx%d is not a multiple of work-group size %dx%d",
			r.Global.Rows, r.Global.Cols, r.Local.Rows, r.Local.Cols)
	}
	if r.Local.Size() > d.MaxWorkGroupSize {
		return fmt.Errorf("work-group size %d exceeds device maximum %d", r.Local.Size(), d.MaxWorkGroupSize)
	}
	if localElems > d.LocalMemElements {
		return fmt.Errorf("local memory request of %d elements exceeds device maximum %d", localElems, d.LocalMemElements)
	}
	return nil
}

// Index2 is a two-dimensional index, row first.
type Index2 struct {
	Row, Col int
}

// NDItem identifies a work-item's position within the launch and gives
// it access to its work-group's barrier and local memory.
type NDItem struct {
	Global      Index2 // Index within the global range
	Local       Index2 // Index within the work-group
	Group       Index2 // Work-group index
	GlobalRange Range2
	LocalRange  Range2

	group *workGroup
}

// Barrier blocks until every active work-item of the same work-group has
// reached it. Work-items in other groups are not affected. Work-group
// kernels synchronise between Items calls instead and must not call it.
func (it *NDItem) Barrier() {
	if it.group.barrier == nil {
		panic(errNoBarrier)
	}
	it.group.barrier.wait()
}

// LocalMem returns the work-group local buffer reserved with
// Handler.LocalAlloc.
func (it *NDItem) LocalMem(slot int) []float32 {
	return it.group.local[slot]
}

// KernelFunc is a function that can be launched as a kernel.
// It receives the work-item identification and the launch arguments.
type KernelFunc func(it *NDItem, args ...interface{})

// GroupKernelFunc is a kernel written at work-group granularity. It runs
// once per work-group on a single goroutine and visits the work-items with
// WorkGroup.Items; the end of each Items call is the group's barrier.
type GroupKernelFunc func(g *WorkGroup, args ...interface{})

// WorkGroup is the view a GroupKernelFunc has of its work-group.
type WorkGroup struct {
	Group       Index2
	GlobalRange Range2
	LocalRange  Range2

	state *workGroup
	item  NDItem
}

// LocalMem returns the work-group local buffer reserved with
// Handler.LocalAlloc.
func (g *WorkGroup) LocalMem(slot int) []float32 {
	return g.state.local[slot]
}

// Items calls fn for every work-item of the group in row-major local
// order. Writes made by one Items call are visible to every work-item in
// the next. fn must not retain it.
func (g *WorkGroup) Items(fn func(it *NDItem)) {
	it := &g.item
	for lr := 0; lr < g.LocalRange.Rows; lr++ {
		for lc := 0; lc < g.LocalRange.Cols; lc++ {
			it.Local = Index2{Row: lr, Col: lc}
			it.Global = Index2{
				Row: g.Group.Row*g.LocalRange.Rows + lr,
				Col: g.Group.Col*g.LocalRange.Cols + lc,
			}
			fn(it)
		}
	}
}

// kernel is a registry entry; exactly one of the two forms is set.
type kernel struct {
	item  KernelFunc
	group GroupKernelFunc
}

// workGroup is the state shared by the work-items of one group.
type workGroup struct {
	barrier *barrier
	local   [][]float32
}

func newWorkGroup(localSizes []int, parties int) *workGroup {
	wg := &workGroup{local: make([][]float32, len(localSizes))}
	for i, n := range localSizes {
		wg.local[i] = make([]float32, n)
	}
	if parties > 0 {
		wg.barrier = newBarrier(parties)
	}
	return wg
}

// launch implements the core kernel execution logic. Work-groups are
// spread over the device's compute units; the work-items of a group run
// concurrently so that they can meet at barriers.
func (ctx *Context) launch(name string, k kernel, rng NDRange, localSizes []int, args []interface{}) error {
	localElems := 0
	for _, n := range localSizes {
		if n <= 0 {
			return NewKernelLaunchError("ParallelFor", fmt.Sprintf("kernel %q: local allocation of %d elements", name, n), nil)
		}
		localElems += n
	}
	if err := rng.validate(ctx.device, localElems); err != nil {
		return NewKernelLaunchError("ParallelFor", fmt.Sprintf("kernel %q rejected", name), err)
	}

	groups := rng.Groups()
	numGroups := groups.Size()
	numWorkers := min(ctx.device.ComputeUnits, numGroups)

	start := time.Now()
	ctx.log.Debug().
		Str("kernel", name).
		Int("global_rows", rng.Global.Rows).
		Int("global_cols", rng.Global.Cols).
		Int("local_rows", rng.Local.Rows).
		Int("local_cols", rng.Local.Cols).
		Int("workers", numWorkers).
		Bool("group_kernel", k.group != nil).
		Msg("launching kernel")

	g, gctx := errgroup.WithContext(context.Background())
	g.SetLimit(numWorkers)

	for id := 0; id < numGroups; id++ {
		// Stop scheduling once a group has failed
		if gctx.Err() != nil {
			break
		}
		group := Index2{Row: id / groups.Cols, Col: id % groups.Cols}
		g.Go(func() error {
			if k.group != nil {
				return runWorkGroup(k.group, rng, group, localSizes, args)
			}
			return runGroup(k.item, rng, group, localSizes, args)
		})
	}

	if err := g.Wait(); err != nil {
		return NewKernelLaunchError("ParallelFor", fmt.Sprintf("kernel %q failed", name), err)
	}

	ctx.log.Debug().Str("kernel", name).Dur("elapsed", time.Since(start)).Msg("kernel complete")
	return nil
}

// runGroup executes every work-item of one work-group and returns the
// first work-item failure.
func runGroup(fn KernelFunc, rng NDRange, group Index2, localSizes []int, args []interface{}) error {
	wg := newWorkGroup(localSizes, rng.Local.Size())

	var (
		done    sync.WaitGroup
		once    sync.Once
		failure error
	)

	for lr := 0; lr < rng.Local.Rows; lr++ {
		for lc := 0; lc < rng.Local.Cols; lc++ {
			item := &NDItem{
				Global: Index2{
					Row: group.Row*rng.Local.Rows + lr,
					Col: group.Col*rng.Local.Cols + lc,
				},
				Local:       Index2{Row: lr, Col: lc},
				Group:       group,
				GlobalRange: rng.Global,
				LocalRange:  rng.Local,
				group:       wg,
			}

			done.Add(1)
			go func() {
				defer done.Done()
				defer func() {
					r := recover()
					if r == nil {
						wg.barrier.leave()
						return
					}
					err := panicError(r)
					if errors.Is(err, errBarrierBroken) {
						return
					}
					once.Do(func() {
						failure = fmt.Errorf("work-item (%d,%d): %w", item.Global.Row, item.Global.Col, err)
					})
					wg.barrier.breakBarrier()
				}()
				fn(item, args...)
			}()
		}
	}

	done.Wait()
	return failure
}

// runWorkGroup executes a work-group kernel for one group on the calling
// goroutine.
func runWorkGroup(fn GroupKernelFunc, rng NDRange, group Index2, localSizes []int, args []interface{}) (err error) {
	g := &WorkGroup{
		Group:       group,
		GlobalRange: rng.Global,
		LocalRange:  rng.Local,
		state:       newWorkGroup(localSizes, 0),
	}
	g.item = NDItem{
		Group:       group,
		GlobalRange: rng.Global,
		LocalRange:  rng.Local,
		group:       g.state,
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("work-group (%d,%d): %w", group.Row, group.Col, panicError(r))
		}
	}()
	fn(g, args...)
	return nil
}

// barrier is a reusable barrier for the work-items of one work-group.
// Work-items that finish leave the barrier so the rest are not stranded;
// a failing work-item breaks it, releasing every waiter with a panic.
type barrier struct {
	mu         sync.Mutex
	cond       *sync.Cond
	parties    int
	arrived    int
	generation uint64
	broken     bool
}

func newBarrier(parties int) *barrier {
	b := &barrier{parties: parties}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *barrier) wait() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.broken {
		panic(errBarrierBroken)
	}

	gen := b.generation
	b.arrived++
	if b.arrived == b.parties {
		b.advance()
		return
	}

	for gen == b.generation && !b.broken {
		b.cond.Wait()
	}
	if gen == b.generation {
		panic(errBarrierBroken)
	}
}

// advance releases the current generation; callers hold b.mu.
func (b *barrier) advance() {
	b.arrived = 0
	b.generation++
	b.cond.Broadcast()
}

func (b *barrier) leave() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.parties--
	if b.arrived > 0 && b.arrived == b.parties {
		b.advance()
	}
}

func (b *barrier) breakBarrier() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.broken = true
	b.cond.Broadcast()
}

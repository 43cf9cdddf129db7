package tilegemm

import (
	"fmt"
	"sync"
)

// MemcpyKind specifies the direction of memory transfer.
// Host and device share RAM on the CPU accelerator, so every kind is a
// plain copy; the kind is kept for diagnostics.
type MemcpyKind int

const (
	MemcpyHostToDevice   MemcpyKind = iota // Host to device transfer
	MemcpyDeviceToHost                     // Device to host transfer
	MemcpyDeviceToDevice                   // Device to device transfer
)

func (k MemcpyKind) String() string {
	switch k {
	case MemcpyHostToDevice:
		return "HostToDevice"
	case MemcpyDeviceToHost:
		return "DeviceToHost"
	case MemcpyDeviceToDevice:
		return "DeviceToDevice"
	default:
		return "Unknown"
	}
}

// memcpy copies len(src) elements into dst.
func memcpy(dst, src []float32, kind MemcpyKind) error {
	if len(dst) < len(src) {
		return fmt.Errorf("%s copy of %d elements into %d-element destination", kind, len(src), len(dst))
	}
	copy(dst, src)
	return nil
}

// MemoryPool manages device memory allocation with efficient reuse.
// It maintains a free list of previously allocated blocks and enforces
// the device memory budget.
type MemoryPool struct {
	mu         sync.Mutex
	allocated  map[int]*allocation
	freeList   []*allocation
	nextID     int
	limit      int64
	totalAlloc int64
	peakAlloc  int64
}

type allocation struct {
	id   int
	buf  []float32
	used bool
}

// bytes returns the allocation footprint counted against the budget.
func (a *allocation) bytes() int64 {
	return int64(len(a.buf)) * 4
}

// DeviceBuffer is a handle to device memory holding float32 elements.
type DeviceBuffer struct {
	alloc *allocation
	n     int
}

// Float32 returns the element view of the buffer.
func (b DeviceBuffer) Float32() []float32 {
	if b.alloc == nil {
		return nil
	}
	return b.alloc.buf[:b.n:b.n]
}

// Len returns the number of float32 elements in the buffer.
func (b DeviceBuffer) Len() int {
	return b.n
}

// NewMemoryPool creates a memory pool capped at limitBytes. A limit of
// zero or less means unlimited.
func NewMemoryPool(limitBytes int64) *MemoryPool {
	return &MemoryPool{
		allocated: make(map[int]*allocation),
		limit:     limitBytes,
	}
}

// Allocate reserves n float32 elements of device memory. Requests that
// would exceed the budget fail with an OutOfMemoryError.
func (mp *MemoryPool) Allocate(n int) (DeviceBuffer, error) {
	if n <= 0 {
		return DeviceBuffer{}, NewInvalidArgError("Allocate", fmt.Sprintf("size must be positive, got %d", n))
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	// Round up to alignment
	aligned := (n + MemoryAlignment - 1) &^ (MemoryAlignment - 1)

	// Try to reuse from free list
	for i, alloc := range mp.freeList {
		if len(alloc.buf) >= aligned {
			if err := mp.reserve(alloc.bytes()); err != nil {
				return DeviceBuffer{}, err
			}
			mp.freeList = append(mp.freeList[:i], mp.freeList[i+1:]...)
			alloc.used = true
			clear(alloc.buf[:n])
			return DeviceBuffer{alloc: alloc, n: n}, nil
		}
	}

	if err := mp.reserve(int64(aligned) * 4); err != nil {
		return DeviceBuffer{}, err
	}

	mp.nextID++
	alloc := &allocation{
		id:   mp.nextID,
		buf:  make([]float32, aligned),
		used: true,
	}
	mp.allocated[alloc.id] = alloc

	return DeviceBuffer{alloc: alloc, n: n}, nil
}

// reserve accounts for size bytes; callers hold mp.mu.
func (mp *MemoryPool) reserve(size int64) error {
	if mp.limit > 0 && mp.totalAlloc+size > mp.limit {
		return NewOutOfMemoryError("Allocate", fmt.Sprintf("requested %d bytes with %d of %d bytes in use", size, mp.totalAlloc, mp.limit))
	}
	mp.totalAlloc += size
	if mp.totalAlloc > mp.peakAlloc {
		mp.peakAlloc = mp.totalAlloc
	}
	return nil
}

// Free returns memory to the pool
func (mp *MemoryPool) Free(b DeviceBuffer) error {
	if b.alloc == nil {
		return nil
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	alloc, ok := mp.allocated[b.alloc.id]
	if !ok || alloc != b.alloc {
		return NewInvalidArgError("Free", "buffer not found in allocation pool")
	}

	if !alloc.used {
		return ErrDoubleFree
	}

	// Mark as free and add to free list
	alloc.used = false
	mp.freeList = append(mp.freeList, alloc)
	mp.totalAlloc -= alloc.bytes()

	return nil
}

// GetStats returns memory pool statistics in bytes
func (mp *MemoryPool) GetStats() (allocated, peak int64) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.totalAlloc, mp.peakAlloc
}

// AccessMode fixes how kernels may touch a Region.
type AccessMode int

const (
	AccessRead AccessMode = iota
	AccessWrite
	AccessReadWrite
)

func (m AccessMode) String() string {
	switch m {
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	case AccessReadWrite:
		return "read_write"
	default:
		return "unknown"
	}
}

func (m AccessMode) canRead() bool  { return m == AccessRead || m == AccessReadWrite }
func (m AccessMode) canWrite() bool { return m == AccessWrite || m == AccessReadWrite }

// Range2 is a two-dimensional extent, rows first.
type Range2 struct {
	Rows, Cols int
}

// Size returns the total number of elements
func (r Range2) Size() int {
	return r.Rows * r.Cols
}

// Region is a device-visible mirror of a host array with a fixed access
// mode. Readable regions snapshot the host data when created. The host
// must not touch the mirrored array until the operation using the region
// has been joined, and must Release the region afterwards.
type Region struct {
	pool   *MemoryPool
	mode   AccessMode
	extent Range2
	buf    DeviceBuffer

	mu       sync.Mutex
	released bool
}

// NewRegion allocates device memory for host viewed as extent and, for
// readable modes, copies host into it.
func (ctx *Context) NewRegion(host []float32, extent Range2, mode AccessMode) (*Region, error) {
	if extent.Rows <= 0 || extent.Cols <= 0 {
		return nil, NewInvalidArgError("NewRegion", fmt.Sprintf("extent must be positive, got %dx%d", extent.Rows, extent.Cols))
	}
	if len(host) < extent.Size() {
		return nil, NewInvalidArgError("NewRegion", fmt.Sprintf("host array has %d elements, extent needs %d", len(host), extent.Size()))
	}

	buf, err := ctx.memory.Allocate(extent.Size())
	if err != nil {
		ctx.log.Warn().Err(err).Int("elements", extent.Size()).Msg("region allocation failed")
		return nil, err
	}

	if mode.canRead() {
		if err := memcpy(buf.Float32(), host[:extent.Size()], MemcpyHostToDevice); err != nil {
			if ferr := ctx.memory.Free(buf); ferr != nil {
				ctx.log.Warn().Err(ferr).Msg("region buffer release failed")
			}
			return nil, NewInvalidArgError("NewRegion", err.Error())
		}
	}

	ctx.log.Debug().
		Stringer("mode", mode).
		Int("rows", extent.Rows).
		Int("cols", extent.Cols).
		Msg("region created")

	return &Region{
		pool:   ctx.memory,
		mode:   mode,
		extent: extent,
		buf:    buf,
	}, nil
}

// Mode returns the region's access mode.
func (r *Region) Mode() AccessMode { return r.mode }

// Extent returns the region's shape.
func (r *Region) Extent() Range2 { return r.extent }

// Release returns the device memory to the pool. Releasing twice is a no-op.
func (r *Region) Release() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return nil
	}
	r.released = true
	return r.pool.Free(r.buf)
}

// Released reports whether Release has been called.
func (r *Region) Released() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released
}

// data returns the device view, failing once the region is released.
func (r *Region) data() ([]float32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return nil, ErrRegionReleased
	}
	return r.buf.Float32(), nil
}

// Accessor is the in-kernel view of a Region. Reads through a write-only
// accessor and writes through a read-only accessor panic; the launch
// reports them as a KernelLaunchError.
type Accessor struct {
	data   []float32
	extent Range2
	mode   AccessMode
}

// Extent returns the accessed region's shape.
func (a Accessor) Extent() Range2 { return a.extent }

// At returns the element at (row, col).
func (a Accessor) At(row, col int) float32 {
	if !a.mode.canRead() {
		panic(fmt.Errorf("read through %s accessor at (%d,%d)", a.mode, row, col))
	}
	return a.data[row*a.extent.Cols+col]
}

// Set stores v at (row, col).
func (a Accessor) Set(row, col int, v float32) {
	if !a.mode.canWrite() {
		panic(fmt.Errorf("write through %s accessor at (%d,%d)", a.mode, row, col))
	}
	a.data[row*a.extent.Cols+col] = v
}

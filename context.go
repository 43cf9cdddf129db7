package tilegemm

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Context represents an execution context for offloaded operations.
// It owns the selected device, its memory pool and the kernel registry.
// Create one per run with NewContext and pass it to the operations that
// need it; Close it when done.
type Context struct {
	device  *Device
	memory  *MemoryPool
	log     zerolog.Logger
	queueID int32

	mu      sync.RWMutex
	kernels map[string]kernel
	queues  []*Queue
}

// NewContext selects a device according to cfg and prepares it for use.
// It fails with a NoAcceleratorError when no device qualifies.
func NewContext(cfg Config) (*Context, error) {
	return newContext(Devices(), cfg)
}

func newContext(candidates []*Device, cfg Config) (*Context, error) {
	device, err := selectDevice(candidates, cfg)
	if err != nil {
		cfg.Logger.Error().Err(err).Msg("device selection failed")
		return nil, err
	}

	limit := cfg.MemoryLimit
	if limit == 0 || limit > device.TotalMem {
		limit = device.TotalMem
	}

	ctx := &Context{
		device:  device,
		memory:  NewMemoryPool(int64(limit)),
		log:     cfg.Logger.With().Str("device", device.Name).Logger(),
		kernels: make(map[string]kernel),
	}
	ctx.kernels[KernelTiledMatMul] = kernel{group: tiledMatMulKernel}

	ctx.log.Debug().
		Str("version", device.Version).
		Int("compute_units", device.ComputeUnits).
		Uint64("memory_limit", limit).
		Strs("features", device.Features).
		Msg("context created")

	return ctx, nil
}

// Device returns the device this context runs on.
func (ctx *Context) Device() *Device {
	return ctx.device
}

// MemoryStats returns bytes currently allocated and the peak.
func (ctx *Context) MemoryStats() (allocated, peak int64) {
	return ctx.memory.GetStats()
}

// RegisterKernel makes fn launchable under name.
func (ctx *Context) RegisterKernel(name string, fn KernelFunc) error {
	if fn == nil {
		return NewInvalidArgError("RegisterKernel", "kernel needs a name and a function")
	}
	return ctx.register("RegisterKernel", name, kernel{item: fn})
}

// RegisterGroupKernel makes the work-group kernel fn launchable under
// name. Work-group and work-item kernels share one namespace.
func (ctx *Context) RegisterGroupKernel(name string, fn GroupKernelFunc) error {
	if fn == nil {
		return NewInvalidArgError("RegisterGroupKernel", "kernel needs a name and a function")
	}
	return ctx.register("RegisterGroupKernel", name, kernel{group: fn})
}

func (ctx *Context) register(op, name string, k kernel) error {
	if name == "" {
		return NewInvalidArgError(op, "kernel needs a name and a function")
	}

	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if _, exists := ctx.kernels[name]; exists {
		return NewInvalidArgError(op, fmt.Sprintf("kernel %q already registered", name))
	}
	ctx.kernels[name] = k
	return nil
}

func (ctx *Context) kernel(name string) (kernel, bool) {
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()
	k, ok := ctx.kernels[name]
	return k, ok
}

// NewQueue creates an in-order execution queue on the context's device.
func (ctx *Context) NewQueue() *Queue {
	id := int(atomic.AddInt32(&ctx.queueID, 1))
	q := newQueue(ctx, id)

	ctx.mu.Lock()
	ctx.queues = append(ctx.queues, q)
	ctx.mu.Unlock()

	return q
}

// Synchronize joins every queue created by the context and returns the
// first error any of them reported.
func (ctx *Context) Synchronize() error {
	ctx.mu.RLock()
	queues := append([]*Queue(nil), ctx.queues...)
	ctx.mu.RUnlock()

	var first error
	for _, q := range queues {
		if err := q.Join(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Close drains and stops every queue. The context must not be used after.
func (ctx *Context) Close() error {
	err := ctx.Synchronize()

	ctx.mu.Lock()
	queues := ctx.queues
	ctx.queues = nil
	ctx.mu.Unlock()

	for _, q := range queues {
		q.close()
	}
	return err
}

package tilegemm

import (
	"errors"
	"fmt"
	"sync"
)

// CommandGroup describes one unit of work. It runs on the queue's worker
// when the submission reaches the head of the queue, declares region
// accesses through the Handler and sets at most one action.
type CommandGroup func(h *Handler) error

// Queue represents an ordered sequence of submissions that execute
// asynchronously on the context's device. Submissions run one at a time
// in submission order.
type Queue struct {
	ctx *Context
	id  int

	submitMu sync.RWMutex
	closed   bool
	tasks    chan submission
	done     chan struct{}
	seq      uint64
	last     *Event

	errMu sync.Mutex
	err   error
}

type submission struct {
	cg    CommandGroup
	event *Event
}

// Event tracks the completion of one submission.
type Event struct {
	seq  uint64
	done chan struct{}
	err  error
}

// Wait blocks until the submission has executed and returns its error.
func (e *Event) Wait() error {
	<-e.done
	return e.err
}

func newQueue(ctx *Context, id int) *Queue {
	q := &Queue{
		ctx:   ctx,
		id:    id,
		tasks: make(chan submission, QueueDepth),
		done:  make(chan struct{}),
	}

	// Start worker goroutine for queue
	go q.worker()

	return q
}

// ID returns the queue identifier within its context.
func (q *Queue) ID() int {
	return q.id
}

// Submit enqueues cg and returns an event for it. Failures are reported
// by the event and by the next Join.
func (q *Queue) Submit(cg CommandGroup) *Event {
	q.submitMu.Lock()
	defer q.submitMu.Unlock()

	q.seq++
	ev := &Event{seq: q.seq, done: make(chan struct{})}

	if q.closed {
		ev.err = NewKernelLaunchError("Submit", fmt.Sprintf("queue %d is closed", q.id), nil)
		close(ev.done)
		q.record(ev.err)
		return ev
	}

	q.tasks <- submission{cg: cg, event: ev}
	q.last = ev
	return ev
}

// Join blocks until every submission made so far has completed and
// returns the first error recorded since the previous Join. There is no
// timeout: a submitted launch always runs to completion or failure.
// Submissions run in order, so waiting for the latest one covers the rest.
func (q *Queue) Join() error {
	q.submitMu.RLock()
	last := q.last
	q.submitMu.RUnlock()

	if last != nil {
		<-last.done
	}

	q.errMu.Lock()
	defer q.errMu.Unlock()
	err := q.err
	q.err = nil
	return err
}

// worker processes submissions for the queue
func (q *Queue) worker() {
	for s := range q.tasks {
		s.event.err = q.execute(s.cg)
		if s.event.err != nil {
			q.record(s.event.err)
			q.ctx.log.Warn().Err(s.event.err).Int("queue", q.id).Uint64("seq", s.event.seq).Msg("submission failed")
		}
		close(s.event.done)
	}
	close(q.done)
}

func (q *Queue) record(err error) {
	q.errMu.Lock()
	defer q.errMu.Unlock()
	if q.err == nil {
		q.err = err
	}
}

// execute runs a command group and its action on the worker goroutine.
func (q *Queue) execute(cg CommandGroup) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewKernelLaunchError("Submit", "command group panicked", panicError(r))
		}
	}()

	h := &Handler{ctx: q.ctx, queue: q}
	if err := cg(h); err != nil {
		return asLaunchError("Submit", "command group failed", err)
	}
	if h.action == nil {
		return nil
	}
	if err := h.action(); err != nil {
		return asLaunchError("Submit", "action failed", err)
	}
	return nil
}

// close stops the worker once pending submissions have drained.
func (q *Queue) close() {
	q.submitMu.Lock()
	if q.closed {
		q.submitMu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.submitMu.Unlock()

	<-q.done
}

// asLaunchError keeps structured errors as they are and wraps anything
// else as a KernelLaunchError.
func asLaunchError(op, message string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return NewKernelLaunchError(op, message, err)
}

func panicError(r interface{}) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("%v", r)
}

// Handler collects the accesses and the action of one command group.
type Handler struct {
	ctx    *Context
	queue  *Queue
	local  []int
	action func() error
}

// Access binds region to the command group with mode. The mode must be
// allowed by the region's own access mode.
func (h *Handler) Access(r *Region, mode AccessMode) (Accessor, error) {
	if r == nil {
		return Accessor{}, NewKernelLaunchError("Access", "nil region", nil)
	}
	if (mode.canRead() && !r.mode.canRead()) || (mode.canWrite() && !r.mode.canWrite()) {
		return Accessor{}, NewKernelLaunchError("Access", fmt.Sprintf("%s access to %s region", mode, r.mode), nil)
	}
	data, err := r.data()
	if err != nil {
		return Accessor{}, NewKernelLaunchError("Access", "region unavailable", err)
	}
	return Accessor{data: data, extent: r.extent, mode: mode}, nil
}

// LocalAlloc reserves n float32 elements of work-group local memory for
// the launch and returns the slot passed to NDItem.LocalMem.
func (h *Handler) LocalAlloc(n int) int {
	h.local = append(h.local, n)
	return len(h.local) - 1
}

func (h *Handler) setAction(name string, fn func() error) error {
	if h.action != nil {
		return NewKernelLaunchError(name, "command group already has an action", nil)
	}
	h.action = fn
	return nil
}

// ParallelFor launches the kernel registered as name over rng with args.
// Work-item kernels run one goroutine per work-item; work-group kernels run
// one goroutine per work-group.
func (h *Handler) ParallelFor(name string, rng NDRange, args ...interface{}) error {
	k, ok := h.ctx.kernel(name)
	if !ok {
		return NewKernelLaunchError("ParallelFor", fmt.Sprintf("unknown kernel %q", name), nil)
	}
	local := append([]int(nil), h.local...)
	return h.setAction("ParallelFor", func() error {
		return h.ctx.launch(name, k, rng, local, args)
	})
}

// Copy copies the device contents of src into the host slice dst.
func (h *Handler) Copy(src *Region, dst []float32) error {
	return h.setAction("Copy", func() error {
		data, err := src.data()
		if err != nil {
			return NewTransferError("Copy", "source region unavailable", err)
		}
		if err := memcpy(dst, data, MemcpyDeviceToHost); err != nil {
			return NewTransferError("Copy", "device to host copy failed", err)
		}
		h.ctx.log.Debug().Int("elements", len(data)).Int("queue", h.queue.id).Msg("copied region to host")
		return nil
	})
}

// HostTask runs fn on the queue in submission order.
func (h *Handler) HostTask(fn func() error) error {
	return h.setAction("HostTask", fn)
}

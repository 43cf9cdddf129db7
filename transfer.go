package tilegemm

import "fmt"

// TransferResult copies the device contents of src into dst and joins q,
// so dst holds the result when it returns. dst is written only by the
// copy, which the queue runs after every earlier submission.
func TransferResult(q *Queue, src *Region, dst []float32) error {
	if src == nil {
		return NewTransferError("TransferResult", "nil source region", nil)
	}
	if !src.Mode().canWrite() {
		return NewTransferError("TransferResult", fmt.Sprintf("source region is %s-only input", src.Mode()), nil)
	}
	if src.Released() {
		return NewTransferError("TransferResult", "source region unavailable", ErrRegionReleased)
	}
	if len(dst) < src.Extent().Size() {
		return NewTransferError("TransferResult",
			fmt.Sprintf("destination has %d elements, region has %d", len(dst), src.Extent().Size()), nil)
	}

	q.Submit(func(h *Handler) error {
		return h.Copy(src, dst)
	})

	if err := q.Join(); err != nil {
		if IsTransferError(err) {
			return err
		}
		return NewTransferError("TransferResult", "copy did not complete", err)
	}
	return nil
}

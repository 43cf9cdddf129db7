// Package tilegemm structured error types for the offload pipeline
package tilegemm

import (
	"errors"
	"fmt"
)

// ErrorKind represents categories of errors
type ErrorKind int

const (
	// No compatible accelerator could be selected
	KindNoAccelerator ErrorKind = iota
	// Device-side allocation failure
	KindOutOfMemory
	// Launch rejected or failed mid-execution
	KindKernelLaunch
	// Device-to-host copy failure
	KindTransfer
	// Invalid argument errors
	KindInvalidArgument
)

// Error represents a structured error with the stage that produced it.
type Error struct {
	Kind    ErrorKind
	Op      string // Operation that failed
	Message string // Human-readable message
	Err     error  // Underlying error if any
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error in %s: %s (caused by: %v)",
			e.Kind.String(), e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error in %s: %s",
		e.Kind.String(), e.Op, e.Message)
}

// Unwrap allows error chain inspection
func (e *Error) Unwrap() error {
	return e.Err
}

// String returns the error kind as a string
func (k ErrorKind) String() string {
	switch k {
	case KindNoAccelerator:
		return "NoAccelerator"
	case KindOutOfMemory:
		return "OutOfMemory"
	case KindKernelLaunch:
		return "KernelLaunch"
	case KindTransfer:
		return "Transfer"
	case KindInvalidArgument:
		return "InvalidArgument"
	default:
		return "Unknown"
	}
}

// Common error constructors

// NewNoAcceleratorError creates a device selection error
func NewNoAcceleratorError(op string, message string) error {
	return &Error{
		Kind:    KindNoAccelerator,
		Op:      op,
		Message: message,
	}
}

// NewOutOfMemoryError creates a device allocation error
func NewOutOfMemoryError(op string, message string) error {
	return &Error{
		Kind:    KindOutOfMemory,
		Op:      op,
		Message: message,
	}
}

// NewKernelLaunchError creates a kernel launch error
func NewKernelLaunchError(op string, message string, err error) error {
	return &Error{
		Kind:    KindKernelLaunch,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// NewTransferError creates a result transfer error
func NewTransferError(op string, message string, err error) error {
	return &Error{
		Kind:    KindTransfer,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// NewInvalidArgError creates an invalid argument error
func NewInvalidArgError(op string, message string) error {
	return &Error{
		Kind:    KindInvalidArgument,
		Op:      op,
		Message: message,
	}
}

// Common pre-defined errors

var (
	// ErrRegionReleased indicates use of a region after Release
	ErrRegionReleased = errors.New("region already released")

	// ErrDoubleFree indicates double free attempt
	ErrDoubleFree = NewInvalidArgError("Free", "double free detected")

	// errBarrierBroken is raised in work-items whose group lost a peer
	errBarrierBroken = errors.New("work-group barrier broken by a failed work-item")

	// errNoBarrier is raised by NDItem.Barrier inside a work-group kernel
	errNoBarrier = errors.New("barrier called from a work-group kernel")
)

// isKind walks every structured error in the chain.
func isKind(err error, kind ErrorKind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}

// IsNoAcceleratorError checks if an error is a device selection error
func IsNoAcceleratorError(err error) bool {
	return isKind(err, KindNoAccelerator)
}

// IsOutOfMemoryError checks if an error is a device allocation error
func IsOutOfMemoryError(err error) bool {
	return isKind(err, KindOutOfMemory)
}

// IsKernelLaunchError checks if an error is a kernel launch error
func IsKernelLaunchError(err error) bool {
	return isKind(err, KindKernelLaunch)
}

// IsTransferError checks if an error is a result transfer error
func IsTransferError(err error) bool {
	return isKind(err, KindTransfer)
}

// IsInvalidArgError checks if an error is an invalid argument error
func IsInvalidArgError(err error) bool {
	return isKind(err, KindInvalidArgument)
}

// Package tilegemm configuration constants and option types
package tilegemm

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Problem size defaults
const (
	// Default matrix dimension N
	DefaultMatrixSize = 1024

	// Default tile width along the reduction dimension
	DefaultBlockSize = 16
)

// Device limits for the CPU accelerator
const (
	// Maximum work-items per work-group
	MaxWorkGroupSize = 1024

	// Local memory available to one work-group, in float32 elements
	LocalMemElements = 16 * 1024
)

// Memory pool parameters
const (
	// Memory alignment for allocations, in float32 elements (64 bytes)
	MemoryAlignment = 16

	// Pending submissions a queue buffers before Submit blocks
	QueueDepth = 1000
)

// Numerical constants
const (
	// Machine epsilon for float32
	Float32Epsilon = 1.192092896e-07
)

// RemainderPolicy decides what happens when the block size does not
// evenly divide the matrix dimension.
type RemainderPolicy int

const (
	// RemainderPartialBlock processes a shorter trailing block.
	RemainderPartialBlock RemainderPolicy = iota
	// RemainderReject refuses the configuration with an invalid-argument error.
	RemainderReject
)

func (p RemainderPolicy) String() string {
	switch p {
	case RemainderPartialBlock:
		return "partial"
	case RemainderReject:
		return "reject"
	default:
		return fmt.Sprintf("RemainderPolicy(%d)", int(p))
	}
}

// ParseRemainderPolicy parses the flag form of a RemainderPolicy.
func ParseRemainderPolicy(s string) (RemainderPolicy, error) {
	switch s {
	case "partial", "":
		return RemainderPartialBlock, nil
	case "reject":
		return RemainderReject, nil
	}
	return 0, NewInvalidArgError("ParseRemainderPolicy", fmt.Sprintf("unknown remainder policy %q (want partial or reject)", s))
}

// Config controls context creation.
type Config struct {
	// Selector scores candidate devices; nil means DefaultSelector.
	Selector DeviceSelector

	// RequiredFeatures lists CPU features (as reported by Device.Features)
	// the selected device must support.
	RequiredFeatures []string

	// MemoryLimit caps device allocations in bytes. Zero uses the
	// device's total memory.
	MemoryLimit uint64

	// Logger receives runtime diagnostics. The zero value discards them.
	Logger zerolog.Logger
}

// DefaultConfig returns the configuration used by the CLI when no flags
// override it.
func DefaultConfig() Config {
	return Config{
		Selector: DefaultSelector,
		Logger:   zerolog.Nop(),
	}
}

// MatMulOptions parameterises one MatMul call.
type MatMulOptions struct {
	BlockSize int
	Remainder RemainderPolicy
}

// DefaultMatMulOptions returns the default tiling options.
func DefaultMatMulOptions() MatMulOptions {
	return MatMulOptions{
		BlockSize: DefaultBlockSize,
		Remainder: RemainderPartialBlock,
	}
}

// Validate checks the options against a matrix dimension n.
func (o MatMulOptions) Validate(n int) error {
	if n <= 0 {
		return NewInvalidArgError("MatMul", fmt.Sprintf("matrix size must be positive, got %d", n))
	}
	if o.BlockSize <= 0 {
		return NewInvalidArgError("MatMul", fmt.Sprintf("block size must be positive, got %d", o.BlockSize))
	}
	if n%o.BlockSize != 0 {
		switch o.Remainder {
		case RemainderPartialBlock:
		case RemainderReject:
			return NewInvalidArgError("MatMul", fmt.Sprintf("block size %d does not divide matrix size %d", o.BlockSize, n))
		default:
			return NewInvalidArgError("MatMul", fmt.Sprintf("unknown remainder policy %v", o.Remainder))
		}
	}
	return nil
}

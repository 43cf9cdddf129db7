package tilegemm

import (
	"fmt"
	"runtime"
	"strings"
)

// DeviceType classifies an accelerator.
type DeviceType int

const (
	DeviceCPU DeviceType = iota
	DeviceGPU
)

func (t DeviceType) String() string {
	switch t {
	case DeviceCPU:
		return "cpu"
	case DeviceGPU:
		return "gpu"
	default:
		return "unknown"
	}
}

// Device represents a compute device. The built-in accelerator is the
// host CPU: its cores execute work-groups and its RAM backs device memory.
type Device struct {
	ID               int        // Unique device identifier
	Name             string     // Human-readable device name
	Type             DeviceType // Accelerator class
	Version          string     // Widest vector level detected
	TotalMem         uint64     // Total available memory in bytes
	ComputeUnits     int        // Work-groups that may run concurrently
	MaxWorkGroupSize int        // Maximum work-items per work-group
	LocalMemElements int        // float32 elements of local memory per work-group
	Features         []string   // Sorted CPU feature names
}

// HasFeature reports whether the device lists the named feature.
func (d *Device) HasFeature(name string) bool {
	name = strings.ToLower(name)
	for _, f := range d.Features {
		if f == name {
			return true
		}
	}
	return false
}

func (d *Device) String() string {
	return fmt.Sprintf("%s [%s, %s, %d compute units]", d.Name, d.Type, d.Version, d.ComputeUnits)
}

// DeviceSelector scores a device. Negative scores reject the device; the
// highest non-negative score wins.
type DeviceSelector func(d *Device) int

// DefaultSelector accepts every device and prefers more compute units.
func DefaultSelector(d *Device) int {
	return d.ComputeUnits
}

// CPUSelector accepts only CPU devices.
func CPUSelector(d *Device) int {
	if d.Type != DeviceCPU {
		return -1
	}
	return 1
}

// Devices enumerates the accelerators visible to this process.
func Devices() []*Device {
	features := detectCPUFeatures()

	totalMem := systemMemory()
	if totalMem == 0 {
		totalMem = 16 * 1024 * 1024 * 1024
	}

	return []*Device{{
		ID:               0,
		Name:             "CPU",
		Type:             DeviceCPU,
		Version:          features.vectorLevel(),
		TotalMem:         totalMem,
		ComputeUnits:     runtime.GOMAXPROCS(0),
		MaxWorkGroupSize: MaxWorkGroupSize,
		LocalMemElements: LocalMemElements,
		Features:         features.Names(),
	}}
}

// selectDevice picks the best device for cfg among candidates.
func selectDevice(candidates []*Device, cfg Config) (*Device, error) {
	selector := cfg.Selector
	if selector == nil {
		selector = DefaultSelector
	}

	var (
		best      *Device
		bestScore = -1
	)
	for _, d := range candidates {
		if missing := missingFeatures(d, cfg.RequiredFeatures); len(missing) > 0 {
			continue
		}
		if score := selector(d); score >= 0 && score > bestScore {
			best, bestScore = d, score
		}
	}

	if best == nil {
		msg := fmt.Sprintf("no compatible accelerator among %d device(s)", len(candidates))
		if len(cfg.RequiredFeatures) > 0 {
			msg += fmt.Sprintf(" (required features: %s)", strings.Join(cfg.RequiredFeatures, ","))
		}
		return nil, NewNoAcceleratorError("SelectDevice", msg)
	}
	return best, nil
}

func missingFeatures(d *Device, required []string) []string {
	var missing []string
	for _, f := range required {
		if !d.HasFeature(f) {
			missing = append(missing, f)
		}
	}
	return missing
}

//go:build !linux
// +build !linux

package tilegemm

// systemMemory falls back to a fixed budget on platforms without Sysinfo.
func systemMemory() uint64 {
	return 16 * 1024 * 1024 * 1024
}

//go:build linux
// +build linux

package tilegemm

import "golang.org/x/sys/unix"

// systemMemory returns total physical memory in bytes, or 0 when the
// kernel does not report it.
func systemMemory() uint64 {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0
	}
	return uint64(info.Totalram) * uint64(info.Unit)
}

package tilegemm

import (
	"runtime"
	"sort"

	"golang.org/x/sys/cpu"
)

// CPUFeatures tracks available CPU instruction set extensions
type CPUFeatures struct {
	HasAVX      bool
	HasAVX2     bool
	HasAVX512F  bool // Foundation
	HasFMA      bool
	HasSSE4     bool
	HasASIMD    bool // NEON baseline
	HasSVE      bool
	HasASIMDHP  bool // FP16 NEON
}

func detectCPUFeatures() CPUFeatures {
	return CPUFeatures{
		HasSSE4:    cpu.X86.HasSSE41 || cpu.X86.HasSSE42,
		HasAVX:     cpu.X86.HasAVX,
		HasAVX2:    cpu.X86.HasAVX2,
		HasAVX512F: cpu.X86.HasAVX512F,
		HasFMA:     cpu.X86.HasFMA,
		HasASIMD:   cpu.ARM64.HasASIMD,
		HasSVE:     cpu.ARM64.HasSVE,
		HasASIMDHP: cpu.ARM64.HasASIMDHP,
	}
}

// Names returns the detected features as sorted lower-case names.
func (f CPUFeatures) Names() []string {
	features := []string{}

	add := func(ok bool, name string) {
		if ok {
			features = append(features, name)
		}
	}
	add(f.HasSSE4, "sse4")
	add(f.HasAVX, "avx")
	add(f.HasAVX2, "avx2")
	add(f.HasAVX512F, "avx512f")
	add(f.HasFMA, "fma")
	add(f.HasASIMD, "asimd")
	add(f.HasSVE, "sve")
	add(f.HasASIMDHP, "asimdhp")

	sort.Strings(features)
	return features
}

// vectorLevel names the widest SIMD level available, used as the
// device's version string.
func (f CPUFeatures) vectorLevel() string {
	switch {
	case f.HasAVX512F:
		return "AVX512"
	case f.HasAVX2 && f.HasFMA:
		return "AVX2"
	case f.HasSSE4:
		return "SSE4"
	case f.HasSVE:
		return "SVE"
	case f.HasASIMD:
		return "NEON"
	}
	return runtime.GOARCH + "-scalar"
}

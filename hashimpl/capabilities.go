package hashimpl

import (
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// Feature is one capability bit.
type Feature uint8

const (
	// FeatureSHA is the x86 SHA extension together with the SSSE3 and
	// SSE4.1 support the SHA-NI routines need.
	FeatureSHA Feature = 1 << iota
	// FeatureARMSHA2 is the ARMv8 SHA-256 extension.
	FeatureARMSHA2
	FeatureAVX2
	FeatureAVX512

	// HardwareSHA covers every dedicated SHA-256 instruction set.
	HardwareSHA = FeatureSHA | FeatureARMSHA2
)

var featureNames = []struct {
	f    Feature
	name string
}{
	{FeatureSHA, "sha"},
	{FeatureARMSHA2, "sha2"},
	{FeatureAVX2, "avx2"},
	{FeatureAVX512, "avx512f"},
}

// Capabilities is an explicit capability value. It is passed to Resolve
// instead of living in a process-wide location, so clearing a bit for
// one comparison never leaks into another run.
type Capabilities struct {
	bits  Feature
	Brand string
}

// Detect reads the host CPU's capabilities.
func Detect() Capabilities {
	var bits Feature

	if cpuid.CPU.Supports(cpuid.SHA, cpuid.SSSE3, cpuid.SSE4) {
		bits |= FeatureSHA
	}
	if cpuid.CPU.Supports(cpuid.SHA2) {
		bits |= FeatureARMSHA2
	}
	if cpuid.CPU.Supports(cpuid.AVX2) {
		bits |= FeatureAVX2
	}
	if cpuid.CPU.Supports(cpuid.AVX512F) {
		bits |= FeatureAVX512
	}

	return Capabilities{bits: bits, Brand: cpuid.CPU.BrandName}
}

// NewCapabilities builds a Capabilities value with the given features.
func NewCapabilities(brand string, features ...Feature) Capabilities {
	c := Capabilities{Brand: brand}
	for _, f := range features {
		c.bits |= f
	}

	return c
}

// Has reports whether every bit of f is set.
func (c Capabilities) Has(f Feature) bool {
	return c.bits&f == f
}

// HardwareHash reports whether any dedicated SHA-256 instruction set is
// usable.
func (c Capabilities) HardwareHash() bool {
	return c.bits&HardwareSHA != 0
}

// Without returns a copy of c with the bits of f cleared.
func (c Capabilities) Without(f Feature) Capabilities {
	c.bits &^= f
	return c
}

func (c Capabilities) String() string {
	var names []string
	for _, fn := range featureNames {
		if c.bits&fn.f != 0 {
			names = append(names, fn.name)
		}
	}

	if len(names) == 0 {
		return "none"
	}

	return strings.Join(names, ",")
}

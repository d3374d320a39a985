//go:build amd64

package clock

import "github.com/dterei/gotsc"

// tscCounter reads the time stamp counter. BenchStart issues CPUID before
// RDTSC and BenchEnd issues RDTSCP followed by CPUID, so the measured
// instructions cannot drift across either read.
type tscCounter struct{}

func (tscCounter) Start() uint64 { return gotsc.BenchStart() }

func (tscCounter) End() uint64 { return gotsc.BenchEnd() }

func (tscCounter) Overhead() uint64 { return gotsc.TSCOverhead() }

func (tscCounter) Name() string { return "tsc" }

func defaultCounter() Counter {
	return tscCounter{}
}

//go:build linux

package harness

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// Pin locks the calling goroutine to its OS thread and restricts that
// thread to cpu. The returned func restores the previous affinity and
// unlocks the thread. A negative cpu only locks the thread.
func Pin(cpu int) (func(), error) {
	runtime.LockOSThread()

	if cpu < 0 {
		return runtime.UnlockOSThread, nil
	}

	var prev unix.CPUSet
	if err := unix.SchedGetaffinity(0, &prev); err != nil {
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("read cpu affinity: %w", err)
	}

	var set unix.CPUSet
	set.Set(cpu)

	if err := unix.SchedSetaffinity(0, &set); err != nil {
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("pin to cpu %d: %w", cpu, err)
	}

	return func() {
		_ = unix.SchedSetaffinity(0, &prev)
		runtime.UnlockOSThread()
	}, nil
}

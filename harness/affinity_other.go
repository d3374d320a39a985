//go:build !linux

package harness

import (
	"errors"
	"runtime"
)

// ErrPinUnsupported is returned when CPU affinity cannot be set on this
// platform. The thread is still locked.
var ErrPinUnsupported = errors.New("cpu pinning is only supported on linux")

// Pin locks the calling goroutine to its OS thread. Selecting a cpu is
// not supported here.
func Pin(cpu int) (func(), error) {
	runtime.LockOSThread()

	if cpu >= 0 {
		return runtime.UnlockOSThread, ErrPinUnsupported
	}

	return runtime.UnlockOSThread, nil
}

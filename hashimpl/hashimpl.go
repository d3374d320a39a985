// Package hashimpl binds SHA-256 routines to the call contracts invoked
// by the timing runners. It does not hash anything itself: the baseline
// is the Go standard library and the accelerated routine comes from
// github.com/minio/sha256-simd.
package hashimpl

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"strings"

	simd "github.com/minio/sha256-simd"
)

// DigestSize is the number of bytes every routine writes to its digest.
const DigestSize = sha256.Size

// LanesPrefix names a multi-stream routine built from a single-stream one.
const LanesPrefix = "lanes:"

// ErrUnknownImpl is returned for names not in the registry.
var ErrUnknownImpl = errors.New("unknown implementation")

// Func hashes msg and writes exactly DigestSize bytes to digest.
type Func func(msg, digest []byte)

// MultiFunc hashes the first length bytes of each message in one call,
// writing one digest per message.
type MultiFunc func(msgs [][]byte, length int, digests [][]byte)

// Stdlib is crypto/sha256.
func Stdlib(msg, digest []byte) {
	sum := sha256.Sum256(msg)
	copy(digest, sum[:])
}

// SIMD is sha256-simd, which takes the SHA-NI or ARM SHA2 path whenever
// the hardware has it.
func SIMD(msg, digest []byte) {
	sum := simd.Sum256(msg)
	copy(digest, sum[:])
}

// Library is the baseline library routine. Like a crypto library that
// consults a capability word before dispatching, it takes the hardware
// path only when caps allows it.
func Library(caps Capabilities) Func {
	if caps.HardwareHash() {
		return SIMD
	}

	return Stdlib
}

// Lanes adapts f to the multi-stream contract by hashing each lane in
// turn within a single call.
func Lanes(f Func) MultiFunc {
	return func(msgs [][]byte, length int, digests [][]byte) {
		for i := range msgs {
			f(msgs[i][:length], digests[i])
		}
	}
}

// Info describes a registered routine.
type Info struct {
	Name        string
	Description string
	// Hardware reports whether the routine would take a dedicated SHA
	// instruction path under the given capabilities.
	Hardware bool
}

type entry struct {
	description string
	resolve     func(caps Capabilities) Func
	hardware    func(caps Capabilities) bool
}

var registry = map[string]entry{
	"stdlib": {
		description: "Go standard library crypto/sha256",
		resolve:     func(Capabilities) Func { return Stdlib },
		hardware:    func(Capabilities) bool { return false },
	},
	"simd": {
		description: "minio/sha256-simd direct routine",
		resolve:     func(Capabilities) Func { return SIMD },
		hardware:    Capabilities.HardwareHash,
	},
	"library": {
		description: "capability-gated library routine (simd when SHA bits are set, else stdlib)",
		resolve:     Library,
		hardware:    Capabilities.HardwareHash,
	},
}

// Known returns registered single-stream names in sorted order.
func Known() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Describe lists every registered routine under caps.
func Describe(caps Capabilities) []Info {
	names := Known()
	infos := make([]Info, 0, len(names))

	for _, name := range names {
		e := registry[name]
		infos = append(infos, Info{
			Name:        name,
			Description: e.description,
			Hardware:    e.hardware(caps),
		})
	}

	return infos
}

// Resolve returns the single-stream routine called name under caps.
func Resolve(name string, caps Capabilities) (Func, error) {
	e, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w %q (known: %s)",
			ErrUnknownImpl, name, strings.Join(Known(), ", "))
	}

	return e.resolve(caps), nil
}

// ResolveMulti returns the multi-stream routine called name under caps.
// Names take the form "lanes:<single-stream name>".
func ResolveMulti(name string, caps Capabilities) (MultiFunc, error) {
	single, ok := strings.CutPrefix(name, LanesPrefix)
	if !ok {
		return nil, fmt.Errorf("%w %q: multi-stream names start with %q",
			ErrUnknownImpl, name, LanesPrefix)
	}

	f, err := Resolve(single, caps)
	if err != nil {
		return nil, err
	}

	return Lanes(f), nil
}

// Package buffer provisions aligned, randomly filled message buffers and
// digest outputs for the timing runners. Buffer contents are filler: only
// their length affects hashing cost.
package buffer

import (
	"errors"
	"fmt"
	mrand "math/rand"
	"unsafe"

	"github.com/klauspost/cpuid/v2"
)

// DigestSize is the length of every digest output buffer.
const DigestSize = 32

// MaxSize caps a single input buffer.
const MaxSize = 1 << 30

var (
	// ErrAllocation is returned when a buffer set cannot be provisioned.
	// Callers treat it as fatal.
	ErrAllocation = errors.New("buffer allocation failed")
	// ErrReleased is returned by a second Release of the same Set.
	ErrReleased = errors.New("buffer set already released")
)

// Config controls alignment and the filler source.
type Config struct {
	// Alignment is the byte boundary of every buffer. It must be a power
	// of two; 0 selects the CPU cache line size.
	Alignment int
	Seed      int64
}

// Stats counts Allocate and Release calls that succeeded.
type Stats struct {
	Allocated int
	Released  int
}

// Provisioner hands out buffer sets. It is not safe for concurrent use;
// the harness is single threaded.
type Provisioner struct {
	alignment int
	rng       *mrand.Rand
	stats     Stats
}

// NewProvisioner creates a Provisioner from the given Config.
func NewProvisioner(cfg Config) (*Provisioner, error) {
	alignment := cfg.Alignment
	if alignment == 0 {
		alignment = CacheLineAlignment()
	}

	if alignment < 1 || alignment&(alignment-1) != 0 {
		return nil, fmt.Errorf("alignment %d is not a power of two", alignment)
	}

	return &Provisioner{
		alignment: alignment,
		rng:       mrand.New(mrand.NewSource(cfg.Seed)),
	}, nil
}

// CacheLineAlignment returns the detected cache line size, or 64 when
// the CPU does not report a usable one.
func CacheLineAlignment() int {
	line := cpuid.CPU.CacheLine
	if line > 0 && line&(line-1) == 0 {
		return line
	}

	return 64
}

// Alignment returns the boundary every buffer is aligned to.
func (p *Provisioner) Alignment() int {
	return p.alignment
}

// Stats returns allocation counters.
func (p *Provisioner) Stats() Stats {
	return p.stats
}

// Live returns the number of sets allocated and not yet released.
func (p *Provisioner) Live() int {
	return p.stats.Allocated - p.stats.Released
}

// Set is count input buffers of equal size plus one digest buffer per
// input. It is owned by the caller of Allocate until Release.
type Set struct {
	Inputs  [][]byte
	Digests [][]byte

	owner    *Provisioner
	released bool
}

// Allocate provisions count inputs of size bytes, each filled with
// pseudo-random bytes, and count digest buffers.
func (p *Provisioner) Allocate(count, size int) (*Set, error) {
	if count < 1 {
		return nil, fmt.Errorf("%w: count %d", ErrAllocation, count)
	}

	if size < 1 || size > MaxSize {
		return nil, fmt.Errorf("%w: size %d outside [1, %d]",
			ErrAllocation, size, MaxSize)
	}

	set := &Set{
		Inputs:  make([][]byte, count),
		Digests: make([][]byte, count),
		owner:   p,
	}

	for i := 0; i < count; i++ {
		set.Inputs[i] = p.aligned(size)
		p.rng.Read(set.Inputs[i])
		set.Digests[i] = p.aligned(DigestSize)
	}

	p.stats.Allocated++

	return set, nil
}

// aligned returns a size-byte slice whose first element sits on the
// provisioner's alignment boundary. The Go heap does not move objects,
// so the alignment holds for the slice's lifetime.
func (p *Provisioner) aligned(size int) []byte {
	raw := make([]byte, size+p.alignment-1)

	off := 0
	mask := uintptr(p.alignment - 1)
	if rem := uintptr(unsafe.Pointer(&raw[0])) & mask; rem != 0 {
		off = p.alignment - int(rem)
	}

	return raw[off : off+size : off+size]
}

// Count returns the number of input buffers in the set.
func (s *Set) Count() int {
	return len(s.Inputs)
}

// Release drops the set's buffers. It must be called exactly once.
func (s *Set) Release() error {
	if s.released {
		return ErrReleased
	}

	s.released = true
	s.Inputs = nil
	s.Digests = nil
	s.owner.stats.Released++

	return nil
}

package buffer

import (
	"bytes"
	"errors"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateShapes(t *testing.T) {
	p, err := NewProvisioner(Config{Alignment: 64, Seed: 1})
	require.NoError(t, err)

	set, err := p.Allocate(4, 128)
	require.NoError(t, err)

	require.Equal(t, 4, set.Count())
	require.Len(t, set.Digests, 4)

	for i := 0; i < 4; i++ {
		assert.Len(t, set.Inputs[i], 128)
		assert.Equal(t, 128, cap(set.Inputs[i]))
		assert.Len(t, set.Digests[i], DigestSize)
	}
}

func TestAllocateAlignment(t *testing.T) {
	for _, alignment := range []int{1, 16, 32, 64, 4096} {
		p, err := NewProvisioner(Config{Alignment: alignment})
		require.NoError(t, err)

		set, err := p.Allocate(8, 33)
		require.NoError(t, err)

		for i := range set.Inputs {
			addr := uintptr(unsafe.Pointer(&set.Inputs[i][0]))
			assert.Zero(t, addr%uintptr(alignment),
				"input %d not aligned to %d", i, alignment)

			addr = uintptr(unsafe.Pointer(&set.Digests[i][0]))
			assert.Zero(t, addr%uintptr(alignment),
				"digest %d not aligned to %d", i, alignment)
		}
	}
}

func TestAllocateDeterministicFill(t *testing.T) {
	p1, err := NewProvisioner(Config{Alignment: 32, Seed: 42})
	require.NoError(t, err)
	p2, err := NewProvisioner(Config{Alignment: 32, Seed: 42})
	require.NoError(t, err)

	s1, err := p1.Allocate(2, 256)
	require.NoError(t, err)
	s2, err := p2.Allocate(2, 256)
	require.NoError(t, err)

	assert.True(t, bytes.Equal(s1.Inputs[0], s2.Inputs[0]))
	assert.True(t, bytes.Equal(s1.Inputs[1], s2.Inputs[1]))
	assert.False(t, bytes.Equal(s1.Inputs[0], s1.Inputs[1]),
		"each input is filled independently")
	assert.False(t, bytes.Equal(s1.Inputs[0], make([]byte, 256)))
}

func TestAllocateInvalid(t *testing.T) {
	p, err := NewProvisioner(Config{Alignment: 64})
	require.NoError(t, err)

	tests := []struct {
		name  string
		count int
		size  int
	}{
		{"zero count", 0, 16},
		{"negative count", -1, 16},
		{"zero size", 1, 0},
		{"oversized", 1, MaxSize + 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Allocate(tt.count, tt.size)
			require.ErrorIs(t, err, ErrAllocation)
		})
	}

	assert.Zero(t, p.Live())
}

func TestNewProvisionerAlignment(t *testing.T) {
	_, err := NewProvisioner(Config{Alignment: 48})
	require.Error(t, err)

	_, err = NewProvisioner(Config{Alignment: -8})
	require.Error(t, err)

	p, err := NewProvisioner(Config{})
	require.NoError(t, err)
	assert.Equal(t, CacheLineAlignment(), p.Alignment())
}

func TestReleaseExactlyOnce(t *testing.T) {
	p, err := NewProvisioner(Config{Alignment: 64})
	require.NoError(t, err)

	a, err := p.Allocate(2, 8)
	require.NoError(t, err)
	b, err := p.Allocate(8, 8)
	require.NoError(t, err)
	require.Equal(t, 2, p.Live())

	require.NoError(t, a.Release())
	assert.Equal(t, 1, p.Live())
	assert.Nil(t, a.Inputs)

	err = a.Release()
	assert.True(t, errors.Is(err, ErrReleased))
	assert.Equal(t, 1, p.Live())

	require.NoError(t, b.Release())
	assert.Zero(t, p.Live())
	assert.Equal(t, Stats{Allocated: 2, Released: 2}, p.Stats())
}

package harness

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heartever/flo-shani-aesni/buffer"
	"github.com/heartever/flo-shani-aesni/clock"
	"github.com/heartever/flo-shani-aesni/hashimpl"
)

// fixedCounter reports whatever the measured work last stored in next.
type fixedCounter struct {
	next uint64
}

func (c *fixedCounter) Start() uint64    { return 0 }
func (c *fixedCounter) End() uint64      { return c.next }
func (c *fixedCounter) Overhead() uint64 { return 0 }
func (c *fixedCounter) Name() string     { return "fixed" }

func newTestRunner(t *testing.T, maxBits int) (*Runner, *fixedCounter) {
	t.Helper()

	buffers, err := buffer.NewProvisioner(buffer.Config{Alignment: 64, Seed: 7})
	require.NoError(t, err)

	counter := &fixedCounter{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return NewRunner(clock.New(counter), buffers, RunConfig{
		MaxSizeBits: maxBits,
		Schedule:    DefaultSchedule(),
	}, logger), counter
}

func TestSizes(t *testing.T) {
	assert.Equal(t, []uint64{1, 2, 4}, Sizes(3))
	assert.Empty(t, Sizes(0))

	sizes := Sizes(12)
	require.Len(t, sizes, 12)
	for i, s := range sizes {
		assert.Equal(t, uint64(1)<<i, s)
		assert.Zero(t, s&(s-1), "size %d is a power of two", s)
	}
	assert.Equal(t, uint64(1)<<11, sizes[len(sizes)-1])
}

func TestScheduleIterations(t *testing.T) {
	s := DefaultSchedule()

	assert.Equal(t, 512, s.Iterations(0))
	assert.Equal(t, 492, s.Iterations(1))
	assert.Equal(t, 392, s.Iterations(6))
	assert.Equal(t, 1, s.Iterations(100))

	floored := Schedule{Base: 100, Step: 30, Min: 20}
	assert.Equal(t, 40, floored.Iterations(2))
	assert.Equal(t, 20, floored.Iterations(3))

	assert.Equal(t, 1, Schedule{Base: 1, Step: 5, Min: 0}.Iterations(4))
}

func TestSingleSlicesMessagePerSize(t *testing.T) {
	r, counter := newTestRunner(t, 5)

	set, err := r.Buffers.Allocate(1, r.MaxSize())
	require.NoError(t, err)
	defer set.Release()

	var seen []int
	samples, err := r.Single(context.Background(), set, "probe",
		func(msg, digest []byte) {
			if len(seen) == 0 || seen[len(seen)-1] != len(msg) {
				seen = append(seen, len(msg))
			}
			require.Len(t, digest, hashimpl.DigestSize)
			counter.next = uint64(len(msg)) * 10
		})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 4, 8, 16}, seen)
	require.Len(t, samples, 5)

	for i, s := range samples {
		assert.Equal(t, uint64(1)<<i, s.Size)
		assert.Equal(t, s.Size*10, s.Cycles)
	}
}

func TestSingleRejectsShortBuffer(t *testing.T) {
	r, _ := newTestRunner(t, 6)

	set, err := r.Buffers.Allocate(1, 8)
	require.NoError(t, err)
	defer set.Release()

	_, err = r.Single(context.Background(), set, "short", hashimpl.Stdlib)
	require.Error(t, err)
}

func TestMultiPassesDegreeBuffers(t *testing.T) {
	for _, degree := range []int{1, 2, 4, 8} {
		r, counter := newTestRunner(t, 4)

		samples, err := r.Multi(context.Background(), "probe",
			func(msgs [][]byte, length int, digests [][]byte) {
				require.Len(t, msgs, degree)
				require.Len(t, digests, degree)
				for i := range msgs {
					require.GreaterOrEqual(t, len(msgs[i]), length)
					require.Len(t, digests[i], hashimpl.DigestSize)
				}
				counter.next = uint64(length * degree)
			}, degree)
		require.NoError(t, err)

		require.Len(t, samples, 4)
		for i, s := range samples {
			assert.Equal(t, uint64(1)<<i, s.Size)
			assert.Equal(t, s.Size*uint64(degree), s.Cycles)
		}

		assert.Zero(t, r.Buffers.Live(), "degree %d leaked buffers", degree)
		assert.Equal(t, 1, r.Buffers.Stats().Allocated)
		assert.Equal(t, 1, r.Buffers.Stats().Released)
	}
}

func TestMultiReleasesOnCancel(t *testing.T) {
	r, _ := newTestRunner(t, 4)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Multi(ctx, "cancelled", hashimpl.Lanes(hashimpl.Stdlib), 4)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, r.Buffers.Live())
}

func TestMultiReleasesOnPanic(t *testing.T) {
	r, _ := newTestRunner(t, 4)

	func() {
		defer func() {
			require.NotNil(t, recover())
		}()

		_, _ = r.Multi(context.Background(), "broken",
			func([][]byte, int, [][]byte) { panic("no result") }, 2)
	}()

	assert.Zero(t, r.Buffers.Live())
}

func TestMultiWithNoopRoutine(t *testing.T) {
	r, _ := newTestRunner(t, 3)

	samples, err := r.Multi(context.Background(), "noop",
		func([][]byte, int, [][]byte) {}, 8)
	require.NoError(t, err)
	require.Len(t, samples, 3)

	for _, s := range samples {
		assert.Zero(t, s.Cycles)
	}
	assert.Zero(t, r.Buffers.Live())
}

func TestMultiRealRoutine(t *testing.T) {
	buffers, err := buffer.NewProvisioner(buffer.Config{Alignment: 32})
	require.NoError(t, err)

	r := NewRunner(clock.Default(), buffers, RunConfig{
		MaxSizeBits: 4,
		Schedule:    Schedule{Base: 4, Step: 1, Min: 1},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	samples, err := r.Multi(context.Background(), "lanes:simd",
		hashimpl.Lanes(hashimpl.SIMD), 2)
	require.NoError(t, err)
	assert.Len(t, samples, 4)
	assert.Zero(t, buffers.Live())
}

// windowCounter tracks whether work runs inside the measured interval.
type windowCounter struct {
	open    bool
	inside  int
	outside int
}

func (c *windowCounter) Start() uint64 {
	c.open = true
	return 0
}

func (c *windowCounter) End() uint64 {
	c.open = false
	return uint64(c.inside)
}

func (c *windowCounter) Overhead() uint64 { return 0 }

func (c *windowCounter) Name() string { return "window" }

func (c *windowCounter) call() {
	if c.open {
		c.inside++
	} else {
		c.outside++
	}
}

func TestWarmupRunsOutsideMeasuredInterval(t *testing.T) {
	buffers, err := buffer.NewProvisioner(buffer.Config{Alignment: 64})
	require.NoError(t, err)

	counter := &windowCounter{}
	r := NewRunner(clock.New(counter), buffers, RunConfig{
		MaxSizeBits: 3,
		Schedule:    Schedule{Base: 10, Step: 2, Min: 1, Warmup: 3},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	samples, err := r.Multi(context.Background(), "window",
		func([][]byte, int, [][]byte) { counter.call() }, 2)
	require.NoError(t, err)

	assert.Equal(t, 9, counter.outside, "three warm-up calls per size")
	assert.Equal(t, 24, counter.inside, "10 + 8 + 6 timed calls")

	require.Len(t, samples, 3)
	assert.Equal(t, uint64(10), samples[0].Cycles)
	assert.Equal(t, uint64(18), samples[1].Cycles)
	assert.Equal(t, uint64(24), samples[2].Cycles)
}

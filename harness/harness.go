package harness

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/heartever/flo-shani-aesni/buffer"
	"github.com/heartever/flo-shani-aesni/clock"
	"github.com/heartever/flo-shani-aesni/hashimpl"
)

// Schedule fixes the iteration count per size exponent so larger inputs
// still finish in comparable wall time. Warmup untimed calls precede
// every timed batch.
type Schedule struct {
	Base   int `yaml:"base" json:"base" validate:"min=1"`
	Step   int `yaml:"step" json:"step" validate:"min=0"`
	Min    int `yaml:"min" json:"min" validate:"min=1"`
	Warmup int `yaml:"warmup" json:"warmup" validate:"min=0"`
}

// DefaultSchedule is 512 - 20*i iterations, never below one, after
// eight warm-up calls.
func DefaultSchedule() Schedule {
	return Schedule{Base: 512, Step: 20, Min: 1, Warmup: 8}
}

// Iterations returns the batch size for exponent i.
func (s Schedule) Iterations(i int) int {
	n := s.Base - s.Step*i
	floor := max(s.Min, 1)

	return max(n, floor)
}

// Sizes returns 2^i for i in [0, maxBits).
func Sizes(maxBits int) []uint64 {
	sizes := make([]uint64, 0, max(maxBits, 0))
	for i := 0; i < maxBits; i++ {
		sizes = append(sizes, uint64(1)<<i)
	}

	return sizes
}

// RunConfig holds the size sequence and iteration schedule shared by
// every runner invocation.
type RunConfig struct {
	MaxSizeBits int
	Schedule    Schedule
}

// Runner times hash routines over the configured size sequence.
type Runner struct {
	Clock   *clock.Clock
	Buffers *buffer.Provisioner
	Config  RunConfig
	Logger  *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(
	clk *clock.Clock,
	buffers *buffer.Provisioner,
	cfg RunConfig,
	logger *slog.Logger,
) *Runner {
	return &Runner{
		Clock:   clk,
		Buffers: buffers,
		Config:  cfg,
		Logger:  logger,
	}
}

// MaxSize is the largest tested message size and the size of every
// input buffer.
func (r *Runner) MaxSize() int {
	if r.Config.MaxSizeBits < 1 {
		return 0
	}

	return 1 << (r.Config.MaxSizeBits - 1)
}

// Single times f over the first buffer of a caller-owned set, slicing
// the message down to each tested size.
func (r *Runner) Single(
	ctx context.Context,
	set *buffer.Set,
	name string,
	f hashimpl.Func,
) ([]Sample, error) {
	if set.Count() < 1 || len(set.Inputs[0]) < r.MaxSize() {
		return nil, fmt.Errorf("%s: message buffer smaller than %d bytes",
			name, r.MaxSize())
	}

	msg, digest := set.Inputs[0], set.Digests[0]

	return r.sweep(ctx, name, 1, func(size int) func() {
		m := msg[:size]
		return func() { f(m, digest) }
	})
}

// Multi allocates degree buffer pairs, times f over them and releases
// them before returning, whatever the outcome.
func (r *Runner) Multi(
	ctx context.Context,
	name string,
	f hashimpl.MultiFunc,
	degree int,
) (samples []Sample, err error) {
	set, err := r.Buffers.Allocate(degree, r.MaxSize())
	if err != nil {
		return nil, fmt.Errorf("%s %dx: %w", name, degree, err)
	}

	defer func() {
		if relErr := set.Release(); relErr != nil && err == nil {
			err = fmt.Errorf("%s %dx: %w", name, degree, relErr)
		}
	}()

	return r.sweep(ctx, name, degree, func(size int) func() {
		return func() { f(set.Inputs, size, set.Digests) }
	})
}

// sweep is the size loop shared by Single and Multi. bind closes the
// routine over its buffers for one size.
func (r *Runner) sweep(
	ctx context.Context,
	name string,
	degree int,
	bind func(size int) func(),
) ([]Sample, error) {
	sizes := Sizes(r.Config.MaxSizeBits)
	samples := make([]Sample, 0, len(sizes))

	for i, size := range sizes {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%s %dx: %w", name, degree, err)
		}

		work := bind(int(size))
		for w := 0; w < r.Config.Schedule.Warmup; w++ {
			work()
		}

		iterations := r.Config.Schedule.Iterations(i)
		cycles := r.Clock.Measure(work, iterations)

		r.Logger.DebugContext(ctx, "measured",
			slog.String("impl", name),
			slog.Int("degree", degree),
			slog.Uint64("size", size),
			slog.Int("iterations", iterations),
			slog.Uint64("cycles", cycles),
		)

		samples = append(samples, Sample{Size: size, Cycles: cycles})
	}

	return samples, nil
}

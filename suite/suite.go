// Package suite runs the sequential comparison and the multi-buffer
// scaling benchmarks in a fixed order and writes their tables.
package suite

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"runtime/debug"

	"github.com/heartever/flo-shani-aesni/buffer"
	"github.com/heartever/flo-shani-aesni/hashimpl"
	"github.com/heartever/flo-shani-aesni/harness"
	"github.com/heartever/flo-shani-aesni/report"
)

// Options names the routines under test and how to report them.
type Options struct {
	Baseline    string
	Accelerated string
	Multi       string
	Degrees     []int
	Format      report.Format
	// CPU pins the measuring thread; -1 leaves it unpinned.
	CPU int
}

// Result holds both tables and the capability value the run ended with.
type Result struct {
	Sequential *harness.SequentialTable
	Parallel   *harness.ParallelTable
	Caps       hashimpl.Capabilities
}

// Suite is a single benchmark run. It owns its capability value: the
// sequential suite clears the hardware SHA bits to force the baseline
// down its software path and leaves them cleared for the rest of the
// run. A new Suite starts from whatever Capabilities it is given.
type Suite struct {
	Runner *harness.Runner
	Caps   hashimpl.Capabilities
	Opts   Options
	Out    io.Writer
	Logger *slog.Logger

	// Resolve and ResolveMulti default to the hashimpl registry.
	Resolve      func(name string, caps hashimpl.Capabilities) (hashimpl.Func, error)
	ResolveMulti func(name string, caps hashimpl.Capabilities) (hashimpl.MultiFunc, error)

	// Isolate, when set, measures the baseline pass that follows the
	// capability clear in a separate process, where the runtime's own
	// SHA dispatch can be disabled as well. When nil the pass runs in
	// this process with only the registry capabilities cleared.
	Isolate func(ctx context.Context, name string) ([]harness.Sample, error)
}

// New creates a Suite bound to the hashimpl registry.
func New(
	runner *harness.Runner,
	caps hashimpl.Capabilities,
	opts Options,
	out io.Writer,
	logger *slog.Logger,
) *Suite {
	return &Suite{
		Runner:       runner,
		Caps:         caps,
		Opts:         opts,
		Out:          out,
		Logger:       logger,
		Resolve:      hashimpl.Resolve,
		ResolveMulti: hashimpl.ResolveMulti,
	}
}

// Run executes header, sequential suite, sequential table, parallel
// suite, parallel table and footer. Any error aborts the run.
func (s *Suite) Run(ctx context.Context) (*Result, error) {
	unpin, err := harness.Pin(s.Opts.CPU)
	if err != nil {
		if unpin == nil {
			return nil, err
		}

		s.Logger.WarnContext(ctx, "running unpinned",
			slog.String("error", err.Error()))
	}
	defer unpin()

	gcPercent := debug.SetGCPercent(-1)
	defer debug.SetGCPercent(gcPercent)

	s.header()

	seq, err := s.runSequential(ctx)
	if err != nil {
		return nil, fmt.Errorf("sequential suite: %w", err)
	}

	if err := s.render(func(w io.Writer) error {
		return s.renderSequential(w, seq)
	}); err != nil {
		return nil, err
	}

	par, err := s.runParallel(ctx)
	if err != nil {
		return nil, fmt.Errorf("parallel suite: %w", err)
	}

	if err := s.render(func(w io.Writer) error {
		return s.renderParallel(w, par)
	}); err != nil {
		return nil, err
	}

	if s.Opts.Format == report.FormatJSON {
		if err := report.GenerateJSON(s.Out, seq, par, s.labels()); err != nil {
			return nil, fmt.Errorf("generate JSON report: %w", err)
		}
	}

	s.footer()

	return &Result{Sequential: seq, Parallel: par, Caps: s.Caps}, nil
}

func (s *Suite) runSequential(
	ctx context.Context,
) (table *harness.SequentialTable, err error) {
	set, err := s.Runner.Buffers.Allocate(1, s.Runner.MaxSize())
	if err != nil {
		return nil, fmt.Errorf("allocate message buffer: %w", err)
	}

	defer func() {
		if relErr := set.Release(); relErr != nil && err == nil {
			err = relErr
		}
	}()

	table = &harness.SequentialTable{}

	if err := s.measureSingle(ctx, set, table, harness.Baseline, s.Opts.Baseline); err != nil {
		return nil, err
	}

	s.Caps = s.Caps.Without(hashimpl.HardwareSHA)
	s.Logger.InfoContext(ctx, "hardware SHA disabled for the rest of the run",
		slog.String("capabilities", s.Caps.String()),
	)

	if err := s.measureCleared(ctx, set, table); err != nil {
		return nil, err
	}

	if err := s.measureSingle(ctx, set, table, harness.Accelerated, s.Opts.Accelerated); err != nil {
		return nil, err
	}

	return table, nil
}

func (s *Suite) measureSingle(
	ctx context.Context,
	set *buffer.Set,
	table *harness.SequentialTable,
	col harness.Column,
	name string,
) error {
	f, err := s.Resolve(name, s.Caps)
	if err != nil {
		return err
	}

	s.Logger.InfoContext(ctx, "running "+col.String(),
		slog.String("impl", name),
		slog.String("capabilities", s.Caps.String()),
	)

	runtime.GC()

	samples, err := s.Runner.Single(ctx, set, name, f)
	if err != nil {
		return err
	}

	return table.Record(col, samples)
}

func (s *Suite) measureCleared(
	ctx context.Context,
	set *buffer.Set,
	table *harness.SequentialTable,
) error {
	if s.Isolate == nil {
		return s.measureSingle(ctx, set, table, harness.Baseline, s.Opts.Baseline)
	}

	s.Logger.InfoContext(ctx, "running baseline in isolated process",
		slog.String("impl", s.Opts.Baseline),
		slog.String("capabilities", s.Caps.String()),
	)

	samples, err := s.Isolate(ctx, s.Opts.Baseline)
	if err != nil {
		return err
	}

	return table.Record(harness.Baseline, samples)
}

func (s *Suite) runParallel(ctx context.Context) (*harness.ParallelTable, error) {
	f, err := s.ResolveMulti(s.Opts.Multi, s.Caps)
	if err != nil {
		return nil, err
	}

	table := harness.NewParallelTable(s.Opts.Degrees)

	for _, degree := range s.Opts.Degrees {
		s.Logger.InfoContext(ctx, "running multi-buffer",
			slog.String("impl", s.Opts.Multi),
			slog.Int("degree", degree),
		)

		runtime.GC()

		samples, err := s.Runner.Multi(ctx, s.Opts.Multi, f, degree)
		if err != nil {
			return nil, err
		}

		if err := table.Record(degree, samples); err != nil {
			return nil, err
		}
	}

	return table, nil
}

func (s *Suite) labels() report.Labels {
	return report.Labels{
		Baseline:    s.Opts.Baseline,
		Accelerated: s.Opts.Accelerated,
	}
}

// render writes a table immediately for the text formats. JSON is
// written once both tables exist.
func (s *Suite) render(fn func(io.Writer) error) error {
	if s.Opts.Format == report.FormatJSON {
		return nil
	}

	return fn(s.Out)
}

func (s *Suite) renderSequential(w io.Writer, t *harness.SequentialTable) error {
	if s.Opts.Format == report.FormatMarkdown {
		return report.SequentialMarkdown(w, t, s.labels())
	}

	return report.Sequential(w, t, s.labels())
}

func (s *Suite) renderParallel(w io.Writer, t *harness.ParallelTable) error {
	if s.Opts.Format == report.FormatMarkdown {
		return report.ParallelMarkdown(w, t)
	}

	return report.Parallel(w, t)
}

func (s *Suite) header() {
	overhead := s.Runner.Clock.Overhead()
	attrs := []any{
		slog.String("go", runtime.Version()),
		slog.String("platform", runtime.GOOS+"/"+runtime.GOARCH),
		slog.String("cpu", s.Caps.Brand),
		slog.String("capabilities", s.Caps.String()),
		slog.String("counter", s.Runner.Clock.CounterName()),
		slog.Uint64("counter_overhead", overhead),
		slog.Int("alignment", s.Runner.Buffers.Alignment()),
	}

	if s.Opts.Format == report.FormatJSON {
		s.Logger.Info("start of benchmark", attrs...)
		return
	}

	fmt.Fprintln(s.Out, "== Start of Benchmark ===")
	fmt.Fprintf(s.Out, "Go version: %s (%s/%s)\n",
		runtime.Version(), runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(s.Out, "CPU: %s [%s]\n", s.Caps.Brand, s.Caps)
	fmt.Fprintf(s.Out, "Counter: %s (overhead %d)\n",
		s.Runner.Clock.CounterName(), overhead)
}

func (s *Suite) footer() {
	if s.Opts.Format == report.FormatJSON {
		s.Logger.Info("end of benchmark")
		return
	}

	fmt.Fprintln(s.Out, "== End of Benchmark =====")
}

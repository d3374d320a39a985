// Package main provides the CLI entry point for shabench, a cycle-level
// SHA-256 throughput benchmark comparing a baseline library routine with
// a hardware-accelerated one and measuring multi-buffer scaling.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/heartever/flo-shani-aesni/buffer"
	"github.com/heartever/flo-shani-aesni/clock"
	"github.com/heartever/flo-shani-aesni/config"
	"github.com/heartever/flo-shani-aesni/hashimpl"
	"github.com/heartever/flo-shani-aesni/harness"
	"github.com/heartever/flo-shani-aesni/report"
	"github.com/heartever/flo-shani-aesni/suite"
)

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	root := newRootCmd(logger, level)
	if err := root.ExecuteContext(ctx); err != nil {
		logger.Error("benchmark failed", slog.String("error", err.Error()))
		stop()
		os.Exit(1)
	}
}

func newRootCmd(logger *slog.Logger, level *slog.LevelVar) *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:   "shabench",
		Short: "SHA-256 software vs hardware cycle benchmark",
		Long: `Shabench times SHA-256 routines in CPU cycles across power-of-two
message sizes, compares a baseline library routine against a
hardware-accelerated one, and measures how multi-buffer hashing scales
with 1, 2, 4 and 8 independent messages per call.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if verbose {
				level.Set(slog.LevelDebug)
			}
		},
	}

	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Log every measurement")

	root.AddCommand(newRunCmd(logger))
	root.AddCommand(newImplsCmd())
	root.AddCommand(newMeasureCmd(logger))

	return root
}

func newRunCmd(logger *slog.Logger) *cobra.Command {
	var (
		configPath  string
		maxSizeBits int
		warmup      int
		isolate     bool
		alignment   int
		seed        int64
		degrees     []int
		baseline    string
		accelerated string
		multi       string
		cpu         int
		format      string
		outputJSON  bool
	)

	defaults := config.Default()

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sequential and multi-buffer suites",
		Long: `Run the sequential suite (baseline, baseline with hardware SHA
disabled, accelerated) followed by the multi-buffer suite, printing one
table for each.

The hardware-disabled baseline pass runs in a child process started with
GODEBUG set to switch off the Go runtime's SHA instructions, so library
routines that defer to crypto/sha256 really hash in software. Use
--isolate=false to run it in-process instead.

Multi-buffer routines named lanes:<routine> hash their lanes one after
another with a single-stream routine. They are serial baselines: their
speedup column stays near 1.00 and does not show real multi-buffer
scaling.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("max-size-bits") {
				cfg.MaxSizeBits = maxSizeBits
			}
			if flags.Changed("warmup") {
				cfg.Schedule.Warmup = warmup
			}
			if flags.Changed("isolate") {
				cfg.Isolate = isolate
			}
			if flags.Changed("alignment") {
				cfg.Alignment = alignment
			}
			if flags.Changed("seed") {
				cfg.Seed = seed
			}
			if flags.Changed("degrees") {
				cfg.Degrees = degrees
			}
			if flags.Changed("baseline") {
				cfg.Baseline = baseline
			}
			if flags.Changed("accelerated") {
				cfg.Accelerated = accelerated
			}
			if flags.Changed("multi") {
				cfg.Multi = multi
			}
			if flags.Changed("cpu") {
				cfg.CPU = cpu
			}
			if flags.Changed("format") {
				cfg.Format = format
			}
			if outputJSON {
				cfg.Format = string(report.FormatJSON)
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			return runBenchmark(cmd.Context(), logger, cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "",
		"Path to a YAML config file")
	flags.IntVar(&maxSizeBits, "max-size-bits", defaults.MaxSizeBits,
		"Sizes tested are 2^0 .. 2^(bits-1) bytes")
	flags.IntVar(&warmup, "warmup", defaults.Schedule.Warmup,
		"Untimed calls per size before each measured batch")
	flags.BoolVar(&isolate, "isolate", defaults.Isolate,
		"Run the hardware-disabled baseline in a child process")
	flags.IntVar(&alignment, "alignment", defaults.Alignment,
		"Buffer alignment in bytes (0 = CPU cache line)")
	flags.Int64Var(&seed, "seed", 0,
		"Filler random seed (0 = use current time)")
	flags.IntSliceVar(&degrees, "degrees", defaults.Degrees,
		"Multi-buffer degrees, starting at 1")
	flags.StringVar(&baseline, "baseline", defaults.Baseline,
		"Baseline single-stream routine")
	flags.StringVar(&accelerated, "accelerated", defaults.Accelerated,
		"Accelerated single-stream routine")
	flags.StringVar(&multi, "multi", defaults.Multi,
		"Multi-buffer routine (lanes:<routine>, a serial baseline)")
	flags.IntVar(&cpu, "cpu", defaults.CPU,
		"CPU to pin the benchmark thread to (-1 = no pinning)")
	flags.StringVar(&format, "format", defaults.Format,
		"Output format: box, markdown, json")
	flags.BoolVar(&outputJSON, "json", false,
		"Output results as JSON instead of tables")

	return cmd
}

func runBenchmark(ctx context.Context, logger *slog.Logger, cfg config.Config) error {
	format, err := report.ParseFormat(cfg.Format)
	if err != nil {
		return err
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	buffers, err := buffer.NewProvisioner(buffer.Config{
		Alignment: cfg.Alignment,
		Seed:      seed,
	})
	if err != nil {
		return fmt.Errorf("create buffer provisioner: %w", err)
	}

	logger.InfoContext(ctx, "starting benchmark",
		slog.Int("max_size_bits", cfg.MaxSizeBits),
		slog.Int("alignment", buffers.Alignment()),
		slog.Int64("seed", seed),
		slog.Any("degrees", cfg.Degrees),
		slog.String("baseline", cfg.Baseline),
		slog.String("accelerated", cfg.Accelerated),
		slog.String("multi", cfg.Multi),
	)

	runner := harness.NewRunner(clock.Default(), buffers, harness.RunConfig{
		MaxSizeBits: cfg.MaxSizeBits,
		Schedule:    cfg.Schedule,
	}, logger)

	s := suite.New(runner, hashimpl.Detect(), suite.Options{
		Baseline:    cfg.Baseline,
		Accelerated: cfg.Accelerated,
		Multi:       cfg.Multi,
		Degrees:     cfg.Degrees,
		Format:      format,
		CPU:         cfg.CPU,
	}, os.Stdout, logger)

	if cfg.Isolate {
		isolate, err := newIsolate(logger, runner, harness.IsolatedConfig{
			Alignment: buffers.Alignment(),
			Seed:      seed,
			CPU:       cfg.CPU,
		})
		if err != nil {
			return err
		}

		s.Isolate = isolate
	}

	if _, err := s.Run(ctx); err != nil {
		return err
	}

	logger.InfoContext(ctx, "benchmark complete")

	return nil
}

// newIsolate re-executes this binary's measure command for the
// hardware-disabled baseline pass.
func newIsolate(
	logger *slog.Logger,
	runner *harness.Runner,
	base harness.IsolatedConfig,
) (func(context.Context, string) ([]harness.Sample, error), error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate shabench binary: %w", err)
	}

	isolated := harness.NewIsolatedRunner(exe, nil, nil, logger)

	return func(ctx context.Context, name string) ([]harness.Sample, error) {
		cfg := base
		cfg.Impl = name
		cfg.Run = runner.Config
		cfg.ClearHardware = true

		res, err := isolated.Run(ctx, cfg)
		if err != nil {
			return nil, err
		}

		logger.InfoContext(ctx, "isolated baseline measured",
			slog.String("impl", res.Impl),
			slog.String("capabilities", res.Capabilities),
			slog.String("godebug", res.GODEBUG),
			slog.String("counter", res.Counter),
		)

		return res.Samples, nil
	}, nil
}

func newMeasureCmd(logger *slog.Logger) *cobra.Command {
	var cfg harness.IsolatedConfig

	cmd := &cobra.Command{
		Use:    "measure",
		Short:  "Measure one single-stream routine and print its samples as JSON",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return measure(cmd.Context(), cmd.OutOrStdout(), logger, cfg)
		},
	}

	defaults := harness.DefaultSchedule()

	flags := cmd.Flags()
	flags.StringVar(&cfg.Impl, "impl", "", "Single-stream routine")
	flags.IntVar(&cfg.Run.MaxSizeBits, "max-size-bits", config.Default().MaxSizeBits,
		"Sizes tested are 2^0 .. 2^(bits-1) bytes")
	flags.IntVar(&cfg.Run.Schedule.Base, "iter-base", defaults.Base,
		"Iterations at size index 0")
	flags.IntVar(&cfg.Run.Schedule.Step, "iter-step", defaults.Step,
		"Iterations removed per size index")
	flags.IntVar(&cfg.Run.Schedule.Min, "iter-min", defaults.Min,
		"Iteration floor")
	flags.IntVar(&cfg.Run.Schedule.Warmup, "warmup", defaults.Warmup,
		"Untimed calls per size")
	flags.IntVar(&cfg.Alignment, "alignment", 0,
		"Buffer alignment in bytes (0 = CPU cache line)")
	flags.Int64Var(&cfg.Seed, "seed", 0,
		"Filler random seed (0 = use current time)")
	flags.IntVar(&cfg.CPU, "cpu", -1,
		"CPU to pin the measuring thread to (-1 = no pinning)")
	flags.BoolVar(&cfg.ClearHardware, "clear-hardware", false,
		"Clear the hardware SHA capability bits before resolving")

	_ = cmd.MarkFlagRequired("impl")

	return cmd
}

func measure(
	ctx context.Context,
	w io.Writer,
	logger *slog.Logger,
	cfg harness.IsolatedConfig,
) (err error) {
	caps := hashimpl.Detect()
	if cfg.ClearHardware {
		caps = caps.Without(hashimpl.HardwareSHA)
	}

	f, err := hashimpl.Resolve(cfg.Impl, caps)
	if err != nil {
		return err
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	buffers, err := buffer.NewProvisioner(buffer.Config{
		Alignment: cfg.Alignment,
		Seed:      seed,
	})
	if err != nil {
		return fmt.Errorf("create buffer provisioner: %w", err)
	}

	runner := harness.NewRunner(clock.Default(), buffers, cfg.Run, logger)

	set, err := buffers.Allocate(1, runner.MaxSize())
	if err != nil {
		return fmt.Errorf("allocate message buffer: %w", err)
	}

	defer func() {
		if relErr := set.Release(); relErr != nil && err == nil {
			err = relErr
		}
	}()

	unpin, err := harness.Pin(cfg.CPU)
	if err != nil {
		if unpin == nil {
			return err
		}

		logger.WarnContext(ctx, "running unpinned",
			slog.String("error", err.Error()))
	}
	defer unpin()

	gcPercent := debug.SetGCPercent(-1)
	defer debug.SetGCPercent(gcPercent)

	runtime.GC()

	samples, err := runner.Single(ctx, set, cfg.Impl, f)
	if err != nil {
		return err
	}

	return harness.WriteIsolatedResult(w, harness.IsolatedResult{
		Impl:         cfg.Impl,
		Counter:      runner.Clock.CounterName(),
		Capabilities: caps.String(),
		GODEBUG:      os.Getenv("GODEBUG"),
		Samples:      samples,
	})
}

func newImplsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "impls",
		Short: "List registered SHA-256 routines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			caps := hashimpl.Detect()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "CPU:\t%s\n", caps.Brand)
			fmt.Fprintf(w, "Capabilities:\t%s\n\n", caps)
			fmt.Fprintln(w, "NAME\tHARDWARE\tDESCRIPTION")

			for _, info := range hashimpl.Describe(caps) {
				fmt.Fprintf(w, "%s\t%t\t%s\n",
					info.Name, info.Hardware, info.Description)
			}

			fmt.Fprintf(w, "\nMulti-buffer routines: %s<name>\n",
				hashimpl.LanesPrefix)

			return w.Flush()
		},
	}
}

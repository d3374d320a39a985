package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"time"
)

// SoftwareSHADebug is the GODEBUG option that stops the Go runtime from
// dispatching crypto/sha256 to dedicated SHA instructions on this
// architecture. It is empty where no such option exists.
func SoftwareSHADebug() string {
	switch runtime.GOARCH {
	case "amd64", "386":
		return "cpu.sha=off"
	case "arm64":
		return "cpu.sha2=off"
	default:
		return ""
	}
}

// SoftwareSHAEnv returns the GODEBUG entry for a child that must hash in
// software, keeping any settings already present in current.
func SoftwareSHAEnv(current string) string {
	opt := SoftwareSHADebug()

	switch {
	case opt == "":
		return "GODEBUG=" + current
	case current == "":
		return "GODEBUG=" + opt
	default:
		return "GODEBUG=" + current + "," + opt
	}
}

// IsolatedConfig describes one single-stream pass run in a child process.
type IsolatedConfig struct {
	Impl      string
	Run       RunConfig
	Alignment int
	Seed      int64
	CPU       int
	// ClearHardware clears the hardware SHA capability bits in the child
	// and starts it with SoftwareSHAEnv, since the runtime reads GODEBUG
	// only at process start.
	ClearHardware bool
}

// IsolatedResult is the JSON a child writes to stdout.
type IsolatedResult struct {
	Impl         string   `json:"impl"`
	Counter      string   `json:"counter"`
	Capabilities string   `json:"capabilities"`
	GODEBUG      string   `json:"godebug"`
	Samples      []Sample `json:"samples"`
}

// WriteIsolatedResult encodes res for the parent to parse.
func WriteIsolatedResult(w io.Writer, res IsolatedResult) error {
	return json.NewEncoder(w).Encode(res)
}

// IsolatedRunner re-executes a shabench binary's measure command so a
// pass can run under a different runtime environment.
type IsolatedRunner struct {
	BinaryPath string
	ExtraArgs  []string
	Env        []string
	Logger     *slog.Logger
}

// NewIsolatedRunner creates an IsolatedRunner. ExtraArgs are placed
// before the measure command; Env is appended to the inherited
// environment.
func NewIsolatedRunner(
	binaryPath string,
	extraArgs, env []string,
	logger *slog.Logger,
) *IsolatedRunner {
	return &IsolatedRunner{
		BinaryPath: binaryPath,
		ExtraArgs:  extraArgs,
		Env:        env,
		Logger:     logger.With(slog.String("binary", binaryPath)),
	}
}

// Args returns the child's command line for cfg.
func (r *IsolatedRunner) Args(cfg IsolatedConfig) []string {
	args := make([]string, 0, len(r.ExtraArgs)+20)
	args = append(args, r.ExtraArgs...)
	args = append(args, "measure",
		"--impl", cfg.Impl,
		"--max-size-bits", strconv.Itoa(cfg.Run.MaxSizeBits),
		"--iter-base", strconv.Itoa(cfg.Run.Schedule.Base),
		"--iter-step", strconv.Itoa(cfg.Run.Schedule.Step),
		"--iter-min", strconv.Itoa(cfg.Run.Schedule.Min),
		"--warmup", strconv.Itoa(cfg.Run.Schedule.Warmup),
		"--alignment", strconv.Itoa(cfg.Alignment),
		"--seed", strconv.FormatInt(cfg.Seed, 10),
		"--cpu", strconv.Itoa(cfg.CPU),
	)

	if cfg.ClearHardware {
		args = append(args, "--clear-hardware")
	}

	return args
}

// Command builds the child process for cfg.
func (r *IsolatedRunner) Command(ctx context.Context, cfg IsolatedConfig) *exec.Cmd {
	cmd := exec.CommandContext(ctx, r.BinaryPath, r.Args(cfg)...)

	env := append(os.Environ(), r.Env...)
	if cfg.ClearHardware {
		env = append(env, SoftwareSHAEnv(os.Getenv("GODEBUG")))
	}
	cmd.Env = env

	return cmd
}

// Run executes the child and returns its parsed samples, checked
// against the configured size sequence.
func (r *IsolatedRunner) Run(ctx context.Context, cfg IsolatedConfig) (*IsolatedResult, error) {
	cmd := r.Command(ctx, cfg)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.Logger.InfoContext(ctx, "starting isolated pass",
		slog.String("impl", cfg.Impl),
		slog.Bool("clear_hardware", cfg.ClearHardware),
	)

	start := time.Now()

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf(
			"isolated %s failed: %w\nstderr: %s",
			cfg.Impl, err, stderr.String(),
		)
	}

	r.Logger.InfoContext(ctx, "isolated pass finished",
		slog.String("impl", cfg.Impl),
		slog.Duration("wall_time", time.Since(start)),
	)

	res, err := parseResult(cfg.Impl, &stdout)
	if err != nil {
		return nil, fmt.Errorf(
			"parse isolated %s output: %w\nstdout: %s",
			cfg.Impl, err, stdout.String(),
		)
	}

	sizes := Sizes(cfg.Run.MaxSizeBits)
	if err := checkAligned(len(sizes), func(i int) uint64 {
		return sizes[i]
	}, res.Samples); err != nil {
		return nil, fmt.Errorf("isolated %s: %w", cfg.Impl, err)
	}

	return res, nil
}

func parseResult(impl string, r io.Reader) (*IsolatedResult, error) {
	var res IsolatedResult
	if err := json.NewDecoder(r).Decode(&res); err != nil {
		return nil, fmt.Errorf("decode JSON: %w", err)
	}

	if res.Impl == "" {
		res.Impl = impl
	}

	return &res, nil
}

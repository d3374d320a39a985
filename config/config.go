// Package config loads benchmark run settings: defaults first, then an
// optional YAML file, then command-line overrides applied by the caller.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/heartever/flo-shani-aesni/harness"
)

// Config is the full set of run parameters.
type Config struct {
	// MaxSizeBits bounds the size sequence: sizes are 2^0 .. 2^(MaxSizeBits-1).
	MaxSizeBits int `yaml:"max_size_bits" validate:"min=1,max=24"`
	// Alignment of every buffer in bytes; 0 uses the CPU cache line.
	Alignment int `yaml:"alignment" validate:"min=0,max=4096"`
	// Seed for the filler source; 0 picks one from the current time.
	Seed     int64            `yaml:"seed"`
	Schedule harness.Schedule `yaml:"schedule"`
	// Degrees are the multi-stream widths. The first must be 1 since
	// every speedup is derived from the 1x column.
	Degrees     []int  `yaml:"degrees" validate:"min=1,dive,min=1,max=64"`
	Baseline    string `yaml:"baseline" validate:"required"`
	Accelerated string `yaml:"accelerated" validate:"required"`
	Multi       string `yaml:"multi" validate:"required"`
	// CPU to pin the measuring thread to; -1 disables pinning.
	CPU    int    `yaml:"cpu" validate:"min=-1"`
	Format string `yaml:"format" validate:"oneof=box markdown json"`
	// Isolate runs the hardware-disabled baseline pass in a child
	// process with the runtime's SHA instructions switched off.
	Isolate bool `yaml:"isolate"`
}

// Default returns the settings of the reference benchmark.
func Default() Config {
	return Config{
		MaxSizeBits: 7,
		Alignment:   64,
		Schedule:    harness.DefaultSchedule(),
		Degrees:     []int{1, 2, 4, 8},
		Baseline:    "library",
		Accelerated: "simd",
		Multi:       "lanes:simd",
		CPU:         -1,
		Format:      "box",
		Isolate:     true,
	}
}

// Load returns Default overlaid with the YAML file at path. An empty
// path returns the defaults. The result is not validated; call Validate
// after applying flag overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field ranges and the degree list.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Alignment&(c.Alignment-1) != 0 {
		return fmt.Errorf("invalid config: alignment %d is not a power of two",
			c.Alignment)
	}

	if c.Degrees[0] != 1 {
		return fmt.Errorf("invalid config: degrees must start at 1, got %v",
			c.Degrees)
	}

	for i := 1; i < len(c.Degrees); i++ {
		if c.Degrees[i] <= c.Degrees[i-1] {
			return fmt.Errorf("invalid config: degrees must be increasing, got %v",
				c.Degrees)
		}
	}

	return nil
}

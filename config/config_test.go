package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heartever/flo-shani-aesni/harness"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "shabench.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 7, cfg.MaxSizeBits)
	assert.Equal(t, []int{1, 2, 4, 8}, cfg.Degrees)
	assert.Equal(t, harness.Schedule{Base: 512, Step: 20, Min: 1, Warmup: 8}, cfg.Schedule)
	assert.True(t, cfg.Isolate)
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
max_size_bits: 3
alignment: 32
seed: 99
schedule:
  base: 64
  step: 4
  min: 8
  warmup: 2
degrees: [1, 2]
accelerated: stdlib
format: json
isolate: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 3, cfg.MaxSizeBits)
	assert.Equal(t, 32, cfg.Alignment)
	assert.Equal(t, int64(99), cfg.Seed)
	assert.Equal(t, harness.Schedule{Base: 64, Step: 4, Min: 8, Warmup: 2}, cfg.Schedule)
	assert.Equal(t, []int{1, 2}, cfg.Degrees)
	assert.Equal(t, "stdlib", cfg.Accelerated)
	assert.Equal(t, "library", cfg.Baseline, "unset keys keep defaults")
	assert.Equal(t, "json", cfg.Format)
	assert.False(t, cfg.Isolate)
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "max_size_bitz: 3\n"))
	require.Error(t, err, "unknown keys are rejected")

	_, err = Load(writeConfig(t, "degrees: nope\n"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero bits", func(c *Config) { c.MaxSizeBits = 0 }},
		{"too many bits", func(c *Config) { c.MaxSizeBits = 25 }},
		{"odd alignment", func(c *Config) { c.Alignment = 48 }},
		{"no degrees", func(c *Config) { c.Degrees = nil }},
		{"first degree not one", func(c *Config) { c.Degrees = []int{2, 4} }},
		{"unordered degrees", func(c *Config) { c.Degrees = []int{1, 4, 2} }},
		{"zero schedule base", func(c *Config) { c.Schedule.Base = 0 }},
		{"negative warmup", func(c *Config) { c.Schedule.Warmup = -1 }},
		{"missing baseline", func(c *Config) { c.Baseline = "" }},
		{"bad cpu", func(c *Config) { c.CPU = -2 }},
		{"bad format", func(c *Config) { c.Format = "csv" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// defaultConfig is the configuration with nothing overridden
func defaultConfig() *Config {
	cfg, err := LoadConfig("", nil)
	if err != nil {
		panic(err)
	}
	return cfg
}

func testFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.IntP("workers", "w", DefaultWorkers, "")
	fs.Duration("timeout", 0, "")
	fs.Bool("force", false, "")
	addStageFlags(fs, "abundance")
	addStageFlags(fs, "sort")
	addStageFlags(fs, "filter")
	return fs
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()
	assert.Equal(t, DefaultWorkers, cfg.Workers)
	assert.Equal(t, 8, cfg.Threads)
	assert.Equal(t, 0.55, cfg.Threshold)
	assert.Equal(t, 11, cfg.HeaderLines)
	assert.Equal(t, time.Duration(0), cfg.Timeout)
	assert.Equal(t, 0, cfg.Retries)
	assert.True(t, cfg.SortByName)
	assert.Equal(t, FilterConfig{MinLength: 80, MinIdentity: 90, MinCoverage: 80}, cfg.Filter)
	assert.Equal(t, 0.9, cfg.Cluster.MinSeqID)
	assert.Equal(t, "msamtools", cfg.Tools.Msamtools)
}

func TestLoadConfigPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contigab.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
workers: 6
threshold: 0.7
header_lines: 9
timeout: 90s
filter:
  min_identity: 95
tools:
  samtools: /opt/samtools/bin/samtools
`), 0o644))

	fs := testFlags()
	require.NoError(t, fs.Parse([]string{"--workers", "12", "--by-coordinate"}))

	cfg, err := LoadConfig(path, fs)
	require.NoError(t, err)

	// flag set on the command line wins over the file
	assert.Equal(t, 12, cfg.Workers)
	// file wins over flag defaults and built-in defaults
	assert.Equal(t, 0.7, cfg.Threshold)
	assert.Equal(t, 9, cfg.HeaderLines)
	assert.Equal(t, 90*time.Second, cfg.Timeout)
	assert.Equal(t, 95, cfg.Filter.MinIdentity)
	assert.Equal(t, 80, cfg.Filter.MinLength)
	assert.Equal(t, "/opt/samtools/bin/samtools", cfg.Tools.Samtools)
	assert.False(t, cfg.SortByName)
}

func TestLoadConfigFlagsOnly(t *testing.T) {
	fs := testFlags()
	require.NoError(t, fs.Parse([]string{"-T", "0.8", "--timeout", "2m", "--min-length", "100"}))

	cfg, err := LoadConfig("", fs)
	require.NoError(t, err)
	assert.Equal(t, 0.8, cfg.Threshold)
	assert.Equal(t, 2*time.Minute, cfg.Timeout)
	assert.Equal(t, 100, cfg.Filter.MinLength)
	assert.Equal(t, DefaultWorkers, cfg.Workers)
	assert.True(t, cfg.SortByName)
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		path string
	}{
		{"Threshold above 1", []string{"--threshold", "1.5"}, ""},
		{"Negative threshold", []string{"--threshold=-0.1"}, ""},
		{"No workers", []string{"--workers", "0"}, ""},
		{"Negative header lines", []string{"--header-lines=-1"}, ""},
		{"Missing config file", nil, "/nonexistent/contigab.yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := testFlags()
			require.NoError(t, fs.Parse(tt.args))
			_, err := LoadConfig(tt.path, fs)
			assert.Error(t, err)
		})
	}
}

func TestTemplateVars(t *testing.T) {
	cfg := defaultConfig()
	cfg.Reference = "ref.fasta"
	vars := cfg.templateVars()
	assert.Equal(t, "8", vars["threads"])
	assert.Equal(t, "ref.fasta", vars["ref"])
	assert.Equal(t, "90", vars["min_identity"])
	assert.Equal(t, "0.95", vars["cov"])
	assert.Equal(t, "0", vars["cov_mode"])
}

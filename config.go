// Run configuration: defaults, optional YAML file and command-line flags

package main

import (
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// DefaultThreshold is the minimum covered fraction a contig must exceed
	DefaultThreshold = 0.55
	// DefaultHeaderLines is the number of header lines in a profile written
	// by current msamtools versions (older versions write 9)
	DefaultHeaderLines = 11
)

// FilterConfig holds the alignment filter cutoffs
type FilterConfig struct {
	MinLength   int `mapstructure:"min_length"`
	MinIdentity int `mapstructure:"min_identity"`
	MinCoverage int `mapstructure:"min_coverage"`
}

// ClusterConfig holds the contig clustering parameters
type ClusterConfig struct {
	MinSeqID float64 `mapstructure:"min_seq_id"`
	Coverage float64 `mapstructure:"coverage"`
	CovMode  int     `mapstructure:"cov_mode"`
}

// ToolsConfig names the external executables
type ToolsConfig struct {
	Samtools  string `mapstructure:"samtools"`
	Msamtools string `mapstructure:"msamtools"`
	Bwa       string `mapstructure:"bwa"`
	Mmseqs    string `mapstructure:"mmseqs"`
}

// Config is the effective configuration of one invocation
type Config struct {
	Workers      int           `mapstructure:"workers"`
	Threads      int           `mapstructure:"threads"`
	Threshold    float64       `mapstructure:"threshold"`
	HeaderLines  int           `mapstructure:"header_lines"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Retries      int           `mapstructure:"retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	Force        bool          `mapstructure:"force"`
	Strict       bool          `mapstructure:"strict"`
	Progress     bool          `mapstructure:"progress"`
	CheckBAM     bool          `mapstructure:"check_bam"`
	SortByName   bool          `mapstructure:"sort_by_name"`
	Reference    string        `mapstructure:"reference"`

	Filter  FilterConfig  `mapstructure:"filter"`
	Cluster ClusterConfig `mapstructure:"cluster"`
	Tools   ToolsConfig   `mapstructure:"tools"`
}

var configDefaults = map[string]interface{}{
	"workers":             DefaultWorkers,
	"threads":             8,
	"threshold":           DefaultThreshold,
	"header_lines":        DefaultHeaderLines,
	"timeout":             time.Duration(0),
	"retries":             0,
	"retry_backoff":       5 * time.Second,
	"force":               false,
	"strict":              false,
	"progress":            false,
	"check_bam":           false,
	"sort_by_name":        true,
	"reference":           "",
	"filter.min_length":   80,
	"filter.min_identity": 90,
	"filter.min_coverage": 80,
	"cluster.min_seq_id":  0.9,
	"cluster.coverage":    0.95,
	"cluster.cov_mode":    0,
	"tools.samtools":      "samtools",
	"tools.msamtools":     "msamtools",
	"tools.bwa":           "bwa",
	"tools.mmseqs":        "mmseqs",
}

// configFlags maps configuration keys to the flags that override them
var configFlags = map[string]string{
	"workers":             "workers",
	"threads":             "threads",
	"threshold":           "threshold",
	"header_lines":        "header-lines",
	"timeout":             "timeout",
	"retries":             "retries",
	"retry_backoff":       "retry-backoff",
	"force":               "force",
	"strict":              "strict",
	"progress":            "progress",
	"check_bam":           "check-bam",
	"reference":           "ref",
	"filter.min_length":   "min-length",
	"filter.min_identity": "min-identity",
	"filter.min_coverage": "min-coverage",
	"cluster.min_seq_id":  "min-seq-id",
	"cluster.coverage":    "cluster-coverage",
	"cluster.cov_mode":    "cov-mode",
	"tools.samtools":      "samtools",
	"tools.msamtools":     "msamtools",
	"tools.bwa":           "bwa",
	"tools.mmseqs":        "mmseqs",
}

// LoadConfig merges the built-in defaults, the YAML file at path (if any)
// and the flags of the running command, in increasing priority. Only flags
// that were set on the command line override the file
func LoadConfig(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	for key, value := range configDefaults {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "reading config %s", path)
		}
	}

	if flags != nil {
		for key, name := range configFlags {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, errors.Wrapf(err, "binding flag --%s", name)
			}
		}
		if f := flags.Lookup("by-coordinate"); f != nil && f.Changed {
			byCoord, _ := flags.GetBool("by-coordinate")
			v.Set("sort_by_name", !byCoord)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values no stage could work with
func (c *Config) Validate() error {
	switch {
	case c.Threshold < 0 || c.Threshold > 1:
		return errors.Errorf("threshold must be in [0, 1], got %v", c.Threshold)
	case c.Workers < 1:
		return errors.Errorf("workers must be at least 1, got %d", c.Workers)
	case c.Threads < 1:
		return errors.Errorf("threads must be at least 1, got %d", c.Threads)
	case c.HeaderLines < 0:
		return errors.Errorf("header_lines must not be negative, got %d", c.HeaderLines)
	case c.Retries < 0:
		return errors.Errorf("retries must not be negative, got %d", c.Retries)
	case c.Timeout < 0:
		return errors.Errorf("timeout must not be negative, got %s", c.Timeout)
	}
	return nil
}

// templateVars are the configuration values available to every command
// template, in addition to the per-unit paths
func (c *Config) templateVars() map[string]string {
	return map[string]string{
		"threads":      strconv.Itoa(c.Threads),
		"samtools":     c.Tools.Samtools,
		"msamtools":    c.Tools.Msamtools,
		"bwa":          c.Tools.Bwa,
		"mmseqs":       c.Tools.Mmseqs,
		"ref":          c.Reference,
		"min_length":   strconv.Itoa(c.Filter.MinLength),
		"min_identity": strconv.Itoa(c.Filter.MinIdentity),
		"min_coverage": strconv.Itoa(c.Filter.MinCoverage),
		"min_seq_id":   strconv.FormatFloat(c.Cluster.MinSeqID, 'f', -1, 64),
		"cov":          strconv.FormatFloat(c.Cluster.Coverage, 'f', -1, 64),
		"cov_mode":     strconv.Itoa(c.Cluster.CovMode),
	}
}

// Runner returns a stage runner configured by c
func (c *Config) Runner() *Runner {
	return &Runner{Workers: c.Workers, Progress: c.Progress}
}

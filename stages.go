// Pipeline stages: what each stage discovers, which tools it runs and where
// its results go

package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// File name conventions shared by the stages
const (
	ReadsMate1Suffix = "_qc_1.fastq.gz"
	ReadsMate2Suffix = "_qc_2.fastq.gz"
	ReadsMate1Alt    = "_qc_1.fq.gz"
	ReadsMate2Alt    = "_qc_2.fq.gz"

	FastaSuffix    = ".fasta"
	RepSeqSuffix   = "_rep_seq.fasta"
	AllSeqsSuffix  = "_all_seqs.fasta"
	IndexSuffix    = ".bwt"
	SAMSuffix      = ".sam"
	BAMSuffix      = ".bam"
	SortedSuffix   = "_sort.bam"
	FilteredSuffix = "_sort_filter.bam"
	CoverageSuffix = "_coverage.txt.gz"
	ProfileSuffix  = "_profile.txt.gz"
	CleanedSuffix  = "_existing_contigs_ab_per_sample.txt"

	MatrixFileName = "abundance_matrix.tsv"
)

// ErrUnknownStage is returned for a stage name that is not defined
var ErrUnknownStage = errors.New("unknown stage")

// Stage is one step of the pipeline: a discovery rule plus either a list of
// external command templates run in sequence for every unit, or an
// in-process task
type Stage struct {
	Name  string
	Short string
	// After names the stages whose outputs this stage consumes
	After []string

	discover func(cfg *Config, in []string, out string) (*Discovery, error)
	commands func(cfg *Config) []Template
	task     func(cfg *Config) Task
}

// Discover finds the work units of the stage, creating out if needed
func (s *Stage) Discover(cfg *Config, in []string, out string) (*Discovery, error) {
	if len(in) == 0 || in[0] == "" {
		return nil, errors.Errorf("%s: no input given", s.Name)
	}
	if out != "" {
		if err := os.MkdirAll(out, 0o755); err != nil {
			return nil, errors.Wrapf(err, "%s: creating output directory", s.Name)
		}
	}
	d, err := s.discover(cfg, in, out)
	if err != nil {
		return nil, err
	}
	d.Stage = s.Name
	return d, nil
}

// Task returns the per-unit task of the stage. Command stages run their
// templates one after another and stop at the first failure, removing the
// unit's output so a later run does not take it for finished
func (s *Stage) Task(cfg *Config, inv Invoker) Task {
	if s.task != nil {
		return s.task(cfg)
	}
	templates := s.commands(cfg)
	return func(ctx context.Context, unit *WorkUnit) StageResult {
		var (
			attempts int
			elapsed  time.Duration
		)
		for _, tmpl := range templates {
			res := inv.Invoke(ctx, tmpl, unit)
			attempts += res.Attempts
			elapsed += res.Elapsed
			if res.Status == Failed {
				removePartial(unit.Output)
				res.Message = tmpl.Name + ": " + res.Message
				res.Attempts = attempts
				return res
			}
		}
		return StageResult{UnitID: unit.ID, Status: Succeeded, Attempts: attempts, Elapsed: elapsed}
	}
}

// Run discovers and processes the units of the stage
func (s *Stage) Run(ctx context.Context, cfg *Config, inv Invoker, in []string, out string) (*BatchSummary, error) {
	d, err := s.Discover(cfg, in, out)
	if err != nil {
		return nil, err
	}
	logDiscovery(d)

	summary := cfg.Runner().Run(ctx, d, s.Task(cfg, inv))
	log.Infof("[%s] %s", s.Name, summary)
	return summary, nil
}

// lookupStage returns the stage called name
func lookupStage(name string) (*Stage, error) {
	for _, s := range stages {
		if s.Name == name {
			return s, nil
		}
	}
	return nil, errors.Wrapf(ErrUnknownStage, "%q", name)
}

// builder returns a UnitBuilder placing outputs in outDir as <id><suffix>
// and exposing the configuration to the templates. extra adds stage
// specific variables
func builder(cfg *Config, outDir, suffix string, extra func(id string) map[string]string) UnitBuilder {
	return func(id string, inputs []string) *WorkUnit {
		params := cfg.templateVars()
		if extra != nil {
			for k, v := range extra(id) {
				params[k] = v
			}
		}
		return &WorkUnit{
			ID:     id,
			Inputs: inputs,
			Output: filepath.Join(outDir, id+suffix),
			Params: params,
		}
	}
}

// singleDir is the common discovery of stages with one input per unit
func singleDir(suffix string, outSuffix string, exclude ...string) func(*Config, []string, string) (*Discovery, error) {
	return func(cfg *Config, in []string, out string) (*Discovery, error) {
		return DiscoverSingle("", SingleRule{
			Dir:     in[0],
			Suffix:  suffix,
			Exclude: exclude,
			Force:   cfg.Force,
			Build:   builder(cfg, out, outSuffix, nil),
		})
	}
}

var stages = []*Stage{
	{
		Name:  "cluster",
		Short: "Cluster contigs and keep representative sequences (mmseqs easy-cluster)",
		discover: func(cfg *Config, in []string, out string) (*Discovery, error) {
			return DiscoverSingle("cluster", SingleRule{
				Dir:     in[0],
				Suffix:  FastaSuffix,
				Exclude: []string{RepSeqSuffix, AllSeqsSuffix},
				Force:   cfg.Force,
				Build: builder(cfg, out, RepSeqSuffix, func(id string) map[string]string {
					return map[string]string{
						"prefix": filepath.Join(out, id),
						"tmp":    filepath.Join(out, "tmp_"+id),
					}
				}),
			})
		},
		commands: func(cfg *Config) []Template {
			return []Template{{
				Name: "mmseqs easy-cluster",
				Args: []string{"{mmseqs}", "easy-cluster", "{in}", "{prefix}", "{tmp}",
					"--min-seq-id", "{min_seq_id}", "-c", "{cov}", "--cov-mode", "{cov_mode}", "--threads", "{threads}"},
			}}
		},
	},
	{
		Name:     "index",
		Short:    "Build the BWA index of the reference contigs",
		discover: discoverIndex,
		commands: func(cfg *Config) []Template {
			return []Template{{Name: "bwa index", Args: []string{"{bwa}", "index", "{in}"}}}
		},
	},
	{
		Name:  "align",
		Short: "Align paired quality-controlled reads to the reference (bwa mem)",
		After: []string{"index"},
		discover: func(cfg *Config, in []string, out string) (*Discovery, error) {
			if cfg.Reference == "" {
				return nil, errors.New("align: no reference given (--ref)")
			}
			mate2 := in[0]
			if len(in) > 1 {
				mate2 = in[1]
			}
			return DiscoverPairs("align", PairRule{
				Mates: [2]Mate{
					{Dir: in[0], Suffixes: []string{ReadsMate1Suffix, ReadsMate1Alt}},
					{Dir: mate2, Suffixes: []string{ReadsMate2Suffix, ReadsMate2Alt}},
				},
				Force: cfg.Force,
				Build: builder(cfg, out, SAMSuffix, nil),
			})
		},
		commands: func(cfg *Config) []Template {
			return []Template{{
				Name:   "bwa mem",
				Args:   []string{"{bwa}", "mem", "-M", "-t", "{threads}", "{ref}", "{in1}", "{in2}"},
				Stdout: true,
			}}
		},
	},
	{
		Name:     "sam2bam",
		Short:    "Convert SAM alignments to BAM (samtools view)",
		After:    []string{"align"},
		discover: singleDir(SAMSuffix, BAMSuffix),
		commands: func(cfg *Config) []Template {
			return []Template{{
				Name: "samtools view",
				Args: []string{"{samtools}", "view", "-@", "{threads}", "-Sb", "-o", "{out}", "{in}"},
			}}
		},
	},
	{
		Name:  "sort",
		Short: "Sort BAM files, by read name unless --by-coordinate (samtools sort)",
		After: []string{"sam2bam"},
		discover: func(cfg *Config, in []string, out string) (*Discovery, error) {
			return DiscoverSingle("sort", SingleRule{
				Dir:     in[0],
				Suffix:  BAMSuffix,
				Exclude: []string{SortedSuffix, FilteredSuffix, "_filter.bam"},
				Force:   cfg.Force,
				Build:   builder(cfg, out, SortedSuffix, nil),
			})
		},
		commands: sortCommands,
	},
	{
		Name:     "filter",
		Short:    "Keep best hits passing length, identity and coverage cutoffs (msamtools filter)",
		After:    []string{"sort"},
		discover: singleDir(SortedSuffix, FilteredSuffix),
		commands: func(cfg *Config) []Template {
			return []Template{{
				Name: "msamtools filter",
				Args: []string{"{msamtools}", "filter", "-b", "-l", "{min_length}", "-p", "{min_identity}",
					"-z", "{min_coverage}", "--besthit", "{in}"},
				Stdout: true,
			}}
		},
	},
	{
		Name:     "coverage",
		Short:    "Summarise the covered fraction of every contig (msamtools coverage)",
		After:    []string{"filter"},
		discover: singleDir(FilteredSuffix, CoverageSuffix),
		commands: func(cfg *Config) []Template {
			return []Template{{
				Name: "msamtools coverage",
				Args: []string{"{msamtools}", "coverage", "-z", "--summary", "-o", "{out}", "{in}"},
			}}
		},
	},
	{
		Name:     "profile",
		Short:    "Estimate contig abundances in FPKM (msamtools profile)",
		After:    []string{"filter"},
		discover: singleDir(FilteredSuffix, ProfileSuffix),
		commands: func(cfg *Config) []Template {
			return []Template{{
				Name: "msamtools profile",
				Args: []string{"{msamtools}", "profile", "--multi=all", "--unit=fpkm", "--label={id}",
					"-z", "-o", "{out}", "{in}"},
			}}
		},
	},
	{
		Name:     "abundance",
		Short:    "Zero the abundance of contigs at or below the coverage threshold",
		After:    []string{"coverage", "profile"},
		discover: discoverAbundance,
		task: func(cfg *Config) Task {
			f := &ThresholdFilter{Threshold: cfg.Threshold, HeaderLines: cfg.HeaderLines}
			return f.Task()
		},
	},
}

func sortCommands(cfg *Config) []Template {
	if cfg.SortByName {
		return []Template{{
			Name: "samtools sort",
			Args: []string{"{samtools}", "sort", "-n", "-@", "{threads}", "-o", "{out}", "{in}"},
		}}
	}
	return []Template{
		{
			Name: "samtools sort",
			Args: []string{"{samtools}", "sort", "-@", "{threads}", "-o", "{out}", "{in}"},
		},
		{
			Name:   "samtools index",
			Args:   []string{"{samtools}", "index", "{out}"},
			Expect: "{out}.bai",
		},
	}
}

// discoverIndex accepts either a reference file or a directory of
// representative sequences; the index is written next to each of them
func discoverIndex(cfg *Config, in []string, out string) (*Discovery, error) {
	build := func(id string, inputs []string) *WorkUnit {
		return &WorkUnit{ID: id, Inputs: inputs, Output: inputs[0] + IndexSuffix, Params: cfg.templateVars()}
	}

	fi, err := os.Stat(in[0])
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "index")
	}
	if err == nil && fi.IsDir() {
		return DiscoverSingle("index", SingleRule{
			Dir:    in[0],
			Suffix: RepSeqSuffix,
			Force:  cfg.Force,
			Build: func(id string, inputs []string) *WorkUnit {
				return build(id+RepSeqSuffix, inputs)
			},
		})
	}

	d := &Discovery{Stage: "index"}
	if err != nil {
		d.warnf("reference %s does not exist", in[0])
		return d, nil
	}
	d.add(build(filepath.Base(in[0]), in[:1]), cfg.Force)
	return d, nil
}

// discoverAbundance pairs coverage summaries with profiles by sample.
// in holds the coverage directory and, optionally, a separate profile
// directory
func discoverAbundance(cfg *Config, in []string, out string) (*Discovery, error) {
	profDir := in[0]
	if len(in) > 1 && in[1] != "" {
		profDir = in[1]
	}
	return DiscoverPairs("abundance", PairRule{
		Mates: [2]Mate{
			{Dir: in[0], Suffixes: []string{CoverageSuffix, strings.TrimSuffix(CoverageSuffix, ".gz")}},
			{Dir: profDir, Suffixes: []string{ProfileSuffix, strings.TrimSuffix(ProfileSuffix, ".gz")}},
		},
		Force: cfg.Force,
		Build: func(id string, inputs []string) *WorkUnit {
			return &WorkUnit{ID: id, Inputs: inputs, Output: filepath.Join(out, id+CleanedSuffix)}
		},
	})
}

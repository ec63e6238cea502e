// Whole-pipeline orchestration: stages in dependency order, each run to
// completion before the next starts

package main

import (
	"context"
	"path/filepath"

	"github.com/dominikbraun/graph"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// mergeStep is the final, in-process step of a pipeline run
const mergeStep = "merge"

// Output sub-directories of a pipeline run, per step
var stepDirs = map[string]string{
	"align":     "sam",
	"sam2bam":   "bam",
	"sort":      "sorted",
	"filter":    "filtered",
	"coverage":  "coverage",
	"profile":   "profile",
	"abundance": "abundance",
}

// pipelineSteps lists the steps of a run; ties in the dependency order are
// broken by position in this list
var pipelineSteps = []string{"index", "align", "sam2bam", "sort", "filter", "coverage", "profile", "abundance", mergeStep}

// stepGraph builds the dependency graph of the pipeline steps
func stepGraph() (graph.Graph[string, string], error) {
	g := graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles())
	for _, name := range pipelineSteps {
		if err := g.AddVertex(name); err != nil {
			return nil, errors.Wrapf(err, "adding step %s", name)
		}
	}
	for _, name := range pipelineSteps {
		var after []string
		if name == mergeStep {
			after = []string{"abundance"}
		} else {
			s, err := lookupStage(name)
			if err != nil {
				return nil, err
			}
			after = s.After
		}
		for _, dep := range after {
			if err := g.AddEdge(dep, name); err != nil {
				return nil, errors.Wrapf(err, "adding dependency %s -> %s", dep, name)
			}
		}
	}
	return g, nil
}

// stageOrder returns the steps from..to (inclusive, empty for the first and
// last step) in dependency order
func stageOrder(from, to string) ([]string, error) {
	g, err := stepGraph()
	if err != nil {
		return nil, err
	}
	position := make(map[string]int, len(pipelineSteps))
	for i, name := range pipelineSteps {
		position[name] = i
	}
	order, err := graph.StableTopologicalSort(g, func(a, b string) bool {
		return position[a] < position[b]
	})
	if err != nil {
		return nil, errors.Wrap(err, "ordering steps")
	}

	first, last := 0, len(order)-1
	for i, name := range order {
		if name == from {
			first = i
		}
		if name == to {
			last = i
		}
	}
	if from != "" && order[first] != from {
		return nil, errors.Wrapf(ErrUnknownStage, "--from %q", from)
	}
	if to != "" && order[last] != to {
		return nil, errors.Wrapf(ErrUnknownStage, "--to %q", to)
	}
	if first > last {
		return nil, errors.Errorf("--from %s comes after --to %s", from, to)
	}
	return order[first : last+1], nil
}

// Pipeline runs the stages from paired reads to the abundance matrix.
// Every step reads the directory written by the step before it
type Pipeline struct {
	RunID   string
	Config  *Config
	Invoker Invoker
	// Reads is the directory of quality-controlled read pairs
	Reads string
	// Root receives one sub-directory per step and the matrix
	Root string
}

// NewPipeline returns a pipeline with a fresh run id
func NewPipeline(cfg *Config, reads, root string) *Pipeline {
	return &Pipeline{
		RunID:   uuid.New().String(),
		Config:  cfg,
		Invoker: newInvoker(cfg),
		Reads:   reads,
		Root:    root,
	}
}

// Dir returns the output directory of a step
func (p *Pipeline) Dir(step string) string {
	return filepath.Join(p.Root, stepDirs[step])
}

// MatrixPath is where the merged matrix is written
func (p *Pipeline) MatrixPath() string {
	return filepath.Join(p.Root, MatrixFileName)
}

// inputs returns the input locations of a step
func (p *Pipeline) inputs(step string) []string {
	switch step {
	case "index":
		return []string{p.Config.Reference}
	case "align":
		return []string{p.Reads}
	case "sam2bam":
		return []string{p.Dir("align")}
	case "sort":
		return []string{p.Dir("sam2bam")}
	case "filter":
		return []string{p.Dir("sort")}
	case "coverage", "profile":
		return []string{p.Dir("filter")}
	case "abundance":
		return []string{p.Dir("coverage"), p.Dir("profile")}
	}
	return nil
}

// PipelineResult gathers the summaries of all steps that ran
type PipelineResult struct {
	RunID      string
	Summaries  []*BatchSummary
	Merge      *MergeResult
	MatrixPath string
}

// OK reports whether every unit of every step succeeded or was skipped and
// no sample was left out of the matrix
func (r *PipelineResult) OK() bool {
	for _, s := range r.Summaries {
		if !s.OK() {
			return false
		}
	}
	if r.Merge != nil && r.Merge.Report != nil && len(r.Merge.Report.Excluded) > 0 {
		return false
	}
	return true
}

// Run executes the steps from..to. Failed units do not stop the run, their
// downstream files are simply missing; with strict set the run stops after
// the first step that had a failure
func (p *Pipeline) Run(ctx context.Context, from, to string) (*PipelineResult, error) {
	order, err := stageOrder(from, to)
	if err != nil {
		return nil, err
	}
	res := &PipelineResult{RunID: p.RunID, MatrixPath: p.MatrixPath()}
	log.Infof("run %s: %d step(s): %v", p.RunID, len(order), order)

	for _, step := range order {
		if err = ctx.Err(); err != nil {
			return res, errors.Wrapf(err, "run %s interrupted before %s", p.RunID, step)
		}

		if step == mergeStep {
			res.Merge, err = RunMerge(p.Config, p.Dir("abundance"), p.MatrixPath())
			if err != nil {
				return res, err
			}
			continue
		}

		s, err := lookupStage(step)
		if err != nil {
			return res, err
		}
		summary, err := s.Run(ctx, p.Config, p.Invoker, p.inputs(step), p.Dir(step))
		if err != nil {
			return res, errors.Wrapf(err, "run %s", p.RunID)
		}
		res.Summaries = append(res.Summaries, summary)
		if !summary.OK() && p.Config.Strict {
			return res, errors.Errorf("run %s: %d unit(s) of %s failed", p.RunID, summary.Failed, step)
		}
	}
	return res, nil
}

// RunMerge assembles the cleaned abundance files of dir into the matrix at
// out
func RunMerge(cfg *Config, dir, out string) (*MergeResult, error) {
	files, warnings, err := SampleFiles(dir, CleanedSuffix)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		log.Warningf("[%s] %s", mergeStep, w)
	}
	return MergeSamples(files, out, cfg.Force)
}

// Subcommand (`contigab run`) chaining all stages from read pairs to the
// abundance matrix

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// RunCommand creates the `run` subcommand.
//
// Every stage writes into its own sub-directory of the output directory and
// the next stage reads from there, so an interrupted run can be resumed:
// units whose output exists are skipped, and --from/--to restrict the run to
// a part of the chain
func RunCommand() *cobra.Command {
	var (
		readsDir string
		outDir   string
		from     string
		to       string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the whole pipeline, from read pairs to the abundance matrix",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if readsDir == "" && (from == "" || from == "index" || from == "align") {
				return fmt.Errorf("--reads is required when the run includes the align step")
			}

			p := NewPipeline(cfg, readsDir, outDir)
			res, err := p.Run(cmd.Context(), from, to)
			if res != nil {
				printRunResult(res)
			}
			if err != nil {
				return err
			}
			if cfg.Strict && !res.OK() {
				return fmt.Errorf("run %s finished with failures", res.RunID)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&readsDir, "reads", "", "Directory of quality-controlled read pairs (*_qc_1.fastq.gz, *_qc_2.fastq.gz)")
	flags.StringVarP(&outDir, "out", "o", "", "Output directory (required)")
	flags.StringVar(&from, "from", "", "First step to run")
	flags.StringVar(&to, "to", "", "Last step to run")
	for _, stage := range []string{"align", "sort", "filter", "abundance"} {
		addStageFlags(flags, stage)
	}
	cmd.MarkFlagRequired("out")

	return cmd
}

func printRunResult(res *PipelineResult) {
	fmt.Fprintf(os.Stderr, "%s %s\n", bold("Run"), cyan(res.RunID))
	for _, s := range res.Summaries {
		printSummary(os.Stderr, s)
	}
	if res.Merge != nil {
		printAssembly(res.Merge)
	}
}

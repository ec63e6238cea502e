// Subcommands running a single pipeline stage (`contigab sort`, `contigab profile`, ...)
// over every unit found in the input directory

package main

import (
	"os"

	"github.com/spf13/cobra"
)

// StageCommand creates the subcommand of one stage.
//
// Input and output are directories, except for `index`, whose input is the
// reference FASTA file (or a directory of representative sequences) and
// whose index files are written next to it. Stages with two inputs (`align`
// with mates in separate directories, `abundance` with coverage summaries
// and profiles in separate directories) take the second one with --in2
func StageCommand(s *Stage) *cobra.Command {
	var (
		inDir  string
		in2Dir string
		outDir string
	)

	cmd := &cobra.Command{
		Use:   s.Name,
		Short: s.Short,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runStage(cmd, cfg, s, inDir, in2Dir, outDir)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&inDir, "in", "i", "", "Input directory (required)")
	flags.StringVarP(&outDir, "out", "o", "", "Output directory (default: input directory)")
	switch s.Name {
	case "align":
		flags.StringVar(&in2Dir, "in2", "", "Directory of the second mates (default: input directory)")
	case "abundance":
		flags.StringVar(&in2Dir, "in2", "", "Directory of the profiles (default: input directory)")
	}
	addStageFlags(flags, s.Name)
	cmd.MarkFlagRequired("in")

	return cmd
}

// runStage runs one stage and prints its summary. Failed units make the
// command fail only in strict mode
func runStage(cmd *cobra.Command, cfg *Config, s *Stage, inDir, in2Dir, outDir string) error {
	if outDir == "" {
		outDir = inDir
	}
	in := []string{inDir}
	if in2Dir != "" {
		in = append(in, in2Dir)
	}
	if s.Name == "index" {
		outDir = ""
	}

	summary, err := s.Run(cmd.Context(), cfg, newInvoker(cfg), in, outDir)
	if err != nil {
		return err
	}
	printSummary(os.Stderr, summary)
	return checkStrict(cfg, summary)
}

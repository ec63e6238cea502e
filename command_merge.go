// Subcommand (`contigab merge`) assembling cleaned per-sample abundances
// into one matrix

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// MergeCommand creates the `merge` subcommand. Sample files are either all
// *_existing_contigs_ab_per_sample.txt files of the input directory or the
// files given as arguments; columns follow that (natural or argument) order
func MergeCommand() *cobra.Command {
	var (
		inDir   string
		outFile string
		suffix  string
	)

	cmd := &cobra.Command{
		Use:   "merge [flags] [sample files...]",
		Short: "Merge cleaned per-sample abundances into a contig x sample matrix",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			var files []SampleFile
			switch {
			case len(args) > 0:
				files, err = SampleFilesFromPaths(args, suffix)
			case inDir != "":
				var warnings []string
				files, warnings, err = SampleFiles(inDir, suffix)
				for _, w := range warnings {
					log.Warningf("[merge] %s", w)
				}
			default:
				return fmt.Errorf("either --in or sample files are required")
			}
			if err != nil {
				return err
			}

			res, err := MergeSamples(files, outFile, cfg.Force)
			if res != nil {
				printAssembly(res)
			}
			if err != nil {
				return err
			}
			if cfg.Strict && res.Report != nil && len(res.Report.Excluded) > 0 {
				return fmt.Errorf("%d sample file(s) could not be merged", len(res.Report.Excluded))
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&inDir, "in", "i", "", "Directory of cleaned abundance files")
	flags.StringVarP(&outFile, "out", "o", MatrixFileName, "Output matrix (.gz for compressed output)")
	flags.StringVar(&suffix, "suffix", CleanedSuffix, "File name suffix following the sample name")

	return cmd
}

// printAssembly reports the outcome of a merge, excluded samples one per line
func printAssembly(res *MergeResult) {
	if res.Skipped {
		fmt.Fprintf(os.Stderr, "%s %s exists, not overwritten\n", bold("merge:"), res.Path)
		return
	}
	r := res.Report
	if r == nil {
		return
	}
	line := fmt.Sprintf("%s %s", bold("merge:"), r.Summary())
	if len(r.Excluded) == 0 {
		fmt.Fprintln(os.Stderr, green(line))
		return
	}
	fmt.Fprintln(os.Stderr, red(line))
	for _, ex := range r.Excluded {
		fmt.Fprintf(os.Stderr, "  %s %v\n", yellow(ex.Sample), ex.Err)
	}
}

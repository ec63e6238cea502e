package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Custom help function used
// It provides nicely formatted help messages for the root command and other subcommands
func helpFunc(cmd *cobra.Command, args []string) {

	// Specialized help for subcommands
	switch cmd.Name() {
	case "abundance":
		fmt.Printf(`
%s

%s
  Join the coverage summary and the abundance profile of every sample.
  Contigs covered over a fraction strictly greater than the threshold keep
  their abundance, all other contigs of the profile are written with 0.

%s
%s
%s
  %s
  %s

`,
			bold(getColorizedLogo()+" contigab abundance - Coverage-thresholded abundance per sample"),
			bold(yellow("Description:")),
			bold(yellow("Flags:")),
			flagLines(cmd),
			bold(yellow("Examples:")),
			cyan("contigab abundance -i coverage/ --in2 profile/ -o abundance/ --threshold 0.55"),
			cyan("contigab abundance -i results/ --header-lines 9   # older msamtools profiles"),
		)
		return
	case "run":
		fmt.Printf(`
%s

%s
  Align read pairs to the reference contigs and turn the alignments into a
  contig x sample abundance matrix. Steps, in order:
  %s

  Each step writes into its own sub-directory of the output directory.
  Units whose output exists are skipped, unless --force is given.

%s
%s
%s
  %s
  %s

`,
			bold(getColorizedLogo()+" contigab run - Whole pipeline"),
			bold(yellow("Description:")),
			cyan(strings.Join(pipelineSteps, " → ")),
			bold(yellow("Flags:")),
			flagLines(cmd),
			bold(yellow("Examples:")),
			cyan("contigab run --reads qc/ --ref contigs_rep_seq.fasta -o results/ -w 8 -t 4"),
			cyan("contigab run --reads qc/ --ref contigs_rep_seq.fasta -o results/ --from coverage"),
		)
		return
	}

	if cmd.HasParent() {
		fmt.Printf(`
%s

%s
%s
`,
			bold(getColorizedLogo()+" contigab "+cmd.Name()+" - "+cmd.Short),
			bold(yellow("Flags:")),
			flagLines(cmd),
		)
		return
	}

	// Default: root command help
	fmt.Printf(`
%s

%s
%s

%s
%s
%s
  %s
  %s
  %s
  %s

`,
		bold(getColorizedLogo()+" v."+VERSION+" - Contig abundance across metagenomic samples"),
		bold(yellow("Subcommands:")),
		subcommandLines(cmd),
		bold(yellow("Global flags:")),
		flagLines(cmd),
		bold(yellow("Usage examples:")),
		cyan("contigab run --reads qc/ --ref contigs_rep_seq.fasta -o results/"),
		cyan("contigab profile -i results/filtered -o results/profile -w 16"),
		cyan("contigab merge -i results/abundance -o abundance_matrix.tsv"),
		cyan("contigab group -i abundance_matrix.tsv -g groups.tsv -o group_matrix.tsv"),
	)
}

// flagLines formats the flags of a command, one per line
func flagLines(cmd *cobra.Command) string {
	var lines []string
	visit := func(f *pflag.Flag) {
		if f.Hidden {
			return
		}
		name := "    --" + f.Name
		if f.Shorthand != "" {
			name = "-" + f.Shorthand + ", --" + f.Name
		}
		typ := f.Value.Type()
		if typ == "bool" {
			typ = ""
		} else {
			typ = " <" + typ + ">"
		}
		usage := f.Usage
		if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "[]" {
			usage += fmt.Sprintf(" (default, %s)", f.DefValue)
		}
		lines = append(lines, fmt.Sprintf("  %s : %s", cyan(fmt.Sprintf("%-28s", name+typ)), usage))
	}
	if cmd.HasParent() {
		cmd.LocalFlags().VisitAll(visit)
	} else {
		cmd.PersistentFlags().VisitAll(visit)
	}
	return strings.Join(lines, "\n")
}

func subcommandLines(cmd *cobra.Command) string {
	var lines []string
	for _, c := range cmd.Commands() {
		if !c.IsAvailableCommand() {
			continue
		}
		lines = append(lines, fmt.Sprintf("  %s : %s", cyan(fmt.Sprintf("%-10s", c.Name())), c.Short))
	}
	return strings.Join(lines, "\n")
}

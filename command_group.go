// Subcommand (`contigab group`) averaging matrix columns per sample group

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// GroupCommand creates the `group` subcommand
func GroupCommand() *cobra.Command {
	var (
		inFile    string
		groupFile string
		outFile   string
	)

	cmd := &cobra.Command{
		Use:   "group",
		Short: "Average the abundance matrix over sample groups",
		Long: `Average the abundance matrix over sample groups. The mapping file has two
tab-separated columns, sample and group. Groups become the columns of the
output, in the order their first sample appears in the input matrix.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(cmd); err != nil {
				return err
			}
			return runGroup(inFile, groupFile, outFile)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&inFile, "in", "i", MatrixFileName, "Input abundance matrix")
	flags.StringVarP(&groupFile, "groups", "g", "", "Sample to group mapping file (required)")
	flags.StringVarP(&outFile, "out", "o", "", "Output matrix (required)")
	cmd.MarkFlagRequired("groups")
	cmd.MarkFlagRequired("out")

	return cmd
}

func runGroup(inFile, groupFile, outFile string) error {
	m, err := ReadMatrixFile(inFile)
	if err != nil {
		return err
	}
	groups, err := ReadGroups(groupFile)
	if err != nil {
		return err
	}

	grouped, unmapped, err := GroupMeans(m, groups)
	if err != nil {
		return err
	}
	if len(unmapped) > 0 {
		log.Warningf("[group] %d sample(s) without a group left out: %s", len(unmapped), strings.Join(unmapped, ", "))
	}
	if err = WriteMatrixFile(outFile, grouped); err != nil {
		return fmt.Errorf("error writing output file: %v", err)
	}
	log.Infof("[group] %d sample(s) averaged into %d group(s), written to %s", len(m.Samples)-len(unmapped), len(grouped.Samples), outFile)
	return nil
}

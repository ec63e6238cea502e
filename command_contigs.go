// Subcommand (`contigab contigs`) listing contig ids and lengths

package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	"github.com/shenwei356/bio/seq"
	"github.com/shenwei356/bio/seqio/fastx"
	"github.com/shenwei356/xopen"
	"github.com/spf13/cobra"
)

// ContigLength is the id and sequence length of one contig
type ContigLength struct {
	ID     string
	Length int
}

// ContigsCommand creates the `contigs` subcommand, which writes a
// contig_ID<TAB>length table for a FASTA file (plain or compressed)
func ContigsCommand() *cobra.Command {
	var (
		inFile  string
		outFile string
	)

	cmd := &cobra.Command{
		Use:   "contigs",
		Short: "Write the id and length of every contig of a FASTA file",
		RunE: func(cmd *cobra.Command, args []string) error {
			contigs, err := contigLengths(inFile)
			if err != nil {
				return err
			}
			outfh, err := xopen.Wopen(outFile)
			if err != nil {
				return fmt.Errorf("error creating output file: %v", err)
			}
			if err = writeContigLengths(outfh, contigs); err != nil {
				outfh.Close()
				return err
			}
			if err = outfh.Close(); err != nil {
				return fmt.Errorf("error closing output file: %v", err)
			}
			log.Infof("[contigs] %d contig(s) written to %s", len(contigs), outFile)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&inFile, "in", "i", "-", "Input FASTA file (default: stdin)")
	flags.StringVarP(&outFile, "out", "o", "-", "Output table (default: stdout)")

	return cmd
}

// contigLengths reads all records of a FASTA file
func contigLengths(inFile string) ([]ContigLength, error) {
	reader, err := fastx.NewReader(seq.DNAredundant, inFile, fastx.DefaultIDRegexp)
	if err != nil {
		return nil, fmt.Errorf("error creating reader: %v", err)
	}
	defer reader.Close()

	var contigs []ContigLength
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading record: %v", err)
		}
		contigs = append(contigs, ContigLength{ID: string(record.ID), Length: len(record.Seq.Seq)})
	}
	return contigs, nil
}

func writeContigLengths(w io.Writer, contigs []ContigLength) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(MatrixIDColumn + "\tlength\n")
	for _, c := range contigs {
		bw.WriteString(c.ID)
		bw.WriteByte('\t')
		bw.WriteString(strconv.Itoa(c.Length))
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

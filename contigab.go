package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const VERSION = "0.4.1"

// Define color functions
var (
	bold   = color.New(color.Bold).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
)

// exitFunc is replaced in tests
var exitFunc = os.Exit

// Options shared by all subcommands that are not part of Config
var (
	configPath string
	verbose    bool
	logPath    string
)

func getColorizedLogo() string {
	return cyan("⣿⣶⣦⣄⣀") + " " + bold("contigab")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, red(err.Error()))
		fmt.Fprintln(os.Stderr, red("Try 'contigab --help' for more information"))
		stop()
		exitFunc(1)
	}
}

// NewRootCommand assembles the command tree
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "contigab",
		Short:         bold("Contig abundance across metagenomic samples"),
		Version:       VERSION,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(os.Stderr, verbose, logPath)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			closeLogging()
		},
		Run: func(cmd *cobra.Command, args []string) {
			helpFunc(cmd, args)
		},
	}
	rootCmd.SetHelpFunc(helpFunc)

	pflags := rootCmd.PersistentFlags()
	pflags.StringVar(&configPath, "config", "", "YAML configuration file")
	pflags.IntP("workers", "w", DefaultWorkers, "Number of units processed concurrently")
	pflags.IntP("threads", "t", 8, "Threads given to each tool invocation")
	pflags.Duration("timeout", 0, "Time limit of a single tool invocation (0 = none)")
	pflags.Int("retries", 0, "Extra attempts for a failed tool invocation")
	pflags.Duration("retry-backoff", 5*time.Second, "Delay before the first retry, doubled for each further one")
	pflags.Bool("force", false, "Process units whose output already exists")
	pflags.Bool("strict", false, "Exit with an error if any unit fails")
	pflags.Bool("progress", false, "Show a progress bar")
	pflags.Bool("check-bam", false, "Verify the header of every BAM file a tool writes")
	pflags.String("samtools", "samtools", "samtools executable")
	pflags.String("msamtools", "msamtools", "msamtools executable")
	pflags.String("bwa", "bwa", "bwa executable")
	pflags.String("mmseqs", "mmseqs", "mmseqs executable")
	pflags.BoolVarP(&verbose, "verbose", "v", false, "Log every tool invocation")
	pflags.StringVar(&logPath, "log-file", "", "Also append log messages to this file")

	for _, s := range stages {
		rootCmd.AddCommand(StageCommand(s))
	}
	rootCmd.AddCommand(
		RunCommand(),
		MergeCommand(),
		GroupCommand(),
		ContigsCommand(),
	)
	return rootCmd
}

// addStageFlags registers the flags of the parameters a stage uses
func addStageFlags(flags *pflag.FlagSet, stage string) {
	switch stage {
	case "cluster":
		flags.Float64("min-seq-id", 0.9, "Minimum sequence identity of cluster members")
		flags.Float64("cluster-coverage", 0.95, "Minimum alignment coverage of cluster members")
		flags.Int("cov-mode", 0, "mmseqs coverage mode")
	case "align":
		flags.StringP("ref", "r", "", "Indexed reference contigs (FASTA)")
	case "sort":
		flags.Bool("by-coordinate", false, "Sort by coordinate and index, instead of by read name")
	case "filter":
		flags.Int("min-length", 80, "Minimum aligned length")
		flags.Int("min-identity", 90, "Minimum percent identity")
		flags.Int("min-coverage", 80, "Minimum percent of the read covered by the alignment")
	case "abundance":
		flags.Float64P("threshold", "T", DefaultThreshold, "Minimum covered fraction; contigs at or below it get 0")
		flags.Int("header-lines", DefaultHeaderLines, "Header lines of a profile (9 for older msamtools)")
	}
}

// loadConfig builds the configuration of the running command
func loadConfig(cmd *cobra.Command) (*Config, error) {
	return LoadConfig(configPath, cmd.Flags())
}

// printSummary reports the outcome of a stage, failed units first line
// of their diagnostic each
func printSummary(w io.Writer, s *BatchSummary) {
	line := fmt.Sprintf("%s %s", bold(s.Stage+":"), strings.TrimPrefix(s.String(), s.Stage+": "))
	if s.OK() {
		fmt.Fprintln(w, green(line))
		return
	}
	fmt.Fprintln(w, red(line))
	for _, r := range s.FailedUnits() {
		msg := r.Message
		if i := strings.IndexByte(msg, '\n'); i >= 0 {
			msg = msg[:i]
		}
		fmt.Fprintf(w, "  %s %s\n", yellow(r.UnitID), msg)
	}
}

// checkStrict turns failed units into a command error when strict is set
func checkStrict(cfg *Config, s *BatchSummary) error {
	if cfg.Strict && !s.OK() {
		return fmt.Errorf("%d of %d unit(s) of %s failed", s.Failed, s.Total, s.Stage)
	}
	return nil
}

// Logging setup shared by all subcommands

package main

import (
	"fmt"
	"io"
	"os"

	logging "github.com/op/go-logging"
)

var log = logging.MustGetLogger("contigab")

var logFormat = logging.MustStringFormatter(
	`%{time:2006-01-02 15:04:05.000} [%{level:.4s}] %{message}`,
)

// logFile is the optional per-run log file opened by setupLogging
var logFile *os.File

// setupLogging routes log records to stderr and, when path is not empty, also
// appends them to a log file. With verbose set, debug records (one per
// invoked command and finished work unit) are emitted as well
func setupLogging(stderr io.Writer, verbose bool, path string) error {
	// post-run hooks are skipped when a command fails
	closeLogging()

	backends := []logging.Backend{
		logging.NewBackendFormatter(logging.NewLogBackend(stderr, "", 0), logFormat),
	}

	if path != "" {
		fh, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("error opening log file: %v", err)
		}
		logFile = fh
		backends = append(backends, logging.NewBackendFormatter(logging.NewLogBackend(fh, "", 0), logFormat))
	}

	leveled := logging.SetBackend(backends...)
	if verbose {
		leveled.SetLevel(logging.DEBUG, "")
	} else {
		leveled.SetLevel(logging.INFO, "")
	}
	return nil
}

func closeLogging() {
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

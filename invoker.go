// External tool invocation: one process per template and work unit

package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/biogo/hts/bam"
	"github.com/pkg/errors"
)

// Status classifies the outcome of a work unit
type Status int

const (
	Succeeded Status = iota
	Failed
	Skipped
)

func (s Status) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// StageResult is the outcome of one work unit. Message carries the
// diagnostic output of a failure or the reason of a skip
type StageResult struct {
	UnitID   string
	Status   Status
	Message  string
	Attempts int
	Elapsed  time.Duration
}

func failure(id string, format string, args ...interface{}) StageResult {
	return StageResult{UnitID: id, Status: Failed, Message: fmt.Sprintf(format, args...), Attempts: 1}
}

// Invoker runs one external command for one work unit
type Invoker interface {
	Invoke(ctx context.Context, tmpl Template, unit *WorkUnit) StageResult
}

// DefaultMaxDiagnostic is how many trailing bytes of a tool's stderr are kept
const DefaultMaxDiagnostic = 4096

const waitDelay = 2 * time.Second

// ExecInvoker runs templates as local subprocesses and waits for them.
// A unit succeeds when the process exits with status 0 and the expected
// output exists and is not empty
type ExecInvoker struct {
	// Timeout bounds a single invocation; zero means no limit
	Timeout time.Duration
	// CheckBAM additionally opens .bam outputs and reads their header
	CheckBAM bool
	// MaxDiagnostic bounds the captured stderr (DefaultMaxDiagnostic if zero)
	MaxDiagnostic int
}

// Invoke implements Invoker
func (e *ExecInvoker) Invoke(ctx context.Context, tmpl Template, unit *WorkUnit) StageResult {
	vars := unit.Vars()
	args, err := tmpl.Expand(vars)
	if err != nil {
		return failure(unit.ID, "%v", err)
	}
	expect, err := tmpl.ExpectedOutput(vars)
	if err != nil {
		return failure(unit.ID, "%v", err)
	}

	parent := ctx
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	limit := e.MaxDiagnostic
	if limit <= 0 {
		limit = DefaultMaxDiagnostic
	}
	stderr := &tailBuffer{max: limit}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stderr = stderr
	// children of a killed tool may keep the stderr pipe open
	cmd.WaitDelay = waitDelay

	var outfh *os.File
	if tmpl.Stdout {
		outfh, err = os.Create(unit.Output)
		if err != nil {
			return failure(unit.ID, "error creating output file: %v", err)
		}
		cmd.Stdout = outfh
	}

	log.Debugf("%s: %s", unit.ID, strings.Join(args, " "))
	err = cmd.Run()
	if outfh != nil {
		if cerr := outfh.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}

	if err != nil {
		removePartial(expect)
		if tmpl.Stdout {
			removePartial(unit.Output)
		}
		switch {
		case parent.Err() != nil:
			return failure(unit.ID, "%s: %v%s", args[0], parent.Err(), stderr.suffix())
		case e.Timeout > 0 && ctx.Err() == context.DeadlineExceeded:
			return failure(unit.ID, "%s timed out after %s%s", args[0], e.Timeout, stderr.suffix())
		}
		return failure(unit.ID, "%s: %v%s", args[0], err, stderr.suffix())
	}

	if err = checkOutput(expect); err != nil {
		return failure(unit.ID, "%v%s", err, stderr.suffix())
	}
	if e.CheckBAM && strings.HasSuffix(expect, ".bam") {
		if err = checkBAM(expect); err != nil {
			removePartial(expect)
			return failure(unit.ID, "%v", err)
		}
	}

	return StageResult{UnitID: unit.ID, Status: Succeeded, Attempts: 1}
}

// checkOutput verifies that a tool left a non-empty file behind
func checkOutput(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.Errorf("missing expected output %s", path)
		}
		return errors.Wrap(err, "checking output")
	}
	if fi.IsDir() {
		return errors.Errorf("expected output %s is a directory", path)
	}
	if fi.Size() == 0 {
		return errors.Errorf("expected output %s is empty", path)
	}
	return nil
}

// checkBAM opens a BAM file and parses its header
func checkBAM(path string) error {
	fh, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "checking BAM")
	}
	defer fh.Close()

	br, err := bam.NewReader(fh, 1)
	if err != nil {
		return errors.Wrapf(err, "invalid BAM %s", path)
	}
	return br.Close()
}

func removePartial(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err == nil {
		log.Debugf("removed partial output %s", path)
	}
}

// tailBuffer keeps the last max bytes written to it
type tailBuffer struct {
	buf []byte
	max int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	return strings.TrimSpace(string(b.buf))
}

// suffix formats the captured output for appending to an error message
func (b *tailBuffer) suffix() string {
	s := b.String()
	if s == "" {
		return ""
	}
	return "\n" + s
}

// RetryInvoker re-runs failed invocations with exponential backoff.
// It is layered on top of another invoker and never used unless configured
type RetryInvoker struct {
	Invoker Invoker
	Retries int
	Backoff time.Duration
}

// Invoke implements Invoker
func (r *RetryInvoker) Invoke(ctx context.Context, tmpl Template, unit *WorkUnit) StageResult {
	delay := r.Backoff
	for attempt := 1; ; attempt++ {
		res := r.Invoker.Invoke(ctx, tmpl, unit)
		res.Attempts = attempt
		if res.Status != Failed || attempt > r.Retries {
			return res
		}
		log.Warningf("%s: attempt %d of %d failed, retrying in %s", unit.ID, attempt, r.Retries+1, delay)
		select {
		case <-ctx.Done():
			return res
		case <-time.After(delay):
		}
		delay *= 2
	}
}

// newInvoker builds the invoker configured by cfg
func newInvoker(cfg *Config) Invoker {
	var inv Invoker = &ExecInvoker{Timeout: cfg.Timeout, CheckBAM: cfg.CheckBAM}
	if cfg.Retries > 0 {
		inv = &RetryInvoker{Invoker: inv, Retries: cfg.Retries, Backoff: cfg.RetryBackoff}
	}
	return inv
}

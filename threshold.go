// Coverage-threshold filter: zero the abundance of contigs that are not
// covered well enough in a sample

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/shenwei356/xopen"
)

// ParseError reports a malformed row of a coverage or profile file
type ParseError struct {
	File   string
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.File, e.Reason)
}

// CoverageRecord maps contig ids to the fraction of the contig covered by
// reads in one sample
type CoverageRecord map[string]float64

// ContigValue is one row of a two-column contig table
type ContigValue struct {
	ID    string
	Value float64
}

// AbundanceRecord is the ordered list of contig abundances of one sample
type AbundanceRecord []ContigValue

// twoColumns iterates over the non-blank lines of r after skipping skip
// header lines, handing each to fn as an id and a parsed value
func twoColumns(r io.Reader, name string, skip int, fn func(line int, id string, value float64) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	line := 0
	for ; line < skip; line++ {
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return errors.Wrapf(err, "reading %s", name)
			}
			return &ParseError{File: name, Line: line, Reason: fmt.Sprintf("truncated header: expected %d lines, found %d", skip, line)}
		}
	}

	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 2 {
			return &ParseError{File: name, Line: line, Reason: fmt.Sprintf("expected 2 fields, found %d", len(fields))}
		}
		value, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return &ParseError{File: name, Line: line, Reason: fmt.Sprintf("invalid number %q", fields[1])}
		}
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return &ParseError{File: name, Line: line, Reason: fmt.Sprintf("non-finite value %q", fields[1])}
		}
		if err = fn(line, fields[0], value); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "reading %s", name)
	}
	return nil
}

// ReadCoverage parses a coverage summary: one "contig fraction" row per
// contig, fractions in [0, 1], no header
func ReadCoverage(r io.Reader, name string) (CoverageRecord, error) {
	cov := make(CoverageRecord)
	err := twoColumns(r, name, 0, func(line int, id string, value float64) error {
		if value < 0 || value > 1 {
			return &ParseError{File: name, Line: line, Reason: fmt.Sprintf("coverage %v of %s outside [0, 1]", value, id)}
		}
		if _, ok := cov[id]; ok {
			return &ParseError{File: name, Line: line, Reason: fmt.Sprintf("duplicate contig %s", id)}
		}
		cov[id] = value
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cov, nil
}

// ReadProfile parses an abundance profile, skipping its headerLines header
// lines first. Row order is kept
func ReadProfile(r io.Reader, name string, headerLines int) (AbundanceRecord, error) {
	var ab AbundanceRecord
	seen := make(map[string]struct{})
	err := twoColumns(r, name, headerLines, func(line int, id string, value float64) error {
		if value < 0 {
			return &ParseError{File: name, Line: line, Reason: fmt.Sprintf("negative abundance %v of %s", value, id)}
		}
		if _, ok := seen[id]; ok {
			return &ParseError{File: name, Line: line, Reason: fmt.Sprintf("duplicate contig %s", id)}
		}
		seen[id] = struct{}{}
		ab = append(ab, ContigValue{ID: id, Value: value})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ab, nil
}

// FilterAbundance keeps the abundance of contigs whose coverage is strictly
// greater than threshold and sets every other contig to 0. Contigs missing
// from the coverage record count as uncovered. The result has the rows of ab
// in the same order
func FilterAbundance(cov CoverageRecord, ab AbundanceRecord, threshold float64) AbundanceRecord {
	out := make(AbundanceRecord, len(ab))
	for i, cv := range ab {
		out[i] = ContigValue{ID: cv.ID}
		if c, ok := cov[cv.ID]; ok && c > threshold {
			out[i].Value = cv.Value
		}
	}
	return out
}

// formatValue writes the shortest decimal that parses back to v
func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// WriteAbundance writes one "contig<TAB>value" row per contig, no header
func WriteAbundance(w io.Writer, ab AbundanceRecord) error {
	bw := bufio.NewWriter(w)
	for _, cv := range ab {
		bw.WriteString(cv.ID)
		bw.WriteByte('\t')
		bw.WriteString(formatValue(cv.Value))
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// readRecordFile opens a plain or compressed file and hands it to parse
func readRecordFile(path string, parse func(io.Reader) error) error {
	fh, err := xopen.Ropen(path)
	if err != nil {
		return errors.Wrapf(err, "opening %s", path)
	}
	defer fh.Close()
	return parse(fh)
}

// ThresholdFilter is the in-process abundance stage: for every sample it
// joins the coverage summary and the profile and writes the cleaned profile
type ThresholdFilter struct {
	Threshold   float64
	HeaderLines int
}

// Process filters one unit. Inputs are the coverage file and the profile
// file, in this order. The output is written through a temporary file so a
// failed sample never leaves a partial result behind
func (f *ThresholdFilter) Process(unit *WorkUnit) error {
	if len(unit.Inputs) != 2 {
		return errors.Errorf("%s: expected coverage and profile inputs, got %d file(s)", unit.ID, len(unit.Inputs))
	}

	var cov CoverageRecord
	err := readRecordFile(unit.Inputs[0], func(r io.Reader) (err error) {
		cov, err = ReadCoverage(r, unit.Inputs[0])
		return err
	})
	if err != nil {
		return err
	}

	var ab AbundanceRecord
	err = readRecordFile(unit.Inputs[1], func(r io.Reader) (err error) {
		ab, err = ReadProfile(r, unit.Inputs[1], f.HeaderLines)
		return err
	})
	if err != nil {
		return err
	}

	return writeAtomic(unit.Output, func(w io.Writer) error {
		return WriteAbundance(w, FilterAbundance(cov, ab, f.Threshold))
	})
}

// Task adapts the filter to the stage runner. A failed sample loses the
// output of any earlier run, so it cannot reach the matrix
func (f *ThresholdFilter) Task() Task {
	return func(ctx context.Context, unit *WorkUnit) StageResult {
		if err := ctx.Err(); err != nil {
			return failure(unit.ID, "not started: %v", err)
		}
		if err := f.Process(unit); err != nil {
			removePartial(unit.Output)
			return failure(unit.ID, "%v", err)
		}
		return StageResult{UnitID: unit.ID, Status: Succeeded, Attempts: 1}
	}
}

// writeAtomic writes path by way of a temporary file in the same directory
func writeAtomic(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "creating temporary file")
	}
	tmpName := tmp.Name()

	err = tmp.Chmod(0o644)
	if err == nil {
		err = write(tmp)
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmpName, path)
	}
	if err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "writing %s", path)
	}
	return nil
}

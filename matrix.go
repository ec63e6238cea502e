// Cross-sample abundance matrix

package main

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/shenwei356/util/pathutil"
	"github.com/shenwei356/xopen"
)

// MatrixIDColumn is the header of the contig column of a matrix file
const MatrixIDColumn = "contig_ID"

var (
	// ErrDuplicateSample is returned when a sample is added twice
	ErrDuplicateSample = errors.New("duplicate sample")
	// ErrDuplicateContig is returned when a sample lists a contig twice
	ErrDuplicateContig = errors.New("duplicate contig")
)

// Matrix is a dense contig x sample table. Values[i][j] is the abundance of
// Contigs[i] in Samples[j]
type Matrix struct {
	Samples []string
	Contigs []string
	Values  [][]float64
}

// Assembler accumulates per-sample records into a matrix in one pass.
// Each contig owns a row that grows as samples are added; a row first seen
// in a later sample is zero-padded for the samples before it
type Assembler struct {
	samples []string
	seen    map[string]struct{}
	contigs []string
	rows    map[string][]float64
}

// NewAssembler returns an empty assembler
func NewAssembler() *Assembler {
	return &Assembler{
		seen: make(map[string]struct{}),
		rows: make(map[string][]float64),
	}
}

// Add merges the record of one sample as the next column. A record with a
// duplicate sample name or a repeated contig is rejected without changing
// the assembler
func (a *Assembler) Add(sample string, rec AbundanceRecord) error {
	if _, ok := a.seen[sample]; ok {
		return errors.Wrapf(ErrDuplicateSample, "%s", sample)
	}
	ids := make(map[string]struct{}, len(rec))
	for _, cv := range rec {
		if _, ok := ids[cv.ID]; ok {
			return errors.Wrapf(ErrDuplicateContig, "%s in sample %s", cv.ID, sample)
		}
		ids[cv.ID] = struct{}{}
	}

	col := len(a.samples)
	a.samples = append(a.samples, sample)
	a.seen[sample] = struct{}{}

	for _, cv := range rec {
		row, ok := a.rows[cv.ID]
		if !ok {
			a.contigs = append(a.contigs, cv.ID)
		}
		if len(row) < col {
			row = append(row, make([]float64, col-len(row))...)
		}
		a.rows[cv.ID] = append(row, cv.Value)
	}
	return nil
}

// Samples returns the sample names added so far, in column order
func (a *Assembler) Samples() []string {
	return append([]string(nil), a.samples...)
}

// Matrix returns the assembled matrix: contigs in order of first appearance,
// samples in the order they were added, absent cells set to 0
func (a *Assembler) Matrix() *Matrix {
	n := len(a.samples)
	m := &Matrix{
		Samples: a.Samples(),
		Contigs: append([]string(nil), a.contigs...),
		Values:  make([][]float64, len(a.contigs)),
	}
	for i, c := range a.contigs {
		row := make([]float64, n)
		copy(row, a.rows[c])
		m.Values[i] = row
	}
	return m
}

// WriteMatrix writes m as a tab-separated table with a contig_ID header
func WriteMatrix(w io.Writer, m *Matrix) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(MatrixIDColumn)
	for _, s := range m.Samples {
		bw.WriteByte('\t')
		bw.WriteString(s)
	}
	bw.WriteByte('\n')
	for i, c := range m.Contigs {
		bw.WriteString(c)
		for _, v := range m.Values[i] {
			bw.WriteByte('\t')
			bw.WriteString(formatValue(v))
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// ReadMatrix parses a matrix written by WriteMatrix
func ReadMatrix(r io.Reader, name string) (*Matrix, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, errors.Wrapf(err, "reading %s", name)
		}
		return nil, &ParseError{File: name, Reason: "empty matrix"}
	}
	header := strings.Split(strings.TrimRight(scanner.Text(), "\r"), "\t")
	if header[0] != MatrixIDColumn {
		return nil, &ParseError{File: name, Line: 1, Reason: fmt.Sprintf("expected %q as first column, found %q", MatrixIDColumn, header[0])}
	}
	m := &Matrix{Samples: header[1:]}

	line := 1
	for scanner.Scan() {
		line++
		text := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}
		fields := strings.Split(text, "\t")
		if len(fields) != len(header) {
			return nil, &ParseError{File: name, Line: line, Reason: fmt.Sprintf("expected %d fields, found %d", len(header), len(fields))}
		}
		row := make([]float64, len(fields)-1)
		for j, f := range fields[1:] {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, &ParseError{File: name, Line: line, Reason: fmt.Sprintf("invalid number %q", f)}
			}
			row[j] = v
		}
		m.Contigs = append(m.Contigs, fields[0])
		m.Values = append(m.Values, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading %s", name)
	}
	return m, nil
}

// ReadMatrixFile reads a matrix from a plain or compressed file
func ReadMatrixFile(path string) (m *Matrix, err error) {
	err = readRecordFile(path, func(r io.Reader) error {
		m, err = ReadMatrix(r, path)
		return err
	})
	return m, err
}

// WriteMatrixFile writes a matrix to path, compressed when the name ends
// with .gz
func WriteMatrixFile(path string, m *Matrix) error {
	if strings.HasSuffix(path, ".gz") {
		outfh, err := xopen.Wopen(path)
		if err != nil {
			return errors.Wrapf(err, "creating %s", path)
		}
		if err = WriteMatrix(outfh, m); err != nil {
			outfh.Close()
			return err
		}
		return outfh.Close()
	}
	return writeAtomic(path, func(w io.Writer) error { return WriteMatrix(w, m) })
}

// ReadCleaned parses a cleaned per-sample abundance file: two columns, no
// header, values non-negative
func ReadCleaned(r io.Reader, name string) (AbundanceRecord, error) {
	return ReadProfile(r, name, 0)
}

// SampleFile is a cleaned abundance file and the sample it belongs to
type SampleFile struct {
	Sample string
	Path   string
}

// AssemblyReport tells which sample files made it into the matrix
type AssemblyReport struct {
	Total    int
	Included []string
	Excluded []ExcludedSample
}

// ExcludedSample is a sample left out of the matrix and why
type ExcludedSample struct {
	Sample string
	Path   string
	Err    error
}

// Summary is a one-line account of the assembly
func (r *AssemblyReport) Summary() string {
	return fmt.Sprintf("%d of %d sample(s) included, %d excluded", len(r.Included), r.Total, len(r.Excluded))
}

// AssembleFiles reads the given sample files in order and assembles them.
// A file that cannot be read or parsed is excluded, loudly, and the matrix
// is built from the others
func AssembleFiles(files []SampleFile) (*Matrix, *AssemblyReport) {
	asm := NewAssembler()
	report := &AssemblyReport{Total: len(files)}

	for _, sf := range files {
		var rec AbundanceRecord
		err := readRecordFile(sf.Path, func(r io.Reader) (err error) {
			rec, err = ReadCleaned(r, sf.Path)
			return err
		})
		if err == nil {
			err = asm.Add(sf.Sample, rec)
		}
		if err != nil {
			log.Errorf("excluding sample %s from the matrix: %v", sf.Sample, err)
			report.Excluded = append(report.Excluded, ExcludedSample{Sample: sf.Sample, Path: sf.Path, Err: err})
			continue
		}
		report.Included = append(report.Included, sf.Sample)
	}
	return asm.Matrix(), report
}

// SampleFiles lists the cleaned abundance files of dir, sample names
// derived by removing suffix, in natural order
func SampleFiles(dir, suffix string) ([]SampleFile, []string, error) {
	d, err := DiscoverSingle("merge", SingleRule{
		Dir:    dir,
		Suffix: suffix,
		Force:  true,
		Build: func(id string, inputs []string) *WorkUnit {
			return &WorkUnit{ID: id, Inputs: inputs}
		},
	})
	if err != nil {
		return nil, nil, err
	}
	files := make([]SampleFile, len(d.Units))
	for i, u := range d.Units {
		files[i] = SampleFile{Sample: u.ID, Path: u.Inputs[0]}
	}
	return files, d.Warnings, nil
}

// SampleFilesFromPaths names explicitly given files by removing suffix
// from their base names
func SampleFilesFromPaths(paths []string, suffix string) ([]SampleFile, error) {
	files := make([]SampleFile, 0, len(paths))
	for _, p := range paths {
		sample, err := StripSuffix(filepath.Base(p), suffix)
		if err != nil {
			return nil, err
		}
		files = append(files, SampleFile{Sample: sample, Path: p})
	}
	return files, nil
}

// MergeResult is the outcome of a merge: the path written, or skipped
// because it already existed
type MergeResult struct {
	Path    string
	Skipped bool
	Matrix  *Matrix
	Report  *AssemblyReport
}

// MergeSamples assembles files into a matrix written to out. An existing
// output is left alone unless force is set
func MergeSamples(files []SampleFile, out string, force bool) (*MergeResult, error) {
	res := &MergeResult{Path: out}
	if !force {
		if ok, _ := pathutil.Exists(out); ok {
			log.Infof("[merge] %s exists, skipping (use --force to overwrite)", out)
			res.Skipped = true
			return res, nil
		}
	}

	m, report := AssembleFiles(files)
	res.Matrix, res.Report = m, report
	if len(report.Included) == 0 {
		return res, errors.Errorf("no sample could be merged (%s)", report.Summary())
	}
	if err := WriteMatrixFile(out, m); err != nil {
		return res, err
	}
	log.Infof("[merge] %d contig(s) x %d sample(s) written to %s (%s)", len(m.Contigs), len(m.Samples), out, report.Summary())
	return res, nil
}

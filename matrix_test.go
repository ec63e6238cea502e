package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssembler(t *testing.T) {
	asm := NewAssembler()
	require.NoError(t, asm.Add("s1", AbundanceRecord{{"A", 1}, {"B", 2}}))
	require.NoError(t, asm.Add("s2", AbundanceRecord{{"A", 3}}))
	require.NoError(t, asm.Add("s3", AbundanceRecord{{"B", 4}, {"C", 5}}))

	m := asm.Matrix()
	assert.Equal(t, []string{"s1", "s2", "s3"}, m.Samples)
	assert.Equal(t, []string{"A", "B", "C"}, m.Contigs)
	assert.Equal(t, [][]float64{{1, 3, 0}, {2, 0, 4}, {0, 0, 5}}, m.Values)

	var buf bytes.Buffer
	require.NoError(t, WriteMatrix(&buf, m))
	assert.Equal(t, "contig_ID\ts1\ts2\ts3\nA\t1\t3\t0\nB\t2\t0\t4\nC\t0\t0\t5\n", buf.String())
}

// cell looks up the value of a contig in a sample
func cell(m *Matrix, contig, sample string) (float64, bool) {
	for i, c := range m.Contigs {
		if c != contig {
			continue
		}
		for j, s := range m.Samples {
			if s == sample {
				return m.Values[i][j], true
			}
		}
	}
	return 0, false
}

func TestAssemblerUnionCompleteness(t *testing.T) {
	records := map[string]AbundanceRecord{
		"s1": {{"c1", 1}, {"c2", 2}},
		"s2": {},
		"s3": {{"c3", 3}},
		"s4": {{"c2", 0}, {"c4", 4.5}, {"c1", 1}},
		"s5": {{"c5", 5}},
	}
	order := []string{"s1", "s2", "s3", "s4", "s5"}

	asm := NewAssembler()
	for _, s := range order {
		require.NoError(t, asm.Add(s, records[s]))
	}
	m := asm.Matrix()

	require.Len(t, m.Values, len(m.Contigs))
	assert.Equal(t, []string{"c1", "c2", "c3", "c4", "c5"}, m.Contigs)
	for i, c := range m.Contigs {
		require.Len(t, m.Values[i], len(order), c)
		for j, s := range order {
			want := 0.0
			for _, cv := range records[s] {
				if cv.ID == c {
					want = cv.Value
				}
			}
			assert.Equal(t, want, m.Values[i][j], "%s/%s", c, s)
			got, ok := cell(m, c, s)
			assert.True(t, ok)
			assert.Equal(t, want, got)
		}
	}
	_, ok := cell(m, "c9", "s1")
	assert.False(t, ok)
}

func TestAssemblerRejects(t *testing.T) {
	tests := []struct {
		name    string
		sample  string
		rec     AbundanceRecord
		wantErr error
	}{
		{"Duplicate sample", "s1", AbundanceRecord{{"X", 1}}, ErrDuplicateSample},
		{"Duplicate contig", "s2", AbundanceRecord{{"X", 1}, {"X", 2}}, ErrDuplicateContig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			asm := NewAssembler()
			require.NoError(t, asm.Add("s1", AbundanceRecord{{"A", 1}}))

			err := asm.Add(tt.sample, tt.rec)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr))

			// the assembler is unchanged
			m := asm.Matrix()
			assert.Equal(t, []string{"s1"}, m.Samples)
			assert.Equal(t, []string{"A"}, m.Contigs)
		})
	}
}

func TestReadMatrix(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    *Matrix
		wantErr bool
	}{
		{
			name:  "Valid",
			input: "contig_ID\ts1\ts2\nA\t1\t0\nB\t0.5\t2\n",
			want:  &Matrix{Samples: []string{"s1", "s2"}, Contigs: []string{"A", "B"}, Values: [][]float64{{1, 0}, {0.5, 2}}},
		},
		{name: "Empty", input: "", wantErr: true},
		{name: "Wrong header", input: "id\ts1\nA\t1\n", wantErr: true},
		{name: "Short row", input: "contig_ID\ts1\ts2\nA\t1\n", wantErr: true},
		{name: "Not a number", input: "contig_ID\ts1\nA\tx\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadMatrix(strings.NewReader(tt.input), "matrix.tsv")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.Samples, got.Samples)
			assert.Equal(t, tt.want.Contigs, got.Contigs)
			assert.Equal(t, tt.want.Values, got.Values)
		})
	}
}

func writeCleaned(t *testing.T, dir, sample, content string) string {
	t.Helper()
	path := filepath.Join(dir, sample+CleanedSuffix)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestAssembleFilesExcludesCorrupt(t *testing.T) {
	dir := t.TempDir()
	files := []SampleFile{
		{Sample: "s1", Path: writeCleaned(t, dir, "s1", "A\t1\nB\t2\n")},
		{Sample: "s2", Path: writeCleaned(t, dir, "s2", "A\tnot-a-number\n")},
		{Sample: "s3", Path: filepath.Join(dir, "missing"+CleanedSuffix)},
		{Sample: "s4", Path: writeCleaned(t, dir, "s4", "B\t4\nC\t5\n")},
	}

	m, report := AssembleFiles(files)
	assert.Equal(t, 4, report.Total)
	assert.Equal(t, []string{"s1", "s4"}, report.Included)
	require.Len(t, report.Excluded, 2)
	assert.Equal(t, "s2", report.Excluded[0].Sample)
	assert.Equal(t, "s3", report.Excluded[1].Sample)
	assert.Equal(t, "2 of 4 sample(s) included, 2 excluded", report.Summary())

	assert.Equal(t, []string{"s1", "s4"}, m.Samples)
	assert.Equal(t, [][]float64{{1, 0}, {2, 4}, {0, 5}}, m.Values)
}

func TestMergeSamples(t *testing.T) {
	dir := t.TempDir()
	writeCleaned(t, dir, "S2", "A\t3\n")
	writeCleaned(t, dir, "S10", "B\t4\nC\t5\n")
	writeCleaned(t, dir, "S1", "A\t1\nB\t2\n")

	files, warnings, err := SampleFiles(dir, CleanedSuffix)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, files, 3)

	out := filepath.Join(t.TempDir(), MatrixFileName)
	res, err := MergeSamples(files, out, false)
	require.NoError(t, err)
	assert.False(t, res.Skipped)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "contig_ID\tS1\tS2\tS10\nA\t1\t3\t0\nB\t2\t0\t4\nC\t0\t0\t5\n", string(data))

	// an existing matrix is kept unless forced
	writeCleaned(t, dir, "S3", "D\t1\n")
	files, _, err = SampleFiles(dir, CleanedSuffix)
	require.NoError(t, err)
	res, err = MergeSamples(files, out, false)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	again, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, data, again)

	res, err = MergeSamples(files, out, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"S1", "S2", "S3", "S10"}, res.Matrix.Samples)
}

func TestMergeSamplesNothingToMerge(t *testing.T) {
	out := filepath.Join(t.TempDir(), MatrixFileName)
	_, err := MergeSamples(nil, out, false)
	assert.Error(t, err)
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}

func TestSampleFilesFromPaths(t *testing.T) {
	files, err := SampleFilesFromPaths([]string{"a/S1" + CleanedSuffix, "b/S2" + CleanedSuffix}, CleanedSuffix)
	require.NoError(t, err)
	assert.Equal(t, []SampleFile{{"S1", "a/S1" + CleanedSuffix}, {"S2", "b/S2" + CleanedSuffix}}, files)

	_, err = SampleFilesFromPaths([]string{"a/S1.txt"}, CleanedSuffix)
	assert.True(t, errors.Is(err, ErrSuffixMismatch))
}

func TestMatrixFileGzip(t *testing.T) {
	m := &Matrix{Samples: []string{"s1"}, Contigs: []string{"A"}, Values: [][]float64{{2.5}}}
	path := filepath.Join(t.TempDir(), "m.tsv.gz")
	require.NoError(t, WriteMatrixFile(path, m))

	got, err := ReadMatrixFile(path)
	require.NoError(t, err)
	assert.Equal(t, m.Values, got.Values)
	assert.Equal(t, m.Samples, got.Samples)
}

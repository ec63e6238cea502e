package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupMeans(t *testing.T) {
	m := &Matrix{
		Samples: []string{"s1", "s2", "s3", "s4"},
		Contigs: []string{"A", "B"},
		Values:  [][]float64{{1, 2, 3, 10}, {0, 4, 0, 1}},
	}
	groups := map[string]string{"s1": "gut", "s2": "soil", "s3": "gut"}

	got, unmapped, err := GroupMeans(m, groups)
	require.NoError(t, err)
	assert.Equal(t, []string{"s4"}, unmapped)
	assert.Equal(t, []string{"gut", "soil"}, got.Samples)
	assert.Equal(t, []string{"A", "B"}, got.Contigs)
	assert.Equal(t, [][]float64{{2, 2}, {0, 4}}, got.Values)
}

func TestGroupMeansNoGroup(t *testing.T) {
	m := &Matrix{Samples: []string{"s1"}, Contigs: []string{"A"}, Values: [][]float64{{1}}}
	_, unmapped, err := GroupMeans(m, map[string]string{"other": "g"})
	assert.Error(t, err)
	assert.Equal(t, []string{"s1"}, unmapped)
}

func TestRunGroup(t *testing.T) {
	dir := t.TempDir()
	matrix := filepath.Join(dir, MatrixFileName)
	mapping := filepath.Join(dir, "groups.tsv")
	out := filepath.Join(dir, "group_matrix.tsv")
	require.NoError(t, os.WriteFile(matrix, []byte("contig_ID\tS1\tS2\tS3\nA\t1\t3\t5\nB\t2\t0\t0\n"), 0o644))
	require.NoError(t, os.WriteFile(mapping, []byte("S1\tT0\nS2\tT0\nS3\tT1\n"), 0o644))

	require.NoError(t, runGroup(matrix, mapping, out))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "contig_ID\tT0\tT1\nA\t2\t5\nB\t1\t0\n", string(data))
}

func TestReadGroupsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.tsv")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	_, err := ReadGroups(path)
	assert.Error(t, err)
}

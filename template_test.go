package main

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateExpand(t *testing.T) {
	unit := &WorkUnit{
		ID:     "S1",
		Inputs: []string{"reads/S1_qc_1.fastq.gz", "reads/S1_qc_2.fastq.gz"},
		Output: "sam/S1.sam",
		Params: map[string]string{"threads": "4", "bwa": "bwa", "ref": "ref.fasta"},
	}

	tests := []struct {
		name    string
		tmpl    Template
		want    []string
		wantErr error
	}{
		{
			name: "Paired inputs and config values",
			tmpl: Template{Name: "bwa mem", Args: []string{"{bwa}", "mem", "-M", "-t", "{threads}", "{ref}", "{in1}", "{in2}"}},
			want: []string{"bwa", "mem", "-M", "-t", "4", "ref.fasta", "reads/S1_qc_1.fastq.gz", "reads/S1_qc_2.fastq.gz"},
		},
		{
			name: "Placeholders inside an argument",
			tmpl: Template{Name: "label", Args: []string{"tool", "--label={id}", "-o", "{out}", "{in}"}},
			want: []string{"tool", "--label=S1", "-o", "sam/S1.sam", "reads/S1_qc_1.fastq.gz"},
		},
		{
			name: "Text that is not a placeholder is kept",
			tmpl: Template{Name: "braces", Args: []string{"awk", "{ print $1 }", "{in}"}},
			want: []string{"awk", "{ print $1 }", "reads/S1_qc_1.fastq.gz"},
		},
		{
			name:    "Unknown placeholder",
			tmpl:    Template{Name: "typo", Args: []string{"{bwa}", "{thread}"}},
			wantErr: ErrUnknownPlaceholder,
		},
		{
			name:    "Empty executable",
			tmpl:    Template{Name: "empty", Args: []string{"{missing_tool}"}},
			wantErr: ErrUnknownPlaceholder,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.tmpl.Expand(unit.Vars())
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTemplateExpandErrors(t *testing.T) {
	_, err := Template{Name: "none"}.Expand(nil)
	assert.Error(t, err)

	_, err = Template{Name: "blank", Args: []string{"{tool}", "x"}}.Expand(map[string]string{"tool": ""})
	assert.Error(t, err)
}

func TestExpectedOutput(t *testing.T) {
	vars := (&WorkUnit{ID: "S1", Output: "out/S1_sort.bam"}).Vars()

	got, err := Template{Args: []string{"x"}}.ExpectedOutput(vars)
	require.NoError(t, err)
	assert.Equal(t, "out/S1_sort.bam", got)

	got, err = Template{Args: []string{"x"}, Expect: "{out}.bai"}.ExpectedOutput(vars)
	require.NoError(t, err)
	assert.Equal(t, "out/S1_sort.bam.bai", got)
}

func TestWorkUnitVars(t *testing.T) {
	unit := &WorkUnit{
		ID:     "S2",
		Inputs: []string{"a", "b", "c"},
		Output: "o",
		Params: map[string]string{"id": "ignored", "threads": "2"},
	}
	vars := unit.Vars()
	assert.Equal(t, "S2", vars["id"])
	assert.Equal(t, "a", vars["in"])
	assert.Equal(t, "a", vars["in1"])
	assert.Equal(t, "c", vars["in3"])
	assert.Equal(t, "o", vars["out"])
	assert.Equal(t, "2", vars["threads"])
}

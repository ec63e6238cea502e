package main

import (
	"github.com/pkg/errors"
	"github.com/shenwei356/util/cliutil"
)

// ReadGroups reads a tab-separated sample to group mapping file
func ReadGroups(path string) (map[string]string, error) {
	groups, err := cliutil.ReadKVs(path, false)
	if err != nil {
		return nil, errors.Wrapf(err, "reading group mapping %s", path)
	}
	if len(groups) == 0 {
		return nil, errors.Errorf("group mapping %s is empty", path)
	}
	return groups, nil
}

// GroupMeans averages the sample columns of m per group. Groups appear in
// the order their first sample appears among the columns. Samples without
// a group are left out and returned
func GroupMeans(m *Matrix, groups map[string]string) (*Matrix, []string, error) {
	var (
		names    []string
		members  = make(map[string][]int)
		unmapped []string
	)
	for j, s := range m.Samples {
		g, ok := groups[s]
		if !ok || g == "" {
			unmapped = append(unmapped, s)
			continue
		}
		if _, ok = members[g]; !ok {
			names = append(names, g)
		}
		members[g] = append(members[g], j)
	}
	if len(names) == 0 {
		return nil, unmapped, errors.New("no sample of the matrix has a group")
	}

	out := &Matrix{
		Samples: names,
		Contigs: append([]string(nil), m.Contigs...),
		Values:  make([][]float64, len(m.Contigs)),
	}
	for i, row := range m.Values {
		means := make([]float64, len(names))
		for k, g := range names {
			cols := members[g]
			var sum float64
			for _, j := range cols {
				sum += row[j]
			}
			means[k] = sum / float64(len(cols))
		}
		out.Values[i] = means
	}
	return out, unmapped, nil
}

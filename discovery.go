// Work unit discovery: turning directory listings into units of work by
// file naming convention

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/maruel/natural"
	"github.com/pkg/errors"
	"github.com/shenwei356/util/pathutil"
)

// ErrSuffixMismatch is returned when a file name lacks the suffix that its
// sample name is derived from
var ErrSuffixMismatch = errors.New("file name does not end with expected suffix")

// StripSuffix derives a sample or base name by removing a named suffix.
// It fails when the suffix is absent or when nothing would remain
func StripSuffix(name, suffix string) (string, error) {
	if suffix == "" || !strings.HasSuffix(name, suffix) {
		return "", errors.Wrapf(ErrSuffixMismatch, "%q (want %q)", name, suffix)
	}
	base := strings.TrimSuffix(name, suffix)
	if base == "" {
		return "", errors.Wrapf(ErrSuffixMismatch, "%q has no name before %q", name, suffix)
	}
	return base, nil
}

// SkipReason tells why a discovered unit is not processed
type SkipReason string

const (
	SkipOutputExists SkipReason = "output exists"
	SkipUnpaired     SkipReason = "unpaired"
	SkipAmbiguous    SkipReason = "ambiguous"
)

// SkipReport records a discovered but unprocessed unit
type SkipReport struct {
	ID     string
	Reason SkipReason
	Paths  []string
}

// Discovery is the set of work units of one stage run, plus everything that
// was found but will not be processed
type Discovery struct {
	Stage    string
	Units    []*WorkUnit
	Skipped  []SkipReport
	Warnings []string
}

// Total is the number of units found, processed or not
func (d *Discovery) Total() int {
	return len(d.Units) + len(d.Skipped)
}

func (d *Discovery) warnf(format string, args ...interface{}) {
	d.Warnings = append(d.Warnings, fmt.Sprintf(format, args...))
}

// add queues a unit unless its output is already present
func (d *Discovery) add(unit *WorkUnit, force bool) {
	if !force && unit.Output != "" {
		if ok, _ := pathutil.Exists(unit.Output); ok {
			d.Skipped = append(d.Skipped, SkipReport{ID: unit.ID, Reason: SkipOutputExists, Paths: []string{unit.Output}})
			return
		}
	}
	d.Units = append(d.Units, unit)
}

func (d *Discovery) sort() {
	sort.SliceStable(d.Units, func(i, j int) bool { return natural.Less(d.Units[i].ID, d.Units[j].ID) })
	sort.SliceStable(d.Skipped, func(i, j int) bool { return natural.Less(d.Skipped[i].ID, d.Skipped[j].ID) })
}

// UnitBuilder completes a discovered unit: output path and parameters
type UnitBuilder func(id string, inputs []string) *WorkUnit

// SingleRule turns every file of Dir ending with Suffix into one unit.
// Files ending with one of the Exclude suffixes are ignored, which keeps
// e.g. "*.bam" from matching the "*_sort.bam" outputs of the same stage
type SingleRule struct {
	Dir     string
	Suffix  string
	Exclude []string
	Force   bool
	Build   UnitBuilder
}

// DiscoverSingle lists Dir and builds one unit per matching file.
// A missing directory or an empty match is a warning, not an error
func DiscoverSingle(stage string, rule SingleRule) (*Discovery, error) {
	d := &Discovery{Stage: stage}
	names, err := listFiles(rule.Dir)
	if err != nil {
		return nil, err
	}
	if names == nil {
		d.warnf("input directory %s does not exist", rule.Dir)
		return d, nil
	}

NAMES:
	for _, name := range names {
		if !strings.HasSuffix(name, rule.Suffix) {
			continue
		}
		for _, ex := range rule.Exclude {
			if strings.HasSuffix(name, ex) {
				continue NAMES
			}
		}
		id, err := StripSuffix(name, rule.Suffix)
		if err != nil {
			d.warnf("%v", err)
			continue
		}
		d.add(rule.Build(id, []string{filepath.Join(rule.Dir, name)}), rule.Force)
	}

	if d.Total() == 0 {
		d.warnf("no *%s files in %s", rule.Suffix, rule.Dir)
	}
	d.sort()
	return d, nil
}

// Mate is one side of a pair: a directory and the suffixes (alternatives,
// e.g. ".fastq.gz" and ".fq.gz") identifying that side
type Mate struct {
	Dir      string
	Suffixes []string
}

// PairRule groups files of two mates by their common base name
type PairRule struct {
	Mates [2]Mate
	Force bool
	Build UnitBuilder
}

// DiscoverPairs builds one unit per base name that has exactly one file for
// each mate. Base names with a missing mate are reported as unpaired, base
// names with several candidate files for a mate as ambiguous
func DiscoverPairs(stage string, rule PairRule) (*Discovery, error) {
	d := &Discovery{Stage: stage}
	groups := make(map[string]*[2][]string)

	for i, mate := range rule.Mates {
		names, err := listFiles(mate.Dir)
		if err != nil {
			return nil, err
		}
		if names == nil {
			d.warnf("input directory %s does not exist", mate.Dir)
			continue
		}

		// the most specific suffix wins when several match
		suffixes := append([]string(nil), mate.Suffixes...)
		sort.SliceStable(suffixes, func(a, b int) bool { return len(suffixes[a]) > len(suffixes[b]) })

		for _, name := range names {
			for _, suffix := range suffixes {
				base, err := StripSuffix(name, suffix)
				if err != nil {
					continue
				}
				g, ok := groups[base]
				if !ok {
					g = &[2][]string{}
					groups[base] = g
				}
				g[i] = append(g[i], filepath.Join(mate.Dir, name))
				break
			}
		}
	}

	for base, g := range groups {
		paths := append(append([]string(nil), g[0]...), g[1]...)
		switch {
		case len(g[0]) > 1 || len(g[1]) > 1:
			d.Skipped = append(d.Skipped, SkipReport{ID: base, Reason: SkipAmbiguous, Paths: paths})
		case len(g[0]) == 0 || len(g[1]) == 0:
			d.Skipped = append(d.Skipped, SkipReport{ID: base, Reason: SkipUnpaired, Paths: paths})
		default:
			d.add(rule.Build(base, paths), rule.Force)
		}
	}

	if d.Total() == 0 {
		d.warnf("no paired files in %s and %s", rule.Mates[0].Dir, rule.Mates[1].Dir)
	}
	d.sort()
	return d, nil
}

// listFiles returns the names of regular files and symbolic links in dir,
// or nil if dir does not exist
func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "listing %s", dir)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() || e.Type()&os.ModeSymlink != 0 {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// logDiscovery reports warnings and skipped units of a discovery
func logDiscovery(d *Discovery) {
	for _, w := range d.Warnings {
		log.Warningf("[%s] %s", d.Stage, w)
	}
	for _, sk := range d.Skipped {
		switch sk.Reason {
		case SkipOutputExists:
			log.Infof("[%s] skipping %s: %s", d.Stage, sk.ID, sk.Reason)
		default:
			log.Warningf("[%s] skipping %s: %s (%s)", d.Stage, sk.ID, sk.Reason, strings.Join(sk.Paths, ", "))
		}
	}
	log.Infof("[%s] %d unit(s) to process, %d skipped", d.Stage, len(d.Units), len(d.Skipped))
}

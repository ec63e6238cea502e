package main

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/pkg/errors"
)

// ErrUnknownPlaceholder is returned when a template refers to a variable that
// the work unit does not define
var ErrUnknownPlaceholder = errors.New("unknown template placeholder")

var placeholderRe = regexp.MustCompile(`\{([a-z][a-z0-9_]*)\}`)

// Template is the fixed argument list of one external tool invocation.
// Arguments may contain {name} placeholders which are filled from the
// variables of a work unit (in, in1, in2, out, id, threads, tool paths and
// stage thresholds).
//
// When Stdout is set, the tool writes its result to standard output and the
// stream is redirected to the unit's output file. Expect names the file that
// must exist and be non-empty after a successful run; it defaults to {out}
type Template struct {
	Name   string
	Args   []string
	Stdout bool
	Expect string
}

// Expand returns the concrete command line for the given variables
func (t Template) Expand(vars map[string]string) ([]string, error) {
	if len(t.Args) == 0 {
		return nil, errors.Errorf("template %q has no arguments", t.Name)
	}
	args := make([]string, len(t.Args))
	for i, arg := range t.Args {
		s, err := expandString(arg, vars)
		if err != nil {
			return nil, errors.Wrapf(err, "template %q", t.Name)
		}
		args[i] = s
	}
	if args[0] == "" {
		return nil, errors.Errorf("template %q: empty executable", t.Name)
	}
	return args, nil
}

// ExpectedOutput returns the path that must exist after the invocation
func (t Template) ExpectedOutput(vars map[string]string) (string, error) {
	pattern := t.Expect
	if pattern == "" {
		pattern = "{out}"
	}
	return expandString(pattern, vars)
}

func expandString(s string, vars map[string]string) (string, error) {
	var missing string
	out := placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		key := m[1 : len(m)-1]
		v, ok := vars[key]
		if !ok {
			if missing == "" {
				missing = key
			}
			return m
		}
		return v
	})
	if missing != "" {
		return "", errors.Wrapf(ErrUnknownPlaceholder, "{%s} in %q", missing, s)
	}
	return out, nil
}

// WorkUnit is one task of a pipeline stage: its input file(s), the output
// path it produces and stage-specific template variables
type WorkUnit struct {
	ID     string
	Inputs []string
	Output string
	Params map[string]string
}

// Vars merges the unit's parameters with its paths. {in} is the first
// input, {in1}, {in2}, ... address every input by position
func (u *WorkUnit) Vars() map[string]string {
	vars := make(map[string]string, len(u.Params)+len(u.Inputs)+3)
	for k, v := range u.Params {
		vars[k] = v
	}
	vars["id"] = u.ID
	vars["out"] = u.Output
	if len(u.Inputs) > 0 {
		vars["in"] = u.Inputs[0]
	}
	for i, in := range u.Inputs {
		vars["in"+strconv.Itoa(i+1)] = in
	}
	return vars
}

func (u *WorkUnit) String() string {
	return fmt.Sprintf("%s (%d input(s) -> %s)", u.ID, len(u.Inputs), u.Output)
}

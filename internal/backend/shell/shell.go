// Package shell runs scheduler command-line tools and assembles the
// shared parts of generated batch scripts.
package shell

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
)

// Runner executes a tool and returns its trimmed stdout and stderr.
// Backends take a Runner so tests can substitute canned output.
type Runner func(ctx context.Context, name string, args ...string) (stdout, stderr string, err error)

// Run is the real Runner.
func Run(ctx context.Context, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut
	err := cmd.Run()
	return strings.TrimSpace(out.String()), strings.TrimSpace(errOut.String()), err
}

// Installed reports whether tool resolves on PATH.
func Installed(tool string) bool {
	_, err := exec.LookPath(tool)
	return err == nil
}

// ErrorText prefers captured stderr over the raw exec error.
func ErrorText(stderr string, err error) string {
	if stderr != "" {
		return stderr
	}
	if err != nil {
		return err.Error()
	}
	return "unknown error"
}

// EnsurePrefix returns the directives with prefix prepended where absent,
// so profiles may write either "--export=ALL" or the full directive line.
func EnsurePrefix(directives []string, prefix string) []string {
	out := make([]string, 0, len(directives))
	for _, d := range directives {
		if d == "" {
			continue
		}
		if !strings.HasPrefix(d, prefix) {
			d = prefix + " " + d
		}
		out = append(out, d)
	}
	return out
}

// ModuleLines renders "module load" lines for each set in order.
func ModuleLines(sets ...[]string) []string {
	var out []string
	for _, set := range sets {
		for _, m := range set {
			if m != "" {
				out = append(out, "module load "+m)
			}
		}
	}
	return out
}

// ExportLines merges base under override and renders sorted export lines.
// Sorting keeps script generation deterministic.
func ExportLines(base, override map[string]string) []string {
	merged := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("export %s=%q", k, merged[k]))
	}
	return out
}

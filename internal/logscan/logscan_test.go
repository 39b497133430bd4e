package logscan

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func mustInspector(t *testing.T, cfg Config) *Inspector {
	t.Helper()
	i, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return i
}

func writeLog(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestScanFindsErrorLines(t *testing.T) {
	t.Parallel()

	i := mustInspector(t, Config{})
	path := writeLog(t, "job.err", strings.Join([]string{
		"loading dataset",
		"Error: cannot open input file",
		"step 2 of 5",
		"Traceback (most recent call last):",
		"all done",
	}, "\n"))

	got := i.Scan(path)
	want := []string{
		"Error: cannot open input file",
		"Traceback (most recent call last):",
	}
	if len(got) != len(want) {
		t.Fatalf("Scan() = %v, want %v", got, want)
	}
	for n := range want {
		if got[n] != want[n] {
			t.Errorf("Scan()[%d] = %q, want %q", n, got[n], want[n])
		}
	}
}

func TestScanWhitelist(t *testing.T) {
	t.Parallel()

	i := mustInspector(t, Config{
		Whitelist: []string{"FutureWarning numpy dtype deprecated"},
	})

	tests := []struct {
		name string
		line string
		kept bool
	}{
		{
			name: "three shared words suppressed",
			line: "ERROR: FutureWarning: numpy dtype size changed",
			kept: false,
		},
		{
			name: "punctuation does not defeat matching",
			line: "error! (FutureWarning) [numpy] dtype=object",
			kept: false,
		},
		{
			name: "two shared words kept",
			line: "ERROR: FutureWarning from numpy",
			kept: true,
		},
		{
			name: "unrelated error kept",
			line: "ERROR: disk quota exceeded",
			kept: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := writeLog(t, "job.err", tt.line)
			got := i.Scan(path)
			if kept := len(got) > 0; kept != tt.kept {
				t.Errorf("Scan(%q) kept = %v, want %v", tt.line, kept, tt.kept)
			}
		})
	}
}

func TestWhitelistShortEntryNeverSuppresses(t *testing.T) {
	t.Parallel()

	// A one-word entry cannot reach the three-word threshold, so the line
	// must survive even though every word of the entry appears in it.
	i := mustInspector(t, Config{Whitelist: []string{"FutureWarning"}})
	path := writeLog(t, "job.err", "ERROR: FutureWarning: x is deprecated")

	if got := i.Scan(path); len(got) != 1 {
		t.Errorf("Scan() = %v, want the line kept", got)
	}
}

func TestWhitelistThreshold(t *testing.T) {
	t.Parallel()

	i := mustInspector(t, Config{
		Whitelist: []string{"FutureWarning numpy"},
		Threshold: 2,
	})
	path := writeLog(t, "job.err", "ERROR: FutureWarning: numpy dtype size changed")

	if got := i.Scan(path); len(got) != 0 {
		t.Errorf("Scan() = %v, want suppressed at threshold 2", got)
	}
}

func TestWhitelistCaseSensitive(t *testing.T) {
	t.Parallel()

	i := mustInspector(t, Config{
		Whitelist:     []string{"FutureWarning numpy dtype"},
		CaseSensitive: true,
	})
	path := writeLog(t, "job.err", "ERROR: futurewarning: numpy dtype size changed")

	if got := i.Scan(path); len(got) != 1 {
		t.Errorf("Scan() = %v, want kept under case-sensitive matching", got)
	}
}

func TestScanCustomPattern(t *testing.T) {
	t.Parallel()

	i := mustInspector(t, Config{Patterns: []string{`\bNaN\b`}})
	path := writeLog(t, "job.out", "loss = NaN at step 40")

	if got := i.Scan(path); len(got) != 1 {
		t.Errorf("Scan() = %v, want custom pattern match", got)
	}
}

func TestScanInvalidPattern(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Patterns: []string{`(unclosed`}}); err == nil {
		t.Fatal("New() error = nil, want invalid pattern error")
	}
}

func TestScanMissingFile(t *testing.T) {
	t.Parallel()

	i := mustInspector(t, Config{})
	got := i.Scan(filepath.Join(t.TempDir(), "nope.err"), "")
	if len(got) != 0 {
		t.Errorf("Scan() = %v, want no findings for unreadable paths", got)
	}
}

func TestScanCapsKeptLines(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	for n := 0; n < 40; n++ {
		fmt.Fprintf(&b, "error number %d\n", n)
	}
	i := mustInspector(t, Config{MaxLines: 5})
	path := writeLog(t, "job.err", b.String())

	if got := i.Scan(path); len(got) != 5 {
		t.Errorf("Scan() kept %d lines, want 5", len(got))
	}
}

func TestScanTruncatesLongLines(t *testing.T) {
	t.Parallel()

	i := mustInspector(t, Config{MaxLineLength: 20})
	path := writeLog(t, "job.err", "error: "+strings.Repeat("x", 200))

	got := i.Scan(path)
	if len(got) != 1 {
		t.Fatalf("Scan() = %v, want one line", got)
	}
	if len(got[0]) != 20 {
		t.Errorf("kept line length = %d, want 20", len(got[0]))
	}
}

func TestScanBoundedTail(t *testing.T) {
	t.Parallel()

	// The error sits before the tail window, so a bounded scan cannot
	// see it; a second error inside the window is found.
	var b strings.Builder
	b.WriteString("error: too old to notice\n")
	for n := 0; n < 100; n++ {
		fmt.Fprintf(&b, "progress %d\n", n)
	}
	b.WriteString("error: fresh failure\n")

	i := mustInspector(t, Config{TailLines: 50})
	path := writeLog(t, "job.out", b.String())

	got := i.Scan(path)
	if len(got) != 1 || got[0] != "error: fresh failure" {
		t.Errorf("Scan() = %v, want only the in-window error", got)
	}
}

func TestHasOOM(t *testing.T) {
	t.Parallel()

	i := mustInspector(t, Config{})

	tests := []struct {
		name  string
		lines []string
		want  bool
	}{
		{"kernel oom kill", []string{"Memory cgroup out of memory: Killed process 4242"}, true},
		{"slurm oom", []string{"slurmstepd: error: Detected 1 oom-kill event(s)"}, true},
		{"allocation failure", []string{"terminate called", "std::bad_alloc: cannot allocate memory"}, true},
		{"plain failure", []string{"Error: cannot open input file"}, false},
		{"no lines", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := i.HasOOM(tt.lines); got != tt.want {
				t.Errorf("HasOOM(%v) = %v, want %v", tt.lines, got, tt.want)
			}
		})
	}
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	i := mustInspector(t, Config{})

	tests := []struct {
		name    string
		content string
		want    int
		wantOK  bool
	}{
		{"exited with code", "srun: error: task 0: Exited with exit code 2", 2, true},
		{"exit status", "command terminated, exit status: 137", 137, true},
		{"pbs exit_status", "Exit_status=271", 271, true},
		{"no sentinel", "job ran fine\nall done", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := writeLog(t, "job.err", tt.content)
			got, ok := i.ExitCode(path)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("ExitCode() = (%d, %v), want (%d, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestExitCodeWindow(t *testing.T) {
	t.Parallel()

	// The sentinel is pushed beyond the last-100-lines window.
	var b strings.Builder
	b.WriteString("Exited with exit code 7\n")
	for n := 0; n < 150; n++ {
		fmt.Fprintf(&b, "filler %d\n", n)
	}

	i := mustInspector(t, Config{})
	path := writeLog(t, "job.out", b.String())

	if _, ok := i.ExitCode(path); ok {
		t.Error("ExitCode() found a sentinel outside the window")
	}
}

func TestTailFileOrder(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	for n := 0; n < 25; n++ {
		fmt.Fprintf(&b, "line %d\n", n)
	}
	path := writeLog(t, "job.out", b.String())

	lines, err := tailFile(path, 10)
	if err != nil {
		t.Fatalf("tailFile() error = %v", err)
	}
	if len(lines) != 10 {
		t.Fatalf("tailFile() returned %d lines, want 10", len(lines))
	}
	if lines[0] != "line 15" || lines[9] != "line 24" {
		t.Errorf("tailFile() window = [%s .. %s], want [line 15 .. line 24]", lines[0], lines[9])
	}
}

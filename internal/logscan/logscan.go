// Package logscan inspects captured job output. It finds candidate error
// lines in a bounded tail of the stdout/stderr files, suppresses lines a
// caller-supplied whitelist recognizes, and extracts exit-code sentinels
// and out-of-memory signatures.
package logscan

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"drover/internal/apperrors"
)

// Bounds applied when the config leaves them zero.
const (
	DefaultTailLines = 10000
	DefaultThreshold = 3

	defaultMaxLines   = 50
	defaultMaxLineLen = 500
	exitCodeWindow    = 100
)

// defaultPatterns match the generic error vocabulary of batch job logs.
var defaultPatterns = []string{
	`(?i)\berror\b`,
	`(?i)\bexception\b`,
	`(?i)\bfailed\b`,
	`(?i)\bfailure\b`,
	`(?i)segmentation fault`,
	`(?i)core dumped`,
	`(?i)\bkilled\b`,
	`(?i)\btraceback\b`,
	`(?i)\bsevere\b`,
}

// defaultOOMPatterns match the usual out-of-memory kill signatures.
var defaultOOMPatterns = []string{
	`(?i)out of memory`,
	`(?i)oom-kill`,
	`(?i)memory limit`,
	`(?i)exceeded memory limit`,
	`(?i)malloc.*failed`,
	`(?i)cannot allocate memory`,
}

// exitCodePatterns match the exit-code sentinels schedulers and shells
// leave in captured output.
var exitCodePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)exit(?:ed)?\s+(?:with\s+)?code[:\s]+(\d+)`),
	regexp.MustCompile(`(?i)exit\s+status[:\s]+(\d+)`),
	regexp.MustCompile(`(?i)exit_status[=:\s]+(-?\d+)`),
}

// Config tunes an Inspector. The zero value gives the default patterns,
// an empty whitelist, and the default bounds.
type Config struct {
	Patterns      []string // extra error patterns, appended to the defaults
	OOMPatterns   []string // extra out-of-memory patterns
	Whitelist     []string // entries suppressing benign error lines
	Threshold     int      // word-set matches needed to suppress (default 3)
	CaseSensitive bool     // whitelist word matching case sensitivity
	TailLines     int      // bounded tail size (default 10000)
	MaxLines      int      // cap on kept error lines (default 50)
	MaxLineLength int      // kept lines are truncated to this (default 500)
}

// Inspector scans captured output files. Safe for concurrent use.
type Inspector struct {
	patterns      []*regexp.Regexp
	oom           []*regexp.Regexp
	whitelist     []map[string]bool
	threshold     int
	caseSensitive bool
	tailLines     int
	maxLines      int
	maxLineLen    int
}

// New compiles the configured patterns into an Inspector.
func New(cfg Config) (*Inspector, error) {
	i := &Inspector{
		threshold:     cfg.Threshold,
		caseSensitive: cfg.CaseSensitive,
		tailLines:     cfg.TailLines,
		maxLines:      cfg.MaxLines,
		maxLineLen:    cfg.MaxLineLength,
	}
	if i.threshold <= 0 {
		i.threshold = DefaultThreshold
	}
	if i.tailLines <= 0 {
		i.tailLines = DefaultTailLines
	}
	if i.maxLines <= 0 {
		i.maxLines = defaultMaxLines
	}
	if i.maxLineLen <= 0 {
		i.maxLineLen = defaultMaxLineLen
	}

	for _, p := range append(append([]string{}, defaultPatterns...), cfg.Patterns...) {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, apperrors.Validation("patterns", fmt.Sprintf("invalid error pattern %q: %v", p, err))
		}
		i.patterns = append(i.patterns, re)
	}
	for _, p := range append(append([]string{}, defaultOOMPatterns...), cfg.OOMPatterns...) {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, apperrors.Validation("oom_patterns", fmt.Sprintf("invalid OOM pattern %q: %v", p, err))
		}
		i.oom = append(i.oom, re)
	}
	for _, entry := range cfg.Whitelist {
		i.whitelist = append(i.whitelist, wordSet(entry, i.caseSensitive))
	}
	return i, nil
}

// Scan reads the bounded tail of each path and returns the non-whitelisted
// error lines in order, truncated and capped. Unreadable files yield no
// findings rather than an error: a missing log is never evidence by itself.
func (i *Inspector) Scan(paths ...string) []string {
	var found []string
	for _, path := range paths {
		if path == "" {
			continue
		}
		lines, err := tailFile(path, i.tailLines)
		if err != nil {
			continue
		}
		for _, line := range lines {
			if len(found) >= i.maxLines {
				return found
			}
			if !i.matchesError(line) {
				continue
			}
			if i.Whitelisted(line) {
				continue
			}
			if len(line) > i.maxLineLen {
				line = line[:i.maxLineLen]
			}
			found = append(found, line)
		}
	}
	return found
}

// Whitelisted reports whether any whitelist entry shares at least
// threshold words with the line. Word-set matching deliberately tolerates
// cosmetic variation (punctuation, version numbers) that breaks
// exact-string whitelists.
func (i *Inspector) Whitelisted(line string) bool {
	if len(i.whitelist) == 0 {
		return false
	}
	words := wordSet(line, i.caseSensitive)
	for _, entry := range i.whitelist {
		shared := 0
		for w := range entry {
			if words[w] {
				shared++
				if shared >= i.threshold {
					return true
				}
			}
		}
	}
	return false
}

// HasOOM reports whether any line carries an out-of-memory signature.
func (i *Inspector) HasOOM(lines []string) bool {
	for _, line := range lines {
		for _, re := range i.oom {
			if re.MatchString(line) {
				return true
			}
		}
	}
	return false
}

// ExitCode extracts the first exit-code sentinel found in the last lines
// of the given files. The second return is false when no sentinel exists.
func (i *Inspector) ExitCode(paths ...string) (int, bool) {
	for _, path := range paths {
		if path == "" {
			continue
		}
		lines, err := tailFile(path, exitCodeWindow)
		if err != nil {
			continue
		}
		for _, line := range lines {
			for _, re := range exitCodePatterns {
				m := re.FindStringSubmatch(line)
				if m == nil {
					continue
				}
				code, err := strconv.Atoi(m[1])
				if err != nil {
					continue
				}
				return code, true
			}
		}
	}
	return 0, false
}

func (i *Inspector) matchesError(line string) bool {
	for _, re := range i.patterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// wordSet tokenizes s into its set of alphanumeric words.
func wordSet(s string, caseSensitive bool) map[string]bool {
	if !caseSensitive {
		s = strings.ToLower(s)
	}
	words := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

// tailFile returns up to the last n lines of path using a fixed ring, so
// memory stays bounded on arbitrarily large logs.
func tailFile(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ring := make([]string, n)
	count := 0

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		ring[count%n] = sc.Text()
		count++
	}
	// A scan error (e.g. an over-long line) degrades to whatever was read.

	if count <= n {
		return ring[:count], nil
	}
	out := make([]string, 0, n)
	for i := count % n; i < n; i++ {
		out = append(out, ring[i])
	}
	for i := 0; i < count%n; i++ {
		out = append(out, ring[i])
	}
	return out, nil
}

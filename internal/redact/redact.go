package redact

import (
	"path/filepath"
	"regexp"
	"strings"
)

const placeholder = "[REDACTED]"

// pathPlaceholder replaces the hunks of a file redacted by path.
const pathPlaceholder = placeholder + " (file content redacted by path policy)"

// secretPatterns are regex heuristics for common secret types.
var secretPatterns = []*regexp.Regexp{
	// Generic API keys (long hex/base64 strings after common key patterns)
	regexp.MustCompile(`(?i)(api[_-]?key|apikey|api[_-]?secret)\s*[:=]\s*["']?([A-Za-z0-9/+=_-]{20,})["']?`),
	// AWS access key IDs
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`(?i)(aws[_-]?secret[_-]?access[_-]?key)\s*[:=]\s*["']?([A-Za-z0-9/+=]{40})["']?`),
	// Azure storage and service connection strings
	regexp.MustCompile(`(?i)AccountKey=[A-Za-z0-9/+=]{40,}`),
	regexp.MustCompile(`(?i)(secret|token|password|passwd|credential)\s*[:=]\s*["']([^"']{8,})["']`),
	regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9._-]{20,}`),
	// JWTs
	regexp.MustCompile(`eyJ[A-Za-z0-9_-]{10,}\.eyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}`),
	regexp.MustCompile(`-----BEGIN\s+(RSA\s+|EC\s+|OPENSSH\s+)?PRIVATE KEY-----`),
	regexp.MustCompile(`gh[pousr]_[A-Za-z0-9_]{36,}`),
	regexp.MustCompile(`xox[bporas]-[A-Za-z0-9-]{10,}`),
	regexp.MustCompile(`sk-ant-[A-Za-z0-9_-]{20,}`),
	regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`),
	regexp.MustCompile(`(?i)(key|secret|token)\s*[:=]\s*["']?[0-9a-f]{32,}["']?`),
}

// Redactor scrubs diffs.
type Redactor struct {
	paths []string
}

// New creates a Redactor that fully redacts files matching any of paths.
// Patterns use filepath.Match syntax; a leading "**/" matches the base
// name at any depth.
func New(paths []string) *Redactor {
	return &Redactor{paths: paths}
}

// Stats reports what a redaction pass removed.
type Stats struct {
	Secrets int
	Files   []string
}

// Secrets replaces detected secrets in text with [REDACTED] and returns
// the number of replacements.
func (r *Redactor) Secrets(text string) (string, int) {
	n := 0
	for _, pat := range secretPatterns {
		text = pat.ReplaceAllStringFunc(text, func(string) string {
			n++
			return placeholder
		})
	}
	return text, n
}

// MatchPath reports whether path matches one of the redaction patterns.
func (r *Redactor) MatchPath(path string) bool {
	for _, pattern := range r.paths {
		if matched, err := filepath.Match(pattern, path); err == nil && matched {
			return true
		}
		cleanPattern := strings.TrimPrefix(pattern, "**/")
		if cleanPattern != pattern {
			if matched, err := filepath.Match(cleanPattern, filepath.Base(path)); err == nil && matched {
				return true
			}
		}
	}
	return false
}

// Diff redacts a unified diff. Sections for files matching a path pattern
// keep their headers and lose all hunks; every other line is scanned for
// secrets.
func (r *Redactor) Diff(diff string) (string, Stats) {
	var (
		out        strings.Builder
		stats      Stats
		redactFile bool
		inHunk     bool
	)
	for _, line := range strings.SplitAfter(diff, "\n") {
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "diff --git ") {
			path := pathFromHeader(line)
			redactFile = r.MatchPath(path)
			inHunk = false
			if redactFile {
				stats.Files = append(stats.Files, path)
			}
			out.WriteString(line)
			continue
		}
		if redactFile && (inHunk || strings.HasPrefix(line, "@@")) {
			if !inHunk {
				out.WriteString(pathPlaceholder + "\n")
				inHunk = true
			}
			continue
		}
		redacted, n := r.Secrets(line)
		stats.Secrets += n
		out.WriteString(redacted)
	}
	return out.String(), stats
}

// pathFromHeader extracts the new-side path from a "diff --git a/x b/y" line.
func pathFromHeader(line string) string {
	line = strings.TrimRight(line, "\r\n")
	if idx := strings.LastIndex(line, " b/"); idx >= 0 {
		return line[idx+3:]
	}
	fields := strings.Fields(line)
	return fields[len(fields)-1]
}

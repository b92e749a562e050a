package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/statemade/diffreview/internal/review"
)

// TextWriter outputs the comment body followed by a run summary.
type TextWriter struct{}

func (t *TextWriter) Write(w io.Writer, report *review.Report) error {
	ew := &errWriter{w: w}

	switch {
	case report.Comment != "":
		ew.println(strings.TrimRight(report.Comment, "\n"))
	case report.Input.Chars == 0:
		ew.println("Empty diff, nothing to review.")
	default:
		ew.println("No review text was produced.")
	}

	ew.println("")
	ew.println(strings.Repeat("─", 60))
	source := report.Input.Source
	if report.Input.Range != "" {
		source += " " + report.Input.Range
	}
	ew.printf("%s %s | run %s | provider %s\n", report.Tool, report.Version, report.RunID, report.Provider)
	ew.printf("Input: %s, %d chars", strings.TrimSpace(source), report.Input.Chars)
	if report.Input.Chunks > 0 {
		ew.printf(", %d chunks (~%d tokens)", report.Input.Chunks, report.Input.Tokens)
	}
	ew.println("")

	if report.Oversized {
		ew.println("Status: not reviewed, diff exceeds the size limit")
	} else if report.Input.Chunks > 0 {
		ew.printf("Chunks: %d submitted, %d succeeded, %d failed\n",
			report.Summary.Submitted, report.Summary.Succeeded, report.Summary.Failed)
		for _, c := range report.Chunks {
			switch {
			case !c.Submitted:
				ew.printf("  chunk %d: not submitted\n", c.Index)
			case c.Error != "":
				ew.printf("  chunk %d: failed after %dms: %s\n", c.Index, c.DurationMs, c.Error)
			}
		}
	}
	if r := report.Redaction; r != nil && (r.Secrets > 0 || len(r.Files) > 0) {
		ew.printf("Redacted: %d secrets", r.Secrets)
		if len(r.Files) > 0 {
			ew.printf(", files %s", strings.Join(r.Files, ", "))
		}
		ew.println("")
	}

	ew.printf("Completed in %dms (prime: %dms, dispatch: %dms)\n",
		report.Timing.TotalMs, report.Timing.PrimeMs, report.Timing.DispatchMs)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first error.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...interface{}) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func (ew *errWriter) println(s string) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintln(ew.w, s)
}

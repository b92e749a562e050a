package output

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/statemade/diffreview/internal/review"
)

func TestTextWriter_Comment(t *testing.T) {
	report := &review.Report{
		Tool:     "diffreview",
		Version:  "1.0",
		RunID:    "run-1",
		Provider: "azure",
		Input:    review.InputInfo{Source: "stdin", Chars: 9000, Chunks: 4, Tokens: 2250},
		Comment:  "Overall this looks fine.\n",
		Chunks: []review.ChunkOutcome{
			{Index: 0, Submitted: true},
			{Index: 1, Submitted: true, Error: "server error: overloaded", DurationMs: 1200},
			{Index: 2, Submitted: true},
			{Index: 3, Submitted: false},
		},
		Summary: review.Summary{Submitted: 3, Succeeded: 2, Failed: 1},
		Timing:  review.Timing{PrimeMs: 2100, DispatchMs: 5000, TotalMs: 7200},
	}

	var buf bytes.Buffer
	if err := (&TextWriter{}).Write(&buf, report); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	out := buf.String()

	if !strings.HasPrefix(out, "Overall this looks fine.\n") {
		t.Errorf("Output should start with the comment, got:\n%s", out)
	}
	for _, want := range []string{
		"4 chunks (~2250 tokens)",
		"Chunks: 3 submitted, 2 succeeded, 1 failed",
		"chunk 1: failed after 1200ms: server error: overloaded",
		"chunk 3: not submitted",
		"Completed in 7200ms",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Output should contain %q, got:\n%s", want, out)
		}
	}
}

func TestTextWriter_Oversized(t *testing.T) {
	report := &review.Report{
		Tool:      "diffreview",
		Input:     review.InputInfo{Chars: 60000},
		Oversized: true,
		Comment:   review.OversizedMessage(50000),
	}

	var buf bytes.Buffer
	if err := (&TextWriter{}).Write(&buf, report); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if !strings.Contains(buf.String(), "Max size for the diff is 50000 characters.") {
		t.Error("Output should include the oversized warning")
	}
	if !strings.Contains(buf.String(), "not reviewed") {
		t.Error("Output should state the diff was not reviewed")
	}
}

func TestTextWriter_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := (&TextWriter{}).Write(&buf, &review.Report{Tool: "diffreview"}); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if !strings.Contains(buf.String(), "Empty diff") {
		t.Errorf("got:\n%s", buf.String())
	}
}

func TestGetWriter(t *testing.T) {
	for _, f := range Formats {
		if _, err := GetWriter(f); err != nil {
			t.Errorf("GetWriter(%q) error: %v", f, err)
		}
	}
	if _, err := GetWriter("sarif"); err == nil {
		t.Error("Expected error for unsupported format")
	}
}

func TestWriteReport_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	var stdout bytes.Buffer
	report := &review.Report{Tool: "diffreview", Comment: "hi"}

	if err := WriteReport(report, "json", path, &stdout); err != nil {
		t.Fatalf("WriteReport error: %v", err)
	}
	if stdout.Len() != 0 {
		t.Error("nothing should be written to stdout when a file is given")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	if !strings.Contains(string(data), `"comment": "hi"`) {
		t.Errorf("file content = %s", data)
	}
}

func TestWriteReport_Stdout(t *testing.T) {
	var stdout bytes.Buffer
	if err := WriteReport(&review.Report{Comment: "hello"}, "text", "", &stdout); err != nil {
		t.Fatalf("WriteReport error: %v", err)
	}
	if !strings.HasPrefix(stdout.String(), "hello\n") {
		t.Errorf("stdout = %q", stdout.String())
	}
}

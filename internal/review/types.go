package review

// InputInfo describes what was reviewed.
type InputInfo struct {
	Source string `json:"source"`
	Range  string `json:"range,omitempty"`
	Chars  int    `json:"chars"`
	Chunks int    `json:"chunks"`
	Tokens int    `json:"tokens,omitempty"`
}

// RedactionInfo records what was removed before the diff left the machine.
type RedactionInfo struct {
	Secrets int      `json:"secrets"`
	Files   []string `json:"files,omitempty"`
}

// ChunkOutcome is the per-chunk record of a dispatch.
type ChunkOutcome struct {
	Index      int    `json:"index"`
	Chars      int    `json:"chars"`
	Tokens     int    `json:"tokens"`
	Submitted  bool   `json:"submitted"`
	Events     int    `json:"events"`
	Bytes      int    `json:"bytes"`
	DurationMs int64  `json:"durationMs"`
	Error      string `json:"error,omitempty"`
}

// Summary counts chunk outcomes.
type Summary struct {
	Submitted int `json:"submitted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Timing contains performance metrics.
type Timing struct {
	PrimeMs    int64 `json:"primeMs"`
	DispatchMs int64 `json:"dispatchMs"`
	TotalMs    int64 `json:"totalMs"`
}

// Report is the top-level output structure.
type Report struct {
	Tool      string         `json:"tool"`
	Version   string         `json:"version"`
	RunID     string         `json:"runId"`
	Provider  string         `json:"provider"`
	Input     InputInfo      `json:"input"`
	Oversized bool           `json:"oversized"`
	Redaction *RedactionInfo `json:"redaction,omitempty"`
	Comment   string         `json:"comment"`
	Chunks    []ChunkOutcome `json:"chunks"`
	Summary   Summary        `json:"summary"`
	Timing    Timing         `json:"timing"`
}

// Complete reports whether every chunk was submitted and succeeded. An
// oversized or empty input is complete: there was nothing to review.
func (r *Report) Complete() bool {
	for _, c := range r.Chunks {
		if !c.Submitted || c.Error != "" {
			return false
		}
	}
	return true
}

// HasComment reports whether the run produced something worth posting.
func (r *Report) HasComment() bool {
	return r.Comment != ""
}

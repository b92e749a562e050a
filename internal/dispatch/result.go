package dispatch

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidOptions is returned when Options violate the dispatcher's
// preconditions.
var ErrInvalidOptions = errors.New("invalid dispatch options")

// Options controls a single Dispatch call.
type Options struct {
	// Limit is the maximum number of chunk streams open at once. Must be >= 1.
	Limit int
	// Delay is slept after every chunk is started, including the last.
	Delay time.Duration
	// MaxTokens caps each completion. Zero leaves the provider default.
	MaxTokens int
	// Timeout bounds each chunk's stream. Zero means no bound.
	Timeout time.Duration
	// Ordered makes the aggregate the in-order concatenation of each
	// chunk's text instead of arrival order.
	Ordered bool
}

func (o Options) validate() error {
	if o.Limit < 1 {
		return fmt.Errorf("%w: limit must be at least 1, got %d", ErrInvalidOptions, o.Limit)
	}
	if o.Delay < 0 {
		return fmt.Errorf("%w: delay must not be negative, got %s", ErrInvalidOptions, o.Delay)
	}
	if o.Timeout < 0 {
		return fmt.Errorf("%w: timeout must not be negative, got %s", ErrInvalidOptions, o.Timeout)
	}
	return nil
}

// ChunkResult describes what happened to one chunk.
type ChunkResult struct {
	Index     int
	Submitted bool
	Events    int
	Bytes     int
	Duration  time.Duration
	Err       error
}

// Result is the aggregate of a Dispatch call.
type Result struct {
	// Text is every streamed delta, concatenated. Failed chunks contribute
	// whatever they streamed before failing.
	Text   string
	Chunks []ChunkResult
}

// Failed returns the chunks that were submitted and ended with an error.
func (r *Result) Failed() []ChunkResult {
	var failed []ChunkResult
	for _, c := range r.Chunks {
		if c.Submitted && c.Err != nil {
			failed = append(failed, c)
		}
	}
	return failed
}

// Complete reports whether every chunk was submitted and succeeded.
func (r *Result) Complete() bool {
	for _, c := range r.Chunks {
		if !c.Submitted || c.Err != nil {
			return false
		}
	}
	return true
}

// Submitted returns the number of chunks that were started.
func (r *Result) Submitted() int {
	n := 0
	for _, c := range r.Chunks {
		if c.Submitted {
			n++
		}
	}
	return n
}

package dispatch

import (
	"strings"
	"sync"
)

// sink accumulates streamed text from concurrently running chunks.
type sink interface {
	append(index int, text string)
	finish(index int)
	String() string
}

func newSink(n int, ordered bool) sink {
	if ordered {
		return &orderedSink{
			pending: make([]strings.Builder, n),
			done:    make([]bool, n),
		}
	}
	return &arrivalSink{}
}

// arrivalSink appends text in the order it is received, so deltas from
// concurrent chunks may interleave.
type arrivalSink struct {
	mu  sync.Mutex
	out strings.Builder
}

func (s *arrivalSink) append(_ int, text string) {
	s.mu.Lock()
	s.out.WriteString(text)
	s.mu.Unlock()
}

func (s *arrivalSink) finish(int) {}

func (s *arrivalSink) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.String()
}

// orderedSink writes the lowest unfinished chunk straight through and
// buffers the rest until every earlier chunk has finished.
type orderedSink struct {
	mu      sync.Mutex
	out     strings.Builder
	pending []strings.Builder
	done    []bool
	next    int
}

func (s *orderedSink) append(index int, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index == s.next {
		s.out.WriteString(text)
		return
	}
	s.pending[index].WriteString(text)
}

func (s *orderedSink) finish(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done[index] = true
	for s.next < len(s.done) && s.done[s.next] {
		s.next++
		if s.next < len(s.pending) {
			s.out.WriteString(s.pending[s.next].String())
			s.pending[s.next].Reset()
		}
	}
}

// String returns the flushed text followed by anything still buffered for
// chunks that never finished, in index order.
func (s *orderedSink) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b strings.Builder
	b.WriteString(s.out.String())
	for i := s.next + 1; i < len(s.pending); i++ {
		b.WriteString(s.pending[i].String())
	}
	return b.String()
}

package tokenizer

import (
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Counter counts tokens in text.
type Counter interface {
	Count(text string) int
	Name() string
}

// modelEncodings maps model name prefixes to their tiktoken encoding.
// Azure deployments are named freely, so unknown names fall back to
// cl100k_base.
var modelEncodings = []struct {
	prefix   string
	encoding string
}{
	{"gpt-4o", "o200k_base"},
	{"gpt-4.1", "o200k_base"},
	{"o1", "o200k_base"},
	{"o3", "o200k_base"},
	{"gpt-4", "cl100k_base"},
	{"gpt-35", "cl100k_base"},
	{"gpt-3.5", "cl100k_base"},
}

const defaultEncoding = "cl100k_base"

// EncodingFor returns the tiktoken encoding name for a model.
func EncodingFor(model string) string {
	m := strings.ToLower(model)
	for _, e := range modelEncodings {
		if strings.HasPrefix(m, e.prefix) {
			return e.encoding
		}
	}
	return defaultEncoding
}

// DefaultLoadTimeout bounds how long loading an encoding may take before
// counts fall back to Estimate.
const DefaultLoadTimeout = 10 * time.Second

// getEncoding loads an encoding, downloading its ranks file when it is not
// cached.
var getEncoding = tiktoken.GetEncoding

// Tiktoken counts tokens with a BPE encoding. The encoding is loaded on
// first use, which may download its ranks file; if loading fails or takes
// longer than the load timeout every count falls back to Estimate.
type Tiktoken struct {
	encoding string
	timeout  time.Duration
	once     sync.Once
	enc      *tiktoken.Tiktoken
	initErr  error
}

// Option configures a Tiktoken counter.
type Option func(*Tiktoken)

// WithLoadTimeout overrides DefaultLoadTimeout. A non-positive d keeps the
// default.
func WithLoadTimeout(d time.Duration) Option {
	return func(t *Tiktoken) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// NewTiktoken creates a counter for model.
func NewTiktoken(model string, opts ...Option) *Tiktoken {
	t := &Tiktoken{encoding: EncodingFor(model), timeout: DefaultLoadTimeout}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type loadResult struct {
	enc *tiktoken.Tiktoken
	err error
}

func (t *Tiktoken) init() error {
	t.once.Do(func() {
		// The download takes no context; a stalled one is abandoned.
		done := make(chan loadResult, 1)
		go func() {
			enc, err := getEncoding(t.encoding)
			done <- loadResult{enc: enc, err: err}
		}()

		timer := time.NewTimer(t.timeout)
		defer timer.Stop()
		select {
		case r := <-done:
			if r.err != nil {
				t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, r.err)
				return
			}
			t.enc = r.enc
		case <-timer.C:
			t.initErr = fmt.Errorf("init tiktoken encoding %s: timed out after %s", t.encoding, t.timeout)
		}
	})
	return t.initErr
}

// Err reports why the encoding could not be loaded, if it could not.
func (t *Tiktoken) Err() error {
	return t.init()
}

func (t *Tiktoken) Count(text string) int {
	if err := t.init(); err != nil {
		return Estimate(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

func (t *Tiktoken) Name() string {
	if t.init() != nil {
		return "estimate"
	}
	return t.encoding
}

// Estimator is the Counter used when no encoding is available.
type Estimator struct{}

func (Estimator) Count(text string) int { return Estimate(text) }
func (Estimator) Name() string          { return "estimate" }

// Estimate approximates the token count as one token per four characters,
// rounded up.
func Estimate(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

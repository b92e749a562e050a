package review

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/statemade/diffreview/internal/dispatch"
	"github.com/statemade/diffreview/internal/metrics"
	"github.com/statemade/diffreview/internal/providers"
	"github.com/statemade/diffreview/internal/redact"
	"github.com/statemade/diffreview/internal/tokenizer"
)

// Tool is the name recorded in every report.
const Tool = "diffreview"

// Options controls a review run.
type Options struct {
	ChunkSize     int
	MaxInputChars int
	Limit         int
	Delay         time.Duration
	MaxTokens     int
	Timeout       time.Duration
	Ordered       bool
	Prime         bool
	PrimeDelay    time.Duration
	Redact        bool
	RedactPaths   []string
}

// Input is the diff to review and where it came from.
type Input struct {
	Source string
	Range  string
	Diff   string
}

// Engine runs reviews against one provider.
type Engine struct {
	streamer   providers.Streamer
	dispatcher *dispatch.Dispatcher
	redactor   *redact.Redactor
	counter    tokenizer.Counter
	logger     *zap.Logger
	version    string
	opts       Options
	sleep      func(context.Context, time.Duration) error
}

// EngineOption configures an Engine.
type EngineOption func(*engineConfig)

type engineConfig struct {
	logger  *zap.Logger
	metrics *metrics.Collector
	counter tokenizer.Counter
	version string
}

// WithLogger sets the engine's logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(c *engineConfig) { c.logger = l }
}

// WithMetrics records dispatch metrics on m.
func WithMetrics(m *metrics.Collector) EngineOption {
	return func(c *engineConfig) { c.metrics = m }
}

// WithTokenizer sets the token counter used for chunk estimates.
func WithTokenizer(t tokenizer.Counter) EngineOption {
	return func(c *engineConfig) { c.counter = t }
}

// WithVersion sets the version recorded in reports.
func WithVersion(v string) EngineOption {
	return func(c *engineConfig) { c.version = v }
}

// NewEngine creates an Engine that streams through s.
func NewEngine(s providers.Streamer, opts Options, eopts ...EngineOption) *Engine {
	cfg := engineConfig{
		logger:  zap.NewNop(),
		counter: tokenizer.Estimator{},
		version: "dev",
	}
	for _, o := range eopts {
		o(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}

	return &Engine{
		streamer: s,
		dispatcher: dispatch.New(s,
			dispatch.WithLogger(cfg.logger),
			dispatch.WithMetrics(cfg.metrics),
		),
		redactor: redact.New(opts.RedactPaths),
		counter:  cfg.counter,
		logger:   cfg.logger.With(zap.String("component", "review")),
		version:  cfg.version,
		opts:     opts,
		sleep:    sleepContext,
	}
}

// Run reviews in.Diff and returns the report. The report's Comment is the
// text to post: the aggregated review, the oversized warning, or empty
// when the diff is empty.
//
// Provider failures never fail the run; they are recorded per chunk. Run
// returns an error only for invalid options or when ctx is cancelled, in
// which case the partial report is returned as well.
func (e *Engine) Run(ctx context.Context, in Input) (*Report, error) {
	start := time.Now()
	report := &Report{
		Tool:     Tool,
		Version:  e.version,
		RunID:    uuid.NewString(),
		Provider: e.streamer.Name(),
		Input: InputInfo{
			Source: in.Source,
			Range:  in.Range,
			Chars:  utf8.RuneCountInString(in.Diff),
		},
		Chunks: []ChunkOutcome{},
	}
	defer func() { report.Timing.TotalMs = time.Since(start).Milliseconds() }()

	log := e.logger.With(zap.String("run_id", report.RunID))
	log.Info("diff received", zap.Int("chars", report.Input.Chars), zap.String("source", in.Source))

	if in.Diff == "" {
		log.Info("empty diff, nothing to review")
		return report, nil
	}

	if e.opts.MaxInputChars > 0 && report.Input.Chars > e.opts.MaxInputChars {
		report.Oversized = true
		report.Comment = OversizedMessage(e.opts.MaxInputChars)
		log.Warn("diff too large to review",
			zap.Int("chars", report.Input.Chars),
			zap.Int("max", e.opts.MaxInputChars))
		return report, nil
	}

	diff := in.Diff
	if e.opts.Redact {
		var stats redact.Stats
		diff, stats = e.redactor.Diff(diff)
		report.Redaction = &RedactionInfo{Secrets: stats.Secrets, Files: stats.Files}
		if stats.Secrets > 0 || len(stats.Files) > 0 {
			log.Info("redacted diff", zap.Int("secrets", stats.Secrets), zap.Strings("files", stats.Files))
		}
	}

	chunks := BuildChunks(diff, e.opts.ChunkSize)
	report.Input.Chunks = len(chunks)
	report.Chunks = make([]ChunkOutcome, len(chunks))
	for i, c := range chunks {
		tokens := e.counter.Count(c)
		report.Chunks[i] = ChunkOutcome{Index: i, Chars: utf8.RuneCountInString(c), Tokens: tokens}
		report.Input.Tokens += tokens
	}
	log.Info("diff split",
		zap.Int("chunks", len(chunks)),
		zap.Int("chunk_size", e.opts.ChunkSize),
		zap.Int("estimated_tokens", report.Input.Tokens),
		zap.String("tokenizer", e.counter.Name()),
	)

	if e.opts.Prime {
		primeStart := time.Now()
		if err := e.prime(ctx, log); err != nil {
			report.Timing.PrimeMs = time.Since(primeStart).Milliseconds()
			return report, err
		}
		report.Timing.PrimeMs = time.Since(primeStart).Milliseconds()
	}

	dispatchStart := time.Now()
	res, err := e.dispatcher.Dispatch(ctx, chunks, dispatch.Options{
		Limit:     e.opts.Limit,
		Delay:     e.opts.Delay,
		MaxTokens: e.opts.MaxTokens,
		Timeout:   e.opts.Timeout,
		Ordered:   e.opts.Ordered,
	})
	report.Timing.DispatchMs = time.Since(dispatchStart).Milliseconds()
	if res == nil {
		return report, fmt.Errorf("dispatching chunks: %w", err)
	}

	report.Comment = res.Text
	for _, cr := range res.Chunks {
		out := &report.Chunks[cr.Index]
		out.Submitted = cr.Submitted
		out.Events = cr.Events
		out.Bytes = cr.Bytes
		out.DurationMs = cr.Duration.Milliseconds()
		if cr.Err != nil {
			out.Error = cr.Err.Error()
		}
	}
	report.Summary = summarize(report.Chunks)

	log.Info("review finished",
		zap.Int("submitted", report.Summary.Submitted),
		zap.Int("failed", report.Summary.Failed),
		zap.Int("comment_bytes", len(report.Comment)),
	)
	if err != nil {
		return report, fmt.Errorf("dispatching chunks: %w", err)
	}
	return report, nil
}

// prime sends the preamble call after PrimeDelay. Its output is logged and
// otherwise discarded; only cancellation of ctx is returned.
func (e *Engine) prime(ctx context.Context, log *zap.Logger) error {
	log.Debug("sleeping", zap.Duration("delay", e.opts.PrimeDelay))
	if err := e.sleep(ctx, e.opts.PrimeDelay); err != nil {
		return err
	}

	var (
		b       strings.Builder
		callErr error
	)
	for ev := range e.streamer.Stream(ctx, PrimeRequest(e.opts.MaxTokens)) {
		if ev.Err != nil {
			callErr = ev.Err
			continue
		}
		b.WriteString(ev.Text())
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if callErr != nil {
		log.Warn("priming call failed", zap.Error(callErr))
		return nil
	}
	log.Info("priming response", zap.String("text", b.String()))
	return nil
}

func summarize(chunks []ChunkOutcome) Summary {
	var s Summary
	for _, c := range chunks {
		if !c.Submitted {
			continue
		}
		s.Submitted++
		if c.Error != "" {
			s.Failed++
		} else {
			s.Succeeded++
		}
	}
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

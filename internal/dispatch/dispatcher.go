package dispatch

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/statemade/diffreview/internal/metrics"
	"github.com/statemade/diffreview/internal/providers"
)

const tracerName = "github.com/statemade/diffreview/internal/dispatch"

// Dispatcher submits chunks to a single Streamer.
type Dispatcher struct {
	streamer providers.Streamer
	logger   *zap.Logger
	metrics  *metrics.Collector
	tracer   trace.Tracer

	sleep      func(context.Context, time.Duration) error
	afterChunk func(ChunkResult)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMetrics records submissions on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(d *Dispatcher) { d.metrics = c }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) {
		if t != nil {
			d.tracer = t
		}
	}
}

// New creates a Dispatcher for s.
func New(s providers.Streamer, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		streamer: s,
		logger:   zap.NewNop(),
		tracer:   otel.Tracer(tracerName),
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(zap.String("component", "dispatch"))
	return d
}

// Dispatch submits chunks in order and returns the aggregated text once
// every submitted chunk has finished.
//
// An empty chunk list returns an empty Result without calling the provider.
// Chunk failures are recorded on the Result and never returned as an error.
// If ctx is cancelled, no further chunks are started, running chunks
// observe the cancellation, and the partial Result is returned with
// ctx.Err().
func (d *Dispatcher) Dispatch(ctx context.Context, chunks []string, opts Options) (*Result, error) {
	res := &Result{Chunks: make([]ChunkResult, len(chunks))}
	for i := range res.Chunks {
		res.Chunks[i].Index = i
	}
	if len(chunks) == 0 {
		return res, nil
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	ctx, span := d.tracer.Start(ctx, "dispatch.batch", trace.WithAttributes(
		attribute.Int("dispatch.chunks", len(chunks)),
		attribute.Int("dispatch.limit", opts.Limit),
		attribute.Int64("dispatch.delay_ms", opts.Delay.Milliseconds()),
		attribute.Bool("dispatch.ordered", opts.Ordered),
	))
	defer span.End()

	d.logger.Info("dispatching chunks",
		zap.Int("chunks", len(chunks)),
		zap.Int("limit", opts.Limit),
		zap.Duration("delay", opts.Delay),
		zap.Bool("ordered", opts.Ordered),
	)

	start := time.Now()
	out := newSink(len(chunks), opts.Ordered)
	sem := semaphore.NewWeighted(int64(opts.Limit))
	var (
		wg     sync.WaitGroup
		runErr error
	)

	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		// A slot is always free here: the previous iteration waited for one.
		if err := sem.Acquire(ctx, 1); err != nil {
			runErr = err
			break
		}

		res.Chunks[i].Submitted = true
		task := d.open(ctx, i, chunk, opts)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer sem.Release(1)
			res.Chunks[i] = d.collect(task, out)
		}(i)

		if !sem.TryAcquire(1) {
			d.logger.Debug("in-flight limit reached, waiting for a chunk to finish",
				zap.Int("chunk", i), zap.Int("limit", opts.Limit))
			if err := sem.Acquire(ctx, 1); err != nil {
				runErr = err
				break
			}
		}
		sem.Release(1)

		d.logger.Debug("sleeping", zap.Duration("delay", opts.Delay), zap.Int("chunk", i))
		if err := d.sleep(ctx, opts.Delay); err != nil {
			runErr = err
			break
		}
	}

	wg.Wait()
	res.Text = out.String()

	failed := len(res.Failed())
	span.SetAttributes(
		attribute.Int("dispatch.submitted", res.Submitted()),
		attribute.Int("dispatch.failed", failed),
	)
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "dispatch cancelled")
	}

	d.logger.Info("dispatch finished",
		zap.Int("submitted", res.Submitted()),
		zap.Int("failed", failed),
		zap.Int("bytes", len(res.Text)),
		zap.Duration("elapsed", time.Since(start)),
	)

	return res, runErr
}

// task is an opened chunk stream waiting to be drained.
type task struct {
	index  int
	ctx    context.Context
	cancel context.CancelFunc
	span   trace.Span
	events <-chan providers.StreamEvent
	start  time.Time
}

// open starts the stream for one chunk. It runs on the dispatching
// goroutine so streams are opened in input order.
func (d *Dispatcher) open(ctx context.Context, index int, chunk string, opts Options) *task {
	ctx, span := d.tracer.Start(ctx, "dispatch.chunk", trace.WithAttributes(
		attribute.Int("chunk.index", index),
		attribute.Int("chunk.chars", len(chunk)),
	))

	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	d.metrics.SubmissionStarted()
	events := d.streamer.Stream(ctx, providers.StreamRequest{
		Messages:  []providers.Message{{Role: providers.RoleUser, Content: chunk}},
		MaxTokens: opts.MaxTokens,
	})

	return &task{
		index:  index,
		ctx:    ctx,
		cancel: cancel,
		span:   span,
		events: events,
		start:  time.Now(),
	}
}

// collect drains a chunk stream into out. The stream is always read to
// completion so the provider goroutine can exit.
func (d *Dispatcher) collect(t *task, out sink) ChunkResult {
	defer t.cancel()
	defer t.span.End()

	cr := ChunkResult{Index: t.index, Submitted: true}
	for ev := range t.events {
		if ev.Err != nil {
			if cr.Err == nil {
				cr.Err = ev.Err
			}
			continue
		}
		cr.Events++
		text := ev.Text()
		if text == "" {
			continue
		}
		cr.Bytes += len(text)
		out.append(t.index, text)
	}
	if cr.Err == nil && t.ctx.Err() != nil {
		cr.Err = t.ctx.Err()
	}
	out.finish(t.index)
	cr.Duration = time.Since(t.start)

	t.span.SetAttributes(
		attribute.Int("chunk.events", cr.Events),
		attribute.Int("chunk.bytes", cr.Bytes),
	)
	outcome := metrics.OutcomeSuccess
	if cr.Err != nil {
		outcome = metrics.OutcomeFailed
		t.span.RecordError(cr.Err)
		t.span.SetStatus(codes.Error, "chunk stream failed")
		d.logger.Error("chunk failed",
			zap.Int("chunk", t.index),
			zap.Int("bytes", cr.Bytes),
			zap.Duration("duration", cr.Duration),
			zap.Error(cr.Err),
		)
	} else {
		d.logger.Debug("chunk finished",
			zap.Int("chunk", t.index),
			zap.Int("events", cr.Events),
			zap.Int("bytes", cr.Bytes),
			zap.Duration("duration", cr.Duration),
		)
	}
	d.metrics.SubmissionFinished(outcome, cr.Bytes, cr.Duration)

	if d.afterChunk != nil {
		d.afterChunk(cr)
	}
	return cr
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

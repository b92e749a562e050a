package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/statemade/diffreview/internal/metrics"
	"github.com/statemade/diffreview/internal/providers"
)

// mockStreamer records every Stream call and answers through respond.
type mockStreamer struct {
	mu          sync.Mutex
	calls       []string
	inFlight    int
	maxInFlight int
	respond     func(ctx context.Context, content string, out chan<- providers.StreamEvent)
}

func (m *mockStreamer) Name() string { return "mock" }

func (m *mockStreamer) Stream(ctx context.Context, req providers.StreamRequest) <-chan providers.StreamEvent {
	content := req.Messages[0].Content
	m.mu.Lock()
	m.calls = append(m.calls, content)
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	m.mu.Unlock()

	out := make(chan providers.StreamEvent)
	go func() {
		defer close(out)
		defer func() {
			m.mu.Lock()
			m.inFlight--
			m.mu.Unlock()
		}()
		if m.respond != nil {
			m.respond(ctx, content, out)
			return
		}
		echo(ctx, content, out)
	}()
	return out
}

func (m *mockStreamer) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func echo(ctx context.Context, content string, out chan<- providers.StreamEvent) {
	send(ctx, out, providers.StreamEvent{Choices: []providers.Choice{{Delta: content}}})
}

func send(ctx context.Context, out chan<- providers.StreamEvent, ev providers.StreamEvent) {
	select {
	case out <- ev:
	case <-ctx.Done():
	}
}

func noSleep(context.Context, time.Duration) error { return nil }

func newTestDispatcher(s providers.Streamer, opts ...Option) *Dispatcher {
	d := New(s, opts...)
	d.sleep = noSleep
	return d
}

func TestDispatch_EmptyInput(t *testing.T) {
	s := &mockStreamer{}
	d := newTestDispatcher(s)

	res, err := d.Dispatch(context.Background(), nil, Options{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, "", res.Text)
	assert.Empty(t, res.Chunks)
	assert.Empty(t, s.Calls())
	assert.True(t, res.Complete())
}

func TestDispatch_InvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"zero limit", Options{Limit: 0}},
		{"negative limit", Options{Limit: -1}},
		{"negative delay", Options{Limit: 1, Delay: -time.Second}},
		{"negative timeout", Options{Limit: 1, Timeout: -time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &mockStreamer{}
			_, err := newTestDispatcher(s).Dispatch(context.Background(), []string{"a"}, tt.opts)
			assert.ErrorIs(t, err, ErrInvalidOptions)
			assert.Empty(t, s.Calls())
		})
	}
}

func TestDispatch_EachChunkOnce(t *testing.T) {
	s := &mockStreamer{}
	res, err := newTestDispatcher(s).Dispatch(context.Background(), []string{"a", "b", "c"}, Options{Limit: 2})
	require.NoError(t, err)

	assert.Len(t, res.Text, 3)
	for _, c := range []string{"a", "b", "c"} {
		assert.Equal(t, 1, strings.Count(res.Text, c), "chunk %q", c)
	}
	assert.Equal(t, []string{"a", "b", "c"}, s.Calls())
	assert.True(t, res.Complete())
	assert.Equal(t, 3, res.Submitted())
}

func TestDispatch_MaxTokensAndRole(t *testing.T) {
	var got []providers.StreamRequest
	var mu sync.Mutex
	s := &recordingStreamer{onStream: func(req providers.StreamRequest) {
		mu.Lock()
		got = append(got, req)
		mu.Unlock()
	}}

	_, err := newTestDispatcher(s).Dispatch(context.Background(), []string{"x"}, Options{Limit: 1, MaxTokens: 2000})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2000, got[0].MaxTokens)
	require.Len(t, got[0].Messages, 1)
	assert.Equal(t, providers.RoleUser, got[0].Messages[0].Role)
	assert.Equal(t, "x", got[0].Messages[0].Content)
}

type recordingStreamer struct {
	onStream func(providers.StreamRequest)
}

func (r *recordingStreamer) Name() string { return "recording" }

func (r *recordingStreamer) Stream(_ context.Context, req providers.StreamRequest) <-chan providers.StreamEvent {
	r.onStream(req)
	out := make(chan providers.StreamEvent)
	close(out)
	return out
}

func TestDispatch_LimitOnePreservesOrder(t *testing.T) {
	s := &mockStreamer{respond: func(ctx context.Context, content string, out chan<- providers.StreamEvent) {
		// Earlier chunks take longer, so any overlap would reorder the text.
		time.Sleep(time.Duration(5-len(content)) * time.Millisecond)
		for _, r := range content {
			send(ctx, out, providers.StreamEvent{Choices: []providers.Choice{{Delta: string(r)}}})
		}
	}}
	chunks := []string{"a", "bb", "ccc", "dddd"}

	res, err := newTestDispatcher(s).Dispatch(context.Background(), chunks, Options{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, "abbcccdddd", res.Text)
	assert.Equal(t, 1, s.maxInFlight)
}

func TestDispatch_InFlightNeverExceedsLimit(t *testing.T) {
	for _, limit := range []int{1, 2, 3, 5} {
		s := &mockStreamer{respond: func(ctx context.Context, content string, out chan<- providers.StreamEvent) {
			time.Sleep(2 * time.Millisecond)
			echo(ctx, content, out)
		}}
		chunks := make([]string, 12)
		for i := range chunks {
			chunks[i] = "x"
		}

		res, err := newTestDispatcher(s).Dispatch(context.Background(), chunks, Options{Limit: limit})
		require.NoError(t, err)
		assert.LessOrEqual(t, s.maxInFlight, limit, "limit %d", limit)
		assert.Len(t, res.Text, len(chunks))
	}
}

// secondFinishesFirst makes chunk "a" wait until chunk "b" has been fully
// collected, so b's text always arrives first.
func secondFinishesFirst(t *testing.T, ordered bool) string {
	t.Helper()
	bCollected := make(chan struct{})
	s := &mockStreamer{respond: func(ctx context.Context, content string, out chan<- providers.StreamEvent) {
		if content == "a" {
			select {
			case <-bCollected:
			case <-ctx.Done():
				return
			}
		}
		echo(ctx, content, out)
	}}
	d := newTestDispatcher(s)
	d.afterChunk = func(cr ChunkResult) {
		if cr.Index == 1 {
			close(bCollected)
		}
	}

	res, err := d.Dispatch(context.Background(), []string{"a", "b"}, Options{Limit: 2, Ordered: ordered})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, s.Calls())
	return res.Text
}

func TestDispatch_ArrivalOrder(t *testing.T) {
	assert.Equal(t, "ba", secondFinishesFirst(t, false))
}

func TestDispatch_OrderedMode(t *testing.T) {
	assert.Equal(t, "ab", secondFinishesFirst(t, true))
}

func TestDispatch_FailingChunkDoesNotFailBatch(t *testing.T) {
	boom := errors.New("boom")
	s := &mockStreamer{respond: func(ctx context.Context, content string, out chan<- providers.StreamEvent) {
		if content == "b" {
			send(ctx, out, providers.StreamEvent{Choices: []providers.Choice{{Delta: "partial"}}})
			send(ctx, out, providers.StreamEvent{Err: boom})
			return
		}
		echo(ctx, content, out)
	}}

	core, logs := observer.New(zapcore.DebugLevel)
	d := newTestDispatcher(s, WithLogger(zap.New(core)))

	res, err := d.Dispatch(context.Background(), []string{"a", "b", "c"}, Options{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, "apartialc", res.Text)
	assert.False(t, res.Complete())

	failed := res.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, 1, failed[0].Index)
	assert.ErrorIs(t, failed[0].Err, boom)

	entries := logs.FilterMessage("chunk failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, "dispatch", entries[0].ContextMap()["component"])
}

func TestDispatch_EmptyDeltasContributeNothing(t *testing.T) {
	s := &mockStreamer{respond: func(ctx context.Context, content string, out chan<- providers.StreamEvent) {
		send(ctx, out, providers.StreamEvent{})
		send(ctx, out, providers.StreamEvent{Choices: []providers.Choice{{Index: 0}}})
		echo(ctx, content, out)
	}}

	res, err := newTestDispatcher(s).Dispatch(context.Background(), []string{"a"}, Options{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, "a", res.Text)
	assert.Equal(t, 3, res.Chunks[0].Events)
	assert.Equal(t, 1, res.Chunks[0].Bytes)
}

func TestDispatch_DelayAfterEveryChunk(t *testing.T) {
	s := &mockStreamer{}
	d := New(s)
	var mu sync.Mutex
	var slept []time.Duration
	d.sleep = func(_ context.Context, dur time.Duration) error {
		mu.Lock()
		slept = append(slept, dur)
		mu.Unlock()
		return nil
	}

	_, err := d.Dispatch(context.Background(), []string{"a", "b", "c"}, Options{Limit: 2, Delay: time.Second})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Second, time.Second, time.Second}, slept)
}

func TestDispatch_RealDelay(t *testing.T) {
	s := &mockStreamer{}
	start := time.Now()
	_, err := New(s).Dispatch(context.Background(), []string{"a", "b"}, Options{Limit: 2, Delay: 20 * time.Millisecond})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestDispatch_TimeoutFreesSlot(t *testing.T) {
	s := &mockStreamer{respond: func(ctx context.Context, content string, out chan<- providers.StreamEvent) {
		if content == "stall" {
			<-ctx.Done()
			return
		}
		echo(ctx, content, out)
	}}

	res, err := newTestDispatcher(s).Dispatch(context.Background(), []string{"stall", "b"},
		Options{Limit: 1, Timeout: 20 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, "b", res.Text)
	require.Len(t, res.Failed(), 1)
	assert.ErrorIs(t, res.Chunks[0].Err, context.DeadlineExceeded)
	assert.NoError(t, res.Chunks[1].Err)
}

func TestDispatch_Cancellation(t *testing.T) {
	s := &mockStreamer{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := New(s)
	d.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	res, err := d.Dispatch(ctx, []string{"a", "b", "c"}, Options{Limit: 3})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.True(t, res.Chunks[0].Submitted)
	assert.False(t, res.Chunks[1].Submitted)
	assert.False(t, res.Chunks[2].Submitted)
	assert.Equal(t, []string{"a"}, s.Calls())
	assert.Equal(t, 1, res.Submitted())
	assert.False(t, res.Complete())
}

func TestDispatch_LogsPacing(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	s := &mockStreamer{}

	_, err := newTestDispatcher(s, WithLogger(zap.New(core))).Dispatch(
		context.Background(), []string{"a", "b"}, Options{Limit: 1, Delay: time.Second})
	require.NoError(t, err)

	sleeping := logs.FilterMessage("sleeping").All()
	require.Len(t, sleeping, 2)
	assert.Equal(t, time.Second, sleeping[0].ContextMap()["delay"])
	assert.Equal(t, 1, logs.FilterMessage("dispatching chunks").Len())
	assert.Equal(t, 1, logs.FilterMessage("dispatch finished").Len())
}

func TestDispatch_Metrics(t *testing.T) {
	m := metrics.NewCollector("test", zap.NewNop())
	s := &mockStreamer{respond: func(ctx context.Context, content string, out chan<- providers.StreamEvent) {
		if content == "bad" {
			send(ctx, out, providers.StreamEvent{Err: errors.New("nope")})
			return
		}
		echo(ctx, content, out)
	}}

	_, err := newTestDispatcher(s, WithMetrics(m)).Dispatch(context.Background(),
		[]string{"ok", "bad", "fine"}, Options{Limit: 2})
	require.NoError(t, err)

	expected := `
# HELP test_dispatch_in_flight Number of chunk submissions currently streaming
# TYPE test_dispatch_in_flight gauge
test_dispatch_in_flight 0
# HELP test_dispatch_submissions_total Total number of chunk submissions by outcome
# TYPE test_dispatch_submissions_total counter
test_dispatch_submissions_total{outcome="failed"} 1
test_dispatch_submissions_total{outcome="success"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"test_dispatch_in_flight", "test_dispatch_submissions_total"))
}

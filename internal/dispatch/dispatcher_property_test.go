package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/statemade/diffreview/internal/providers"
)

type chunkPlan struct {
	pieces  int
	latency time.Duration
	fail    bool
}

func drawPlans(t *rapid.T) ([]string, map[string]chunkPlan) {
	n := rapid.IntRange(0, 16).Draw(t, "chunks")
	chunks := make([]string, n)
	plans := make(map[string]chunkPlan, n)
	for i := range chunks {
		chunks[i] = fmt.Sprintf("<%d>", i)
		plans[chunks[i]] = chunkPlan{
			pieces:  rapid.IntRange(1, 3).Draw(t, fmt.Sprintf("pieces%d", i)),
			latency: time.Duration(rapid.IntRange(0, 2000).Draw(t, fmt.Sprintf("latency%d", i))) * time.Microsecond,
			fail:    rapid.Float64Range(0, 1).Draw(t, fmt.Sprintf("fail%d", i)) < 0.2,
		}
	}
	return chunks, plans
}

// planStreamer streams each chunk back in plan.pieces parts, then fails if
// the plan says so.
func planStreamer(plans map[string]chunkPlan) *mockStreamer {
	return &mockStreamer{respond: func(ctx context.Context, content string, out chan<- providers.StreamEvent) {
		p := plans[content]
		time.Sleep(p.latency)
		for _, piece := range split(content, p.pieces) {
			send(ctx, out, providers.StreamEvent{Choices: []providers.Choice{{Delta: piece}}})
		}
		if p.fail {
			send(ctx, out, providers.StreamEvent{Err: errors.New("planned failure")})
		}
	}}
}

func split(s string, n int) []string {
	if n > len(s) {
		n = len(s)
	}
	size := (len(s) + n - 1) / n
	var parts []string
	for len(s) > 0 {
		end := size
		if end > len(s) {
			end = len(s)
		}
		parts = append(parts, s[:end])
		s = s[end:]
	}
	return parts
}

func TestDispatch_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		chunks, plans := drawPlans(t)
		limit := rapid.IntRange(1, 5).Draw(t, "limit")
		ordered := rapid.Bool().Draw(t, "ordered")

		s := planStreamer(plans)
		res, err := newTestDispatcher(s).Dispatch(context.Background(), chunks, Options{Limit: limit, Ordered: ordered})
		require.NoError(t, err)

		// Submitted exactly once each, in input order.
		calls := s.Calls()
		if len(chunks) == 0 {
			require.Empty(t, calls)
		} else {
			require.Equal(t, chunks, calls)
		}
		require.LessOrEqual(t, s.maxInFlight, limit)

		wantFailed := 0
		for i, c := range chunks {
			require.True(t, res.Chunks[i].Submitted)
			if plans[c].fail {
				wantFailed++
				require.Error(t, res.Chunks[i].Err)
			} else {
				require.NoError(t, res.Chunks[i].Err)
			}
		}
		require.Len(t, res.Failed(), wantFailed)

		if ordered || limit == 1 {
			require.Equal(t, strings.Join(chunks, ""), res.Text)
			return
		}
		// Arrival order: every chunk's text is present, possibly interleaved.
		require.Equal(t, sortedRunes(strings.Join(chunks, "")), sortedRunes(res.Text))
	})
}

func sortedRunes(s string) string {
	r := []rune(s)
	sort.Slice(r, func(i, j int) bool { return r[i] < r[j] })
	return string(r)
}

func TestOrderedSink_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(t, "n")
		s := newSink(n, true)

		want := make([]string, n)
		// Random interleaving of appends and finishes across chunks.
		remaining := make([]int, n)
		for i := range remaining {
			remaining[i] = rapid.IntRange(0, 3).Draw(t, fmt.Sprintf("appends%d", i))
		}
		open := make([]int, n)
		for i := range open {
			open[i] = i
		}
		for len(open) > 0 {
			k := rapid.IntRange(0, len(open)-1).Draw(t, "pick")
			i := open[k]
			if remaining[i] > 0 {
				piece := fmt.Sprintf("%d.%d;", i, remaining[i])
				s.append(i, piece)
				want[i] += piece
				remaining[i]--
				continue
			}
			s.finish(i)
			open = append(open[:k], open[k+1:]...)
		}
		require.Equal(t, strings.Join(want, ""), s.String())
	})
}

package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCollector_Submissions(t *testing.T) {
	c := NewCollector("diffreview", zap.NewNop())

	c.SubmissionStarted()
	c.SubmissionStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(c.inFlight))

	c.SubmissionFinished(OutcomeSuccess, 120, 2*time.Second)
	c.SubmissionFinished(OutcomeFailed, 0, time.Second)

	assert.Equal(t, 0.0, testutil.ToFloat64(c.inFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.submissions.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.submissions.WithLabelValues(OutcomeFailed)))
	assert.Equal(t, 120.0, testutil.ToFloat64(c.streamedBytes))
	assert.Equal(t, 1, testutil.CollectAndCount(c.submissionDuration))
}

func TestCollector_GitHubAndLedger(t *testing.T) {
	c := NewCollector("diffreview", nil)

	c.GitHubRequest("post_comment", 201)
	c.GitHubRequest("post_comment", 201)
	c.LedgerLookup(true)
	c.LedgerLookup(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.githubRequests.WithLabelValues("post_comment", "201")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ledgerLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ledgerLookups.WithLabelValues("miss")))
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.SubmissionStarted()
		c.SubmissionFinished(OutcomeSuccess, 1, time.Millisecond)
		c.GitHubRequest("get_diff", 200)
		c.LedgerLookup(true)
	})
	assert.Nil(t, c.Registry())
	assert.NoError(t, c.WriteTextfile(filepath.Join(t.TempDir(), "m.prom")))
}

func TestCollector_WriteTextfile(t *testing.T) {
	c := NewCollector("diffreview", zap.NewNop())
	c.SubmissionStarted()
	c.SubmissionFinished(OutcomeSuccess, 10, time.Second)

	path := filepath.Join(t.TempDir(), "diffreview.prom")
	require.NoError(t, c.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `diffreview_dispatch_submissions_total{outcome="success"} 1`)
	assert.Contains(t, string(data), "diffreview_dispatch_streamed_bytes_total 10")
}

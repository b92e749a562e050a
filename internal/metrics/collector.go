package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Submission outcomes used as the "outcome" label.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)

// Collector owns a private registry and the metrics recorded during a run.
// All methods are safe on a nil *Collector so callers never need to check
// whether metrics are enabled.
type Collector struct {
	registry *prometheus.Registry

	inFlight           prometheus.Gauge
	submissions        *prometheus.CounterVec
	streamedBytes      prometheus.Counter
	submissionDuration prometheus.Histogram

	githubRequests *prometheus.CounterVec
	ledgerLookups  *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector creates a collector whose metrics are prefixed with namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	c := &Collector{
		registry: reg,
		logger:   logger.With(zap.String("component", "metrics")),
	}

	c.inFlight = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "dispatch_in_flight",
		Help:      "Number of chunk submissions currently streaming",
	})

	c.submissions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_submissions_total",
			Help:      "Total number of chunk submissions by outcome",
		},
		[]string{"outcome"},
	)

	c.streamedBytes = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dispatch_streamed_bytes_total",
		Help:      "Bytes of completion text received from the provider",
	})

	c.submissionDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "dispatch_submission_duration_seconds",
		Help:      "Time from opening a chunk stream until it closed",
		Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	c.githubRequests = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "github_requests_total",
			Help:      "GitHub API requests by operation and status code",
		},
		[]string{"operation", "status"},
	)

	c.ledgerLookups = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_lookups_total",
			Help:      "Duplicate-post ledger lookups by result",
		},
		[]string{"result"},
	)

	return c
}

// SubmissionStarted marks a chunk stream as opened.
func (c *Collector) SubmissionStarted() {
	if c == nil {
		return
	}
	c.inFlight.Inc()
}

// SubmissionFinished records a closed chunk stream.
func (c *Collector) SubmissionFinished(outcome string, bytes int, d time.Duration) {
	if c == nil {
		return
	}
	c.inFlight.Dec()
	c.submissions.WithLabelValues(outcome).Inc()
	c.streamedBytes.Add(float64(bytes))
	c.submissionDuration.Observe(d.Seconds())
}

// GitHubRequest records one GitHub API call. A status of 0 means the
// request failed before a response arrived.
func (c *Collector) GitHubRequest(operation string, status int) {
	if c == nil {
		return
	}
	c.githubRequests.WithLabelValues(operation, strconv.Itoa(status)).Inc()
}

// LedgerLookup records whether a ledger key had already been seen.
func (c *Collector) LedgerLookup(hit bool) {
	if c == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.ledgerLookups.WithLabelValues(result).Inc()
}

// Registry returns the collector's registry, or nil for a nil collector.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// WriteTextfile writes every gathered metric to path in the format read by
// node_exporter's textfile collector.
func (c *Collector) WriteTextfile(path string) error {
	if c == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("writing metrics file: %w", err)
	}
	c.logger.Debug("metrics written", zap.String("path", path))
	return nil
}

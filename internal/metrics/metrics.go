package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeTimeout = "timeout"
	OutcomeError   = "error"
)

// Metrics holds the counters and histograms for remote queries and batching.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	toolCalls     *prometheus.CounterVec
	toolDuration  *prometheus.HistogramVec
	batchAttempts *prometheus.CounterVec
	batchFailures prometheus.Counter
	fetches       *prometheus.CounterVec
	snapshots     prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "tool_calls_total",
			Help:      "Total number of remote tool calls by tool and outcome.",
		}, []string{"tool", "outcome"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vigil",
			Name:      "tool_call_duration_seconds",
			Help:      "Duration of remote tool calls including connect.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 180},
		}, []string{"tool"}),
		batchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "batch_attempts_total",
			Help:      "Total number of batch fetch attempts by outcome.",
		}, []string{"outcome"}),
		batchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "batches_exhausted_total",
			Help:      "Batches that contributed no records after all retries.",
		}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "fetches_total",
			Help:      "Merged fetches by mode (direct or batched) and coverage (full or degraded).",
		}, []string{"mode", "coverage"}),
		snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "snapshots_saved_total",
			Help:      "Dashboard snapshots persisted.",
		}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.toolCalls, m.toolDuration, m.batchAttempts, m.batchFailures, m.fetches, m.snapshots} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}

	return m, nil
}

// RecordToolCall records one remote call and its duration
func (m *Metrics) RecordToolCall(tool, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// RecordBatchAttempt records one attempt of one batch
func (m *Metrics) RecordBatchAttempt(err error) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	m.batchAttempts.WithLabelValues(outcome).Inc()
}

// RecordBatchExhausted records a batch that gave up after all retries
func (m *Metrics) RecordBatchExhausted() {
	if m == nil {
		return
	}
	m.batchFailures.Inc()
}

// RecordFetch records a completed merged fetch
func (m *Metrics) RecordFetch(direct, degraded bool) {
	if m == nil {
		return
	}
	mode, coverage := "batched", "full"
	if direct {
		mode = "direct"
	}
	if degraded {
		coverage = "degraded"
	}
	m.fetches.WithLabelValues(mode, coverage).Inc()
}

// RecordSnapshot records a persisted snapshot
func (m *Metrics) RecordSnapshot() {
	if m == nil {
		return
	}
	m.snapshots.Inc()
}

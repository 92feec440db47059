// Package metrics exposes Prometheus counters for pattern selection.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result labels for PatternRuns
const (
	ResultStarted   = "started"
	ResultNoPattern = "no_pattern"
	ResultFailed    = "failed"
	ResultDryRun    = "dry_run"
)

// Metrics holds the counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	PatternRuns   *prometheus.CounterVec
	FetchFailures *prometheus.CounterVec
}

// New registers the counters with reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		PatternRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "duneweaver_pattern_runs_total",
			Help: "Pattern actions by device, action, fallback stage and result",
		}, []string{"device", "action", "stage", "result"}),
		FetchFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "duneweaver_fetch_failures_total",
			Help: "Failed playlist or catalog fetches by device and source",
		}, []string{"device", "source"}),
	}
}

// ObserveRun counts one finished action
func (m *Metrics) ObserveRun(device, action, stage, result string) {
	if m == nil {
		return
	}
	m.PatternRuns.WithLabelValues(device, action, stage, result).Inc()
}

// ObserveFetchFailure counts one fetch that failed with a transport or decode error
func (m *Metrics) ObserveFetchFailure(device, source string) {
	if m == nil {
		return
	}
	m.FetchFailures.WithLabelValues(device, source).Inc()
}

// Package telemetry counts sync pipeline activity on a private Prometheus
// registry. A short-lived CLI has nothing to scrape it, so the counters are
// written to a node_exporter textfile when one is configured.
package telemetry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "codemie_sync"

// Metrics holds the pipeline counters
type Metrics struct {
	registry *prometheus.Registry

	Passes             *prometheus.CounterVec
	Deltas             *prometheus.CounterVec
	DeltaFailures      *prometheus.CounterVec
	Turns              *prometheus.CounterVec
	LockBusy           prometheus.Counter
	Correlations       *prometheus.CounterVec
	CorrelationRetries prometheus.Histogram
}

// New registers the counters on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passes_total",
			Help:      "Extraction passes by provider and result.",
		}, []string{"provider", "result"}),
		Deltas: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deltas_written_total",
			Help:      "Metric deltas written to the outbox.",
		}, []string{"provider"}),
		DeltaFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deltas_failed_total",
			Help:      "Metric deltas that could not be written.",
		}, []string{"provider"}),
		Turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_turns_total",
			Help:      "Conversation turns emitted, by kind.",
		}, []string{"provider", "kind"}),
		LockBusy: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_busy_total",
			Help:      "Passes skipped because another process held the session lock.",
		}),
		Correlations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "correlations_total",
			Help:      "Transcript correlation outcomes.",
		}, []string{"provider", "status"}),
		CorrelationRetries: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "correlation_retries",
			Help:      "Retries needed before correlation finished.",
			Buckets:   []float64{0, 1, 2, 3, 4, 5, 6, 7, 8},
		}),
	}
	m.registry.MustRegister(m.Passes, m.Deltas, m.DeltaFailures, m.Turns, m.LockBusy, m.Correlations, m.CorrelationRetries)
	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes the counters in the text exposition format. The
// write is atomic so a collector never reads a partial file.
func (m *Metrics) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create textfile dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write textfile: %w", err)
	}
	return nil
}

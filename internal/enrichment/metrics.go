package enrichment

import (
	"time"

	"github.com/erpops/incident-triage/internal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Enrichment outcomes.
const (
	outcomeSuccess     = "success"
	outcomeUnavailable = "unavailable"
	outcomeDisabled    = "disabled"
)

var (
	enrichmentRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "enrichment",
			Name:      "requests_total",
			Help:      "External analysis attempts by analyzer and outcome",
		},
		[]string{"analyzer", "outcome"},
	)

	enrichmentDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: "enrichment",
			Name:      "duration_seconds",
			Help:      "Time spent waiting for external analysis",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2, 3, 5, 10},
		},
		[]string{"analyzer"},
	)
)

func recordEnrichment(analyzer, outcome string) {
	enrichmentRequests.WithLabelValues(analyzer, outcome).Inc()
}

func recordEnrichmentDuration(analyzer string, d time.Duration) {
	enrichmentDuration.WithLabelValues(analyzer).Observe(d.Seconds())
}

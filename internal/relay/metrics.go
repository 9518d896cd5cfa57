// ABOUTME: Prometheus instruments for relay requests and lifecycle operations
// ABOUTME: Registered on a caller-supplied registry so tests stay isolated

package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the relay's instruments.
type Metrics struct {
	Requests         *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
	Segments         *prometheus.CounterVec
	Lifecycle        *prometheus.CounterVec
	LateResults      prometheus.Counter
}

// NewMetrics registers the relay instruments on reg. A nil reg gives
// unregistered instruments.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "coven",
				Subsystem: "relay",
				Name:      "requests_total",
				Help:      "Questions handled, by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		DispatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "coven",
				Subsystem: "relay",
				Name:      "dispatch_duration_seconds",
				Help:      "Completion provider round trip in seconds",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 100},
			},
			[]string{"provider"},
		),
		Segments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "coven",
				Subsystem: "relay",
				Name:      "segments_delivered_total",
				Help:      "Answer segments delivered, by channel",
			},
			[]string{"channel"},
		),
		Lifecycle: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "coven",
				Subsystem: "relay",
				Name:      "lifecycle_operations_total",
				Help:      "Privacy toggles and resets, by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		LateResults: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "coven",
				Subsystem: "relay",
				Name:      "late_results_discarded_total",
				Help:      "Completions that arrived after the request timeout",
			},
		),
	}
}

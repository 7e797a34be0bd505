// Package metrics exposes Prometheus collectors for the relay.
//
// All methods are safe on a nil *Metrics so components can run without
// instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "permit_relay"

// Metrics holds the relay collectors.
type Metrics struct {
	submissions   *prometheus.CounterVec
	retries       prometheus.Counter
	rejections    *prometheus.CounterVec
	outcomes      *prometheus.CounterVec
	observing     prometheus.Gauge
	settleLatency prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "executor",
				Name:      "submissions_total",
				Help:      "Submission attempts by result.",
			},
			[]string{"result"},
		),
		retries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "executor",
				Name:      "submission_retries_total",
				Help:      "Transient submission failures that were retried.",
			},
		),
		rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "executor",
				Name:      "rejections_total",
				Help:      "Requests rejected before broadcast, by error code.",
			},
			[]string{"code"},
		),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "observer",
				Name:      "outcomes_total",
				Help:      "Terminal request outcomes.",
			},
			[]string{"status"},
		),
		observing: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "observer",
				Name:      "inflight",
				Help:      "Requests currently being watched.",
			},
		),
		settleLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "observer",
				Name:      "settlement_duration_seconds",
				Help:      "Time from broadcast to a terminal outcome.",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~8.5m
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.submissions,
			m.retries,
			m.rejections,
			m.outcomes,
			m.observing,
			m.settleLatency,
		)
	}
	return m
}

// Handler exposes the collectors registered with gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Submitted records a broadcast result ("sent" or "failed").
func (m *Metrics) Submitted(result string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(result).Inc()
}

// Retried records one retried transient failure.
func (m *Metrics) Retried() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

// Rejected records a pre-broadcast rejection.
func (m *Metrics) Rejected(code string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(code).Inc()
}

// ObservationStarted increments the in-flight gauge.
func (m *Metrics) ObservationStarted() {
	if m == nil {
		return
	}
	m.observing.Inc()
}

// ObservationFinished records the terminal status and how long it took.
func (m *Metrics) ObservationFinished(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.observing.Dec()
	m.outcomes.WithLabelValues(status).Inc()
	m.settleLatency.Observe(elapsed.Seconds())
}

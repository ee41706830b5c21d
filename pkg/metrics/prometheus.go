package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	actionRuns      *prometheus.CounterVec
	ordersSubmitted *prometheus.CounterVec
	skips           *prometheus.CounterVec
	repairs         *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	latency         *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		actionRuns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deltabadger_action_runs_total",
				Help: "Total number of recurring action deliveries by outcome",
			},
			[]string{"status"},
		),
		ordersSubmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deltabadger_orders_submitted_total",
				Help: "Total number of orders submitted to an exchange",
			},
			[]string{"exchange", "symbol"},
		),
		skips: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deltabadger_skipped_actions_total",
				Help: "Total number of actions skipped below the exchange minimum",
			},
			[]string{"exchange", "symbol"},
		),
		repairs: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deltabadger_sweep_repairs_total",
				Help: "Total number of sweep repair attempts by outcome",
			},
			[]string{"outcome"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deltabadger_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "deltabadger_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordActionRun records the outcome of one delivered action.
func (r *Recorder) RecordActionRun(status string) {
	r.actionRuns.WithLabelValues(status).Inc()
}

// RecordOrderSubmitted records a successfully submitted order.
func (r *Recorder) RecordOrderSubmitted(exchange, symbol string) {
	r.ordersSubmitted.WithLabelValues(exchange, symbol).Inc()
}

// RecordSkip records an action skipped below the venue minimum.
func (r *Recorder) RecordSkip(exchange, symbol string) {
	r.skips.WithLabelValues(exchange, symbol).Inc()
}

// RecordRepair records a sweep repair attempt.
func (r *Recorder) RecordRepair(outcome string) {
	r.repairs.WithLabelValues(outcome).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

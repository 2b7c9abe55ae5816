package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	pollCycles   *prometheus.CounterVec
	fetchErrors  *prometheus.CounterVec
	verdicts     *prometheus.CounterVec
	lastPrice    *prometheus.GaugeVec
	backoffDelay prometheus.Gauge
	latency      *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		pollCycles: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_poll_cycles_total",
				Help: "Completed poll cycles by result",
			},
			[]string{"result"},
		),
		fetchErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		verdicts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_verdicts_total",
				Help: "Anomaly evaluations by method and outcome",
			},
			[]string{"method", "anomalous"},
		),
		lastPrice: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sentinel_last_price",
				Help: "Last recorded price for a symbol",
			},
			[]string{"symbol"},
		),
		backoffDelay: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sentinel_feed_backoff_seconds",
				Help: "Current feed backoff delay in seconds",
			},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sentinel_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordPollCycle records one completed poll cycle (ok, partial, rate_limited).
func (r *Recorder) RecordPollCycle(result string) {
	r.pollCycles.WithLabelValues(result).Inc()
}

// RecordFetchError records an error occurrence by kind.
func (r *Recorder) RecordFetchError(kind string) {
	r.fetchErrors.WithLabelValues(kind).Inc()
}

// RecordVerdict records one anomaly evaluation outcome.
func (r *Recorder) RecordVerdict(method string, anomalous bool) {
	outcome := "false"
	if anomalous {
		outcome = "true"
	}
	r.verdicts.WithLabelValues(method, outcome).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordBackoffDelay records the feed's current backoff delay.
func (r *Recorder) RecordBackoffDelay(seconds float64) {
	r.backoffDelay.Set(seconds)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

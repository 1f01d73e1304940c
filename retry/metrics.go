/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package retry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsLabelProvider = "provider"
	metricsLabelResult   = "result"
)

// MetricsCollector collects metrics of the retry supervisor.
type MetricsCollector interface {
	// IncAttempts increments the number of attempts by result ("success" or an error class).
	IncAttempts(provider, result string)

	// ObserveRetryDelay observes a computed delay before the next attempt.
	ObserveRetryDelay(provider string, delay time.Duration)

	// SetBreakerOpen sets the breaker state gauge (1 is open).
	SetBreakerOpen(provider string, open bool)

	// IncCircuitRejections increments the number of calls rejected by an open breaker.
	IncCircuitRejections(provider string)
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// DelayBuckets is a list of buckets for the retry delay histogram (in seconds).
	DelayBuckets []float64

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels
}

// PrometheusMetrics represents Prometheus metrics of the retry supervisor.
type PrometheusMetrics struct {
	AttemptsTotal          *prometheus.CounterVec
	RetryDelaySeconds      *prometheus.HistogramVec
	BreakerOpen            *prometheus.GaugeVec
	CircuitRejectionsTotal *prometheus.CounterVec
}

var _ MetricsCollector = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics creates a new instance of PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates a new instance of PrometheusMetrics with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	buckets := opts.DelayBuckets
	if buckets == nil {
		buckets = []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 30, 60}
	}
	return &PrometheusMetrics{
		AttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "probe_attempts_total",
			Help:        "Number of validation attempts by provider and result.",
			ConstLabels: opts.ConstLabels,
		}, []string{metricsLabelProvider, metricsLabelResult}),
		RetryDelaySeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   opts.Namespace,
			Name:        "probe_retry_delay_seconds",
			Help:        "Delay before a retried attempt.",
			Buckets:     buckets,
			ConstLabels: opts.ConstLabels,
		}, []string{metricsLabelProvider}),
		BreakerOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Name:        "provider_breaker_open",
			Help:        "Whether the provider circuit breaker is open (1) or closed (0).",
			ConstLabels: opts.ConstLabels,
		}, []string{metricsLabelProvider}),
		CircuitRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "provider_circuit_rejections_total",
			Help:        "Number of calls rejected because the provider circuit breaker was open.",
			ConstLabels: opts.ConstLabels,
		}, []string{metricsLabelProvider}),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(pm.AttemptsTotal, pm.RetryDelaySeconds, pm.BreakerOpen, pm.CircuitRejectionsTotal)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister(registerer prometheus.Registerer) {
	registerer.Unregister(pm.AttemptsTotal)
	registerer.Unregister(pm.RetryDelaySeconds)
	registerer.Unregister(pm.BreakerOpen)
	registerer.Unregister(pm.CircuitRejectionsTotal)
}

// IncAttempts implements MetricsCollector.
func (pm *PrometheusMetrics) IncAttempts(provider, result string) {
	pm.AttemptsTotal.WithLabelValues(provider, result).Inc()
}

// ObserveRetryDelay implements MetricsCollector.
func (pm *PrometheusMetrics) ObserveRetryDelay(provider string, delay time.Duration) {
	pm.RetryDelaySeconds.WithLabelValues(provider).Observe(delay.Seconds())
}

// SetBreakerOpen implements MetricsCollector.
func (pm *PrometheusMetrics) SetBreakerOpen(provider string, open bool) {
	var v float64
	if open {
		v = 1
	}
	pm.BreakerOpen.WithLabelValues(provider).Set(v)
}

// IncCircuitRejections implements MetricsCollector.
func (pm *PrometheusMetrics) IncCircuitRejections(provider string) {
	pm.CircuitRejectionsTotal.WithLabelValues(provider).Inc()
}

type disabledMetrics struct{}

func (disabledMetrics) IncAttempts(string, string)              {}
func (disabledMetrics) ObserveRetryDelay(string, time.Duration) {}
func (disabledMetrics) SetBreakerOpen(string, bool)             {}
func (disabledMetrics) IncCircuitRejections(string)             {}

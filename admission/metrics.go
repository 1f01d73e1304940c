/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package admission

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsLabelReason = "reason"

// MetricsCollector collects metrics of the concurrency controller.
type MetricsCollector interface {
	SetLimit(limit int)
	SetRunning(running int)
	SetWaiting(waiting int)
	IncAdjustments(reason Reason)
	ObserveAcquireWait(d time.Duration)
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// WaitBuckets is a list of buckets for the acquire wait histogram (in seconds).
	WaitBuckets []float64

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels
}

// PrometheusMetrics represents Prometheus metrics of the concurrency controller.
type PrometheusMetrics struct {
	Limit              prometheus.Gauge
	SlotsInUse         prometheus.Gauge
	Waiting            prometheus.Gauge
	AdjustmentsTotal   *prometheus.CounterVec
	AcquireWaitSeconds prometheus.Histogram
}

var _ MetricsCollector = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics creates a new instance of PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates a new instance of PrometheusMetrics with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	buckets := opts.WaitBuckets
	if buckets == nil {
		buckets = []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30}
	}
	return &PrometheusMetrics{
		Limit: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Name:        "admission_limit",
			Help:        "Current admission limit.",
			ConstLabels: opts.ConstLabels,
		}),
		SlotsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Name:        "admission_slots_in_use",
			Help:        "Number of live admission slots.",
			ConstLabels: opts.ConstLabels,
		}),
		Waiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Name:        "admission_waiting",
			Help:        "Number of callers waiting for an admission slot.",
			ConstLabels: opts.ConstLabels,
		}),
		AdjustmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "admission_adjustments_total",
			Help:        "Number of limit adjustments by reason.",
			ConstLabels: opts.ConstLabels,
		}, []string{metricsLabelReason}),
		AcquireWaitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   opts.Namespace,
			Name:        "admission_acquire_wait_seconds",
			Help:        "Time spent waiting for an admission slot.",
			Buckets:     buckets,
			ConstLabels: opts.ConstLabels,
		}),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(pm.Limit, pm.SlotsInUse, pm.Waiting, pm.AdjustmentsTotal, pm.AcquireWaitSeconds)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister(registerer prometheus.Registerer) {
	registerer.Unregister(pm.Limit)
	registerer.Unregister(pm.SlotsInUse)
	registerer.Unregister(pm.Waiting)
	registerer.Unregister(pm.AdjustmentsTotal)
	registerer.Unregister(pm.AcquireWaitSeconds)
}

// SetLimit implements MetricsCollector.
func (pm *PrometheusMetrics) SetLimit(limit int) {
	pm.Limit.Set(float64(limit))
}

// SetRunning implements MetricsCollector.
func (pm *PrometheusMetrics) SetRunning(running int) {
	pm.SlotsInUse.Set(float64(running))
}

// SetWaiting implements MetricsCollector.
func (pm *PrometheusMetrics) SetWaiting(waiting int) {
	pm.Waiting.Set(float64(waiting))
}

// IncAdjustments implements MetricsCollector.
func (pm *PrometheusMetrics) IncAdjustments(reason Reason) {
	pm.AdjustmentsTotal.WithLabelValues(string(reason)).Inc()
}

// ObserveAcquireWait implements MetricsCollector.
func (pm *PrometheusMetrics) ObserveAcquireWait(d time.Duration) {
	pm.AcquireWaitSeconds.Observe(d.Seconds())
}

type disabledMetrics struct{}

func (disabledMetrics) SetLimit(int)                     {}
func (disabledMetrics) SetRunning(int)                   {}
func (disabledMetrics) SetWaiting(int)                   {}
func (disabledMetrics) IncAdjustments(Reason)            {}
func (disabledMetrics) ObserveAcquireWait(time.Duration) {}

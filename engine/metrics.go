/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/acronis/go-keyprobe/admission"
	"github.com/acronis/go-keyprobe/httpclient"
	"github.com/acronis/go-keyprobe/probe"
	"github.com/acronis/go-keyprobe/retry"
)

// MetricsCollector collects metrics of the dispatcher.
type MetricsCollector interface {
	IncResults(provider string, status probe.Status)
	ObserveRunDuration(d time.Duration)
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels
}

// PrometheusMetrics bundles Prometheus metrics of the dispatcher and of every engine component.
type PrometheusMetrics struct {
	ResultsTotal       *prometheus.CounterVec
	RunDurationSeconds prometheus.Histogram

	Admission *admission.PrometheusMetrics
	Retry     *retry.PrometheusMetrics
	HTTP      *httpclient.PrometheusMetricsCollector
}

var _ MetricsCollector = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics creates a new instance of PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates a new instance of PrometheusMetrics with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	return &PrometheusMetrics{
		ResultsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "task_results_total",
			Help:        "Number of credentials that reached a terminal status.",
			ConstLabels: opts.ConstLabels,
		}, []string{"provider", "status"}),
		RunDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   opts.Namespace,
			Name:        "run_duration_seconds",
			Help:        "Duration of validation runs.",
			Buckets:     []float64{1, 5, 10, 30, 60, 300, 900, 1800, 3600},
			ConstLabels: opts.ConstLabels,
		}),
		Admission: admission.NewPrometheusMetricsWithOpts(admission.PrometheusMetricsOpts{
			Namespace: opts.Namespace, ConstLabels: opts.ConstLabels,
		}),
		Retry: retry.NewPrometheusMetricsWithOpts(retry.PrometheusMetricsOpts{
			Namespace: opts.Namespace, ConstLabels: opts.ConstLabels,
		}),
		HTTP: httpclient.NewPrometheusMetricsCollector(opts.Namespace),
	}
}

// MustRegister registers all metrics in the registerer.
func (pm *PrometheusMetrics) MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(pm.ResultsTotal, pm.RunDurationSeconds)
	pm.Admission.MustRegister(registerer)
	pm.Retry.MustRegister(registerer)
	pm.HTTP.MustRegister(registerer)
}

// Unregister unregisters all metrics from the registerer.
func (pm *PrometheusMetrics) Unregister(registerer prometheus.Registerer) {
	registerer.Unregister(pm.ResultsTotal)
	registerer.Unregister(pm.RunDurationSeconds)
	pm.Admission.Unregister(registerer)
	pm.Retry.Unregister(registerer)
	pm.HTTP.Unregister(registerer)
}

// IncResults implements MetricsCollector.
func (pm *PrometheusMetrics) IncResults(provider string, status probe.Status) {
	pm.ResultsTotal.WithLabelValues(provider, string(status)).Inc()
}

// ObserveRunDuration implements MetricsCollector.
func (pm *PrometheusMetrics) ObserveRunDuration(d time.Duration) {
	pm.RunDurationSeconds.Observe(d.Seconds())
}

type disabledMetrics struct{}

func (disabledMetrics) IncResults(string, probe.Status)  {}
func (disabledMetrics) ObserveRunDuration(time.Duration) {}

/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Merge results.
const (
	MergeResultLeader  = "leader"
	MergeResultJoined  = "joined"
	MergeResultExpired = "expired"
)

// MetricsCollector is an interface for collecting metrics of the connection/request layer.
type MetricsCollector interface {
	// RequestDuration observes the duration of the request and the status code.
	RequestDuration(requestType, host, summary, status string, startTime time.Time)

	// SetConnections sets the number of live pooled connections to the host.
	SetConnections(host string, n int)

	// IncPoolExhausted counts acquires that timed out waiting for a connection.
	IncPoolExhausted(host string)

	// IncMerged counts requests passed through the merger by result.
	IncMerged(result string)
}

// PrometheusMetricsCollector exposes the connection/request layer metrics to Prometheus.
type PrometheusMetricsCollector struct {
	Durations     *prometheus.HistogramVec
	Connections   *prometheus.GaugeVec
	PoolExhausted *prometheus.CounterVec
	Merged        *prometheus.CounterVec
}

var _ MetricsCollector = (*PrometheusMetricsCollector)(nil)

// NewPrometheusMetricsCollector creates the collector, metrics are named "<namespace>_http_client_*".
func NewPrometheusMetricsCollector(namespace string) *PrometheusMetricsCollector {
	return &PrometheusMetricsCollector{
		Durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_client_request_duration_seconds",
			Help:      "A histogram of the http client requests durations.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"type", "remote_address", "summary", "status"}),
		Connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_client_pooled_connections",
			Help:      "Number of live pooled connections per host.",
		}, []string{"remote_address"}),
		PoolExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_client_pool_exhausted_total",
			Help:      "Number of connection acquires that timed out.",
		}, []string{"remote_address"}),
		Merged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_client_merged_requests_total",
			Help:      "Number of requests passed through the request merger.",
		}, []string{"result"}),
	}
}

// MustRegister registers all metrics of the collector.
func (p *PrometheusMetricsCollector) MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(p.Durations, p.Connections, p.PoolExhausted, p.Merged)
}

// Unregister unregisters all metrics of the collector.
func (p *PrometheusMetricsCollector) Unregister(registerer prometheus.Registerer) {
	for _, c := range []prometheus.Collector{p.Durations, p.Connections, p.PoolExhausted, p.Merged} {
		registerer.Unregister(c)
	}
}

// RequestDuration implements MetricsCollector.
func (p *PrometheusMetricsCollector) RequestDuration(requestType, host, summary, status string, start time.Time) {
	p.Durations.WithLabelValues(requestType, host, summary, status).Observe(time.Since(start).Seconds())
}

// SetConnections implements MetricsCollector.
func (p *PrometheusMetricsCollector) SetConnections(host string, n int) {
	p.Connections.WithLabelValues(host).Set(float64(n))
}

// IncPoolExhausted implements MetricsCollector.
func (p *PrometheusMetricsCollector) IncPoolExhausted(host string) {
	p.PoolExhausted.WithLabelValues(host).Inc()
}

// IncMerged implements MetricsCollector.
func (p *PrometheusMetricsCollector) IncMerged(result string) {
	p.Merged.WithLabelValues(result).Inc()
}

type disabledMetrics struct{}

func (disabledMetrics) RequestDuration(string, string, string, string, time.Time) {}
func (disabledMetrics) SetConnections(string, int)                                {}
func (disabledMetrics) IncPoolExhausted(string)                                   {}
func (disabledMetrics) IncMerged(string)                                          {}

// SummarizeFunc returns a low-cardinality summary of the request for the "summary" label.
// It must not include path parameters, model names or anything else unbounded.
type SummarizeFunc func(r *http.Request, requestType string) string

// DefaultSummarize summarizes a request as "<method> <request type>", e.g. "GET openai".
func DefaultSummarize(r *http.Request, requestType string) string {
	return r.Method + " " + requestType
}

// MetricsRoundTripperOpts represents options for MetricsRoundTripper.
type MetricsRoundTripperOpts struct {
	// RequestType labels requests whose context carries no request type.
	RequestType string

	// Collector receives the observations. Requests pass through unmeasured when it's nil.
	Collector MetricsCollector

	// Summarize builds the "summary" label, DefaultSummarize is used if nil.
	Summarize SummarizeFunc
}

// MetricsRoundTripper observes duration and status of every request passed to Delegate.
type MetricsRoundTripper struct {
	Delegate http.RoundTripper
	Opts     MetricsRoundTripperOpts
}

// NewMetricsRoundTripperWithOpts wraps delegate into a MetricsRoundTripper.
func NewMetricsRoundTripperWithOpts(delegate http.RoundTripper, opts MetricsRoundTripperOpts) http.RoundTripper {
	if opts.RequestType == "" {
		opts.RequestType = DefaultRequestType
	}
	if opts.Summarize == nil {
		opts.Summarize = DefaultSummarize
	}
	return &MetricsRoundTripper{Delegate: delegate, Opts: opts}
}

// RoundTrip passes the request on and observes it. Transport errors get the "0" status.
func (rt *MetricsRoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	if rt.Opts.Collector == nil {
		return rt.Delegate.RoundTrip(r)
	}

	start := time.Now()
	resp, err := rt.Delegate.RoundTrip(r)
	status := "0"
	if err == nil && resp != nil {
		status = strconv.Itoa(resp.StatusCode)
	}

	requestType := GetRequestTypeFromContext(r.Context())
	if requestType == "" {
		requestType = rt.Opts.RequestType
	}
	rt.Opts.Collector.RequestDuration(requestType, r.URL.Host, rt.Opts.Summarize(r, requestType), status, start)
	return resp, err
}

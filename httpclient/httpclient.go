/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/acronis/go-keyprobe/log"
)

// DefaultRequestType is the request type used in metrics and logs when neither options nor the context set one.
const DefaultRequestType = "probe"

// CloneHTTPRequest creates a shallow copy of the request along with a deep copy of the Headers.
func CloneHTTPRequest(req *http.Request) *http.Request {
	r := new(http.Request)
	*r = *req
	r.Header = CloneHTTPHeader(req.Header)
	return r
}

// CloneHTTPHeader creates a deep copy of an http.Header.
func CloneHTTPHeader(in http.Header) http.Header {
	if in == nil {
		return nil
	}
	out := make(http.Header, len(in))
	for key, values := range in {
		newValues := make([]string, len(values))
		copy(newValues, values)
		out[key] = newValues
	}
	return out
}

// Opts provides options for NewWithOpts.
type Opts struct {
	// RequestType is a type of request used in metrics and logs, e.g. the provider name.
	// NewContextWithRequestType overrides it per request.
	RequestType string

	// Logger is used for request logs and pool events.
	Logger log.FieldLogger

	// LoggerProvider is a function that provides a context-specific logger.
	LoggerProvider func(ctx context.Context) log.FieldLogger

	// RequestIDProvider is a function that provides a request ID.
	RequestIDProvider func(ctx context.Context) string

	// Collector is a metrics collector. Metrics are not collected when it is nil.
	Collector MetricsCollector

	// Clock is used by the pool and the merger.
	Clock func() time.Time

	// NewConnTransport creates the transport of a new pooled connection.
	NewConnTransport func(host string) *http.Transport
}

// Client is an HTTP client sending requests through the pooled and merging Transport.
type Client struct {
	HTTP      *http.Client
	Transport *Transport
}

// Do sends an HTTP request and returns an HTTP response.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.HTTP.Do(req)
}

// Close closes the connection pool.
func (c *Client) Close() {
	c.Transport.Close()
}

// New creates a client with default options and returns an error if any occurs.
func New(cfg *Config) (*Client, error) {
	return NewWithOpts(cfg, Opts{})
}

// NewWithOpts creates a client whose transport chain is:
// request id, user agent, logging -> Transport (merging, pooling) -> metrics, rate limiting -> network.
// Metrics and rate limits apply to real network calls, so a merged group is counted once.
func NewWithOpts(cfg *Config, opts Opts) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid connection config: %w", err)
	}

	var rateLimiting *RateLimitingRoundTripper
	if len(cfg.RateLimits) > 0 {
		var err error
		if rateLimiting, err = NewRateLimitingRoundTripper(nil, cfg.RateLimits); err != nil {
			return nil, fmt.Errorf("create rate limiting round tripper: %w", err)
		}
	}
	middleware := func(next http.RoundTripper) http.RoundTripper {
		if rateLimiting != nil {
			rateLimiting.Delegate = next
			next = rateLimiting
		}
		if cfg.Metrics.Enabled && opts.Collector != nil {
			next = NewMetricsRoundTripperWithOpts(next, MetricsRoundTripperOpts{
				RequestType: opts.RequestType,
				Collector:   opts.Collector,
			})
		}
		return next
	}

	var metrics MetricsCollector
	if cfg.Metrics.Enabled {
		metrics = opts.Collector
	}
	transport, err := NewTransport(*cfg, TransportOpts{
		Logger:           opts.Logger,
		Metrics:          metrics,
		Clock:            opts.Clock,
		NewConnTransport: opts.NewConnTransport,
		Middleware:       middleware,
	})
	if err != nil {
		return nil, err
	}
	var delegate http.RoundTripper = transport
	if cfg.Logger.Mode != LoggingModeNone && (opts.Logger != nil || opts.LoggerProvider != nil) {
		delegate = NewLoggingRoundTripperWithOpts(delegate, LoggingRoundTripperOpts{
			Logger:               opts.Logger,
			LoggerProvider:       opts.LoggerProvider,
			Mode:                 cfg.Logger.Mode,
			SlowRequestThreshold: cfg.Logger.SlowRequestThreshold,
		})
	}
	if cfg.UserAgent != "" {
		delegate = NewUserAgentRoundTripper(delegate, cfg.UserAgent, UserAgentUpdateStrategySetIfEmpty)
	}
	delegate = NewRequestIDRoundTripper(delegate, opts.RequestIDProvider)

	return &Client{HTTP: &http.Client{Transport: delegate, Timeout: cfg.Timeout}, Transport: transport}, nil
}

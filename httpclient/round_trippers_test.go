/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-keyprobe/internal/ratelimit"
	"github.com/acronis/go-keyprobe/log"
	"github.com/acronis/go-keyprobe/log/logtest"
	"github.com/acronis/go-keyprobe/probe"
	"github.com/acronis/go-keyprobe/testutil"
)

func doRequest(t *testing.T, rt http.RoundTripper, ctx context.Context, url string) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	require.NoError(t, err)
	resp, err := (&http.Client{Transport: rt}).Do(req)
	if err == nil {
		_ = resp.Body.Close()
	}
	return resp, err
}

func TestLoggingRoundTripper(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fail" {
			rw.WriteHeader(http.StatusUnauthorized)
			return
		}
		rw.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	t.Run("failed mode logs failed requests only", func(t *testing.T) {
		logger := logtest.NewRecorder()
		rt := NewLoggingRoundTripperWithOpts(http.DefaultTransport, LoggingRoundTripperOpts{
			Logger: logger,
			Mode:   LoggingModeFailed,
		})
		_, err := doRequest(t, rt, context.Background(), server.URL+"/ok")
		require.NoError(t, err)
		require.Empty(t, logger.Entries())

		ctx := NewContextWithRequestType(context.Background(), "anthropic")
		_, err = doRequest(t, rt, ctx, server.URL+"/fail")
		require.NoError(t, err)
		entry, found := logger.FindEntry("client http request")
		require.True(t, found)
		require.Equal(t, log.LevelWarn, entry.Level)
		require.Equal(t, "anthropic", entry.StringField("request_type"))
		statusField, found := entry.FindField("status")
		require.True(t, found)
		require.Equal(t, int64(http.StatusUnauthorized), statusField.Int)
	})

	t.Run("all mode", func(t *testing.T) {
		logger := logtest.NewRecorder()
		rt := NewLoggingRoundTripperWithOpts(http.DefaultTransport, LoggingRoundTripperOpts{
			Logger: logger,
			Mode:   LoggingModeAll,
		})
		_, err := doRequest(t, rt, context.Background(), server.URL+"/ok")
		require.NoError(t, err)
		entry, found := logger.FindEntry("client http request")
		require.True(t, found)
		require.Equal(t, log.LevelInfo, entry.Level)
		require.Equal(t, server.URL+"/ok", entry.StringField("url"))
	})

	t.Run("slow request threshold", func(t *testing.T) {
		logger := logtest.NewRecorder()
		rt := NewLoggingRoundTripperWithOpts(http.DefaultTransport, LoggingRoundTripperOpts{
			Logger:               logger,
			Mode:                 LoggingModeAll,
			SlowRequestThreshold: time.Hour,
		})
		_, err := doRequest(t, rt, context.Background(), server.URL+"/fail")
		require.NoError(t, err)
		require.Empty(t, logger.Entries())
	})

	t.Run("transport error", func(t *testing.T) {
		serverURL := "http://" + testutil.GetLocalAddrWithFreeTCPPort()
		logger := logtest.NewRecorder()
		rt := NewLoggingRoundTripperWithOpts(http.DefaultTransport, LoggingRoundTripperOpts{Logger: logger})
		_, err := doRequest(t, rt, context.Background(), serverURL)
		require.Error(t, err)
		entry, found := logger.FindEntry("client http request failed")
		require.True(t, found)
		require.Equal(t, log.LevelError, entry.Level)
		_, found = entry.FindField("status")
		require.False(t, found)
	})
}

func TestMetricsRoundTripper(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusTeapot)
	}))
	defer server.Close()

	collector := NewPrometheusMetricsCollector("")
	registry := prometheus.NewRegistry()
	collector.MustRegister(registry)
	defer collector.Unregister(registry)

	rt := NewMetricsRoundTripperWithOpts(http.DefaultTransport, MetricsRoundTripperOpts{
		RequestType: "openai",
		Collector:   collector,
	})
	_, err := doRequest(t, rt, context.Background(), server.URL)
	require.NoError(t, err)

	host := server.Listener.Addr().String()
	hist := collector.Durations.WithLabelValues("openai", host, "GET openai", "418").(prometheus.Histogram)
	testutil.RequireSamplesCountInHistogram(t, hist, 1)

	rt = NewMetricsRoundTripperWithOpts(http.DefaultTransport, MetricsRoundTripperOpts{
		Collector: collector,
		Summarize: func(r *http.Request, requestType string) string { return "list models" },
	})
	ctx := NewContextWithRequestType(context.Background(), "anthropic")
	_, err = doRequest(t, rt, ctx, server.URL)
	require.NoError(t, err)
	hist = collector.Durations.WithLabelValues("anthropic", host, "list models", "418").(prometheus.Histogram)
	testutil.RequireSamplesCountInHistogram(t, hist, 1)
}

func TestRateLimitingRoundTripper(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	host := server.Listener.Addr().String()

	t.Run("wait timeout is a rate limit failure", func(t *testing.T) {
		rt, err := NewRateLimitingRoundTripper(http.DefaultTransport, []RateLimitRule{{
			Hosts: ratelimit.HostList{"127.0.0.1:*"},
			Rate:  ratelimit.Rate{Count: 1, Duration: time.Minute},
		}})
		require.NoError(t, err)

		_, err = doRequest(t, rt, context.Background(), server.URL)
		require.NoError(t, err)
		_, err = doRequest(t, rt, context.Background(), server.URL)
		var waitErr *RateLimitingWaitError
		require.ErrorAs(t, err, &waitErr)
		require.ErrorIs(t, err, probe.ErrRateLimit)
		require.Equal(t, probe.ClassRateLimit, probe.Classify(err).Class)
	})

	t.Run("waits within timeout", func(t *testing.T) {
		rt, err := NewRateLimitingRoundTripper(http.DefaultTransport, []RateLimitRule{{
			Hosts:       ratelimit.HostList{host},
			Rate:        ratelimit.Rate{Count: 20, Duration: time.Second},
			WaitTimeout: time.Second,
		}})
		require.NoError(t, err)

		start := time.Now()
		for i := 0; i < 3; i++ {
			_, err = doRequest(t, rt, context.Background(), server.URL)
			require.NoError(t, err)
		}
		require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	})

	t.Run("other hosts are not limited", func(t *testing.T) {
		rt, err := NewRateLimitingRoundTripper(http.DefaultTransport, []RateLimitRule{{
			Hosts: ratelimit.HostList{"api.openai.com"},
			Rate:  ratelimit.Rate{Count: 1, Duration: time.Minute},
		}})
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			_, err = doRequest(t, rt, context.Background(), server.URL)
			require.NoError(t, err)
		}
	})

	t.Run("invalid rule", func(t *testing.T) {
		_, err := NewRateLimitingRoundTripper(http.DefaultTransport, []RateLimitRule{{Hosts: ratelimit.HostList{"a"}}})
		require.EqualError(t, err, "create host rate limiter: rule #0: rate should be set")
	})
}

func TestHeaderRoundTrippers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("X-User-Agent", r.Header.Get("User-Agent"))
		rw.Header().Set("X-Got-Request-ID", r.Header.Get(HeaderRequestID))
		rw.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	t.Run("user agent", func(t *testing.T) {
		tests := []struct {
			name     string
			current  string
			strategy UserAgentUpdateStrategy
			want     string
		}{
			{name: "set if empty", strategy: UserAgentUpdateStrategySetIfEmpty, want: "keyprobe/1.0"},
			{name: "set if empty, existing", current: "curl/8", strategy: UserAgentUpdateStrategySetIfEmpty, want: "curl/8"},
			{name: "append", current: "curl/8", strategy: UserAgentUpdateStrategyAppend, want: "curl/8 keyprobe/1.0"},
			{name: "prepend", current: "curl/8", strategy: UserAgentUpdateStrategyPrepend, want: "keyprobe/1.0 curl/8"},
			{name: "prepend, empty", strategy: UserAgentUpdateStrategyPrepend, want: "keyprobe/1.0"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				rt := NewUserAgentRoundTripper(http.DefaultTransport, "keyprobe/1.0", tt.strategy)
				req, err := http.NewRequest(http.MethodGet, server.URL, http.NoBody)
				require.NoError(t, err)
				// A present but empty header stops net/http from sending its default User-Agent.
				req.Header["User-Agent"] = nil
				if tt.current != "" {
					req.Header.Set("User-Agent", tt.current)
				}
				resp, err := rt.RoundTrip(req)
				require.NoError(t, err)
				_ = resp.Body.Close()
				require.Equal(t, tt.want, resp.Header.Get("X-User-Agent"))
				require.Equal(t, tt.current, req.Header.Get("User-Agent"), "original request is not modified")
			})
		}
	})

	t.Run("request id from context", func(t *testing.T) {
		rt := NewRequestIDRoundTripper(http.DefaultTransport, nil)
		resp, err := doRequest(t, rt, NewContextWithRequestID(context.Background(), "req-42"), server.URL)
		require.NoError(t, err)
		require.Equal(t, "req-42", resp.Header.Get("X-Got-Request-ID"))
	})

	t.Run("request id generated", func(t *testing.T) {
		rt := NewRequestIDRoundTripper(http.DefaultTransport, nil)
		resp, err := doRequest(t, rt, context.Background(), server.URL)
		require.NoError(t, err)
		require.Len(t, resp.Header.Get("X-Got-Request-ID"), 20)
	})

	t.Run("custom provider", func(t *testing.T) {
		rt := NewRequestIDRoundTripper(http.DefaultTransport, func(context.Context) string { return "custom" })
		resp, err := doRequest(t, rt, context.Background(), server.URL)
		require.NoError(t, err)
		require.Equal(t, "custom", resp.Header.Get("X-Got-Request-ID"))
	})
}

func TestNewWithOpts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("X-User-Agent", r.Header.Get("User-Agent"))
		rw.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	logger := logtest.NewRecorder()
	collector := NewPrometheusMetricsCollector("")
	cfg := NewDefaultConfig()
	client, err := NewWithOpts(cfg, Opts{RequestType: "openai", Logger: logger, Collector: collector})
	require.NoError(t, err)
	defer client.Close()

	resp, err := doRequest(t, client.HTTP.Transport, context.Background(), server.URL+"/v1/models")
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, DefaultUserAgent, resp.Header.Get("X-User-Agent"))

	entry, found := logger.FindEntry("client http request")
	require.True(t, found)
	require.NotEmpty(t, entry.StringField("request_id"))

	host := server.Listener.Addr().String()
	hist := collector.Durations.WithLabelValues("openai", host, "GET openai", "403").(prometheus.Histogram)
	testutil.RequireSamplesCountInHistogram(t, hist, 1)

	cfg.MaxConnectionsPerHost = 0
	_, err = NewWithOpts(cfg, Opts{})
	require.EqualError(t, err, "invalid connection config: maxConnectionsPerHost should be >= 1")
}

/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/acronis/go-keyprobe/log"
)

// TransportOpts represents options for the Transport.
type TransportOpts struct {
	Logger  log.FieldLogger
	Metrics MetricsCollector
	Clock   func() time.Time

	// NewConnTransport creates the transport of a new pooled connection.
	NewConnTransport func(host string) *http.Transport

	// Middleware wraps the real network calls, merged requests pass through it once.
	Middleware func(next http.RoundTripper) http.RoundTripper
}

type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Transport is an http.RoundTripper that sends requests over the ConnPool and merges identical idempotent requests.
type Transport struct {
	mu                 sync.RWMutex
	cfg                Config
	ignoredQueryParams []string

	pool   *ConnPool
	merger *Merger
	send   http.RoundTripper
}

var _ http.RoundTripper = (*Transport)(nil)

// NewTransport creates a new Transport.
func NewTransport(cfg Config, opts TransportOpts) (*Transport, error) {
	pool, err := NewConnPool(cfg, PoolOpts{
		Logger:       opts.Logger,
		Metrics:      opts.Metrics,
		Clock:        opts.Clock,
		NewTransport: opts.NewConnTransport,
	})
	if err != nil {
		return nil, err
	}
	merger := NewMerger(cfg.MergingWindow, cfg.Timeout, MergerOpts{
		Logger:  opts.Logger,
		Metrics: opts.Metrics,
		Clock:   opts.Clock,
	})
	t := &Transport{cfg: cfg, ignoredQueryParams: cfg.MergeIgnoredQueryParams, pool: pool, merger: merger}
	t.send = roundTripperFunc(t.sendOverPool)
	if opts.Middleware != nil {
		t.send = opts.Middleware(t.send)
	}
	return t, nil
}

// RoundTrip performs the request against its destination (req.URL.Host).
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.merger.Mergeable(req) {
		t.mu.RLock()
		key := MergeKey(req, t.ignoredQueryParams)
		t.mu.RUnlock()
		return t.merger.Do(key, req, t.send.RoundTrip)
	}
	return t.send.RoundTrip(req)
}

func (t *Transport) sendOverPool(req *http.Request) (*http.Response, error) {
	conn, err := t.pool.Acquire(req.Context(), req.URL.Host)
	if err != nil {
		if req.Body != nil {
			_ = req.Body.Close() // Per RoundTripper contract.
		}
		return nil, err
	}
	resp, err := conn.RoundTrip(req)
	if err != nil {
		t.pool.Discard(conn)
		return nil, err
	}
	resp.Body = &releasingBody{ReadCloser: resp.Body, release: func() { t.pool.Release(conn) }}
	return resp, nil
}

// Reconfigure pushes new connection settings into the pool and the merger.
func (t *Transport) Reconfigure(cfg Config) error {
	if err := t.pool.Reconfigure(cfg); err != nil {
		return err
	}
	t.merger.SetWindow(cfg.MergingWindow, cfg.Timeout)
	t.mu.Lock()
	t.cfg = cfg
	t.ignoredQueryParams = cfg.MergeIgnoredQueryParams
	t.mu.Unlock()
	return nil
}

// Maintain retires expired idle connections and rejects stale merge groups.
// It is called periodically by the engine.
func (t *Transport) Maintain(now time.Time) (retired, expired int) {
	return t.pool.Sweep(), t.merger.ExpireStale(now)
}

// Pool returns the connection pool.
func (t *Transport) Pool() *ConnPool {
	return t.pool
}

// Merger returns the request merger.
func (t *Transport) Merger() *Merger {
	return t.merger
}

// Config returns the current connection settings.
func (t *Transport) Config() Config {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cfg
}

// Close closes the pool. Requests made afterward fail with ErrPoolClosed.
func (t *Transport) Close() {
	t.pool.Close()
}

// releasingBody gives the connection back to the pool once the body is read to the end or closed.
type releasingBody struct {
	io.ReadCloser
	once    sync.Once
	release func()
}

func (b *releasingBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err == io.EOF {
		b.once.Do(b.release)
	}
	return n, err
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.release)
	if err != nil {
		return fmt.Errorf("close response body: %w", err)
	}
	return nil
}

/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/acronis/go-keyprobe/log"
	"github.com/acronis/go-keyprobe/probe"
)

// staleFactor * mergingWindow is the age after which an unsettled group is rejected by ExpireStale.
const staleFactor = 10

// credentialHeaders are hashed into the merge key, so requests made with different credentials are never merged.
var credentialHeaders = []string{"Authorization", "X-Api-Key", "X-Goog-Api-Key", "Api-Key", "Cookie"}

// RoundTripFunc performs the real call of a merge group.
type RoundTripFunc func(req *http.Request) (*http.Response, error)

type bufferedResponse struct {
	template *http.Response
	body     []byte
}

func (b *bufferedResponse) copyFor(req *http.Request) *http.Response {
	resp := new(http.Response)
	*resp = *b.template
	resp.Header = CloneHTTPHeader(b.template.Header)
	resp.Trailer = CloneHTTPHeader(b.template.Trailer)
	resp.Body = io.NopCloser(bytes.NewReader(b.body))
	resp.ContentLength = int64(len(b.body))
	resp.Request = req
	return resp
}

type mergeGroup struct {
	key     string
	created time.Time
	window  time.Duration
	waiters int
	timer   *time.Timer

	once sync.Once
	done chan struct{}
	resp *bufferedResponse
	err  error
}

func (g *mergeGroup) settle(resp *bufferedResponse, err error) {
	g.once.Do(func() {
		g.resp, g.err = resp, err
		close(g.done)
	})
}

// MergerOpts represents options for the Merger.
type MergerOpts struct {
	Logger  log.FieldLogger
	Metrics MetricsCollector
	Clock   func() time.Time
}

// Merger coalesces identical idempotent requests issued within a merging window into one real call.
// Every waiter of a group receives its own copy of the same response or the same error.
type Merger struct {
	mu      sync.Mutex
	window  time.Duration
	timeout time.Duration
	pending map[string]*mergeGroup
	// inflight holds fired groups whose real call has not settled yet. Nobody may join them.
	inflight map[*mergeGroup]struct{}

	logger  log.FieldLogger
	metrics MetricsCollector
	clock   func() time.Time
}

// NewMerger creates a new Merger. A zero window disables merging.
// timeout bounds the real call of a group, it is detached from the callers' contexts.
func NewMerger(window, timeout time.Duration, opts MergerOpts) *Merger {
	m := &Merger{
		window:  window,
		timeout: timeout,
		pending:  make(map[string]*mergeGroup),
		inflight: make(map[*mergeGroup]struct{}),
		logger:  opts.Logger,
		metrics: opts.Metrics,
		clock:   opts.Clock,
	}
	if m.logger == nil {
		m.logger = log.NewDisabledLogger()
	}
	if m.metrics == nil {
		m.metrics = disabledMetrics{}
	}
	if m.clock == nil {
		m.clock = time.Now
	}
	return m
}

// SetWindow changes the merging window and the call timeout for groups created afterward.
func (m *Merger) SetWindow(window, timeout time.Duration) {
	m.mu.Lock()
	m.window, m.timeout = window, timeout
	m.mu.Unlock()
}

// Mergeable reports whether the request may be merged: GET or HEAD (or an idempotent hint in the context)
// without a body, while merging is enabled.
func (m *Merger) Mergeable(req *http.Request) bool {
	m.mu.Lock()
	enabled := m.window > 0
	m.mu.Unlock()
	if !enabled {
		return false
	}
	if req.Body != nil && req.Body != http.NoBody {
		return false
	}
	switch req.Method {
	case http.MethodGet, http.MethodHead, "":
		return true
	}
	return GetIdempotentHintFromContext(req.Context())
}

// Do joins the pending group of the key or creates one. The group fires after the merging window:
// it is removed from the pending set, fn is called exactly once and its response body is buffered.
// A waiter whose context is done leaves the group without affecting the others.
func (m *Merger) Do(key string, req *http.Request, fn RoundTripFunc) (*http.Response, error) {
	m.mu.Lock()
	g := m.pending[key]
	result := MergeResultJoined
	if g == nil {
		result = MergeResultLeader
		g = &mergeGroup{key: key, created: m.clock(), window: m.window, done: make(chan struct{})}
		leaderReq, timeout := req, m.timeout
		g.timer = time.AfterFunc(m.window, func() { m.fire(g, leaderReq, timeout, fn) })
		m.pending[key] = g
	}
	g.waiters++
	m.mu.Unlock()
	m.metrics.IncMerged(result)

	select {
	case <-g.done:
	case <-req.Context().Done():
		return nil, req.Context().Err()
	}
	if g.err != nil {
		return nil, g.err
	}
	return g.resp.copyFor(req), nil
}

func (m *Merger) fire(g *mergeGroup, req *http.Request, timeout time.Duration, fn RoundTripFunc) {
	m.mu.Lock()
	if m.pending[g.key] != g {
		// Expired before the timer fired.
		m.mu.Unlock()
		return
	}
	delete(m.pending, g.key)
	m.inflight[g] = struct{}{}
	waiters := g.waiters
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.inflight, g)
		m.mu.Unlock()
	}()

	ctx := context.WithoutCancel(req.Context())
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	resp, err := fn(req.WithContext(ctx))
	if err != nil {
		g.settle(nil, err)
		return
	}
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		g.settle(nil, probe.TransientNetworkError(fmt.Errorf("read merged response body: %w", err)))
		return
	}
	if waiters > 1 {
		m.logger.Debug("merged request completed", log.String("merge_key", g.key), log.Int("waiters", waiters),
			log.Int("status", resp.StatusCode))
	}
	g.settle(&bufferedResponse{template: resp, body: body}, nil)
}

// ExpireStale rejects with probe.ErrMergeExpired the waiters of groups older than ten merging windows,
// both the ones still collecting waiters and the ones whose real call hangs. The late result of such a call
// is dropped. It returns the number of expired groups.
func (m *Merger) ExpireStale(now time.Time) int {
	m.mu.Lock()
	var expired []*mergeGroup
	for key, g := range m.pending {
		if now.Sub(g.created) > staleFactor*g.window {
			delete(m.pending, key)
			g.timer.Stop()
			expired = append(expired, g)
		}
	}
	for g := range m.inflight {
		if now.Sub(g.created) > staleFactor*g.window {
			delete(m.inflight, g)
			expired = append(expired, g)
		}
	}
	m.mu.Unlock()

	for _, g := range expired {
		m.metrics.IncMerged(MergeResultExpired)
		m.logger.Warn("merge group expired", log.String("merge_key", g.key), log.Int("waiters", g.waiters))
		g.settle(nil, probe.MergeExpiredError(g.key))
	}
	return len(expired)
}

// Pending returns the number of groups waiting for their merging window to end.
func (m *Merger) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// InFlight returns the number of fired groups waiting for their real call.
func (m *Merger) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inflight)
}

// MergeKey identifies requests that may share one real call: method, origin, path, canonical query without
// the ignored params and a hash of the credential-bearing headers. NewContextWithMergeKey overrides it.
func MergeKey(req *http.Request, ignoredQueryParams []string) string {
	if key := GetMergeKeyFromContext(req.Context()); key != "" {
		return key
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var query url.Values
	if req.URL.RawQuery != "" {
		query = req.URL.Query()
		for _, p := range ignoredQueryParams {
			query.Del(p)
		}
	}

	var sb strings.Builder
	sb.WriteString(method)
	sb.WriteByte(' ')
	sb.WriteString(strings.ToLower(req.URL.Scheme))
	sb.WriteString("://")
	sb.WriteString(strings.ToLower(req.URL.Host))
	sb.WriteString(req.URL.EscapedPath())
	if encoded := query.Encode(); encoded != "" { // Encode sorts by key.
		sb.WriteByte('?')
		sb.WriteString(encoded)
	}
	sb.WriteByte('#')
	sb.WriteString(credentialsHash(req.Header))
	return sb.String()
}

func credentialsHash(header http.Header) string {
	h := sha256.New()
	for _, name := range credentialHeaders {
		for _, v := range header.Values(name) {
			_, _ = io.WriteString(h, name)
			_, _ = io.WriteString(h, ":")
			_, _ = io.WriteString(h, v)
			_, _ = io.WriteString(h, "\n")
		}
	}
	return hex.EncodeToString(h.Sum(nil)[:8])
}

/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/acronis/go-keyprobe/log"
	"github.com/acronis/go-keyprobe/netutil"
	"github.com/acronis/go-keyprobe/probe"
)

// ErrPoolExhausted is wrapped into the error returned by ConnPool.Acquire
// when no connection to the host frees up within the acquire timeout.
var ErrPoolExhausted = errors.New("connection pool exhausted")

// ErrPoolClosed is returned by ConnPool.Acquire after ConnPool.Close.
var ErrPoolClosed = errors.New("connection pool closed")

const dnsQueryTimeout = 5 * time.Second

// Conn is a pooled connection to one host. It owns a dedicated *http.Transport limited to a single TCP connection.
type Conn struct {
	ID      string
	Host    string
	Created time.Time

	lastUsed  time.Time
	requests  int
	busy      bool
	alive     bool
	transport *http.Transport
}

// RoundTrip sends the request over the connection.
func (c *Conn) RoundTrip(req *http.Request) (*http.Response, error) {
	return c.transport.RoundTrip(req)
}

// PoolStats is a point-in-time view of the pool.
type PoolStats struct {
	Hosts int
	Live  int
	Busy  int
}

// PoolOpts represents options for the ConnPool.
type PoolOpts struct {
	Logger  log.FieldLogger
	Metrics MetricsCollector
	Clock   func() time.Time

	// NewTransport creates the transport of a new connection. It is called under the pool lock.
	NewTransport func(host string) *http.Transport
}

type hostPool struct {
	conns   []*Conn
	waiters []chan struct{}
}

// ConnPool keeps at most MaxConnectionsPerHost live connections per host.
// Idle connections are reused while they are younger than KeepAliveTimeout since the last use,
// callers beyond the limit wait up to AcquireTimeout for a connection to be released.
type ConnPool struct {
	mu     sync.Mutex
	cfg    Config
	hosts  map[string]*hostPool
	closed bool

	logger       log.FieldLogger
	metrics      MetricsCollector
	clock        func() time.Time
	newTransport func(host string) *http.Transport
	resolver     *net.Resolver
}

// NewConnPool creates a new ConnPool.
func NewConnPool(cfg Config, opts PoolOpts) (*ConnPool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid connection config: %w", err)
	}
	p := &ConnPool{
		cfg:          cfg,
		hosts:        make(map[string]*hostPool),
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		clock:        opts.Clock,
		newTransport: opts.NewTransport,
	}
	if p.logger == nil {
		p.logger = log.NewDisabledLogger()
	}
	if p.metrics == nil {
		p.metrics = disabledMetrics{}
	}
	if p.clock == nil {
		p.clock = time.Now
	}
	if p.newTransport == nil {
		p.newTransport = p.defaultTransport
	}
	if len(cfg.DNSServers) > 0 {
		p.resolver = netutil.NewCustomDNSResolver(cfg.DNSServers, dnsQueryTimeout)
	}
	return p, nil
}

func (p *ConnPool) defaultTransport(_ string) *http.Transport {
	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: p.cfg.KeepAliveTimeout, Resolver: p.resolver}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     false,
		MaxIdleConns:          1,
		MaxIdleConnsPerHost:   1,
		MaxConnsPerHost:       1,
		IdleConnTimeout:       p.cfg.KeepAliveTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

// Acquire returns a connection to the host marked busy. It must be given back with Release or Discard.
func (p *ConnPool) Acquire(ctx context.Context, host string) (*Conn, error) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		hp := p.hosts[host]
		if hp == nil {
			hp = &hostPool{}
			p.hosts[host] = hp
		}
		if conn := p.takeLocked(host, hp); conn != nil {
			p.mu.Unlock()
			return conn, nil
		}
		ready := make(chan struct{}, 1)
		hp.waiters = append(hp.waiters, ready)
		acquireTimeout := p.cfg.AcquireTimeout
		p.mu.Unlock()

		if timer == nil {
			timer = time.NewTimer(acquireTimeout)
		}

		select {
		case <-ready:
		case <-ctx.Done():
			p.leave(host, ready)
			return nil, ctx.Err()
		case <-timer.C:
			p.leave(host, ready)
			p.metrics.IncPoolExhausted(host)
			return nil, probe.TransientNetworkError(
				fmt.Errorf("%w: no connection to %s released within %s", ErrPoolExhausted, host, acquireTimeout))
		}
	}
}

// takeLocked reuses an idle connection or opens a new one if the host is below the limit.
func (p *ConnPool) takeLocked(host string, hp *hostPool) *Conn {
	now := p.clock()
	var idle *Conn
	for _, c := range hp.conns {
		if c.busy {
			continue
		}
		if now.Sub(c.lastUsed) >= p.cfg.KeepAliveTimeout || now.Sub(c.Created) > p.cfg.MaxConnAge {
			p.retireLocked(c)
			continue
		}
		if idle == nil {
			idle = c
		}
	}
	if live := liveConns(hp.conns); len(live) != len(hp.conns) {
		hp.conns = live
		p.metrics.SetConnections(host, len(hp.conns))
	}
	if idle != nil {
		idle.busy = true
		return idle
	}
	if len(hp.conns) >= p.cfg.MaxConnectionsPerHost {
		return nil
	}
	conn := &Conn{
		ID:        xid.New().String(),
		Host:      host,
		Created:   now,
		lastUsed:  now,
		busy:      true,
		alive:     true,
		transport: p.newTransport(host),
	}
	hp.conns = append(hp.conns, conn)
	p.metrics.SetConnections(host, len(hp.conns))
	p.logger.Debug("connection opened", log.String("host", host), log.String("conn_id", conn.ID))
	return conn
}

// Release marks the connection idle. It is retired when it served MaxRequestsPerConn requests or is older than MaxConnAge.
func (p *ConnPool) Release(conn *Conn) {
	p.release(conn, false)
}

// Discard retires the connection, e.g. after a transport error.
func (p *ConnPool) Discard(conn *Conn) {
	p.release(conn, true)
}

func (p *ConnPool) release(conn *Conn, broken bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !conn.busy {
		return
	}
	now := p.clock()
	conn.busy = false
	conn.lastUsed = now
	conn.requests++
	hp := p.hosts[conn.Host]
	if hp == nil {
		return
	}
	if broken || p.closed || conn.requests >= p.cfg.MaxRequestsPerConn ||
		now.Sub(conn.Created) > p.cfg.MaxConnAge || len(hp.conns) > p.cfg.MaxConnectionsPerHost {
		p.retireLocked(conn)
		hp.conns = liveConns(hp.conns)
		p.metrics.SetConnections(conn.Host, len(hp.conns))
	}
	p.wakeLocked(hp)
}

// Sweep retires idle connections that outlived KeepAliveTimeout or MaxConnAge and forgets empty hosts.
func (p *ConnPool) Sweep() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.clock()
	var retired int
	for host, hp := range p.hosts {
		for _, c := range hp.conns {
			if !c.busy && (now.Sub(c.lastUsed) >= p.cfg.KeepAliveTimeout || now.Sub(c.Created) > p.cfg.MaxConnAge) {
				p.retireLocked(c)
				retired++
			}
		}
		hp.conns = liveConns(hp.conns)
		p.metrics.SetConnections(host, len(hp.conns))
		if len(hp.conns) == 0 && len(hp.waiters) == 0 {
			delete(p.hosts, host)
		}
	}
	return retired
}

// Reconfigure applies new limits. Live connections above a lowered limit are retired as they are released.
func (p *ConnPool) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid connection config: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
	for _, hp := range p.hosts {
		p.wakeLocked(hp)
	}
	return nil
}

// Stats returns the pool statistics.
func (p *ConnPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	var s PoolStats
	for _, hp := range p.hosts {
		s.Hosts++
		for _, c := range hp.conns {
			s.Live++
			if c.busy {
				s.Busy++
			}
		}
	}
	return s
}

// Close retires idle connections and rejects further acquires. Busy connections are retired on release.
func (p *ConnPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for host, hp := range p.hosts {
		for _, c := range hp.conns {
			if !c.busy {
				p.retireLocked(c)
			}
		}
		hp.conns = liveConns(hp.conns)
		for _, w := range hp.waiters {
			w <- struct{}{}
		}
		hp.waiters = nil
		p.metrics.SetConnections(host, len(hp.conns))
	}
}

func (p *ConnPool) retireLocked(c *Conn) {
	if !c.alive {
		return
	}
	c.alive = false
	go c.transport.CloseIdleConnections()
	p.logger.Debug("connection retired", log.String("host", c.Host), log.String("conn_id", c.ID),
		log.Int("requests", c.requests))
}

// wakeLocked signals the first waiter that a connection may be available.
func (p *ConnPool) wakeLocked(hp *hostPool) {
	if len(hp.waiters) == 0 {
		return
	}
	w := hp.waiters[0]
	hp.waiters = hp.waiters[1:]
	w <- struct{}{}
}

// leave unregisters a waiter. A wakeup it may have consumed is passed to the next waiter.
func (p *ConnPool) leave(host string, ready chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	hp := p.hosts[host]
	if hp == nil {
		return
	}
	for i, w := range hp.waiters {
		if w == ready {
			hp.waiters = append(hp.waiters[:i], hp.waiters[i+1:]...)
			return
		}
	}
	p.wakeLocked(hp)
}

func liveConns(conns []*Conn) []*Conn {
	live := conns[:0]
	for _, c := range conns {
		if c.alive {
			live = append(live, c)
		}
	}
	for i := len(live); i < len(conns); i++ {
		conns[i] = nil
	}
	return live
}

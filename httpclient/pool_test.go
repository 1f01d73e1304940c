/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-keyprobe/probe"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestPool(t *testing.T, update func(cfg *Config), clock *fakeClock) *ConnPool {
	t.Helper()
	cfg := NewDefaultConfig()
	cfg.MaxConnectionsPerHost = 2
	cfg.AcquireTimeout = 50 * time.Millisecond
	if update != nil {
		update(cfg)
	}
	opts := PoolOpts{}
	if clock != nil {
		opts.Clock = clock.Now
	}
	pool, err := NewConnPool(*cfg, opts)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestConnPool_AcquireRelease(t *testing.T) {
	ctx := context.Background()

	t.Run("idle connection is reused", func(t *testing.T) {
		pool := newTestPool(t, nil, nil)
		conn, err := pool.Acquire(ctx, "api.openai.com")
		require.NoError(t, err)
		pool.Release(conn)

		again, err := pool.Acquire(ctx, "api.openai.com")
		require.NoError(t, err)
		require.Equal(t, conn.ID, again.ID)
		require.Equal(t, PoolStats{Hosts: 1, Live: 1, Busy: 1}, pool.Stats())
	})

	t.Run("hosts have separate connections", func(t *testing.T) {
		pool := newTestPool(t, func(cfg *Config) { cfg.MaxConnectionsPerHost = 1 }, nil)
		a, err := pool.Acquire(ctx, "a.example.com")
		require.NoError(t, err)
		b, err := pool.Acquire(ctx, "b.example.com")
		require.NoError(t, err)
		require.NotEqual(t, a.ID, b.ID)
		require.Equal(t, PoolStats{Hosts: 2, Live: 2, Busy: 2}, pool.Stats())
	})

	t.Run("exhausted pool fails with a transient network error", func(t *testing.T) {
		pool := newTestPool(t, func(cfg *Config) { cfg.MaxConnectionsPerHost = 1 }, nil)
		_, err := pool.Acquire(ctx, "api.openai.com")
		require.NoError(t, err)

		_, err = pool.Acquire(ctx, "api.openai.com")
		require.ErrorIs(t, err, ErrPoolExhausted)
		require.ErrorIs(t, err, probe.ErrTransientNetwork)
		require.Equal(t, probe.ClassNetwork, probe.Classify(err).Class)
		require.Equal(t, 1, pool.Stats().Live)
	})

	t.Run("waiter gets the released connection", func(t *testing.T) {
		pool := newTestPool(t, func(cfg *Config) {
			cfg.MaxConnectionsPerHost = 1
			cfg.AcquireTimeout = 5 * time.Second
		}, nil)
		conn, err := pool.Acquire(ctx, "api.openai.com")
		require.NoError(t, err)

		got := make(chan *Conn, 1)
		go func() {
			c, acquireErr := pool.Acquire(ctx, "api.openai.com")
			if acquireErr != nil {
				close(got)
				return
			}
			got <- c
		}()
		time.Sleep(20 * time.Millisecond)
		pool.Release(conn)

		select {
		case c := <-got:
			require.NotNil(t, c)
			require.Equal(t, conn.ID, c.ID)
		case <-time.After(time.Second):
			t.Fatal("waiter was not woken up")
		}
	})

	t.Run("context cancellation", func(t *testing.T) {
		pool := newTestPool(t, func(cfg *Config) {
			cfg.MaxConnectionsPerHost = 1
			cfg.AcquireTimeout = 5 * time.Second
		}, nil)
		_, err := pool.Acquire(ctx, "api.openai.com")
		require.NoError(t, err)

		cancelCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		_, err = pool.Acquire(cancelCtx, "api.openai.com")
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("closed pool", func(t *testing.T) {
		pool := newTestPool(t, nil, nil)
		pool.Close()
		_, err := pool.Acquire(ctx, "api.openai.com")
		require.ErrorIs(t, err, ErrPoolClosed)
	})
}

func TestConnPool_Retirement(t *testing.T) {
	ctx := context.Background()

	t.Run("idle longer than keep-alive", func(t *testing.T) {
		clock := newFakeClock()
		pool := newTestPool(t, func(cfg *Config) { cfg.KeepAliveTimeout = time.Second }, clock)
		conn, err := pool.Acquire(ctx, "h")
		require.NoError(t, err)
		pool.Release(conn)

		clock.Advance(time.Second)
		again, err := pool.Acquire(ctx, "h")
		require.NoError(t, err)
		require.NotEqual(t, conn.ID, again.ID)
		require.Equal(t, 1, pool.Stats().Live)
	})

	t.Run("request count", func(t *testing.T) {
		pool := newTestPool(t, func(cfg *Config) { cfg.MaxRequestsPerConn = 2 }, nil)
		first, err := pool.Acquire(ctx, "h")
		require.NoError(t, err)
		pool.Release(first)
		second, err := pool.Acquire(ctx, "h")
		require.NoError(t, err)
		require.Equal(t, first.ID, second.ID)
		pool.Release(second)

		third, err := pool.Acquire(ctx, "h")
		require.NoError(t, err)
		require.NotEqual(t, first.ID, third.ID)
	})

	t.Run("age", func(t *testing.T) {
		clock := newFakeClock()
		pool := newTestPool(t, func(cfg *Config) {
			cfg.MaxConnAge = time.Minute
			cfg.KeepAliveTimeout = time.Hour
		}, clock)
		conn, err := pool.Acquire(ctx, "h")
		require.NoError(t, err)
		clock.Advance(2 * time.Minute)
		pool.Release(conn)
		require.Equal(t, 0, pool.Stats().Live)
	})

	t.Run("discard", func(t *testing.T) {
		pool := newTestPool(t, nil, nil)
		conn, err := pool.Acquire(ctx, "h")
		require.NoError(t, err)
		pool.Discard(conn)
		pool.Release(conn)
		require.Equal(t, 0, pool.Stats().Live)
	})

	t.Run("sweep", func(t *testing.T) {
		clock := newFakeClock()
		pool := newTestPool(t, func(cfg *Config) { cfg.KeepAliveTimeout = time.Second }, clock)
		idle, err := pool.Acquire(ctx, "a")
		require.NoError(t, err)
		pool.Release(idle)
		_, err = pool.Acquire(ctx, "b")
		require.NoError(t, err)

		clock.Advance(2 * time.Second)
		require.Equal(t, 1, pool.Sweep())
		require.Equal(t, PoolStats{Hosts: 1, Live: 1, Busy: 1}, pool.Stats())
	})
}

func TestConnPool_NeverExceedsLimit(t *testing.T) {
	const maxConns = 3
	pool := newTestPool(t, func(cfg *Config) {
		cfg.MaxConnectionsPerHost = maxConns
		cfg.AcquireTimeout = 5 * time.Second
	}, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := pool.Acquire(context.Background(), "h")
			if err != nil {
				errs <- err
				return
			}
			if live := pool.Stats().Live; live > maxConns {
				errs <- errors.New("too many live connections")
			}
			time.Sleep(5 * time.Millisecond)
			pool.Release(conn)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.LessOrEqual(t, pool.Stats().Live, maxConns)
}

func TestConnPool_Reconfigure(t *testing.T) {
	pool := newTestPool(t, func(cfg *Config) { cfg.MaxConnectionsPerHost = 1 }, nil)
	ctx := context.Background()
	_, err := pool.Acquire(ctx, "h")
	require.NoError(t, err)

	cfg := NewDefaultConfig()
	cfg.MaxConnectionsPerHost = 2
	require.NoError(t, pool.Reconfigure(*cfg))
	_, err = pool.Acquire(ctx, "h")
	require.NoError(t, err)

	cfg.MaxConnectionsPerHost = 0
	require.EqualError(t, pool.Reconfigure(*cfg), "invalid connection config: maxConnectionsPerHost should be >= 1")
}

func TestConnPool_CustomDNSServers(t *testing.T) {
	dnsServer, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = dnsServer.Close() }()

	cfg := *NewDefaultConfig()
	cfg.DNSServers = []string{dnsServer.LocalAddr().String()}
	pool, err := NewConnPool(cfg, PoolOpts{})
	require.NoError(t, err)
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, err = pool.defaultTransport("api.keyprobe.test:443").DialContext(ctx, "tcp", "api.keyprobe.test:443")
	require.Error(t, err)

	require.NoError(t, dnsServer.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = dnsServer.ReadFrom(make([]byte, 512))
	require.NoError(t, err, "the host was not resolved with the configured DNS server")
}

package pool

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailkit/imapclient/config"
	"github.com/mailkit/imapclient/conn"
	"github.com/mailkit/imapclient/internal/logger"
)

func testPool(t *testing.T) *Pool {
	t.Helper()
	return &Pool{buckets: make(map[string]*bucket), log: logger.Nop()}
}

func testConn(t *testing.T) *conn.Connection {
	t.Helper()
	clientSide, serverSide := net.Pipe()
	t.Cleanup(func() { _ = clientSide.Close(); _ = serverSide.Close() })
	// Short I/O timeout so Close's best-effort LOGOUT against the
	// unscripted pipe peer fails fast instead of waiting out the
	// default deadline.
	cfg := config.Defaults(config.ConnectionConfig{Host: "imap.example.com", Timeout: 50 * time.Millisecond})
	return conn.NewForTesting(cfg, clientSide)
}

func testCfg() config.ConnectionConfig {
	return config.Defaults(config.ConnectionConfig{Host: "imap.example.com", Username: "alice", PoolMaxPerKey: 2})
}

func TestPool_AcquireReusesIdleConnection(t *testing.T) {
	p := testPool(t)
	cfg := testCfg()
	c := testConn(t)

	b := p.bucketFor(cfg)
	b.idle = append(b.idle, &entry{c: c, lastReleased: time.Now()})

	got, err := p.Acquire(context.Background(), cfg)
	require.NoError(t, err)
	assert.Same(t, c, got)

	stats := p.Stats()[cfg.Key()]
	assert.Equal(t, 0, stats.Idle)
	assert.Equal(t, 1, stats.InUse)
}

func TestPool_AcquireValidatesStaleIdleConnectionWithNoop(t *testing.T) {
	p := testPool(t)
	cfg := testCfg()
	clientSide, serverSide := net.Pipe()
	t.Cleanup(func() { _ = clientSide.Close(); _ = serverSide.Close() })
	c := conn.NewForTesting(config.Defaults(config.ConnectionConfig{Host: "imap.example.com"}), clientSide)

	go func() {
		r := bufio.NewReader(serverSide)
		_, _ = r.ReadString('\n') // "A0001 NOOP\r\n"
		_, _ = serverSide.Write([]byte("A0001 OK NOOP completed\r\n"))
	}()

	b := p.bucketFor(cfg)
	b.idle = append(b.idle, &entry{c: c, lastReleased: time.Now().Add(-2 * time.Second)})

	got, err := p.Acquire(context.Background(), cfg)
	require.NoError(t, err)
	assert.Same(t, c, got)
}

func TestPool_AcquireDiscardsIdleConnectionFailingNoop(t *testing.T) {
	p := testPool(t)
	// A closed, unreachable dial target so the replacement-dial fallthrough
	// fails fast instead of hitting a real network.
	cfg := config.Defaults(config.ConnectionConfig{
		Host: "127.0.0.1", Port: 1, Username: "alice", UseTLS: false,
		Timeout: 50 * time.Millisecond, PoolMaxPerKey: 2,
	})
	clientSide, serverSide := net.Pipe()
	t.Cleanup(func() { _ = clientSide.Close() })
	c := conn.NewForTesting(cfg, clientSide)
	_ = serverSide.Close() // dead peer: NOOP fails with a transport error

	b := p.bucketFor(cfg)
	b.idle = append(b.idle, &entry{c: c, lastReleased: time.Now().Add(-2 * time.Second)})

	_, err := p.Acquire(context.Background(), cfg)
	require.Error(t, err) // falls through to dialing a replacement, which also fails (no real server)

	stats := p.Stats()[cfg.Key()]
	assert.Equal(t, 0, stats.Idle)
}

func TestPool_AcquireFailsWhenExhausted(t *testing.T) {
	p := testPool(t)
	cfg := testCfg()

	b := p.bucketFor(cfg)
	b.inUse = cfg.PoolMaxPerKey

	_, err := p.Acquire(context.Background(), cfg)
	assert.Error(t, err)
}

func TestPool_ReleasePutsConnectionBackOnIdleList(t *testing.T) {
	p := testPool(t)
	cfg := testCfg()
	c := testConn(t)

	b := p.bucketFor(cfg)
	b.inUse = 1

	p.Release(cfg, c)

	stats := p.Stats()[cfg.Key()]
	assert.Equal(t, 1, stats.Idle)
	assert.Equal(t, 0, stats.InUse)
}

func TestPool_ReleaseDropsClosedConnection(t *testing.T) {
	p := testPool(t)
	cfg := testCfg()
	c := testConn(t)
	require.NoError(t, c.Close(context.Background()))

	b := p.bucketFor(cfg)
	b.inUse = 1

	p.Release(cfg, c)

	stats := p.Stats()[cfg.Key()]
	assert.Equal(t, 0, stats.Idle)
}

func TestPool_WithConnectionReleasesAfterUse(t *testing.T) {
	p := testPool(t)
	cfg := testCfg()
	c := testConn(t)

	b := p.bucketFor(cfg)
	b.idle = append(b.idle, &entry{c: c, lastReleased: time.Now()})

	err := p.WithConnection(context.Background(), cfg, func(got *conn.Connection) error {
		assert.Same(t, c, got)
		stats := p.Stats()[cfg.Key()]
		assert.Equal(t, 1, stats.InUse)
		return nil
	})
	require.NoError(t, err)

	stats := p.Stats()[cfg.Key()]
	assert.Equal(t, 1, stats.Idle)
	assert.Equal(t, 0, stats.InUse)
}

func TestPool_ReleaseResetsMetricsWhenMonitoringDisabled(t *testing.T) {
	p := testPool(t)
	cfg := testCfg()
	cfg.EnableMonitoring = false

	clientSide, serverSide := net.Pipe()
	t.Cleanup(func() { _ = clientSide.Close(); _ = serverSide.Close() })
	c := conn.NewForTesting(cfg, clientSide)
	go func() {
		r := bufio.NewReader(serverSide)
		_, _ = r.ReadString('\n')
		_, _ = serverSide.Write([]byte("A0001 OK NOOP completed\r\n"))
	}()
	require.NoError(t, c.Noop(context.Background()))
	require.EqualValues(t, 1, c.Metrics().TotalOperations)

	b := p.bucketFor(cfg)
	b.inUse = 1
	p.Release(cfg, c)

	assert.EqualValues(t, 0, c.Metrics().TotalOperations)
}

func TestPool_ReleaseKeepsMetricsWhenMonitoringEnabled(t *testing.T) {
	p := testPool(t)
	cfg := testCfg()
	cfg.EnableMonitoring = true

	clientSide, serverSide := net.Pipe()
	t.Cleanup(func() { _ = clientSide.Close(); _ = serverSide.Close() })
	c := conn.NewForTesting(cfg, clientSide)
	go func() {
		r := bufio.NewReader(serverSide)
		_, _ = r.ReadString('\n')
		_, _ = serverSide.Write([]byte("A0001 OK NOOP completed\r\n"))
	}()
	require.NoError(t, c.Noop(context.Background()))

	b := p.bucketFor(cfg)
	b.inUse = 1
	p.Release(cfg, c)

	assert.EqualValues(t, 1, c.Metrics().TotalOperations)
}

func TestPool_EvictRemovesAndClosesConnection(t *testing.T) {
	p := testPool(t)
	cfg := testCfg()
	c := testConn(t)

	b := p.bucketFor(cfg)
	b.idle = append(b.idle, &entry{c: c, lastReleased: time.Now()})

	p.Evict(context.Background(), cfg, c)

	stats := p.Stats()[cfg.Key()]
	assert.Equal(t, 0, stats.Idle)
	state, _ := c.State()
	assert.Equal(t, conn.StateClosed, state)
}

func TestPool_SweepClosesConnectionsPastKeepalive(t *testing.T) {
	p := testPool(t)
	cfg := testCfg()
	cfg.KeepaliveInterval = 10 * time.Millisecond
	stale := testConn(t)
	fresh := testConn(t)

	b := p.bucketFor(cfg)
	b.idle = append(b.idle,
		&entry{c: stale, lastReleased: time.Now().Add(-time.Hour)},
		&entry{c: fresh, lastReleased: time.Now()},
	)

	p.sweep()

	stats := p.Stats()[cfg.Key()]
	assert.Equal(t, 1, stats.Idle)
	staleState, _ := stale.State()
	assert.Equal(t, conn.StateClosed, staleState)
	freshState, _ := fresh.State()
	assert.NotEqual(t, conn.StateClosed, freshState)
}

func TestPool_CloseClosesEveryBucket(t *testing.T) {
	p := testPool(t)
	cfg := testCfg()
	c := testConn(t)

	b := p.bucketFor(cfg)
	b.idle = append(b.idle, &entry{c: c, lastReleased: time.Now()})

	p.Close(context.Background())

	stats := p.Stats()[cfg.Key()]
	assert.Equal(t, 0, stats.Idle)
	state, _ := c.State()
	assert.Equal(t, conn.StateClosed, state)
}

// Package pool implements the process-wide connection pool:
// connections are bucketed by (host, username), acquired and released
// by callers, and idle connections past twice KeepaliveInterval since
// last use are evicted by a background sweep driven by
// internal/scheduler.
package pool

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mailkit/imapclient/config"
	"github.com/mailkit/imapclient/conn"
	"github.com/mailkit/imapclient/errs"
	"github.com/mailkit/imapclient/internal/logger"
	"github.com/mailkit/imapclient/internal/scheduler"
)

// entry wraps a pooled connection with its last-released time, so the
// sweep can tell idle connections apart from ones currently checked
// out (lastReleased.IsZero() while checked out).
type entry struct {
	c            *conn.Connection
	lastReleased time.Time
}

type bucket struct {
	mu      sync.Mutex
	cfg     config.ConnectionConfig
	idle    []*entry
	inUse   int
}

// Pool hands out connections bucketed by config.ConnectionConfig.Key(),
// capped at cfg.PoolMaxPerKey concurrently open connections per key.
type Pool struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	log     logger.Logger
	sched   *scheduler.Scheduler
}

// New builds a Pool and starts its background idle-eviction sweep on
// sched (the caller owns sched's lifecycle: Start/Stop).
func New(log logger.Logger, sched *scheduler.Scheduler) *Pool {
	p := &Pool{buckets: make(map[string]*bucket), log: log, sched: sched}
	sched.Every("pool-idle-sweep", "@every 30s", p.sweep)
	return p
}

func (p *Pool) bucketFor(cfg config.ConnectionConfig) *bucket {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := cfg.Key()
	b, ok := p.buckets[key]
	if !ok {
		b = &bucket{cfg: cfg}
		p.buckets[key] = b
	}
	return b
}

// Acquire returns an idle connection for cfg's (host, user) bucket if
// one is available, otherwise dials a fresh one, blocking only on the
// dial itself (never on other callers) -- I/O happens outside any
// pool-held lock.
func (p *Pool) Acquire(ctx context.Context, cfg config.ConnectionConfig) (*conn.Connection, error) {
	cfg = config.Defaults(cfg)
	b := p.bucketFor(cfg)

	b.mu.Lock()
	if len(b.idle) > 0 {
		e := b.idle[len(b.idle)-1]
		b.idle = b.idle[:len(b.idle)-1]
		b.inUse++
		b.mu.Unlock()
		if state, _ := e.c.State(); state != conn.StateClosed {
			if time.Since(e.lastReleased) < time.Second || e.c.Noop(ctx) == nil {
				return e.c, nil
			}
			_ = e.c.Close(ctx)
		}
		// Stale or unhealthy connection slipped in; fall through to
		// dialing a replacement.
		b.mu.Lock()
		b.inUse--
	}
	if b.inUse >= cfg.PoolMaxPerKey {
		b.mu.Unlock()
		return nil, errs.Transport(nil, "pool exhausted for %s: %d connections in use", cfg.Key(), b.inUse)
	}
	b.inUse++
	b.mu.Unlock()

	c, err := conn.Dial(ctx, cfg)
	if err != nil {
		b.mu.Lock()
		b.inUse--
		b.mu.Unlock()
		return nil, err
	}
	c.WithLogger(p.log)
	return c, nil
}

// Release returns c to its (host, user) bucket's idle list, keyed by
// the same cfg Acquire was called with. With monitoring disabled the
// connection's counters are reset so they never accumulate across
// checkouts.
func (p *Pool) Release(cfg config.ConnectionConfig, c *conn.Connection) {
	cfg = config.Defaults(cfg)
	if !cfg.EnableMonitoring {
		c.ResetMetrics()
	}
	b := p.bucketFor(cfg)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inUse--
	if state, _ := c.State(); state == conn.StateClosed {
		return
	}
	b.idle = append(b.idle, &entry{c: c, lastReleased: time.Now()})
}

// WithConnection acquires a connection for cfg, runs fn with it, and
// returns it to the pool afterwards: the scoped-ownership surface for
// callers that need a sequence of operations to observe each other's
// effects on a single connection. Release already drops a connection
// fn left closed instead of pooling it.
func (p *Pool) WithConnection(ctx context.Context, cfg config.ConnectionConfig, fn func(*conn.Connection) error) error {
	cfg = config.Defaults(cfg)
	c, err := p.Acquire(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.Release(cfg, c)
	return fn(c)
}

// Evict forcibly closes and removes c from its bucket's idle list,
// used when a caller detects c is unhealthy without waiting for the
// sweep.
func (p *Pool) Evict(ctx context.Context, cfg config.ConnectionConfig, c *conn.Connection) {
	_ = c.Close(ctx)
	cfg = config.Defaults(cfg)
	b := p.bucketFor(cfg)
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, e := range b.idle {
		if e.c == c {
			b.idle = append(b.idle[:i], b.idle[i+1:]...)
			return
		}
	}
}

// sweep closes and drops idle connections that have sat unused longer
// than twice their bucket's KeepaliveInterval.
func (p *Pool) sweep() {
	p.mu.Lock()
	buckets := make([]*bucket, 0, len(p.buckets))
	for _, b := range p.buckets {
		buckets = append(buckets, b)
	}
	p.mu.Unlock()

	ctx := context.Background()
	for _, b := range buckets {
		b.mu.Lock()
		cutoff := time.Now().Add(-2 * b.cfg.KeepaliveInterval)
		var keep []*entry
		var stale []*entry
		for _, e := range b.idle {
			if e.lastReleased.Before(cutoff) {
				stale = append(stale, e)
			} else {
				keep = append(keep, e)
			}
		}
		b.idle = keep
		b.mu.Unlock()

		for _, e := range stale {
			if err := e.c.Close(ctx); err != nil {
				p.log.Warn("pool sweep: closing idle connection failed", zap.Error(err))
			}
		}
	}
}

// Stats reports the number of idle and in-use connections per bucket
// key, for the Manager's Status() surface.
func (p *Pool) Stats() map[string]BucketStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]BucketStats, len(p.buckets))
	for key, b := range p.buckets {
		b.mu.Lock()
		out[key] = BucketStats{Idle: len(b.idle), InUse: b.inUse}
		b.mu.Unlock()
	}
	return out
}

type BucketStats struct {
	Idle  int
	InUse int
}

// Close closes every pooled connection across all buckets, used during
// process shutdown.
func (p *Pool) Close(ctx context.Context) {
	p.mu.Lock()
	buckets := make([]*bucket, 0, len(p.buckets))
	for _, b := range p.buckets {
		buckets = append(buckets, b)
	}
	p.mu.Unlock()

	for _, b := range buckets {
		b.mu.Lock()
		idle := b.idle
		b.idle = nil
		b.mu.Unlock()
		for _, e := range idle {
			_ = e.c.Close(ctx)
		}
	}
}

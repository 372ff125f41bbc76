package conn

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mailkit/imapclient/internal/logger"
)

// Keepalive issues periodic NOOPs so idle connections aren't reaped by
// NATs or server-side inactivity timeouts.
type Keepalive struct {
	conn     *Connection
	interval time.Duration
	log      logger.Logger

	stop chan struct{}
	done chan struct{}
}

func NewKeepalive(c *Connection, interval time.Duration, log logger.Logger) *Keepalive {
	return &Keepalive{conn: c, interval: interval, log: log, stop: make(chan struct{}), done: make(chan struct{})}
}

// Start runs the keepalive ticker in its own goroutine until Stop is
// called or ctx is cancelled.
func (k *Keepalive) Start(ctx context.Context) {
	go func() {
		defer close(k.done)
		ticker := time.NewTicker(k.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := k.conn.keepaliveTick(ctx, k.interval); err != nil {
					k.log.Warn("keepalive NOOP failed", zap.Error(err))
				}
			case <-k.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// keepaliveTick issues a NOOP only when the connection is free (an
// in-flight command or IDLE is its own liveness signal) and interval
// has elapsed since the last activity.
func (c *Connection) keepaliveTick(ctx context.Context, interval time.Duration) error {
	if !c.execMu.TryLock() {
		return nil
	}
	defer c.execMu.Unlock()
	if time.Since(c.metrics.Snapshot().LastActivityAt) < interval {
		return nil
	}
	_, _, err := c.execute(ctx, "NOOP")
	return err
}

// Stop halts the keepalive loop and waits for its goroutine to exit.
func (k *Keepalive) Stop() {
	close(k.stop)
	<-k.done
}

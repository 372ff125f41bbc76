package conn

import (
	"context"
	"time"
)

// Health is a connection's point-in-time health snapshot.
type Health struct {
	IsConnected           bool
	Capabilities          []string
	AverageResponseTimeMs float64
	SuccessRate           float64
	LastActivityAt        time.Time
}

// HealthCheck reports the connection's health. When HealthCheckInterval
// has elapsed since the last activity it first issues a validating
// NOOP, so the snapshot reflects a live round trip rather than stale
// counters; a NOOP failure reports IsConnected false.
func (c *Connection) HealthCheck(ctx context.Context) Health {
	connected := false
	switch state, _ := c.sm.get(); state {
	case StateAuthenticated, StateSelected:
		connected = true
	}
	if connected && time.Since(c.metrics.Snapshot().LastActivityAt) >= c.cfg.HealthCheckInterval {
		if err := c.Noop(ctx); err != nil {
			connected = false
		}
	}
	snap := c.metrics.Snapshot()
	return Health{
		IsConnected:           connected,
		Capabilities:          c.Capabilities(),
		AverageResponseTimeMs: snap.AverageResponseTimeMs,
		SuccessRate:           snap.SuccessRate,
		LastActivityAt:        snap.LastActivityAt,
	}
}

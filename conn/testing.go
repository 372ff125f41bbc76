package conn

import (
	"bufio"
	"context"
	"net"
	"strings"

	"github.com/mailkit/imapclient/config"
	"github.com/mailkit/imapclient/internal/logger"
	"github.com/mailkit/imapclient/internal/wire"
	"github.com/mailkit/imapclient/metrics"
)

// NewForTesting builds an already-Authenticated Connection around an
// existing net.Conn (typically one half of a net.Pipe), skipping
// Dial's TCP/TLS/greeting/login handshake. Exported so folder,
// mailbox, pool, and idle can exercise real command round trips
// against a scripted in-memory peer without duplicating Connection's
// unexported wiring in every package's own test helpers.
func NewForTesting(cfg config.ConnectionConfig, netConn net.Conn) *Connection {
	cfg = config.Defaults(cfg)
	c := &Connection{
		cfg:         cfg,
		log:         logger.Nop(),
		netConn:     netConn,
		writer:      bufio.NewWriter(netConn),
		scanner:     wire.NewScanner(bufio.NewReader(netConn)),
		tags:        wire.NewTagGenerator("A"),
		sm:          &stateMachine{state: StateAuthenticated},
		metrics:     &metrics.Counters{},
		caps:        make(map[string]bool),
		retryPolicy: NewRetryPolicy(cfg),
		dial:        defaultDialer,
	}
	c.encoder = wire.NewEncoder(c.writer, c)
	return c
}

// SetCapabilityForTesting injects a capability flag without a round
// trip, for tests exercising HasCapability-gated behavior (e.g.
// mailbox's MOVE-vs-COPY+STORE+EXPUNGE fallback).
func (c *Connection) SetCapabilityForTesting(name string, has bool) {
	c.capsMu.Lock()
	defer c.capsMu.Unlock()
	c.caps[strings.ToUpper(name)] = has
}

// SetDialerForTesting overrides the hook Reconnect uses to open a new
// transport, so tests can exercise WithRetry's reconnect path against
// a scripted in-memory peer instead of a real TCP/TLS dial.
func (c *Connection) SetDialerForTesting(dial func(ctx context.Context, cfg config.ConnectionConfig) (net.Conn, error)) {
	c.dial = dial
}

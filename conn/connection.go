package conn

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mailkit/imapclient/config"
	"github.com/mailkit/imapclient/errs"
	"github.com/mailkit/imapclient/internal/logger"
	"github.com/mailkit/imapclient/internal/tracing"
	"github.com/mailkit/imapclient/internal/wire"
	"github.com/mailkit/imapclient/metrics"
)

// Connection is one authenticated IMAP4rev1 connection: exactly one
// command may be in flight at a time (the single-command exclusivity
// invariant), enforced by execMu.
type Connection struct {
	// id uniquely identifies this connection for log correlation; it is
	// tagged on every connect span.
	id  string
	cfg config.ConnectionConfig
	log logger.Logger

	netConn net.Conn
	writer  *bufio.Writer
	scanner *wire.Scanner
	encoder *wire.Encoder
	tags    *wire.TagGenerator

	sm          *stateMachine
	metrics     *metrics.Counters
	retryPolicy RetryPolicy
	dial        dialFunc

	execMu sync.Mutex // exclusive: one command in flight at a time

	capsMu sync.RWMutex
	caps   map[string]bool
}

// dialFunc opens the raw transport for cfg. A field rather than a
// package-level call so Reconnect redials through the same hook Dial
// used, and tests can substitute an in-memory transport via
// SetDialerForTesting.
type dialFunc func(ctx context.Context, cfg config.ConnectionConfig) (net.Conn, error)

func defaultDialer(ctx context.Context, cfg config.ConnectionConfig) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: cfg.Timeout}
	if cfg.UseTLS {
		return tls.DialWithDialer(dialer, "tcp", cfg.Addr(), &tls.Config{ServerName: cfg.Host})
	}
	return dialer.DialContext(ctx, "tcp", cfg.Addr())
}

// Dial opens a TCP (optionally TLS) connection, reads the greeting,
// runs CAPABILITY, LOGIN, and a post-login re-CAPABILITY, and returns
// an Authenticated Connection.
func Dial(ctx context.Context, cfg config.ConnectionConfig) (*Connection, error) {
	cfg = config.Defaults(cfg)
	c := &Connection{
		id:          uuid.New().String(),
		cfg:         cfg,
		log:         logger.Nop(),
		tags:        wire.NewTagGenerator("A"),
		sm:          &stateMachine{state: StateConnecting},
		metrics:     &metrics.Counters{},
		caps:        make(map[string]bool),
		dial:        defaultDialer,
		retryPolicy: NewRetryPolicy(cfg),
	}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// connect dials, reads the greeting, and runs CAPABILITY, LOGIN, and a
// post-login re-CAPABILITY, installing the resulting transport on c
// and recording the attempt on c.metrics. Shared by Dial, which builds
// a fresh Connection around it, and Reconnect, which reruns it in
// place on a Connection that already exists.
func (c *Connection) connect(ctx context.Context) error {
	span, ctx := tracing.StartSpanFromContext(ctx, "conn.connect")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag(tracing.TagHost, c.cfg.Host)
	span.SetTag(tracing.TagUser, c.cfg.Username)
	span.SetTag(tracing.TagConnID, c.id)

	c.metrics.RecordConnectAttempt()

	netConn, err := c.dial(ctx, c.cfg)
	if err != nil {
		c.metrics.RecordConnectResult(false)
		tracing.TraceErr(span, err)
		return errs.Transport(err, "dialing %s", c.cfg.Addr())
	}

	c.netConn = netConn
	c.writer = bufio.NewWriter(netConn)
	c.scanner = wire.NewScanner(bufio.NewReader(netConn))
	c.encoder = wire.NewEncoder(c.writer, c)

	if err := c.readGreeting(); err != nil {
		c.metrics.RecordConnectResult(false)
		tracing.TraceErr(span, err)
		_ = netConn.Close()
		return err
	}

	if err := c.capability(ctx); err != nil {
		c.metrics.RecordConnectResult(false)
		tracing.TraceErr(span, err)
		_ = netConn.Close()
		return err
	}

	if err := c.login(ctx, c.cfg.Username, c.cfg.Password); err != nil {
		c.metrics.RecordConnectResult(false)
		tracing.TraceErr(span, err)
		_ = netConn.Close()
		return err
	}
	if err := c.sm.transitionTo(StateAuthenticated, ""); err != nil {
		c.metrics.RecordConnectResult(false)
		_ = netConn.Close()
		return err
	}

	// Capabilities commonly change post-authentication (e.g. IDLE,
	// UIDPLUS advertised only once logged in).
	if err := c.capability(ctx); err != nil {
		c.metrics.RecordConnectResult(false)
		tracing.TraceErr(span, err)
		_ = netConn.Close()
		return err
	}

	c.metrics.RecordConnectResult(true)
	return nil
}

// Reconnect redials and re-authenticates in place: it replaces c's
// transport and state machine but keeps its identity, metrics, and
// retry policy, so callers already holding this *Connection (and
// anything built on top of it, like a *mailbox.Mailbox) observe a live
// session again once it returns. Used by WithRetry to recover from a
// TransportError or Timeout.
func (c *Connection) Reconnect(ctx context.Context) error {
	c.execMu.Lock()
	if c.netConn != nil {
		_ = c.netConn.Close()
	}
	c.sm = &stateMachine{state: StateConnecting}
	c.execMu.Unlock()
	return c.connect(ctx)
}

// MarkSelected records that name is now the selected mailbox on c's
// state machine, for callers (mailbox.Select, WithRetry's post-
// reconnect re-SELECT) that drive SELECT/EXAMINE themselves via
// Execute rather than through a dedicated helper.
func (c *Connection) MarkSelected(name string) error {
	return c.sm.transitionTo(StateSelected, name)
}

// WithRetry runs fn through c's configured RetryPolicy. Wraps every
// user-visible operation: on a retriable error
// (TransportError, Timeout) it reconnects c in place, re-SELECTs
// whatever mailbox was selected before the failure, and lets the
// policy replay fn again -- rather than only retrying the initial
// Dial/login sequence.
func (c *Connection) WithRetry(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	return c.retryPolicy.Do(ctx, c.log, operation, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil || !errs.Retriable(err) {
			return err
		}
		_, selected := c.sm.get()
		if rerr := c.Reconnect(ctx); rerr != nil {
			return rerr
		}
		if selected != "" {
			cmd := "SELECT"
			if _, _, serr := c.Execute(ctx, cmd, wire.EncodeMailboxName(selected)); serr != nil {
				return serr
			}
			_ = c.MarkSelected(selected)
		}
		return err
	})
}

// ID returns this connection's unique identity, minted once at Dial
// time.
func (c *Connection) ID() string { return c.id }

// WithLogger attaches a structured logger; returns c for chaining.
func (c *Connection) WithLogger(log logger.Logger) *Connection {
	c.log = log
	return c
}

// classifyIOError maps a read/write failure onto the error taxonomy: a
// malformed response is a protocol violation (the stream is
// unsynchronized, the connection unusable), a deadline overrun is a
// timeout, anything else is the transport.
func classifyIOError(err error, format string, args ...any) error {
	if wire.IsParseError(err) {
		return errs.Protocol(err, format, args...)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return errs.Timeout(err, format, args...)
	}
	return errs.Transport(err, format, args...)
}

// discard tears down a connection whose response stream can no longer
// be trusted. Called with execMu held.
func (c *Connection) discard() {
	if c.netConn != nil {
		_ = c.netConn.Close()
	}
	_ = c.sm.transitionTo(StateClosed, "")
}

func (c *Connection) readGreeting() error {
	resp, err := c.scanner.ReadResponse()
	if err != nil {
		return classifyIOError(err, "reading greeting")
	}
	if resp.Kind != wire.KindUntagged {
		return errs.Protocol(nil, "unexpected greeting %q", resp.Raw).WithLine(resp.Raw)
	}
	switch resp.Status {
	case wire.StatusOK, wire.StatusPreAuth:
		return nil
	case wire.StatusBye:
		return errs.Transport(nil, "server sent BYE in greeting").WithLine(resp.Raw)
	default:
		return errs.Protocol(nil, "unexpected greeting status %q", resp.Status).WithLine(resp.Raw)
	}
}

// AwaitContinuation implements wire.ContinuationWaiter: it reads the
// very next response and requires it to be a "+" continuation.
func (c *Connection) AwaitContinuation() error {
	resp, err := c.scanner.ReadResponse()
	if err != nil {
		return classifyIOError(err, "awaiting continuation")
	}
	if resp.Kind != wire.KindContinuation {
		return errs.Protocol(nil, "expected continuation, got %q", resp.Raw).WithLine(resp.Raw)
	}
	return nil
}

// Execute sends one command and collects responses until the matching
// tagged response arrives, holding execMu for the command's whole
// round trip so no other goroutine can interleave a command on the
// same connection.
func (c *Connection) Execute(ctx context.Context, name string, args ...any) ([]*wire.Response, *wire.Response, error) {
	c.execMu.Lock()
	defer c.execMu.Unlock()
	return c.execute(ctx, name, args...)
}

// execute is Execute's body, called with execMu already held.
func (c *Connection) execute(ctx context.Context, name string, args ...any) ([]*wire.Response, *wire.Response, error) {
	span, ctx := tracing.StartSpanFromContext(ctx, "conn.Execute."+name)
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	tag := c.tags.Next()
	span.SetTag(tracing.TagTag, tag)

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.netConn.SetDeadline(deadline)
	} else if c.cfg.Timeout > 0 {
		_ = c.netConn.SetDeadline(time.Now().Add(c.cfg.Timeout))
	}

	if err := c.encoder.WriteCommand(tag, name, args...); err != nil {
		c.metrics.RecordOperation(false, 0)
		tracing.TraceErr(span, err)
		// A continuation wait inside a literal write may already have
		// classified the failure (e.g. a protocol violation); keep
		// that classification instead of relabeling it transport.
		if code := errs.CodeOf(err); code != "" {
			if code == errs.CodeProtocol {
				c.discard()
			}
			return nil, nil, err
		}
		return nil, nil, classifyIOError(err, "writing command %s", name)
	}

	start := time.Now()
	var untagged []*wire.Response
	for {
		resp, err := c.scanner.ReadResponse()
		if err != nil {
			c.metrics.RecordOperation(false, time.Since(start))
			tracing.TraceErr(span, err)
			cerr := classifyIOError(err, "reading response to %s", name)
			if errs.CodeOf(cerr) == errs.CodeProtocol {
				c.discard()
			}
			return nil, nil, cerr
		}
		if resp.Kind == wire.KindUntagged {
			untagged = append(untagged, resp)
			continue
		}
		if resp.Kind == wire.KindTagged && resp.Tag == tag {
			c.metrics.Touch()
			ok := resp.Status == wire.StatusOK
			c.metrics.RecordOperation(ok, time.Since(start))
			if !ok {
				tracing.TraceErr(span, fmt.Errorf("%s", resp.Text))
				return untagged, resp, classifyTaggedError(name, resp)
			}
			return untagged, resp, nil
		}
		// A tagged response for a stale/unexpected tag, or a stray
		// continuation outside of a literal write: treat as a
		// protocol violation rather than silently dropping it.
		c.metrics.RecordOperation(false, time.Since(start))
		c.discard()
		return untagged, nil, errs.Protocol(nil, "unexpected response %q while awaiting %s", resp.Raw, tag).WithLine(resp.Raw)
	}
}

func classifyTaggedError(command string, resp *wire.Response) error {
	switch resp.Status {
	case wire.StatusNO:
		return errs.Protocol(nil, "%s failed: %s", command, resp.Text).WithLine(resp.Raw)
	case wire.StatusBad:
		return errs.InvalidArgument("%s failed: %s", command, resp.Text).WithLine(resp.Raw)
	default:
		return errs.Protocol(nil, "%s failed: %s", command, resp.Text).WithLine(resp.Raw)
	}
}

func (c *Connection) capability(ctx context.Context) error {
	untagged, _, err := c.Execute(ctx, "CAPABILITY")
	if err != nil {
		return err
	}
	caps := make(map[string]bool)
	for _, resp := range untagged {
		if resp.Keyword != "CAPABILITY" {
			continue
		}
		for _, f := range resp.Fields {
			if s, ok := f.AsString(); ok {
				caps[strings.ToUpper(s)] = true
			}
		}
	}
	c.capsMu.Lock()
	c.caps = caps
	c.capsMu.Unlock()
	return nil
}

// Noop issues a bare NOOP, used as a liveness check before handing a
// pooled idle connection back out.
func (c *Connection) Noop(ctx context.Context) error {
	_, _, err := c.Execute(ctx, "NOOP")
	return err
}

// HasCapability reports whether the server advertised name (e.g.
// "IDLE", "UIDPLUS", "MOVE").
func (c *Connection) HasCapability(name string) bool {
	c.capsMu.RLock()
	defer c.capsMu.RUnlock()
	return c.caps[strings.ToUpper(name)]
}

// Capabilities returns the server's advertised capability set, sorted.
func (c *Connection) Capabilities() []string {
	c.capsMu.RLock()
	defer c.capsMu.RUnlock()
	out := make([]string, 0, len(c.caps))
	for name := range c.caps {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (c *Connection) login(ctx context.Context, user, pass string) error {
	_, _, err := c.Execute(ctx, "LOGIN", user, pass)
	if err != nil {
		return errs.Authentication(err, "login as %s", user)
	}
	return nil
}

// State returns the connection's current lifecycle state and, when
// StateSelected, the selected mailbox name.
func (c *Connection) State() (State, string) { return c.sm.get() }

// Metrics returns a point-in-time snapshot of this connection's
// counters.
func (c *Connection) Metrics() metrics.Snapshot { return c.metrics.Snapshot() }

// ResetMetrics zeroes the connection's counters. The pool calls this on
// release when monitoring is disabled, so counters never accumulate
// across checkouts.
func (c *Connection) ResetMetrics() {
	c.execMu.Lock()
	defer c.execMu.Unlock()
	c.metrics.Reset()
}

// Close sends LOGOUT (best effort) and closes the underlying socket.
func (c *Connection) Close(ctx context.Context) error {
	c.execMu.Lock()
	state, _ := c.sm.get()
	c.execMu.Unlock()
	if state == StateClosed {
		return nil
	}
	_, _, _ = c.Execute(ctx, "LOGOUT")
	err := c.netConn.Close()
	_ = c.sm.transitionTo(StateClosed, "")
	if err != nil {
		return errs.Transport(err, "closing connection")
	}
	return nil
}

// transitionSelected records a successful SELECT/EXAMINE.
func (c *Connection) transitionSelected(mailbox string) error {
	return c.sm.transitionTo(StateSelected, mailbox)
}

// transitionAuthenticated records a CLOSE/UNSELECT back out of a
// mailbox.
func (c *Connection) transitionAuthenticated() error {
	return c.sm.transitionTo(StateAuthenticated, "")
}

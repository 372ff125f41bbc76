// Package imapclient is the stable consumer surface: Connect
// opens an authenticated connection out of the process-wide pool,
// Client.Folders/Client.Select hand back the typed services everything
// else in this module implements, and Client.Close returns the
// connection to the pool instead of tearing down shared state.
package imapclient

import (
	"context"
	"sync"

	"github.com/mailkit/imapclient/conn"
	"github.com/mailkit/imapclient/config"
	"github.com/mailkit/imapclient/folder"
	"github.com/mailkit/imapclient/idle"
	"github.com/mailkit/imapclient/internal/logger"
	"github.com/mailkit/imapclient/internal/scheduler"
	"github.com/mailkit/imapclient/mailbox"
	"github.com/mailkit/imapclient/pool"
)

// Client is one logical IMAP session: a pooled Connection plus the
// config and logger that produced it. It is not safe for concurrent use
// by multiple goroutines issuing overlapping operations -- Connection
// already serializes at the command level, but Select mutates which
// mailbox subsequent Mailbox methods target, so callers running
// concurrent workflows should open a Client per workflow or guard their
// own call sequencing.
type Client struct {
	cfg       config.ConnectionConfig
	log       logger.Logger
	pool      *pool.Pool
	sched     *scheduler.Scheduler
	ownsSched bool
	conn      *conn.Connection
	keepalive *conn.Keepalive
	retry     conn.RetryPolicy

	folderStats *folder.StatsCache

	mu      sync.Mutex
	closed  bool
	current *mailbox.Mailbox
}

// Option customizes Connect.
type Option func(*Client)

// WithLogger attaches a structured logger to the Client and the
// Connection it acquires.
func WithLogger(log logger.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithPool shares an existing process-wide Pool (and the Scheduler that
// drives its idle sweep) instead of Connect standing up a private
// single-client pool and scheduler of its own. Use this when a caller
// opens many Clients against the same set of mailboxes, so
// idle-connection reuse and eviction happen across all of them.
func WithPool(p *pool.Pool) Option {
	return func(c *Client) { c.pool = p }
}

// Connect dials (or reuses from the pool) an authenticated connection
// for cfg and returns a ready-to-use Client.
func Connect(ctx context.Context, cfg config.ConnectionConfig, opts ...Option) (*Client, error) {
	cfg = config.Defaults(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	c := &Client{cfg: cfg, log: logger.Nop(), folderStats: folder.NewStatsCache()}
	for _, o := range opts {
		o(c)
	}

	if c.pool == nil {
		c.sched = scheduler.New(c.log)
		c.sched.Start()
		c.pool = pool.New(c.log, c.sched)
		c.ownsSched = true
	}
	c.retry = conn.NewRetryPolicy(cfg)

	var acquired *conn.Connection
	err := c.retry.Do(ctx, c.log, "connect", func(ctx context.Context) error {
		cn, err := c.pool.Acquire(ctx, cfg)
		if err != nil {
			return err
		}
		acquired = cn
		return nil
	})
	if err != nil {
		if c.ownsSched {
			c.sched.Stop()
		}
		return nil, err
	}
	acquired.WithLogger(c.log)
	c.conn = acquired
	if cfg.KeepaliveInterval > 0 {
		c.keepalive = conn.NewKeepalive(acquired, cfg.KeepaliveInterval, c.log)
		c.keepalive.Start(context.Background())
	}
	return c, nil
}

// Close returns the underlying connection to the pool and, if Connect
// started a private pool/scheduler for this Client alone, stops them.
// Calling Close more than once is a no-op (a context-manager's
// context-manager semantics, reimplemented here as idempotent Close
// since Go has no `with` block of its own).
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.keepalive != nil {
		c.keepalive.Stop()
	}
	if c.conn != nil {
		c.pool.Release(c.cfg, c.conn)
	}
	if c.ownsSched {
		c.pool.Close(ctx)
		c.sched.Stop()
	}
	return nil
}

// Folders returns the folder-management surface (LIST/CREATE/RENAME/
// DELETE/STATUS) bound to this Client's connection.
func (c *Client) Folders() *FolderService {
	return &FolderService{conn: c.conn, stats: c.folderStats}
}

// Select runs SELECT for name and returns the Mailbox bound to it,
// replacing whatever mailbox this Client had selected before (the
// Connection state machine only tracks one Selected(mailbox) at a
// time).
func (c *Client) Select(ctx context.Context, name string) (*mailbox.Mailbox, error) {
	mb, err := mailbox.Select(ctx, c.conn, name, false)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.current = mb
	c.mu.Unlock()
	return mb, nil
}

// ExamineOnly runs EXAMINE (read-only SELECT) for name.
func (c *Client) ExamineOnly(ctx context.Context, name string) (*mailbox.Mailbox, error) {
	mb, err := mailbox.Select(ctx, c.conn, name, true)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.current = mb
	c.mu.Unlock()
	return mb, nil
}

// Idle starts an IDLE monitor against mb, which must be the
// Mailbox last returned by Select on this Client's own connection.
// initialUIDs is the caller's uid_search(All) baseline, taken just
// before calling Idle so the first reconciliation diff is accurate.
func (c *Client) Idle(mb *mailbox.Mailbox, initialUIDs []uint32) *idle.Monitor {
	return idle.New(c.conn, mb, initialUIDs, c.log)
}

// Current returns the Mailbox last returned by Select/ExamineOnly, or
// nil if nothing has been selected yet on this Client.
func (c *Client) Current() *mailbox.Mailbox {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Connection exposes the underlying Connection for callers that need
// capability checks or a Status() snapshot this Client doesn't already
// surface directly.
func (c *Client) Connection() *conn.Connection { return c.conn }

// HealthCheck validates the underlying connection (issuing a NOOP when
// the configured health-check interval has elapsed since its last
// activity) and returns the resulting health snapshot.
func (c *Client) HealthCheck(ctx context.Context) conn.Health {
	return c.conn.HealthCheck(ctx)
}

// Status reports this Client's connection-level health (the
// ConnectionMetrics plus lifecycle state), the single-connection analog
// of Manager.Status().
func (c *Client) Status() ConnectionStatus {
	state, selected := c.conn.State()
	return ConnectionStatus{
		Key:             c.cfg.Key(),
		State:           state.String(),
		SelectedMailbox: selected,
		Metrics:         c.conn.Metrics(),
	}
}

// FolderService is the folder-management surface
// `client.folders()` returns.
type FolderService struct {
	conn  *conn.Connection
	stats *folder.StatsCache
}

func (f *FolderService) List(ctx context.Context, pattern string) ([]folder.Info, error) {
	return folder.List(ctx, f.conn, pattern)
}

func (f *FolderService) Create(ctx context.Context, name string) error {
	return folder.Create(ctx, f.conn, name)
}

func (f *FolderService) Rename(ctx context.Context, oldName, newName string) error {
	return folder.Rename(ctx, f.conn, oldName, newName)
}

func (f *FolderService) Delete(ctx context.Context, name string) error {
	return folder.Delete(ctx, f.conn, name)
}

func (f *FolderService) Status(ctx context.Context, name string, items ...string) (folder.Status, error) {
	return folder.GetStatus(ctx, f.conn, name, items...)
}

// Stats refreshes and returns this Client's accumulated Total/Unseen/
// LastSeen/LastSync view of name, a cheaper read-through alternative to
// Status for pollers that only care about counts.
func (f *FolderService) Stats(ctx context.Context, name string) (folder.Stats, error) {
	return f.stats.Refresh(ctx, f.conn, name)
}

// Package idle implements the per-mailbox IDLE monitor:
// Selected -> Idling -> Drained -> Selected, scheduled DONE refreshes
// every 28 minutes (RFC 2177 advises re-issuing IDLE at least every 29),
// UID-delta
// reconciliation against a fresh UID SEARCH on every refresh, and
// cooperative cancellation.
package idle

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mailkit/imapclient/conn"
	"github.com/mailkit/imapclient/criteria"
	"github.com/mailkit/imapclient/errs"
	"github.com/mailkit/imapclient/internal/logger"
	"github.com/mailkit/imapclient/internal/wire"
	"github.com/mailkit/imapclient/mailbox"
)

// RefreshInterval is the monitor's scheduled DONE/re-IDLE period.
// RFC 2177 doesn't mandate a server-side IDLE timeout, but 29 minutes
// is the commonly observed ceiling before a server drops an idle
// connection, so the monitor refreshes a minute early.
const RefreshInterval = 28 * time.Minute

// EventKind discriminates the change events the monitor emits.
type EventKind int

const (
	// EventNewMessage reports a UID present after reconciliation that
	// was absent from the prior snapshot.
	EventNewMessage EventKind = iota
	// EventDeletedMessage reports a UID present in the prior snapshot
	// that is now gone.
	EventDeletedMessage
	// EventFlagsChanged reports an untagged FETCH flag update for a
	// UID still present in the mailbox.
	EventFlagsChanged
	// EventResync reports that an IDLE iteration failed (IDLE could not
	// be started, stopped or reconciled), so subsequent changes cannot
	// be attributed to a known prior snapshot; the caller should treat
	// its view of the mailbox as stale and re-list it from scratch. The
	// monitor does not reconnect: after a one-second pause it starts
	// IDLE again on the same connection.
	EventResync
)

func (k EventKind) String() string {
	switch k {
	case EventNewMessage:
		return "NewMessage"
	case EventDeletedMessage:
		return "DeletedMessage"
	case EventFlagsChanged:
		return "FlagsChanged"
	case EventResync:
		return "Resync"
	default:
		return "Unknown"
	}
}

// Event is one change delivered by the monitor.
type Event struct {
	Kind  EventKind
	UID   uint32
	Flags []string
	// RunID identifies which run of the monitor produced this event
	// (minted fresh every time an IDLE iteration fails and a Resync is
	// emitted), so a caller seeing a Resync can tell it apart
	// from the run it replaces and discard any UID-keyed state tied
	// to the prior run.
	RunID string
}

// State is the monitor's lifecycle state.
type State int

const (
	StateSelected State = iota
	StateIdling
	StateDrained
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateSelected:
		return "Selected"
	case StateIdling:
		return "Idling"
	case StateDrained:
		return "Drained"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Monitor runs the IDLE loop for one mailbox on one connection until
// Stop is called or the context is cancelled. It is not safe for
// concurrent use beyond reading Events()/State() from other
// goroutines while the monitor's own goroutine drives the loop.
type Monitor struct {
	conn     *conn.Connection
	mailbox  *mailbox.Mailbox
	log      logger.Logger
	refresh  time.Duration
	events   chan Event
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}

	mu    sync.Mutex
	state State
	snap  map[uint32]bool
	runID string
}

// New builds a Monitor for an already-selected mailbox, snapshotting
// its current UIDs as the reconciliation baseline (the
// uid_search(All), performed by the caller via mailbox.Search before
// constructing the Monitor so the initial snapshot and the Monitor's
// lifetime stay in the caller's control).
func New(c *conn.Connection, mb *mailbox.Mailbox, initialUIDs []uint32, log logger.Logger) *Monitor {
	snap := make(map[uint32]bool, len(initialUIDs))
	for _, u := range initialUIDs {
		snap[u] = true
	}
	return &Monitor{
		conn:    c,
		mailbox: mb,
		log:     log,
		refresh: RefreshInterval,
		events:  make(chan Event, 64),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		state:   StateSelected,
		snap:    snap,
		runID:   uuid.New().String(),
	}
}

// Events returns the channel of change events. It closes once the
// monitor stops for any reason.
func (m *Monitor) Events() <-chan Event { return m.events }

// State returns the monitor's current lifecycle state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Monitor) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// currentRunID returns the run identity events emitted right now should
// carry.
func (m *Monitor) currentRunID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runID
}

// Stop signals the monitor to end its current IDLE (or skip entering
// the next one) and wait for it to fully exit.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.doneCh
}

// Run drives the Selected -> Idling -> Drained -> Selected loop until
// Stop is called or ctx is done. Call it from its own goroutine; it
// blocks until the monitor exits. A failed iteration mints a new RunID,
// emits a Resync, and retries IDLE on the same connection after one
// second; the connection is not redialed.
func (m *Monitor) Run(ctx context.Context) {
	defer close(m.events)
	defer close(m.doneCh)
	defer m.setState(StateStopped)

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := m.runOneIdle(ctx); err != nil {
			if m.log != nil {
				m.log.Warn("idle monitor iteration failed", zap.Error(err))
			}
			m.mu.Lock()
			m.runID = uuid.New().String()
			m.mu.Unlock()
			m.emit(Event{Kind: EventResync, RunID: m.currentRunID()})
			select {
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

func (m *Monitor) runOneIdle(ctx context.Context) error {
	m.setState(StateIdling)
	sess, err := m.conn.StartIdle(ctx)
	if err != nil {
		return err
	}

	timer := time.NewTimer(m.refresh)
	defer timer.Stop()

	for {
		select {
		case resp, ok := <-sess.Updates():
			if !ok {
				return m.drainAndReconcile(ctx, sess)
			}
			m.handleUntagged(resp)
		case <-timer.C:
			return m.drainAndReconcile(ctx, sess)
		case <-m.stopCh:
			return m.drainAndReconcile(ctx, sess)
		case <-ctx.Done():
			_ = sess.Stop()
			return ctx.Err()
		}
	}
}

// handleUntagged emits a FlagsChanged event for an in-IDLE untagged
// FETCH; EXISTS/EXPUNGE are deliberately not translated to NewMessage/
// DeletedMessage here (they are ignored, and do not trigger an early
// reconciliation) --
// the UID-accurate New/Deleted events are only produced by
// reconciliation, since EXISTS/EXPUNGE carry sequence numbers, not
// UIDs.
func (m *Monitor) handleUntagged(resp *wire.Response) {
	runID := m.currentRunID()
	if resp.Keyword != "FETCH" || len(resp.Fields) != 1 {
		return
	}
	fields := resp.Fields[0].List
	var uid uint32
	var flags []string
	for i := 0; i+1 < len(fields); i += 2 {
		name, _ := fields[i].AsString()
		switch strings.ToUpper(name) {
		case "UID":
			if n, ok := fields[i+1].AsNumber(); ok {
				uid = uint32(n)
			}
		case "FLAGS":
			for _, f := range fields[i+1].List {
				if s, ok := f.AsString(); ok {
					flags = append(flags, s)
				}
			}
		}
	}
	if uid != 0 && flags != nil {
		m.emit(Event{Kind: EventFlagsChanged, UID: uid, Flags: flags, RunID: runID})
	}
}

// drainAndReconcile stops the current IDLE, re-enters Drained, runs a
// fresh UID SEARCH ALL, diffs it against the prior snapshot to emit
// NewMessage/DeletedMessage, and returns to Selected.
func (m *Monitor) drainAndReconcile(ctx context.Context, sess interface{ Stop() error }) error {
	if err := sess.Stop(); err != nil {
		return errs.Protocol(err, "stopping IDLE")
	}
	m.setState(StateDrained)

	set, err := m.mailbox.Search(ctx, criteria.All())
	if err != nil {
		return err
	}
	current := make(map[uint32]bool)
	for _, u := range set.UIDs() {
		current[u] = true
	}

	m.mu.Lock()
	prior := m.snap
	m.snap = current
	m.mu.Unlock()
	runID := m.currentRunID()

	for uid := range current {
		if !prior[uid] {
			m.emit(Event{Kind: EventNewMessage, UID: uid, RunID: runID})
		}
	}
	for uid := range prior {
		if !current[uid] {
			m.emit(Event{Kind: EventDeletedMessage, UID: uid, RunID: runID})
		}
	}

	m.setState(StateSelected)
	return nil
}

func (m *Monitor) emit(e Event) {
	select {
	case m.events <- e:
		return
	default:
	}
	select {
	case m.events <- e:
	case <-m.stopCh:
	}
}

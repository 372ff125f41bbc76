package conn

import (
	"context"
	"time"

	"github.com/mailkit/imapclient/errs"
	"github.com/mailkit/imapclient/internal/wire"
)

// IdleSession is one in-flight IDLE command (RFC 2177): the connection
// is held exclusively (execMu stays locked for the session's whole
// lifetime, same as every other command) while a background goroutine
// streams untagged responses to Updates() until Stop sends "DONE" and
// waits for the tagged completion.
type IdleSession struct {
	conn    *Connection
	tag     string
	updates chan *wire.Response
	result  chan error
}

// StartIdle sends IDLE, waits for the server's "+" continuation, and
// returns a session streaming untagged responses until Stop is called.
// Held execMu is released only once Stop completes.
func (c *Connection) StartIdle(ctx context.Context) (*IdleSession, error) {
	c.execMu.Lock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.netConn.SetDeadline(deadline)
	} else if c.cfg.Timeout > 0 {
		_ = c.netConn.SetDeadline(time.Now().Add(c.cfg.Timeout))
	}

	tag := c.tags.Next()
	if err := c.encoder.WriteCommand(tag, "IDLE"); err != nil {
		c.execMu.Unlock()
		return nil, errs.Transport(err, "writing IDLE command")
	}

	resp, err := c.scanner.ReadResponse()
	if err != nil {
		c.execMu.Unlock()
		return nil, errs.Transport(err, "awaiting IDLE continuation")
	}
	if resp.Kind != wire.KindContinuation {
		c.execMu.Unlock()
		return nil, errs.Protocol(nil, "expected IDLE continuation, got %q", resp.Raw).WithLine(resp.Raw)
	}

	// Idling itself blocks on server-pushed data for long stretches by
	// design; clear the deadline so the pump's read doesn't time out
	// the way a normal bounded command's would.
	_ = c.netConn.SetDeadline(time.Time{})

	s := &IdleSession{
		conn:    c,
		tag:     tag,
		updates: make(chan *wire.Response, 32),
		result:  make(chan error, 1),
	}
	go s.pump()
	return s, nil
}

func (s *IdleSession) pump() {
	defer close(s.updates)
	for {
		resp, err := s.conn.scanner.ReadResponse()
		if err != nil {
			s.result <- classifyIOError(err, "reading IDLE update")
			return
		}
		if resp.Kind == wire.KindTagged && resp.Tag == s.tag {
			if resp.Status != wire.StatusOK {
				s.result <- classifyTaggedError("IDLE", resp)
			} else {
				s.result <- nil
			}
			return
		}
		s.updates <- resp
	}
}

// Updates streams every untagged response (EXISTS, EXPUNGE, FETCH
// flag-update, ...) pushed by the server while idling. The channel
// closes once the IDLE command's tagged response has been read.
func (s *IdleSession) Updates() <-chan *wire.Response { return s.updates }

// Stop sends "DONE", waits for the IDLE command's tagged completion,
// and releases the execMu lock StartIdle acquired. Once a caller stops
// reading Updates(), pump can still have untagged responses queued
// ahead of the tagged completion; Stop keeps draining the channel
// itself so pump is never left blocked trying to deliver one, which
// would otherwise deadlock Stop against its own pump goroutine.
func (s *IdleSession) Stop() error {
	defer s.conn.execMu.Unlock()
	if _, err := s.conn.writer.WriteString("DONE\r\n"); err != nil {
		return errs.Transport(err, "writing IDLE DONE")
	}
	if err := s.conn.writer.Flush(); err != nil {
		return errs.Transport(err, "flushing IDLE DONE")
	}
	updates := s.updates
	for {
		select {
		case _, ok := <-updates:
			if !ok {
				updates = nil
			}
		case err := <-s.result:
			return err
		}
	}
}

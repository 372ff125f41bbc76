package idle

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
	"github.com/mailkit/imapclient/mailbox"
)

func newTestMailbox(t *testing.T) (*mailbox.Mailbox, *conn.Connection, net.Conn) {
	t.Helper()
	clientSide, serverSide := net.Pipe()
	c := conn.NewForTesting(config.Defaults(config.ConnectionConfig{Host: "imap.example.com"}), clientSide)
	t.Cleanup(func() { _ = clientSide.Close(); _ = serverSide.Close() })

	done := make(chan struct{})
	go func() {
		defer close(done)
		r := bufio.NewReader(serverSide)
		_, _ = r.ReadString('\n')
		_, _ = serverSide.Write([]byte("* 2 EXISTS\r\n"))
		_, _ = serverSide.Write([]byte("A0001 OK [READ-WRITE] SELECT completed\r\n"))
	}()
	mb, err := mailbox.Select(context.Background(), c, "INBOX", false)
	require.NoError(t, err)
	<-done
	return mb, c, serverSide
}

func TestMonitor_ReconcileEmitsNewAndDeletedWithRunID(t *testing.T) {
	mb, c, server := newTestMailbox(t)
	mon := New(c, mb, []uint32{1, 2}, nil)
	firstRunID := mon.currentRunID()
	require.NotEmpty(t, firstRunID)

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		r := bufio.NewReader(server)

		idleLine, _ := r.ReadString('\n')
		assert.Contains(t, idleLine, "IDLE")
		_, _ = server.Write([]byte("+ idling\r\n"))

		doneLine, _ := r.ReadString('\n')
		assert.Equal(t, "DONE\r\n", doneLine)
		_, _ = server.Write([]byte("A0002 OK IDLE terminated\r\n"))

		searchLine, _ := r.ReadString('\n')
		assert.Contains(t, searchLine, "SEARCH")
		_, _ = server.Write([]byte("* SEARCH 2 3\r\n"))
		_, _ = server.Write([]byte("A0003 OK SEARCH completed\r\n"))
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mon.Run(ctx)

	time.Sleep(10 * time.Millisecond)
	mon.Stop()

	var sawNew, sawDeleted bool
	for ev := range mon.Events() {
		assert.Equal(t, firstRunID, ev.RunID)
		switch ev.Kind {
		case EventNewMessage:
			assert.EqualValues(t, 3, ev.UID)
			sawNew = true
		case EventDeletedMessage:
			assert.EqualValues(t, 1, ev.UID)
			sawDeleted = true
		}
	}
	assert.True(t, sawNew)
	assert.True(t, sawDeleted)
	<-serverDone
}

func TestMonitor_FailedIdleMintsNewRunID(t *testing.T) {
	mb, c, server := newTestMailbox(t)
	mon := New(c, mb, nil, nil)
	firstRunID := mon.currentRunID()

	go func() {
		r := bufio.NewReader(server)
		idleLine, _ := r.ReadString('\n')
		assert.Contains(t, idleLine, "IDLE")
		// Close the server side mid-IDLE to force a read error, driving
		// the monitor into its Resync branch.
		_ = server.Close()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mon.Run(ctx)

	var resync Event
	for ev := range mon.Events() {
		if ev.Kind == EventResync {
			resync = ev
			mon.Stop()
			break
		}
	}
	assert.NotEmpty(t, resync.RunID)
	assert.NotEqual(t, firstRunID, resync.RunID)
}

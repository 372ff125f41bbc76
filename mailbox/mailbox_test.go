package mailbox

import (
	"bufio"
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailkit/imapclient/config"
	"github.com/mailkit/imapclient/conn"
	"github.com/mailkit/imapclient/criteria"
	"github.com/mailkit/imapclient/errs"
	"github.com/mailkit/imapclient/msgset"
)

func newTestConnection(t *testing.T) (*conn.Connection, net.Conn) {
	t.Helper()
	clientSide, serverSide := net.Pipe()
	c := conn.NewForTesting(config.Defaults(config.ConnectionConfig{Host: "imap.example.com"}), clientSide)
	t.Cleanup(func() { _ = clientSide.Close(); _ = serverSide.Close() })
	return c, serverSide
}

func TestSelect_ParsesSizeAndCodes(t *testing.T) {
	c, server := newTestConnection(t)
	go func() {
		r := bufio.NewReader(server)
		_, _ = r.ReadString('\n')
		_, _ = server.Write([]byte("* 42 EXISTS\r\n"))
		_, _ = server.Write([]byte("* 3 RECENT\r\n"))
		_, _ = server.Write([]byte("* FLAGS (\\Answered \\Flagged \\Deleted \\Seen \\Draft)\r\n"))
		_, _ = server.Write([]byte("* OK [UIDVALIDITY 7] UIDs valid\r\n"))
		_, _ = server.Write([]byte("* OK [UIDNEXT 100] Predicted next UID\r\n"))
		_, _ = server.Write([]byte("A0001 OK [READ-WRITE] SELECT completed\r\n"))
	}()

	m, err := Select(context.Background(), c, "INBOX", false)
	require.NoError(t, err)
	assert.Equal(t, "INBOX", m.Name())
	assert.EqualValues(t, 42, m.Exists())
	assert.EqualValues(t, 7, m.UIDValidity())
	assert.EqualValues(t, 100, m.UIDNext())
}

func TestReselect_ReportsUidValidityChange(t *testing.T) {
	c, server := newTestConnection(t)
	m := &Mailbox{conn: c, name: "INBOX", uidValidity: 7}
	go func() {
		r := bufio.NewReader(server)
		_, _ = r.ReadString('\n')
		_, _ = server.Write([]byte("* 3 EXISTS\r\n"))
		_, _ = server.Write([]byte("* OK [UIDVALIDITY 8] UIDs valid\r\n"))
		_, _ = server.Write([]byte("A0001 OK [READ-WRITE] SELECT completed\r\n"))
	}()

	err := m.Reselect(context.Background())
	require.Error(t, err)
	assert.Equal(t, errs.CodeUidValidityChanged, errs.CodeOf(err))
	assert.EqualValues(t, 8, m.UIDValidity(), "the new epoch is adopted even while reporting the change")
}

func TestReselect_SameUidValidityIsQuiet(t *testing.T) {
	c, server := newTestConnection(t)
	m := &Mailbox{conn: c, name: "INBOX", uidValidity: 7}
	go func() {
		r := bufio.NewReader(server)
		_, _ = r.ReadString('\n')
		_, _ = server.Write([]byte("* 4 EXISTS\r\n"))
		_, _ = server.Write([]byte("* OK [UIDVALIDITY 7] UIDs valid\r\n"))
		_, _ = server.Write([]byte("A0001 OK [READ-WRITE] SELECT completed\r\n"))
	}()

	require.NoError(t, m.Reselect(context.Background()))
	assert.EqualValues(t, 4, m.Exists())
}

func TestSearch_ParsesUIDs(t *testing.T) {
	c, server := newTestConnection(t)
	m := &Mailbox{conn: c, name: "INBOX"}
	go func() {
		r := bufio.NewReader(server)
		_, _ = r.ReadString('\n')
		_, _ = server.Write([]byte("* SEARCH 3 5 9\r\n"))
		_, _ = server.Write([]byte("A0001 OK SEARCH completed\r\n"))
	}()

	set, err := m.Search(context.Background(), criteria.Unseen())
	require.NoError(t, err)
	assert.True(t, set.IsUID())
	assert.Equal(t, "3,5,9", set.String())
}

func TestFetch_RequiresUIDSet(t *testing.T) {
	c, _ := newTestConnection(t)
	m := &Mailbox{conn: c, name: "INBOX"}
	_, err := m.Fetch(context.Background(), msgset.FromSequenceNumbers(1, 2), []FetchItem{"FLAGS"})
	require.Error(t, err)
	assert.Equal(t, errs.CodeInvalidArgument, errs.CodeOf(err))
}

func TestFetch_ParsesEntries(t *testing.T) {
	c, server := newTestConnection(t)
	m := &Mailbox{conn: c, name: "INBOX"}
	go func() {
		r := bufio.NewReader(server)
		_, _ = r.ReadString('\n')
		_, _ = server.Write([]byte("* 1 FETCH (UID 101 FLAGS (\\Seen))\r\n"))
		_, _ = server.Write([]byte("* 2 FETCH (UID 102 FLAGS ())\r\n"))
		_, _ = server.Write([]byte("A0001 OK FETCH completed\r\n"))
	}()

	results, err := m.Fetch(context.Background(), msgset.FromUIDs(101, 102), []FetchItem{"UID", "FLAGS"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.EqualValues(t, 101, results[0].UID)
	assert.EqualValues(t, 1, results[0].SeqNo)
	flags, ok := results[0].Items["FLAGS"]
	require.True(t, ok)
	require.Len(t, flags.List, 1)
	f, _ := flags.List[0].AsString()
	assert.Equal(t, `\Seen`, f)
}

func TestStore_SendsSilentFlagsItem(t *testing.T) {
	c, server := newTestConnection(t)
	m := &Mailbox{conn: c, name: "INBOX"}
	done := make(chan string, 1)
	go func() {
		r := bufio.NewReader(server)
		line, _ := r.ReadString('\n')
		done <- line
		_, _ = server.Write([]byte("A0001 OK STORE completed\r\n"))
	}()

	flags, err := m.Store(context.Background(), msgset.FromUIDs(5), StoreAdd, true, `\Deleted`)
	require.NoError(t, err)
	assert.Empty(t, flags)
	line := <-done
	assert.Contains(t, line, "UID STORE 5 +FLAGS.SILENT (\\Deleted)")
}

func TestStore_ReturnsPerUIDFlags(t *testing.T) {
	c, server := newTestConnection(t)
	m := &Mailbox{conn: c, name: "INBOX"}
	go func() {
		r := bufio.NewReader(server)
		_, _ = r.ReadString('\n')
		_, _ = server.Write([]byte("* 1 FETCH (UID 5 FLAGS (\\Seen \\Deleted))\r\n"))
		_, _ = server.Write([]byte("A0001 OK STORE completed\r\n"))
	}()

	flags, err := m.Store(context.Background(), msgset.FromUIDs(5), StoreAdd, false, `\Deleted`)
	require.NoError(t, err)
	require.Contains(t, flags, uint32(5))
	assert.ElementsMatch(t, []string{`\Seen`, `\Deleted`}, flags[5])
}

func TestMove_UsesNativeMoveWhenCapable(t *testing.T) {
	c, server := newTestConnection(t)
	c.SetCapabilityForTesting("MOVE", true)
	m := &Mailbox{conn: c, name: "INBOX"}
	done := make(chan string, 1)
	go func() {
		r := bufio.NewReader(server)
		line, _ := r.ReadString('\n')
		done <- line
		_, _ = server.Write([]byte("A0001 OK [COPYUID 7 5 9] MOVE completed\r\n"))
	}()

	err := m.Move(context.Background(), msgset.FromUIDs(5), "Archive")
	require.NoError(t, err)
	assert.Contains(t, <-done, "UID MOVE 5 Archive")
}

func TestMove_EmulatesWithCopyStoreExpungeWhenIncapable(t *testing.T) {
	c, server := newTestConnection(t)
	c.SetCapabilityForTesting("MOVE", false)
	c.SetCapabilityForTesting("UIDPLUS", true)
	m := &Mailbox{conn: c, name: "INBOX"}
	lines := make(chan string, 3)
	go func() {
		r := bufio.NewReader(server)
		for i := 0; i < 3; i++ {
			line, _ := r.ReadString('\n')
			lines <- line
			switch i {
			case 0:
				_, _ = server.Write([]byte("A0001 OK COPY completed\r\n"))
			case 1:
				_, _ = server.Write([]byte("A0002 OK STORE completed\r\n"))
			case 2:
				_, _ = server.Write([]byte("A0003 OK UID EXPUNGE completed\r\n"))
			}
		}
	}()

	err := m.Move(context.Background(), msgset.FromUIDs(5), "Archive")
	require.NoError(t, err)
	assert.Contains(t, <-lines, "UID COPY 5 Archive")
	assert.Contains(t, <-lines, "UID STORE 5 +FLAGS (\\Deleted)")
	assert.Contains(t, <-lines, "UID EXPUNGE 5")
}

func TestMove_EmulationStopsAfterFailedCopy(t *testing.T) {
	c, server := newTestConnection(t)
	c.SetCapabilityForTesting("MOVE", false)
	m := &Mailbox{conn: c, name: "INBOX"}
	lines := make(chan string, 4)
	go func() {
		r := bufio.NewReader(server)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				close(lines)
				return
			}
			lines <- line
			_, _ = server.Write([]byte("A0001 NO [OVERQUOTA] target full\r\n"))
		}
	}()

	err := m.Move(context.Background(), msgset.FromUIDs(5), "Archive")
	require.Error(t, err)
	assert.Equal(t, errs.CodeMove, errs.CodeOf(err))
	assert.Contains(t, <-lines, "UID COPY 5 Archive")
	select {
	case extra, ok := <-lines:
		require.False(t, ok, "no STORE/EXPUNGE may follow a failed COPY, got %q", extra)
	default:
	}
}

func TestAppend_SendsLiteralBody(t *testing.T) {
	c, server := newTestConnection(t)
	m := &Mailbox{conn: c, name: "INBOX"}
	body := []byte("Subject: hi\r\n\r\nbody\r\n")
	go func() {
		r := bufio.NewReader(server)
		line, _ := r.ReadString('\n')
		assert.Contains(t, line, "APPEND INBOX (\\Seen) {")
		_, _ = server.Write([]byte("+ Ready\r\n"))
		buf := make([]byte, len(body))
		_, _ = r.Read(buf)
		assert.Equal(t, body, buf)
		_, _ = server.Write([]byte("A0001 OK APPEND completed\r\n"))
	}()

	uid, ok, err := m.Append(context.Background(), body, []string{`\Seen`}, "")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, uid)
}

func TestAppend_ParsesAppendUID(t *testing.T) {
	c, server := newTestConnection(t)
	m := &Mailbox{conn: c, name: "INBOX"}
	body := []byte("Subject: hi\r\n\r\nbody\r\n")
	go func() {
		r := bufio.NewReader(server)
		_, _ = r.ReadString('\n')
		_, _ = server.Write([]byte("+ Ready\r\n"))
		buf := make([]byte, len(body))
		_, _ = r.Read(buf)
		_, _ = server.Write([]byte("A0001 OK [APPENDUID 38505 3955] APPEND completed\r\n"))
	}()

	uid, ok, err := m.Append(context.Background(), body, nil, "")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.EqualValues(t, 3955, uid)
}

func TestProcessBatches_FetchesEachBatchAndAggregatesPerMessage(t *testing.T) {
	c, server := newTestConnection(t)
	m := &Mailbox{conn: c, name: "INBOX"}
	set := msgset.FromUIDs(1, 2, 3)

	lines := make(chan string, 3)
	go func() {
		r := bufio.NewReader(server)
		line, _ := r.ReadString('\n')
		lines <- line
		_, _ = server.Write([]byte("* 1 FETCH (UID 1)\r\n"))
		_, _ = server.Write([]byte("A0001 OK FETCH completed\r\n"))

		line, _ = r.ReadString('\n')
		lines <- line
		_, _ = server.Write([]byte("* 1 FETCH (UID 2)\r\n"))
		_, _ = server.Write([]byte("A0002 OK FETCH completed\r\n"))

		line, _ = r.ReadString('\n')
		lines <- line
		_, _ = server.Write([]byte("* 1 FETCH (UID 3)\r\n"))
		_, _ = server.Write([]byte("A0003 OK FETCH completed\r\n"))
	}()

	var handled []uint32
	err := m.ProcessBatches(context.Background(), set, 1, []FetchItem{"UID"}, func(ctx context.Context, msg FetchResult) error {
		handled = append(handled, msg.UID)
		if msg.UID == 2 {
			return errs.Store(nil, "simulated failure")
		}
		return nil
	})

	require.Error(t, err)
	partial, ok := err.(*errs.PartialOperationError)
	require.True(t, ok)
	assert.ElementsMatch(t, []uint32{1, 3}, partial.Succeeded)
	require.Len(t, partial.Failures, 1)
	assert.EqualValues(t, 2, partial.Failures[0].UID)
	assert.ElementsMatch(t, []uint32{1, 2, 3}, handled)
	assert.Len(t, lines, 3)
	assert.Contains(t, <-lines, "UID FETCH 1 (UID)")
}

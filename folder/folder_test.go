package folder

import (
	"bufio"
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailkit/imapclient/config"
	"github.com/mailkit/imapclient/conn"
	"github.com/mailkit/imapclient/errs"
)

// newTestConnection and server helpers are duplicated (in spirit) from
// conn's own test helper since folder deliberately depends only on
// conn's exported surface, not its internals.
func newTestConnection(t *testing.T) (*conn.Connection, net.Conn) {
	t.Helper()
	clientSide, serverSide := net.Pipe()
	c := conn.NewForTesting(config.Defaults(config.ConnectionConfig{Host: "imap.example.com"}), clientSide)
	t.Cleanup(func() { _ = clientSide.Close(); _ = serverSide.Close() })
	return c, serverSide
}

func TestList_ParsesEntries(t *testing.T) {
	c, server := newTestConnection(t)
	go func() {
		r := bufio.NewReader(server)
		_, _ = r.ReadString('\n')
		_, _ = server.Write([]byte(`* LIST (\HasNoChildren) "." "INBOX"` + "\r\n"))
		_, _ = server.Write([]byte(`* LIST (\HasChildren) "." "Archive"` + "\r\n"))
		_, _ = server.Write([]byte("A0001 OK LIST completed\r\n"))
	}()

	infos, err := List(context.Background(), c, "*")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "INBOX", infos[0].Name)
	assert.True(t, infos[1].HasAttribute(`\HasChildren`))
}

func TestCreate_AlreadyExists(t *testing.T) {
	c, server := newTestConnection(t)
	go func() {
		r := bufio.NewReader(server)
		_, _ = r.ReadString('\n')
		_, _ = server.Write([]byte("A0001 NO [ALREADYEXISTS] Mailbox already exists\r\n"))
	}()

	err := Create(context.Background(), c, "Archive")
	require.Error(t, err)
	assert.Equal(t, errs.CodeFolderExists, errs.CodeOf(err))
}

func TestDelete_RefusesInbox(t *testing.T) {
	c, _ := newTestConnection(t)
	err := Delete(context.Background(), c, "INBOX")
	require.Error(t, err)
	assert.Equal(t, errs.CodeDefaultFolder, errs.CodeOf(err))
}

func TestDelete_NotFound(t *testing.T) {
	c, server := newTestConnection(t)
	go func() {
		r := bufio.NewReader(server)
		_, _ = r.ReadString('\n')
		_, _ = server.Write([]byte("A0001 NO [NONEXISTENT] Mailbox does not exist\r\n"))
	}()

	err := Delete(context.Background(), c, "Ghost")
	require.Error(t, err)
	assert.Equal(t, errs.CodeFolderNotFound, errs.CodeOf(err))
}

func TestGetStatus_ParsesItems(t *testing.T) {
	c, server := newTestConnection(t)
	go func() {
		r := bufio.NewReader(server)
		_, _ = r.ReadString('\n')
		_, _ = server.Write([]byte(`* STATUS INBOX (MESSAGES 42 UIDNEXT 100 UIDVALIDITY 7 UNSEEN 3)` + "\r\n"))
		_, _ = server.Write([]byte("A0001 OK STATUS completed\r\n"))
	}()

	st, err := GetStatus(context.Background(), c, "INBOX")
	require.NoError(t, err)
	assert.EqualValues(t, 42, st.Messages)
	assert.EqualValues(t, 100, st.UIDNext)
	assert.EqualValues(t, 7, st.UIDValidity)
	assert.EqualValues(t, 3, st.Unseen)
}

func TestRename_MapsNonexistentToFolderNotFound(t *testing.T) {
	c, server := newTestConnection(t)
	go func() {
		r := bufio.NewReader(server)
		_, _ = r.ReadString('\n')
		_, _ = server.Write([]byte("A0001 NO [NONEXISTENT] No such mailbox\r\n"))
	}()

	err := Rename(context.Background(), c, "Ghost", "Renamed")
	require.Error(t, err)
	assert.Equal(t, errs.CodeFolderNotFound, errs.CodeOf(err))
}

func TestRename_OtherFailureSurfacesUnchanged(t *testing.T) {
	c, server := newTestConnection(t)
	go func() {
		r := bufio.NewReader(server)
		_, _ = r.ReadString('\n')
		_, _ = server.Write([]byte("A0001 NO [OVERQUOTA] rename refused\r\n"))
	}()

	err := Rename(context.Background(), c, "Big", "Bigger")
	require.Error(t, err)
	assert.NotEqual(t, errs.CodeFolderNotFound, errs.CodeOf(err))
}

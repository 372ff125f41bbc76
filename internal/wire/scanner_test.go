package wire

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScanner(raw string) *Scanner {
	return NewScanner(bufio.NewReader(strings.NewReader(raw)))
}

func TestReadResponse_TaggedOK(t *testing.T) {
	s := newTestScanner("A0003 OK LOGIN completed\r\n")
	resp, err := s.ReadResponse()
	require.NoError(t, err)
	assert.Equal(t, KindTagged, resp.Kind)
	assert.Equal(t, "A0003", resp.Tag)
	assert.Equal(t, StatusOK, resp.Status)
	assert.Equal(t, "LOGIN completed", resp.Text)
}

func TestReadResponse_TaggedNOWithCode(t *testing.T) {
	s := newTestScanner("A0005 NO [ALREADYEXISTS] Mailbox already exists\r\n")
	resp, err := s.ReadResponse()
	require.NoError(t, err)
	assert.Equal(t, StatusNO, resp.Status)
	assert.Equal(t, "ALREADYEXISTS", resp.Code)
	assert.Equal(t, "Mailbox already exists", resp.Text)
}

func TestReadResponse_UntaggedNumericExists(t *testing.T) {
	s := newTestScanner("* 172 EXISTS\r\n")
	resp, err := s.ReadResponse()
	require.NoError(t, err)
	assert.Equal(t, KindUntagged, resp.Kind)
	assert.EqualValues(t, 172, resp.Number)
	assert.Equal(t, "EXISTS", resp.Keyword)
}

func TestReadResponse_UntaggedCapability(t *testing.T) {
	s := newTestScanner("* CAPABILITY IMAP4rev1 IDLE UIDPLUS LITERAL+\r\n")
	resp, err := s.ReadResponse()
	require.NoError(t, err)
	assert.Equal(t, "CAPABILITY", resp.Keyword)
	require.Len(t, resp.Fields, 4)
	v, ok := resp.Fields[1].AsString()
	require.True(t, ok)
	assert.Equal(t, "IDLE", v)
}

func TestReadResponse_UntaggedSearch(t *testing.T) {
	s := newTestScanner("* SEARCH 2 84 882\r\n")
	resp, err := s.ReadResponse()
	require.NoError(t, err)
	assert.Equal(t, "SEARCH", resp.Keyword)
	require.Len(t, resp.Fields, 3)
	n, ok := resp.Fields[2].AsNumber()
	require.True(t, ok)
	assert.EqualValues(t, 882, n)
}

func TestReadResponse_FetchWithQuotedAndList(t *testing.T) {
	s := newTestScanner(`* 12 FETCH (UID 44 FLAGS (\Seen \Answered) INTERNALDATE "17-Jul-2024 02:44:25 +0000")` + "\r\n")
	resp, err := s.ReadResponse()
	require.NoError(t, err)
	assert.EqualValues(t, 12, resp.Number)
	assert.Equal(t, "FETCH", resp.Keyword)
	require.Len(t, resp.Fields, 1)
	list := resp.Fields[0].List
	require.Len(t, list, 6)

	uidVal, ok := list[1].AsNumber()
	require.True(t, ok)
	assert.EqualValues(t, 44, uidVal)

	flags := list[3]
	require.Equal(t, FieldList, flags.Kind)
	require.Len(t, flags.List, 2)
	f0, _ := flags.List[0].AsString()
	assert.Equal(t, `\Seen`, f0)

	date, ok := list[5].AsString()
	require.True(t, ok)
	assert.Equal(t, "17-Jul-2024 02:44:25 +0000", date)
}

func TestReadResponse_FetchWithLiteralBody(t *testing.T) {
	raw := "* 5 FETCH (UID 90 BODY[] {12}\r\nHello\r\nworld)\r\n"
	s := newTestScanner(raw)
	resp, err := s.ReadResponse()
	require.NoError(t, err)
	list := resp.Fields[0].List
	require.Len(t, list, 4)
	body, ok := list[3].AsString()
	require.True(t, ok)
	assert.Equal(t, "Hello\r\nworld", body)
}

func TestReadResponse_Continuation(t *testing.T) {
	s := newTestScanner("+ Ready for literal data\r\n")
	resp, err := s.ReadResponse()
	require.NoError(t, err)
	assert.Equal(t, KindContinuation, resp.Kind)
	assert.Equal(t, "Ready for literal data", resp.Text)
}

func TestReadResponse_MalformedTaggedLine(t *testing.T) {
	s := newTestScanner("\r\n")
	_, err := s.ReadResponse()
	assert.Error(t, err)
}

func TestReadResponse_ListUntagged(t *testing.T) {
	s := newTestScanner(`* LIST (\HasNoChildren) "." "INBOX.Sent"` + "\r\n")
	resp, err := s.ReadResponse()
	require.NoError(t, err)
	assert.Equal(t, "LIST", resp.Keyword)
	require.Len(t, resp.Fields, 3)
	delim, _ := resp.Fields[1].AsString()
	assert.Equal(t, ".", delim)
	name, _ := resp.Fields[2].AsString()
	assert.Equal(t, "INBOX.Sent", name)
}

package folder

import (
	"bufio"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsCache_RefreshAdvancesLastSeenOnNewUnseen(t *testing.T) {
	c, server := newTestConnection(t)
	go func() {
		r := bufio.NewReader(server)
		_, _ = r.ReadString('\n')
		_, _ = server.Write([]byte(`* STATUS "INBOX" (MESSAGES 10 UNSEEN 2)` + "\r\n"))
		_, _ = server.Write([]byte("A0001 OK STATUS completed\r\n"))
	}()

	cache := NewStatsCache()
	st, err := cache.Refresh(context.Background(), c, "INBOX")
	require.NoError(t, err)
	assert.EqualValues(t, 10, st.Total)
	assert.EqualValues(t, 2, st.Unseen)
	assert.False(t, st.LastSeen.IsZero())

	got, ok := cache.Get("INBOX")
	assert.True(t, ok)
	assert.Equal(t, st, got)
}

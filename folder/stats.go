package folder

import (
	"context"
	"sync"
	"time"

	"github.com/mailkit/imapclient/conn"
)

// Stats is a read-through cache entry over STATUS, accumulating the
// fields a poller typically wants tracked across repeated calls instead
// of just the latest point-in-time counts: total/unseen refreshed on
// each pass, recorded against a last-seen/last-sync timestamp.
type Stats struct {
	Folder   string
	Total    uint32
	Unseen   uint32
	LastSeen time.Time
	LastSync time.Time
}

// StatsCache accumulates Stats per folder name, refreshed by calling
// Refresh. Safe for concurrent use.
type StatsCache struct {
	mu    sync.RWMutex
	byKey map[string]Stats
}

// NewStatsCache builds an empty cache.
func NewStatsCache() *StatsCache {
	return &StatsCache{byKey: make(map[string]Stats)}
}

// Refresh runs STATUS for name, folds the result into the cache entry,
// and returns the updated Stats. LastSeen only advances when the
// unseen count increased since the previous Refresh call, approximating
// "new mail arrived" without a full uid_search.
func (c *StatsCache) Refresh(ctx context.Context, conn *conn.Connection, name string) (Stats, error) {
	st, err := GetStatus(ctx, conn, name, "MESSAGES", "UNSEEN")
	if err != nil {
		return Stats{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.byKey[name]
	now := time.Now()
	next := Stats{
		Folder:   name,
		Total:    st.Messages,
		Unseen:   st.Unseen,
		LastSync: now,
		LastSeen: prev.LastSeen,
	}
	if st.Unseen > prev.Unseen {
		next.LastSeen = now
	}
	c.byKey[name] = next
	return next, nil
}

// Get returns the last Refresh result for name, if any.
func (c *StatsCache) Get(name string) (Stats, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.byKey[name]
	return st, ok
}

// All returns a snapshot of every cached folder's Stats.
func (c *StatsCache) All() map[string]Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Stats, len(c.byKey))
	for k, v := range c.byKey {
		out[k] = v
	}
	return out
}

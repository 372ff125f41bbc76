// Package metrics tracks per-connection counters.
//
// Metrics are updated under the owning Connection's exclusive lock, so
// the struct itself performs no internal synchronization -- callers
// outside the connection package must go through Connection.Metrics(),
// which returns a point-in-time Snapshot.
package metrics

import "time"

// Snapshot is an immutable, observable view of a Connection's counters.
type Snapshot struct {
	ConnectionAttempts      int64
	SuccessfulConnections   int64
	FailedConnections       int64
	TotalOperations         int64
	FailedOperations        int64
	TotalResponseTimeMs     int64
	LastActivityAt          time.Time
	AverageResponseTimeMs   float64
	SuccessRate             float64
}

// Counters is the mutable backing store, owned exclusively by a single
// Connection for its whole lifetime.
type Counters struct {
	ConnectionAttempts    int64
	SuccessfulConnections int64
	FailedConnections     int64
	TotalOperations       int64
	FailedOperations      int64
	TotalResponseTimeMs   int64
	LastActivityAt        time.Time
}

// RecordConnectAttempt increments connection_attempts.
func (c *Counters) RecordConnectAttempt() {
	c.ConnectionAttempts++
}

// RecordConnectResult increments successful_connections or
// failed_connections depending on ok.
func (c *Counters) RecordConnectResult(ok bool) {
	if ok {
		c.SuccessfulConnections++
	} else {
		c.FailedConnections++
	}
}

// RecordOperation folds one command's outcome and wall time into the
// running totals, and refreshes last_activity_at.
func (c *Counters) RecordOperation(ok bool, elapsed time.Duration) {
	c.TotalOperations++
	if !ok {
		c.FailedOperations++
	}
	c.TotalResponseTimeMs += elapsed.Milliseconds()
	c.LastActivityAt = time.Now()
}

// Touch refreshes last_activity_at without recording an operation.
// Connection.execute calls it on every tagged completion, alongside
// RecordOperation.
func (c *Counters) Touch() {
	c.LastActivityAt = time.Now()
}

// Snapshot computes the derived fields (
// average_response_time_ms, success_rate) and returns an immutable copy.
func (c *Counters) Snapshot() Snapshot {
	s := Snapshot{
		ConnectionAttempts:    c.ConnectionAttempts,
		SuccessfulConnections: c.SuccessfulConnections,
		FailedConnections:     c.FailedConnections,
		TotalOperations:       c.TotalOperations,
		FailedOperations:      c.FailedOperations,
		TotalResponseTimeMs:   c.TotalResponseTimeMs,
		LastActivityAt:        c.LastActivityAt,
	}
	if c.TotalOperations > 0 {
		s.AverageResponseTimeMs = float64(c.TotalResponseTimeMs) / float64(c.TotalOperations)
		s.SuccessRate = float64(c.TotalOperations-c.FailedOperations) / float64(c.TotalOperations)
	}
	return s
}

// Reset zeroes every counter. The pool calls this on release when
// monitoring is disabled, giving each checkout a fresh window.
func (c *Counters) Reset() {
	*c = Counters{}
}

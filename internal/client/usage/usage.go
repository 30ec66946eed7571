// Package usage counts API requests per endpoint and status code and
// reports them to the hub.
package usage

import (
	"sync"
	"time"

	"qrypub/pkg/protocol"
)

// Collector tracks request counts with thread-safe access.
type Collector struct {
	mu sync.RWMutex

	table    protocol.UsageStatsTable
	requests int64 // since the window started
	total    int64 // lifetime

	since time.Time
	now   func() time.Time
}

// Snapshot is a point-in-time copy of a collection window.
type Snapshot struct {
	Table    protocol.UsageStatsTable
	Requests int64
	Total    int64
	From     time.Time
	To       time.Time
}

// Empty reports whether no request was recorded in the window.
func (s Snapshot) Empty() bool {
	return s.Requests == 0
}

// New creates an empty Collector.
func New() *Collector {
	return newWithClock(time.Now)
}

func newWithClock(now func() time.Time) *Collector {
	return &Collector{
		table: make(protocol.UsageStatsTable),
		since: now(),
		now:   now,
	}
}

// Record counts one request to endpoint answered with status.
func (c *Collector) Record(endpoint string, status int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	codes, ok := c.table[endpoint]
	if !ok {
		codes = make(map[int]int64)
		c.table[endpoint] = codes
	}
	codes[status]++
	c.requests++
	c.total++
}

// Snapshot returns a deep copy of the current window.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

// Drain returns the current window and starts a new one.
func (c *Collector) Drain() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := c.snapshotLocked()
	c.table = make(protocol.UsageStatsTable)
	c.requests = 0
	c.since = snap.To
	return snap
}

// Restore merges a drained window back, used when it could not be delivered.
// The window start moves back to the snapshot's start.
func (c *Collector) Restore(snap Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for endpoint, codes := range snap.Table {
		dst, ok := c.table[endpoint]
		if !ok {
			dst = make(map[int]int64, len(codes))
			c.table[endpoint] = dst
		}
		for code, n := range codes {
			dst[code] += n
		}
	}
	c.requests += snap.Requests
	if !snap.From.IsZero() && snap.From.Before(c.since) {
		c.since = snap.From
	}
}

// Reset clears all counters.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.table = make(protocol.UsageStatsTable)
	c.requests = 0
	c.total = 0
	c.since = c.now()
}

func (c *Collector) snapshotLocked() Snapshot {
	table := make(protocol.UsageStatsTable, len(c.table))
	for endpoint, codes := range c.table {
		cp := make(map[int]int64, len(codes))
		for code, n := range codes {
			cp[code] = n
		}
		table[endpoint] = cp
	}
	return Snapshot{
		Table:    table,
		Requests: c.requests,
		Total:    c.total,
		From:     c.since,
		To:       c.now(),
	}
}

package eventcache

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	// MinCapacity and MaxCapacity bound the per-tenant event log. The upper
	// bound protects the process heap regardless of tenant settings.
	MinCapacity = 100
	MaxCapacity = 50_000

	DefaultCapacity = 1000
	DefaultTTL      = time.Hour

	// MaxTTLHours is the longest TTL a time.Duration can hold.
	MaxTTLHours = math.MaxInt64 / int64(time.Hour)
)

// Cache is the event log and counter set of a single tenant.
type Cache struct {
	tenant string
	logger *zap.Logger
	now    func() time.Time

	capacity atomic.Int64
	ttl      atomic.Int64

	mu sync.Mutex
	// events is kept in arrival order (oldest first) and read newest-first.
	events []Event

	attempts atomic.Uint64
	success  atomic.Uint64
	rejected atomic.Uint64
	errors   atomic.Uint64
	noPhone  atomic.Uint64
	timeout  atomic.Uint64
}

func newCache(tenant string, opts options) *Cache {
	c := &Cache{
		tenant: tenant,
		logger: opts.logger,
		now:    opts.now,
	}
	c.capacity.Store(DefaultCapacity)
	c.ttl.Store(int64(DefaultTTL))
	return c
}

// Tenant returns the tenant identifier the cache belongs to.
func (c *Cache) Tenant() string {
	return c.tenant
}

// ApplyConfig updates the capacity and TTL. Capacity is clamped to
// [MinCapacity, MaxCapacity] and the TTL to [1, MaxTTLHours] hours. The new limits
// apply to the next RecordEvent or PruneOldEvents call.
func (c *Cache) ApplyConfig(capacity, ttlHours int) {
	c.capacity.Store(int64(clampCapacity(capacity)))
	hours := min(max(int64(ttlHours), 1), MaxTTLHours)
	c.ttl.Store(hours * int64(time.Hour))
}

func clampCapacity(n int) int {
	if n < MinCapacity {
		return MinCapacity
	}
	if n > MaxCapacity {
		return MaxCapacity
	}
	return n
}

// Capacity returns the current maximum number of stored events.
func (c *Cache) Capacity() int {
	return int(c.capacity.Load())
}

// TTL returns the current event time-to-live.
func (c *Cache) TTL() time.Duration {
	return time.Duration(c.ttl.Load())
}

// RecordEvent stores ev as the newest entry and bumps the counters. The
// timestamp is assigned by the cache; any value set by the caller is replaced.
// The oldest entries are dropped until the log fits the capacity.
func (c *Cache) RecordEvent(ev Event) {
	ev.Timestamp = c.now().UTC()
	limit := int(c.capacity.Load())

	c.mu.Lock()
	c.events = append(c.events, ev)
	if over := len(c.events) - limit; over > 0 {
		c.dropOldestLocked(over)
	}
	c.mu.Unlock()

	c.attempts.Add(1)
	switch ev.Outcome {
	case OutcomeSuccess:
		c.success.Add(1)
	case OutcomeRejected:
		c.rejected.Add(1)
	case OutcomeError:
		c.errors.Add(1)
	case OutcomeNoPhone:
		c.noPhone.Add(1)
	case OutcomeTimeout:
		c.timeout.Add(1)
	}
}

// dropOldestLocked removes n entries from the old end. The prefix is zeroed so
// the strings it references can be collected before the next reallocation.
func (c *Cache) dropOldestLocked(n int) {
	if n >= len(c.events) {
		clear(c.events)
		c.events = c.events[:0]
		return
	}
	clear(c.events[:n])
	c.events = c.events[n:]
}

// RecentEvents returns up to limit events, newest first. The result is an
// independent copy and is never nil.
func (c *Cache) RecentEvents(limit int) []Event {
	if limit < 0 {
		limit = 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	n := min(limit, len(c.events))
	out := make([]Event, n)
	last := len(c.events) - 1
	for i := 0; i < n; i++ {
		out[i] = c.events[last-i]
	}
	return out
}

// Len returns the number of stored events.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

// PruneOldEvents removes events older than now minus the TTL and returns how
// many were removed. Events are time ordered, so the expired ones form a
// contiguous run at the old end and the scan stops at the first live entry.
func (c *Cache) PruneOldEvents() int {
	cutoff := c.now().Add(-c.TTL())

	c.mu.Lock()
	pruned := 0
	for pruned < len(c.events) && c.events[pruned].Timestamp.Before(cutoff) {
		pruned++
	}
	if pruned > 0 {
		c.dropOldestLocked(pruned)
	}
	c.mu.Unlock()

	if pruned > 0 {
		c.logger.Debug("pruned expired events",
			zap.String("tenant", c.tenant),
			zap.Int("pruned", pruned),
		)
	}
	return pruned
}

// TopUsernames counts events per non-empty username across the stored log and
// returns the limit most frequent, highest first. Ties keep the order in which
// usernames were first seen walking the log newest-first.
func (c *Cache) TopUsernames(limit int) []UserCount {
	if limit <= 0 {
		return []UserCount{}
	}

	var rows []UserCount
	c.mu.Lock()
	index := make(map[string]int)
	for i := len(c.events) - 1; i >= 0; i-- {
		name := c.events[i].Username
		if name == "" {
			continue
		}
		if pos, ok := index[name]; ok {
			rows[pos].Count++
			continue
		}
		index[name] = len(rows)
		rows = append(rows, UserCount{Username: name, Count: 1})
	}
	c.mu.Unlock()

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Count > rows[j].Count
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}
	if rows == nil {
		rows = []UserCount{}
	}
	return rows
}

// Stats returns the counters together with the current size and limits.
func (c *Cache) Stats() Stats {
	return Stats{
		TotalAttempts:   c.attempts.Load(),
		TotalSuccess:    c.success.Load(),
		TotalRejected:   c.rejected.Load(),
		TotalErrors:     c.errors.Load(),
		TotalNoPhone:    c.noPhone.Load(),
		TotalTimeout:    c.timeout.Load(),
		EventLogSize:    c.Len(),
		EventLogMaxSize: c.Capacity(),
		EventTTLHours:   int(c.TTL() / time.Hour),
	}
}

// ResetStats zeroes all counters. The event log is left untouched.
func (c *Cache) ResetStats() {
	c.attempts.Store(0)
	c.success.Store(0)
	c.rejected.Store(0)
	c.errors.Store(0)
	c.noPhone.Store(0)
	c.timeout.Store(0)
	c.logger.Info("statistics counters reset", zap.String("tenant", c.tenant))
}

// ClearEventLog drops every stored event. Counters are left untouched.
func (c *Cache) ClearEventLog() {
	c.mu.Lock()
	c.dropOldestLocked(len(c.events))
	c.mu.Unlock()
	c.logger.Info("event log cleared", zap.String("tenant", c.tenant))
}

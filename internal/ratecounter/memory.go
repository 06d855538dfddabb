package ratecounter

import (
	"context"
	"sync"
)

type dayKey struct {
	account string
	day     string
}

// MemoryCounter keeps counts in process memory. Counts are lost on restart.
type MemoryCounter struct {
	cal    Calendar
	mu     sync.Mutex
	counts map[dayKey]int
}

var _ Counter = (*MemoryCounter)(nil)

// NewMemoryCounter creates an in-process counter
func NewMemoryCounter(cal Calendar) *MemoryCounter {
	return &MemoryCounter{cal: cal, counts: make(map[dayKey]int)}
}

// TryConsume takes one unit of today's quota if any is left
func (c *MemoryCounter) TryConsume(_ context.Context, accountID string, limit int) (Result, error) {
	key := dayKey{account: accountID, day: c.cal.Today()}

	c.mu.Lock()
	defer c.mu.Unlock()

	used := c.counts[key]
	if limit <= 0 || used >= limit {
		return result(false, used, limit), nil
	}
	used++
	c.counts[key] = used
	return result(true, used, limit), nil
}

// Usage returns today's count without changing it
func (c *MemoryCounter) Usage(_ context.Context, accountID string) (int, error) {
	key := dayKey{account: accountID, day: c.cal.Today()}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[key], nil
}

// PurgeStale drops every entry that is not for today
func (c *MemoryCounter) PurgeStale(_ context.Context) (int64, error) {
	today := c.cal.Today()

	c.mu.Lock()
	defer c.mu.Unlock()

	var n int64
	for k := range c.counts {
		if k.day != today {
			delete(c.counts, k)
			n++
		}
	}
	return n, nil
}

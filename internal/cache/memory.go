package cache

import (
	"context"
	"sync"
	"time"

	"github.com/phrazzld/jobstream/internal/job"
)

type entry struct {
	snapshot  *job.Job
	expiresAt time.Time
}

// MemoryCache is an in-process Cache. Expired entries are treated as
// misses and removed lazily or by Sweep.
type MemoryCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]entry
}

// NewMemoryCache creates an empty cache. A non-positive ttl selects
// DefaultTTL.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry),
	}
}

// WithClock replaces the cache's time source.
func (c *MemoryCache) WithClock(now func() time.Time) *MemoryCache {
	c.now = now
	return c
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, jobID string) (*job.Job, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[jobID]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(e.expiresAt) {
		c.mu.Lock()
		if cur, ok := c.entries[jobID]; ok && cur.expiresAt.Equal(e.expiresAt) {
			delete(c.entries, jobID)
		}
		c.mu.Unlock()
		return nil, false, nil
	}
	return e.snapshot.Clone(), true, nil
}

// Set implements Cache.
func (c *MemoryCache) Set(_ context.Context, j *job.Job) error {
	if !j.Status.IsTerminal() {
		return ErrNotTerminal
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[j.ID] = entry{snapshot: j.Clone(), expiresAt: c.now().Add(c.ttl)}
	return nil
}

// Sweep removes expired entries and returns how many were removed.
func (c *MemoryCache) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for id, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries, including expired ones not yet swept.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

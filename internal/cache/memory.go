package cache

import (
	"context"
	"sync"
	"time"
)

// DefaultMaxEntries caps a Memory built with maxEntries <= 0. Each entry is
// one identity/account pair.
const DefaultMaxEntries = 100000

type memEntry struct {
	value   string
	expires time.Time // zero means no expiry
}

// Memory is a process-local TTL cache. It is safe for concurrent use.
type Memory struct {
	mu         sync.Mutex
	m          map[string]memEntry
	maxEntries int
	evicted    uint64
	now        func() time.Time
}

func NewMemory(maxEntries int) *Memory {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Memory{m: map[string]memEntry{}, maxEntries: maxEntries, now: time.Now}
}

func (c *Memory) Get(ctx context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[key]
	if !ok {
		return "", false, nil
	}
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		delete(c.m, key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (c *Memory) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	e := memEntry{value: value}
	if ttl > 0 {
		e.expires = now.Add(ttl)
	}
	c.m[key] = e
	if len(c.m) > c.maxEntries {
		c.cleanupLocked(now)
		for len(c.m) > c.maxEntries {
			c.pruneOldestLocked()
		}
	}
	return nil
}

// Evicted counts live entries dropped to stay under the cap.
func (c *Memory) Evicted() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evicted
}

// Len returns the number of stored entries, expired ones included.
func (c *Memory) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}

func (c *Memory) cleanupLocked(now time.Time) {
	for k, e := range c.m {
		if !e.expires.IsZero() && !now.Before(e.expires) {
			delete(c.m, k)
		}
	}
}

// pruneOldestLocked drops the entry closest to expiry.
func (c *Memory) pruneOldestLocked() {
	var (
		victim string
		oldest time.Time
		found  bool
	)
	for k, e := range c.m {
		if !found {
			victim, oldest, found = k, e.expires, true
			continue
		}
		if e.expires.IsZero() {
			continue
		}
		if oldest.IsZero() || e.expires.Before(oldest) {
			victim, oldest = k, e.expires
		}
	}
	if found {
		delete(c.m, victim)
		c.evicted++
	}
}

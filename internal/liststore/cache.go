package liststore

import (
	"context"
	"sync"
	"time"

	"github.com/d60-Lab/duowatch/internal/model"
)

// Key addresses one cached list: (uid, listKind).
type Key struct {
	UID  string
	Kind Kind
}

func (k Key) String() string { return k.UID + ":" + string(k.Kind) }

// Entry is the last fetched item sequence for a key.
type Entry struct {
	Items     []model.MediaItem `json:"items"`
	FetchedAt time.Time         `json:"fetchedAt"`
	TTL       time.Duration     `json:"ttl"`
}

// IsStale reports whether e may no longer be served without re-fetching. A
// missing entry is stale.
func IsStale(e *Entry, now time.Time) bool {
	if e == nil {
		return true
	}
	return !now.Before(e.FetchedAt.Add(e.TTL))
}

// Cache stores entries. Implementations treat their own failures as misses.
type Cache interface {
	Get(ctx context.Context, key Key) (*Entry, bool)
	Set(ctx context.Context, key Key, e *Entry)
	Delete(ctx context.Context, key Key)
}

// MemoryCache is the per-process backend. Entries idle for longer than the
// idle TTL are evicted lazily on access; it never starts goroutines.
type MemoryCache struct {
	mu      sync.Mutex
	idle    time.Duration
	now     func() time.Time
	entries map[Key]*memoryEntry
}

type memoryEntry struct {
	entry      *Entry
	lastAccess time.Time
}

func NewMemoryCache(idle time.Duration, now func() time.Time) *MemoryCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{idle: idle, now: now, entries: make(map[Key]*memoryEntry)}
}

func (c *MemoryCache) Get(_ context.Context, key Key) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	me, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	now := c.now()
	if c.expired(me, now) {
		delete(c.entries, key)
		return nil, false
	}
	me.lastAccess = now
	return me.entry, true
}

func (c *MemoryCache) Set(_ context.Context, key Key, e *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.sweep(now)
	c.entries[key] = &memoryEntry{entry: e, lastAccess: now}
}

func (c *MemoryCache) Delete(_ context.Context, key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len is the number of live entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweep(c.now())
	return len(c.entries)
}

func (c *MemoryCache) expired(me *memoryEntry, now time.Time) bool {
	return c.idle > 0 && now.Sub(me.lastAccess) >= c.idle
}

func (c *MemoryCache) sweep(now time.Time) {
	for k, me := range c.entries {
		if c.expired(me, now) {
			delete(c.entries, k)
		}
	}
}

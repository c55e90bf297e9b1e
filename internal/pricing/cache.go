package pricing

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"
)

// Key identifies one cached decision. Quantity is part of the key because
// discounts and weighted averages depend on it.
type Key struct {
	ItemCode     string
	CustomerCode string
	Quantity     int
}

func (k Key) String() string {
	return fmt.Sprintf("%s|%s|%d", k.ItemCode, k.CustomerCode, k.Quantity)
}

// Cache stores pricing decisions for identical requests. Implementations must
// be safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key Key) (*Decision, bool)
	Put(ctx context.Context, key Key, decision *Decision)
	Evict(ctx context.Context, key Key)
}

type memoryEntry struct {
	key       Key
	decision  Decision
	expiresAt time.Time
}

// MemoryCache is a bounded in-process cache. Entries expire after the TTL and
// the oldest entry is dropped when the cache is full.
type MemoryCache struct {
	mu       sync.Mutex
	entries  map[Key]*list.Element
	order    *list.List
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

func NewMemoryCache(capacity int, ttl time.Duration) *MemoryCache {
	if capacity <= 0 {
		capacity = 1024
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &MemoryCache{
		entries:  make(map[Key]*list.Element),
		order:    list.New(),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key Key) (*Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	entry := elem.Value.(*memoryEntry)
	if c.now().After(entry.expiresAt) {
		c.removeLocked(elem)
		return nil, false
	}
	decision := entry.decision
	return &decision, true
}

func (c *MemoryCache) Put(_ context.Context, key Key, decision *Decision) {
	if decision == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.removeLocked(elem)
	}
	for c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
	}
	entry := &memoryEntry{key: key, decision: *decision, expiresAt: c.now().Add(c.ttl)}
	c.entries[key] = c.order.PushFront(entry)
}

func (c *MemoryCache) Evict(_ context.Context, key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.removeLocked(elem)
	}
}

func (c *MemoryCache) removeLocked(elem *list.Element) {
	entry := elem.Value.(*memoryEntry)
	c.order.Remove(elem)
	delete(c.entries, entry.key)
}

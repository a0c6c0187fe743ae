// Package cache implements the in-memory question cache with FIFO eviction
// into a pending-write staging area, plus the idle-flush manager that drains
// both to the database.
package cache

import (
	"sync"
	"sync/atomic"
)

// Item 一条待写入的问答缓存
type Item struct {
	Key   string
	Value []byte
}

// MemoryCache 固定容量的问答缓存。cache/pending 两个 map 各自并发安全,
// FIFO 队列由互斥锁串行化; Insert 在持锁期间完成淘汰, 保证队列与 map 一致。
type MemoryCache struct {
	cache   sync.Map // question_key → compressed blob
	pending sync.Map // 淘汰后等待批量落库的项
	maxItems int

	mu    sync.Mutex
	queue []string

	cacheCount   atomic.Int64
	pendingCount atomic.Int64
}

// NewMemoryCache 创建内存缓存
func NewMemoryCache(maxItems int) *MemoryCache {
	return &MemoryCache{
		maxItems: maxItems,
		queue:    make([]string, 0, maxItems),
	}
}

// Get 查询缓存项 (无锁)
func (c *MemoryCache) Get(key string) ([]byte, bool) {
	v, ok := c.cache.Load(key)
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

// Insert adds or replaces an entry. A replacement leaves the FIFO order
// untouched; a fresh insert at capacity evicts the oldest entry into the
// pending map instead of dropping it.
func (c *MemoryCache) Insert(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.cache.Load(key); ok {
		c.cache.Store(key, value)
		return
	}

	if len(c.queue) >= c.maxItems && len(c.queue) > 0 {
		oldest := c.queue[0]
		c.queue = c.queue[1:]
		if v, ok := c.cache.LoadAndDelete(oldest); ok {
			c.pending.Store(oldest, v)
			c.cacheCount.Add(-1)
			c.pendingCount.Add(1)
		}
	}

	c.queue = append(c.queue, key)
	c.cache.Store(key, value)
	c.cacheCount.Add(1)
}

// TakePending removes and returns up to batchSize pending entries.
func (c *MemoryCache) TakePending(batchSize int) []Item {
	if batchSize <= 0 {
		return nil
	}
	items := make([]Item, 0, batchSize)
	c.pending.Range(func(k, v any) bool {
		if _, ok := c.pending.LoadAndDelete(k); ok {
			items = append(items, Item{Key: k.(string), Value: v.([]byte)})
			c.pendingCount.Add(-1)
		}
		return len(items) < batchSize
	})
	return items
}

// FlushAllToPending moves every resident entry into the pending map, clears
// the FIFO queue, and returns the moved pairs.
func (c *MemoryCache) FlushAllToPending() []Item {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.queue = c.queue[:0]

	var items []Item
	c.cache.Range(func(k, v any) bool {
		if _, ok := c.cache.LoadAndDelete(k); ok {
			c.pending.Store(k, v)
			c.cacheCount.Add(-1)
			c.pendingCount.Add(1)
			items = append(items, Item{Key: k.(string), Value: v.([]byte)})
		}
		return true
	})
	return items
}

// PendingCount 待写入项数量
func (c *MemoryCache) PendingCount() int {
	return int(c.pendingCount.Load())
}

// CacheCount 当前缓存项数量
func (c *MemoryCache) CacheCount() int {
	return int(c.cacheCount.Load())
}

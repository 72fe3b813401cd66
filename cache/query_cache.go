package cache

import (
	"context"
	"sync"
	"time"

	"QFMBot/logger"
	"QFMBot/model"
)

// DefaultQueryTTL 搜索结果在进程内缓存的时长
const DefaultQueryTTL = 180 * time.Minute

// DefaultPurgeInterval 后台清理过期条目的间隔
const DefaultPurgeInterval = 10 * time.Minute

type queryEntry struct {
	track     model.Track
	expiresAt time.Time
}

// QueryCache 以原始查询文本为键缓存单曲搜索结果，只在本进程内有效，过期即失效
type QueryCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]queryEntry
	now     func() time.Time
}

// NewQueryCache 创建查询缓存，ttl <= 0 时使用默认值
func NewQueryCache(ttl time.Duration) *QueryCache {
	if ttl <= 0 {
		ttl = DefaultQueryTTL
	}
	return &QueryCache{
		ttl:     ttl,
		entries: make(map[string]queryEntry),
		now:     time.Now,
	}
}

// SetClock 替换时间来源，测试用
func (c *QueryCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Get 查询未过期的缓存
func (c *QueryCache) Get(query string) (model.Track, bool) {
	c.mu.RLock()
	entry, ok := c.entries[query]
	now := c.now()
	c.mu.RUnlock()

	if !ok {
		return model.Track{}, false
	}
	if !now.Before(entry.expiresAt) {
		c.mu.Lock()
		if cur, ok := c.entries[query]; ok && !now.Before(cur.expiresAt) {
			delete(c.entries, query)
		}
		c.mu.Unlock()
		return model.Track{}, false
	}
	return entry.track, true
}

// Set 写入缓存，覆盖旧值并重新计时
func (c *QueryCache) Set(query string, track model.Track) {
	c.mu.Lock()
	c.entries[query] = queryEntry{track: track, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// Purge 清除所有已过期的条目，返回清除数量
func (c *QueryCache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Run 定期清理过期条目直到 ctx 结束，interval <= 0 时使用默认值
func (c *QueryCache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPurgeInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Purge(); n > 0 {
				logger.Debug("[Cache] purged expired queries", logger.Int("removed", n), logger.Int("remaining", c.Len()))
			}
		}
	}
}

// Len 当前条目数（含未清理的过期条目）
func (c *QueryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Package cache 任务结果缓存：带TTL的键值存储、缓存键计算和按键合并的get-or-set
package cache

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// ErrNotFound 键不存在或已过期
var ErrNotFound = errors.New("缓存条目不存在")

// ResultCache 结果缓存接口（对外导出）
// ttl<=0 表示永不过期
type ResultCache interface {
	// Set 设置缓存值
	Set(ctx context.Context, key string, result any, ttl time.Duration) error

	// Get 获取缓存值，返回结果和是否命中
	Get(ctx context.Context, key string) (any, bool, error)

	// Delete 删除缓存值
	Delete(ctx context.Context, key string) error

	// Clear 清空所有缓存
	Clear(ctx context.Context) error
}

// cacheEntry 缓存条目（内部使用）
type cacheEntry struct {
	value      any
	expireTime time.Time // 零值表示永不过期
}

func (e *cacheEntry) expired(now time.Time) bool {
	return !e.expireTime.IsZero() && !now.Before(e.expireTime)
}

// MemoryOption 内存缓存选项
type MemoryOption func(*MemoryResultCache)

// WithCleanInterval 设置过期清理周期，<=0 关闭后台清理
func WithCleanInterval(d time.Duration) MemoryOption {
	return func(c *MemoryResultCache) { c.cleanInterval = d }
}

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) MemoryOption {
	return func(c *MemoryResultCache) { c.now = now }
}

// MemoryResultCache 内存结果缓存实现（对外导出）
type MemoryResultCache struct {
	mu            sync.RWMutex
	cache         map[string]*cacheEntry
	now           func() time.Time
	cleanInterval time.Duration
	stopCh        chan struct{}
	stopOnce      sync.Once
}

// NewMemoryResultCache 创建内存结果缓存实例（对外导出）
func NewMemoryResultCache(opts ...MemoryOption) *MemoryResultCache {
	c := &MemoryResultCache{
		cache:         make(map[string]*cacheEntry),
		now:           time.Now,
		cleanInterval: time.Minute,
		stopCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cleanInterval > 0 {
		// 启动清理协程，定期清理过期缓存
		go c.cleanupExpired()
	}
	return c
}

// Set 设置缓存值
func (c *MemoryResultCache) Set(_ context.Context, key string, result any, ttl time.Duration) error {
	if key == "" {
		return nil // 空key，忽略
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &cacheEntry{value: result}
	if ttl > 0 {
		entry.expireTime = c.now().Add(ttl)
	}
	c.cache[key] = entry
	return nil
}

// Get 获取缓存值
func (c *MemoryResultCache) Get(_ context.Context, key string) (any, bool, error) {
	if key == "" {
		return nil, false, nil
	}

	c.mu.RLock()
	entry, exists := c.cache[key]
	c.mu.RUnlock()
	if !exists {
		return nil, false, nil
	}

	// 检查是否过期
	if entry.expired(c.now()) {
		c.mu.Lock()
		// 再次确认，避免删除并发写入的新值
		if cur, ok := c.cache[key]; ok && cur == entry {
			delete(c.cache, key)
		}
		c.mu.Unlock()
		return nil, false, nil
	}

	return entry.value, true, nil
}

// Delete 删除缓存值
func (c *MemoryResultCache) Delete(_ context.Context, key string) error {
	if key == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.cache, key)
	return nil
}

// Clear 清空所有缓存
func (c *MemoryResultCache) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache = make(map[string]*cacheEntry)
	return nil
}

// Len 当前条目数（含尚未清理的过期条目）
func (c *MemoryResultCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

// Close 停止后台清理协程
func (c *MemoryResultCache) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// cleanupExpired 清理过期缓存（内部方法）
func (c *MemoryResultCache) cleanupExpired() {
	ticker := time.NewTicker(c.cleanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.purge()
		}
	}
}

func (c *MemoryResultCache) purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, entry := range c.cache {
		if entry.expired(now) {
			delete(c.cache, key)
			removed++
		}
	}
	if removed > 0 {
		log.Printf("🧹 [Cache] 清理过期条目 %d 个", removed)
	}
}

package storage

import (
	"context"
	"time"
)

// CacheEntry 持久化的缓存条目（对外导出）
type CacheEntry struct {
	Key       string
	Payload   []byte
	ExpiresAt time.Time // 零值表示永不过期
	CreatedAt time.Time
}

// Expired 条目是否已过期
func (e *CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// CacheEntryRepository 缓存条目存储接口（对外导出）
// Get/Put/Delete/Clear 满足 cache.BlobStore，过期条目读取时视为不存在
type CacheEntryRepository interface {
	// Get 读取未过期条目的负载
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Put 写入或覆盖条目，ttl<=0 表示永不过期
	Put(ctx context.Context, key string, data []byte, ttl time.Duration) error
	// Delete 删除条目
	Delete(ctx context.Context, key string) error
	// Clear 清空所有条目
	Clear(ctx context.Context) error
	// PurgeExpired 删除所有已过期条目，返回删除数量
	PurgeExpired(ctx context.Context) (int64, error)
	// Count 条目总数（含未清理的过期条目）
	Count(ctx context.Context) (int64, error)
	// Close 关闭数据库连接
	Close() error
}

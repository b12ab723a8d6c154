package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// BlobStore 跨进程持久化的字节存储（对外导出）
// 由存储层（SQL、对象存储等）实现，过期判断由实现负责
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// PersistentResultCache 基于BlobStore的结果缓存（对外导出）
// 结果以JSON保存，命中时返回json.RawMessage，由调用方按任务结果类型解码
type PersistentResultCache struct {
	store BlobStore
}

// NewPersistentResultCache 创建持久化结果缓存
func NewPersistentResultCache(store BlobStore) *PersistentResultCache {
	return &PersistentResultCache{store: store}
}

// Set 序列化并写入
func (c *PersistentResultCache) Set(ctx context.Context, key string, result any, ttl time.Duration) error {
	if key == "" {
		return nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("序列化缓存结果失败: %w", err)
	}
	return c.store.Put(ctx, key, data, ttl)
}

// Get 读取原始JSON
func (c *PersistentResultCache) Get(ctx context.Context, key string) (any, bool, error) {
	if key == "" {
		return nil, false, nil
	}
	data, ok, err := c.store.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	return json.RawMessage(data), true, nil
}

// Delete 删除条目
func (c *PersistentResultCache) Delete(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}

// Clear 清空存储
func (c *PersistentResultCache) Clear(ctx context.Context) error {
	return c.store.Clear(ctx)
}

// TieredResultCache 内存+持久化两级缓存
// 读时先查内存再查持久层，写时两层都写
type TieredResultCache struct {
	memory     ResultCache
	persistent ResultCache
}

// NewTieredResultCache 创建两级缓存
func NewTieredResultCache(memory, persistent ResultCache) *TieredResultCache {
	return &TieredResultCache{memory: memory, persistent: persistent}
}

// Set 两层都写，持久层失败时返回错误
func (c *TieredResultCache) Set(ctx context.Context, key string, result any, ttl time.Duration) error {
	if err := c.memory.Set(ctx, key, result, ttl); err != nil {
		return err
	}
	return c.persistent.Set(ctx, key, result, ttl)
}

// Get 先内存后持久层
func (c *TieredResultCache) Get(ctx context.Context, key string) (any, bool, error) {
	if v, ok, err := c.memory.Get(ctx, key); err == nil && ok {
		return v, true, nil
	}
	return c.persistent.Get(ctx, key)
}

// Delete 两层都删
func (c *TieredResultCache) Delete(ctx context.Context, key string) error {
	if err := c.memory.Delete(ctx, key); err != nil {
		return err
	}
	return c.persistent.Delete(ctx, key)
}

// Clear 两层都清空
func (c *TieredResultCache) Clear(ctx context.Context) error {
	if err := c.memory.Clear(ctx); err != nil {
		return err
	}
	return c.persistent.Clear(ctx)
}

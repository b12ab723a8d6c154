package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/singleflight"
)

// DecodeFunc 将持久层的原始JSON还原为结果类型
type DecodeFunc func(data []byte) (any, error)

// LoadFunc 缓存未命中时的计算函数
type LoadFunc func(ctx context.Context) (any, error)

// Source 结果来源
type Source int

const (
	SourceComputed Source = iota // 本次计算
	SourceCache                  // 缓存命中
	SourceShared                 // 与同键的并发计算共享结果
)

// Store 缓存门面（对外导出）
// 同一键的并发GetOrSet合并为一次计算；读写失败只记录日志，退化为无缓存执行
type Store struct {
	backend ResultCache
	group   singleflight.Group
}

// NewStore 创建缓存门面
func NewStore(backend ResultCache) *Store {
	return &Store{backend: backend}
}

// Backend 返回底层缓存
func (s *Store) Backend() ResultCache {
	return s.backend
}

// Get 读取并按需解码
func (s *Store) Get(ctx context.Context, key string, decode DecodeFunc) (any, bool, error) {
	v, ok, err := s.backend.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	if raw, isRaw := v.(json.RawMessage); isRaw && decode != nil {
		decoded, err := decode(raw)
		if err != nil {
			return nil, false, fmt.Errorf("解码缓存条目失败: %w", err)
		}
		return decoded, true, nil
	}
	return v, true, nil
}

// Set 写入
func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return s.backend.Set(ctx, key, value, ttl)
}

// Delete 删除
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.backend.Delete(ctx, key)
}

// Clear 清空
func (s *Store) Clear(ctx context.Context) error {
	return s.backend.Clear(ctx)
}

// GetOrSetOptions GetOrSet参数
type GetOrSetOptions struct {
	TTL     time.Duration
	Decode  DecodeFunc
	Refresh bool // 跳过读取，强制计算并覆盖
	// OnError 缓存读写失败回调，默认只记录日志
	OnError func(op string, err error)
}

type loaded struct {
	value   any
	hit     bool
	aborted bool // 计算方自身的context已结束，错误不属于其他等待者
}

// GetOrSet 按键原子地读取或计算并写入（对外导出）
// 计算失败不写入缓存，错误原样返回给所有等待者；
// 计算方因自身context取消或超时而失败时，仍存活的等待者重新发起计算
func (s *Store) GetOrSet(ctx context.Context, key string, opts GetOrSetOptions, load LoadFunc) (any, Source, error) {
	if key == "" {
		v, err := load(ctx)
		return v, SourceComputed, err
	}

	onError := opts.OnError
	if onError == nil {
		onError = func(op string, err error) {
			log.Printf("⚠️ [Cache] %s 失败，退化为无缓存执行: key=%s, err=%v", op, shortKey(key), err)
		}
	}

	if !opts.Refresh {
		if v, ok, err := s.Get(ctx, key, opts.Decode); err != nil {
			onError("get", err)
		} else if ok {
			return v, SourceCache, nil
		}
	}

	for {
		// 只有执行了计算的调用方的闭包会被运行
		ran := false
		ch := s.group.DoChan(key, func() (any, error) {
			ran = true
			// 等待期间可能已被其他调用写入
			if !opts.Refresh {
				if v, ok, err := s.Get(ctx, key, opts.Decode); err == nil && ok {
					return loaded{value: v, hit: true}, nil
				}
			}
			v, err := load(ctx)
			if err != nil {
				return loaded{aborted: ctx.Err() != nil}, err
			}
			if err := s.backend.Set(ctx, key, v, opts.TTL); err != nil {
				onError("set", err)
			}
			return loaded{value: v}, nil
		})

		var r singleflight.Result
		select {
		case r = <-ch:
		case <-ctx.Done():
			return nil, SourceComputed, ctx.Err()
		}

		l, _ := r.Val.(loaded)
		if r.Err != nil {
			if !ran && l.aborted && ctx.Err() == nil {
				log.Printf("🔄 [Cache] 并发计算方已取消，重新计算: key=%s", shortKey(key))
				continue
			}
			return nil, SourceComputed, r.Err
		}

		switch {
		case l.hit:
			return l.value, SourceCache, nil
		case ran:
			return l.value, SourceComputed, nil
		default:
			return l.value, SourceShared, nil
		}
	}
}

func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}

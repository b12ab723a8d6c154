// Package limits 命名并发槽位和命名速率限制
package limits

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Tag 任务声明的一项限制
type Tag struct {
	Name   string
	Occupy int64 // 占用的并发槽位数，Rate为true时忽略
	Rate   bool  // true表示速率限制，每次尝试消耗一个令牌
}

// ReleaseFunc 释放已获取的槽位
type ReleaseFunc func()

type slot struct {
	capacity int64
	sem      *semaphore.Weighted
}

// Registry 限制注册表（对外导出），并发安全
// 未注册的名称不做限制，只记录一次警告
type Registry struct {
	mu       sync.RWMutex
	slots    map[string]*slot
	limiters map[string]*rate.Limiter
	warned   sync.Map
}

// NewRegistry 创建注册表
func NewRegistry() *Registry {
	return &Registry{
		slots:    make(map[string]*slot),
		limiters: make(map[string]*rate.Limiter),
	}
}

// SetConcurrency 设置命名并发上限
// 重新设置会替换信号量，已持有旧信号量的调用方按旧容量释放
func (r *Registry) SetConcurrency(name string, capacity int64) error {
	if name == "" || capacity <= 0 {
		return fmt.Errorf("并发限制 %q 的容量必须大于0", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots[name] = &slot{capacity: capacity, sem: semaphore.NewWeighted(capacity)}
	return nil
}

// SetRateLimit 设置命名速率限制（每秒perSecond个，突发burst个）
func (r *Registry) SetRateLimit(name string, perSecond float64, burst int) error {
	if name == "" || perSecond <= 0 {
		return fmt.Errorf("速率限制 %q 的速率必须大于0", name)
	}
	if burst <= 0 {
		burst = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiters[name] = rate.NewLimiter(rate.Limit(perSecond), burst)
	return nil
}

// Acquire 依次获取所有限制（对外导出）
// 先等待速率令牌，再按名称顺序获取并发槽位，避免交叉持有导致死锁
// 失败时已获取的槽位会被释放
func (r *Registry) Acquire(ctx context.Context, tags []Tag) (ReleaseFunc, error) {
	if len(tags) == 0 {
		return func() {}, nil
	}

	var rates []*rate.Limiter
	type held struct {
		sem *semaphore.Weighted
		n   int64
	}
	var slots []held

	r.mu.RLock()
	sorted := append([]Tag(nil), tags...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	for _, tag := range sorted {
		if tag.Rate {
			if l, ok := r.limiters[tag.Name]; ok {
				rates = append(rates, l)
			} else {
				r.warnUnknown("rate", tag.Name)
			}
			continue
		}
		s, ok := r.slots[tag.Name]
		if !ok {
			r.warnUnknown("concurrency", tag.Name)
			continue
		}
		occupy := tag.Occupy
		if occupy <= 0 {
			occupy = 1
		}
		if occupy > s.capacity {
			r.mu.RUnlock()
			return nil, fmt.Errorf("并发限制 %s 容量为%d，无法占用%d个槽位", tag.Name, s.capacity, occupy)
		}
		slots = append(slots, held{sem: s.sem, n: occupy})
	}
	r.mu.RUnlock()

	for _, l := range rates {
		if err := l.Wait(ctx); err != nil {
			return nil, fmt.Errorf("等待速率令牌失败: %w", err)
		}
	}

	acquired := make([]held, 0, len(slots))
	release := func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			acquired[i].sem.Release(acquired[i].n)
		}
	}
	for _, h := range slots {
		if err := h.sem.Acquire(ctx, h.n); err != nil {
			release()
			return nil, fmt.Errorf("获取并发槽位失败: %w", err)
		}
		acquired = append(acquired, h)
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (r *Registry) warnUnknown(kind, name string) {
	if _, loaded := r.warned.LoadOrStore(kind+"/"+name, true); !loaded {
		log.Printf("⚠️ [Limits] 未配置的%s限制 %s，不做限制", kind, name)
	}
}

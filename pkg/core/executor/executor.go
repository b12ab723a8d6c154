// Package executor 单个任务的执行：缓存查询、按尝试执行、重试或终结
package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/LENAX/statflow/pkg/core/cache"
	"github.com/LENAX/statflow/pkg/core/lineage"
	"github.com/LENAX/statflow/pkg/core/limits"
	"github.com/LENAX/statflow/pkg/core/retry"
	"github.com/LENAX/statflow/pkg/core/task"
)

const defaultTaskTimeout = 30 * time.Minute

// Options 执行器依赖
type Options struct {
	// Cache 默认结果缓存，nil表示不缓存
	Cache *cache.Store
	// KeyStorages 按名称的持久化缓存，供Policy.KeyStorage选择
	KeyStorages map[string]*cache.Store
	// Limits 命名并发/速率限制，nil表示不限制
	Limits *limits.Registry
	// Emitter 血缘事件，nil表示丢弃
	Emitter lineage.Emitter
	// DefaultTimeout 任务未设置超时时的单次尝试超时
	DefaultTimeout time.Duration
	// DefaultTTL 缓存策略未设置TTL时使用，0表示永不过期
	DefaultTTL time.Duration
}

// Executor 执行器核心结构体（对外导出）
// 无内部可变状态，可被多个Flow并发使用
type Executor struct {
	cache          *cache.Store
	keyStorages    map[string]*cache.Store
	limits         *limits.Registry
	emitter        lineage.Emitter
	defaultTimeout time.Duration
	defaultTTL     time.Duration
}

// Result 一次Execute的结果（对外导出）
type Result struct {
	TaskID   string
	Value    any
	State    task.RunState // Succeeded 或 CacheHit
	Attempts int           // 实际执行次数，缓存命中为0
	CacheKey string
	Runs     []*task.TaskRun
}

// New 创建执行器实例（对外导出）
func New(opts Options) *Executor {
	e := &Executor{
		cache:          opts.Cache,
		keyStorages:    opts.KeyStorages,
		limits:         opts.Limits,
		emitter:        opts.Emitter,
		defaultTimeout: opts.DefaultTimeout,
		defaultTTL:     opts.DefaultTTL,
	}
	if e.emitter == nil {
		e.emitter = lineage.NopEmitter{}
	}
	if e.limits == nil {
		e.limits = limits.NewRegistry()
	}
	if e.defaultTimeout <= 0 {
		e.defaultTimeout = defaultTaskTimeout
	}
	return e
}

// Cache 返回默认缓存
func (e *Executor) Cache() *cache.Store {
	return e.cache
}

// Execute 执行一个任务（对外导出）
// 缓存命中时直接返回；否则按重试策略执行，全部失败时返回*task.TaskFailure
func (e *Executor) Execute(ctx context.Context, t *task.Task, inputs task.Inputs, flowParams map[string]any) (*Result, error) {
	if err := t.Validate(); err != nil {
		return nil, task.Permanent(err)
	}
	if err := t.CheckInputs(inputs); err != nil {
		return nil, task.Permanent(err)
	}

	key, store := e.cacheKey(t, inputs, flowParams)
	if key == "" || store == nil {
		return e.runAttempts(ctx, t, inputs)
	}

	ttl := t.CachePolicy.TTL
	if ttl <= 0 {
		ttl = e.defaultTTL
	}

	var computed *Result
	value, source, err := store.GetOrSet(ctx, key, cache.GetOrSetOptions{
		TTL:     ttl,
		Decode:  cache.DecodeFunc(t.Decode),
		Refresh: t.CachePolicy.Refresh,
		OnError: func(op string, err error) {
			cerr := &task.CacheError{Op: op, Key: key, Err: err}
			log.Printf("⚠️ [Cache] TaskID=%s, %v，退化为无缓存执行", t.ID, cerr)
		},
	}, func(ctx context.Context) (any, error) {
		res, err := e.runAttempts(ctx, t, inputs)
		if err != nil {
			return nil, err
		}
		computed = res
		return res.Value, nil
	})
	if err != nil {
		return nil, err
	}

	if source == cache.SourceComputed && computed != nil {
		computed.CacheKey = key
		return computed, nil
	}

	// 缓存命中或与并发的同键执行共享结果，任务体未被调用
	run := task.NewTaskRun(t.ID, 0)
	run.State = task.RunStateCacheHit
	run.Result = value
	run.StartedAt = time.Now()
	run.EndedAt = run.StartedAt

	log.Printf("💾 [Cache] TaskID=%s, 命中缓存 policy=%s, key=%.12s", t.ID, t.CachePolicy, key)
	lineage.EmitSafe(ctx, e.emitter, e.event(ctx, lineage.EventTaskCacheHit, t, run).
		WithMetadata("cache_key", key))

	return &Result{
		TaskID:   t.ID,
		Value:    value,
		State:    task.RunStateCacheHit,
		CacheKey: key,
		Runs:     []*task.TaskRun{run},
	}, nil
}

// cacheKey 计算缓存键和对应存储，失败时记录日志并返回空键
func (e *Executor) cacheKey(t *task.Task, inputs task.Inputs, flowParams map[string]any) (string, *cache.Store) {
	policy := t.CachePolicy
	if !policy.Enabled() {
		return "", nil
	}

	store := e.cache
	if policy.KeyStorage != "" {
		s, ok := e.keyStorages[policy.KeyStorage]
		if !ok {
			log.Printf("⚠️ [Cache] TaskID=%s, 持久化存储 %s 未配置，使用默认缓存", t.ID, policy.KeyStorage)
		} else {
			store = s
		}
	}
	if store == nil {
		return "", nil
	}

	key, err := cache.ComputeKey(policy, cache.KeySource{
		TaskID:            t.ID,
		SourceFingerprint: t.SourceFingerprint,
		Inputs:            inputs.Map(),
		FlowParameters:    flowParams,
	})
	if err != nil {
		cerr := &task.CacheError{Op: "key", Key: t.ID, Err: err}
		log.Printf("⚠️ [Cache] TaskID=%s, %v，退化为无缓存执行", t.ID, cerr)
		return "", nil
	}
	return key, store
}

// runAttempts 尝试循环：执行→分类→重试或终结
func (e *Executor) runAttempts(ctx context.Context, t *task.Task, inputs task.Inputs) (*Result, error) {
	var runs []*task.TaskRun

	for attempt := 1; ; attempt++ {
		run := task.NewTaskRun(t.ID, attempt)
		runs = append(runs, run)

		value, err := e.attempt(ctx, t, inputs, run)
		if err == nil {
			return &Result{
				TaskID:   t.ID,
				Value:    value,
				State:    task.RunStateSucceeded,
				Attempts: attempt,
				Runs:     runs,
			}, nil
		}

		// 调用方取消时不再重试
		if ctx.Err() != nil {
			return nil, e.fail(ctx, t, run, errors.Join(ctx.Err(), err), attempt)
		}

		decision := retry.Decide(t.RetryPolicy, attempt, err)
		if !decision.ShouldRetry() {
			log.Printf("❌ [Task] TaskID=%s, 第%d次尝试失败，停止重试（%s）: %v", t.ID, attempt, decision.Reason, err)
			return nil, e.fail(ctx, t, run, err, attempt)
		}

		run.State = task.RunStateRetrying
		log.Printf("🔄 [Retry] TaskID=%s, 第%d次尝试失败，%v 后重试: %v", t.ID, attempt, decision.Delay, err)
		lineage.EmitSafe(ctx, e.emitter, e.event(ctx, lineage.EventTaskRetrying, t, run).
			WithError(err).
			WithMetadata("delay", decision.Delay.String()))

		if serr := sleep(ctx, decision.Delay); serr != nil {
			return nil, e.fail(ctx, t, run, errors.Join(serr, err), attempt)
		}
	}
}

// attempt 执行一次尝试，持有限制槽位直到本次尝试结束
func (e *Executor) attempt(ctx context.Context, t *task.Task, inputs task.Inputs, run *task.TaskRun) (any, error) {
	run.StartedAt = time.Now()
	run.State = task.RunStateRunning
	lineage.EmitSafe(ctx, e.emitter, e.event(ctx, lineage.EventTaskStarted, t, run))

	release, err := e.limits.Acquire(ctx, t.Concurrency)
	if err != nil {
		return e.finishAttempt(run, nil, err)
	}
	defer release()

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	attemptCtx, cancel := context.WithTimeout(task.WithTaskRun(ctx, run), timeout)
	defer cancel()

	log.Printf("🚀 [Task] TaskID=%s, Attempt=%d, 开始执行", t.ID, run.Attempt)

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: task.Permanentf("任务panic: %v", r)}
			}
		}()
		v, err := t.Func(attemptCtx, inputs)
		done <- outcome{value: v, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil && task.KindOf(out.err) == task.KindUnknown {
			out.err = task.Timeout(out.err)
		}
		v, err := e.finishAttempt(run, out.value, out.err)
		if err == nil {
			log.Printf("✅ [Task] TaskID=%s, Attempt=%d, 执行成功，耗时=%v", t.ID, run.Attempt, run.Duration())
			lineage.EmitSafe(ctx, e.emitter, e.event(ctx, lineage.EventTaskCompleted, t, run))
		}
		return v, err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return e.finishAttempt(run, nil, ctx.Err())
		}
		// 任务体未响应超时，结果被丢弃
		log.Printf("⏱️ [Task] TaskID=%s, Attempt=%d, 执行超时（%v）", t.ID, run.Attempt, timeout)
		return e.finishAttempt(run, nil, task.Timeout(fmt.Errorf("任务执行超时（%v）: %w", timeout, context.DeadlineExceeded)))
	}
}

func (e *Executor) finishAttempt(run *task.TaskRun, value any, err error) (any, error) {
	run.EndedAt = time.Now()
	if err != nil {
		run.State = task.RunStateFailed
		run.Err = err
		return nil, err
	}
	run.State = task.RunStateSucceeded
	run.Result = value
	return value, nil
}

func (e *Executor) fail(ctx context.Context, t *task.Task, run *task.TaskRun, err error, attempts int) error {
	run.State = task.RunStateFailed
	failure := &task.TaskFailure{
		TaskID:   t.ID,
		Kind:     task.KindOf(err),
		LastErr:  err,
		Attempts: attempts,
	}
	lineage.EmitSafe(ctx, e.emitter, e.event(ctx, lineage.EventTaskFailed, t, run).WithError(err))
	return failure
}

func (e *Executor) event(ctx context.Context, typ lineage.EventType, t *task.Task, run *task.TaskRun) *lineage.Event {
	return lineage.NewEvent(typ, t.Name, task.GetFlowRunID(ctx)).
		WithResources(t.Upstream, t.Downstream).
		WithRun(run.ID, run.Attempt).
		WithMetadata("task_id", t.ID)
}

// sleep 只阻塞当前任务的goroutine，ctx取消时提前返回
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package flow

import (
	"context"
	"fmt"
	"sync"

	"github.com/LENAX/statflow/pkg/core/executor"
	"github.com/LENAX/statflow/pkg/core/task"
)

// Future 一次提交的结果句柄（对外导出）
// 结果只写一次，完成后Await立即返回
type Future struct {
	id   string
	seq  int
	task *task.Task

	done chan struct{}
	once sync.Once

	mu     sync.RWMutex
	state  task.RunState
	result *executor.Result
	err    error
}

func newFuture(id string, seq int, t *task.Task) *Future {
	return &Future{
		id:    id,
		seq:   seq,
		task:  t,
		done:  make(chan struct{}),
		state: task.RunStatePending,
	}
}

// ID 提交ID
func (f *Future) ID() string { return f.id }

// Task 被提交的任务
func (f *Future) Task() *task.Task { return f.task }

// Done 完成信号
func (f *Future) Done() <-chan struct{} { return f.done }

// State 当前状态
func (f *Future) State() task.RunState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

// Err 终态错误，未完成时为nil
func (f *Future) Err() error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.err
}

// Result 执行结果，未完成或失败时为nil
func (f *Future) Result() *executor.Result {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.result
}

// Await 阻塞直到任务完成（成功、缓存命中或终态失败）（对外导出）
func (f *Future) Await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
	case <-ctx.Done():
		return nil, fmt.Errorf("等待任务 %s 被取消: %w", f.label(), ctx.Err())
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.result.Value, nil
}

func (f *Future) label() string {
	if f.task != nil {
		return f.task.ID
	}
	return f.id
}

func (f *Future) setRunning() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == task.RunStatePending {
		f.state = task.RunStateRunning
	}
}

func (f *Future) complete(res *executor.Result, err error) {
	f.once.Do(func() {
		f.mu.Lock()
		if err != nil {
			f.state = task.RunStateFailed
			f.err = err
		} else {
			f.state = res.State
			f.result = res
		}
		f.mu.Unlock()
		close(f.done)
	})
}

// AwaitAs 类型化等待
func AwaitAs[T any](ctx context.Context, fut *Future) (T, error) {
	var zero T
	v, err := fut.Await(ctx)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	typed, ok := v.(T)
	if !ok {
		return zero, task.Permanentf("任务 %s 的结果类型为 %T，期望 %T", fut.label(), v, zero)
	}
	return typed, nil
}

// AwaitAll 按提交顺序等待所有Future（对外导出）
// 结果顺序与完成顺序无关；返回提交顺序中的第一个错误
func AwaitAll(ctx context.Context, futs []*Future) ([]any, error) {
	results := make([]any, len(futs))
	for i, fut := range futs {
		v, err := fut.Await(ctx)
		if err != nil {
			return nil, err
		}
		results[i] = v
	}
	return results, nil
}

// AwaitAllAs 类型化的AwaitAll
func AwaitAllAs[T any](ctx context.Context, futs []*Future) ([]T, error) {
	results := make([]T, len(futs))
	for i, fut := range futs {
		v, err := AwaitAs[T](ctx, fut)
		if err != nil {
			return nil, err
		}
		results[i] = v
	}
	return results, nil
}

// Gather 等待所有Future，返回全部结果和逐项错误
func Gather(ctx context.Context, futs []*Future) ([]any, []error) {
	results := make([]any, len(futs))
	errs := make([]error, len(futs))
	for i, fut := range futs {
		results[i], errs[i] = fut.Await(ctx)
	}
	return results, errs
}

// Package flow Flow调度器：非阻塞提交任务，返回Future，按提交顺序汇总结果
package flow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/LENAX/statflow/pkg/core/dag"
	"github.com/LENAX/statflow/pkg/core/executor"
	"github.com/LENAX/statflow/pkg/core/saga"
	"github.com/LENAX/statflow/pkg/core/task"
)

// ErrFlowClosed Flow已取消，不再接受提交
var ErrFlowClosed = errors.New("flow已关闭")

const defaultWorkers = 10

// Options Flow配置
type Options struct {
	Name     string
	RunID    string         // 为空时自动生成
	Params   map[string]any // Flow参数，参与缓存键计算
	Workers  int            // 工作池大小
	Executor *executor.Executor
}

// Flow 一次Flow调用（对外导出）
type Flow struct {
	id     string
	name   string
	params map[string]any
	exec   *executor.Executor

	workerPool chan struct{} // 工作池token
	graph      *dag.Graph

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	futures []*Future
	byID    map[string]*Future
}

// New 创建Flow调用（对外导出）
func New(ctx context.Context, opts Options) *Flow {
	id := opts.RunID
	if id == "" {
		id = uuid.NewString()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	exec := opts.Executor
	if exec == nil {
		exec = executor.New(executor.Options{})
	}
	params := make(map[string]any, len(opts.Params))
	for k, v := range opts.Params {
		params[k] = v
	}

	runCtx, cancel := context.WithCancel(task.WithFlowRun(ctx, opts.Name, id))
	return &Flow{
		id:         id,
		name:       opts.Name,
		params:     params,
		exec:       exec,
		workerPool: make(chan struct{}, workers),
		graph:      dag.NewGraph(),
		byID:       make(map[string]*Future),
		ctx:        runCtx,
		cancel:     cancel,
	}
}

// ID Flow运行ID
func (f *Flow) ID() string { return f.id }

// Name Flow名称
func (f *Flow) Name() string { return f.name }

// Context Flow运行上下文，携带运行ID，Cancel后结束
func (f *Flow) Context() context.Context { return f.ctx }

// Param 读取Flow参数
func (f *Flow) Param(name string) (any, bool) {
	v, ok := f.params[name]
	return v, ok
}

// Params Flow参数副本
func (f *Flow) Params() map[string]any {
	out := make(map[string]any, len(f.params))
	for k, v := range f.params {
		out[k] = v
	}
	return out
}

// Graph 已声明的提交图
func (f *Flow) Graph() *dag.Graph { return f.graph }

// Futures 所有提交（按提交顺序）
func (f *Flow) Futures() []*Future {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Future(nil), f.futures...)
}

// SubmitOption 提交选项
type SubmitOption func(*submitConfig)

type submitConfig struct {
	waitFor []*Future
}

// WaitFor 声明上游Future，任务体在上游全部成功后才执行
// 任一上游失败时当前任务以*task.UpstreamFailedError失败，任务体不执行
func WaitFor(futs ...*Future) SubmitOption {
	return func(c *submitConfig) {
		for _, fut := range futs {
			if fut != nil {
				c.waitFor = append(c.waitFor, fut)
			}
		}
	}
}

// Submit 提交任务并立即返回Future（对外导出）
func (f *Flow) Submit(t *task.Task, inputs task.Inputs, opts ...SubmitOption) *Future {
	cfg := submitConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	f.mu.Lock()
	fut := newFuture(uuid.NewString(), len(f.futures)+1, t)
	f.futures = append(f.futures, fut)
	f.byID[fut.id] = fut
	closed := f.closed
	if !closed {
		f.wg.Add(1)
	}
	f.mu.Unlock()

	if closed {
		fut.complete(nil, fmt.Errorf("提交任务失败: %w", ErrFlowClosed))
		return fut
	}
	if err := t.Validate(); err != nil {
		f.wg.Done()
		fut.complete(nil, task.Permanent(err))
		return fut
	}

	parentIDs := make([]string, len(cfg.waitFor))
	upstreamTasks := make([]string, len(cfg.waitFor))
	for i, up := range cfg.waitFor {
		parentIDs[i] = up.id
		upstreamTasks[i] = up.label()
	}
	if err := t.CheckUpstream(upstreamTasks); err != nil {
		f.wg.Done()
		fut.complete(nil, task.Permanent(err))
		return fut
	}
	if _, err := f.graph.AddNode(fut.id, t.Name, parentIDs); err != nil {
		f.wg.Done()
		fut.complete(nil, task.Permanent(fmt.Errorf("声明依赖失败: %w", err)))
		return fut
	}

	go f.run(fut, inputs)
	return fut
}

// Map 对每组输入提交同一任务，返回的Future与输入顺序一致
func (f *Flow) Map(t *task.Task, inputs []task.Inputs, opts ...SubmitOption) []*Future {
	futs := make([]*Future, len(inputs))
	for i, in := range inputs {
		futs[i] = f.Submit(t, in, opts...)
	}
	return futs
}

// Run 提交并等待，相当于 Submit(...).Await(ctx)
func (f *Flow) Run(t *task.Task, inputs task.Inputs, opts ...SubmitOption) (any, error) {
	return f.Submit(t, inputs, opts...).Await(f.ctx)
}

// upstream 从提交图解析上游Future（按提交顺序）
func (f *Flow) upstream(fut *Future) ([]*Future, error) {
	parents, err := f.graph.Parents(fut.id)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ups := make([]*Future, 0, len(parents))
	for _, p := range parents {
		up, ok := f.byID[p.NodeID]
		if !ok {
			return nil, fmt.Errorf("上游节点 %s 没有对应的提交", p.NodeID)
		}
		ups = append(ups, up)
	}
	return ups, nil
}

// run 在工作池中执行（内部方法）
func (f *Flow) run(fut *Future, inputs task.Inputs) {
	defer f.wg.Done()

	upstream, err := f.upstream(fut)
	if err != nil {
		fut.complete(nil, task.Permanent(err))
		return
	}
	// 先等待上游，再占用工作池，避免下游占满工作池导致上游无法执行
	for _, up := range upstream {
		select {
		case <-up.done:
		case <-f.ctx.Done():
			fut.complete(nil, f.ctx.Err())
			return
		}
		if err := up.Err(); err != nil {
			log.Printf("⏭️ [Flow] FlowRunID=%s, Task=%s 的上游 %s 失败，跳过执行", f.id, fut.task.ID, up.label())
			fut.complete(nil, &task.UpstreamFailedError{TaskID: fut.task.ID, UpstreamID: up.label(), Err: err})
			return
		}
	}

	select {
	case f.workerPool <- struct{}{}:
	case <-f.ctx.Done():
		fut.complete(nil, f.ctx.Err())
		return
	}
	defer func() { <-f.workerPool }()

	fut.setRunning()
	res, err := f.exec.Execute(f.ctx, fut.task, inputs, f.params)
	fut.complete(res, err)
}

// Wait 等待所有已提交任务结束（对外导出）
func (f *Flow) Wait() {
	f.wg.Wait()
}

// Cancel 取消Flow：拒绝新提交，取消运行中任务的context（对外导出）
func (f *Flow) Cancel() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.cancel()
}

// Failed 已失败的提交（按提交顺序）
func (f *Flow) Failed() []*Future {
	var failed []*Future
	for _, fut := range f.Futures() {
		if fut.State() == task.RunStateFailed {
			failed = append(failed, fut)
		}
	}
	return failed
}

// RunInTransaction 把任务作为事务步骤执行（对外导出）
// 任务失败时事务回滚，返回*saga.TransactionError；步骤ID为任务ID
func RunInTransaction(ctx context.Context, f *Flow, tx *saga.Transaction, t *task.Task, inputs task.Inputs, opts ...saga.StepOption) (any, error) {
	return RunInTransactionAs[any](ctx, f, tx, t, inputs, opts...)
}

// RunInTransactionAs 带类型的RunInTransaction
// 结果类型不匹配视为步骤失败，事务回滚
func RunInTransactionAs[T any](ctx context.Context, f *Flow, tx *saga.Transaction, t *task.Task, inputs task.Inputs, opts ...saga.StepOption) (T, error) {
	var value T
	err := tx.RunStep(ctx, t.ID, func(ctx context.Context) error {
		v, err := AwaitAs[T](ctx, f.Submit(t, inputs))
		if err != nil {
			return err
		}
		value = v
		return nil
	}, opts...)
	if err != nil {
		var zero T
		return zero, err
	}
	return value, nil
}

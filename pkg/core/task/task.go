package task

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/LENAX/statflow/pkg/core/cache"
	"github.com/LENAX/statflow/pkg/core/lineage"
	"github.com/LENAX/statflow/pkg/core/limits"
	"github.com/LENAX/statflow/pkg/core/retry"
)

// WorkFunc 任务计算函数（对外导出）
// 接收有序输入，返回结果或分类错误（TransientTaskError / PermanentTaskError）
type WorkFunc func(ctx context.Context, in Inputs) (any, error)

// DecodeFunc 将持久化缓存中的JSON负载还原为任务结果类型
type DecodeFunc func(data []byte) (any, error)

// Task 一个命名的工作单元（对外导出）
// 构造完成后不可变，只能通过Option在构造阶段配置
type Task struct {
	ID                string
	Name              string
	Description       string
	InputNames        []string // 声明的输入名（有序）
	DependsOn         []string // 上游Task ID
	SourceFingerprint string   // 任务源码/版本指纹，参与缓存键计算
	Timeout           time.Duration

	Func   WorkFunc
	Decode DecodeFunc

	RetryPolicy retry.Policy
	CachePolicy cache.Policy

	Upstream   []lineage.Resource
	Downstream []lineage.Resource

	Concurrency []limits.Tag
}

// Option Task构造选项
type Option func(*Task)

// New 创建类型安全的Task（对外导出）
// fn的返回值类型T同时决定了持久化缓存命中时的解码类型
func New[T any](name string, fn func(ctx context.Context, in Inputs) (T, error), opts ...Option) *Task {
	t := &Task{
		ID:   name,
		Name: name,
		Func: func(ctx context.Context, in Inputs) (any, error) {
			return fn(ctx, in)
		},
		Decode: func(data []byte) (any, error) {
			var v T
			if err := json.Unmarshal(data, &v); err != nil {
				return nil, fmt.Errorf("解码缓存结果失败: %w", err)
			}
			return v, nil
		},
		RetryPolicy: retry.NoRetry(),
		CachePolicy: cache.NoCache(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.SourceFingerprint == "" {
		t.SourceFingerprint = t.ID
	}
	return t
}

// WithID 覆盖默认ID（默认与名称相同）
func WithID(id string) Option {
	return func(t *Task) { t.ID = id }
}

// WithDescription 设置描述
func WithDescription(desc string) Option {
	return func(t *Task) { t.Description = desc }
}

// WithInputs 声明输入名（有序）
func WithInputs(names ...string) Option {
	return func(t *Task) { t.InputNames = append([]string(nil), names...) }
}

// WithDependsOn 声明上游Task ID
func WithDependsOn(ids ...string) Option {
	return func(t *Task) { t.DependsOn = append([]string(nil), ids...) }
}

// WithSource 设置源码指纹（源码变化时缓存失效）
func WithSource(fingerprint string) Option {
	return func(t *Task) { t.SourceFingerprint = fingerprint }
}

// WithTimeout 单次尝试的超时时间
func WithTimeout(d time.Duration) Option {
	return func(t *Task) { t.Timeout = d }
}

// WithRetry 设置重试策略
func WithRetry(p retry.Policy) Option {
	return func(t *Task) { t.RetryPolicy = p }
}

// WithCache 设置缓存策略
func WithCache(p cache.Policy) Option {
	return func(t *Task) { t.CachePolicy = p }
}

// WithLineage 声明上下游资源（用于血缘事件）
func WithLineage(upstream, downstream []lineage.Resource) Option {
	return func(t *Task) {
		t.Upstream = upstream
		t.Downstream = downstream
	}
}

// WithConcurrency 占用命名并发槽位
func WithConcurrency(name string, occupy int64) Option {
	return func(t *Task) {
		t.Concurrency = append(t.Concurrency, limits.Tag{Name: name, Occupy: occupy})
	}
}

// WithRateLimit 每次尝试前消耗一个命名速率令牌
func WithRateLimit(name string) Option {
	return func(t *Task) {
		t.Concurrency = append(t.Concurrency, limits.Tag{Name: name, Rate: true})
	}
}

// Validate 检查Task定义是否完整
func (t *Task) Validate() error {
	if t == nil {
		return fmt.Errorf("Task不能为空")
	}
	if t.ID == "" {
		return fmt.Errorf("Task ID不能为空")
	}
	if t.Func == nil {
		return fmt.Errorf("Task %s 未设置计算函数", t.ID)
	}
	return nil
}

// CheckInputs 检查声明的输入是否都已提供
func (t *Task) CheckInputs(in Inputs) error {
	var missing []string
	for _, name := range t.InputNames {
		if !in.Has(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("Task %s 缺少输入: %s", t.ID, strings.Join(missing, ", "))
	}
	return nil
}

// CheckUpstream 检查声明的上游Task是否都在等待列表中
func (t *Task) CheckUpstream(upstreamIDs []string) error {
	have := make(map[string]bool, len(upstreamIDs))
	for _, id := range upstreamIDs {
		have[id] = true
	}
	var missing []string
	for _, id := range t.DependsOn {
		if !have[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("Task %s 未等待上游: %s", t.ID, strings.Join(missing, ", "))
	}
	return nil
}

// RunState TaskRun状态
type RunState string

const (
	RunStatePending   RunState = "Pending"
	RunStateRunning   RunState = "Running"
	RunStateSucceeded RunState = "Succeeded"
	RunStateFailed    RunState = "Failed"
	RunStateRetrying  RunState = "Retrying"
	RunStateCacheHit  RunState = "CacheHit"
)

// IsTerminal 是否为终态
func (s RunState) IsTerminal() bool {
	return s == RunStateSucceeded || s == RunStateFailed || s == RunStateCacheHit
}

// TaskRun 一次执行尝试的记录（对外导出）
// 仅由Executor创建和修改，随Flow调用结束而释放
type TaskRun struct {
	ID        string
	TaskID    string
	Attempt   int
	State     RunState
	Result    any
	Err       error
	StartedAt time.Time
	EndedAt   time.Time
}

// NewTaskRun 创建一次尝试记录
func NewTaskRun(taskID string, attempt int) *TaskRun {
	return &TaskRun{
		ID:      uuid.NewString(),
		TaskID:  taskID,
		Attempt: attempt,
		State:   RunStatePending,
	}
}

// Duration 尝试耗时
func (r *TaskRun) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

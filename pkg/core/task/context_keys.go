package task

import "context"

// context key类型，用于类型安全的context.Value访问
type contextKey string

const (
	// TaskIDKey Task ID在context中的key
	TaskIDKey contextKey = "task.id"
	// TaskRunIDKey TaskRun ID在context中的key
	TaskRunIDKey contextKey = "task.run.id"
	// AttemptKey 当前尝试次数在context中的key
	AttemptKey contextKey = "task.attempt"
	// FlowRunIDKey Flow运行ID在context中的key
	FlowRunIDKey contextKey = "flow.run.id"
	// FlowNameKey Flow名称在context中的key
	FlowNameKey contextKey = "flow.name"
)

// WithTaskRun 将Task和TaskRun信息添加到context中（对外导出）
func WithTaskRun(ctx context.Context, run *TaskRun) context.Context {
	ctx = context.WithValue(ctx, TaskIDKey, run.TaskID)
	ctx = context.WithValue(ctx, TaskRunIDKey, run.ID)
	return context.WithValue(ctx, AttemptKey, run.Attempt)
}

// GetTaskID 从context中获取Task ID（对外导出）
func GetTaskID(ctx context.Context) string {
	if id, ok := ctx.Value(TaskIDKey).(string); ok {
		return id
	}
	return ""
}

// GetTaskRunID 从context中获取TaskRun ID（对外导出）
func GetTaskRunID(ctx context.Context) string {
	if id, ok := ctx.Value(TaskRunIDKey).(string); ok {
		return id
	}
	return ""
}

// GetAttempt 从context中获取当前尝试次数，未知返回0
func GetAttempt(ctx context.Context) int {
	if n, ok := ctx.Value(AttemptKey).(int); ok {
		return n
	}
	return 0
}

// WithFlowRun 将Flow运行信息添加到context中（对外导出）
func WithFlowRun(ctx context.Context, flowName, runID string) context.Context {
	ctx = context.WithValue(ctx, FlowNameKey, flowName)
	return context.WithValue(ctx, FlowRunIDKey, runID)
}

// GetFlowRunID 从context中获取Flow运行ID（对外导出）
func GetFlowRunID(ctx context.Context) string {
	if id, ok := ctx.Value(FlowRunIDKey).(string); ok {
		return id
	}
	return ""
}

// GetFlowName 从context中获取Flow名称（对外导出）
func GetFlowName(ctx context.Context) string {
	if name, ok := ctx.Value(FlowNameKey).(string); ok {
		return name
	}
	return ""
}

// Package lineage 数据血缘事件：任务、事务和Flow的生命周期事件及其上下游资源
package lineage

import (
	"time"

	"github.com/google/uuid"
)

// EventType 事件类型
type EventType string

const (
	// 任务事件
	EventTaskStarted   EventType = "task.started"   // 开始一次尝试
	EventTaskCompleted EventType = "task.completed" // 执行成功
	EventTaskCacheHit  EventType = "task.cache_hit" // 缓存命中，未执行
	EventTaskRetrying  EventType = "task.retrying"  // 失败后等待重试
	EventTaskFailed    EventType = "task.failed"    // 终态失败

	// 事务事件
	EventTxCommitted  EventType = "transaction.committed"   // 事务提交
	EventTxRolledBack EventType = "transaction.rolled_back" // 事务回滚

	// Flow事件
	EventFlowStarted   EventType = "flow.started"
	EventFlowCompleted EventType = "flow.completed"
	EventFlowFailed    EventType = "flow.failed"

	// 任务体内手动发射的血缘事件
	EventResource EventType = "resource.observed"
)

// Resource 血缘资源
// ID示例: api://statsapi.mlb.com/api/v1/schedule
type Resource struct {
	ID           string `json:"id"`
	Name         string `json:"name,omitempty"`
	Role         string `json:"role,omitempty"`          // 例如 data-source / data-sink
	LineageGroup string `json:"lineage_group,omitempty"` // 例如 source / transform
}

// NewResource 创建资源
func NewResource(id, name, role, group string) Resource {
	return Resource{ID: id, Name: name, Role: role, LineageGroup: group}
}

// Event 血缘事件
type Event struct {
	ID         string            `json:"id"`          // 事件ID（UUID）
	Type       EventType         `json:"type"`        // 事件类型
	Name       string            `json:"name"`        // 任务/事务/Flow名称
	FlowRunID  string            `json:"flow_run_id"` // 关联Flow运行ID
	TaskRunID  string            `json:"task_run_id,omitempty"`
	Attempt    int               `json:"attempt,omitempty"`
	Upstream   []Resource        `json:"upstream,omitempty"`
	Downstream []Resource        `json:"downstream,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Error      string            `json:"error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// NewEvent 创建事件
func NewEvent(eventType EventType, name, flowRunID string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Name:      name,
		FlowRunID: flowRunID,
		Timestamp: time.Now(),
		Metadata:  make(map[string]string),
	}
}

// WithResources 设置上下游资源
func (e *Event) WithResources(upstream, downstream []Resource) *Event {
	e.Upstream = upstream
	e.Downstream = downstream
	return e
}

// WithRun 设置TaskRun信息
func (e *Event) WithRun(taskRunID string, attempt int) *Event {
	e.TaskRunID = taskRunID
	e.Attempt = attempt
	return e
}

// WithError 记录错误信息
func (e *Event) WithError(err error) *Event {
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// WithMetadata 添加元数据
func (e *Event) WithMetadata(key, value string) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

package dto

import (
	"time"

	"github.com/LENAX/statflow/pkg/core/engine"
)

// APIResponse 通用API响应结构
type APIResponse[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data,omitempty"`
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse[T any](data T) APIResponse[T] {
	return APIResponse[T]{
		Code:    0,
		Message: "success",
		Data:    data,
	}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(code int, message string) APIResponse[any] {
	return APIResponse[any]{
		Code:    code,
		Message: message,
	}
}

// NewFailureResponse 创建带数据的错误响应（如Flow运行失败时附带运行详情）
func NewFailureResponse[T any](code int, message string, data T) APIResponse[T] {
	return APIResponse[T]{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// FlowSummary Flow摘要信息
type FlowSummary struct {
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	DefaultParams map[string]any `json:"default_params,omitempty"`
}

// NewFlowSummary 由Flow定义构造摘要
func NewFlowSummary(def engine.FlowDefinition) FlowSummary {
	return FlowSummary{
		Name:          def.Name,
		Description:   def.Description,
		DefaultParams: def.DefaultParams,
	}
}

// TaskSummary 一次运行中单个任务提交的结果
type TaskSummary struct {
	TaskID   string `json:"task_id"`
	State    string `json:"state"`
	Attempts int    `json:"attempts,omitempty"`
	Error    string `json:"error,omitempty"`
}

// RunResponse Flow运行结果
type RunResponse struct {
	RunID      string         `json:"run_id"`
	Flow       string         `json:"flow"`
	Status     string         `json:"status"`
	Params     map[string]any `json:"params,omitempty"`
	Result     any            `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	ErrorKind  string         `json:"error_kind,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Duration   string         `json:"duration"`
	Tasks      []TaskSummary  `json:"tasks"`
	Stages     [][]string     `json:"stages,omitempty"`
}

// ScheduleSummary 定时调度信息
type ScheduleSummary struct {
	Name    string    `json:"name"`
	Flow    string    `json:"flow"`
	Cron    string    `json:"cron"`
	NextRun time.Time `json:"next_run"`
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Uptime    string `json:"uptime"`
	Timestamp string `json:"timestamp"`
}

// ListResponse 列表响应
type ListResponse[T any] struct {
	Total   int  `json:"total"`
	Items   []T  `json:"items"`
	HasMore bool `json:"has_more"`
}

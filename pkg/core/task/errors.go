package task

import (
	"context"
	"errors"
	"fmt"

	"github.com/LENAX/statflow/pkg/core/retry"
)

// ErrorKind 错误分类（对外导出）
type ErrorKind string

const (
	KindTransient    ErrorKind = "transient"
	KindTimeout      ErrorKind = "timeout"
	KindPermanent    ErrorKind = "permanent"
	KindCache        ErrorKind = "cache"
	KindCompensation ErrorKind = "compensation"
	KindUpstream     ErrorKind = "upstream"
	KindUnknown      ErrorKind = "unknown"
)

// kinded 可分类错误，retry包通过Retryable()判断
type kinded interface {
	error
	ErrorKind() ErrorKind
	Retryable() bool
}

// TransientTaskError 可重试错误（网络抖动、超时等）
type TransientTaskError struct {
	Kind ErrorKind // KindTransient 或 KindTimeout
	Err  error
}

func (e *TransientTaskError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *TransientTaskError) Unwrap() error        { return e.Err }
func (e *TransientTaskError) ErrorKind() ErrorKind { return e.Kind }
func (e *TransientTaskError) Retryable() bool      { return true }

// PermanentTaskError 不可重试错误（输入非法、数据质量不达标等）
// 立即停止重试，在事务内触发回滚
type PermanentTaskError struct {
	Err error
}

func (e *PermanentTaskError) Error() string {
	return fmt.Sprintf("permanent: %v", e.Err)
}

func (e *PermanentTaskError) Unwrap() error        { return e.Err }
func (e *PermanentTaskError) ErrorKind() ErrorKind { return KindPermanent }
func (e *PermanentTaskError) Retryable() bool      { return false }

// Transient 包装为可重试错误
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientTaskError{Kind: KindTransient, Err: err}
}

// Transientf 构造可重试错误
func Transientf(format string, args ...any) error {
	return Transient(fmt.Errorf(format, args...))
}

// Timeout 包装为超时类可重试错误
func Timeout(err error) error {
	if err == nil {
		return nil
	}
	return &TransientTaskError{Kind: KindTimeout, Err: err}
}

// Permanent 包装为不可重试错误
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentTaskError{Err: err}
}

// Permanentf 构造不可重试错误
func Permanentf(format string, args ...any) error {
	return Permanent(fmt.Errorf(format, args...))
}

// IsTransient 判断错误链中是否存在可重试错误
func IsTransient(err error) bool {
	var te *TransientTaskError
	return errors.As(err, &te)
}

// IsPermanent 判断错误链中是否存在不可重试错误
func IsPermanent(err error) bool {
	var pe *PermanentTaskError
	return errors.As(err, &pe)
}

// KindOf 返回错误的分类，context超时视为KindTimeout
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var k kinded
	if errors.As(err, &k) {
		return k.ErrorKind()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

// RetryOnKinds 仅对指定分类的错误重试
// 例如 RetryOnKinds(KindTimeout)：超时重试，其它错误立即停止
func RetryOnKinds(kinds ...ErrorKind) retry.Predicate {
	allowed := make(map[ErrorKind]bool, len(kinds))
	for _, k := range kinds {
		allowed[k] = true
	}
	return func(err error) bool {
		return allowed[KindOf(err)]
	}
}

// CacheError 缓存读写失败，执行器本地恢复（回退到无缓存执行）
type CacheError struct {
	Op  string // get / set / decode
	Key string
	Err error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("缓存%s失败 key=%s: %v", e.Op, e.Key, e.Err)
}

func (e *CacheError) Unwrap() error        { return e.Err }
func (e *CacheError) ErrorKind() ErrorKind { return KindCache }
func (e *CacheError) Retryable() bool      { return true }

// CompensationError 补偿动作自身失败
type CompensationError struct {
	StepID string
	Err    error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("补偿步骤 %s 失败: %v", e.StepID, e.Err)
}

func (e *CompensationError) Unwrap() error        { return e.Err }
func (e *CompensationError) ErrorKind() ErrorKind { return KindCompensation }
func (e *CompensationError) Retryable() bool      { return false }

// UpstreamFailedError 上游Future失败，下游任务不执行
type UpstreamFailedError struct {
	TaskID     string
	UpstreamID string
	Err        error
}

func (e *UpstreamFailedError) Error() string {
	return fmt.Sprintf("Task %s 的上游 %s 失败: %v", e.TaskID, e.UpstreamID, e.Err)
}

func (e *UpstreamFailedError) Unwrap() error        { return e.Err }
func (e *UpstreamFailedError) ErrorKind() ErrorKind { return KindUpstream }
func (e *UpstreamFailedError) Retryable() bool      { return false }

// TaskFailure 重试耗尽后的终态失败（对外导出）
// Unwrap返回最后一次尝试的原始错误
type TaskFailure struct {
	TaskID   string
	Kind     ErrorKind
	LastErr  error
	Attempts int
}

func (e *TaskFailure) Error() string {
	return fmt.Sprintf("Task %s 失败（%s，共尝试%d次）: %v", e.TaskID, e.Kind, e.Attempts, e.LastErr)
}

func (e *TaskFailure) Unwrap() error { return e.LastErr }

// Package retry 重试策略求值器：纯函数，根据尝试次数和错误决定重试或停止
package retry

import (
	"errors"
	"fmt"
	"time"
)

// Predicate 错误分类器，返回true表示该错误可重试
type Predicate func(err error) bool

// Policy 重试策略（对外导出）
type Policy struct {
	MaxAttempts int       // 最大尝试次数（含首次），<=1表示不重试
	Schedule    Schedule  // 退避间隔
	Predicate   Predicate // 可选：自定义分类器，只能提前停止，不能扩展次数
}

// Action 决策动作
type Action int

const (
	ActionStop Action = iota
	ActionRetry
)

func (a Action) String() string {
	if a == ActionRetry {
		return "Retry"
	}
	return "Stop"
}

// Decision 求值结果
type Decision struct {
	Action Action
	Delay  time.Duration
	Reason string
}

// ShouldRetry 是否重试
func (d Decision) ShouldRetry() bool {
	return d.Action == ActionRetry
}

// Decide 根据策略、当前尝试次数（从1开始）和错误做出决策（对外导出）
// 1. 尝试次数达到MaxAttempts总是Stop
// 2. 分类器判定不可重试时Stop
// 3. 否则Retry，间隔由Schedule计算
func Decide(p Policy, attempt int, err error) Decision {
	if err == nil {
		return Decision{Action: ActionStop, Reason: "成功"}
	}
	if attempt >= p.maxAttempts() {
		return Decision{Action: ActionStop, Reason: fmt.Sprintf("已达到最大尝试次数 %d", p.maxAttempts())}
	}

	pred := p.Predicate
	if pred == nil {
		pred = RetryUnlessPermanent
	}
	if !pred(err) {
		return Decision{Action: ActionStop, Reason: "错误不可重试"}
	}

	var delay time.Duration
	if p.Schedule != nil {
		delay = p.Schedule.Delay(attempt)
	}
	if delay < 0 {
		delay = 0
	}
	return Decision{Action: ActionRetry, Delay: delay, Reason: fmt.Sprintf("第%d次尝试失败", attempt)}
}

func (p Policy) maxAttempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Retries 以"重试次数"构造策略：retries=10 表示最多尝试11次
func Retries(n int, schedule Schedule) Policy {
	if n < 0 {
		n = 0
	}
	return Policy{MaxAttempts: n + 1, Schedule: schedule}
}

// NoRetry 只尝试一次
func NoRetry() Policy {
	return Policy{MaxAttempts: 1}
}

// WithPredicate 返回替换了分类器的策略副本
func (p Policy) WithPredicate(pred Predicate) Policy {
	p.Predicate = pred
	return p
}

// retryable 可声明自身是否可重试的错误
type retryable interface {
	Retryable() bool
}

// RetryAll 任何错误都重试
func RetryAll(err error) bool {
	return err != nil
}

// RetryUnlessPermanent 默认分类器：除声明为不可重试的错误外全部重试
func RetryUnlessPermanent(err error) bool {
	if err == nil {
		return false
	}
	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}

// RetryTransient 仅重试明确声明为可重试的错误
func RetryTransient(err error) bool {
	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

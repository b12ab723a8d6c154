// Package saga 事务管理器：共享状态、补偿动作注册和反向回滚
package saga

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/LENAX/statflow/pkg/core/lineage"
	"github.com/LENAX/statflow/pkg/core/task"
)

var (
	// ErrTransactionClosed 事务已进入终态或正在回滚，不能再执行步骤
	ErrTransactionClosed = errors.New("事务已关闭")
	// ErrStepAlreadyRun 同一事务内步骤ID重复执行
	ErrStepAlreadyRun = errors.New("步骤已执行")
)

// StateReader 事务状态只读视图（补偿动作使用）
type StateReader interface {
	Get(key string) (any, bool)
	GetString(key string) string
}

// CompensatingAction 补偿动作（对外导出）
// 每次回滚最多调用一次
type CompensatingAction func(ctx context.Context, state StateReader) error

// StepFunc 事务步骤函数
type StepFunc func(ctx context.Context) error

// CheckFunc 事务后置条件
type CheckFunc func(ctx context.Context, state StateReader) error

// Outcome 回滚结果
type Outcome string

const (
	OutcomeRolledBack          Outcome = "RolledBack"
	OutcomePartiallyRolledBack Outcome = "PartiallyRolledBack"
)

// TransactionError 事务因失败而回滚（对外导出）
// Unwrap返回触发回滚的原始错误
type TransactionError struct {
	TxID          string
	Cause         error
	Outcome       Outcome
	Compensations []error // *task.CompensationError
}

func (e *TransactionError) Error() string {
	if len(e.Compensations) > 0 {
		return fmt.Sprintf("事务 %s %s（%d 个补偿失败）: %v", e.TxID, e.Outcome, len(e.Compensations), e.Cause)
	}
	return fmt.Sprintf("事务 %s %s: %v", e.TxID, e.Outcome, e.Cause)
}

func (e *TransactionError) Unwrap() error { return e.Cause }

// Transaction 事务（对外导出）
// 步骤通过stepMu串行执行；状态存储由stateMu保护
type Transaction struct {
	id        string
	name      string
	flowRunID string
	emitter   lineage.Emitter

	stepMu sync.Mutex

	stateMu sync.RWMutex
	values  map[string]any

	mu        sync.Mutex
	state     TransactionState
	steps     map[string]*TransactionStep
	completed []*TransactionStep // 按完成顺序
	result    *TransactionError
}

func newTransaction(id, name, flowRunID string, emitter lineage.Emitter) *Transaction {
	return &Transaction{
		id:        id,
		name:      name,
		flowRunID: flowRunID,
		emitter:   emitter,
		values:    make(map[string]any),
		state:     TransactionStateOpen,
		steps:     make(map[string]*TransactionStep),
	}
}

// ID 事务ID
func (t *Transaction) ID() string { return t.id }

// Name 事务名称
func (t *Transaction) Name() string { return t.name }

// State 当前状态
func (t *Transaction) State() TransactionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Set 写入共享状态
func (t *Transaction) Set(key string, value any) {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	t.values[key] = value
}

// Get 读取共享状态
func (t *Transaction) Get(key string) (any, bool) {
	t.stateMu.RLock()
	defer t.stateMu.RUnlock()
	v, ok := t.values[key]
	return v, ok
}

// GetString 读取字符串状态，不存在返回空串
func (t *Transaction) GetString(key string) string {
	v, ok := t.Get(key)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// Steps 步骤快照（按完成顺序，运行中或失败的步骤排在最后）
func (t *Transaction) Steps() []StepInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	infos := make([]StepInfo, 0, len(t.steps))
	seen := make(map[string]bool, len(t.completed))
	for _, s := range t.completed {
		infos = append(infos, StepInfo{StepID: s.StepID, Status: s.Status, Actions: len(s.Actions), CompletedAt: s.CompletedAt})
		seen[s.StepID] = true
	}
	var rest []*TransactionStep
	for _, s := range t.steps {
		if !seen[s.StepID] {
			rest = append(rest, s)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i].StartedAt.Before(rest[j].StartedAt) })
	for _, s := range rest {
		infos = append(infos, StepInfo{StepID: s.StepID, Status: s.Status, Actions: len(s.Actions), CompletedAt: s.CompletedAt})
	}
	return infos
}

// RegisterRollback 为步骤注册补偿动作（对外导出）
// 步骤尚未执行时动作处于待定状态，只有RunStep成功后才参与回滚；
// 步骤已完成时动作立即生效
func (t *Transaction) RegisterRollback(stepID string, action CompensatingAction) error {
	if action == nil {
		return fmt.Errorf("补偿动作不能为空")
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != TransactionStateOpen {
		return fmt.Errorf("注册补偿动作 %s 失败: %w", stepID, ErrTransactionClosed)
	}

	step, ok := t.steps[stepID]
	if !ok {
		step = newTransactionStep(stepID, StepStatusPending)
		t.steps[stepID] = step
	}
	step.Actions = append(step.Actions, action)
	return nil
}

// CompleteStep 记录一个在RunStep之外完成的步骤及其补偿动作（对外导出）
// 之前为该步骤注册的待定动作一并生效
func (t *Transaction) CompleteStep(stepID string, actions ...CompensatingAction) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != TransactionStateOpen {
		return fmt.Errorf("记录步骤 %s 失败: %w", stepID, ErrTransactionClosed)
	}

	step, ok := t.steps[stepID]
	switch {
	case !ok:
		step = newTransactionStep(stepID, StepStatusPending)
		t.steps[stepID] = step
	case step.Status != StepStatusPending:
		return fmt.Errorf("步骤 %s: %w", stepID, ErrStepAlreadyRun)
	}
	for _, action := range actions {
		if action != nil {
			step.Actions = append(step.Actions, action)
		}
	}
	step.Status = StepStatusSucceeded
	step.CompletedAt = time.Now()
	t.completed = append(t.completed, step)
	return nil
}

// RunStep 执行一个事务步骤（对外导出）
// 步骤失败时回滚所有已完成步骤，返回*TransactionError；
// 重复的步骤ID按步骤失败处理，原因是ErrStepAlreadyRun
func (t *Transaction) RunStep(ctx context.Context, stepID string, fn StepFunc, opts ...StepOption) error {
	t.stepMu.Lock()
	defer t.stepMu.Unlock()

	cfg := stepConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	step, err := t.beginStep(stepID)
	if errors.Is(err, ErrStepAlreadyRun) {
		log.Printf("❌ [SAGA] TransactionID=%s, 步骤 %s 重复执行", t.id, stepID)
		return t.rollbackLocked(ctx, task.Permanent(err))
	}
	if err != nil {
		return err
	}
	step.Actions = append(step.Actions, cfg.actions...)

	log.Printf("▶️ [SAGA] TransactionID=%s, 执行步骤 %s", t.id, stepID)
	if err := runProtected(ctx, fn); err != nil {
		t.finishStep(step, StepStatusFailed)
		log.Printf("❌ [SAGA] TransactionID=%s, 步骤 %s 失败: %v", t.id, stepID, err)
		return t.rollbackLocked(ctx, err)
	}

	t.finishStep(step, StepStatusSucceeded)
	return nil
}

// Validate 事务后置条件检查（对外导出）
// 检查失败时回滚所有已完成步骤
func (t *Transaction) Validate(ctx context.Context, name string, check CheckFunc) error {
	return t.RunStep(ctx, name, func(ctx context.Context) error {
		return check(ctx, t)
	})
}

// Commit 提交事务，丢弃所有补偿动作（对外导出）
func (t *Transaction) Commit(ctx context.Context) error {
	t.stepMu.Lock()
	defer t.stepMu.Unlock()

	t.mu.Lock()
	if !t.state.CanTransitionTo(TransactionStateCommitted) {
		state := t.state
		t.mu.Unlock()
		return fmt.Errorf("当前状态 %s 不能提交: %w", state, ErrTransactionClosed)
	}
	t.state = TransactionStateCommitted
	steps := len(t.completed)
	t.steps = nil
	t.completed = nil
	t.mu.Unlock()

	log.Printf("✅ [SAGA] TransactionID=%s, 事务已提交，共 %d 个步骤", t.id, steps)
	lineage.EmitSafe(ctx, t.emitter, lineage.NewEvent(lineage.EventTxCommitted, t.name, t.flowRunID).
		WithMetadata("transaction_id", t.id))
	return nil
}

// Rollback 以cause为原因回滚事务（对外导出）
// 返回包装cause的*TransactionError；事务已终态时返回ErrTransactionClosed
func (t *Transaction) Rollback(ctx context.Context, cause error) error {
	t.stepMu.Lock()
	defer t.stepMu.Unlock()
	return t.rollbackLocked(ctx, cause)
}

// Result 回滚结果，未回滚时为nil
func (t *Transaction) Result() *TransactionError {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

func (t *Transaction) beginStep(stepID string) (*TransactionStep, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != TransactionStateOpen {
		return nil, fmt.Errorf("执行步骤 %s 失败: %w", stepID, ErrTransactionClosed)
	}
	step, ok := t.steps[stepID]
	if !ok {
		step = newTransactionStep(stepID, StepStatusRunning)
		t.steps[stepID] = step
		return step, nil
	}
	if step.Status != StepStatusPending {
		return nil, fmt.Errorf("步骤 %s: %w", stepID, ErrStepAlreadyRun)
	}
	step.Status = StepStatusRunning
	step.StartedAt = time.Now()
	return step, nil
}

func (t *Transaction) finishStep(step *TransactionStep, status StepStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	step.Status = status
	step.CompletedAt = time.Now()
	if status == StepStatusSucceeded {
		t.completed = append(t.completed, step)
	}
}

// rollbackLocked 调用方必须持有stepMu
func (t *Transaction) rollbackLocked(ctx context.Context, cause error) error {
	t.mu.Lock()
	if !t.state.CanTransitionTo(TransactionStateRollingBack) {
		state := t.state
		t.mu.Unlock()
		return fmt.Errorf("当前状态 %s 不能回滚: %w", state, ErrTransactionClosed)
	}
	t.state = TransactionStateRollingBack
	completed := t.completed
	t.completed = nil
	t.mu.Unlock()

	log.Printf("🔄 [SAGA] TransactionID=%s, 开始回滚，共 %d 个已完成步骤", t.id, len(completed))

	// 已完成步骤按完成顺序逆序补偿，同一步骤内按注册顺序逆序
	// 使用不受调用方取消影响的context，补偿总能执行
	compCtx := context.WithoutCancel(ctx)
	var compErrs []error
	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]
		actions := step.Actions
		step.Actions = nil
		for j := len(actions) - 1; j >= 0; j-- {
			if err := t.compensate(compCtx, step.StepID, actions[j]); err != nil {
				compErrs = append(compErrs, err)
			}
		}
	}

	outcome := OutcomeRolledBack
	if len(compErrs) > 0 {
		outcome = OutcomePartiallyRolledBack
	}
	txErr := &TransactionError{TxID: t.id, Cause: cause, Outcome: outcome, Compensations: compErrs}

	t.mu.Lock()
	t.state = TransactionStateRolledBack
	t.result = txErr
	t.mu.Unlock()

	log.Printf("✅ [SAGA] TransactionID=%s, 回滚完成: %s", t.id, outcome)
	lineage.EmitSafe(ctx, t.emitter, lineage.NewEvent(lineage.EventTxRolledBack, t.name, t.flowRunID).
		WithError(cause).
		WithMetadata("transaction_id", t.id).
		WithMetadata("outcome", string(outcome)))
	return txErr
}

func (t *Transaction) compensate(ctx context.Context, stepID string, action CompensatingAction) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &task.CompensationError{StepID: stepID, Err: fmt.Errorf("panic: %v", r)}
		}
		if err != nil {
			log.Printf("❌ [SAGA] TransactionID=%s, 补偿步骤 %s 失败: %v", t.id, stepID, err)
		}
	}()

	log.Printf("🔄 [SAGA] TransactionID=%s, 执行补偿: Step=%s", t.id, stepID)
	if cerr := action(ctx, t); cerr != nil {
		return &task.CompensationError{StepID: stepID, Err: cerr}
	}
	return nil
}

func runProtected(ctx context.Context, fn StepFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = task.Permanentf("步骤panic: %v", r)
		}
	}()
	return fn(ctx)
}

// StepOption 步骤选项
type StepOption func(*stepConfig)

type stepConfig struct {
	actions []CompensatingAction
}

// WithRollback 步骤成功后生效的补偿动作
func WithRollback(action CompensatingAction) StepOption {
	return func(c *stepConfig) {
		if action != nil {
			c.actions = append(c.actions, action)
		}
	}
}

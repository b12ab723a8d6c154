package saga

import "time"

// TransactionState 事务状态枚举（对外导出）
type TransactionState string

const (
	// TransactionStateOpen 进行中（初始状态）
	TransactionStateOpen TransactionState = "Open"
	// TransactionStateCommitted 已提交状态（所有步骤成功）
	TransactionStateCommitted TransactionState = "Committed"
	// TransactionStateRollingBack 回滚中（正在执行补偿）
	TransactionStateRollingBack TransactionState = "RollingBack"
	// TransactionStateRolledBack 已回滚（补偿执行完毕，可能部分失败）
	TransactionStateRolledBack TransactionState = "RolledBack"
)

// IsValid 检查状态是否有效（对外导出）
func (s TransactionState) IsValid() bool {
	switch s {
	case TransactionStateOpen,
		TransactionStateCommitted,
		TransactionStateRollingBack,
		TransactionStateRolledBack:
		return true
	default:
		return false
	}
}

// IsTerminal 是否为终态
func (s TransactionState) IsTerminal() bool {
	return s == TransactionStateCommitted || s == TransactionStateRolledBack
}

// CanTransitionTo 检查是否可以转换到目标状态（对外导出）
func (s TransactionState) CanTransitionTo(target TransactionState) bool {
	switch s {
	case TransactionStateOpen:
		// Open可以转换到Committed或RollingBack
		return target == TransactionStateCommitted || target == TransactionStateRollingBack
	case TransactionStateRollingBack:
		return target == TransactionStateRolledBack
	default:
		// Committed、RolledBack是终态
		return false
	}
}

// StepStatus 步骤状态
type StepStatus string

const (
	StepStatusPending   StepStatus = "Pending" // 已注册补偿动作，尚未执行
	StepStatusRunning   StepStatus = "Running"
	StepStatusSucceeded StepStatus = "Succeeded"
	StepStatusFailed    StepStatus = "Failed"
)

// TransactionStep 事务步骤（对外导出）
// 记录步骤的补偿动作，成功完成后才参与回滚
type TransactionStep struct {
	StepID      string
	Status      StepStatus
	Actions     []CompensatingAction // 按注册顺序
	StartedAt   time.Time
	CompletedAt time.Time
}

// newTransactionStep 创建事务步骤
func newTransactionStep(stepID string, status StepStatus) *TransactionStep {
	return &TransactionStep{
		StepID:    stepID,
		Status:    status,
		StartedAt: time.Now(),
	}
}

// StepInfo 步骤快照（对外导出）
type StepInfo struct {
	StepID      string
	Status      StepStatus
	Actions     int
	CompletedAt time.Time
}

package saga

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/LENAX/statflow/pkg/core/lineage"
	"github.com/LENAX/statflow/pkg/core/task"
)

// Manager 事务管理器（对外导出）
type Manager struct {
	emitter lineage.Emitter

	mu     sync.RWMutex
	active map[string]*Transaction
}

// NewManager 创建事务管理器，emitter可为nil
func NewManager(emitter lineage.Emitter) *Manager {
	if emitter == nil {
		emitter = lineage.NopEmitter{}
	}
	return &Manager{
		emitter: emitter,
		active:  make(map[string]*Transaction),
	}
}

// BeginOption Begin选项
type BeginOption func(*beginConfig)

type beginConfig struct {
	name string
}

// WithName 事务名称，用于日志和血缘事件
func WithName(name string) BeginOption {
	return func(c *beginConfig) { c.name = name }
}

// Begin 开启事务（对外导出）
// Flow运行ID从ctx读取
func (m *Manager) Begin(ctx context.Context, opts ...BeginOption) *Transaction {
	cfg := beginConfig{name: "transaction"}
	for _, opt := range opts {
		opt(&cfg)
	}

	tx := newTransaction(uuid.NewString(), cfg.name, task.GetFlowRunID(ctx), m.emitter)

	m.mu.Lock()
	m.active[tx.id] = tx
	m.mu.Unlock()

	log.Printf("🆕 [SAGA] TransactionID=%s, Name=%s, 事务已开启", tx.id, cfg.name)
	return tx
}

// Get 按ID获取进行中的事务
func (m *Manager) Get(id string) (*Transaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.active[id]
	return tx, ok
}

// ActiveCount 进行中的事务数
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

func (m *Manager) forget(tx *Transaction) {
	m.mu.Lock()
	delete(m.active, tx.id)
	m.mu.Unlock()
}

// Run 在事务作用域内执行fn（对外导出）
// fn返回nil时提交；返回错误时回滚并返回*TransactionError，其原因是fn的错误
// fn内的步骤已触发回滚时直接返回该结果
func Run(ctx context.Context, m *Manager, fn func(ctx context.Context, tx *Transaction) error, opts ...BeginOption) (err error) {
	tx := m.Begin(ctx, opts...)
	defer m.forget(tx)

	defer func() {
		if r := recover(); r != nil {
			err = tx.Rollback(ctx, task.Permanentf("事务作用域panic: %v", r))
		}
	}()

	if ferr := fn(ctx, tx); ferr != nil {
		if res := tx.Result(); res != nil {
			// 步骤失败已回滚，保留原始回滚结果
			return res
		}
		rbErr := tx.Rollback(ctx, ferr)
		if errors.Is(rbErr, ErrTransactionClosed) {
			// 事务已被显式提交或回滚
			return ferr
		}
		return rbErr
	}

	if tx.State() == TransactionStateOpen {
		return tx.Commit(ctx)
	}
	if res := tx.Result(); res != nil {
		return res
	}
	return nil
}

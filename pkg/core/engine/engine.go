// Package engine 引擎：装配缓存、限流、血缘、执行器和事务管理器，注册并运行Flow
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/google/uuid"

	internalstorage "github.com/LENAX/statflow/internal/storage"
	"github.com/LENAX/statflow/pkg/config"
	"github.com/LENAX/statflow/pkg/core/cache"
	"github.com/LENAX/statflow/pkg/core/executor"
	"github.com/LENAX/statflow/pkg/core/flow"
	"github.com/LENAX/statflow/pkg/core/limits"
	"github.com/LENAX/statflow/pkg/core/lineage"
	"github.com/LENAX/statflow/pkg/core/retry"
	"github.com/LENAX/statflow/pkg/core/saga"
	"github.com/LENAX/statflow/pkg/core/task"
	"github.com/LENAX/statflow/pkg/storage"
)

// ErrFlowNotFound Flow未注册
var ErrFlowNotFound = errors.New("flow未注册")

// FlowFunc Flow函数（对外导出）
// 在rt.Flow上提交任务、等待Future，返回Flow结果
type FlowFunc func(ctx context.Context, rt *Runtime) (any, error)

// FlowDefinition 已注册的Flow
type FlowDefinition struct {
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	DefaultParams map[string]any `json:"default_params,omitempty"`
	fn            FlowFunc
}

// Runtime 一次Flow调用可用的资源（对外导出）
type Runtime struct {
	Flow         *flow.Flow
	Transactions *saga.Manager
	Emitter      lineage.Emitter
	DefaultRetry retry.Policy // 由 execution.retry 配置生成
}

// Params Flow参数
func (rt *Runtime) Params() map[string]any {
	return rt.Flow.Params()
}

// RunStatus Flow运行状态
type RunStatus string

const (
	RunStatusSucceeded RunStatus = "Succeeded"
	RunStatusFailed    RunStatus = "Failed"
)

// TaskSummary 一次提交的结果摘要
type TaskSummary struct {
	TaskID   string        `json:"task_id"`
	State    task.RunState `json:"state"`
	Attempts int           `json:"attempts"`
	Error    string        `json:"error,omitempty"`
}

// RunResult 一次Flow运行的结果（对外导出）
type RunResult struct {
	RunID     string         `json:"run_id"`
	Flow      string         `json:"flow"`
	Status    RunStatus      `json:"status"`
	Params    map[string]any `json:"params,omitempty"`
	Result    any            `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   time.Time      `json:"ended_at"`
	Tasks     []TaskSummary  `json:"tasks"`
	Stages    [][]string     `json:"stages,omitempty"` // 提交图分层，同层任务可并行
	Err       error          `json:"-"`
}

// Duration 运行耗时
func (r *RunResult) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// Option 引擎选项
type Option func(*engineOptions)

type engineOptions struct {
	keyStorages  map[string]cache.BlobStore
	cacheBackend cache.ResultCache
	emitters     []lineage.Emitter
}

// WithKeyStorage 注册命名持久化缓存，供 cache.Policy.KeyStorage 选择
func WithKeyStorage(name string, store cache.BlobStore) Option {
	return func(o *engineOptions) {
		if o.keyStorages == nil {
			o.keyStorages = make(map[string]cache.BlobStore)
		}
		o.keyStorages[name] = store
	}
}

// WithCacheBackend 替换默认结果缓存（忽略 storage.cache.backend 配置）
func WithCacheBackend(backend cache.ResultCache) Option {
	return func(o *engineOptions) { o.cacheBackend = backend }
}

// WithEmitter 追加血缘事件接收方
func WithEmitter(emitter lineage.Emitter) Option {
	return func(o *engineOptions) { o.emitters = append(o.emitters, emitter) }
}

// Engine 调度引擎核心结构体（对外导出）
type Engine struct {
	cfg          *config.EngineConfig
	cache        *cache.Store
	keyStorages  map[string]*cache.Store
	blobStores   []cache.BlobStore
	memory       *cache.MemoryResultCache
	repo         storage.CacheEntryRepository
	limits       *limits.Registry
	bus          *lineage.BusEmitter
	emitter      lineage.Emitter
	executor     *executor.Executor
	transactions *saga.Manager
	cron         *CronScheduler

	mu      sync.RWMutex
	flows   map[string]*FlowDefinition
	running bool
}

// NewEngine 创建Engine实例（对外导出的工厂方法）
// cfg为nil时使用默认配置（内存缓存）
func NewEngine(ctx context.Context, cfg *config.EngineConfig, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := config.ValidateFrameworkConfig(cfg); err != nil {
		return nil, fmt.Errorf("配置校验失败: %w", err)
	}
	o := &engineOptions{}
	for _, opt := range opts {
		opt(o)
	}
	s := &cfg.Statflow

	e := &Engine{
		cfg:         cfg,
		keyStorages: make(map[string]*cache.Store),
		flows:       make(map[string]*FlowDefinition),
	}

	// 结果缓存
	if s.Storage.Cache.Enabled {
		backend, err := e.buildCacheBackend(ctx, o.cacheBackend)
		if err != nil {
			return nil, err
		}
		e.cache = cache.NewStore(backend)
	}
	for name, blob := range o.keyStorages {
		e.keyStorages[name] = cache.NewStore(cache.NewPersistentResultCache(blob))
		e.blobStores = append(e.blobStores, blob)
	}

	// 命名并发/速率限制
	e.limits = limits.NewRegistry()
	for name, capacity := range s.Execution.ConcurrencyLimits {
		if err := e.limits.SetConcurrency(name, capacity); err != nil {
			e.closeStorage()
			return nil, err
		}
	}
	for name, rl := range s.Execution.RateLimits {
		if err := e.limits.SetRateLimit(name, rl.PerSecond, rl.Burst); err != nil {
			e.closeStorage()
			return nil, err
		}
	}

	// 血缘事件
	emitters := append([]lineage.Emitter(nil), o.emitters...)
	if s.Lineage.Enabled {
		debugLog := s.General.LogLevel == "debug"
		e.bus = lineage.NewBusEmitter(s.Lineage.Topic, s.Lineage.Buffer, watermill.NewStdLogger(debugLog, false))
		emitters = append(emitters, e.bus)
		if debugLog {
			emitters = append(emitters, lineage.LogEmitter{})
		}
	}
	e.emitter = lineage.Multi(emitters...)

	e.executor = executor.New(executor.Options{
		Cache:          e.cache,
		KeyStorages:    e.keyStorages,
		Limits:         e.limits,
		Emitter:        e.emitter,
		DefaultTimeout: cfg.GetDefaultTaskTimeout(),
		DefaultTTL:     s.Storage.Cache.DefaultTTL,
	})
	e.transactions = saga.NewManager(e.emitter)
	e.cron = NewCronScheduler(e)

	log.Printf("✅ [Engine] 已创建: Instance=%s, Cache=%s, Workers=%d",
		s.General.InstanceName, e.cacheDescription(), cfg.GetWorkerConcurrency())
	return e, nil
}

// buildCacheBackend 按配置构造内存或两级缓存（内部方法）
func (e *Engine) buildCacheBackend(ctx context.Context, override cache.ResultCache) (cache.ResultCache, error) {
	if override != nil {
		return override, nil
	}
	c := &e.cfg.Statflow.Storage.Cache
	e.memory = cache.NewMemoryResultCache(cache.WithCleanInterval(c.CleanInterval))
	if c.Backend == "memory" {
		return e.memory, nil
	}

	repo, err := internalstorage.NewCacheEntryRepo(ctx, c.Backend, c.DSN, internalstorage.ConnectOptions{
		MaxRetries: uint64(c.Connect.MaxRetries),
		MaxElapsed: c.Connect.MaxElapsed,
	})
	if err != nil {
		e.memory.Close()
		return nil, fmt.Errorf("初始化持久化缓存失败: %w", err)
	}
	e.repo = repo
	return cache.NewTieredResultCache(e.memory, cache.NewPersistentResultCache(repo)), nil
}

func (e *Engine) cacheDescription() string {
	switch {
	case e.cache == nil:
		return "disabled"
	case e.repo != nil:
		return "memory+" + e.cfg.GetCacheBackend()
	case e.memory != nil:
		return "memory"
	default:
		return "custom"
	}
}

// Config 引擎配置
func (e *Engine) Config() *config.EngineConfig { return e.cfg }

// Executor 任务执行器
func (e *Engine) Executor() *executor.Executor { return e.executor }

// Transactions 事务管理器
func (e *Engine) Transactions() *saga.Manager { return e.transactions }

// Limits 命名并发/速率限制
func (e *Engine) Limits() *limits.Registry { return e.limits }

// Emitter 血缘事件发送方
func (e *Engine) Emitter() lineage.Emitter { return e.emitter }

// Cron 定时调度器
func (e *Engine) Cron() *CronScheduler { return e.cron }

// DefaultRetryPolicy 由 execution.retry 配置生成的重试策略
func (e *Engine) DefaultRetryPolicy() retry.Policy {
	r := e.cfg.Statflow.Execution.Retry
	return retry.Policy{
		MaxAttempts: r.MaxAttempts,
		Schedule:    retry.Exponential{Base: r.Delay, Factor: r.Factor, Max: r.MaxDelay},
	}
}

// RegisterFlow 注册Flow（对外导出）
func (e *Engine) RegisterFlow(name string, fn FlowFunc, description string, defaultParams map[string]any) error {
	if name == "" {
		return fmt.Errorf("Flow名称不能为空")
	}
	if fn == nil {
		return fmt.Errorf("Flow %s 未设置函数", name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.flows[name]; exists {
		return fmt.Errorf("Flow %s 已注册", name)
	}
	e.flows[name] = &FlowDefinition{
		Name:          name,
		Description:   description,
		DefaultParams: defaultParams,
		fn:            fn,
	}
	log.Printf("✅ [Engine] 已注册Flow: %s", name)
	return nil
}

// Flows 已注册的Flow（按名称排序）
func (e *Engine) Flows() []FlowDefinition {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]FlowDefinition, 0, len(e.flows))
	for _, def := range e.flows {
		out = append(out, *def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GetFlow 查询Flow定义
func (e *Engine) GetFlow(name string) (FlowDefinition, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	def, ok := e.flows[name]
	if !ok {
		return FlowDefinition{}, false
	}
	return *def, true
}

// RunFlow 同步运行一次Flow（对外导出）
// 返回的error是Flow函数返回的原始错误，RunResult在任何情况下都不为nil（Flow未注册或参数占位符无法解析除外）
func (e *Engine) RunFlow(ctx context.Context, name string, params map[string]any) (*RunResult, error) {
	e.mu.RLock()
	def, ok := e.flows[name]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFlowNotFound, name)
	}

	merged := make(map[string]any, len(def.DefaultParams)+len(params))
	for k, v := range def.DefaultParams {
		merged[k] = v
	}
	for k, v := range params {
		merged[k] = v
	}
	merged, err := ResolveParams(merged, time.Now())
	if err != nil {
		return nil, fmt.Errorf("Flow %s 参数非法: %w", name, err)
	}

	runID := uuid.NewString()
	f := flow.New(ctx, flow.Options{
		Name:     name,
		RunID:    runID,
		Params:   merged,
		Workers:  e.cfg.GetWorkerConcurrency(),
		Executor: e.executor,
	})
	defer f.Cancel()

	rt := &Runtime{
		Flow:         f,
		Transactions: e.transactions,
		Emitter:      e.emitter,
		DefaultRetry: e.DefaultRetryPolicy(),
	}

	result := &RunResult{
		RunID:     runID,
		Flow:      name,
		Params:    merged,
		StartedAt: time.Now(),
	}
	log.Printf("🚀 [Engine] Flow开始: Name=%s, RunID=%s", name, runID)
	lineage.EmitSafe(ctx, e.emitter, lineage.NewEvent(lineage.EventFlowStarted, name, runID))

	value, err := callFlow(f.Context(), def.fn, rt)

	// 等待在途任务结束后再汇总
	f.Wait()

	result.EndedAt = time.Now()
	result.Tasks = summarize(f)
	if stages, lerr := f.Graph().Levels(); lerr == nil {
		result.Stages = stages
	} else {
		log.Printf("⚠️ [Engine] 提交图分层失败: RunID=%s, Error=%v", runID, lerr)
	}
	if err != nil {
		result.Status = RunStatusFailed
		result.Error = err.Error()
		result.Err = err
		log.Printf("❌ [Engine] Flow失败: Name=%s, RunID=%s, 耗时=%s, Error=%v", name, runID, result.Duration(), err)
		lineage.EmitSafe(ctx, e.emitter, lineage.NewEvent(lineage.EventFlowFailed, name, runID).WithError(err))
		return result, err
	}

	result.Status = RunStatusSucceeded
	result.Result = value
	log.Printf("✅ [Engine] Flow完成: Name=%s, RunID=%s, 耗时=%s", name, runID, result.Duration())
	lineage.EmitSafe(ctx, e.emitter, lineage.NewEvent(lineage.EventFlowCompleted, name, runID))
	return result, nil
}

// callFlow 调用Flow函数，panic转为不可重试错误（内部方法）
func callFlow(ctx context.Context, fn FlowFunc, rt *Runtime) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ [Engine] Flow panic: %v\n%s", r, debug.Stack())
			err = task.Permanentf("flow panic: %v", r)
		}
	}()
	return fn(ctx, rt)
}

func summarize(f *flow.Flow) []TaskSummary {
	futs := f.Futures()
	out := make([]TaskSummary, 0, len(futs))
	for _, fut := range futs {
		s := TaskSummary{State: fut.State()}
		if t := fut.Task(); t != nil {
			s.TaskID = t.ID
		}
		if res := fut.Result(); res != nil {
			s.Attempts = res.Attempts
		}
		if err := fut.Err(); err != nil {
			s.Error = err.Error()
			var tf *task.TaskFailure
			if errors.As(err, &tf) {
				s.Attempts = tf.Attempts
			}
		}
		out = append(out, s)
	}
	return out
}

// ClearCache 清空默认缓存和所有命名持久化缓存（对外导出）
func (e *Engine) ClearCache(ctx context.Context) error {
	var errs []error
	if e.cache != nil {
		if err := e.cache.Clear(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for name, store := range e.keyStorages {
		if err := store.Clear(ctx); err != nil {
			errs = append(errs, fmt.Errorf("清空缓存 %s 失败: %w", name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	log.Println("🧹 [Engine] 缓存已清空")
	return nil
}

// Subscribe 订阅血缘事件（需启用 lineage）
func (e *Engine) Subscribe(ctx context.Context) (<-chan *lineage.Event, error) {
	if e.bus == nil {
		return nil, fmt.Errorf("血缘事件未启用")
	}
	return e.bus.Subscribe(ctx)
}

// Start 按 schedules 配置注册定时任务并启动定时调度器（对外导出）
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = true
	e.mu.Unlock()

	for _, sch := range e.cfg.Statflow.Schedules {
		if err := e.cron.RegisterSchedule(sch); err != nil {
			return err
		}
	}
	e.cron.Start()
	log.Println("✅ [Engine] 引擎已启动")
	return nil
}

// Stop 停止定时调度器并释放资源（对外导出）
func (e *Engine) Stop() {
	e.mu.Lock()
	wasRunning := e.running
	e.running = false
	e.mu.Unlock()

	if wasRunning {
		e.cron.Stop()
	}
	if e.bus != nil {
		if err := e.bus.Close(); err != nil {
			log.Printf("⚠️ [Engine] 关闭事件总线失败: %v", err)
		}
	}
	e.closeStorage()
	log.Println("✅ [Engine] 引擎已停止")
}

func (e *Engine) closeStorage() {
	if e.memory != nil {
		e.memory.Close()
	}
	if e.repo != nil {
		if err := e.repo.Close(); err != nil {
			log.Printf("⚠️ [Engine] 关闭持久化缓存失败: %v", err)
		}
	}
}

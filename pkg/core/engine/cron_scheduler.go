package engine

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/LENAX/statflow/pkg/config"
)

var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ScheduleInfo 已注册定时任务的信息
type ScheduleInfo struct {
	Name    string    `json:"name"`
	Flow    string    `json:"flow"`
	Cron    string    `json:"cron"`
	NextRun time.Time `json:"next_run"`
}

// CronScheduler 定时调度器（对外导出）
// 按Cron表达式触发已注册的Flow，同一定时任务上一次未结束时跳过本次触发
type CronScheduler struct {
	cron      *cron.Cron
	engine    *Engine
	schedules map[string]config.ScheduleConfig // name -> 配置
	entries   map[string]cron.EntryID          // name -> cron.EntryID
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewCronScheduler 创建定时调度器（对外导出）
func NewCronScheduler(eng *Engine) *CronScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &CronScheduler{
		cron: cron.New(
			cron.WithParser(cronParser), // 支持秒级精度
			cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
		),
		engine:    eng,
		schedules: make(map[string]config.ScheduleConfig),
		entries:   make(map[string]cron.EntryID),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// RegisterSchedule 注册定时任务（对外导出）
func (cs *CronScheduler) RegisterSchedule(sch config.ScheduleConfig) error {
	if sch.Name == "" {
		return fmt.Errorf("定时任务名称不能为空")
	}
	if _, ok := cs.engine.GetFlow(sch.Flow); !ok {
		return fmt.Errorf("定时任务 %s 引用的Flow %s 未注册", sch.Name, sch.Flow)
	}
	if _, err := cronParser.Parse(sch.Cron); err != nil {
		return fmt.Errorf("定时任务 %s 的Cron表达式无效: %w", sch.Name, err)
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	if _, exists := cs.entries[sch.Name]; exists {
		return fmt.Errorf("定时任务 %s 已注册", sch.Name)
	}

	entryID, err := cs.cron.AddFunc(sch.Cron, func() {
		cs.triggerFlow(sch)
	})
	if err != nil {
		return fmt.Errorf("添加Cron任务失败: %w", err)
	}
	cs.schedules[sch.Name] = sch
	cs.entries[sch.Name] = entryID

	log.Printf("✅ [Cron调度器] 已注册定时任务: Name=%s, Flow=%s, CronExpr=%s", sch.Name, sch.Flow, sch.Cron)
	return nil
}

// UnregisterSchedule 取消注册定时任务（对外导出）
func (cs *CronScheduler) UnregisterSchedule(name string) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	entryID, exists := cs.entries[name]
	if !exists {
		return fmt.Errorf("定时任务 %s 未注册", name)
	}
	cs.cron.Remove(entryID)
	delete(cs.schedules, name)
	delete(cs.entries, name)

	log.Printf("✅ [Cron调度器] 已取消注册定时任务: Name=%s", name)
	return nil
}

// triggerFlow 触发Flow执行（内部方法）
func (cs *CronScheduler) triggerFlow(sch config.ScheduleConfig) {
	log.Printf("🕐 [Cron调度器] 触发Flow执行: Schedule=%s, Flow=%s", sch.Name, sch.Flow)

	res, err := cs.engine.RunFlow(cs.ctx, sch.Flow, sch.Params)
	if err != nil {
		runID := ""
		if res != nil {
			runID = res.RunID
		}
		log.Printf("❌ [Cron调度器] Flow执行失败: Schedule=%s, RunID=%s, Error=%v", sch.Name, runID, err)
		return
	}
	log.Printf("✅ [Cron调度器] Flow执行完成: Schedule=%s, RunID=%s", sch.Name, res.RunID)
}

// Start 启动定时调度器（对外导出）
func (cs *CronScheduler) Start() {
	cs.cron.Start()
	log.Println("✅ [Cron调度器] 已启动")
}

// Stop 停止定时调度器，取消在途Flow并等待其结束（对外导出）
func (cs *CronScheduler) Stop() {
	cs.cancel()
	<-cs.cron.Stop().Done()
	log.Println("✅ [Cron调度器] 已停止")
}

// Schedules 获取已注册的定时任务（按名称排序）
func (cs *CronScheduler) Schedules() []ScheduleInfo {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	out := make([]ScheduleInfo, 0, len(cs.schedules))
	for name, sch := range cs.schedules {
		info := ScheduleInfo{Name: name, Flow: sch.Flow, Cron: sch.Cron}
		if entry := cs.cron.Entry(cs.entries[name]); entry.Valid() {
			info.NextRun = entry.Next
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

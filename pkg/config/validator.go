package config

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateFrameworkConfig 校验框架配置合法性
func ValidateFrameworkConfig(cfg *EngineConfig) error {
	if cfg == nil {
		return fmt.Errorf("配置不能为空")
	}
	s := &cfg.Statflow

	// 校验General
	if s.General.InstanceName == "" {
		return fmt.Errorf("instance_name不能为空")
	}
	if s.General.LogLevel != "" {
		validLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if !validLevels[s.General.LogLevel] {
			return fmt.Errorf("log_level必须是debug/info/warn/error之一")
		}
	}

	// 校验Storage.Cache
	validBackends := map[string]bool{
		"memory":     true,
		"sqlite":     true,
		"postgres":   true,
		"postgresql": true,
		"mysql":      true,
	}
	if !validBackends[s.Storage.Cache.Backend] {
		return fmt.Errorf("cache.backend必须是memory/sqlite/postgres/mysql之一")
	}
	if s.Storage.Cache.Backend != "memory" && s.Storage.Cache.DSN == "" {
		return fmt.Errorf("cache.backend为%s时dsn不能为空", s.Storage.Cache.Backend)
	}
	if s.Storage.Cache.DefaultTTL < 0 {
		return fmt.Errorf("cache.default_ttl不能为负数")
	}

	// 校验Execution
	if s.Execution.WorkerConcurrency <= 0 {
		return fmt.Errorf("execution.worker_concurrency必须大于0")
	}
	if s.Execution.DefaultTaskTimeout <= 0 {
		return fmt.Errorf("execution.default_task_timeout必须大于0")
	}

	// 校验Retry
	if s.Execution.Retry.MaxAttempts < 1 {
		return fmt.Errorf("execution.retry.max_attempts必须大于0")
	}
	if s.Execution.Retry.Delay < 0 {
		return fmt.Errorf("execution.retry.delay不能为负数")
	}
	if s.Execution.Retry.MaxDelay < 0 {
		return fmt.Errorf("execution.retry.max_delay不能为负数")
	}
	if s.Execution.Retry.MaxDelay > 0 && s.Execution.Retry.Delay > s.Execution.Retry.MaxDelay {
		return fmt.Errorf("execution.retry.delay不能大于max_delay")
	}

	// 校验限流
	for name, n := range s.Execution.ConcurrencyLimits {
		if n <= 0 {
			return fmt.Errorf("concurrency_limits.%s必须大于0", name)
		}
	}
	for name, rl := range s.Execution.RateLimits {
		if rl.PerSecond <= 0 {
			return fmt.Errorf("rate_limits.%s.per_second必须大于0", name)
		}
		if rl.Burst < 0 {
			return fmt.Errorf("rate_limits.%s.burst不能为负数", name)
		}
	}

	// 校验Pipeline
	if s.Pipeline.MinGames < 0 {
		return fmt.Errorf("pipeline.min_games不能为负数")
	}
	if s.Pipeline.WarehouseDSN != "" && !validBackends[s.Pipeline.WarehouseDriver] {
		return fmt.Errorf("pipeline.warehouse_driver必须是sqlite/postgres/mysql之一")
	}

	// 校验Schedules
	seen := make(map[string]bool, len(s.Schedules))
	for i, sch := range s.Schedules {
		if sch.Name == "" {
			return fmt.Errorf("schedules[%d].name不能为空", i)
		}
		if seen[sch.Name] {
			return fmt.Errorf("schedules.%s重复", sch.Name)
		}
		seen[sch.Name] = true
		if sch.Flow == "" {
			return fmt.Errorf("schedules.%s.flow不能为空", sch.Name)
		}
		if _, err := cronParser.Parse(sch.Cron); err != nil {
			return fmt.Errorf("schedules.%s.cron非法: %w", sch.Name, err)
		}
	}

	// 校验API
	if s.API.Port <= 0 || s.API.Port > 65535 {
		return fmt.Errorf("api.port必须在1-65535之间")
	}

	return nil
}

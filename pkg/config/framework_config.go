package config

import (
	"time"
)

// ScheduleConfig 定时触发Flow的配置
type ScheduleConfig struct {
	Name   string         `yaml:"name"`
	Flow   string         `yaml:"flow"`
	Cron   string         `yaml:"cron"`
	Params map[string]any `yaml:"params"`
}

// RateLimitConfig 命名速率限制
type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// EngineConfig 引擎框架配置（对外导出）
type EngineConfig struct {
	Statflow struct {
		General struct {
			InstanceName string `yaml:"instance_name"`
			LogLevel     string `yaml:"log_level"`
			Env          string `yaml:"env"`
		} `yaml:"general"`
		Storage struct {
			Cache struct {
				Enabled       bool          `yaml:"enabled"`
				Backend       string        `yaml:"backend"` // memory / sqlite / mysql / postgres
				DSN           string        `yaml:"dsn"`
				DefaultTTL    time.Duration `yaml:"default_ttl"`
				CleanInterval time.Duration `yaml:"clean_interval"`
				Connect       struct {
					MaxRetries int           `yaml:"max_retries"`
					MaxElapsed time.Duration `yaml:"max_elapsed"`
				} `yaml:"connect"`
			} `yaml:"cache"`
		} `yaml:"storage"`
		Execution struct {
			DefaultTaskTimeout time.Duration `yaml:"default_task_timeout"`
			WorkerConcurrency  int           `yaml:"worker_concurrency"`
			Retry              struct {
				MaxAttempts int           `yaml:"max_attempts"`
				Delay       time.Duration `yaml:"delay"`
				Factor      float64       `yaml:"factor"`
				MaxDelay    time.Duration `yaml:"max_delay"`
			} `yaml:"retry"`
			ConcurrencyLimits map[string]int64           `yaml:"concurrency_limits"`
			RateLimits        map[string]RateLimitConfig `yaml:"rate_limits"`
		} `yaml:"execution"`
		Lineage struct {
			Enabled bool   `yaml:"enabled"`
			Topic   string `yaml:"topic"`
			Buffer  int64  `yaml:"buffer"`
		} `yaml:"lineage"`
		Pipeline struct {
			StatsBaseURL    string        `yaml:"stats_base_url"`
			StatsTimeout    time.Duration `yaml:"stats_timeout"`
			ElevationURL    string        `yaml:"elevation_base_url"`
			RawDir          string        `yaml:"raw_dir"`
			AnalysisDir     string        `yaml:"analysis_dir"`
			BucketDir       string        `yaml:"bucket_dir"`
			WarehouseDriver string        `yaml:"warehouse_driver"`
			WarehouseDSN    string        `yaml:"warehouse_dsn"`
			MinGames        int           `yaml:"min_games"`
		} `yaml:"pipeline"`
		Schedules []ScheduleConfig `yaml:"schedules"`
		API       struct {
			Host         string        `yaml:"host"`
			Port         int           `yaml:"port"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
		} `yaml:"api"`
	} `yaml:"statflow"`
}

// GetCacheBackend 获取缓存后端类型
func (c *EngineConfig) GetCacheBackend() string {
	return c.Statflow.Storage.Cache.Backend
}

// GetCacheDSN 获取持久化缓存DSN
func (c *EngineConfig) GetCacheDSN() string {
	return c.Statflow.Storage.Cache.DSN
}

// GetWorkerConcurrency 获取Worker并发数
func (c *EngineConfig) GetWorkerConcurrency() int {
	concurrency := c.Statflow.Execution.WorkerConcurrency
	if concurrency <= 0 {
		return 10 // 默认值
	}
	return concurrency
}

// GetDefaultTaskTimeout 获取默认任务超时时间
func (c *EngineConfig) GetDefaultTaskTimeout() time.Duration {
	timeout := c.Statflow.Execution.DefaultTaskTimeout
	if timeout <= 0 {
		return 30 * time.Minute // 默认值
	}
	return timeout
}

// ApplyDefaults 应用默认值
func (c *EngineConfig) ApplyDefaults() {
	s := &c.Statflow

	// General默认值
	if s.General.InstanceName == "" {
		s.General.InstanceName = "statflow"
	}
	if s.General.LogLevel == "" {
		s.General.LogLevel = "info"
	}
	if s.General.Env == "" {
		s.General.Env = "dev"
	}

	// Cache默认值
	if s.Storage.Cache.Backend == "" {
		s.Storage.Cache.Backend = "memory"
	}
	if s.Storage.Cache.CleanInterval <= 0 {
		s.Storage.Cache.CleanInterval = 30 * time.Minute
	}
	if s.Storage.Cache.Connect.MaxRetries <= 0 {
		s.Storage.Cache.Connect.MaxRetries = 5
	}
	if s.Storage.Cache.Connect.MaxElapsed <= 0 {
		s.Storage.Cache.Connect.MaxElapsed = 30 * time.Second
	}

	// Execution默认值
	if s.Execution.DefaultTaskTimeout <= 0 {
		s.Execution.DefaultTaskTimeout = 30 * time.Minute
	}
	if s.Execution.WorkerConcurrency <= 0 {
		s.Execution.WorkerConcurrency = 10
	}

	// Retry默认值
	if s.Execution.Retry.MaxAttempts <= 0 {
		s.Execution.Retry.MaxAttempts = 1
	}
	if s.Execution.Retry.Delay <= 0 {
		s.Execution.Retry.Delay = 1 * time.Second
	}
	if s.Execution.Retry.Factor <= 0 {
		s.Execution.Retry.Factor = 2
	}

	// Lineage默认值
	if s.Lineage.Topic == "" {
		s.Lineage.Topic = "statflow.lineage"
	}
	if s.Lineage.Buffer <= 0 {
		s.Lineage.Buffer = 256
	}

	// Pipeline默认值
	if s.Pipeline.StatsBaseURL == "" {
		s.Pipeline.StatsBaseURL = "https://statsapi.mlb.com"
	}
	if s.Pipeline.StatsTimeout <= 0 {
		s.Pipeline.StatsTimeout = 30 * time.Second
	}
	if s.Pipeline.ElevationURL == "" {
		s.Pipeline.ElevationURL = "https://api.open-meteo.com"
	}
	if s.Pipeline.RawDir == "" {
		s.Pipeline.RawDir = "./data/raw"
	}
	if s.Pipeline.AnalysisDir == "" {
		s.Pipeline.AnalysisDir = "./data/analysis"
	}
	if s.Pipeline.BucketDir == "" {
		s.Pipeline.BucketDir = "./data/bucket"
	}
	if s.Pipeline.WarehouseDriver == "" {
		s.Pipeline.WarehouseDriver = "sqlite"
	}
	if s.Pipeline.WarehouseDSN == "" {
		s.Pipeline.WarehouseDSN = "./data/warehouse.db"
	}
	if s.Pipeline.MinGames <= 0 {
		s.Pipeline.MinGames = 5
	}

	// API默认值
	if s.API.Host == "" {
		s.API.Host = "0.0.0.0"
	}
	if s.API.Port <= 0 {
		s.API.Port = 8080
	}
	if s.API.ReadTimeout <= 0 {
		s.API.ReadTimeout = 30 * time.Second
	}
	if s.API.WriteTimeout <= 0 {
		s.API.WriteTimeout = 10 * time.Minute
	}
}

// Default 返回已应用默认值的配置（内存缓存，无持久化）
func Default() *EngineConfig {
	cfg := &EngineConfig{}
	cfg.Statflow.Storage.Cache.Enabled = true
	cfg.Statflow.Lineage.Enabled = true
	cfg.ApplyDefaults()
	return cfg
}

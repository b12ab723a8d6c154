package mlb

import (
	"fmt"
	"log"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	internalstorage "github.com/LENAX/statflow/internal/storage"
	"github.com/LENAX/statflow/pkg/config"
	"github.com/LENAX/statflow/pkg/core/engine"
	"github.com/LENAX/statflow/pkg/core/lineage"
	"github.com/LENAX/statflow/pkg/core/retry"
	"github.com/LENAX/statflow/pkg/core/task"
)

// 已注册的Flow名称
const (
	FlowRetry     = "retry"
	FlowRollback  = "rollback"
	FlowCached    = "cached"
	FlowRawData   = "raw-data"
	FlowElevation = "elevation"
	FlowGameStats = "game-stats"
)

const (
	// RawDataKeyStorage 原始数据任务的持久化缓存名称
	RawDataKeyStorage = "mlb-raw-data"
	// LimitStatsAPI 比赛数据API的命名并发/速率限制
	LimitStatsAPI = "mlb-api"
	// LimitElevationAPI 海拔API的命名并发/速率限制
	LimitElevationAPI = "open-meteo"
)

// Pipeline 比赛数据流水线的依赖（对外导出）
type Pipeline struct {
	Client      StatsClient
	Elevation   ElevationClient
	Raw         RawWriter
	Bucket      ObjectStore
	Warehouse   Warehouse // 为nil时跳过数仓写入（raw-data、elevation流程除外）
	RawDir      string
	AnalysisDir string
	MinGames    int
	Now         func() time.Time

	// ScheduleRetry retry流程中赛程任务的重试间隔
	ScheduleRetry retry.Schedule
	// FetchRetry raw-data流程中比分/场馆任务的重试间隔
	FetchRetry retry.Schedule

	emitter lineage.Emitter
	closers []func() error
}

// NewPipeline 按配置创建流水线：HTTP客户端、本地文件、本地桶和SQL数仓
func NewPipeline(cfg *config.EngineConfig) (*Pipeline, error) {
	pc := cfg.Statflow.Pipeline
	p := &Pipeline{
		Client:        NewHTTPStatsClient(pc.StatsBaseURL, pc.StatsTimeout),
		Elevation:     NewHTTPElevationClient(pc.ElevationURL, pc.StatsTimeout),
		Raw:           NewFileRawWriter(),
		Bucket:        NewLocalBucket(pc.BucketDir),
		RawDir:        pc.RawDir,
		AnalysisDir:   pc.AnalysisDir,
		MinGames:      pc.MinGames,
		Now:           time.Now,
		ScheduleRetry: retry.Constant{Interval: 2 * time.Second},
		FetchRetry:    retry.ExponentialBackoff(10),
	}

	if pc.WarehouseDSN != "" {
		dialect, err := internalstorage.DialectFor(pc.WarehouseDriver)
		if err != nil {
			return nil, fmt.Errorf("数仓驱动无效: %w", err)
		}
		wh, err := OpenSQLWarehouse(dialect, pc.WarehouseDSN)
		if err != nil {
			return nil, fmt.Errorf("打开数仓失败: %w", err)
		}
		p.Warehouse = wh
		p.closers = append(p.closers, wh.Close)
	}
	return p, nil
}

// Close 释放数仓连接
func (p *Pipeline) Close() error {
	var firstErr error
	for _, c := range p.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.closers = nil
	return firstErr
}

// Register 向引擎注册全部Flow（对外导出）
func (p *Pipeline) Register(e *engine.Engine) error {
	p.emitter = e.Emitter()
	flows := []struct {
		name, desc string
		fn         engine.FlowFunc
		defaults   map[string]any
	}{
		{FlowRetry, "赛程任务超时重试，汇总比分并生成报告", p.retryFlow,
			map[string]any{"team": "143", "start_date": "06/01/2024", "end_date": "06/30/2024"}},
		{FlowRollback, "原始数据写入与质量检查在事务中执行，失败时回滚", p.rollbackFlow,
			map[string]any{"team": "143", "start_date": "06/01/2024", "end_date": "06/30/2024"}},
		{FlowCached, "按输入/Flow参数/源码缓存各任务结果", p.cachedFlow,
			map[string]any{"team": "marlins", "start_date": "06/01/2024", "end_date": "06/30/2024"}},
		{FlowRawData, "并发拉取比分与场馆并写入数仓", p.rawDataFlow,
			map[string]any{"team_ids": "143,121", "start_date": "06/01/2024", "end_date": "06/30/2024"}},
		{FlowElevation, "查询数仓中各场馆坐标的海拔并写入elevation_data", p.elevationFlow, nil},
		{FlowGameStats, "单场比赛的打击与投球数据导出为CSV", p.gameStatsFlow,
			map[string]any{"game_id": 744798}},
	}
	for _, f := range flows {
		if err := e.RegisterFlow(f.name, f.fn, f.desc, f.defaults); err != nil {
			return err
		}
	}
	log.Printf("✅ [MLB] 已注册 %d 个Flow", len(flows))
	return nil
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *Pipeline) minGames() int {
	if p.MinGames <= 0 {
		return 5
	}
	return p.MinGames
}

// artifactPath {dir}/{YYYY-MM-DD}-{team}-{run}-{suffix}
func (p *Pipeline) artifactPath(dir, team, runID, suffix string) string {
	run := runID
	if len(run) > 8 {
		run = run[:8]
	}
	name := fmt.Sprintf("%s-%s-%s-%s", p.now().Format("2006-01-02"), slug(team), run, suffix)
	return filepath.Join(dir, name)
}

func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == ' ' || r == '/':
			return '-'
		default:
			return -1
		}
	}, s)
}

// searchParams 从Flow参数读取 team / start_date / end_date
func searchParams(params map[string]any) (SearchParams, error) {
	sp := SearchParams{
		StartDate: paramString(params, "start_date"),
		EndDate:   paramString(params, "end_date"),
	}
	team := paramString(params, "team")
	if team == "" {
		team = paramString(params, "team_id")
	}
	if team == "" {
		team = paramString(params, "team_name")
	}
	if team == "" || sp.StartDate == "" || sp.EndDate == "" {
		return sp, task.Permanentf("缺少参数：需要 team、start_date、end_date")
	}
	if id, err := strconv.Atoi(team); err == nil {
		sp.TeamID = id
	} else {
		sp.TeamName = team
	}
	return sp, nil
}

func paramString(params map[string]any, key string) string {
	v, ok := params[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// parseTeamIDs 支持 []int、[]any（JSON）、逗号分隔字符串和单个数字
func parseTeamIDs(v any) ([]int, error) {
	var ids []int
	add := func(x any) error {
		switch t := x.(type) {
		case int:
			ids = append(ids, t)
		case int64:
			ids = append(ids, int(t))
		case float64:
			ids = append(ids, int(t))
		case string:
			for _, part := range strings.Split(t, ",") {
				part = strings.TrimSpace(part)
				if part == "" {
					continue
				}
				id, err := strconv.Atoi(part)
				if err != nil {
					return fmt.Errorf("球队ID %q 不是整数", part)
				}
				ids = append(ids, id)
			}
		default:
			return fmt.Errorf("不支持的球队ID类型 %T", x)
		}
		return nil
	}

	switch t := v.(type) {
	case nil:
	case []int:
		ids = append(ids, t...)
	case []any:
		for _, x := range t {
			if err := add(x); err != nil {
				return nil, task.Permanent(err)
			}
		}
	default:
		if err := add(t); err != nil {
			return nil, task.Permanent(err)
		}
	}
	if len(ids) == 0 {
		return nil, task.Permanentf("缺少参数 team_ids")
	}
	return ids, nil
}

// RunOutput 分析类Flow的结果
type RunOutput struct {
	Games        int          `json:"games"`
	RawFile      string       `json:"raw_file,omitempty"`
	ObjectKey    string       `json:"object_key,omitempty"`
	AnalysisFile string       `json:"analysis_file"`
	ReportFile   string       `json:"report_file"`
	Analysis     GameAnalysis `json:"analysis"`
}

// ElevationOutput elevation流程的结果
type ElevationOutput struct {
	Locations int `json:"locations"`
	Inserted  int `json:"inserted"`
}

// GameStatsOutput game-stats流程的结果
type GameStatsOutput struct {
	GameID          int    `json:"game_id"`
	BattingFile     string `json:"batting_file"`
	PitchingFile    string `json:"pitching_file"`
	BattingRecords  int    `json:"batting_records"`
	PitchingRecords int    `json:"pitching_records"`
}

// RawDataOutput raw-data流程的结果
type RawDataOutput struct {
	GameIDs   []int `json:"game_ids"`
	Scores    int   `json:"scores"`
	Locations int   `json:"locations"`
}

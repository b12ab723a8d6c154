package mlb

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"

	"github.com/LENAX/statflow/pkg/core/lineage"
	"github.com/LENAX/statflow/pkg/core/task"
)

// 任务构造函数：各Flow以不同的重试/缓存选项复用同一任务体

// getRecentGamesTask team为球队ID或名称；名称先经LookupTeam解析
func (p *Pipeline) getRecentGamesTask(opts ...task.Option) *task.Task {
	opts = append([]task.Option{
		task.WithDescription("查询球队在日期区间内的比赛ID"),
		task.WithInputs("team", "start_date", "end_date"),
		task.WithLineage(resources(MLBAPISchedule), nil),
		task.WithConcurrency(LimitStatsAPI, 1),
	}, opts...)
	return task.New("get-recent-games", func(ctx context.Context, in task.Inputs) ([]int, error) {
		teamID, err := p.resolveTeam(ctx, in.GetString("team"))
		if err != nil {
			return nil, err
		}
		ids, err := p.Client.Schedule(ctx, teamID, in.GetString("start_date"), in.GetString("end_date"))
		if err != nil {
			return nil, err
		}
		log.Printf("📅 [MLB] 球队 %d 共 %d 场比赛", teamID, len(ids))
		return ids, nil
	}, opts...)
}

func (p *Pipeline) resolveTeam(ctx context.Context, team string) (int, error) {
	if id, err := strconv.Atoi(team); err == nil {
		return id, nil
	}
	teams, err := p.Client.LookupTeam(ctx, team)
	if err != nil {
		return 0, err
	}
	if len(teams) == 0 {
		return 0, task.Permanentf("未找到球队: %s", team)
	}
	return teams[0].ID, nil
}

// fetchBoxscoreTask 单场比赛的比分数据，附带查询参数
func (p *Pipeline) fetchBoxscoreTask(opts ...task.Option) *task.Task {
	opts = append([]task.Option{
		task.WithDescription("获取单场比赛比分"),
		task.WithInputs("game_id", "start_date", "end_date", "team"),
		task.WithLineage(resources(MLBAPIScore), nil),
		task.WithConcurrency(LimitStatsAPI, 1),
		task.WithRateLimit(LimitStatsAPI),
	}, opts...)
	return task.New("fetch-single-game-boxscore", func(ctx context.Context, in task.Inputs) (GameData, error) {
		gameID, err := in.GetInt("game_id")
		if err != nil {
			return GameData{}, task.Permanent(err)
		}
		b, err := p.Client.Boxscore(ctx, gameID)
		if err != nil {
			return GameData{}, err
		}
		return NewGameData(b, SearchParams{
			TeamName:  in.GetString("team"),
			StartDate: in.GetString("start_date"),
			EndDate:   in.GetString("end_date"),
		}), nil
	}, opts...)
}

// cleanGameTask 内存中清洗单场比赛的时长
func (p *Pipeline) cleanGameTask(opts ...task.Option) *task.Task {
	return task.New("clean-time-value", func(_ context.Context, in task.Inputs) (GameData, error) {
		g, err := task.Value[GameData](in, "game_data")
		if err != nil {
			return GameData{}, err
		}
		minutes, err := CleanTimeValue(g.GameTime)
		if err != nil {
			return GameData{}, err
		}
		g.GameTimeInMinutes = minutes
		return g, nil
	}, append([]task.Option{task.WithInputs("game_data")}, opts...)...)
}

// saveRawDataTask 写入原始数据文件，返回文件路径
func (p *Pipeline) saveRawDataTask(opts ...task.Option) *task.Task {
	opts = append([]task.Option{
		task.WithDescription("保存原始比赛数据"),
		task.WithInputs("game_data", "file_name"),
		task.WithLineage(nil, resources(RawDataFile)),
	}, opts...)
	return task.New("save-raw-data-to-file", func(ctx context.Context, in task.Inputs) (string, error) {
		games, err := task.Value[[]GameData](in, "game_data")
		if err != nil {
			return "", err
		}
		path := in.GetString("file_name")
		if err := p.Raw.WriteJSON(ctx, path, games); err != nil {
			return "", err
		}
		log.Printf("💾 [MLB] 原始数据已保存: %s（%d 场）", path, len(games))
		return path, nil
	}, opts...)
}

// cleanFileTask 读取文件、清洗时长并写回，返回文件路径
func (p *Pipeline) cleanFileTask(opts ...task.Option) *task.Task {
	return task.New("clean-time-value-file", func(ctx context.Context, in task.Inputs) (string, error) {
		path := in.GetString("data_file_path")
		games, err := p.Raw.ReadGames(ctx, path)
		if err != nil {
			return "", err
		}
		cleaned, err := CleanGames(games)
		if err != nil {
			return "", err
		}
		if err := p.Raw.WriteJSON(ctx, path, cleaned); err != nil {
			return "", err
		}
		return path, nil
	}, append([]task.Option{task.WithInputs("data_file_path")}, opts...)...)
}

// analyzeGamesTask 汇总内存中的比赛数据
func (p *Pipeline) analyzeGamesTask(opts ...task.Option) *task.Task {
	return task.New("analyze-games", func(_ context.Context, in task.Inputs) (GameAnalysis, error) {
		games, err := task.Value[[]GameData](in, "game_data")
		if err != nil {
			return GameAnalysis{}, err
		}
		return Analyze(games)
	}, append([]task.Option{task.WithInputs("game_data")}, opts...)...)
}

// analyzeFileTask 汇总清洗后的数据文件
func (p *Pipeline) analyzeFileTask(opts ...task.Option) *task.Task {
	return task.New("analyze-games-file", func(ctx context.Context, in task.Inputs) (GameAnalysis, error) {
		games, err := p.Raw.ReadGames(ctx, in.GetString("data_file_path"))
		if err != nil {
			return GameAnalysis{}, err
		}
		return Analyze(games)
	}, append([]task.Option{task.WithInputs("data_file_path")}, opts...)...)
}

// saveAnalysisTask 以JSON保存分析结果，返回文件路径
func (p *Pipeline) saveAnalysisTask(opts ...task.Option) *task.Task {
	return task.New("save-analysis-to-file", func(ctx context.Context, in task.Inputs) (string, error) {
		a, err := task.Value[GameAnalysis](in, "game_analysis")
		if err != nil {
			return "", err
		}
		path := in.GetString("file_name")
		if err := p.Raw.WriteJSON(ctx, path, a); err != nil {
			return "", err
		}
		return path, nil
	}, append([]task.Option{task.WithInputs("game_analysis", "file_name")}, opts...)...)
}

// reportTask 生成Markdown报告；比赛数据来自 game_data 输入或 data_file_path 文件
func (p *Pipeline) reportTask(opts ...task.Option) *task.Task {
	return task.New("game-analysis-report", func(ctx context.Context, in task.Inputs) (string, error) {
		a, err := task.Value[GameAnalysis](in, "game_analysis")
		if err != nil {
			return "", err
		}
		var games []GameData
		if in.Has("game_data") {
			if games, err = task.Value[[]GameData](in, "game_data"); err != nil {
				return "", err
			}
		} else if games, err = p.Raw.ReadGames(ctx, in.GetString("data_file_path")); err != nil {
			return "", err
		}
		path := in.GetString("report_path")
		if err := p.Raw.WriteText(ctx, path, RenderReport(a, games)); err != nil {
			return "", err
		}
		log.Printf("📝 [MLB] 报告已生成: %s", path)
		return path, nil
	}, append([]task.Option{task.WithInputs("game_analysis", "report_path")}, opts...)...)
}

// uploadTask 上传本地文件到对象存储，返回对象键
func (p *Pipeline) uploadTask(opts ...task.Option) *task.Task {
	opts = append([]task.Option{
		task.WithInputs("file_path"),
		task.WithLineage(resources(RawDataFile), resources(RawDataBucket)),
	}, opts...)
	return task.New("upload-raw-data", func(ctx context.Context, in task.Inputs) (string, error) {
		return p.Bucket.Upload(ctx, in.GetString("file_path"))
	}, opts...)
}

// downloadTask 下载对象到本地，返回本地路径
func (p *Pipeline) downloadTask(opts ...task.Option) *task.Task {
	opts = append([]task.Option{
		task.WithInputs("object_key", "file_path"),
		task.WithLineage(resources(RawDataBucket), nil),
	}, opts...)
	return task.New("download-raw-data", func(ctx context.Context, in task.Inputs) (string, error) {
		return p.Bucket.Download(ctx, in.GetString("object_key"), in.GetString("file_path"))
	}, opts...)
}

// loadAnalysisTask 分析结果写入数仓
func (p *Pipeline) loadAnalysisTask(opts ...task.Option) *task.Task {
	opts = append([]task.Option{
		task.WithInputs("game_analysis"),
		task.WithLineage(nil, resources(WarehouseAnalysis)),
	}, opts...)
	return task.New("load-analysis-to-warehouse", func(ctx context.Context, in task.Inputs) (bool, error) {
		a, err := task.Value[GameAnalysis](in, "game_analysis")
		if err != nil {
			return false, err
		}
		if err := p.requireWarehouse(); err != nil {
			return false, err
		}
		if err := p.Warehouse.CreateTables(ctx); err != nil {
			return false, err
		}
		if err := p.Warehouse.LoadAnalysis(ctx, a); err != nil {
			return false, err
		}
		return true, nil
	}, opts...)
}

func (p *Pipeline) requireWarehouse() error {
	if p.Warehouse == nil {
		return task.Permanentf("未配置数仓")
	}
	return nil
}

// retrieveGameIDsTask 多支球队的比赛ID，去重后升序
func (p *Pipeline) retrieveGameIDsTask(opts ...task.Option) *task.Task {
	opts = append([]task.Option{
		task.WithInputs("team_ids", "start_date", "end_date"),
		task.WithLineage(resources(MLBAPISchedule), nil),
	}, opts...)
	return task.New("retrieve-recent-game-ids", func(ctx context.Context, in task.Inputs) ([]int, error) {
		teamIDs, err := task.Value[[]int](in, "team_ids")
		if err != nil {
			return nil, err
		}
		seen := make(map[int]bool)
		var out []int
		for _, teamID := range teamIDs {
			ids, err := p.Client.Schedule(ctx, teamID, in.GetString("start_date"), in.GetString("end_date"))
			if err != nil {
				return nil, fmt.Errorf("查询球队 %d 赛程失败: %w", teamID, err)
			}
			lineage.EmitSafe(ctx, p.emitter, lineage.NewEvent(lineage.EventResource,
				fmt.Sprintf("Get Recent Games; Team ID: %d Date Range: %s %s", teamID, in.GetString("start_date"), in.GetString("end_date")),
				task.GetFlowRunID(ctx)).WithResources(resources(MLBAPISchedule), nil))
			for _, id := range ids {
				if !seen[id] {
					seen[id] = true
					out = append(out, id)
				}
			}
			log.Printf("📅 [MLB] 球队 %d 共 %d 场比赛", teamID, len(ids))
		}
		sort.Ints(out)
		return out, nil
	}, opts...)
}

// fetchGameScoreTask 数仓用的比分行
func (p *Pipeline) fetchGameScoreTask(opts ...task.Option) *task.Task {
	opts = append([]task.Option{
		task.WithInputs("game_id"),
		task.WithLineage(resources(MLBAPIScore), nil),
		task.WithConcurrency(LimitStatsAPI, 1),
		task.WithRateLimit(LimitStatsAPI),
	}, opts...)
	return task.New("fetch-game-score-data", func(ctx context.Context, in task.Inputs) (GameScore, error) {
		gameID, err := in.GetInt("game_id")
		if err != nil {
			return GameScore{}, task.Permanent(err)
		}
		b, err := p.Client.Boxscore(ctx, gameID)
		if err != nil {
			return GameScore{}, err
		}
		return NewGameScore(b), nil
	}, opts...)
}

// fetchGameLocationTask 数仓用的场馆行
func (p *Pipeline) fetchGameLocationTask(opts ...task.Option) *task.Task {
	opts = append([]task.Option{
		task.WithInputs("game_id"),
		task.WithLineage(resources(MLBAPILocation), nil),
		task.WithConcurrency(LimitStatsAPI, 1),
		task.WithRateLimit(LimitStatsAPI),
	}, opts...)
	return task.New("fetch-game-location-data", func(ctx context.Context, in task.Inputs) (GameLocation, error) {
		gameID, err := in.GetInt("game_id")
		if err != nil {
			return GameLocation{}, task.Permanent(err)
		}
		loc, err := p.Client.GameLocation(ctx, gameID)
		if err != nil {
			return GameLocation{}, err
		}
		return *loc, nil
	}, opts...)
}

// insertGameScoresTask 比分批量写入数仓
func (p *Pipeline) insertGameScoresTask(opts ...task.Option) *task.Task {
	opts = append([]task.Option{
		task.WithInputs("scores"),
		task.WithDependsOn(createTablesTaskID),
		task.WithLineage(nil, resources(WarehouseGameScores)),
	}, opts...)
	return task.New("insert-game-scores", func(ctx context.Context, in task.Inputs) (int, error) {
		scores, err := task.Value[[]GameScore](in, "scores")
		if err != nil {
			return 0, err
		}
		if err := p.requireWarehouse(); err != nil {
			return 0, err
		}
		return p.Warehouse.InsertGameScores(ctx, scores)
	}, opts...)
}

// insertGameLocationsTask 场馆批量写入数仓
func (p *Pipeline) insertGameLocationsTask(opts ...task.Option) *task.Task {
	opts = append([]task.Option{
		task.WithInputs("locations"),
		task.WithDependsOn(createTablesTaskID),
		task.WithLineage(nil, resources(WarehouseGameLocations)),
	}, opts...)
	return task.New("insert-game-locations", func(ctx context.Context, in task.Inputs) (int, error) {
		locations, err := task.Value[[]GameLocation](in, "locations")
		if err != nil {
			return 0, err
		}
		if err := p.requireWarehouse(); err != nil {
			return 0, err
		}
		return p.Warehouse.InsertGameLocations(ctx, locations)
	}, opts...)
}

const createTablesTaskID = "create-warehouse-tables"

// createTablesTask 数仓建表
func (p *Pipeline) createTablesTask() *task.Task {
	return task.New(createTablesTaskID, func(ctx context.Context, _ task.Inputs) (bool, error) {
		if err := p.requireWarehouse(); err != nil {
			return false, err
		}
		return true, p.Warehouse.CreateTables(ctx)
	})
}

// fetchUniqueLocationsTask 数仓中去重后的场馆坐标
func (p *Pipeline) fetchUniqueLocationsTask(opts ...task.Option) *task.Task {
	opts = append([]task.Option{
		task.WithDependsOn(createTablesTaskID),
		task.WithLineage(resources(WarehouseGameLocations), nil),
	}, opts...)
	return task.New("fetch-unique-city-locations", func(ctx context.Context, _ task.Inputs) ([]VenueLocation, error) {
		if err := p.requireWarehouse(); err != nil {
			return nil, err
		}
		locations, err := p.Warehouse.DistinctVenueLocations(ctx)
		if err != nil {
			return nil, err
		}
		lineage.EmitSafe(ctx, p.emitter, lineage.NewEvent(lineage.EventResource,
			fmt.Sprintf("Get Game Locations; N Rows: %d", len(locations)),
			task.GetFlowRunID(ctx)).WithResources(resources(WarehouseGameLocations), nil))
		return locations, nil
	}, opts...)
}

// fetchElevationTask 单个坐标的海拔（米）
func (p *Pipeline) fetchElevationTask(opts ...task.Option) *task.Task {
	opts = append([]task.Option{
		task.WithInputs("latitude", "longitude"),
		task.WithLineage(resources(OpenMeteoElevationAPI), nil),
		task.WithConcurrency(LimitElevationAPI, 1),
		task.WithRateLimit(LimitElevationAPI),
	}, opts...)
	return task.New("fetch-elevation-for-coordinates", func(ctx context.Context, in task.Inputs) (float64, error) {
		if p.Elevation == nil {
			return 0, task.Permanentf("未配置海拔API")
		}
		lat, err := in.GetFloat("latitude")
		if err != nil {
			return 0, task.Permanent(err)
		}
		lon, err := in.GetFloat("longitude")
		if err != nil {
			return 0, task.Permanent(err)
		}
		elevation, err := p.Elevation.Elevation(ctx, lat, lon)
		if err != nil {
			return 0, err
		}
		lineage.EmitSafe(ctx, p.emitter, lineage.NewEvent(lineage.EventResource,
			fmt.Sprintf("Fetch Elevation Data for Coordinates; Latitude: %v, Longitude: %v", lat, lon),
			task.GetFlowRunID(ctx)).WithResources(resources(OpenMeteoElevationAPI), nil))
		return elevation, nil
	}, opts...)
}

// insertElevationTask 坐标与海拔按顺序配对后写入数仓
func (p *Pipeline) insertElevationTask(opts ...task.Option) *task.Task {
	opts = append([]task.Option{
		task.WithInputs("locations", "elevations"),
		task.WithDependsOn(createTablesTaskID),
		task.WithLineage(nil, resources(WarehouseElevationData)),
	}, opts...)
	return task.New("create-and-insert-elevation-data", func(ctx context.Context, in task.Inputs) (int, error) {
		locations, err := task.Value[[]VenueLocation](in, "locations")
		if err != nil {
			return 0, err
		}
		elevations, err := task.Value[[]float64](in, "elevations")
		if err != nil {
			return 0, err
		}
		if len(locations) != len(elevations) {
			return 0, task.Permanentf("坐标 %d 个，海拔 %d 个，数量不一致", len(locations), len(elevations))
		}
		if err := p.requireWarehouse(); err != nil {
			return 0, err
		}
		rows := make([]ElevationRecord, len(locations))
		for i, loc := range locations {
			rows[i] = ElevationRecord{City: loc.City, Latitude: loc.Latitude, Longitude: loc.Longitude, Elevation: elevations[i]}
		}
		n, err := p.Warehouse.InsertElevations(ctx, rows)
		if err != nil {
			return 0, err
		}
		lineage.EmitSafe(ctx, p.emitter, lineage.NewEvent(lineage.EventResource,
			fmt.Sprintf("Upload Elevation Data; N Rows: %d", n),
			task.GetFlowRunID(ctx)).WithResources(nil, resources(WarehouseElevationData)))
		log.Printf("⛰️ [MLB] 已写入 %d 个场馆海拔", n)
		return n, nil
	}, opts...)
}

// playerBoxscoreTask 单场比赛的球员数据
func (p *Pipeline) playerBoxscoreTask(opts ...task.Option) *task.Task {
	opts = append([]task.Option{
		task.WithInputs("game_id"),
		task.WithLineage(resources(MLBAPIScore), nil),
		task.WithConcurrency(LimitStatsAPI, 1),
		task.WithRateLimit(LimitStatsAPI),
	}, opts...)
	return task.New("process-single-game-boxscore", func(ctx context.Context, in task.Inputs) (*PlayerBoxscore, error) {
		gameID, err := in.GetInt("game_id")
		if err != nil {
			return nil, task.Permanent(err)
		}
		return p.Client.PlayerBoxscore(ctx, gameID)
	}, opts...)
}

// battingStatsTask 一支球队的打击记录
func (p *Pipeline) battingStatsTask(opts ...task.Option) *task.Task {
	return task.New("process-batting-stats", func(_ context.Context, in task.Inputs) ([]BattingRecord, error) {
		b, err := task.Value[*PlayerBoxscore](in, "boxscore")
		if err != nil {
			return nil, err
		}
		return BattingStats(b, in.GetString("team_type"))
	}, append([]task.Option{task.WithInputs("boxscore", "game_id", "team_type")}, opts...)...)
}

// pitchingStatsTask 一支球队的投球记录
func (p *Pipeline) pitchingStatsTask(opts ...task.Option) *task.Task {
	return task.New("process-pitching-stats", func(_ context.Context, in task.Inputs) ([]PitchingRecord, error) {
		b, err := task.Value[*PlayerBoxscore](in, "boxscore")
		if err != nil {
			return nil, err
		}
		return PitchingStats(b, in.GetString("team_type"))
	}, append([]task.Option{task.WithInputs("boxscore", "game_id", "team_type")}, opts...)...)
}

// writeStatsCSVTask 记录写入CSV，返回文件路径
func (p *Pipeline) writeStatsCSVTask(name string, header []string) *task.Task {
	return task.New(name, func(ctx context.Context, in task.Inputs) (string, error) {
		rows, err := task.Value[[][]string](in, "rows")
		if err != nil {
			return "", err
		}
		path := in.GetString("file_name")
		if err := p.Raw.WriteCSV(ctx, path, header, rows); err != nil {
			return "", err
		}
		log.Printf("📄 [MLB] 已写入 %d 行: %s", len(rows), path)
		return path, nil
	}, task.WithInputs("rows", "file_name"), task.WithLineage(nil, resources(GameStatsFile)))
}

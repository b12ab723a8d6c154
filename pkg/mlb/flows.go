package mlb

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strconv"
	"time"

	"github.com/LENAX/statflow/pkg/core/cache"
	"github.com/LENAX/statflow/pkg/core/engine"
	"github.com/LENAX/statflow/pkg/core/flow"
	"github.com/LENAX/statflow/pkg/core/retry"
	"github.com/LENAX/statflow/pkg/core/saga"
	"github.com/LENAX/statflow/pkg/core/task"
)

// EngineOptions 流水线需要的引擎选项（原始数据持久化缓存）
func (p *Pipeline) EngineOptions() []engine.Option {
	if b, ok := p.Bucket.(*LocalBucket); ok {
		return []engine.Option{engine.WithKeyStorage(RawDataKeyStorage, b.KeyStorage("cache/"+RawDataKeyStorage))}
	}
	return nil
}

func runAs[T any](ctx context.Context, f *flow.Flow, t *task.Task, in task.Inputs, opts ...flow.SubmitOption) (T, error) {
	return flow.AwaitAs[T](ctx, f.Submit(t, in, opts...))
}

func searchInputs(sp SearchParams) []task.Input {
	return []task.Input{
		task.In("team", sp.Label()),
		task.In("start_date", sp.StartDate),
		task.In("end_date", sp.EndDate),
	}
}

// fetchGames 每场比赛一次提交，结果与比赛ID顺序一致
func (p *Pipeline) fetchGames(ctx context.Context, f *flow.Flow, t *task.Task, gameIDs []int, sp SearchParams) ([]GameData, error) {
	inputs := make([]task.Inputs, len(gameIDs))
	for i, id := range gameIDs {
		inputs[i] = task.NewInputs(append([]task.Input{task.In("game_id", id)}, searchInputs(sp)...)...)
	}
	return flow.AwaitAllAs[GameData](ctx, f.Map(t, inputs))
}

// retryFlow 赛程任务仅在超时时重试（最多10次），其余失败立即终止
func (p *Pipeline) retryFlow(ctx context.Context, rt *engine.Runtime) (any, error) {
	sp, err := searchParams(rt.Params())
	if err != nil {
		return nil, err
	}
	f := rt.Flow

	schedule := p.getRecentGamesTask(task.WithRetry(
		retry.Retries(10, p.ScheduleRetry).WithPredicate(task.RetryOnKinds(task.KindTimeout)),
	))
	gameIDs, err := runAs[[]int](ctx, f, schedule, task.NewInputs(searchInputs(sp)...))
	if err != nil {
		return nil, err
	}

	games, err := p.fetchGames(ctx, f, p.fetchBoxscoreTask(task.WithRetry(rt.DefaultRetry)), gameIDs, sp)
	if err != nil {
		return nil, err
	}

	cleanInputs := make([]task.Inputs, len(games))
	for i, g := range games {
		cleanInputs[i] = task.NewInputs(task.In("game_data", g))
	}
	cleaned, err := flow.AwaitAllAs[GameData](ctx, f.Map(p.cleanGameTask(), cleanInputs))
	if err != nil {
		return nil, err
	}

	out := RunOutput{Games: len(cleaned)}
	rawFut := f.Submit(p.saveRawDataTask(), task.NewInputs(
		task.In("game_data", cleaned),
		task.In("file_name", p.artifactPath(p.RawDir, sp.Label(), f.ID(), "boxscore.json")),
	))
	if out.Analysis, err = runAs[GameAnalysis](ctx, f, p.analyzeGamesTask(), task.NewInputs(task.In("game_data", cleaned))); err != nil {
		return nil, err
	}
	if out.RawFile, err = flow.AwaitAs[string](ctx, rawFut); err != nil {
		return nil, err
	}
	return p.finish(ctx, f, out, task.In("game_data", cleaned), sp, nil, nil)
}

// finish 保存分析结果、生成报告
func (p *Pipeline) finish(ctx context.Context, f *flow.Flow, out RunOutput, games task.Input, sp SearchParams, saveOpts, reportOpts []task.Option) (any, error) {
	var err error
	analysisFut := f.Submit(p.saveAnalysisTask(saveOpts...), task.NewInputs(
		task.In("game_analysis", out.Analysis),
		task.In("file_name", p.artifactPath(p.AnalysisDir, sp.Label(), f.ID(), "game-analysis.json")),
	))
	reportFut := f.Submit(p.reportTask(reportOpts...), task.NewInputs(
		task.In("game_analysis", out.Analysis),
		games,
		task.In("report_path", p.artifactPath(p.AnalysisDir, sp.Label(), f.ID(), "game-analysis.md")),
	))
	if out.AnalysisFile, err = flow.AwaitAs[string](ctx, analysisFut); err != nil {
		return nil, err
	}
	if out.ReportFile, err = flow.AwaitAs[string](ctx, reportFut); err != nil {
		return nil, err
	}
	return out, nil
}

// rollbackFlow 写入原始数据、质量检查、上传、取回工作副本在同一事务中；任一步失败时删除已写入的文件和对象
func (p *Pipeline) rollbackFlow(ctx context.Context, rt *engine.Runtime) (any, error) {
	sp, err := searchParams(rt.Params())
	if err != nil {
		return nil, err
	}
	f := rt.Flow

	gameIDs, err := runAs[[]int](ctx, f, p.getRecentGamesTask(task.WithRetry(rt.DefaultRetry)), task.NewInputs(searchInputs(sp)...))
	if err != nil {
		return nil, err
	}
	games, err := p.fetchGames(ctx, f, p.fetchBoxscoreTask(task.WithRetry(rt.DefaultRetry)), gameIDs, sp)
	if err != nil {
		return nil, err
	}

	out := RunOutput{Games: len(games), RawFile: p.artifactPath(p.RawDir, sp.Label(), f.ID(), "boxscore.json")}
	workPath := p.artifactPath(p.AnalysisDir, sp.Label(), f.ID(), "boxscore-clean.json")
	err = saga.Run(ctx, rt.Transactions, func(ctx context.Context, tx *saga.Transaction) error {
		tx.Set("filepath", out.RawFile)

		if _, err := flow.RunInTransactionAs[string](ctx, f, tx, p.saveRawDataTask(), task.NewInputs(
			task.In("game_data", games),
			task.In("file_name", out.RawFile),
		), saga.WithRollback(func(ctx context.Context, state saga.StateReader) error {
			return p.Raw.Remove(ctx, state.GetString("filepath"))
		})); err != nil {
			return err
		}

		if err := tx.Validate(ctx, "quality-test", func(ctx context.Context, state saga.StateReader) error {
			return QualityCheck(ctx, p.Raw, state.GetString("filepath"), p.minGames())
		}); err != nil {
			return err
		}

		key, err := flow.RunInTransactionAs[string](ctx, f, tx, p.uploadTask(task.WithRetry(rt.DefaultRetry)),
			task.NewInputs(task.In("file_path", out.RawFile)),
			saga.WithRollback(func(ctx context.Context, state saga.StateReader) error {
				if k := state.GetString("object_key"); k != "" {
					return p.Bucket.Delete(ctx, k)
				}
				return nil
			}))
		if err != nil {
			return err
		}
		out.ObjectKey = key
		tx.Set("object_key", key)

		// 以对象存储中的副本为分析输入；取回失败时上传的对象随事务删除
		_, err = flow.RunInTransactionAs[string](ctx, f, tx, p.downloadTask(task.WithRetry(rt.DefaultRetry)), task.NewInputs(
			task.In("object_key", key),
			task.In("file_path", workPath),
		))
		return err
	}, saga.WithName("mlb-raw-data"))
	if err != nil {
		return nil, err
	}

	if workPath, err = runAs[string](ctx, f, p.cleanFileTask(), task.NewInputs(task.In("data_file_path", workPath))); err != nil {
		return nil, err
	}
	if out.Analysis, err = runAs[GameAnalysis](ctx, f, p.analyzeFileTask(), task.NewInputs(task.In("data_file_path", workPath))); err != nil {
		return nil, err
	}

	if p.Warehouse != nil {
		if _, err := runAs[bool](ctx, f, p.loadAnalysisTask(task.WithRetry(rt.DefaultRetry)), task.NewInputs(task.In("game_analysis", out.Analysis))); err != nil {
			return nil, err
		}
	}
	return p.finish(ctx, f, out, task.In("data_file_path", workPath), sp, nil, nil)
}

// cachedFlow 各任务使用不同的缓存策略
func (p *Pipeline) cachedFlow(ctx context.Context, rt *engine.Runtime) (any, error) {
	sp, err := searchParams(rt.Params())
	if err != nil {
		return nil, err
	}
	f := rt.Flow

	schedule := p.getRecentGamesTask(task.WithCache(cache.ByInputs().WithTTL(24 * time.Hour)))
	gameIDs, err := runAs[[]int](ctx, f, schedule, task.NewInputs(searchInputs(sp)...))
	if err != nil {
		return nil, err
	}

	boxscore := p.fetchBoxscoreTask(task.WithCache(cache.ByInputsAndFlowParameters().WithTTL(3 * time.Hour)))
	games, err := p.fetchGames(ctx, f, boxscore, gameIDs, sp)
	if err != nil {
		return nil, err
	}

	out := RunOutput{Games: len(games)}
	saveRaw := p.saveRawDataTask(task.WithCache(cache.ByInputs().Without("game_data").WithKeyStorage(RawDataKeyStorage)))
	if out.RawFile, err = runAs[string](ctx, f, saveRaw, task.NewInputs(
		task.In("game_data", games),
		task.In("file_name", p.artifactPath(p.RawDir, sp.Label(), f.ID(), "boxscore.json")),
	)); err != nil {
		return nil, err
	}

	cleanPath, err := runAs[string](ctx, f, p.cleanFileTask(task.WithCache(cache.NoCache())), task.NewInputs(task.In("data_file_path", out.RawFile)))
	if err != nil {
		return nil, err
	}

	analyze := p.analyzeFileTask(
		task.WithSource("analyze-games-file/v1"),
		task.WithCache(cache.BySourceAndInputs().WithTTL(7*24*time.Hour)),
	)
	if out.Analysis, err = runAs[GameAnalysis](ctx, f, analyze, task.NewInputs(task.In("data_file_path", cleanPath))); err != nil {
		return nil, err
	}

	return p.finish(ctx, f, out, task.In("data_file_path", cleanPath), sp,
		[]task.Option{task.WithCache(cache.ByInputs().Without("file_name"))},
		[]task.Option{task.WithCache(cache.ByInputs())},
	)
}

// rawDataFlow 多支球队的比分与场馆并发拉取后写入数仓
func (p *Pipeline) rawDataFlow(ctx context.Context, rt *engine.Runtime) (any, error) {
	params := rt.Params()
	teamIDs, err := parseTeamIDs(params["team_ids"])
	if err != nil {
		return nil, err
	}
	start, end := paramString(params, "start_date"), paramString(params, "end_date")
	if start == "" || end == "" {
		return nil, task.Permanentf("缺少参数：需要 start_date、end_date")
	}
	if err := p.requireWarehouse(); err != nil {
		return nil, err
	}
	f := rt.Flow

	tables := f.Submit(p.createTablesTask(), nil)
	gameIDs, err := runAs[[]int](ctx, f, p.retrieveGameIDsTask(task.WithRetry(rt.DefaultRetry)), task.NewInputs(
		task.In("team_ids", teamIDs),
		task.In("start_date", start),
		task.In("end_date", end),
	))
	if err != nil {
		return nil, err
	}

	fetchRetry := task.WithRetry(retry.Retries(5, p.FetchRetry))
	inputs := make([]task.Inputs, len(gameIDs))
	for i, id := range gameIDs {
		inputs[i] = task.NewInputs(task.In("game_id", id))
	}
	scoreFuts := f.Map(p.fetchGameScoreTask(fetchRetry), inputs)
	locationFuts := f.Map(p.fetchGameLocationTask(fetchRetry), inputs)

	scores, err := flow.AwaitAllAs[GameScore](ctx, scoreFuts)
	if err != nil {
		return nil, err
	}
	locations, err := flow.AwaitAllAs[GameLocation](ctx, locationFuts)
	if err != nil {
		return nil, err
	}

	out := RawDataOutput{GameIDs: gameIDs}
	scoresFut := f.Submit(p.insertGameScoresTask(task.WithRetry(rt.DefaultRetry)),
		task.NewInputs(task.In("scores", scores)), flow.WaitFor(tables))
	locationsFut := f.Submit(p.insertGameLocationsTask(task.WithRetry(rt.DefaultRetry)),
		task.NewInputs(task.In("locations", locations)), flow.WaitFor(tables))
	if out.Scores, err = flow.AwaitAs[int](ctx, scoresFut); err != nil {
		return nil, err
	}
	if out.Locations, err = flow.AwaitAs[int](ctx, locationsFut); err != nil {
		return nil, err
	}
	return out, nil
}

// elevationFlow 数仓中的场馆坐标逐个查询海拔，写入elevation_data
func (p *Pipeline) elevationFlow(ctx context.Context, rt *engine.Runtime) (any, error) {
	if err := p.requireWarehouse(); err != nil {
		return nil, err
	}
	f := rt.Flow

	tables := f.Submit(p.createTablesTask(), nil)
	locations, err := runAs[[]VenueLocation](ctx, f, p.fetchUniqueLocationsTask(task.WithRetry(rt.DefaultRetry)), nil, flow.WaitFor(tables))
	if err != nil {
		return nil, err
	}

	// 场馆海拔不会变化，按坐标长期缓存
	fetch := p.fetchElevationTask(
		task.WithRetry(retry.Retries(5, p.FetchRetry)),
		task.WithCache(cache.ByInputs().WithTTL(30*24*time.Hour)),
	)
	inputs := make([]task.Inputs, len(locations))
	for i, loc := range locations {
		inputs[i] = task.NewInputs(task.In("latitude", loc.Latitude), task.In("longitude", loc.Longitude))
	}
	elevations, err := flow.AwaitAllAs[float64](ctx, f.Map(fetch, inputs))
	if err != nil {
		return nil, err
	}

	out := ElevationOutput{Locations: len(locations)}
	if out.Inserted, err = runAs[int](ctx, f, p.insertElevationTask(task.WithRetry(rt.DefaultRetry)), task.NewInputs(
		task.In("locations", locations),
		task.In("elevations", elevations),
	), flow.WaitFor(tables)); err != nil {
		return nil, err
	}
	return out, nil
}

// gameStatsFlow 单场比赛按主客队拆分打击/投球记录，分别写入CSV
// 比赛进行中数据持续变化，缓存只保留几十秒
func (p *Pipeline) gameStatsFlow(ctx context.Context, rt *engine.Runtime) (any, error) {
	gameID, err := strconv.Atoi(paramString(rt.Params(), "game_id"))
	if err != nil {
		return nil, task.Permanentf("参数 game_id 必须是整数: %w", err)
	}
	f := rt.Flow

	fetch := p.playerBoxscoreTask(
		task.WithRetry(rt.DefaultRetry),
		task.WithCache(cache.ByInputs().WithTTL(5*time.Second)),
	)
	box, err := runAs[*PlayerBoxscore](ctx, f, fetch, task.NewInputs(task.In("game_id", gameID)))
	if err != nil {
		return nil, err
	}

	statsCache := task.WithCache(cache.ByInputs().Without("boxscore").WithTTL(50 * time.Second))
	batting, pitching := p.battingStatsTask(statsCache), p.pitchingStatsTask(statsCache)
	var battingFuts, pitchingFuts []*flow.Future
	for _, side := range []string{TeamHome, TeamAway} {
		in := task.NewInputs(task.In("boxscore", box), task.In("game_id", gameID), task.In("team_type", side))
		battingFuts = append(battingFuts, f.Submit(batting, in))
		pitchingFuts = append(pitchingFuts, f.Submit(pitching, in))
	}
	battingSides, err := flow.AwaitAllAs[[]BattingRecord](ctx, battingFuts)
	if err != nil {
		return nil, err
	}
	pitchingSides, err := flow.AwaitAllAs[[]PitchingRecord](ctx, pitchingFuts)
	if err != nil {
		return nil, err
	}
	var battingAll []BattingRecord
	for _, records := range battingSides {
		battingAll = append(battingAll, records...)
	}
	var pitchingAll []PitchingRecord
	for _, records := range pitchingSides {
		pitchingAll = append(pitchingAll, records...)
	}

	out := GameStatsOutput{GameID: gameID, BattingRecords: len(battingAll), PitchingRecords: len(pitchingAll)}
	battingFile := f.Submit(p.writeStatsCSVTask("write-batting-stats", battingHeader), task.NewInputs(
		task.In("rows", battingRows(battingAll)),
		task.In("file_name", filepath.Join(p.AnalysisDir, fmt.Sprintf("batting_%d.csv", gameID))),
	))
	pitchingFile := f.Submit(p.writeStatsCSVTask("write-pitching-stats", pitchingHeader), task.NewInputs(
		task.In("rows", pitchingRows(pitchingAll)),
		task.In("file_name", filepath.Join(p.AnalysisDir, fmt.Sprintf("pitching_%d.csv", gameID))),
	))
	if out.BattingFile, err = flow.AwaitAs[string](ctx, battingFile); err != nil {
		return nil, err
	}
	if out.PitchingFile, err = flow.AwaitAs[string](ctx, pitchingFile); err != nil {
		return nil, err
	}
	log.Printf("⚾ [MLB] 比赛 %d: 打击记录 %d 条，投球记录 %d 条", gameID, out.BattingRecords, out.PitchingRecords)
	return out, nil
}

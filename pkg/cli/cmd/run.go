package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/LENAX/statflow/pkg/cli/output"
	"github.com/LENAX/statflow/pkg/core/engine"
	"github.com/LENAX/statflow/pkg/core/task"
)

var (
	runTeam      string
	runStart     string
	runEnd       string
	runTeamIDs   string
	runParams    []string
	runSkipCache bool
)

// runCmd 运行Flow
var runCmd = &cobra.Command{
	Use:   "run <flow>",
	Short: "运行Flow",
	Long: `在本进程内运行一次Flow，等待全部任务结束后输出结果。

示例：
  statflow run retry --team 143 --start 06/01/2024 --end 06/30/2024
  statflow run cached --team marlins
  statflow run raw-data --team-ids 143,121
  statflow run rollback --param team_name="New York Mets"
  statflow run elevation
  statflow run game-stats -p game_id=744798`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := buildRunParams()
		if err != nil {
			output.Error("参数错误: %v", err)
			return err
		}

		ctx := cmd.Context()
		eng, pipeline, err := buildEngine(ctx)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer pipeline.Close()
		defer eng.Stop()

		if runSkipCache {
			if err := eng.ClearCache(ctx); err != nil {
				output.Warning("清空缓存失败: %v", err)
			}
		}

		res, runErr := eng.RunFlow(ctx, args[0], params)
		if res == nil {
			output.Error("运行失败: %v", runErr)
			return runErr
		}

		if outputJSON {
			if err := output.PrintJSON(res); err != nil {
				return err
			}
		} else {
			printRunResult(res)
		}
		return runErr
	},
}

func init() {
	runCmd.Flags().StringVar(&runTeam, "team", "", "球队ID或名称（如 143、marlins）")
	runCmd.Flags().StringVar(&runStart, "start", "", "开始日期（MM/DD/YYYY 或 YYYY-MM-DD）")
	runCmd.Flags().StringVar(&runEnd, "end", "", "结束日期（MM/DD/YYYY 或 YYYY-MM-DD）")
	runCmd.Flags().StringVar(&runTeamIDs, "team-ids", "", "逗号分隔的球队ID（raw-data流程）")
	runCmd.Flags().StringArrayVarP(&runParams, "param", "p", nil, "额外的Flow参数 key=value，可重复")
	runCmd.Flags().BoolVar(&runSkipCache, "fresh", false, "运行前清空任务结果缓存")
}

// buildRunParams 合并命名参数和 --param key=value
func buildRunParams() (map[string]any, error) {
	params := make(map[string]any)
	for _, kv := range runParams {
		key, value, ok := strings.Cut(kv, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("参数 %q 必须是 key=value 格式", kv)
		}
		params[key] = strings.Trim(strings.TrimSpace(value), `"`)
	}
	named := map[string]string{
		"team":       runTeam,
		"start_date": runStart,
		"end_date":   runEnd,
		"team_ids":   runTeamIDs,
	}
	for k, v := range named {
		if v != "" {
			params[k] = v
		}
	}
	return params, nil
}

func printRunResult(res *engine.RunResult) {
	if res.Status == engine.RunStatusSucceeded {
		output.Success("Flow %s 运行成功 (RunID=%s, 耗时=%s)", res.Flow, res.RunID, res.Duration().Round(time.Millisecond))
	} else {
		output.Error("Flow %s 运行失败 (RunID=%s): %s", res.Flow, res.RunID, res.Error)
	}

	if len(res.Tasks) > 0 {
		table := output.NewTable([]string{"TASK", "STATE", "ATTEMPTS", "ERROR"})
		for _, t := range res.Tasks {
			table.AddRow([]string{t.TaskID, formatState(t.State), fmt.Sprintf("%d", t.Attempts), t.Error})
		}
		table.Render()
	}

	if len(res.Stages) > 1 {
		output.Printf("\nStages:\n")
		for i, stage := range res.Stages {
			output.Printf("  %d. %s\n", i+1, strings.Join(stage, ", "))
		}
	}

	if res.Result != nil {
		output.Printf("\nResult:\n")
		output.PrintJSON(res.Result)
	}
}

// formatState 任务状态加图标
func formatState(state task.RunState) string {
	switch state {
	case task.RunStateSucceeded:
		return "✅ " + string(state)
	case task.RunStateCacheHit:
		return "💾 " + string(state)
	case task.RunStateFailed:
		return "❌ " + string(state)
	case task.RunStateRunning, task.RunStateRetrying:
		return "🔄 " + string(state)
	case task.RunStatePending:
		return "⏳ " + string(state)
	default:
		return string(state)
	}
}

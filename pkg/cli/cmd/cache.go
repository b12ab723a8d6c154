package cmd

import (
	"github.com/spf13/cobra"

	"github.com/LENAX/statflow/pkg/cli/output"
)

// cacheCmd cache子命令
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "任务结果缓存管理",
}

// cacheClearCmd 清空缓存
var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "清空任务结果缓存（含持久化缓存）",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, pipeline, err := buildEngine(cmd.Context())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer pipeline.Close()
		defer eng.Stop()

		if err := eng.ClearCache(cmd.Context()); err != nil {
			output.Error("清空缓存失败: %v", err)
			return err
		}
		output.Success("缓存已清空")
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd)
}

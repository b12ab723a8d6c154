package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// 全局变量
	configPath string
	outputJSON bool
)

// rootCmd 根命令
var rootCmd = &cobra.Command{
	Use:   "statflow",
	Short: "Statflow CLI - 比赛数据流水线命令行工具",
	Long: `Statflow CLI 在本进程内构建引擎并运行比赛数据流水线。

支持的功能：
  - 运行Flow（retry、rollback、cached、raw-data）
  - 列出已注册的Flow
  - 清空任务结果缓存
  - 启动HTTP API服务和定时调度

使用示例：
  # 列出所有Flow
  statflow flows

  # 运行Flow
  statflow run rollback --team 143 --start 06/01/2024 --end 06/30/2024

  # 启动HTTP服务
  statflow serve --port 8080`,
	SilenceUsage: true,
}

// Execute 执行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "引擎配置文件路径（默认查找 ./configs/statflow.yaml）")
	rootCmd.PersistentFlags().BoolVarP(&outputJSON, "json", "j", false, "使用JSON格式输出")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(flowsCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

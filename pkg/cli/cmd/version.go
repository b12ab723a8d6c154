package cmd

import (
	"github.com/spf13/cobra"

	"github.com/LENAX/statflow/pkg/cli/output"
)

// 版本信息（编译时注入）
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// versionCmd version命令
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	RunE: func(cmd *cobra.Command, args []string) error {
		if outputJSON {
			return output.PrintJSON(map[string]string{
				"version":    Version,
				"git_commit": GitCommit,
				"build_time": BuildTime,
			})
		}
		output.Printf("Statflow CLI\n")
		output.Printf("  Version:    %s\n", Version)
		output.Printf("  Git Commit: %s\n", GitCommit)
		output.Printf("  Build Time: %s\n", BuildTime)
		return nil
	},
}

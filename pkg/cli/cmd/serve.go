package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/LENAX/statflow/pkg/api"
	"github.com/LENAX/statflow/pkg/cli/output"
)

var (
	serveHost string
	servePort int
)

// serveCmd 启动HTTP API服务
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动HTTP API服务和定时调度",
	Long: `启动Statflow HTTP API服务，同时按配置中的schedules定时运行Flow。

示例：
  statflow serve
  statflow serve --port 8080 --config ./configs/statflow.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		eng, pipeline, err := buildEngine(ctx)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer pipeline.Close()

		if err := eng.Start(ctx); err != nil {
			eng.Stop()
			output.Error("启动Engine失败: %v", err)
			return err
		}

		serverCfg := api.ServerConfigFrom(eng.Config())
		if serveHost != "" {
			serverCfg.Host = serveHost
		}
		if servePort > 0 {
			serverCfg.Port = servePort
		}
		server := api.NewAPIServer(eng, serverCfg, Version)

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start()
		}()
		output.Success("Statflow Server started on %s:%d", serverCfg.Host, serverCfg.Port)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case <-quit:
		case err = <-errCh:
			if err != nil {
				output.Error("API服务器错误: %v", err)
			}
		}

		output.Info("正在关闭服务...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverCfg.WriteTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			output.Warning("关闭API服务器失败: %v", shutdownErr)
		}
		eng.Stop()
		output.Success("服务已停止")
		return err
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "监听地址（默认取配置 api.host）")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "监听端口（默认取配置 api.port）")
}

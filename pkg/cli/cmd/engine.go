package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/LENAX/statflow/pkg/cli/output"
	"github.com/LENAX/statflow/pkg/core/engine"
	"github.com/LENAX/statflow/pkg/mlb"
)

var defaultConfigPaths = []string{
	"./configs/statflow.yaml",
	"./config/statflow.yaml",
	"./statflow.yaml",
}

// resolveConfigPath 未指定配置文件时查找默认路径，都不存在时使用内置默认配置
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	for _, p := range defaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// buildEngine 构建引擎并注册比赛数据流水线
func buildEngine(ctx context.Context) (*engine.Engine, *mlb.Pipeline, error) {
	path := resolveConfigPath()
	if path == "" {
		output.Warning("未找到配置文件，使用默认配置")
	}

	builder := engine.NewEngineBuilder(path)
	cfg, err := builder.Config()
	if err != nil {
		return nil, nil, err
	}

	pipeline, err := mlb.NewPipeline(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("创建流水线失败: %w", err)
	}

	eng, err := builder.
		WithOptions(pipeline.EngineOptions()...).
		WithRegistrar(pipeline.Register).
		Build(ctx)
	if err != nil {
		pipeline.Close()
		return nil, nil, fmt.Errorf("创建Engine失败: %w", err)
	}
	return eng, pipeline, nil
}

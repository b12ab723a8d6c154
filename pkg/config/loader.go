package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFrameworkConfig 加载框架配置文件（对外导出）
// 支持 ${ENV} / $ENV 环境变量引用，加载后应用默认值并校验
func LoadFrameworkConfig(path string) (*EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	return ParseFrameworkConfig(data)
}

// ParseFrameworkConfig 从YAML内容解析框架配置
func ParseFrameworkConfig(data []byte) (*EngineConfig, error) {
	expanded := expandEnv(string(data))

	var cfg EngineConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	cfg.ApplyDefaults()
	if err := ValidateFrameworkConfig(&cfg); err != nil {
		return nil, fmt.Errorf("配置校验失败: %w", err)
	}
	return &cfg, nil
}

// expandEnv 展开${ENV}环境变量引用；未设置的小写名称保留原样，留给Flow参数占位符解析
func expandEnv(s string) string {
	return os.Expand(s, func(name string) string {
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		if name != strings.ToUpper(name) {
			return "${" + name + "}"
		}
		return ""
	})
}

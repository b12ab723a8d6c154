package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/LENAX/statflow/pkg/config"
)

// Registrar 在引擎构建完成后注册Flow（如流水线的Register方法）
type Registrar func(e *Engine) error

type flowRegistration struct {
	name, description string
	fn                FlowFunc
	defaults          map[string]any
}

// EngineBuilder 引擎构建器（链式调用）
type EngineBuilder struct {
	engineConfigPath string
	cfg              *config.EngineConfig
	options          []Option
	flows            []flowRegistration
	registrars       []Registrar
	err              error
}

// NewEngineBuilder 创建引擎构建器（入口）
// engineConfigPath为空时使用默认配置
func NewEngineBuilder(engineConfigPath string) *EngineBuilder {
	return &EngineBuilder{engineConfigPath: engineConfigPath}
}

// Config 加载并返回配置（只加载一次）
func (b *EngineBuilder) Config() (*config.EngineConfig, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.cfg != nil {
		return b.cfg, nil
	}
	if b.engineConfigPath == "" {
		b.cfg = config.Default()
		return b.cfg, nil
	}
	cfg, err := config.LoadFrameworkConfig(b.engineConfigPath)
	if err != nil {
		b.err = fmt.Errorf("load engine config failed: %w", err)
		return nil, b.err
	}
	b.cfg = cfg
	return cfg, nil
}

// WithConfig 直接指定配置，忽略配置文件路径（链式）
func (b *EngineBuilder) WithConfig(cfg *config.EngineConfig) *EngineBuilder {
	if b.err != nil {
		return b
	}
	if cfg == nil {
		b.err = errors.New("engine config is nil")
		return b
	}
	b.cfg = cfg
	return b
}

// WithOptions 追加引擎选项（链式）
func (b *EngineBuilder) WithOptions(opts ...Option) *EngineBuilder {
	if b.err != nil {
		return b
	}
	b.options = append(b.options, opts...)
	return b
}

// WithFlow 注册Flow（链式）
func (b *EngineBuilder) WithFlow(name string, fn FlowFunc, description string, defaultParams map[string]any) *EngineBuilder {
	if b.err != nil {
		return b
	}
	if name == "" || fn == nil {
		b.err = errors.New("flow name or function is empty")
		return b
	}
	b.flows = append(b.flows, flowRegistration{name: name, description: description, fn: fn, defaults: defaultParams})
	return b
}

// WithRegistrar 注册一组Flow（链式）
func (b *EngineBuilder) WithRegistrar(r Registrar) *EngineBuilder {
	if b.err != nil {
		return b
	}
	if r == nil {
		b.err = errors.New("registrar is nil")
		return b
	}
	b.registrars = append(b.registrars, r)
	return b
}

// Build 构建引擎实例（最终步骤）
func (b *EngineBuilder) Build(ctx context.Context) (*Engine, error) {
	cfg, err := b.Config()
	if err != nil {
		return nil, err
	}

	e, err := NewEngine(ctx, cfg, b.options...)
	if err != nil {
		return nil, err
	}

	for _, f := range b.flows {
		if err := e.RegisterFlow(f.name, f.fn, f.description, f.defaults); err != nil {
			e.Stop()
			return nil, fmt.Errorf("register flow %s failed: %w", f.name, err)
		}
	}
	for _, r := range b.registrars {
		if err := r(e); err != nil {
			e.Stop()
			return nil, fmt.Errorf("register flows failed: %w", err)
		}
	}
	return e, nil
}

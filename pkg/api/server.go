package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/LENAX/statflow/pkg/config"
	"github.com/LENAX/statflow/pkg/core/engine"
)

// ServerConfig API服务器配置
type ServerConfig struct {
	Host         string        // 监听地址
	Port         int           // 监听端口
	ReadTimeout  time.Duration // 读取超时
	WriteTimeout time.Duration // 写入超时（需大于最长Flow运行时间）
}

// ServerConfigFrom 从引擎配置读取API配置
func ServerConfigFrom(cfg *config.EngineConfig) ServerConfig {
	a := cfg.Statflow.API
	return ServerConfig{
		Host:         a.Host,
		Port:         a.Port,
		ReadTimeout:  a.ReadTimeout,
		WriteTimeout: a.WriteTimeout,
	}
}

// APIServer HTTP API服务器
type APIServer struct {
	engine     *engine.Engine
	httpServer *http.Server
	config     ServerConfig
	version    string
}

// NewAPIServer 创建API服务器
func NewAPIServer(eng *engine.Engine, config ServerConfig, version string) *APIServer {
	s := &APIServer{
		engine:  eng,
		config:  config,
		version: version,
	}
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      SetupRouter(eng, version),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return s
}

// Handler 返回路由（用于测试）
func (s *APIServer) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start 启动服务器（阻塞直到关闭）
func (s *APIServer) Start() error {
	log.Printf("🚀 [API] Statflow API Server starting on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server listen failed: %w", err)
	}
	return nil
}

// Shutdown 优雅关闭服务器
func (s *APIServer) Shutdown(ctx context.Context) error {
	log.Println("🛑 [API] Shutting down API Server...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

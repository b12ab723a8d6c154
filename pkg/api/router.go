package api

import (
	"github.com/gin-gonic/gin"

	"github.com/LENAX/statflow/pkg/api/handler"
	"github.com/LENAX/statflow/pkg/api/middleware"
	"github.com/LENAX/statflow/pkg/core/engine"
)

// SetupRouter 设置路由
func SetupRouter(eng *engine.Engine, version string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	flowHandler := handler.NewFlowHandler(eng)
	cacheHandler := handler.NewCacheHandler(eng)
	eventHandler := handler.NewEventHandler(eng, int(eng.Config().Statflow.Lineage.Buffer))
	healthHandler := handler.NewHealthHandler(version)

	// 健康检查路由（不带前缀）
	router.GET("/health", healthHandler.Health)

	v1 := router.Group("/api/v1")
	{
		flows := v1.Group("/flows")
		{
			flows.GET("", flowHandler.List)
			flows.GET("/:name", flowHandler.Get)
			flows.POST("/:name/runs", flowHandler.Run)
		}
		v1.GET("/schedules", flowHandler.Schedules)
		v1.DELETE("/cache", cacheHandler.Clear)
		v1.GET("/events/ws", eventHandler.Stream)
	}

	return router
}

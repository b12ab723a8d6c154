package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LENAX/statflow/pkg/api/dto"
	"github.com/LENAX/statflow/pkg/core/engine"
)

// CacheHandler 缓存API处理器
type CacheHandler struct {
	engine *engine.Engine
}

// NewCacheHandler 创建CacheHandler
func NewCacheHandler(eng *engine.Engine) *CacheHandler {
	return &CacheHandler{engine: eng}
}

// Clear 清空所有任务结果缓存
// DELETE /api/v1/cache
func (h *CacheHandler) Clear(c *gin.Context) {
	if err := h.engine.ClearCache(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(500, fmt.Sprintf("清空缓存失败: %v", err)))
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(map[string]string{
		"message": "缓存已清空",
	}))
}

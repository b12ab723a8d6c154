package handler

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/LENAX/statflow/pkg/api/dto"
	"github.com/LENAX/statflow/pkg/core/engine"
	"github.com/LENAX/statflow/pkg/core/task"
)

// FlowHandler Flow API处理器
type FlowHandler struct {
	engine *engine.Engine
}

// NewFlowHandler 创建FlowHandler
func NewFlowHandler(eng *engine.Engine) *FlowHandler {
	return &FlowHandler{engine: eng}
}

// List 列出已注册的Flow
// GET /api/v1/flows
func (h *FlowHandler) List(c *gin.Context) {
	var query dto.ListQueryRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, fmt.Sprintf("查询参数错误: %v", err)))
		return
	}

	defs := h.engine.Flows()
	items := make([]dto.FlowSummary, 0, len(defs))
	for _, def := range defs {
		items = append(items, dto.NewFlowSummary(def))
	}
	page, hasMore := dto.Page(items, query)

	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.ListResponse[dto.FlowSummary]{
		Total:   len(items),
		Items:   page,
		HasMore: hasMore,
	}))
}

// Get 获取Flow详情
// GET /api/v1/flows/:name
func (h *FlowHandler) Get(c *gin.Context) {
	def, ok := h.engine.GetFlow(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, dto.NewErrorResponse(404, "Flow不存在"))
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.NewFlowSummary(def)))
}

// Run 同步运行Flow
// POST /api/v1/flows/:name/runs
func (h *FlowHandler) Run(c *gin.Context) {
	name := c.Param("name")

	var req dto.RunFlowRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, fmt.Sprintf("请求体错误: %v", err)))
			return
		}
	}

	res, err := h.engine.RunFlow(c.Request.Context(), name, req.Params)
	if errors.Is(err, engine.ErrFlowNotFound) {
		c.JSON(http.StatusNotFound, dto.NewErrorResponse(404, err.Error()))
		return
	}

	resp := toRunResponse(res)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, dto.NewFailureResponse(422, fmt.Sprintf("Flow运行失败: %v", err), resp))
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(resp))
}

// Schedules 列出定时调度
// GET /api/v1/schedules
func (h *FlowHandler) Schedules(c *gin.Context) {
	infos := h.engine.Cron().Schedules()
	items := make([]dto.ScheduleSummary, 0, len(infos))
	for _, s := range infos {
		items = append(items, dto.ScheduleSummary{Name: s.Name, Flow: s.Flow, Cron: s.Cron, NextRun: s.NextRun})
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.ListResponse[dto.ScheduleSummary]{
		Total: len(items),
		Items: items,
	}))
}

func toRunResponse(res *engine.RunResult) dto.RunResponse {
	resp := dto.RunResponse{
		RunID:      res.RunID,
		Flow:       res.Flow,
		Status:     string(res.Status),
		Params:     res.Params,
		Result:     res.Result,
		Error:      res.Error,
		StartedAt:  res.StartedAt,
		FinishedAt: res.EndedAt,
		Duration:   formatDuration(res.Duration()),
		Tasks:      make([]dto.TaskSummary, 0, len(res.Tasks)),
		Stages:     res.Stages,
	}
	if res.Err != nil {
		resp.ErrorKind = string(task.KindOf(res.Err))
	}
	for _, t := range res.Tasks {
		resp.Tasks = append(resp.Tasks, dto.TaskSummary{
			TaskID:   t.TaskID,
			State:    string(t.State),
			Attempts: t.Attempts,
			Error:    t.Error,
		})
	}
	return resp
}

// formatDuration 格式化时长
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}

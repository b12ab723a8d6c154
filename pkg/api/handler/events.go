package handler

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/LENAX/statflow/pkg/api/dto"
	"github.com/LENAX/statflow/pkg/core/engine"
	"github.com/LENAX/statflow/pkg/core/lineage"
)

const eventWriteWait = 10 * time.Second

// EventHandler 血缘事件推送处理器
type EventHandler struct {
	engine   *engine.Engine
	upgrader websocket.Upgrader
	buffer   int
}

// NewEventHandler 创建EventHandler，buffer为每个连接的事件缓冲容量
func NewEventHandler(eng *engine.Engine, buffer int) *EventHandler {
	return &EventHandler{
		engine: eng,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		buffer: buffer,
	}
}

// Stream 以WebSocket推送血缘事件，可用 ?flow_run_id= 过滤单次运行
// GET /api/v1/events/ws
func (h *EventHandler) Stream(c *gin.Context) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := h.engine.Subscribe(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, dto.NewErrorResponse(503, err.Error()))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("⚠️ [EventStream] WebSocket升级失败: %v", err)
		return
	}
	defer conn.Close()

	runFilter := c.Query("flow_run_id")
	buf := lineage.NewBuffer(h.buffer)
	log.Printf("🔌 [EventStream] 客户端已连接: %s, flow_run_id=%q", c.Request.RemoteAddr, runFilter)

	// 客户端断开时结束
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// 订阅 -> 缓冲，慢客户端丢弃事件而不阻塞总线
	go func() {
		defer cancel()
		for e := range events {
			if runFilter != "" && e.FlowRunID != runFilter {
				continue
			}
			buf.Push(e)
		}
	}()

	for {
		e, ok := buf.PopWithDone(ctx.Done())
		if !ok {
			break
		}
		conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
		if err := conn.WriteJSON(e); err != nil {
			log.Printf("⚠️ [EventStream] 推送失败: %v", err)
			break
		}
	}

	in, out, dropped := buf.Stats()
	log.Printf("🔌 [EventStream] 客户端断开: %s, 入队=%d, 推送=%d, 丢弃=%d", c.Request.RemoteAddr, in, out, dropped)
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

package generation

import (
	"errors"
	"net/http"
	"time"

	"aigateway/api/handlers/common"
	"aigateway/internal/logger"
	"aigateway/internal/metrics"
	"aigateway/internal/sse"
	"aigateway/pkg/aiinterface"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Chat 对话
// @Summary 对话补全
// @Tags Generation
// @Accept json
// @Produce json
// @Param X-Workspace-ID header string true "工作区"
// @Success 200 {object} aiinterface.LLMResponse
// @Router /api/v1/chat [post]
func (h *Handler) Chat(c *gin.Context) {
	var req aiinterface.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.BadRequest(c, "请求体格式错误: "+err.Error())
		return
	}

	resp, err := h.gateway.Chat(c.Request.Context(), &req)
	if err != nil {
		common.Fail(c, err)
		return
	}
	common.OK(c, resp)
}

// StreamChat 流式对话（SSE）
// 建立连接前的错误以 JSON 返回；建立后以 error 事件结束
// @Summary 流式对话
// @Tags Generation
// @Accept json
// @Produce text/event-stream
// @Router /api/v1/chat/stream [post]
func (h *Handler) StreamChat(c *gin.Context) {
	var req aiinterface.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.BadRequest(c, "请求体格式错误: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	events, err := h.gateway.StreamChat(ctx, &req)
	if err != nil {
		common.Fail(c, err)
		return
	}

	log := logger.FromContext(ctx, h.logger).With(zap.String("provider", string(req.Provider)))
	// 流的时长不受 http.Server.WriteTimeout 约束，由网关超时与客户端断开控制
	if err := http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{}); err != nil {
		log.Debug("无法清除写超时", zap.Error(err))
	}
	w := sse.NewWriter(c.Writer, sse.WithLogger(log))
	w.WriteHeaders(c.Writer)
	w.StartPing(h.pingInterval)
	defer w.Close()
	metrics.SSEStreamsActive.Inc()
	defer metrics.SSEStreamsActive.Dec()

	for ev := range events {
		if ev.Err != nil {
			if err := w.WriteError(ev.Err); err != nil && !errors.Is(err, sse.ErrClosed) {
				log.Debug("SSE 写入错误事件失败", zap.Error(err))
			}
			return
		}
		if ev.Token.FinishReason != "" {
			if ev.Token.Content != "" {
				_ = w.WriteToken(aiinterface.StreamToken{Content: ev.Token.Content, Model: ev.Token.Model})
			}
			// 最后一段内容已作为 token 事件发出，done 只携带结束原因与用量
			if err := w.WriteDone(aiinterface.StreamToken{
				FinishReason: ev.Token.FinishReason,
				Usage:        ev.Token.Usage,
				Model:        ev.Token.Model,
			}); err != nil {
				log.Debug("SSE 写入结束事件失败", zap.Error(err))
			}
			return
		}
		if err := w.WriteToken(ev.Token); err != nil {
			// 客户端断开，ctx 取消后网关停止转发
			log.Debug("SSE 写入失败，停止转发", zap.Error(err))
			return
		}
	}
}

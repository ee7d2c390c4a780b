package providers

import (
	"aigateway/api/handlers/common"
	"aigateway/internal/ai"
	"aigateway/pkg/aiinterface"

	"github.com/gin-gonic/gin"
)

// Handler 提供商状态查询
type Handler struct {
	gateway *ai.Gateway
}

// NewHandler 创建 Handler
func NewHandler(gateway *ai.Gateway) *Handler {
	return &Handler{gateway: gateway}
}

// List 各生成类型当前可用的提供商
// @Summary 可用提供商
// @Tags Providers
// @Router /api/v1/providers [get]
func (h *Handler) List(c *gin.Context) {
	common.OK(c, h.gateway.AvailableProviders())
}

// Health 提供商健康状态
// @Summary 健康状态
// @Tags Providers
// @Router /api/v1/providers/health [get]
func (h *Handler) Health(c *gin.Context) {
	common.OK(c, h.gateway.HealthStatus())
}

// ResetHealth 清除提供商失败计数
// @Summary 重置健康状态
// @Tags Providers
// @Router /api/v1/providers/{provider}/reset [post]
func (h *Handler) ResetHealth(c *gin.Context) {
	p, err := aiinterface.ParseProvider(c.Param("provider"))
	if err != nil {
		common.Fail(c, err)
		return
	}
	h.gateway.ResetHealth(p)
	common.OK(c, gin.H{"provider": p})
}

// Stats 各模型延迟与成功率
// @Summary 性能统计
// @Tags Providers
// @Router /api/v1/providers/stats [get]
func (h *Handler) Stats(c *gin.Context) {
	if p := c.Query("provider"); p != "" {
		provider, err := aiinterface.ParseProvider(p)
		if err != nil {
			common.Fail(c, err)
			return
		}
		if model := c.Query("model"); model != "" {
			common.OK(c, h.gateway.Monitor().GetSummary(provider, model))
			return
		}
		out := []ai.ModelPerformanceSummary{}
		for _, s := range h.gateway.Monitor().Summaries() {
			if s.Provider == provider {
				out = append(out, s)
			}
		}
		common.OK(c, out)
		return
	}
	common.OK(c, h.gateway.Monitor().Summaries())
}

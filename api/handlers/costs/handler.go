package costs

import (
	"aigateway/api/handlers/common"
	"aigateway/internal/billing"
	"aigateway/pkg/aiinterface"

	"github.com/gin-gonic/gin"
)

// Handler 费用计算接口，与实际调用共用计费引擎
type Handler struct {
	engine *billing.Engine
}

// NewHandler 创建 Handler
func NewHandler(engine *billing.Engine) *Handler {
	return &Handler{engine: engine}
}

// CalculateRequest 按已知 token 数计算费用
type CalculateRequest struct {
	Provider     string `json:"provider" binding:"required"`
	Model        string `json:"model"`
	InputTokens  int    `json:"inputTokens" binding:"min=0"`
	OutputTokens int    `json:"outputTokens" binding:"min=0"`
}

// EstimateRequest 按消息预估费用
type EstimateRequest struct {
	Provider              string                `json:"provider" binding:"required"`
	Model                 string                `json:"model"`
	Messages              []aiinterface.Message `json:"messages" binding:"required"`
	EstimatedOutputTokens int                   `json:"estimatedOutputTokens" binding:"min=0"`
}

// CompareRequest 跨提供商比价
type CompareRequest struct {
	Tokens   int    `json:"tokens" binding:"min=0"` // chat 为 token 数，其他类型为张/秒/字符
	Modality string `json:"modality"`
}

// Calculate 计算费用
// @Summary 计算费用
// @Tags Costs
// @Router /api/v1/costs/calculate [post]
func (h *Handler) Calculate(c *gin.Context) {
	var req CalculateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.BadRequest(c, "请求体格式错误: "+err.Error())
		return
	}
	p, err := aiinterface.ParseProvider(req.Provider)
	if err != nil {
		common.Fail(c, err)
		return
	}
	calc, err := h.engine.Calculate(p, req.Model, req.InputTokens, req.OutputTokens)
	if err != nil {
		common.Fail(c, err)
		return
	}
	common.OK(c, calc)
}

// Estimate 预估费用（isEstimate=true）
// @Summary 预估费用
// @Tags Costs
// @Router /api/v1/costs/estimate [post]
func (h *Handler) Estimate(c *gin.Context) {
	var req EstimateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.BadRequest(c, "请求体格式错误: "+err.Error())
		return
	}
	p, err := aiinterface.ParseProvider(req.Provider)
	if err != nil {
		common.Fail(c, err)
		return
	}
	est, err := h.engine.Estimate(p, req.Model, req.Messages, req.EstimatedOutputTokens)
	if err != nil {
		common.Fail(c, err)
		return
	}
	common.OK(c, est)
}

// Compare 比较各模型费用
// @Summary 比价
// @Tags Costs
// @Router /api/v1/costs/compare [post]
func (h *Handler) Compare(c *gin.Context) {
	var req CompareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.BadRequest(c, "请求体格式错误: "+err.Error())
		return
	}
	var modality aiinterface.Modality
	if req.Modality != "" {
		m, err := aiinterface.ParseModality(req.Modality)
		if err != nil {
			common.Fail(c, err)
			return
		}
		modality = m
	}
	list, err := h.engine.Compare(req.Tokens, modality)
	if err != nil {
		common.Fail(c, err)
		return
	}
	common.OK(c, list)
}

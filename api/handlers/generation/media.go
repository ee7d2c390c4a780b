package generation

import (
	"net/http"
	"strings"

	"aigateway/api/handlers/common"
	"aigateway/pkg/aiinterface"

	"github.com/gin-gonic/gin"
)

// GenerateImage 文生图
// @Summary 文生图
// @Tags Generation
// @Router /api/v1/images [post]
func (h *Handler) GenerateImage(c *gin.Context) {
	var req aiinterface.ImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.BadRequest(c, "请求体格式错误: "+err.Error())
		return
	}
	res, err := h.gateway.GenerateImage(c.Request.Context(), &req)
	if err != nil {
		common.Fail(c, err)
		return
	}
	common.OK(c, res)
}

// ImageToImage 图生图，initImage 为 base64
// @Summary 图生图
// @Tags Generation
// @Router /api/v1/images/edit [post]
func (h *Handler) ImageToImage(c *gin.Context) {
	var req aiinterface.ImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.BadRequest(c, "请求体格式错误: "+err.Error())
		return
	}
	res, err := h.gateway.ImageToImage(c.Request.Context(), &req)
	if err != nil {
		common.Fail(c, err)
		return
	}
	common.OK(c, res)
}

// Upscale 图像放大
// @Summary 图像放大
// @Tags Generation
// @Router /api/v1/images/upscale [post]
func (h *Handler) Upscale(c *gin.Context) {
	var req aiinterface.UpscaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.BadRequest(c, "请求体格式错误: "+err.Error())
		return
	}
	res, err := h.gateway.Upscale(c.Request.Context(), &req)
	if err != nil {
		common.Fail(c, err)
		return
	}
	common.OK(c, res)
}

// GenerateVideo 提交文生视频任务
// @Summary 文生视频
// @Tags Generation
// @Success 202 {object} aiinterface.VideoJob
// @Router /api/v1/videos [post]
func (h *Handler) GenerateVideo(c *gin.Context) {
	var req aiinterface.VideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.BadRequest(c, "请求体格式错误: "+err.Error())
		return
	}
	job, err := h.gateway.GenerateVideo(c.Request.Context(), &req)
	if err != nil {
		common.Fail(c, err)
		return
	}
	respondJob(c, job)
}

// ImageToVideo 提交图生视频任务
// @Summary 图生视频
// @Tags Generation
// @Router /api/v1/videos/from-image [post]
func (h *Handler) ImageToVideo(c *gin.Context) {
	var req aiinterface.VideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.BadRequest(c, "请求体格式错误: "+err.Error())
		return
	}
	job, err := h.gateway.ImageToVideo(c.Request.Context(), &req)
	if err != nil {
		common.Fail(c, err)
		return
	}
	respondJob(c, job)
}

// 同步完成的任务直接 200，其余 202
func respondJob(c *gin.Context, job *aiinterface.VideoJob) {
	if job.Status == aiinterface.VideoStatusCompleted {
		common.OK(c, job)
		return
	}
	common.Accepted(c, job)
}

// GetVideoStatus 查询视频任务状态，首次观察到完成时计费
// @Summary 视频任务状态
// @Tags Generation
// @Param provider path string true "提供商"
// @Param jobId path string true "任务 ID"
// @Param model query string false "模型"
// @Router /api/v1/videos/{provider}/{jobId} [get]
func (h *Handler) GetVideoStatus(c *gin.Context) {
	provider, err := aiinterface.ParseProvider(c.Param("provider"))
	if err != nil {
		common.Fail(c, err)
		return
	}
	status, err := h.gateway.GetVideoStatus(c.Request.Context(), provider, c.Param("jobId"), c.Query("model"))
	if err != nil {
		common.Fail(c, err)
		return
	}
	common.OK(c, status)
}

// TextToSpeech 语音合成
// 默认返回 JSON（音频为 base64）；?format=raw 或 Accept: audio/* 时直接返回音频
// @Summary 语音合成
// @Tags Generation
// @Router /api/v1/voice [post]
func (h *Handler) TextToSpeech(c *gin.Context) {
	var req aiinterface.VoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.BadRequest(c, "请求体格式错误: "+err.Error())
		return
	}
	res, err := h.gateway.TextToSpeech(c.Request.Context(), &req)
	if err != nil {
		common.Fail(c, err)
		return
	}

	if c.Query("format") == "raw" || strings.HasPrefix(c.GetHeader("Accept"), "audio/") {
		contentType := res.ContentType
		if contentType == "" {
			contentType = "audio/mpeg"
		}
		c.Header("X-Billed-Amount", res.BilledAmount.String())
		c.Header("X-Provider-Model", res.Model)
		c.Data(http.StatusOK, contentType, res.Audio)
		return
	}
	common.OK(c, res)
}

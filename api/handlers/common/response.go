package common

import (
	"errors"
	"net/http"

	"aigateway/pkg/aiinterface"

	"github.com/gin-gonic/gin"
)

// StatusForCode 错误码对应的 HTTP 状态
func StatusForCode(code string) int {
	switch code {
	case aiinterface.CodeValidation:
		return http.StatusBadRequest
	case aiinterface.CodeUnknownProvider:
		return http.StatusNotFound
	case aiinterface.CodeModelCostsUnavailable:
		return http.StatusUnprocessableEntity
	case aiinterface.CodeProviderUnavailable:
		return http.StatusServiceUnavailable
	case aiinterface.CodeCredential, aiinterface.CodeUpstream:
		// 凭证问题属于网关侧配置，不向调用方暴露为 401
		return http.StatusBadGateway
	case aiinterface.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// OK 成功响应
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: data})
}

// Accepted 异步任务已受理
func Accepted(c *gin.Context, data interface{}) {
	c.JSON(http.StatusAccepted, APIResponse{Success: true, Data: data})
}

// Fail 按错误码写出统一错误响应
func Fail(c *gin.Context, err error) {
	code := aiinterface.ErrorCode(err)
	status := StatusForCode(code)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "服务器内部错误"
	}
	var up *aiinterface.UpstreamError
	if errors.As(err, &up) && up.Status == http.StatusTooManyRequests {
		c.Header("Retry-After", "1")
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, ErrorResponse{Success: false, Code: code, Message: msg})
}

// BadRequest 请求体无法解析
func BadRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
		Success: false,
		Code:    aiinterface.CodeValidation,
		Message: message,
	})
}

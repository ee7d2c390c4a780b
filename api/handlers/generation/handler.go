package generation

import (
	"time"

	"aigateway/internal/ai"

	"go.uber.org/zap"
)

// Handler 生成类接口（对话、图像、视频、语音）
type Handler struct {
	gateway      *ai.Gateway
	pingInterval time.Duration
	logger       *zap.Logger
}

// NewHandler 创建 Handler，pingInterval 为 SSE 心跳间隔
func NewHandler(gateway *ai.Gateway, pingInterval time.Duration, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{gateway: gateway, pingInterval: pingInterval, logger: logger}
}

package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"aigateway/internal/usage"
	"aigateway/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// UsageHandler 用量批次落库处理器
type UsageHandler struct {
	sink   usage.Sink
	logger *zap.Logger
}

// NewUsageHandler 创建处理器，sink 通常是 usage.GormSink（按 id 幂等写入）
func NewUsageHandler(sink usage.Sink, logger *zap.Logger) *UsageHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UsageHandler{sink: sink, logger: logger}
}

// HandlePersistUsage 处理 usage:persist 任务
func (h *UsageHandler) HandlePersistUsage(ctx context.Context, t *asynq.Task) error {
	var p tasks.PersistUsagePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		// 载荷损坏，重试没有意义
		return fmt.Errorf("解析任务载荷失败: %v: %w", err, asynq.SkipRetry)
	}
	if len(p.Records) == 0 {
		return nil
	}

	if err := h.sink.Persist(ctx, p.Records); err != nil {
		h.logger.Warn("用量批次落库失败",
			zap.String("batch_id", p.BatchID),
			zap.Int("records", len(p.Records)),
			zap.Error(err),
		)
		return err
	}

	h.logger.Debug("用量批次已落库",
		zap.String("batch_id", p.BatchID),
		zap.Int("records", len(p.Records)),
	)
	return nil
}

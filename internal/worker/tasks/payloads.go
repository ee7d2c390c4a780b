package tasks

import "aigateway/internal/usage"

// Task Types
const (
	TypePersistUsage = "usage:persist"
)

// PersistUsagePayload 用量批次落库任务载荷
type PersistUsagePayload struct {
	BatchID string         `json:"batch_id"`
	Records []usage.Record `json:"records"`
}

package usage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Operation 计费操作类型
type Operation string

const (
	OpChat         Operation = "chat"
	OpChatStream   Operation = "chat_stream"
	OpImage        Operation = "image"
	OpImageToImage Operation = "image_to_image"
	OpUpscale      Operation = "upscale"
	OpVideo        Operation = "video"
	OpImageToVideo Operation = "image_to_video"
	OpVoice        Operation = "voice"
)

// Record 一次（或部分完成的流式）调用的计费记录
type Record struct {
	ID           string            `gorm:"type:uuid;primaryKey" json:"id"`
	Provider     string            `gorm:"type:varchar(32);not null;index:idx_usage_provider" json:"provider"`
	Model        string            `gorm:"type:varchar(128);not null" json:"model"`
	Operation    Operation         `gorm:"type:varchar(32);not null" json:"operation"`
	InputTokens  *int              `json:"inputTokens,omitempty"`
	OutputTokens *int              `json:"outputTokens,omitempty"`
	ProviderCost decimal.Decimal   `gorm:"type:numeric(20,10);not null" json:"providerCost"`
	BilledAmount decimal.Decimal   `gorm:"type:numeric(20,4);not null" json:"billedAmount"`
	WorkspaceID  string            `gorm:"type:varchar(64);not null;index:idx_usage_workspace" json:"workspaceId"`
	ProjectID    string            `gorm:"type:varchar(64)" json:"projectId,omitempty"`
	AgentID      string            `gorm:"type:varchar(64)" json:"agentId,omitempty"`
	Metadata     datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt    time.Time         `gorm:"not null;index:idx_usage_created" json:"timestamp"`
}

// TableName 指定表名
func (Record) TableName() string {
	return "usage_records"
}

// BeforeCreate GORM 钩子：补全 ID 与时间
func (r *Record) BeforeCreate(tx *gorm.DB) error {
	r.ensureIdentity()
	return nil
}

func (r *Record) ensureIdentity() {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
}

// Tokens 构造 token 字段
func Tokens(input, output int) (*int, *int) {
	return &input, &output
}

package aiinterface

import (
	"context"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Message 对话消息
type Message struct {
	Role       string     `json:"role"`                   // system, user, assistant, tool
	Content    string     `json:"content"`                // 消息内容
	Name       string     `json:"name,omitempty"`         // 发送者名称
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // 模型请求的工具调用 (role=assistant)
	ToolCallID string     `json:"tool_call_id,omitempty"` // 工具调用的 ID (role=tool)
}

// Tool 工具定义（Function Calling 格式）
type Tool struct {
	Type     string      `json:"type"` // 固定为 "function"
	Function FunctionDef `json:"function"`
}

// FunctionDef 函数定义
type FunctionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"` // JSON Schema
}

// FunctionCall 函数调用内容
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON 格式的参数
}

// ToolCall 模型返回的工具调用
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// ChatRequest 对话请求
type ChatRequest struct {
	Provider      Provider  `json:"provider"`
	Model         string    `json:"model,omitempty"` // 为空时使用提供商默认模型
	Messages      []Message `json:"messages"`
	Temperature   *float64  `json:"temperature,omitempty"`
	MaxTokens     int       `json:"maxTokens,omitempty"`
	Tools         []Tool    `json:"tools,omitempty"`
	StopSequences []string  `json:"stopSequences,omitempty"`
}

// Validate 校验对话请求
func (r *ChatRequest) Validate() error {
	if len(r.Messages) == 0 {
		return &ValidationError{Field: "messages", Message: "消息列表不能为空"}
	}
	for i, msg := range r.Messages {
		switch msg.Role {
		case "system", "user", "assistant", "tool":
		default:
			return &ValidationError{Field: "messages", Message: "第 " + strconv.Itoa(i) + " 条消息角色无效: " + msg.Role}
		}
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return &ValidationError{Field: "temperature", Message: "temperature 取值范围为 0-2"}
	}
	if r.MaxTokens < 0 {
		return &ValidationError{Field: "maxTokens", Message: "maxTokens 不能为负数"}
	}
	return nil
}

// ImageRequest 图像生成请求（InitImage 非空时为图生图）
type ImageRequest struct {
	Provider       Provider `json:"provider"`
	Model          string   `json:"model,omitempty"`
	Prompt         string   `json:"prompt"`
	Width          int      `json:"width,omitempty"`
	Height         int      `json:"height,omitempty"`
	Style          string   `json:"style,omitempty"`
	NegativePrompt string   `json:"negativePrompt,omitempty"`
	Seed           *int64   `json:"seed,omitempty"`
	InitImage      []byte   `json:"initImage,omitempty"`
	Strength       float64  `json:"strength,omitempty"` // 图生图强度 0-1
}

// Validate 校验图像请求
func (r *ImageRequest) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return &ValidationError{Field: "prompt", Message: "prompt 不能为空"}
	}
	if r.Width < 0 || r.Height < 0 {
		return &ValidationError{Field: "width", Message: "图像尺寸不能为负数"}
	}
	if r.Strength < 0 || r.Strength > 1 {
		return &ValidationError{Field: "strength", Message: "strength 取值范围为 0-1"}
	}
	return nil
}

// UpscaleRequest 图像放大请求
type UpscaleRequest struct {
	Provider Provider `json:"provider"`
	Model    string   `json:"model,omitempty"`
	Image    []byte   `json:"image"`
	Width    int      `json:"width,omitempty"` // 目标宽度，为空时按提供商默认倍率
	Prompt   string   `json:"prompt,omitempty"`
}

// Validate 校验放大请求
func (r *UpscaleRequest) Validate() error {
	if len(r.Image) == 0 {
		return &ValidationError{Field: "image", Message: "待放大图像不能为空"}
	}
	return nil
}

// VideoRequest 视频生成请求（Prompt 与 ImageURL 至少一项）
type VideoRequest struct {
	Provider        Provider `json:"provider"`
	Model           string   `json:"model,omitempty"`
	Prompt          string   `json:"prompt,omitempty"`
	ImageURL        string   `json:"imageUrl,omitempty"`
	DurationSeconds int      `json:"durationSeconds,omitempty"`
	AspectRatio     string   `json:"aspectRatio,omitempty"`
	FPS             int      `json:"fps,omitempty"`
}

// Validate 校验视频请求
func (r *VideoRequest) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" && strings.TrimSpace(r.ImageURL) == "" {
		return &ValidationError{Field: "prompt", Message: "prompt 与 imageUrl 不能同时为空"}
	}
	if r.DurationSeconds < 0 || r.FPS < 0 {
		return &ValidationError{Field: "durationSeconds", Message: "时长与帧率不能为负数"}
	}
	return nil
}

// VoiceRequest 语音合成请求
type VoiceRequest struct {
	Provider        Provider `json:"provider"`
	Model           string   `json:"model,omitempty"`
	Text            string   `json:"text"`
	VoiceID         string   `json:"voiceId,omitempty"`
	Stability       *float64 `json:"stability,omitempty"`
	SimilarityBoost *float64 `json:"similarityBoost,omitempty"`
}

// Validate 校验语音请求
func (r *VoiceRequest) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return &ValidationError{Field: "text", Message: "text 不能为空"}
	}
	return nil
}

// Usage Token 使用情况
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	TotalTokens  int `json:"totalTokens"`
}

// LLMResponse 对话响应
type LLMResponse struct {
	ID              string          `json:"id"`
	Provider        Provider        `json:"provider"`
	Model           string          `json:"model"`
	Content         string          `json:"content"`
	ToolCalls       []ToolCall      `json:"toolCalls,omitempty"`
	FinishReason    string          `json:"finishReason,omitempty"`
	Usage           Usage           `json:"usage"`
	Cost            decimal.Decimal `json:"cost"`         // 提供商成本（未加价）
	BilledAmount    decimal.Decimal `json:"billedAmount"` // 由网关按计费策略填充
	PricingFallback bool            `json:"pricingFallback,omitempty"`
}

// StreamToken 流式增量
type StreamToken struct {
	Content      string `json:"content,omitempty"`
	FinishReason string `json:"finishReason,omitempty"`
	Usage        *Usage `json:"usage,omitempty"`
	Model        string `json:"model,omitempty"`
}

// StreamEvent 适配器输出的流事件，Err 非空时为终止事件
type StreamEvent struct {
	Token StreamToken
	Err   error
}

// GeneratedImage 单张生成图像
type GeneratedImage struct {
	URL  string `json:"url,omitempty"`
	Data []byte `json:"data,omitempty"`
}

// ImageResult 图像结果
type ImageResult struct {
	Provider        Provider         `json:"provider"`
	Model           string           `json:"model"`
	Images          []GeneratedImage `json:"images"`
	Width           int              `json:"width"`
	Height          int              `json:"height"`
	Seed            int64            `json:"seed,omitempty"`
	Cost            decimal.Decimal  `json:"cost"`
	BilledAmount    decimal.Decimal  `json:"billedAmount"`
	PricingFallback bool             `json:"pricingFallback,omitempty"`
}

// VideoStatus 视频任务状态
type VideoStatus string

const (
	VideoStatusQueued     VideoStatus = "queued"
	VideoStatusProcessing VideoStatus = "processing"
	VideoStatusCompleted  VideoStatus = "completed"
	VideoStatusFailed     VideoStatus = "failed"
)

// VideoResult 已完成的视频
type VideoResult struct {
	URL             string          `json:"url"`
	DurationSeconds float64         `json:"durationSeconds"`
	Cost            decimal.Decimal `json:"cost"`
}

// VideoJob 视频生成任务；同步完成的提供商直接携带 Result
type VideoJob struct {
	JobID           string          `json:"jobId"`
	Provider        Provider        `json:"provider"`
	Model           string          `json:"model"`
	Status          VideoStatus     `json:"status"`
	EstimatedCost   decimal.Decimal `json:"estimatedCost"`
	DurationSeconds int             `json:"durationSeconds"`
	Result          *VideoResult    `json:"result,omitempty"`
	PricingFallback bool            `json:"pricingFallback,omitempty"`
}

// VideoStatusResult 视频任务状态查询结果
type VideoStatusResult struct {
	JobID        string          `json:"jobId"`
	Provider     Provider        `json:"provider"`
	Model        string          `json:"model"`
	Status       VideoStatus     `json:"status"`
	Result       *VideoResult    `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
	BilledAmount decimal.Decimal `json:"billedAmount"`
}

// VoiceResult 语音结果
type VoiceResult struct {
	Provider        Provider        `json:"provider"`
	Model           string          `json:"model"`
	Audio           []byte          `json:"audio"`
	ContentType     string          `json:"contentType"`
	DurationSeconds float64         `json:"durationSeconds"`
	Characters      int             `json:"characters"`
	Cost            decimal.Decimal `json:"cost"`
	BilledAmount    decimal.Decimal `json:"billedAmount"`
	PricingFallback bool            `json:"pricingFallback,omitempty"`
}

// Adapter 所有提供商适配器的公共部分
type Adapter interface {
	Provider() Provider
}

// ChatProvider 对话能力
type ChatProvider interface {
	Adapter
	Chat(ctx context.Context, req *ChatRequest) (*LLMResponse, error)
}

// StreamingChatProvider 流式对话能力
// 返回的 channel 由适配器关闭；最后一个事件携带 FinishReason/Usage 或 Err
type StreamingChatProvider interface {
	ChatProvider
	StreamChat(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error)
}

// ImageProvider 文生图能力
type ImageProvider interface {
	Adapter
	GenerateImage(ctx context.Context, req *ImageRequest) (*ImageResult, error)
}

// ImageToImageProvider 图生图能力（可选）
type ImageToImageProvider interface {
	ImageToImage(ctx context.Context, req *ImageRequest) (*ImageResult, error)
}

// UpscaleProvider 图像放大能力（可选）
type UpscaleProvider interface {
	Upscale(ctx context.Context, req *UpscaleRequest) (*ImageResult, error)
}

// VideoProvider 视频生成能力
type VideoProvider interface {
	Adapter
	GenerateVideo(ctx context.Context, req *VideoRequest) (*VideoJob, error)
	GetVideoStatus(ctx context.Context, jobID, model string) (*VideoStatusResult, error)
}

// ImageToVideoProvider 图生视频能力（可选）
type ImageToVideoProvider interface {
	ImageToVideo(ctx context.Context, req *VideoRequest) (*VideoJob, error)
}

// VoiceProvider 语音合成能力
type VoiceProvider interface {
	Adapter
	TextToSpeech(ctx context.Context, req *VoiceRequest) (*VoiceResult, error)
}

// KeySource 凭证来源，由密钥解析器实现
type KeySource interface {
	Resolve(ctx context.Context, provider Provider) (string, error)
}

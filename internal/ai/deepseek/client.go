// Package deepseek DeepSeek 适配器
// DeepSeek API 兼容 OpenAI 格式，复用 OpenAI 兼容对话客户端
package deepseek

import (
	"aigateway/internal/ai/adapter"
	"aigateway/internal/ai/openai"
	"aigateway/pkg/aiinterface"
)

// DefaultBaseURL DeepSeek API 地址
const DefaultBaseURL = "https://api.deepseek.com"

// Client DeepSeek 客户端
type Client struct {
	*openai.ChatClient
}

// NewClient 创建 DeepSeek 客户端
func NewClient(cfg adapter.Config) *Client {
	return &Client{ChatClient: openai.NewChatClient(aiinterface.ProviderDeepSeek, cfg, DefaultBaseURL)}
}

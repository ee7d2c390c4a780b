// Package converters 中立对话请求与各提供商线格式之间的转换
package converters

import (
	"encoding/json"
	"strings"

	"aigateway/pkg/aiinterface"

	"github.com/tidwall/gjson"
)

// ClaudeDefaultMaxTokens Claude 要求必须指定 max_tokens
const ClaudeDefaultMaxTokens = 4096

// ClaudeContentBlock 内容块
type ClaudeContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

// ClaudeMessage Claude 消息格式
type ClaudeMessage struct {
	Role    string               `json:"role"`
	Content []ClaudeContentBlock `json:"content"`
}

// ClaudeTool 工具定义
type ClaudeTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

// ClaudeRequest Claude 请求格式
type ClaudeRequest struct {
	Model         string          `json:"model"`
	Messages      []ClaudeMessage `json:"messages"`
	System        string          `json:"system,omitempty"`
	MaxTokens     int             `json:"max_tokens"`
	Temperature   *float64        `json:"temperature,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Tools         []ClaudeTool    `json:"tools,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
}

// ToClaude 转换为 Claude Messages API 请求
//
// system 消息合并到独立的 system 字段；tool 消息转为 user 角色的 tool_result 块；
// 相邻同角色消息合并，满足 user/assistant 交替的要求。
func ToClaude(req *aiinterface.ChatRequest, model string) *ClaudeRequest {
	out := &ClaudeRequest{
		Model:         model,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		StopSequences: req.StopSequences,
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = ClaudeDefaultMaxTokens
	}

	var system []string
	for _, msg := range req.Messages {
		var role string
		var blocks []ClaudeContentBlock

		switch msg.Role {
		case "system":
			system = append(system, msg.Content)
			continue
		case "tool":
			role = "user"
			blocks = append(blocks, ClaudeContentBlock{
				Type:      "tool_result",
				ToolUseID: msg.ToolCallID,
				Content:   msg.Content,
			})
		case "assistant":
			role = "assistant"
			if msg.Content != "" {
				blocks = append(blocks, ClaudeContentBlock{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				input := json.RawMessage(tc.Function.Arguments)
				if !json.Valid(input) {
					input = json.RawMessage("{}")
				}
				blocks = append(blocks, ClaudeContentBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Function.Name,
					Input: input,
				})
			}
		default:
			role = "user"
			blocks = append(blocks, ClaudeContentBlock{Type: "text", Text: msg.Content})
		}

		if n := len(out.Messages); n > 0 && out.Messages[n-1].Role == role {
			out.Messages[n-1].Content = append(out.Messages[n-1].Content, blocks...)
			continue
		}
		out.Messages = append(out.Messages, ClaudeMessage{Role: role, Content: blocks})
	}
	out.System = strings.Join(system, "\n\n")

	for _, tool := range req.Tools {
		schema := tool.Function.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out.Tools = append(out.Tools, ClaudeTool{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			InputSchema: schema,
		})
	}
	return out
}

// FromClaude 解析 Claude 响应，Cost 由调用方填充
func FromClaude(body []byte) *aiinterface.LLMResponse {
	root := gjson.ParseBytes(body)
	resp := &aiinterface.LLMResponse{
		ID:           root.Get("id").String(),
		Model:        root.Get("model").String(),
		FinishReason: ClaudeFinishReason(root.Get("stop_reason").String()),
	}

	var text strings.Builder
	for _, block := range root.Get("content").Array() {
		switch block.Get("type").String() {
		case "text":
			text.WriteString(block.Get("text").String())
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, aiinterface.ToolCall{
				ID:   block.Get("id").String(),
				Type: "function",
				Function: aiinterface.FunctionCall{
					Name:      block.Get("name").String(),
					Arguments: block.Get("input").Raw,
				},
			})
		}
	}
	resp.Content = text.String()

	in := int(root.Get("usage.input_tokens").Int())
	out := int(root.Get("usage.output_tokens").Int())
	resp.Usage = aiinterface.Usage{InputTokens: in, OutputTokens: out, TotalTokens: in + out}
	return resp
}

// ClaudeFinishReason 统一结束原因
func ClaudeFinishReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return reason
	}
}

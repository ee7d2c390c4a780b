package converters

import (
	"encoding/json"
	"strings"

	"aigateway/pkg/aiinterface"

	"github.com/tidwall/gjson"
)

// GeminiFunctionCall 函数调用
type GeminiFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// GeminiFunctionResponse 函数调用结果
type GeminiFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// GeminiPart 消息部分
type GeminiPart struct {
	Text             string                  `json:"text,omitempty"`
	FunctionCall     *GeminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *GeminiFunctionResponse `json:"functionResponse,omitempty"`
}

// GeminiContent 内容
type GeminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []GeminiPart `json:"parts"`
}

// GeminiGenerationConfig 生成配置
type GeminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

// GeminiFunctionDeclaration 函数声明
type GeminiFunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// GeminiTool 工具
type GeminiTool struct {
	FunctionDeclarations []GeminiFunctionDeclaration `json:"functionDeclarations"`
}

// GeminiRequest Gemini 请求格式
type GeminiRequest struct {
	Contents          []GeminiContent         `json:"contents"`
	SystemInstruction *GeminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *GeminiGenerationConfig `json:"generationConfig,omitempty"`
	Tools             []GeminiTool            `json:"tools,omitempty"`
}

// ToGemini 转换为 generateContent 请求
//
// system 消息进入 systemInstruction；assistant 映射为 model；tool 消息转为 functionResponse。
func ToGemini(req *aiinterface.ChatRequest) *GeminiRequest {
	out := &GeminiRequest{
		GenerationConfig: &GeminiGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
			StopSequences:   req.StopSequences,
		},
	}

	// tool 消息只有 ToolCallID，函数名需要从之前的调用里找
	callNames := make(map[string]string)

	var system []GeminiPart
	for _, msg := range req.Messages {
		var content GeminiContent
		switch msg.Role {
		case "system":
			system = append(system, GeminiPart{Text: msg.Content})
			continue
		case "assistant":
			content.Role = "model"
			if msg.Content != "" {
				content.Parts = append(content.Parts, GeminiPart{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				callNames[tc.ID] = tc.Function.Name
				args := json.RawMessage(tc.Function.Arguments)
				if !json.Valid(args) {
					args = json.RawMessage("{}")
				}
				content.Parts = append(content.Parts, GeminiPart{
					FunctionCall: &GeminiFunctionCall{Name: tc.Function.Name, Args: args},
				})
			}
		case "tool":
			content.Role = "user"
			name := callNames[msg.ToolCallID]
			if name == "" {
				name = msg.Name
			}
			content.Parts = append(content.Parts, GeminiPart{
				FunctionResponse: &GeminiFunctionResponse{
					Name:     name,
					Response: map[string]any{"content": msg.Content},
				},
			})
		default:
			content.Role = "user"
			content.Parts = append(content.Parts, GeminiPart{Text: msg.Content})
		}
		out.Contents = append(out.Contents, content)
	}
	if len(system) > 0 {
		out.SystemInstruction = &GeminiContent{Parts: system}
	}

	if len(req.Tools) > 0 {
		tool := GeminiTool{}
		for _, t := range req.Tools {
			tool.FunctionDeclarations = append(tool.FunctionDeclarations, GeminiFunctionDeclaration{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			})
		}
		out.Tools = []GeminiTool{tool}
	}
	return out
}

// GeminiChunk 响应（或流式响应块）的中立表示
type GeminiChunk struct {
	Text         string
	ToolCalls    []aiinterface.ToolCall
	FinishReason string
	Usage        *aiinterface.Usage
	Model        string
}

// FromGemini 解析 generateContent 响应或 streamGenerateContent 的单个块
func FromGemini(body []byte) GeminiChunk {
	root := gjson.ParseBytes(body)
	candidate := root.Get("candidates.0")

	var chunk GeminiChunk
	var text strings.Builder
	for _, part := range candidate.Get("content.parts").Array() {
		if t := part.Get("text"); t.Exists() {
			text.WriteString(t.String())
		}
		if fc := part.Get("functionCall"); fc.Exists() {
			args := fc.Get("args").Raw
			if args == "" {
				args = "{}"
			}
			chunk.ToolCalls = append(chunk.ToolCalls, aiinterface.ToolCall{
				ID:   fc.Get("name").String(),
				Type: "function",
				Function: aiinterface.FunctionCall{
					Name:      fc.Get("name").String(),
					Arguments: args,
				},
			})
		}
	}
	chunk.Text = text.String()
	chunk.FinishReason = GeminiFinishReason(candidate.Get("finishReason").String())
	chunk.Model = root.Get("modelVersion").String()

	if um := root.Get("usageMetadata"); um.Exists() {
		in := int(um.Get("promptTokenCount").Int())
		out := int(um.Get("candidatesTokenCount").Int())
		total := int(um.Get("totalTokenCount").Int())
		if total == 0 {
			total = in + out
		}
		chunk.Usage = &aiinterface.Usage{InputTokens: in, OutputTokens: out, TotalTokens: total}
	}
	return chunk
}

// GeminiFinishReason 统一结束原因
func GeminiFinishReason(reason string) string {
	switch reason {
	case "":
		return ""
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT":
		return "content_filter"
	default:
		return strings.ToLower(reason)
	}
}

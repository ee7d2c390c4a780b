// Package openai OpenAI 适配器：对话、流式对话、文生图与语音合成
package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"aigateway/internal/ai/adapter"
	"aigateway/internal/billing"
	"aigateway/pkg/aiinterface"

	openai "github.com/sashabaranov/go-openai"
)

const (
	// DefaultBaseURL OpenAI API 地址
	DefaultBaseURL = "https://api.openai.com/v1"
	// DefaultVoice 默认音色
	DefaultVoice = "alloy"
	// charsPerSecond 语音时长估算：约每秒 15 个字符
	charsPerSecond = 15.0
)

// ChatClient OpenAI 兼容的对话客户端，DeepSeek 等兼容接口复用它
type ChatClient struct {
	provider aiinterface.Provider
	cfg      adapter.Config
}

// NewChatClient 创建兼容对话客户端
func NewChatClient(provider aiinterface.Provider, cfg adapter.Config, defaultBaseURL string) *ChatClient {
	return &ChatClient{provider: provider, cfg: cfg.Normalize(defaultBaseURL)}
}

// Client OpenAI 客户端适配器
type Client struct {
	*ChatClient
}

// NewClient 创建 OpenAI 客户端
func NewClient(cfg adapter.Config) *Client {
	return &Client{ChatClient: NewChatClient(aiinterface.ProviderOpenAI, cfg, DefaultBaseURL)}
}

// Provider 提供商标识
func (c *ChatClient) Provider() aiinterface.Provider {
	return c.provider
}

// sdk 每次调用按当前凭证创建 SDK 客户端，凭证轮换后立即生效
func (c *ChatClient) sdk(ctx context.Context) (*openai.Client, error) {
	key, err := c.cfg.APIKey(ctx, c.provider)
	if err != nil {
		return nil, err
	}
	conf := openai.DefaultConfig(key)
	conf.BaseURL = c.cfg.BaseURL
	conf.HTTPClient = c.cfg.HTTPDoer()
	return openai.NewClientWithConfig(conf), nil
}

// Chat 对话补全（非流式）
func (c *ChatClient) Chat(ctx context.Context, req *aiinterface.ChatRequest) (*aiinterface.LLMResponse, error) {
	quote, err := c.cfg.Quote(c.provider, aiinterface.ModalityChat, req.Model)
	if err != nil {
		return nil, err
	}
	client, err := c.sdk(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := client.CreateChatCompletion(ctx, buildChatRequest(req, quote.Model))
	if err != nil {
		return nil, adapter.Fail(c.provider, mapError(c.provider, err))
	}
	if len(resp.Choices) == 0 {
		return nil, adapter.Fail(c.provider, &aiinterface.UpstreamError{
			Provider: c.provider,
			Status:   http.StatusBadGateway,
			Message:  "API 返回空响应",
		})
	}

	choice := resp.Choices[0]
	usage := aiinterface.Usage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}
	return &aiinterface.LLMResponse{
		ID:              resp.ID,
		Provider:        c.provider,
		Model:           quote.Model,
		Content:         choice.Message.Content,
		ToolCalls:       fromToolCalls(choice.Message.ToolCalls),
		FinishReason:    string(choice.FinishReason),
		Usage:           usage,
		Cost:            adapter.Cost(quote, billing.TokenMetrics(usage.InputTokens, usage.OutputTokens)),
		PricingFallback: quote.FallbackUsed,
	}, nil
}

// StreamChat 流式对话
//
// 只有连接建立阶段会返回错误；之后的错误作为最后一个事件发送。
// 请求 include_usage，最后一个块携带用量。
func (c *ChatClient) StreamChat(ctx context.Context, req *aiinterface.ChatRequest) (<-chan aiinterface.StreamEvent, error) {
	quote, err := c.cfg.Quote(c.provider, aiinterface.ModalityChat, req.Model)
	if err != nil {
		return nil, err
	}
	client, err := c.sdk(ctx)
	if err != nil {
		return nil, err
	}

	chatReq := buildChatRequest(req, quote.Model)
	chatReq.Stream = true
	chatReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, adapter.Fail(c.provider, mapError(c.provider, err))
	}

	ch := make(chan aiinterface.StreamEvent, 16)
	go func() {
		defer close(ch)
		defer stream.Close()

		var finish string
		var usage *aiinterface.Usage
		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				if finish == "" {
					adapter.Send(ctx, ch, aiinterface.StreamEvent{Err: adapter.Fail(c.provider, &aiinterface.UpstreamError{
						Provider: c.provider,
						Status:   http.StatusBadGateway,
						Message:  "流在 finish_reason 之前结束",
					})})
					return
				}
				adapter.Send(ctx, ch, aiinterface.StreamEvent{Token: aiinterface.StreamToken{
					FinishReason: finish,
					Usage:        usage,
					Model:        quote.Model,
				}})
				return
			}
			if err != nil {
				adapter.Send(ctx, ch, aiinterface.StreamEvent{Err: adapter.Fail(c.provider, mapError(c.provider, err))})
				return
			}

			if chunk.Usage != nil {
				usage = &aiinterface.Usage{
					InputTokens:  chunk.Usage.PromptTokens,
					OutputTokens: chunk.Usage.CompletionTokens,
					TotalTokens:  chunk.Usage.TotalTokens,
				}
			}
			for _, choice := range chunk.Choices {
				if choice.FinishReason != "" {
					finish = string(choice.FinishReason)
				}
				if choice.Delta.Content == "" {
					continue
				}
				if !adapter.Send(ctx, ch, aiinterface.StreamEvent{Token: aiinterface.StreamToken{Content: choice.Delta.Content}}) {
					return
				}
			}
		}
	}()
	return ch, nil
}

// GenerateImage 文生图
func (c *Client) GenerateImage(ctx context.Context, req *aiinterface.ImageRequest) (*aiinterface.ImageResult, error) {
	quote, err := c.cfg.Quote(c.provider, aiinterface.ModalityImage, req.Model)
	if err != nil {
		return nil, err
	}
	client, err := c.sdk(ctx)
	if err != nil {
		return nil, err
	}

	prompt := req.Prompt
	if req.NegativePrompt != "" {
		// DALL·E 没有反向提示词参数，追加到提示词末尾
		prompt += "\n\nAvoid: " + req.NegativePrompt
	}
	size := imageSize(req.Width, req.Height)
	imgReq := openai.ImageRequest{
		Prompt: prompt,
		Model:  quote.Model,
		N:      1,
		Size:   size,
	}
	if strings.HasPrefix(quote.Model, "dall-e") {
		imgReq.ResponseFormat = openai.CreateImageResponseFormatB64JSON
	}
	if quote.Model == openai.CreateImageModelDallE3 && (req.Style == openai.CreateImageStyleVivid || req.Style == openai.CreateImageStyleNatural) {
		imgReq.Style = req.Style
	}

	resp, err := client.CreateImage(ctx, imgReq)
	if err != nil {
		return nil, adapter.Fail(c.provider, mapError(c.provider, err))
	}

	images := make([]aiinterface.GeneratedImage, 0, len(resp.Data))
	for _, d := range resp.Data {
		img := aiinterface.GeneratedImage{URL: d.URL}
		if d.B64JSON != "" {
			data, err := base64.StdEncoding.DecodeString(d.B64JSON)
			if err != nil {
				return nil, adapter.Fail(c.provider, fmt.Errorf("解码图像失败: %w", err))
			}
			img.Data = data
		}
		images = append(images, img)
	}
	if len(images) == 0 {
		return nil, adapter.Fail(c.provider, &aiinterface.UpstreamError{
			Provider: c.provider,
			Status:   http.StatusBadGateway,
			Message:  "API 未返回图像",
		})
	}

	width, height := parseSize(size)
	return &aiinterface.ImageResult{
		Provider:        c.provider,
		Model:           quote.Model,
		Images:          images,
		Width:           width,
		Height:          height,
		Cost:            adapter.Cost(quote, billing.UnitMetrics(float64(len(images)))),
		PricingFallback: quote.FallbackUsed,
	}, nil
}

// TextToSpeech 语音合成，按字符计价
func (c *Client) TextToSpeech(ctx context.Context, req *aiinterface.VoiceRequest) (*aiinterface.VoiceResult, error) {
	quote, err := c.cfg.Quote(c.provider, aiinterface.ModalityVoice, req.Model)
	if err != nil {
		return nil, err
	}
	client, err := c.sdk(ctx)
	if err != nil {
		return nil, err
	}

	voice := req.VoiceID
	if voice == "" {
		voice = DefaultVoice
	}
	raw, err := client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(quote.Model),
		Input:          req.Text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, adapter.Fail(c.provider, mapError(c.provider, err))
	}
	defer raw.Close()

	audio, err := io.ReadAll(raw)
	if err != nil {
		return nil, adapter.Fail(c.provider, fmt.Errorf("读取音频失败: %w", err))
	}

	chars := utf8.RuneCountInString(req.Text)
	return &aiinterface.VoiceResult{
		Provider:        c.provider,
		Model:           quote.Model,
		Audio:           audio,
		ContentType:     "audio/mpeg",
		DurationSeconds: float64(chars) / charsPerSecond,
		Characters:      chars,
		Cost:            adapter.Cost(quote, billing.UnitMetrics(float64(chars))),
		PricingFallback: quote.FallbackUsed,
	}, nil
}

// buildChatRequest 转换为 go-openai 请求
func buildChatRequest(req *aiinterface.ChatRequest, model string) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		m := openai.ChatCompletionMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			Name:       msg.Name,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		messages = append(messages, m)
	}

	out := openai.ChatCompletionRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
		Stop:      req.StopSequences,
	}
	if req.Temperature != nil {
		out.Temperature = float32(*req.Temperature)
	}
	for _, tool := range req.Tools {
		params := tool.Function.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out.Tools = append(out.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Function.Name,
				Description: tool.Function.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

func fromToolCalls(calls []openai.ToolCall) []aiinterface.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]aiinterface.ToolCall, 0, len(calls))
	for _, tc := range calls {
		out = append(out, aiinterface.ToolCall{
			ID:   tc.ID,
			Type: string(tc.Type),
			Function: aiinterface.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return out
}

// mapError 将 SDK 错误转换为带状态码的 UpstreamError，保留可重试语义
func mapError(provider aiinterface.Provider, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &aiinterface.UpstreamError{
			Provider: provider,
			Status:   apiErr.HTTPStatusCode,
			Message:  apiErr.Message,
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := http.StatusText(reqErr.HTTPStatusCode)
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &aiinterface.UpstreamError{
			Provider: provider,
			Status:   reqErr.HTTPStatusCode,
			Message:  msg,
		}
	}
	return err
}

// imageSize DALL·E 只接受固定尺寸，未指定时使用 1024x1024
func imageSize(width, height int) string {
	switch {
	case width <= 0 || height <= 0:
		return openai.CreateImageSize1024x1024
	case width > height:
		return openai.CreateImageSize1792x1024
	case height > width:
		return openai.CreateImageSize1024x1792
	default:
		return openai.CreateImageSize1024x1024
	}
}

func parseSize(size string) (int, int) {
	w, h, ok := strings.Cut(size, "x")
	if !ok {
		return 0, 0
	}
	width, _ := strconv.Atoi(w)
	height, _ := strconv.Atoi(h)
	return width, height
}

// Package anthropic Anthropic Claude 适配器
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"aigateway/internal/ai/adapter"
	"aigateway/internal/ai/converters"
	"aigateway/internal/billing"
	"aigateway/internal/sse"
	"aigateway/pkg/aiinterface"
	"aigateway/pkg/httputil"

	"github.com/tidwall/gjson"
)

const (
	// DefaultBaseURL Anthropic API 地址
	DefaultBaseURL = "https://api.anthropic.com"
	// APIVersion anthropic-version 请求头
	APIVersion = "2023-06-01"
)

// Client Anthropic Claude 客户端适配器
type Client struct {
	cfg  adapter.Config
	http *httputil.Client
}

// NewClient 创建 Anthropic 客户端
func NewClient(cfg adapter.Config) *Client {
	cfg = cfg.Normalize(DefaultBaseURL)
	return &Client{cfg: cfg, http: cfg.NewHTTPClient(aiinterface.ProviderAnthropic)}
}

// Provider 提供商标识
func (c *Client) Provider() aiinterface.Provider {
	return aiinterface.ProviderAnthropic
}

// prepare 查价、解析凭证并序列化请求
func (c *Client) prepare(ctx context.Context, req *aiinterface.ChatRequest, stream bool) (billing.Quote, httputil.Request, error) {
	quote, err := c.cfg.Quote(c.Provider(), aiinterface.ModalityChat, req.Model)
	if err != nil {
		return billing.Quote{}, httputil.Request{}, err
	}
	key, err := c.cfg.APIKey(ctx, c.Provider())
	if err != nil {
		return billing.Quote{}, httputil.Request{}, err
	}

	body := converters.ToClaude(req, quote.Model)
	body.Stream = stream
	data, err := json.Marshal(body)
	if err != nil {
		return billing.Quote{}, httputil.Request{}, fmt.Errorf("序列化请求失败: %w", err)
	}

	headers := map[string]string{
		"x-api-key":         key,
		"anthropic-version": APIVersion,
	}
	if stream {
		headers["Accept"] = "text/event-stream"
	}
	return quote, httputil.Request{
		Method:      http.MethodPost,
		URL:         c.cfg.BaseURL + "/v1/messages",
		Body:        data,
		ContentType: "application/json",
		Headers:     headers,
	}, nil
}

// Chat 对话补全（非流式）
func (c *Client) Chat(ctx context.Context, req *aiinterface.ChatRequest) (*aiinterface.LLMResponse, error) {
	quote, httpReq, err := c.prepare(ctx, req, false)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(ctx, httpReq)
	if err != nil {
		return nil, adapter.Fail(c.Provider(), err)
	}

	out := converters.FromClaude(resp.Body)
	out.Provider = c.Provider()
	out.Model = quote.Model
	out.Cost = adapter.Cost(quote, billing.TokenMetrics(out.Usage.InputTokens, out.Usage.OutputTokens))
	out.PricingFallback = quote.FallbackUsed
	return out, nil
}

// StreamChat 流式对话
//
// 事件顺序：message_start（输入 token）-> content_block_delta* -> message_delta（结束原因与输出 token）-> message_stop。
func (c *Client) StreamChat(ctx context.Context, req *aiinterface.ChatRequest) (<-chan aiinterface.StreamEvent, error) {
	quote, httpReq, err := c.prepare(ctx, req, true)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Stream(ctx, httpReq)
	if err != nil {
		return nil, adapter.Fail(c.Provider(), err)
	}

	ch := make(chan aiinterface.StreamEvent, 16)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		var usage aiinterface.Usage
		var finish string
		fail := func(err error) {
			adapter.Send(ctx, ch, aiinterface.StreamEvent{Err: adapter.Fail(c.Provider(), err)})
		}

		reader := sse.NewReader(resp.Body)
		for {
			msg, err := reader.Next()
			if errors.Is(err, io.EOF) {
				fail(&aiinterface.UpstreamError{
					Provider: c.Provider(),
					Status:   http.StatusBadGateway,
					Message:  "流在 message_stop 之前结束",
				})
				return
			}
			if err != nil {
				fail(err)
				return
			}

			data := gjson.Parse(msg.Data)
			event := msg.Event
			if event == "" {
				event = data.Get("type").String()
			}

			switch event {
			case "message_start":
				usage.InputTokens = int(data.Get("message.usage.input_tokens").Int())
			case "content_block_delta":
				text := data.Get("delta.text").String()
				if data.Get("delta.type").String() != "text_delta" || text == "" {
					continue
				}
				if !adapter.Send(ctx, ch, aiinterface.StreamEvent{Token: aiinterface.StreamToken{Content: text}}) {
					return
				}
			case "message_delta":
				if reason := data.Get("delta.stop_reason").String(); reason != "" {
					finish = converters.ClaudeFinishReason(reason)
				}
				usage.OutputTokens = int(data.Get("usage.output_tokens").Int())
			case "message_stop":
				usage.TotalTokens = usage.InputTokens + usage.OutputTokens
				if finish == "" {
					finish = "stop"
				}
				adapter.Send(ctx, ch, aiinterface.StreamEvent{Token: aiinterface.StreamToken{
					FinishReason: finish,
					Usage:        &usage,
					Model:        quote.Model,
				}})
				return
			case "error":
				fail(&aiinterface.UpstreamError{
					Provider: c.Provider(),
					Status:   streamErrorStatus(data.Get("error.type").String()),
					Body:     msg.Data,
					Message:  data.Get("error.message").String(),
				})
				return
			}
		}
	}()
	return ch, nil
}

// streamErrorStatus 流内错误没有 HTTP 状态码，按错误类型映射以保留可重试语义
func streamErrorStatus(errType string) int {
	switch errType {
	case "overloaded_error":
		return 529
	case "rate_limit_error":
		return http.StatusTooManyRequests
	case "api_error":
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// Package google Google Gemini 适配器
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"aigateway/internal/ai/adapter"
	"aigateway/internal/ai/converters"
	"aigateway/internal/billing"
	"aigateway/internal/sse"
	"aigateway/pkg/aiinterface"
	"aigateway/pkg/httputil"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// DefaultBaseURL Gemini API 地址
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Client Google Gemini 客户端
type Client struct {
	cfg  adapter.Config
	http *httputil.Client
}

// NewClient 创建 Gemini 客户端
func NewClient(cfg adapter.Config) *Client {
	cfg = cfg.Normalize(DefaultBaseURL)
	return &Client{cfg: cfg, http: cfg.NewHTTPClient(aiinterface.ProviderGoogle)}
}

// Provider 提供商标识
func (c *Client) Provider() aiinterface.Provider {
	return aiinterface.ProviderGoogle
}

func (c *Client) prepare(ctx context.Context, req *aiinterface.ChatRequest, action string) (billing.Quote, httputil.Request, error) {
	quote, err := c.cfg.Quote(c.Provider(), aiinterface.ModalityChat, req.Model)
	if err != nil {
		return billing.Quote{}, httputil.Request{}, err
	}
	key, err := c.cfg.APIKey(ctx, c.Provider())
	if err != nil {
		return billing.Quote{}, httputil.Request{}, err
	}

	data, err := json.Marshal(converters.ToGemini(req))
	if err != nil {
		return billing.Quote{}, httputil.Request{}, fmt.Errorf("序列化请求失败: %w", err)
	}
	return quote, httputil.Request{
		Method:      http.MethodPost,
		URL:         fmt.Sprintf("%s/models/%s:%s", c.cfg.BaseURL, url.PathEscape(quote.Model), action),
		Body:        data,
		ContentType: "application/json",
		Headers:     map[string]string{"x-goog-api-key": key},
	}, nil
}

// Chat 对话补全（非流式）
func (c *Client) Chat(ctx context.Context, req *aiinterface.ChatRequest) (*aiinterface.LLMResponse, error) {
	quote, httpReq, err := c.prepare(ctx, req, "generateContent")
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(ctx, httpReq)
	if err != nil {
		return nil, adapter.Fail(c.Provider(), err)
	}

	chunk := converters.FromGemini(resp.Body)
	var usage aiinterface.Usage
	if chunk.Usage != nil {
		usage = *chunk.Usage
	}
	finish := chunk.FinishReason
	if len(chunk.ToolCalls) > 0 {
		finish = "tool_calls"
	}
	return &aiinterface.LLMResponse{
		// Gemini 响应没有 ID
		ID:              uuid.NewString(),
		Provider:        c.Provider(),
		Model:           quote.Model,
		Content:         chunk.Text,
		ToolCalls:       chunk.ToolCalls,
		FinishReason:    finish,
		Usage:           usage,
		Cost:            adapter.Cost(quote, billing.TokenMetrics(usage.InputTokens, usage.OutputTokens)),
		PricingFallback: quote.FallbackUsed,
	}, nil
}

// StreamChat 流式对话，usageMetadata 随最后的块返回
func (c *Client) StreamChat(ctx context.Context, req *aiinterface.ChatRequest) (<-chan aiinterface.StreamEvent, error) {
	quote, httpReq, err := c.prepare(ctx, req, "streamGenerateContent?alt=sse")
	if err != nil {
		return nil, err
	}
	httpReq.Headers["Accept"] = "text/event-stream"

	resp, err := c.http.Stream(ctx, httpReq)
	if err != nil {
		return nil, adapter.Fail(c.Provider(), err)
	}

	ch := make(chan aiinterface.StreamEvent, 16)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		var finish string
		var usage *aiinterface.Usage
		reader := sse.NewReader(resp.Body)
		for {
			msg, err := reader.Next()
			if errors.Is(err, io.EOF) {
				if finish == "" {
					adapter.Send(ctx, ch, aiinterface.StreamEvent{Err: adapter.Fail(c.Provider(), &aiinterface.UpstreamError{
						Provider: c.Provider(),
						Status:   http.StatusBadGateway,
						Message:  "流在 finishReason 之前结束",
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
				adapter.Send(ctx, ch, aiinterface.StreamEvent{Err: adapter.Fail(c.Provider(), err)})
				return
			}

			if e := gjson.Get(msg.Data, "error"); e.Exists() {
				adapter.Send(ctx, ch, aiinterface.StreamEvent{Err: adapter.Fail(c.Provider(), &aiinterface.UpstreamError{
					Provider: c.Provider(),
					Status:   int(e.Get("code").Int()),
					Body:     msg.Data,
					Message:  e.Get("message").String(),
				})})
				return
			}

			chunk := converters.FromGemini([]byte(msg.Data))
			if chunk.Usage != nil {
				usage = chunk.Usage
			}
			if chunk.FinishReason != "" {
				finish = chunk.FinishReason
			}
			if chunk.Text == "" {
				continue
			}
			if !adapter.Send(ctx, ch, aiinterface.StreamEvent{Token: aiinterface.StreamToken{Content: chunk.Text}}) {
				return
			}
		}
	}()
	return ch, nil
}

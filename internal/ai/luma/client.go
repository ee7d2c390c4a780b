// Package luma Luma Dream Machine 视频生成适配器
package luma

import (
	"context"
	"fmt"
	"net/url"

	"aigateway/internal/ai/adapter"
	"aigateway/internal/billing"
	"aigateway/pkg/aiinterface"
	"aigateway/pkg/httputil"

	"go.uber.org/zap"
)

const (
	// DefaultBaseURL Luma API 地址
	DefaultBaseURL = "https://api.lumalabs.ai"
	// DefaultDuration 默认时长（秒），Luma 支持 5s 与 9s
	DefaultDuration = 5
	longDuration    = 9
)

type keyframe struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type createRequest struct {
	Prompt      string              `json:"prompt,omitempty"`
	Model       string              `json:"model"`
	AspectRatio string              `json:"aspect_ratio,omitempty"`
	Duration    string              `json:"duration"`
	Keyframes   map[string]keyframe `json:"keyframes,omitempty"`
}

type generation struct {
	ID            string `json:"id"`
	State         string `json:"state"`
	FailureReason string `json:"failure_reason"`
	Assets        struct {
		Video string `json:"video"`
	} `json:"assets"`
	Request struct {
		Duration string `json:"duration"`
	} `json:"request"`
}

// Client Luma 客户端
type Client struct {
	cfg  adapter.Config
	http *httputil.Client
}

// NewClient 创建 Luma 客户端
func NewClient(cfg adapter.Config) *Client {
	cfg = cfg.Normalize(DefaultBaseURL)
	return &Client{cfg: cfg, http: cfg.NewHTTPClient(aiinterface.ProviderLuma)}
}

// Provider 提供商标识
func (c *Client) Provider() aiinterface.Provider {
	return aiinterface.ProviderLuma
}

func (c *Client) headers(ctx context.Context) (map[string]string, error) {
	key, err := c.cfg.APIKey(ctx, c.Provider())
	if err != nil {
		return nil, err
	}
	return map[string]string{"Authorization": "Bearer " + key}, nil
}

// GenerateVideo 提交生成任务；ImageURL 作为首帧关键帧
func (c *Client) GenerateVideo(ctx context.Context, req *aiinterface.VideoRequest) (*aiinterface.VideoJob, error) {
	quote, err := c.cfg.Quote(c.Provider(), aiinterface.ModalityVideo, req.Model)
	if err != nil {
		return nil, err
	}
	headers, err := c.headers(ctx)
	if err != nil {
		return nil, err
	}

	duration := DefaultDuration
	if req.DurationSeconds > DefaultDuration {
		duration = longDuration
	}
	body := createRequest{
		Prompt:      req.Prompt,
		Model:       quote.Model,
		AspectRatio: req.AspectRatio,
		Duration:    fmt.Sprintf("%ds", duration),
	}
	if req.ImageURL != "" {
		body.Keyframes = map[string]keyframe{"frame0": {Type: "image", URL: req.ImageURL}}
	}

	var gen generation
	if err := c.http.PostJSON(ctx, c.cfg.BaseURL+"/dream-machine/v1/generations", headers, body, &gen); err != nil {
		return nil, adapter.Fail(c.Provider(), err)
	}
	if gen.ID == "" {
		return nil, adapter.Fail(c.Provider(), fmt.Errorf("API 未返回任务 ID"))
	}

	return &aiinterface.VideoJob{
		JobID:           gen.ID,
		Provider:        c.Provider(),
		Model:           quote.Model,
		Status:          mapState(gen.State),
		EstimatedCost:   adapter.Cost(quote, billing.UnitMetrics(float64(duration))),
		DurationSeconds: duration,
		PricingFallback: quote.FallbackUsed,
	}, nil
}

// ImageToVideo 图生视频
func (c *Client) ImageToVideo(ctx context.Context, req *aiinterface.VideoRequest) (*aiinterface.VideoJob, error) {
	if req.ImageURL == "" {
		return nil, &aiinterface.ValidationError{Field: "imageUrl", Message: "图生视频需要 imageUrl"}
	}
	return c.GenerateVideo(ctx, req)
}

// GetVideoStatus 查询生成状态，完成时按请求时长计算成本
func (c *Client) GetVideoStatus(ctx context.Context, jobID, model string) (*aiinterface.VideoStatusResult, error) {
	headers, err := c.headers(ctx)
	if err != nil {
		return nil, err
	}

	var gen generation
	if err := c.http.GetJSON(ctx, c.cfg.BaseURL+"/dream-machine/v1/generations/"+url.PathEscape(jobID), headers, &gen); err != nil {
		return nil, adapter.Fail(c.Provider(), err)
	}

	out := &aiinterface.VideoStatusResult{
		JobID:    jobID,
		Provider: c.Provider(),
		Model:    model,
		Status:   mapState(gen.State),
	}
	switch out.Status {
	case aiinterface.VideoStatusCompleted:
		var seconds int
		_, _ = fmt.Sscanf(gen.Request.Duration, "%ds", &seconds)
		result := &aiinterface.VideoResult{URL: gen.Assets.Video, DurationSeconds: float64(seconds)}
		if seconds > 0 {
			quote, err := c.cfg.Quote(c.Provider(), aiinterface.ModalityVideo, model)
			if err != nil {
				c.cfg.Logger.Warn("视频任务计价失败", zap.String("job_id", jobID), zap.String("model", model), zap.Error(err))
				return nil, fmt.Errorf("视频任务 %s 计价失败: %w", jobID, err)
			}
			result.Cost = adapter.Cost(quote, billing.UnitMetrics(float64(seconds)))
		}
		out.Result = result
	case aiinterface.VideoStatusFailed:
		out.Error = gen.FailureReason
	}
	return out, nil
}

func mapState(state string) aiinterface.VideoStatus {
	switch state {
	case "completed":
		return aiinterface.VideoStatusCompleted
	case "failed":
		return aiinterface.VideoStatusFailed
	case "dreaming":
		return aiinterface.VideoStatusProcessing
	default:
		return aiinterface.VideoStatusQueued
	}
}

// Package runway Runway 视频生成适配器（异步任务）
package runway

import (
	"context"
	"fmt"
	"net/url"

	"aigateway/internal/ai/adapter"
	"aigateway/internal/billing"
	"aigateway/pkg/aiinterface"
	"aigateway/pkg/httputil"
)

const (
	// DefaultBaseURL Runway API 地址
	DefaultBaseURL = "https://api.dev.runwayml.com"
	// APIVersion X-Runway-Version 请求头
	APIVersion = "2024-11-06"
	// DefaultDuration 默认时长（秒），Runway 仅支持 5 或 10
	DefaultDuration = 5
)

// ratios 宽高比到 Runway 分辨率的映射
var ratios = map[string]string{
	"16:9": "1280:720",
	"9:16": "720:1280",
	"1:1":  "960:960",
	"4:3":  "1104:832",
	"3:4":  "832:1104",
	"21:9": "1584:672",
}

type createRequest struct {
	Model       string `json:"model"`
	PromptText  string `json:"promptText,omitempty"`
	PromptImage string `json:"promptImage,omitempty"`
	Ratio       string `json:"ratio"`
	Duration    int    `json:"duration"`
}

type taskResponse struct {
	ID       string   `json:"id"`
	Status   string   `json:"status"`
	Output   []string `json:"output"`
	Failure  string   `json:"failure"`
	Progress float64  `json:"progress"`
}

// Client Runway 客户端
type Client struct {
	cfg  adapter.Config
	http *httputil.Client
}

// NewClient 创建 Runway 客户端
func NewClient(cfg adapter.Config) *Client {
	cfg = cfg.Normalize(DefaultBaseURL)
	return &Client{cfg: cfg, http: cfg.NewHTTPClient(aiinterface.ProviderRunway)}
}

// Provider 提供商标识
func (c *Client) Provider() aiinterface.Provider {
	return aiinterface.ProviderRunway
}

func (c *Client) headers(ctx context.Context) (map[string]string, error) {
	key, err := c.cfg.APIKey(ctx, c.Provider())
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"Authorization":    "Bearer " + key,
		"X-Runway-Version": APIVersion,
	}, nil
}

// GenerateVideo 提交视频生成任务；携带 ImageURL 时走图生视频
func (c *Client) GenerateVideo(ctx context.Context, req *aiinterface.VideoRequest) (*aiinterface.VideoJob, error) {
	quote, err := c.cfg.Quote(c.Provider(), aiinterface.ModalityVideo, req.Model)
	if err != nil {
		return nil, err
	}
	headers, err := c.headers(ctx)
	if err != nil {
		return nil, err
	}

	duration := normalizeDuration(req.DurationSeconds)
	body := createRequest{
		Model:       quote.Model,
		PromptText:  req.Prompt,
		PromptImage: req.ImageURL,
		Ratio:       ratio(req.AspectRatio),
		Duration:    duration,
	}
	endpoint := "/v1/text_to_video"
	if req.ImageURL != "" {
		endpoint = "/v1/image_to_video"
	}

	var task taskResponse
	if err := c.http.PostJSON(ctx, c.cfg.BaseURL+endpoint, headers, body, &task); err != nil {
		return nil, adapter.Fail(c.Provider(), err)
	}
	if task.ID == "" {
		return nil, adapter.Fail(c.Provider(), fmt.Errorf("API 未返回任务 ID"))
	}

	return &aiinterface.VideoJob{
		JobID:           task.ID,
		Provider:        c.Provider(),
		Model:           quote.Model,
		Status:          aiinterface.VideoStatusQueued,
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

// GetVideoStatus 查询任务状态；Runway 不返回成片时长，由调用方按提交时长计费
func (c *Client) GetVideoStatus(ctx context.Context, jobID, model string) (*aiinterface.VideoStatusResult, error) {
	headers, err := c.headers(ctx)
	if err != nil {
		return nil, err
	}

	var task taskResponse
	if err := c.http.GetJSON(ctx, c.cfg.BaseURL+"/v1/tasks/"+url.PathEscape(jobID), headers, &task); err != nil {
		return nil, adapter.Fail(c.Provider(), err)
	}

	out := &aiinterface.VideoStatusResult{
		JobID:    jobID,
		Provider: c.Provider(),
		Model:    model,
		Status:   mapStatus(task.Status),
	}
	switch out.Status {
	case aiinterface.VideoStatusCompleted:
		if len(task.Output) > 0 {
			out.Result = &aiinterface.VideoResult{URL: task.Output[0]}
		}
	case aiinterface.VideoStatusFailed:
		out.Error = task.Failure
		if out.Error == "" {
			out.Error = "任务" + task.Status
		}
	}
	return out, nil
}

func mapStatus(s string) aiinterface.VideoStatus {
	switch s {
	case "SUCCEEDED":
		return aiinterface.VideoStatusCompleted
	case "FAILED", "CANCELLED":
		return aiinterface.VideoStatusFailed
	case "RUNNING":
		return aiinterface.VideoStatusProcessing
	default: // PENDING, THROTTLED
		return aiinterface.VideoStatusQueued
	}
}

func normalizeDuration(seconds int) int {
	if seconds > DefaultDuration {
		return 10
	}
	return DefaultDuration
}

func ratio(aspect string) string {
	if r, ok := ratios[aspect]; ok {
		return r
	}
	return ratios["16:9"]
}

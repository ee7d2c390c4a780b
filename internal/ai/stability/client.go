// Package stability Stability AI 适配器：文生图、图生图与放大
package stability

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"aigateway/internal/ai/adapter"
	"aigateway/internal/billing"
	"aigateway/pkg/aiinterface"
	"aigateway/pkg/httputil"

	"github.com/tidwall/gjson"
)

const (
	// DefaultBaseURL Stability API 地址
	DefaultBaseURL = "https://api.stability.ai"
	// DefaultUpscaleModel 未指定放大模型时使用
	DefaultUpscaleModel = "upscale-fast"
	// DefaultImageToImageModel 图生图只有 SD3 系列支持
	DefaultImageToImageModel = "sd3.5-large"
)

// aspectRatios 支持的宽高比
var aspectRatios = []struct {
	name  string
	ratio float64
}{
	{"21:9", 21.0 / 9}, {"16:9", 16.0 / 9}, {"3:2", 3.0 / 2}, {"5:4", 5.0 / 4},
	{"1:1", 1}, {"4:5", 4.0 / 5}, {"2:3", 2.0 / 3}, {"9:16", 9.0 / 16}, {"9:21", 9.0 / 21},
}

// Client Stability AI 客户端
type Client struct {
	cfg  adapter.Config
	http *httputil.Client
}

// NewClient 创建 Stability 客户端
func NewClient(cfg adapter.Config) *Client {
	cfg = cfg.Normalize(DefaultBaseURL)
	return &Client{cfg: cfg, http: cfg.NewHTTPClient(aiinterface.ProviderStability)}
}

// Provider 提供商标识
func (c *Client) Provider() aiinterface.Provider {
	return aiinterface.ProviderStability
}

// GenerateImage 文生图
func (c *Client) GenerateImage(ctx context.Context, req *aiinterface.ImageRequest) (*aiinterface.ImageResult, error) {
	if len(req.InitImage) > 0 {
		return c.ImageToImage(ctx, req)
	}
	quote, err := c.cfg.Quote(c.Provider(), aiinterface.ModalityImage, req.Model)
	if err != nil {
		return nil, err
	}

	fields := map[string]string{
		"prompt":        req.Prompt,
		"output_format": "png",
	}
	if req.NegativePrompt != "" {
		fields["negative_prompt"] = req.NegativePrompt
	}
	if req.Style != "" {
		fields["style_preset"] = req.Style
	}
	if req.Seed != nil {
		fields["seed"] = strconv.FormatInt(*req.Seed, 10)
	}
	if ratio := aspectRatio(req.Width, req.Height); ratio != "" {
		fields["aspect_ratio"] = ratio
	}

	endpoint := generateEndpoint(quote.Model)
	if strings.HasPrefix(quote.Model, "sd3") {
		fields["model"] = quote.Model
	}
	return c.post(ctx, quote, endpoint, fields, nil)
}

// ImageToImage 图生图，strength 越大与原图差异越大
func (c *Client) ImageToImage(ctx context.Context, req *aiinterface.ImageRequest) (*aiinterface.ImageResult, error) {
	if len(req.InitImage) == 0 {
		return nil, &aiinterface.ValidationError{Field: "initImage", Message: "图生图需要原始图像"}
	}
	model := req.Model
	if model == "" || !strings.HasPrefix(model, "sd3") {
		model = DefaultImageToImageModel
	}
	quote, err := c.cfg.Quote(c.Provider(), aiinterface.ModalityImage, model)
	if err != nil {
		return nil, err
	}

	strength := req.Strength
	if strength == 0 {
		strength = 0.5
	}
	fields := map[string]string{
		"prompt":        req.Prompt,
		"mode":          "image-to-image",
		"model":         quote.Model,
		"strength":      strconv.FormatFloat(strength, 'f', -1, 64),
		"output_format": "png",
	}
	if req.NegativePrompt != "" {
		fields["negative_prompt"] = req.NegativePrompt
	}
	if req.Seed != nil {
		fields["seed"] = strconv.FormatInt(*req.Seed, 10)
	}
	return c.post(ctx, quote, "/v2beta/stable-image/generate/sd3", fields, req.InitImage)
}

// Upscale 图像放大：fast 固定 4 倍，conservative 需要 prompt
func (c *Client) Upscale(ctx context.Context, req *aiinterface.UpscaleRequest) (*aiinterface.ImageResult, error) {
	model := req.Model
	if model == "" {
		model = DefaultUpscaleModel
	}
	quote, err := c.cfg.Quote(c.Provider(), aiinterface.ModalityImage, model)
	if err != nil {
		return nil, err
	}

	fields := map[string]string{"output_format": "png"}
	endpoint := "/v2beta/stable-image/upscale/fast"
	if quote.Model == "upscale-conservative" {
		endpoint = "/v2beta/stable-image/upscale/conservative"
		prompt := req.Prompt
		if prompt == "" {
			prompt = "high quality, detailed"
		}
		fields["prompt"] = prompt
	}
	return c.post(ctx, quote, endpoint, fields, req.Image)
}

// post 发送 multipart 请求并解析 JSON 结果（Accept: application/json 时图像以 base64 返回）
func (c *Client) post(ctx context.Context, quote billing.Quote, endpoint string, fields map[string]string, img []byte) (*aiinterface.ImageResult, error) {
	key, err := c.cfg.APIKey(ctx, c.Provider())
	if err != nil {
		return nil, err
	}

	body, contentType, err := multipartBody(fields, img)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(ctx, httputil.Request{
		Method:      http.MethodPost,
		URL:         c.cfg.BaseURL + endpoint,
		Body:        body,
		ContentType: contentType,
		Headers: map[string]string{
			"Authorization": "Bearer " + key,
			"Accept":        "application/json",
		},
	})
	if err != nil {
		return nil, adapter.Fail(c.Provider(), err)
	}

	root := gjson.ParseBytes(resp.Body)
	if reason := root.Get("finish_reason").String(); reason == "CONTENT_FILTERED" {
		return nil, adapter.Fail(c.Provider(), &aiinterface.UpstreamError{
			Provider: c.Provider(),
			Status:   http.StatusUnprocessableEntity,
			Message:  "生成结果被内容安全过滤",
		})
	}
	data, err := base64.StdEncoding.DecodeString(root.Get("image").String())
	if err != nil || len(data) == 0 {
		return nil, adapter.Fail(c.Provider(), &aiinterface.UpstreamError{
			Provider: c.Provider(),
			Status:   http.StatusBadGateway,
			Message:  "API 未返回有效图像",
		})
	}

	result := &aiinterface.ImageResult{
		Provider:        c.Provider(),
		Model:           quote.Model,
		Images:          []aiinterface.GeneratedImage{{Data: data}},
		Seed:            root.Get("seed").Int(),
		Cost:            adapter.Cost(quote, billing.UnitMetrics(1)),
		PricingFallback: quote.FallbackUsed,
	}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		result.Width, result.Height = cfg.Width, cfg.Height
	}
	return result, nil
}

func multipartBody(fields map[string]string, img []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("写入表单字段失败: %w", err)
		}
	}
	if len(img) > 0 {
		part, err := w.CreateFormFile("image", "image.png")
		if err != nil {
			return nil, "", fmt.Errorf("写入图像失败: %w", err)
		}
		if _, err := part.Write(img); err != nil {
			return nil, "", fmt.Errorf("写入图像失败: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("关闭表单失败: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func generateEndpoint(model string) string {
	switch {
	case model == "stable-image-ultra":
		return "/v2beta/stable-image/generate/ultra"
	case strings.HasPrefix(model, "sd3"):
		return "/v2beta/stable-image/generate/sd3"
	default:
		return "/v2beta/stable-image/generate/core"
	}
}

// aspectRatio 选取与请求尺寸最接近的宽高比
func aspectRatio(width, height int) string {
	if width <= 0 || height <= 0 {
		return ""
	}
	want := float64(width) / float64(height)
	best, bestDiff := "", math.MaxFloat64
	for _, ar := range aspectRatios {
		if diff := math.Abs(math.Log(want / ar.ratio)); diff < bestDiff {
			best, bestDiff = ar.name, diff
		}
	}
	return best
}

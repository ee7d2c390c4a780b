// Package elevenlabs ElevenLabs 语音合成适配器
package elevenlabs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"unicode/utf8"

	"aigateway/internal/ai/adapter"
	"aigateway/internal/billing"
	"aigateway/pkg/aiinterface"
	"aigateway/pkg/httputil"
)

const (
	// DefaultBaseURL ElevenLabs API 地址
	DefaultBaseURL = "https://api.elevenlabs.io"
	// DefaultVoice 默认音色（Rachel）
	DefaultVoice = "21m00Tcm4TlvDq8Ikwv0"
	// outputFormat 固定 128kbps MP3，时长可由字节数推算
	outputFormat  = "mp3_44100_128"
	bitsPerSecond = 128000
)

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type ttsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// Client ElevenLabs 客户端
type Client struct {
	cfg  adapter.Config
	http *httputil.Client
}

// NewClient 创建 ElevenLabs 客户端
func NewClient(cfg adapter.Config) *Client {
	cfg = cfg.Normalize(DefaultBaseURL)
	return &Client{cfg: cfg, http: cfg.NewHTTPClient(aiinterface.ProviderElevenLabs)}
}

// Provider 提供商标识
func (c *Client) Provider() aiinterface.Provider {
	return aiinterface.ProviderElevenLabs
}

// TextToSpeech 语音合成，按字符计价
func (c *Client) TextToSpeech(ctx context.Context, req *aiinterface.VoiceRequest) (*aiinterface.VoiceResult, error) {
	quote, err := c.cfg.Quote(c.Provider(), aiinterface.ModalityVoice, req.Model)
	if err != nil {
		return nil, err
	}
	key, err := c.cfg.APIKey(ctx, c.Provider())
	if err != nil {
		return nil, err
	}

	settings := voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}
	if req.Stability != nil {
		settings.Stability = *req.Stability
	}
	if req.SimilarityBoost != nil {
		settings.SimilarityBoost = *req.SimilarityBoost
	}
	body, err := json.Marshal(ttsRequest{Text: req.Text, ModelID: quote.Model, VoiceSettings: settings})
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	voice := req.VoiceID
	if voice == "" {
		voice = DefaultVoice
	}
	resp, err := c.http.Do(ctx, httputil.Request{
		Method:      http.MethodPost,
		URL:         fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s", c.cfg.BaseURL, url.PathEscape(voice), outputFormat),
		Body:        body,
		ContentType: "application/json",
		Headers: map[string]string{
			"xi-api-key": key,
			"Accept":     "audio/mpeg",
		},
	})
	if err != nil {
		return nil, adapter.Fail(c.Provider(), err)
	}

	chars := utf8.RuneCountInString(req.Text)
	return &aiinterface.VoiceResult{
		Provider:        c.Provider(),
		Model:           quote.Model,
		Audio:           resp.Body,
		ContentType:     "audio/mpeg",
		DurationSeconds: float64(len(resp.Body)*8) / bitsPerSecond,
		Characters:      chars,
		Cost:            adapter.Cost(quote, billing.UnitMetrics(float64(chars))),
		PricingFallback: quote.FallbackUsed,
	}, nil
}

// Package adapter 提供商适配器的公共配置与辅助函数
package adapter

import (
	"context"
	"net/http"
	"strings"
	"time"

	"aigateway/internal/billing"
	"aigateway/internal/resilience"
	"aigateway/pkg/aiinterface"
	"aigateway/pkg/httputil"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultTimeout 单个上游请求的时间上限，实际的单次超时由网关控制
const DefaultTimeout = 120 * time.Second

// Config 适配器配置
type Config struct {
	BaseURL    string
	Keys       aiinterface.KeySource
	Catalog    *billing.Catalog
	Timeout    time.Duration
	HTTPClient *http.Client // 为空时使用默认 Transport
	Logger     *zap.Logger
}

// Normalize 填充默认值
func (c Config) Normalize(defaultBaseURL string) Config {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Catalog == nil {
		c.Catalog = billing.DefaultCatalog()
	}
	return c
}

// NewHTTPClient 创建单次尝试的 HTTP 客户端，重试由网关的弹性调用层负责
func (c Config) NewHTTPClient(provider aiinterface.Provider) *httputil.Client {
	opts := []httputil.ClientOption{
		httputil.WithProvider(provider),
		httputil.WithTimeout(c.Timeout),
		httputil.WithRetryPolicy(resilience.RetryPolicy{MaxRetries: 0}),
		httputil.WithLogger(c.Logger),
	}
	if c.HTTPClient != nil {
		opts = append(opts, httputil.WithHTTPClient(c.HTTPClient))
	}
	return httputil.NewClient(opts...)
}

// APIKey 解析凭证
func (c Config) APIKey(ctx context.Context, provider aiinterface.Provider) (string, error) {
	if c.Keys == nil {
		return "", &aiinterface.CredentialResolutionError{Provider: provider}
	}
	return c.Keys.Resolve(ctx, provider)
}

// Quote 调用前查询价格，模型为空时解析为默认模型
func (c Config) Quote(provider aiinterface.Provider, modality aiinterface.Modality, model string) (billing.Quote, error) {
	return c.Catalog.Lookup(provider, modality, model)
}

// Cost 按报价计算提供商成本
func Cost(q billing.Quote, m billing.Metrics) decimal.Decimal {
	return billing.ComputeProviderCost(m, q.Price)
}

// Fail 统一包装为 ProviderError
func Fail(provider aiinterface.Provider, err error) error {
	return aiinterface.NewProviderError(provider, err)
}

// Send 向流事件通道发送，调用方取消时返回 false
func Send(ctx context.Context, ch chan<- aiinterface.StreamEvent, ev aiinterface.StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// HTTPDoer 返回配置的 http.Client，未配置时使用无整体超时的默认客户端（流式响应需要）
func (c Config) HTTPDoer() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{}
}

// StaticKeys 固定凭证，用于本地调试与测试
type StaticKeys map[aiinterface.Provider]string

// Resolve 实现 aiinterface.KeySource
func (s StaticKeys) Resolve(_ context.Context, provider aiinterface.Provider) (string, error) {
	if key, ok := s[provider]; ok && key != "" {
		return key, nil
	}
	return "", &aiinterface.CredentialResolutionError{Provider: provider}
}

package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"aigateway/internal/resilience"
	"aigateway/pkg/aiinterface"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "aigateway/1.0"
	maxErrorBody     = 64 * 1024
)

// Client 带重试和单次超时的 HTTP 客户端，供提供商适配器和服务间调用共用
type Client struct {
	httpClient   *http.Client
	streamClient *http.Client
	timeout      time.Duration
	headers      map[string]string
	policy       resilience.RetryPolicy
	provider     aiinterface.Provider
	logger       *zap.Logger
}

// ClientOption 客户端配置选项
type ClientOption func(*Client)

// WithTimeout 单次尝试的超时时间
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithHeaders 设置默认请求头
func WithHeaders(headers map[string]string) ClientOption {
	return func(c *Client) {
		for k, v := range headers {
			c.headers[k] = v
		}
	}
}

// WithRetries 设置最大重试次数，沿用默认退避参数
func WithRetries(retries int) ClientOption {
	return func(c *Client) {
		c.policy.MaxRetries = retries
	}
}

// WithRetryPolicy 设置完整的重试策略
func WithRetryPolicy(policy resilience.RetryPolicy) ClientOption {
	return func(c *Client) {
		onRetry := c.policy.OnRetry
		c.policy = policy
		if c.policy.OnRetry == nil {
			c.policy.OnRetry = onRetry
		}
	}
}

// WithProvider 错误中标注提供商
func WithProvider(provider aiinterface.Provider) ClientOption {
	return func(c *Client) { c.provider = provider }
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient 替换底层 http.Client（测试或自定义 Transport）
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
		c.streamClient = hc
	}
}

// NewClient 创建 HTTP 客户端
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient:   &http.Client{},
		streamClient: &http.Client{},
		timeout:      defaultTimeout,
		headers:      map[string]string{"User-Agent": defaultUserAgent},
		policy:       resilience.DefaultRetryPolicy(),
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.policy.OnRetry == nil {
		c.policy.OnRetry = func(attempt int, err error, delay time.Duration) {
			c.logger.Warn("请求失败，准备重试",
				zap.String("provider", string(c.provider)),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
		}
	}
	return c
}

// Request 请求描述，Body 为字节切片以便重试时重放
type Request struct {
	Method      string
	URL         string
	Body        []byte
	ContentType string
	Headers     map[string]string
}

// Response 已完整读取的响应
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// JSON 解析响应体
func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("解析JSON响应失败: %w", err)
	}
	return nil
}

// Do 执行请求：每次尝试单独计时，5xx/429/网络错误/超时按策略重试，非 2xx 返回 UpstreamError
func (c *Client) Do(ctx context.Context, r Request) (*Response, error) {
	return resilience.Call(ctx, c.policy, c.timeout, c.timeoutMessage(r), func(ctx context.Context) (*Response, error) {
		resp, err := c.send(ctx, c.httpClient, r)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("读取响应失败: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, c.upstreamError(resp.StatusCode, body)
		}
		return &Response{Status: resp.StatusCode, Header: resp.Header, Body: body}, nil
	})
}

// Stream 建立流式连接：仅对建立连接的阶段重试，响应体由调用方读取并关闭
func (c *Client) Stream(ctx context.Context, r Request) (*http.Response, error) {
	return resilience.Retry(ctx, c.policy, func(ctx context.Context) (*http.Response, error) {
		resp, err := c.send(ctx, c.streamClient, r)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			return nil, c.upstreamError(resp.StatusCode, body)
		}
		return resp, nil
	})
}

// Get 发送 GET 请求
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, URL: url, Headers: headers})
}

// GetJSON 发送 GET 请求并解析 JSON 响应
func (c *Client) GetJSON(ctx context.Context, url string, headers map[string]string, result any) error {
	resp, err := c.Get(ctx, url, headers)
	if err != nil {
		return err
	}
	return resp.JSON(result)
}

// PostJSON 发送 JSON 请求并解析 JSON 响应，result 为 nil 时不解析
func (c *Client) PostJSON(ctx context.Context, url string, headers map[string]string, body, result any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("序列化请求体失败: %w", err)
	}
	resp, err := c.Do(ctx, Request{
		Method:      http.MethodPost,
		URL:         url,
		Body:        data,
		ContentType: "application/json",
		Headers:     headers,
	})
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	return resp.JSON(result)
}

func (c *Client) send(ctx context.Context, hc *http.Client, r Request) (*http.Response, error) {
	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, body)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	if r.ContentType != "" {
		req.Header.Set("Content-Type", r.ContentType)
	}
	return hc.Do(req)
}

func (c *Client) upstreamError(status int, body []byte) error {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &aiinterface.UpstreamError{
		Provider: c.provider,
		Status:   status,
		Body:     string(body),
		Message:  ExtractErrorMessage(body),
	}
}

func (c *Client) timeoutMessage(r Request) string {
	if c.provider != "" {
		return fmt.Sprintf("%s 请求超时", c.provider)
	}
	return fmt.Sprintf("%s %s 请求超时", r.Method, r.URL)
}

var errorMessagePaths = []string{
	"error.message",
	"error.msg",
	"message",
	"detail.message",
	"detail",
	"error",
	"errors.0.message",
	"failure",
}

// ExtractErrorMessage 从各提供商的错误响应体中提取可读信息
func ExtractErrorMessage(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	for _, path := range errorMessagePaths {
		if v := gjson.GetBytes(body, path); v.Exists() && v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

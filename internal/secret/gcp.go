package secret

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"

	"aigateway/pkg/aiinterface"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	secretManagerEndpoint = "https://secretmanager.googleapis.com"
	cloudPlatformScope    = "https://www.googleapis.com/auth/cloud-platform"
)

// GCPSecretManager 通过 Secret Manager REST 接口读取密钥
// 路径模板: projects/{project}/secrets/{provider}-api-key/versions/latest
type GCPSecretManager struct {
	project  string
	endpoint string
	client   *http.Client
}

// NewGCPSecretManager 使用指定的 token 来源创建客户端
func NewGCPSecretManager(ctx context.Context, project string, ts oauth2.TokenSource) *GCPSecretManager {
	return &GCPSecretManager{
		project:  project,
		endpoint: secretManagerEndpoint,
		client:   oauth2.NewClient(ctx, ts),
	}
}

// NewDefaultGCPSecretManager 使用应用默认凭证（ADC）
func NewDefaultGCPSecretManager(ctx context.Context, project string) (*GCPSecretManager, error) {
	ts, err := google.DefaultTokenSource(ctx, cloudPlatformScope)
	if err != nil {
		return nil, fmt.Errorf("获取 GCP 默认凭证失败: %w", err)
	}
	return NewGCPSecretManager(ctx, project, ts), nil
}

// WithEndpoint 替换接口地址
func (m *GCPSecretManager) WithEndpoint(endpoint string) *GCPSecretManager {
	m.endpoint = strings.TrimRight(endpoint, "/")
	return m
}

// Name 实现 Source
func (m *GCPSecretManager) Name() string { return "gcp_secret_manager" }

// SecretPath 密钥资源路径
func (m *GCPSecretManager) SecretPath(provider aiinterface.Provider) string {
	return fmt.Sprintf("projects/%s/secrets/%s-api-key/versions/latest", m.project, provider)
}

// Lookup 实现 Source
func (m *GCPSecretManager) Lookup(ctx context.Context, provider aiinterface.Provider) (string, error) {
	url := fmt.Sprintf("%s/v1/%s:access", m.endpoint, m.SecretPath(provider))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("访问 Secret Manager 失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("读取响应失败: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return "", ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("Secret Manager 返回 %d: %s", resp.StatusCode, gjson.GetBytes(body, "error.message").String())
	}

	encoded := gjson.GetBytes(body, "payload.data").String()
	if encoded == "" {
		return "", ErrNotFound
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("解码密钥失败: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

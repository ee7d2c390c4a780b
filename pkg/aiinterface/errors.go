package aiinterface

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// 稳定错误码，对外接口以此为准
const (
	CodeValidation            = "validation_error"
	CodeCredential            = "credential_error"
	CodeProviderUnavailable   = "provider_unavailable"
	CodeUpstream              = "upstream_error"
	CodeTimeout               = "timeout"
	CodeUnknownProvider       = "unknown_provider"
	CodeModelCostsUnavailable = "model_costs_unavailable"
	CodeInternal              = "internal_error"
)

// ValidationError 请求参数错误，不重试
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "参数错误: " + e.Message
	}
	return fmt.Sprintf("参数错误 (%s): %s", e.Field, e.Message)
}

func (e *ValidationError) Code() string { return CodeValidation }

// CredentialResolutionError 所有凭证来源均未找到可用密钥
type CredentialResolutionError struct {
	Provider Provider
	Err      error // 最后一个来源的失败原因
}

func (e *CredentialResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("无法解析 %s 的凭证: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("无法解析 %s 的凭证", e.Provider)
}

func (e *CredentialResolutionError) Unwrap() error { return e.Err }
func (e *CredentialResolutionError) Code() string  { return CodeCredential }

// Retryable 凭证错误对本次请求是致命的，即使底层是网络错误
func (e *CredentialResolutionError) Retryable() bool { return false }

// ProviderUnavailableError 健康检查判定提供商不可用，未发起网络请求
type ProviderUnavailableError struct {
	Provider Provider
	Failures int
}

func (e *ProviderUnavailableError) Error() string {
	return fmt.Sprintf("提供商 %s 暂不可用 (连续失败 %d 次)", e.Provider, e.Failures)
}

func (e *ProviderUnavailableError) Code() string { return CodeProviderUnavailable }

// UpstreamError 提供商返回非 2xx 响应
type UpstreamError struct {
	Provider Provider
	Status   int
	Body     string
	Message  string // 从响应体中提取的错误信息
}

func (e *UpstreamError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = truncate(e.Body, 256)
	}
	if e.Provider != "" {
		return fmt.Sprintf("%s API 错误 (HTTP %d): %s", e.Provider, e.Status, msg)
	}
	return fmt.Sprintf("上游错误 (HTTP %d): %s", e.Status, msg)
}

func (e *UpstreamError) Code() string { return CodeUpstream }

// Retryable 仅 5xx 与 429 可重试
func (e *UpstreamError) Retryable() bool {
	return e.Status >= 500 || e.Status == 429
}

// TimeoutError 单次尝试超出时限
type TimeoutError struct {
	Message string
	After   time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s (超时 %s)", e.Message, e.After)
	}
	return fmt.Sprintf("操作超时 (%s)", e.After)
}

func (e *TimeoutError) Code() string    { return CodeTimeout }
func (e *TimeoutError) Retryable() bool { return true }

// UnknownProviderError 注册表中不存在该提供商
type UnknownProviderError struct {
	Provider string
	Modality Modality
}

func (e *UnknownProviderError) Error() string {
	if e.Modality != "" {
		return fmt.Sprintf("未知的 %s 提供商: %q", e.Modality, e.Provider)
	}
	return fmt.Sprintf("未知的提供商: %q", e.Provider)
}

func (e *UnknownProviderError) Code() string { return CodeUnknownProvider }

// ModelCostsUnavailableError 没有该提供商/模型的价格表
type ModelCostsUnavailableError struct {
	Provider Provider
	Model    string
}

func (e *ModelCostsUnavailableError) Error() string {
	return fmt.Sprintf("缺少价格配置: %s/%s", e.Provider, e.Model)
}

func (e *ModelCostsUnavailableError) Code() string { return CodeModelCostsUnavailable }

// ProviderError 适配器统一返回的错误，Err 为具体的类型化错误
type ProviderError struct {
	Kind           string
	Provider       Provider
	ProviderStatus int
	Message        string
	Err            error
}

// NewProviderError 包装适配器错误，已是 ProviderError 的原样返回
func NewProviderError(provider Provider, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	out := &ProviderError{
		Kind:     ErrorCode(err),
		Provider: provider,
		Message:  err.Error(),
		Err:      err,
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		out.ProviderStatus = ue.Status
	}
	return out
}

func (e *ProviderError) Error() string {
	return e.Message
}

func (e *ProviderError) Unwrap() error { return e.Err }
func (e *ProviderError) Code() string  { return e.Kind }

// ErrorCode 返回错误链上第一个稳定错误码
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var coder interface{ Code() string }
	if errors.As(err, &coder) {
		return coder.Code()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	return CodeInternal
}

// IsRetryable 判断错误是否属于瞬时故障
// 调用方取消不重试；网络错误、超时、5xx/429 重试；其余一律不重试
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

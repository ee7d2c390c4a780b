package resilience

import (
	"context"
	"time"

	"aigateway/pkg/aiinterface"
)

// RetryPolicy 重试策略
type RetryPolicy struct {
	MaxRetries int           // 首次调用之后的最大重试次数
	BaseDelay  time.Duration // 第一次重试前的等待时间
	MaxDelay   time.Duration // 单次等待上限

	// OnRetry 每次决定重试时回调，用于日志与指标
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryPolicy 默认策略：重试 3 次，500ms 起指数退避，上限 10s
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
	}
}

// Backoff 第 attempt 次重试（从 0 开始）前的等待时间
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Retry 对瞬时故障按指数退避重试
// 不可重试的错误立即返回；重试耗尽后原样返回最后一次错误
func Retry[T any](ctx context.Context, policy RetryPolicy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !aiinterface.IsRetryable(err) || attempt == policy.MaxRetries {
			break
		}

		delay := policy.Backoff(attempt)
		if policy.OnRetry != nil {
			policy.OnRetry(attempt+1, err, delay)
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
	}

	return zero, lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

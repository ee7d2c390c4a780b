package resilience

import (
	"context"
	"errors"
	"time"

	"aigateway/pkg/aiinterface"
)

// WithTimeout 在限定时间内执行 op
// 超时会取消传给 op 的 context，底层 HTTP 连接随之关闭
func WithTimeout[T any](ctx context.Context, d time.Duration, message string, op func(ctx context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return op(ctx)
	}

	var zero T
	attemptCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := op(attemptCtx)
		done <- result{value: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return zero, &aiinterface.TimeoutError{Message: message, After: d}
		}
		return r.value, r.err
	case <-attemptCtx.Done():
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, &aiinterface.TimeoutError{Message: message, After: d}
	}
}

// Call 重试 + 单次超时的组合，单次超时按 TimeoutError 参与重试
func Call[T any](ctx context.Context, policy RetryPolicy, timeout time.Duration, message string, op func(ctx context.Context) (T, error)) (T, error) {
	return Retry(ctx, policy, func(ctx context.Context) (T, error) {
		return WithTimeout(ctx, timeout, message, op)
	})
}

package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"aigateway/pkg/aiinterface"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	var calls atomic.Int32
	op := func(ctx context.Context) (string, error) {
		if calls.Add(1) < 3 {
			return "", &aiinterface.UpstreamError{Status: 503}
		}
		return "ok", nil
	}

	policy := RetryPolicy{MaxRetries: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	got, err := Retry(context.Background(), policy, op)

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetryBypassesNonRetryable(t *testing.T) {
	var calls atomic.Int32
	badRequest := &aiinterface.UpstreamError{Status: 400, Message: "bad"}
	op := func(ctx context.Context) (int, error) {
		calls.Add(1)
		return 0, badRequest
	}

	_, err := Retry(context.Background(), RetryPolicy{MaxRetries: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}, op)

	assert.Same(t, badRequest, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetryReturnsLastErrorUnchanged(t *testing.T) {
	var calls atomic.Int32
	errs := []error{
		&aiinterface.UpstreamError{Status: 500},
		&aiinterface.UpstreamError{Status: 502},
		&aiinterface.UpstreamError{Status: 503},
	}
	op := func(ctx context.Context) (int, error) {
		n := calls.Add(1)
		return 0, errs[n-1]
	}

	_, err := Retry(context.Background(), RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond}, op)

	assert.Same(t, errs[2], err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	op := func(ctx context.Context) (int, error) {
		calls.Add(1)
		cancel()
		return 0, &aiinterface.UpstreamError{Status: 503}
	}

	_, err := Retry(ctx, RetryPolicy{MaxRetries: 5, BaseDelay: time.Second}, op)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetryOnRetryCallback(t *testing.T) {
	var attempts []int
	policy := RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			attempts = append(attempts, attempt)
		},
	}
	_, _ = Retry(context.Background(), policy, func(ctx context.Context) (int, error) {
		return 0, &aiinterface.TimeoutError{}
	})
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestBackoffIsCapped(t *testing.T) {
	p := RetryPolicy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	assert.Equal(t, 100*time.Millisecond, p.Backoff(0))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 800*time.Millisecond, p.Backoff(3))
	assert.Equal(t, time.Second, p.Backoff(4))
	assert.Equal(t, time.Second, p.Backoff(40))
}

func TestWithTimeoutCancelsOperation(t *testing.T) {
	cancelled := make(chan struct{})
	op := func(ctx context.Context) (int, error) {
		<-ctx.Done()
		close(cancelled)
		return 0, ctx.Err()
	}

	_, err := WithTimeout(context.Background(), 20*time.Millisecond, "调用上游超时", op)

	var te *aiinterface.TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "调用上游超时", te.Message)
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("底层操作未被取消")
	}
}

func TestWithTimeoutPassesThroughResult(t *testing.T) {
	got, err := WithTimeout(context.Background(), time.Second, "", func(ctx context.Context) (string, error) {
		return "done", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "done", got)

	boom := errors.New("boom")
	_, err = WithTimeout(context.Background(), time.Second, "", func(ctx context.Context) (string, error) {
		return "", boom
	})
	assert.Same(t, boom, err)
}

func TestWithTimeoutCallerCancellationIsNotTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := WithTimeout(ctx, time.Second, "", func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCallRetriesTimeouts(t *testing.T) {
	var calls atomic.Int32
	op := func(ctx context.Context) (string, error) {
		if calls.Add(1) == 1 {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "ok", nil
	}
	got, err := Call(context.Background(), RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond}, 20*time.Millisecond, "", op)
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, int32(2), calls.Load())
}

package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func fastRetry(maxRetries int, retryable Classifier) *RetryPolicy {
	return NewRetryPolicy(RetryOptions{
		MaxRetries:        maxRetries,
		InitialDelay:      time.Millisecond,
		BackoffMultiplier: 1,
		Retryable:         retryable,
	}, zerolog.Nop())
}

func TestRetryExhaustion(t *testing.T) {
	calls := 0
	p := fastRetry(3, nil)

	err := p.Execute(context.Background(), func(context.Context) error {
		calls++
		return fmt.Errorf("attempt %d failed", calls)
	})
	if err == nil {
		t.Fatal("持续失败的操作应返回错误")
	}
	if calls != 4 {
		t.Fatalf("MaxRetries=3 应执行 4 次, 实际 %d", calls)
	}
	if err.Error() != "attempt 4 failed" {
		t.Fatalf("应传播最后一次错误, 实际 %q", err.Error())
	}
}

func TestRetryEventualSuccess(t *testing.T) {
	calls := 0
	p := fastRetry(5, nil)

	err := p.Execute(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("第三次成功不应报错: %v", err)
	}
	if calls != 3 {
		t.Fatalf("期望 3 次调用, 实际 %d", calls)
	}
}

func TestRetryNonRetryable(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	p := fastRetry(5, func(err error) bool { return !errors.Is(err, permanent) })

	err := p.Execute(context.Background(), func(context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("非重试错误应原样传播: %v", err)
	}
	if calls != 1 {
		t.Fatalf("非重试错误不应重试, 实际调用 %d 次", calls)
	}
}

func TestRetryZeroRetries(t *testing.T) {
	calls := 0
	p := fastRetry(0, nil)

	start := time.Now()
	err := p.Execute(context.Background(), func(context.Context) error {
		calls++
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("应返回错误")
	}
	if calls != 1 {
		t.Fatalf("MaxRetries=0 应只执行一次, 实际 %d", calls)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("单次尝试不应等待: %v", elapsed)
	}
}

func TestRetryContextCancelDuringWait(t *testing.T) {
	p := NewRetryPolicy(RetryOptions{
		MaxRetries:        3,
		InitialDelay:      time.Hour,
		BackoffMultiplier: 2,
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := p.Execute(ctx, func(context.Context) error {
		return errors.New("boom")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("取消等待应返回 ctx 错误, 实际 %v", err)
	}
}

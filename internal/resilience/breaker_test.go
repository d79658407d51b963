package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

var errDep = errors.New("dependency boom")

func testBreaker(threshold int, timeout time.Duration, clock *fakeClock) *CircuitBreaker {
	b := NewCircuitBreaker(BreakerOptions{
		Name:             "test-dep",
		FailureThreshold: threshold,
		RecoveryTimeout:  timeout,
	}, zerolog.Nop())
	b.now = clock.now
	return b
}

func failingOp(calls *int) func(context.Context) error {
	return func(context.Context) error {
		*calls++
		return errDep
	}
}

func TestBreakerTripsAtThreshold(t *testing.T) {
	clock := newFakeClock()
	b := testBreaker(3, time.Minute, clock)
	calls := 0

	for i := 0; i < 3; i++ {
		if err := b.Call(context.Background(), failingOp(&calls)); !errors.Is(err, errDep) {
			t.Fatalf("失败应原样传播: %v", err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("连续 3 次失败后应为 open, 实际 %s", b.State())
	}

	err := b.Call(context.Background(), failingOp(&calls))
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("open 状态应快速失败并返回 ErrOpen: %v", err)
	}
	if calls != 3 {
		t.Fatalf("open 状态不应调用被包裹的操作, 调用次数 %d", calls)
	}
}

func TestBreakerRecoveryProbe(t *testing.T) {
	clock := newFakeClock()
	b := testBreaker(1, time.Minute, clock)
	calls := 0

	if err := b.Call(context.Background(), failingOp(&calls)); !errors.Is(err, errDep) {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	// Before the timeout the breaker fails fast.
	clock.advance(30 * time.Second)
	if err := b.Call(context.Background(), failingOp(&calls)); !errors.Is(err, ErrOpen) {
		t.Fatalf("恢复窗口未到应返回 ErrOpen: %v", err)
	}
	if calls != 1 {
		t.Fatalf("不应发起探测, calls=%d", calls)
	}

	// After the timeout exactly one probe runs; success closes the circuit.
	clock.advance(31 * time.Second)
	err := b.Call(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("探测成功不应报错: %v", err)
	}
	if calls != 2 {
		t.Fatalf("恢复窗口过后应恰好探测一次, calls=%d", calls)
	}
	if b.State() != StateClosed {
		t.Fatalf("探测成功后应为 closed, 实际 %s", b.State())
	}
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	clock := newFakeClock()
	b := testBreaker(1, time.Minute, clock)
	calls := 0

	if err := b.Call(context.Background(), failingOp(&calls)); !errors.Is(err, errDep) {
		t.Fatalf("unexpected error: %v", err)
	}

	clock.advance(2 * time.Minute)
	if err := b.Call(context.Background(), failingOp(&calls)); !errors.Is(err, errDep) {
		t.Fatalf("探测失败应传播原错误: %v", err)
	}
	if b.State() != StateOpen {
		t.Fatalf("探测失败后应回到 open, 实际 %s", b.State())
	}
	if b.failures != 2 {
		t.Fatalf("探测失败不应清零失败计数, failures=%d", b.failures)
	}
}

func TestBreakerSuccessResetsFailures(t *testing.T) {
	clock := newFakeClock()
	b := testBreaker(3, time.Minute, clock)
	calls := 0

	for i := 0; i < 2; i++ {
		_ = b.Call(context.Background(), failingOp(&calls))
	}
	if err := b.Call(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("成功不应报错: %v", err)
	}
	if b.failures != 0 {
		t.Fatalf("成功应清零失败计数, failures=%d", b.failures)
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed, got %s", b.State())
	}
}

func TestBreakerIgnoresUnexpectedErrors(t *testing.T) {
	clock := newFakeClock()
	b := NewCircuitBreaker(BreakerOptions{
		Name:             "test-dep",
		FailureThreshold: 1,
		RecoveryTimeout:  time.Minute,
		Expected:         func(err error) bool { return errors.Is(err, errDep) },
	}, zerolog.Nop())
	b.now = clock.now

	errOther := errors.New("validation failed")
	for i := 0; i < 5; i++ {
		if err := b.Call(context.Background(), func(context.Context) error { return errOther }); !errors.Is(err, errOther) {
			t.Fatalf("未分类错误应原样传播: %v", err)
		}
	}
	if b.State() != StateClosed {
		t.Fatalf("未分类错误不应计入熔断, 实际 %s", b.State())
	}
	if b.failures != 0 {
		t.Fatalf("failures 应保持 0, 实际 %d", b.failures)
	}
}

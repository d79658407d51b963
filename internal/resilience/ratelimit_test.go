package resilience

import (
	"context"
	"testing"
	"time"
)

// fakeClock steps time manually for deterministic window tests.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock() *fakeClock { return &fakeClock{t: time.Unix(1_700_000_000, 0)} }

func TestRateLimiterWindow(t *testing.T) {
	clock := newFakeClock()
	l := NewRateLimiter(3, time.Minute)
	l.now = clock.now

	for i := 0; i < 3; i++ {
		if !l.TryAcquire() {
			t.Fatalf("第 %d 次 TryAcquire 应成功", i+1)
		}
	}
	if l.TryAcquire() {
		t.Fatal("第 4 次 TryAcquire 应被拒绝")
	}

	clock.advance(time.Minute + time.Second)
	if !l.TryAcquire() {
		t.Fatal("窗口过期后应重新准入")
	}
}

func TestRateLimiterRejectionKeepsState(t *testing.T) {
	clock := newFakeClock()
	l := NewRateLimiter(1, time.Minute)
	l.now = clock.now

	if !l.TryAcquire() {
		t.Fatal("首次准入应成功")
	}
	if l.TryAcquire() {
		t.Fatal("应被拒绝")
	}
	if got := l.Pending(); got != 1 {
		t.Fatalf("拒绝不应修改状态, pending=%d", got)
	}
}

func TestRateLimiterZeroMaxCalls(t *testing.T) {
	l := NewRateLimiter(0, time.Minute)
	if l.TryAcquire() {
		t.Fatal("max_calls=0 时 TryAcquire 必须永远返回 false")
	}
}

func TestRateLimiterZeroWindow(t *testing.T) {
	// A zero-width window never excludes the current instant, so every call
	// is immediately admissible again. This mirrors the upstream behaviour
	// and must not be "fixed".
	clock := newFakeClock()
	l := NewRateLimiter(1, 0)
	l.now = clock.now

	for i := 0; i < 5; i++ {
		if !l.TryAcquire() {
			t.Fatalf("零宽窗口下第 %d 次调用应准入", i+1)
		}
	}
}

func TestRateLimiterAcquireBlocksUntilAdmitted(t *testing.T) {
	l := NewRateLimiter(1, 80*time.Millisecond)

	if !l.TryAcquire() {
		t.Fatal("首次准入应成功")
	}

	start := time.Now()
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire 应最终成功: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Fatalf("Acquire 应等待窗口释放, 实际 %v", elapsed)
	}
}

func TestRateLimiterAcquireHonoursContext(t *testing.T) {
	l := NewRateLimiter(0, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if err := l.Acquire(ctx); err == nil {
		t.Fatal("永不准入的 Acquire 应因 ctx 超时返回错误")
	}
}

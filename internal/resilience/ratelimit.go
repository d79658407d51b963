package resilience

import (
	"context"
	"sync"
	"time"
)

// acquirePollInterval is how often the blocking Acquire re-checks admission.
const acquirePollInterval = 50 * time.Millisecond

// RateLimiter admits at most maxCalls operations within a sliding time
// window. One instance guards one external dependency and is shared by every
// caller targeting it; all state is mutex-protected.
type RateLimiter struct {
	mu       sync.Mutex
	maxCalls int
	window   time.Duration
	calls    []time.Time
	now      func() time.Time
}

// NewRateLimiter constructs a sliding-window limiter.
func NewRateLimiter(maxCalls int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		maxCalls: maxCalls,
		window:   window,
		now:      time.Now,
	}
}

// TryAcquire 清理过期时间戳后进行一次非阻塞准入判断。
// Admission appends the current instant; rejection leaves state untouched.
func (l *RateLimiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.purge(now)
	if len(l.calls) >= l.maxCalls {
		return false
	}
	l.calls = append(l.calls, now)
	return true
}

// purge drops timestamps that have aged out of the window. A zero-width
// window keeps nothing, so every call is immediately admissible again;
// existing callers rely on that and it must not be special-cased.
func (l *RateLimiter) purge(now time.Time) {
	cutoff := now.Add(-l.window)
	kept := l.calls[:0]
	for _, ts := range l.calls {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	l.calls = kept
}

// Acquire blocks until admitted or ctx is done, polling at a short interval
// so the wait suspends only the calling goroutine.
func (l *RateLimiter) Acquire(ctx context.Context) error {
	for {
		if l.TryAcquire() {
			return nil
		}
		timer := time.NewTimer(acquirePollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Pending reports how many admitted calls are still inside the window.
func (l *RateLimiter) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.purge(l.now())
	return len(l.calls)
}

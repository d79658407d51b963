package resilience

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"
)

// Classifier reports whether an error should be counted by a resilience
// primitive. A nil classifier counts every error.
type Classifier func(error) bool

// RetryOptions parameterise a RetryPolicy.
type RetryOptions struct {
	MaxRetries        int
	InitialDelay      time.Duration
	BackoffMultiplier float64
	Retryable         Classifier
}

// RetryPolicy re-executes a fallible operation with exponential backoff.
// It is stateless and safe to share across goroutines.
type RetryPolicy struct {
	opts   RetryOptions
	logger zerolog.Logger
}

// NewRetryPolicy constructs a policy, applying defaults for unset fields.
func NewRetryPolicy(opts RetryOptions, logger zerolog.Logger) *RetryPolicy {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = time.Second
	}
	if opts.BackoffMultiplier <= 0 {
		opts.BackoffMultiplier = 2
	}
	if opts.Retryable == nil {
		opts.Retryable = func(error) bool { return true }
	}
	return &RetryPolicy{
		opts:   opts,
		logger: logger.With().Str("component", "retry").Logger(),
	}
}

// Execute 最多运行 op MaxRetries+1 次。返回的始终是最后一次观察到的错误。
// Waiting between attempts suspends only the calling goroutine and honours
// ctx cancellation.
func (p *RetryPolicy) Execute(ctx context.Context, op func(context.Context) error) error {
	var last error
	for attempt := 0; ; attempt++ {
		last = op(ctx)
		if last == nil {
			return nil
		}
		if attempt >= p.opts.MaxRetries || !p.opts.Retryable(last) {
			return last
		}

		delay := time.Duration(float64(p.opts.InitialDelay) * math.Pow(p.opts.BackoffMultiplier, float64(attempt)))
		p.logger.Warn().
			Int("attempt", attempt+1).
			Int("max_attempts", p.opts.MaxRetries+1).
			Dur("delay", delay).
			Err(last).
			Msg("operation failed; retry scheduled")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

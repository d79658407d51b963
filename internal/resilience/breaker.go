package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrOpen is returned when the breaker rejects a call without invoking the
// wrapped operation.
var ErrOpen = errors.New("resilience: circuit open")

// State enumerates breaker positions.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String renders the state for logs and status output.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerOptions parameterise a CircuitBreaker.
type BreakerOptions struct {
	// Name identifies the protected dependency in logs and ErrOpen wrapping.
	Name             string
	FailureThreshold int
	RecoveryTimeout  time.Duration
	// Expected classifies which errors count against the breaker. Errors it
	// rejects propagate to the caller without touching breaker state.
	Expected Classifier
}

// CircuitBreaker 针对单个外部依赖的三态熔断器。
// One instance per protected dependency, shared by all callers; the breaker
// itself performs no I/O, it only gates and observes.
type CircuitBreaker struct {
	mu          sync.Mutex
	opts        BreakerOptions
	state       State
	failures    int
	lastFailure time.Time
	now         func() time.Time
	logger      zerolog.Logger
}

// NewCircuitBreaker constructs a breaker in the closed state.
func NewCircuitBreaker(opts BreakerOptions, logger zerolog.Logger) *CircuitBreaker {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 5
	}
	if opts.RecoveryTimeout <= 0 {
		opts.RecoveryTimeout = time.Minute
	}
	if opts.Expected == nil {
		opts.Expected = func(error) bool { return true }
	}
	return &CircuitBreaker{
		opts:  opts,
		state: StateClosed,
		now:   time.Now,
		logger: logger.With().
			Str("component", "breaker").
			Str("dependency", opts.Name).
			Logger(),
	}
}

// Call gates op behind the breaker state machine. While open and inside the
// recovery timeout it fails fast with ErrOpen; once the timeout elapses the
// next call runs as a half-open probe.
func (b *CircuitBreaker) Call(ctx context.Context, op func(context.Context) error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := op(ctx)
	b.after(err)
	return err
}

func (b *CircuitBreaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return nil
	}
	if b.now().Sub(b.lastFailure) < b.opts.RecoveryTimeout {
		return fmt.Errorf("%w: %s", ErrOpen, b.opts.Name)
	}
	b.state = StateHalfOpen
	b.logger.Info().Msg("recovery timeout elapsed; probing half-open")
	return nil
}

func (b *CircuitBreaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		if b.state == StateHalfOpen {
			b.state = StateClosed
			b.logger.Info().Msg("probe succeeded; circuit closed")
		}
		return
	}

	if !b.opts.Expected(err) {
		return
	}

	b.failures++
	b.lastFailure = b.now()

	switch b.state {
	case StateHalfOpen:
		// failures deliberately not reset on the probe failure
		b.state = StateOpen
		b.logger.Warn().Err(err).Msg("probe failed; circuit re-opened")
	case StateClosed:
		if b.failures >= b.opts.FailureThreshold {
			b.state = StateOpen
			b.logger.Warn().
				Int("failures", b.failures).
				Err(err).
				Msg("failure threshold reached; circuit opened")
		}
	}
}

// State returns the current breaker position.
func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

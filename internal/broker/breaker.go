package broker

import (
	"sync"
	"time"

	"github.com/atlas-desktop/agent-core/pkg/types"
)

// BreakerState is one of the three circuit breaker states.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

// BreakerConfig parameterizes the state machine.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures in Closed before tripping to Open
	OpenTimeout      time.Duration // how long Open holds before probing via HalfOpen
	SuccessThreshold int           // consecutive successes in HalfOpen before closing
}

// DefaultBreakerConfig matches the pattern the pack's gobreaker-dependent
// manifests imply: a handful of consecutive failures trips it, a short
// cooldown, a couple of clean probes to close again.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, OpenTimeout: 30 * time.Second, SuccessThreshold: 2}
}

// CircuitBreaker wraps broker calls with a Closed -> Open -> HalfOpen ->
// Closed state machine. Only errors satisfying Retryable(true) (or plain
// errors, treated conservatively as retryable) count as failures.
type CircuitBreaker struct {
	mu               sync.Mutex
	cfg              BreakerConfig
	state            BreakerState
	consecutiveFails int
	consecutiveOK    int
	openedAt         time.Time
	now              func() time.Time
}

// NewCircuitBreaker builds a breaker starting Closed.
func NewCircuitBreaker(cfg BreakerConfig, now func() time.Time) *CircuitBreaker {
	if now == nil {
		now = time.Now
	}
	return &CircuitBreaker{cfg: cfg, state: StateClosed, now: now}
}

// Allow reports whether a call may proceed, transitioning Open -> HalfOpen
// once OpenTimeout has elapsed.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.cfg.OpenTimeout {
			b.state = StateHalfOpen
			b.consecutiveOK = 0
			return true
		}
		return false
	default:
		return true
	}
}

// State returns the current breaker state.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// RecordResult feeds the outcome of a call guarded by Allow() back into the
// state machine.
func (b *CircuitBreaker) RecordResult(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.consecutiveFails = 0
		if b.state == StateHalfOpen {
			b.consecutiveOK++
			if b.consecutiveOK >= b.cfg.SuccessThreshold {
				b.state = StateClosed
				b.consecutiveOK = 0
			}
		}
		return
	}

	if !isRetryable(err) {
		return
	}

	switch b.state {
	case StateHalfOpen:
		b.trip()
	case StateClosed:
		b.consecutiveFails++
		if b.consecutiveFails >= b.cfg.FailureThreshold {
			b.trip()
		}
	}
}

func (b *CircuitBreaker) trip() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.consecutiveFails = 0
	b.consecutiveOK = 0
}

func isRetryable(err error) bool {
	if r, ok := err.(Retryable); ok {
		return r.Retryable()
	}
	return true
}

// Guard calls fn if the breaker currently allows it, recording the result,
// and returns types.ErrCircuitOpen without calling fn otherwise.
func (b *CircuitBreaker) Guard(fn func() error) error {
	if !b.Allow() {
		return types.ErrCircuitOpen
	}
	err := fn()
	b.RecordResult(err)
	return err
}

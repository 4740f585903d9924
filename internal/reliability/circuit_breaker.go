package reliability

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// StateChangeFunc is called synchronously after every state transition
type StateChangeFunc func(name string, from, to State, reason string)

// CircuitBreaker stops writes to a sink that keeps failing
type CircuitBreaker struct {
	mu           sync.Mutex
	state        State
	failures     int
	successes    int
	openedAt     time.Time
	halfOpenUsed int

	name             string
	failureThreshold int
	successThreshold int
	cooldown         time.Duration
	halfOpenRequests int
	onChange         StateChangeFunc
	now              func() time.Time

	totalRequests  int64
	totalFailures  int64
	totalRejected  int64
	totalSuccesses int64
}

// CircuitBreakerOption configures the circuit breaker
type CircuitBreakerOption func(*CircuitBreaker)

// WithFailureThreshold sets how many consecutive failures open the circuit
func WithFailureThreshold(threshold int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		if threshold > 0 {
			cb.failureThreshold = threshold
		}
	}
}

// WithSuccessThreshold sets how many half-open successes close the circuit
func WithSuccessThreshold(threshold int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		if threshold > 0 {
			cb.successThreshold = threshold
		}
	}
}

// WithCooldown sets how long the circuit stays open
func WithCooldown(cooldown time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.cooldown = cooldown
	}
}

// WithHalfOpenRequests sets the number of trial calls let through while half-open
func WithHalfOpenRequests(requests int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		if requests > 0 {
			cb.halfOpenRequests = requests
		}
	}
}

// WithName names the breaker in errors and notifications
func WithName(name string) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.name = name
	}
}

// WithStateChange registers the transition callback
func WithStateChange(fn StateChangeFunc) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.onChange = fn
	}
}

// NewCircuitBreaker creates a closed circuit breaker
func NewCircuitBreaker(options ...CircuitBreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		state:            StateClosed,
		name:             "sink",
		failureThreshold: 5,
		successThreshold: 2,
		cooldown:         30 * time.Second,
		halfOpenRequests: 1,
		now:              time.Now,
	}

	for _, opt := range options {
		opt(cb)
	}

	return cb
}

// Execute runs fn unless the circuit is open
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.acquire(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		cb.release()
		return err
	}

	err := fn(ctx)
	cb.record(err)
	return err
}

// State returns the current state
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset closes the circuit and clears the counters
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.failures = 0
	cb.successes = 0
	cb.halfOpenUsed = 0
	cb.mu.Unlock()

	if from != StateClosed {
		cb.notify(from, StateClosed, "reset")
	}
}

func (cb *CircuitBreaker) acquire() error {
	cb.mu.Lock()
	cb.totalRequests++

	switch cb.state {
	case StateOpen:
		retryAt := cb.openedAt.Add(cb.cooldown)
		if cb.now().Before(retryAt) {
			cb.totalRejected++
			err := &CircuitOpenError{Name: cb.name, Failures: cb.failures, RetryAt: retryAt}
			cb.mu.Unlock()
			return err
		}
		cb.state = StateHalfOpen
		cb.successes = 0
		cb.halfOpenUsed = 1
		cb.mu.Unlock()
		cb.notify(StateOpen, StateHalfOpen, "cooldown elapsed")
		return nil

	case StateHalfOpen:
		if cb.halfOpenUsed >= cb.halfOpenRequests {
			cb.totalRejected++
			err := &CircuitOpenError{Name: cb.name, Failures: cb.failures, RetryAt: cb.now(), HalfOpen: true}
			cb.mu.Unlock()
			return err
		}
		cb.halfOpenUsed++
	}

	cb.mu.Unlock()
	return nil
}

func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen && cb.halfOpenUsed > 0 {
		cb.halfOpenUsed--
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	from := cb.state
	reason := ""

	if err != nil {
		cb.failures++
		cb.totalFailures++
		switch cb.state {
		case StateClosed:
			if cb.failures >= cb.failureThreshold {
				cb.open()
				reason = fmt.Sprintf("%d consecutive failures", cb.failures)
			}
		case StateHalfOpen:
			cb.open()
			reason = "trial write failed"
		}
	} else {
		cb.totalSuccesses++
		switch cb.state {
		case StateClosed:
			cb.failures = 0
		case StateHalfOpen:
			cb.successes++
			cb.halfOpenUsed--
			if cb.successes >= cb.successThreshold {
				cb.state = StateClosed
				cb.failures = 0
				cb.halfOpenUsed = 0
				reason = fmt.Sprintf("%d trial writes succeeded", cb.successes)
			}
		}
	}

	to := cb.state
	cb.mu.Unlock()

	if from != to {
		cb.notify(from, to, reason)
	}
}

// open must be called with mu held
func (cb *CircuitBreaker) open() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.successes = 0
	cb.halfOpenUsed = 0
}

func (cb *CircuitBreaker) notify(from, to State, reason string) {
	if cb.onChange != nil {
		cb.onChange(cb.name, from, to, reason)
	}
}

// Stats returns a snapshot of the breaker counters
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return BreakerStats{
		Name:           cb.name,
		State:          cb.state,
		Failures:       cb.failures,
		TotalRequests:  cb.totalRequests,
		TotalFailures:  cb.totalFailures,
		TotalRejected:  cb.totalRejected,
		TotalSuccesses: cb.totalSuccesses,
	}
}

// BreakerStats is a point-in-time view of a circuit breaker
type BreakerStats struct {
	Name           string
	State          State
	Failures       int
	TotalRequests  int64
	TotalFailures  int64
	TotalRejected  int64
	TotalSuccesses int64
}

package tracker

import (
	"errors"
	"sync"
	"time"
)

// CircuitState is the position of a CircuitBreaker.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
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

// CircuitBreakerConfig tunes a CircuitBreaker. Zero fields take defaults:
// 5 failures, 60s recovery and 2 successes.
type CircuitBreakerConfig struct {
	// FailureThreshold consecutive failures open the circuit.
	FailureThreshold int
	// RecoveryTimeout is how long the circuit stays open before letting a
	// probe through.
	RecoveryTimeout time.Duration
	// SuccessThreshold probe successes close it again.
	SuccessThreshold int
}

// CircuitBreaker stops calls to an upstream that keeps failing. Only
// outages count as failures: transport errors, timeouts and 5xx responses.
// A nil *CircuitBreaker allows everything.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	clock  Clock

	mu          sync.Mutex
	state       CircuitState
	failures    int
	successes   int
	lastFailure time.Time
	onChange    func(CircuitState)
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(config CircuitBreakerConfig, clock Clock) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 60 * time.Second
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if clock == nil {
		clock = SystemClock
	}
	return &CircuitBreaker{config: config, clock: clock}
}

// Allow reports whether a call may proceed. An open circuit whose recovery
// timeout has elapsed moves to half-open and admits probes.
func (cb *CircuitBreaker) Allow() bool {
	if cb == nil {
		return true
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.clock.Now().Sub(cb.lastFailure) < cb.config.RecoveryTimeout {
			return false
		}
		cb.successes = 0
		cb.transition(StateHalfOpen)
		return true
	default:
		return true
	}
}

// Record feeds the outcome of an admitted call into the breaker.
func (cb *CircuitBreaker) Record(err error) {
	if cb == nil {
		return
	}
	switch {
	case err == nil:
		cb.RecordSuccess()
	case isOutage(err):
		cb.RecordFailure()
	}
}

// RecordFailure counts an outage.
func (cb *CircuitBreaker) RecordFailure() {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailure = cb.clock.Now()
	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		// A failed probe reopens immediately.
		cb.successes = 0
		cb.transition(StateOpen)
	}
}

// RecordSuccess counts a healthy response.
func (cb *CircuitBreaker) RecordSuccess() {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.failures = 0
			cb.successes = 0
			cb.transition(StateClosed)
		}
	}
}

// State returns the current state without advancing it.
func (cb *CircuitBreaker) State() CircuitState {
	if cb == nil {
		return StateClosed
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) observe(fn func(CircuitState)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onChange = fn
}

func (cb *CircuitBreaker) transition(to CircuitState) {
	if cb.state == to {
		return
	}
	cb.state = to
	if cb.onChange != nil {
		cb.onChange(to)
	}
}

func isOutage(err error) bool {
	var ne *NormalizedError
	if !errors.As(err, &ne) {
		return true
	}
	switch ne.Kind {
	case KindNetwork, KindTimeout:
		return true
	case KindAPIUnavailable:
		return ne.StatusCode == 0 || ne.StatusCode >= 500
	default:
		return false
	}
}

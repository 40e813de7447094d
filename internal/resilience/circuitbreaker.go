// Package resilience guards calls to external speech and language services
// with a three-state circuit breaker (closed, open, half-open), so a dead
// dependency fails each turn fast instead of holding it until timeout.
package resilience

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrCircuitOpen is returned by Execute while the breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current operating mode of a CircuitBreaker
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the human-readable name of the state
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

const (
	defaultMaxFailures  = 5
	defaultResetTimeout = 30 * time.Second
	defaultHalfOpenMax  = 1
)

// CircuitBreakerConfig holds tuning knobs for a CircuitBreaker
type CircuitBreakerConfig struct {
	// Name labels the breaker in logs, e.g. "stt:elevenlabs".
	Name string

	// MaxFailures is the number of consecutive failures that opens the breaker.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before probing.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of successful probes needed to close again.
	HalfOpenMax int

	// IsFailure decides which errors count against the dependency. Nil
	// counts every non-nil error.
	IsFailure func(error) bool
}

// CircuitBreaker is safe for concurrent use
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int
	isFailure    func(error) bool
	logger       *zap.Logger

	mu              sync.Mutex
	state           State
	consecutiveFail int
	openedAt        time.Time
	probes          int
	probeSuccesses  int
}

// NewCircuitBreaker creates a breaker, filling zero config fields with defaults
func NewCircuitBreaker(cfg CircuitBreakerConfig, logger *zap.Logger) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = defaultMaxFailures
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = defaultResetTimeout
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = defaultHalfOpenMax
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return err != nil }
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		isFailure:    cfg.IsFailure,
		logger:       logger.With(zap.String("breaker", cfg.Name)),
		state:        StateClosed,
	}
}

// Execute runs fn unless the breaker is open. Only one probe runs at a time
// while half-open; concurrent callers get ErrCircuitOpen.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	done, err := cb.Allow()
	if err != nil {
		return err
	}

	err = fn()
	done(err)
	return err
}

// Allow admits one call whose outcome is only known later, such as a
// stream. The caller must invoke done exactly once with the call's result.
func (cb *CircuitBreaker) Allow() (done func(error), err error) {
	probing, err := cb.admit()
	if err != nil {
		return nil, err
	}

	var once sync.Once
	return func(err error) {
		once.Do(func() { cb.record(probing, err) })
	}, nil
}

func (cb *CircuitBreaker) record(probing bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probing {
		cb.probes--
	}

	if err != nil && cb.isFailure(err) {
		cb.recordFailure(probing)
	} else {
		cb.recordSuccess(probing)
	}
}

func (cb *CircuitBreaker) admit() (probing bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if time.Since(cb.openedAt) < cb.resetTimeout {
			return false, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probeSuccesses = 0
		cb.logger.Info("Circuit breaker half-open, probing dependency")
	}

	if cb.state == StateHalfOpen {
		if cb.probes > 0 {
			return false, ErrCircuitOpen
		}
		cb.probes++
		return true, nil
	}
	return false, nil
}

// recordFailure must be called with cb.mu held
func (cb *CircuitBreaker) recordFailure(probing bool) {
	if probing || cb.state == StateHalfOpen {
		cb.trip()
		cb.logger.Warn("Circuit breaker re-opened after failed probe")
		return
	}

	cb.consecutiveFail++
	if cb.consecutiveFail >= cb.maxFailures {
		cb.trip()
		cb.logger.Warn("Circuit breaker opened", zap.Int("consecutiveFailures", cb.maxFailures))
	}
}

// recordSuccess must be called with cb.mu held
func (cb *CircuitBreaker) recordSuccess(probing bool) {
	if !probing {
		cb.consecutiveFail = 0
		return
	}

	cb.probeSuccesses++
	if cb.probeSuccesses >= cb.halfOpenMax {
		cb.state = StateClosed
		cb.consecutiveFail = 0
		cb.probeSuccesses = 0
		cb.logger.Info("Circuit breaker closed")
	}
}

func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = time.Now()
	cb.consecutiveFail = 0
	cb.probeSuccesses = 0
}

// State returns the current state. An open breaker whose reset timeout has
// passed reports half-open; the transition itself happens on the next call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Name returns the breaker's label
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Reset forces the breaker closed
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.consecutiveFail = 0
	cb.probes = 0
	cb.probeSuccesses = 0
}

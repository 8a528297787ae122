package circuit_breaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/eleven-am/crosslink/internal/ports"
)

var (
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
	ErrTooManyRequests    = errors.New("too many requests when circuit breaker is half-open")
)

type circuitBreaker struct {
	name   string
	config ports.CircuitBreakerConfig
	logger *slog.Logger
	now    func() time.Time

	mu                 sync.Mutex
	state              ports.CircuitBreakerState
	consecutiveSuccess int
	consecutiveFailure int
	nextRetry          time.Time
	halfOpenRequests   int
}

func NewCircuitBreaker(name string, config ports.CircuitBreakerConfig, logger *slog.Logger) ports.CircuitBreaker {
	if logger == nil {
		logger = slog.Default()
	}

	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	if config.MaxRequests <= 0 {
		config.MaxRequests = 1
	}
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second
	}

	return &circuitBreaker{
		name:   name,
		config: config,
		logger: logger.With("component", "circuit-breaker", "endpoint", name),
		now:    time.Now,
		state:  ports.StateClose,
	}
}

// Call runs fn unless the breaker is open. Context cancellation by the
// caller is not counted as an endpoint failure.
func (cb *circuitBreaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.allowRequest(); err != nil {
		cb.logger.Debug("request rejected", "state", cb.State().String())
		return err
	}

	err := fn(ctx)
	switch {
	case err == nil:
		cb.onSuccess()
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		cb.release()
	case cb.config.IsExcluded != nil && cb.config.IsExcluded(err):
		cb.release()
	default:
		cb.onFailure()
	}
	return err
}

func (cb *circuitBreaker) allowRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == ports.StateOpen && cb.now().After(cb.nextRetry) {
		cb.setState(ports.StateHalfOpen)
	}

	switch cb.state {
	case ports.StateClose:
		return nil
	case ports.StateHalfOpen:
		if cb.halfOpenRequests < cb.config.MaxRequests {
			cb.halfOpenRequests++
			return nil
		}
		return ErrTooManyRequests
	default:
		return ErrCircuitBreakerOpen
	}
}

func (cb *circuitBreaker) release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == ports.StateHalfOpen && cb.halfOpenRequests > 0 {
		cb.halfOpenRequests--
	}
}

func (cb *circuitBreaker) onSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveSuccess++
	cb.consecutiveFailure = 0

	if cb.state == ports.StateHalfOpen && cb.consecutiveSuccess >= cb.config.SuccessThreshold {
		cb.setState(ports.StateClose)
	}
}

func (cb *circuitBreaker) onFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailure++
	cb.consecutiveSuccess = 0

	switch cb.state {
	case ports.StateClose:
		if cb.consecutiveFailure >= cb.config.FailureThreshold {
			cb.setState(ports.StateOpen)
		}
	case ports.StateHalfOpen:
		cb.setState(ports.StateOpen)
	}
}

func (cb *circuitBreaker) setState(newState ports.CircuitBreakerState) {
	oldState := cb.state
	if oldState == newState {
		return
	}

	cb.logger.Info("circuit breaker state change",
		"from", oldState.String(),
		"to", newState.String(),
		"consecutive_failures", cb.consecutiveFailure)

	cb.state = newState
	cb.halfOpenRequests = 0

	switch newState {
	case ports.StateOpen:
		cb.nextRetry = cb.now().Add(cb.config.Interval)
		cb.consecutiveSuccess = 0
	case ports.StateHalfOpen:
		cb.consecutiveFailure = 0
	case ports.StateClose:
		cb.nextRetry = time.Time{}
		cb.consecutiveFailure = 0
	}

	if cb.config.OnStateChange != nil {
		go cb.config.OnStateChange(cb.name, oldState, newState)
	}
}

func (cb *circuitBreaker) State() ports.CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *circuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveSuccess = 0
	cb.consecutiveFailure = 0
	cb.setState(ports.StateClose)
}

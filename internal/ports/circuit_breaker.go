package ports

import (
	"context"
	"time"
)

type CircuitBreakerState int

const (
	StateClose CircuitBreakerState = iota
	StateHalfOpen
	StateOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClose:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

func (s CircuitBreakerState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CircuitBreakerConfig shapes the breaker guarding one remote endpoint.
// Interval is how long an open breaker rejects calls before probing again.
type CircuitBreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold" yaml:"failure_threshold"`
	SuccessThreshold int           `json:"success_threshold" yaml:"success_threshold"`
	MaxRequests      int           `json:"max_requests" yaml:"max_requests"`
	Interval         time.Duration `json:"interval" yaml:"interval"`
	// IsExcluded marks errors that say nothing about endpoint health. They
	// count as neither success nor failure.
	IsExcluded    func(err error) bool
	OnStateChange func(name string, from, to CircuitBreakerState)
}

type CircuitBreaker interface {
	Call(ctx context.Context, fn func(context.Context) error) error
	State() CircuitBreakerState
	Reset()
}

type CircuitBreakerProvider interface {
	Get(name string) CircuitBreaker
	Remove(name string)
	States() map[string]CircuitBreakerState
}

package circuit_breaker

import (
	"log/slog"
	"sync"

	"github.com/eleven-am/crosslink/internal/ports"
)

// Provider hands out one breaker per remote endpoint, created on first use
// with a shared configuration.
type Provider struct {
	mu       sync.RWMutex
	breakers map[string]ports.CircuitBreaker
	config   ports.CircuitBreakerConfig
	logger   *slog.Logger
}

func NewProvider(config ports.CircuitBreakerConfig, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}

	return &Provider{
		breakers: make(map[string]ports.CircuitBreaker),
		config:   config,
		logger:   logger,
	}
}

func (p *Provider) Get(name string) ports.CircuitBreaker {
	p.mu.RLock()
	breaker, exists := p.breakers[name]
	p.mu.RUnlock()
	if exists {
		return breaker
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, exists := p.breakers[name]; exists {
		return existing
	}

	breaker = NewCircuitBreaker(name, p.config, p.logger)
	p.breakers[name] = breaker
	p.logger.Debug("created circuit breaker", "endpoint", name, "failure_threshold", p.config.FailureThreshold)
	return breaker
}

func (p *Provider) Remove(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.breakers, name)
}

func (p *Provider) States() map[string]ports.CircuitBreakerState {
	p.mu.RLock()
	defer p.mu.RUnlock()

	states := make(map[string]ports.CircuitBreakerState, len(p.breakers))
	for name, breaker := range p.breakers {
		states[name] = breaker.State()
	}
	return states
}

package load_balancer

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/eleven-am/crosslink/internal/domain"
	"github.com/eleven-am/crosslink/internal/ports"
)

const (
	AlgorithmRoundRobin        = "round_robin"
	AlgorithmLeastRecentlyUsed = "least_recently_used"
)

// NewSelector returns the selector registered under algorithm. An empty
// name selects round robin.
func NewSelector(algorithm string, logger *slog.Logger) (ports.ConnectionSelector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch algorithm {
	case "", AlgorithmRoundRobin:
		return NewRoundRobinStrategy(logger), nil
	case AlgorithmLeastRecentlyUsed, "lru":
		return NewLeastRecentlyUsedStrategy(logger), nil
	}
	return nil, domain.NewConfigurationError("selection", fmt.Sprintf("unknown algorithm %q", algorithm), "use round_robin or least_recently_used")
}

func errNoConnections() error {
	return domain.Error{
		Type:    domain.ErrorTypeUnavailable,
		Message: "no live connections",
	}
}

// RoundRobinStrategy cycles through live connections.
type RoundRobinStrategy struct {
	counter uint64
	logger  *slog.Logger
}

func NewRoundRobinStrategy(logger *slog.Logger) *RoundRobinStrategy {
	return &RoundRobinStrategy{logger: logger}
}

func (rr *RoundRobinStrategy) Select(conns []ports.Connection) (ports.Connection, error) {
	if len(conns) == 0 {
		return nil, errNoConnections()
	}

	index := (atomic.AddUint64(&rr.counter, 1) - 1) % uint64(len(conns))
	selected := conns[index]
	selected.MarkUsed()

	rr.logger.Debug("round robin selection",
		"connection_id", selected.ID(),
		"endpoint", selected.Endpoint(),
		"index", index,
		"total", len(conns))

	return selected, nil
}

func (rr *RoundRobinStrategy) Name() string {
	return AlgorithmRoundRobin
}

// LeastRecentlyUsedStrategy hands out the connection idle the longest.
type LeastRecentlyUsedStrategy struct {
	logger *slog.Logger
}

func NewLeastRecentlyUsedStrategy(logger *slog.Logger) *LeastRecentlyUsedStrategy {
	return &LeastRecentlyUsedStrategy{logger: logger}
}

func (l *LeastRecentlyUsedStrategy) Select(conns []ports.Connection) (ports.Connection, error) {
	if len(conns) == 0 {
		return nil, errNoConnections()
	}

	selected := conns[0]
	oldest := selected.LastUsed()
	for _, c := range conns[1:] {
		if used := c.LastUsed(); used.Before(oldest) {
			selected, oldest = c, used
		}
	}
	selected.MarkUsed()

	l.logger.Debug("least recently used selection",
		"connection_id", selected.ID(),
		"endpoint", selected.Endpoint(),
		"last_used", oldest)

	return selected, nil
}

func (l *LeastRecentlyUsedStrategy) Name() string {
	return AlgorithmLeastRecentlyUsed
}
